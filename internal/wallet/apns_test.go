package wallet

import (
	"context"
	"errors"
	"testing"

	"punchcard-go/internal/models"

	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/require"
)

type fakePushClient struct {
	responses map[string]*apns2.Response
	errs      map[string]error
	pushed    []string
}

func (f *fakePushClient) Push(n *apns2.Notification) (*apns2.Response, error) {
	f.pushed = append(f.pushed, n.DeviceToken)
	if err, ok := f.errs[n.DeviceToken]; ok {
		return nil, err
	}
	if resp, ok := f.responses[n.DeviceToken]; ok {
		return resp, nil
	}
	return &apns2.Response{StatusCode: 200}, nil
}

func threeRegistrations() []models.Registration {
	return []models.Registration{
		{ID: 1, DeviceLibraryID: "device-a", PassTypeID: "pass.com.example", SerialNumber: "serial-1", PushToken: "token-a"},
		{ID: 2, DeviceLibraryID: "device-b", PassTypeID: "pass.com.example", SerialNumber: "serial-1", PushToken: "token-b"},
		{ID: 3, DeviceLibraryID: "device-c", PassTypeID: "pass.com.example", SerialNumber: "serial-1", PushToken: "token-c"},
	}
}

func TestNotifyPassUpdateAllSent(t *testing.T) {
	passes := newFakePasses()
	passes.regs = threeRegistrations()
	client := &fakePushClient{}

	n := &APNsNotifier{client: client, passes: passes}
	result, err := n.NotifyPassUpdate(context.Background(), "card-1")
	require.NoError(t, err)
	require.Equal(t, NotifyResult{Sent: 3, Failed: 0}, result)
	require.Len(t, client.pushed, 3)
	require.Empty(t, passes.deletedDevices)
}

func TestNotifyPassUpdateDeadTokenIsCleanedUp(t *testing.T) {
	passes := newFakePasses()
	passes.regs = threeRegistrations()
	client := &fakePushClient{
		responses: map[string]*apns2.Response{
			"token-b": {StatusCode: 410, Reason: apns2.ReasonUnregistered},
		},
	}

	n := &APNsNotifier{client: client, passes: passes}
	result, err := n.NotifyPassUpdate(context.Background(), "card-1")
	require.NoError(t, err)
	require.Equal(t, NotifyResult{Sent: 2, Failed: 1}, result)

	// Exactly the dead registration was removed.
	require.Equal(t, []string{"device-b"}, passes.deletedDevices)
	require.Len(t, passes.regs, 2)
}

func TestNotifyPassUpdateTransientFailureKeepsRegistration(t *testing.T) {
	passes := newFakePasses()
	passes.regs = threeRegistrations()
	client := &fakePushClient{
		errs: map[string]error{"token-a": errors.New("connection reset")},
		responses: map[string]*apns2.Response{
			"token-c": {StatusCode: 429, Reason: apns2.ReasonTooManyRequests},
		},
	}

	n := &APNsNotifier{client: client, passes: passes}
	result, err := n.NotifyPassUpdate(context.Background(), "card-1")
	require.NoError(t, err)
	require.Equal(t, NotifyResult{Sent: 1, Failed: 2}, result)

	// Transient failures are left for the next balance change.
	require.Empty(t, passes.deletedDevices)
	require.Len(t, passes.regs, 3)
}

func TestTokenGone(t *testing.T) {
	require.True(t, tokenGone(&apns2.Response{StatusCode: 410, Reason: apns2.ReasonUnregistered}))
	require.True(t, tokenGone(&apns2.Response{StatusCode: 400, Reason: apns2.ReasonBadDeviceToken}))
	require.True(t, tokenGone(&apns2.Response{StatusCode: 400, Reason: apns2.ReasonDeviceTokenNotForTopic}))
	require.False(t, tokenGone(&apns2.Response{StatusCode: 429, Reason: apns2.ReasonTooManyRequests}))
	require.False(t, tokenGone(&apns2.Response{StatusCode: 500, Reason: apns2.ReasonInternalServerError}))
}
