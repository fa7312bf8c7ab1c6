package wallet

import (
	"context"
	"log"
	"net/http"

	"punchcard-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/token"
)

var registrationCleanups = promauto.NewCounter(prometheus.CounterOpts{
	Name: "punchcard_apns_registration_cleanups_total",
	Help: "Registrations deleted after APNs reported the token dead.",
})

type pushClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// RegistrationLedger is the slice of the pass store the notifier needs.
type RegistrationLedger interface {
	GetRegistrationsByCard(ctx context.Context, cardID string) ([]models.Registration, error)
	DeleteRegistration(ctx context.Context, deviceLibraryID, passTypeID, serialNumber string) error
}

// APNsNotifier fans out silent pass-refresh pushes to every device
// registered for a card.
type APNsNotifier struct {
	client pushClient
	passes RegistrationLedger
}

// NewAPNsNotifier builds a notifier using .p8 provider-token auth.
func NewAPNsNotifier(keyPath, keyID, teamID string, production bool, passes RegistrationLedger) (*APNsNotifier, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, err
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsNotifier{client: client, passes: passes}, nil
}

// NotifyResult counts per-device delivery outcomes.
type NotifyResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// NotifyPassUpdate pushes one silent notification per registration tied to
// the card. Individual failures are isolated; a dead token deletes its
// registration so the ledger self-heals. Transient failures are left for
// the next balance change, there is no retry scheduler.
func (n *APNsNotifier) NotifyPassUpdate(ctx context.Context, cardID string) (NotifyResult, error) {
	regs, err := n.passes.GetRegistrationsByCard(ctx, cardID)
	if err != nil {
		return NotifyResult{}, err
	}

	var result NotifyResult
	for _, reg := range regs {
		// Pass pushes carry an empty payload; the device reacts by polling
		// the web service for changed serials.
		resp, err := n.client.Push(&apns2.Notification{
			DeviceToken: reg.PushToken,
			Topic:       reg.PassTypeID,
			Payload:     []byte(`{}`),
		})
		if err != nil {
			log.Printf("APNs push to %s failed: %v", reg.DeviceLibraryID, err)
			result.Failed++
			continue
		}
		if resp.Sent() {
			result.Sent++
			continue
		}

		result.Failed++
		if tokenGone(resp) {
			if err := n.passes.DeleteRegistration(ctx, reg.DeviceLibraryID, reg.PassTypeID, reg.SerialNumber); err != nil {
				log.Printf("Failed to delete dead registration %d: %v", reg.ID, err)
				continue
			}
			registrationCleanups.Inc()
			log.Printf("Removed dead registration for device %s (reason %s)", reg.DeviceLibraryID, resp.Reason)
		} else {
			log.Printf("APNs rejected push for device %s: %d %s", reg.DeviceLibraryID, resp.StatusCode, resp.Reason)
		}
	}

	return result, nil
}

// tokenGone reports whether APNs said the device token will never work
// again. 410 Unregistered is the documented signal; the BadDeviceToken
// family means the token can never match this topic either.
func tokenGone(resp *apns2.Response) bool {
	if resp.StatusCode == http.StatusGone {
		return true
	}
	switch resp.Reason {
	case apns2.ReasonUnregistered, apns2.ReasonBadDeviceToken, apns2.ReasonDeviceTokenNotForTopic:
		return true
	}
	return false
}
