package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"punchcard-go/internal/models"
	"punchcard-go/internal/store"

	"github.com/SherClockHolmes/webpush-go"
)

// Message is the payload the service worker renders.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon,omitempty"`
	Badge string `json:"badge,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SendResult is the per-subscription delivery outcome.
type SendResult struct {
	Endpoint   string `json:"endpoint"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Sender fans web-push notifications out over stored subscriptions.
// Authorization happens at the caller (admin/owner membership check); the
// delivery itself carries no per-device credential beyond VAPID.
type Sender struct {
	subs            store.PushStore
	vapidPublicKey  string
	vapidPrivateKey string
	subscriber      string
}

func NewSender(subs store.PushStore, vapidPublicKey, vapidPrivateKey, subscriber string) *Sender {
	return &Sender{
		subs:            subs,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subscriber:      subscriber,
	}
}

// VAPIDPublicKey is handed to browsers at subscribe time.
func (s *Sender) VAPIDPublicKey() string {
	return s.vapidPublicKey
}

// Broadcast sends to every subscription in the organization.
func (s *Sender) Broadcast(ctx context.Context, orgID string, msg Message) ([]SendResult, error) {
	subs, err := s.subs.GetPushSubscriptions(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return s.fanOut(ctx, subs, msg), nil
}

// SendToUser sends to the user's subscriptions within one organization.
// Subscriptions are keyed per (user, org); a card update in one shop must
// not ping the same user's subscriptions for another.
func (s *Sender) SendToUser(ctx context.Context, userID int, orgID string, msg Message) ([]SendResult, error) {
	subs, err := s.subs.GetPushSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var scoped []models.PushSubscription
	for _, sub := range subs {
		if sub.OrgID == orgID {
			scoped = append(scoped, sub)
		}
	}
	return s.fanOut(ctx, scoped, msg), nil
}

func (s *Sender) fanOut(ctx context.Context, subs []models.PushSubscription, msg Message) []SendResult {
	payload, err := json.Marshal(map[string]any{
		"title": msg.Title,
		"body":  msg.Body,
		"icon":  msg.Icon,
		"badge": msg.Badge,
		"data":  map[string]string{"url": msg.URL},
	})
	if err != nil {
		payload = []byte(`{}`)
	}

	results := make([]SendResult, 0, len(subs))
	for _, sub := range subs {
		result := SendResult{Endpoint: sub.Endpoint}

		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      s.subscriber,
			VAPIDPublicKey:  s.vapidPublicKey,
			VAPIDPrivateKey: s.vapidPrivateKey,
			TTL:             30,
		})
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.StatusCode = resp.StatusCode
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			// The gateway says this subscription will never work again.
			result.Error = http.StatusText(resp.StatusCode)
			if err := s.subs.DeletePushSubscriptionByEndpoint(ctx, sub.Endpoint); err != nil {
				log.Printf("Failed to delete gone subscription %s: %v", sub.Endpoint, err)
			}
		case resp.StatusCode >= 400:
			result.Error = http.StatusText(resp.StatusCode)
		default:
			result.OK = true
		}
		results = append(results, result)
	}

	return results
}
