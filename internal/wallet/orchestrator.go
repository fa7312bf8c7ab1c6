package wallet

import (
	"context"
	"errors"
	"log"
	"time"

	"punchcard-go/internal/notify"
	"punchcard-go/internal/store"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var syncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "punchcard_wallet_sync_total",
	Help: "Wallet sync attempts by platform and result.",
}, []string{"platform", "result"})

// AppleNotifier is the Apple push path of the orchestrator.
type AppleNotifier interface {
	NotifyPassUpdate(ctx context.Context, cardID string) (NotifyResult, error)
}

// GoogleUpdater is the Google sync path of the orchestrator.
type GoogleUpdater interface {
	PushBalanceUpdate(ctx context.Context, cardID string) error
}

// OwnerNotifier is the web-push fallback path of the orchestrator.
type OwnerNotifier interface {
	SendToUser(ctx context.Context, userID int, orgID string, msg notify.Message) ([]notify.SendResult, error)
}

// PassToucher bumps pass records so devices see the change.
type PassToucher interface {
	TouchWalletPassByCard(ctx context.Context, cardID string) error
}

// Orchestrator fans a balance change out to the wallet platforms. Each path
// runs regardless of the others' outcome, and no failure ever reaches the
// caller that committed the balance change. Any nil path is simply skipped
// (platform not configured).
type Orchestrator struct {
	cards   CardReader
	passes  PassToucher
	apple   AppleNotifier
	google  GoogleUpdater
	web     OwnerNotifier
	timeout time.Duration
}

func NewOrchestrator(cards CardReader, passes PassToucher, apple AppleNotifier, google GoogleUpdater, web OwnerNotifier) *Orchestrator {
	return &Orchestrator{
		cards:   cards,
		passes:  passes,
		apple:   apple,
		google:  google,
		web:     web,
		timeout: 30 * time.Second,
	}
}

// OnBalanceChanged is invoked after a stamp toggle or redemption commits.
// Fire-and-forget: the sync runs on a background context so a slow or
// failing wallet platform never blocks the user-visible action.
func (o *Orchestrator) OnBalanceChanged(cardID, orgID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
		defer cancel()
		o.Sync(ctx, cardID, orgID)
	}()
}

// Sync runs all platform paths inline. Every path re-reads current state at
// sync time, so re-running with a stale trigger just re-applies the same
// value.
func (o *Orchestrator) Sync(ctx context.Context, cardID, orgID string) {
	// Bump the pass record first: its timestamp is what a polling device's
	// changed-serials query sees, with or without a push path. A card
	// without a pass record is a no-op.
	if err := o.passes.TouchWalletPassByCard(ctx, cardID); err != nil {
		log.Printf("Failed to touch pass record for card %s: %v", cardID, err)
	}

	o.syncApple(ctx, cardID)
	o.syncGoogle(ctx, cardID)
	o.notifyOwner(ctx, cardID, orgID)
}

func (o *Orchestrator) syncApple(ctx context.Context, cardID string) {
	if o.apple == nil {
		return
	}

	result, err := o.apple.NotifyPassUpdate(ctx, cardID)
	if err != nil {
		log.Printf("Apple sync for card %s failed: %v", cardID, err)
		syncTotal.WithLabelValues("apple", "error").Inc()
		return
	}
	if result.Failed > 0 {
		log.Printf("Apple sync for card %s: sent=%d failed=%d", cardID, result.Sent, result.Failed)
	}
	syncTotal.WithLabelValues("apple", "ok").Inc()
}

func (o *Orchestrator) syncGoogle(ctx context.Context, cardID string) {
	if o.google == nil {
		return
	}

	err := o.google.PushBalanceUpdate(ctx, cardID)
	switch {
	case err == nil:
		syncTotal.WithLabelValues("google", "ok").Inc()
	case errors.Is(err, store.ErrNotFound):
		// Object never provisioned via the save link; nothing to sync.
		syncTotal.WithLabelValues("google", "skipped").Inc()
	default:
		log.Printf("Google sync for card %s failed: %v", cardID, err)
		syncTotal.WithLabelValues("google", "error").Inc()
	}
}

func (o *Orchestrator) notifyOwner(ctx context.Context, cardID, orgID string) {
	if o.web == nil {
		return
	}

	card, err := o.cards.GetCard(ctx, cardID)
	if err != nil {
		log.Printf("Web push for card %s skipped: %v", cardID, err)
		syncTotal.WithLabelValues("webpush", "error").Inc()
		return
	}

	results, err := o.web.SendToUser(ctx, card.UserID, orgID, notify.Message{
		Title: "Card updated",
		Body:  "Your balance is now " + card.Balance(),
		URL:   "/cards/" + card.ID,
	})
	if err != nil {
		log.Printf("Web push for card %s failed: %v", cardID, err)
		syncTotal.WithLabelValues("webpush", "error").Inc()
		return
	}
	for _, res := range results {
		if !res.OK {
			log.Printf("Web push to %s failed: %s", res.Endpoint, res.Error)
		}
	}
	syncTotal.WithLabelValues("webpush", "ok").Inc()
}
