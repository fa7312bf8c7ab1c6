package store

import (
	"context"
	"errors"
	"time"

	"punchcard-go/internal/models"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when a card, organization, user, pass record,
	// or remote wallet object cannot be resolved.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when a presented pass token or membership
	// check fails.
	ErrUnauthorized = errors.New("unauthorized")
)

// CardStore handles organizations, cards and stamps (PostgreSQL)
type CardStore interface {
	CreateOrganization(ctx context.Context, name string, maxPoints int, fg, bg string) (models.Organization, error)
	GetOrganization(ctx context.Context, id string) (models.Organization, error)

	CreateCard(ctx context.Context, orgID string, userID int) (models.Card, error)
	GetCard(ctx context.Context, id string) (models.Card, error)
	GetCards(ctx context.Context, orgID string) ([]models.Card, error)

	// ToggleStamp flips one stamp slot and returns the card with its
	// recomputed balance, all in a single transaction.
	ToggleStamp(ctx context.Context, cardID string, index, actorID int) (models.Card, error)
	// RedeemCard clears every stamp on the card.
	RedeemCard(ctx context.Context, cardID string, actorID int) (models.Card, error)
}

// PassStore handles Apple Wallet pass records and device registrations
type PassStore interface {
	// CreateWalletPass mints a serial number and auth token for the card, or
	// returns the existing record if one was already issued. Safe to call
	// concurrently for the same card.
	CreateWalletPass(ctx context.Context, cardID string, userID int) (models.WalletPass, error)
	GetWalletPass(ctx context.Context, serialNumber string) (models.WalletPass, error)
	GetWalletPassByCard(ctx context.Context, cardID string) (models.WalletPass, error)
	TouchWalletPass(ctx context.Context, serialNumber string) error
	TouchWalletPassByCard(ctx context.Context, cardID string) error

	// UpsertRegistration returns true when the registration is new, false
	// when an existing row was refreshed.
	UpsertRegistration(ctx context.Context, deviceLibraryID, passTypeID, serialNumber, pushToken string) (bool, error)
	DeleteRegistration(ctx context.Context, deviceLibraryID, passTypeID, serialNumber string) error
	GetRegistrationsByCard(ctx context.Context, cardID string) ([]models.Registration, error)
	// ChangedSerials lists serial numbers registered to the device whose pass
	// was updated after since (all of them when since is nil), plus the
	// newest update timestamp among them.
	ChangedSerials(ctx context.Context, deviceLibraryID, passTypeID string, since *time.Time) ([]string, time.Time, error)
	PurgeStaleRegistrations(ctx context.Context, cutoff time.Time) (int64, error)
}

// PushStore handles web-push subscriptions (PostgreSQL)
type PushStore interface {
	SavePushSubscription(ctx context.Context, userID int, orgID, endpoint, p256dh, auth string) error
	GetPushSubscriptions(ctx context.Context, orgID string) ([]models.PushSubscription, error)
	GetPushSubscriptionsByUser(ctx context.Context, userID int) ([]models.PushSubscription, error)
	DeletePushSubscriptionsByUser(ctx context.Context, userID int) error
	DeletePushSubscriptionByEndpoint(ctx context.Context, endpoint string) error
}

// UserStore handles dashboard users and org memberships (PostgreSQL)
type UserStore interface {
	CreateUser(ctx context.Context, username, password string) (models.User, error)
	GetUser(ctx context.Context, id int) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	UpdateUserPassword(ctx context.Context, userID int, newPasswordHash string) error
	UpdateUserProfile(ctx context.Context, userID int, username string) error

	AddMembership(ctx context.Context, userID int, orgID, role string) error
	GetMembershipRole(ctx context.Context, userID int, orgID string) (string, error)
}

// Realtime publishes card balance events for the dashboard SSE stream (Redis)
type Realtime interface {
	PublishCardEvent(ctx context.Context, ev models.CardEvent) error
	Subscribe(ctx context.Context) *redis.PubSub
}
