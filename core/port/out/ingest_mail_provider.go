// Package out defines outbound ports (driven ports) for the application.
package out

import (
	"context"
	"time"

	"ingest_server/core/domain"
)

// TokenSet is the result of an OAuth exchange or refresh.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time

	// Populated on exchange only
	Email          string
	ProviderUserID string
}

// MailProvider is the surface both provider clients share.
type MailProvider interface {
	ProviderType() domain.Provider

	// GetAuthURL returns the consent screen URL for linking an account.
	GetAuthURL(state string) string

	// ExchangeCode trades an authorization code for tokens and resolves
	// the mailbox address they belong to.
	ExchangeCode(ctx context.Context, code string) (*TokenSet, error)

	// Refresh obtains a fresh access token from a refresh token.
	Refresh(ctx context.Context, refreshToken string) (*TokenSet, error)

	// FetchMessage retrieves one message by its provider id in canonical form.
	FetchMessage(ctx context.Context, accessToken, providerID string) (*domain.CanonicalMessage, error)

	// ListRecentMessageIDs returns ids of the newest inbox messages, used
	// for the backlog run after an account is linked.
	ListRecentMessageIDs(ctx context.Context, accessToken string, max int) ([]string, error)
}

// GmailWatch is the state of a Gmail push channel.
type GmailWatch struct {
	HistoryID uint64
	ExpiresAt time.Time
}

// HistoryDiff is the result of an incremental Gmail history listing.
type HistoryDiff struct {
	AddedIDs   []string
	DeletedIDs []string
	// Cursor to store for the next diff
	HistoryID uint64
	// Set when the stored cursor is too old and a backlog resync is needed
	Expired bool
}

// GoogleMailPort adds the Gmail-only operations.
type GoogleMailPort interface {
	MailProvider

	// ListHistory diffs the mailbox since the stored historyId.
	ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) (*HistoryDiff, error)

	// Watch arms inbox push notifications toward the Pub/Sub topic.
	Watch(ctx context.Context, accessToken, topic string) (*GmailWatch, error)

	// StopWatch tears the push channel down.
	StopWatch(ctx context.Context, accessToken string) error

	// Acknowledge acks a processed Pub/Sub push delivery.
	Acknowledge(ctx context.Context, accessToken, ackID string) error
}

// GraphSubscription is the provider-side state of a Graph subscription.
type GraphSubscription struct {
	ID        string
	Resource  string
	ExpiresAt time.Time
}

// MicrosoftMailPort adds the Graph-only operations.
type MicrosoftMailPort interface {
	MailProvider

	// Subscribe creates a change subscription on the given resource.
	Subscribe(ctx context.Context, accessToken string, kind domain.SubscriptionKind) (*GraphSubscription, error)

	// RenewSubscription pushes the expiration out by the full lifetime.
	RenewSubscription(ctx context.Context, accessToken, subscriptionID string) (time.Time, error)

	// ReauthorizeSubscription re-runs the subscription authorization after
	// a reauthorizationRequired lifecycle event.
	ReauthorizeSubscription(ctx context.Context, accessToken, subscriptionID string) error

	// DeleteSubscription removes the subscription; already-gone is success.
	DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error

	// FetchContact resolves a contact's address and display name by its
	// provider id, for mirroring contact change notifications.
	FetchContact(ctx context.Context, accessToken, contactID string) (email, name string, err error)
}
