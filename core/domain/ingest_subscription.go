package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionKind distinguishes what a provider subscription watches.
type SubscriptionKind string

const (
	SubscriptionMail     SubscriptionKind = "mail"
	SubscriptionContacts SubscriptionKind = "contacts"
)

// SubscriptionStatus represents the state of a provider subscription.
type SubscriptionStatus string

const (
	SubscriptionActive       SubscriptionStatus = "active"
	SubscriptionExpired      SubscriptionStatus = "expired"
	SubscriptionFailed       SubscriptionStatus = "failed"
	SubscriptionDisconnected SubscriptionStatus = "disconnected"
)

// Graph lifecycle event types delivered to the lifecycle notification URL.
const (
	LifecycleReauthorizationRequired = "reauthorizationRequired"
	LifecycleSubscriptionRemoved     = "subscriptionRemoved"
	LifecycleMissed                  = "missed"
)

// RenewalMargin is how close to expiry a subscription may get before the
// sweeper must renew it.
const RenewalMargin = 15 * time.Minute

// ProviderSubscription tracks one push channel at a provider: a Graph
// subscription for Microsoft accounts, a Gmail watch for Google accounts.
type ProviderSubscription struct {
	ID          int64            `json:"id"`
	SocialAPIID int64            `json:"social_api_id"`
	UserID      uuid.UUID        `json:"user_id"`
	Provider    Provider         `json:"provider"`
	Kind        SubscriptionKind `json:"kind"`

	// Graph subscription id, or Gmail watch historyId cursor
	SubscriptionID string `json:"subscription_id,omitempty"`

	Status       SubscriptionStatus `json:"status"`
	LastError    string             `json:"last_error,omitempty"`
	FailureCount int                `json:"failure_count"`

	ExpiresAt     time.Time  `json:"expires_at"`
	LastRenewedAt *time.Time `json:"last_renewed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired checks if the subscription is past its expiration.
func (s *ProviderSubscription) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// NeedsRenewal checks if the subscription is inside the renewal margin.
func (s *ProviderSubscription) NeedsRenewal() bool {
	return time.Now().Add(RenewalMargin).After(s.ExpiresAt)
}
