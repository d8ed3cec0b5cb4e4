package domain

import (
	"time"

	"github.com/google/uuid"
)

// Provider identifies the mail provider behind a linked account.
type Provider string

const (
	ProviderGoogle    Provider = "google"
	ProviderMicrosoft Provider = "microsoft"
)

// Valid reports whether p is a known provider value.
func (p Provider) Valid() bool {
	return p == ProviderGoogle || p == ProviderMicrosoft
}

// SocialAPI is a linked mailbox: one provider account owned by one user.
// Email is globally unique across all users. Tokens are stored encrypted;
// only the credential store ever sees them in the clear.
type SocialAPI struct {
	ID             int64     `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Provider       Provider  `json:"provider"`
	Email          string    `json:"email"`
	ProviderUserID string    `json:"provider_user_id,omitempty"`

	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	ExpiresAt    time.Time `json:"expires_at"`

	// Gmail incremental sync cursor
	LastHistoryID uint64 `json:"last_history_id,omitempty"`

	// Free-text self description fed to the classifier prompt
	UserDescription string `json:"user_description,omitempty"`

	IsConnected bool      `json:"is_connected"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TokenExpiringSoon reports whether the access token has less than the
// given margin of validity left.
func (s *SocialAPI) TokenExpiringSoon(margin time.Duration) bool {
	return time.Until(s.ExpiresAt) < margin
}
