package out

import (
	"context"
	"time"

	"github.com/google/uuid"

	"ingest_server/core/domain"
)

// SocialAPIRepository persists linked mailbox accounts. Token columns hold
// vault ciphertext; the credential store owns encryption on both sides.
type SocialAPIRepository interface {
	Create(ctx context.Context, account *domain.SocialAPI) error
	GetByID(ctx context.Context, id int64) (*domain.SocialAPI, error)
	GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.SocialAPI, error)
	GetByEmail(ctx context.Context, email string) (*domain.SocialAPI, error)
	GetByProviderUserID(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.SocialAPI, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.SocialAPI, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateHistoryID(ctx context.Context, id int64, historyID uint64) error
	SetConnected(ctx context.Context, id int64, connected bool) error
	Delete(ctx context.Context, id int64) error
}

// SenderRepository deduplicates correspondents.
type SenderRepository interface {
	GetOrCreate(ctx context.Context, email, name string) (*domain.Sender, error)
}

// EmailRepository persists ingested messages and their summaries.
type EmailRepository interface {
	ExistsByProviderID(ctx context.Context, socialAPIID int64, providerID string) (bool, error)
	Create(ctx context.Context, email *domain.Email, keyPoints []domain.KeyPoint, bullets []domain.BulletPoint) error
	DeleteByProviderID(ctx context.Context, socialAPIID int64, providerID string) error
	DeleteBySocialAPI(ctx context.Context, socialAPIID int64) error
}

// RuleRepository loads per-user sender rules, highest priority first.
type RuleRepository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Rule, error)
}

// CategoryRepository loads a user's categories for the classifier prompt.
type CategoryRepository interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Category, error)
}

// SubscriptionRepository persists provider push subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *domain.ProviderSubscription) error
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error)
	GetBySocialAPI(ctx context.Context, socialAPIID int64, kind domain.SubscriptionKind) (*domain.ProviderSubscription, error)
	ListExpiring(ctx context.Context, before time.Time) ([]*domain.ProviderSubscription, error)
	UpdateExpiration(ctx context.Context, id int64, subscriptionID string, expiresAt time.Time) error
	UpdateStatus(ctx context.Context, id int64, status domain.SubscriptionStatus, lastError string) error
	IncrementFailureCount(ctx context.Context, id int64) error
	DeleteBySocialAPI(ctx context.Context, socialAPIID int64) error
}

// ContactRepository mirrors provider contact changes.
type ContactRepository interface {
	Upsert(ctx context.Context, userID uuid.UUID, providerContactID, email, name string) error
	DeleteByProviderContactID(ctx context.Context, userID uuid.UUID, providerContactID string) error
}

// BodyArchive stores raw message bodies out of the relational store.
type BodyArchive interface {
	Save(ctx context.Context, emailID int64, textBody, htmlBody string) error
	Delete(ctx context.Context, emailID int64) error
}
