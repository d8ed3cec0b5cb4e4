package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
)

// SubscriptionAdapter implements out.SubscriptionRepository using PostgreSQL.
type SubscriptionAdapter struct {
	db *sqlx.DB
}

var _ out.SubscriptionRepository = (*SubscriptionAdapter)(nil)

func NewSubscriptionAdapter(db *sqlx.DB) *SubscriptionAdapter {
	return &SubscriptionAdapter{db: db}
}

const subscriptionSelectColumns = `
	id, social_api_id, user_id, provider, kind, subscription_id,
	status, last_error, failure_count, expires_at, last_renewed_at,
	created_at, updated_at`

type subscriptionRow struct {
	ID          int64          `db:"id"`
	SocialAPIID int64          `db:"social_api_id"`
	UserID      uuid.UUID      `db:"user_id"`
	Provider    string         `db:"provider"`
	Kind        string         `db:"kind"`
	SubID       sql.NullString `db:"subscription_id"`

	Status       string         `db:"status"`
	LastError    sql.NullString `db:"last_error"`
	FailureCount int            `db:"failure_count"`

	ExpiresAt     time.Time    `db:"expires_at"`
	LastRenewedAt sql.NullTime `db:"last_renewed_at"`
	CreatedAt     time.Time    `db:"created_at"`
	UpdatedAt     time.Time    `db:"updated_at"`
}

func (r *subscriptionRow) toEntity() *domain.ProviderSubscription {
	sub := &domain.ProviderSubscription{
		ID:           r.ID,
		SocialAPIID:  r.SocialAPIID,
		UserID:       r.UserID,
		Provider:     domain.Provider(r.Provider),
		Kind:         domain.SubscriptionKind(r.Kind),
		Status:       domain.SubscriptionStatus(r.Status),
		FailureCount: r.FailureCount,
		ExpiresAt:    r.ExpiresAt,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.SubID.Valid {
		sub.SubscriptionID = r.SubID.String
	}
	if r.LastError.Valid {
		sub.LastError = r.LastError.String
	}
	if r.LastRenewedAt.Valid {
		t := r.LastRenewedAt.Time
		sub.LastRenewedAt = &t
	}
	return sub
}

// Create inserts a subscription row, replacing any previous row for the
// same account and kind.
func (a *SubscriptionAdapter) Create(ctx context.Context, sub *domain.ProviderSubscription) error {
	query := `
		INSERT INTO subscriptions (
			social_api_id, user_id, provider, kind, subscription_id,
			status, expires_at, last_renewed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (social_api_id, kind) DO UPDATE
		SET subscription_id = EXCLUDED.subscription_id,
		    status = EXCLUDED.status,
		    last_error = NULL,
		    failure_count = 0,
		    expires_at = EXCLUDED.expires_at,
		    last_renewed_at = NOW(),
		    updated_at = NOW()
		RETURNING id, created_at, updated_at`

	err := a.db.QueryRowxContext(ctx, query,
		sub.SocialAPIID, sub.UserID, string(sub.Provider), string(sub.Kind),
		nullString(sub.SubscriptionID), string(sub.Status), sub.ExpiresAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return apperr.DatabaseError("create subscription", err)
	}
	return nil
}

func (a *SubscriptionAdapter) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*domain.ProviderSubscription, error) {
	query := `SELECT ` + subscriptionSelectColumns + ` FROM subscriptions WHERE subscription_id = $1`
	return a.getOne(ctx, query, subscriptionID)
}

func (a *SubscriptionAdapter) GetBySocialAPI(ctx context.Context, socialAPIID int64, kind domain.SubscriptionKind) (*domain.ProviderSubscription, error) {
	query := `SELECT ` + subscriptionSelectColumns + ` FROM subscriptions WHERE social_api_id = $1 AND kind = $2`
	return a.getOne(ctx, query, socialAPIID, string(kind))
}

func (a *SubscriptionAdapter) getOne(ctx context.Context, query string, args ...any) (*domain.ProviderSubscription, error) {
	var row subscriptionRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("subscription").WithError(ErrNotFound)
		}
		return nil, apperr.DatabaseError("get subscription", err)
	}
	return row.toEntity(), nil
}

// ListExpiring returns active subscriptions expiring before the deadline,
// soonest first. The sweeper renews these.
func (a *SubscriptionAdapter) ListExpiring(ctx context.Context, before time.Time) ([]*domain.ProviderSubscription, error) {
	query := `
		SELECT ` + subscriptionSelectColumns + `
		FROM subscriptions
		WHERE status = $1 AND expires_at < $2
		ORDER BY expires_at`

	var rows []subscriptionRow
	if err := a.db.SelectContext(ctx, &rows, query, string(domain.SubscriptionActive), before); err != nil {
		return nil, apperr.DatabaseError("list expiring subscriptions", err)
	}

	result := make([]*domain.ProviderSubscription, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toEntity())
	}
	return result, nil
}

func (a *SubscriptionAdapter) UpdateExpiration(ctx context.Context, id int64, subscriptionID string, expiresAt time.Time) error {
	query := `
		UPDATE subscriptions
		SET subscription_id = $2, expires_at = $3, status = $4,
		    last_error = NULL, failure_count = 0,
		    last_renewed_at = NOW(), updated_at = NOW()
		WHERE id = $1`
	return a.exec(ctx, "update subscription expiration", query,
		id, nullString(subscriptionID), expiresAt, string(domain.SubscriptionActive))
}

func (a *SubscriptionAdapter) UpdateStatus(ctx context.Context, id int64, status domain.SubscriptionStatus, lastError string) error {
	query := `
		UPDATE subscriptions
		SET status = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1`
	return a.exec(ctx, "update subscription status", query, id, string(status), nullString(lastError))
}

func (a *SubscriptionAdapter) IncrementFailureCount(ctx context.Context, id int64) error {
	query := `UPDATE subscriptions SET failure_count = failure_count + 1, updated_at = NOW() WHERE id = $1`
	return a.exec(ctx, "increment subscription failures", query, id)
}

func (a *SubscriptionAdapter) DeleteBySocialAPI(ctx context.Context, socialAPIID int64) error {
	query := `DELETE FROM subscriptions WHERE social_api_id = $1`
	if _, err := a.db.ExecContext(ctx, query, socialAPIID); err != nil {
		return apperr.DatabaseError("delete subscriptions", err)
	}
	return nil
}

func (a *SubscriptionAdapter) exec(ctx context.Context, operation, query string, args ...any) error {
	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.DatabaseError(operation, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apperr.NotFound("subscription").WithError(ErrNotFound)
	}
	return nil
}
