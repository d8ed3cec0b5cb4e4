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

// SocialAPIAdapter implements out.SocialAPIRepository using PostgreSQL.
// Token columns hold vault ciphertext.
type SocialAPIAdapter struct {
	db *sqlx.DB
}

var _ out.SocialAPIRepository = (*SocialAPIAdapter)(nil)

func NewSocialAPIAdapter(db *sqlx.DB) *SocialAPIAdapter {
	return &SocialAPIAdapter{db: db}
}

const socialAPISelectColumns = `
	id, user_id, provider, email, provider_user_id,
	access_token, refresh_token, expires_at,
	last_history_id, user_description, is_connected, created_at, updated_at`

type socialAPIRow struct {
	ID             int64          `db:"id"`
	UserID         uuid.UUID      `db:"user_id"`
	Provider       string         `db:"provider"`
	Email          string         `db:"email"`
	ProviderUserID sql.NullString `db:"provider_user_id"`

	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`

	LastHistoryID   sql.NullInt64  `db:"last_history_id"`
	UserDescription sql.NullString `db:"user_description"`
	IsConnected     bool           `db:"is_connected"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r *socialAPIRow) toEntity() *domain.SocialAPI {
	entity := &domain.SocialAPI{
		ID:           r.ID,
		UserID:       r.UserID,
		Provider:     domain.Provider(r.Provider),
		Email:        r.Email,
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    r.ExpiresAt,
		IsConnected:  r.IsConnected,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.ProviderUserID.Valid {
		entity.ProviderUserID = r.ProviderUserID.String
	}
	if r.LastHistoryID.Valid {
		entity.LastHistoryID = uint64(r.LastHistoryID.Int64)
	}
	if r.UserDescription.Valid {
		entity.UserDescription = r.UserDescription.String
	}
	return entity
}

// Create inserts a linked account. Email is globally unique: linking a
// mailbox a second time, by any user, is a conflict.
func (a *SocialAPIAdapter) Create(ctx context.Context, account *domain.SocialAPI) error {
	query := `
		INSERT INTO social_api (
			user_id, provider, email, provider_user_id,
			access_token, refresh_token, expires_at,
			last_history_id, user_description, is_connected
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true)
		RETURNING id, created_at, updated_at`

	err := a.db.QueryRowxContext(ctx, query,
		account.UserID, string(account.Provider), account.Email,
		nullString(account.ProviderUserID),
		account.AccessToken, account.RefreshToken, account.ExpiresAt,
		nullUint64(account.LastHistoryID), nullString(account.UserDescription),
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperr.Conflict("account already linked").
				WithDetail("email", account.Email).
				WithError(ErrDuplicate)
		}
		return apperr.DatabaseError("create social_api", err)
	}
	account.IsConnected = true
	return nil
}

func (a *SocialAPIAdapter) GetByID(ctx context.Context, id int64) (*domain.SocialAPI, error) {
	query := `SELECT ` + socialAPISelectColumns + ` FROM social_api WHERE id = $1`
	return a.getOne(ctx, query, id)
}

func (a *SocialAPIAdapter) GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.SocialAPI, error) {
	query := `SELECT ` + socialAPISelectColumns + ` FROM social_api WHERE user_id = $1 AND email = $2`
	return a.getOne(ctx, query, userID, email)
}

func (a *SocialAPIAdapter) GetByEmail(ctx context.Context, email string) (*domain.SocialAPI, error) {
	query := `SELECT ` + socialAPISelectColumns + ` FROM social_api WHERE email = $1`
	return a.getOne(ctx, query, email)
}

func (a *SocialAPIAdapter) GetByProviderUserID(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.SocialAPI, error) {
	query := `SELECT ` + socialAPISelectColumns + ` FROM social_api WHERE provider = $1 AND provider_user_id = $2`
	return a.getOne(ctx, query, string(provider), providerUserID)
}

func (a *SocialAPIAdapter) getOne(ctx context.Context, query string, args ...any) (*domain.SocialAPI, error) {
	var row socialAPIRow
	if err := a.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("account").WithError(ErrNotFound)
		}
		return nil, apperr.DatabaseError("get social_api", err)
	}
	return row.toEntity(), nil
}

func (a *SocialAPIAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.SocialAPI, error) {
	query := `SELECT ` + socialAPISelectColumns + ` FROM social_api WHERE user_id = $1 ORDER BY created_at`

	var rows []socialAPIRow
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, apperr.DatabaseError("list social_api", err)
	}

	result := make([]*domain.SocialAPI, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toEntity())
	}
	return result, nil
}

func (a *SocialAPIAdapter) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt time.Time) error {
	query := `
		UPDATE social_api
		SET access_token = $2, refresh_token = $3, expires_at = $4, updated_at = NOW()
		WHERE id = $1`
	return a.exec(ctx, "update tokens", query, id, accessToken, refreshToken, expiresAt)
}

func (a *SocialAPIAdapter) UpdateHistoryID(ctx context.Context, id int64, historyID uint64) error {
	query := `UPDATE social_api SET last_history_id = $2, updated_at = NOW() WHERE id = $1`
	return a.exec(ctx, "update history id", query, id, int64(historyID))
}

func (a *SocialAPIAdapter) SetConnected(ctx context.Context, id int64, connected bool) error {
	query := `UPDATE social_api SET is_connected = $2, updated_at = NOW() WHERE id = $1`
	return a.exec(ctx, "set connected", query, id, connected)
}

func (a *SocialAPIAdapter) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM social_api WHERE id = $1`
	return a.exec(ctx, "delete social_api", query, id)
}

func (a *SocialAPIAdapter) exec(ctx context.Context, operation, query string, args ...any) error {
	result, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperr.DatabaseError(operation, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return apperr.NotFound("account").WithError(ErrNotFound)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUint64(v uint64) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(v), Valid: v != 0}
}
