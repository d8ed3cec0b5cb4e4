package persistence

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
)

// ContactAdapter implements out.ContactRepository using PostgreSQL. It
// mirrors provider contact changes delivered by contact subscriptions.
type ContactAdapter struct {
	db *sqlx.DB
}

var _ out.ContactRepository = (*ContactAdapter)(nil)

func NewContactAdapter(db *sqlx.DB) *ContactAdapter {
	return &ContactAdapter{db: db}
}

// Upsert creates or refreshes a mirrored contact. Created and updated
// notifications both land here.
func (a *ContactAdapter) Upsert(ctx context.Context, userID uuid.UUID, providerContactID, email, name string) error {
	query := `
		INSERT INTO contacts (user_id, provider_contact_id, email, name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider_contact_id) DO UPDATE
		SET email = EXCLUDED.email, name = EXCLUDED.name, updated_at = NOW()`

	_, err := a.db.ExecContext(ctx, query,
		userID, providerContactID, strings.ToLower(strings.TrimSpace(email)), name)
	if err != nil {
		return apperr.DatabaseError("upsert contact", err)
	}
	return nil
}

// DeleteByProviderContactID removes a mirrored contact. Already-gone is
// fine: deletions are idempotent.
func (a *ContactAdapter) DeleteByProviderContactID(ctx context.Context, userID uuid.UUID, providerContactID string) error {
	query := `DELETE FROM contacts WHERE user_id = $1 AND provider_contact_id = $2`
	if _, err := a.db.ExecContext(ctx, query, userID, providerContactID); err != nil {
		return apperr.DatabaseError("delete contact", err)
	}
	return nil
}
