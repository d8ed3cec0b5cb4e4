package persistence

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
)

// SenderAdapter implements out.SenderRepository using PostgreSQL.
type SenderAdapter struct {
	db *sqlx.DB
}

var _ out.SenderRepository = (*SenderAdapter)(nil)

func NewSenderAdapter(db *sqlx.DB) *SenderAdapter {
	return &SenderAdapter{db: db}
}

// GetOrCreate returns the sender row for an address, creating it on first
// contact. A later message with a display name fills in a previously empty
// name, but never overwrites a non-empty one.
func (a *SenderAdapter) GetOrCreate(ctx context.Context, email, name string) (*domain.Sender, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, apperr.BadRequest("sender email is empty")
	}

	query := `
		INSERT INTO senders (email, name)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE
		SET name = CASE WHEN senders.name = '' THEN EXCLUDED.name ELSE senders.name END
		RETURNING id, email, name, created_at`

	var sender domain.Sender
	err := a.db.QueryRowxContext(ctx, query, email, name).
		Scan(&sender.ID, &sender.Email, &sender.Name, &sender.CreatedAt)
	if err != nil {
		return nil, apperr.DatabaseError("get or create sender", err)
	}
	return &sender, nil
}
