package persistence

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
)

// RuleAdapter implements out.RuleRepository using PostgreSQL.
type RuleAdapter struct {
	db *sqlx.DB
}

var _ out.RuleRepository = (*RuleAdapter)(nil)

func NewRuleAdapter(db *sqlx.DB) *RuleAdapter {
	return &RuleAdapter{db: db}
}

type ruleRow struct {
	ID               int64          `db:"id"`
	UserID           uuid.UUID      `db:"user_id"`
	SenderEmail      sql.NullString `db:"sender_email"`
	SenderDomain     sql.NullString `db:"sender_domain"`
	Block            bool           `db:"block"`
	Category         sql.NullString `db:"category"`
	PriorityOverride sql.NullString `db:"priority_override"`
	Priority         int            `db:"priority"`
	CreatedAt        sql.NullTime   `db:"created_at"`
	UpdatedAt        sql.NullTime   `db:"updated_at"`
}

func (r *ruleRow) toEntity() *domain.Rule {
	rule := &domain.Rule{
		ID:       r.ID,
		UserID:   r.UserID,
		Block:    r.Block,
		Priority: r.Priority,
	}
	if r.SenderEmail.Valid {
		rule.SenderEmail = r.SenderEmail.String
	}
	if r.SenderDomain.Valid {
		rule.SenderDomain = r.SenderDomain.String
	}
	if r.Category.Valid {
		category := r.Category.String
		rule.Category = &category
	}
	if r.PriorityOverride.Valid {
		override := r.PriorityOverride.String
		rule.PriorityOverride = &override
	}
	if r.CreatedAt.Valid {
		rule.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		rule.UpdatedAt = r.UpdatedAt.Time
	}
	return rule
}

// ListByUser returns the user's rules, highest priority first.
func (a *RuleAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Rule, error) {
	query := `
		SELECT id, user_id, sender_email, sender_domain, block, category, priority_override, priority, created_at, updated_at
		FROM rules
		WHERE user_id = $1
		ORDER BY priority DESC, id`

	var rows []ruleRow
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, apperr.DatabaseError("list rules", err)
	}

	result := make([]*domain.Rule, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toEntity())
	}
	return result, nil
}
