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

// CategoryAdapter implements out.CategoryRepository using PostgreSQL.
type CategoryAdapter struct {
	db *sqlx.DB
}

var _ out.CategoryRepository = (*CategoryAdapter)(nil)

func NewCategoryAdapter(db *sqlx.DB) *CategoryAdapter {
	return &CategoryAdapter{db: db}
}

type categoryRow struct {
	ID          int64          `db:"id"`
	UserID      uuid.UUID      `db:"user_id"`
	Name        string         `db:"name"`
	Description sql.NullString `db:"description"`
	CreatedAt   sql.NullTime   `db:"created_at"`
}

func (r *categoryRow) toEntity() *domain.Category {
	category := &domain.Category{
		ID:     r.ID,
		UserID: r.UserID,
		Name:   r.Name,
	}
	if r.Description.Valid {
		category.Description = r.Description.String
	}
	if r.CreatedAt.Valid {
		category.CreatedAt = r.CreatedAt.Time
	}
	return category
}

// ListByUser returns the user's categories for the classifier prompt.
func (a *CategoryAdapter) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Category, error) {
	query := `
		SELECT id, user_id, name, description, created_at
		FROM categories
		WHERE user_id = $1
		ORDER BY name`

	var rows []categoryRow
	if err := a.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, apperr.DatabaseError("list categories", err)
	}

	result := make([]*domain.Category, 0, len(rows))
	for i := range rows {
		result = append(result, rows[i].toEntity())
	}
	return result, nil
}
