// Package persistence provides PostgreSQL adapters implementing outbound ports.
package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Common persistence errors
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation, optionally on a specific constraint. The sqlx handle runs on
// the pgx stdlib driver, which surfaces server errors as *pgconn.PgError;
// lib/pq errors are recognized too for the pq array helpers.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return constraint == "" || pgErr.ConstraintName == constraint
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return constraint == "" || pqErr.Constraint == constraint
	}
	return false
}
