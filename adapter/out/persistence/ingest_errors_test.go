package persistence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{
			name: "pgx unique violation",
			err:  &pgconn.PgError{Code: "23505", ConstraintName: "emails_social_api_id_provider_id_key"},
			want: true,
		},
		{
			name:       "pgx unique violation on named constraint",
			err:        &pgconn.PgError{Code: "23505", ConstraintName: "social_apis_email_key"},
			constraint: "social_apis_email_key",
			want:       true,
		},
		{
			name:       "pgx unique violation on different constraint",
			err:        &pgconn.PgError{Code: "23505", ConstraintName: "social_apis_email_key"},
			constraint: "emails_provider_id_key",
			want:       false,
		},
		{
			name: "pgx wrapped unique violation",
			err:  fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}),
			want: true,
		},
		{
			name: "pgx foreign key violation",
			err:  &pgconn.PgError{Code: "23503"},
			want: false,
		},
		{
			name: "pq unique violation",
			err:  &pq.Error{Code: "23505", Constraint: "emails_provider_id_key"},
			want: true,
		},
		{
			name: "plain error",
			err:  errors.New("connection reset"),
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isUniqueViolation(tt.err, tt.constraint); got != tt.want {
				t.Errorf("isUniqueViolation(%v, %q) = %v, want %v", tt.err, tt.constraint, got, tt.want)
			}
		})
	}
}
