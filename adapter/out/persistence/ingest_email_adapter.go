package persistence

import (
	"context"
	"encoding/json"

	"github.com/jmoiron/sqlx"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
)

// EmailAdapter implements out.EmailRepository using PostgreSQL. An email
// and its key points and bullet points are written in one transaction.
type EmailAdapter struct {
	db *sqlx.DB
}

var _ out.EmailRepository = (*EmailAdapter)(nil)

func NewEmailAdapter(db *sqlx.DB) *EmailAdapter {
	return &EmailAdapter{db: db}
}

// ExistsByProviderID is the pipeline's dedup check.
func (a *EmailAdapter) ExistsByProviderID(ctx context.Context, socialAPIID int64, providerID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM emails WHERE social_api_id = $1 AND provider_id = $2)`

	var exists bool
	if err := a.db.GetContext(ctx, &exists, query, socialAPIID, providerID); err != nil {
		return false, apperr.DatabaseError("check email exists", err)
	}
	return exists, nil
}

// Create persists an enriched email with its summaries. A unique violation
// on (social_api_id, provider_id) means a concurrent worker won the race;
// the caller treats that as success.
func (a *EmailAdapter) Create(ctx context.Context, email *domain.Email, keyPoints []domain.KeyPoint, bullets []domain.BulletPoint) error {
	tx, err := a.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperr.DatabaseError("begin tx", err)
	}
	defer tx.Rollback()

	var scores []byte
	if email.Scores != nil {
		if scores, err = json.Marshal(email.Scores); err != nil {
			return apperr.InternalWithError(err)
		}
	}

	query := `
		INSERT INTO emails (
			user_id, social_api_id, provider_id, sender_id,
			subject, content, short_summary, one_line_summary, suggested_answer,
			category, priority, topic, relevance, scores,
			is_read, is_reply, answer_later, has_attachments, web_link, sent_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING id, created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		email.UserID, email.SocialAPI, email.ProviderID, email.SenderID,
		email.Subject, email.Content, email.ShortSummary, email.OneLine, email.Answer,
		email.Category, email.Priority, email.Topic, email.Relevance, scores,
		email.IsRead, email.IsReply, email.AnswerLater, email.HasAttachments, email.WebLink, email.SentAt,
	).Scan(&email.ID, &email.CreatedAt, &email.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return apperr.PersistConflict(email.ProviderID).WithError(ErrDuplicate)
		}
		return apperr.DatabaseError("create email", err)
	}

	for i := range keyPoints {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO email_key_points (email_id, position, category, organization, topic, content)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			email.ID, keyPoints[i].Position, keyPoints[i].Category,
			keyPoints[i].Organization, keyPoints[i].Topic, keyPoints[i].Content)
		if err != nil {
			return apperr.DatabaseError("create key point", err)
		}
	}
	for i := range bullets {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO email_bullet_points (email_id, content) VALUES ($1, $2)`,
			email.ID, bullets[i].Content)
		if err != nil {
			return apperr.DatabaseError("create bullet point", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.DatabaseError("commit email", err)
	}
	return nil
}

// DeleteByProviderID removes an email the provider reported deleted.
// Nothing to delete is fine: deletions are idempotent.
func (a *EmailAdapter) DeleteByProviderID(ctx context.Context, socialAPIID int64, providerID string) error {
	query := `DELETE FROM emails WHERE social_api_id = $1 AND provider_id = $2`
	if _, err := a.db.ExecContext(ctx, query, socialAPIID, providerID); err != nil {
		return apperr.DatabaseError("delete email", err)
	}
	return nil
}

// DeleteBySocialAPI removes every email of an unlinked account. Key points
// and bullet points go with them via ON DELETE CASCADE.
func (a *EmailAdapter) DeleteBySocialAPI(ctx context.Context, socialAPIID int64) error {
	query := `DELETE FROM emails WHERE social_api_id = $1`
	if _, err := a.db.ExecContext(ctx, query, socialAPIID); err != nil {
		return apperr.DatabaseError("delete account emails", err)
	}
	return nil
}
