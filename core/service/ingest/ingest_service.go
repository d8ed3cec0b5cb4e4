// Package ingest runs the message pipeline: dedup, fetch, rules,
// classification, persistence and acknowledgement.
package ingest

import (
	"context"
	"time"

	"github.com/go-pkgz/pool"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/core/service/classify"
	"ingest_server/core/service/credentials"
	"ingest_server/core/service/rules"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"
)

// DefaultBacklogLimit caps how many messages a backlog run pulls.
const DefaultBacklogLimit = 50

// Deps collects everything the pipeline needs.
type Deps struct {
	Credentials *credentials.Store
	Google      out.GoogleMailPort
	Microsoft   out.MicrosoftMailPort
	Rules       *rules.Engine
	Classifier  *classify.Classifier

	Emails     out.EmailRepository
	Senders    out.SenderRepository
	Categories out.CategoryRepository
	Subs       out.SubscriptionRepository
	Contacts   out.ContactRepository
	Archive    out.BodyArchive

	// Workers for a backlog run; defaults to 10
	BacklogPoolSize int
}

type Service struct {
	deps Deps
	log  *logger.Logger
}

func NewService(deps Deps) *Service {
	if deps.BacklogPoolSize <= 0 {
		deps.BacklogPoolSize = 10
	}
	return &Service{
		deps: deps,
		log:  logger.Default().WithField("component", "ingest"),
	}
}

func (s *Service) provider(p domain.Provider) (out.MailProvider, error) {
	switch p {
	case domain.ProviderGoogle:
		return s.deps.Google, nil
	case domain.ProviderMicrosoft:
		return s.deps.Microsoft, nil
	default:
		return nil, apperr.BadRequest("unknown provider: " + string(p))
	}
}

// ProcessMessage runs one message through the full pipeline. Duplicates,
// blocked senders and concurrent persists all count as success: the
// message needs no further attempts.
func (s *Service) ProcessMessage(ctx context.Context, account *domain.SocialAPI, providerID string) error {
	log := s.log.WithAccount(account.Email).WithField("provider_id", providerID)
	start := time.Now()

	exists, err := s.deps.Emails.ExistsByProviderID(ctx, account.ID, providerID)
	if err != nil {
		return err
	}
	if exists {
		log.Debug("message already ingested, skipping")
		return nil
	}

	provider, err := s.provider(account.Provider)
	if err != nil {
		return err
	}
	token, err := s.deps.Credentials.GetValidToken(ctx, account)
	if err != nil {
		return err
	}

	msg, err := provider.FetchMessage(ctx, token, providerID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			// Deleted at the provider between notification and fetch
			log.Info("message gone at provider, skipping")
			return nil
		}
		return err
	}
	if msg.IsEmpty() {
		log.Warn("message has no usable content, skipping")
		return nil
	}

	outcome, err := s.deps.Rules.Evaluate(ctx, account.UserID, msg.From.Address)
	if err != nil {
		return err
	}
	if outcome.Blocked {
		log.Info("sender blocked by rule, dropping message")
		return nil
	}

	classification, err := s.classifyMessage(ctx, account, msg)
	if err != nil {
		return err
	}

	category := classification.Topic
	if outcome.CategoryOverride != nil {
		category = *outcome.CategoryOverride
	}
	priority := classification.Priority
	if outcome.ForcedPriority != nil {
		priority = *outcome.ForcedPriority
	}

	if err := s.persist(ctx, account, msg, classification, category, priority); err != nil {
		if apperr.HasCode(err, apperr.CodePersistConflict) {
			log.Debug("message persisted concurrently")
			return nil
		}
		return err
	}

	log.WithDuration(time.Since(start)).Info("message ingested")
	return nil
}

func (s *Service) classifyMessage(ctx context.Context, account *domain.SocialAPI, msg *domain.CanonicalMessage) (*domain.Classification, error) {
	categoryList, err := s.deps.Categories.ListByUser(ctx, account.UserID)
	if err != nil {
		return nil, err
	}
	categories := make(map[string]string, len(categoryList))
	for _, c := range categoryList {
		categories[c.Name] = c.Description
	}

	return s.deps.Classifier.Classify(ctx, &classify.Request{
		Subject:         msg.Subject,
		Body:            msg.Body(),
		Sender:          msg.From.Address,
		IsReply:         msg.IsReply(),
		Categories:      categories,
		UserDescription: account.UserDescription,
	})
}

func (s *Service) persist(ctx context.Context, account *domain.SocialAPI, msg *domain.CanonicalMessage, classification *domain.Classification, category, priority string) error {
	senderName := msg.From.Name
	if senderName == "" {
		senderName = msg.From.Address
	}
	sender, err := s.deps.Senders.GetOrCreate(ctx, msg.From.Address, senderName)
	if err != nil {
		return err
	}

	scores := classification.Importance
	email := &domain.Email{
		UserID:         account.UserID,
		SocialAPI:      account.ID,
		ProviderID:     msg.ProviderID,
		SenderID:       sender.ID,
		Subject:        msg.Subject,
		Content:        msg.Body(),
		ShortSummary:   classification.ShortSummary,
		OneLine:        classification.OneLine,
		Answer:         classification.Answer,
		Category:       category,
		Priority:       priority,
		Topic:          classification.Topic,
		Relevance:      classification.Relevance,
		Scores:         &scores,
		IsRead:         msg.IsRead,
		IsReply:        msg.IsReply(),
		HasAttachments: msg.HasAttachments,
		WebLink:        msg.WebLink,
		SentAt:         msg.SentAt,
	}

	keyPoints := classification.KeyPoints
	var bullets []domain.BulletPoint
	for _, content := range classification.BulletSummary {
		bullets = append(bullets, domain.BulletPoint{Content: content})
	}

	if err := s.deps.Emails.Create(ctx, email, keyPoints, bullets); err != nil {
		return err
	}

	// Raw bodies go to the archive; a failed archive write loses nothing
	// the relational store needs.
	if s.deps.Archive != nil {
		if err := s.deps.Archive.Save(ctx, email.ID, msg.TextBody, msg.HTMLBody); err != nil {
			s.log.WithError(err).Warn("body archive write failed for email %d", email.ID)
		}
	}
	return nil
}

// HandleGoogleNotification processes one Gmail push delivery: diff the
// mailbox since the stored cursor, ingest the additions, advance the
// cursor, then ack. An expired cursor falls back to a backlog resync.
func (s *Service) HandleGoogleNotification(ctx context.Context, emailAddress string, historyID uint64, ackID string) error {
	account, err := s.deps.Credentials.GetByEmail(ctx, emailAddress)
	if err != nil {
		return err
	}
	if !account.IsConnected {
		s.log.WithAccount(emailAddress).Info("account disconnected, dropping notification")
		return nil
	}

	token, err := s.deps.Credentials.GetValidToken(ctx, account)
	if err != nil {
		return err
	}

	if account.LastHistoryID == 0 {
		// No cursor yet: seed from this notification and catch up via backlog
		if err := s.ProcessBacklog(ctx, account, DefaultBacklogLimit); err != nil {
			return err
		}
		if err := s.deps.Credentials.UpdateHistoryID(ctx, account.ID, historyID); err != nil {
			return err
		}
		return s.acknowledge(ctx, token, ackID)
	}

	diff, err := s.deps.Google.ListHistory(ctx, token, account.LastHistoryID)
	if err != nil {
		return err
	}

	if diff.Expired {
		s.log.WithAccount(emailAddress).Warn("history cursor expired, resyncing backlog")
		if err := s.ProcessBacklog(ctx, account, DefaultBacklogLimit); err != nil {
			return err
		}
		if err := s.deps.Credentials.UpdateHistoryID(ctx, account.ID, historyID); err != nil {
			return err
		}
		return s.acknowledge(ctx, token, ackID)
	}

	for _, id := range diff.AddedIDs {
		if err := s.ProcessMessage(ctx, account, id); err != nil {
			return err
		}
	}
	for _, id := range diff.DeletedIDs {
		// Mirrors mailbox deletions; ids we never ingested are a no-op
		if err := s.deps.Emails.DeleteByProviderID(ctx, account.ID, id); err != nil {
			return err
		}
	}

	if diff.HistoryID > account.LastHistoryID {
		if err := s.deps.Credentials.UpdateHistoryID(ctx, account.ID, diff.HistoryID); err != nil {
			return err
		}
	}
	return s.acknowledge(ctx, token, ackID)
}

func (s *Service) acknowledge(ctx context.Context, token, ackID string) error {
	if ackID == "" {
		return nil
	}
	return s.deps.Google.Acknowledge(ctx, token, ackID)
}

// HandleMicrosoftMailChange processes one Graph mail change notification.
func (s *Service) HandleMicrosoftMailChange(ctx context.Context, subscriptionID, changeType, messageID string) error {
	account, err := s.accountForSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}

	switch changeType {
	case "deleted":
		// Deleting something never ingested is fine
		return s.deps.Emails.DeleteByProviderID(ctx, account.ID, messageID)
	default:
		return s.ProcessMessage(ctx, account, messageID)
	}
}

// HandleContactChange mirrors one Graph contact change notification.
func (s *Service) HandleContactChange(ctx context.Context, subscriptionID, changeType, contactID string) error {
	account, err := s.accountForSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}

	if changeType == "deleted" {
		return s.deps.Contacts.DeleteByProviderContactID(ctx, account.UserID, contactID)
	}

	token, err := s.deps.Credentials.GetValidToken(ctx, account)
	if err != nil {
		return err
	}
	email, name, err := s.deps.Microsoft.FetchContact(ctx, token, contactID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return s.deps.Contacts.DeleteByProviderContactID(ctx, account.UserID, contactID)
		}
		return err
	}
	if email == "" {
		s.log.WithField("contact_id", contactID).Debug("contact has no address, skipping")
		return nil
	}
	return s.deps.Contacts.Upsert(ctx, account.UserID, contactID, email, name)
}

// accountForSubscription resolves the account behind a subscription id.
// Unknown subscriptions return nil: the provider keeps notifying for a
// while after teardown, and those deliveries are dropped.
func (s *Service) accountForSubscription(ctx context.Context, subscriptionID string) (*domain.SocialAPI, error) {
	sub, err := s.deps.Subs.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			s.log.WithField("subscription_id", subscriptionID).Info("notification for unknown subscription, dropping")
			return nil, nil
		}
		return nil, err
	}

	account, err := s.deps.Credentials.GetByID(ctx, sub.SocialAPIID)
	if err != nil {
		return nil, err
	}
	if !account.IsConnected {
		s.log.WithAccount(account.Email).Info("account disconnected, dropping notification")
		return nil, nil
	}
	return account, nil
}

// ProcessBacklog ingests the newest inbox messages through a bounded
// worker pool. Used after linking an account and when the Gmail cursor
// has expired.
func (s *Service) ProcessBacklog(ctx context.Context, account *domain.SocialAPI, limit int) error {
	if limit <= 0 {
		limit = DefaultBacklogLimit
	}

	provider, err := s.provider(account.Provider)
	if err != nil {
		return err
	}
	token, err := s.deps.Credentials.GetValidToken(ctx, account)
	if err != nil {
		return err
	}

	ids, err := provider.ListRecentMessageIDs(ctx, token, limit)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	log := s.log.WithAccount(account.Email)
	log.Info("backlog run: %d messages, %d workers", len(ids), s.deps.BacklogPoolSize)

	p := pool.New[string](s.deps.BacklogPoolSize, pool.WorkerFunc[string](func(ctx context.Context, id string) error {
		if err := s.ProcessMessage(ctx, account, id); err != nil {
			// One bad message must not sink the rest of the backlog
			log.WithError(err).Error("backlog message failed: %s", id)
		}
		return nil
	}))

	if err := p.Go(ctx); err != nil {
		return apperr.InternalWithError(err)
	}
	for _, id := range ids {
		p.Submit(id)
	}
	return p.Close(ctx)
}

// DeleteAccountData tears down everything stored for an unlinked account.
func (s *Service) DeleteAccountData(ctx context.Context, socialAPIID int64) error {
	if err := s.deps.Emails.DeleteBySocialAPI(ctx, socialAPIID); err != nil {
		return err
	}
	return s.deps.Subs.DeleteBySocialAPI(ctx, socialAPIID)
}
