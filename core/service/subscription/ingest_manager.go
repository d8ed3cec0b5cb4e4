// Package subscription manages provider push channels: Gmail watches and
// Graph subscriptions, their renewal, lifecycle events and teardown.
package subscription

import (
	"context"
	"fmt"
	"time"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/core/service/credentials"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"
)

// Backfiller catches a mailbox up when push deliveries were missed.
type Backfiller interface {
	ProcessBacklog(ctx context.Context, account *domain.SocialAPI, limit int) error
}

// Manager owns the lifecycle of provider subscriptions.
type Manager struct {
	creds      *credentials.Store
	google     out.GoogleMailPort
	microsoft  out.MicrosoftMailPort
	subs       out.SubscriptionRepository
	backfiller Backfiller

	// Pub/Sub topic the Gmail watch publishes to
	topic    string
	notifier out.AlertNotifier
	log      *logger.Logger
}

func NewManager(creds *credentials.Store, google out.GoogleMailPort, microsoft out.MicrosoftMailPort, subs out.SubscriptionRepository, backfiller Backfiller, topic string) *Manager {
	return &Manager{
		creds:      creds,
		google:     google,
		microsoft:  microsoft,
		subs:       subs,
		backfiller: backfiller,
		topic:      topic,
		log:        logger.Default().WithField("component", "subscription"),
	}
}

// SetNotifier enables admin alerts for renewal failures that need a
// human: the user has to re-consent before push delivery resumes.
func (m *Manager) SetNotifier(n out.AlertNotifier) {
	m.notifier = n
}

// EnsureSubscriptions arms push notifications for a freshly linked
// account: a Gmail watch, or Graph mail and contact subscriptions.
func (m *Manager) EnsureSubscriptions(ctx context.Context, account *domain.SocialAPI) error {
	token, err := m.creds.GetValidToken(ctx, account)
	if err != nil {
		return err
	}

	switch account.Provider {
	case domain.ProviderGoogle:
		return m.armGmailWatch(ctx, account, token)
	case domain.ProviderMicrosoft:
		if err := m.armGraphSubscription(ctx, account, token, domain.SubscriptionMail); err != nil {
			return err
		}
		// Contact mirroring is best effort; mail keeps working without it
		if err := m.armGraphSubscription(ctx, account, token, domain.SubscriptionContacts); err != nil {
			m.log.WithAccount(account.Email).WithError(err).Warn("contact subscription failed")
		}
		return nil
	default:
		return apperr.BadRequest("unknown provider: " + string(account.Provider))
	}
}

func (m *Manager) armGmailWatch(ctx context.Context, account *domain.SocialAPI, token string) error {
	watch, err := m.google.Watch(ctx, token, m.topic)
	if err != nil {
		return err
	}

	// The watch response seeds the history cursor on first arm only;
	// resetting an existing cursor would skip messages.
	if account.LastHistoryID == 0 {
		if err := m.creds.UpdateHistoryID(ctx, account.ID, watch.HistoryID); err != nil {
			return err
		}
		account.LastHistoryID = watch.HistoryID
	}

	return m.subs.Create(ctx, &domain.ProviderSubscription{
		SocialAPIID: account.ID,
		UserID:      account.UserID,
		Provider:    domain.ProviderGoogle,
		Kind:        domain.SubscriptionMail,
		Status:      domain.SubscriptionActive,
		ExpiresAt:   watch.ExpiresAt,
	})
}

func (m *Manager) armGraphSubscription(ctx context.Context, account *domain.SocialAPI, token string, kind domain.SubscriptionKind) error {
	sub, err := m.microsoft.Subscribe(ctx, token, kind)
	if err != nil {
		return err
	}

	return m.subs.Create(ctx, &domain.ProviderSubscription{
		SocialAPIID:    account.ID,
		UserID:         account.UserID,
		Provider:       domain.ProviderMicrosoft,
		Kind:           kind,
		SubscriptionID: sub.ID,
		Status:         domain.SubscriptionActive,
		ExpiresAt:      sub.ExpiresAt,
	})
}

// Renew extends one subscription. A Graph subscription the provider no
// longer knows is recreated instead.
func (m *Manager) Renew(ctx context.Context, sub *domain.ProviderSubscription) error {
	account, err := m.creds.GetByID(ctx, sub.SocialAPIID)
	if err != nil {
		return err
	}
	if !account.IsConnected {
		return m.subs.UpdateStatus(ctx, sub.ID, domain.SubscriptionDisconnected, "account disconnected")
	}

	token, err := m.creds.GetValidToken(ctx, account)
	if err != nil {
		return err
	}

	switch sub.Provider {
	case domain.ProviderGoogle:
		// Gmail watches cannot be extended, only re-armed
		watch, err := m.google.Watch(ctx, token, m.topic)
		if err != nil {
			return err
		}
		return m.subs.UpdateExpiration(ctx, sub.ID, "", watch.ExpiresAt)

	case domain.ProviderMicrosoft:
		expiresAt, err := m.microsoft.RenewSubscription(ctx, token, sub.SubscriptionID)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeNotFound) {
				return m.recreate(ctx, sub, token)
			}
			return err
		}
		return m.subs.UpdateExpiration(ctx, sub.ID, sub.SubscriptionID, expiresAt)

	default:
		return apperr.BadRequest("unknown provider: " + string(sub.Provider))
	}
}

func (m *Manager) recreate(ctx context.Context, sub *domain.ProviderSubscription, token string) error {
	m.log.WithField("subscription_id", sub.SubscriptionID).Info("subscription gone at provider, recreating")

	created, err := m.microsoft.Subscribe(ctx, token, sub.Kind)
	if err != nil {
		return err
	}
	return m.subs.UpdateExpiration(ctx, sub.ID, created.ID, created.ExpiresAt)
}

// HandleLifecycle processes a Graph lifecycle event for a subscription.
func (m *Manager) HandleLifecycle(ctx context.Context, subscriptionID, event string) error {
	sub, err := m.subs.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			m.log.WithField("subscription_id", subscriptionID).Info("lifecycle event for unknown subscription, dropping")
			return nil
		}
		return err
	}

	account, err := m.creds.GetByID(ctx, sub.SocialAPIID)
	if err != nil {
		return err
	}
	token, err := m.creds.GetValidToken(ctx, account)
	if err != nil {
		return err
	}

	switch event {
	case domain.LifecycleReauthorizationRequired:
		if err := m.microsoft.ReauthorizeSubscription(ctx, token, sub.SubscriptionID); err != nil {
			m.log.WithError(err).Warn("reauthorize failed, recreating subscription")
			return m.recreate(ctx, sub, token)
		}
		return nil

	case domain.LifecycleSubscriptionRemoved:
		return m.recreate(ctx, sub, token)

	case domain.LifecycleMissed:
		// Notifications were lost; catch up from the inbox directly
		return m.backfiller.ProcessBacklog(ctx, account, 0)

	default:
		m.log.WithField("event", event).Info("ignoring unknown lifecycle event")
		return nil
	}
}

// SweepExpiring renews every active subscription inside the renewal
// margin. Individual failures are recorded and do not stop the sweep.
func (m *Manager) SweepExpiring(ctx context.Context) error {
	deadline := time.Now().Add(domain.RenewalMargin)
	expiring, err := m.subs.ListExpiring(ctx, deadline)
	if err != nil {
		return err
	}

	for _, sub := range expiring {
		if err := m.Renew(ctx, sub); err != nil {
			m.log.WithError(err).Error("renewal failed for subscription %d", sub.ID)
			if err := m.subs.IncrementFailureCount(ctx, sub.ID); err != nil {
				m.log.WithError(err).Warn("failure count update failed for subscription %d", sub.ID)
			}
			if err := m.subs.UpdateStatus(ctx, sub.ID, domain.SubscriptionFailed, err.Error()); err != nil {
				m.log.WithError(err).Warn("status update failed for subscription %d", sub.ID)
			}
			if m.notifier != nil && apperr.HasCode(err, apperr.CodeTokenRefreshFailed) {
				body := fmt.Sprintf(
					"Subscription renewal failed and the account needs re-consent.\n\nSubscription: %d\nProvider: %s\nError: %v\n",
					sub.ID, sub.Provider, err)
				if alertErr := m.notifier.SendAlert(ctx, "Critical Alert: Subscription Renewal Failure", body); alertErr != nil {
					m.log.WithError(alertErr).Warn("renewal failure alert not sent")
				}
			}
		}
	}
	return nil
}

// Teardown stops push channels and removes subscription rows when an
// account is unlinked. Already-gone provider state is success.
func (m *Manager) Teardown(ctx context.Context, account *domain.SocialAPI) error {
	token, err := m.creds.GetValidToken(ctx, account)
	if err != nil {
		// Without a token the provider side cannot be torn down, but the
		// local rows still must go.
		m.log.WithAccount(account.Email).WithError(err).Warn("teardown without valid token")
		return m.subs.DeleteBySocialAPI(ctx, account.ID)
	}

	switch account.Provider {
	case domain.ProviderGoogle:
		if err := m.google.StopWatch(ctx, token); err != nil {
			m.log.WithAccount(account.Email).WithError(err).Warn("stop watch failed")
		}
	case domain.ProviderMicrosoft:
		for _, kind := range []domain.SubscriptionKind{domain.SubscriptionMail, domain.SubscriptionContacts} {
			sub, err := m.subs.GetBySocialAPI(ctx, account.ID, kind)
			if err != nil {
				continue
			}
			if err := m.microsoft.DeleteSubscription(ctx, token, sub.SubscriptionID); err != nil {
				m.log.WithAccount(account.Email).WithError(err).Warn("subscription delete failed")
			}
		}
	}

	return m.subs.DeleteBySocialAPI(ctx, account.ID)
}
