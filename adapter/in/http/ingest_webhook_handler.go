package http

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"ingest_server/adapter/in/worker"
	"ingest_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// IdempotencyTTL is how long a delivery key blocks redelivery of the
// same notification.
const IdempotencyTTL = 5 * time.Minute

// JobQueue is the slice of the worker pool the webhook layer needs.
type JobQueue interface {
	Submit(msg *worker.Message) bool
	SubmitPriority(msg *worker.Message) bool
}

type WebhookMetrics struct {
	Processed  int64
	Duplicates int64
	Dropped    int64
	Queued     int64
}

// WebhookHandler accepts provider push deliveries, validates them and
// hands them to the worker pool. Responses always come back well under
// the provider deadlines; nothing is processed inline.
type WebhookHandler struct {
	queue       JobQueue
	redis       *redis.Client
	clientState string
	metrics     WebhookMetrics
}

func NewWebhookHandler(queue JobQueue, redisClient *redis.Client, clientState string) *WebhookHandler {
	return &WebhookHandler{
		queue:       queue,
		redis:       redisClient,
		clientState: clientState,
	}
}

func (h *WebhookHandler) GetMetrics() WebhookMetrics {
	return WebhookMetrics{
		Processed:  atomic.LoadInt64(&h.metrics.Processed),
		Duplicates: atomic.LoadInt64(&h.metrics.Duplicates),
		Dropped:    atomic.LoadInt64(&h.metrics.Dropped),
		Queued:     atomic.LoadInt64(&h.metrics.Queued),
	}
}

func (h *WebhookHandler) Register(app *fiber.App) {
	app.Post("/webhook/google/mail", h.GoogleMail)
	app.Post("/webhook/microsoft/mail", h.MicrosoftMail)
	app.Post("/webhook/microsoft/contacts", h.MicrosoftContacts)
	app.Post("/webhook/microsoft/subscription", h.MicrosoftLifecycle)
}

func (h *WebhookHandler) checkIdempotency(ctx context.Context, key string) bool {
	if h.redis == nil {
		return false
	}
	ok, err := h.redis.SetNX(ctx, "webhook:idempotent:"+key, "1", IdempotencyTTL).Result()
	if err != nil {
		// Redis being down must not stop ingestion; the pipeline dedups
		// again against the store.
		return false
	}
	if !ok {
		atomic.AddInt64(&h.metrics.Duplicates, 1)
		return true
	}
	return false
}

// PubSubEnvelope is the Pub/Sub push delivery wrapper.
type PubSubEnvelope struct {
	Message struct {
		Data        string `json:"data"`
		MessageID   string `json:"messageId"`
		PublishTime string `json:"publishTime"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// GmailNotificationData is the decoded Gmail notification payload.
type GmailNotificationData struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// GoogleMail handles a Gmail Pub/Sub push delivery. Malformed envelopes
// are acked with 200: redelivering them cannot make them well formed.
func (h *WebhookHandler) GoogleMail(c *fiber.Ctx) error {
	var envelope PubSubEnvelope
	if err := c.BodyParser(&envelope); err != nil {
		logger.WithError(err).Warn("[GoogleMail] Failed to parse envelope")
		return c.SendStatus(fiber.StatusOK)
	}

	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		logger.WithError(err).Warn("[GoogleMail] Failed to decode data")
		return c.SendStatus(fiber.StatusOK)
	}

	var notification GmailNotificationData
	if err := json.Unmarshal(data, &notification); err != nil {
		logger.WithError(err).Warn("[GoogleMail] Failed to unmarshal data")
		return c.SendStatus(fiber.StatusOK)
	}
	if notification.EmailAddress == "" {
		logger.Warn("[GoogleMail] Notification without email address")
		return c.SendStatus(fiber.StatusOK)
	}

	logger.Info("[GoogleMail] Received: email=%s, historyId=%d",
		notification.EmailAddress, notification.HistoryID)

	key := fmt.Sprintf("google:%s:%d", notification.EmailAddress, notification.HistoryID)
	if h.checkIdempotency(c.Context(), key) {
		logger.Debug("[GoogleMail] Duplicate skipped: %s", key)
		return c.SendStatus(fiber.StatusOK)
	}

	atomic.AddInt64(&h.metrics.Processed, 1)

	msg := worker.NewMessage(worker.JobGoogleNotification, map[string]any{
		"email_address": notification.EmailAddress,
		"history_id":    notification.HistoryID,
		"ack_id":        envelope.Message.MessageID,
	})
	if h.queue.Submit(msg) {
		atomic.AddInt64(&h.metrics.Queued, 1)
	} else {
		atomic.AddInt64(&h.metrics.Dropped, 1)
		logger.Error("[GoogleMail] Queue rejected job for %s", notification.EmailAddress)
	}

	return c.SendStatus(fiber.StatusOK)
}

// GraphNotification is the Microsoft Graph change notification envelope.
type GraphNotification struct {
	Value []struct {
		SubscriptionID                 string `json:"subscriptionId"`
		SubscriptionExpirationDateTime string `json:"subscriptionExpirationDateTime"`
		ChangeType                     string `json:"changeType"`
		Resource                       string `json:"resource"`
		ClientState                    string `json:"clientState"`
		LifecycleEvent                 string `json:"lifecycleEvent"`
		ResourceData                   struct {
			ID string `json:"id"`
		} `json:"resourceData"`
	} `json:"value"`
}

// validationEcho answers the Graph endpoint validation handshake: the
// token comes back verbatim as text/plain. Returns true when handled.
func (h *WebhookHandler) validationEcho(c *fiber.Ctx) bool {
	token := c.Query("validationToken")
	if token == "" {
		return false
	}
	c.Set("Content-Type", "text/plain")
	_ = c.Status(fiber.StatusOK).SendString(token)
	return true
}

// MicrosoftMail handles Graph mail change notifications.
func (h *WebhookHandler) MicrosoftMail(c *fiber.Ctx) error {
	return h.handleGraphChanges(c, worker.JobGraphMailChange, "microsoft-mail")
}

// MicrosoftContacts handles Graph contact change notifications.
func (h *WebhookHandler) MicrosoftContacts(c *fiber.Ctx) error {
	return h.handleGraphChanges(c, worker.JobGraphContactChange, "microsoft-contacts")
}

func (h *WebhookHandler) handleGraphChanges(c *fiber.Ctx, jobType worker.JobType, scope string) error {
	if h.validationEcho(c) {
		return nil
	}

	var notification GraphNotification
	if err := c.BodyParser(&notification); err != nil {
		logger.WithError(err).Warn("[%s] Failed to parse notification", scope)
		return c.SendStatus(fiber.StatusAccepted)
	}

	ctx := c.Context()

	for _, change := range notification.Value {
		// A clientState mismatch means the delivery is not ours; it is
		// dropped without telling the caller anything.
		if change.ClientState != h.clientState {
			atomic.AddInt64(&h.metrics.Dropped, 1)
			logger.Warn("[%s] clientState mismatch for subscription %s, dropping", scope, change.SubscriptionID)
			continue
		}

		key := fmt.Sprintf("%s:%s:%s:%s", scope, change.SubscriptionID, change.ChangeType, change.ResourceData.ID)
		if h.checkIdempotency(ctx, key) {
			logger.Debug("[%s] Duplicate skipped: %s", scope, key)
			continue
		}

		atomic.AddInt64(&h.metrics.Processed, 1)

		msg := worker.NewMessage(jobType, map[string]any{
			"subscription_id": change.SubscriptionID,
			"change_type":     change.ChangeType,
			"resource_id":     change.ResourceData.ID,
		})
		if h.queue.Submit(msg) {
			atomic.AddInt64(&h.metrics.Queued, 1)
		} else {
			atomic.AddInt64(&h.metrics.Dropped, 1)
			logger.Error("[%s] Queue rejected job for subscription %s", scope, change.SubscriptionID)
		}
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// MicrosoftLifecycle handles Graph lifecycle notifications for the
// subscriptions themselves.
func (h *WebhookHandler) MicrosoftLifecycle(c *fiber.Ctx) error {
	if h.validationEcho(c) {
		return nil
	}

	var notification GraphNotification
	if err := c.BodyParser(&notification); err != nil {
		logger.WithError(err).Warn("[MicrosoftLifecycle] Failed to parse notification")
		return c.SendStatus(fiber.StatusAccepted)
	}

	for _, event := range notification.Value {
		if event.ClientState != h.clientState {
			atomic.AddInt64(&h.metrics.Dropped, 1)
			logger.Warn("[MicrosoftLifecycle] clientState mismatch for subscription %s, dropping", event.SubscriptionID)
			continue
		}

		logger.Info("[MicrosoftLifecycle] Received: subscription=%s, event=%s",
			event.SubscriptionID, event.LifecycleEvent)

		atomic.AddInt64(&h.metrics.Processed, 1)

		msg := worker.NewPriorityMessage(worker.JobGraphLifecycle, map[string]any{
			"subscription_id": event.SubscriptionID,
			"event":           event.LifecycleEvent,
		}, worker.PriorityHigh)
		if h.queue.SubmitPriority(msg) {
			atomic.AddInt64(&h.metrics.Queued, 1)
		} else {
			atomic.AddInt64(&h.metrics.Dropped, 1)
		}
	}

	return c.SendStatus(fiber.StatusAccepted)
}
