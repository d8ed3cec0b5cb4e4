package worker

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels for job scheduling.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// JobType represents the type of a job.
type JobType = string

const (
	// Google push deliveries
	JobGoogleNotification JobType = "google.notification"

	// Microsoft Graph change notifications
	JobGraphMailChange    = "graph.mail_change"
	JobGraphContactChange = "graph.contact_change"
	JobGraphLifecycle     = "graph.lifecycle"

	// Mailbox catch-up after linking or a lost cursor
	JobBacklogSync = "backlog.sync"
)

type Message struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	Priority  Priority       `json:"priority"`
	CreatedAt time.Time      `json:"created_at"`
	Retries   int            `json:"retries"`
	LastError string         `json:"last_error,omitempty"`
}

func NewMessage(jobType string, payload map[string]any) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      jobType,
		Payload:   payload,
		Priority:  PriorityNormal,
		CreatedAt: time.Now(),
		Retries:   0,
	}
}

// NewPriorityMessage creates a message with specific priority.
func NewPriorityMessage(jobType string, payload map[string]any, priority Priority) *Message {
	m := NewMessage(jobType, payload)
	m.Priority = priority
	return m
}

// IsPriority checks if message should go to priority queue.
func (m *Message) IsPriority() bool {
	return m.Priority >= PriorityHigh
}

// GoogleNotificationPayload carries one decoded Pub/Sub push delivery.
// AckID is the Pub/Sub message id, acked through the API once the
// mailbox diff has been ingested.
type GoogleNotificationPayload struct {
	EmailAddress string `json:"email_address"`
	HistoryID    uint64 `json:"history_id"`
	AckID        string `json:"ack_id,omitempty"`
}

// GraphChangePayload carries one Graph change notification, for mail
// and contact resources alike.
type GraphChangePayload struct {
	SubscriptionID string `json:"subscription_id"`
	ChangeType     string `json:"change_type"`
	ResourceID     string `json:"resource_id"`
}

// GraphLifecyclePayload carries one Graph lifecycle event.
type GraphLifecyclePayload struct {
	SubscriptionID string `json:"subscription_id"`
	Event          string `json:"event"`
}

// BacklogPayload requests a catch-up run over the newest inbox messages.
// Limit 0 means the default backlog size.
type BacklogPayload struct {
	SocialAPIID int64 `json:"social_api_id"`
	Limit       int   `json:"limit"`
}
