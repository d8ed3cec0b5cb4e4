package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EmailAddress is a parsed name/address pair from a message header.
type EmailAddress struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// AttachmentMeta describes an attachment without its content.
type AttachmentMeta struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

// CanonicalMessage is the provider-neutral form of a fetched message.
// Both provider clients normalize into this shape before the pipeline
// sees the message.
type CanonicalMessage struct {
	ProviderID string   `json:"provider_id"`
	Provider   Provider `json:"provider"`
	ThreadID   string   `json:"thread_id,omitempty"`

	Subject string         `json:"subject"`
	From    EmailAddress   `json:"from"`
	To      []EmailAddress `json:"to,omitempty"`
	Cc      []EmailAddress `json:"cc,omitempty"`

	TextBody string `json:"text_body,omitempty"`
	HTMLBody string `json:"html_body,omitempty"`

	// Reply threading
	InReplyTo  string `json:"in_reply_to,omitempty"`
	References string `json:"references,omitempty"`

	IsRead         bool             `json:"is_read"`
	HasAttachments bool             `json:"has_attachments"`
	Attachments    []AttachmentMeta `json:"attachments,omitempty"`
	WebLink        string           `json:"web_link,omitempty"`

	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// replyPrefixes are the localized subject prefixes mail clients prepend
// when replying.
var replyPrefixes = []string{"re:", "aw:", "sv:", "antw:", "odp:", "vs:"}

// IsReply reports whether the message continues an existing thread: a
// reply subject prefix, with the threading headers as a backstop.
func (m *CanonicalMessage) IsReply() bool {
	subject := strings.ToLower(strings.TrimSpace(m.Subject))
	for _, prefix := range replyPrefixes {
		if strings.HasPrefix(subject, prefix) {
			return true
		}
	}
	return m.InReplyTo != "" || m.References != ""
}

// Body returns the classifier-ready body text: the plain text part with
// quoted history dropped, falling back to the HTML part stripped to text.
func (m *CanonicalMessage) Body() string {
	if text := collapseQuoted(m.TextBody); text != "" {
		return text
	}
	return HTMLToText(m.HTMLBody)
}

// IsEmpty reports whether nothing classifiable remains once markup and
// quoted history are removed.
func (m *CanonicalMessage) IsEmpty() bool {
	return m.Body() == ""
}

// Sender is a deduplicated correspondent row.
type Sender struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Email is the persisted, enriched form of an ingested message.
type Email struct {
	ID         int64     `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	SocialAPI  int64     `json:"social_api_id"`
	ProviderID string    `json:"provider_id"`
	SenderID   int64     `json:"sender_id"`

	Subject      string `json:"subject"`
	Content      string `json:"content,omitempty"`
	ShortSummary string `json:"short_summary,omitempty"`
	OneLine      string `json:"one_line_summary,omitempty"`
	Answer       string `json:"suggested_answer,omitempty"`

	Category  string  `json:"category"`
	Priority  string  `json:"priority"`
	Topic     string  `json:"topic,omitempty"`
	Relevance string  `json:"relevance,omitempty"`
	Scores    *Scores `json:"scores,omitempty"`

	IsRead         bool   `json:"is_read"`
	IsReply        bool   `json:"is_reply"`
	AnswerLater    bool   `json:"answer_later"`
	HasAttachments bool   `json:"has_attachments"`
	WebLink        string `json:"web_link,omitempty"`

	SentAt    time.Time `json:"sent_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyPoint is a single extracted point from a message. For replies the
// Position groups points by their message in the thread; non-replies keep
// Position zero and carry the structured fields instead.
type KeyPoint struct {
	ID       int64 `json:"id"`
	EmailID  int64 `json:"email_id"`
	Position int   `json:"position"`

	Category     string `json:"category,omitempty"`
	Organization string `json:"organization,omitempty"`
	Topic        string `json:"topic,omitempty"`
	Content      string `json:"content"`
}

// BulletPoint is one line of the generated bullet summary.
type BulletPoint struct {
	ID      int64  `json:"id"`
	EmailID int64  `json:"email_id"`
	Content string `json:"content"`
}
