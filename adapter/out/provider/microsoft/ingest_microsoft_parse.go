package microsoft

import (
	"strings"
	"time"

	"ingest_server/core/domain"
)

type graphRecipient struct {
	EmailAddress struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"emailAddress"`
}

type graphHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type graphMessage struct {
	ID               string           `json:"id"`
	ConversationID   string           `json:"conversationId"`
	Subject          string           `json:"subject"`
	Body             graphBody        `json:"body"`
	From             *graphRecipient  `json:"from"`
	ToRecipients     []graphRecipient `json:"toRecipients"`
	CcRecipients     []graphRecipient `json:"ccRecipients"`
	ReceivedDateTime string           `json:"receivedDateTime"`
	SentDateTime     string           `json:"sentDateTime"`
	IsRead           bool             `json:"isRead"`
	HasAttachments   bool             `json:"hasAttachments"`
	WebLink          string           `json:"webLink"`
	Headers          []graphHeader    `json:"internetMessageHeaders"`
}

type graphBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// toCanonical normalizes a Graph message into the provider-neutral form.
func (m *graphMessage) toCanonical() *domain.CanonicalMessage {
	result := &domain.CanonicalMessage{
		ProviderID:     m.ID,
		Provider:       domain.ProviderMicrosoft,
		ThreadID:       m.ConversationID,
		Subject:        m.Subject,
		IsRead:         m.IsRead,
		HasAttachments: m.HasAttachments,
		WebLink:        m.WebLink,
	}

	if m.From != nil {
		result.From = domain.EmailAddress{
			Name:    m.From.EmailAddress.Name,
			Address: m.From.EmailAddress.Address,
		}
	}
	result.To = toAddresses(m.ToRecipients)
	result.Cc = toAddresses(m.CcRecipients)

	switch strings.ToLower(m.Body.ContentType) {
	case "html":
		result.HTMLBody = m.Body.Content
	default:
		result.TextBody = m.Body.Content
	}

	for _, h := range m.Headers {
		switch strings.ToLower(h.Name) {
		case "in-reply-to":
			result.InReplyTo = h.Value
		case "references":
			result.References = h.Value
		}
	}

	if t, err := time.Parse(time.RFC3339, m.ReceivedDateTime); err == nil {
		result.ReceivedAt = t
	}
	if t, err := time.Parse(time.RFC3339, m.SentDateTime); err == nil {
		result.SentAt = t
	}
	if result.SentAt.IsZero() {
		result.SentAt = result.ReceivedAt
	}

	return result
}

func toAddresses(recipients []graphRecipient) []domain.EmailAddress {
	if len(recipients) == 0 {
		return nil
	}
	result := make([]domain.EmailAddress, 0, len(recipients))
	for _, r := range recipients {
		result = append(result, domain.EmailAddress{
			Name:    r.EmailAddress.Name,
			Address: r.EmailAddress.Address,
		})
	}
	return result
}
