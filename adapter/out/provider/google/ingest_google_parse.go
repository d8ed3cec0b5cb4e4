package google

import (
	"encoding/base64"
	"net/mail"
	"strings"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"ingest_server/core/domain"
)

// parseMessage normalizes a full-format Gmail message.
func parseMessage(msg *gmail.Message) *domain.CanonicalMessage {
	result := &domain.CanonicalMessage{
		ProviderID: msg.Id,
		Provider:   domain.ProviderGoogle,
		ThreadID:   msg.ThreadId,
		WebLink:    "https://mail.google.com/mail/#all/" + msg.Id,
		ReceivedAt: time.UnixMilli(msg.InternalDate),
		IsRead:     true,
	}

	for _, label := range msg.LabelIds {
		if label == "UNREAD" {
			result.IsRead = false
		}
	}

	if msg.Payload == nil {
		return result
	}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "subject":
			result.Subject = header.Value
		case "from":
			result.From = parseAddress(header.Value)
		case "to":
			result.To = parseAddressList(header.Value)
		case "cc":
			result.Cc = parseAddressList(header.Value)
		case "in-reply-to":
			result.InReplyTo = header.Value
		case "references":
			result.References = header.Value
		case "date":
			if t, err := mail.ParseDate(header.Value); err == nil {
				result.SentAt = t
			}
		}
	}
	if result.SentAt.IsZero() {
		result.SentAt = result.ReceivedAt
	}

	walkParts(msg.Payload, result)

	result.HasAttachments = len(result.Attachments) > 0
	return result
}

// walkParts descends the MIME tree collecting body text and attachment
// metadata.
func walkParts(part *gmail.MessagePart, result *domain.CanonicalMessage) {
	if part == nil {
		return
	}

	if part.Filename != "" && part.Body != nil {
		result.Attachments = append(result.Attachments, domain.AttachmentMeta{
			ID:       part.Body.AttachmentId,
			Filename: part.Filename,
			MimeType: part.MimeType,
			Size:     part.Body.Size,
		})
	} else if part.Body != nil && part.Body.Data != "" {
		decoded, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			// Some providers emit unpadded body data
			decoded, err = base64.RawURLEncoding.DecodeString(part.Body.Data)
		}
		if err == nil {
			switch part.MimeType {
			case "text/plain":
				if result.TextBody == "" {
					result.TextBody = string(decoded)
				}
			case "text/html":
				if result.HTMLBody == "" {
					result.HTMLBody = string(decoded)
				}
			}
		}
	}

	for _, child := range part.Parts {
		walkParts(child, result)
	}
}

func parseAddress(value string) domain.EmailAddress {
	addr, err := mail.ParseAddress(value)
	if err != nil {
		return domain.EmailAddress{Address: strings.TrimSpace(value)}
	}
	return domain.EmailAddress{Name: addr.Name, Address: addr.Address}
}

func parseAddressList(value string) []domain.EmailAddress {
	addrs, err := mail.ParseAddressList(value)
	if err != nil {
		return []domain.EmailAddress{{Address: strings.TrimSpace(value)}}
	}
	result := make([]domain.EmailAddress, 0, len(addrs))
	for _, a := range addrs {
		result = append(result, domain.EmailAddress{Name: a.Name, Address: a.Address})
	}
	return result
}
