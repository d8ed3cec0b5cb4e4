package google

import (
	"encoding/base64"
	"testing"
	"time"

	gmail "google.golang.org/api/gmail/v1"

	"ingest_server/core/domain"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestParseMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "msg-1",
		ThreadId:     "thread-1",
		InternalDate: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli(),
		LabelIds:     []string{"INBOX", "UNREAD"},
		Payload: &gmail.MessagePart{
			MimeType: "multipart/alternative",
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Quarterly report"},
				{Name: "From", Value: "Jane Doe <jane@corp.com>"},
				{Name: "To", Value: "me@example.com, Bob <bob@corp.com>"},
				{Name: "Date", Value: "Sun, 01 Mar 2026 08:59:00 +0000"},
			},
			Parts: []*gmail.MessagePart{
				{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: b64("plain body")},
				},
				{
					MimeType: "text/html",
					Body:     &gmail.MessagePartBody{Data: b64("<p>html body</p>")},
				},
				{
					Filename: "report.pdf",
					MimeType: "application/pdf",
					Body:     &gmail.MessagePartBody{AttachmentId: "att-1", Size: 12345},
				},
			},
		},
	}

	got := parseMessage(msg)

	if got.ProviderID != "msg-1" || got.Provider != domain.ProviderGoogle {
		t.Errorf("identity fields wrong: %+v", got)
	}
	if got.Subject != "Quarterly report" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if got.From.Name != "Jane Doe" || got.From.Address != "jane@corp.com" {
		t.Errorf("From = %+v", got.From)
	}
	if len(got.To) != 2 || got.To[1].Address != "bob@corp.com" {
		t.Errorf("To = %+v", got.To)
	}
	if got.TextBody != "plain body" || got.HTMLBody != "<p>html body</p>" {
		t.Errorf("bodies = %q / %q", got.TextBody, got.HTMLBody)
	}
	if got.IsRead {
		t.Error("UNREAD label should mark message unread")
	}
	if !got.HasAttachments || len(got.Attachments) != 1 || got.Attachments[0].Filename != "report.pdf" {
		t.Errorf("Attachments = %+v", got.Attachments)
	}
	if got.IsReply() {
		t.Error("message without In-Reply-To should not be a reply")
	}
	if got.Body() != "plain body" {
		t.Errorf("Body() = %q, want plain text preferred", got.Body())
	}
}

func TestParseMessageReplyDetection(t *testing.T) {
	msg := &gmail.Message{
		Id: "msg-2",
		Payload: &gmail.MessagePart{
			Headers: []*gmail.MessagePartHeader{
				{Name: "Subject", Value: "Re: hello"},
				{Name: "In-Reply-To", Value: "<abc@corp.com>"},
			},
		},
	}
	got := parseMessage(msg)
	if !got.IsReply() {
		t.Error("In-Reply-To header should mark message as reply")
	}
}

func TestParseMessageNestedParts(t *testing.T) {
	msg := &gmail.Message{
		Id: "msg-3",
		Payload: &gmail.MessagePart{
			MimeType: "multipart/mixed",
			Parts: []*gmail.MessagePart{
				{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/plain",
							Body:     &gmail.MessagePartBody{Data: b64("nested body")},
						},
					},
				},
			},
		},
	}
	got := parseMessage(msg)
	if got.TextBody != "nested body" {
		t.Errorf("TextBody = %q, want nested body found", got.TextBody)
	}
}

func TestParseMessageEmptyPayload(t *testing.T) {
	got := parseMessage(&gmail.Message{Id: "msg-4"})
	if !got.IsEmpty() {
		t.Error("message without payload should be empty")
	}
}

func TestParseMessageUnpaddedBody(t *testing.T) {
	raw := base64.RawURLEncoding.EncodeToString([]byte("unpadded!"))
	msg := &gmail.Message{
		Id: "msg-5",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Body:     &gmail.MessagePartBody{Data: raw},
		},
	}
	got := parseMessage(msg)
	if got.TextBody != "unpadded!" {
		t.Errorf("TextBody = %q, want unpadded body decoded", got.TextBody)
	}
}
