package microsoft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ingest_server/core/domain"
	"ingest_server/pkg/apperr"
)

func newTestProvider(graphURL string) *Provider {
	return NewProvider(Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://app.example.com/oauth/microsoft/callback",
		Authority:    "https://login.microsoftonline.com/common",
		GraphBaseURL: graphURL,
		ClientState:  "shared-secret",
		BaseURL:      "https://app.example.com",
	})
}

func TestToCanonical(t *testing.T) {
	raw := `{
		"id": "AAMk-1",
		"conversationId": "conv-1",
		"subject": "Budget review",
		"body": {"contentType": "html", "content": "<p>numbers attached</p>"},
		"from": {"emailAddress": {"name": "Jane Doe", "address": "jane@corp.com"}},
		"toRecipients": [{"emailAddress": {"address": "me@corp.com"}}],
		"receivedDateTime": "2026-03-01T09:00:00Z",
		"sentDateTime": "2026-03-01T08:59:30Z",
		"isRead": false,
		"hasAttachments": true,
		"internetMessageHeaders": [
			{"name": "In-Reply-To", "value": "<prev@corp.com>"}
		]
	}`
	var msg graphMessage
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatal(err)
	}

	got := msg.toCanonical()
	if got.ProviderID != "AAMk-1" || got.Provider != domain.ProviderMicrosoft {
		t.Errorf("identity fields wrong: %+v", got)
	}
	if got.From.Address != "jane@corp.com" || got.From.Name != "Jane Doe" {
		t.Errorf("From = %+v", got.From)
	}
	if got.HTMLBody == "" || got.TextBody != "" {
		t.Errorf("html body should land in HTMLBody: %q / %q", got.TextBody, got.HTMLBody)
	}
	if !got.IsReply() {
		t.Error("In-Reply-To header should mark message as reply")
	}
	if got.IsRead {
		t.Error("isRead false should carry through")
	}
	if got.SentAt.After(got.ReceivedAt) {
		t.Errorf("SentAt %v after ReceivedAt %v", got.SentAt, got.ReceivedAt)
	}
}

func TestToCanonicalTextBody(t *testing.T) {
	msg := graphMessage{
		ID:   "AAMk-2",
		Body: graphBody{ContentType: "text", Content: "plain content"},
	}
	got := msg.toCanonical()
	if got.TextBody != "plain content" || got.HTMLBody != "" {
		t.Errorf("text body should land in TextBody: %q / %q", got.TextBody, got.HTMLBody)
	}
}

func TestFetchMessage(t *testing.T) {
	var gotAuth, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "AAMk-1", "subject": "hello", "body": {"contentType": "text", "content": "hi"}}`))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	got, err := p.FetchMessage(context.Background(), "token-1", "AAMk-1")
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	if gotAuth != "Bearer token-1" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if !strings.HasPrefix(gotPath, "/me/messages/AAMk-1") {
		t.Errorf("path = %q", gotPath)
	}
	if got.Subject != "hello" || got.TextBody != "hi" {
		t.Errorf("message = %+v", got)
	}
}

func TestFetchMessageNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": "ErrorItemNotFound"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.FetchMessage(context.Background(), "token-1", "gone")
	if !apperr.HasCode(err, apperr.CodeNotFound) {
		t.Errorf("got %v, want NOT_FOUND", err)
	}
}

func TestFetchMessageUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": "InvalidAuthenticationToken"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	_, err := p.FetchMessage(context.Background(), "stale", "AAMk-1")
	if !apperr.HasCode(err, apperr.CodeTokenRefreshFailed) {
		t.Errorf("got %v, want TOKEN_REFRESH_FAILED", err)
	}
}

func TestSubscribeMail(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/subscriptions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"id":                 "sub-1",
			"resource":           gotBody["resource"],
			"expirationDateTime": gotBody["expirationDateTime"],
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	sub, err := p.Subscribe(context.Background(), "token-1", domain.SubscriptionMail)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	if sub.ID != "sub-1" {
		t.Errorf("ID = %q", sub.ID)
	}
	if gotBody["resource"] != "me/mailFolders('inbox')/messages" {
		t.Errorf("resource = %q", gotBody["resource"])
	}
	if gotBody["changeType"] != "created,deleted" {
		t.Errorf("changeType = %q", gotBody["changeType"])
	}
	if gotBody["clientState"] != "shared-secret" {
		t.Errorf("clientState = %q", gotBody["clientState"])
	}
	if gotBody["notificationUrl"] != "https://app.example.com/webhook/microsoft/mail" {
		t.Errorf("notificationUrl = %q", gotBody["notificationUrl"])
	}
	if gotBody["lifecycleNotificationUrl"] != "https://app.example.com/webhook/microsoft/subscription" {
		t.Errorf("lifecycleNotificationUrl = %q", gotBody["lifecycleNotificationUrl"])
	}

	wantExpiry := time.Now().Add(subscriptionLifetime)
	if sub.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || sub.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want about %v", sub.ExpiresAt, wantExpiry)
	}
}

func TestSubscribeContacts(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"id": "sub-2"})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	if _, err := p.Subscribe(context.Background(), "token-1", domain.SubscriptionContacts); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if gotBody["resource"] != "me/contacts" {
		t.Errorf("resource = %q", gotBody["resource"])
	}
	if gotBody["notificationUrl"] != "https://app.example.com/webhook/microsoft/contacts" {
		t.Errorf("notificationUrl = %q", gotBody["notificationUrl"])
	}
}

func TestRenewSubscription(t *testing.T) {
	renewed := time.Now().Add(subscriptionLifetime).UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.URL.Path != "/subscriptions/sub-1" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{
			"expirationDateTime": renewed.Format(time.RFC3339),
		})
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	got, err := p.RenewSubscription(context.Background(), "token-1", "sub-1")
	if err != nil {
		t.Fatalf("RenewSubscription: %v", err)
	}
	if !got.Equal(renewed) {
		t.Errorf("expiry = %v, want %v", got, renewed)
	}
}

func TestDeleteSubscriptionGoneIsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": "ResourceNotFound"}}`, http.StatusNotFound)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	if err := p.DeleteSubscription(context.Background(), "token-1", "already-gone"); err != nil {
		t.Errorf("delete of missing subscription should succeed, got %v", err)
	}
}

func TestReauthorizeSubscription(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	if err := p.ReauthorizeSubscription(context.Background(), "token-1", "sub-1"); err != nil {
		t.Fatalf("ReauthorizeSubscription: %v", err)
	}
	if gotPath != "/subscriptions/sub-1/reauthorize" {
		t.Errorf("path = %q", gotPath)
	}
}

func TestListRecentMessageIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value": [{"id": "a"}, {"id": "b"}]}`))
	}))
	defer server.Close()

	p := newTestProvider(server.URL)
	ids, err := p.ListRecentMessageIDs(context.Background(), "token-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ids = %v", ids)
	}
}

func TestGetAuthURL(t *testing.T) {
	p := newTestProvider("https://graph.microsoft.com/v1.0")
	url := p.GetAuthURL("state-123")
	if !strings.Contains(url, "login.microsoftonline.com/common/oauth2/v2.0/authorize") {
		t.Errorf("auth url = %q", url)
	}
	if !strings.Contains(url, "state=state-123") {
		t.Errorf("auth url missing state: %q", url)
	}
}
