// Package microsoft implements the Outlook provider client on Microsoft
// Graph: OAuth, message fetch and change subscriptions.
package microsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/httputil"
	"ingest_server/pkg/logger"
)

// subscriptionLifetime is the Graph mail subscription lifetime requested
// on create and renew, just under the ~3-day maximum Graph allows.
const subscriptionLifetime = 4230 * time.Minute

var scopes = []string{
	"offline_access",
	"User.Read",
	"Mail.Read",
	"Contacts.Read",
}

// Config holds Microsoft OAuth and Graph settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Authority, e.g. https://login.microsoftonline.com/common
	Authority string
	// GraphBaseURL, e.g. https://graph.microsoft.com/v1.0
	GraphBaseURL string
	// ClientState echoed back in every change notification
	ClientState string
	// BaseURL is the public base the webhook routes live under
	BaseURL string
}

type Provider struct {
	oauth       *oauth2.Config
	graphURL    string
	clientState string
	baseURL     string
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	log         *logger.Logger
}

var _ out.MicrosoftMailPort = (*Provider)(nil)

func NewProvider(cfg Config) *Provider {
	authority := strings.TrimSuffix(cfg.Authority, "/")
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authority + "/oauth2/v2.0/authorize",
			TokenURL: authority + "/oauth2/v2.0/token",
		},
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "graph-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
	})

	return &Provider{
		oauth:       oauthCfg,
		graphURL:    strings.TrimSuffix(cfg.GraphBaseURL, "/"),
		clientState: cfg.ClientState,
		baseURL:     strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient:  httputil.GraphClient(),
		cb:          cb,
		log:         logger.Default().WithField("provider", "microsoft"),
	}
}

func (p *Provider) ProviderType() domain.Provider { return domain.ProviderMicrosoft }

func (p *Provider) GetAuthURL(state string) string {
	return p.oauth.AuthCodeURL(state)
}

// ExchangeCode trades the authorization code for tokens and resolves the
// mailbox address from /me.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*out.TokenSet, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.AuthExchange("microsoft", err)
	}

	profile, err := p.fetchProfile(ctx, token.AccessToken)
	if err != nil {
		return nil, apperr.AuthExchange("microsoft", err)
	}

	return &out.TokenSet{
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		ExpiresAt:      token.Expiry,
		Email:          profile.email(),
		ProviderUserID: profile.ID,
	}, nil
}

type graphProfile struct {
	ID                string `json:"id"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (g *graphProfile) email() string {
	if g.Mail != "" {
		return g.Mail
	}
	return g.UserPrincipalName
}

func (p *Provider) fetchProfile(ctx context.Context, accessToken string) (*graphProfile, error) {
	body, err := p.get(ctx, accessToken, "/me")
	if err != nil {
		return nil, err
	}
	var profile graphProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, err
	}
	if profile.email() == "" {
		return nil, fmt.Errorf("profile has no mail address")
	}
	return &profile, nil
}

// Refresh obtains a fresh access token. Revoked or invalid grants are
// permanent failures.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*out.TokenSet, error) {
	source := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		refreshErr := apperr.TokenRefresh("microsoft", err)
		if isPermanentOAuthError(err) {
			refreshErr = refreshErr.WithDetail("permanent", true)
		}
		return nil, refreshErr
	}

	result := &out.TokenSet{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}
	if result.RefreshToken == "" {
		result.RefreshToken = refreshToken
	}
	return result, nil
}

func isPermanentOAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "invalid_grant") ||
		strings.Contains(msg, "invalid_client") ||
		strings.Contains(msg, "consent_required") ||
		strings.Contains(msg, "revoked")
}

// FetchMessage retrieves one message with headers and normalizes it.
func (p *Provider) FetchMessage(ctx context.Context, accessToken, providerID string) (*domain.CanonicalMessage, error) {
	path := fmt.Sprintf("/me/messages/%s?$select=id,conversationId,subject,body,from,toRecipients,ccRecipients,receivedDateTime,sentDateTime,isRead,hasAttachments,internetMessageHeaders", providerID)
	body, err := p.get(ctx, accessToken, path)
	if err != nil {
		return nil, err
	}

	var msg graphMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, apperr.ProviderTransient("microsoft", err)
	}
	return msg.toCanonical(), nil
}

// ListRecentMessageIDs returns the newest inbox message ids.
func (p *Provider) ListRecentMessageIDs(ctx context.Context, accessToken string, max int) ([]string, error) {
	path := fmt.Sprintf("/me/mailFolders('inbox')/messages?$select=id&$orderby=receivedDateTime desc&$top=%d", max)
	body, err := p.get(ctx, accessToken, path)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value []struct {
			ID string `json:"id"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.ProviderTransient("microsoft", err)
	}

	ids := make([]string, 0, len(resp.Value))
	for _, v := range resp.Value {
		ids = append(ids, v.ID)
	}
	return ids, nil
}

// Subscribe creates a change subscription for the account's inbox or
// contacts, notified at the webhook routes under the public base URL.
func (p *Provider) Subscribe(ctx context.Context, accessToken string, kind domain.SubscriptionKind) (*out.GraphSubscription, error) {
	var resource, changeType, notifyPath string
	switch kind {
	case domain.SubscriptionContacts:
		resource = "me/contacts"
		changeType = "created,updated,deleted"
		notifyPath = "/webhook/microsoft/contacts"
	default:
		resource = "me/mailFolders('inbox')/messages"
		changeType = "created,deleted"
		notifyPath = "/webhook/microsoft/mail"
	}

	expiresAt := time.Now().Add(subscriptionLifetime)
	payload := map[string]string{
		"changeType":               changeType,
		"notificationUrl":          p.baseURL + notifyPath,
		"lifecycleNotificationUrl": p.baseURL + "/webhook/microsoft/subscription",
		"resource":                 resource,
		"expirationDateTime":       expiresAt.UTC().Format(time.RFC3339),
		"clientState":              p.clientState,
	}

	body, err := p.do(ctx, accessToken, http.MethodPost, "/subscriptions", payload)
	if err != nil {
		return nil, err
	}

	var resp struct {
		ID                 string `json:"id"`
		Resource           string `json:"resource"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, apperr.ProviderTransient("microsoft", err)
	}

	result := &out.GraphSubscription{ID: resp.ID, Resource: resp.Resource, ExpiresAt: expiresAt}
	if t, err := time.Parse(time.RFC3339, resp.ExpirationDateTime); err == nil {
		result.ExpiresAt = t
	}
	return result, nil
}

// RenewSubscription pushes the expiration out by the full lifetime.
func (p *Provider) RenewSubscription(ctx context.Context, accessToken, subscriptionID string) (time.Time, error) {
	expiresAt := time.Now().Add(subscriptionLifetime)
	payload := map[string]string{
		"expirationDateTime": expiresAt.UTC().Format(time.RFC3339),
	}

	body, err := p.do(ctx, accessToken, http.MethodPatch, "/subscriptions/"+subscriptionID, payload)
	if err != nil {
		return time.Time{}, err
	}

	var resp struct {
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.Unmarshal(body, &resp); err == nil {
		if t, parseErr := time.Parse(time.RFC3339, resp.ExpirationDateTime); parseErr == nil {
			return t, nil
		}
	}
	return expiresAt, nil
}

// ReauthorizeSubscription re-runs subscription authorization after a
// reauthorizationRequired lifecycle event.
func (p *Provider) ReauthorizeSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	_, err := p.do(ctx, accessToken, http.MethodPost, "/subscriptions/"+subscriptionID+"/reauthorize", nil)
	return err
}

// DeleteSubscription removes the subscription. A 404 means it is already
// gone, which is what the caller wanted.
func (p *Provider) DeleteSubscription(ctx context.Context, accessToken, subscriptionID string) error {
	_, err := p.do(ctx, accessToken, http.MethodDelete, "/subscriptions/"+subscriptionID, nil)
	if apperr.HasCode(err, apperr.CodeNotFound) {
		return nil
	}
	return err
}

// FetchContact resolves a contact's address and display name.
func (p *Provider) FetchContact(ctx context.Context, accessToken, contactID string) (string, string, error) {
	body, err := p.get(ctx, accessToken, "/me/contacts/"+contactID+"?$select=displayName,emailAddresses")
	if err != nil {
		return "", "", err
	}

	var contact struct {
		DisplayName    string `json:"displayName"`
		EmailAddresses []struct {
			Address string `json:"address"`
		} `json:"emailAddresses"`
	}
	if err := json.Unmarshal(body, &contact); err != nil {
		return "", "", apperr.ProviderTransient("microsoft", err)
	}

	email := ""
	if len(contact.EmailAddresses) > 0 {
		email = contact.EmailAddresses[0].Address
	}
	return email, contact.DisplayName, nil
}

// HTTP helpers

func (p *Provider) get(ctx context.Context, accessToken, path string) ([]byte, error) {
	return p.do(ctx, accessToken, http.MethodGet, path, nil)
}

func (p *Provider) do(ctx context.Context, accessToken, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, apperr.InternalWithError(err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.graphURL+path, reqBody)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	result, err := p.cb.Execute(func() (interface{}, error) {
		resp, err := p.httpClient.Do(req)
		if err != nil {
			return nil, apperr.ProviderTransient("microsoft", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, apperr.ProviderTransient("microsoft", err)
		}

		if resp.StatusCode >= 400 {
			return nil, p.mapStatus(resp.StatusCode, body)
		}
		return body, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperr.ProviderTransient("microsoft", err)
		}
		return nil, err
	}
	return result.([]byte), nil
}

func (p *Provider) mapStatus(status int, body []byte) error {
	err := fmt.Errorf("graph returned %d: %s", status, truncate(body, 512))
	switch status {
	case http.StatusNotFound:
		return apperr.NotFound("graph resource").WithError(err)
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.TokenRefresh("microsoft", err)
	case http.StatusTooManyRequests:
		return apperr.ProviderTransient("microsoft", err)
	default:
		if status >= 500 {
			return apperr.ProviderTransient("microsoft", err)
		}
		return apperr.ExternalError("microsoft", err)
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
