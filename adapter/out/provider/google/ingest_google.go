// Package google implements the Gmail provider client: OAuth, message
// fetch, history diffs and push watch management.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/httputil"
	"ingest_server/pkg/logger"
)

const (
	userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
	pubsubBase  = "https://pubsub.googleapis.com/v1"
)

// Config holds Google OAuth and Pub/Sub settings.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Full subscription path, projects/{p}/subscriptions/{s}
	PubSubSubscription string
}

type Provider struct {
	oauth        *oauth2.Config
	subscription string
	cb           *gobreaker.CircuitBreaker
	log          *logger.Logger
}

var _ out.GoogleMailPort = (*Provider)(nil)

func NewProvider(cfg Config) *Provider {
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes: []string{
			gmail.GmailReadonlyScope,
			"https://www.googleapis.com/auth/userinfo.email",
		},
		Endpoint: googleoauth.Endpoint,
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gmail-api",
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
		oauth:        oauthCfg,
		subscription: cfg.PubSubSubscription,
		cb:           cb,
		log:          logger.Default().WithField("provider", "google"),
	}
}

func (p *Provider) ProviderType() domain.Provider { return domain.ProviderGoogle }

func (p *Provider) GetAuthURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// ExchangeCode trades the authorization code for tokens and resolves the
// mailbox address from the userinfo endpoint.
func (p *Provider) ExchangeCode(ctx context.Context, code string) (*out.TokenSet, error) {
	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, apperr.AuthExchange("google", err)
	}

	email, providerUserID, err := p.fetchUserinfo(ctx, token)
	if err != nil {
		return nil, apperr.AuthExchange("google", err)
	}

	return &out.TokenSet{
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		ExpiresAt:      token.Expiry,
		Email:          email,
		ProviderUserID: providerUserID,
	}, nil
}

func (p *Provider) fetchUserinfo(ctx context.Context, token *oauth2.Token) (email, id string, err error) {
	client := p.oauth.Client(ctx, token)
	resp, err := client.Get(userinfoURL)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", "", fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, body)
	}

	var info struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", "", err
	}
	if info.Email == "" {
		return "", "", fmt.Errorf("userinfo response has no email")
	}
	return info.Email, info.ID, nil
}

// Refresh obtains a fresh access token. Revoked or invalid grants are
// permanent failures; everything else can be retried.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (*out.TokenSet, error) {
	source := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		refreshErr := apperr.TokenRefresh("google", err)
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
		strings.Contains(msg, "revoked")
}

func (p *Provider) service(ctx context.Context, accessToken string) (*gmail.Service, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, httputil.GmailClient())
	client := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken}))
	return gmail.NewService(ctx, option.WithHTTPClient(client))
}

// FetchMessage retrieves one message in full and normalizes it.
func (p *Provider) FetchMessage(ctx context.Context, accessToken, providerID string) (*domain.CanonicalMessage, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, apperr.ProviderTransient("google", err)
	}

	result, err := p.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.Get("me", providerID).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	return parseMessage(result.(*gmail.Message)), nil
}

// ListHistory diffs the mailbox since startHistoryID. A 404 means the
// cursor is too old: the caller must fall back to a backlog resync.
func (p *Provider) ListHistory(ctx context.Context, accessToken string, startHistoryID uint64) (*out.HistoryDiff, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, apperr.ProviderTransient("google", err)
	}

	diff := &out.HistoryDiff{HistoryID: startHistoryID}
	pageToken := ""
	for {
		call := svc.Users.History.List("me").
			StartHistoryId(startHistoryID).
			HistoryTypes("messageAdded", "messageDeleted").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		result, err := p.cb.Execute(func() (interface{}, error) {
			return call.Do()
		})
		if err != nil {
			var apiErr *googleapi.Error
			if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
				diff.Expired = true
				return diff, nil
			}
			return nil, p.mapError(err)
		}

		resp := result.(*gmail.ListHistoryResponse)
		if resp.HistoryId > diff.HistoryID {
			diff.HistoryID = resp.HistoryId
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message != nil {
					diff.AddedIDs = append(diff.AddedIDs, added.Message.Id)
				}
			}
			for _, deleted := range h.MessagesDeleted {
				if deleted.Message != nil {
					diff.DeletedIDs = append(diff.DeletedIDs, deleted.Message.Id)
				}
			}
		}

		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return diff, nil
}

// ListRecentMessageIDs returns the newest inbox message ids.
func (p *Provider) ListRecentMessageIDs(ctx context.Context, accessToken string, max int) ([]string, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, apperr.ProviderTransient("google", err)
	}

	result, err := p.cb.Execute(func() (interface{}, error) {
		return svc.Users.Messages.List("me").
			LabelIds("INBOX").
			MaxResults(int64(max)).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	resp := result.(*gmail.ListMessagesResponse)
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, nil
}

// Watch arms push notifications for the inbox toward the Pub/Sub topic.
func (p *Provider) Watch(ctx context.Context, accessToken, topic string) (*out.GmailWatch, error) {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return nil, apperr.ProviderTransient("google", err)
	}

	result, err := p.cb.Execute(func() (interface{}, error) {
		return svc.Users.Watch("me", &gmail.WatchRequest{
			TopicName: topic,
			LabelIds:  []string{"INBOX"},
		}).Context(ctx).Do()
	})
	if err != nil {
		return nil, p.mapError(err)
	}

	resp := result.(*gmail.WatchResponse)
	return &out.GmailWatch{
		HistoryID: resp.HistoryId,
		ExpiresAt: time.UnixMilli(resp.Expiration),
	}, nil
}

// StopWatch tears the push channel down.
func (p *Provider) StopWatch(ctx context.Context, accessToken string) error {
	svc, err := p.service(ctx, accessToken)
	if err != nil {
		return apperr.ProviderTransient("google", err)
	}

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, svc.Users.Stop("me").Context(ctx).Do()
	})
	if err != nil {
		return p.mapError(err)
	}
	return nil
}

// Acknowledge acks a processed Pub/Sub delivery so it is not redelivered.
func (p *Provider) Acknowledge(ctx context.Context, accessToken, ackID string) error {
	if p.subscription == "" {
		return apperr.ConfigError("GOOGLE_PUBSUB_SUBSCRIPTION is not configured")
	}

	url := fmt.Sprintf("%s/%s:acknowledge", pubsubBase, p.subscription)
	payload, _ := json.Marshal(map[string][]string{"ackIds": {ackID}})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return apperr.InternalWithError(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := httputil.DefaultClient().Do(req)
	if err != nil {
		return apperr.ProviderTransient("google", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return apperr.ProviderTransient("google", fmt.Errorf("acknowledge returned %d: %s", resp.StatusCode, body))
	}
	return nil
}

func (p *Provider) mapError(err error) error {
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return apperr.ProviderTransient("google", err)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return apperr.NotFound("message").WithError(err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperr.TokenRefresh("google", err)
		}
	}
	return apperr.ProviderTransient("google", err)
}
