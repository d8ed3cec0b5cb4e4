package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ingest_server/adapter/in/worker"
	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/core/service/credentials"
	"ingest_server/core/service/ingest"
	"ingest_server/core/service/subscription"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// OAuthStateStore stores and validates OAuth states for CSRF protection.
type OAuthStateStore interface {
	// StoreState saves a state with a TTL.
	StoreState(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error
	// ValidateState checks a state, returns the owner and deletes it.
	ValidateState(ctx context.Context, state string) (uuid.UUID, error)
}

// OAuthStateKey is the Redis key prefix for OAuth states.
const OAuthStateKey = "oauth:state:"

// OAuthStateTTL is how long a pending OAuth state stays valid.
const OAuthStateTTL = 10 * time.Minute

// RedisStateStore implements OAuthStateStore on Redis.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) StoreState(ctx context.Context, state string, userID uuid.UUID, ttl time.Duration) error {
	return s.client.Set(ctx, OAuthStateKey+state, userID.String(), ttl).Err()
}

func (s *RedisStateStore) ValidateState(ctx context.Context, state string) (uuid.UUID, error) {
	val, err := s.client.GetDel(ctx, OAuthStateKey+state).Result()
	if err != nil {
		return uuid.Nil, apperr.WebhookValidation("unknown or expired oauth state").WithError(err)
	}
	return uuid.Parse(val)
}

// OAuthHandler links and unlinks provider accounts.
type OAuthHandler struct {
	creds      *credentials.Store
	subs       *subscription.Manager
	ingest     *ingest.Service
	queue      JobQueue
	providers  map[domain.Provider]out.MailProvider
	stateStore OAuthStateStore
}

func NewOAuthHandler(
	creds *credentials.Store,
	subs *subscription.Manager,
	ingestService *ingest.Service,
	queue JobQueue,
	providers map[domain.Provider]out.MailProvider,
	stateStore OAuthStateStore,
) *OAuthHandler {
	return &OAuthHandler{
		creds:      creds,
		subs:       subs,
		ingest:     ingestService,
		queue:      queue,
		providers:  providers,
		stateStore: stateStore,
	}
}

func generateSecureState() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate secure state: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

func (h *OAuthHandler) Register(app fiber.Router) {
	oauth := app.Group("/oauth")
	oauth.Get("/connect/:provider", h.Connect)
	oauth.Get("/callback/:provider", h.Callback)
	oauth.Get("/:provider/callback", h.Callback)

	app.Delete("/accounts/:email", h.Unlink)
}

// Connect returns the provider consent URL for the authenticated user.
func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	provider := domain.Provider(c.Params("provider"))
	client, ok := h.providers[provider]
	if !ok {
		return ErrorResponse(c, 400, "unknown provider: "+string(provider))
	}

	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	secureRandom, err := generateSecureState()
	if err != nil {
		return InternalErrorResponse(c, err, "state generation")
	}
	state := userID.String() + ":" + secureRandom

	if h.stateStore != nil {
		if err := h.stateStore.StoreState(c.Context(), state, userID, OAuthStateTTL); err != nil {
			return InternalErrorResponse(c, err, "state storage")
		}
	}

	return c.JSON(fiber.Map{
		"auth_url": client.GetAuthURL(state),
		"state":    state,
	})
}

// Callback finishes the link: exchange the code, arm push notifications
// and queue a backlog run over the existing inbox.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	provider := domain.Provider(c.Params("provider"))
	code := c.Query("code")
	state := c.Query("state")

	if errorParam := c.Query("error"); errorParam != "" {
		logger.Warn("[OAuth Callback] Error from provider: %s - %s", errorParam, c.Query("error_description"))
		return ErrorResponse(c, 400, "provider returned error: "+errorParam)
	}
	if code == "" {
		return AppErrorResponse(c, apperr.MissingField("code"))
	}
	if state == "" {
		return AppErrorResponse(c, apperr.MissingField("state"))
	}

	userID, err := h.resolveUser(c, state)
	if err != nil {
		logger.WithError(err).Warn("[OAuth Callback] State validation failed")
		return ErrorResponse(c, 400, "invalid state")
	}

	account, err := h.creds.Link(c.Context(), userID, provider, code)
	if err != nil {
		logger.WithError(err).Error("[OAuth Callback] Link failed")
		return AppErrorResponse(c, err)
	}

	if err := h.subs.EnsureSubscriptions(c.Context(), account); err != nil {
		// The account is linked; push will be retried by the sweeper, and
		// the backlog run below still catches the mailbox up.
		logger.WithAccount(account.Email).WithError(err).Error("[OAuth Callback] Subscription setup failed")
	}

	h.queue.Submit(worker.NewMessage(worker.JobBacklogSync, map[string]any{
		"social_api_id": account.ID,
		"limit":         0,
	}))

	logger.Info("[OAuth Callback] Linked %s account %s for user %s", provider, account.Email, userID)

	return SuccessResponse(c, fiber.Map{
		"id":       account.ID,
		"provider": account.Provider,
		"email":    account.Email,
	})
}

func (h *OAuthHandler) resolveUser(c *fiber.Ctx, state string) (uuid.UUID, error) {
	if h.stateStore != nil {
		return h.stateStore.ValidateState(c.Context(), state)
	}

	// Without a state store the state still carries the user id up front.
	parts := strings.SplitN(state, ":", 2)
	return uuid.Parse(parts[0])
}

// Unlink tears down provider subscriptions, purges stored data and
// removes the credentials for one linked address.
func (h *OAuthHandler) Unlink(c *fiber.Ctx) error {
	userID, err := GetUserID(c)
	if err != nil {
		return ErrorResponse(c, 401, "unauthorized")
	}

	email := c.Params("email")
	account, err := h.creds.GetByUserAndEmail(c.Context(), userID, email)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if err := h.subs.Teardown(c.Context(), account); err != nil {
		logger.WithAccount(account.Email).WithError(err).Warn("[Unlink] Subscription teardown failed")
	}
	if err := h.ingest.DeleteAccountData(c.Context(), account.ID); err != nil {
		return AppErrorResponse(c, err)
	}
	if err := h.creds.Delete(c.Context(), account.ID); err != nil {
		return AppErrorResponse(c, err)
	}

	logger.Info("[Unlink] Removed account %s for user %s", account.Email, userID)
	return SuccessResponse(c, fiber.Map{"email": account.Email, "status": "unlinked"})
}
