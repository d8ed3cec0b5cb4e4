package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/crypto"
)

type fakeAccountRepo struct {
	accounts map[int64]*domain.SocialAPI
	nextID   int64

	updatedAccess  string
	updatedRefresh string
	disconnected   bool
}

func newFakeAccountRepo() *fakeAccountRepo {
	return &fakeAccountRepo{accounts: make(map[int64]*domain.SocialAPI), nextID: 1}
}

func (r *fakeAccountRepo) Create(_ context.Context, a *domain.SocialAPI) error {
	for _, existing := range r.accounts {
		if existing.Email == a.Email {
			return apperr.Conflict("email already linked")
		}
	}
	a.ID = r.nextID
	r.nextID++
	clone := *a
	r.accounts[a.ID] = &clone
	return nil
}

func (r *fakeAccountRepo) GetByID(_ context.Context, id int64) (*domain.SocialAPI, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, apperr.NotFound("account")
	}
	clone := *a
	return &clone, nil
}

func (r *fakeAccountRepo) GetByUserAndEmail(_ context.Context, userID uuid.UUID, email string) (*domain.SocialAPI, error) {
	for _, a := range r.accounts {
		if a.UserID == userID && a.Email == email {
			clone := *a
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("account")
}

func (r *fakeAccountRepo) GetByEmail(_ context.Context, email string) (*domain.SocialAPI, error) {
	for _, a := range r.accounts {
		if a.Email == email {
			clone := *a
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("account")
}

func (r *fakeAccountRepo) GetByProviderUserID(_ context.Context, provider domain.Provider, providerUserID string) (*domain.SocialAPI, error) {
	for _, a := range r.accounts {
		if a.Provider == provider && a.ProviderUserID == providerUserID {
			clone := *a
			return &clone, nil
		}
	}
	return nil, apperr.NotFound("account")
}

func (r *fakeAccountRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*domain.SocialAPI, error) {
	var result []*domain.SocialAPI
	for _, a := range r.accounts {
		if a.UserID == userID {
			clone := *a
			result = append(result, &clone)
		}
	}
	return result, nil
}

func (r *fakeAccountRepo) UpdateTokens(_ context.Context, id int64, access, refresh string, expiresAt time.Time) error {
	a, ok := r.accounts[id]
	if !ok {
		return apperr.NotFound("account")
	}
	a.AccessToken = access
	a.RefreshToken = refresh
	a.ExpiresAt = expiresAt
	r.updatedAccess = access
	r.updatedRefresh = refresh
	return nil
}

func (r *fakeAccountRepo) UpdateHistoryID(_ context.Context, id int64, historyID uint64) error {
	if a, ok := r.accounts[id]; ok {
		a.LastHistoryID = historyID
	}
	return nil
}

func (r *fakeAccountRepo) SetConnected(_ context.Context, id int64, connected bool) error {
	if a, ok := r.accounts[id]; ok {
		a.IsConnected = connected
	}
	r.disconnected = !connected
	return nil
}

func (r *fakeAccountRepo) Delete(_ context.Context, id int64) error {
	delete(r.accounts, id)
	return nil
}

type fakeProvider struct {
	providerType domain.Provider
	exchanged    *out.TokenSet
	refreshed    *out.TokenSet
	refreshErr   error
}

func (p *fakeProvider) ProviderType() domain.Provider { return p.providerType }
func (p *fakeProvider) GetAuthURL(string) string      { return "https://consent.example" }

func (p *fakeProvider) ExchangeCode(_ context.Context, code string) (*out.TokenSet, error) {
	if code == "bad" {
		return nil, apperr.AuthExchange(string(p.providerType), errors.New("invalid code"))
	}
	return p.exchanged, nil
}

func (p *fakeProvider) Refresh(_ context.Context, _ string) (*out.TokenSet, error) {
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return p.refreshed, nil
}

func (p *fakeProvider) FetchMessage(context.Context, string, string) (*domain.CanonicalMessage, error) {
	return nil, nil
}

func (p *fakeProvider) ListRecentMessageIDs(context.Context, string, int) ([]string, error) {
	return nil, nil
}

func newTestStore(t *testing.T, provider *fakeProvider) (*Store, *fakeAccountRepo) {
	t.Helper()
	vault, err := crypto.NewVault(map[string][]byte{crypto.PurposeEmailTokens: []byte("test-key")})
	if err != nil {
		t.Fatal(err)
	}
	repo := newFakeAccountRepo()
	store := NewStore(repo, vault, map[domain.Provider]out.MailProvider{
		provider.providerType: provider,
	})
	return store, repo
}

func TestLinkEncryptsTokensAtRest(t *testing.T) {
	provider := &fakeProvider{
		providerType: domain.ProviderGoogle,
		exchanged: &out.TokenSet{
			AccessToken:  "plain-access",
			RefreshToken: "plain-refresh",
			ExpiresAt:    time.Now().Add(time.Hour),
			Email:        "user@example.com",
		},
	}
	store, repo := newTestStore(t, provider)

	account, err := store.Link(context.Background(), uuid.New(), domain.ProviderGoogle, "good")
	if err != nil {
		t.Fatalf("Link: %v", err)
	}
	if account.AccessToken != "plain-access" {
		t.Errorf("returned account should carry plaintext, got %q", account.AccessToken)
	}

	stored := repo.accounts[account.ID]
	if stored.AccessToken == "plain-access" || stored.RefreshToken == "plain-refresh" {
		t.Error("tokens stored in plaintext")
	}
	if !crypto.IsEncrypted(stored.AccessToken) {
		t.Error("stored access token is not vault ciphertext")
	}
}

func TestLinkDuplicateEmail(t *testing.T) {
	provider := &fakeProvider{
		providerType: domain.ProviderGoogle,
		exchanged: &out.TokenSet{
			AccessToken: "a", RefreshToken: "r",
			ExpiresAt: time.Now().Add(time.Hour),
			Email:     "dup@example.com",
		},
	}
	store, _ := newTestStore(t, provider)

	if _, err := store.Link(context.Background(), uuid.New(), domain.ProviderGoogle, "good"); err != nil {
		t.Fatal(err)
	}
	_, err := store.Link(context.Background(), uuid.New(), domain.ProviderGoogle, "good")
	if !apperr.HasCode(err, apperr.CodeConflict) {
		t.Errorf("second link of same address: got %v, want conflict", err)
	}
}

func TestGetByEmailDecrypts(t *testing.T) {
	provider := &fakeProvider{
		providerType: domain.ProviderMicrosoft,
		exchanged: &out.TokenSet{
			AccessToken: "ms-access", RefreshToken: "ms-refresh",
			ExpiresAt: time.Now().Add(time.Hour),
			Email:     "work@example.com",
		},
	}
	store, _ := newTestStore(t, provider)

	if _, err := store.Link(context.Background(), uuid.New(), domain.ProviderMicrosoft, "good"); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetByEmail(context.Background(), "work@example.com")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if got.AccessToken != "ms-access" || got.RefreshToken != "ms-refresh" {
		t.Errorf("tokens not decrypted: %q / %q", got.AccessToken, got.RefreshToken)
	}
}

func TestGetByEmailCorruptCiphertext(t *testing.T) {
	provider := &fakeProvider{
		providerType: domain.ProviderGoogle,
		exchanged: &out.TokenSet{
			AccessToken: "a", RefreshToken: "r",
			ExpiresAt: time.Now().Add(time.Hour),
			Email:     "user@example.com",
		},
	}
	store, repo := newTestStore(t, provider)

	account, err := store.Link(context.Background(), uuid.New(), domain.ProviderGoogle, "good")
	if err != nil {
		t.Fatal(err)
	}
	repo.accounts[account.ID].AccessToken = "garbage-ciphertext"

	_, err = store.GetByEmail(context.Background(), "user@example.com")
	if !apperr.HasCode(err, apperr.CodeDecryptFailed) {
		t.Errorf("got %v, want DECRYPT_FAILED", err)
	}
	if apperr.IsRetryable(err) {
		t.Error("decrypt failure must not be retryable")
	}
}

func TestGetValidToken(t *testing.T) {
	tests := []struct {
		name       string
		expiresIn  time.Duration
		refreshed  *out.TokenSet
		refreshErr error
		wantToken  string
		wantErr    bool
		wantMarked bool
	}{
		{
			name:      "still valid, no refresh",
			expiresIn: time.Hour,
			wantToken: "current-access",
		},
		{
			name:      "expiring soon, refreshed",
			expiresIn: 2 * time.Minute,
			refreshed: &out.TokenSet{
				AccessToken:  "new-access",
				RefreshToken: "new-refresh",
				ExpiresAt:    time.Now().Add(time.Hour),
			},
			wantToken: "new-access",
		},
		{
			name:       "transient refresh failure",
			expiresIn:  time.Minute,
			refreshErr: apperr.TokenRefresh("google", errors.New("502")),
			wantErr:    true,
		},
		{
			name:       "revoked consent marks disconnected",
			expiresIn:  time.Minute,
			refreshErr: apperr.TokenRefresh("google", errors.New("invalid_grant")).WithDetail("permanent", true),
			wantErr:    true,
			wantMarked: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{
				providerType: domain.ProviderGoogle,
				exchanged: &out.TokenSet{
					AccessToken: "current-access", RefreshToken: "current-refresh",
					ExpiresAt: time.Now().Add(tt.expiresIn),
					Email:     "user@example.com",
				},
				refreshed:  tt.refreshed,
				refreshErr: tt.refreshErr,
			}
			store, repo := newTestStore(t, provider)

			account, err := store.Link(context.Background(), uuid.New(), domain.ProviderGoogle, "good")
			if err != nil {
				t.Fatal(err)
			}

			token, err := store.GetValidToken(context.Background(), account)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if repo.disconnected != tt.wantMarked {
					t.Errorf("disconnected = %v, want %v", repo.disconnected, tt.wantMarked)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetValidToken: %v", err)
			}
			if token != tt.wantToken {
				t.Errorf("token = %q, want %q", token, tt.wantToken)
			}

			if tt.refreshed != nil {
				// Rotated tokens must land encrypted
				if repo.updatedAccess == "" || repo.updatedAccess == "new-access" {
					t.Error("rotated access token not persisted encrypted")
				}
			}
		})
	}
}
