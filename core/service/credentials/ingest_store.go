// Package credentials is the only component that touches the vault.
// Everything else hands accounts around with tokens already decrypted,
// or never sees tokens at all.
package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"ingest_server/core/domain"
	"ingest_server/core/port/out"
	"ingest_server/pkg/apperr"
	"ingest_server/pkg/crypto"
	"ingest_server/pkg/logger"
)

// refreshMargin is how much validity must remain before GetValidToken
// refreshes proactively.
const refreshMargin = 5 * time.Minute

type Store struct {
	repo      out.SocialAPIRepository
	vault     *crypto.Vault
	providers map[domain.Provider]out.MailProvider
	log       *logger.Logger
}

func NewStore(repo out.SocialAPIRepository, vault *crypto.Vault, providers map[domain.Provider]out.MailProvider) *Store {
	return &Store{
		repo:      repo,
		vault:     vault,
		providers: providers,
		log:       logger.Default().WithField("component", "credentials"),
	}
}

func (s *Store) provider(p domain.Provider) (out.MailProvider, error) {
	client, ok := s.providers[p]
	if !ok {
		return nil, apperr.BadRequest("unknown provider: " + string(p))
	}
	return client, nil
}

// Link exchanges an authorization code and stores the resulting account.
// The provider-reported mailbox address is globally unique: linking an
// address a second time fails with a conflict.
func (s *Store) Link(ctx context.Context, userID uuid.UUID, provider domain.Provider, code string) (*domain.SocialAPI, error) {
	client, err := s.provider(provider)
	if err != nil {
		return nil, err
	}

	tokens, err := client.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	account := &domain.SocialAPI{
		UserID:         userID,
		Provider:       provider,
		Email:          tokens.Email,
		ProviderUserID: tokens.ProviderUserID,
		AccessToken:    tokens.AccessToken,
		RefreshToken:   tokens.RefreshToken,
		ExpiresAt:      tokens.ExpiresAt,
		IsConnected:    true,
	}

	encrypted, err := s.encryptTokens(account)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, encrypted); err != nil {
		return nil, err
	}
	account.ID = encrypted.ID

	s.log.WithAccount(account.Email).Info("linked %s account", provider)
	return account, nil
}

// GetByUserAndEmail returns the account with tokens decrypted.
func (s *Store) GetByUserAndEmail(ctx context.Context, userID uuid.UUID, email string) (*domain.SocialAPI, error) {
	account, err := s.repo.GetByUserAndEmail(ctx, userID, email)
	if err != nil {
		return nil, err
	}
	return s.decryptAccount(account)
}

// GetByEmail resolves an account from its globally unique address.
func (s *Store) GetByEmail(ctx context.Context, email string) (*domain.SocialAPI, error) {
	account, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.decryptAccount(account)
}

// GetByProviderUserID resolves an account from the provider's user id.
func (s *Store) GetByProviderUserID(ctx context.Context, provider domain.Provider, providerUserID string) (*domain.SocialAPI, error) {
	account, err := s.repo.GetByProviderUserID(ctx, provider, providerUserID)
	if err != nil {
		return nil, err
	}
	return s.decryptAccount(account)
}

// GetByID returns the account with tokens decrypted.
func (s *Store) GetByID(ctx context.Context, id int64) (*domain.SocialAPI, error) {
	account, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.decryptAccount(account)
}

// GetValidToken returns an access token with at least refreshMargin of
// validity, refreshing and re-persisting rotated tokens when needed.
// A permanent refresh failure marks the account disconnected.
func (s *Store) GetValidToken(ctx context.Context, account *domain.SocialAPI) (string, error) {
	if !account.TokenExpiringSoon(refreshMargin) {
		return account.AccessToken, nil
	}

	client, err := s.provider(account.Provider)
	if err != nil {
		return "", err
	}

	tokens, err := client.Refresh(ctx, account.RefreshToken)
	if err != nil {
		if isPermanentRefreshFailure(err) {
			s.log.WithAccount(account.Email).WithError(err).Warn("refresh token revoked, marking disconnected")
			if markErr := s.repo.SetConnected(ctx, account.ID, false); markErr != nil {
				s.log.WithError(markErr).Error("failed to mark account disconnected")
			}
		}
		return "", err
	}

	account.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		account.RefreshToken = tokens.RefreshToken
	}
	account.ExpiresAt = tokens.ExpiresAt

	encAccess, err := s.vault.Encrypt(crypto.PurposeEmailTokens, account.AccessToken)
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	encRefresh, err := s.vault.Encrypt(crypto.PurposeEmailTokens, account.RefreshToken)
	if err != nil {
		return "", apperr.InternalWithError(err)
	}
	if err := s.repo.UpdateTokens(ctx, account.ID, encAccess, encRefresh, account.ExpiresAt); err != nil {
		return "", err
	}

	return account.AccessToken, nil
}

// UpdateHistoryID advances the Gmail sync cursor.
func (s *Store) UpdateHistoryID(ctx context.Context, id int64, historyID uint64) error {
	return s.repo.UpdateHistoryID(ctx, id, historyID)
}

// MarkDisconnected flags an account whose consent is gone.
func (s *Store) MarkDisconnected(ctx context.Context, id int64) error {
	return s.repo.SetConnected(ctx, id, false)
}

// Delete removes the account row. Remote subscription teardown happens
// before this is called.
func (s *Store) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func (s *Store) encryptTokens(account *domain.SocialAPI) (*domain.SocialAPI, error) {
	clone := *account

	encAccess, err := s.vault.Encrypt(crypto.PurposeEmailTokens, account.AccessToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}
	encRefresh, err := s.vault.Encrypt(crypto.PurposeEmailTokens, account.RefreshToken)
	if err != nil {
		return nil, apperr.InternalWithError(err)
	}

	clone.AccessToken = encAccess
	clone.RefreshToken = encRefresh
	return &clone, nil
}

func (s *Store) decryptAccount(account *domain.SocialAPI) (*domain.SocialAPI, error) {
	if account == nil {
		return nil, nil
	}

	access, err := s.vault.Decrypt(crypto.PurposeEmailTokens, account.AccessToken)
	if err != nil {
		return nil, apperr.Decrypt(err)
	}
	refresh, err := s.vault.Decrypt(crypto.PurposeEmailTokens, account.RefreshToken)
	if err != nil {
		return nil, apperr.Decrypt(err)
	}

	account.AccessToken = access
	account.RefreshToken = refresh
	return account, nil
}

func isPermanentRefreshFailure(err error) bool {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) && appErr.Code == apperr.CodeTokenRefreshFailed {
		permanent, _ := appErr.Details["permanent"].(bool)
		return permanent
	}
	return false
}
