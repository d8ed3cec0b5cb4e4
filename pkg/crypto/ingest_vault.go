package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// PurposeEmailTokens is the key purpose for provider OAuth tokens.
	PurposeEmailTokens = "email_tokens"

	formatVersion = 0x01
)

var (
	ErrNoKeys            = errors.New("no encryption keys configured")
	ErrUnknownPurpose    = errors.New("unknown key purpose")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	ErrDecryptionFailed  = errors.New("decryption failed")
)

// Vault performs AES-256-GCM encryption of secrets at rest. Each purpose
// gets its own key, and ciphertexts carry the purpose they were sealed
// under so a value encrypted for one purpose cannot silently be opened
// with another purpose's key.
type Vault struct {
	mu   sync.RWMutex
	gcms map[string]cipher.AEAD
}

// NewVault creates a vault from a purpose->key map. Keys that are not
// exactly 32 bytes are derived to 32 bytes with SHA-256.
func NewVault(keys map[string][]byte) (*Vault, error) {
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	gcms := make(map[string]cipher.AEAD, len(keys))
	for purpose, key := range keys {
		if purpose == "" || len(key) == 0 {
			return nil, fmt.Errorf("empty key material for purpose %q: %w", purpose, ErrNoKeys)
		}
		if len(key) != 32 {
			hash := sha256.Sum256(key)
			key = hash[:]
		}

		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher for %s: %w", purpose, err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM for %s: %w", purpose, err)
		}
		gcms[purpose] = gcm
	}

	return &Vault{gcms: gcms}, nil
}

// Encrypt seals plaintext under the named purpose key and returns
// base64(version || purposeLen || purpose || nonce || sealed). The purpose
// is also bound as GCM additional data.
func (v *Vault) Encrypt(purpose, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	v.mu.RLock()
	gcm, ok := v.gcms[purpose]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	header := make([]byte, 0, 2+len(purpose))
	header = append(header, formatVersion, byte(len(purpose)))
	header = append(header, purpose...)

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), []byte(purpose))

	out := make([]byte, 0, len(header)+len(nonce)+len(sealed))
	out = append(out, header...)
	out = append(out, nonce...)
	out = append(out, sealed...)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Any mismatch between the
// caller's purpose and the ciphertext header, a wrong key, or tampered
// data returns ErrDecryptionFailed.
func (v *Vault) Decrypt(purpose, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}

	v.mu.RLock()
	gcm, ok := v.gcms[purpose]
	v.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownPurpose, purpose)
	}

	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", ErrInvalidCiphertext
	}

	if len(data) < 2 || data[0] != formatVersion {
		return "", ErrInvalidCiphertext
	}
	purposeLen := int(data[1])
	if len(data) < 2+purposeLen {
		return "", ErrInvalidCiphertext
	}
	taggedPurpose := string(data[2 : 2+purposeLen])
	if taggedPurpose != purpose {
		return "", ErrDecryptionFailed
	}

	rest := data[2+purposeLen:]
	nonceSize := gcm.NonceSize()
	if len(rest) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	nonce, sealed := rest[:nonceSize], rest[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, sealed, []byte(purpose))
	if err != nil {
		return "", ErrDecryptionFailed
	}

	return string(plaintext), nil
}

// Purpose reads the purpose tag off a ciphertext without decrypting it.
func Purpose(ciphertext string) (string, bool) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil || len(data) < 2 || data[0] != formatVersion {
		return "", false
	}
	purposeLen := int(data[1])
	if len(data) < 2+purposeLen {
		return "", false
	}
	return string(data[2 : 2+purposeLen]), true
}

// IsEncrypted checks if a string appears to be a vault ciphertext.
func IsEncrypted(s string) bool {
	if s == "" {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	if len(decoded) < 2 || decoded[0] != formatVersion {
		return false
	}
	// header + nonce (12) + tag (16)
	return len(decoded) >= 2+int(decoded[1])+28
}
