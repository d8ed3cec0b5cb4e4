package crypto

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func testVault(t *testing.T) *Vault {
	t.Helper()
	v, err := NewVault(map[string][]byte{
		PurposeEmailTokens: []byte("unit-test-token-key"),
		"other":            []byte("unit-test-other-key"),
	})
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	return v
}

func TestVaultRoundTrip(t *testing.T) {
	v := testVault(t)

	cases := []string{
		"1//0abcdef-refresh-token",
		"short",
		strings.Repeat("x", 4096),
		"utf8 토큰 値",
	}

	for _, plaintext := range cases {
		ct, err := v.Encrypt(PurposeEmailTokens, plaintext)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plaintext, err)
		}
		got, err := v.Decrypt(PurposeEmailTokens, ct)
		if err != nil {
			t.Fatalf("Decrypt(%q): %v", plaintext, err)
		}
		if got != plaintext {
			t.Errorf("round trip mismatch: got %q want %q", got, plaintext)
		}
	}
}

func TestVaultNonceUniqueness(t *testing.T) {
	v := testVault(t)

	a, err := v.Encrypt(PurposeEmailTokens, "same-plaintext")
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.Encrypt(PurposeEmailTokens, "same-plaintext")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Error("identical plaintexts produced identical ciphertexts")
	}
}

func TestVaultPurposeTag(t *testing.T) {
	v := testVault(t)

	ct, err := v.Encrypt(PurposeEmailTokens, "secret")
	if err != nil {
		t.Fatal(err)
	}

	purpose, ok := Purpose(ct)
	if !ok || purpose != PurposeEmailTokens {
		t.Errorf("Purpose() = %q, %v; want %q, true", purpose, ok, PurposeEmailTokens)
	}

	// Sealed under one purpose, opened with another key
	if _, err := v.Decrypt("other", ct); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("cross-purpose decrypt: got %v, want ErrDecryptionFailed", err)
	}
}

func TestVaultDecryptFailures(t *testing.T) {
	v := testVault(t)

	ct, err := v.Encrypt(PurposeEmailTokens, "secret")
	if err != nil {
		t.Fatal(err)
	}

	t.Run("tampered", func(t *testing.T) {
		raw, _ := base64.StdEncoding.DecodeString(ct)
		raw[len(raw)-1] ^= 0xff
		tampered := base64.StdEncoding.EncodeToString(raw)
		if _, err := v.Decrypt(PurposeEmailTokens, tampered); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("got %v, want ErrDecryptionFailed", err)
		}
	})

	t.Run("truncated", func(t *testing.T) {
		raw, _ := base64.StdEncoding.DecodeString(ct)
		truncated := base64.StdEncoding.EncodeToString(raw[:4])
		if _, err := v.Decrypt(PurposeEmailTokens, truncated); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("got %v, want ErrInvalidCiphertext", err)
		}
	})

	t.Run("not base64", func(t *testing.T) {
		if _, err := v.Decrypt(PurposeEmailTokens, "not-base64!!!"); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("got %v, want ErrInvalidCiphertext", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := NewVault(map[string][]byte{PurposeEmailTokens: []byte("a different key entirely")})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := other.Decrypt(PurposeEmailTokens, ct); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("got %v, want ErrDecryptionFailed", err)
		}
	})

	t.Run("unknown purpose", func(t *testing.T) {
		if _, err := v.Encrypt("missing", "x"); !errors.Is(err, ErrUnknownPurpose) {
			t.Errorf("got %v, want ErrUnknownPurpose", err)
		}
	})
}

func TestVaultEmptyValues(t *testing.T) {
	v := testVault(t)

	ct, err := v.Encrypt(PurposeEmailTokens, "")
	if err != nil || ct != "" {
		t.Errorf("Encrypt(empty) = %q, %v; want empty, nil", ct, err)
	}
	pt, err := v.Decrypt(PurposeEmailTokens, "")
	if err != nil || pt != "" {
		t.Errorf("Decrypt(empty) = %q, %v; want empty, nil", pt, err)
	}
}

func TestNewVaultValidation(t *testing.T) {
	if _, err := NewVault(nil); !errors.Is(err, ErrNoKeys) {
		t.Errorf("nil keys: got %v, want ErrNoKeys", err)
	}
	if _, err := NewVault(map[string][]byte{"p": nil}); !errors.Is(err, ErrNoKeys) {
		t.Errorf("empty key: got %v, want ErrNoKeys", err)
	}
	// Non-32-byte keys are derived, not rejected
	if _, err := NewVault(map[string][]byte{"p": []byte("short")}); err != nil {
		t.Errorf("short key should derive: %v", err)
	}
}

func TestIsEncrypted(t *testing.T) {
	v := testVault(t)
	ct, _ := v.Encrypt(PurposeEmailTokens, "secret")

	if !IsEncrypted(ct) {
		t.Error("IsEncrypted(ciphertext) = false")
	}
	for _, s := range []string{"", "plain token", base64.StdEncoding.EncodeToString([]byte("xy"))} {
		if IsEncrypted(s) {
			t.Errorf("IsEncrypted(%q) = true", s)
		}
	}
}
