package tokencipher

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/tenantagent/internal/config"
)

func testKey(t *testing.T) string {
	t.Helper()
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return key
}

func TestNew_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"not base64", "%%%not-base64%%%"},
		{"too short", base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"too long", base64.StdEncoding.EncodeToString(make([]byte, 33))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key)
			if err == nil {
				t.Fatal("expected error")
			}
			if !IsConfigurationError(err) {
				t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
			}
			if tt.key != "" && strings.TrimSpace(tt.key) != "" && strings.Contains(err.Error(), tt.key) {
				t.Errorf("error leaks key material: %v", err)
			}
		})
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for _, plain := range []string{"", "a", "app-token-123", strings.Repeat("x", 4096), "ünïcødé ✓"} {
		bundle, err := c.Encrypt(plain)
		if err != nil {
			t.Fatalf("Encrypt(%q): %v", plain, err)
		}
		got, err := c.Decrypt(bundle)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != plain {
			t.Errorf("round trip = %q, want %q", got, plain)
		}
	}
}

func TestEncrypt_FreshNonce(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	a, err := c.Encrypt("same token")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Encrypt("same token")
	if err != nil {
		t.Fatal(err)
	}
	if a.IV == b.IV {
		t.Error("expected different iv across encryptions")
	}
	if a.Enc == b.Enc {
		t.Error("expected different ciphertext across encryptions")
	}

	iv, _ := base64.StdEncoding.DecodeString(a.IV)
	if len(iv) != NonceSize {
		t.Errorf("iv length = %d, want %d", len(iv), NonceSize)
	}
	tag, _ := base64.StdEncoding.DecodeString(a.Tag)
	if len(tag) != TagSize {
		t.Errorf("tag length = %d, want %d", len(tag), TagSize)
	}
}

func flipBit(t *testing.T, field string) string {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(field)
	if err != nil {
		t.Fatal(err)
	}
	raw[0] ^= 0x01
	return base64.StdEncoding.EncodeToString(raw)
}

func TestDecrypt_TamperFails(t *testing.T) {
	c, err := New(testKey(t))
	if err != nil {
		t.Fatal(err)
	}
	bundle, err := c.Encrypt("secret-app-token")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(Bundle) Bundle
	}{
		{"enc", func(b Bundle) Bundle { b.Enc = flipBit(t, b.Enc); return b }},
		{"iv", func(b Bundle) Bundle { b.IV = flipBit(t, b.IV); return b }},
		{"tag", func(b Bundle) Bundle { b.Tag = flipBit(t, b.Tag); return b }},
		{"truncated tag", func(b Bundle) Bundle { b.Tag = base64.StdEncoding.EncodeToString([]byte("short")); return b }},
		{"garbage iv", func(b Bundle) Bundle { b.IV = "!!"; return b }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decrypt(tt.mutate(bundle))
			if !errors.Is(err, ErrAuthenticationFailure) {
				t.Fatalf("expected ErrAuthenticationFailure, got %v", err)
			}
			if got != "" {
				t.Errorf("expected no plaintext, got %q", got)
			}
		})
	}
}

func TestDecrypt_WrongKey(t *testing.T) {
	a, _ := New(testKey(t))
	b, _ := New(testKey(t))
	bundle, err := a.Encrypt("token")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Decrypt(bundle); !errors.Is(err, ErrAuthenticationFailure) {
		t.Fatalf("expected ErrAuthenticationFailure, got %v", err)
	}
}

func TestEncrypt_DeterministicWithFixedNonce(t *testing.T) {
	key := bytes.Repeat([]byte{7}, KeySize)
	nonce := bytes.Repeat([]byte{1}, NonceSize*2)
	c, err := newWithKey(key, bytes.NewReader(nonce))
	if err != nil {
		t.Fatal(err)
	}
	a, _ := c.Encrypt("token")
	b, _ := c.Encrypt("token")
	if a != b {
		t.Errorf("identical nonce should produce identical bundle: %+v vs %+v", a, b)
	}
}

func TestNilCipher(t *testing.T) {
	var c *Cipher
	if _, err := c.Encrypt("x"); !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError from nil cipher, got %v", err)
	}
	if _, err := c.Decrypt(Bundle{}); !IsConfigurationError(err) {
		t.Errorf("expected ConfigurationError from nil cipher, got %v", err)
	}
}

func TestFromConfig(t *testing.T) {
	if _, err := FromConfig(config.CryptoConfig{}); !IsConfigurationError(err) {
		t.Fatalf("expected ConfigurationError for empty key, got %v", err)
	}
	c, err := FromConfig(config.CryptoConfig{TokenKey: testKey(t)})
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	if _, err := c.Encrypt("token"); err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
}
