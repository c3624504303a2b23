// Package tokencipher encrypts application auth tokens into a transportable
// AES-256-GCM bundle that remote tool servers can decrypt with the shared
// key. The raw token never leaves the process; only the bundle does.
//
//	c, err := tokencipher.New(os.Getenv("TENANTAGENT_TOKEN_KEY"))
//	bundle, err := c.Encrypt(token)
//	plain, err := c.Decrypt(bundle) // ErrAuthenticationFailure on tamper
package tokencipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/haasonsaas/tenantagent/internal/config"
)

const (
	// KeySize is the required key length in bytes (AES-256).
	KeySize = 32

	// NonceSize is the GCM nonce length in bytes (96 bits).
	NonceSize = 12

	// TagSize is the GCM authentication tag length in bytes.
	TagSize = 16
)

// ErrAuthenticationFailure is returned when a bundle does not verify under
// the configured key: tampered ciphertext, nonce or tag, or a different key.
var ErrAuthenticationFailure = errors.New("tokencipher: authentication failure")

// ConfigurationError reports missing or malformed key material or
// credentials. The offending value is never included.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

// Bundle is the encrypted form of a token. All fields are standard base64.
type Bundle struct {
	Enc string `json:"enc"`
	IV  string `json:"iv"`
	Tag string `json:"tag"`
}

// Cipher encrypts and decrypts bundles under a single process-wide key.
// It is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// New builds a Cipher from base64 key text.
func New(keyB64 string) (*Cipher, error) {
	keyB64 = strings.TrimSpace(keyB64)
	if keyB64 == "" {
		return nil, &ConfigurationError{Field: "token_key", Reason: "key is not set"}
	}
	key, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, &ConfigurationError{Field: "token_key", Reason: "key is not valid base64"}
	}
	if len(key) != KeySize {
		return nil, &ConfigurationError{
			Field:  "token_key",
			Reason: fmt.Sprintf("key must decode to %d bytes, got %d", KeySize, len(key)),
		}
	}
	return newWithKey(key, rand.Reader)
}

// FromConfig builds a Cipher from the crypto section of the configuration.
func FromConfig(cfg config.CryptoConfig) (*Cipher, error) {
	return New(cfg.TokenKey)
}

func newWithKey(key []byte, r io.Reader) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, &ConfigurationError{Field: "token_key", Reason: err.Error()}
	}
	aead, err := cipher.NewGCMWithNonceSize(block, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("tokencipher: init gcm: %w", err)
	}
	return &Cipher{aead: aead, rand: r}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (c *Cipher) Encrypt(plaintext string) (Bundle, error) {
	if c == nil || c.aead == nil {
		return Bundle{}, &ConfigurationError{Field: "token_key", Reason: "cipher is not configured"}
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return Bundle{}, fmt.Errorf("tokencipher: generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	split := len(sealed) - TagSize
	return Bundle{
		Enc: base64.StdEncoding.EncodeToString(sealed[:split]),
		IV:  base64.StdEncoding.EncodeToString(nonce),
		Tag: base64.StdEncoding.EncodeToString(sealed[split:]),
	}, nil
}

// Decrypt opens a bundle. Any verification problem is reported as
// ErrAuthenticationFailure and no plaintext is returned.
func (c *Cipher) Decrypt(b Bundle) (string, error) {
	if c == nil || c.aead == nil {
		return "", &ConfigurationError{Field: "token_key", Reason: "cipher is not configured"}
	}
	enc, err := base64.StdEncoding.DecodeString(b.Enc)
	if err != nil {
		return "", fmt.Errorf("%w: enc is not valid base64", ErrAuthenticationFailure)
	}
	nonce, err := base64.StdEncoding.DecodeString(b.IV)
	if err != nil || len(nonce) != NonceSize {
		return "", fmt.Errorf("%w: invalid iv", ErrAuthenticationFailure)
	}
	tag, err := base64.StdEncoding.DecodeString(b.Tag)
	if err != nil || len(tag) != TagSize {
		return "", fmt.Errorf("%w: invalid tag", ErrAuthenticationFailure)
	}

	sealed := make([]byte, 0, len(enc)+len(tag))
	sealed = append(sealed, enc...)
	sealed = append(sealed, tag...)
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrAuthenticationFailure
	}
	return string(plain), nil
}

// GenerateKey returns a new random key encoded as base64.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("tokencipher: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
