// Package contexttools exposes the run's session facts to the model without
// revealing the raw application token. The model reads the tenant with
// get_context and obtains an encrypted bundle with get_encrypted_token, which
// it then passes to remote tools.
package contexttools

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/tokencipher"
)

const emptySchema = `{"type":"object","properties":{},"additionalProperties":false}`

// Encrypter seals a token into a bundle. *tokencipher.Cipher implements it.
type Encrypter interface {
	Encrypt(plaintext string) (tokencipher.Bundle, error)
}

// ContextTool implements get_context.
type ContextTool struct{}

func NewContextTool() *ContextTool { return &ContextTool{} }

func (t *ContextTool) Name() string { return "get_context" }

func (t *ContextTool) Description() string {
	return "Returns the current tenant id and whether an app auth token is available. Never returns the token itself."
}

func (t *ContextTool) Schema() json.RawMessage { return json.RawMessage(emptySchema) }

func (t *ContextTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	// SessionContext marshals without the token.
	return agent.JSONResult(inv.Session)
}

// EncryptedTokenTool implements get_encrypted_token.
type EncryptedTokenTool struct {
	cipher Encrypter
}

// NewEncryptedTokenTool returns the tool. A nil cipher is allowed; calls
// with a token present then fail with a configuration error result.
func NewEncryptedTokenTool(cipher Encrypter) *EncryptedTokenTool {
	return &EncryptedTokenTool{cipher: cipher}
}

func (t *EncryptedTokenTool) Name() string { return "get_encrypted_token" }

func (t *EncryptedTokenTool) Description() string {
	return "Returns the app auth token encrypted as {enc, iv, tag} for passing to remote tools as encryptedToken. " +
		"hasAppAuthToken is false when no token is available."
}

func (t *EncryptedTokenTool) Schema() json.RawMessage { return json.RawMessage(emptySchema) }

type encryptedTokenOutput struct {
	HasAppAuthToken bool                `json:"hasAppAuthToken"`
	EncryptedToken  *tokencipher.Bundle `json:"encryptedToken,omitempty"`
}

func (t *EncryptedTokenTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	if !inv.Session.HasAppAuthToken() {
		return agent.JSONResult(encryptedTokenOutput{HasAppAuthToken: false})
	}
	if t.cipher == nil {
		return agent.Failure(t.Name(), "token encryption is not configured"), nil
	}

	bundle, err := t.cipher.Encrypt(inv.Session.AppAuthToken())
	if err != nil {
		var cfgErr *tokencipher.ConfigurationError
		if errors.As(err, &cfgErr) {
			return agent.Failure(t.Name(), "token encryption is not configured: %s", cfgErr.Reason), nil
		}
		return agent.Failure(t.Name(), "failed to encrypt token"), nil
	}
	return agent.JSONResult(encryptedTokenOutput{HasAppAuthToken: true, EncryptedToken: &bundle})
}

// Tools returns both context tools.
func Tools(cipher Encrypter) []agent.Tool {
	return []agent.Tool{NewContextTool(), NewEncryptedTokenTool(cipher)}
}
