package contexttools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/tokencipher"
)

const rawToken = "app-token-5f1c2e"

func newCipher(t *testing.T) *tokencipher.Cipher {
	t.Helper()
	key, err := tokencipher.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	c, err := tokencipher.New(key)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

type failingEncrypter struct{ err error }

func (f failingEncrypter) Encrypt(string) (tokencipher.Bundle, error) {
	return tokencipher.Bundle{}, f.err
}

func TestContextTool(t *testing.T) {
	tests := []struct {
		name    string
		session agent.SessionContext
		want    string
	}{
		{"tenant and token", agent.NewSessionContext("acme", rawToken), `{"tenantId":"acme","hasAppAuthToken":true}`},
		{"tenant only", agent.NewSessionContext("acme", ""), `{"tenantId":"acme","hasAppAuthToken":false}`},
		{"token only", agent.NewSessionContext("", rawToken), `{"tenantId":null,"hasAppAuthToken":true}`},
		{"empty", agent.SessionContext{}, `{"tenantId":null,"hasAppAuthToken":false}`},
	}

	tool := NewContextTool()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Execute(context.Background(), agent.Invocation{Session: tt.session})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Content != tt.want {
				t.Errorf("content = %s, want %s", res.Content, tt.want)
			}
			if strings.Contains(res.Content, rawToken) {
				t.Fatal("get_context leaked the raw token")
			}
		})
	}
}

func TestEncryptedTokenTool_NoToken(t *testing.T) {
	tool := NewEncryptedTokenTool(newCipher(t))
	res, err := tool.Execute(context.Background(), agent.Invocation{Session: agent.NewSessionContext("acme", "")})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["hasAppAuthToken"] != false {
		t.Errorf("hasAppAuthToken = %v", out["hasAppAuthToken"])
	}
	if _, ok := out["encryptedToken"]; ok {
		t.Error("encryptedToken must be absent when there is no token")
	}
}

func TestEncryptedTokenTool_RoundTrip(t *testing.T) {
	c := newCipher(t)
	tool := NewEncryptedTokenTool(c)
	res, err := tool.Execute(context.Background(), agent.Invocation{Session: agent.NewSessionContext("acme", rawToken)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if strings.Contains(res.Content, rawToken) {
		t.Fatal("result leaked the raw token")
	}

	var out struct {
		HasAppAuthToken bool               `json:"hasAppAuthToken"`
		EncryptedToken  tokencipher.Bundle `json:"encryptedToken"`
	}
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.HasAppAuthToken {
		t.Error("hasAppAuthToken = false")
	}
	plain, err := c.Decrypt(out.EncryptedToken)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != rawToken {
		t.Errorf("decrypted = %q", plain)
	}
}

func TestEncryptedTokenTool_Failures(t *testing.T) {
	tests := []struct {
		name   string
		cipher Encrypter
		want   string
	}{
		{"no cipher", nil, "not configured"},
		{"configuration error", failingEncrypter{&tokencipher.ConfigurationError{Field: "crypto.token_key", Reason: "key is required"}}, "key is required"},
		{"other error", failingEncrypter{errors.New("boom")}, "failed to encrypt token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool := NewEncryptedTokenTool(tt.cipher)
			res, err := tool.Execute(context.Background(), agent.Invocation{Session: agent.NewSessionContext("acme", rawToken)})
			if err != nil {
				t.Fatalf("Execute returned error instead of result: %v", err)
			}
			if !res.IsError {
				t.Fatalf("expected error result, got %s", res.Content)
			}
			var out map[string]any
			if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if out["error"] != true || !strings.Contains(out["message"].(string), tt.want) {
				t.Errorf("content = %s", res.Content)
			}
		})
	}
}

func TestToolsRegisterTogether(t *testing.T) {
	registry := agent.NewToolRegistry()
	for _, tool := range Tools(nil) {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("Register(%s): %v", tool.Name(), err)
		}
	}
}
