package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const secretToken = "app-token-5f1c2d9e"

func TestNewSessionContext(t *testing.T) {
	tests := []struct {
		name      string
		tenant    string
		token     string
		wantJSON  string
		hasTenant bool
		hasToken  bool
	}{
		{
			name:      "tenant and token",
			tenant:    "acme",
			token:     secretToken,
			wantJSON:  `{"tenantId":"acme","hasAppAuthToken":true}`,
			hasTenant: true,
			hasToken:  true,
		},
		{
			name:     "no tenant",
			token:    secretToken,
			wantJSON: `{"tenantId":null,"hasAppAuthToken":true}`,
			hasToken: true,
		},
		{
			name:      "blank token is absent",
			tenant:    " acme ",
			token:     "   ",
			wantJSON:  `{"tenantId":"acme","hasAppAuthToken":false}`,
			hasTenant: true,
		},
		{
			name:     "empty",
			wantJSON: `{"tenantId":null,"hasAppAuthToken":false}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess := NewSessionContext(tt.tenant, tt.token)
			if sess.HasTenant() != tt.hasTenant {
				t.Errorf("HasTenant() = %v, want %v", sess.HasTenant(), tt.hasTenant)
			}
			if sess.HasAppAuthToken() != tt.hasToken {
				t.Errorf("HasAppAuthToken() = %v, want %v", sess.HasAppAuthToken(), tt.hasToken)
			}
			data, err := json.Marshal(sess)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(data) != tt.wantJSON {
				t.Errorf("json = %s, want %s", data, tt.wantJSON)
			}
		})
	}
}

func TestSessionContext_NeverRendersToken(t *testing.T) {
	sess := NewSessionContext("acme", secretToken)

	if sess.AppAuthToken() != secretToken {
		t.Fatalf("AppAuthToken() = %q", sess.AppAuthToken())
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("run", "session", sess)

	data, _ := json.Marshal(map[string]any{"session": sess})
	rendered := []string{
		sess.String(),
		fmt.Sprintf("%v", sess),
		fmt.Sprintf("%+v", sess.LogValue()),
		buf.String(),
		string(data),
	}
	for i, out := range rendered {
		if strings.Contains(out, secretToken) {
			t.Errorf("rendering %d leaks token: %s", i, out)
		}
	}
	if !strings.Contains(buf.String(), `"has_app_auth_token":true`) {
		t.Errorf("log line missing presence flag: %s", buf.String())
	}
}
