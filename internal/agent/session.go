package agent

import (
	"encoding/json"
	"log/slog"
	"strings"
)

// SessionContext carries the caller identity for one run: the tenant and
// the application auth token received with the request. It is immutable and
// is handed to every tool call through Invocation.
//
// The token is only reachable through AppAuthToken. String, LogValue and
// MarshalJSON report presence, never the value.
type SessionContext struct {
	tenantID     string
	appAuthToken string
}

// NewSessionContext builds the context for a run. Blank values are treated
// as absent.
func NewSessionContext(tenantID, appAuthToken string) SessionContext {
	return SessionContext{
		tenantID:     strings.TrimSpace(tenantID),
		appAuthToken: strings.TrimSpace(appAuthToken),
	}
}

// TenantID returns the tenant id, or "" when none was supplied.
func (s SessionContext) TenantID() string {
	return s.tenantID
}

// HasTenant reports whether a tenant id was supplied.
func (s SessionContext) HasTenant() bool {
	return s.tenantID != ""
}

// HasAppAuthToken reports whether a token was supplied. It says nothing
// about whether the token is valid.
func (s SessionContext) HasAppAuthToken() bool {
	return s.appAuthToken != ""
}

// AppAuthToken returns the raw token. Callers must not log or return it.
func (s SessionContext) AppAuthToken() string {
	return s.appAuthToken
}

// String implements fmt.Stringer without the token.
func (s SessionContext) String() string {
	tenant := s.tenantID
	if tenant == "" {
		tenant = "<none>"
	}
	if s.HasAppAuthToken() {
		return "tenant=" + tenant + " token=present"
	}
	return "tenant=" + tenant + " token=absent"
}

// LogValue implements slog.LogValuer.
func (s SessionContext) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tenant_id", s.tenantID),
		slog.Bool("has_app_auth_token", s.HasAppAuthToken()),
	)
}

type sessionSummary struct {
	TenantID        *string `json:"tenantId"`
	HasAppAuthToken bool    `json:"hasAppAuthToken"`
}

// Summary returns the token-free view of the context: the tenant id (nil
// when absent) and whether a token is present.
func (s SessionContext) Summary() (tenantID *string, hasToken bool) {
	if s.tenantID != "" {
		id := s.tenantID
		tenantID = &id
	}
	return tenantID, s.HasAppAuthToken()
}

// MarshalJSON renders {"tenantId": string|null, "hasAppAuthToken": bool}.
func (s SessionContext) MarshalJSON() ([]byte, error) {
	tenantID, hasToken := s.Summary()
	return json.Marshal(sessionSummary{TenantID: tenantID, HasAppAuthToken: hasToken})
}
