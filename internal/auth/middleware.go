package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

const (
	// TenantHeader names the tenant of the request.
	TenantHeader = "X-Tenant-ID"

	// AppTokenHeader carries the app auth token when Authorization is
	// used for something else.
	AppTokenHeader = "X-App-Auth-Token"
)

// Middleware extracts the request identity and attaches it to the request
// context. Requests without a tenant are still served; tools report the
// missing tenant to the model.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromRequest(r)
			if id.TenantID == "" {
				logger.Debug("request without tenant", "path", r.URL.Path)
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// IdentityFromRequest reads the tenant header and the app token from
// Authorization: Bearer, falling back to X-App-Auth-Token.
func IdentityFromRequest(r *http.Request) Identity {
	token := extractBearer(r.Header)
	if token == "" {
		token = strings.TrimSpace(r.Header.Get(AppTokenHeader))
	}
	return Identity{
		TenantID:     strings.TrimSpace(r.Header.Get(TenantHeader)),
		AppAuthToken: token,
	}
}

func extractBearer(header http.Header) string {
	for _, value := range header.Values("Authorization") {
		lower := strings.ToLower(value)
		if strings.HasPrefix(lower, "bearer ") {
			return strings.TrimSpace(value[len("bearer "):])
		}
	}
	return ""
}
