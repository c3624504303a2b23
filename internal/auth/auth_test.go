package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/tenantagent/internal/tokencipher"
)

func TestIdentityFromRequest(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    Identity
	}{
		{
			name:    "bearer",
			headers: map[string]string{"X-Tenant-ID": " acme ", "Authorization": "Bearer tok-1"},
			want:    Identity{TenantID: "acme", AppAuthToken: "tok-1"},
		},
		{
			name:    "lowercase scheme",
			headers: map[string]string{"Authorization": "bearer tok-2"},
			want:    Identity{AppAuthToken: "tok-2"},
		},
		{
			name:    "app token header",
			headers: map[string]string{"X-Tenant-ID": "acme", "Authorization": "Basic abc", "X-App-Auth-Token": "tok-3"},
			want:    Identity{TenantID: "acme", AppAuthToken: "tok-3"},
		},
		{
			name: "anonymous",
			want: Identity{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/run", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := IdentityFromRequest(r); got != tt.want {
				t.Errorf("IdentityFromRequest() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestMiddleware(t *testing.T) {
	var got Identity
	var ok bool
	handler := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = IdentityFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPost, "/api/run", nil)
	r.Header.Set(TenantHeader, "acme")
	r.Header.Set("Authorization", "Bearer tok")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	if !ok || got.TenantID != "acme" || got.AppAuthToken != "tok" {
		t.Fatalf("identity = %+v, ok = %v", got, ok)
	}
	if _, ok := IdentityFromContext(context.Background()); ok {
		t.Error("empty context must not carry an identity")
	}
}

func TestGoogleCredentials_ClientOptions(t *testing.T) {
	ctx := context.Background()

	t.Run("endpoint without key", func(t *testing.T) {
		opts, err := GoogleCredentials{Field: "sheets", Endpoint: "http://127.0.0.1:1/"}.ClientOptions(ctx)
		if err != nil {
			t.Fatalf("ClientOptions: %v", err)
		}
		if len(opts) != 2 {
			t.Errorf("len(opts) = %d, want 2", len(opts))
		}
	})

	t.Run("missing key", func(t *testing.T) {
		_, err := GoogleCredentials{Field: "sheets"}.ClientOptions(ctx)
		if !tokencipher.IsConfigurationError(err) {
			t.Fatalf("err = %v, want ConfigurationError", err)
		}
	})

	t.Run("invalid key", func(t *testing.T) {
		_, err := GoogleCredentials{Field: "calendar", JSON: "{not json"}.ClientOptions(ctx)
		if !tokencipher.IsConfigurationError(err) {
			t.Fatalf("err = %v, want ConfigurationError", err)
		}
	})

	t.Run("unreadable file", func(t *testing.T) {
		_, err := GoogleCredentials{Field: "sheets", File: filepath.Join(t.TempDir(), "missing.json")}.ClientOptions(ctx)
		if err == nil {
			t.Fatal("expected error")
		}
	})
}
