package sessions

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/tenantagent/internal/config"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

func TestSQLiteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	if got, err := store.Load(ctx, "conv-1"); err != nil || len(got) != 0 {
		t.Fatalf("Load() = %v, %v; want empty", got, err)
	}

	first := []models.Message{
		{Role: models.RoleUser, Content: "what sold best?"},
		{Role: models.RoleAssistant, Content: "widgets", ToolCalls: []models.ToolCall{{ID: "c1", Name: "query_business_data"}}},
	}
	if err := store.Replace(ctx, "conv-1", first); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	second := append(first, models.Message{Role: models.RoleUser, Content: "and last month?"})
	if err := store.Replace(ctx, "conv-1", second); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	got, err := store.Load(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[2].Content != "and last month?" {
		t.Errorf("last = %q", got[2].Content)
	}
	if len(got[1].ToolCalls) != 1 || got[1].ToolCalls[0].Name != "query_business_data" {
		t.Errorf("tool calls = %+v", got[1].ToolCalls)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("created_at not persisted")
	}

	if err := store.Delete(ctx, "conv-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got, _ := store.Load(ctx, "conv-1"); len(got) != 0 {
		t.Errorf("after delete = %+v", got)
	}
}

func TestSQLiteStore_MigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, "")
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if store.Backend() != "sqlite" {
		t.Errorf("Backend() = %q", store.Backend())
	}
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, err := NewStore(ctx, config.SessionsConfig{Backend: "memory"})
		if err != nil {
			t.Fatalf("NewStore() error = %v", err)
		}
		if _, ok := store.(*MemoryStore); !ok {
			t.Errorf("store = %T", store)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := NewStore(ctx, config.SessionsConfig{
			Backend:    "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "s.db"),
		})
		if err != nil {
			t.Fatalf("NewStore() error = %v", err)
		}
		defer store.Close()
		if _, ok := store.(*SQLStore); !ok {
			t.Errorf("store = %T", store)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		if _, err := NewStore(ctx, config.SessionsConfig{Backend: "redis"}); err == nil {
			t.Error("expected error")
		}
	})
}
