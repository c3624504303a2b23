package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/tenantagent/pkg/models"
)

func TestExecuteConcurrently_RespectsConcurrencyLimit(t *testing.T) {
	const maxConcurrency = 2
	const numTools = 6

	var concurrent, maxConcurrent int32
	var mu sync.Mutex

	registry := NewToolRegistry()
	registry.MustRegister(&testTool{
		name: "blocking",
		execFunc: func(ctx context.Context, inv Invocation) (*ToolResult, error) {
			current := atomic.AddInt32(&concurrent, 1)
			mu.Lock()
			if current > maxConcurrent {
				maxConcurrent = current
			}
			mu.Unlock()

			time.Sleep(30 * time.Millisecond)
			atomic.AddInt32(&concurrent, -1)
			return &ToolResult{Content: "done:" + inv.CallID}, nil
		},
	})

	executor := NewToolExecutor(registry, ToolExecConfig{
		Concurrency:    maxConcurrency,
		PerToolTimeout: 5 * time.Second,
	})

	calls := make([]models.ToolCall, numTools)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprintf("call-%d", i), Name: "blocking", Input: json.RawMessage(`{}`)}
	}

	results := executor.ExecuteConcurrently(context.Background(), SessionContext{}, calls, nil)

	if maxConcurrent > maxConcurrency {
		t.Errorf("max concurrent = %d, want <= %d", maxConcurrent, maxConcurrency)
	}
	for i, res := range results {
		if res.Index != i {
			t.Errorf("result %d has index %d", i, res.Index)
		}
		if want := "done:" + calls[i].ID; res.Result.Content != want {
			t.Errorf("result %d content = %q, want %q", i, res.Result.Content, want)
		}
		if res.Result.ToolCallID != calls[i].ID {
			t.Errorf("result %d tool call id = %q", i, res.Result.ToolCallID)
		}
	}
}

func TestExecuteConcurrently_TimeoutIsStructuredResult(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(&testTool{
		name: "slow",
		execFunc: func(ctx context.Context, inv Invocation) (*ToolResult, error) {
			time.Sleep(200 * time.Millisecond)
			return &ToolResult{Content: "late"}, nil
		},
	})
	executor := NewToolExecutor(registry, ToolExecConfig{PerToolTimeout: 20 * time.Millisecond})

	var phases []ToolPhase
	var mu sync.Mutex
	results := executor.ExecuteConcurrently(context.Background(), SessionContext{},
		[]models.ToolCall{{ID: "c1", Name: "slow"}},
		func(a ToolActivity) {
			mu.Lock()
			phases = append(phases, a.Phase)
			mu.Unlock()
		})

	res := results[0]
	if !res.TimedOut {
		t.Fatal("expected TimedOut")
	}
	payload := decodeFailure(t, &ToolResult{Content: res.Result.Content, IsError: res.Result.IsError})
	if payload.Type != ToolErrorTimeout {
		t.Errorf("type = %q, want timeout", payload.Type)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(phases) != 2 || phases[0] != ToolStarted || phases[1] != ToolTimedOut {
		t.Errorf("phases = %v", phases)
	}
}

func TestExecuteConcurrently_RetriesRetryableFailures(t *testing.T) {
	var attempts int32
	registry := NewToolRegistry()
	registry.MustRegister(&testTool{
		name: "flaky",
		execFunc: func(ctx context.Context, inv Invocation) (*ToolResult, error) {
			if atomic.AddInt32(&attempts, 1) < 3 {
				return nil, errors.New("upstream rate limit")
			}
			return &ToolResult{Content: "ok"}, nil
		},
	})
	executor := NewToolExecutor(registry, ToolExecConfig{
		PerToolTimeout: time.Second,
		MaxAttempts:    3,
		RetryBackoff:   time.Millisecond,
	})

	results := executor.ExecuteConcurrently(context.Background(), SessionContext{}, []models.ToolCall{{ID: "c1", Name: "flaky"}}, nil)
	if results[0].Result.IsError {
		t.Fatalf("expected success after retries: %s", results[0].Result.Content)
	}
	if results[0].Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", results[0].Attempts)
	}
}

func TestExecuteConcurrently_DoesNotRetryPermanentFailures(t *testing.T) {
	tool := &testTool{
		name: "strict",
		execFunc: func(ctx context.Context, inv Invocation) (*ToolResult, error) {
			return nil, errors.New("unknown column \"Colour\"")
		},
	}
	registry := NewToolRegistry()
	registry.MustRegister(tool)
	executor := NewToolExecutor(registry, ToolExecConfig{PerToolTimeout: time.Second, MaxAttempts: 3})

	results := executor.ExecuteConcurrently(context.Background(), SessionContext{}, []models.ToolCall{{ID: "c1", Name: "strict"}}, nil)
	if !results[0].Result.IsError {
		t.Fatal("expected failure")
	}
	if tool.callCount() != 1 {
		t.Errorf("calls = %d, want 1", tool.callCount())
	}
}

type appendOnlyTool struct{ *testTool }

func (appendOnlyTool) NonIdempotent() bool { return true }

func TestExecuteConcurrently_DoesNotRetryNonIdempotentTools(t *testing.T) {
	tool := appendOnlyTool{&testTool{
		name: "append_row",
		execFunc: func(ctx context.Context, inv Invocation) (*ToolResult, error) {
			return nil, &ToolError{Type: ToolErrorNetwork, Message: "backend returned 503"}
		},
	}}
	registry := NewToolRegistry()
	registry.MustRegister(tool)
	executor := NewToolExecutor(registry, ToolExecConfig{
		PerToolTimeout: time.Second,
		MaxAttempts:    3,
		RetryBackoff:   time.Millisecond,
	})

	results := executor.ExecuteConcurrently(context.Background(), SessionContext{}, []models.ToolCall{{ID: "c1", Name: "append_row"}}, nil)
	if !results[0].Result.IsError {
		t.Fatal("expected failure")
	}
	if tool.callCount() != 1 || results[0].Attempts != 1 {
		t.Errorf("calls = %d attempts = %d, want a single attempt", tool.callCount(), results[0].Attempts)
	}
}

func TestExecuteConcurrently_PassesSession(t *testing.T) {
	var got SessionContext
	registry := NewToolRegistry()
	registry.MustRegister(&testTool{
		name: "whoami",
		execFunc: func(ctx context.Context, inv Invocation) (*ToolResult, error) {
			got = inv.Session
			return &ToolResult{Content: inv.Session.TenantID()}, nil
		},
	})
	executor := NewToolExecutor(registry, DefaultToolExecConfig())

	sess := NewSessionContext("acme", "tok")
	results := executor.ExecuteConcurrently(context.Background(), sess, []models.ToolCall{{ID: "c1", Name: "whoami"}}, nil)
	if results[0].Result.Content != "acme" {
		t.Errorf("content = %q", results[0].Result.Content)
	}
	if got.AppAuthToken() != "tok" {
		t.Error("tool did not receive the session token")
	}
}

func TestExecuteConcurrently_CanceledContext(t *testing.T) {
	registry := NewToolRegistry()
	registry.MustRegister(&testTool{name: "noop"})
	executor := NewToolExecutor(registry, ToolExecConfig{Concurrency: 1, PerToolTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := executor.ExecuteConcurrently(ctx, SessionContext{}, []models.ToolCall{{ID: "c1", Name: "noop"}, {ID: "c2", Name: "noop"}}, nil)
	for i, res := range results {
		if !res.Result.IsError {
			t.Errorf("result %d should fail on a canceled context", i)
		}
	}
}
