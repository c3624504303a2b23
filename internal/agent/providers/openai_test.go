package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

func newTestOpenAI(t *testing.T, url string) *OpenAIProvider {
	t.Helper()
	provider, err := NewOpenAIProvider(OpenAIConfig{
		APIKey:     "sk-test",
		BaseURL:    url + "/v1",
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOpenAIProvider() error = %v", err)
	}
	return provider
}

func TestNewOpenAIProviderRequiresKey(t *testing.T) {
	if _, err := NewOpenAIProvider(OpenAIConfig{}); err == nil {
		t.Fatal("expected error for missing key")
	}
	provider, err := NewOpenAIProvider(OpenAIConfig{APIKey: "sk"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provider.defaultModel != defaultOpenAIModel || provider.maxRetries != 3 {
		t.Errorf("defaults = %q/%d", provider.defaultModel, provider.maxRetries)
	}
}

func TestOpenAIStreamsTextAndToolCalls(t *testing.T) {
	var request openai.ChatCompletionRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &request); err != nil {
			t.Errorf("decode request: %v", err)
		}

		writeSSE(t, w, [][2]string{
			{"", `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Let me "}}]}`},
			{"", `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"check."}}]}`},
			{"", `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"get_encrypted_token","arguments":""}}]}}]}`},
			{"", `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"get_context","arguments":"{\"verbose\":"}}]}}]}`},
			{"", `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"true}"}}]}}]}`},
			{"", `{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`},
			{"", `{"id":"c1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":40,"completion_tokens":12,"total_tokens":52}}`},
			{"", `[DONE]`},
		})
	}))
	defer server.Close()

	provider := newTestOpenAI(t, server.URL)
	chunks, err := provider.Complete(context.Background(), &agent.CompletionRequest{
		System:   "sys",
		Messages: []agent.CompletionMessage{{Role: "user", Content: "who am I?"}},
		Tools:    []agent.Tool{stubTool{name: "get_context", schema: `{"type":"object"}`}},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	got := collect(t, chunks)
	if got.err != nil {
		t.Fatalf("stream error: %v", got.err)
	}
	if got.text != "Let me check." {
		t.Errorf("text = %q", got.text)
	}
	if len(got.toolCalls) != 2 {
		t.Fatalf("tool calls = %d, want 2", len(got.toolCalls))
	}
	if got.toolCalls[0].Name != "get_context" || string(got.toolCalls[0].Input) != `{"verbose":true}` {
		t.Errorf("first call = %+v (%s)", got.toolCalls[0], got.toolCalls[0].Input)
	}
	if got.toolCalls[1].ID != "call_b" || string(got.toolCalls[1].Input) != `{}` {
		t.Errorf("second call = %+v (%s)", got.toolCalls[1], got.toolCalls[1].Input)
	}
	if got.done == nil || got.done.InputTokens != 40 || got.done.OutputTokens != 12 {
		t.Errorf("done = %+v", got.done)
	}

	if request.Model != defaultOpenAIModel || !request.Stream {
		t.Errorf("request model/stream = %q/%v", request.Model, request.Stream)
	}
	if len(request.Messages) != 2 || request.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("messages = %+v", request.Messages)
	}
	if len(request.Tools) != 1 || request.Tools[0].Function.Name != "get_context" {
		t.Errorf("tools = %+v", request.Tools)
	}
}

func TestOpenAIErrors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantReason   ErrorReason
		wantRequests int32
	}{
		{
			name:         "invalid key",
			status:       http.StatusUnauthorized,
			body:         `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantReason:   ReasonAuth,
			wantRequests: 1,
		},
		{
			name:         "rate limited until retries run out",
			status:       http.StatusTooManyRequests,
			body:         `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`,
			wantReason:   ReasonRateLimit,
			wantRequests: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requests int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&requests, 1)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			provider := newTestOpenAI(t, server.URL)
			_, err := provider.Complete(context.Background(), &agent.CompletionRequest{
				Messages: []agent.CompletionMessage{{Role: "user", Content: "hi"}},
			})
			if err == nil {
				t.Fatal("expected error")
			}
			providerErr, ok := GetProviderError(err)
			if !ok {
				t.Fatalf("expected ProviderError, got %T: %v", err, err)
			}
			if providerErr.Reason != tt.wantReason {
				t.Errorf("reason = %s, want %s", providerErr.Reason, tt.wantReason)
			}
			if n := atomic.LoadInt32(&requests); n != tt.wantRequests {
				t.Errorf("requests = %d, want %d", n, tt.wantRequests)
			}
		})
	}
}

func TestOpenAIConvertMessages(t *testing.T) {
	provider := newTestOpenAI(t, "http://127.0.0.1:0")

	tests := []struct {
		name     string
		messages []agent.CompletionMessage
		system   string
		wantLen  int
		wantErr  bool
	}{
		{
			name: "system prompt prepended",
			messages: []agent.CompletionMessage{
				{Role: "user", Content: "Hello"},
				{Role: "assistant", Content: "Hi"},
			},
			system:  "be helpful",
			wantLen: 3,
		},
		{
			name: "one tool message per result",
			messages: []agent.CompletionMessage{
				{Role: "assistant", ToolCalls: []models.ToolCall{{ID: "a", Name: "x"}, {ID: "b", Name: "y"}}},
				{Role: "tool", ToolResults: []models.ToolResult{{ToolCallID: "a", Content: "1"}, {ToolCallID: "b", Content: "2"}}},
			},
			wantLen: 3,
		},
		{
			name:     "unknown role",
			messages: []agent.CompletionMessage{{Role: "narrator", Content: "?"}},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := provider.convertMessages(tt.messages, tt.system)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && len(got) != tt.wantLen {
				t.Errorf("len = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestOpenAIConvertToolsDegradesInvalidSchema(t *testing.T) {
	provider := newTestOpenAI(t, "http://127.0.0.1:0")
	tools := provider.convertTools([]agent.Tool{stubTool{name: "bad", schema: `{`}})
	params, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok || params["type"] != "object" {
		t.Errorf("parameters = %#v", tools[0].Function.Parameters)
	}
}
