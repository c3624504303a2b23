package agent

import (
	"context"

	"github.com/haasonsaas/tenantagent/pkg/models"
)

// LLMProvider is a streaming model backend.
//
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Complete simultaneously for different runs.
//
// See providers.AnthropicProvider and providers.OpenAIProvider.
type LLMProvider interface {
	// Complete sends a request and returns a stream of chunks. The channel
	// is closed after a chunk with Done or Error set.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest is one model call.
//
//	req := &CompletionRequest{
//	    System:   "You are a business assistant.",
//	    Messages: []CompletionMessage{{Role: "user", Content: "List open invoices"}},
//	}
type CompletionRequest struct {
	// Model overrides the provider default when set.
	Model string `json:"model"`

	System   string              `json:"system,omitempty"`
	Messages []CompletionMessage `json:"messages"`

	// Tools the model may call this turn.
	Tools []Tool `json:"-"`

	// MaxTokens limits the response. Zero uses the provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is one message sent to the model.
// Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is one streamed piece of a model response: text, a
// complete tool call, or the terminal Done/Error marker.
type CompletionChunk struct {
	Text     string           `json:"text,omitempty"`
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`
	Done     bool             `json:"done,omitempty"`
	Error    error            `json:"-"`

	// Token usage, populated on the Done chunk when the provider reports it.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available model.
type Model struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContextSize int    `json:"context_size"`
}
