// Package providers implements agent.LLMProvider on top of the Anthropic and
// OpenAI SDKs.
//
// Both providers stream: text arrives as it is generated, tool calls arrive
// once their arguments are complete, and the final chunk carries token usage.
// Failures before the first streamed chunk are retried with exponential
// backoff when they are transient.
//
//	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
//	chunks, err := provider.Complete(ctx, &agent.CompletionRequest{
//	    System:   "You are a business assistant.",
//	    Messages: []agent.CompletionMessage{{Role: "user", Content: "List open invoices"}},
//	})
//	for chunk := range chunks {
//	    if chunk.Error != nil {
//	        return chunk.Error
//	    }
//	    fmt.Print(chunk.Text)
//	}
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/backoff"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// maxEmptyStreamEvents is the number of consecutive events without output
// after which a stream is treated as malformed.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements agent.LLMProvider for the Anthropic Messages
// API. It is safe for concurrent use; each Complete call owns its stream.
type AnthropicProvider struct {
	client       anthropic.Client
	maxRetries   int
	retryDelay   time.Duration
	defaultModel string
}

// AnthropicConfig configures an AnthropicProvider. Only APIKey is required.
type AnthropicConfig struct {
	APIKey string

	// BaseURL overrides the API endpoint, mainly for proxies and tests.
	BaseURL string

	// MaxRetries bounds retries of transient failures. Zero uses 3, a
	// negative value disables retries.
	MaxRetries int

	// RetryDelay is the base of the exponential backoff. Default: 1s.
	RetryDelay time.Duration

	DefaultModel string

	HTTPClient *http.Client
}

// NewAnthropicProvider creates a provider from config.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	switch {
	case config.MaxRetries == 0:
		config.MaxRetries = 3
	case config.MaxRetries < 0:
		config.MaxRetries = 0
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = defaultAnthropicModel
	}

	// Retries happen here so that a partially streamed answer is never
	// replayed; the SDK's own retry loop is disabled.
	options := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(0),
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	if config.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(config.HTTPClient))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(options...),
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns "anthropic".
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models lists the Claude models this provider is tested against.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000},
	}
}

// SupportsTools returns true.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Complete starts a streaming completion. Request conversion errors are
// returned directly; everything after that is delivered as a chunk.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	if req == nil {
		return nil, errors.New("anthropic: request is required")
	}
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	model := string(params.Model)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		for attempt := 0; ; attempt++ {
			stream := p.client.Messages.NewStreaming(ctx, params)
			emitted, err := p.processStream(ctx, stream, chunks, model)
			if err == nil {
				return
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				sendChunk(ctx, chunks, &agent.CompletionChunk{Error: ctxErr})
				return
			}
			if emitted || attempt >= p.maxRetries || !IsRetryable(err) {
				if attempt > 0 && !emitted && IsRetryable(err) {
					err = fmt.Errorf("anthropic: max retries exceeded: %w", err)
				}
				sendChunk(ctx, chunks, &agent.CompletionChunk{Error: err})
				return
			}

			if err := backoff.Exponential(p.retryDelay).Wait(ctx, attempt+1); err != nil {
				sendChunk(ctx, chunks, &agent.CompletionChunk{Error: err})
				return
			}
		}
	}()

	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest) (anthropic.MessageNewParams, error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(getMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := p.convertTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// processStream forwards one SSE stream onto chunks. It reports whether any
// output reached the consumer so the caller knows if a retry is safe.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) (bool, error) {
	defer stream.Close()

	var (
		currentToolCall  *models.ToolCall
		currentToolInput strings.Builder
		emptyEventCount  int
		inputTokens      int
		outputTokens     int
		emitted          bool
	)

	emit := func(chunk *agent.CompletionChunk) bool {
		emitted = true
		return sendChunk(ctx, chunks, chunk)
	}

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			if usage := event.AsMessageStart().Message.Usage; usage.InputTokens > 0 {
				inputTokens = int(usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentToolCall = &models.ToolCall{ID: toolUse.ID, Name: toolUse.Name}
				currentToolInput.Reset()
			}
			eventProcessed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					if !emit(&agent.CompletionChunk{Text: delta.Text}) {
						return true, ctx.Err()
					}
					eventProcessed = true
				}
			case "input_json_delta":
				if delta.PartialJSON != "" {
					currentToolInput.WriteString(delta.PartialJSON)
					eventProcessed = true
				}
			}

		case "content_block_stop":
			if currentToolCall != nil {
				input := strings.TrimSpace(currentToolInput.String())
				if input == "" {
					input = "{}"
				}
				currentToolCall.Input = json.RawMessage(input)
				if !emit(&agent.CompletionChunk{ToolCall: currentToolCall}) {
					return true, ctx.Err()
				}
				currentToolCall = nil
			}
			eventProcessed = true

		case "message_delta":
			if usage := event.AsMessageDelta().Usage; usage.OutputTokens > 0 {
				outputTokens = int(usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			sendChunk(ctx, chunks, &agent.CompletionChunk{
				Done:         true,
				InputTokens:  inputTokens,
				OutputTokens: outputTokens,
			})
			return true, nil

		case "error":
			return emitted, p.wrapError(errors.New("anthropic stream error"), model)
		}

		if eventProcessed {
			emptyEventCount = 0
			continue
		}
		emptyEventCount++
		if emptyEventCount >= maxEmptyStreamEvents {
			return emitted, p.wrapError(
				fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount),
				model,
			)
		}
	}

	if err := stream.Err(); err != nil {
		return emitted, p.wrapError(err, model)
	}
	if err := ctx.Err(); err != nil {
		return emitted, err
	}
	// The stream ended without message_stop; report what arrived.
	sendChunk(ctx, chunks, &agent.CompletionChunk{
		Done:         true,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	})
	return true, nil
}

// convertMessages maps completion messages onto Anthropic content blocks.
// Tool results travel in user messages; messages without any block are
// dropped because the API rejects empty content.
func (p *AnthropicProvider) convertMessages(messages []agent.CompletionMessage) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, toolResult := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(
				toolResult.ToolCallID,
				toolResult.Content,
				toolResult.IsError,
			))
		}
		for _, toolCall := range msg.ToolCalls {
			input := map[string]any{}
			if len(toolCall.Input) > 0 {
				if err := json.Unmarshal(toolCall.Input, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input for %s: %w", toolCall.Name, err)
				}
			}
			content = append(content, anthropic.NewToolUseBlock(toolCall.ID, input, toolCall.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

func (p *AnthropicProvider) convertTools(tools []agent.Tool) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))

	for _, tool := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", tool.Name(), err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, tool.Name())
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", tool.Name())
		}
		toolParam.OfTool.Description = anthropic.String(tool.Description())
		result = append(result, toolParam)
	}

	return result, nil
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if _, ok := GetProviderError(err); ok {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return NewProviderError("anthropic", model, err)
	}

	providerErr := (&ProviderError{
		Provider: "anthropic",
		Model:    model,
		Cause:    err,
		Reason:   ReasonUnknown,
	}).WithStatus(apiErr.StatusCode)

	requestID := apiErr.RequestID
	var payload anthropicErrorPayload
	if raw := apiErr.RawJSON(); raw != "" && json.Unmarshal([]byte(raw), &payload) == nil {
		if payload.Error.Message != "" {
			providerErr = providerErr.WithMessage(payload.Error.Message)
		}
		if payload.Error.Type != "" {
			providerErr = providerErr.WithCode(payload.Error.Type)
		}
		if payload.RequestID != "" {
			requestID = payload.RequestID
		}
	}
	if providerErr.Message == "" {
		providerErr.Message = "anthropic request failed"
	}
	if requestID != "" {
		providerErr = providerErr.WithRequestID(requestID)
	}
	return providerErr
}
