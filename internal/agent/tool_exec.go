package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/tenantagent/internal/backoff"
	"github.com/haasonsaas/tenantagent/internal/observability"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

// ToolExecConfig configures tool execution behavior including concurrency,
// timeouts, and retry settings.
type ToolExecConfig struct {
	// Concurrency is the maximum number of concurrent tool executions.
	// Default: 4.
	Concurrency int

	// PerToolTimeout is the timeout for individual tool executions.
	// Default: 30 seconds.
	PerToolTimeout time.Duration

	// MaxAttempts is the number of attempts per tool call (default 1).
	// Only retryable failures (timeout, network, rate limit) are retried,
	// and never for tools that report NonIdempotent.
	MaxAttempts int

	// RetryBackoff is the first delay between retries; later delays double.
	RetryBackoff time.Duration
}

// DefaultToolExecConfig returns 4 concurrent tools, a 30 second timeout
// and no retries.
func DefaultToolExecConfig() ToolExecConfig {
	return ToolExecConfig{
		Concurrency:    4,
		PerToolTimeout: 30 * time.Second,
		MaxAttempts:    1,
	}
}

// ToolExecutor runs tool calls against a registry with a concurrency limit,
// a per-call timeout and optional retries. A timeout produces a failed
// result of type timeout; it never fails the run.
type ToolExecutor struct {
	registry *ToolRegistry
	config   ToolExecConfig
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	logger   *slog.Logger
}

// NewToolExecutor creates an executor. Zero config fields get defaults.
func NewToolExecutor(registry *ToolRegistry, config ToolExecConfig) *ToolExecutor {
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.PerToolTimeout <= 0 {
		config.PerToolTimeout = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	return &ToolExecutor{
		registry: registry,
		config:   config,
		logger:   slog.Default(),
	}
}

// WithObservability attaches metrics, tracing and a logger. Nil values are
// ignored.
func (e *ToolExecutor) WithObservability(metrics *observability.Metrics, tracer *observability.Tracer, logger *slog.Logger) *ToolExecutor {
	e.metrics = metrics
	e.tracer = tracer
	if logger != nil {
		e.logger = logger
	}
	return e
}

// ToolExecResult is the outcome of one call.
type ToolExecResult struct {
	Index     int
	ToolCall  models.ToolCall
	Result    models.ToolResult
	StartTime time.Time
	EndTime   time.Time
	TimedOut  bool
	Attempts  int
}

// ActivityCallback receives tool lifecycle events. It must not block.
type ActivityCallback func(ToolActivity)

// ExecuteConcurrently runs calls in parallel up to the concurrency limit.
// Results are returned in input order.
func (e *ToolExecutor) ExecuteConcurrently(ctx context.Context, session SessionContext, toolCalls []models.ToolCall, emit ActivityCallback) []ToolExecResult {
	results := make([]ToolExecResult, len(toolCalls))

	sem := make(chan struct{}, e.config.Concurrency)
	var wg sync.WaitGroup

	for i, tc := range toolCalls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			if ctx.Err() != nil {
				results[idx] = ToolExecResult{
					Index:    idx,
					ToolCall: call,
					Result:   canceledResult(call),
				}
				return
			}

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = ToolExecResult{
					Index:    idx,
					ToolCall: call,
					Result:   canceledResult(call),
				}
				return
			}

			results[idx] = e.executeWithRetry(ctx, session, idx, call, emit)
		}(i, tc)
	}

	wg.Wait()
	return results
}

func (e *ToolExecutor) executeWithRetry(ctx context.Context, session SessionContext, idx int, call models.ToolCall, emit ActivityCallback) ToolExecResult {
	startTime := time.Now()
	var (
		result   models.ToolResult
		timedOut bool
		attempts int
	)

	maxAttempts := e.config.MaxAttempts
	if !e.retryAllowed(call.Name) {
		maxAttempts = 1
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		if emit != nil {
			emit(ToolActivity{CallID: call.ID, Name: call.Name, Phase: ToolStarted, Attempt: attempt})
		}

		toolCtx, cancel := context.WithTimeout(ctx, e.config.PerToolTimeout)
		toolCtx = observability.AddToolCallID(toolCtx, call.ID)
		var retryable bool
		result, timedOut, retryable = e.executeWithTimeout(toolCtx, session, call)
		cancel()

		if !result.IsError || !retryable || attempt == maxAttempts {
			break
		}
		if ctx.Err() != nil {
			result = canceledResult(call)
			break
		}
		if err := backoff.Exponential(e.config.RetryBackoff).Wait(ctx, attempt); err != nil {
			result = canceledResult(call)
			break
		}
	}

	endTime := time.Now()
	duration := endTime.Sub(startTime)

	status := "success"
	phase := ToolCompleted
	switch {
	case timedOut:
		status, phase = "timeout", ToolTimedOut
	case result.IsError:
		status, phase = "error", ToolFailed
	}
	e.metrics.RecordToolExecution(call.Name, status, duration.Seconds())
	if emit != nil {
		emit(ToolActivity{CallID: call.ID, Name: call.Name, Phase: phase, Attempt: attempts, Duration: duration})
	}

	return ToolExecResult{
		Index:     idx,
		ToolCall:  call,
		Result:    result,
		StartTime: startTime,
		EndTime:   endTime,
		TimedOut:  timedOut,
		Attempts:  attempts,
	}
}

func (e *ToolExecutor) retryAllowed(name string) bool {
	tool, ok := e.registry.Get(name)
	if !ok {
		return true
	}
	marker, ok := tool.(NonIdempotent)
	return !ok || !marker.NonIdempotent()
}

// executeWithTimeout executes a single call, abandoning it when ctx ends.
func (e *ToolExecutor) executeWithTimeout(ctx context.Context, session SessionContext, call models.ToolCall) (models.ToolResult, bool, bool) {
	ctx, span := e.tracer.TraceToolExecution(ctx, call.Name)
	defer span.End()

	resultChan := make(chan *ToolResult, 1)
	go func() {
		res := e.registry.Execute(ctx, call.Name, Invocation{
			CallID:  call.ID,
			Session: session,
			Params:  call.Input,
		})
		select {
		case resultChan <- res:
		default:
			e.logger.Warn("tool execution completed after timeout, result discarded",
				"tool", call.Name,
				"tool_call_id", call.ID,
				"run_id", observability.GetRunID(ctx),
			)
		}
	}()

	select {
	case <-ctx.Done():
		timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)
		if !timedOut {
			return canceledResult(call), false, false
		}
		e.tracer.RecordError(span, ErrToolTimeout)
		res := ErrorResult(&ToolError{
			Type:     ToolErrorTimeout,
			ToolName: call.Name,
			Message:  fmt.Sprintf("tool execution timed out after %v", e.config.PerToolTimeout),
			Cause:    ErrToolTimeout,
		})
		return models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: true}, true, true
	case res := <-resultChan:
		retryable := false
		if res.IsError {
			retryable = errorTypeOf(res.Content).IsRetryable()
		}
		return models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: res.IsError}, false, retryable
	}
}

func canceledResult(call models.ToolCall) models.ToolResult {
	res := ErrorResult(&ToolError{
		Type:     ToolErrorExecution,
		ToolName: call.Name,
		Message:  "tool execution canceled",
		Cause:    context.Canceled,
	})
	return models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: true}
}
