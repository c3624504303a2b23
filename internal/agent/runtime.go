package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/tenantagent/internal/observability"
	"github.com/haasonsaas/tenantagent/internal/sessions"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

const (
	// MaxResponseTextSize bounds the text accumulated for a single run.
	MaxResponseTextSize = 1 << 20

	// MaxToolCallsPerIteration bounds tool calls in one model response.
	MaxToolCallsPerIteration = 32

	eventBufferSize = 16
)

// RunRequest is one user turn.
type RunRequest struct {
	ConversationID string
	Input          string
	Session        SessionContext
}

// Runtime drives conversational turns: it loads the conversation history,
// streams model output, runs the tools the model asks for and stores the
// completed turn.
//
// Runs on the same conversation are serialized; different conversations run
// in parallel.
type Runtime struct {
	provider  LLMProvider
	tools     *ToolRegistry
	history   sessions.HistoryStore
	locker    sessions.Locker
	gateway   ToolGateway
	approvals *ApprovalChecker
	opts      RuntimeOptions
}

// NewRuntime creates a runtime. A nil registry starts empty and a nil
// history store keeps conversations in memory.
func NewRuntime(provider LLMProvider, tools *ToolRegistry, history sessions.HistoryStore, opts RuntimeOptions) *Runtime {
	if tools == nil {
		tools = NewToolRegistry()
	}
	if history == nil {
		history = sessions.NewMemoryStore()
	}
	return &Runtime{
		provider: provider,
		tools:    tools,
		history:  history,
		locker:   sessions.NewKeyedLocker(),
		opts:     mergeRuntimeOptions(DefaultRuntimeOptions(), opts),
	}
}

// SetGateway attaches remote tools acquired per run.
func (r *Runtime) SetGateway(gateway ToolGateway) {
	r.gateway = gateway
}

// SetApprovalChecker enables approval checks before tool execution.
func (r *Runtime) SetApprovalChecker(checker *ApprovalChecker) {
	r.approvals = checker
}

// SetLocker replaces the per-conversation locker.
func (r *Runtime) SetLocker(locker sessions.Locker) {
	if locker != nil {
		r.locker = locker
	}
}

// Tools returns the local tool registry.
func (r *Runtime) Tools() *ToolRegistry {
	return r.tools
}

// History returns the conversation history store.
func (r *Runtime) History() sessions.HistoryStore {
	return r.history
}

// Approvals returns the approval checker, or nil.
func (r *Runtime) Approvals() *ApprovalChecker {
	return r.approvals
}

// Run starts a turn and returns its event stream. The channel is closed when
// the run ends; a failed run's last event is a StreamError. Cancelling ctx
// stops the run and releases its resources.
//
//	events, err := runtime.Run(ctx, agent.RunRequest{ConversationID: id, Input: "Show today's tasks", Session: sess})
//	for ev := range events {
//	    switch ev := ev.(type) {
//	    case agent.TextChunk:
//	        fmt.Print(ev.Text)
//	    case agent.StreamError:
//	        return ev.Err
//	    }
//	}
func (r *Runtime) Run(ctx context.Context, req RunRequest) (<-chan Event, error) {
	if r.provider == nil {
		return nil, ErrNoProvider
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if req.ConversationID == "" {
		return nil, ErrConversationRequired
	}
	if strings.TrimSpace(req.Input) == "" {
		return nil, errors.New("input is required")
	}

	events := make(chan Event, eventBufferSize)
	go func() {
		defer close(events)

		runID := uuid.NewString()
		runCtx := observability.AddRunID(ctx, runID)
		runCtx = observability.AddConversationID(runCtx, req.ConversationID)
		if req.Session.HasTenant() {
			runCtx = observability.AddTenantID(runCtx, req.Session.TenantID())
		}

		r.run(runCtx, req, &emitter{ctx: runCtx, out: events})
	}()
	return events, nil
}

// emitter delivers events unless the consumer has gone away.
type emitter struct {
	ctx context.Context
	out chan<- Event
}

func (e *emitter) emit(ev Event) bool {
	select {
	case e.out <- ev:
		return true
	case <-e.ctx.Done():
		return false
	}
}

// fail delivers the terminal StreamError. It is attempted even when the
// consumer context is done so buffered consumers still see the cause.
func (e *emitter) fail(err error) {
	select {
	case e.out <- StreamError{Err: err}:
	default:
		e.emit(StreamError{Err: err})
	}
}

func (r *Runtime) run(ctx context.Context, req RunRequest, em *emitter) {
	logger := r.logger().With(
		"conversation_id", req.ConversationID,
		"run_id", observability.GetRunID(ctx),
		"session", req.Session,
	)
	start := time.Now()
	r.opts.Metrics.RunStarted()
	ctx, span := r.opts.Tracer.TraceRun(ctx, req.ConversationID)
	defer span.End()

	state := StateRunning
	logger.Debug("run started", "state", state)
	finish := func(final RunState, err error) {
		state = final
		r.opts.Metrics.RecordRun(string(final), time.Since(start).Seconds())
		if err != nil {
			r.opts.Tracer.RecordError(span, err)
			r.opts.Metrics.RecordError("agent", string(final))
			logger.Warn("run failed", "state", state, "error", err, "duration", time.Since(start))
			em.fail(err)
			return
		}
		logger.Info("run finished", "state", state, "duration", time.Since(start))
	}

	if err := r.locker.Lock(ctx, req.ConversationID); err != nil {
		finish(StateFailed, &LoopError{Phase: PhaseInit, Message: "failed to lock conversation", Cause: err})
		return
	}
	defer r.locker.Unlock(req.ConversationID)

	prior, err := r.history.Load(ctx, req.ConversationID)
	if err != nil {
		finish(StateFailed, &LoopError{Phase: PhaseInit, Message: "failed to load history", Cause: err})
		return
	}

	registry := r.tools
	var remoteNames []string
	if r.gateway != nil {
		lease, err := r.acquireLease(ctx)
		if err != nil {
			finish(StateFailed, &LoopError{Phase: PhaseGateway, Cause: err})
			return
		}
		defer func() {
			if err := lease.Close(); err != nil {
				logger.Warn("failed to close tool gateway lease", "error", err)
			}
		}()
		remote := lease.Tools()
		registry, err = r.tools.Extend(remote...)
		if err != nil {
			logger.Warn("skipping remote tools that could not be registered", "error", err)
		}
		for _, tool := range remote {
			name := tool.Name()
			if _, local := r.tools.Get(name); local {
				continue
			}
			if _, ok := registry.Get(name); ok {
				remoteNames = append(remoteNames, name)
			}
		}
	}

	userMsg := models.Message{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		Role:           models.RoleUser,
		Content:        req.Input,
		CreatedAt:      time.Now().UTC(),
	}

	completion := &CompletionRequest{
		Model:     r.opts.Model,
		System:    BuildInstructions(r.opts.Instructions, remoteNames),
		Messages:  buildCompletionMessages(trimHistory(prior, r.opts.HistoryLimit), userMsg),
		Tools:     registry.Tools(),
		MaxTokens: r.opts.MaxTokens,
	}
	executor := NewToolExecutor(registry, r.opts.ToolExec).
		WithObservability(r.opts.Metrics, r.opts.Tracer, logger)

	var answer strings.Builder
	for iter := 0; iter < r.opts.MaxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			finish(StateFailed, err)
			return
		}

		text, toolCalls, err := r.streamCompletion(ctx, completion, iter, &answer, em)
		if err != nil {
			finish(StateFailed, err)
			return
		}
		state = StateStreaming

		if len(toolCalls) == 0 {
			assistantMsg := models.Message{
				ID:             uuid.NewString(),
				ConversationID: req.ConversationID,
				Role:           models.RoleAssistant,
				Content:        answer.String(),
				CreatedAt:      time.Now().UTC(),
			}
			updated := append(models.CloneMessages(prior), userMsg, assistantMsg)
			if err := r.history.Replace(ctx, req.ConversationID, updated); err != nil {
				finish(StateFailed, &LoopError{Phase: PhaseComplete, Iteration: iter, Message: "failed to store history", Cause: err})
				return
			}
			finish(StateCompleted, nil)
			return
		}

		completion.Messages = append(completion.Messages, CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   text,
			ToolCalls: toolCalls,
		})

		results, pending, err := r.applyApprovals(ctx, req.ConversationID, toolCalls, em)
		if err != nil {
			finish(StateFailed, &LoopError{Phase: PhaseExecuteTools, Iteration: iter, Message: "approval check failed", Cause: err})
			return
		}
		if len(pending) > 0 {
			names := make([]string, 0, len(pending))
			for _, p := range pending {
				names = append(names, p.ToolName)
			}
			em.emit(InterruptionSignal{
				Requests: pending,
				Message:  "approval required for " + strings.Join(names, ", "),
			})
			finish(StateInterrupted, nil)
			return
		}

		var runnable []models.ToolCall
		var slots []int
		for i, call := range toolCalls {
			if results[i] == nil {
				runnable = append(runnable, call)
				slots = append(slots, i)
			}
		}
		execResults := executor.ExecuteConcurrently(ctx, req.Session, runnable, func(a ToolActivity) {
			em.emit(a)
		})
		for i, res := range execResults {
			result := res.Result
			results[slots[i]] = &result
		}

		toolResults := make([]models.ToolResult, len(results))
		for i, res := range results {
			toolResults[i] = *res
		}
		completion.Messages = append(completion.Messages, CompletionMessage{
			Role:        string(models.RoleTool),
			ToolResults: toolResults,
		})
	}

	finish(StateFailed, &LoopError{Phase: PhaseStream, Iteration: r.opts.MaxIterations, Cause: ErrMaxIterations})
}

func (r *Runtime) acquireLease(ctx context.Context) (ToolLease, error) {
	acquireCtx := ctx
	if r.opts.GatewayTimeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, r.opts.GatewayTimeout)
		defer cancel()
	}
	lease, err := r.gateway.Acquire(acquireCtx)
	if err != nil {
		return nil, fmt.Errorf("acquire remote tools: %w", err)
	}
	return lease, nil
}

// streamCompletion runs one model call, forwarding text as it arrives.
// It returns this call's text and the tool calls the model requested.
func (r *Runtime) streamCompletion(ctx context.Context, req *CompletionRequest, iter int, answer *strings.Builder, em *emitter) (string, []models.ToolCall, error) {
	modelCtx := ctx
	if r.opts.ModelTimeout > 0 {
		var cancel context.CancelFunc
		modelCtx, cancel = context.WithTimeout(ctx, r.opts.ModelTimeout)
		defer cancel()
	}

	providerName := r.provider.Name()
	modelCtx, span := r.opts.Tracer.TraceLLMRequest(modelCtx, providerName, req.Model)
	defer span.End()
	start := time.Now()

	var (
		text                      strings.Builder
		toolCalls                 []models.ToolCall
		inputTokens, outputTokens int
		done                      bool
	)
	fail := func(err error) (string, []models.ToolCall, error) {
		r.recordModelCall(span, providerName, req.Model, "error", start, inputTokens, outputTokens, err)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("model call timed out after %v: %w", r.opts.ModelTimeout, err)
		}
		return "", nil, &LoopError{Phase: PhaseStream, Iteration: iter, Cause: err}
	}

	chunks, err := r.provider.Complete(modelCtx, req)
	if err != nil {
		return fail(err)
	}

	for {
		var (
			chunk *CompletionChunk
			ok    bool
		)
		select {
		case chunk, ok = <-chunks:
		case <-modelCtx.Done():
			return fail(modelCtx.Err())
		}
		if !ok {
			break
		}
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return fail(chunk.Error)
		}
		if chunk.Text != "" {
			if answer.Len()+len(chunk.Text) > MaxResponseTextSize {
				return fail(fmt.Errorf("response text exceeds maximum size of %d bytes", MaxResponseTextSize))
			}
			text.WriteString(chunk.Text)
			answer.WriteString(chunk.Text)
			if !em.emit(TextChunk{Text: chunk.Text}) {
				return fail(ctx.Err())
			}
		}
		if chunk.ToolCall != nil {
			if len(toolCalls) >= MaxToolCallsPerIteration {
				return fail(fmt.Errorf("tool calls exceed maximum of %d per iteration", MaxToolCallsPerIteration))
			}
			call := *chunk.ToolCall
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			toolCalls = append(toolCalls, call)
		}
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
			done = true
			break
		}
	}
	if !done {
		// A stream that closes early because its context ended is a failure.
		if err := modelCtx.Err(); err != nil {
			return fail(err)
		}
	}

	r.recordModelCall(span, providerName, req.Model, "success", start, inputTokens, outputTokens, nil)
	return text.String(), toolCalls, nil
}

func (r *Runtime) recordModelCall(span trace.Span, provider, model, status string, start time.Time, in, out int, err error) {
	r.opts.Metrics.RecordLLMRequest(provider, model, status, time.Since(start).Seconds(), in, out)
	if err != nil {
		r.opts.Tracer.RecordError(span, err)
	}
}

// applyApprovals checks each call against the approval policy. Denied calls
// get an error result in place; pending calls become approval requests.
// A nil entry in the returned slice means the call should run.
func (r *Runtime) applyApprovals(ctx context.Context, conversationID string, calls []models.ToolCall, em *emitter) ([]*models.ToolResult, []*ApprovalRequest, error) {
	results := make([]*models.ToolResult, len(calls))
	if r.approvals == nil {
		return results, nil, nil
	}

	var pending []*ApprovalRequest
	for i, call := range calls {
		decision, reason, err := r.approvals.Check(ctx, conversationID, call)
		if err != nil {
			return nil, nil, err
		}
		switch decision {
		case ApprovalDenied:
			res := ErrorResult(&ToolError{
				Type:     ToolErrorPermission,
				ToolName: call.Name,
				Message:  "tool denied by approval policy: " + reason,
			})
			results[i] = &models.ToolResult{ToolCallID: call.ID, Content: res.Content, IsError: true}
			em.emit(ToolActivity{CallID: call.ID, Name: call.Name, Phase: ToolDenied})
		case ApprovalPending:
			approvalReq, err := r.approvals.CreateRequest(ctx, conversationID, call, reason)
			if err != nil {
				return nil, nil, err
			}
			pending = append(pending, approvalReq)
			em.emit(ToolActivity{CallID: call.ID, Name: call.Name, Phase: ToolPending})
		}
	}
	return results, pending, nil
}

func (r *Runtime) logger() *slog.Logger {
	if r.opts.Logger != nil {
		return r.opts.Logger
	}
	return slog.Default()
}

// trimHistory keeps the newest limit turns. A limit of zero keeps all.
func trimHistory(history []models.Message, limit int) []models.Message {
	if limit <= 0 || len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

func buildCompletionMessages(history []models.Message, input models.Message) []CompletionMessage {
	messages := make([]CompletionMessage, 0, len(history)+1)
	for _, msg := range history {
		if msg.Role == models.RoleSystem {
			continue
		}
		messages = append(messages, CompletionMessage{
			Role:        string(msg.Role),
			Content:     msg.Content,
			ToolCalls:   msg.ToolCalls,
			ToolResults: msg.ToolResults,
		})
	}
	return append(messages, CompletionMessage{Role: string(models.RoleUser), Content: input.Content})
}
