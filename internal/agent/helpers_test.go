package agent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/haasonsaas/tenantagent/pkg/models"
)

// testTool implements Tool for tests.
type testTool struct {
	name     string
	schema   json.RawMessage
	execFunc func(ctx context.Context, inv Invocation) (*ToolResult, error)
	calls    int32
}

func (m *testTool) Name() string        { return m.name }
func (m *testTool) Description() string { return "test tool " + m.name }
func (m *testTool) Schema() json.RawMessage {
	if m.schema == nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return m.schema
}
func (m *testTool) Execute(ctx context.Context, inv Invocation) (*ToolResult, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.execFunc == nil {
		return &ToolResult{Content: `{"ok":true}`}, nil
	}
	return m.execFunc(ctx, inv)
}

func (m *testTool) callCount() int {
	return int(atomic.LoadInt32(&m.calls))
}

// scriptedProvider replays one chunk script per Complete call.
type scriptedProvider struct {
	mu       sync.Mutex
	scripts  [][]*CompletionChunk
	requests []*CompletionRequest
	err      error

	// block, when set, keeps the stream open until ctx is done.
	block bool
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	clone := *req
	clone.Messages = append([]CompletionMessage(nil), req.Messages...)
	p.requests = append(p.requests, &clone)
	if p.err != nil {
		p.mu.Unlock()
		return nil, p.err
	}
	var script []*CompletionChunk
	if len(p.scripts) > 0 {
		script = p.scripts[0]
		p.scripts = p.scripts[1:]
	}
	block := p.block
	p.mu.Unlock()

	ch := make(chan *CompletionChunk)
	go func() {
		defer close(ch)
		for _, chunk := range script {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return []Model{{ID: "test-model"}} }
func (p *scriptedProvider) SupportsTools() bool { return true }

func (p *scriptedProvider) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func (p *scriptedProvider) request(i int) *CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requests[i]
}

func textScript(parts ...string) []*CompletionChunk {
	chunks := make([]*CompletionChunk, 0, len(parts)+1)
	for _, part := range parts {
		chunks = append(chunks, &CompletionChunk{Text: part})
	}
	return append(chunks, &CompletionChunk{Done: true})
}

func toolScript(text string, calls ...models.ToolCall) []*CompletionChunk {
	var chunks []*CompletionChunk
	if text != "" {
		chunks = append(chunks, &CompletionChunk{Text: text})
	}
	for i := range calls {
		call := calls[i]
		chunks = append(chunks, &CompletionChunk{ToolCall: &call})
	}
	return append(chunks, &CompletionChunk{Done: true})
}

// fakeGateway hands out leases and counts closes.
type fakeGateway struct {
	tools   []Tool
	err     error
	leases  int32
	closes  int32
	onClose func()
}

func (g *fakeGateway) Acquire(ctx context.Context) (ToolLease, error) {
	if g.err != nil {
		return nil, g.err
	}
	atomic.AddInt32(&g.leases, 1)
	return &fakeLease{gateway: g}, nil
}

func (g *fakeGateway) closeCount() int {
	return int(atomic.LoadInt32(&g.closes))
}

type fakeLease struct {
	gateway *fakeGateway
	once    sync.Once
}

func (l *fakeLease) Tools() []Tool {
	return l.gateway.tools
}

func (l *fakeLease) Close() error {
	l.once.Do(func() {
		atomic.AddInt32(&l.gateway.closes, 1)
		if l.gateway.onClose != nil {
			l.gateway.onClose()
		}
	})
	return nil
}

// drain collects every event of a run.
func drain(events <-chan Event) []Event {
	var out []Event
	for ev := range events {
		out = append(out, ev)
	}
	return out
}

func streamedText(events []Event) string {
	var text string
	for _, ev := range events {
		if chunk, ok := ev.(TextChunk); ok {
			text += chunk.Text
		}
	}
	return text
}

func streamError(events []Event) error {
	for _, ev := range events {
		if se, ok := ev.(StreamError); ok {
			if se.Err == nil {
				return errors.New("stream error without cause")
			}
			return se.Err
		}
	}
	return nil
}
