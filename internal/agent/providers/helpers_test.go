package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/pkg/models"
)

type stubTool struct {
	name   string
	schema string
}

func (s stubTool) Name() string        { return s.name }
func (s stubTool) Description() string { return "stub " + s.name }
func (s stubTool) Schema() json.RawMessage {
	return json.RawMessage(s.schema)
}
func (s stubTool) Execute(context.Context, agent.Invocation) (*agent.ToolResult, error) {
	return &agent.ToolResult{Content: "{}"}, nil
}

type collected struct {
	text      string
	toolCalls []models.ToolCall
	done      *agent.CompletionChunk
	err       error
}

func collect(t *testing.T, chunks <-chan *agent.CompletionChunk) collected {
	t.Helper()
	var (
		out  collected
		text strings.Builder
	)
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				out.text = text.String()
				return out
			}
			switch {
			case chunk.Error != nil:
				out.err = chunk.Error
			case chunk.Done:
				out.done = chunk
			case chunk.ToolCall != nil:
				out.toolCalls = append(out.toolCalls, *chunk.ToolCall)
			default:
				text.WriteString(chunk.Text)
			}
		case <-timeout:
			t.Fatal("timed out waiting for stream to close")
		}
	}
}

// writeSSE writes each event as "data: ..." with an optional event line.
func writeSSE(t *testing.T, w http.ResponseWriter, events [][2]string) {
	t.Helper()
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, ok := w.(http.Flusher)
	if !ok {
		t.Fatal("expected http.Flusher")
	}
	for _, event := range events {
		if event[0] != "" {
			fmt.Fprintf(w, "event: %s\n", event[0])
		}
		fmt.Fprintf(w, "data: %s\n\n", event[1])
		flusher.Flush()
	}
}
