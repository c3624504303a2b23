package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/tenantagent/internal/agent"
)

type fakeToolCaller struct {
	toolName string
	args     map[string]any
	calls    int
	result   *ToolCallResult
	err      error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	f.calls++
	f.toolName = toolName
	f.args = arguments
	return f.result, f.err
}

func TestSafeToolName(t *testing.T) {
	t.Run("sanitizes", func(t *testing.T) {
		used := make(map[string]struct{})
		if name := safeToolName("Google-Sheets", "append/row", used); name != "mcp_google_sheets_append_row" {
			t.Fatalf("name = %q", name)
		}
	})

	t.Run("deduplicates", func(t *testing.T) {
		used := make(map[string]struct{})
		first := safeToolName("a", "b-c", used)
		second := safeToolName("a_b", "c", used)
		if first == second {
			t.Fatalf("expected unique names, both %q", first)
		}
		if !strings.HasPrefix(second, first+"_") || len(second) != len(first)+9 {
			t.Errorf("second = %q, want %q plus hash suffix", second, first)
		}
	})

	t.Run("truncates", func(t *testing.T) {
		used := make(map[string]struct{})
		name := safeToolName("server", strings.Repeat("x", 100), used)
		if len(name) != maxToolNameLen {
			t.Fatalf("len = %d, want %d", len(name), maxToolNameLen)
		}
		if name[len(name)-9] != '_' {
			t.Errorf("expected hash suffix in %q", name)
		}
	})
}

func TestSanitizeToolPart(t *testing.T) {
	tests := map[string]string{
		"Sheets":      "sheets",
		"a--b":        "a_b",
		"  spaced  ":  "spaced",
		"ünïcode":     "n_code",
		"!!!":         "tool",
		"row.append2": "row_append2",
	}
	for in, want := range tests {
		if got := sanitizeToolPart(in); got != want {
			t.Errorf("sanitizeToolPart(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestToolBridgeExecute(t *testing.T) {
	caller := &fakeToolCaller{result: &ToolCallResult{Content: []ToolResultContent{
		{Type: "text", Text: "row added"},
		{Type: "text", Text: "3 rows total"},
	}}}
	bridge := NewToolBridge(caller, "sheets", &MCPTool{Name: "append_row"}, "mcp_sheets_append_row")

	params := json.RawMessage(`{"tenantId":"acme","encryptedToken":{"enc":"e","iv":"i","tag":"t"},"values":["a"]}`)
	result, err := bridge.Execute(context.Background(), agent.Invocation{
		Session: agent.NewSessionContext("acme", "raw-secret-token"),
		Params:  params,
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "row added\n3 rows total" || result.IsError {
		t.Errorf("result = %+v", result)
	}
	if caller.toolName != "append_row" || caller.args["tenantId"] != "acme" {
		t.Errorf("forwarded %s %v", caller.toolName, caller.args)
	}
}

func TestToolBridgeRefusesRawToken(t *testing.T) {
	tests := []struct {
		name   string
		params string
	}{
		{"top level", `{"token":"raw-secret-token"}`},
		{"embedded", `{"note":"Bearer raw-secret-token"}`},
		{"nested array", `{"items":[{"auth":["raw-secret-token"]}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			caller := &fakeToolCaller{}
			bridge := NewToolBridge(caller, "sheets", &MCPTool{Name: "append_row"}, "mcp_sheets_append_row")
			_, err := bridge.Execute(context.Background(), agent.Invocation{
				Session: agent.NewSessionContext("acme", "raw-secret-token"),
				Params:  json.RawMessage(tt.params),
			})
			toolErr, ok := agent.GetToolError(err)
			if !ok || toolErr.Type != agent.ToolErrorPermission {
				t.Fatalf("err = %v, want permission ToolError", err)
			}
			if strings.Contains(toolErr.Message, "raw-secret-token") {
				t.Error("error message must not echo the token")
			}
			if caller.calls != 0 {
				t.Error("remote tool must not be called")
			}
		})
	}
}

func TestToolBridgePropagatesFailures(t *testing.T) {
	caller := &fakeToolCaller{err: &JSONRPCError{Code: ErrCodeInternalError, Message: "sheet locked"}}
	bridge := NewToolBridge(caller, "sheets", &MCPTool{Name: "append_row"}, "mcp_sheets_append_row")
	_, err := bridge.Execute(context.Background(), agent.Invocation{Params: json.RawMessage(`{}`)})
	var rpcErr *JSONRPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want wrapped JSON-RPC error", err)
	}
	if !strings.Contains(err.Error(), "mcp:sheets.append_row") {
		t.Errorf("err = %v, want canonical tool name", err)
	}

	caller = &fakeToolCaller{result: &ToolCallResult{IsError: true, Content: []ToolResultContent{{Type: "text", Text: "bad range"}}}}
	bridge = NewToolBridge(caller, "sheets", &MCPTool{Name: "append_row"}, "mcp_sheets_append_row")
	result, err := bridge.Execute(context.Background(), agent.Invocation{})
	if err != nil || !result.IsError || result.Content != "bad range" {
		t.Errorf("result = %+v, err = %v", result, err)
	}
}

func TestToolBridgeMetadata(t *testing.T) {
	bridge := NewToolBridge(&fakeToolCaller{}, "sheets", &MCPTool{Name: "read", Description: " Reads rows "}, "mcp_sheets_read")
	if bridge.Description() != "Remote tool sheets.read: Reads rows" {
		t.Errorf("description = %q", bridge.Description())
	}
	if string(bridge.Schema()) != `{"type":"object"}` {
		t.Errorf("schema = %s", bridge.Schema())
	}
	withSchema := NewToolBridge(&fakeToolCaller{}, "s", &MCPTool{Name: "t", InputSchema: json.RawMessage(`{"type":"object","required":["a"]}`)}, "n")
	if !strings.Contains(string(withSchema.Schema()), "required") {
		t.Errorf("schema = %s", withSchema.Schema())
	}
}

func TestFormatToolCallResult(t *testing.T) {
	tests := []struct {
		name    string
		result  *ToolCallResult
		want    string
		wantErr bool
	}{
		{name: "nil", result: nil, want: ""},
		{name: "empty error", result: &ToolCallResult{IsError: true}, want: "", wantErr: true},
		{
			name:   "mixed content falls back to JSON",
			result: &ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: "a"}, {Type: "image", Data: "xx", MimeType: "image/png"}}},
			want:   `{"content":[{"type":"text","text":"a"},{"type":"image","data":"xx","mimeType":"image/png"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isErr := formatToolCallResult(tt.result)
			if got != tt.want || isErr != tt.wantErr {
				t.Errorf("got (%q, %v), want (%q, %v)", got, isErr, tt.want, tt.wantErr)
			}
		})
	}
}
