package mcp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeServer is a minimal streamable HTTP MCP server.
type fakeServer struct {
	t         *testing.T
	sse       bool
	sessionID string
	tools     []MCPTool

	// failMethod answers this method with a JSON-RPC error.
	failMethod string

	mu       sync.Mutex
	methods  []string
	sessions []string
	deletes  int
	calls    []CallToolParams
}

func newFakeServer(t *testing.T, tools ...MCPTool) (*fakeServer, *httptest.Server) {
	t.Helper()
	f := &fakeServer{t: t, sessionID: "sess-1", tools: tools}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodDelete {
		f.mu.Lock()
		f.deletes++
		f.sessions = append(f.sessions, r.Header.Get(sessionHeader))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if accept := r.Header.Get("Accept"); accept != "application/json, text/event-stream" {
		f.t.Errorf("Accept = %q", accept)
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.sessions = append(f.sessions, r.Header.Get(sessionHeader))
	f.mu.Unlock()

	if req.ID == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID}
	if req.Method == f.failMethod {
		resp.Error = &JSONRPCError{Code: ErrCodeInternalError, Message: "forced failure"}
	} else {
		switch req.Method {
		case "initialize":
			w.Header().Set(sessionHeader, f.sessionID)
			resp.Result = mustJSON(f.t, InitializeResult{
				ProtocolVersion: ProtocolVersion,
				ServerInfo:      ServerInfo{Name: "fake", Version: "1.0.0"},
			})
		case "tools/list":
			tools := make([]*MCPTool, len(f.tools))
			for i := range f.tools {
				tools[i] = &f.tools[i]
			}
			resp.Result = mustJSON(f.t, ListToolsResult{Tools: tools})
		case "tools/call":
			var params CallToolParams
			_ = json.Unmarshal(req.Params, &params)
			f.mu.Lock()
			f.calls = append(f.calls, params)
			f.mu.Unlock()
			resp.Result = mustJSON(f.t, ToolCallResult{Content: []ToolResultContent{
				{Type: "text", Text: fmt.Sprintf("called %s with %s", params.Name, params.Arguments)},
			}})
		default:
			resp.Error = &JSONRPCError{Code: ErrCodeMethodNotFound, Message: "method not found"}
		}
	}

	if !f.sse {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "event: message\ndata: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\",\"params\":{}}\n\n")
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", mustJSON(f.t, resp))
}

func (f *fakeServer) snapshot() (methods, sessions []string, deletes int, calls []CallToolParams) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...),
		append([]string(nil), f.sessions...),
		f.deletes,
		append([]CallToolParams(nil), f.calls...)
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
