package mcp

import (
	"context"
	"encoding/json"
)

// Transport carries JSON-RPC messages to one MCP server.
type Transport interface {
	// Connect prepares the transport. It does not run initialize.
	Connect(ctx context.Context) error

	// Close ends the server session.
	Close() error

	// Call sends a request and waits for its response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification (no response expected).
	Notify(ctx context.Context, method string, params any) error

	Connected() bool
}

// NewTransport creates the streamable HTTP transport for cfg.
func NewTransport(cfg *ServerConfig) Transport {
	return NewHTTPTransport(cfg)
}
