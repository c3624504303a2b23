package agent

import "context"

// ToolGateway supplies per-run remote tools. Each run acquires a lease and
// closes it when the run ends, whatever the outcome.
type ToolGateway interface {
	Acquire(ctx context.Context) (ToolLease, error)
}

// ToolLease holds the connections behind a set of remote tools.
type ToolLease interface {
	Tools() []Tool

	// Close releases the connections. It is safe to call more than once.
	Close() error
}
