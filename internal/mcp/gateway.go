package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/observability"
)

var (
	_ agent.ToolGateway = (*Gateway)(nil)
	_ agent.ToolLease   = (*Lease)(nil)
)

// Gateway connects the configured remote tool servers for one run at a
// time. It implements agent.ToolGateway.
type Gateway struct {
	servers []ServerConfig
	logger  *slog.Logger
	metrics *observability.Metrics

	// newTransport is replaced in tests.
	newTransport func(*ServerConfig) Transport
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithMetrics records connection attempts on m.
func WithMetrics(m *observability.Metrics) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// NewGateway validates servers and returns a gateway for them.
func NewGateway(servers []ServerConfig, opts ...GatewayOption) (*Gateway, error) {
	if len(servers) == 0 {
		return nil, errors.New("at least one remote tool server is required")
	}
	for i := range servers {
		if err := servers[i].Validate(); err != nil {
			return nil, err
		}
	}
	g := &Gateway{
		servers:      append([]ServerConfig(nil), servers...),
		logger:       slog.Default(),
		newTransport: NewTransport,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "mcp_gateway")
	return g, nil
}

// Acquire connects every server concurrently. If any server fails the
// connections already made are closed and the first error is returned.
func (g *Gateway) Acquire(ctx context.Context) (agent.ToolLease, error) {
	clients := make([]*Client, len(g.servers))
	errs := make([]error, len(g.servers))

	var wg sync.WaitGroup
	for i := range g.servers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cfg := &g.servers[i]
			client := newClientWithTransport(cfg, g.newTransport(cfg), g.logger)
			if err := client.Connect(ctx); err != nil {
				errs[i] = fmt.Errorf("connect %s: %w", cfg.ID, err)
				g.recordConnect(cfg.ID, "error")
				return
			}
			g.recordConnect(cfg.ID, "success")
			clients[i] = client
		}(i)
	}
	wg.Wait()

	lease := &Lease{logger: g.logger}
	for _, client := range clients {
		if client != nil {
			lease.clients = append(lease.clients, client)
		}
	}

	if err := errors.Join(errs...); err != nil {
		if closeErr := lease.Close(); closeErr != nil {
			g.logger.Warn("failed to close partial remote tool connections", "error", closeErr)
		}
		return nil, err
	}

	lease.tools = BridgeTools(lease.clients)
	g.logger.Debug("remote tools acquired", "servers", len(lease.clients), "tools", len(lease.tools))
	return lease, nil
}

func (g *Gateway) recordConnect(server, status string) {
	if g.metrics != nil {
		g.metrics.RecordGatewayConnect(server, status)
	}
}

// Lease holds the connections of one run. It implements agent.ToolLease.
type Lease struct {
	logger  *slog.Logger
	clients []*Client
	tools   []agent.Tool

	once     sync.Once
	closeErr error
}

// Tools returns the bridged tools of every connected server.
func (l *Lease) Tools() []agent.Tool {
	return append([]agent.Tool(nil), l.tools...)
}

// Close ends every server session. Later calls return the first result.
func (l *Lease) Close() error {
	l.once.Do(func() {
		var errs []error
		for _, client := range l.clients {
			if err := client.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", client.Config().ID, err))
			}
		}
		l.closeErr = errors.Join(errs...)
	})
	return l.closeErr
}
