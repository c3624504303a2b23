package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/agent/providers"
	"github.com/haasonsaas/tenantagent/internal/auth"
	"github.com/haasonsaas/tenantagent/internal/config"
	"github.com/haasonsaas/tenantagent/internal/datetime"
	"github.com/haasonsaas/tenantagent/internal/mcp"
	"github.com/haasonsaas/tenantagent/internal/observability"
	"github.com/haasonsaas/tenantagent/internal/ratelimit"
	"github.com/haasonsaas/tenantagent/internal/server"
	"github.com/haasonsaas/tenantagent/internal/sessions"
	"github.com/haasonsaas/tenantagent/internal/tokencipher"
	"github.com/haasonsaas/tenantagent/internal/tools/calendar"
	"github.com/haasonsaas/tenantagent/internal/tools/clock"
	"github.com/haasonsaas/tenantagent/internal/tools/contexttools"
	"github.com/haasonsaas/tenantagent/internal/tools/export"
	"github.com/haasonsaas/tenantagent/internal/tools/sheets"
	"github.com/haasonsaas/tenantagent/internal/tools/speech"
)

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tenantagent HTTP server",
		Long: `Start the HTTP server with the configured model provider and tools.

The server will:
1. Load configuration from the specified file (or tenantagent.yaml)
2. Open the conversation history store
3. Build the enabled tools and the remote MCP gateway
4. Serve /api/run, conversation history, approvals, /healthz and /metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  tenantagent serve

  # Start with custom config and debug logging
  tenantagent serve --config /etc/tenantagent/production.yaml --debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging (verbose output)")
	return cmd
}

// runServe loads the configuration, wires the application and serves until
// a shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}).Slog()
	slog.SetDefault(logger)

	logger.Info("starting tenantagent",
		"version", version,
		"commit", commit,
		"config", configPath,
		"llm_provider", cfg.LLM.DefaultProvider,
		"sessions_backend", cfg.Sessions.Backend,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if !cfg.Observability.Metrics.Enabled {
		reg = nil
	}
	application, err := newApp(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	defer application.Close(logger)

	if err := application.server.ListenAndServe(ctx, cfg.Server); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("tenantagent stopped")
	return nil
}

// app is the wired process: runtime, HTTP server and the resources they own.
type app struct {
	runtime *agent.Runtime
	server  *server.Server
	closers []func(context.Context) error
}

// newApp wires every component from cfg. A nil registerer disables metrics.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close(logger)
		}
	}()

	var (
		metrics        *observability.Metrics
		metricsHandler http.Handler = http.NotFoundHandler()
	)
	if reg != nil {
		metrics = observability.NewMetrics(reg)
		metricsHandler = promhttp.Handler()
		if gatherer, isGatherer := reg.(prometheus.Gatherer); isGatherer {
			metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		}
	}

	tracing := cfg.Observability.Tracing
	traceCfg := observability.TraceConfig{
		ServiceName:    tracing.ServiceName,
		ServiceVersion: tracing.ServiceVersion,
		Environment:    tracing.Environment,
		SamplingRate:   tracing.SamplingRate,
		Attributes:     tracing.Attributes,
		EnableInsecure: tracing.Insecure,
	}
	if traceCfg.ServiceVersion == "" {
		traceCfg.ServiceVersion = version
	}
	if tracing.Enabled {
		traceCfg.Endpoint = tracing.Endpoint
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)
	a.closers = append(a.closers, shutdownTracer)

	history, err := sessions.NewStore(ctx, cfg.Sessions)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}
	if sqlStore, isSQL := history.(*sessions.SQLStore); isSQL && metrics != nil {
		history = sqlStore.WithObserver(metrics)
	}
	a.closers = append(a.closers, func(context.Context) error { return history.Close() })

	provider, err := providers.FromConfig(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("llm provider: %w", err)
	}

	tools, err := buildTools(ctx, cfg, logger, metrics)
	if err != nil {
		return nil, err
	}
	registry := agent.NewToolRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", tool.Name(), err)
		}
	}

	opts := agent.RuntimeOptionsFromConfig(cfg)
	opts.Logger = logger
	opts.Metrics = metrics
	opts.Tracer = tracer
	opts.Instructions.Locale = datetime.ResolveLocale(cfg.DateTime.Locale).Name()
	if cfg.Sheets.Enabled {
		opts.Instructions.Sectors = sheets.SectorNames()
	}

	rt := agent.NewRuntime(provider, registry, history, opts)
	rt.SetApprovalChecker(agent.NewApprovalChecker(agent.ApprovalPolicyFromConfig(cfg.Agent.Approval), nil))
	if len(cfg.MCP.Servers) > 0 {
		gateway, err := mcp.NewGateway(mcp.ServerConfigsFromConfig(cfg.MCP), mcp.WithLogger(logger), mcp.WithMetrics(metrics))
		if err != nil {
			return nil, fmt.Errorf("mcp gateway: %w", err)
		}
		rt.SetGateway(gateway)
	}
	a.runtime = rt

	a.server, err = server.New(server.Options{
		Runtime:        rt,
		Logger:         logger,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		MetricsPath:    cfg.Observability.Metrics.Path,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		RunLimiter: ratelimit.NewLimiter(ratelimit.Config{
			Enabled:           cfg.Server.RateLimit.Enabled,
			RequestsPerSecond: cfg.Server.RateLimit.RequestsPerSecond,
			BurstSize:         cfg.Server.RateLimit.Burst,
		}),
	})
	if err != nil {
		return nil, err
	}

	logger.Info("tools registered", "tools", registry.Names(), "mcp_servers", len(cfg.MCP.Servers))
	ok = true
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			logger.Warn("shutdown step failed", "error", err)
		}
	}
	a.closers = nil
}

// buildTools assembles the local tools. The context, clock and export tools
// are always present; sheets, calendar and speech follow their enabled flags.
func buildTools(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) ([]agent.Tool, error) {
	// A missing or malformed key is reported by get_encrypted_token at call
	// time instead of refusing to start.
	var encrypter contexttools.Encrypter
	if c, err := tokencipher.FromConfig(cfg.Crypto); err != nil {
		logger.Warn("token cipher unavailable; get_encrypted_token will fail", "error", err)
	} else {
		encrypter = c
	}

	location, ok := datetime.ResolveLocation(cfg.DateTime.TimeZone)
	if !ok {
		logger.Warn("unknown time zone, using UTC", "time_zone", cfg.DateTime.TimeZone)
	}
	locale := datetime.ResolveLocale(cfg.DateTime.Locale)

	tools := contexttools.Tools(encrypter)
	tools = append(tools,
		clock.New(location, locale, nil),
		export.New(export.Options{
			MaxLinesPerPage: cfg.Export.MaxLinesPerPage,
			WrapWidth:       cfg.Export.WrapWidth,
		}),
	)

	if cfg.Sheets.Enabled {
		backend, err := sheets.NewGoogleBackend(ctx, auth.GoogleCredentials{
			Field:    "sheets",
			File:     cfg.Sheets.CredentialsFile,
			JSON:     cfg.Sheets.CredentialsJSON,
			Endpoint: cfg.Sheets.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("sheets: %w", err)
		}
		datasets, err := sheets.DatasetsFromConfig(cfg.Sheets.Datasets)
		if err != nil {
			return nil, err
		}
		svc, err := sheets.NewService(sheets.Options{
			Backend:  backend,
			Datasets: datasets,
			CacheTTL: cfg.Sheets.CacheTTL,
			Metrics:  metrics,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		tools = append(tools, svc.Tools()...)
	}

	if cfg.Calendar.Enabled {
		client, err := calendar.NewGoogleClient(ctx, auth.GoogleCredentials{
			Field:    "calendar",
			File:     cfg.Calendar.CredentialsFile,
			JSON:     cfg.Calendar.CredentialsJSON,
			Endpoint: cfg.Calendar.Endpoint,
		}, cfg.Calendar.CalendarID)
		if err != nil {
			return nil, fmt.Errorf("calendar: %w", err)
		}
		calendarTools, err := calendar.Tools(calendar.Options{
			Client:     client,
			Location:   location,
			MaxResults: cfg.Calendar.MaxResults,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		tools = append(tools, calendarTools...)
	}

	if cfg.Speech.Enabled {
		client, err := speech.NewClient(cfg.Speech)
		if err != nil {
			return nil, err
		}
		speechTools, err := speech.Tools(speech.Options{
			Client:             client,
			TTSModel:           cfg.Speech.TTSModel,
			Voice:              cfg.Speech.Voice,
			TranscriptionModel: cfg.Speech.TranscriptionModel,
		})
		if err != nil {
			return nil, err
		}
		tools = append(tools, speechTools...)
	}

	return tools, nil
}
