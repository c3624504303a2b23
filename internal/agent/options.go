package agent

import (
	"log/slog"
	"time"

	"github.com/haasonsaas/tenantagent/internal/config"
	"github.com/haasonsaas/tenantagent/internal/observability"
)

// RuntimeOptions configures the run loop.
type RuntimeOptions struct {
	// MaxIterations limits model calls per run.
	MaxIterations int

	// HistoryLimit caps how many prior turns are sent to the model
	// (0 = all). Stored history is never trimmed by this setting.
	HistoryLimit int

	// Model overrides the provider default model when set.
	Model string

	// MaxTokens limits each model response.
	MaxTokens int

	// ModelTimeout bounds a single model call including its stream.
	ModelTimeout time.Duration

	// GatewayTimeout bounds acquiring remote tools for a run.
	GatewayTimeout time.Duration

	// ToolExec configures local and remote tool execution.
	ToolExec ToolExecConfig

	// Instructions feeds the per-run system prompt.
	Instructions InstructionConfig

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Tracer  *observability.Tracer
}

// DefaultRuntimeOptions returns the baseline runtime options.
func DefaultRuntimeOptions() RuntimeOptions {
	return RuntimeOptions{
		MaxIterations:  8,
		MaxTokens:      4096,
		ModelTimeout:   2 * time.Minute,
		GatewayTimeout: 10 * time.Second,
		ToolExec:       DefaultToolExecConfig(),
		Instructions:   DefaultInstructionConfig(),
		Logger:         slog.Default(),
	}
}

// RuntimeOptionsFromConfig maps the agent and datetime config sections onto
// runtime options. Zero values keep the defaults.
func RuntimeOptionsFromConfig(cfg *config.Config) RuntimeOptions {
	opts := DefaultRuntimeOptions()
	if cfg == nil {
		return opts
	}
	agentCfg := cfg.Agent
	override := RuntimeOptions{
		MaxIterations:  agentCfg.MaxIterations,
		HistoryLimit:   agentCfg.HistoryLimit,
		MaxTokens:      agentCfg.MaxTokens,
		ModelTimeout:   agentCfg.ModelTimeout,
		GatewayTimeout: agentCfg.GatewayTimeout,
		ToolExec: ToolExecConfig{
			Concurrency:    agentCfg.MaxConcurrentTools,
			PerToolTimeout: agentCfg.ToolTimeout,
			MaxAttempts:    agentCfg.ToolRetries + 1,
		},
	}
	if _, provider := cfg.LLM.Provider(); provider.DefaultModel != "" {
		override.Model = provider.DefaultModel
	}
	opts = mergeRuntimeOptions(opts, override)

	opts.Instructions.Persona = agentCfg.Persona
	if loc, err := time.LoadLocation(cfg.DateTime.TimeZone); err == nil && cfg.DateTime.TimeZone != "" {
		opts.Instructions.Location = loc
	}
	if cfg.DateTime.Locale != "" {
		opts.Instructions.Locale = cfg.DateTime.Locale
	}
	return opts
}

func mergeRuntimeOptions(base RuntimeOptions, override RuntimeOptions) RuntimeOptions {
	merged := base
	if override.MaxIterations > 0 {
		merged.MaxIterations = override.MaxIterations
	}
	if override.HistoryLimit > 0 {
		merged.HistoryLimit = override.HistoryLimit
	}
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.MaxTokens > 0 {
		merged.MaxTokens = override.MaxTokens
	}
	if override.ModelTimeout > 0 {
		merged.ModelTimeout = override.ModelTimeout
	}
	if override.GatewayTimeout > 0 {
		merged.GatewayTimeout = override.GatewayTimeout
	}
	if override.ToolExec.Concurrency > 0 {
		merged.ToolExec.Concurrency = override.ToolExec.Concurrency
	}
	if override.ToolExec.PerToolTimeout > 0 {
		merged.ToolExec.PerToolTimeout = override.ToolExec.PerToolTimeout
	}
	if override.ToolExec.MaxAttempts > 0 {
		merged.ToolExec.MaxAttempts = override.ToolExec.MaxAttempts
	}
	if override.ToolExec.RetryBackoff > 0 {
		merged.ToolExec.RetryBackoff = override.ToolExec.RetryBackoff
	}
	if override.Instructions.Persona != "" {
		merged.Instructions.Persona = override.Instructions.Persona
	}
	if override.Instructions.Location != nil {
		merged.Instructions.Location = override.Instructions.Location
	}
	if override.Instructions.Locale != "" {
		merged.Instructions.Locale = override.Instructions.Locale
	}
	if len(override.Instructions.Sectors) > 0 {
		merged.Instructions.Sectors = append([]string(nil), override.Instructions.Sectors...)
	}
	if override.Instructions.Now != nil {
		merged.Instructions.Now = override.Instructions.Now
	}
	if override.Logger != nil {
		merged.Logger = override.Logger
	}
	if override.Metrics != nil {
		merged.Metrics = override.Metrics
	}
	if override.Tracer != nil {
		merged.Tracer = override.Tracer
	}
	return merged
}
