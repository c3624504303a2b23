package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the main configuration structure for tenantagent.
type Config struct {
	Version       int                 `yaml:"version"`
	Server        ServerConfig        `yaml:"server"`
	LLM           LLMConfig           `yaml:"llm"`
	Crypto        CryptoConfig        `yaml:"crypto"`
	Agent         AgentConfig         `yaml:"agent"`
	Sessions      SessionsConfig      `yaml:"sessions"`
	Sheets        SheetsConfig        `yaml:"sheets"`
	Calendar      CalendarConfig      `yaml:"calendar"`
	DateTime      DateTimeConfig      `yaml:"datetime"`
	Export        ExportConfig        `yaml:"export"`
	Speech        SpeechConfig        `yaml:"speech"`
	MCP           MCPConfig           `yaml:"mcp"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	Host            string          `yaml:"host"`
	HTTPPort        int             `yaml:"http_port"`
	ReadTimeout     time.Duration   `yaml:"read_timeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64           `yaml:"max_body_bytes"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles runs per tenant with a token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.HTTPPort)
}

// CryptoConfig holds the shared token key. The key is base64 text that must
// decode to 32 bytes; it is checked when the cipher is built.
type CryptoConfig struct {
	TokenKey string `yaml:"token_key"`
}

// AgentConfig controls the run loop.
type AgentConfig struct {
	Persona            string         `yaml:"persona"`
	MaxIterations      int            `yaml:"max_iterations"`
	HistoryLimit       int            `yaml:"history_limit"`
	MaxTokens          int            `yaml:"max_tokens"`
	ModelTimeout       time.Duration  `yaml:"model_timeout"`
	ToolTimeout        time.Duration  `yaml:"tool_timeout"`
	GatewayTimeout     time.Duration  `yaml:"gateway_timeout"`
	MaxConcurrentTools int            `yaml:"max_concurrent_tools"`
	ToolRetries        int            `yaml:"tool_retries"`
	Approval           ApprovalConfig `yaml:"approval"`
}

// ApprovalConfig is the tool approval policy. Patterns support exact names,
// "*", "prefix*" and "*suffix".
type ApprovalConfig struct {
	Allowlist       []string      `yaml:"allowlist"`
	Denylist        []string      `yaml:"denylist"`
	RequireApproval []string      `yaml:"require_approval"`
	DefaultDecision string        `yaml:"default_decision"` // allowed | pending | denied
	RequestTTL      time.Duration `yaml:"request_ttl"`
}

// SessionsConfig selects the conversation history backend.
type SessionsConfig struct {
	Backend         string        `yaml:"backend"` // memory | postgres | sqlite
	DatabaseURL     string        `yaml:"database_url"`
	SQLitePath      string        `yaml:"sqlite_path"`
	MaxConnections  int           `yaml:"max_connections"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, merges, defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	applyAgentDefaults(&cfg.Agent)
	if cfg.Sessions.Backend == "" {
		cfg.Sessions.Backend = "memory"
	}
	if cfg.Sessions.MaxConnections == 0 {
		cfg.Sessions.MaxConnections = 10
	}
	if cfg.Sessions.ConnMaxLifetime == 0 {
		cfg.Sessions.ConnMaxLifetime = 5 * time.Minute
	}
	applyToolDefaults(cfg)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	applyObservabilityDefaults(&cfg.Observability)
}

func applyAgentDefaults(a *AgentConfig) {
	if a.MaxIterations == 0 {
		a.MaxIterations = 8
	}
	if a.MaxTokens == 0 {
		a.MaxTokens = 4096
	}
	if a.ModelTimeout == 0 {
		a.ModelTimeout = 2 * time.Minute
	}
	if a.ToolTimeout == 0 {
		a.ToolTimeout = 30 * time.Second
	}
	if a.GatewayTimeout == 0 {
		a.GatewayTimeout = 10 * time.Second
	}
	if a.MaxConcurrentTools == 0 {
		a.MaxConcurrentTools = 4
	}
	if a.Approval.DefaultDecision == "" {
		a.Approval.DefaultDecision = "allowed"
	}
	if a.Approval.RequestTTL == 0 {
		a.Approval.RequestTTL = time.Hour
	}
}

// Validate reports every configuration issue at once.
func (c *Config) Validate() error {
	var issues []string

	if err := ValidateVersion(c.Version); err != nil {
		issues = append(issues, err.Error())
	}
	if c.Server.HTTPPort < 0 || c.Server.HTTPPort > 65535 {
		issues = append(issues, fmt.Sprintf("server.http_port %d is out of range", c.Server.HTTPPort))
	}
	if rl := c.Server.RateLimit; rl.Enabled && (rl.RequestsPerSecond <= 0 || rl.Burst < 0) {
		issues = append(issues, "server.rate_limit requires requests_per_second > 0 and burst >= 0")
	}
	issues = append(issues, c.LLM.validate()...)
	issues = append(issues, c.Agent.validate()...)

	switch strings.ToLower(c.Sessions.Backend) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Sessions.DatabaseURL) == "" {
			issues = append(issues, "sessions.database_url is required for the postgres backend")
		}
	case "sqlite":
		if strings.TrimSpace(c.Sessions.SQLitePath) == "" {
			issues = append(issues, "sessions.sqlite_path is required for the sqlite backend")
		}
	default:
		issues = append(issues, fmt.Sprintf("sessions.backend %q must be memory, postgres or sqlite", c.Sessions.Backend))
	}

	issues = append(issues, c.validateTools()...)
	issues = append(issues, c.MCP.validate()...)

	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		issues = append(issues, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}
	if c.Observability.Tracing.SamplingRate < 0 || c.Observability.Tracing.SamplingRate > 1 {
		issues = append(issues, "observability.tracing.sampling_rate must be between 0 and 1")
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

func (a AgentConfig) validate() []string {
	var issues []string
	if a.MaxIterations < 1 {
		issues = append(issues, "agent.max_iterations must be at least 1")
	}
	if a.HistoryLimit < 0 {
		issues = append(issues, "agent.history_limit must not be negative")
	}
	if a.ModelTimeout < 0 || a.ToolTimeout < 0 || a.GatewayTimeout < 0 {
		issues = append(issues, "agent timeouts must not be negative")
	}
	if a.MaxConcurrentTools < 1 {
		issues = append(issues, "agent.max_concurrent_tools must be at least 1")
	}
	switch a.Approval.DefaultDecision {
	case "allowed", "pending", "denied":
	default:
		issues = append(issues, fmt.Sprintf("agent.approval.default_decision %q must be allowed, pending or denied", a.Approval.DefaultDecision))
	}
	return issues
}

// ValidationError aggregates configuration issues.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "invalid config"
	}
	return "invalid config: " + strings.Join(e.Issues, "; ")
}
