package observability

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger provides structured logging with request correlation and redaction
// of sensitive data.
//
// Usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:  "info",
//	    Format: "json",
//	})
//	logger.Info(ctx, "run started", "conversation_id", "c-1")
type Logger struct {
	logger   *slog.Logger
	config   LogConfig
	redactor *Redactor
}

// LogConfig configures the logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format specifies output format: "json" or "text"
	Format string

	// Output is the writer for log output (defaults to os.Stdout)
	Output io.Writer

	// AddSource includes file and line number in log records
	AddSource bool

	// RedactPatterns are additional regex patterns for sensitive data redaction
	RedactPatterns []string
}

// ContextKey is the type for context keys used in logging.
type ContextKey string

const (
	RequestIDKey      ContextKey = "request_id"
	ConversationIDKey ContextKey = "conversation_id"
	TenantIDKey       ContextKey = "tenant_id"
	RunIDKey          ContextKey = "run_id"
	ToolCallIDKey     ContextKey = "tool_call_id"
)

var contextKeys = []ContextKey{RequestIDKey, ConversationIDKey, TenantIDKey, RunIDKey, ToolCallIDKey}

// DefaultRedactPatterns contains regex patterns for common sensitive data.
var DefaultRedactPatterns = []string{
	// API keys and tokens
	`(?i)(api[_-]?key|apikey)[\s:=]+["\']?([a-zA-Z0-9_\-]{16,})["\']?`,
	`(?i)(bearer|token)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["\']?([^\s"']{8,})["\']?`,

	// Anthropic API keys
	`sk-ant-[a-zA-Z0-9_-]{95,}`,

	// OpenAI API keys
	`sk-[a-zA-Z0-9]{48,}`,

	// JWT tokens
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,

	// base64 key material (32 raw bytes encode to 44 chars)
	`(?i)(token_key|key)[\s:=]+["\']?([A-Za-z0-9+/]{43}=)["\']?`,

	// Generic hex secrets (32+ chars)
	`(?i)(secret|key|token)[\s:=]+["\']?([a-fA-F0-9]{32,})["\']?`,
}

var sensitiveKeys = map[string]bool{
	"password":         true,
	"passwd":           true,
	"secret":           true,
	"token":            true,
	"api_key":          true,
	"apikey":           true,
	"private_key":      true,
	"privatekey":       true,
	"auth":             true,
	"authorization":    true,
	"app_auth_token":   true,
	"appauthtoken":     true,
	"x_app_auth_token": true,
	"token_key":        true,
}

// Redactor masks secrets in strings, maps and log attributes.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles DefaultRedactPatterns plus extra. Invalid patterns
// are skipped.
func NewRedactor(extra ...string) *Redactor {
	all := append(append([]string{}, DefaultRedactPatterns...), extra...)
	patterns := make([]*regexp.Regexp, 0, len(all))
	for _, pattern := range all {
		if re, err := regexp.Compile(pattern); err == nil {
			patterns = append(patterns, re)
		}
	}
	return &Redactor{patterns: patterns}
}

// String applies all redaction patterns to s.
func (r *Redactor) String(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// IsSensitiveKey reports whether a field name should never be logged.
func IsSensitiveKey(key string) bool {
	return sensitiveKeys[strings.ToLower(strings.ReplaceAll(key, "-", "_"))]
}

// Value redacts a single value.
func (r *Redactor) Value(v any) any {
	switch val := v.(type) {
	case string:
		return r.String(val)
	case error:
		return r.String(val.Error())
	case []byte:
		return r.String(string(val))
	case map[string]any:
		return r.Map(val)
	case map[string]string:
		m := make(map[string]any, len(val))
		for k, v := range val {
			m[k] = v
		}
		return r.Map(m)
	case slog.LogValuer, int, int64, float64, bool:
		return v
	default:
		if b, err := json.Marshal(v); err == nil {
			return r.String(string(b))
		}
		return v
	}
}

// Map redacts sensitive keys and values in m.
func (r *Redactor) Map(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			result[k] = "[REDACTED]"
		} else {
			result[k] = r.Value(v)
		}
	}
	return result
}

// NewLogger creates a structured logger. Output defaults to os.Stdout,
// level to info and format to json.
func NewLogger(config LogConfig) *Logger {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Level == "" {
		config.Level = "info"
	}
	if config.Format == "" {
		config.Format = "json"
	}

	opts := &slog.HandlerOptions{
		Level:     LogLevelFromString(config.Level),
		AddSource: config.AddSource,
	}
	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(config.Output, opts)
	} else {
		handler = slog.NewTextHandler(config.Output, opts)
	}

	redactor := NewRedactor(config.RedactPatterns...)
	return &Logger{
		logger:   slog.New(NewRedactingHandler(handler, redactor)),
		config:   config,
		redactor: redactor,
	}
}

// Slog returns the underlying *slog.Logger. Records written through it are
// still redacted and carry context ids when logged with a context.
func (l *Logger) Slog() *slog.Logger {
	return l.logger
}

func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs an error-level message. Errors passed as args are redacted.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if ctx == nil {
		ctx = context.Background()
	}
	l.logger.Log(ctx, level, msg, args...)
}

// WithFields returns a new logger with the given fields added to all records.
func (l *Logger) WithFields(args ...any) *Logger {
	return &Logger{
		logger:   l.logger.With(args...),
		config:   l.config,
		redactor: l.redactor,
	}
}

// RedactingHandler wraps another slog.Handler. It redacts message text and
// attribute values and adds the correlation ids found in the record context.
type RedactingHandler struct {
	next     slog.Handler
	redactor *Redactor
}

// NewRedactingHandler wraps next. A nil redactor uses the default patterns.
func NewRedactingHandler(next slog.Handler, redactor *Redactor) *RedactingHandler {
	if redactor == nil {
		redactor = NewRedactor()
	}
	return &RedactingHandler{next: next, redactor: redactor}
}

func (h *RedactingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *RedactingHandler) Handle(ctx context.Context, record slog.Record) error {
	out := slog.NewRecord(record.Time, record.Level, h.redactor.String(record.Message), record.PC)
	if ctx != nil {
		for _, key := range contextKeys {
			if value, ok := ctx.Value(key).(string); ok && value != "" {
				out.AddAttrs(slog.String(string(key), value))
			}
		}
	}
	record.Attrs(func(attr slog.Attr) bool {
		out.AddAttrs(h.redactAttr(attr))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	redacted := make([]slog.Attr, len(attrs))
	for i, attr := range attrs {
		redacted[i] = h.redactAttr(attr)
	}
	return &RedactingHandler{next: h.next.WithAttrs(redacted), redactor: h.redactor}
}

func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{next: h.next.WithGroup(name), redactor: h.redactor}
}

func (h *RedactingHandler) redactAttr(attr slog.Attr) slog.Attr {
	if IsSensitiveKey(attr.Key) {
		return slog.String(attr.Key, "[REDACTED]")
	}
	value := attr.Value.Resolve()
	switch value.Kind() {
	case slog.KindString:
		return slog.String(attr.Key, h.redactor.String(value.String()))
	case slog.KindGroup:
		group := value.Group()
		redacted := make([]any, len(group))
		for i, inner := range group {
			redacted[i] = h.redactAttr(inner)
		}
		return slog.Group(attr.Key, redacted...)
	case slog.KindAny:
		return slog.Any(attr.Key, h.redactor.Value(value.Any()))
	default:
		return slog.Attr{Key: attr.Key, Value: value}
	}
}

// AddRequestID adds a request ID to the context.
func AddRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// AddConversationID adds a conversation ID to the context.
func AddConversationID(ctx context.Context, conversationID string) context.Context {
	return context.WithValue(ctx, ConversationIDKey, conversationID)
}

// AddTenantID adds a tenant ID to the context.
func AddTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// AddRunID adds a run ID to the context.
func AddRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// AddToolCallID adds a tool call ID to the context.
func AddToolCallID(ctx context.Context, toolCallID string) context.Context {
	return context.WithValue(ctx, ToolCallIDKey, toolCallID)
}

func stringFromContext(ctx context.Context, key ContextKey) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(key).(string); ok {
		return id
	}
	return ""
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string { return stringFromContext(ctx, RequestIDKey) }

// GetConversationID retrieves the conversation ID from the context.
func GetConversationID(ctx context.Context) string {
	return stringFromContext(ctx, ConversationIDKey)
}

// GetRunID retrieves the run ID from the context.
func GetRunID(ctx context.Context) string { return stringFromContext(ctx, RunIDKey) }

// GetToolCallID retrieves the tool call ID from the context.
func GetToolCallID(ctx context.Context) string { return stringFromContext(ctx, ToolCallIDKey) }

// LogLevelFromString converts a string to a slog.Level.
// Returns LevelInfo if the string is not recognized.
func LogLevelFromString(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
