package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool parameter limits to prevent resource exhaustion
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (10MB).
	MaxToolParamsSize = 10 << 20
)

// ToolRegistry holds the tools available to a run. Names are unique and
// each schema is compiled once at registration.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool
	order []string
}

type registeredTool struct {
	tool   Tool
	schema *jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*registeredTool),
	}
}

// Register adds a tool. It fails with ErrDuplicateTool when the name is
// taken and with a compile error when the schema is not valid JSON Schema.
func (r *ToolRegistry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool is nil")
	}
	name := tool.Name()
	if strings.TrimSpace(name) == "" {
		return errors.New("tool name is required")
	}
	if len(name) > MaxToolNameLength {
		return fmt.Errorf("tool name exceeds maximum length of %d characters", MaxToolNameLength)
	}

	var compiled *jsonschema.Schema
	if schema := tool.Schema(); len(schema) > 0 {
		var err error
		compiled, err = jsonschema.CompileString("tool_"+name+".schema.json", string(schema))
		if err != nil {
			return fmt.Errorf("compile schema for tool %q: %w", name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}
	r.tools[name] = &registeredTool{tool: tool, schema: compiled}
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers tools and panics on error. Intended for
// process startup.
func (r *ToolRegistry) MustRegister(tools ...Tool) {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[name]; !ok {
		return
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.tools[name]
	if !ok {
		return nil, false
	}
	return entry.tool, true
}

// Tools returns the registered tools in registration order.
func (r *ToolRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name].tool)
	}
	return tools
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Len returns the number of registered tools.
func (r *ToolRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Extend returns a new registry holding this registry's tools plus extra.
// Compiled schemas are shared and the receiver is not modified. A tool that
// cannot be registered is left out; the returned registry is always usable
// and the error joins every rejection.
func (r *ToolRegistry) Extend(extra ...Tool) (*ToolRegistry, error) {
	r.mu.RLock()
	clone := &ToolRegistry{
		tools: make(map[string]*registeredTool, len(r.tools)+len(extra)),
		order: append([]string(nil), r.order...),
	}
	for name, entry := range r.tools {
		clone.tools[name] = entry
	}
	r.mu.RUnlock()

	var errs []error
	for _, tool := range extra {
		if err := clone.Register(tool); err != nil {
			errs = append(errs, err)
		}
	}
	return clone, errors.Join(errs...)
}

// Execute runs the named tool. Every failure, including unknown tools,
// schema violations and panics, comes back as a failed ToolResult.
func (r *ToolRegistry) Execute(ctx context.Context, name string, inv Invocation) *ToolResult {
	if len(name) > MaxToolNameLength {
		return ErrorResult(&ToolError{
			Type:    ToolErrorInvalidInput,
			Message: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		})
	}
	if len(inv.Params) > MaxToolParamsSize {
		return ErrorResult(&ToolError{
			Type:     ToolErrorInvalidInput,
			ToolName: name,
			Message:  fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
		})
	}

	r.mu.RLock()
	entry, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ErrorResult(&ToolError{
			Type:     ToolErrorNotFound,
			ToolName: name,
			Message:  "tool not found: " + name,
			Cause:    ErrToolNotFound,
		})
	}

	if err := validateParams(entry.schema, inv.Params); err != nil {
		return ErrorResult(&ToolError{
			Type:     ToolErrorInvalidInput,
			ToolName: name,
			Message:  err.Error(),
			Cause:    err,
		})
	}

	result, err := safeExecute(ctx, entry.tool, inv)
	if err != nil {
		return ErrorResult(NewToolError(name, err).WithToolCallID(inv.CallID))
	}
	if result == nil {
		return &ToolResult{}
	}
	return result
}

// ToolValidationError reports parameters that do not satisfy a tool schema.
type ToolValidationError struct {
	Detail string
	Cause  error
}

func (e *ToolValidationError) Error() string {
	return "invalid parameters: " + e.Detail
}

func (e *ToolValidationError) Unwrap() error {
	return e.Cause
}

func validateParams(schema *jsonschema.Schema, params json.RawMessage) error {
	if schema == nil {
		return nil
	}
	var decoded any
	if len(params) == 0 || string(params) == "null" {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(params, &decoded); err != nil {
		return &ToolValidationError{Detail: "parameters are not valid JSON", Cause: err}
	}
	if err := schema.Validate(decoded); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ToolValidationError{Detail: validationDetail(verr), Cause: err}
		}
		return &ToolValidationError{Detail: err.Error(), Cause: err}
	}
	return nil
}

// validationDetail flattens the leaf causes into "path: message" pairs.
func validationDetail(verr *jsonschema.ValidationError) string {
	var parts []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			parts = append(parts, loc+": "+e.Message)
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return strings.Join(parts, "; ")
}

func safeExecute(ctx context.Context, tool Tool, inv Invocation) (result *ToolResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = &ToolError{
				Type:     ToolErrorPanic,
				ToolName: tool.Name(),
				Message:  fmt.Sprintf("tool panicked: %v", rec),
				Cause:    fmt.Errorf("%w: %v\n%s", ErrToolPanic, rec, debug.Stack()),
			}
		}
	}()
	return tool.Execute(ctx, inv)
}
