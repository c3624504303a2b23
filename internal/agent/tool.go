package agent

import (
	"context"
	"encoding/json"
	"fmt"
)

// Tool is a capability the model can call.
//
//	type Echo struct{}
//
//	func (Echo) Name() string            { return "echo" }
//	func (Echo) Description() string     { return "Echoes its input" }
//	func (Echo) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
//	func (Echo) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
//	    return &agent.ToolResult{Content: string(inv.Params)}, nil
//	}
type Tool interface {
	// Name is unique within a registry and must be a valid function name.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema is the JSON Schema of the parameters. Parameters are
	// validated against it before Execute runs.
	Schema() json.RawMessage

	// Execute runs the tool. A returned error is converted into a failed
	// ToolResult; it never aborts the run.
	Execute(ctx context.Context, inv Invocation) (*ToolResult, error)
}

// NonIdempotent is implemented by tools whose failed calls may already have
// changed state, such as appending a row. The executor never retries them.
type NonIdempotent interface {
	NonIdempotent() bool
}

// Invocation is everything a tool receives for one call.
type Invocation struct {
	CallID  string
	Session SessionContext
	Params  json.RawMessage
}

// Decode unmarshals the parameters into dst. Empty parameters decode as {}.
func (inv Invocation) Decode(dst any) error {
	params := inv.Params
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage(`{}`)
	}
	if err := json.Unmarshal(params, dst); err != nil {
		return &ToolError{Type: ToolErrorInvalidInput, Message: fmt.Sprintf("invalid parameters: %v", err), Cause: err}
	}
	return nil
}

// ToolResult is the text returned to the model for a call.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// errorPayload is the single failure shape shared by every tool.
type errorPayload struct {
	Error   bool          `json:"error"`
	Type    ToolErrorType `json:"type"`
	Message string        `json:"message"`
}

// JSONResult marshals v as a successful result.
func JSONResult(v any) (*ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal tool result: %w", err)
	}
	return &ToolResult{Content: string(data)}, nil
}

// ErrorResult renders a ToolError as {"error": true, "type": ..., "message": ...}.
func ErrorResult(err *ToolError) *ToolResult {
	if err == nil {
		err = &ToolError{Type: ToolErrorUnknown, Message: "unknown error"}
	}
	message := err.Message
	if message == "" && err.Cause != nil {
		message = err.Cause.Error()
	}
	errType := err.Type
	if errType == "" {
		errType = ToolErrorUnknown
	}
	data, _ := json.Marshal(errorPayload{Error: true, Type: errType, Message: message})
	return &ToolResult{Content: string(data), IsError: true}
}

// Failure is a shorthand for an execution failure result.
func Failure(toolName, format string, args ...any) *ToolResult {
	return ErrorResult(&ToolError{
		Type:     ToolErrorExecution,
		ToolName: toolName,
		Message:  fmt.Sprintf(format, args...),
	})
}

// InvalidInput is a shorthand for an invalid_input failure result.
func InvalidInput(toolName, format string, args ...any) *ToolResult {
	return ErrorResult(&ToolError{
		Type:     ToolErrorInvalidInput,
		ToolName: toolName,
		Message:  fmt.Sprintf(format, args...),
	})
}

// errorTypeOf extracts the type from a rendered failure, or unknown.
func errorTypeOf(content string) ToolErrorType {
	var payload errorPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil || !payload.Error {
		return ToolErrorUnknown
	}
	return payload.Type
}
