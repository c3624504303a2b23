package agent

import "time"

// Event is one item on a run's output stream. The concrete types are
// TextChunk, ToolActivity, InterruptionSignal and StreamError.
type Event interface {
	isEvent()
}

// TextChunk is a piece of assistant text to show to the user.
type TextChunk struct {
	Text string
}

// ToolPhase is the lifecycle point a ToolActivity reports.
type ToolPhase string

const (
	ToolStarted   ToolPhase = "started"
	ToolCompleted ToolPhase = "completed"
	ToolFailed    ToolPhase = "failed"
	ToolTimedOut  ToolPhase = "timeout"
	ToolPending   ToolPhase = "pending_approval"
	ToolDenied    ToolPhase = "denied"
)

// ToolActivity reports tool progress. It is informational; consumers may
// ignore it.
type ToolActivity struct {
	CallID   string
	Name     string
	Phase    ToolPhase
	Attempt  int
	Duration time.Duration
}

// InterruptionSignal ends a run that is waiting on human approval. History
// is not updated for an interrupted run.
type InterruptionSignal struct {
	Requests []*ApprovalRequest
	Message  string
}

// StreamError is the last event of a failed run.
type StreamError struct {
	Err error
}

func (TextChunk) isEvent()          {}
func (ToolActivity) isEvent()       {}
func (InterruptionSignal) isEvent() {}
func (StreamError) isEvent()        {}

func (e StreamError) Error() string {
	if e.Err == nil {
		return "stream error"
	}
	return e.Err.Error()
}

func (e StreamError) Unwrap() error {
	return e.Err
}

// RunState tracks where a run is in its lifecycle.
//
//	Idle -> Running -> Streaming -> Completed
//	                             -> Interrupted
//	                             -> Failed
type RunState string

const (
	StateIdle        RunState = "idle"
	StateRunning     RunState = "running"
	StateStreaming   RunState = "streaming"
	StateInterrupted RunState = "interrupted"
	StateCompleted   RunState = "completed"
	StateFailed      RunState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s RunState) Terminal() bool {
	switch s {
	case StateInterrupted, StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}
