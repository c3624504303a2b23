// Package calendar provides the calendar tools. Provider failures are
// returned to the model as structured tool errors.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/tenantagent/internal/agent"
)

const (
	defaultDuration   = time.Hour
	defaultMaxResults = 10
)

// Options configures the calendar tools.
type Options struct {
	Client     Client
	Location   *time.Location
	MaxResults int
	Logger     *slog.Logger

	// Now is the clock; nil uses time.Now.
	Now func() time.Time
}

type toolset struct {
	client     Client
	location   *time.Location
	maxResults int
	logger     *slog.Logger
	now        func() time.Time
}

// Tools returns create_calendar_event and list_calendar_events.
func Tools(opts Options) ([]agent.Tool, error) {
	if opts.Client == nil {
		return nil, errors.New("calendar client is required")
	}
	ts := &toolset{
		client:     opts.Client,
		location:   opts.Location,
		maxResults: opts.MaxResults,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if ts.location == nil {
		ts.location = time.UTC
	}
	if ts.maxResults <= 0 {
		ts.maxResults = defaultMaxResults
	}
	if ts.logger == nil {
		ts.logger = slog.Default()
	}
	if ts.now == nil {
		ts.now = time.Now
	}
	ts.logger = ts.logger.With("component", "calendar")
	return []agent.Tool{&CreateEventTool{ts: ts}, &ListEventsTool{ts: ts}}, nil
}

// CreateEventTool implements create_calendar_event.
type CreateEventTool struct {
	ts *toolset
}

func (t *CreateEventTool) Name() string { return "create_calendar_event" }

// NonIdempotent reports true: a failed write may still have landed.
func (t *CreateEventTool) NonIdempotent() bool { return true }

func (t *CreateEventTool) Description() string {
	return "Create a calendar event. start and end are ISO 8601 date-times; start defaults to now and end to one hour after start."
}

func (t *CreateEventTool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "summary": { "type": "string", "minLength": 1, "description": "Event title" },
    "description": { "type": "string" },
    "start": { "type": "string", "description": "Start, e.g. 2026-03-01T09:00:00 or with an offset" },
    "end": { "type": "string", "description": "End, same format as start" },
    "timeZone": { "type": "string", "description": "IANA zone used for times without an offset" }
  },
  "required": ["summary"],
  "additionalProperties": false
}`)
}

type createOutput struct {
	Success  bool   `json:"success"`
	EventID  string `json:"eventId"`
	HTMLLink string `json:"htmlLink,omitempty"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

func (t *CreateEventTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	var input struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Start       string `json:"start"`
		End         string `json:"end"`
		TimeZone    string `json:"timeZone"`
	}
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Summary) == "" {
		return agent.InvalidInput(t.Name(), "summary is required"), nil
	}

	loc := t.ts.location
	if input.TimeZone != "" {
		l, err := time.LoadLocation(input.TimeZone)
		if err != nil {
			return agent.InvalidInput(t.Name(), "unknown time zone %q", input.TimeZone), nil
		}
		loc = l
	}

	start := t.ts.now().In(loc)
	if input.Start != "" {
		parsed, err := parseTime(input.Start, loc)
		if err != nil {
			return agent.InvalidInput(t.Name(), "invalid start: %v", err), nil
		}
		start = parsed
	}
	end := start.Add(defaultDuration)
	if input.End != "" {
		parsed, err := parseTime(input.End, loc)
		if err != nil {
			return agent.InvalidInput(t.Name(), "invalid end: %v", err), nil
		}
		end = parsed
	}
	if !end.After(start) {
		return agent.InvalidInput(t.Name(), "end must be after start"), nil
	}

	ev, err := t.ts.client.Create(ctx, NewEvent{
		Summary:     strings.TrimSpace(input.Summary),
		Description: input.Description,
		Start:       start,
		End:         end,
		TimeZone:    loc.String(),
	})
	if err != nil {
		t.ts.logger.Warn("calendar event creation failed", "error", err)
		return agent.Failure(t.Name(), "failed to create event: %v", err), nil
	}
	return agent.JSONResult(createOutput{
		Success:  true,
		EventID:  ev.ID,
		HTMLLink: ev.HTMLLink,
		Start:    start.Format(time.RFC3339),
		End:      end.Format(time.RFC3339),
	})
}

// ListEventsTool implements list_calendar_events.
type ListEventsTool struct {
	ts *toolset
}

func (t *ListEventsTool) Name() string { return "list_calendar_events" }

func (t *ListEventsTool) Description() string {
	return "List the next upcoming calendar events."
}

func (t *ListEventsTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
}

func (t *ListEventsTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	events, err := t.ts.client.Upcoming(ctx, t.ts.now(), t.ts.maxResults)
	if err != nil {
		t.ts.logger.Warn("calendar listing failed", "error", err)
		return agent.Failure(t.Name(), "failed to list events: %v", err), nil
	}
	if events == nil {
		events = []Event{}
	}
	return agent.JSONResult(struct {
		Events []Event `json:"events"`
	}{events})
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts RFC 3339 or a local date-time interpreted in loc.
func parseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(loc), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO 8601 date-time", value)
}
