// Package clock provides get_current_datetime.
package clock

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/datetime"
)

// Tool reports the current date and time in a fixed zone and locale.
type Tool struct {
	location *time.Location
	locale   datetime.Locale
	now      func() time.Time
}

// New returns the tool. A nil location means UTC; now nil means time.Now.
func New(location *time.Location, locale datetime.Locale, now func() time.Time) *Tool {
	if location == nil {
		location = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Tool{location: location, locale: locale, now: now}
}

func (t *Tool) Name() string { return "get_current_datetime" }

func (t *Tool) Description() string {
	return "Returns the current date and time in the business time zone."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
}

type output struct {
	ISO       string `json:"iso"`
	Formatted string `json:"formatted"`
	TimeZone  string `json:"timeZone"`
	Locale    string `json:"locale"`
}

func (t *Tool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	now := t.now().In(t.location)
	return agent.JSONResult(output{
		ISO:       now.Format(time.RFC3339),
		Formatted: t.locale.Format(now, t.location),
		TimeZone:  t.location.String(),
		Locale:    t.locale.Name(),
	})
}
