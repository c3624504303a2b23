package calendar

import (
	"context"
	"fmt"
	"time"

	gcalendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/haasonsaas/tenantagent/internal/auth"
)

// Event is a calendar entry as returned to the model.
type Event struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	Description string `json:"description,omitempty"`
	Start       string `json:"start"`
	End         string `json:"end"`
	HTMLLink    string `json:"htmlLink,omitempty"`
}

// NewEvent is the input of Client.Create.
type NewEvent struct {
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	TimeZone    string
}

// Client is the calendar provider.
type Client interface {
	Create(ctx context.Context, ev NewEvent) (*Event, error)
	Upcoming(ctx context.Context, from time.Time, max int) ([]Event, error)
}

// GoogleClient talks to one Google calendar.
type GoogleClient struct {
	service    *gcalendar.Service
	calendarID string
}

// NewGoogleClient builds a client scoped to calendar events.
func NewGoogleClient(ctx context.Context, creds auth.GoogleCredentials, calendarID string) (*GoogleClient, error) {
	opts, err := creds.ClientOptions(ctx, gcalendar.CalendarEventsScope)
	if err != nil {
		return nil, err
	}
	return newGoogleClient(ctx, calendarID, opts...)
}

func newGoogleClient(ctx context.Context, calendarID string, opts ...option.ClientOption) (*GoogleClient, error) {
	service, err := gcalendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar client: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	return &GoogleClient{service: service, calendarID: calendarID}, nil
}

func (c *GoogleClient) Create(ctx context.Context, ev NewEvent) (*Event, error) {
	created, err := c.service.Events.Insert(c.calendarID, &gcalendar.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcalendar.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &gcalendar.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	out := convertEvent(created)
	return &out, nil
}

func (c *GoogleClient) Upcoming(ctx context.Context, from time.Time, max int) ([]Event, error) {
	resp, err := c.service.Events.List(c.calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		TimeMin(from.Format(time.RFC3339)).
		MaxResults(int64(max)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, convertEvent(item))
	}
	return events, nil
}

func convertEvent(ev *gcalendar.Event) Event {
	return Event{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       eventTime(ev.Start),
		End:         eventTime(ev.End),
		HTMLLink:    ev.HtmlLink,
	}
}

// eventTime prefers the timed value and falls back to the all-day date.
func eventTime(t *gcalendar.EventDateTime) string {
	if t == nil {
		return ""
	}
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}
