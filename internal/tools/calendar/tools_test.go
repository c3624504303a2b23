package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/tenantagent/internal/agent"
	"github.com/haasonsaas/tenantagent/internal/auth"
)

type fakeClient struct {
	created []NewEvent
	events  []Event
	from    time.Time
	max     int
	err     error
}

func (f *fakeClient) Create(ctx context.Context, ev NewEvent) (*Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, ev)
	return &Event{ID: "evt-1", HTMLLink: "https://calendar.example.com/evt-1"}, nil
}

func (f *fakeClient) Upcoming(ctx context.Context, from time.Time, max int) ([]Event, error) {
	f.from, f.max = from, max
	return f.events, f.err
}

var fixedNow = time.Date(2026, 3, 2, 14, 30, 0, 0, time.UTC)

func newTools(t *testing.T, client Client) (create, list agent.Tool) {
	t.Helper()
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tools, err := Tools(Options{Client: client, Location: berlin, Now: func() time.Time { return fixedNow }})
	if err != nil {
		t.Fatalf("Tools: %v", err)
	}
	return tools[0], tools[1]
}

func execute(t *testing.T, tool agent.Tool, params string) *agent.ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), agent.Invocation{Params: json.RawMessage(params)})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	return res
}

func TestCreateEvent_Defaults(t *testing.T) {
	client := &fakeClient{}
	create, _ := newTools(t, client)

	res := execute(t, create, `{"summary":"Quarterly review"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	ev := client.created[0]
	if !ev.Start.Equal(fixedNow) || !ev.End.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("start/end = %v/%v", ev.Start, ev.End)
	}
	if ev.TimeZone != "Europe/Berlin" {
		t.Errorf("time zone = %s", ev.TimeZone)
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
		t.Fatal(err)
	}
	if out["success"] != true || out["eventId"] != "evt-1" || out["start"] != "2026-03-02T15:30:00+01:00" {
		t.Errorf("output = %v", out)
	}
}

func TestCreateEvent_ExplicitTimes(t *testing.T) {
	client := &fakeClient{}
	create, _ := newTools(t, client)

	res := execute(t, create, `{"summary":"Standup","start":"2026-03-03T09:00","end":"2026-03-03T09:15","timeZone":"America/New_York"}`)
	if res.IsError {
		t.Fatalf("unexpected error: %s", res.Content)
	}
	ev := client.created[0]
	if got := ev.Start.UTC().Format(time.RFC3339); got != "2026-03-03T14:00:00Z" {
		t.Errorf("start = %s", got)
	}
	if ev.End.Sub(ev.Start) != 15*time.Minute || ev.TimeZone != "America/New_York" {
		t.Errorf("event = %+v", ev)
	}
}

func TestCreateEvent_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		params string
		want   string
	}{
		{"blank summary", `{"summary":"  "}`, "summary is required"},
		{"bad zone", `{"summary":"x","timeZone":"Mars/Olympus"}`, "unknown time zone"},
		{"bad start", `{"summary":"x","start":"tomorrow"}`, "invalid start"},
		{"end before start", `{"summary":"x","start":"2026-03-03T10:00:00Z","end":"2026-03-03T09:00:00Z"}`, "end must be after start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{}
			create, _ := newTools(t, client)
			res := execute(t, create, tt.params)
			if !res.IsError || !strings.Contains(res.Content, tt.want) || !strings.Contains(res.Content, `"invalid_input"`) {
				t.Errorf("content = %s", res.Content)
			}
			if len(client.created) != 0 {
				t.Error("provider must not be called")
			}
		})
	}
}

func TestProviderFailuresAreStructured(t *testing.T) {
	client := &fakeClient{err: errors.New("quota exhausted")}
	create, list := newTools(t, client)

	for _, res := range []*agent.ToolResult{
		execute(t, create, `{"summary":"x"}`),
		execute(t, list, `{}`),
	} {
		var out map[string]any
		if err := json.Unmarshal([]byte(res.Content), &out); err != nil {
			t.Fatal(err)
		}
		if !res.IsError || out["error"] != true || !strings.Contains(out["message"].(string), "quota exhausted") {
			t.Errorf("content = %s", res.Content)
		}
	}
}

func TestListEvents(t *testing.T) {
	client := &fakeClient{events: []Event{{ID: "a", Summary: "Lunch", Start: "2026-03-02T12:00:00Z", End: "2026-03-02T13:00:00Z"}}}
	_, list := newTools(t, client)

	res := execute(t, list, `{}`)
	if !strings.Contains(res.Content, `"summary":"Lunch"`) {
		t.Errorf("content = %s", res.Content)
	}
	if !client.from.Equal(fixedNow) || client.max != defaultMaxResults {
		t.Errorf("from/max = %v/%d", client.from, client.max)
	}

	empty := &fakeClient{}
	_, list = newTools(t, empty)
	if res := execute(t, list, `{}`); res.Content != `{"events":[]}` {
		t.Errorf("empty content = %s", res.Content)
	}
}

func TestGoogleClient(t *testing.T) {
	var inserted map[string]any
	var listQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/calendars/team@example.com/events") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&inserted)
			_, _ = w.Write([]byte(`{"id":"evt-9","htmlLink":"https://calendar.example.com/evt-9","summary":"Demo"}`))
		case http.MethodGet:
			listQuery = r.URL.RawQuery
			_, _ = w.Write([]byte(`{"items":[
				{"id":"a","summary":"Timed","start":{"dateTime":"2026-03-02T10:00:00Z"},"end":{"dateTime":"2026-03-02T11:00:00Z"}},
				{"id":"b","summary":"All day","start":{"date":"2026-03-03"},"end":{"date":"2026-03-04"}}
			]}`))
		}
	}))
	defer srv.Close()

	client, err := NewGoogleClient(context.Background(), auth.GoogleCredentials{Field: "calendar", Endpoint: srv.URL + "/"}, "team@example.com")
	if err != nil {
		t.Fatalf("NewGoogleClient: %v", err)
	}

	ev, err := client.Create(context.Background(), NewEvent{Summary: "Demo", Start: fixedNow, End: fixedNow.Add(time.Hour), TimeZone: "UTC"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ev.ID != "evt-9" || ev.HTMLLink == "" {
		t.Errorf("event = %+v", ev)
	}
	start := inserted["start"].(map[string]any)
	if start["dateTime"] != "2026-03-02T14:30:00Z" || start["timeZone"] != "UTC" {
		t.Errorf("inserted start = %v", start)
	}

	events, err := client.Upcoming(context.Background(), fixedNow, 5)
	if err != nil {
		t.Fatalf("Upcoming: %v", err)
	}
	if len(events) != 2 || events[0].Start != "2026-03-02T10:00:00Z" || events[1].Start != "2026-03-03" {
		t.Errorf("events = %+v", events)
	}
	for _, want := range []string{"singleEvents=true", "orderBy=startTime", "maxResults=5"} {
		if !strings.Contains(listQuery, want) {
			t.Errorf("query %q missing %s", listQuery, want)
		}
	}
}
