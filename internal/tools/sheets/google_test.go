package sheets

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/haasonsaas/tenantagent/internal/auth"
)

type sheetsAPI struct {
	mu       sync.Mutex
	requests []string
	bodies   []map[string]any
}

func (s *sheetsAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, r.Method+" "+r.URL.Path)
	if r.Body != nil && r.Method != http.MethodGet {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.bodies = append(s.bodies, body)
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/values/'Invoices'!A1:ZZ"):
		_, _ = w.Write([]byte(`{"range":"Invoices!A1:D3","majorDimension":"ROWS","values":[["Number","Amount","Status"],["INV-1","100"],["INV-2",250,"open"]]}`))
	case r.Method == http.MethodGet && r.URL.Path == "/v4/spreadsheets/sheet-1":
		_, _ = w.Write([]byte(`{"sheets":[{"properties":{"sheetId":0,"title":"Invoices"}},{"properties":{"sheetId":7,"title":"Archive"}}]}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":batchUpdate"):
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))
	case r.Method == http.MethodPut:
		_, _ = w.Write([]byte(`{"spreadsheetId":"sheet-1"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	}
}

func newGoogleTestBackend(t *testing.T) (*GoogleBackend, *sheetsAPI) {
	t.Helper()
	api := &sheetsAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	backend, err := NewGoogleBackend(context.Background(), auth.GoogleCredentials{Field: "sheets", Endpoint: srv.URL + "/"})
	if err != nil {
		t.Fatalf("NewGoogleBackend: %v", err)
	}
	return backend, api
}

func TestGoogleBackend_Fetch(t *testing.T) {
	backend, _ := newGoogleTestBackend(t)
	table, err := backend.Fetch(context.Background(), invoicesDS)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if table.Title != "Invoices" || len(table.Headers) != 3 || len(table.Rows) != 2 {
		t.Fatalf("table = %+v", table)
	}
	// Short rows are padded to the header width; numbers become text.
	if strings.Join(table.Rows[0], "|") != "INV-1|100|" || table.Rows[1][1] != "250" {
		t.Errorf("rows = %v", table.Rows)
	}
}

func TestGoogleBackend_Delete(t *testing.T) {
	backend, api := newGoogleTestBackend(t)
	if err := backend.Delete(context.Background(), invoicesDS, 2); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.bodies) != 1 {
		t.Fatalf("bodies = %d", len(api.bodies))
	}
	requests := api.bodies[0]["requests"].([]any)
	rng := requests[0].(map[string]any)["deleteDimension"].(map[string]any)["range"].(map[string]any)
	// sheetId 0 must be sent explicitly.
	if rng["sheetId"] != float64(0) || rng["startIndex"] != float64(2) || rng["endIndex"] != float64(3) || rng["dimension"] != "ROWS" {
		t.Errorf("range = %v", rng)
	}
}

func TestGoogleBackend_Writes(t *testing.T) {
	backend, api := newGoogleTestBackend(t)
	ctx := context.Background()
	if err := backend.Append(ctx, invoicesDS, []string{"INV-3", "10", "open"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := backend.Update(ctx, invoicesDS, 1, []string{"INV-1", "100", "paid"}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.requests) != 2 {
		t.Fatalf("requests = %v", api.requests)
	}
	// Data row 1 is sheet row 2.
	if !strings.HasSuffix(api.requests[1], "/values/'Invoices'!A2") {
		t.Errorf("update target = %s", api.requests[1])
	}
	values := api.bodies[1]["values"].([]any)[0].([]any)
	if values[2] != "paid" {
		t.Errorf("update values = %v", values)
	}
}

func TestGoogleBackend_MissingSheet(t *testing.T) {
	backend, _ := newGoogleTestBackend(t)
	err := backend.Delete(context.Background(), Dataset{SpreadsheetID: "sheet-1", Sheet: "Payroll"}, 1)
	if err == nil || !strings.Contains(err.Error(), `sheet "Payroll" not found`) {
		t.Fatalf("err = %v", err)
	}
}

func TestA1Range(t *testing.T) {
	tests := map[[2]string]string{
		{"", "A1:ZZ"}:         "A1:ZZ",
		{"Invoices", "A2"}:    "'Invoices'!A2",
		{"Bob's Sheet", "A1"}: "'Bob''s Sheet'!A1",
	}
	for in, want := range tests {
		if got := a1Range(in[0], in[1]); got != want {
			t.Errorf("a1Range(%q, %q) = %q, want %q", in[0], in[1], got, want)
		}
	}
}
