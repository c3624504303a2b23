package sheets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/tenantagent/internal/agent"
)

// QueryTool implements query_business_data.
type QueryTool struct {
	svc *Service
}

func NewQueryTool(svc *Service) *QueryTool {
	return &QueryTool{svc: svc}
}

func (t *QueryTool) Name() string { return "query_business_data" }

func (t *QueryTool) Description() string {
	return "Fetch rows of the tenant's business data for one sector. Returns the sheet title, headers and rows keyed by header."
}

func (t *QueryTool) Schema() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "query": { "type": "string", "description": "The user's question, in their words" },
    "sector": { "type": "string", "enum": %s, "description": "Business sector to read" },
    "limit": { "type": "integer", "minimum": 1, "maximum": %d, "description": "Maximum rows to return (default %d)" }
  },
  "required": ["query", "sector"],
  "additionalProperties": false
}`, sectorEnumJSON(), maxQueryLimit, defaultQueryLimit))
}

// QueryResult is the query_business_data payload.
type QueryResult struct {
	SheetTitle string              `json:"sheetTitle"`
	RowCount   int                 `json:"rowCount"`
	TotalRows  int                 `json:"totalRows"`
	Headers    []string            `json:"headers"`
	Rows       []map[string]string `json:"rows"`
}

func (t *QueryTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	var input struct {
		Query  string `json:"query"`
		Sector string `json:"sector"`
		Limit  int    `json:"limit"`
	}
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}

	sector, ds, failure := t.svc.dataset(t.Name(), input.Sector)
	if failure != nil {
		return failure, nil
	}
	limit := input.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}

	key := cacheKey(ds, sector, limit)
	if cached, ok := t.svc.cache.Get(key); ok {
		t.svc.metrics.RecordCacheLookup(true)
		return &agent.ToolResult{Content: cached}, nil
	}
	t.svc.metrics.RecordCacheLookup(false)

	gen := t.svc.generation(ds)
	table, err := t.svc.backend.Fetch(ctx, ds)
	if err != nil {
		return backendFailure(t.Name(), "read "+string(sector)+" data", err), nil
	}
	data, err := json.Marshal(buildQueryResult(table, limit))
	if err != nil {
		return nil, fmt.Errorf("marshal query result: %w", err)
	}
	cached := t.svc.storeIfCurrent(ds, gen, key, string(data))
	t.svc.logger.Debug("business data fetched", "sector", sector, "rows", len(table.Rows), "limit", limit, "cached", cached)
	return &agent.ToolResult{Content: string(data)}, nil
}

func buildQueryResult(table *Table, limit int) QueryResult {
	headers := columnNames(table.Headers)
	rows := table.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}

	result := QueryResult{
		SheetTitle: table.Title,
		RowCount:   len(rows),
		TotalRows:  len(table.Rows),
		Headers:    headers,
		Rows:       make([]map[string]string, 0, len(rows)),
	}
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				obj[h] = row[i]
			} else {
				obj[h] = ""
			}
		}
		result.Rows = append(result.Rows, obj)
	}
	return result
}
