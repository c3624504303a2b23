package sheets

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/tenantagent/internal/agent"
)

// Operation is a mutate_business_data action.
type Operation string

const (
	OperationAdd    Operation = "add"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// MutateTool implements mutate_business_data.
type MutateTool struct {
	svc *Service
}

func NewMutateTool(svc *Service) *MutateTool {
	return &MutateTool{svc: svc}
}

func (t *MutateTool) Name() string { return "mutate_business_data" }

// NonIdempotent reports true: a failed write may still have landed.
func (t *MutateTool) NonIdempotent() bool { return true }

func (t *MutateTool) Description() string {
	return "Add, update or delete a row of the tenant's business data. " +
		"rowIndex is 1-based over data rows as returned by query_business_data. Column names match the sheet headers case-insensitively."
}

func (t *MutateTool) Schema() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "sector": { "type": "string", "enum": %s },
    "operation": { "type": "string", "enum": ["add", "update", "delete"] },
    "values": {
      "type": "object",
      "description": "For add: the new row keyed by column name.",
      "additionalProperties": true
    },
    "rowIndex": { "type": "integer", "minimum": 1, "description": "For update and delete: 1-based data row." },
    "updates": {
      "type": "object",
      "description": "For update: column name to new value.",
      "additionalProperties": true
    }
  },
  "required": ["sector", "operation"],
  "additionalProperties": false
}`, sectorEnumJSON()))
}

// MutationResult is the success payload of mutate_business_data.
type MutationResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type mutateInput struct {
	Sector    string         `json:"sector"`
	Operation Operation      `json:"operation"`
	Values    map[string]any `json:"values"`
	RowIndex  int            `json:"rowIndex"`
	Updates   map[string]any `json:"updates"`
}

func (t *MutateTool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	var input mutateInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	switch input.Operation {
	case OperationAdd:
		if len(input.Values) == 0 {
			return agent.InvalidInput(t.Name(), "values are required for add"), nil
		}
	case OperationUpdate:
		if input.RowIndex < 1 {
			return agent.InvalidInput(t.Name(), "rowIndex is required for update"), nil
		}
		if len(input.Updates) == 0 {
			return agent.InvalidInput(t.Name(), "updates are required for update"), nil
		}
	case OperationDelete:
		if input.RowIndex < 1 {
			return agent.InvalidInput(t.Name(), "rowIndex is required for delete"), nil
		}
	default:
		return agent.InvalidInput(t.Name(), "unknown operation %q", input.Operation), nil
	}

	sector, ds, failure := t.svc.dataset(t.Name(), input.Sector)
	if failure != nil {
		return failure, nil
	}

	// Fetch, validation and write run under the dataset lock so that a
	// concurrent mutation cannot shift rows in between.
	if err := t.svc.locks.Lock(ctx, ds.Key()); err != nil {
		return nil, err
	}
	defer t.svc.locks.Unlock(ds.Key())

	table, err := t.svc.backend.Fetch(ctx, ds)
	if err != nil {
		return backendFailure(t.Name(), "read "+string(sector)+" data", err), nil
	}
	headers := columnNames(table.Headers)
	if len(headers) == 0 {
		return agent.Failure(t.Name(), "the %s sheet has no header row", sector), nil
	}

	var message string
	switch input.Operation {
	case OperationAdd:
		cells, failure := resolveColumns(t.Name(), headers, input.Values)
		if failure != nil {
			return failure, nil
		}
		row := make([]string, len(headers))
		for idx, value := range cells {
			row[idx] = value
		}
		if err := t.svc.backend.Append(ctx, ds, row); err != nil {
			return backendFailure(t.Name(), "add row", err), nil
		}
		message = fmt.Sprintf("Added row %d to %s.", len(table.Rows)+1, sector)

	case OperationUpdate:
		if failure := rowNotFound(t.Name(), sector, input.RowIndex, len(table.Rows)); failure != nil {
			return failure, nil
		}
		cells, failure := resolveColumns(t.Name(), headers, input.Updates)
		if failure != nil {
			return failure, nil
		}
		row := make([]string, len(headers))
		copy(row, table.Rows[input.RowIndex-1])
		changed := make([]string, 0, len(cells))
		for idx, value := range cells {
			row[idx] = value
			changed = append(changed, headers[idx])
		}
		sort.Strings(changed)
		if err := t.svc.backend.Update(ctx, ds, input.RowIndex, row); err != nil {
			return backendFailure(t.Name(), fmt.Sprintf("update row %d", input.RowIndex), err), nil
		}
		message = fmt.Sprintf("Updated %s on row %d of %s.", strings.Join(changed, ", "), input.RowIndex, sector)

	case OperationDelete:
		if failure := rowNotFound(t.Name(), sector, input.RowIndex, len(table.Rows)); failure != nil {
			return failure, nil
		}
		if err := t.svc.backend.Delete(ctx, ds, input.RowIndex); err != nil {
			return backendFailure(t.Name(), fmt.Sprintf("delete row %d", input.RowIndex), err), nil
		}
		message = fmt.Sprintf("Deleted row %d from %s.", input.RowIndex, sector)
	}

	t.svc.invalidate(ds)
	t.svc.logger.Info("business data changed",
		"sector", sector,
		"operation", input.Operation,
		"row_index", input.RowIndex,
		"tenant_id", inv.Session.TenantID(),
	)
	return agent.JSONResult(MutationResult{Success: true, Message: message})
}

func rowNotFound(toolName string, sector Sector, rowIndex, rowCount int) *agent.ToolResult {
	if rowIndex >= 1 && rowIndex <= rowCount {
		return nil
	}
	return agent.ErrorResult(&agent.ToolError{
		Type:     agent.ToolErrorNotFound,
		ToolName: toolName,
		Message:  fmt.Sprintf("row %d not found; %s has %d rows", rowIndex, sector, rowCount),
	})
}
