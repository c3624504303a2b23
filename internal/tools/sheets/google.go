package sheets

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/haasonsaas/tenantagent/internal/auth"
)

const (
	dataColumns      = "A1:ZZ"
	valueInputOption = "USER_ENTERED"
	insertDataOption = "INSERT_ROWS"
	sheetPropsFields = "sheets.properties(sheetId,title)"
)

// GoogleBackend stores datasets in Google Sheets. Reads go through a
// read-only scoped client and writes through a read-write scoped client.
type GoogleBackend struct {
	reader *gsheets.Service
	writer *gsheets.Service
}

// NewGoogleBackend builds both clients from the same service account.
func NewGoogleBackend(ctx context.Context, creds auth.GoogleCredentials) (*GoogleBackend, error) {
	readOpts, err := creds.ClientOptions(ctx, gsheets.SpreadsheetsReadonlyScope)
	if err != nil {
		return nil, err
	}
	writeOpts, err := creds.ClientOptions(ctx, gsheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	return newGoogleBackend(ctx, readOpts, writeOpts)
}

func newGoogleBackend(ctx context.Context, readOpts, writeOpts []option.ClientOption) (*GoogleBackend, error) {
	reader, err := gsheets.NewService(ctx, readOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets reader: %w", err)
	}
	writer, err := gsheets.NewService(ctx, writeOpts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets writer: %w", err)
	}
	return &GoogleBackend{reader: reader, writer: writer}, nil
}

func (b *GoogleBackend) Fetch(ctx context.Context, ds Dataset) (*Table, error) {
	title := ds.Sheet
	if title == "" {
		props, err := b.firstSheet(ctx, ds)
		if err != nil {
			return nil, err
		}
		title = props.Title
	}

	resp, err := b.reader.Spreadsheets.Values.Get(ds.SpreadsheetID, a1Range(title, dataColumns)).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", title, err)
	}

	table := &Table{Title: title}
	if len(resp.Values) == 0 {
		return table, nil
	}
	table.Headers = cellsToStrings(resp.Values[0], 0)
	for _, raw := range resp.Values[1:] {
		table.Rows = append(table.Rows, cellsToStrings(raw, len(table.Headers)))
	}
	return table, nil
}

func (b *GoogleBackend) Append(ctx context.Context, ds Dataset, row []string) error {
	_, err := b.writer.Spreadsheets.Values.Append(ds.SpreadsheetID, a1Range(ds.Sheet, dataColumns), valueRange(row)).
		ValueInputOption(valueInputOption).
		InsertDataOption(insertDataOption).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append row: %w", err)
	}
	return nil
}

func (b *GoogleBackend) Update(ctx context.Context, ds Dataset, rowIndex int, row []string) error {
	// Data row n sits on sheet row n+1 below the header.
	target := a1Range(ds.Sheet, fmt.Sprintf("A%d", rowIndex+1))
	_, err := b.writer.Spreadsheets.Values.Update(ds.SpreadsheetID, target, valueRange(row)).
		ValueInputOption(valueInputOption).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update row %d: %w", rowIndex, err)
	}
	return nil
}

func (b *GoogleBackend) Delete(ctx context.Context, ds Dataset, rowIndex int) error {
	props, err := b.sheetProperties(ctx, ds)
	if err != nil {
		return err
	}

	// Grid indexes are 0-based with the header at 0.
	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			DeleteDimension: &gsheets.DeleteDimensionRequest{
				Range: &gsheets.DimensionRange{
					SheetId:         props.SheetId,
					Dimension:       "ROWS",
					StartIndex:      int64(rowIndex),
					EndIndex:        int64(rowIndex + 1),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	if _, err := b.writer.Spreadsheets.BatchUpdate(ds.SpreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete row %d: %w", rowIndex, err)
	}
	return nil
}

func (b *GoogleBackend) sheetProperties(ctx context.Context, ds Dataset) (*gsheets.SheetProperties, error) {
	if ds.Sheet == "" {
		return b.firstSheet(ctx, ds)
	}
	sheets, err := b.listSheets(ctx, ds)
	if err != nil {
		return nil, err
	}
	for _, sheet := range sheets {
		if sheet.Properties != nil && sheet.Properties.Title == ds.Sheet {
			return sheet.Properties, nil
		}
	}
	return nil, fmt.Errorf("sheet %q not found in spreadsheet", ds.Sheet)
}

func (b *GoogleBackend) firstSheet(ctx context.Context, ds Dataset) (*gsheets.SheetProperties, error) {
	sheets, err := b.listSheets(ctx, ds)
	if err != nil {
		return nil, err
	}
	if len(sheets) == 0 || sheets[0].Properties == nil {
		return nil, fmt.Errorf("spreadsheet has no sheets")
	}
	return sheets[0].Properties, nil
}

func (b *GoogleBackend) listSheets(ctx context.Context, ds Dataset) ([]*gsheets.Sheet, error) {
	resp, err := b.reader.Spreadsheets.Get(ds.SpreadsheetID).Fields(sheetPropsFields).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read spreadsheet metadata: %w", err)
	}
	return resp.Sheets, nil
}

func a1Range(sheet, cells string) string {
	if sheet == "" {
		return cells
	}
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

func valueRange(row []string) *gsheets.ValueRange {
	values := make([]interface{}, len(row))
	for i, cell := range row {
		values[i] = cell
	}
	return &gsheets.ValueRange{Values: [][]interface{}{values}}
}

func cellsToStrings(raw []interface{}, width int) []string {
	n := len(raw)
	if width > n {
		n = width
	}
	out := make([]string, n)
	for i, cell := range raw {
		if cell != nil {
			out[i] = strings.TrimSpace(fmt.Sprint(cell))
		}
	}
	return out
}
