package sheets

import (
	"context"
	"errors"
)

// ErrRowNotFound is returned by backends when a row index is out of range.
var ErrRowNotFound = errors.New("row not found")

// Dataset addresses one tab of a spreadsheet.
type Dataset struct {
	SpreadsheetID string
	Sheet         string
}

// Key identifies the dataset in caches and locks.
func (d Dataset) Key() string {
	return d.SpreadsheetID + "/" + d.Sheet
}

// Table is a fetched dataset. Headers come from the first row; Rows are the
// data rows below it, padded to the header width.
type Table struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// Backend reads and writes datasets. Row indexes are 1-based data rows:
// row 1 is the first row below the header.
type Backend interface {
	Fetch(ctx context.Context, ds Dataset) (*Table, error)
	Append(ctx context.Context, ds Dataset, row []string) error
	Update(ctx context.Context, ds Dataset, rowIndex int, row []string) error
	Delete(ctx context.Context, ds Dataset, rowIndex int) error
}
