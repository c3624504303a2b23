// Package export renders text into a paginated PDF returned inline as
// base64 and a data URI.
package export

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/go-pdf/fpdf"

	"github.com/haasonsaas/tenantagent/internal/agent"
)

const (
	defaultFilename        = "export.pdf"
	defaultMaxLinesPerPage = 40
	defaultWrapWidth       = 90
	maxLinesPerPageLimit   = 500

	pageMargin    = 10.0 // mm
	maxLineHeight = 6.0  // mm
	fontSize      = 10.0 // pt
)

// Options configures the export tool.
type Options struct {
	MaxLinesPerPage int
	WrapWidth       int
}

// Tool implements export_pdf.
type Tool struct {
	maxLinesPerPage int
	wrapWidth       int
}

// New returns the tool with defaults for unset options.
func New(opts Options) *Tool {
	t := &Tool{maxLinesPerPage: opts.MaxLinesPerPage, wrapWidth: opts.WrapWidth}
	if t.maxLinesPerPage <= 0 {
		t.maxLinesPerPage = defaultMaxLinesPerPage
	}
	if t.wrapWidth <= 0 {
		t.wrapWidth = defaultWrapWidth
	}
	return t
}

func (t *Tool) Name() string { return "export_pdf" }

func (t *Tool) Description() string {
	return "Export text to a PDF document. Returns the file as base64 and as a data URI the user can download."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
  "type": "object",
  "properties": {
    "content": {
      "oneOf": [
        { "type": "string" },
        { "type": "array", "items": { "type": "string" } }
      ],
      "description": "Text, or a list of lines"
    },
    "filename": { "type": "string", "description": "Defaults to %s" },
    "maxLinesPerPage": { "type": "integer", "minimum": 1, "maximum": %d }
  },
  "required": ["content"],
  "additionalProperties": false
}`, defaultFilename, maxLinesPerPageLimit))
}

// Result is the export_pdf payload.
type Result struct {
	Filename string `json:"filename"`
	Pages    int    `json:"pages"`
	Base64   string `json:"base64"`
	DataURI  string `json:"dataUri"`
}

func (t *Tool) Execute(ctx context.Context, inv agent.Invocation) (*agent.ToolResult, error) {
	var input struct {
		Content         json.RawMessage `json:"content"`
		Filename        string          `json:"filename"`
		MaxLinesPerPage int             `json:"maxLinesPerPage"`
	}
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	lines, err := contentLines(input.Content)
	if err != nil {
		return agent.InvalidInput(t.Name(), "%v", err), nil
	}

	perPage := input.MaxLinesPerPage
	if perPage <= 0 {
		perPage = t.maxLinesPerPage
	}
	if perPage > maxLinesPerPageLimit {
		perPage = maxLinesPerPageLimit
	}

	pages := Paginate(WrapLines(lines, t.wrapWidth), perPage)
	data, err := Render(pages)
	if err != nil {
		return agent.Failure(t.Name(), "failed to render PDF: %v", err), nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	return agent.JSONResult(Result{
		Filename: normalizeFilename(input.Filename),
		Pages:    len(pages),
		Base64:   encoded,
		DataURI:  "data:application/pdf;base64," + encoded,
	})
}

func contentLines(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("content is required")
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		text = strings.ReplaceAll(text, "\r\n", "\n")
		return strings.Split(text, "\n"), nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("content must be a string or a list of strings")
	}
	var lines []string
	for _, item := range list {
		lines = append(lines, strings.Split(strings.ReplaceAll(item, "\r\n", "\n"), "\n")...)
	}
	return lines, nil
}

// WrapLines breaks lines longer than width runes, preferring the last space.
func WrapLines(lines []string, width int) []string {
	var out []string
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		for utf8.RuneCountInString(line) > width {
			runes := []rune(line)
			cut := width
			for i := width; i > width/2; i-- {
				if runes[i] == ' ' {
					cut = i
					break
				}
			}
			out = append(out, strings.TrimRight(string(runes[:cut]), " "))
			line = strings.TrimLeft(string(runes[cut:]), " ")
		}
		out = append(out, line)
	}
	return out
}

// Paginate splits lines into pages of at most perPage lines. Empty input
// still yields one blank page.
func Paginate(lines []string, perPage int) [][]string {
	if perPage <= 0 {
		perPage = defaultMaxLinesPerPage
	}
	if len(lines) == 0 {
		return [][]string{{}}
	}
	var pages [][]string
	for start := 0; start < len(lines); start += perPage {
		end := start + perPage
		if end > len(lines) {
			end = len(lines)
		}
		pages = append(pages, lines[start:end])
	}
	return pages
}

// Render draws one PDF page per entry of pages in a monospaced font.
func Render(pages [][]string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetFont("Courier", "", fontSize)
	translate := pdf.UnicodeTranslatorFromDescriptor("")

	_, pageHeight := pdf.GetPageSize()
	usable := pageHeight - 2*pageMargin

	for _, lines := range pages {
		pdf.AddPage()
		lineHeight := maxLineHeight
		if n := len(lines); n > 0 && usable/float64(n) < lineHeight {
			lineHeight = usable / float64(n)
		}
		for _, line := range lines {
			pdf.CellFormat(0, lineHeight, translate(line), "", 1, "L", false, 0, "")
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func normalizeFilename(name string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return defaultFilename
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
