// Package envelope parses the structured block that ends every final agent
// answer:
//
//	Some answer text.
//	```json
//	{"sources": [{"title": "...", "url": "..."}], "answer": "..."}
//	```
//
// A missing or malformed block is not an error. Parse degrades to treating
// the whole text as the answer with no sources.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const fence = "```"

// Source is a reference the answer relied on.
type Source struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Favicon string `json:"favicon,omitempty"`
}

// Asset describes a financial asset the answer is about.
type Asset struct {
	Name      string   `json:"name"`
	Symbol    string   `json:"symbol,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	ChangePct *float64 `json:"change_pct,omitempty"`
}

// Envelope is the parsed answer.
type Envelope struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Asset   *Asset   `json:"asset,omitempty"`

	// Valid reports whether a well-formed block was found.
	Valid bool `json:"valid"`

	// Body is the text before the block, or the whole text when degraded.
	Body string `json:"body"`

	// Problem says why parsing degraded.
	Problem string `json:"problem,omitempty"`
}

const schemaJSON = `{
  "type": "object",
  "properties": {
    "sources": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "title": { "type": "string" },
          "url": { "type": "string" },
          "favicon": { "type": "string" }
        },
        "required": ["title", "url"]
      }
    },
    "asset": {
      "type": "object",
      "properties": {
        "name": { "type": "string" },
        "symbol": { "type": "string" },
        "price": { "type": "number" },
        "change_pct": { "type": "number" }
      },
      "required": ["name"]
    },
    "answer": { "type": "string" }
  },
  "required": ["sources", "answer"]
}`

var schema = jsonschema.MustCompileString("envelope.schema.json", schemaJSON)

// Parse extracts the trailing envelope block from text.
func Parse(text string) Envelope {
	body, block, err := trailingBlock(text)
	if err != nil {
		return degraded(text, err)
	}

	var decoded any
	if err := json.Unmarshal([]byte(block), &decoded); err != nil {
		return degraded(text, fmt.Errorf("block is not valid JSON: %w", err))
	}
	if err := schema.Validate(decoded); err != nil {
		return degraded(text, fmt.Errorf("block does not match the envelope schema: %w", err))
	}

	var env Envelope
	if err := json.Unmarshal([]byte(block), &env); err != nil {
		return degraded(text, err)
	}
	if env.Sources == nil {
		env.Sources = []Source{}
	}
	env.Valid = true
	env.Body = body
	if strings.TrimSpace(env.Answer) == "" {
		env.Answer = body
	}
	return env
}

// trailingBlock returns the text before the last fenced block and the
// block content. The block must be the last thing in text and be either
// untagged or tagged json. Only fences that open a line count, so fences
// inside JSON strings of the block are left alone.
func trailingBlock(text string) (body, block string, err error) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if !strings.HasSuffix(trimmed, fence) {
		return "", "", fmt.Errorf("no fenced block at the end of the answer")
	}
	closing := len(trimmed) - len(fence)
	opening := lastOpeningFence(trimmed[:closing])
	if opening < 0 {
		return "", "", fmt.Errorf("unterminated fenced block")
	}

	inner := trimmed[opening+len(fence) : closing]
	newline := strings.IndexByte(inner, '\n')
	if newline < 0 {
		return "", "", fmt.Errorf("fenced block has no content")
	}
	if info := strings.TrimSpace(inner[:newline]); info != "" && !strings.EqualFold(info, "json") {
		return "", "", fmt.Errorf("trailing block is tagged %q, not json", info)
	}
	return strings.TrimSpace(trimmed[:opening]), strings.TrimSpace(inner[newline+1:]), nil
}

// lastOpeningFence returns the offset of the last fence that starts a line
// of head, ignoring leading blanks, or -1.
func lastOpeningFence(head string) int {
	opening := -1
	for start := 0; start < len(head); {
		next := len(head)
		if i := strings.IndexByte(head[start:], '\n'); i >= 0 {
			next = start + i + 1
		}
		line := head[start:next]
		indented := strings.TrimLeft(line, " \t")
		if strings.HasPrefix(indented, fence) {
			opening = start + len(line) - len(indented)
		}
		start = next
	}
	return opening
}

func degraded(text string, err error) Envelope {
	whole := strings.TrimSpace(text)
	return Envelope{
		Answer:  whole,
		Sources: []Source{},
		Body:    whole,
		Problem: err.Error(),
	}
}
