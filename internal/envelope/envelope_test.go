package envelope

import (
	"strings"
	"testing"
)

func TestParse_Valid(t *testing.T) {
	text := "You have 3 open invoices totalling $425.\n\n" +
		"```json\n" +
		`{"sources":[{"title":"Invoices","url":"https://sheets.example.com/1","favicon":"https://sheets.example.com/favicon.ico"}],` +
		`"asset":{"name":"Acme Corp","symbol":"ACME","price":12.5,"change_pct":-1.2},` +
		`"answer":"You have 3 open invoices totalling $425."}` + "\n" +
		"```\n"

	env := Parse(text)
	if !env.Valid {
		t.Fatalf("expected valid envelope, problem: %s", env.Problem)
	}
	if env.Answer != "You have 3 open invoices totalling $425." {
		t.Errorf("answer = %q", env.Answer)
	}
	if env.Body != "You have 3 open invoices totalling $425." {
		t.Errorf("body = %q", env.Body)
	}
	if len(env.Sources) != 1 || env.Sources[0].Favicon == "" {
		t.Errorf("sources = %+v", env.Sources)
	}
	if env.Asset == nil || env.Asset.Symbol != "ACME" || *env.Asset.Price != 12.5 || *env.Asset.ChangePct != -1.2 {
		t.Errorf("asset = %+v", env.Asset)
	}
}

func TestParse_UsesLastBlock(t *testing.T) {
	text := "Here is the query I ran:\n```sql\nSELECT 1\n```\nand the result.\n" +
		"```\n{\"sources\":[],\"answer\":\"done\"}\n```"
	env := Parse(text)
	if !env.Valid || env.Answer != "done" {
		t.Fatalf("env = %+v", env)
	}
	if !strings.Contains(env.Body, "SELECT 1") {
		t.Errorf("body = %q", env.Body)
	}
}

func TestParse_FenceInsideAnswer(t *testing.T) {
	text := "Use gofmt.\n```json\n" +
		`{"sources":[],"answer":"Run:\n` + "```sh" + `\ngofmt -w .\n` + "```" + `"}` +
		"\n```"

	env := Parse(text)
	if !env.Valid {
		t.Fatalf("expected valid envelope, problem: %s", env.Problem)
	}
	if env.Answer != "Run:\n```sh\ngofmt -w .\n```" {
		t.Errorf("answer = %q", env.Answer)
	}
	if env.Body != "Use gofmt." {
		t.Errorf("body = %q", env.Body)
	}
}

func TestParse_IndentedFences(t *testing.T) {
	env := Parse("Done.\n  ```json\n  {\"sources\":[],\"answer\":\"ok\"}\n  ```\n")
	if !env.Valid || env.Answer != "ok" {
		t.Fatalf("env = %+v", env)
	}
}

func TestParse_BlankAnswerFallsBackToBody(t *testing.T) {
	env := Parse("Body text.\n```json\n{\"sources\":[],\"answer\":\"  \"}\n```")
	if !env.Valid || env.Answer != "Body text." {
		t.Errorf("env = %+v", env)
	}
}

func TestParse_Degraded(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		problem string
	}{
		{"no block", "Just an answer.", "no fenced block"},
		{"text after block", "A\n```json\n{\"sources\":[],\"answer\":\"A\"}\n```\nThanks!", "no fenced block"},
		{"malformed json", "A\n```json\n{\"sources\":[,\"answer\":\"A\"}\n```", "not valid JSON"},
		{"missing answer", "A\n```json\n{\"sources\":[]}\n```", "envelope schema"},
		{"source without url", "A\n```json\n{\"sources\":[{\"title\":\"x\"}],\"answer\":\"A\"}\n```", "envelope schema"},
		{"wrong price type", "A\n```json\n{\"sources\":[],\"asset\":{\"name\":\"x\",\"price\":\"12\"},\"answer\":\"A\"}\n```", "envelope schema"},
		{"other language", "A\n```python\nprint(1)\n```", "tagged \"python\""},
		{"lonely fence", "A ```", "unterminated"},
		{"empty", "", "no fenced block"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := Parse(tt.text)
			if env.Valid {
				t.Fatal("expected degraded envelope")
			}
			if env.Answer != strings.TrimSpace(tt.text) {
				t.Errorf("answer = %q, want whole text", env.Answer)
			}
			if env.Sources == nil || len(env.Sources) != 0 {
				t.Errorf("sources = %#v, want empty", env.Sources)
			}
			if !strings.Contains(env.Problem, tt.problem) {
				t.Errorf("problem = %q, want %q", env.Problem, tt.problem)
			}
		})
	}
}
