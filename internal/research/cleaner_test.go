package research

import "testing"

func TestExtractJSONPlainObject(t *testing.T) {
	out, err := ExtractJSON(`  {"a": 1, "b": [2, 3]}  `)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"a": 1, "b": [2, 3]}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONFenced(t *testing.T) {
	in := "```json\n{\"queries\": [\"a\", \"b\"]}\n```"
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"queries": ["a", "b"]}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONWithLeadingProse(t *testing.T) {
	in := `Here is the result you asked for: {"summary": "ok {not a brace}", "credibility": 0.8} hope that helps`
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"summary": "ok {not a brace}", "credibility": 0.8}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONEscapedQuotes(t *testing.T) {
	in := `{"text": "she said \"hi\" and left"}`
	out, err := ExtractJSON(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != in {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONStripsByteOrderMark(t *testing.T) {
	out, err := ExtractJSON("\uFEFF{\"a\": 1}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `{"a": 1}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONArray(t *testing.T) {
	out, err := ExtractJSON(`["a", "b", "c"]`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != `["a", "b", "c"]` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestExtractJSONNoJSON(t *testing.T) {
	if _, err := ExtractJSON("nothing to see here"); err == nil {
		t.Fatalf("expected error for input without JSON")
	}
	if _, err := ExtractJSON(`{"unbalanced": true`); err == nil {
		t.Fatalf("expected error for unbalanced JSON")
	}
}
