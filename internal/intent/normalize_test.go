package intent

import "testing"

func TestNormalizeModelJSONFence(t *testing.T) {
	raw := "```json\n{\"conditions\": [], \"assignments\": [], \"fields\": [\"name\"], \"match_all\": false}\n```"
	var out extraction
	if err := normalizeModelJSON(raw, &out); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(out.Fields) != 1 || out.Fields[0] != "name" {
		t.Fatalf("unexpected fields: %v", out.Fields)
	}
}

func TestNormalizeModelJSONSingleQuotes(t *testing.T) {
	raw := "{'conditions': [{'field': 'age', 'op': 'greater-than', 'value': 30}], 'assignments': [], 'fields': [], 'match_all': false}"
	var out extraction
	if err := normalizeModelJSON(raw, &out); err != nil {
		t.Fatalf("normalize failed: %v", err)
	}
	if len(out.Conditions) != 1 || out.Conditions[0].Field != "age" {
		t.Fatalf("unexpected conditions: %+v", out.Conditions)
	}
	if out.Conditions[0].Value != float64(30) {
		t.Fatalf("unexpected value: %v", out.Conditions[0].Value)
	}
}

func TestCanonicalField(t *testing.T) {
	if got := canonicalField(" id "); got != "_id" {
		t.Fatalf("id should canonicalize to _id, got %q", got)
	}
	if got := canonicalField("name"); got != "name" {
		t.Fatalf("name should pass through, got %q", got)
	}
}

func TestNormalizeModelJSONGarbage(t *testing.T) {
	var out extraction
	if err := normalizeModelJSON("I cannot help with that.", &out); err == nil {
		t.Fatal("expected error for non-JSON output")
	}
}
