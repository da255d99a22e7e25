package intent

import (
	"context"
	"errors"
	"testing"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/llm"
)

type stubLLM struct {
	content string
	err     error
	calls   int
	lastReq llm.Request
}

func (s *stubLLM) Complete(_ context.Context, req llm.Request) (*llm.Response, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func TestClassifyKind(t *testing.T) {
	cases := []struct {
		instruction string
		want        Kind
	}{
		{"insert a new employee named Alice", KindInsert},
		{"Add a record for Bob", KindInsert},
		{"create a document with age 30", KindInsert},
		{"delete the employee named Alice", KindDelete},
		{"Remove all records from sales", KindDelete},
		{"drop everything", KindDelete},
		{"update Alice's age to 31", KindUpdate},
		{"change the city to Shanghai", KindUpdate},
		{"set status to active", KindUpdate},
		{"rename the dept field", KindUpdate},
		{"show all employees older than 30", KindQuery},
		{"who works in sales?", KindQuery},
		{"list names and ages", KindQuery},
	}
	for _, tc := range cases {
		if got := ClassifyKind(tc.instruction); got != tc.want {
			t.Errorf("ClassifyKind(%q) = %v, want %v", tc.instruction, got, tc.want)
		}
	}
}

func TestParseQuery(t *testing.T) {
	stub := &stubLLM{content: `{"conditions": [{"field": "age", "op": "greater-than", "value": 30}], "assignments": [], "fields": ["name", "age"], "match_all": false}`}
	p := NewParser(stub)

	it, err := p.Parse(context.Background(), "show names and ages of employees older than 30")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if it.Kind != KindQuery {
		t.Fatalf("unexpected kind: %v", it.Kind)
	}
	if len(it.Conditions) != 1 || it.Conditions[0].Field != "age" {
		t.Fatalf("unexpected conditions: %+v", it.Conditions)
	}
	if len(it.RequestedFields) != 2 {
		t.Fatalf("unexpected fields: %v", it.RequestedFields)
	}
	if stub.calls != 1 {
		t.Fatalf("parser must call the model exactly once, got %d", stub.calls)
	}
}

func TestParseEmptyInstruction(t *testing.T) {
	stub := &stubLLM{}
	p := NewParser(stub)
	_, err := p.Parse(context.Background(), "   ")
	if err == nil {
		t.Fatal("expected error for empty instruction")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUninterpretableInstruction {
		t.Fatalf("unexpected error code: %v", xerrors.CodeOf(err))
	}
	if stub.calls != 0 {
		t.Fatal("empty instruction must not reach the model")
	}
}

func TestParseModelFailureNoRetry(t *testing.T) {
	stub := &stubLLM{err: errors.New("rate limited")}
	p := NewParser(stub)
	_, err := p.Parse(context.Background(), "delete the employee named Alice")
	if err == nil {
		t.Fatal("expected error after model failure")
	}
	if stub.calls != 1 {
		t.Fatalf("model failures are not retried, got %d calls", stub.calls)
	}
}

func TestParseGarbageOutput(t *testing.T) {
	stub := &stubLLM{content: "Sorry, I can't do that."}
	p := NewParser(stub)
	_, err := p.Parse(context.Background(), "show all employees")
	if err == nil {
		t.Fatal("expected error for unmappable output")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUninterpretableInstruction {
		t.Fatalf("unexpected error code: %v", xerrors.CodeOf(err))
	}
}

func TestParseMatchAllFallback(t *testing.T) {
	// 模型漏报 match_all 时,动词规则仍应把 "delete everything" 解析为
	// 指向全集的合法目标描述,留给安全校验去拒绝。
	stub := &stubLLM{content: `{"conditions": [], "assignments": [], "fields": [], "match_all": false}`}
	p := NewParser(stub)

	it, err := p.Parse(context.Background(), "delete everything")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if it.Kind != KindDelete {
		t.Fatalf("unexpected kind: %v", it.Kind)
	}
	if !it.MatchAll {
		t.Fatal("expected match-all target description")
	}
	if it.TargetEmpty() {
		t.Fatal("match-all is a valid target description")
	}
}

func TestParseMutatingWithoutTarget(t *testing.T) {
	stub := &stubLLM{content: `{"conditions": [], "assignments": [], "fields": [], "match_all": false}`}
	p := NewParser(stub)
	_, err := p.Parse(context.Background(), "delete the thing")
	if err == nil {
		t.Fatal("expected error for mutation without a target description")
	}
	if xerrors.CodeOf(err) != xerrors.CodeUninterpretableInstruction {
		t.Fatalf("unexpected error code: %v", xerrors.CodeOf(err))
	}
}

func TestParseBareIDCanonicalized(t *testing.T) {
	stub := &stubLLM{content: `{"conditions": [{"field": "id", "op": "equals", "value": "42"}], "assignments": [], "fields": ["id"], "match_all": false}`}
	p := NewParser(stub)

	it, err := p.Parse(context.Background(), "show the document with id 42")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if it.Conditions[0].Field != "_id" {
		t.Fatalf("id should canonicalize to _id, got %q", it.Conditions[0].Field)
	}
	if it.RequestedFields[0] != "_id" {
		t.Fatalf("projection id should canonicalize to _id, got %q", it.RequestedFields[0])
	}
}
