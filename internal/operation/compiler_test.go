package operation

import (
	"reflect"
	"testing"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/intent"
)

func TestCompileQuery(t *testing.T) {
	c := NewCompiler()
	it := &intent.Intent{
		Kind: intent.KindQuery,
		Conditions: []intent.Hint{
			{Field: "age", Operator: "gt", Value: float64(30)},
			{Field: "city", Operator: "equals", Value: "Beijing"},
		},
		RequestedFields: []string{"name", "age", "name"},
	}

	op, err := c.Compile(it)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if op.Kind != intent.KindQuery {
		t.Fatalf("unexpected kind: %v", op.Kind)
	}
	if got := op.Filter["age"]; got.Operator != OpGreaterThan {
		t.Fatalf("expected greater-than operator, got %q", got.Operator)
	}
	if got := op.Filter["city"]; got.Operator != OpEquals || got.Value != "Beijing" {
		t.Fatalf("unexpected city condition: %+v", got)
	}
	if !reflect.DeepEqual(op.Projection, []string{"name", "age"}) {
		t.Fatalf("projection should dedupe keeping first occurrence, got %v", op.Projection)
	}
}

func TestCompileUpdateLastWriteWins(t *testing.T) {
	c := NewCompiler()
	it := &intent.Intent{
		Kind:       intent.KindUpdate,
		Conditions: []intent.Hint{{Field: "name", Operator: "eq", Value: "张三"}},
		Assignments: []intent.Hint{
			{Field: "age", Value: float64(20)},
			{Field: "age", Value: float64(25)},
		},
	}

	op, err := c.Compile(it)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if op.UpdateFields["age"] != float64(25) {
		t.Fatalf("expected last assignment to win, got %v", op.UpdateFields["age"])
	}
}

func TestCompileUpdateWithoutAssignments(t *testing.T) {
	c := NewCompiler()
	it := &intent.Intent{
		Kind:       intent.KindUpdate,
		Conditions: []intent.Hint{{Field: "name", Operator: "eq", Value: "张三"}},
	}

	_, err := c.Compile(it)
	if err == nil {
		t.Fatal("expected compilation error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeCompilationFailed {
		t.Fatalf("unexpected error code: %v", xerrors.CodeOf(err))
	}
}

func TestCompileInsertRequiresDocument(t *testing.T) {
	c := NewCompiler()
	_, err := c.Compile(&intent.Intent{Kind: intent.KindInsert})
	if err == nil {
		t.Fatal("expected compilation error for empty insert document")
	}
}

func TestCompileUnknownOperator(t *testing.T) {
	c := NewCompiler()
	it := &intent.Intent{
		Kind:       intent.KindDelete,
		Conditions: []intent.Hint{{Field: "age", Operator: "between", Value: float64(10)}},
	}
	_, err := c.Compile(it)
	if err == nil {
		t.Fatal("expected compilation error for unsupported operator")
	}
}

func TestCompileAllowedFields(t *testing.T) {
	c := NewCompiler(WithAllowedFields([]string{"name", "age"}))

	it := &intent.Intent{
		Kind:       intent.KindQuery,
		Conditions: []intent.Hint{{Field: "salary", Operator: "gt", Value: float64(1000)}},
	}
	_, err := c.Compile(it)
	if err == nil {
		t.Fatal("expected compilation error for unknown field")
	}

	// _id 永远可用。
	it = &intent.Intent{
		Kind:            intent.KindQuery,
		RequestedFields: []string{"_id", "name"},
	}
	if _, err := c.Compile(it); err != nil {
		t.Fatalf("_id should always be permitted: %v", err)
	}
}

func TestCompileDeterministic(t *testing.T) {
	c := NewCompiler()
	it := &intent.Intent{
		Kind: intent.KindQuery,
		Conditions: []intent.Hint{
			{Field: "city", Operator: "contains", Value: "京"},
			{Field: "age", Operator: "lt", Value: float64(60)},
		},
		RequestedFields: []string{"name", "city", "name", "age"},
	}

	first, err := c.Compile(it)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	second, err := c.Compile(it)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("compilation must be deterministic: %+v vs %+v", first, second)
	}
}
