package render

import (
	"context"
	"errors"
	"strings"
	"testing"

	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/executor"
	"NLMongo-Agent/internal/intent"
	"NLMongo-Agent/internal/llm"
)

type stubLLM struct {
	content string
	err     error
	calls   int
}

func (s *stubLLM) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Response{Content: s.content}, nil
}

func TestRenderInsert(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(context.Background(), &executor.Result{
		Kind:       intent.KindInsert,
		InsertedID: "doc-1",
		Counts:     &executor.Counts{Inserted: 1},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "已插入 1 条文档") || !strings.Contains(out, "doc-1") {
		t.Fatalf("unexpected insert response: %q", out)
	}
}

func TestRenderDeleteZero(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(context.Background(), &executor.Result{
		Kind:   intent.KindDelete,
		Counts: &executor.Counts{Deleted: 0},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "已删除 0 条文档") {
		t.Fatalf("zero deletions must render as a known count: %q", out)
	}
}

func TestRenderUpdateCounts(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(context.Background(), &executor.Result{
		Kind:   intent.KindUpdate,
		Counts: &executor.Counts{Matched: 3, Modified: 2},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "已匹配 3 条文档") || !strings.Contains(out, "实际更新 2 条") {
		t.Fatalf("unexpected update response: %q", out)
	}
}

func TestRenderQueryWithSummary(t *testing.T) {
	stub := &stubLLM{content: "两名销售部员工。"}
	r := NewRenderer(WithLLM(stub))
	out, err := r.Render(context.Background(), &executor.Result{
		Kind: intent.KindQuery,
		Documents: []map[string]any{
			{"name": "张三", "dept": "sales"},
			{"name": "李四", "dept": "sales"},
		},
		Counts: &executor.Counts{Matched: 2},
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "共找到 2 条文档") {
		t.Fatalf("count line must come from the fixed template: %q", out)
	}
	if !strings.Contains(out, "两名销售部员工。") {
		t.Fatalf("expected model summary in output: %q", out)
	}
	if stub.calls != 1 {
		t.Fatalf("expected exactly one model call, got %d", stub.calls)
	}
}

func TestRenderQuerySummaryFailureFallsBack(t *testing.T) {
	stub := &stubLLM{err: errors.New("model unavailable")}
	r := NewRenderer(WithLLM(stub))
	out, err := r.Render(context.Background(), &executor.Result{
		Kind:      intent.KindQuery,
		Documents: []map[string]any{{"name": "张三"}},
		Counts:    &executor.Counts{Matched: 1},
	})
	if err != nil {
		t.Fatalf("summary failure must not fail rendering: %v", err)
	}
	if !strings.Contains(out, "共找到 1 条文档") {
		t.Fatalf("fixed template must survive summary failure: %q", out)
	}
}

func TestRenderStoreFailureUnknownCounts(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(context.Background(), &executor.Result{
		Kind: intent.KindDelete,
		Err: xerrors.New(xerrors.CodeExecutionFailure,
			"delete documents: mongodb://root:hunter2@db:27017 unreachable"),
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(out, "文档数未知") {
		t.Fatalf("unknown counts must be stated: %q", out)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatalf("credentials leaked into response: %q", out)
	}
}

func TestRenderMissingCountsFallsBack(t *testing.T) {
	r := NewRenderer()
	for _, kind := range []intent.Kind{intent.KindUpdate, intent.KindDelete} {
		out, err := r.Render(context.Background(), &executor.Result{Kind: kind})
		if err != nil {
			t.Fatalf("missing counts must not fail rendering for %s: %v", kind, err)
		}
		if out == "" {
			t.Fatalf("missing counts must still produce a response for %s", kind)
		}
	}
}

func TestRenderError(t *testing.T) {
	r := NewRenderer()
	out := r.RenderError("安全校验", xerrors.New(xerrors.CodePolicyViolation,
		"delete without a filter requires explicit confirm-all"))
	if !strings.Contains(out, "安全校验") || !strings.Contains(out, "confirm-all") {
		t.Fatalf("unexpected error response: %q", out)
	}
}

func TestFallback(t *testing.T) {
	out := Fallback(xerrors.New(xerrors.CodeRenderingFailure, "template exploded"))
	if !strings.Contains(out, "操作未能完成") {
		t.Fatalf("unexpected fallback: %q", out)
	}
	if Fallback(nil) == "" {
		t.Fatal("fallback must never be empty")
	}
}
