package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"NLMongo-Agent/internal/agent"
	"NLMongo-Agent/internal/auth"
	"NLMongo-Agent/internal/executor"
	"NLMongo-Agent/internal/intent"
	"NLMongo-Agent/internal/llm"
	"NLMongo-Agent/internal/operation"
	"NLMongo-Agent/internal/render"
	"NLMongo-Agent/internal/task"
)

type stubLLM struct {
	content string
}

func (s *stubLLM) Complete(_ context.Context, _ llm.Request) (*llm.Response, error) {
	return &llm.Response{Content: s.content}, nil
}

type stubCollection struct {
	docs []map[string]any
}

func (s *stubCollection) InsertOne(_ context.Context, _ bson.M) (any, error) {
	return "doc-1", nil
}

func (s *stubCollection) UpdateMany(_ context.Context, _, _ bson.M) (int64, int64, error) {
	return 1, 1, nil
}

func (s *stubCollection) DeleteMany(_ context.Context, _ bson.M) (int64, error) {
	return 0, nil
}

func (s *stubCollection) Find(_ context.Context, _ bson.M, _ bson.D, _ int64) ([]map[string]any, error) {
	return s.docs, nil
}

func newTestServer(opts ...ServerOption) *Server {
	model := &stubLLM{content: `{"conditions": [{"field": "dept", "op": "equals", "value": "sales"}], "assignments": [], "fields": [], "match_all": false}`}
	coll := &stubCollection{docs: []map[string]any{{"name": "张三", "dept": "sales"}}}
	ag := agent.New(
		intent.NewParser(model),
		operation.NewCompiler(),
		nil,
		executor.NewEngine(coll),
		render.NewRenderer(),
	)
	return NewServer(":0", ag, opts...)
}

func TestHandleProcessInstruction(t *testing.T) {
	server := newTestServer()
	body := strings.NewReader(`{"instruction": "show employees in sales"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructions", body)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var out agent.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Stage != agent.StageDone {
		t.Fatalf("unexpected stage: %s", out.Stage)
	}
	if !strings.Contains(out.Response, "共找到 1 条文档") {
		t.Fatalf("unexpected response: %q", out.Response)
	}
}

func TestHandleProcessInstructionFailureStillOK(t *testing.T) {
	server := newTestServer()
	// 空指令在流水线内失败,但 HTTP 层仍返回 200 与渲染后的回复。
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructions", strings.NewReader(`{"instruction": ""}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var out agent.Outcome
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.Stage != agent.StageFailed || out.Response == "" {
		t.Fatalf("failure should still carry a rendered response: %+v", out)
	}
}

func TestHandleProcessInstructionBadBody(t *testing.T) {
	server := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructions", strings.NewReader("not json"))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleSubmitTask(t *testing.T) {
	store := task.NewMemoryStore()
	queue := task.NewMemoryQueue(8)
	server := newTestServer(WithTaskService(task.NewService(store, queue, 3)))

	body := strings.NewReader(`{"instruction": "delete expired orders", "confirm_all": false}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", body)
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status code: got %d want %d body=%s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	var created task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created.ID == "" || created.Status != task.StatusPending {
		t.Fatalf("unexpected task: %+v", created)
	}
	if _, err := store.Get(context.Background(), created.ID); err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
}

func TestHandleSubmitTaskValidation(t *testing.T) {
	server := newTestServer(WithTaskService(task.NewService(task.NewMemoryStore(), task.NewMemoryQueue(1), 3)))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(`{"instruction": "  "}`))
	rec := httptest.NewRecorder()

	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusBadRequest)
	}
	var body errorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Code != string(task.CodeTaskValidation) {
		t.Fatalf("unexpected error code: %q", body.Code)
	}
}

func TestHandleTaskDetail(t *testing.T) {
	store := task.NewMemoryStore()
	server := newTestServer(WithTaskService(task.NewService(store, task.NewMemoryQueue(1), 3)))

	sample := &task.Task{
		ID:          "task-success",
		Instruction: "查询所有用户",
		Status:      task.StatusSucceeded,
		Attempts:    1,
		MaxRetries:  3,
		Result:      &task.ExecutionResult{Kind: "QUERY", Stage: "DONE", Response: "共找到 3 条文档"},
	}
	if err := store.Create(context.Background(), sample); err != nil {
		t.Fatalf("create sample task: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks/task-success", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: got %d want %d", rec.Code, http.StatusOK)
	}
	var got task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.ID != sample.ID || got.Result == nil || got.Result.Response != sample.Result.Response {
		t.Fatalf("unexpected task: %+v", got)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing task should return 404, got %d", rec.Code)
	}
}

func TestHandleListTasksFilters(t *testing.T) {
	store := task.NewMemoryStore()
	server := newTestServer(WithTaskService(task.NewService(store, task.NewMemoryQueue(1), 3)))
	for _, tk := range []*task.Task{
		{ID: "t-1", Instruction: "查询所有用户", Status: task.StatusPending, MaxRetries: 3},
		{ID: "t-2", Instruction: "删除过期订单", Status: task.StatusPending, MaxRetries: 3},
	} {
		if err := store.Create(context.Background(), tk); err != nil {
			t.Fatalf("create sample task: %v", err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tasks?q=订单", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var tasks []task.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t-2" {
		t.Fatalf("unexpected filter result: %+v", tasks)
	}

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks?status=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status should return 400, got %d", rec.Code)
	}
}

func TestHandleTaskStats(t *testing.T) {
	store := task.NewMemoryStore()
	server := newTestServer(WithTaskService(task.NewService(store, task.NewMemoryQueue(1), 3)))
	if err := store.Create(context.Background(), &task.Task{ID: "t-1", Instruction: "查询所有用户", Status: task.StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create sample task: %v", err)
	}

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/stats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
	var stats task.TaskStats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestTasksEndpointWithoutService(t *testing.T) {
	server := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tasks", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
}

func TestAuthGateOnInstructions(t *testing.T) {
	authsvc, err := auth.NewService(auth.Config{
		Mode: auth.ModeAPIKey,
		Keys: []auth.KeySeed{{Key: "admin-key", Name: "admin", Permissions: []string{"instructions:write", "tasks:read"}}},
	})
	if err != nil {
		t.Fatalf("构造认证服务失败: %v", err)
	}
	server := newTestServer(WithAuth(authsvc))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/instructions", strings.NewReader(`{"instruction": "show employees in sales"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing key should return 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/instructions", strings.NewReader(`{"instruction": "show employees in sales"}`))
	req.Header.Set("Authorization", "Bearer admin-key")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("authorized request should pass, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	server := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status code: %d", rec.Code)
	}
}
