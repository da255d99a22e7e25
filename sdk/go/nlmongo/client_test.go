package nlmongo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	return client
}

func TestProcessInstruction(t *testing.T) {
	var gotAuth string
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/instructions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		var req InstructionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(InstructionOutcome{
			Instruction: req.Instruction,
			Kind:        "QUERY",
			Stage:       "DONE",
			Response:    "共找到 2 条文档",
		})
	}))
	client.SetAPIKey("demo-key")

	outcome, err := client.ProcessInstruction(context.Background(), InstructionRequest{Instruction: "list sales staff"})
	if err != nil {
		t.Fatalf("process instruction: %v", err)
	}
	if outcome.Failed() || outcome.Response != "共找到 2 条文档" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if gotAuth != "Bearer demo-key" {
		t.Fatalf("unexpected authorization header: %q", gotAuth)
	}
}

func TestSubmitAndGetTask(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/tasks":
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(Task{ID: "task-demo", Status: "pending", MaxRetries: 3})
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/tasks/task-demo":
			_ = json.NewEncoder(w).Encode(Task{
				ID:     "task-demo",
				Status: "succeeded",
				Result: &TaskResult{Kind: "DELETE", Stage: "DONE", Response: "已删除 4 条文档"},
			})
		default:
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
	}))

	created, err := client.SubmitTask(context.Background(), TaskSubmission{Instruction: "delete expired orders"})
	if err != nil {
		t.Fatalf("submit task: %v", err)
	}
	if created.ID != "task-demo" || created.Status != "pending" {
		t.Fatalf("unexpected task: %+v", created)
	}

	detail, err := client.GetTask(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if detail.Result == nil || detail.Result.Response != "已删除 4 条文档" {
		t.Fatalf("unexpected detail: %+v", detail)
	}
}

func TestListTasksQueryParams(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if query.Get("limit") != "5" || query.Get("status") != "pending,running" || query.Get("q") != "orders" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]Task{{ID: "t-1", Status: "pending"}})
	}))

	tasks, err := client.ListTasks(context.Background(), ListTasksOptions{
		Limit:    5,
		Statuses: []string{"pending", "running"},
		Query:    "orders",
	})
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "t-1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":    "TASK_VALIDATION_FAILED",
			"message": "指令内容不能为空",
		})
	}))

	_, err := client.SubmitTask(context.Background(), TaskSubmission{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "TASK_VALIDATION_FAILED" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestWaitForTask(t *testing.T) {
	calls := 0
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		status := "running"
		if calls >= 3 {
			status = "succeeded"
		}
		_ = json.NewEncoder(w).Encode(Task{ID: "task-demo", Status: status})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	detail, err := client.WaitForTask(ctx, "task-demo", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait for task: %v", err)
	}
	if detail.Status != "succeeded" || calls < 3 {
		t.Fatalf("unexpected result: status=%s calls=%d", detail.Status, calls)
	}
}
