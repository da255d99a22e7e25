package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"NLMongo-Agent/sdk/go/nlmongo"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/instructions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(nlmongo.InstructionOutcome{
			Instruction: "show employees in sales",
			Kind:        "QUERY",
			Stage:       "DONE",
			Response:    "共找到 2 条文档",
		})
	})
	mux.HandleFunc("/api/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(nlmongo.Task{ID: "task-demo", Status: "pending", MaxRetries: 3})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/tasks/task-demo", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(nlmongo.Task{
			ID:     "task-demo",
			Status: "succeeded",
			Result: &nlmongo.TaskResult{Kind: "DELETE", Stage: "DONE", Response: "已删除 4 条文档"},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := nlmongo.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}
	client.SetAPIKey("demo-key")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := client.ProcessInstruction(ctx, nlmongo.InstructionRequest{Instruction: "show employees in sales"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("instruction finished in stage %s: %s\n", outcome.Stage, outcome.Response)

	created, err := client.SubmitTask(ctx, nlmongo.TaskSubmission{Instruction: "delete expired orders"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted task %s (status=%s)\n", created.ID, created.Status)

	detail, err := client.WaitForTask(ctx, created.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("task %s finished: %s\n", detail.ID, detail.Result.Response)
}
