package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"NLMongo-Agent/internal/agent"
	"NLMongo-Agent/internal/auth"
	xerrors "NLMongo-Agent/internal/errors"
	"NLMongo-Agent/internal/observability/metrics"
	"NLMongo-Agent/internal/task"
)

// Server 负责暴露 REST 接口，供外部提交自然语言指令。
// /api/v1/instructions 为同步接口,请求在流水线中跑完后直接返回渲染结果;
// /api/v1/tasks 为异步接口,指令入队后由 Processor 消费。
type Server struct {
	addr     string
	agent    *agent.Agent
	tasks    *task.Service
	authsvc  *auth.Service
	readPerm []string
	exec     []string
}

// ServerOption 配置 Server 的可选能力。
type ServerOption func(*Server)

// WithTaskService 启用异步任务接口。
func WithTaskService(svc *task.Service) ServerOption {
	return func(s *Server) {
		s.tasks = svc
	}
}

// WithAuth 启用身份认证中间件。
func WithAuth(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.authsvc = svc
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		agent:    ag,
		readPerm: []string{"tasks:read"},
		exec:     []string{"instructions:write"},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 组装完整的路由与中间件。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/api/v1/instructions", s.guarded(http.HandlerFunc(s.handleInstructions), "instructions"))
	mux.Handle("/api/v1/tasks", s.guarded(http.HandlerFunc(s.handleTasks), "tasks"))
	mux.Handle("/api/v1/tasks/", s.guarded(http.HandlerFunc(s.handleTaskDetail), "task_detail"))
	mux.Handle("/api/v1/tasks/stats", s.guarded(http.HandlerFunc(s.handleTaskStats), "task_stats"))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// guarded 依次套上指标采集与身份认证中间件。
func (s *Server) guarded(next http.Handler, name string) http.Handler {
	handler := instrument(name, next)
	if s.authsvc == nil {
		return handler
	}
	return s.authsvc.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodPost: s.exec,
			http.MethodGet:  s.readPerm,
		},
		AuditEvent: name,
	})(handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleInstructions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleProcessInstruction(w, r)
	case http.MethodGet:
		s.handleListHistory(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET/POST")
	}
}

// handleProcessInstruction 同步执行一条指令。无论流水线在哪个阶段失败,
// 都返回 200 与渲染后的回复,HTTP 层不区分业务失败。
func (s *Server) handleProcessInstruction(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "Agent 未初始化")
		return
	}
	var req agent.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	out := s.agent.Process(r.Context(), req)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	if s.agent == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "Agent 未初始化")
		return
	}
	limit := queryInt(r, "limit", 20)
	records, err := s.agent.ListHistory(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "任务服务未启用")
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET/POST")
	}
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "请求体解析失败")
		return
	}
	created, err := s.tasks.Submit(r.Context(), req)
	if err != nil {
		status := http.StatusInternalServerError
		switch xerrors.CodeOf(err) {
		case task.CodeTaskValidation:
			status = http.StatusBadRequest
		case task.CodeTaskConflict:
			status = http.StatusConflict
		}
		writeError(w, status, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, created)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	opts := []task.ListOption{
		task.WithLimit(queryInt(r, "limit", 20)),
		task.WithOffset(queryInt(r, "offset", 0)),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		statuses := make([]task.Status, 0, 4)
		for _, item := range strings.Split(raw, ",") {
			status := task.Status(strings.TrimSpace(item))
			if !task.IsValidStatus(status) {
				writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "非法的任务状态: "+string(status))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if query := strings.TrimSpace(r.URL.Query().Get("q")); query != "" {
		opts = append(opts, task.WithQuery(query))
	}
	tasks, err := s.tasks.List(r.Context(), opts...)
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "任务服务未启用")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, string(xerrors.CodeInvalidArgument), "非法的任务 ID")
		return
	}
	found, err := s.tasks.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, task.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, string(task.CodeTaskNotFound), "任务不存在")
			return
		}
		writeError(w, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, found)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, http.StatusServiceUnavailable, string(xerrors.CodeInitializationFailure), "任务服务未启用")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "仅支持 GET")
		return
	}
	stats, err := s.tasks.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, string(xerrors.CodeOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument 记录 HTTP 指标。
func instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(handler, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
