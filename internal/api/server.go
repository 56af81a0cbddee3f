package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OpenAgent-Chain/internal/auth"
	xerrors "OpenAgent-Chain/internal/errors"
	"OpenAgent-Chain/internal/observability/metrics"
	"OpenAgent-Chain/internal/pipeline"
	"OpenAgent-Chain/internal/run"
	"OpenAgent-Chain/internal/tools"
	"OpenAgent-Chain/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部提交与查询流水线运行。
type Server struct {
	addr      string
	runs      *run.Service
	pipelines *pipeline.Service
	auth      *auth.Service
	tools     *tools.Registry
	logger    *slog.Logger
}

// ServerOption 定义可选配置。
type ServerOption func(*Server)

// WithPipelineService 启用同步执行端点。
func WithPipelineService(svc *pipeline.Service) ServerOption {
	return func(s *Server) {
		s.pipelines = svc
	}
}

// WithAuthService 启用身份认证中间件。
func WithAuthService(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithToolRegistry 挂载自定义工具网关。
func WithToolRegistry(reg *tools.Registry) ServerOption {
	return func(s *Server) {
		s.tools = reg
	}
}

// WithServerLogger 指定日志输出。
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runs *run.Service, opts ...ServerOption) *Server {
	s := &Server{addr: addr, runs: runs}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = logger.L()
	}
	return s
}

// Handler 组装完整的路由表。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	readPerms := auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {"runs:read"}},
	}
	writePerms := auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {"runs:read"},
			http.MethodPost: {"runs:write"},
		},
	}

	mux.Handle("/api/v1/runs", s.protect(writePerms, s.instrument("runs", s.handleRuns)))
	mux.Handle("/api/v1/runs/stats", s.protect(readPerms, s.instrument("run_stats", s.handleRunStats)))
	mux.Handle("/api/v1/runs/", s.protect(readPerms, s.instrument("run_detail", s.handleRunDetail)))
	mux.Handle("/api/v1/execute", s.protect(writePerms, s.instrument("execute", s.handleExecute)))
	if s.auth != nil && s.auth.Mode() != auth.ModeDisabled {
		mux.Handle("/api/v1/auth/token", s.instrument("auth_token", s.handleToken))
	}
	mux.HandleFunc("/health", s.instrument("health", s.handleHealth))
	mux.Handle("/metrics", metrics.Handler())
	if s.tools != nil {
		s.tools.Mount(mux)
	}
	return mux
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

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET/POST")
	}
}

// handleSubmitRun 处理异步提交运行的请求。
func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	var req run.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	submitted, err := s.runs.Submit(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitted)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	opts := listOptionsFromQuery(r)
	results, err := s.runs.List(r.Context(), opts...)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// handleRunDetail 返回单个运行的详情。
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "运行 ID 不能为空")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	result, err := s.runs.Get(r.Context(), id)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	if s.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "运行服务未初始化")
		return
	}
	opts := listOptionsFromQuery(r)
	stats, err := s.runs.Stats(r.Context(), opts...)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// executeRequest 描述同步执行的请求体。
type executeRequest struct {
	Pipeline string `json:"pipeline,omitempty"`
	Input    string `json:"input"`
}

// handleExecute 同步执行一条流水线并返回最终输出与会话状态。
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	if s.pipelines == nil {
		writeError(w, http.StatusServiceUnavailable, "流水线服务未初始化")
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}

	start := time.Now()
	result, err := s.pipelines.Execute(r.Context(), req.Pipeline, req.Input)
	if err != nil {
		metrics.ObserveRunExecution(req.Pipeline, "failed", time.Since(start))
		status := statusForPipelineError(err)
		s.logger.Warn("同步执行失败",
			slog.String("pipeline", req.Pipeline),
			slog.Int("status", status),
			slog.Any("error", err),
		)
		writeError(w, status, err.Error())
		return
	}
	metrics.ObserveRunExecution(req.Pipeline, "succeeded", time.Since(start))
	writeJSON(w, http.StatusOK, result)
}

// handleToken 签发访问令牌。
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 POST")
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "请求体解析失败")
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrSubjectRevoked):
			writeError(w, http.StatusUnauthorized, "认证失败")
		case errors.Is(err, auth.ErrUnsupportedGrant):
			writeError(w, http.StatusBadRequest, "不支持的授权方式")
		default:
			writeError(w, http.StatusInternalServerError, "令牌签发失败")
		}
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "仅支持 GET")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeRunError 将运行服务的错误映射到 HTTP 状态码。
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	switch xerrors.CodeOf(err) {
	case run.CodeRunNotFound:
		writeError(w, http.StatusNotFound, "运行不存在")
	case run.CodeRunValidation, xerrors.CodeInvalidArgument:
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// statusForPipelineError 将流水线错误类别映射到 HTTP 状态码。
func statusForPipelineError(err error) int {
	switch xerrors.CodeOf(err) {
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeInvalidArgument, xerrors.CodeInvalidPipeline,
		xerrors.CodeMissingDependency, xerrors.CodeSchemaViolation:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func listOptionsFromQuery(r *http.Request) []run.ListOption {
	var opts []run.ListOption
	query := r.URL.Query()
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, run.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, run.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		var statuses []run.Status
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, run.Status(strings.TrimSpace(value)))
		}
		opts = append(opts, run.WithStatuses(statuses...))
	}
	if raw := query.Get("pipeline"); raw != "" {
		opts = append(opts, run.WithPipeline(raw))
	}
	return opts
}

// protect 在启用认证时套上鉴权中间件。
func (s *Server) protect(cfg auth.MiddlewareConfig, next http.Handler) http.Handler {
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		return next
	}
	return s.auth.Middleware(cfg)(next)
}

// instrument 记录每个端点的请求指标。
func (s *Server) instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
