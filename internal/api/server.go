package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/cors"

	"HyvBase/internal/agent"
	"HyvBase/internal/auth"
	"HyvBase/internal/command"
	"HyvBase/internal/observability/metrics"
)

// Server 负责暴露 REST 接口，供外部提交命令并查询执行状态。
type Server struct {
	addr     string
	agent    *agent.Agent
	commands *command.Service
	auth     *auth.Service
	cors     *cors.Cors
}

// ServerOption 定义可选的服务配置。
type ServerOption func(*Server)

// WithAuthService 启用身份认证中间件。
func WithAuthService(svc *auth.Service) ServerOption {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithAllowedOrigins 配置跨域白名单，空列表表示全部允许。
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.cors = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		})
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ag *agent.Agent, commands *command.Service, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		agent:    ag,
		commands: commands,
		cors:     cors.AllowAll(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
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
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
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

// Handler 组装全部路由与中间件。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/auth/token", s.handleToken)
	mux.Handle("/api/v1/chat", s.protect("chat", map[string][]string{
		http.MethodPost: {"commands:write"},
	}, http.HandlerFunc(s.handleChat)))
	mux.Handle("/api/v1/commands", s.protect("commands", map[string][]string{
		http.MethodPost: {"commands:write"},
		http.MethodGet:  {"commands:read"},
	}, http.HandlerFunc(s.handleCommands)))
	mux.Handle("/api/v1/commands/stats", s.protect("command_stats", map[string][]string{
		http.MethodGet: {"commands:read"},
	}, http.HandlerFunc(s.handleCommandStats)))
	mux.Handle("/api/v1/commands/", s.protect("command_detail", map[string][]string{
		http.MethodGet: {"commands:read"},
	}, http.HandlerFunc(s.handleCommandDetail)))
	return s.cors.Handler(mux)
}

// protect 套上认证与指标中间件。
func (s *Server) protect(name string, perms map[string][]string, next http.Handler) http.Handler {
	handler := observe(name, next)
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		return handler
	}
	return s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: perms,
		AuditEvent:          name,
	})(handler)
}

// observe 记录每个请求的指标数据。
func observe(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleToken 颁发访问令牌。
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.auth == nil || s.auth.Mode() == auth.ModeDisabled {
		http.Error(w, "未启用身份认证", http.StatusNotFound)
		return
	}
	var req auth.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	pair, err := s.auth.Authenticate(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// chatRequest 是同步对话接口的请求体。
type chatRequest struct {
	Input string `json:"input"`
}

// handleChat 同步执行一条命令并返回响应信封。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.agent == nil {
		http.Error(w, "Agent 未初始化", http.StatusServiceUnavailable)
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	resp, err := s.agent.Process(r.Context(), req.Input)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// submitRequest 是异步命令提交接口的请求体。
type submitRequest struct {
	ID       string         `json:"id,omitempty"`
	Input    string         `json:"input"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitCommand(w, r)
	case http.MethodGet:
		s.handleListCommands(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// handleSubmitCommand 将命令写入队列并立即返回受理结果。
func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		http.Error(w, "命令服务未初始化", http.StatusServiceUnavailable)
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}
	cmd, err := s.commands.Submit(r.Context(), command.Request{
		ID:       req.ID,
		Input:    req.Input,
		Metadata: req.Metadata,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

// handleListCommands 支持 status、limit、offset、query 过滤。
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		http.Error(w, "命令服务未初始化", http.StatusServiceUnavailable)
		return
	}
	opts := listOptionsFromQuery(r)
	results, err := s.commands.List(r.Context(), opts...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleCommandStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.commands == nil {
		http.Error(w, "命令服务未初始化", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.commands.Stats(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCommandDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.commands == nil {
		http.Error(w, "命令服务未初始化", http.StatusServiceUnavailable)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/commands/")
	id = strings.TrimSpace(strings.Trim(id, "/"))
	if id == "" {
		http.Error(w, "缺少命令 ID", http.StatusBadRequest)
		return
	}
	cmd, err := s.commands.Get(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, command.ErrCommandNotFound) {
			http.Error(w, "命令不存在", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func listOptionsFromQuery(r *http.Request) []command.ListOption {
	query := r.URL.Query()
	opts := make([]command.ListOption, 0, 4)
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, command.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, command.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]command.Status, 0, 4)
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, command.Status(strings.TrimSpace(value)))
		}
		opts = append(opts, command.WithStatuses(statuses...))
	}
	if raw := query.Get("query"); raw != "" {
		opts = append(opts, command.WithQuery(raw))
	}
	return opts
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
