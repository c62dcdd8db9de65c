package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"AgentHub/internal/admin"
	"AgentHub/internal/auth"
	"AgentHub/internal/chat"
	"AgentHub/internal/dispatch"
	"AgentHub/internal/llm"
	"AgentHub/internal/observability/metrics"
)

// TurnRunner 执行对话轮次并读取线程记忆。
type TurnRunner interface {
	Run(ctx context.Context, msg *chat.Message, debug bool) ([]*chat.Message, error)
	ThreadMessages(ctx context.Context, agentID, chatID string) ([]llm.Message, error)
}

// Deps 汇总路由依赖。Jobs 为空时异步接口返回 503。
type Deps struct {
	Admin    *admin.Service
	Turns    TurnRunner
	Messages chat.Store
	Jobs     *dispatch.Service
	Verifier *auth.Verifier
	Auth     auth.MiddlewareConfig
}

// Server 负责暴露 REST 接口。
type Server struct {
	addr string
	deps Deps
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Deps) *Server {
	return &Server{addr: addr, deps: deps}
}

// Handler 返回装配好中间件的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /agents", s.handleUpsertAgent)
	mux.HandleFunc("POST /agents/v2", s.handleCreateAgent)
	mux.HandleFunc("GET /agents", s.handleListAgents)
	mux.HandleFunc("GET /agents/{id}", s.handleGetAgent)
	mux.HandleFunc("PATCH /agents/{id}", s.handlePatchAgent)
	mux.HandleFunc("PUT /agents/{id}", s.handleOverrideAgent)
	mux.HandleFunc("POST /agent/validate", s.handleValidate)
	mux.HandleFunc("POST /agents/{id}/validate", s.handleValidate)
	mux.HandleFunc("POST /agent/clean-memory", s.handleCleanMemory)
	mux.HandleFunc("GET /agents/{id}/export", s.handleExport)
	mux.HandleFunc("PUT /agents/{id}/import", s.handleImport)
	mux.HandleFunc("PUT /agents/{id}/twitter/unlink", s.handleUnlinkTwitter)

	mux.HandleFunc("POST /agents/{id}/chat", s.handleChat)
	mux.HandleFunc("POST /agents/{id}/chat/async", s.handleChatAsync)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /agents/{id}/chats/{chat}/messages", s.handleListMessages)
	mux.HandleFunc("GET /debug/agents/{id}/chats/{chat}/memory", s.handleThreadMemory)

	var handler http.Handler = recordRoute(mux)
	if s.deps.Verifier != nil {
		cfg := s.deps.Auth
		cfg.Public = append(cfg.Public, "/healthz", "/metrics")
		handler = s.deps.Verifier.Middleware(cfg)(handler)
	}
	return instrument(handler)
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

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
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

type routeKey struct{}

// instrument 按路由模式记录请求指标。认证中间件会复制请求，
// 所以匹配到的模式通过上下文中的指针带回。
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		route := "unmatched"
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), routeKey{}, &route)))
		metrics.ObserveHTTPRequest(route, r.Method, sw.status, time.Since(start))
	})
}

func recordRoute(mux *http.ServeMux) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r)
		if route, ok := r.Context().Value(routeKey{}).(*string); ok && r.Pattern != "" {
			*route = r.Pattern
		}
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
