package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	xerrors "AgentHub/internal/errors"
	loggerpkg "AgentHub/pkg/logger"
)

// MiddlewareConfig 配置身份认证中间件的行为。
type MiddlewareConfig struct {
	// Required 为 true 时没有有效 token 的请求会被拒绝。
	Required bool
	// Public 列出无需认证的路径。
	Public []string
}

// Middleware 返回一个 HTTP 中间件，用于处理身份认证。
// 非强制模式下携带的 token 仍会被校验，以便识别调用方。
func (v *Verifier) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	public := make(map[string]struct{}, len(cfg.Public))
	for _, p := range cfg.Public {
		public[p] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok || v == nil {
				next.ServeHTTP(w, r)
				return
			}
			token := BearerToken(r.Header.Get("Authorization"))
			if token == "" && !cfg.Required {
				next.ServeHTTP(w, r)
				return
			}
			subject, err := v.Verify(token)
			if err != nil {
				deny(w, r, err)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))
			loggerpkg.Audit().Info("api_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", aw.status),
				slog.Int64("duration_ms", time.Since(start).Milliseconds()),
				slog.String("subject", subject.ID),
			)
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, err error) {
	status := xerrors.StatusOf(err)
	loggerpkg.Audit().Warn("access_denied",
		slog.String("path", r.URL.Path),
		slog.String("method", r.Method),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agenthub"`)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    string(xerrors.CodeOf(err)),
		"message": err.Error(),
	})
}

// auditWriter 包装 http.ResponseWriter 以捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 捕获响应状态码并调用底层的 WriteHeader 方法。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
