// Package metrics exposes the Prometheus collectors of the service.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agenthub"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_request_errors_total",
		Help:      "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"handler", "method"})

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Wall-clock duration of a chat turn.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	turnMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turn_messages_total",
		Help:      "Chat messages emitted by turns, by author type.",
	}, []string{"author_type"})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_calls_total",
		Help:      "Tool invocations by tool name and outcome.",
	}, []string{"tool", "success"})

	agentBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "agent_builds_total",
		Help:      "Agent graph builds by result.",
	}, []string{"result"})

	coldStart = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "agent_cold_start_seconds",
		Help:      "Time spent rebuilding an agent graph before a turn.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_jobs_total",
		Help:      "Async chat-turn jobs by final status.",
	}, []string{"status"})
)

// ObserveHTTPRequest 记录一次 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpDuration.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveTurn 记录一轮对话的耗时。
func ObserveTurn(duration time.Duration) {
	turnDuration.Observe(duration.Seconds())
}

// IncMessage 记录一条输出消息。
func IncMessage(authorType string) {
	turnMessages.WithLabelValues(authorType).Inc()
}

// IncToolCall 记录一次工具调用。
func IncToolCall(tool string, success bool) {
	toolCalls.WithLabelValues(tool, strconv.FormatBool(success)).Inc()
}

// ObserveBuild 记录 agent 构建结果，成功时同时记录冷启动耗时。
func ObserveBuild(err error, cold time.Duration) {
	if err != nil {
		agentBuilds.WithLabelValues("error").Inc()
		return
	}
	agentBuilds.WithLabelValues("ok").Inc()
	coldStart.Observe(cold.Seconds())
}

// IncJob 记录一个结束的异步任务。
func IncJob(status string) {
	jobs.WithLabelValues(status).Inc()
}

// Handler 以 Prometheus 文本格式暴露指标。
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartServer 启动独立的 /metrics 服务。
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
