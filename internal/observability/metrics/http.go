package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rm_copilot"

// Collector 汇总 HTTP 与 agent 运行指标，每个实例持有独立的注册表。
type Collector struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec

	runs        *prometheus.CounterVec
	runFailures prometheus.Counter
	runLatency  prometheus.Histogram
	toolCalls   *prometheus.CounterVec
	knownTools  map[string]struct{}
}

// Option 定制 Collector。
type Option func(*Collector)

// New 创建并注册全部指标。
func New(opts ...Option) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_runs_total",
			Help:      "Completed agent runs by verification status.",
		}, []string{"verification_status"}),
		runFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_run_errors_total",
			Help:      "Agent runs that returned an error instead of a response.",
		}),
		runLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_run_duration_seconds",
			Help:      "End-to-end agent run duration in seconds.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Plan steps executed per tool and outcome.",
		}, []string{"tool", "outcome"}),
	}
	WithToolNames(builtinTools...)(c)
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.registry.MustRegister(
		c.requests, c.errors, c.latency,
		c.runs, c.runFailures, c.runLatency, c.toolCalls,
		collectors.NewGoCollector(),
	)
	return c
}

// ObserveHTTPRequest 记录一次 HTTP 请求。nil Collector 不做任何事。
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.requests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		c.errors.WithLabelValues(handler, method).Inc()
	}
	c.latency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Handler 以 Prometheus 文本格式输出指标。
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry 暴露底层注册表，便于挂载额外的 collector。
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
