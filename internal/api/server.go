package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"RM-Copilot/internal/agent"
	"RM-Copilot/internal/jobs"
	"RM-Copilot/internal/observability/metrics"
	"RM-Copilot/pkg/logger"
)

// Server 负责暴露 REST 接口，供外部驱动 agent 执行。
type Server struct {
	addr            string
	runner          agent.Runner
	runs            *jobs.Service
	metrics         *metrics.Collector
	router          *mux.Router
	logger          *slog.Logger
	readTimeout     time.Duration
	shutdownTimeout time.Duration
}

// Option 定制 Server。
type Option func(*Server)

// WithRunService 挂载异步运行接口。未设置时 /api/v1/runs 返回 503。
func WithRunService(svc *jobs.Service) Option {
	return func(s *Server) {
		s.runs = svc
	}
}

// WithMetrics 启用 HTTP 指标并挂载 GET /metrics。
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Server) {
		s.metrics = c
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTimeouts 设置读请求头超时和优雅关闭的等待时间。
func WithTimeouts(read, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, runner agent.Runner, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		runner:          runner,
		router:          mux.NewRouter(),
		logger:          logger.Named("api"),
		readTimeout:     5 * time.Second,
		shutdownTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s
}

// Handler 返回已注册路由的处理器，便于测试。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, listener)
}

// Serve 在给定的 listener 上提供服务，ctx 取消时优雅关闭。
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:           withContext(ctx, s.router),
		ReadHeaderTimeout: s.readTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", listener.Addr().String()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeDetail(w, http.StatusServiceUnavailable, "服务已关闭")
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
