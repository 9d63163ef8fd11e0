package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/pkg/logger"
)

const (
	// MissingClientText 是未配置模型客户端时的返回值。
	MissingClientText = "Error: LLM API key not configured."

	errorPrefix = "Error calling LLM: "

	defaultTimeout    = 60 * time.Second
	defaultRetryDelay = 500 * time.Millisecond
)

// Invoker 是编排器依赖的最小接口：输入系统提示词与用户内容，总是返回文本。
type Invoker interface {
	Invoke(ctx context.Context, system, user string) string
}

// Gateway 封装一次同步的大模型调用，把所有失败都吸收为描述性文本。
type Gateway struct {
	client     Client
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

// GatewayOption 自定义 Gateway 行为。
type GatewayOption func(*Gateway)

// WithTimeout 设置单次调用的超时时间，非正值表示使用默认值。
func WithTimeout(timeout time.Duration) GatewayOption {
	return func(g *Gateway) {
		if timeout > 0 {
			g.timeout = timeout
		}
	}
}

// WithRetries 设置传输失败后的重试次数，重试间隔线性递增。
func WithRetries(retries int, delay time.Duration) GatewayOption {
	return func(g *Gateway) {
		if retries >= 0 {
			g.retries = retries
		}
		if delay > 0 {
			g.retryDelay = delay
		}
	}
}

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGateway 创建 Gateway。client 为 nil 时所有调用都返回 MissingClientText。
func NewGateway(client Client, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		client:     client,
		timeout:    defaultTimeout,
		retryDelay: defaultRetryDelay,
		logger:     logger.Named("llm"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Configured 表示是否绑定了可用的客户端。
func (g *Gateway) Configured() bool {
	return g != nil && g.client != nil
}

// Invoke 发送对话并返回模型输出。system 为空时只发送用户消息。
// 该方法从不返回错误：缺少客户端或调用失败时返回以 "Error" 开头的文本。
func (g *Gateway) Invoke(ctx context.Context, system, user string) string {
	if !g.Configured() {
		return MissingClientText
	}

	messages := make([]Message, 0, 2)
	if system != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	messages = append(messages, Message{Role: RoleUser, Content: user})
	req := Request{Messages: messages, Temperature: 0}

	var lastErr error
	for attempt := 0; attempt <= g.retries; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, time.Duration(attempt)*g.retryDelay); err != nil {
				lastErr = err
				break
			}
		}
		out, err := g.complete(ctx, req)
		if err == nil {
			return out
		}
		lastErr = err
		g.logger.Warn("大模型调用失败", "attempt", attempt+1, "error", err)
		if ctx.Err() != nil || !retryable(err) {
			break
		}
	}
	return errorPrefix + describe(lastErr)
}

func (g *Gateway) complete(ctx context.Context, req Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return g.client.Complete(callCtx, req)
}

// IsErrorText 判断文本是否为 Gateway 生成的失败占位文本。
func IsErrorText(text string) bool {
	return text == MissingClientText || strings.HasPrefix(text, errorPrefix)
}

func retryable(err error) bool {
	if _, ok := xerrors.From(err); ok {
		return xerrors.RetryableError(err)
	}
	return true
}

// describe 生成面向用户的失败原因，去掉错误码前缀。
func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	if e, ok := xerrors.From(err); ok {
		if cause := e.Unwrap(); cause != nil {
			return fmt.Sprintf("%s: %v", e.Message(), cause)
		}
		return e.Message()
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
