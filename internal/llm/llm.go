package llm

import "context"

// Role 标识对话消息的角色。
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 是发送给大模型的一条对话消息。
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次补全调用。
type Request struct {
	Messages    []Message
	Temperature float64
}

// Client 定义了调用大模型的统一接口。实现方在传输失败时返回错误，
// 由 Gateway 负责把错误转换为文本。
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// ClientFunc 允许使用普通函数实现 Client。
type ClientFunc func(ctx context.Context, req Request) (string, error)

// Complete 实现 Client 接口。
func (f ClientFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
