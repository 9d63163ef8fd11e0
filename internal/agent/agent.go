package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/llm"
	"RM-Copilot/internal/tools"
	"RM-Copilot/pkg/logger"
)

// Runner 是对外暴露的唯一业务入口，便于传输层与任务处理器替换实现。
type Runner interface {
	Run(ctx context.Context, query string) (*AgentResponse, error)
}

// Agent 按 规划 -> 执行 -> 校验 -> 回答 的顺序编排一次查询。
// Agent 本身无状态，可被并发请求共享。
type Agent struct {
	gateway       llm.Invoker
	registry      *tools.Registry
	executor      *Executor
	plannerPrompt string
	stageTimeout  time.Duration
	logger        *slog.Logger
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithLogger 指定日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithStageTimeout 限制每个阶段调用大模型的总时长，非正值表示不限制。
func WithStageTimeout(timeout time.Duration) Option {
	return func(a *Agent) {
		if timeout <= 0 {
			a.stageTimeout = 0
			return
		}
		a.stageTimeout = timeout
	}
}

// New 创建一个 Agent。registry 为 nil 时使用内置数据集的默认工具。
func New(gateway llm.Invoker, registry *tools.Registry, opts ...Option) *Agent {
	if registry == nil {
		registry = tools.NewDefaultRegistry(nil)
	}
	ag := &Agent{
		gateway:  gateway,
		registry: registry,
		logger:   logger.Named("agent"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ag)
		}
	}
	ag.executor = NewExecutor(registry, ag.logger)
	ag.plannerPrompt = PlannerPrompt(registry)
	return ag
}

// Run 执行完整流水线。各阶段失败都会降级为默认值，
// 仅在未配置大模型或上下文在规划前已取消时返回错误。
func (a *Agent) Run(ctx context.Context, query string) (*AgentResponse, error) {
	// 验证必要的组件是否已配置。
	if a == nil || a.gateway == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型网关")
	}
	if err := ctx.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeCancelled, err, "请求在规划前已取消")
	}

	runID := uuid.NewString()
	log := a.logger.With(slog.String("run_id", runID))
	started := time.Now()

	// 1. 规划
	plan := a.plan(ctx, log, query)

	// 2. 执行
	a.executor.Execute(ctx, &plan)

	// 3. 校验
	status, reason := a.verify(ctx, query, &plan)

	// 4. 回答
	answer := a.invoke(ctx, AnswerPrompt, answerInput(query, &plan))

	logger.Audit().Info("agent 运行完成",
		slog.String("run_id", runID),
		slog.String("query", query),
		slog.Int("steps", len(plan.Steps)),
		slog.Any("tools", plan.ToolNames()),
		slog.String("verification_status", string(status)),
		slog.Duration("duration", time.Since(started)),
	)

	return &AgentResponse{
		RunID:              runID,
		Query:              query,
		Plan:               plan,
		FinalAnswer:        answer,
		VerificationStatus: status,
		VerificationReason: reason,
	}, nil
}

func (a *Agent) plan(ctx context.Context, log *slog.Logger, query string) Plan {
	log.Info("开始规划", slog.String("query", query))
	raw := a.invoke(ctx, a.plannerPrompt, query)
	log.Debug("规划原始输出", slog.String("raw", raw))

	steps := decodeSteps(llm.Parse(raw))
	log.Info("生成计划", slog.Int("steps", len(steps)))
	return Plan{Steps: steps}
}

func (a *Agent) verify(ctx context.Context, query string, plan *Plan) (VerificationStatus, string) {
	payload := llm.Parse(a.invoke(ctx, VerifierPrompt, verifyInput(query, plan)))
	status := NormalizeStatus(payload.String("status", string(StatusUnknown)))
	return status, payload.String("reason", "")
}

func (a *Agent) invoke(ctx context.Context, system, user string) string {
	if a.stageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.stageTimeout)
		defer cancel()
	}
	return a.gateway.Invoke(ctx, system, user)
}

// decodeSteps 从规划输出中构建步骤，非对象条目被忽略，缺失字段取默认值。
func decodeSteps(payload llm.Payload) []Step {
	entries := payload.List("steps")
	steps := make([]Step, 0, len(entries))
	for _, entry := range entries {
		fields, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		step := Step{
			StepNumber: llm.ToInt(fields["step_number"], 0),
		}
		step.Description, _ = fields["description"].(string)
		if name, ok := fields["tool_name"].(string); ok && name != "" {
			step.ToolName = &name
		}
		if args, ok := fields["tool_args"].(map[string]any); ok {
			step.ToolArgs = args
		}
		steps = append(steps, step)
	}
	return steps
}

var _ Runner = (*Agent)(nil)
