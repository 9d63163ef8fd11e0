package agent

import (
	"context"
	"fmt"
	"log/slog"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/tools"
	"RM-Copilot/pkg/logger"
)

// Executor 依次执行计划中的步骤，单个步骤的失败被记录到结果中而不向外传播。
type Executor struct {
	registry *tools.Registry
	logger   *slog.Logger
}

// NewExecutor 创建执行器，工具集合在构造时固定。
func NewExecutor(registry *tools.Registry, l *slog.Logger) *Executor {
	if l == nil {
		l = logger.Named("executor")
	}
	return &Executor{registry: registry, logger: l}
}

// Execute 原地填充每个步骤的结果。该阶段整体不会失败。
func (e *Executor) Execute(ctx context.Context, plan *Plan) {
	e.logger.Info("开始执行计划", slog.Int("steps", len(plan.Steps)))
	for i := range plan.Steps {
		step := &plan.Steps[i]

		tool, ok := e.registry.Lookup(step.Tool())
		if step.Tool() == "" || !ok {
			step.setResult(NoToolSentinel)
			continue
		}

		e.logger.Info("执行步骤", slog.Int("step", step.StepNumber), slog.String("tool", tool.Name()))
		out, err := invokeSafely(ctx, tool, step.ToolArgs)
		if err != nil {
			msg := ToolErrorPrefix + errorText(err)
			e.logger.Error(msg, slog.Int("step", step.StepNumber), slog.String("tool", tool.Name()))
			step.setResult(msg)
			continue
		}
		e.logger.Info("工具执行成功", slog.String("tool", tool.Name()))
		step.setResult(out)
	}
}

// invokeSafely 调用工具并把 panic 转换为错误。
func invokeSafely(ctx context.Context, tool tools.Tool, args map[string]any) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(xerrors.CodeToolFailure, fmt.Sprint(r))
		}
	}()
	if args == nil {
		args = map[string]any{}
	}
	return tool.Invoke(ctx, args)
}

// errorText 返回不带错误码前缀的错误描述。
func errorText(err error) string {
	if e, ok := xerrors.From(err); ok {
		if cause := e.Unwrap(); cause != nil {
			return fmt.Sprintf("%s: %v", e.Message(), cause)
		}
		return e.Message()
	}
	return err.Error()
}
