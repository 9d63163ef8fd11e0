package eval

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"RM-Copilot/internal/agent"
	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/llm"
	"RM-Copilot/pkg/logger"
)

// CaseResult 是单条用例的评估结果。
type CaseResult struct {
	ID            string     `json:"id"`
	ToolMatch     bool       `json:"tool_match"`
	ExecutedTools []string   `json:"executed_tools,omitempty"`
	FactScore     float64    `json:"fact_score"`
	Details       *Judgement `json:"details,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Summary 汇总整个评估集。
type Summary struct {
	Total            int     `json:"total"`
	ToolMatches      int     `json:"tool_matches"`
	ToolAccuracy     float64 `json:"tool_accuracy"`
	AverageFactScore float64 `json:"average_fact_score"`
	Errors           int     `json:"errors"`
}

// Report 是一次评估的完整输出。
type Report struct {
	Results []CaseResult `json:"results"`
	Summary Summary      `json:"summary"`
}

// Evaluator 依次执行用例并打分。
type Evaluator struct {
	runner agent.Runner
	judge  llm.Invoker
	logger *slog.Logger
}

// Option 定制 Evaluator。
type Option func(*Evaluator)

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEvaluator 使用 agent 与评判模型构造 Evaluator。
func NewEvaluator(runner agent.Runner, judge llm.Invoker, opts ...Option) *Evaluator {
	e := &Evaluator{runner: runner, judge: judge, logger: logger.Named("eval")}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run 顺序执行所有用例。单条用例失败只记录在结果中，ctx 取消时返回错误。
func (e *Evaluator) Run(ctx context.Context, cases []Case) (*Report, error) {
	if e.runner == nil || e.judge == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "评估器未初始化")
	}

	results := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeCancelled, err, "评估被取消")
		}
		result := e.runCase(ctx, c)
		results = append(results, result)
	}
	return &Report{Results: results, Summary: Summarize(results)}, nil
}

func (e *Evaluator) runCase(ctx context.Context, c Case) CaseResult {
	log := e.logger.With(slog.String("case_id", c.ID))

	resp, err := e.runner.Run(ctx, c.Query)
	if err != nil {
		log.Error("用例执行失败", slog.Any("error", err))
		return CaseResult{ID: c.ID, Error: err.Error()}
	}

	executed := resp.Plan.ToolNames()
	judgement := Judge(ctx, e.judge, c.Query, resp.FinalAnswer, c.ExpectedFacts)
	result := CaseResult{
		ID:            c.ID,
		ToolMatch:     containsAll(executed, c.ExpectedTools),
		ExecutedTools: executed,
		FactScore:     judgement.Score,
		Details:       &judgement,
	}
	log.Info("用例完成",
		slog.Bool("tool_match", result.ToolMatch),
		slog.Any("executed_tools", executed),
		slog.Float64("fact_score", result.FactScore),
	)
	return result
}

// Summarize 计算工具匹配率与平均事实得分。出错的用例按 0 分计入。
func Summarize(results []CaseResult) Summary {
	summary := Summary{Total: len(results)}
	if summary.Total == 0 {
		return summary
	}
	var scoreSum float64
	for _, r := range results {
		if r.ToolMatch {
			summary.ToolMatches++
		}
		if r.Error != "" {
			summary.Errors++
		}
		scoreSum += r.FactScore
	}
	summary.ToolAccuracy = float64(summary.ToolMatches) / float64(summary.Total)
	summary.AverageFactScore = scoreSum / float64(summary.Total)
	return summary
}

// WriteResults 以两个空格缩进写出逐条结果。
func WriteResults(path string, results []CaseResult) error {
	if results == nil {
		results = []CaseResult{}
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(results); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化评估结果失败")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建结果目录失败")
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入评估结果失败")
	}
	return nil
}

// containsAll 判断 expected 是否为 executed 的子集，忽略顺序与重复。
func containsAll(executed, expected []string) bool {
	set := make(map[string]struct{}, len(executed))
	for _, name := range executed {
		set[name] = struct{}{}
	}
	for _, name := range expected {
		if _, ok := set[name]; !ok {
			return false
		}
	}
	return true
}
