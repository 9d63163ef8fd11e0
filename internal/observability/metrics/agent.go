package metrics

import (
	"context"
	"strings"
	"time"

	"RM-Copilot/internal/agent"
	"RM-Copilot/internal/tools"
)

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeSkipped = "skipped"

	// unknownTool 汇总注册表之外的工具名，模型输出不能扩张标签集合。
	unknownTool = "unknown"
)

var builtinTools = []string{tools.NameAccountLookup, tools.NameKBSearch, tools.NameCRMNotes}

// WithToolNames 指定可作为 tool 标签的工具名，默认是内置的三个工具。
func WithToolNames(names ...string) Option {
	return func(c *Collector) {
		c.knownTools = make(map[string]struct{}, len(names))
		for _, name := range names {
			c.knownTools[name] = struct{}{}
		}
	}
}

func (c *Collector) toolLabel(name string) string {
	if _, ok := c.knownTools[name]; ok {
		return name
	}
	return unknownTool
}

// ObserveRun 记录一次 agent 运行的结果与各步骤的工具调用。
func (c *Collector) ObserveRun(resp *agent.AgentResponse, err error, duration time.Duration) {
	if c == nil {
		return
	}
	c.runLatency.Observe(duration.Seconds())
	if err != nil || resp == nil {
		c.runFailures.Inc()
		return
	}
	c.runs.WithLabelValues(string(resp.VerificationStatus)).Inc()
	for i := range resp.Plan.Steps {
		step := &resp.Plan.Steps[i]
		name := step.Tool()
		if name == "" {
			continue
		}
		c.toolCalls.WithLabelValues(c.toolLabel(name), stepOutcome(step)).Inc()
	}
}

func stepOutcome(step *agent.Step) string {
	switch {
	case step.Result == nil, *step.Result == agent.NoToolSentinel:
		return outcomeSkipped
	case strings.HasPrefix(*step.Result, agent.ToolErrorPrefix):
		return outcomeError
	default:
		return outcomeOK
	}
}

type instrumentedRunner struct {
	next      agent.Runner
	collector *Collector
}

// InstrumentRunner 包装 runner，使每次 Run 都计入指标。collector 为 nil 时原样返回。
func InstrumentRunner(next agent.Runner, c *Collector) agent.Runner {
	if c == nil || next == nil {
		return next
	}
	return &instrumentedRunner{next: next, collector: c}
}

func (r *instrumentedRunner) Run(ctx context.Context, query string) (*agent.AgentResponse, error) {
	start := time.Now()
	resp, err := r.next.Run(ctx, query)
	r.collector.ObserveRun(resp, err, time.Since(start))
	return resp, err
}
