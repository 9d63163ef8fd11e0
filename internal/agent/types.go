package agent

import (
	"bytes"
	"encoding/json"
	"strings"
)

// NoToolSentinel 是未指定工具或工具不存在时写入步骤结果的文本。
const NoToolSentinel = "No tool execution needed or tool not found."

// ToolErrorPrefix 是工具执行失败时步骤结果的前缀。
const ToolErrorPrefix = "Error executing tool: "

// VerificationStatus 是校验阶段给出的建议性结论。
type VerificationStatus string

const (
	StatusVerified VerificationStatus = "verified"
	StatusFailed   VerificationStatus = "failed"
	StatusUnknown  VerificationStatus = "unknown"
)

// NormalizeStatus 把模型返回的状态归一到 verified|failed|unknown。
func NormalizeStatus(raw string) VerificationStatus {
	switch VerificationStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusVerified:
		return StatusVerified
	case StatusFailed:
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Step 是计划中的一个步骤，执行后 Result 被原地填充。
type Step struct {
	StepNumber  int            `json:"step_number"`
	Description string         `json:"description"`
	ToolName    *string        `json:"tool_name"`
	ToolArgs    map[string]any `json:"tool_args"`
	Result      *string        `json:"result"`
}

// Tool 返回工具名称，未指定时为空字符串。
func (s *Step) Tool() string {
	if s == nil || s.ToolName == nil {
		return ""
	}
	return *s.ToolName
}

func (s *Step) setResult(text string) {
	s.Result = &text
}

// Plan 是有序的步骤列表，插入顺序即执行顺序。
type Plan struct {
	Steps []Step `json:"steps"`
}

// MarshalJSON 保证空计划序列化为 {"steps": []}。
func (p Plan) MarshalJSON() ([]byte, error) {
	steps := p.Steps
	if steps == nil {
		steps = []Step{}
	}
	return json.Marshal(struct {
		Steps []Step `json:"steps"`
	}{Steps: steps})
}

// ToolNames 按顺序返回计划中指定的工具名称。
func (p *Plan) ToolNames() []string {
	names := make([]string, 0, len(p.Steps))
	for i := range p.Steps {
		if name := p.Steps[i].Tool(); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// Render 以两个空格缩进序列化步骤列表，作为校验与回答阶段的输入。
func (p *Plan) Render() string {
	steps := p.Steps
	if steps == nil {
		steps = []Step{}
	}
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(steps); err != nil {
		return "[]"
	}
	return strings.TrimRight(buf.String(), "\n")
}

// AgentResponse 是一次运行的最终结果。
type AgentResponse struct {
	RunID              string             `json:"run_id,omitempty"`
	Query              string             `json:"query"`
	Plan               Plan               `json:"plan"`
	FinalAnswer        string             `json:"final_answer"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationReason string             `json:"verification_reason,omitempty"`
}
