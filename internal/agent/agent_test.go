package agent

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/fixtures"
	"RM-Copilot/internal/llm"
	"RM-Copilot/internal/tools"
)

type call struct {
	system string
	user   string
}

// scriptedGateway 按系统提示词返回预设输出，并记录每次调用。
type scriptedGateway struct {
	mu     sync.Mutex
	plan   string
	verify string
	answer string
	calls  []call
}

func (g *scriptedGateway) Invoke(_ context.Context, system, user string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call{system: system, user: user})
	switch system {
	case VerifierPrompt:
		return g.verify
	case AnswerPrompt:
		return g.answer
	default:
		return g.plan
	}
}

type panicTool struct{}

func (panicTool) Name() string                  { return "account_lookup" }
func (panicTool) Description() string           { return "explodes" }
func (panicTool) Parameters() []tools.Parameter { return nil }
func (panicTool) Invoke(context.Context, map[string]any) (string, error) {
	panic("database on fire")
}

type failingTool struct{}

func (failingTool) Name() string                  { return "kb_search" }
func (failingTool) Description() string           { return "fails" }
func (failingTool) Parameters() []tools.Parameter { return nil }
func (failingTool) Invoke(context.Context, map[string]any) (string, error) {
	return "", xerrors.New(xerrors.CodeToolFailure, "index offline")
}

func newAgent(g *scriptedGateway) *Agent {
	return New(g, tools.NewDefaultRegistry(fixtures.Default()))
}

func TestRunEndToEnd(t *testing.T) {
	g := &scriptedGateway{
		plan: "```json\n" + `{"steps": [{"step_number": 1, "description": "Look up ACC-456", "tool_name": "account_lookup", "tool_args": {"account_id": "ACC-456"}}]}` + "\n```",
		verify: `{"status": "verified", "reason": "balance found"}`,
		answer: "Bob Jones holds $2,500.50 in savings.",
	}

	resp, err := newAgent(g).Run(context.Background(), "What is the balance of ACC-456?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resp.Plan.Steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(resp.Plan.Steps))
	}
	step := resp.Plan.Steps[0]
	if step.Result == nil || !strings.Contains(*step.Result, "Bob Jones") {
		t.Fatalf("unexpected step result: %v", step.Result)
	}
	if resp.FinalAnswer != g.answer {
		t.Fatalf("final answer should be returned verbatim, got %q", resp.FinalAnswer)
	}
	if resp.VerificationStatus != StatusVerified || resp.VerificationReason != "balance found" {
		t.Fatalf("unexpected verification: %s %q", resp.VerificationStatus, resp.VerificationReason)
	}
	if resp.RunID == "" || resp.Query != "What is the balance of ACC-456?" {
		t.Fatalf("unexpected response metadata: %+v", resp)
	}

	if len(g.calls) != 3 {
		t.Fatalf("expected 3 gateway calls, got %d", len(g.calls))
	}
	if !strings.Contains(g.calls[0].system, "account_lookup(account_id): Get account details (balance, owner, type).") {
		t.Fatalf("planner prompt should list tools, got %s", g.calls[0].system)
	}
	if g.calls[0].user != "What is the balance of ACC-456?" {
		t.Fatalf("planner should receive the raw query, got %q", g.calls[0].user)
	}
	if !strings.HasPrefix(g.calls[1].user, "Query: What is the balance of ACC-456?\n\nExecuted Plan:\n[\n  {") {
		t.Fatalf("unexpected verifier input: %q", g.calls[1].user)
	}
	if !strings.Contains(g.calls[2].user, "\n\nInformation Gathered:\n") || !strings.Contains(g.calls[2].user, "Bob Jones") {
		t.Fatalf("unexpected answer input: %q", g.calls[2].user)
	}
}

func TestRunToolFailureIsContained(t *testing.T) {
	registry, err := tools.NewRegistry(failingTool{}, tools.NewCRMNotes(fixtures.Default().Clients))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g := &scriptedGateway{
		plan: `{"steps": [
			{"step_number": 1, "description": "search", "tool_name": "kb_search", "tool_args": {"query": "wire"}},
			{"step_number": 2, "description": "notes", "tool_name": "crm_notes", "tool_args": {"client_name": "Alice"}}
		]}`,
		verify: `{"status": "failed"}`,
		answer: "partial answer",
	}

	resp, err := New(g, registry).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *resp.Plan.Steps[0].Result; got != "Error executing tool: index offline" {
		t.Fatalf("unexpected step result %q", got)
	}
	if !strings.Contains(*resp.Plan.Steps[1].Result, "Alice Smith") {
		t.Fatalf("execution should continue after a failure, got %q", *resp.Plan.Steps[1].Result)
	}
	if resp.FinalAnswer != "partial answer" || resp.VerificationStatus != StatusFailed {
		t.Fatalf("pipeline should reach the answer stage: %+v", resp)
	}
}

func TestRunRecoversToolPanic(t *testing.T) {
	registry, _ := tools.NewRegistry(panicTool{})
	g := &scriptedGateway{
		plan: `{"steps": [{"step_number": 1, "description": "x", "tool_name": "account_lookup", "tool_args": {}}]}`,
		answer: "done",
	}

	resp, err := New(g, registry).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *resp.Plan.Steps[0].Result; got != "Error executing tool: database on fire" {
		t.Fatalf("unexpected step result %q", got)
	}
	if resp.FinalAnswer != "done" {
		t.Fatalf("unexpected answer %q", resp.FinalAnswer)
	}
}

func TestRunArgumentErrorsAreRecorded(t *testing.T) {
	g := &scriptedGateway{
		plan: `{"steps": [{"step_number": 1, "description": "x", "tool_name": "account_lookup", "tool_args": {"account": "ACC-123"}}]}`,
		answer: "a",
	}
	resp, _ := newAgent(g).Run(context.Background(), "q")
	got := *resp.Plan.Steps[0].Result
	if !strings.HasPrefix(got, ToolErrorPrefix) || !strings.Contains(got, `unexpected argument "account"`) {
		t.Fatalf("unexpected step result %q", got)
	}
}

func TestRunEmptyPlan(t *testing.T) {
	g := &scriptedGateway{plan: "I cannot help with that.", verify: "not json", answer: "Sorry."}

	resp, err := newAgent(g).Run(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Plan.Steps) != 0 {
		t.Fatalf("expected empty plan, got %d steps", len(resp.Plan.Steps))
	}
	if resp.VerificationStatus != StatusUnknown {
		t.Fatalf("expected unknown status, got %s", resp.VerificationStatus)
	}
	if !strings.HasSuffix(g.calls[1].user, "Executed Plan:\n[]") {
		t.Fatalf("empty plan should render as [], got %q", g.calls[1].user)
	}

	encoded, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(encoded), `"plan":{"steps":[]}`) {
		t.Fatalf("empty plan should encode as an empty list: %s", encoded)
	}
}

func TestRunNoToolAndUnknownTool(t *testing.T) {
	g := &scriptedGateway{
		plan: `{"steps": [
			{"step_number": 1, "description": "think", "tool_name": null, "tool_args": null},
			{"step_number": 2, "description": "search web", "tool_name": "web_search", "tool_args": {"q": "x"}},
			"not a step",
			{"description": "missing number", "tool_name": ""}
		]}`,
		verify: `{"status": "VERIFIED"}`,
		answer: "ok",
	}

	resp, _ := newAgent(g).Run(context.Background(), "q")
	if len(resp.Plan.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(resp.Plan.Steps))
	}
	for i, step := range resp.Plan.Steps {
		if step.Result == nil || *step.Result != NoToolSentinel {
			t.Fatalf("step %d: unexpected result %v", i, step.Result)
		}
	}
	if resp.Plan.Steps[0].ToolName != nil || resp.Plan.Steps[2].ToolName != nil {
		t.Fatalf("null or empty tool names should decode as nil")
	}
	if resp.Plan.Steps[2].StepNumber != 0 {
		t.Fatalf("missing step_number should default to 0")
	}
	if resp.VerificationStatus != StatusVerified {
		t.Fatalf("status should be normalised, got %s", resp.VerificationStatus)
	}
}

func TestRunGatewayErrorTextBecomesAnswer(t *testing.T) {
	g := &scriptedGateway{
		plan:   "Error calling LLM: timeout",
		verify: "Error calling LLM: timeout",
		answer: "Error calling LLM: timeout",
	}
	resp, err := newAgent(g).Run(context.Background(), "q")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinalAnswer != "Error calling LLM: timeout" || resp.VerificationStatus != StatusUnknown {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestRunRequiresGateway(t *testing.T) {
	_, err := New(nil, nil).Run(context.Background(), "q")
	if xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected initialization failure, got %v", err)
	}
}

func TestRunCancelledBeforePlanning(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := &scriptedGateway{}
	_, err := newAgent(g).Run(ctx, "q")
	if xerrors.CodeOf(err) != xerrors.CodeCancelled {
		t.Fatalf("expected cancelled error, got %v", err)
	}
	if len(g.calls) != 0 {
		t.Fatalf("gateway should not be called")
	}
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]VerificationStatus{
		"verified": StatusVerified,
		" Failed ": StatusFailed,
		"partial":  StatusUnknown,
		"":         StatusUnknown,
		"unknown":  StatusUnknown,
	}
	for in, want := range cases {
		if got := NormalizeStatus(in); got != want {
			t.Fatalf("NormalizeStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestStageTimeoutDegradesToErrorText(t *testing.T) {
	// 校验阶段的模型调用一直挂起，其余阶段正常返回。
	client := llm.ClientFunc(func(ctx context.Context, req llm.Request) (string, error) {
		switch req.Messages[0].Content {
		case VerifierPrompt:
			<-ctx.Done()
			return "", ctx.Err()
		case AnswerPrompt:
			return "ACC-123 belongs to Alice Smith.", nil
		default:
			return `{"steps": [{"step_number": 1, "description": "Look up", "tool_name": "account_lookup", "tool_args": {"account_id": "ACC-123"}}]}`, nil
		}
	})
	ag := New(llm.NewGateway(client), tools.NewDefaultRegistry(fixtures.Default()), WithStageTimeout(50*time.Millisecond))

	start := time.Now()
	resp, err := ag.Run(context.Background(), "Who owns ACC-123?")
	if err != nil {
		t.Fatalf("run should degrade instead of failing: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("stage timeout not applied: %v", elapsed)
	}
	if resp.VerificationStatus != StatusUnknown {
		t.Fatalf("timed out verification should be unknown, got %s", resp.VerificationStatus)
	}
	if step := resp.Plan.Steps[0]; step.Result == nil || !strings.Contains(*step.Result, "Alice Smith") {
		t.Fatalf("plan should still execute: %+v", resp.Plan)
	}
	if resp.FinalAnswer != "ACC-123 belongs to Alice Smith." {
		t.Fatalf("answer stage should still run, got %q", resp.FinalAnswer)
	}
}

func TestStageTimeoutErrorTextReachesAnswer(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, _ llm.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	ag := New(llm.NewGateway(client), nil, WithStageTimeout(20*time.Millisecond))

	resp, err := ag.Run(context.Background(), "anything")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Plan.Steps) != 0 || resp.FinalAnswer != "Error calling LLM: context deadline exceeded" {
		t.Fatalf("unexpected degraded response: %+v", resp)
	}
}
