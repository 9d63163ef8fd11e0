package eval

import (
	"context"
	"fmt"
	"strings"

	"RM-Copilot/internal/llm"
)

// JudgeParseError 是评判结果无法解析时记录的说明。
const JudgeParseError = "Failed to parse LLM judgment"

const judgePrompt = `
You are an impartial judge evaluating an AI agent's response.

User Query: %s
Agent Response: %s

Expected Facts:
%s

Task: Check if the Agent Response contains the information from the Expected Facts.
For each fact, determine if it is present (Pass) or missing (Fail).

Output JSON format:
{
    "results": [
        {"fact": "fact text", "status": "Pass"},
        {"fact": "fact text", "status": "Fail"}
    ],
    "score": <number of passed facts / total facts>
}
`

// FactResult 是单条事实的评判。
type FactResult struct {
	Fact   string `json:"fact"`
	Status string `json:"status"`
}

// Judgement 是一次事实召回评判的结果。
type Judgement struct {
	Results []FactResult `json:"results"`
	Score   float64      `json:"score"`
	Error   string       `json:"error,omitempty"`
}

// JudgePrompt 构造评判用的提示词。
func JudgePrompt(query, answer string, facts []string) string {
	lines := make([]string, len(facts))
	for i, fact := range facts {
		lines[i] = "- " + fact
	}
	return fmt.Sprintf(judgePrompt, query, answer, strings.Join(lines, "\n"))
}

// Judge 让模型判断回答中包含了哪些期望事实。提示词只作为 user 消息发送。
func Judge(ctx context.Context, judge llm.Invoker, query, answer string, facts []string) Judgement {
	payload := llm.Parse(judge.Invoke(ctx, "", JudgePrompt(query, answer, facts)))
	if payload.Degraded() {
		return Judgement{Results: []FactResult{}, Score: 0, Error: JudgeParseError}
	}

	judgement := Judgement{
		Results: []FactResult{},
		Score:   payload.Float("score", 0),
	}
	for _, item := range payload.List("results") {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		fact, _ := entry["fact"].(string)
		status, _ := entry["status"].(string)
		judgement.Results = append(judgement.Results, FactResult{Fact: fact, Status: status})
	}
	return judgement
}
