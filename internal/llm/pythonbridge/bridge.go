package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/llm"
)

// Client 通过调用外部脚本实现大模型推理，适用于本地或离线模型。
// 请求以 JSON 写入标准输入，脚本在标准输出返回 {"content": "..."} 或纯文本。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
	model      string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir, model string) (*Client, error) {
	if strings.TrimSpace(scriptPath) == "" {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
		model:      model,
	}, nil
}

// Complete 调用外部脚本，并解析输出。
func (c *Client) Complete(ctx context.Context, req llm.Request) (string, error) {
	encoded, err := json.Marshal(map[string]any{
		"model":       c.model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	})
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeGatewayFailure, err, "序列化请求失败", xerrors.WithRetryable(false))
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", xerrors.Wrap(xerrors.CodeGatewayFailure,
			fmt.Errorf("%v, stderr=%s", err, strings.TrimSpace(stderr.String())),
			"执行 Python 脚本失败")
	}

	out := bytes.TrimSpace(stdout.Bytes())
	var resp struct {
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(out, &resp); err == nil && resp.Content != nil {
		return *resp.Content, nil
	}
	return string(out), nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(baseDir, script string) string {
	if script == "" {
		return ""
	}
	if filepath.IsAbs(script) {
		return script
	}
	if baseDir == "" {
		return script
	}
	return filepath.Join(baseDir, script)
}

var _ llm.Client = (*Client)(nil)
