package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	xerrors "RM-Copilot/internal/errors"
)

// Parameter 描述工具的一个命名参数。
type Parameter struct {
	Name     string
	Required bool
}

// Tool 是一个只读查询工具：校验参数后返回文本结果。
// 查询未命中不是错误，而是返回说明性的哨兵文本。
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Invoke(ctx context.Context, args map[string]any) (string, error)
}

const (
	// CodeUnexpectedArgument 表示传入了工具未声明的参数。
	CodeUnexpectedArgument xerrors.Code = "TOOL_UNEXPECTED_ARGUMENT"
	// CodeMissingArgument 表示缺少必填参数。
	CodeMissingArgument xerrors.Code = "TOOL_MISSING_ARGUMENT"
	// CodeArgumentType 表示参数类型不符合声明。
	CodeArgumentType xerrors.Code = "TOOL_ARGUMENT_TYPE"
)

func init() {
	for _, code := range []xerrors.Code{CodeUnexpectedArgument, CodeMissingArgument, CodeArgumentType} {
		xerrors.Register(code, xerrors.Attributes{
			Message:  "invalid tool arguments",
			Severity: xerrors.SeverityInfo,
		})
	}
}

// Signature 渲染形如 name(arg1, arg2) 的工具签名，供提示词使用。
func Signature(tool Tool) string {
	params := tool.Parameters()
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	return fmt.Sprintf("%s(%s)", tool.Name(), strings.Join(names, ", "))
}

// bindStrings 按声明校验参数：拒绝未知参数、缺失的必填参数以及非字符串取值。
func bindStrings(tool string, params []Parameter, args map[string]any) (map[string]string, error) {
	declared := make(map[string]Parameter, len(params))
	for _, p := range params {
		declared[p.Name] = p
	}

	unknown := make([]string, 0)
	for key := range args {
		if _, ok := declared[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, xerrors.New(CodeUnexpectedArgument,
			fmt.Sprintf("%s() got an unexpected argument %q", tool, unknown[0]))
	}

	bound := make(map[string]string, len(params))
	for _, p := range params {
		raw, ok := args[p.Name]
		if !ok || raw == nil {
			if p.Required {
				return nil, xerrors.New(CodeMissingArgument,
					fmt.Sprintf("%s() missing required argument %q", tool, p.Name))
			}
			continue
		}
		value, ok := raw.(string)
		if !ok {
			return nil, xerrors.New(CodeArgumentType,
				fmt.Sprintf("%s() argument %q must be a string, got %T", tool, p.Name, raw))
		}
		bound[p.Name] = value
	}
	return bound, nil
}

// encode 以两个空格缩进序列化结果，不转义 HTML 字符。
func encode(v any) (string, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return "", xerrors.Wrap(xerrors.CodeToolFailure, err, "序列化工具结果失败")
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
