package eval

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	xerrors "RM-Copilot/internal/errors"
)

// Case 是评估集中的一条用例。
type Case struct {
	ID            string   `json:"id"`
	Query         string   `json:"query"`
	ExpectedTools []string `json:"expected_tools"`
	ExpectedFacts []string `json:"expected_facts"`
}

// LoadDataset 读取 JSON 格式的评估集。
func LoadDataset(path string) ([]Case, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeConfigFailure, "评估集路径不能为空")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "读取评估集失败")
	}
	var cases []Case
	if err := json.Unmarshal(content, &cases); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigFailure, err, "解析评估集失败")
	}
	for i, c := range cases {
		if strings.TrimSpace(c.ID) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("第 %d 条用例缺少 id", i+1))
		}
		if strings.TrimSpace(c.Query) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("用例 %s 缺少 query", c.ID))
		}
	}
	return cases, nil
}
