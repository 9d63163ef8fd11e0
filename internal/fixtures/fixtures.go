package fixtures

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/knowledge"
)

// Account 描述一个客户账户。
type Account struct {
	ID      string  `json:"id" yaml:"id"`
	Owner   string  `json:"owner" yaml:"owner"`
	Balance float64 `json:"balance" yaml:"balance"`
	Type    string  `json:"type" yaml:"type"`
}

// ClientNotes 保存某个客户的 CRM 备注，按录入顺序排列。
type ClientNotes struct {
	Name  string   `json:"name" yaml:"name"`
	Notes []string `json:"notes" yaml:"notes"`
}

// Dataset 是工具查询所依赖的全部静态数据。
type Dataset struct {
	Accounts []Account           `json:"accounts" yaml:"accounts"`
	Clients  []ClientNotes       `json:"clients" yaml:"clients"`
	Articles []knowledge.Article `json:"articles" yaml:"articles"`
}

// Default 返回内置的演示数据集。
func Default() *Dataset {
	return &Dataset{
		Accounts: []Account{
			{ID: "ACC-123", Owner: "Alice Smith", Balance: 15000.00, Type: "Checking"},
			{ID: "ACC-456", Owner: "Bob Jones", Balance: 2500.50, Type: "Savings"},
			{ID: "ACC-789", Owner: "Charlie Brown", Balance: 1000000.00, Type: "Investment"},
		},
		Clients: []ClientNotes{
			{Name: "Alice Smith", Notes: []string{"Interested in home loans.", "Called about wire transfer fees on 10/20."}},
			{Name: "Bob Jones", Notes: []string{"Saving for a new car.", "Prefer email communication."}},
			{Name: "Charlie Brown", Notes: []string{"High net worth individual.", "Looking for tax-efficient investment strategies."}},
		},
		Articles: []knowledge.Article{
			{ID: "KB-001", Title: "Wire Transfer Limits", Content: "Standard wire transfer limit is $50,000 per day. High-value clients can request up to $250,000."},
			{ID: "KB-002", Title: "Account Opening Requirements", Content: "Valid ID, proof of address, and initial deposit of $100 required."},
			{ID: "KB-003", Title: "Investment Products", Content: "We offer ETFs, Mutual Funds, and High-Yield Savings accounts."},
		},
	}
}

// LoadFile 从 JSON 或 YAML 文件加载数据集，格式由扩展名决定。
func LoadFile(path string) (*Dataset, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "数据集文件路径不能为空")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取数据集文件失败")
	}

	var ds Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &ds)
	default:
		err = json.Unmarshal(raw, &ds)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析数据集文件失败")
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate 检查主键是否为空或重复。
func (d *Dataset) Validate() error {
	if d == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "数据集不能为空")
	}
	seen := make(map[string]struct{}, len(d.Accounts))
	for _, account := range d.Accounts {
		if strings.TrimSpace(account.ID) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "账户 ID 不能为空")
		}
		if _, ok := seen[account.ID]; ok {
			return xerrors.New(xerrors.CodeConflict, fmt.Sprintf("账户 %s 重复", account.ID))
		}
		seen[account.ID] = struct{}{}
	}
	for _, client := range d.Clients {
		if strings.TrimSpace(client.Name) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, "客户名称不能为空")
		}
	}
	return nil
}
