package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"RM-Copilot/internal/fixtures"
	"RM-Copilot/internal/knowledge"
)

const (
	NameAccountLookup = "account_lookup"
	NameKBSearch      = "kb_search"
	NameCRMNotes      = "crm_notes"
)

// NoArticlesFound 是知识库检索未命中时的返回值。
const NoArticlesFound = "No relevant articles found."

// AccountLookupArgs 是 account_lookup 的参数。
type AccountLookupArgs struct {
	AccountID string
}

// AccountLookup 按账户 ID 精确查询账户详情。
type AccountLookup struct {
	accounts map[string]fixtures.Account
}

// NewAccountLookup 基于账户列表创建工具，列表会被复制。
func NewAccountLookup(accounts []fixtures.Account) *AccountLookup {
	index := make(map[string]fixtures.Account, len(accounts))
	for _, account := range accounts {
		index[account.ID] = account
	}
	return &AccountLookup{accounts: index}
}

func (t *AccountLookup) Name() string { return NameAccountLookup }

func (t *AccountLookup) Description() string {
	return "Get account details (balance, owner, type)."
}

func (t *AccountLookup) Parameters() []Parameter {
	return []Parameter{{Name: "account_id", Required: true}}
}

// Invoke 实现 Tool 接口。
func (t *AccountLookup) Invoke(ctx context.Context, args map[string]any) (string, error) {
	bound, err := bindStrings(t.Name(), t.Parameters(), args)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.Lookup(AccountLookupArgs{AccountID: bound["account_id"]})
}

// Lookup 返回账户 JSON，未找到时返回 "Account <id> not found."。
func (t *AccountLookup) Lookup(args AccountLookupArgs) (string, error) {
	account, ok := t.accounts[args.AccountID]
	if !ok {
		return fmt.Sprintf("Account %s not found.", args.AccountID), nil
	}
	return encode(account)
}

// KBSearchArgs 是 kb_search 的参数。
type KBSearchArgs struct {
	Query string
}

// KBSearch 在知识库中做关键词检索。
type KBSearch struct {
	provider knowledge.Provider
}

// NewKBSearch 使用给定的知识库创建工具。
func NewKBSearch(provider knowledge.Provider) *KBSearch {
	return &KBSearch{provider: provider}
}

func (t *KBSearch) Name() string { return NameKBSearch }

func (t *KBSearch) Description() string {
	return "Search the knowledge base for policies and products."
}

func (t *KBSearch) Parameters() []Parameter {
	return []Parameter{{Name: "query", Required: true}}
}

// Invoke 实现 Tool 接口。
func (t *KBSearch) Invoke(ctx context.Context, args map[string]any) (string, error) {
	bound, err := bindStrings(t.Name(), t.Parameters(), args)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.Search(KBSearchArgs{Query: bound["query"]})
}

// Search 返回命中文章的 JSON 列表，未命中时返回 NoArticlesFound。
func (t *KBSearch) Search(args KBSearchArgs) (string, error) {
	if t.provider == nil {
		return NoArticlesFound, nil
	}
	hits := t.provider.Search(args.Query)
	if len(hits) == 0 {
		return NoArticlesFound, nil
	}
	return encode(hits)
}

// CRMNotesArgs 是 crm_notes 的参数。
type CRMNotesArgs struct {
	ClientName string
}

// CRMNotes 按客户名称（不区分大小写的部分匹配）查询 CRM 备注。
type CRMNotes struct {
	clients []fixtures.ClientNotes
}

// NewCRMNotes 基于客户备注创建工具，数据会被复制。
func NewCRMNotes(clients []fixtures.ClientNotes) *CRMNotes {
	copied := make([]fixtures.ClientNotes, 0, len(clients))
	for _, client := range clients {
		copied = append(copied, fixtures.ClientNotes{
			Name:  client.Name,
			Notes: append([]string(nil), client.Notes...),
		})
	}
	return &CRMNotes{clients: copied}
}

func (t *CRMNotes) Name() string { return NameCRMNotes }

func (t *CRMNotes) Description() string {
	return "Get CRM notes for a client."
}

func (t *CRMNotes) Parameters() []Parameter {
	return []Parameter{{Name: "client_name", Required: true}}
}

// Invoke 实现 Tool 接口。
func (t *CRMNotes) Invoke(ctx context.Context, args map[string]any) (string, error) {
	bound, err := bindStrings(t.Name(), t.Parameters(), args)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.Notes(CRMNotesArgs{ClientName: bound["client_name"]})
}

// Notes 返回 客户名 -> 备注列表 的 JSON 对象，未命中时返回说明文本。
func (t *CRMNotes) Notes(args CRMNotesArgs) (string, error) {
	needle := strings.ToLower(args.ClientName)
	var found orderedNotes
	for _, client := range t.clients {
		if strings.Contains(strings.ToLower(client.Name), needle) {
			found = append(found, client)
		}
	}
	if len(found) == 0 {
		return fmt.Sprintf("No CRM notes found for client '%s'.", args.ClientName), nil
	}
	return encode(found)
}

// orderedNotes 编码为 客户名 -> 备注列表 的对象，键按数据集中的顺序输出。
type orderedNotes []fixtures.ClientNotes

func (o orderedNotes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, client := range o {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(client.Name); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		notes := client.Notes
		if notes == nil {
			notes = []string{}
		}
		if err := enc.Encode(notes); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var (
	_ Tool = (*AccountLookup)(nil)
	_ Tool = (*KBSearch)(nil)
	_ Tool = (*CRMNotes)(nil)
)
