package tools

import (
	"fmt"
	"strings"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/fixtures"
	"RM-Copilot/internal/knowledge"
)

// Registry 是按名称精确匹配的工具表，构造后只读，可被并发请求共享。
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry 注册给定的工具，名称为空或重复时返回错误。
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, tool := range tools {
		if tool == nil {
			continue
		}
		name := tool.Name()
		if strings.TrimSpace(name) == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "工具名称不能为空")
		}
		if _, ok := r.tools[name]; ok {
			return nil, xerrors.New(xerrors.CodeConflict, fmt.Sprintf("工具 %s 重复注册", name))
		}
		r.tools[name] = tool
		r.order = append(r.order, name)
	}
	return r, nil
}

// NewDefaultRegistry 基于数据集构建 account_lookup、kb_search、crm_notes 三个工具。
func NewDefaultRegistry(ds *fixtures.Dataset) *Registry {
	if ds == nil {
		ds = fixtures.Default()
	}
	r, _ := NewRegistry(
		NewAccountLookup(ds.Accounts),
		NewKBSearch(knowledge.NewStaticProvider(ds.Articles, 0)),
		NewCRMNotes(ds.Clients),
	)
	return r
}

// Lookup 按名称查找工具。
func (r *Registry) Lookup(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	tool, ok := r.tools[name]
	return tool, ok
}

// Names 按注册顺序返回工具名称。
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Tools 按注册顺序返回全部工具。
func (r *Registry) Tools() []Tool {
	if r == nil {
		return nil
	}
	list := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.tools[name])
	}
	return list
}
