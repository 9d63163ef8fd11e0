package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 定义知识库检索的通用接口。
type Provider interface {
	Search(query string) []Article
}

// Article 描述知识库中的一篇文章。
type Article struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// minTokenLength 及以下长度的查询词不参与逐词匹配。
const minTokenLength = 3

// StaticProvider 在固定的小语料上做关键词匹配，初始化后只读。
type StaticProvider struct {
	items      []Article
	haystacks  []string
	maxResults int
}

// NewStaticProvider 创建静态知识库实例。maxResults <= 0 表示不限制返回数量。
func NewStaticProvider(items []Article, maxResults int) *StaticProvider {
	copied := make([]Article, len(items))
	copy(copied, items)
	haystacks := make([]string, len(copied))
	for i, item := range copied {
		haystacks[i] = strings.ToLower(item.Title + " " + item.Content)
	}
	return &StaticProvider{
		items:      copied,
		haystacks:  haystacks,
		maxResults: maxResults,
	}
}

// LoadStaticProvider 从 JSON 文件加载知识条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("知识库文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析知识库路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取知识库文件失败: %w", err)
	}
	defer file.Close()

	var entries []Article
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析知识库文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Search 按语料顺序返回与查询匹配的文章。
func (p *StaticProvider) Search(query string) []Article {
	if p == nil {
		return nil
	}

	needle := strings.ToLower(query)
	tokens := significantTokens(needle)

	var results []Article
	for idx, haystack := range p.haystacks {
		if !matches(haystack, needle, tokens) {
			continue
		}
		results = append(results, p.items[idx])
		if p.maxResults > 0 && len(results) >= p.maxResults {
			break
		}
	}
	return results
}

// Articles 返回语料的副本。
func (p *StaticProvider) Articles() []Article {
	if p == nil {
		return nil
	}
	copied := make([]Article, len(p.items))
	copy(copied, p.items)
	return copied
}

// matches 整句子串命中，或所有有效词（去掉结尾 s）都出现在文本中。
func matches(haystack, needle string, tokens []string) bool {
	if strings.Contains(haystack, needle) {
		return true
	}
	if len(tokens) == 0 {
		return false
	}
	for _, token := range tokens {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}

func significantTokens(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) <= minTokenLength {
			continue
		}
		tokens = append(tokens, strings.TrimSuffix(field, "s"))
	}
	return tokens
}

var _ Provider = (*StaticProvider)(nil)
