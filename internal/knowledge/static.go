package knowledge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Provider 为指令解析提供目标集合的字段说明。
type Provider interface {
	Query(instruction string) []Snippet
	Fields() []string
}

// Snippet 描述集合中的一个字段，供抽取提示词引用。
type Snippet struct {
	Field       string   `json:"field"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// StaticProvider 从 JSON 文件加载字段说明。
type StaticProvider struct {
	items      []Snippet
	maxResults int
}

// NewStaticProvider 创建静态字段说明实例。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	if maxResults <= 0 {
		maxResults = 8
	}
	return &StaticProvider{items: items, maxResults: maxResults}
}

// LoadStaticProvider 从 JSON 文件加载字段说明条目。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("字段说明文件路径不能为空")
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析字段说明路径失败: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取字段说明文件失败: %w", err)
	}
	defer file.Close()

	var entries []Snippet
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析字段说明文件失败: %w", err)
	}

	return NewStaticProvider(entries, maxResults), nil
}

// Query 返回与指令相关的字段说明。字段名或关键字出现在指令中即视为相关；
// 没有任何命中时返回全部字段（截断到 maxResults），保证提示词总有上下文。
func (p *StaticProvider) Query(instruction string) []Snippet {
	if p == nil {
		return nil
	}
	normalized := strings.ToLower(strings.TrimSpace(instruction))

	matched := make([]Snippet, 0, p.maxResults)
	for _, item := range p.items {
		if matches(item, normalized) {
			matched = append(matched, item)
			if len(matched) >= p.maxResults {
				return matched
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}
	if len(p.items) <= p.maxResults {
		return append([]Snippet(nil), p.items...)
	}
	return append([]Snippet(nil), p.items[:p.maxResults]...)
}

// Fields 返回全部已知字段名，可直接用作安全策略的字段白名单。
func (p *StaticProvider) Fields() []string {
	if p == nil {
		return nil
	}
	fields := make([]string, 0, len(p.items))
	for _, item := range p.items {
		if item.Field != "" {
			fields = append(fields, item.Field)
		}
	}
	return fields
}

func matches(snippet Snippet, instruction string) bool {
	if field := strings.ToLower(strings.TrimSpace(snippet.Field)); field != "" {
		if strings.Contains(instruction, field) {
			return true
		}
	}
	for _, keyword := range snippet.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if strings.Contains(instruction, normalized) {
			return true
		}
	}
	return false
}

var _ Provider = (*StaticProvider)(nil)
