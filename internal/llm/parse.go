package llm

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"RM-Copilot/pkg/logger"
)

const (
	fenceJSON = "```json"
	fence     = "```"
)

// Payload 是从模型输出解码得到的结构化对象。解码失败时为空的降级结果，
// 所有访问器在键缺失或类型不符时都返回默认值。
type Payload struct {
	data     map[string]any
	raw      string
	degraded bool
}

// Parse 去掉首个 ```json 与末尾 ``` 围栏后严格解码 JSON 对象，失败时返回降级结果。
func Parse(text string) Payload {
	clean := strings.TrimSpace(text)
	clean = strings.TrimPrefix(clean, fenceJSON)
	clean = strings.TrimSuffix(clean, fence)

	var data map[string]any
	if err := json.Unmarshal([]byte(clean), &data); err != nil || data == nil {
		logger.Named("llm").Error("解析模型输出失败", "raw", text)
		return Payload{data: map[string]any{}, raw: text, degraded: true}
	}
	return Payload{data: data, raw: text}
}

// Degraded 表示输出无法解码。
func (p Payload) Degraded() bool {
	return p.degraded
}

// Raw 返回原始文本。
func (p Payload) Raw() string {
	return p.raw
}

// Has 判断键是否存在。
func (p Payload) Has(key string) bool {
	_, ok := p.data[key]
	return ok
}

// String 返回字符串字段，缺失或非字符串时返回 def。
func (p Payload) String(key, def string) string {
	if v, ok := p.data[key].(string); ok {
		return v
	}
	return def
}

// Int 返回整数字段，接受整数值的 JSON 数字与数字字符串。
func (p Payload) Int(key string, def int) int {
	return ToInt(p.data[key], def)
}

// Float 返回数值字段。
func (p Payload) Float(key string, def float64) float64 {
	switch v := p.data[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Map 返回对象字段，缺失时为 nil。
func (p Payload) Map(key string) map[string]any {
	v, _ := p.data[key].(map[string]any)
	return v
}

// List 返回数组字段，缺失时为 nil。
func (p Payload) List(key string) []any {
	v, _ := p.data[key].([]any)
	return v
}

// ToInt 把任意解码值转换为整数。
func ToInt(v any, def int) int {
	switch n := v.(type) {
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n)
		}
	case int:
		return n
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}
