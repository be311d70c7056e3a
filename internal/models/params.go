package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Params API调用参数字典
type Params map[string]any

// Clone 深度复制参数
// 嵌套的 map 和 slice 都会复制,其他值按原样共享
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return Params(cloneMap(p))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Params:
		return Params(cloneMap(t))
	case map[string]any:
		return cloneMap(t)
	case Location:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneMap(item)
		}
		return out
	}
	return v
}

// SessionID 返回参数中附带的会话ID
func (p Params) SessionID() string {
	var session map[string]any
	switch s := p[MetaSessionKey].(type) {
	case map[string]any:
		session = s
	case Params:
		session = s
	default:
		return ""
	}
	id, _ := session[MetaSessionIDKey].(string)
	return id
}

// SetSessionID 将会话ID写入参数
func (p Params) SetSessionID(id string) {
	p[MetaSessionKey] = map[string]any{MetaSessionIDKey: id}
}

// Key 返回参数的规范化表示,键顺序无关
// encoding/json 对 map 键排序,可直接作为等值比较的键
func (p Params) Key() (string, error) {
	data, err := json.Marshal(map[string]any(p))
	if err != nil {
		return "", fmt.Errorf("序列化参数失败: %w", err)
	}
	return string(data), nil
}

// ParseParamsJSON 从JSON字符串解析参数,空字符串返回nil
func ParseParamsJSON(raw string) (Params, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var p Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("解析参数JSON失败: %w", err)
	}
	return p, nil
}

// AddressFields 地址字段,顺序固定,用于生成会话池后缀
var AddressFields = []string{
	"addressCountry",
	"addressRegion",
	"postalCode",
	"streetAddress",
}

// Location 结构化地理地址
type Location map[string]string

// Clone 复制地址
func (l Location) Clone() Location {
	if l == nil {
		return nil
	}
	out := make(Location, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// PoolSuffix 按固定字段顺序拼接已存在的地址字段,逗号分隔
// 未知字段忽略
func (l Location) PoolSuffix() string {
	parts := make([]string, 0, len(AddressFields))
	for _, field := range AddressFields {
		if v, ok := l[field]; ok && v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ",")
}

// NormalizeLocation 将键名按大小写不敏感的方式映射回标准地址字段
// 配置文件经过viper后键名全部小写,需要还原
func NormalizeLocation(raw map[string]string) Location {
	if len(raw) == 0 {
		return nil
	}
	out := make(Location, len(raw))
	for k, v := range raw {
		key := k
		for _, field := range AddressFields {
			if strings.EqualFold(k, field) {
				key = field
				break
			}
		}
		out[key] = v
	}
	return out
}

// LocationFromMeta 读取请求元数据中的地址
// 第二个返回值表示键是否存在(空地址也算存在)
func LocationFromMeta(meta map[string]any, key string) (Location, bool) {
	v, ok := meta[key]
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case Location:
		return t, true
	case map[string]string:
		return Location(t), true
	case map[string]any:
		out := make(Location, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out, true
	}
	return Location{}, true
}
