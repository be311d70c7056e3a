package models

import (
	"fmt"
	"net/http"
	"strings"
)

// HeaderProvider 提供发往提取API的HTTP头部
// 返回的头部已按 默认 < 配置 < 命令行 合并并通过验证
type HeaderProvider interface {
	GetHeaders() (http.Header, error)
}

// HeaderProviderFunc 函数形式的HeaderProvider
type HeaderProviderFunc func() (http.Header, error)

// GetHeaders 实现HeaderProvider接口
func (f HeaderProviderFunc) GetHeaders() (http.Header, error) { return f() }

// CliHeaders 命令行 -H 参数,每项形如 "Name: Value"
type CliHeaders []string

// Parse 解析为http.Header,名称按规范形式存储
// 只按第一个冒号分割,值中可以再出现冒号
func (ch CliHeaders) Parse() (http.Header, error) {
	result := make(http.Header, len(ch))
	for i, s := range ch {
		name, value, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 缺少冒号分隔符,应为 'Name: Value'", i+1)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("参数 --header 第%d项格式错误: 头部名称不能为空", i+1)
		}
		result.Set(name, strings.TrimSpace(value))
	}
	return result, nil
}
