package utils

import (
	"net/http"
	"strings"
)

// SensitiveKeywords 头部名称包含这些关键字时按敏感头部处理
var SensitiveKeywords = []string{
	"authorization",
	"token",
	"key",
	"secret",
	"password",
	"credential",
	"cookie",
}

// HeaderRedactor 日志输出前遮盖敏感头部和API密钥
type HeaderRedactor struct {
	keywords []string
}

// NewHeaderRedactor 创建脱敏器
func NewHeaderRedactor() *HeaderRedactor {
	return &HeaderRedactor{keywords: SensitiveKeywords}
}

// IsSensitiveHeader 按名称关键字判断,不区分大小写
func (hr *HeaderRedactor) IsSensitiveHeader(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range hr.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 遮盖敏感头部的值,普通头部原样返回
func (hr *HeaderRedactor) RedactHeaderValue(name, value string) string {
	if !hr.IsSensitiveHeader(name) {
		return value
	}
	return mask(value)
}

// mask Bearer令牌只保留前缀,长密钥保留首尾各4位,其余全部遮盖
func mask(value string) string {
	switch {
	case strings.HasPrefix(value, "Bearer "):
		return "Bearer ***"
	case strings.HasPrefix(value, "Basic "):
		return "Basic ***"
	case len(value) > 8:
		return value[:4] + "***" + value[len(value)-4:]
	default:
		return "***"
	}
}

// Redact 返回可直接写入日志的头部,每个头部只取第一个值
func (hr *HeaderRedactor) Redact(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		out[name] = hr.RedactHeaderValue(name, values[0])
	}
	return out
}

// RedactSecret 遮盖API密钥,空密钥返回空串
func (hr *HeaderRedactor) RedactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return mask(secret)
}
