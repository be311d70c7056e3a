package models

import (
	"fmt"
	"net/url"
	"time"
)

// APIConfig 提取API连接配置
type APIConfig struct {
	URL             string            `json:"url" mapstructure:"url"`                           // API端点
	Key             string            `json:"-" mapstructure:"key"`                             // API密钥,作为Basic认证用户名
	Timeout         int               `json:"timeout" mapstructure:"timeout"`                   // 单次请求超时(秒)
	Concurrency     int               `json:"concurrency" mapstructure:"concurrency"`           // 最大并发请求数
	RateLimit       float64           `json:"rate_limit" mapstructure:"rate_limit"`             // 每秒请求数上限,0表示不限
	TransparentMode bool              `json:"transparent_mode" mapstructure:"transparent_mode"` // 未显式指定参数的请求也经过API
	Headers         map[string]string `json:"headers,omitempty" mapstructure:"headers"`         // 附加HTTP头部
}

// DefaultAPIConfig 返回默认API配置
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		URL:         "https://api.zyte.com/v1/extract",
		Timeout:     200,
		Concurrency: 8,
	}
}

// Validate 验证配置
func (c *APIConfig) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("API地址无效: %q", c.URL)
	}
	if c.Timeout < 1 {
		return fmt.Errorf("API超时必须大于0")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("API并发数必须大于0")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("API速率限制不能为负数")
	}
	return nil
}

// RequestTimeout 返回单次请求超时
func (c *APIConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
