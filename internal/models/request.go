package models

import (
	"net/url"
	"strings"
)

// 请求元数据键
// 元数据袋由引擎持有,会话层通过这些键读写会话ID、参数覆盖和标记
const (
	MetaAPI               = "api"                // 显式API参数 (Params)
	MetaAutomap           = "api_automap"        // 自动映射参数 (Params 或 false)
	MetaProvider          = "api_provider"       // 提供者通道 (Params),下游只需读取会话ID
	MetaSessionInit       = "session_init"       // 会话初始化请求标记
	MetaDontMergeCookies  = "dont_merge_cookies" // 禁用cookie jar合并
	MetaSessionEnabled    = "session_enabled"    // 请求级会话开关 (bool)
	MetaSessionParams     = "session_params"     // 请求级初始化参数 (Params)
	MetaSessionLocation   = "session_location"   // 请求级地理位置 (Location)
	MetaSessionPool       = "session_pool"       // 请求级显式会话池名称 (string)
	MetaMaxRetryTimes     = "max_retry_times"    // 请求级最大重试次数 (int)
	MetaSessionKey        = "session"            // API参数中会话对象的键
	MetaSessionIDKey      = "id"                 // 会话对象中ID的键
	ParamURL              = "url"                // API参数中目标URL的键
	ParamBrowserHTML      = "browserHtml"        // 浏览器渲染HTML
	ParamHTTPResponseBody = "httpResponseBody"   // 原始响应体
	ParamHTTPRespHeaders  = "httpResponseHeaders"
	ParamActions          = "actions"
)

// Request 引擎中流转的请求
// ID 是贯穿请求生命周期的关联ID,会话层据此维护侧表
type Request struct {
	ID         string         `json:"id"`
	URL        string         `json:"url"`
	Meta       map[string]any `json:"meta,omitempty"`
	Priority   int            `json:"priority"`
	Depth      int            `json:"depth"`
	RetryTimes int            `json:"retry_times"`
	DontFilter bool           `json:"dont_filter"`
}

// NewRequest 创建请求
func NewRequest(rawURL string) *Request {
	return &Request{
		ID:   generateID(),
		URL:  rawURL,
		Meta: make(map[string]any),
	}
}

// Copy 复制请求,生成新的关联ID
// 元数据做浅层复制,Params 值深度复制,避免重试请求与原请求共享可变参数
func (r *Request) Copy() *Request {
	cp := *r
	cp.ID = generateID()
	cp.Meta = make(map[string]any, len(r.Meta))
	for k, v := range r.Meta {
		if p, ok := v.(Params); ok {
			cp.Meta[k] = p.Clone()
			continue
		}
		cp.Meta[k] = v
	}
	return &cp
}

// Host 返回请求目标主机(含端口,小写)
func (r *Request) Host() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

// IsSessionInit 是否为会话初始化请求
func (r *Request) IsSessionInit() bool {
	v, _ := r.Meta[MetaSessionInit].(bool)
	return v
}

// ParamsMeta 读取元数据中的参数字典
// 第二个返回值表示键是否存在且为参数字典
func (r *Request) ParamsMeta(key string) (Params, bool) {
	switch v := r.Meta[key].(type) {
	case Params:
		return v, true
	case map[string]any:
		return Params(v), true
	}
	return nil, false
}

// SessionID 扫描已知参数通道,返回请求实际使用的会话ID
func (r *Request) SessionID() string {
	for _, key := range []string{MetaAPI, MetaAutomap, MetaProvider} {
		if p, ok := r.ParamsMeta(key); ok {
			if id := p.SessionID(); id != "" {
				return id
			}
		}
	}
	return ""
}
