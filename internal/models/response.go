package models

import (
	"encoding/base64"
	"fmt"
)

// 问题类型
const (
	ProblemSessionExpired    = "/problem/session-expired"
	ProblemDomainForbidden   = "/download/domain-forbidden"
	ProblemTemporaryDownload = "/download/temporary-error"
	ProblemUnauthorized      = "/auth/key-not-found"
	ProblemBadRequest        = "/request/invalid"
)

// Response API返回的响应
type Response struct {
	URL     string         `json:"url"`
	Status  int            `json:"status"`
	Raw     map[string]any `json:"raw"`
	Request *Request       `json:"-"`
}

// ActionResult 浏览器动作执行结果
type ActionResult struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// BrowserHTML 返回渲染后的HTML
func (r *Response) BrowserHTML() string {
	if r == nil || r.Raw == nil {
		return ""
	}
	s, _ := r.Raw[ParamBrowserHTML].(string)
	return s
}

// Body 返回页面内容,优先使用browserHtml,其次解码httpResponseBody
func (r *Response) Body() ([]byte, error) {
	if html := r.BrowserHTML(); html != "" {
		return []byte(html), nil
	}
	if r == nil || r.Raw == nil {
		return nil, nil
	}
	encoded, _ := r.Raw[ParamHTTPResponseBody].(string)
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("解码httpResponseBody失败: %w", err)
	}
	return data, nil
}

// Actions 返回动作执行结果列表
func (r *Response) Actions() []ActionResult {
	if r == nil || r.Raw == nil {
		return nil
	}
	items, _ := r.Raw[ParamActions].([]any)
	results := make([]ActionResult, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		var res ActionResult
		res.Action, _ = m["action"].(string)
		res.Status, _ = m["status"].(string)
		res.Error, _ = m["error"].(string)
		results = append(results, res)
	}
	return results
}

// SessionID 返回API回显的会话ID
func (r *Response) SessionID() string {
	if r == nil || r.Raw == nil {
		return ""
	}
	return Params(r.Raw).SessionID()
}

// APIError API返回的错误(problem+json)
type APIError struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// Error 实现error接口
func (e *APIError) Error() string {
	return fmt.Sprintf("API错误 [%d %s]: %s", e.Status, e.Type, e.Detail)
}

// IsSessionExpired 是否为会话过期错误
func (e *APIError) IsSessionExpired() bool {
	return e.Type == ProblemSessionExpired
}
