package crawlers

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/utils"
	"golang.org/x/net/html"
)

// URLExtractor URL提取器
// 职责: 从响应页面中提取链接,按深度和域名过滤,生成后续请求
type URLExtractor struct {
	// 种子主机名(用于跨域检查)
	targetHosts map[string]bool

	// 是否允许跨域
	allowCrossDomain bool

	// 最大深度
	maxDepth int
}

// NewURLExtractor 创建URL提取器实例
func NewURLExtractor(seeds []string, allowCrossDomain bool, maxDepth int) *URLExtractor {
	hosts := make(map[string]bool, len(seeds))
	for _, seed := range seeds {
		if u, err := url.Parse(seed); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = true
		}
	}
	return &URLExtractor{
		targetHosts:      hosts,
		allowCrossDomain: allowCrossDomain,
		maxDepth:         maxDepth,
	}
}

// Extract 从响应中提取可跟随的后续请求
// 后续请求继承父请求的会话相关元数据,不继承会话ID
func (e *URLExtractor) Extract(resp *models.Response, parent *models.Request) ([]*models.Request, error) {
	if parent.Depth+1 > e.maxDepth {
		return nil, nil
	}

	body, err := resp.Body()
	if err != nil {
		return nil, err
	}
	links, err := ExtractLinks(body, parent.URL)
	if err != nil {
		return nil, err
	}

	var out []*models.Request
	for _, link := range links {
		if ok, reason := e.ShouldFollowLink(link, parent.Depth); !ok {
			utils.Debugf("跳过链接 %s: %s", link, reason)
			continue
		}
		req := models.NewRequest(link)
		req.Depth = parent.Depth + 1
		req.Priority = parent.Priority
		for _, key := range inheritedMetaKeys {
			if v, ok := parent.Meta[key]; ok {
				req.Meta[key] = v
			}
		}
		out = append(out, req)
	}
	return out, nil
}

// inheritedMetaKeys 后续请求继承的元数据键
var inheritedMetaKeys = []string{
	models.MetaSessionEnabled,
	models.MetaSessionLocation,
	models.MetaSessionParams,
	models.MetaSessionPool,
}

// ExtractLinks 从HTML中提取所有 a[href] 链接,转换为绝对URL并去重
func ExtractLinks(body []byte, baseURL string) ([]string, error) {
	if len(body) == 0 {
		return nil, nil
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("解析HTML失败: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("解析baseURL失败: %w", err)
	}

	var links []string
	seen := make(map[string]bool)
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				linkURL, err := url.Parse(strings.TrimSpace(attr.Val))
				if err != nil {
					break
				}
				abs := base.ResolveReference(linkURL)
				abs.Fragment = ""
				s := abs.String()
				if !seen[s] {
					seen[s] = true
					links = append(links, s)
				}
				break
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}

	f(doc)

	return links, nil
}

// ShouldFollowLink 判断链接是否应该被跟随
func (e *URLExtractor) ShouldFollowLink(linkURL string, currentDepth int) (bool, string) {
	parsedURL, err := url.Parse(linkURL)
	if err != nil {
		return false, "URL格式无效"
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return false, "不支持的协议"
	}

	if currentDepth+1 > e.maxDepth {
		return false, "深度超过限制"
	}

	if !e.allowCrossDomain && !e.targetHosts[strings.ToLower(parsedURL.Host)] {
		return false, "跨域链接已过滤"
	}

	return true, ""
}
