package crawlers

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/utils"
	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const ctxResponseKey = "response"

// Fetcher 执行单个请求
type Fetcher interface {
	Fetch(ctx context.Context, req *models.Request) (*models.Response, error)
}

// APIClient 提取API客户端(使用Colly)
// 经过API的请求以JSON参数POST到API端点,其他请求直接GET目标URL
// 带 dont_merge_cookies 的请求走不带cookie jar的collector
type APIClient struct {
	collector   *colly.Collector
	cookieless  *colly.Collector
	config      models.APIConfig
	limiter     *rate.Limiter
	transparent bool

	// HTTP头部提供者
	headerProvider models.HeaderProvider
}

// NewAPIClient 创建API客户端
func NewAPIClient(config models.APIConfig, headerProvider models.HeaderProvider) (*APIClient, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c, err := newCollector(config)
	if err != nil {
		return nil, err
	}
	// Clone会共享底层http.Client,这里单独创建后再禁用cookie
	cookieless, err := newCollector(config)
	if err != nil {
		return nil, err
	}
	cookieless.DisableCookies()

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	utils.Debugf("API客户端: 端点=%s, 并发=%d, 超时=%ds, 速率限制=%.2f/s",
		config.URL, config.Concurrency, config.Timeout, config.RateLimit)

	return &APIClient{
		collector:      c,
		cookieless:     cookieless,
		config:         config,
		limiter:        rate.NewLimiter(limit, config.Concurrency),
		transparent:    config.TransparentMode,
		headerProvider: headerProvider,
	}, nil
}

// newCollector 创建同步collector
// 每次Request在调用方goroutine中完成,回调写入该请求自己的Context
func newCollector(config models.APIConfig) (*colly.Collector, error) {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(0),
	)
	c.SetRequestTimeout(config.RequestTimeout())

	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: config.Concurrency,
	}); err != nil {
		return nil, fmt.Errorf("设置并发限制失败: %w", err)
	}

	c.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(ctxResponseKey, r)
	})
	return c, nil
}

// TransparentMode 是否为透明模式
func (c *APIClient) TransparentMode() bool {
	return c.transparent
}

// Fetch 实现Fetcher接口
func (c *APIClient) Fetch(ctx context.Context, req *models.Request) (*models.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := BuildParams(req, c.transparent)
	if params == nil {
		return c.fetchDirect(ctx, req)
	}
	return c.extract(ctx, req, params)
}

// extract 调用提取API
func (c *APIClient) extract(ctx context.Context, req *models.Request, params models.Params) (*models.Response, error) {
	payload, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("序列化API参数失败: %w", err)
	}

	hdr, err := c.headers()
	if err != nil {
		return nil, err
	}
	hdr.Set("Content-Type", "application/json")
	hdr.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(c.config.Key+":")))

	r, err := c.do(ctx, c.collectorFor(req), http.MethodPost, c.config.URL, bytes.NewReader(payload), hdr)
	if err != nil {
		return nil, fmt.Errorf("请求API失败 [%s]: %w", req.URL, err)
	}

	body, err := decodeBody(r.Headers.Get("Content-Encoding"), r.Body)
	if err != nil {
		return nil, err
	}

	if r.StatusCode >= 400 {
		return nil, parseProblem(r.StatusCode, body)
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("解析API响应失败 [%s]: %w", req.URL, err)
	}

	status := http.StatusOK
	if v, ok := raw["statusCode"].(float64); ok {
		status = int(v)
	}
	return &models.Response{URL: req.URL, Status: status, Raw: raw, Request: req}, nil
}

// fetchDirect 不经过API直接抓取
// 响应体按 httpResponseBody 的格式放入Raw,下游统一读取
func (c *APIClient) fetchDirect(ctx context.Context, req *models.Request) (*models.Response, error) {
	hdr, err := c.headers()
	if err != nil {
		return nil, err
	}

	r, err := c.do(ctx, c.collectorFor(req), http.MethodGet, req.URL, nil, hdr)
	if err != nil {
		return nil, fmt.Errorf("抓取失败 [%s]: %w", req.URL, err)
	}

	body, err := decodeBody(r.Headers.Get("Content-Encoding"), r.Body)
	if err != nil {
		return nil, err
	}

	var headers []any
	if r.Headers != nil {
		for name, values := range *r.Headers {
			for _, v := range values {
				headers = append(headers, map[string]any{"name": name, "value": v})
			}
		}
	}

	raw := map[string]any{
		models.ParamURL:              req.URL,
		"statusCode":                 float64(r.StatusCode),
		models.ParamHTTPResponseBody: base64.StdEncoding.EncodeToString(body),
		models.ParamHTTPRespHeaders:  headers,
	}
	return &models.Response{URL: req.URL, Status: r.StatusCode, Raw: raw, Request: req}, nil
}

// collectorFor 会话请求不合并cookie jar,会话本身就是身份
func (c *APIClient) collectorFor(req *models.Request) *colly.Collector {
	if skip, _ := req.Meta[models.MetaDontMergeCookies].(bool); skip {
		return c.cookieless
	}
	return c.collector
}

// do 发送请求并取回本次请求的响应
func (c *APIClient) do(ctx context.Context, collector *colly.Collector, method, target string, body io.Reader, hdr http.Header) (*colly.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cctx := colly.NewContext()
	err := collector.Request(method, target, body, cctx, hdr)
	r, _ := cctx.GetAny(ctxResponseKey).(*colly.Response)
	if r == nil {
		if err == nil {
			err = fmt.Errorf("未收到响应")
		}
		return nil, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return r, nil
}

// headers 返回本次请求使用的HTTP头部副本
func (c *APIClient) headers() (http.Header, error) {
	hdr := make(http.Header)
	if c.headerProvider != nil {
		headers, err := c.headerProvider.GetHeaders()
		if err != nil {
			return nil, fmt.Errorf("获取HTTP头部失败: %w", err)
		}
		for name, values := range headers {
			hdr[name] = append([]string(nil), values...)
		}
	}
	return hdr, nil
}

// parseProblem 解析 problem+json 错误响应
func parseProblem(status int, body []byte) *models.APIError {
	apiErr := &models.APIError{Status: status}
	if err := json.Unmarshal(body, apiErr); err != nil {
		apiErr.Detail = strings.TrimSpace(string(body))
	}
	apiErr.Status = status
	return apiErr
}

// decodeBody 按Content-Encoding解压响应体
// colly已自动解压的gzip响应按魔数识别,不重复解压
func decodeBody(contentEncoding string, body []byte) ([]byte, error) {
	encoding := strings.ToLower(strings.TrimSpace(contentEncoding))

	switch encoding {
	case "br":
		decompressed, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
		if err != nil {
			return nil, fmt.Errorf("brotli读取失败: %w", err)
		}
		return decompressed, nil

	case "gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("gzip读取失败: %w", err)
		}
		return decompressed, nil

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()

		decompressed, err := io.ReadAll(reader)
		if err != nil {
			return nil, fmt.Errorf("deflate读取失败: %w", err)
		}
		return decompressed, nil

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}
