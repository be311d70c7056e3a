package session

import (
	"fmt"
	"strings"
	"sync"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/utils"
)

// Policy 按站点可替换的会话策略
// 实例在多个请求间共享,必须支持并发调用
type Policy interface {
	// Enabled 是否对该请求启用会话
	Enabled(req *models.Request) bool
	// Pool 计算请求所属的会话池ID
	Pool(req *models.Request) (string, error)
	// Location 解析目标地址,空表示不做地理定位
	Location(req *models.Request) models.Location
	// Params 会话初始化调用的参数,可以不含url
	Params(req *models.Request) (models.Params, error)
	// Check 判断获得该响应的会话是否仍然有效
	Check(resp *models.Response, req *models.Request) (Verdict, error)
}

// Factory 根据配置构建策略实例
type Factory func(cfg models.SessionConfig) (Policy, error)

// Checker 自定义有效性检查
type Checker interface {
	Check(resp *models.Response, req *models.Request) (Verdict, error)
}

// CheckerFunc 函数形式的检查器
type CheckerFunc func(resp *models.Response, req *models.Request) (Verdict, error)

// Check 实现Checker接口
func (f CheckerFunc) Check(resp *models.Response, req *models.Request) (Verdict, error) {
	return f(resp, req)
}

const unsupportedSetLocationPrefix = "Action setLocation not supported "

// DefaultPolicy 默认会话策略
// 自定义策略可以嵌入 *DefaultPolicy,只覆盖需要的方法
type DefaultPolicy struct {
	enabled  bool
	location models.Location
	params   models.Params // session.params,配置已验证过
	checker  Checker

	mu         sync.Mutex
	paramPools map[string]map[string]int // host -> 参数键 -> 序号
}

// NewDefaultPolicy 创建默认策略
func NewDefaultPolicy(cfg models.SessionConfig) *DefaultPolicy {
	params, _ := models.ParseParamsJSON(cfg.Params)
	p := &DefaultPolicy{
		enabled:    cfg.Enabled,
		location:   cfg.DefaultLocation(),
		params:     params,
		paramPools: make(map[string]map[string]int),
	}
	if cfg.CheckSelector != "" {
		p.checker = NewSelectorChecker(cfg.CheckSelector)
	}
	return p
}

// DefaultFactory 默认策略的构建函数
func DefaultFactory(cfg models.SessionConfig) (Policy, error) {
	return NewDefaultPolicy(cfg), nil
}

// WithChecker 设置有效性检查器,替代默认的setLocation检查
func (p *DefaultPolicy) WithChecker(c Checker) *DefaultPolicy {
	p.checker = c
	return p
}

// Enabled 请求级开关优先于全局配置
func (p *DefaultPolicy) Enabled(req *models.Request) bool {
	if v, ok := req.Meta[models.MetaSessionEnabled].(bool); ok {
		return v
	}
	return p.enabled
}

// Pool 默认按主机分池
// 请求级初始化参数得到 host[序号],请求级地址得到 host@字段值
func (p *DefaultPolicy) Pool(req *models.Request) (string, error) {
	host := req.Host()
	if host == "" {
		return "", fmt.Errorf("无法解析请求主机: %q", req.URL)
	}

	if params, ok := req.ParamsMeta(models.MetaSessionParams); ok {
		return p.paramPool(host, params)
	}

	if loc, ok := models.LocationFromMeta(req.Meta, models.MetaSessionLocation); ok {
		if suffix := loc.PoolSuffix(); suffix != "" {
			return host + "@" + suffix, nil
		}
	}

	return host, nil
}

// paramPool 相同主机下不同参数按首次出现顺序编号,相同参数复用序号
func (p *DefaultPolicy) paramPool(host string, params models.Params) (string, error) {
	key, err := params.Key()
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	indexes, ok := p.paramPools[host]
	if !ok {
		indexes = make(map[string]int)
		p.paramPools[host] = indexes
	}
	idx, ok := indexes[key]
	if !ok {
		idx = len(indexes)
		indexes[key] = idx
		utils.Infof("会话池 %s[%d] 使用以下会话初始化参数: %s", host, idx, key)
	}
	return fmt.Sprintf("%s[%d]", host, idx), nil
}

// Location 请求级地址存在即使用(空地址表示不定位),否则使用全局默认地址
func (p *DefaultPolicy) Location(req *models.Request) models.Location {
	if loc, ok := models.LocationFromMeta(req.Meta, models.MetaSessionLocation); ok {
		return loc
	}
	return p.location
}

// Params 无地址时使用请求级或全局初始化参数,都没有则只抓取渲染内容
// 有地址时执行setLocation动作,初始化URL取参数中的url,缺省为请求URL
func (p *DefaultPolicy) Params(req *models.Request) (models.Params, error) {
	params, ok := req.ParamsMeta(models.MetaSessionParams)
	if !ok {
		params = p.params
	}

	loc := p.Location(req)
	if len(loc) == 0 {
		if params == nil {
			return models.Params{models.ParamBrowserHTML: true}, nil
		}
		return params.Clone(), nil
	}

	target := req.URL
	if u, ok := params[models.ParamURL].(string); ok && u != "" {
		target = u
	}
	address := make(map[string]any, len(loc))
	for k, v := range loc {
		address[k] = v
	}
	return models.Params{
		models.ParamURL:         target,
		models.ParamBrowserHTML: true,
		models.ParamActions: []any{
			map[string]any{"action": "setLocation", "address": address},
		},
	}, nil
}

// Check 配置了检查器时只由检查器判断
// 否则有地址时检查setLocation动作的结果
func (p *DefaultPolicy) Check(resp *models.Response, req *models.Request) (Verdict, error) {
	if p.checker != nil {
		return p.checker.Check(resp, req)
	}
	if len(p.Location(req)) == 0 {
		return Valid(), nil
	}

	for _, action := range resp.Actions() {
		if action.Action != "setLocation" {
			continue
		}
		if strings.HasPrefix(action.Error, unsupportedSetLocationPrefix) {
			utils.Errorf("❌ 站点 %s 不支持setLocation动作: %s", req.Host(), action.Error)
			return StopCrawl(ReasonUnsupportedSetLocation), nil
		}
		return VerdictOf(action.Status == "success"), nil
	}
	return Valid(), nil
}
