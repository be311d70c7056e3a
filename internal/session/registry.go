package session

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/golang/groupcache/lru"
)

const (
	// DefaultPolicyName 默认策略名称,替换链从这里开始
	DefaultPolicyName = "default"

	// DefaultPriority 规则默认优先级
	DefaultPriority = 500

	resolveCacheSize = 4096
)

// Rule 策略替换规则
// URL 命中 Include 且不命中 Exclude 时,Name 替换 InsteadOf
type Rule struct {
	Name      string
	Include   []string
	Exclude   []string
	Priority  int    // 0 表示 DefaultPriority
	InsteadOf string // 为空表示替换默认策略
}

type compiledRule struct {
	Rule
	include []urlPattern
	exclude []urlPattern
}

// Registry 按URL解析适用的策略
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	rules     []*compiledRule
	memo      *lru.Cache
}

// NewRegistry 创建注册表,默认策略已注册
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{DefaultPolicyName: DefaultFactory},
		memo:      lru.New(resolveCacheSize),
	}
}

// Register 注册策略构建函数
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	r.memo.Clear()
}

// AddRule 添加替换规则,声明顺序决定同优先级时的胜者
func (r *Registry) AddRule(rule Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("规则必须指定策略名称")
	}
	if rule.InsteadOf == "" {
		rule.InsteadOf = DefaultPolicyName
	}
	if rule.Priority == 0 {
		rule.Priority = DefaultPriority
	}
	if rule.Name == rule.InsteadOf {
		return fmt.Errorf("策略 %s 不能替换自身", rule.Name)
	}

	cr := &compiledRule{Rule: rule}
	if len(rule.Include) == 0 {
		cr.include = []urlPattern{{}}
	}
	for _, raw := range rule.Include {
		p, err := compilePattern(raw)
		if err != nil {
			return err
		}
		cr.include = append(cr.include, p)
	}
	for _, raw := range rule.Exclude {
		p, err := compilePattern(raw)
		if err != nil {
			return err
		}
		cr.exclude = append(cr.exclude, p)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[rule.Name]; !ok {
		return fmt.Errorf("策略 %s 未注册", rule.Name)
	}
	r.rules = append(r.rules, cr)
	r.memo.Clear()
	return nil
}

// Factory 返回策略构建函数
func (r *Registry) Factory(name string) (Factory, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.factories[name]
	return f, ok
}

// Resolve 返回URL最终适用的策略名称
// 从默认策略出发,沿替换边逐级查找,环路处停止
func (r *Registry) Resolve(rawURL string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.memo.Get(rawURL); ok {
		return v.(string)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return DefaultPolicyName
	}

	current := DefaultPolicyName
	visited := map[string]bool{current: true}
	for {
		next := r.bestOverride(current, u)
		if next == nil || visited[next.Name] {
			break
		}
		visited[next.Name] = true
		current = next.Name
	}

	r.memo.Add(rawURL, current)
	return current
}

// bestOverride 优先级最高者胜出,同优先级取先声明者
func (r *Registry) bestOverride(base string, u *url.URL) *compiledRule {
	var best *compiledRule
	for _, rule := range r.rules {
		if rule.InsteadOf != base || !rule.matches(u) {
			continue
		}
		if best == nil || rule.Priority > best.Priority {
			best = rule
		}
	}
	return best
}

func (cr *compiledRule) matches(u *url.URL) bool {
	for _, p := range cr.exclude {
		if p.match(u) {
			return false
		}
	}
	for _, p := range cr.include {
		if p.match(u) {
			return true
		}
	}
	return false
}

// urlPattern URL匹配模式
// "example.com" 匹配该域名及其子域名,"example.com/shop" 另外要求路径前缀,
// 含通配符的模式按glob匹配 host+path,空模式匹配所有URL
type urlPattern struct {
	domain string
	path   string
	g      glob.Glob
}

func compilePattern(raw string) (urlPattern, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	raw = strings.TrimPrefix(raw, "https://")
	raw = strings.TrimPrefix(raw, "http://")
	if raw == "" {
		return urlPattern{}, nil
	}

	if strings.ContainsAny(raw, "*?[{") {
		g, err := glob.Compile(raw)
		if err != nil {
			return urlPattern{}, fmt.Errorf("无效的URL模式 %q: %w", raw, err)
		}
		return urlPattern{g: g}, nil
	}

	domain, path, _ := strings.Cut(raw, "/")
	if path != "" {
		path = "/" + path
	}
	return urlPattern{domain: domain, path: path}, nil
}

func (p urlPattern) match(u *url.URL) bool {
	host := strings.ToLower(u.Hostname())
	if p.g != nil {
		return p.g.Match(host + u.EscapedPath())
	}
	if p.domain != "" && host != p.domain && !strings.HasSuffix(host, "."+p.domain) {
		return false
	}
	if p.path != "" && !strings.HasPrefix(u.EscapedPath(), p.path) {
		return false
	}
	return true
}
