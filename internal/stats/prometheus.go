package stats

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector 在进程内计数的同时导出Prometheus指标
// 会话池计数拆成 pool/phase/outcome 标签,其他计数使用 name 标签
type PrometheusCollector struct {
	*MemoryCollector

	registry      *prometheus.Registry
	sessionEvents *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// NewPrometheusCollector 创建Prometheus计数器,使用独立的注册表
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	if namespace == "" {
		namespace = Prefix
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &PrometheusCollector{
		MemoryCollector: NewMemoryCollector(),
		registry:        reg,
		sessionEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sessions",
				Name:      "events_total",
				Help:      "Session pool events by pool, phase and outcome",
			},
			[]string{"pool", "phase", "outcome"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Crawl events by stat name",
			},
			[]string{"name"},
		),
	}
}

// Inc 计数加一
func (c *PrometheusCollector) Inc(key string) {
	c.Add(key, 1)
}

// Add 计数增加n
func (c *PrometheusCollector) Add(key string, n int64) {
	c.MemoryCollector.Add(key, n)
	if pool, phase, outcome, ok := splitSessionKey(key); ok {
		c.sessionEvents.WithLabelValues(pool, phase, outcome).Add(float64(n))
		return
	}
	c.events.WithLabelValues(strings.TrimPrefix(key, Prefix+"/")).Add(float64(n))
}

// Registry 返回底层注册表
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler 返回 /metrics 处理器
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// splitSessionKey 解析会话池统计键
// 按池统计: .../sessions/pools/<pool>/<phase>/<outcome>
// 聚合统计: .../sessions/<phase>/<outcome>,pool 标签为空
// 池名可能包含斜杠以外的任意字符,因此从末尾取 phase 和 outcome
func splitSessionKey(key string) (pool, phase, outcome string, ok bool) {
	idx := strings.Index(key, "/sessions/")
	if idx < 0 {
		return "", "", "", false
	}
	rest := key[idx+len("/sessions/"):]

	last := strings.LastIndex(rest, "/")
	if last < 0 {
		return "", "", "", false
	}
	outcome = rest[last+1:]
	rest = rest[:last]

	if strings.HasPrefix(rest, "pools/") {
		rest = strings.TrimPrefix(rest, "pools/")
		mid := strings.LastIndex(rest, "/")
		if mid < 0 {
			return "", "", "", false
		}
		return rest[:mid], rest[mid+1:], outcome, true
	}
	if strings.Contains(rest, "/") {
		return "", "", "", false
	}
	return "", rest, outcome, true
}
