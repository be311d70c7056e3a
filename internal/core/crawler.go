package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/RecoveryAshes/apisession/internal/crawlers"
	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/session"
	"github.com/RecoveryAshes/apisession/internal/stats"
	"github.com/RecoveryAshes/apisession/internal/utils"
)

// Crawler 主爬取器协调器
// 组装 API客户端、爬取引擎、会话池管理器和统计,执行一次爬取任务
type Crawler struct {
	config *Config
	seeds  []string

	// HTTP头部提供者
	headerProvider models.HeaderProvider

	registry  *session.Registry
	collector *stats.PrometheusCollector

	mu   sync.RWMutex
	task *models.CrawlTask
}

// NewCrawler 创建主爬取器
func NewCrawler(config *Config, seeds []string, headerProvider models.HeaderProvider) (*Crawler, error) {
	if config == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}

	registry, err := BuildRegistry(config.Policies)
	if err != nil {
		return nil, fmt.Errorf("构建会话策略失败: %w", err)
	}

	return &Crawler{
		config:         config,
		seeds:          seeds,
		headerProvider: headerProvider,
		registry:       registry,
		collector:      stats.NewPrometheusCollector(stats.Prefix),
	}, nil
}

// BuildRegistry 将配置中的策略注册为默认策略的变体
// 先注册全部策略再添加规则,替换链可以引用后声明的策略
func BuildRegistry(policies []PolicyConfig) (*session.Registry, error) {
	registry := session.NewRegistry()
	for _, p := range policies {
		registry.Register(p.Name, policyFactory(p))
	}
	for _, p := range policies {
		err := registry.AddRule(session.Rule{
			Name:      p.Name,
			Include:   p.Include,
			Exclude:   p.Exclude,
			Priority:  p.Priority,
			InsteadOf: p.InsteadOf,
		})
		if err != nil {
			return nil, fmt.Errorf("策略 %s: %w", p.Name, err)
		}
		utils.Debugf("注册会话策略: %s (include=%v, exclude=%v)", p.Name, p.Include, p.Exclude)
	}
	return registry, nil
}

// policyFactory 在全局会话配置上覆盖策略自己的设置
func policyFactory(p PolicyConfig) session.Factory {
	return func(cfg models.SessionConfig) (session.Policy, error) {
		if p.Enabled != nil {
			cfg.Enabled = *p.Enabled
		}
		if p.CheckSelector != "" {
			cfg.CheckSelector = p.CheckSelector
		}
		if len(p.Location) > 0 {
			cfg.Location = p.Location
		}
		return session.NewDefaultPolicy(cfg), nil
	}
}

// Crawl 执行爬取任务
// 执行流程:
//  1. 创建输出目录
//  2. 启动 /metrics (如果配置了监听地址)
//  3. 组装引擎与会话池中间件并运行
//  4. 生成爬取报告
func (c *Crawler) Crawl(ctx context.Context) (*models.CrawlTask, error) {
	utils.Infof("🚀 开始爬取任务")
	utils.Infof("起始URL: %v", c.seeds)
	utils.Infof("提取API: %s", c.config.API.URL)
	utils.Infof("会话池: %v (默认大小 %d)", c.config.Session.Enabled, c.config.Session.PoolSize)
	utils.Infof("输出目录: %s", c.config.Output.BaseDir)

	if err := c.setupOutputDirectories(); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	if c.config.Metrics.Listen != "" {
		stop := c.serveMetrics(c.config.Metrics.Listen)
		defer stop()
	}

	client, err := crawlers.NewAPIClient(c.config.API, c.headerProvider)
	if err != nil {
		return nil, err
	}

	bar := utils.NewProgressBar(-1, "爬取中")
	engine, err := crawlers.NewEngine(c.config.Crawl, client,
		crawlers.WithEngineStats(c.collector),
		crawlers.WithResponseHandler(func(resp *models.Response) {
			_ = bar.Add(1)
			utils.Debugf("收到响应 [%d] %s", resp.Status, resp.URL)
		}),
	)
	if err != nil {
		return nil, err
	}

	manager, err := session.NewManager(c.config.Session, engine, engine,
		session.WithRegistry(c.registry),
		session.WithStats(c.collector),
		session.WithTransparentMode(client.TransparentMode()),
		session.WithContext(ctx),
	)
	if err != nil {
		return nil, err
	}
	defer manager.Close()

	engine.Use(session.NewMiddleware(manager, engine))
	engine.AddDrainer(manager.Drain)

	task, err := engine.Run(ctx, c.seeds)
	_ = bar.Finish()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.task = task
	c.mu.Unlock()

	c.logPools(manager)

	reporter := utils.NewReporter(c.config.Output.BaseDir)
	if _, err := reporter.GenerateReport(task); err != nil {
		utils.Warnf("生成报告失败: %v", err)
	}

	sessions := stats.WithPrefix(task.Counters, stats.Prefix+"/sessions/")
	if len(sessions) > 0 {
		utils.Infof("📊 会话池统计:")
		for _, line := range utils.SummaryLines(sessions) {
			utils.Infof("  %s", line)
		}
	}

	return task, nil
}

// setupOutputDirectories 创建输出目录结构
func (c *Crawler) setupOutputDirectories() error {
	dir := filepath.Join(c.config.Output.BaseDir, "reports")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录失败 [%s]: %w", dir, err)
	}
	utils.Debugf("创建目录: %s", dir)
	return nil
}

// serveMetrics 在后台启动 /metrics,返回停止函数
func (c *Crawler) serveMetrics(addr string) func() {
	router := mux.NewRouter()
	router.Handle("/metrics", c.collector.Handler()).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		utils.Infof("📈 指标服务监听 %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Errorf("指标服务异常退出: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			utils.Warnf("关闭指标服务失败: %v", err)
		}
	}
}

// logPools 记录各会话池的最终状态
func (c *Crawler) logPools(manager *session.Manager) {
	for _, pool := range manager.Pools() {
		snap := manager.Snapshot(pool)
		log := utils.WithPool(pool)
		log.Info().
			Int("valid", len(snap.Valid)).
			Int("queue", len(snap.Queue)).
			Int("created", snap.Created).
			Int("bad_init_streak", snap.BadInitStreak).
			Msg("会话池状态")
	}
	if n := manager.RefreshCount(); n > 0 {
		utils.Infof("🔄 会话刷新次数: %d", n)
	}
}

// Collector 返回统计收集器
func (c *Crawler) Collector() *stats.PrometheusCollector {
	return c.collector
}

// GetTask 获取最近一次爬取任务
func (c *Crawler) GetTask() *models.CrawlTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.task
}
