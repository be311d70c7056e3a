package core

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/RecoveryAshes/apisession/internal/mockapi"
	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/session"
)

func boolPtr(b bool) *bool { return &b }

func newTestConfig(t *testing.T, apiURL string) *Config {
	t.Helper()
	session := models.DefaultSessionConfig()
	session.QueueWaitTime = 0.01

	api := models.DefaultAPIConfig()
	api.URL = apiURL
	api.Key = "test-key"
	api.Timeout = 5
	api.TransparentMode = true

	return &Config{
		API:     api,
		Session: session,
		Crawl:   models.CrawlConfig{MaxWorkers: 2, RetryTimes: 2, RetryPriorityAdjust: -1},
		Output:  OutputConfig{BaseDir: t.TempDir()},
	}
}

func TestBuildRegistry(t *testing.T) {
	registry, err := BuildRegistry([]PolicyConfig{
		{Name: "shop", Include: []string{"shop.example.com"}},
		{Name: "checkout", Include: []string{"shop.example.com/checkout"}, InsteadOf: "shop"},
	})
	if err != nil {
		t.Fatalf("构建注册表失败: %v", err)
	}

	tests := []struct {
		url  string
		want string
	}{
		{"https://shop.example.com/", "shop"},
		{"https://shop.example.com/checkout/1", "checkout"},
		{"https://other.example.com/", session.DefaultPolicyName},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := registry.Resolve(tt.url); got != tt.want {
				t.Errorf("Resolve(%s) = %s, 期望 %s", tt.url, got, tt.want)
			}
		})
	}

	t.Run("策略不能替换自身", func(t *testing.T) {
		if _, err := BuildRegistry([]PolicyConfig{{Name: "a", InsteadOf: "a"}}); err == nil {
			t.Error("期望返回错误")
		}
	})
}

func TestPolicyFactory_Overrides(t *testing.T) {
	base := models.DefaultSessionConfig()
	base.Location = map[string]string{"addressCountry": "DE"}

	p, err := policyFactory(PolicyConfig{
		Name:     "us",
		Enabled:  boolPtr(true),
		Location: map[string]string{"addresscountry": "US"},
	})(base)
	if err != nil {
		t.Fatalf("构建策略失败: %v", err)
	}

	req := models.NewRequest("https://example.com/")
	if !p.Enabled(req) {
		t.Error("策略应启用会话")
	}
	if loc := p.Location(req); loc["addressCountry"] != "US" {
		t.Errorf("Location = %v, 期望策略自己的地址", loc)
	}
	if base.Location["addressCountry"] != "DE" {
		t.Error("策略不应修改全局配置")
	}
}

func TestCrawler_Crawl(t *testing.T) {
	srv := httptest.NewServer(mockapi.NewServer("test-key").Handler())
	defer srv.Close()

	cfg := newTestConfig(t, srv.URL+mockapi.ExtractPath)
	cfg.Policies = []PolicyConfig{{
		Name:          "checked",
		Include:       []string{"session-check.example"},
		Enabled:       boolPtr(true),
		CheckSelector: "#logged-in",
	}}

	crawler, err := NewCrawler(cfg, []string{
		"https://session-check.example/",
		"https://plain.example/",
	}, nil)
	if err != nil {
		t.Fatalf("创建爬取器失败: %v", err)
	}

	task, err := crawler.Crawl(context.Background())
	if err != nil {
		t.Fatalf("爬取失败: %v", err)
	}

	if task.Status != models.TaskStatusCompleted {
		t.Errorf("Status = %s, 期望 completed (%s)", task.Status, task.ErrorMessage)
	}
	if task.Stats.Responses != 2 {
		t.Errorf("Responses = %d, 期望 2", task.Stats.Responses)
	}

	counters := task.Counters
	if got := counters[session.StatsKey(true, "session-check.example", session.PhaseUse, session.OutcomeCheckPassed)]; got != 1 {
		t.Errorf("use/check-passed = %d, 期望 1", got)
	}
	if got := counters[session.DisabledKey]; got != 1 {
		t.Errorf("disabled = %d, 期望 1 (未命中策略的请求)", got)
	}
	if crawler.Collector().Get(session.DisabledKey) != 1 {
		t.Error("Prometheus收集器应保留进程内计数")
	}
	if crawler.GetTask() != task {
		t.Error("GetTask 应返回最近一次任务")
	}

	report := filepath.Join(cfg.Output.BaseDir, "reports", task.ID, "crawl_report.json")
	if _, err := os.Stat(report); err != nil {
		t.Errorf("报告未生成: %v", err)
	}
}

func TestCrawler_InvalidConfig(t *testing.T) {
	cfg := newTestConfig(t, "not-a-url")
	if _, err := NewCrawler(cfg, []string{"https://example.com/"}, nil); err == nil {
		t.Error("期望配置验证失败")
	}
	if _, err := NewCrawler(nil, nil, nil); err == nil {
		t.Error("期望空配置返回错误")
	}
}
