package crawlers

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/RecoveryAshes/apisession/internal/mockapi"
	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/session"
	"github.com/RecoveryAshes/apisession/internal/stats"
)

// newSessionEngine 组装 假API + API客户端 + 引擎 + 会话池管理器
func newSessionEngine(t *testing.T, sessCfg models.SessionConfig, crawlCfg models.CrawlConfig) (*Engine, *session.Manager, *stats.MemoryCollector) {
	t.Helper()
	srv := httptest.NewServer(mockapi.NewServer("").Handler())
	t.Cleanup(srv.Close)

	client, err := NewAPIClient(models.APIConfig{
		URL:             srv.URL + mockapi.ExtractPath,
		Timeout:         5,
		Concurrency:     4,
		TransparentMode: true,
	}, nil)
	if err != nil {
		t.Fatalf("创建API客户端失败: %v", err)
	}

	collector := stats.NewMemoryCollector()
	engine, err := NewEngine(crawlCfg, client, WithEngineStats(collector))
	if err != nil {
		t.Fatalf("创建引擎失败: %v", err)
	}

	manager, err := session.NewManager(sessCfg, engine, engine,
		session.WithStats(collector),
		session.WithTransparentMode(true),
	)
	if err != nil {
		t.Fatalf("创建会话池管理器失败: %v", err)
	}
	t.Cleanup(manager.Close)

	engine.Use(session.NewMiddleware(manager, engine))
	engine.AddDrainer(manager.Drain)
	return engine, manager, collector
}

func sessionTestConfig() models.SessionConfig {
	cfg := models.DefaultSessionConfig()
	cfg.Enabled = true
	cfg.QueueWaitTime = 0.01
	return cfg
}

func TestEngine_SessionCheckPasses(t *testing.T) {
	cfg := sessionTestConfig()
	cfg.CheckSelector = "#logged-in"
	engine, manager, _ := newSessionEngine(t, cfg, testCrawlConfig())

	task, err := engine.Run(context.Background(), []string{"https://session-check.example/"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if task.Stats.Responses != 1 {
		t.Fatalf("应交付一个响应: %+v", task.Stats)
	}
	pool := "session-check.example"
	for _, key := range []string{
		session.StatsKey(true, pool, session.PhaseInit, session.OutcomeCheckPassed),
		session.StatsKey(true, pool, session.PhaseUse, session.OutcomeCheckPassed),
	} {
		if got := task.Counters[key]; got != 1 {
			t.Errorf("%s = %d, want 1", key, got)
		}
	}
	if snap := manager.Snapshot(pool); len(snap.Valid) != 1 {
		t.Errorf("会话池应有一个有效会话: %+v", snap)
	}
}

func TestEngine_SessionExpiredRetries(t *testing.T) {
	crawlCfg := testCrawlConfig()
	crawlCfg.MaxWorkers = 1
	engine, _, _ := newSessionEngine(t, sessionTestConfig(), crawlCfg)

	task, err := engine.Run(context.Background(), []string{"https://session-expired.example/"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	pool := "session-expired.example"
	expect := map[string]int64{
		session.StatsKey(true, pool, session.PhaseUse, session.OutcomeExpired): 3,
		StatRetryCount: 2,
		ReasonCountKey(session.RetryReasonUnsuccessfulResponse): 2,
		StatRetryMaxReached: 1,
	}
	for key, want := range expect {
		if got := task.Counters[key]; got != want {
			t.Errorf("%s = %d, want %d", key, got, want)
		}
	}
	if task.Stats.Responses != 0 || task.Stats.Failed != 1 {
		t.Errorf("统计错误: %+v", task.Stats)
	}
	if task.Status != models.TaskStatusCompleted {
		t.Errorf("会话过期不应关闭爬取: %s", task.CloseReason)
	}
}

func TestEngine_UnsupportedLocationClosesCrawl(t *testing.T) {
	cfg := sessionTestConfig()
	cfg.Location = map[string]string{"postalcode": "10001"}
	engine, _, _ := newSessionEngine(t, cfg, testCrawlConfig())

	task, err := engine.Run(context.Background(), []string{"https://no-location-support.example/"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if task.CloseReason != session.ReasonUnsupportedSetLocation || task.Status != models.TaskStatusFailed {
		t.Errorf("关闭原因 = %q, 状态 = %s", task.CloseReason, task.Status)
	}
	if task.Stats.Dropped != 1 || task.Stats.Responses != 0 {
		t.Errorf("统计错误: %+v", task.Stats)
	}
}

func TestEngine_SessionDisabled(t *testing.T) {
	cfg := sessionTestConfig()
	cfg.Enabled = false
	engine, _, _ := newSessionEngine(t, cfg, testCrawlConfig())

	task, err := engine.Run(context.Background(), []string{"https://a.example/"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if task.Stats.Responses != 1 {
		t.Errorf("未启用会话时应直接交付: %+v", task.Stats)
	}
	if got := task.Counters[session.DisabledKey]; got != 1 {
		t.Errorf("%s = %d, want 1", session.DisabledKey, got)
	}
}
