package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/RecoveryAshes/apisession/internal/models"
)

// countingRetrier 最多允许 max 次重试
type countingRetrier struct {
	max     int
	reasons []string
}

func (r *countingRetrier) Retry(req *models.Request, reason string) *models.Request {
	if req.RetryTimes >= r.max {
		return nil
	}
	r.reasons = append(r.reasons, reason)
	retry := req.Copy()
	retry.RetryTimes++
	retry.DontFilter = true
	return retry
}

// validFlagChecker 读取响应中的 valid 字段,缺省为有效
func validFlagChecker(resp *models.Response, req *models.Request) (Verdict, error) {
	if v, ok := resp.Raw["valid"].(bool); ok {
		return VerdictOf(v), nil
	}
	return Valid(), nil
}

func TestMiddleware_CheckFailureScenario(t *testing.T) {
	cfg := testConfig()
	cfg.PoolSize = 1
	cfg.MaxBadInits = 1

	reg := NewRegistry()
	reg.Register(DefaultPolicyName, func(cfg models.SessionConfig) (Policy, error) {
		return NewDefaultPolicy(cfg).WithChecker(CheckerFunc(validFlagChecker)), nil
	})
	m, collector, _ := newTestManager(t, cfg, &fakeDownloader{}, WithRegistry(reg))
	retrier := &countingRetrier{max: 2}
	mw := NewMiddleware(m, retrier)
	ctx := context.Background()

	req := models.NewRequest("https://example.com")
	if err := mw.ProcessRequest(ctx, req); err != nil {
		t.Fatalf("处理请求失败: %v", err)
	}
	first := req.SessionID()

	retry, err := mw.ProcessResponse(ctx, req, &models.Response{Raw: map[string]any{"valid": false}})
	if err != nil {
		t.Fatalf("处理响应失败: %v", err)
	}
	if retry == nil {
		t.Fatal("检查失败应返回重试请求")
	}

	drainCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := m.Drain(drainCtx); err != nil {
		t.Fatalf("等待刷新失败: %v", err)
	}

	if err := mw.ProcessRequest(ctx, retry); err != nil {
		t.Fatalf("处理重试请求失败: %v", err)
	}
	if retry.SessionID() == first || retry.SessionID() == "" {
		t.Errorf("重试请求应使用刷新后的新会话, got %q", retry.SessionID())
	}

	again, err := mw.ProcessResponse(ctx, retry, &models.Response{Raw: map[string]any{"valid": true}})
	if err != nil || again != nil {
		t.Fatalf("有效响应应直接交付: %v %v", again, err)
	}

	want := map[string]int64{
		poolKey("example.com", PhaseInit, OutcomeCheckPassed): 2,
		poolKey("example.com", PhaseUse, OutcomeCheckFailed):  1,
		poolKey("example.com", PhaseUse, OutcomeCheckPassed):  1,
	}
	for key, value := range want {
		if got := collector.Get(key); got != value {
			t.Errorf("%s = %d, want %d", key, got, value)
		}
	}
	if len(retrier.reasons) != 1 || retrier.reasons[0] != RetryReasonSessionExpired {
		t.Errorf("重试原因 = %v", retrier.reasons)
	}
	if m.bindings.len() != 0 {
		t.Errorf("请求结束后绑定应被释放, 剩余 %d", m.bindings.len())
	}
}

func TestMiddleware_RetryExhausted(t *testing.T) {
	reg := NewRegistry()
	reg.Register(DefaultPolicyName, func(cfg models.SessionConfig) (Policy, error) {
		return NewDefaultPolicy(cfg).WithChecker(CheckerFunc(validFlagChecker)), nil
	})
	m, _, _ := newTestManager(t, testConfig(), &fakeDownloader{}, WithRegistry(reg))
	mw := NewMiddleware(m, &countingRetrier{max: 0})
	ctx := context.Background()

	req := models.NewRequest("https://example.com")
	if err := mw.ProcessRequest(ctx, req); err != nil {
		t.Fatalf("处理请求失败: %v", err)
	}
	_, err := mw.ProcessResponse(ctx, req, &models.Response{Raw: map[string]any{"valid": false}})
	if !errors.Is(err, ErrIgnoreRequest) {
		t.Errorf("重试耗尽应返回ErrIgnoreRequest, got %v", err)
	}
}

func TestMiddleware_ProcessError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantRetry   bool
		wantRefresh int64
		wantOutcome string
	}{
		{"会话过期", &models.APIError{Status: 400, Type: models.ProblemSessionExpired}, true, 1, OutcomeExpired},
		{"其他API错误", &models.APIError{Status: 520, Type: models.ProblemTemporaryDownload}, true, 1, OutcomeFailed},
		{"非API错误", errors.New("网络不可达"), false, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, collector, _ := newTestManager(t, testConfig(), &fakeDownloader{})
			retrier := &countingRetrier{max: 3}
			mw := NewMiddleware(m, retrier)
			ctx := context.Background()

			req := models.NewRequest("https://example.com")
			if err := mw.ProcessRequest(ctx, req); err != nil {
				t.Fatalf("处理请求失败: %v", err)
			}

			retry, err := mw.ProcessError(ctx, req, tt.err)
			if err != nil {
				t.Fatalf("处理错误失败: %v", err)
			}
			if (retry != nil) != tt.wantRetry {
				t.Errorf("retry = %v, wantRetry %v", retry, tt.wantRetry)
			}
			if tt.wantRetry && retrier.reasons[0] != RetryReasonUnsuccessfulResponse {
				t.Errorf("重试原因 = %v", retrier.reasons)
			}
			if got := m.RefreshCount(); got != tt.wantRefresh {
				t.Errorf("刷新次数 = %d, want %d", got, tt.wantRefresh)
			}
			if tt.wantOutcome != "" {
				if got := collector.Get(poolKey("example.com", PhaseUse, tt.wantOutcome)); got != 1 {
					t.Errorf("use/%s = %d, want 1", tt.wantOutcome, got)
				}
			}
		})
	}
}
