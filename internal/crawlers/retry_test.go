package crawlers

import (
	"testing"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/stats"
)

func TestRetryPolicy_Retry(t *testing.T) {
	collector := stats.NewMemoryCollector()
	policy := NewRetryPolicy(2, -1, collector)

	req := models.NewRequest("https://example.com")
	req.Priority = 5
	req.Meta[models.MetaAPI] = models.Params{"browserHtml": true}

	first := policy.Retry(req, "session_expired")
	if first == nil {
		t.Fatal("第一次重试不应耗尽")
	}
	if first.ID == req.ID {
		t.Error("重试请求应使用新的关联ID")
	}
	if first.RetryTimes != 1 || !first.DontFilter || first.Priority != 4 {
		t.Errorf("重试请求字段错误: %+v", first)
	}

	second := policy.Retry(first, "unsuccessful_response")
	if second == nil || second.RetryTimes != 2 {
		t.Fatalf("第二次重试 = %+v", second)
	}
	if policy.Retry(second, "unsuccessful_response") != nil {
		t.Error("超过最大次数应返回nil")
	}

	expect := map[string]int64{
		StatRetryCount:                          2,
		ReasonCountKey("session_expired"):       1,
		ReasonCountKey("unsuccessful_response"): 1,
		StatRetryMaxReached:                     1,
	}
	for key, want := range expect {
		if got := collector.Get(key); got != want {
			t.Errorf("%s = %d, want %d", key, got, want)
		}
	}
}

func TestRetryPolicy_MetaOverride(t *testing.T) {
	policy := NewRetryPolicy(5, 0, nil)

	tests := []struct {
		name string
		max  int
		want bool
	}{
		{"请求级禁止重试", 0, false},
		{"请求级允许一次", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := models.NewRequest("https://example.com")
			req.Meta[models.MetaMaxRetryTimes] = tt.max
			if got := policy.Retry(req, "x") != nil; got != tt.want {
				t.Errorf("Retry() 返回非nil = %v, want %v", got, tt.want)
			}
		})
	}
}
