package crawlers

import (
	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/stats"
	"github.com/RecoveryAshes/apisession/internal/utils"
)

// 重试统计键
const (
	StatRetryCount       = "retry/count"
	StatRetryMaxReached  = "retry/max_reached"
	statRetryReasonCount = "retry/reason_count/"
)

// RetryPolicy 重试记账
// 请求级 max_retry_times 元数据优先于全局重试次数
type RetryPolicy struct {
	maxRetryTimes  int
	priorityAdjust int
	stats          stats.Collector
}

// NewRetryPolicy 创建重试策略
func NewRetryPolicy(maxRetryTimes, priorityAdjust int, collector stats.Collector) *RetryPolicy {
	if collector == nil {
		collector = stats.NewMemoryCollector()
	}
	return &RetryPolicy{
		maxRetryTimes:  maxRetryTimes,
		priorityAdjust: priorityAdjust,
		stats:          collector,
	}
}

// Retry 返回重试请求,重试次数耗尽时返回nil
// 重试请求是原请求的副本: 新的关联ID,重试次数加一,跳过去重,优先级按配置调整
func (r *RetryPolicy) Retry(req *models.Request, reason string) *models.Request {
	retryTimes := req.RetryTimes + 1
	maxRetryTimes := r.maxRetryTimes
	if v, ok := req.Meta[models.MetaMaxRetryTimes].(int); ok {
		maxRetryTimes = v
	}

	if retryTimes > maxRetryTimes {
		r.stats.Inc(StatRetryMaxReached)
		utils.Logger.Error().
			Str("url", req.URL).
			Str("reason", reason).
			Int("retry_times", req.RetryTimes).
			Msg("❌ 重试次数已耗尽,放弃请求")
		return nil
	}

	retry := req.Copy()
	retry.RetryTimes = retryTimes
	retry.DontFilter = true
	retry.Priority = req.Priority + r.priorityAdjust

	r.stats.Inc(StatRetryCount)
	r.stats.Inc(statRetryReasonCount + reason)
	utils.Logger.Debug().
		Str("url", req.URL).
		Str("reason", reason).
		Int("retry_times", retryTimes).
		Int("max_retry_times", maxRetryTimes).
		Msg("🔄 重试请求")
	return retry
}

// ReasonCountKey 返回按原因统计的重试计数键
func ReasonCountKey(reason string) string {
	return statRetryReasonCount + reason
}
