package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"   // 待执行
	TaskStatusRunning   TaskStatus = "running"   // 执行中
	TaskStatusCompleted TaskStatus = "completed" // 已完成
	TaskStatusFailed    TaskStatus = "failed"    // 失败
	TaskStatusCancelled TaskStatus = "cancelled" // 已取消
)

// 爬取关闭原因
const (
	CloseReasonFinished  = "finished"
	CloseReasonCancelled = "cancelled"
)

// TaskStats 任务统计
type TaskStats struct {
	Scheduled int     `json:"scheduled"` // 调度的请求数
	Responses int     `json:"responses"` // 交付给调用方的响应数
	Retries   int     `json:"retries"`   // 重试次数
	Dropped   int     `json:"dropped"`   // 放弃的请求数
	Failed    int     `json:"failed"`    // 传输失败数
	Duration  float64 `json:"duration"`  // 总耗时(秒)
}

// CrawlConfig 爬取配置
type CrawlConfig struct {
	Depth               int  `json:"depth" mapstructure:"depth"`                                 // 链接跟随深度 (默认:1)
	MaxWorkers          int  `json:"max_workers" mapstructure:"max_workers"`                     // 并发工作协程数 (默认:4)
	RetryTimes          int  `json:"retry_times" mapstructure:"retry_times"`                     // 默认最大重试次数 (默认:2)
	RetryPriorityAdjust int  `json:"retry_priority_adjust" mapstructure:"retry_priority_adjust"` // 重试请求优先级调整 (默认:-1)
	FollowLinks         bool `json:"follow_links" mapstructure:"follow_links"`                   // 是否跟随页面链接
	AllowCrossDomain    bool `json:"allow_cross_domain" mapstructure:"allow_cross_domain"`       // 是否允许跨域
}

// Validate 验证配置
func (c *CrawlConfig) Validate() error {
	if c.Depth < 0 || c.Depth > 10 {
		return fmt.Errorf("深度必须在0-10之间")
	}
	if c.MaxWorkers < 1 || c.MaxWorkers > 100 {
		return fmt.Errorf("并发数必须在1-100之间")
	}
	if c.RetryTimes < 0 {
		return fmt.Errorf("重试次数不能为负数")
	}
	return nil
}

// CrawlTask 爬取任务
type CrawlTask struct {
	ID          string     `json:"id"`
	Seeds       []string   `json:"seeds"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Config CrawlConfig `json:"config"`

	Status      TaskStatus `json:"status"`
	CloseReason string     `json:"close_reason,omitempty"`

	Stats TaskStats `json:"stats"`

	// 统计收集器快照,包含会话池计数
	Counters map[string]int64 `json:"counters,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// NewCrawlTask 创建新任务
func NewCrawlTask(seeds []string, config CrawlConfig) (*CrawlTask, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("至少需要一个起始URL")
	}
	for _, s := range seeds {
		if err := ValidateURL(s); err != nil {
			return nil, err
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &CrawlTask{
		ID:        generateID(),
		Seeds:     seeds,
		CreatedAt: time.Now(),
		Config:    config,
		Status:    TaskStatusPending,
	}, nil
}

// ToJSON 序列化为JSON
func (t *CrawlTask) ToJSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// FromJSON 从JSON反序列化
func (t *CrawlTask) FromJSON(data []byte) error {
	return json.Unmarshal(data, t)
}
