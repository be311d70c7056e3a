package models

import (
	"fmt"
	"time"
)

// SessionConfig 会话池配置
type SessionConfig struct {
	Enabled            bool              `json:"enabled" mapstructure:"enabled"`
	PoolSize           int               `json:"pool_size" mapstructure:"pool_size"`
	PoolSizes          map[string]int    `json:"pool_sizes" mapstructure:"pool_sizes"`
	MaxBadInits        int               `json:"max_bad_inits" mapstructure:"max_bad_inits"`
	MaxBadInitsPerPool map[string]int    `json:"max_bad_inits_per_pool" mapstructure:"max_bad_inits_per_pool"`
	MaxErrors          int               `json:"max_errors" mapstructure:"max_errors"`
	MaxCheckFailures   int               `json:"max_check_failures" mapstructure:"max_check_failures"`
	QueueMaxAttempts   int               `json:"queue_max_attempts" mapstructure:"queue_max_attempts"`
	QueueWaitTime      float64           `json:"queue_wait_time" mapstructure:"queue_wait_time"` // 秒
	MaxConcurrentInits int               `json:"max_concurrent_inits" mapstructure:"max_concurrent_inits"`
	Params             string            `json:"params" mapstructure:"params"` // JSON字符串
	Location           map[string]string `json:"location" mapstructure:"location"`
	StatsPerPool       bool              `json:"stats_per_pool" mapstructure:"stats_per_pool"`
	CheckSelector      string            `json:"check_selector" mapstructure:"check_selector"`
}

// DefaultSessionConfig 默认会话池配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Enabled:          false,
		PoolSize:         8,
		MaxBadInits:      8,
		MaxErrors:        1,
		MaxCheckFailures: 1,
		QueueMaxAttempts: 60,
		QueueWaitTime:    1.0,
		StatsPerPool:     true,
	}
}

// Validate 验证配置
func (c *SessionConfig) Validate() error {
	if c.PoolSize < 1 {
		return fmt.Errorf("会话池大小必须大于0,当前值: %d", c.PoolSize)
	}
	for pool, size := range c.PoolSizes {
		if size < 1 {
			return fmt.Errorf("会话池 %s 的大小必须大于0,当前值: %d", pool, size)
		}
	}
	if c.QueueMaxAttempts < 1 {
		return fmt.Errorf("队列最大尝试次数必须大于0,当前值: %d", c.QueueMaxAttempts)
	}
	if c.QueueWaitTime < 0 {
		return fmt.Errorf("队列等待时间不能为负数")
	}
	if c.MaxConcurrentInits < 0 {
		return fmt.Errorf("最大并发初始化数不能为负数")
	}
	if _, err := ParseParamsJSON(c.Params); err != nil {
		return err
	}
	return nil
}

// SizeFor 返回指定会话池的大小
func (c *SessionConfig) SizeFor(pool string) int {
	if size, ok := c.PoolSizes[pool]; ok {
		return size
	}
	return c.PoolSize
}

// MaxBadInitsFor 返回指定会话池允许的连续初始化失败次数,最小为1
func (c *SessionConfig) MaxBadInitsFor(pool string) int {
	n := c.MaxBadInits
	if v, ok := c.MaxBadInitsPerPool[pool]; ok {
		n = v
	}
	return atLeastOne(n)
}

// MaxErrorsLimit 返回单个会话允许的使用错误次数,最小为1
func (c *SessionConfig) MaxErrorsLimit() int {
	return atLeastOne(c.MaxErrors)
}

// MaxCheckFailuresLimit 返回单个会话允许的检查失败次数,最小为1
func (c *SessionConfig) MaxCheckFailuresLimit() int {
	return atLeastOne(c.MaxCheckFailures)
}

// QueueWait 返回队列为空时的等待间隔
func (c *SessionConfig) QueueWait() time.Duration {
	return time.Duration(c.QueueWaitTime * float64(time.Second))
}

// DefaultLocation 返回规范化后的全局默认地址
func (c *SessionConfig) DefaultLocation() Location {
	return NormalizeLocation(c.Location)
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
