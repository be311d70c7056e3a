package stats

import (
	"sort"
	"strings"
	"sync"
)

// Prefix 统计键的统一前缀
const Prefix = "apisession"

// Collector 统计计数接收器
type Collector interface {
	Inc(key string)
	Add(key string, n int64)
	Get(key string) int64
	Snapshot() map[string]int64
}

// MemoryCollector 进程内计数器
type MemoryCollector struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewMemoryCollector 创建进程内计数器
func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{counters: make(map[string]int64)}
}

// Inc 计数加一
func (c *MemoryCollector) Inc(key string) {
	c.Add(key, 1)
}

// Add 计数增加n
func (c *MemoryCollector) Add(key string, n int64) {
	c.mu.Lock()
	c.counters[key] += n
	c.mu.Unlock()
}

// Get 读取计数
func (c *MemoryCollector) Get(key string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[key]
}

// Snapshot 返回所有计数的副本
func (c *MemoryCollector) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		out[k] = v
	}
	return out
}

// WithPrefix 返回指定前缀下的计数,键去掉前缀
func WithPrefix(snapshot map[string]int64, prefix string) map[string]int64 {
	out := make(map[string]int64)
	for k, v := range snapshot {
		if strings.HasPrefix(k, prefix) {
			out[strings.TrimPrefix(k, prefix)] = v
		}
	}
	return out
}

// Keys 返回排序后的键列表
func Keys(snapshot map[string]int64) []string {
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
