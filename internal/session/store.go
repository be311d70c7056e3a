package session

import (
	"sort"
	"sync"
)

// poolState 单个会话池的状态
type poolState struct {
	valid         map[string]struct{}
	queue         []string
	pendingFill   int
	badInitStreak int
	errors        map[string]int
	checkFailures map[string]int
	created       int
}

// PoolSnapshot 会话池状态快照
type PoolSnapshot struct {
	Pool          string   `json:"pool"`
	Valid         []string `json:"valid"`
	Queue         []string `json:"queue"`
	PendingFill   int      `json:"pending_fill"`
	BadInitStreak int      `json:"bad_init_streak"`
	Created       int      `json:"created"`
}

// PoolStore 所有会话池的状态,只由Manager修改
// 每个操作在锁内完成,调用方不会观察到中间状态
type PoolStore struct {
	mu      sync.Mutex
	pools   map[string]*poolState
	sizeFor func(pool string) int
}

// NewPoolStore 创建会话池存储,sizeFor 返回会话池的初始填充数
func NewPoolStore(sizeFor func(pool string) int) *PoolStore {
	return &PoolStore{
		pools:   make(map[string]*poolState),
		sizeFor: sizeFor,
	}
}

// state 返回会话池状态,首次访问时创建,调用方必须持有锁
func (s *PoolStore) state(pool string) *poolState {
	st, ok := s.pools[pool]
	if !ok {
		st = &poolState{
			valid:         make(map[string]struct{}),
			pendingFill:   s.sizeFor(pool),
			errors:        make(map[string]int),
			checkFailures: make(map[string]int),
		}
		s.pools[pool] = st
	}
	return st
}

// TakeFillSlot 消耗一个初始填充名额
// 返回true时调用方必须为当前请求创建一个新会话
func (s *PoolStore) TakeFillSlot(pool string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)
	if st.pendingFill <= 0 {
		return false
	}
	st.pendingFill--
	return true
}

// NextReady 轮转就绪队列: 弹出队首,丢弃已失效的ID,有效ID放回队尾
func (s *PoolStore) NextReady(pool string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)
	for len(st.queue) > 0 {
		id := st.queue[0]
		st.queue = st.queue[1:]
		if _, ok := st.valid[id]; !ok {
			continue
		}
		st.queue = append(st.queue, id)
		return id, true
	}
	return "", false
}

// AddSession 记录一次成功的初始化
func (s *PoolStore) AddSession(pool, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)
	st.valid[id] = struct{}{}
	st.badInitStreak = 0
	st.queue = append(st.queue, id)
	st.created++
}

// RecordBadInit 记录一次初始化失败,返回当前连续失败次数
func (s *PoolStore) RecordBadInit(pool string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)
	st.badInitStreak++
	return st.badInitStreak
}

// Remove 从有效集合中删除会话,同时清除其错误计数
// 只有真正删除了ID的调用方得到true
func (s *PoolStore) Remove(pool, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)
	delete(st.errors, id)
	delete(st.checkFailures, id)
	if _, ok := st.valid[id]; !ok {
		return false
	}
	delete(st.valid, id)
	return true
}

// IncErrors 会话使用错误计数加一并返回新值
func (s *PoolStore) IncErrors(pool, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)
	st.errors[id]++
	return st.errors[id]
}

// IncCheckFailures 会话检查失败计数加一并返回新值
func (s *PoolStore) IncCheckFailures(pool, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)
	st.checkFailures[id]++
	return st.checkFailures[id]
}

// Snapshot 返回会话池状态快照
func (s *PoolStore) Snapshot(pool string) PoolSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(pool)

	valid := make([]string, 0, len(st.valid))
	for id := range st.valid {
		valid = append(valid, id)
	}
	sort.Strings(valid)

	return PoolSnapshot{
		Pool:          pool,
		Valid:         valid,
		Queue:         append([]string(nil), st.queue...),
		PendingFill:   st.pendingFill,
		BadInitStreak: st.badInitStreak,
		Created:       st.created,
	}
}

// Pools 返回已知的会话池ID
func (s *PoolStore) Pools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pools := make([]string, 0, len(s.pools))
	for pool := range s.pools {
		pools = append(pools, pool)
	}
	sort.Strings(pools)
	return pools
}
