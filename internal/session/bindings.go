package session

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

const bindingTableSize = 65536

// binding 请求与策略、会话池的绑定
// 会话池只解析一次,assign、check和错误处理看到同一个结果
type binding struct {
	policy Policy

	once    sync.Once
	pool    string
	poolErr error
}

// bindingTable 以请求关联ID为键的侧表
// 请求生命周期结束时显式释放,容量上限保证遗漏释放时不会无限增长
type bindingTable struct {
	mu    sync.Mutex
	cache *lru.Cache
}

func newBindingTable(size int) *bindingTable {
	return &bindingTable{cache: lru.New(size)}
}

func (t *bindingTable) getOrCreate(id string, create func() *binding) *binding {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache.Get(id); ok {
		return v.(*binding)
	}
	b := create()
	t.cache.Add(id, b)
	return b
}

func (t *bindingTable) release(id string) {
	t.mu.Lock()
	t.cache.Remove(id)
	t.mu.Unlock()
}

func (t *bindingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cache.Len()
}
