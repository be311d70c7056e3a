package crawlers

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RecoveryAshes/apisession/internal/models"
)

// RequestQueue 请求调度队列
// 职责: 按优先级出队,相同优先级先进先出,对重复请求去重(DontFilter除外)
type RequestQueue struct {
	mu sync.Mutex

	// 待处理请求,按 (优先级降序, 入队序号升序) 排列
	pending []queuedRequest

	// 已见过的请求指纹
	seen map[string]bool

	// 有新请求或队列关闭时通知等待方
	notify chan struct{}

	seq    uint64
	closed bool
}

type queuedRequest struct {
	req *models.Request
	seq uint64
}

// NewRequestQueue 创建请求队列
func NewRequestQueue() *RequestQueue {
	return &RequestQueue{
		seen:   make(map[string]bool),
		notify: make(chan struct{}),
	}
}

// Push 请求入队
// 返回false表示请求重复被过滤
func (q *RequestQueue) Push(req *models.Request) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false, fmt.Errorf("队列已关闭")
	}

	fp := fingerprint(req)
	if !req.DontFilter && q.seen[fp] {
		return false, nil
	}
	q.seen[fp] = true

	q.seq++
	item := queuedRequest{req: req, seq: q.seq}
	idx := sort.Search(len(q.pending), func(i int) bool {
		return q.pending[i].req.Priority < req.Priority
	})
	q.pending = append(q.pending, queuedRequest{})
	copy(q.pending[idx+1:], q.pending[idx:])
	q.pending[idx] = item

	q.wake()
	return true, nil
}

// Pop 取出优先级最高的请求,队列为空时阻塞等待
// 队列关闭或context取消时返回false
func (q *RequestQueue) Pop(ctx context.Context) (*models.Request, bool) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			item := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()
			return item.req, true
		}
		if q.closed {
			q.mu.Unlock()
			return nil, false
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-wait:
		}
	}
}

// Len 返回待处理请求数
func (q *RequestQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close 关闭队列,等待中的Pop返回false,已入队的请求仍可取出
func (q *RequestQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.wake()
	}
}

// wake 唤醒所有等待方,调用方必须持有锁
func (q *RequestQueue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// fingerprint 请求指纹: URL加显式API参数
func fingerprint(req *models.Request) string {
	fp := req.URL
	if params, ok := req.ParamsMeta(models.MetaAPI); ok {
		if key, err := params.Key(); err == nil {
			fp += " " + key
		}
	}
	return fp
}
