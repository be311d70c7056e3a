package session

import (
	"errors"
	"sync"

	"github.com/RecoveryAshes/apisession/internal/utils"
)

// Closer 异步关闭整个爬取
type Closer interface {
	CloseCrawl(reason string)
}

// CloserFunc 函数形式的Closer
type CloserFunc func(reason string)

// CloseCrawl 实现Closer接口
func (f CloserFunc) CloseCrawl(reason string) { f(reason) }

// Escalator 将致命错误升级为关闭爬取
// 每个原因只调度一次,关闭在独立的goroutine中执行,不阻塞调用方
type Escalator struct {
	closer Closer

	mu    sync.Mutex
	fired map[string]bool
	wg    sync.WaitGroup
}

// NewEscalator 创建升级处理器
func NewEscalator(closer Closer) *Escalator {
	return &Escalator{
		closer: closer,
		fired:  make(map[string]bool),
	}
}

// Handle 检查错误,致命错误调度关闭,原样返回错误
func (e *Escalator) Handle(err error) error {
	var fatal *FatalError
	if err == nil || !errors.As(err, &fatal) {
		return err
	}

	e.mu.Lock()
	if e.fired[fatal.Reason] {
		e.mu.Unlock()
		return err
	}
	e.fired[fatal.Reason] = true
	e.mu.Unlock()

	utils.Logger.Error().
		Str("reason", fatal.Reason).
		Str("pool", fatal.Pool).
		Err(fatal.Err).
		Msg("🛑 会话池出现致命错误,关闭爬取")

	if e.closer != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.closer.CloseCrawl(fatal.Reason)
		}()
	}
	return err
}

// Fired 返回已调度过关闭的原因是否包含reason
func (e *Escalator) Fired(reason string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fired[reason]
}

// Wait 等待已调度的关闭回调执行完毕
func (e *Escalator) Wait() {
	e.wg.Wait()
}
