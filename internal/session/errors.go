package session

import (
	"errors"
	"fmt"
	"time"
)

// 关闭爬取的原因
const (
	ReasonBadSessionInits        = "bad_session_inits"
	ReasonPoolError              = "pool_error"
	ReasonUnsupportedSetLocation = "unsupported_set_location"
)

// ErrIgnoreRequest 请求重试次数耗尽,应丢弃
var ErrIgnoreRequest = errors.New("请求已放弃")

// FatalKind 致命错误类别
type FatalKind int

const (
	// KindTooManyBadInits 会话池连续初始化失败达到上限
	KindTooManyBadInits FatalKind = iota + 1
	// KindPoolError 无法解析会话池
	KindPoolError
	// KindCloseRequested 策略要求关闭爬取
	KindCloseRequested
)

func (k FatalKind) String() string {
	switch k {
	case KindTooManyBadInits:
		return "too-many-bad-inits"
	case KindPoolError:
		return "pool-error"
	case KindCloseRequested:
		return "close-requested"
	}
	return "unknown"
}

// FatalError 需要关闭整个爬取的错误
type FatalError struct {
	Kind   FatalKind
	Reason string // 关闭原因,稳定且可区分
	Pool   string
	Err    error
}

// Error 实现error接口
func (e *FatalError) Error() string {
	msg := fmt.Sprintf("会话池致命错误 [%s] %s", e.Kind, e.Reason)
	if e.Pool != "" {
		msg += fmt.Sprintf(" (会话池: %s)", e.Pool)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap 支持errors.Unwrap
func (e *FatalError) Unwrap() error {
	return e.Err
}

func tooManyBadInits(pool string, streak int) *FatalError {
	return &FatalError{
		Kind:   KindTooManyBadInits,
		Reason: ReasonBadSessionInits,
		Pool:   pool,
		Err:    fmt.Errorf("连续 %d 次初始化失败", streak),
	}
}

func poolError(err error) *FatalError {
	return &FatalError{Kind: KindPoolError, Reason: ReasonPoolError, Err: err}
}

// PoolStarvedError 就绪队列在最大尝试次数内一直为空
// 不属于致命错误,由直接调用方处理
type PoolStarvedError struct {
	Pool        string
	Attempts    int
	Wait        time.Duration
	Valid       int
	PendingFill int
	Created     int
}

// Error 实现error接口
func (e *PoolStarvedError) Error() string {
	return fmt.Sprintf(
		"会话池 %s 在 %d 次尝试(间隔 %s)后仍没有可用会话 (有效会话: %d, 待填充: %d, 已创建: %d)",
		e.Pool, e.Attempts, e.Wait, e.Valid, e.PendingFill, e.Created,
	)
}
