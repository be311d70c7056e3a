package session

import (
	"errors"
	"fmt"
	"testing"
)

func TestEscalator_Handle(t *testing.T) {
	closer := newRecordingCloser()
	e := NewEscalator(closer)

	plain := errors.New("普通错误")
	if got := e.Handle(plain); got != plain {
		t.Error("非致命错误应原样返回")
	}
	if e.Handle(nil) != nil {
		t.Error("nil 应原样返回")
	}

	fatal := tooManyBadInits("example.com", 8)
	wrapped := fmt.Errorf("分配会话: %w", fatal)
	if got := e.Handle(wrapped); got != wrapped {
		t.Error("致命错误不应被吞掉")
	}
	e.Handle(tooManyBadInits("other.com", 8))
	e.Handle(poolError(errors.New("x")))

	got := map[string]int{closer.wait(t): 1}
	got[closer.wait(t)]++
	e.Wait()
	select {
	case extra := <-closer.ch:
		t.Errorf("同一原因重复关闭: %s", extra)
	default:
	}
	if got[ReasonBadSessionInits] != 1 || got[ReasonPoolError] != 1 {
		t.Errorf("关闭原因 = %v", got)
	}
	if !e.Fired(ReasonBadSessionInits) || e.Fired("other") {
		t.Error("Fired() 结果错误")
	}
}

func TestFatalError_Message(t *testing.T) {
	err := tooManyBadInits("example.com", 3)
	if err.Kind.String() != "too-many-bad-inits" || err.Reason != ReasonBadSessionInits {
		t.Errorf("错误字段不正确: %+v", err)
	}
	if err.Error() == "" || errors.Unwrap(err) == nil {
		t.Error("错误应包含消息和底层原因")
	}
}
