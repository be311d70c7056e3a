package session

import (
	"context"
	"errors"

	"github.com/RecoveryAshes/apisession/internal/models"
)

// 重试原因
const (
	RetryReasonSessionExpired       = "session_expired"
	RetryReasonUnsuccessfulResponse = "unsuccessful_response"
)

// Retrier 引擎的重试记账,重试次数耗尽时返回nil
type Retrier interface {
	Retry(req *models.Request, reason string) *models.Request
}

// Middleware 将会话池管理器接入引擎的请求生命周期
type Middleware struct {
	manager *Manager
	retrier Retrier
}

// NewMiddleware 创建中间件
func NewMiddleware(manager *Manager, retrier Retrier) *Middleware {
	return &Middleware{manager: manager, retrier: retrier}
}

// ProcessRequest 发送前分配会话
func (mw *Middleware) ProcessRequest(ctx context.Context, req *models.Request) error {
	err := mw.manager.Assign(ctx, req)
	if err != nil {
		mw.manager.Release(req)
	}
	return err
}

// ProcessResponse 检查会话有效性
// 返回非nil请求表示需要重试,返回ErrIgnoreRequest表示重试耗尽,两者都为nil时交付响应
func (mw *Middleware) ProcessResponse(ctx context.Context, req *models.Request, resp *models.Response) (*models.Request, error) {
	if req.IsSessionInit() {
		return nil, nil
	}
	defer mw.manager.Release(req)

	ok, err := mw.manager.Check(ctx, resp, req)
	if err != nil {
		return nil, err
	}
	if ok {
		return nil, nil
	}
	retry := mw.retrier.Retry(req, RetryReasonSessionExpired)
	if retry == nil {
		return nil, ErrIgnoreRequest
	}
	return retry, nil
}

// ProcessError 处理API错误: 会话过期立即刷新,其他错误按阈值计数
// 返回nil请求表示不处理或重试耗尽,交给引擎默认逻辑
func (mw *Middleware) ProcessError(_ context.Context, req *models.Request, err error) (*models.Request, error) {
	var apiErr *models.APIError
	if !errors.As(err, &apiErr) || !mw.manager.IsEnabled(req) {
		mw.manager.Release(req)
		return nil, nil
	}
	defer mw.manager.Release(req)

	var herr error
	if apiErr.IsSessionExpired() {
		herr = mw.manager.HandleExpiration(req)
	} else {
		herr = mw.manager.HandleError(req)
	}
	if herr != nil {
		return nil, herr
	}
	return mw.retrier.Retry(req, RetryReasonUnsuccessfulResponse), nil
}
