package crawlers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/stats"
	"github.com/RecoveryAshes/apisession/internal/utils"
)

// RetryReasonDownloadError 传输失败的重试原因
const RetryReasonDownloadError = "download_error"

const drainTimeout = 30 * time.Second

// Middleware 请求生命周期中间件
// ProcessRequest 按注册顺序调用,ProcessResponse/ProcessError 按逆序调用
type Middleware interface {
	// ProcessRequest 返回错误时请求被丢弃
	ProcessRequest(ctx context.Context, req *models.Request) error
	// ProcessResponse 返回非nil请求时重新调度该请求而不交付响应,返回错误时丢弃
	ProcessResponse(ctx context.Context, req *models.Request, resp *models.Response) (*models.Request, error)
	// ProcessError 返回非nil请求时重新调度该请求,两者都为nil时交给引擎默认逻辑
	ProcessError(ctx context.Context, req *models.Request, err error) (*models.Request, error)
}

// ResponseHandler 接收交付的响应
type ResponseHandler func(resp *models.Response)

// Drainer 工作协程退出后、汇总结果前调用,等待后台任务完成
type Drainer func(ctx context.Context) error

// EngineOption 引擎选项
type EngineOption func(*Engine)

// WithEngineStats 使用指定的统计收集器
func WithEngineStats(c stats.Collector) EngineOption {
	return func(e *Engine) { e.stats = c }
}

// WithResponseHandler 设置响应回调
func WithResponseHandler(h ResponseHandler) EngineOption {
	return func(e *Engine) { e.onResponse = h }
}

// Engine 爬取引擎
// 持有调度队列、工作协程和重试记账,同时为会话层提供辅助下载和关闭爬取
type Engine struct {
	config      models.CrawlConfig
	fetcher     Fetcher
	stats       stats.Collector
	retry       *RetryPolicy
	queue       *RequestQueue
	middlewares []Middleware
	onResponse  ResponseHandler
	drainers    []Drainer
	extractor   *URLExtractor

	// 尚未处理完成的请求数,归零时关闭队列
	pending atomic.Int64

	mu          sync.Mutex
	cancel      context.CancelFunc
	closeReason string

	scheduled atomic.Int64
	responses atomic.Int64
	retries   atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// NewEngine 创建爬取引擎
func NewEngine(config models.CrawlConfig, fetcher Fetcher, opts ...EngineOption) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("爬取配置无效: %w", err)
	}

	e := &Engine{
		config:  config,
		fetcher: fetcher,
		stats:   stats.NewMemoryCollector(),
		queue:   NewRequestQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.retry = NewRetryPolicy(config.RetryTimes, config.RetryPriorityAdjust, e.stats)
	return e, nil
}

// Use 注册中间件
func (e *Engine) Use(mw Middleware) {
	e.middlewares = append(e.middlewares, mw)
}

// AddDrainer 注册收尾等待函数
func (e *Engine) AddDrainer(d Drainer) {
	e.drainers = append(e.drainers, d)
}

// Stats 返回统计收集器
func (e *Engine) Stats() stats.Collector {
	return e.stats
}

// Download 在调度队列之外执行辅助下载,不经过中间件
func (e *Engine) Download(ctx context.Context, req *models.Request) (*models.Response, error) {
	return e.fetcher.Fetch(ctx, req)
}

// Retry 重试记账,重试次数耗尽时返回nil
func (e *Engine) Retry(req *models.Request, reason string) *models.Request {
	retry := e.retry.Retry(req, reason)
	if retry != nil {
		e.retries.Add(1)
	}
	return retry
}

// CloseCrawl 异步关闭爬取,只有第一个原因生效
func (e *Engine) CloseCrawl(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closeReason != "" {
		return
	}
	e.closeReason = reason
	utils.Warnf("⚠️  关闭爬取: %s", reason)
	if e.cancel != nil {
		e.cancel()
	}
	e.queue.Close()
}

// CloseReason 返回关闭原因
func (e *Engine) CloseReason() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeReason
}

// Schedule 请求入队
func (e *Engine) Schedule(req *models.Request) bool {
	e.pending.Add(1)
	ok, err := e.queue.Push(req)
	if err != nil || !ok {
		if err != nil {
			utils.Debugf("请求入队失败 [%s]: %v", req.URL, err)
		}
		e.done()
		return false
	}
	e.scheduled.Add(1)
	return true
}

// done 一个请求处理完成
func (e *Engine) done() {
	if e.pending.Add(-1) == 0 {
		e.queue.Close()
	}
}

// Run 从种子URL开始爬取,直到队列耗尽、context取消或爬取被关闭
func (e *Engine) Run(ctx context.Context, seeds []string) (*models.CrawlTask, error) {
	task, err := models.NewCrawlTask(seeds, e.config)
	if err != nil {
		return nil, err
	}
	startTime := time.Now()
	task.StartedAt = &startTime
	task.Status = models.TaskStatusRunning

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.cancel = cancel
	alreadyClosed := e.closeReason != ""
	e.mu.Unlock()
	if alreadyClosed {
		cancel()
	}

	e.extractor = NewURLExtractor(seeds, e.config.AllowCrossDomain, e.config.Depth)

	utils.Infof("🚀 开始爬取: %d 个种子URL, 并发数 %d", len(seeds), e.config.MaxWorkers)

	e.pending.Add(1)
	for _, seed := range seeds {
		e.Schedule(models.NewRequest(seed))
	}
	e.done()

	go func() {
		<-runCtx.Done()
		e.queue.Close()
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.config.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(runCtx)
		}()
	}
	wg.Wait()

	e.drain()
	e.finish(ctx, task, startTime)
	return task, nil
}

func (e *Engine) worker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		req, ok := e.queue.Pop(ctx)
		if !ok {
			return
		}
		e.process(ctx, req)
		e.done()
	}
}

// process 执行单个请求的完整生命周期
func (e *Engine) process(ctx context.Context, req *models.Request) {
	for _, mw := range e.middlewares {
		if err := mw.ProcessRequest(ctx, req); err != nil {
			e.drop(req, err)
			return
		}
	}

	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		e.handleError(ctx, req, err)
		return
	}

	for i := len(e.middlewares) - 1; i >= 0; i-- {
		retry, err := e.middlewares[i].ProcessResponse(ctx, req, resp)
		if err != nil {
			e.drop(req, err)
			return
		}
		if retry != nil {
			e.Schedule(retry)
			return
		}
	}

	e.deliver(req, resp)
}

// handleError 中间件未处理的错误: 传输失败重试,API错误记为失败
func (e *Engine) handleError(ctx context.Context, req *models.Request, err error) {
	for i := len(e.middlewares) - 1; i >= 0; i-- {
		retry, herr := e.middlewares[i].ProcessError(ctx, req, err)
		if herr != nil {
			e.drop(req, herr)
			return
		}
		if retry != nil {
			e.Schedule(retry)
			return
		}
	}

	if ctx.Err() != nil {
		e.drop(req, ctx.Err())
		return
	}

	e.failed.Add(1)
	var apiErr *models.APIError
	if errors.As(err, &apiErr) {
		utils.Errorf("API请求失败 [%s]: %v", req.URL, err)
		return
	}
	utils.Warnf("下载失败 [%s]: %v", req.URL, err)
	if retry := e.Retry(req, RetryReasonDownloadError); retry != nil {
		e.Schedule(retry)
	}
}

func (e *Engine) drop(req *models.Request, err error) {
	e.dropped.Add(1)
	if errors.Is(err, context.Canceled) {
		utils.Debugf("请求已取消 [%s]", req.URL)
		return
	}
	utils.Logger.Warn().Err(err).Str("url", req.URL).Str("request_id", req.ID).Msg("丢弃请求")
}

// deliver 交付响应,按配置跟随页面链接
func (e *Engine) deliver(req *models.Request, resp *models.Response) {
	e.responses.Add(1)
	utils.Debugf("✅ 响应 [%d] %s", resp.Status, req.URL)
	if e.onResponse != nil {
		e.onResponse(resp)
	}

	if !e.config.FollowLinks || e.extractor == nil {
		return
	}
	children, err := e.extractor.Extract(resp, req)
	if err != nil {
		utils.Warnf("提取链接失败 [%s]: %v", req.URL, err)
		return
	}
	for _, child := range children {
		e.Schedule(child)
	}
}

// drain 等待后台任务,此期间仍可能发生关闭爬取
func (e *Engine) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	for _, d := range e.drainers {
		if err := d(ctx); err != nil {
			utils.Warnf("等待后台任务超时: %v", err)
		}
	}
}

// finish 汇总任务结果
func (e *Engine) finish(ctx context.Context, task *models.CrawlTask, startTime time.Time) {
	reason := e.CloseReason()
	switch {
	case reason != "":
	case ctx.Err() != nil:
		reason = models.CloseReasonCancelled
	default:
		reason = models.CloseReasonFinished
	}

	completedAt := time.Now()
	task.CompletedAt = &completedAt
	task.CloseReason = reason
	switch reason {
	case models.CloseReasonFinished:
		task.Status = models.TaskStatusCompleted
	case models.CloseReasonCancelled:
		task.Status = models.TaskStatusCancelled
	default:
		task.Status = models.TaskStatusFailed
		task.ErrorMessage = fmt.Sprintf("爬取被关闭: %s", reason)
	}

	task.Stats = models.TaskStats{
		Scheduled: int(e.scheduled.Load()),
		Responses: int(e.responses.Load()),
		Retries:   int(e.retries.Load()),
		Dropped:   int(e.dropped.Load()),
		Failed:    int(e.failed.Load()),
		Duration:  completedAt.Sub(startTime).Seconds(),
	}
	task.Counters = e.stats.Snapshot()

	utils.Infof("✅ 爬取结束 (%s)", reason)
	utils.Infof("调度请求数: %d, 响应数: %d, 重试: %d, 丢弃: %d, 失败: %d",
		task.Stats.Scheduled, task.Stats.Responses, task.Stats.Retries, task.Stats.Dropped, task.Stats.Failed)
	utils.Infof("总耗时: %.2f秒", task.Stats.Duration)
}
