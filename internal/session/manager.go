package session

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
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"
)

// 统计阶段与结果
const (
	PhaseInit = "init"
	PhaseUse  = "use"

	OutcomeCheckPassed = "check-passed"
	OutcomeCheckFailed = "check-failed"
	OutcomeCheckError  = "check-error"
	OutcomeFailed      = "failed"
	OutcomeExpired     = "expired"
	OutcomeParamError  = "param-error"
	OutcomeDisabled    = "disabled"
)

// carriedMetaKeys 初始化请求继承的元数据键,便于在日志和统计中追溯
var carriedMetaKeys = []string{
	models.MetaSessionLocation,
	models.MetaSessionParams,
	models.MetaSessionPool,
}

// Downloader 在调度队列之外执行辅助下载
type Downloader interface {
	Download(ctx context.Context, req *models.Request) (*models.Response, error)
}

// StatsKey 生成会话统计键
func StatsKey(perPool bool, pool, phase, outcome string) string {
	if perPool {
		return fmt.Sprintf("%s/sessions/pools/%s/%s/%s", stats.Prefix, pool, phase, outcome)
	}
	return fmt.Sprintf("%s/sessions/%s/%s", stats.Prefix, phase, outcome)
}

// DisabledKey 未启用会话的请求计数键
var DisabledKey = fmt.Sprintf("%s/sessions/%s/%s", stats.Prefix, PhaseUse, OutcomeDisabled)

// Manager 会话池管理器
// 每次爬取创建一个实例,持有全部会话池状态
type Manager struct {
	cfg            models.SessionConfig
	settingsParams models.Params
	transparent    bool

	registry   *Registry
	downloader Downloader
	escalator  *Escalator
	stats      stats.Collector
	store      *PoolStore
	bindings   *bindingTable

	policyMu sync.Mutex
	policies map[string]Policy

	initSem *semaphore.Weighted

	tasks     conc.WaitGroup
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	refreshes atomic.Int64
}

// Option 管理器选项
type Option func(*Manager)

// WithRegistry 使用自定义策略注册表
func WithRegistry(r *Registry) Option {
	return func(m *Manager) { m.registry = r }
}

// WithStats 使用指定的统计收集器
func WithStats(c stats.Collector) Option {
	return func(m *Manager) { m.stats = c }
}

// WithContext 后台会话创建任务随ctx取消,通常传入整个爬取的context
func WithContext(ctx context.Context) Option {
	return func(m *Manager) { m.parent = ctx }
}

// WithTransparentMode 透明模式下未显式指定参数的请求走自动映射通道
func WithTransparentMode(on bool) Option {
	return func(m *Manager) { m.transparent = on }
}

// NewManager 创建会话池管理器
func NewManager(cfg models.SessionConfig, downloader Downloader, closer Closer, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("会话池配置无效: %w", err)
	}
	settingsParams, err := models.ParseParamsJSON(cfg.Params)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:            cfg,
		settingsParams: settingsParams,
		registry:       NewRegistry(),
		downloader:     downloader,
		stats:          stats.NewMemoryCollector(),
		store:          NewPoolStore(cfg.SizeFor),
		bindings:       newBindingTable(bindingTableSize),
		policies:       make(map[string]Policy),
		parent:         context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(m.parent)

	// 致命错误关闭爬取时,其他会话池的后台刷新随之停止
	m.escalator = NewEscalator(CloserFunc(func(reason string) {
		m.cancel()
		if closer != nil {
			closer.CloseCrawl(reason)
		}
	}))
	if cfg.MaxConcurrentInits > 0 {
		m.initSem = semaphore.NewWeighted(int64(cfg.MaxConcurrentInits))
	}
	return m, nil
}

// Assign 在请求发送前为其分配会话
func (m *Manager) Assign(ctx context.Context, req *models.Request) error {
	return m.escalator.Handle(m.assign(ctx, req))
}

func (m *Manager) assign(ctx context.Context, req *models.Request) error {
	if req.IsSessionInit() {
		return nil
	}
	b := m.bind(req)
	if !b.policy.Enabled(req) {
		m.stats.Inc(DisabledKey)
		return nil
	}
	pool, err := m.pool(req, b)
	if err != nil {
		return err
	}

	var id string
	if m.store.TakeFillSlot(pool) {
		id, err = m.createSession(ctx, req, b.policy, pool)
	} else {
		id, err = m.nextFromQueue(ctx, pool)
	}
	if err != nil {
		return err
	}

	m.attach(req, id)
	utils.Logger.Debug().
		Str("pool", pool).
		Str("session", id).
		Str("request_id", req.ID).
		Msg("为请求分配会话")
	return nil
}

// attach 将会话ID写入提供者通道和实际构建API调用的通道
func (m *Manager) attach(req *models.Request, id string) {
	key := models.MetaAutomap
	_, hasAPI := req.Meta[models.MetaAPI]
	automap, hasAutomap := req.Meta[models.MetaAutomap]
	if hasAPI || automap == false || (!hasAutomap && !m.transparent) {
		key = models.MetaAPI
	}

	for _, k := range []string{key, models.MetaProvider} {
		params, ok := req.ParamsMeta(k)
		if ok {
			params = params.Clone()
		} else {
			params = models.Params{}
		}
		params.SetSessionID(id)
		req.Meta[k] = params
	}

	if _, ok := req.Meta[models.MetaDontMergeCookies]; !ok {
		req.Meta[models.MetaDontMergeCookies] = true
	}
}

// nextFromQueue 轮转就绪队列,队列为空时有限次等待
func (m *Manager) nextFromQueue(ctx context.Context, pool string) (string, error) {
	wait := m.cfg.QueueWait()
	for attempt := 1; ; attempt++ {
		if id, ok := m.store.NextReady(pool); ok {
			return id, nil
		}
		if attempt >= m.cfg.QueueMaxAttempts {
			snap := m.store.Snapshot(pool)
			err := &PoolStarvedError{
				Pool:        pool,
				Attempts:    attempt,
				Wait:        wait,
				Valid:       len(snap.Valid),
				PendingFill: snap.PendingFill,
				Created:     snap.Created,
			}
			utils.Logger.Error().
				Str("pool", pool).
				Int("attempts", attempt).
				Dur("wait", wait).
				Int("valid", len(snap.Valid)).
				Int("bad_init_streak", snap.BadInitStreak).
				Msg("会话池没有可用会话")
			return "", err
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// createSession 循环初始化直到成功,连续失败达到上限时返回致命错误
func (m *Manager) createSession(ctx context.Context, req *models.Request, p Policy, pool string) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		id := uuid.NewString()
		ok, err := m.initSession(ctx, id, req, p, pool)
		if err != nil {
			return "", err
		}
		if ok {
			m.store.AddSession(pool, id)
			return id, nil
		}
		streak := m.store.RecordBadInit(pool)
		if streak >= m.cfg.MaxBadInitsFor(pool) {
			return "", tooManyBadInits(pool, streak)
		}
	}
}

// initSession 执行一次初始化调用
// 传输失败和检查异常计入统计并视为失败,只有致命结果和取消作为错误返回
func (m *Manager) initSession(ctx context.Context, id string, req *models.Request, p Policy, pool string) (bool, error) {
	log := utils.WithPool(pool)

	params, err := m.initParams(req, p)
	if err != nil {
		m.inc(pool, PhaseInit, OutcomeParamError)
		log.Error().Err(err).Str("url", req.URL).Msg("生成会话初始化参数失败")
		return false, nil
	}
	initReq := newInitRequest(id, req, params)

	if m.initSem != nil {
		if err := m.initSem.Acquire(ctx, 1); err != nil {
			return false, err
		}
		defer m.initSem.Release(1)
	}

	resp, err := m.downloader.Download(ctx, initReq)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		m.inc(pool, PhaseInit, OutcomeFailed)
		log.Warn().Err(err).Str("session", id).Msg("会话初始化请求失败")
		return false, nil
	}

	verdict, err := callCheck(p, resp, initReq)
	switch {
	case err != nil:
		m.inc(pool, PhaseInit, OutcomeCheckError)
		log.Error().Err(err).Str("session", id).Str("url", initReq.URL).Msg("会话初始化检查出错")
		return false, nil
	case verdict.IsStop():
		return false, &FatalError{Kind: KindCloseRequested, Reason: verdict.Reason(), Pool: pool}
	case verdict.IsValid():
		m.inc(pool, PhaseInit, OutcomeCheckPassed)
		log.Debug().Str("session", id).Msg("会话初始化成功")
		return true, nil
	default:
		m.inc(pool, PhaseInit, OutcomeCheckFailed)
		log.Debug().Str("session", id).Msg("会话初始化检查未通过")
		return false, nil
	}
}

// initParams 初始化参数优先级:
// 请求级参数 > 全局参数(请求未指定非空地址时) > 策略参数
func (m *Manager) initParams(req *models.Request, p Policy) (models.Params, error) {
	if params, ok := req.ParamsMeta(models.MetaSessionParams); ok {
		return params.Clone(), nil
	}
	loc, _ := models.LocationFromMeta(req.Meta, models.MetaSessionLocation)
	if len(loc) == 0 && m.settingsParams != nil {
		return m.settingsParams.Clone(), nil
	}
	params, err := callParams(p, req)
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

// newInitRequest 构建初始化请求,参数中的url优先于触发请求的URL
func newInitRequest(id string, req *models.Request, params models.Params) *models.Request {
	if params == nil {
		params = models.Params{}
	}
	target := req.URL
	if u, ok := params[models.ParamURL].(string); ok && u != "" {
		target = u
	}
	delete(params, models.ParamURL)
	params.SetSessionID(id)

	initReq := models.NewRequest(target)
	initReq.DontFilter = true
	initReq.Meta[models.MetaSessionInit] = true
	initReq.Meta[models.MetaDontMergeCookies] = true
	initReq.Meta[models.MetaAPI] = params
	for _, key := range carriedMetaKeys {
		if v, ok := req.Meta[key]; ok {
			initReq.Meta[key] = v
		}
	}
	return initReq
}

// Check 检查响应对应的会话是否仍然有效
// 返回false时调用方必须重试该请求,而不是把响应交给用户代码
func (m *Manager) Check(ctx context.Context, resp *models.Response, req *models.Request) (bool, error) {
	ok, err := m.check(ctx, resp, req)
	return ok, m.escalator.Handle(err)
}

func (m *Manager) check(_ context.Context, resp *models.Response, req *models.Request) (bool, error) {
	if req.IsSessionInit() {
		return true, nil
	}
	b := m.bind(req)
	if !b.policy.Enabled(req) {
		return true, nil
	}
	pool, err := m.pool(req, b)
	if err != nil {
		return false, err
	}

	verdict, err := callCheck(b.policy, resp, req)
	switch {
	case err != nil:
		m.inc(pool, PhaseUse, OutcomeCheckError)
		utils.WithPool(pool).Error().Err(err).Str("url", req.URL).Msg("会话检查出错")
	case verdict.IsStop():
		return false, &FatalError{Kind: KindCloseRequested, Reason: verdict.Reason(), Pool: pool}
	case verdict.IsValid():
		m.inc(pool, PhaseUse, OutcomeCheckPassed)
		return true, nil
	default:
		m.inc(pool, PhaseUse, OutcomeCheckFailed)
	}

	if id := req.SessionID(); id != "" {
		if m.store.IncCheckFailures(pool, id) < m.cfg.MaxCheckFailuresLimit() {
			return false, nil
		}
	}
	m.refresh(req, b.policy, pool)
	return false, nil
}

// HandleError 处理使用会话时的可恢复错误,达到阈值后刷新会话
func (m *Manager) HandleError(req *models.Request) error {
	return m.escalator.Handle(m.handleError(req))
}

func (m *Manager) handleError(req *models.Request) error {
	b := m.bind(req)
	pool, err := m.pool(req, b)
	if err != nil {
		return err
	}
	m.inc(pool, PhaseUse, OutcomeFailed)

	if id := req.SessionID(); id != "" {
		if m.store.IncErrors(pool, id) < m.cfg.MaxErrorsLimit() {
			return nil
		}
	}
	m.refresh(req, b.policy, pool)
	return nil
}

// HandleExpiration 会话明确过期,立即刷新
func (m *Manager) HandleExpiration(req *models.Request) error {
	return m.escalator.Handle(m.handleExpiration(req))
}

func (m *Manager) handleExpiration(req *models.Request) error {
	b := m.bind(req)
	pool, err := m.pool(req, b)
	if err != nil {
		return err
	}
	m.inc(pool, PhaseUse, OutcomeExpired)
	m.refresh(req, b.policy, pool)
	return nil
}

// refresh 丢弃请求使用的会话,并在后台补充一个新会话
// 只有成功从有效集合中删除ID的调用方会启动创建任务
func (m *Manager) refresh(req *models.Request, p Policy, pool string) {
	id := req.SessionID()
	if id == "" {
		utils.WithPool(pool).Warn().
			Str("request_id", req.ID).
			Str("url", req.URL).
			Msg("请求上没有找到会话ID,无法刷新会话")
		return
	}
	if !m.store.Remove(pool, id) {
		return
	}

	m.refreshes.Add(1)
	utils.WithPool(pool).Debug().Str("session", id).Msg("会话已失效,后台创建新会话")
	m.tasks.Go(func() {
		_, err := m.createSession(m.ctx, req, p, pool)
		if err == nil || m.ctx.Err() != nil {
			return
		}
		var fatal *FatalError
		if !errors.As(err, &fatal) {
			utils.WithPool(pool).Error().Err(err).Msg("后台创建会话失败")
		}
		m.escalator.Handle(err)
	})
}

// IsEnabled 请求是否使用会话
func (m *Manager) IsEnabled(req *models.Request) bool {
	if req.IsSessionInit() {
		return false
	}
	return m.bind(req).policy.Enabled(req)
}

// Release 请求生命周期结束,释放绑定
func (m *Manager) Release(req *models.Request) {
	m.bindings.release(req.ID)
}

// Drain 等待后台会话创建任务完成
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.tasks.Wait()
		m.escalator.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 取消后台任务并等待退出
func (m *Manager) Close() {
	m.cancel()
	m.tasks.Wait()
	m.escalator.Wait()
}

// RefreshCount 已启动的刷新任务数
func (m *Manager) RefreshCount() int64 {
	return m.refreshes.Load()
}

// Snapshot 返回会话池状态快照
func (m *Manager) Snapshot(pool string) PoolSnapshot {
	return m.store.Snapshot(pool)
}

// Pools 返回已知会话池
func (m *Manager) Pools() []string {
	return m.store.Pools()
}

func (m *Manager) inc(pool, phase, outcome string) {
	m.stats.Inc(StatsKey(m.cfg.StatsPerPool, pool, phase, outcome))
}

// bind 返回请求的策略绑定,首次访问时解析策略
func (m *Manager) bind(req *models.Request) *binding {
	return m.bindings.getOrCreate(req.ID, func() *binding {
		return &binding{policy: m.policyFor(req.URL)}
	})
}

// policyFor 每个策略名称只构建一个实例
// 构建失败时退回默认策略并记录错误
func (m *Manager) policyFor(rawURL string) Policy {
	name := m.registry.Resolve(rawURL)

	m.policyMu.Lock()
	defer m.policyMu.Unlock()
	if p, ok := m.policies[name]; ok {
		return p
	}

	var p Policy
	if factory, ok := m.registry.Factory(name); ok {
		built, err := factory(m.cfg)
		if err != nil {
			utils.Errorf("构建会话策略 %s 失败,使用默认策略: %v", name, err)
		} else {
			p = built
		}
	}
	if p == nil {
		p = NewDefaultPolicy(m.cfg)
	}
	m.policies[name] = p
	return p
}

// pool 解析请求所属会话池,每个请求只解析一次
// 显式的会话池名称优先于策略
func (m *Manager) pool(req *models.Request, b *binding) (string, error) {
	b.once.Do(func() {
		b.pool, b.poolErr = resolvePool(req, b.policy)
		if b.poolErr != nil {
			utils.Logger.Error().
				Err(b.poolErr).
				Str("request_id", req.ID).
				Str("url", req.URL).
				Msg("解析会话池失败")
		}
	})
	return b.pool, b.poolErr
}

func resolvePool(req *models.Request, p Policy) (string, error) {
	if v, ok := req.Meta[models.MetaSessionPool]; ok {
		name, isString := v.(string)
		if !isString || name == "" {
			return "", poolError(fmt.Errorf("无效的会话池名称: %#v", v))
		}
		return name, nil
	}

	pool, err := callPool(p, req)
	if err != nil {
		return "", poolError(err)
	}
	if pool == "" {
		return "", poolError(errors.New("策略返回了空的会话池名称"))
	}
	return pool, nil
}

func callPool(p Policy, req *models.Request) (pool string, err error) {
	defer recoverInto(&err, "Pool")
	return p.Pool(req)
}

func callParams(p Policy, req *models.Request) (params models.Params, err error) {
	defer recoverInto(&err, "Params")
	return p.Params(req)
}

func callCheck(p Policy, resp *models.Response, req *models.Request) (v Verdict, err error) {
	defer recoverInto(&err, "Check")
	return p.Check(resp, req)
}

// recoverInto 把策略实现中的panic转换为错误
func recoverInto(err *error, method string) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("会话策略 %s panic: %v", method, r)
	}
}
