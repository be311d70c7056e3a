// Package session 管理通过提取API发送的请求所使用的会话池
//
// # 概述
//
// 会话是API一侧的身份(cookie、浏览器上下文、指纹),用不透明的ID表示。
// 同一站点的连续请求复用预热过的会话,避免每次请求都付出初始化成本或触发反爬。
// 本包负责会话的创建、轮转、校验、刷新和淘汰,并在会话池无法产出可用会话时关闭整个爬取。
//
// # 核心组件
//
// ## Policy (会话策略)
//
// 按站点可替换的策略,决定是否启用会话、请求属于哪个会话池、如何初始化会话、
// 响应是否说明会话仍然有效。DefaultPolicy 按主机分池,请求级初始化参数和地址会派生新的池:
//
//	example.com                  // 默认
//	example.com[0]               // 请求级初始化参数,按首次出现顺序编号
//	example.com@US,NY,10001      // 请求级地址
//
// 自定义策略嵌入 *DefaultPolicy 并覆盖需要的方法:
//
//	type shopPolicy struct{ *session.DefaultPolicy }
//
//	func (p *shopPolicy) Check(resp *models.Response, req *models.Request) (session.Verdict, error) {
//	    return session.VerdictOf(strings.Contains(resp.BrowserHTML(), "logout")), nil
//	}
//
// ## Registry (策略注册表)
//
// 按URL模式解析适用的策略。规则带优先级,同优先级先声明者胜出,
// InsteadOf 构成替换链,解析时从默认策略出发逐级查找:
//
//	reg := session.NewRegistry()
//	reg.Register("shop", func(cfg models.SessionConfig) (session.Policy, error) {
//	    return &shopPolicy{session.NewDefaultPolicy(cfg)}, nil
//	})
//	reg.AddRule(session.Rule{Name: "shop", Include: []string{"shop.example.com"}})
//
// ## Manager (会话池管理器)
//
// 对中间件暴露 Assign、Check、HandleError、HandleExpiration 四个入口:
//   - 会话池未填满时,由需要会话的请求同步创建新会话
//   - 填满后轮转就绪队列,队列为空时有限次等待
//   - 检查失败、错误达到阈值或会话过期时,只有成功删除会话ID的调用方启动后台刷新
//   - 连续初始化失败达到上限、会话池解析失败、策略要求关闭时,通过 Escalator 关闭爬取
//
// 使用示例:
//
//	manager, err := session.NewManager(cfg, engine, engine,
//	    session.WithStats(collector),
//	    session.WithTransparentMode(true),
//	)
//	if err != nil { /* 处理错误 */ }
//	defer manager.Close()
//
//	engine.Use(session.NewMiddleware(manager, engine))
//
// # 统计
//
// 默认按会话池统计 apisession/sessions/pools/<pool>/<phase>/<outcome>,
// stats_per_pool 关闭时去掉会话池一级。未启用会话的请求计入 apisession/sessions/use/disabled。
package session
