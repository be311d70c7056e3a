// Package crawlers 提供经过提取API的爬取引擎
//
// # 概述
//
// crawlers包实现了请求调度、API调用和重试记账。
// 请求可以显式指定API参数,也可以在透明模式下由自动映射生成参数,
// 两者都没有时直接抓取目标URL。
//
// # 核心组件
//
// ## APIClient
//
// 基于Colly的API客户端。经过API的请求以JSON参数POST到API端点,
// 错误响应解析为 *models.APIError,并通过令牌桶限制请求速率。
//
//	client, err := NewAPIClient(apiConfig, headerManager)
//	resp, err := client.Fetch(ctx, req)
//
// ## BuildParams (自动映射)
//
// 纯函数,根据请求元数据生成实际发送的API参数:
//
//	api          显式参数,原样使用
//	api_automap  自动映射覆盖,默认抓取 httpResponseBody + httpResponseHeaders
//	             值为false时不经过API
//
// ## Engine
//
// 爬取引擎。持有优先级请求队列和工作协程,按中间件链处理请求:
//   - ProcessRequest 按注册顺序调用,返回错误时丢弃请求
//   - ProcessResponse / ProcessError 按逆序调用,可返回重试请求
//   - 未被中间件处理的传输失败按 retry_times 重试
//
// 引擎同时实现会话层需要的三个接口: Download(辅助下载)、Retry(重试记账)、
// CloseCrawl(异步关闭爬取)。
//
//	engine, err := NewEngine(crawlConfig, client, WithEngineStats(collector))
//	engine.Use(middleware)
//	task, err := engine.Run(ctx, []string{"https://example.com"})
//
// ## RequestQueue
//
// 按优先级出队,同优先级先进先出。相同URL和显式参数的请求只调度一次,
// DontFilter 请求(重试、会话初始化)跳过去重。
//
// # 统计
//
// 重试计数写入 retry/count、retry/reason_count/<原因>,
// 重试耗尽计入 retry/max_reached。
package crawlers
