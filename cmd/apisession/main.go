package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/RecoveryAshes/apisession/internal/core"
	"github.com/RecoveryAshes/apisession/internal/mockapi"
	"github.com/RecoveryAshes/apisession/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// 加载后的配置,由 PersistentPreRunE 填充
	appConfig *core.Config

	// HTTP头部参数
	headers        []string // 自定义HTTP请求头
	validateConfig bool     // 验证配置文件

	// 爬取参数
	targetURL   string
	urlFile     string
	depth       int
	maxWorkers  int
	followLinks bool
	sessions    bool
	apiURL      string
	apiKey      string
	outputDir   string

	// 假API参数
	mockListen string
	mockKey    string
)

var rootCmd = &cobra.Command{
	Use:   "apisession",
	Short: "通过提取API爬取并管理会话池",
	Long: `apisession - 经由远程提取API抓取页面的爬取工具

每个请求由提取API完成抓取和渲染,支持:
  • 按站点划分的会话池,会话预热、轮转、校验和自动刷新
  • 请求级地址和初始化参数派生独立会话池
  • 按URL模式替换的会话策略
  • 链接跟随与重试
  • 自定义HTTP请求头
  • Prometheus 指标

示例:
  # API密钥通过环境变量提供
  APISESSION_API_KEY=xxx apisession -u https://example.com --sessions

  # 批量URL并跟随链接
  apisession -f urls.txt --follow-links -d 2

  # 启动本地假API用于调试
  apisession mockapi --listen :8080

  # 验证配置文件
  apisession --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config, err := core.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		logConfig := config.LogConfig()
		// 命令行参数覆盖配置文件
		if logLevel != "" {
			logConfig.Level = logLevel
		}
		if err := utils.InitLogger(logConfig); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}

		if verbose {
			utils.Info("详细模式已启用")
		}

		appConfig = config
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		appConfig.MergeCLIFlags(core.CLIOverrides{
			Depth:       depth,
			MaxWorkers:  maxWorkers,
			FollowLinks: followLinks,
			APIURL:      apiURL,
			APIKey:      apiKey,
			Sessions:    sessions,
			OutputDir:   outputDir,
		})

		// 创建HTTP头部管理器
		headerManager, err := core.NewHeaderManager(appConfig.API.Headers, headers)
		if err != nil {
			return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
		}

		if validateConfig {
			return runValidateConfig(headerManager)
		}

		// 如果没有提供任何参数,显示帮助信息
		if targetURL == "" && urlFile == "" {
			return cmd.Help()
		}

		seeds, err := collectSeeds(targetURL, urlFile)
		if err != nil {
			return err
		}
		if err := ValidateFlags(seeds, appConfig.Crawl.Depth, appConfig.Crawl.MaxWorkers); err != nil {
			return err
		}
		if appConfig.API.Key == "" {
			utils.Warnf("⚠️  未设置API密钥 (api.key 或 %s_API_KEY),仅能访问无需认证的API", core.EnvPrefix)
		}

		crawler, err := core.NewCrawler(appConfig, seeds, headerManager)
		if err != nil {
			return fmt.Errorf("创建爬取器失败: %w", err)
		}

		go func() {
			<-ctx.Done()
			if ctx.Err() == context.Canceled {
				utils.Warnf("收到中断信号,正在优雅关闭...")
			}
		}()

		task, err := crawler.Crawl(ctx)
		if err != nil {
			return fmt.Errorf("爬取失败: %w", err)
		}

		fmt.Println("\n==================================================")
		fmt.Println("📊 爬取统计")
		fmt.Println("==================================================")
		fmt.Printf("🏁 关闭原因: %s\n", task.CloseReason)
		fmt.Printf("✅ 调度请求数: %d\n", task.Stats.Scheduled)
		fmt.Printf("✅ 响应数: %d\n", task.Stats.Responses)
		fmt.Printf("🔁 重试次数: %d\n", task.Stats.Retries)
		fmt.Printf("🗑️  丢弃请求: %d\n", task.Stats.Dropped)
		fmt.Printf("❌ 失败请求: %d\n", task.Stats.Failed)
		fmt.Printf("⏱️  总耗时: %.2f秒\n", task.Stats.Duration)
		fmt.Println("==================================================")

		if task.ErrorMessage != "" {
			return fmt.Errorf("%s", task.ErrorMessage)
		}
		utils.Info("✨ 爬取任务完成!")
		return nil
	},
}

// runValidateConfig 验证配置并打印脱敏后的头部
func runValidateConfig(headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证配置...")
	if err := appConfig.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	if _, err := core.BuildRegistry(appConfig.Policies); err != nil {
		return fmt.Errorf("会话策略无效: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("HTTP头部验证失败: %w", err)
	}

	safeHeaders := headerManager.GetSafeHeaders()
	utils.Info("✅ 配置验证通过!")
	utils.Infof("提取API: %s (密钥 %s)", appConfig.API.URL, utils.NewHeaderRedactor().RedactSecret(appConfig.API.Key))
	utils.Infof("会话策略: %d 条", len(appConfig.Policies))
	utils.Infof("当前有效的HTTP头部 (%d个):", len(safeHeaders))
	for name, value := range safeHeaders {
		utils.Infof("  %s: %s", name, value)
	}
	return nil
}

// collectSeeds 合并 -u 和 -f 提供的起始URL
func collectSeeds(target, file string) ([]string, error) {
	var raw []string
	if target != "" {
		raw = append(raw, target)
	}
	if file != "" {
		urls, err := utils.ReadURLsFromFile(file)
		if err != nil {
			return nil, fmt.Errorf("读取URL文件失败: %w", err)
		}
		raw = append(raw, urls...)
	}

	seeds := make([]string, 0, len(raw))
	for _, u := range raw {
		normalized, err := NormalizeURL(u)
		if err != nil {
			return nil, fmt.Errorf("无效的URL %q: %w", u, err)
		}
		seeds = append(seeds, normalized)
	}
	return seeds, nil
}

var mockCmd = &cobra.Command{
	Use:   "mockapi",
	Short: "启动本地假提取API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		utils.Infof("🧪 假提取API: http://%s%s", mockListen, mockapi.ExtractPath)
		return mockapi.NewServer(mockKey).ListenAndServe(ctx, mockListen)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("apisession %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.Flags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.Flags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 爬取参数,零值表示使用配置文件
	rootCmd.Flags().StringVarP(&targetURL, "url", "u", "", "目标URL (必需,除非使用 --url-file)")
	rootCmd.Flags().StringVarP(&urlFile, "url-file", "f", "", "包含URL列表的文件路径")
	rootCmd.Flags().IntVarP(&depth, "depth", "d", 0, "链接跟随深度 (0-10)")
	rootCmd.Flags().IntVar(&maxWorkers, "threads", 0, "并发工作协程数")
	rootCmd.Flags().BoolVar(&followLinks, "follow-links", false, "跟随页面中的链接")
	rootCmd.Flags().BoolVar(&sessions, "sessions", false, "启用会话池")
	rootCmd.Flags().StringVar(&apiURL, "api-url", "", "提取API地址")
	rootCmd.Flags().StringVar(&apiKey, "api-key", "", "提取API密钥")
	rootCmd.Flags().StringVarP(&outputDir, "output", "o", "", "输出目录")

	mockCmd.Flags().StringVar(&mockListen, "listen", "127.0.0.1:8080", "监听地址")
	mockCmd.Flags().StringVar(&mockKey, "key", "", "要求的API密钥,为空时不校验")

	// 添加子命令
	rootCmd.AddCommand(mockCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}
