package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/utils"
	"github.com/spf13/viper"
)

// keyDelimiter 会话池名称含"."(如 example.com),配置键改用"::"分隔
const keyDelimiter = "::"

// EnvPrefix 环境变量前缀,如 APISESSION_API_KEY
const EnvPrefix = "APISESSION"

// Config 应用程序配置
type Config struct {
	API      models.APIConfig     `mapstructure:"api"`
	Session  models.SessionConfig `mapstructure:"session"`
	Policies []PolicyConfig       `mapstructure:"policies"`
	Crawl    models.CrawlConfig   `mapstructure:"crawl"`
	Logging  LoggingConfig        `mapstructure:"logging"`
	Output   OutputConfig         `mapstructure:"output"`
	Metrics  MetricsConfig        `mapstructure:"metrics"`
}

// PolicyConfig 按URL模式替换的会话策略
// 在默认策略的基础上覆盖部分会话配置
type PolicyConfig struct {
	Name          string            `mapstructure:"name"`
	Include       []string          `mapstructure:"include"`
	Exclude       []string          `mapstructure:"exclude"`
	Priority      int               `mapstructure:"priority"`
	InsteadOf     string            `mapstructure:"instead_of"`
	Enabled       *bool             `mapstructure:"enabled"`
	CheckSelector string            `mapstructure:"check_selector"`
	Location      map[string]string `mapstructure:"location"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // 为空时不启动 /metrics
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter(keyDelimiter))

	// 设置配置文件
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".apisession"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(keyDelimiter, "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在,使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
	} else {
		utils.Debugf("使用配置文件: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}

	return &config, nil
}

// key 拼接配置键
func key(parts ...string) string {
	return strings.Join(parts, keyDelimiter)
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	api := models.DefaultAPIConfig()
	v.SetDefault(key("api", "url"), api.URL)
	v.SetDefault(key("api", "key"), "")
	v.SetDefault(key("api", "timeout"), api.Timeout)
	v.SetDefault(key("api", "concurrency"), api.Concurrency)
	v.SetDefault(key("api", "rate_limit"), 0)
	v.SetDefault(key("api", "transparent_mode"), true)

	session := models.DefaultSessionConfig()
	v.SetDefault(key("session", "enabled"), session.Enabled)
	v.SetDefault(key("session", "pool_size"), session.PoolSize)
	v.SetDefault(key("session", "max_bad_inits"), session.MaxBadInits)
	v.SetDefault(key("session", "max_errors"), session.MaxErrors)
	v.SetDefault(key("session", "max_check_failures"), session.MaxCheckFailures)
	v.SetDefault(key("session", "queue_max_attempts"), session.QueueMaxAttempts)
	v.SetDefault(key("session", "queue_wait_time"), session.QueueWaitTime)
	v.SetDefault(key("session", "max_concurrent_inits"), 0)
	v.SetDefault(key("session", "params"), "")
	v.SetDefault(key("session", "stats_per_pool"), session.StatsPerPool)
	v.SetDefault(key("session", "check_selector"), "")

	// 爬取配置默认值
	v.SetDefault(key("crawl", "depth"), 1)
	v.SetDefault(key("crawl", "max_workers"), 4)
	v.SetDefault(key("crawl", "retry_times"), 2)
	v.SetDefault(key("crawl", "retry_priority_adjust"), -1)
	v.SetDefault(key("crawl", "follow_links"), false)
	v.SetDefault(key("crawl", "allow_cross_domain"), false)

	// 日志配置默认值
	v.SetDefault(key("logging", "level"), "info")
	v.SetDefault(key("logging", "log_dir"), "logs")
	v.SetDefault(key("logging", "rotation", "max_size"), 10)
	v.SetDefault(key("logging", "rotation", "max_backups"), 3)
	v.SetDefault(key("logging", "rotation", "max_age"), 28)
	v.SetDefault(key("logging", "rotation", "compress"), true)

	// 输出配置默认值
	v.SetDefault(key("output", "base_dir"), "output")

	v.SetDefault(key("metrics", "listen"), "")
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := c.API.Validate(); err != nil {
		return err
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if err := c.Crawl.Validate(); err != nil {
		return err
	}
	for i, p := range c.Policies {
		if p.Name == "" {
			return fmt.Errorf("第 %d 条策略缺少名称", i+1)
		}
	}
	return nil
}

// LogConfig 转换为日志配置
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// CLIOverrides 命令行参数,零值表示未指定
type CLIOverrides struct {
	Depth       int
	MaxWorkers  int
	FollowLinks bool
	APIURL      string
	APIKey      string
	Sessions    bool
	OutputDir   string
}

// MergeCLIFlags 合并命令行参数到配置
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	// 命令行参数优先于配置文件
	if o.Depth > 0 {
		c.Crawl.Depth = o.Depth
	}
	if o.MaxWorkers > 0 {
		c.Crawl.MaxWorkers = o.MaxWorkers
	}
	if o.FollowLinks {
		c.Crawl.FollowLinks = true
	}
	if o.APIURL != "" {
		c.API.URL = o.APIURL
	}
	if o.APIKey != "" {
		c.API.Key = o.APIKey
	}
	if o.Sessions {
		c.Session.Enabled = true
	}
	if o.OutputDir != "" {
		c.Output.BaseDir = o.OutputDir
	}
}
