package core

import (
	"fmt"
	"net/http"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/utils"
)

// DefaultUserAgent 默认User-Agent
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/120.0.0.0 Safari/537.36"

// headerLayer 一个来源的头部,后面的层覆盖前面的层
type headerLayer struct {
	source  string
	headers http.Header
}

// HeaderManager 合并发往提取API的HTTP头部
// 优先级: 默认 < 配置文件 api.headers < 命令行 -H
// 实现 models.HeaderProvider 接口
type HeaderManager struct {
	layers    []headerLayer
	validator *utils.HeaderValidator
	redactor  *utils.HeaderRedactor
}

// NewHeaderManager 创建头部管理器
// configHeaders 来自viper,键名已被转为小写,这里按规范形式还原
func NewHeaderManager(configHeaders map[string]string, cliHeaders []string) (*HeaderManager, error) {
	cli, err := models.CliHeaders(cliHeaders).Parse()
	if err != nil {
		return nil, err
	}

	config := make(http.Header, len(configHeaders))
	for name, value := range configHeaders {
		config.Set(name, value)
	}

	hm := &HeaderManager{
		layers: []headerLayer{
			{source: "默认", headers: defaultHeaders()},
			{source: "配置文件", headers: config},
			{source: "命令行", headers: cli},
		},
		validator: utils.NewHeaderValidator(),
		redactor:  utils.NewHeaderRedactor(),
	}
	if len(config) > 0 {
		utils.Debugf("加载了%d个配置文件头部: %v", len(config), hm.redactor.Redact(config))
	}
	return hm, nil
}

func defaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"*/*"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// Validate 逐层验证,错误信息带上出错的来源
func (hm *HeaderManager) Validate() error {
	for _, layer := range hm.layers {
		if err := hm.validator.Validate(layer.headers); err != nil {
			utils.Errorf("%s头部验证失败: %v", layer.source, err)
			return fmt.Errorf("%s头部: %w", layer.source, err)
		}
	}
	utils.Debugf("所有HTTP头部验证通过")
	return nil
}

// GetMergedHeaders 按优先级合并,同名头部整体覆盖
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	merged := make(http.Header)
	for _, layer := range hm.layers {
		for name, values := range layer.headers {
			merged[name] = append([]string(nil), values...)
		}
	}
	return merged
}

// GetSafeHeaders 返回脱敏后的合并头部,用于日志
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 models.HeaderProvider 接口
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	return hm.GetMergedHeaders(), nil
}
