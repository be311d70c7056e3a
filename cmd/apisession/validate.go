package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/RecoveryAshes/apisession/internal/models"
)

const (
	maxDepth   = 10
	maxThreads = 100
)

// ValidateFlags 验证合并后的起始URL和爬取参数
func ValidateFlags(seeds []string, depth int, maxWorkers int) error {
	if len(seeds) == 0 {
		return fmt.Errorf("至少需要一个起始URL")
	}
	for _, s := range seeds {
		if err := models.ValidateURL(s); err != nil {
			return fmt.Errorf("无效的目标URL: %w", err)
		}
	}

	switch {
	case depth < 0 || depth > maxDepth:
		return fmt.Errorf("链接跟随深度必须在0-%d之间,当前值: %d", maxDepth, depth)
	case maxWorkers < 1 || maxWorkers > maxThreads:
		return fmt.Errorf("并发数必须在1-%d之间,当前值: %d", maxThreads, maxWorkers)
	}
	return nil
}

// NormalizeURL 补全缺失的协议(默认https)并将主机名转为小写
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	parsed.Host = strings.ToLower(parsed.Host)
	return parsed.String(), nil
}
