package models

import (
	"fmt"
	"net/url"

	"github.com/google/uuid"
)

// ValidateURL 只接受带主机名的 http/https 绝对地址
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	switch {
	case err != nil:
		return fmt.Errorf("无效的URL: %w", err)
	case u.Scheme == "":
		return fmt.Errorf("URL缺少协议(http/https)")
	case u.Scheme != "http" && u.Scheme != "https":
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	case u.Hostname() == "":
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// generateID 请求、任务和会话共用的唯一ID
func generateID() string {
	return uuid.NewString()
}
