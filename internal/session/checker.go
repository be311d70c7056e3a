package session

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/apisession/internal/models"
)

// SelectorChecker 页面中存在指定CSS选择器即认为会话有效
type SelectorChecker struct {
	selector string
}

// NewSelectorChecker 创建选择器检查器
func NewSelectorChecker(selector string) *SelectorChecker {
	return &SelectorChecker{selector: selector}
}

// Check 实现Checker接口
func (c *SelectorChecker) Check(resp *models.Response, req *models.Request) (Verdict, error) {
	body, err := resp.Body()
	if err != nil {
		return Invalid(), err
	}
	if len(body) == 0 {
		return Invalid(), nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Invalid(), fmt.Errorf("解析HTML失败: %w", err)
	}
	return VerdictOf(doc.Find(c.selector).Length() > 0), nil
}
