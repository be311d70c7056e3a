package utils

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderValidator_ValidateName(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerName  string
		expectError bool
	}{
		{"合法名称-字母", "User-Agent", false},
		{"合法名称-数字", "X-Request-ID-123", false},
		{"合法名称-单字符", "X", false},
		{"非法名称-空格", "User Agent", true},
		{"非法名称-下划线", "User_Agent", true},
		{"非法名称-特殊字符", "User@Agent", true},
		{"非法名称-空字符串", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateName(tt.headerName)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateValue(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		value       string
		expectError bool
	}{
		{"合法值-ASCII", "Mozilla/5.0", false},
		{"合法值-空字符串", "", false},
		{"合法值-引号", `value "with" quotes`, false},
		{"合法值-最大长度", strings.Repeat("a", MaxHeaderValueLength), false},
		{"非法值-超长", strings.Repeat("a", MaxHeaderValueLength+1), true},
		{"非法值-控制字符", "value\x00with\x01null", true},
		{"非法值-中文", "测试中文", true},
		{"非法值-表情", "test 😀 emoji", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateValue("X-Test", tt.value)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateHeader(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerName  string
		headerValue string
		expectError bool
	}{
		{"合法头部", "User-Agent", "Mozilla/5.0", false},
		{"禁止头部-Host", "Host", "example.com", true},
		{"禁止头部-Content-Length", "Content-Length", "123", true},
		{"非法名称", "User Agent", "value", true},
		{"非法值", "User-Agent", "value\x00bad", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateHeader(tt.headerName, tt.headerValue)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_IsForbidden(t *testing.T) {
	validator := NewHeaderValidator()

	for _, name := range []string{"Host", "host", "HOST", "HoSt", "Content-Length", "Connection"} {
		if !validator.IsForbidden(name) {
			t.Errorf("禁止头部应该不区分大小写: %s", name)
		}
	}
	for _, name := range []string{"User-Agent", "X-Custom"} {
		if validator.IsForbidden(name) {
			t.Errorf("%s 不应该被禁止", name)
		}
	}
}

func TestHeaderValidator_Validate(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headers     http.Header
		expectError bool
	}{
		{
			name: "合法头部",
			headers: http.Header{
				"User-Agent": []string{"Mozilla/5.0"},
				"Accept":     []string{"*/*"},
			},
		},
		{
			name: "包含禁止头部",
			headers: http.Header{
				"User-Agent": []string{"Mozilla/5.0"},
				"Host":       []string{"example.com"},
			},
			expectError: true,
		},
		{
			name:        "包含非法值",
			headers:     http.Header{"User-Agent": []string{"value\x00bad"}},
			expectError: true,
		},
		{
			name:    "空头部",
			headers: http.Header{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.headers)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_APIManagedHeaders(t *testing.T) {
	validator := NewHeaderValidator()

	for _, name := range []string{"Authorization", "content-type"} {
		if err := validator.ValidateHeader(name, "x"); err == nil {
			t.Errorf("%s 由API客户端设置,应该被拒绝", name)
		}
	}
}
