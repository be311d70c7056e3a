package utils

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderRedactor_Redact(t *testing.T) {
	redactor := NewHeaderRedactor()

	t.Run("敏感头部被脱敏", func(t *testing.T) {
		tests := []struct {
			name  string
			value string
		}{
			{"Authorization", "Bearer token123"},
			{"X-Token", "longtoken123456789"},
			{"X-Api-Key", "key12345678"},
			{"X-Secret", "password123456"},
		}
		for _, tt := range tests {
			headers := http.Header{}
			headers.Set(tt.name, tt.value)
			got, ok := redactor.Redact(headers)[tt.name]
			if !ok {
				t.Errorf("头部应该存在于脱敏结果中: %s", tt.name)
				continue
			}
			if got == tt.value || !strings.Contains(got, "*") {
				t.Errorf("%s 未被脱敏: %s", tt.name, got)
			}
		}
	})

	t.Run("非敏感头部保持原值", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("User-Agent", "Mozilla/5.0")
		headers.Set("Accept", "*/*")
		redacted := redactor.Redact(headers)
		if redacted["User-Agent"] != "Mozilla/5.0" || redacted["Accept"] != "*/*" {
			t.Errorf("非敏感头部不应被脱敏: %v", redacted)
		}
	})

	t.Run("空值脱敏", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Authorization", "")
		if got := redactor.Redact(headers)["Authorization"]; got != "***" {
			t.Errorf("空敏感头部应该显示为***, 得到: %s", got)
		}
	})
}

func TestHeaderRedactor_RedactSecret(t *testing.T) {
	redactor := NewHeaderRedactor()

	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{"空密钥", "", ""},
		{"短密钥", "abc", "***"},
		{"长密钥保留首尾", "0123456789abcdef", "0123***cdef"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := redactor.RedactSecret(tt.secret); got != tt.want {
				t.Errorf("RedactSecret(%q) = %q, 期望 %q", tt.secret, got, tt.want)
			}
		})
	}
}
