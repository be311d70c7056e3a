package models

import "testing"

func TestCliHeaders_Parse(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "nil数组", input: nil},
		{name: "空数组", input: []string{}},
		{name: "名称前后空格", input: []string{"  User-Agent  : Mozilla/5.0"}, want: map[string]string{"User-Agent": "Mozilla/5.0"}},
		{name: "值前后空格", input: []string{"User-Agent:  Mozilla/5.0  "}, want: map[string]string{"User-Agent": "Mozilla/5.0"}},
		{name: "值中间空格保留", input: []string{"X-Custom: value with spaces"}, want: map[string]string{"X-Custom": "value with spaces"}},
		{name: "值中包含冒号", input: []string{"X-URL: https://example.com:8080/path"}, want: map[string]string{"X-URL": "https://example.com:8080/path"}},
		{name: "值中包含等号", input: []string{"X-Equation: 1+1=2"}, want: map[string]string{"X-Equation": "1+1=2"}},
		{name: "按第一个冒号分割", input: []string{"Authorization: Bearer: token"}, want: map[string]string{"Authorization": "Bearer: token"}},
		{name: "只有冒号没有值", input: []string{"User-Agent:"}, want: map[string]string{"User-Agent": ""}},
		{name: "缺少冒号", input: []string{"User-Agent Mozilla/5.0"}, wantErr: true},
		{name: "缺少名称", input: []string{":value"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			headers, err := CliHeaders(tt.input).Parse()
			if (err != nil) != tt.wantErr {
				t.Fatalf("期望错误=%v, 实际错误=%v", tt.wantErr, err)
			}
			if tt.wantErr {
				return
			}
			for name, want := range tt.want {
				if got := headers.Get(name); got != want {
					t.Errorf("%s = %q, 期望 %q", name, got, want)
				}
			}
		})
	}
}
