package mockapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func post(t *testing.T, srv *httptest.Server, params map[string]any) (int, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(params)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+ExtractPath, bytes.NewReader(body))
	req.SetBasicAuth("key", "")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestServer_Problems(t *testing.T) {
	srv := httptest.NewServer(NewServer("").Handler())
	defer srv.Close()

	tests := []struct {
		name       string
		params     map[string]any
		wantStatus int
		wantType   string
	}{
		{"无效密钥", map[string]any{"url": "https://bad-key.example"}, 401, "/auth/key-not-found"},
		{"禁止的域名", map[string]any{"url": "https://forbidden.example"}, 451, "/download/domain-forbidden"},
		{"临时下载错误", map[string]any{"url": "https://a.example/temporary-download-error"}, 520, "/download/temporary-error"},
		{"参数不兼容", map[string]any{"url": "https://a.example", "browserHtml": true, "httpResponseBody": true}, 422, "/request/unprocessable"},
		{"缺少url", map[string]any{"browserHtml": true}, 400, "/request/invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, srv, tt.params)
			if status != tt.wantStatus {
				t.Errorf("状态码 = %d, want %d", status, tt.wantStatus)
			}
			if body["type"] != tt.wantType {
				t.Errorf("问题类型 = %v, want %s", body["type"], tt.wantType)
			}
		})
	}
}

func TestServer_SessionEcho(t *testing.T) {
	srv := httptest.NewServer(NewServer("").Handler())
	defer srv.Close()

	status, body := post(t, srv, map[string]any{
		"url":         "https://session-check.example",
		"browserHtml": true,
		"session":     map[string]any{"id": "s1"},
	})
	if status != http.StatusOK {
		t.Fatalf("状态码 = %d", status)
	}
	session, _ := body["session"].(map[string]any)
	if session["id"] != "s1" {
		t.Errorf("应回显会话: %v", body["session"])
	}
	html, _ := body["browserHtml"].(string)
	if !bytes.Contains([]byte(html), []byte(`id="logged-in"`)) {
		t.Errorf("带会话的请求应包含登录标记: %s", html)
	}
}

func TestServer_SessionExpiresOnSecondUse(t *testing.T) {
	srv := httptest.NewServer(NewServer("").Handler())
	defer srv.Close()

	params := map[string]any{"url": "https://session-expired.example", "browserHtml": true, "session": map[string]any{"id": "s1"}}
	if status, _ := post(t, srv, params); status != http.StatusOK {
		t.Fatalf("首次使用状态码 = %d", status)
	}
	status, body := post(t, srv, params)
	if status != http.StatusBadRequest || body["type"] != "/problem/session-expired" {
		t.Errorf("第二次使用应过期: %d %v", status, body)
	}
}

func TestServer_SetLocation(t *testing.T) {
	srv := httptest.NewServer(NewServer("").Handler())
	defer srv.Close()

	action := func(code string) []any {
		return []any{map[string]any{"action": "setLocation", "address": map[string]any{"postalCode": code}}}
	}

	tests := []struct {
		name       string
		domain     string
		code       string
		wantStatus int
		wantAction string
		wantError  string
	}{
		{"邮编正确", "postal-code-10001.example", "10001", 200, "success", ""},
		{"邮编错误", "postal-code-10001.example", "90210", 500, "", ""},
		{"邮编错误仅影响动作", "postal-code-10001-soft.example", "90210", 200, "returned", "Action setLocation failed"},
		{"不支持定位", "no-location-support.example", "10001", 200, "returned", "Action setLocation not supported on no-location-support.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := post(t, srv, map[string]any{
				"url":         "https://" + tt.domain,
				"browserHtml": true,
				"actions":     action(tt.code),
				"session":     map[string]any{"id": "s1"},
			})
			if status != tt.wantStatus {
				t.Fatalf("状态码 = %d, want %d", status, tt.wantStatus)
			}
			if tt.wantAction == "" {
				return
			}
			results, _ := body["actions"].([]any)
			if len(results) != 1 {
				t.Fatalf("动作结果 = %v", body["actions"])
			}
			result := results[0].(map[string]any)
			if result["status"] != tt.wantAction {
				t.Errorf("动作状态 = %v, want %s", result["status"], tt.wantAction)
			}
			if tt.wantError != "" && result["error"] != tt.wantError {
				t.Errorf("动作错误 = %v, want %s", result["error"], tt.wantError)
			}
		})
	}
}

func TestServer_KeyCheck(t *testing.T) {
	srv := httptest.NewServer(NewServer("secret").Handler())
	defer srv.Close()

	status, _ := post(t, srv, map[string]any{"url": "https://a.example", "browserHtml": true})
	if status != http.StatusUnauthorized {
		t.Errorf("密钥不匹配时应返回401, got %d", status)
	}
}
