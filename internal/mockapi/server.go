// Package mockapi 提供本地的假提取API,用于测试和演示
//
// 按目标URL的域名触发不同行为:
//
//	bad-key*                   401 /auth/key-not-found
//	forbidden*                 451 /download/domain-forbidden
//	*temporary-download-error* 520 /download/temporary-error
//	session-expired*           会话第二次使用时返回 400 /problem/session-expired
//	postal-code-10001*         setLocation 邮编不是10001时失败(-soft 只影响动作结果)
//	no-location-support*       setLocation 不受支持
//	session-check*             带会话的请求返回 #logged-in 标记
//
// 同时请求 browserHtml 和 httpResponseBody 返回 422。
package mockapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RecoveryAshes/apisession/internal/models"
	"github.com/RecoveryAshes/apisession/internal/utils"
	"github.com/gorilla/mux"
)

// ExtractPath 提取端点路径
const ExtractPath = "/v1/extract"

const pageHTML = `<html><body>Hello<h1>World!</h1><a href="/about">About</a>%s</body></html>`

// Server 假提取API
type Server struct {
	router *mux.Router
	key    string

	requests atomic.Int64

	mu       sync.Mutex
	sessions map[string]int // 会话ID -> 使用次数
}

// NewServer 创建假API,key为空时不校验认证
func NewServer(key string) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		key:      key,
		sessions: make(map[string]int),
	}

	s.router.HandleFunc(ExtractPath, s.handleExtract).Methods(http.MethodPost)
	s.router.HandleFunc("/count", s.handleCount).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/pages/{name}", s.handlePage).Methods(http.MethodGet)

	return s
}

// Handler 返回HTTP处理器
func (s *Server) Handler() http.Handler {
	return s.router
}

// RequestCount 返回提取端点收到的请求数
func (s *Server) RequestCount() int64 {
	return s.requests.Load()
}

// ListenAndServe 在addr上运行,ctx取消时优雅关闭
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		utils.Infof("🧪 假提取API已启动: http://%s%s", addr, ExtractPath)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("request-id", "abcd1234")

	if s.key != "" {
		user, _, ok := r.BasicAuth()
		if !ok || user != s.key {
			writeProblem(w, http.StatusUnauthorized, models.ProblemUnauthorized, "Authentication Key Not Found")
			return
		}
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeProblem(w, http.StatusBadRequest, models.ProblemBadRequest, "Invalid JSON")
		return
	}
	target, _ := params[models.ParamURL].(string)
	u, err := url.Parse(target)
	if target == "" || err != nil {
		writeProblem(w, http.StatusBadRequest, models.ProblemBadRequest, "Missing url")
		return
	}
	domain := u.Host

	switch {
	case strings.Contains(domain, "bad-key"):
		writeProblem(w, http.StatusUnauthorized, models.ProblemUnauthorized, "Authentication Key Not Found")
		return
	case strings.Contains(domain, "forbidden"):
		writeProblem(w, http.StatusUnavailableForLegalReasons, models.ProblemDomainForbidden, "Domain Forbidden")
		return
	case strings.Contains(target, "temporary-download-error"):
		writeProblem(w, 520, models.ProblemTemporaryDownload, "Temporary Download Error")
		return
	}

	_, wantHTML := params[models.ParamBrowserHTML]
	_, wantBody := params[models.ParamHTTPResponseBody]
	if wantHTML && wantBody {
		writeProblem(w, http.StatusUnprocessableEntity, "/request/unprocessable", "Incompatible parameters were found in the request.")
		return
	}

	resp := map[string]any{models.ParamURL: target, "statusCode": 200}

	sessionID := models.Params(params).SessionID()
	if sessionID != "" {
		if strings.HasPrefix(domain, "session-expired") && s.use(sessionID) > 1 {
			writeProblem(w, http.StatusBadRequest, models.ProblemSessionExpired, "Session Expired")
			return
		}
		if strings.HasPrefix(domain, "postal-code-10001") && !strings.HasPrefix(domain, "postal-code-10001-soft") {
			if postalCode(params) != "10001" {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}
		resp[models.MetaSessionKey] = params[models.MetaSessionKey]
	}

	marker := ""
	if sessionID != "" && strings.HasPrefix(domain, "session-check") {
		marker = `<div id="logged-in"></div>`
	}
	html := fmt.Sprintf(pageHTML, marker)

	if wantHTML {
		resp[models.ParamBrowserHTML] = html
	}
	if wantBody {
		resp[models.ParamHTTPResponseBody] = base64.StdEncoding.EncodeToString([]byte(html))
	}
	if v, _ := params[models.ParamHTTPRespHeaders].(bool); v {
		resp[models.ParamHTTPRespHeaders] = []any{map[string]any{"name": "test_header", "value": "test_value"}}
	}
	if actions, ok := params[models.ParamActions].([]any); ok && len(actions) > 0 {
		resp[models.ParamActions] = actionResults(domain, actions)
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// use 记录一次会话使用,返回累计次数
func (s *Server) use(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id]++
	return s.sessions[id]
}

func actionResults(domain string, actions []any) []any {
	results := make([]any, 0, len(actions))
	for _, item := range actions {
		action, _ := item.(map[string]any)
		name, _ := action["action"].(string)
		result := map[string]any{"action": name, "elapsedTime": 1.0, "status": "success"}
		if name == "setLocation" {
			switch {
			case strings.HasPrefix(domain, "postal-code-10001"):
				if addressPostalCode(action) != "10001" {
					result["status"] = "returned"
					result["error"] = "Action setLocation failed"
				}
			case strings.HasPrefix(domain, "no-location-support"):
				result["status"] = "returned"
				result["error"] = "Action setLocation not supported on " + domain
			}
		}
		results = append(results, result)
	}
	return results
}

func postalCode(params map[string]any) string {
	actions, _ := params[models.ParamActions].([]any)
	for _, item := range actions {
		action, _ := item.(map[string]any)
		if code := addressPostalCode(action); code != "" {
			return code
		}
	}
	return ""
}

func addressPostalCode(action map[string]any) string {
	address, _ := action["address"].(map[string]any)
	code, _ := address["postalCode"].(string)
	return code
}

func writeProblem(w http.ResponseWriter, status int, problemType, title string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"type":   problemType,
		"title":  title,
		"detail": title,
	})
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "%d", s.requests.Load())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "healthy"})
}

// handlePage 供直接抓取使用的静态页面,互相链接
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><body><h1>%s</h1><a href="/pages/a">a</a><a href="/pages/b">b</a><a href="https://elsewhere.test/">x</a></body></html>`, name)
}
