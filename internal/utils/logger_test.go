package utils

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func initTestLogger(t *testing.T, level string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultLogConfig()
	cfg.Level = level
	cfg.LogDir = dir
	cfg.Compress = false
	if err := InitLogger(cfg); err != nil {
		t.Fatalf("初始化日志器失败: %v", err)
	}
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.DebugLevel) })
	return dir
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	return string(content)
}

func TestInitLogger(t *testing.T) {
	dir := initTestLogger(t, "info")

	Infof("会话池 %s 已就绪", "example.com")
	Debugf("级别为info时不应写入: %v", true)
	Errorf("初始化失败: %s", "bad_session_inits")

	main := readLog(t, filepath.Join(dir, mainLogName))
	if !strings.Contains(main, "会话池 example.com 已就绪") {
		t.Errorf("主日志缺少信息日志: %s", main)
	}
	if strings.Contains(main, "级别为info时不应写入") {
		t.Error("调试日志不应写入")
	}

	errLog := readLog(t, filepath.Join(dir, errorLogName))
	if !strings.Contains(errLog, "bad_session_inits") || strings.Contains(errLog, "已就绪") {
		t.Errorf("错误日志只应包含错误级别: %s", errLog)
	}
}

func TestInitLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	initTestLogger(t, "verbose")
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Errorf("GlobalLevel = %s, 期望 info", zerolog.GlobalLevel())
	}
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	if cfg.Level != "info" || cfg.LogDir != "logs" {
		t.Errorf("默认配置错误: %+v", cfg)
	}
	if cfg.MaxSize != 10 || cfg.MaxBackups != 3 || cfg.MaxAge != 28 || !cfg.Compress {
		t.Errorf("默认轮转配置错误: %+v", cfg)
	}
}

func TestWithPool(t *testing.T) {
	var buf bytes.Buffer
	old := Logger
	Logger = zerolog.New(&buf)
	defer func() { Logger = old }()

	WithPool("example.com@US").Warn().Str("session", "s1").Msg("会话过期")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("解析日志失败: %v", err)
	}
	if entry["pool"] != "example.com@US" || entry["session"] != "s1" {
		t.Errorf("日志字段错误: %v", entry)
	}
}

func TestFilteredWriter(t *testing.T) {
	var buf bytes.Buffer
	w := &FilteredWriter{Writer: &buf, MinLevel: zerolog.ErrorLevel}

	w.WriteLevel(zerolog.InfoLevel, []byte("info\n"))
	w.WriteLevel(zerolog.ErrorLevel, []byte("error\n"))
	w.Write([]byte("plain\n"))

	if got := buf.String(); got != "error\n" {
		t.Errorf("错误日志文件只应包含错误级别日志, got %q", got)
	}
}
