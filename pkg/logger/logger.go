// Package logger 提供基于 slog 的结构化日志。
//
// 核心功能:
//   - Init() 配置默认日志器 (开发环境 tint 彩色输出 / 生产环境 JSON)
//   - InitWithFile() 同时输出到 stdout 和日志文件
//   - SetLocation() 日志时间按归档时区显示
//   - FromContext() 上下文感知日志
//   - 包级便捷方法 (Info/Error/Warn/Debug/Fatal)
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lmittmann/tint"

	pkgerr "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

const timeLayout = "2006-01-02 15:04:05"

var (
	defaultLogger atomic.Pointer[slog.Logger]

	// level 全局日志级别, Init 之后仍可通过 SetLevel 调整。
	level = new(slog.LevelVar)

	// location 日志时间显示时区, 默认 UTC。
	location atomic.Pointer[time.Location]

	logFile   *os.File
	logFileMu sync.Mutex
)

func init() {
	location.Store(time.UTC)
	defaultLogger.Store(newLogger(false, os.Stdout))
}

func getLogger() *slog.Logger { return defaultLogger.Load() }

// storeLogger 原子存储默认日志器并同步 slog.SetDefault。
func storeLogger(l *slog.Logger) {
	defaultLogger.Store(l)
	slog.SetDefault(l)
}

// SetLocation 设置日志时间显示时区。nil 忽略。
func SetLocation(loc *time.Location) {
	if loc != nil {
		location.Store(loc)
	}
}

// SetLevel 调整全局日志级别。
func SetLevel(l slog.Level) { level.Set(l) }

// ParseLevel 解析 debug/info/warn/error, 未知值返回 info。
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// replaceTimeAttr 将 slog 输出的时间转为配置时区, 并格式化为易读字符串。
func replaceTimeAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		if t, ok := a.Value.Any().(time.Time); ok {
			a.Value = slog.StringValue(t.In(location.Load()).Format(timeLayout))
		}
	}
	return a
}

func newLogger(development bool, out io.Writer) *slog.Logger {
	if development {
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			AddSource:  true,
			TimeFormat: timeLayout,
		}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replaceTimeAttr,
	}))
}

// IsDevelopment 判断 env 是否为开发环境。
func IsDevelopment(env string) bool {
	return env == "development" || env == "dev"
}

// Init 初始化日志配置。env: "development"/"dev" 或 "production" (默认)。
func Init(env string) {
	InitTo(env, os.Stdout)
}

// InitTo 同 Init, 但生产环境 JSON 写入 out (CLI 用 stderr, stdout 留给导出结果)。
func InitTo(env string, out io.Writer) {
	storeLogger(newLogger(IsDevelopment(env), out))
}

// InitWithFile 初始化日志, 同时输出到 stdout 和日志文件。
//
// 日志文件: {logDir}/tgarchive-{date}.log (JSON 格式)。
// 调用者应在退出前调用 ShutdownFileHandler() 关闭文件。
func InitWithFile(logDir string) error {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return pkgerr.Wrap(err, "logger.InitWithFile", "create log dir")
	}

	date := time.Now().In(location.Load()).Format("2006-01-02")
	logPath := filepath.Join(logDir, fmt.Sprintf("tgarchive-%s.log", date))

	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return pkgerr.Wrap(err, "logger.InitWithFile", "open log file")
	}
	logFileMu.Lock()
	logFile = f
	logFileMu.Unlock()

	multi := io.MultiWriter(os.Stdout, f)
	handler := slog.NewJSONHandler(multi, &slog.HandlerOptions{Level: level, ReplaceAttr: replaceTimeAttr})
	storeLogger(slog.New(handler))

	slog.Info("log file opened", FieldPath, logPath)
	return nil
}

// ShutdownFileHandler 关闭日志文件 (并发安全)。
func ShutdownFileHandler() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		_ = logFile.Sync()
		_ = logFile.Close()
		logFile = nil
	}
}

// ========================================
// Context 感知日志
// ========================================

type ctxKey struct{}

// WithContext 将日志器注入 context。
func WithContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext 从 context 提取日志器，若不存在则返回默认日志器。
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return getLogger()
}

// ========================================
// 包级便捷方法
// ========================================

// Info/Error/Warn/Debug 记录结构化日志。args 为 key-value 对。
func Info(msg string, args ...any)  { getLogger().Info(msg, args...) }
func Error(msg string, args ...any) { getLogger().Error(msg, args...) }
func Warn(msg string, args ...any)  { getLogger().Warn(msg, args...) }
func Debug(msg string, args ...any) { getLogger().Debug(msg, args...) }

// Infof/Errorf/Warnf 记录格式化日志。
func Infof(format string, args ...any)  { getLogger().Info(fmt.Sprintf(format, args...)) }
func Errorf(format string, args ...any) { getLogger().Error(fmt.Sprintf(format, args...)) }
func Warnf(format string, args ...any)  { getLogger().Warn(fmt.Sprintf(format, args...)) }

// Fatal 记录致命错误并退出。
func Fatal(msg string, args ...any) {
	getLogger().Error(msg, args...)
	os.Exit(1)
}

// Infow/Warnw/Errorw/Debugw 等同于 Info/Warn/Error/Debug。
func Infow(msg string, keysAndValues ...any)  { getLogger().Info(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...any)  { getLogger().Warn(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...any) { getLogger().Error(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...any) { getLogger().Debug(msg, keysAndValues...) }

// With 返回带附加上下文的日志器。
func With(args ...any) *slog.Logger { return getLogger().With(args...) }

// Get 返回底层 slog.Logger。
func Get() *slog.Logger { return getLogger() }

// 字段常量, 勿硬编码键名。
const (
	FieldComponent  = "component"
	FieldModule     = "module"
	FieldError      = "error"
	FieldStatus     = "status"
	FieldCount      = "count"
	FieldPath       = "path"
	FieldMethod     = "method"
	FieldSource     = "source"
	FieldDurationMS = "duration_ms"
	FieldAddr       = "addr"
	FieldURL        = "url"
	FieldPort       = "port"
	FieldVersion    = "version"
	FieldID         = "id"
	FieldName       = "name"
	FieldTopic      = "topic"
	FieldSeq        = "seq"
	FieldReqID      = "req_id"
	FieldCommand    = "command"
	FieldPID        = "pid"
	FieldState      = "state"
	FieldSubscriber = "subscriber"
	FieldFilter     = "filter"
	FieldAttempt    = "attempt"
	FieldRunID      = "run_id"
	FieldBackend    = "backend"

	// 归档领域
	FieldChannelID  = "channel_id"
	FieldTelegramID = "telegram_id"
	FieldParentID   = "parent_id"
	FieldMessageID  = "message_id"
	FieldSenderID   = "sender_id"
	FieldBatch      = "batch"
	FieldFrom       = "from"
	FieldTo         = "to"
	FieldLimit      = "limit"
)
