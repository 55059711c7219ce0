package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// captureHandler 收集日志记录, 供断言使用。
type captureHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r.Clone())
	return nil
}
func (h *captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *captureHandler) WithGroup(string) slog.Handler      { return h }

func (h *captureHandler) snapshot() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]slog.Record(nil), h.records...)
}

// useCapture 临时替换默认日志器。
func useCapture(t *testing.T) *captureHandler {
	t.Helper()
	h := &captureHandler{}
	orig := getLogger()
	storeLogger(slog.New(h))
	t.Cleanup(func() { storeLogger(orig) })
	return h
}

func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", FieldChannelID, int64(1))
			_ = Get()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()
	wg.Wait()
	Init("production")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReplaceTimeAttrUsesLocation(t *testing.T) {
	orig := location.Load()
	defer location.Store(orig)

	SetLocation(time.FixedZone("MSK", 3*60*60))
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	a := replaceTimeAttr(nil, slog.Time(slog.TimeKey, ts))
	if got := a.Value.String(); got != "2024-05-01 13:00:00" {
		t.Errorf("time attr = %q, want 2024-05-01 13:00:00", got)
	}

	SetLocation(nil) // 忽略
	if location.Load().String() != "MSK" {
		t.Errorf("SetLocation(nil) must keep previous location")
	}

	other := replaceTimeAttr(nil, slog.String("k", "v"))
	if other.Value.String() != "v" {
		t.Errorf("non-time attr changed: %v", other.Value)
	}
}

func TestFromContext(t *testing.T) {
	l := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(FieldRunID, "r1")
	ctx := WithContext(context.Background(), l)
	if FromContext(ctx) != l {
		t.Error("FromContext should return injected logger")
	}
	if FromContext(context.Background()) != Get() {
		t.Error("FromContext without logger should fall back to default")
	}
}

func TestInitWithFile(t *testing.T) {
	dir := t.TempDir()
	if err := InitWithFile(dir); err != nil {
		t.Fatalf("InitWithFile: %v", err)
	}
	Info("file line", FieldCount, 1)
	ShutdownFileHandler()
	ShutdownFileHandler() // 重复关闭安全
	Init("production")

	matches, _ := filepath.Glob(filepath.Join(dir, "tgarchive-*.log"))
	if len(matches) != 1 {
		t.Fatalf("log files = %v, want exactly one", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("log file is empty")
	}
}
