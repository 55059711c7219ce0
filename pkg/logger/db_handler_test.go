package logger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestStderrCollectorLevels(t *testing.T) {
	h := useCapture(t)

	c := NewStderrCollector("tg-gateway")
	_, _ = c.Write([]byte("connected to DC2\n\n  \nTraceback (most recent call last)\nFloodWait 30s, warn\n"))
	_ = c.Close()

	records := h.snapshot()
	if len(records) != 3 {
		t.Fatalf("records = %d, want 3 (blank lines skipped)", len(records))
	}
	wantLevels := []slog.Level{slog.LevelInfo, slog.LevelError, slog.LevelWarn}
	for i, r := range records {
		if r.Level != wantLevels[i] {
			t.Errorf("record %d level = %v, want %v", i, r.Level, wantLevels[i])
		}
	}

	var source string
	records[0].Attrs(func(a slog.Attr) bool {
		if a.Key == FieldSource {
			source = a.Value.String()
		}
		return true
	})
	if source != "tg-gateway" {
		t.Errorf("source attr = %q, want tg-gateway", source)
	}
}

func TestStderrCollectorLongLine(t *testing.T) {
	h := useCapture(t)

	c := NewStderrCollector("tg-gateway")
	_, _ = c.Write([]byte(strings.Repeat("x", 80*1024)))
	_ = c.Close()

	// 超长行触发 scanner 错误, 记录一条 error 日志且不死锁
	records := h.snapshot()
	if len(records) != 1 || records[0].Level != slog.LevelError {
		t.Fatalf("records = %+v, want one scan error", records)
	}
}

func TestApplyAttr(t *testing.T) {
	e := &LogEntry{}
	applyAttr(e, "", slog.String(FieldComponent, "expander"))
	applyAttr(e, "", slog.String(FieldSource, "archive"))
	applyAttr(e, "", slog.String(FieldRunID, "run-1"))
	applyAttr(e, "", slog.Int64(FieldChannelID, -1001))
	applyAttr(e, "", slog.Any(FieldDurationMS, 99.7))
	applyAttr(e, "", slog.Int64(FieldTelegramID, 42))

	if e.Component != "expander" || e.Source != "archive" || e.RunID != "run-1" {
		t.Errorf("string fields = %+v", e)
	}
	if e.ChannelID == nil || *e.ChannelID != -1001 {
		t.Errorf("ChannelID = %v, want -1001", e.ChannelID)
	}
	if e.DurationMS == nil || *e.DurationMS != 99 {
		t.Errorf("DurationMS = %v, want 99", e.DurationMS)
	}
	if v, ok := e.Extra[FieldTelegramID]; !ok || v != int64(42) {
		t.Errorf("Extra[telegram_id] = %v", v)
	}
}

func TestDBHandlerLevelAndShutdown(t *testing.T) {
	h := NewDBHandler(nil, slog.LevelWarn)
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info should be disabled at warn level")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error should be enabled at warn level")
	}

	clone := h.WithAttrs([]slog.Attr{slog.String(FieldRunID, "r")}).(*DBHandler)
	rec := slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)
	if err := clone.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	h.Shutdown()
	h.Shutdown()
	// clone 共享写入端, 关闭后写入被丢弃而不是 panic
	if err := clone.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle after shutdown: %v", err)
	}
	if h.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", h.Dropped())
	}
}

func TestApplyAttr_GroupsAndErrors(t *testing.T) {
	e := &LogEntry{}
	applyAttr(e, "", slog.Group("rpc", slog.String("method", "messages.get"), slog.Int64(FieldChannelID, 7)))
	applyAttr(e, "", slog.Any(FieldError, errors.New("flood wait")))

	if e.ChannelID != nil {
		t.Errorf("grouped channel_id must stay in extra, got column %v", *e.ChannelID)
	}
	if e.Extra["rpc.method"] != "messages.get" || e.Extra["rpc.channel_id"] != int64(7) {
		t.Errorf("extra = %v", e.Extra)
	}
	if e.Extra[FieldError] != "flood wait" {
		t.Errorf("error extra = %#v, want string", e.Extra[FieldError])
	}
}

func TestDBHandler_WithGroupPrefixesExtra(t *testing.T) {
	h := NewDBHandler(nil, slog.LevelDebug)
	defer h.Shutdown()

	g := h.WithGroup("expand").WithAttrs([]slog.Attr{slog.Int("depth", 3)}).(*DBHandler)
	if g.group != "expand" || len(g.attrs) != 1 || g.attrs[0].Key != "expand.depth" {
		t.Errorf("group=%q attrs=%v", g.group, g.attrs)
	}
	if h.WithGroup("") != h {
		t.Error("empty group should return the same handler")
	}
}

func TestMultiHandlerFanOut(t *testing.T) {
	a, b := &captureHandler{}, &captureHandler{}
	l := slog.New(NewMultiHandler(a, b))
	l.Warn("fan out", FieldCount, 2)

	if len(a.snapshot()) != 1 || len(b.snapshot()) != 1 {
		t.Errorf("fan out counts = %d/%d, want 1/1", len(a.snapshot()), len(b.snapshot()))
	}
}
