package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LogEntry 对应 archive_logs 表的一行。
type LogEntry struct {
	Ts         time.Time
	Level      string
	Message    string
	Component  string
	Source     string
	RunID      string
	ChannelID  *int64
	DurationMS *int
	Extra      map[string]any
}

// ========================================
// DBHandler — slog.Handler → archive_logs (COPY 批量写入)
// ========================================

const (
	bufSize      = 1024
	batchSize    = 100
	flushDelay   = 500 * time.Millisecond
	flushTimeout = 5 * time.Second
)

var logColumns = []string{"ts", "level", "message", "component", "source", "run_id", "channel_id", "duration_ms", "extra"}

// dbSink 是所有 clone 共享的写入端。
type dbSink struct {
	pool    *pgxpool.Pool
	buf     chan LogEntry
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// DBHandler 把 level 及以上的记录异步写入 archive_logs。
// 缓冲满时丢弃并计数, 不阻塞调用方。
type DBHandler struct {
	sink  *dbSink
	attrs []slog.Attr
	group string
	level slog.Level
}

// NewDBHandler 创建并启动后台写入 goroutine。pool 为 nil 时只消费不落库。
func NewDBHandler(pool *pgxpool.Pool, level slog.Level) *DBHandler {
	sink := &dbSink{
		pool: pool,
		buf:  make(chan LogEntry, bufSize),
		done: make(chan struct{}),
	}
	go sink.consumeLoop()
	return &DBHandler{sink: sink, level: level}
}

// Enabled 实现 slog.Handler。
func (h *DBHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// Handle 实现 slog.Handler。
func (h *DBHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Ts:      r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
	}
	for _, a := range h.attrs {
		applyAttr(&entry, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		applyAttr(&entry, h.group, a)
		return true
	})

	h.sink.mu.RLock()
	defer h.sink.mu.RUnlock()
	if h.sink.closed {
		return nil
	}
	select {
	case h.sink.buf <- entry:
	default:
		h.sink.dropped.Add(1)
	}
	return nil
}

// WithAttrs 实现 slog.Handler。
func (h *DBHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

// WithGroup 实现 slog.Handler。分组名作为 extra 键前缀。
func (h *DBHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	if clone.group != "" {
		clone.group += "." + name
	} else {
		clone.group = name
	}
	return &clone
}

// Dropped 返回因缓冲满被丢弃的记录数。
func (h *DBHandler) Dropped() int64 { return h.sink.dropped.Load() }

// Shutdown 停止后台 goroutine 并写完缓冲中的记录。可重复调用。
func (h *DBHandler) Shutdown() {
	s := h.sink
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.buf)
	s.mu.Unlock()
	<-s.done
}

func (s *dbSink) consumeLoop() {
	defer close(s.done)

	batch := make([]LogEntry, 0, batchSize)
	ticker := time.NewTicker(flushDelay)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			s.flush(batch)
			batch = batch[:0]
		}
	}
	for {
		select {
		case entry, ok := <-s.buf:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *dbSink) flush(batch []LogEntry) {
	if s.pool == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	_, err := s.pool.CopyFrom(ctx, pgx.Identifier{"archive_logs"}, logColumns,
		pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
			e := batch[i]
			var extra []byte
			if len(e.Extra) > 0 {
				extra, _ = json.Marshal(e.Extra)
			}
			return []any{e.Ts, e.Level, e.Message, e.Component, e.Source, e.RunID, e.ChannelID, e.DurationMS, extra}, nil
		}))
	if err != nil {
		// 失败只写回原日志器, 避免递归写库
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, "db_handler: flush failed", 0)
		rec.AddAttrs(slog.Int(FieldCount, len(batch)), slog.String(FieldError, err.Error()))
		_ = fallbackHandler().Handle(ctx, rec)
	}
}

// applyAttr 将 slog.Attr 映射到 LogEntry 的结构化列, 其余进 Extra。
// 分组属性展开为 "group.key"。
func applyAttr(e *LogEntry, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		p := a.Key
		if prefix != "" && p != "" {
			p = prefix + "." + p
		} else if p == "" {
			p = prefix
		}
		for _, ga := range a.Value.Group() {
			applyAttr(e, p, ga)
		}
		return
	}
	if prefix == "" {
		switch a.Key {
		case FieldComponent:
			e.Component = a.Value.String()
			return
		case FieldSource:
			e.Source = a.Value.String()
			return
		case FieldRunID:
			e.RunID = a.Value.String()
			return
		case FieldChannelID:
			if v, ok := toInt64(a.Value.Any()); ok {
				e.ChannelID = &v
				return
			}
		case FieldDurationMS:
			if v, ok := toInt64(a.Value.Any()); ok {
				ms := int(v)
				e.DurationMS = &ms
				return
			}
		}
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	switch v := a.Value.Any().(type) {
	case error:
		e.Extra[key] = v.Error()
	case fmt.Stringer:
		e.Extra[key] = v.String()
	default:
		e.Extra[key] = v
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// ========================================
// MultiHandler — 同时写多个 Handler
// ========================================

// MultiHandler 扇出日志到多个 slog.Handler。
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler 创建多路 Handler。
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled 只要有一个 Handler 接受该级别就返回 true。
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle 分发到所有 Handler。
func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

// WithAttrs 对所有 Handler 调用 WithAttrs。
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &MultiHandler{handlers: handlers}
}

// WithGroup 对所有 Handler 调用 WithGroup。
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &MultiHandler{handlers: handlers}
}

// ========================================
// AttachDBHandler — pool ready 后动态挂载
// ========================================

var (
	dbHandler atomic.Pointer[DBHandler]
	baseLog   atomic.Pointer[slog.Logger] // 挂载前的日志器
	attachMu  sync.Mutex
)

func fallbackHandler() slog.Handler {
	if l := baseLog.Load(); l != nil {
		return l.Handler()
	}
	return getLogger().Handler()
}

// AttachDBHandler 在 Postgres 后端就绪后调用, warn 及以上级别同时写入 archive_logs。
func AttachDBHandler(pool *pgxpool.Pool) {
	attachMu.Lock()
	defer attachMu.Unlock()

	if old := dbHandler.Load(); old != nil {
		old.Shutdown()
	}
	orig := baseLog.Load()
	if orig == nil {
		orig = getLogger()
		baseLog.Store(orig)
	}

	h := NewDBHandler(pool, slog.LevelWarn)
	dbHandler.Store(h)
	storeLogger(slog.New(NewMultiHandler(orig.Handler(), h)))
}

// ShutdownDBHandler 关闭 DBHandler 并 flush 剩余日志, 恢复挂载前的日志器。
func ShutdownDBHandler() {
	attachMu.Lock()
	defer attachMu.Unlock()

	if h := dbHandler.Swap(nil); h != nil {
		h.Shutdown()
	}
	if orig := baseLog.Swap(nil); orig != nil {
		storeLogger(orig)
	}
}
