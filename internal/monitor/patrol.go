// Package monitor 定期巡检: 刷新已选频道最近一段时间的反应快照, 并清理过期归档日志。
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	"github.com/weitek/telegram-channel-meaning/internal/bus"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

const (
	defaultWindow        = 24 * time.Hour
	defaultRetentionDays = 30
	cleanupEvery         = 24 * time.Hour
)

// Fetcher 巡检使用的拉取接口 (archive.Service)。
type Fetcher interface {
	Fetch(ctx context.Context, req archive.FetchRequest) (*archive.FetchResult, error)
	Runs() *bus.RunTracker
}

// LogCleaner 日志清理接口 (store.ArchiveLogStore), 可为 nil。
type LogCleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// ChannelSource 当前已选频道 (config.SettingsFile)。
type ChannelSource interface {
	SelectedChannels() []int64
}

// Options 巡检参数。Interval <= 0 时 Start 不启动。
type Options struct {
	Interval      time.Duration
	Window        time.Duration
	RetentionDays int
}

// PatrolResult 一次巡检的结果。
type PatrolResult struct {
	Ts          time.Time `json:"ts"`
	Skipped     string    `json:"skipped,omitempty"` // 跳过原因
	RunID       string    `json:"run_id,omitempty"`
	Channels    int       `json:"channels"`
	Fetched     int       `json:"fetched"`
	LogsDeleted int64     `json:"logs_deleted"`
	Error       string    `json:"error,omitempty"`
}

// Patrol 反应巡检器。
type Patrol struct {
	fetcher  Fetcher
	channels ChannelSource
	logs     LogCleaner
	opts     Options

	mu          sync.Mutex
	lastCleanup time.Time
	now         func() time.Time
}

// NewPatrol 创建巡检器。
func NewPatrol(f Fetcher, channels ChannelSource, logs LogCleaner, opts Options) *Patrol {
	if opts.Window <= 0 {
		opts.Window = defaultWindow
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = defaultRetentionDays
	}
	return &Patrol{fetcher: f, channels: channels, logs: logs, opts: opts, now: time.Now}
}

// RunOnce 执行一次巡检。已有拉取在运行或没有已选频道时跳过拉取。
func (p *Patrol) RunOnce(ctx context.Context) *PatrolResult {
	now := p.now()
	res := &PatrolResult{Ts: now}
	res.LogsDeleted = p.cleanupLogs(ctx, now)

	channels := p.channels.SelectedChannels()
	res.Channels = len(channels)
	switch {
	case len(channels) == 0:
		res.Skipped = "no channels selected"
		return res
	case p.fetcher.Runs().Snapshot().Running:
		res.Skipped = "fetch already running"
		return res
	}

	out, err := p.fetcher.Fetch(ctx, archive.FetchRequest{
		Channels:       channels,
		From:           now.Add(-p.opts.Window).UTC(),
		To:             now.UTC(),
		TrackReactions: true,
		Source:         "patrol",
	})
	if out != nil {
		res.RunID = out.RunID
		res.Fetched = len(out.Messages)
	}
	if err != nil {
		res.Error = err.Error()
		logger.Warn("patrol: fetch failed", logger.FieldRunID, res.RunID, logger.FieldError, err)
	}
	return res
}

// cleanupLogs 每天最多清理一次。
func (p *Patrol) cleanupLogs(ctx context.Context, now time.Time) int64 {
	if p.logs == nil {
		return 0
	}
	p.mu.Lock()
	due := p.lastCleanup.IsZero() || now.Sub(p.lastCleanup) >= cleanupEvery
	if due {
		p.lastCleanup = now
	}
	p.mu.Unlock()
	if !due {
		return 0
	}
	n, err := p.logs.Cleanup(ctx, p.opts.RetentionDays)
	if err != nil {
		logger.Warn("patrol: log cleanup failed", logger.FieldError, err)
		return 0
	}
	if n > 0 {
		logger.Info("patrol: archive logs cleaned", logger.FieldCount, n)
	}
	return n
}

// Start 启动定期巡检 (goroutine + ticker)。Interval <= 0 时不启动。
func (p *Patrol) Start(ctx context.Context) {
	if p.opts.Interval <= 0 {
		return
	}
	util.SafeGo("monitor.patrol", func() {
		ticker := time.NewTicker(p.opts.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.RunOnce(ctx)
			}
		}
	})
	logger.Infow("patrol started", "interval_sec", int(p.opts.Interval.Seconds()), "window_sec", int(p.opts.Window.Seconds()))
}
