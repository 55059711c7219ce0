// cmd/server — 归档 Dashboard: 只读 API + 后台拉取 + SSE 事件流。
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	"github.com/weitek/telegram-channel-meaning/internal/bus"
	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/dashboard"
	"github.com/weitek/telegram-channel-meaning/internal/monitor"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/internal/telegram"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))
	logger.SetLocation(cfg.Location())
	if cfg.LogDir != "" {
		if err := logger.InitWithFile(cfg.LogDir); err != nil {
			logger.Warn("log file disabled", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	st, err := store.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", logger.FieldError, err)
	}
	defer st.Close()

	var logs *store.ArchiveLogStore
	if pool := store.PoolOf(st); pool != nil {
		logger.AttachDBHandler(pool)
		defer logger.ShutdownDBHandler()
		logs = store.NewArchiveLogStore(pool)
	}

	settings, err := config.LoadSettings(cfg.SettingsFile)
	if err != nil {
		logger.Fatal("settings load failed", logger.FieldPath, cfg.SettingsFile, logger.FieldError, err)
	}

	sidecar, err := telegram.StartSidecar(ctx, cfg.TGGatewayCmd, cfg.TGGatewayURL)
	if err != nil {
		logger.Fatal("gateway sidecar failed", logger.FieldError, err)
	}
	defer func() {
		if err := sidecar.Stop(); err != nil {
			logger.Warn("gateway sidecar stop", logger.FieldError, err)
		}
	}()
	client := telegram.New(telegram.OptionsFromConfig(cfg))
	defer client.Close()

	events := bus.NewMessageBus()
	if logger.IsDevelopment(cfg.AppEnv) {
		events.LogEvents()
	}
	svc := archive.NewService(st, client, archive.Options{
		Bus: events,
		Expand: threading.ExpanderOptions{
			Parallelism:        cfg.ExpandParallelism,
			MaxLookupsPerScope: cfg.ExpandMaxLookups,
		},
	})

	opts := dashboard.OptionsFromConfig(cfg)
	opts.Bus = events
	opts.Settings = settings
	opts.Logs = logs
	srv := dashboard.NewServer(svc, opts)

	var cleaner monitor.LogCleaner
	if logs != nil {
		cleaner = logs
	}
	monitor.NewPatrol(svc, settings, cleaner, monitor.Options{
		Interval:      time.Duration(cfg.PatrolIntervalSec) * time.Second,
		Window:        time.Duration(cfg.PatrolWindowSec) * time.Second,
		RetentionDays: cfg.LogRetentionDays,
	}).Start(ctx)

	addr := fmt.Sprintf(":%d", cfg.DashboardPort)
	logger.Infow("dashboard starting", logger.FieldAddr, addr, logger.FieldBackend, st.Backend())
	if err := srv.Run(ctx, addr); err != nil {
		logger.Fatal("server failed", logger.FieldError, err)
	}
}
