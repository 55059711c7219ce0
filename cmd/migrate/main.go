// cmd/migrate — 对 PostgreSQL 归档库执行迁移 (MIGRATIONS_DIR 或内嵌脚本)。
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/database"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.AppEnv)
	logger.SetLevel(logger.ParseLevel(cfg.LogLevel))

	if !cfg.UsePostgres() {
		logger.Info("STORE_BACKEND is not postgres; the SQLite schema is applied when the archive opens",
			logger.FieldBackend, cfg.StoreBackend)
		return
	}

	pool, err := database.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("database init failed", logger.FieldError, err)
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, database.MigrationSource(cfg.MigrationsDir)); err != nil {
		logger.Fatal("migration failed", logger.FieldError, err)
	}
	logger.Info("migration complete")
}
