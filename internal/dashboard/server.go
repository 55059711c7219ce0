// Package dashboard 归档只读 HTTP API + SSE 事件流 (gin)。
package dashboard

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	"github.com/weitek/telegram-channel-meaning/internal/bus"
	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

const (
	defaultQueryLimit = 500
	defaultSSEPing    = 15 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Options 服务参数。零值字段使用默认值。
type Options struct {
	Bus        *bus.MessageBus
	Settings   *config.SettingsFile  // 可为 nil: 拉取时必须显式给出频道
	Logs       *store.ArchiveLogStore // 可为 nil: /api/logs 返回 404
	QueryLimit int
	SSEPing    time.Duration
	Location   *time.Location
	Debug      bool
}

// OptionsFromConfig 从全局配置构造 (Bus/Settings/Logs 由调用方补齐)。
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		QueryLimit: cfg.DashboardQueryLimit,
		SSEPing:    time.Duration(cfg.DashboardSSEPingSec) * time.Second,
		Location:   cfg.Location(),
		Debug:      logger.IsDevelopment(cfg.AppEnv),
	}
}

// Server Dashboard HTTP 服务。
type Server struct {
	router *gin.Engine
	svc    *archive.Service
	opts   Options

	// runCtx 后台拉取任务的父 context, Shutdown 时取消。
	runCtx    context.Context
	runCancel context.CancelFunc
}

// NewServer 创建服务。
func NewServer(svc *archive.Service, opts Options) *Server {
	if opts.QueryLimit <= 0 {
		opts.QueryLimit = defaultQueryLimit
	}
	if opts.SSEPing <= 0 {
		opts.SSEPing = defaultSSEPing
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{router: r, svc: svc, opts: opts, runCtx: ctx, runCancel: cancel}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎。
func (s *Server) Engine() *gin.Engine { return s.router }

// Run 监听 addr 直到 ctx 结束, 然后优雅关闭。
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("dashboard: listening", logger.FieldAddr, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.runCancel()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("dashboard: stopped")
	return nil
}

// requestLogger 结构化访问日志。
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debugw("dashboard: request",
			logger.FieldMethod, c.Request.Method,
			logger.FieldPath, c.Request.URL.Path,
			logger.FieldStatus, c.Writer.Status(),
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	}
}
