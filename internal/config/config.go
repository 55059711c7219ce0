// Package config 全局配置加载与管理。
//
// 进程级配置通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充。用户设置 (频道列表、排序、批量参数) 见 settings.go。
package config

import (
	"strings"
	"time"
	_ "time/tzdata" // TIMEZONE 在无系统时区库的镜像中也可解析

	"github.com/weitek/telegram-channel-meaning/pkg/logger"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

// 存储后端。
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 运行环境
	AppEnv   string `env:"APP_ENV" default:"production"`
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogDir   string `env:"LOG_DIR"`
	Timezone string `env:"TIMEZONE" default:"UTC"`

	// 用户设置文件 (config.json / config.yaml)
	SettingsFile string `env:"CONFIG_FILE" default:"config.json"`

	// 存储
	StoreBackend string `env:"STORE_BACKEND" default:"sqlite"`
	SQLitePath   string `env:"SQLITE_PATH" default:"data/messages.db"`

	// PostgreSQL
	PostgresConnStr        string `env:"POSTGRES_CONNECTION_STRING"`
	PostgresSchema         string `env:"POSTGRES_SCHEMA" default:"public"`
	PostgresPoolMinSize    int    `env:"POSTGRES_POOL_MIN_SIZE" default:"1" min:"1"`
	PostgresPoolMaxSize    int    `env:"POSTGRES_POOL_MAX_SIZE" default:"10" min:"1"`
	PostgresPoolTimeoutSec int    `env:"POSTGRES_POOL_TIMEOUT_SEC" default:"10" min:"1"`
	MigrationsDir          string `env:"MIGRATIONS_DIR"` // 空 = 使用内嵌迁移

	// Telegram 网关 (MTProto sidecar, JSON-RPC over WebSocket)
	TGGatewayURL        string `env:"TG_GATEWAY_URL" default:"ws://127.0.0.1:4600/rpc"`
	TGGatewayCmd        string `env:"TG_GATEWAY_CMD"`
	TGGatewayTimeoutSec int    `env:"TG_GATEWAY_TIMEOUT_SEC" default:"30" min:"1"`
	TGGatewayMaxRetries int    `env:"TG_GATEWAY_MAX_RETRIES" default:"2" min:"0"`

	// 补链
	ExpandParallelism int `env:"EXPAND_PARALLELISM" default:"1" min:"1"`
	ExpandMaxLookups  int `env:"EXPAND_MAX_LOOKUPS" default:"0" min:"0"`

	// Dashboard
	DashboardPort       int `env:"DASHBOARD_PORT" default:"8090" min:"1"`
	DashboardSSEPingSec int `env:"DASHBOARD_SSE_PING_SEC" default:"15" min:"1"`
	DashboardQueryLimit int `env:"DASHBOARD_QUERY_LIMIT" default:"500" min:"1"`

	// 巡检 (仅 dashboard 进程): 定期刷新反应快照; 0 = 关闭
	PatrolIntervalSec int `env:"PATROL_INTERVAL_SEC" default:"0" min:"0"`
	PatrolWindowSec   int `env:"PATROL_WINDOW_SEC" default:"86400" min:"60"`
	LogRetentionDays  int `env:"LOG_RETENTION_DAYS" default:"30" min:"1"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))
	return &cfg
}

// Location 返回 TIMEZONE 对应的时区, 无法识别时回退 UTC。
func (c *Config) Location() *time.Location {
	name := strings.TrimSpace(c.Timezone)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.Warn("config: unknown TIMEZONE, falling back to UTC",
			logger.FieldName, name, logger.FieldError, err)
		return time.UTC
	}
	return loc
}

// UsePostgres 是否使用 PostgreSQL 存储后端。
func (c *Config) UsePostgres() bool {
	return c.StoreBackend == BackendPostgres
}

// GatewayTimeout 单次网关调用超时。
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.TGGatewayTimeoutSec) * time.Second
}
