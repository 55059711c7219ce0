// archive.go — 归档存储接口与后端选择。
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/database"
	"github.com/weitek/telegram-channel-meaning/internal/model"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// Archive 归档存储。Lookup/Upsert 同时满足补链器的 MessageStore。
type Archive interface {
	// UpsertSender 按 Telegram ID 获取或创建; 非空名字覆盖旧值。返回行 ID。
	UpsertSender(ctx context.Context, s model.Sender) (int64, error)
	// Upsert 按 (telegram_id, channel_id) 插入或更新, 附带发送者。返回行 ID。
	Upsert(ctx context.Context, msg *model.Message) (int64, error)
	// Lookup 未命中返回 (nil, nil)。
	Lookup(ctx context.Context, key model.MessageKey) (*model.Message, error)

	GetMessage(ctx context.Context, id int64) (*model.Message, error)
	ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error)
	ClearMessages(ctx context.Context, f MessageFilter) (int64, error)
	DeleteMessages(ctx context.Context, ids []int64) (int64, error)

	SaveReactionSnapshot(ctx context.Context, messageID int64, count int) error
	ReactionHistory(ctx context.Context, messageID int64) ([]ReactionSnapshot, error)
	ReactionChanges(ctx context.Context, hours int) ([]ReactionChange, error)

	ListSenders(ctx context.Context) ([]SenderStat, error)
	ChannelCounts(ctx context.Context) ([]ChannelCount, error)
	Statistics(ctx context.Context) (Stats, error)

	Backend() string
	Close() error
}

// Open 按 STORE_BACKEND 打开归档库; PG 后端先执行迁移。
func Open(ctx context.Context, cfg *config.Config) (Archive, error) {
	if cfg.UsePostgres() {
		pool, err := database.NewPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool, database.MigrationSource(cfg.MigrationsDir)); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPGArchive(pool), nil
	}
	if cfg.StoreBackend != "" && cfg.StoreBackend != config.BackendSQLite {
		return nil, apperrors.Invalid("store.Open", "unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	db, err := database.OpenSQLite(ctx, cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	logger.Debugw("archive backend selected", logger.FieldBackend, config.BackendSQLite)
	return NewSQLiteArchive(db), nil
}

// PoolOf PG 后端的连接池, 其他后端返回 nil。
func PoolOf(a Archive) *pgxpool.Pool {
	if pg, ok := a.(*PGArchive); ok {
		return pg.Pool()
	}
	return nil
}

// reactionWindowSQL 窗口内最早快照 vs 全局最新快照, 只保留有变化的消息。
// %s 依次为: 时间占位符, 消息列。
const reactionWindowSQL = `WITH newest AS (
	SELECT message_id, reactions_count FROM (
		SELECT message_id, reactions_count,
			ROW_NUMBER() OVER (PARTITION BY message_id ORDER BY checked_at DESC, id DESC) AS rn
		FROM reactions_history
	) t WHERE rn = 1
), oldest AS (
	SELECT message_id, reactions_count FROM (
		SELECT message_id, reactions_count,
			ROW_NUMBER() OVER (PARTITION BY message_id ORDER BY checked_at ASC, id ASC) AS rn
		FROM reactions_history WHERE checked_at >= %s
	) t WHERE rn = 1
)
SELECT %s,
	o.reactions_count AS old_reactions,
	n.reactions_count AS new_reactions,
	n.reactions_count - o.reactions_count AS reactions_change
FROM messages m
JOIN newest n ON n.message_id = m.id
JOIN oldest o ON o.message_id = m.id
LEFT JOIN senders s ON s.id = m.sender_id
WHERE n.reactions_count <> o.reactions_count
ORDER BY reactions_change DESC, m.id ASC`

// defaultReactionHours ReactionChanges 的默认窗口。
const defaultReactionHours = 24
