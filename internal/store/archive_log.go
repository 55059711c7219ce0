// archive_log.go — 归档日志查询与清理 (表 archive_logs, 由 logger.DBHandler 写入)。
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

// ArchiveLogStore 归档日志存储 (仅 PG 后端)。
type ArchiveLogStore struct{ BaseStore }

// NewArchiveLogStore 创建归档日志存储。
func NewArchiveLogStore(pool *pgxpool.Pool) *ArchiveLogStore {
	return &ArchiveLogStore{NewBaseStore(pool)}
}

const archiveLogCols = `id, ts, level, message, component, source, run_id, channel_id, duration_ms, extra`

// LogListParams 日志查询参数。
type LogListParams struct {
	Level     string
	Component string
	Source    string
	RunID     string
	ChannelID int64
	Keyword   string
	Limit     int
}

// List 查询归档日志, 新的在前。
func (s *ArchiveLogStore) List(ctx context.Context, p LogListParams) ([]ArchiveLog, error) {
	const op = "store.ListLogs"
	if s == nil || s.pool == nil {
		return nil, apperrors.New(op, "pool is required")
	}
	q := NewQueryBuilder().
		Eq("level", p.Level).
		Eq("component", p.Component).
		Eq("source", p.Source).
		Eq("run_id", p.RunID).
		EqInt64("channel_id", p.ChannelID).
		KeywordLike(p.Keyword, "message", "component", "source")
	sql, params := q.Build("SELECT "+archiveLogCols+" FROM archive_logs", "ts DESC, id DESC", p.Limit, 0)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query logs")
	}
	items, err := collectRows[ArchiveLog](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan logs")
	}
	return items, nil
}

// FilterValues 返回去重筛选值 (level / component / source)。
func (s *ArchiveLogStore) FilterValues(ctx context.Context) (map[string][]string, error) {
	if s == nil || s.pool == nil {
		return nil, apperrors.New("store.LogFilterValues", "pool is required")
	}
	vals, err := DistinctMap(ctx, s.pool, "archive_logs", "level", "component", "source")
	return vals, apperrors.StoreFailure(err, "store.LogFilterValues", "distinct values")
}

// Cleanup 删除超过 retentionDays 天的日志，返回删除行数。
func (s *ArchiveLogStore) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, apperrors.New("store.CleanupLogs", "pool is required")
	}
	if retentionDays <= 0 {
		retentionDays = 30
	}
	n, err := deleteOlderThan(ctx, s.pool, "archive_logs", "ts", retentionDays)
	if err != nil {
		return 0, apperrors.StoreFailure(err, "store.CleanupLogs", "delete old logs")
	}
	return n, nil
}
