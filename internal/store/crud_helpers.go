// crud_helpers.go — PG 批量删除辅助: 表名/列名经 pgx.Identifier 转义。
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// deleteChunk 单条 DELETE 语句最多携带的 ID 数。
const deleteChunk = 5000

// execer 由 *pgxpool.Pool 与 pgx.Tx 共同满足。
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// deleteByIDs 按 keyCol 批量删除, 超过 deleteChunk 时分段执行, 返回累计删除行数。
func deleteByIDs(ctx context.Context, db execer, table, keyCol string, ids []int64) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1::bigint[])",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{keyCol}.Sanitize())

	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		tag, err := db.Exec(ctx, sql, ids[start:end])
		if err != nil {
			return total, err
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// deleteOlderThan 删除 tsCol 早于 days 天的行。
func deleteOlderThan(ctx context.Context, db execer, table, tsCol string, days int) (int64, error) {
	sql := fmt.Sprintf("DELETE FROM %s WHERE %s < NOW() - make_interval(days => $1)",
		pgx.Identifier{table}.Sanitize(),
		pgx.Identifier{tsCol}.Sanitize())
	tag, err := db.Exec(ctx, sql, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
