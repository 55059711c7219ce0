// helpers.go — Store 层通用工具。
//
// 两个归档后端共享的查询模式:
//   - QueryBuilder: 动态 WHERE + LIKE 关键词搜索 + 分页 (按方言生成占位符)
//   - collectRows:  pgx row → Go struct 泛型扫描
//   - DistinctValues: 去重列值 (筛选器下拉)
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

// 列表查询上限。
const (
	defaultListLimit = 500
	maxListLimit     = 10000
)

// BaseStore PG store 的嵌入基底，持有连接池。
type BaseStore struct{ pool *pgxpool.Pool }

// NewBaseStore 创建 BaseStore。
func NewBaseStore(pool *pgxpool.Pool) BaseStore { return BaseStore{pool: pool} }

// Pool 返回连接池 (供子 store 使用)。
func (b BaseStore) Pool() *pgxpool.Pool { return b.pool }

// ========================================
// 方言
// ========================================

// dialect SQL 方言差异: 占位符、LIKE 转义、时间参数编码。
type dialect struct {
	name        string
	placeholder func(n int) string
	likeEscape  string
	timeArg     func(t time.Time) any
}

var pgDialect = dialect{
	name:        "postgres",
	placeholder: func(n int) string { return "$" + strconv.Itoa(n) },
	likeEscape:  `ESCAPE E'\\'`,
	timeArg:     func(t time.Time) any { return t.UTC() },
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	likeEscape:  `ESCAPE '\'`,
	timeArg:     func(t time.Time) any { return formatSQLiteTime(t) },
}

// ========================================
// QueryBuilder — 动态 WHERE 子句构造
// ========================================

// QueryBuilder 渐进式 SQL WHERE 拼接器。
type QueryBuilder struct {
	d      dialect
	where  []string
	params []any
	n      int // 参数计数器
}

// NewQueryBuilder 创建 PostgreSQL ($1, $2, ...) 构造器。
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{d: pgDialect}
}

// NewSQLiteQueryBuilder 创建 SQLite (?) 构造器。
func NewSQLiteQueryBuilder() *QueryBuilder {
	return &QueryBuilder{d: sqliteDialect}
}

func (q *QueryBuilder) next(v any) string {
	q.n++
	q.params = append(q.params, v)
	return q.d.placeholder(q.n)
}

// Eq 添加等值条件。空值跳过。
func (q *QueryBuilder) Eq(col, val string) *QueryBuilder {
	if val == "" {
		return q
	}
	q.where = append(q.where, fmt.Sprintf("%s = %s", col, q.next(val)))
	return q
}

// EqInt64 添加整型等值条件。0 跳过 (频道/消息 ID 不会为 0)。
func (q *QueryBuilder) EqInt64(col string, val int64) *QueryBuilder {
	if val == 0 {
		return q
	}
	q.where = append(q.where, fmt.Sprintf("%s = %s", col, q.next(val)))
	return q
}

// Since 添加 col >= t。零值跳过。
func (q *QueryBuilder) Since(col string, t time.Time) *QueryBuilder {
	if t.IsZero() {
		return q
	}
	q.where = append(q.where, fmt.Sprintf("%s >= %s", col, q.next(q.d.timeArg(t))))
	return q
}

// Until 添加 col <= t。零值跳过。
func (q *QueryBuilder) Until(col string, t time.Time) *QueryBuilder {
	if t.IsZero() {
		return q
	}
	q.where = append(q.where, fmt.Sprintf("%s <= %s", col, q.next(q.d.timeArg(t))))
	return q
}

// KeywordLike 添加多列 LIKE 关键词搜索。
func (q *QueryBuilder) KeywordLike(keyword string, cols ...string) *QueryBuilder {
	if keyword == "" || len(cols) == 0 {
		return q
	}
	kw := "%" + util.EscapeLike(strings.ToLower(keyword)) + "%"
	parts := make([]string, 0, len(cols))
	for _, c := range cols {
		parts = append(parts, fmt.Sprintf("LOWER(%s) LIKE %s %s", c, q.next(kw), q.d.likeEscape))
	}
	q.where = append(q.where, "("+strings.Join(parts, " OR ")+")")
	return q
}

// Build 构建完整 SQL: baseSql + WHERE + ORDER BY + LIMIT/OFFSET。
// limit <= 0 使用默认值。
func (q *QueryBuilder) Build(baseSql, orderBy string, limit, offset int) (string, []any) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = util.ClampInt(limit, 1, maxListLimit)
	sql := baseSql + q.WhereClause()
	if orderBy != "" {
		sql += " ORDER BY " + orderBy
	}
	sql += " LIMIT " + q.next(limit)
	if offset > 0 {
		sql += " OFFSET " + q.next(offset)
	}
	return sql, q.params
}

// Params 返回当前参数列表 (用于 DELETE 等非 Build 场景)。
func (q *QueryBuilder) Params() []any {
	return q.params
}

// WhereClause 仅返回 WHERE 子句 (含前导 " WHERE ")，空条件返回空字符串。
func (q *QueryBuilder) WhereClause() string {
	if len(q.where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(q.where, " AND ")
}

// ========================================
// collectRows — 泛型行扫描
// ========================================

// collectRows 使用 pgx.CollectRows + RowToStructByName 扫描行到 struct slice。
func collectRows[T any](rows pgx.Rows) ([]T, error) {
	return pgx.CollectRows(rows, pgx.RowToStructByName[T])
}

// collectOne 扫描单行，无结果返回 nil。
func collectOne[T any](rows pgx.Rows) (*T, error) {
	items, err := pgx.CollectRows(rows, pgx.RowToStructByName[T])
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// ========================================
// DistinctValues — 筛选器下拉值
// ========================================

// DistinctValues 查询表中指定列的去重值 (筛选 UI 用)。
func DistinctValues(ctx context.Context, pool *pgxpool.Pool, table, column string) ([]string, error) {
	safeTable := pgx.Identifier{table}.Sanitize()
	safeCol := pgx.Identifier{column}.Sanitize()
	sql := fmt.Sprintf(
		"SELECT DISTINCT %s AS value FROM %s WHERE %s <> '' ORDER BY value",
		safeCol, safeTable, safeCol,
	)
	rows, err := pool.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DistinctMap 批量查询多列去重值。
func DistinctMap(ctx context.Context, pool *pgxpool.Pool, table string, columns ...string) (map[string][]string, error) {
	result := make(map[string][]string, len(columns))
	for _, col := range columns {
		vals, err := DistinctValues(ctx, pool, table, col)
		if err != nil {
			return nil, err
		}
		result[col] = vals
	}
	return result, nil
}
