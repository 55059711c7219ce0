// sqlite_archive.go — SQLite 归档后端 (modernc.org/sqlite, database/sql)。
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/model"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

// SQLiteArchive 本地文件归档存储。
type SQLiteArchive struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteArchive 包装已打开并完成迁移的 *sql.DB (见 database.OpenSQLite)。
func NewSQLiteArchive(db *sql.DB) *SQLiteArchive {
	return &SQLiteArchive{db: db, now: time.Now}
}

// Backend 实现 Archive。
func (s *SQLiteArchive) Backend() string { return config.BackendSQLite }

// Close 关闭数据库。
func (s *SQLiteArchive) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteArchive) ready(op string) error {
	if s == nil || s.db == nil {
		return apperrors.New(op, "db is required")
	}
	return nil
}

// sqlExecer *sql.DB 与 *sql.Tx 的公共子集。
type sqlExecer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sqliteUpsertSenderSQL = `INSERT INTO senders (telegram_id, first_name, last_name, username, first_seen)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (telegram_id) DO UPDATE SET
		first_name = COALESCE(excluded.first_name, senders.first_name),
		last_name  = COALESCE(excluded.last_name, senders.last_name),
		username   = COALESCE(excluded.username, senders.username)
	RETURNING id`

func (s *SQLiteArchive) upsertSender(ctx context.Context, q sqlExecer, sd model.Sender) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, sqliteUpsertSenderSQL,
		sd.ID, nullIfEmpty(sd.FirstName), nullIfEmpty(sd.LastName), nullIfEmpty(sd.Username),
		formatSQLiteTime(s.now()),
	).Scan(&id)
	return id, err
}

// UpsertSender 实现 Archive。
func (s *SQLiteArchive) UpsertSender(ctx context.Context, sd model.Sender) (int64, error) {
	const op = "store.UpsertSender"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if sd.ID == 0 {
		return 0, apperrors.Invalid(op, "sender telegram id is required")
	}
	id, err := s.upsertSender(ctx, s.db, sd)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "upsert sender")
	}
	return id, nil
}

const sqliteUpsertMessageSQL = `INSERT INTO messages
		(telegram_id, channel_id, sender_id, content, date, reply_to_msg_id,
		 reactions_count, views, forwards, has_media, raw_json, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (telegram_id, channel_id) DO UPDATE SET
		sender_id       = excluded.sender_id,
		content         = excluded.content,
		date            = excluded.date,
		reply_to_msg_id = excluded.reply_to_msg_id,
		reactions_count = excluded.reactions_count,
		views           = excluded.views,
		forwards        = excluded.forwards,
		has_media       = excluded.has_media,
		raw_json        = excluded.raw_json,
		fetched_at      = excluded.fetched_at
	RETURNING id`

// Upsert 实现 Archive: 发送者与消息在同一事务内写入。
func (s *SQLiteArchive) Upsert(ctx context.Context, msg *model.Message) (int64, error) {
	const op = "store.Upsert"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if err := validateMessage(op, msg); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var senderID *int64
	if msg.Sender != nil && msg.Sender.ID != 0 {
		id, err := s.upsertSender(ctx, tx, *msg.Sender)
		if err != nil {
			return 0, apperrors.StoreFailure(err, op, "upsert sender")
		}
		senderID = &id
	}

	var date *string
	if !msg.Date.IsZero() {
		v := formatSQLiteTime(msg.Date)
		date = &v
	}

	var id int64
	err = tx.QueryRowContext(ctx, sqliteUpsertMessageSQL,
		msg.TelegramID, msg.ChannelID, senderID, msg.Content, date, replyTo(msg),
		msg.ReactionsCount, msg.Views, msg.Forwards, msg.HasMedia, msg.RawJSON,
		formatSQLiteTime(s.now()),
	).Scan(&id)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "upsert message")
	}
	if err := tx.Commit(); err != nil {
		return 0, apperrors.StoreFailure(err, op, "commit")
	}
	msg.StoreID = id
	return id, nil
}

// scanner *sql.Row 与 *sql.Rows 的公共子集。
type scanner interface {
	Scan(dest ...any) error
}

// scanMessageRow 按 messageCols 顺序扫描; 时间列为文本。
func scanMessageRow(sc scanner, extra ...any) (MessageRow, error) {
	var (
		r         MessageRow
		date      sql.NullString
		fetchedAt sql.NullString
	)
	dest := []any{
		&r.ID, &r.TelegramID, &r.ChannelID, &r.Content, &date, &r.ReplyToMsgID,
		&r.ReactionsCount, &r.Views, &r.Forwards, &r.HasMedia, &r.RawJSON, &fetchedAt,
		&r.SenderTelegramID, &r.SenderFirstName, &r.SenderLastName, &r.SenderUsername,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return r, err
	}
	var err error
	if r.Date, err = nullTime(date); err != nil {
		return r, fmt.Errorf("parse date: %w", err)
	}
	if t, err := nullTime(fetchedAt); err != nil {
		return r, fmt.Errorf("parse fetched_at: %w", err)
	} else if t != nil {
		r.FetchedAt = *t
	}
	return r, nil
}

func (s *SQLiteArchive) queryMessages(ctx context.Context, query string, args ...any) ([]MessageRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageRow
	for rows.Next() {
		r, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteArchive) queryOne(ctx context.Context, op, where string, args ...any) (*model.Message, error) {
	r, err := scanMessageRow(s.db.QueryRowContext(ctx, "SELECT "+messageCols+messageFrom+" WHERE "+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query message")
	}
	msg := r.ToModel()
	return &msg, nil
}

// Lookup 实现 Archive。
func (s *SQLiteArchive) Lookup(ctx context.Context, key model.MessageKey) (*model.Message, error) {
	const op = "store.Lookup"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	return s.queryOne(ctx, op, "m.telegram_id = ? AND m.channel_id = ?", key.TelegramID, key.ChannelID)
}

// GetMessage 按行 ID 读取, 不存在返回 ErrNotFound。
func (s *SQLiteArchive) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	const op = "store.GetMessage"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	msg, err := s.queryOne(ctx, op, "m.id = ?", id)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, notFound(op, id)
	}
	return msg, nil
}

func sqliteMessageFilter(f MessageFilter, prefix string) *QueryBuilder {
	return NewSQLiteQueryBuilder().
		EqInt64(prefix+"channel_id", f.ChannelID).
		Since(prefix+"date", f.From).
		Until(prefix+"date", f.To).
		KeywordLike(f.Query, prefix+"content")
}

// ListMessages 按条件列出消息, 新消息在前 (无时间的排最后)。
func (s *SQLiteArchive) ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error) {
	const op = "store.ListMessages"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	query, params := sqliteMessageFilter(f, "m.").Build("SELECT "+messageCols+messageFrom,
		"m.date IS NULL, m.date DESC, m.id DESC", f.Limit, f.Offset)
	rows, err := s.queryMessages(ctx, query, params...)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query messages")
	}
	return rowsToModels(rows), nil
}

// ClearMessages 按条件删除 (忽略 Limit/Offset), 返回删除行数。
func (s *SQLiteArchive) ClearMessages(ctx context.Context, f MessageFilter) (int64, error) {
	const op = "store.ClearMessages"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	q := sqliteMessageFilter(f, "")
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages"+q.WhereClause(), q.Params()...)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "delete messages")
	}
	n, err := res.RowsAffected()
	return n, apperrors.StoreFailure(err, op, "rows affected")
}

// DeleteMessages 按行 ID 批量删除。
func (s *SQLiteArchive) DeleteMessages(ctx context.Context, ids []int64) (int64, error) {
	const op = "store.DeleteMessages"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "delete messages")
	}
	n, err := res.RowsAffected()
	return n, apperrors.StoreFailure(err, op, "rows affected")
}

// SaveReactionSnapshot 记录一次反应数快照。
func (s *SQLiteArchive) SaveReactionSnapshot(ctx context.Context, messageID int64, count int) error {
	return s.saveReactionSnapshotAt(ctx, messageID, count, s.now())
}

func (s *SQLiteArchive) saveReactionSnapshotAt(ctx context.Context, messageID int64, count int, at time.Time) error {
	const op = "store.SaveReactionSnapshot"
	if err := s.ready(op); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reactions_history (message_id, reactions_count, checked_at) VALUES (?, ?, ?)`,
		messageID, count, formatSQLiteTime(at))
	return apperrors.StoreFailure(err, op, "insert snapshot")
}

// ReactionHistory 单条消息的快照, 新的在前。
func (s *SQLiteArchive) ReactionHistory(ctx context.Context, messageID int64) ([]ReactionSnapshot, error) {
	const op = "store.ReactionHistory"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message_id, reactions_count, checked_at FROM reactions_history
		 WHERE message_id = ? ORDER BY checked_at DESC, id DESC`, messageID)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query history")
	}
	defer rows.Close()

	var out []ReactionSnapshot
	for rows.Next() {
		var (
			snap ReactionSnapshot
			at   string
		)
		if err := rows.Scan(&snap.ID, &snap.MessageID, &snap.ReactionsCount, &at); err != nil {
			return nil, apperrors.StoreFailure(err, op, "scan history")
		}
		if snap.CheckedAt, err = parseSQLiteTime(at); err != nil {
			return nil, apperrors.StoreFailure(err, op, "parse checked_at")
		}
		out = append(out, snap)
	}
	return out, apperrors.StoreFailure(rows.Err(), op, "iterate history")
}

// ReactionChanges 最近 hours 小时内反应数有变化的消息, 变化大的在前。
func (s *SQLiteArchive) ReactionChanges(ctx context.Context, hours int) ([]ReactionChange, error) {
	if hours <= 0 {
		hours = defaultReactionHours
	}
	return s.reactionChangesSince(ctx, s.now().Add(-time.Duration(hours)*time.Hour))
}

func (s *SQLiteArchive) reactionChangesSince(ctx context.Context, since time.Time) ([]ReactionChange, error) {
	const op = "store.ReactionChanges"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(reactionWindowSQL, "?", messageCols), formatSQLiteTime(since))
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query changes")
	}
	defer rows.Close()

	var out []ReactionChange
	for rows.Next() {
		var row ReactionChangeRow
		row.MessageRow, err = scanMessageRow(rows, &row.OldReactions, &row.NewReactions, &row.ReactionsChange)
		if err != nil {
			return nil, apperrors.StoreFailure(err, op, "scan changes")
		}
		out = append(out, row.toChange())
	}
	return out, apperrors.StoreFailure(rows.Err(), op, "iterate changes")
}

// ListSenders 发送者及消息数, 消息多的在前。
func (s *SQLiteArchive) ListSenders(ctx context.Context) ([]SenderStat, error) {
	const op = "store.ListSenders"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT s.id, s.telegram_id, s.first_name, s.last_name, s.username,
			s.first_seen, COUNT(m.id) AS message_count
		FROM senders s LEFT JOIN messages m ON m.sender_id = s.id
		GROUP BY s.id
		ORDER BY message_count DESC, s.id ASC`)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query senders")
	}
	defer rows.Close()

	var out []SenderStat
	for rows.Next() {
		var (
			st        SenderStat
			firstSeen string
		)
		if err := rows.Scan(&st.ID, &st.TelegramID, &st.FirstName, &st.LastName, &st.Username,
			&firstSeen, &st.MessageCount); err != nil {
			return nil, apperrors.StoreFailure(err, op, "scan senders")
		}
		if st.FirstSeen, err = parseSQLiteTime(firstSeen); err != nil {
			return nil, apperrors.StoreFailure(err, op, "parse first_seen")
		}
		out = append(out, st)
	}
	return out, apperrors.StoreFailure(rows.Err(), op, "iterate senders")
}

// ChannelCounts 按频道统计消息数。
func (s *SQLiteArchive) ChannelCounts(ctx context.Context) ([]ChannelCount, error) {
	const op = "store.ChannelCounts"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, COUNT(*) AS message_count,
			MIN(date) AS first_message, MAX(date) AS last_message
		FROM messages GROUP BY channel_id
		ORDER BY message_count DESC, channel_id ASC`)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query channel counts")
	}
	defer rows.Close()

	var out []ChannelCount
	for rows.Next() {
		var (
			c           ChannelCount
			first, last sql.NullString
		)
		if err := rows.Scan(&c.ChannelID, &c.MessageCount, &first, &last); err != nil {
			return nil, apperrors.StoreFailure(err, op, "scan channel counts")
		}
		if c.FirstMessage, err = nullTime(first); err != nil {
			return nil, apperrors.StoreFailure(err, op, "parse first_message")
		}
		if c.LastMessage, err = nullTime(last); err != nil {
			return nil, apperrors.StoreFailure(err, op, "parse last_message")
		}
		out = append(out, c)
	}
	return out, apperrors.StoreFailure(rows.Err(), op, "iterate channel counts")
}

// Statistics 归档总体统计。
func (s *SQLiteArchive) Statistics(ctx context.Context) (Stats, error) {
	const op = "store.Statistics"
	var st Stats
	if err := s.ready(op); err != nil {
		return st, err
	}
	var first, last sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM senders),
			(SELECT COUNT(DISTINCT channel_id) FROM messages),
			(SELECT MIN(date) FROM messages),
			(SELECT MAX(date) FROM messages)`,
	).Scan(&st.TotalMessages, &st.TotalSenders, &st.TotalChannels, &first, &last)
	if err != nil {
		return st, apperrors.StoreFailure(err, op, "query statistics")
	}
	if st.FirstMessageDate, err = nullTime(first); err != nil {
		return st, apperrors.StoreFailure(err, op, "parse first date")
	}
	if st.LastMessageDate, err = nullTime(last); err != nil {
		return st, apperrors.StoreFailure(err, op, "parse last date")
	}
	return st, nil
}
