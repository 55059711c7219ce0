// pg_archive.go — PostgreSQL 归档后端 (pgxpool)。
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/model"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

// PGArchive PostgreSQL 归档存储。
type PGArchive struct{ BaseStore }

// NewPGArchive 创建 PG 归档存储。
func NewPGArchive(pool *pgxpool.Pool) *PGArchive {
	return &PGArchive{NewBaseStore(pool)}
}

// Backend 实现 Archive。
func (s *PGArchive) Backend() string { return config.BackendPostgres }

// Close 关闭连接池。
func (s *PGArchive) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PGArchive) ready(op string) error {
	if s == nil || s.pool == nil {
		return apperrors.New(op, "pool is required")
	}
	return nil
}

// querier pool 与 tx 的公共子集。
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const pgUpsertSenderSQL = `INSERT INTO senders (telegram_id, first_name, last_name, username)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (telegram_id) DO UPDATE SET
		first_name = COALESCE(EXCLUDED.first_name, senders.first_name),
		last_name  = COALESCE(EXCLUDED.last_name, senders.last_name),
		username   = COALESCE(EXCLUDED.username, senders.username)
	RETURNING id`

func pgUpsertSender(ctx context.Context, q querier, sd model.Sender) (int64, error) {
	var id int64
	err := q.QueryRow(ctx, pgUpsertSenderSQL,
		sd.ID, nullIfEmpty(sd.FirstName), nullIfEmpty(sd.LastName), nullIfEmpty(sd.Username),
	).Scan(&id)
	return id, err
}

// UpsertSender 实现 Archive。
func (s *PGArchive) UpsertSender(ctx context.Context, sd model.Sender) (int64, error) {
	const op = "store.UpsertSender"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if sd.ID == 0 {
		return 0, apperrors.Invalid(op, "sender telegram id is required")
	}
	id, err := pgUpsertSender(ctx, s.pool, sd)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "upsert sender")
	}
	return id, nil
}

const pgUpsertMessageSQL = `INSERT INTO messages
		(telegram_id, channel_id, sender_id, content, date, reply_to_msg_id,
		 reactions_count, views, forwards, has_media, raw_json, fetched_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
	ON CONFLICT (telegram_id, channel_id) DO UPDATE SET
		sender_id       = EXCLUDED.sender_id,
		content         = EXCLUDED.content,
		date            = EXCLUDED.date,
		reply_to_msg_id = EXCLUDED.reply_to_msg_id,
		reactions_count = EXCLUDED.reactions_count,
		views           = EXCLUDED.views,
		forwards        = EXCLUDED.forwards,
		has_media       = EXCLUDED.has_media,
		raw_json        = EXCLUDED.raw_json,
		fetched_at      = NOW()
	RETURNING id`

// Upsert 实现 Archive: 发送者与消息在同一事务内写入。
func (s *PGArchive) Upsert(ctx context.Context, msg *model.Message) (int64, error) {
	const op = "store.Upsert"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if err := validateMessage(op, msg); err != nil {
		return 0, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var senderID *int64
	if msg.Sender != nil && msg.Sender.ID != 0 {
		id, err := pgUpsertSender(ctx, tx, *msg.Sender)
		if err != nil {
			return 0, apperrors.StoreFailure(err, op, "upsert sender")
		}
		senderID = &id
	}

	var id int64
	err = tx.QueryRow(ctx, pgUpsertMessageSQL,
		msg.TelegramID, msg.ChannelID, senderID, msg.Content, pgTime(msg.Date), replyTo(msg),
		msg.ReactionsCount, msg.Views, msg.Forwards, msg.HasMedia, msg.RawJSON,
	).Scan(&id)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "upsert message")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, apperrors.StoreFailure(err, op, "commit")
	}
	msg.StoreID = id
	return id, nil
}

// Lookup 实现 Archive。
func (s *PGArchive) Lookup(ctx context.Context, key model.MessageKey) (*model.Message, error) {
	const op = "store.Lookup"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		"SELECT "+messageCols+messageFrom+" WHERE m.telegram_id = $1 AND m.channel_id = $2",
		key.TelegramID, key.ChannelID)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query message")
	}
	row, err := collectOne[MessageRow](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan message")
	}
	if row == nil {
		return nil, nil
	}
	msg := row.ToModel()
	return &msg, nil
}

// GetMessage 按行 ID 读取, 不存在返回 ErrNotFound。
func (s *PGArchive) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	const op = "store.GetMessage"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, "SELECT "+messageCols+messageFrom+" WHERE m.id = $1", id)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query message")
	}
	row, err := collectOne[MessageRow](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan message")
	}
	if row == nil {
		return nil, notFound(op, id)
	}
	msg := row.ToModel()
	return &msg, nil
}

func pgMessageFilter(f MessageFilter) *QueryBuilder {
	return NewQueryBuilder().
		EqInt64("m.channel_id", f.ChannelID).
		Since("m.date", f.From).
		Until("m.date", f.To).
		KeywordLike(f.Query, "m.content")
}

// ListMessages 按条件列出消息, 新消息在前。
func (s *PGArchive) ListMessages(ctx context.Context, f MessageFilter) ([]model.Message, error) {
	const op = "store.ListMessages"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	sql, params := pgMessageFilter(f).Build("SELECT "+messageCols+messageFrom, "m.date DESC NULLS LAST, m.id DESC", f.Limit, f.Offset)
	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query messages")
	}
	items, err := collectRows[MessageRow](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan messages")
	}
	return rowsToModels(items), nil
}

// ClearMessages 按条件删除 (忽略 Limit/Offset), 返回删除行数。
func (s *PGArchive) ClearMessages(ctx context.Context, f MessageFilter) (int64, error) {
	const op = "store.ClearMessages"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	q := NewQueryBuilder().
		EqInt64("channel_id", f.ChannelID).
		Since("date", f.From).
		Until("date", f.To).
		KeywordLike(f.Query, "content")
	tag, err := s.pool.Exec(ctx, "DELETE FROM messages"+q.WhereClause(), q.Params()...)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "delete messages")
	}
	return tag.RowsAffected(), nil
}

// DeleteMessages 按行 ID 批量删除。
func (s *PGArchive) DeleteMessages(ctx context.Context, ids []int64) (int64, error) {
	const op = "store.DeleteMessages"
	if err := s.ready(op); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := deleteByIDs(ctx, s.pool, "messages", "id", ids)
	if err != nil {
		return 0, apperrors.StoreFailure(err, op, "delete messages")
	}
	return n, nil
}

// SaveReactionSnapshot 记录一次反应数快照。
func (s *PGArchive) SaveReactionSnapshot(ctx context.Context, messageID int64, count int) error {
	return s.saveReactionSnapshotAt(ctx, messageID, count, time.Now())
}

func (s *PGArchive) saveReactionSnapshotAt(ctx context.Context, messageID int64, count int, at time.Time) error {
	const op = "store.SaveReactionSnapshot"
	if err := s.ready(op); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO reactions_history (message_id, reactions_count, checked_at) VALUES ($1, $2, $3)`,
		messageID, count, at.UTC())
	return apperrors.StoreFailure(err, op, "insert snapshot")
}

// ReactionHistory 单条消息的快照, 新的在前。
func (s *PGArchive) ReactionHistory(ctx context.Context, messageID int64) ([]ReactionSnapshot, error) {
	const op = "store.ReactionHistory"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, message_id, reactions_count, checked_at FROM reactions_history
		 WHERE message_id = $1 ORDER BY checked_at DESC, id DESC`, messageID)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query history")
	}
	items, err := collectRows[ReactionSnapshot](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan history")
	}
	return items, nil
}

// ReactionChanges 最近 hours 小时内反应数有变化的消息, 变化大的在前。
func (s *PGArchive) ReactionChanges(ctx context.Context, hours int) ([]ReactionChange, error) {
	if hours <= 0 {
		hours = defaultReactionHours
	}
	return s.reactionChangesSince(ctx, time.Now().Add(-time.Duration(hours)*time.Hour))
}

func (s *PGArchive) reactionChangesSince(ctx context.Context, since time.Time) ([]ReactionChange, error) {
	const op = "store.ReactionChanges"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(reactionWindowSQL, "$1", messageCols), since.UTC())
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query changes")
	}
	items, err := collectRows[ReactionChangeRow](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan changes")
	}
	out := make([]ReactionChange, len(items))
	for i, it := range items {
		out[i] = it.toChange()
	}
	return out, nil
}

// ListSenders 发送者及消息数, 消息多的在前。
func (s *PGArchive) ListSenders(ctx context.Context) ([]SenderStat, error) {
	const op = "store.ListSenders"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT s.id, s.telegram_id, s.first_name, s.last_name, s.username,
			s.first_seen, COUNT(m.id) AS message_count
		FROM senders s LEFT JOIN messages m ON m.sender_id = s.id
		GROUP BY s.id
		ORDER BY message_count DESC, s.id ASC`)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query senders")
	}
	items, err := collectRows[SenderStat](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan senders")
	}
	return items, nil
}

// ChannelCounts 按频道统计消息数。
func (s *PGArchive) ChannelCounts(ctx context.Context) ([]ChannelCount, error) {
	const op = "store.ChannelCounts"
	if err := s.ready(op); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `SELECT channel_id, COUNT(*) AS message_count,
			MIN(date) AS first_message, MAX(date) AS last_message
		FROM messages GROUP BY channel_id
		ORDER BY message_count DESC, channel_id ASC`)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "query channel counts")
	}
	items, err := collectRows[ChannelCount](rows)
	if err != nil {
		return nil, apperrors.StoreFailure(err, op, "scan channel counts")
	}
	return items, nil
}

// Statistics 归档总体统计。
func (s *PGArchive) Statistics(ctx context.Context) (Stats, error) {
	const op = "store.Statistics"
	var st Stats
	if err := s.ready(op); err != nil {
		return st, err
	}
	err := s.pool.QueryRow(ctx, `SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM senders),
			(SELECT COUNT(DISTINCT channel_id) FROM messages),
			(SELECT MIN(date) FROM messages),
			(SELECT MAX(date) FROM messages)`,
	).Scan(&st.TotalMessages, &st.TotalSenders, &st.TotalChannels, &st.FirstMessageDate, &st.LastMessageDate)
	if err != nil {
		return st, apperrors.StoreFailure(err, op, "query statistics")
	}
	return st, nil
}

// ========================================
// 共享校验
// ========================================

func validateMessage(op string, msg *model.Message) error {
	if msg == nil {
		return apperrors.Invalid(op, "message is nil")
	}
	if msg.TelegramID <= 0 {
		return apperrors.Invalid(op, "telegram id must be positive, got %d", msg.TelegramID)
	}
	if msg.ChannelID == 0 {
		return apperrors.Invalid(op, "channel id is required")
	}
	return nil
}

func replyTo(msg *model.Message) *int64 {
	if !msg.HasParent() {
		return nil
	}
	v := msg.ReplyToMsgID
	return &v
}

func pgTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func notFound(op string, id int64) error {
	return apperrors.NotFound(op, "message %d not found", id)
}
