// Package store 归档存储: PostgreSQL (pgx) 与 SQLite (modernc) 两个后端。
//
// Go struct 的 db tag 直接对应列名，PG 端用 pgx.RowToStructByName 扫描。
package store

import (
	"database/sql"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/model"
)

// SQLite 时间列统一存 UTC 定宽文本, 字典序即时间序。
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseSQLiteTime 兼容定宽格式与 SQLite strftime 默认值。
func parseSQLiteTime(s string) (time.Time, error) {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Parse(sqliteTimeLayout, s)
}

func nullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseSQLiteTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ========================================
// 消息 — 表 messages LEFT JOIN senders
// ========================================

// messageCols 与 MessageRow 字段一一对应。
const messageCols = `m.id, m.telegram_id, m.channel_id, m.content, m.date, m.reply_to_msg_id,
	m.reactions_count, m.views, m.forwards, m.has_media, m.raw_json, m.fetched_at,
	s.telegram_id AS sender_telegram_id, s.first_name AS sender_first_name,
	s.last_name AS sender_last_name, s.username AS sender_username`

const messageFrom = ` FROM messages m LEFT JOIN senders s ON s.id = m.sender_id`

// MessageRow 消息行 (含发送者)。
type MessageRow struct {
	ID               int64      `db:"id" json:"id"`
	TelegramID       int64      `db:"telegram_id" json:"telegram_id"`
	ChannelID        int64      `db:"channel_id" json:"channel_id"`
	Content          string     `db:"content" json:"content"`
	Date             *time.Time `db:"date" json:"date"`
	ReplyToMsgID     *int64     `db:"reply_to_msg_id" json:"reply_to_msg_id"`
	ReactionsCount   int        `db:"reactions_count" json:"reactions_count"`
	Views            int        `db:"views" json:"views"`
	Forwards         int        `db:"forwards" json:"forwards"`
	HasMedia         bool       `db:"has_media" json:"has_media"`
	RawJSON          string     `db:"raw_json" json:"raw_json"`
	FetchedAt        time.Time  `db:"fetched_at" json:"fetched_at"`
	SenderTelegramID *int64     `db:"sender_telegram_id" json:"sender_telegram_id"`
	SenderFirstName  *string    `db:"sender_first_name" json:"sender_first_name"`
	SenderLastName   *string    `db:"sender_last_name" json:"sender_last_name"`
	SenderUsername   *string    `db:"sender_username" json:"sender_username"`
}

// ToModel 转为领域消息。
func (r MessageRow) ToModel() model.Message {
	msg := model.Message{
		TelegramID:     r.TelegramID,
		ChannelID:      r.ChannelID,
		Content:        r.Content,
		ReactionsCount: r.ReactionsCount,
		Views:          r.Views,
		Forwards:       r.Forwards,
		HasMedia:       r.HasMedia,
		RawJSON:        r.RawJSON,
		StoreID:        r.ID,
	}
	if r.Date != nil {
		msg.Date = r.Date.UTC()
	}
	if r.ReplyToMsgID != nil {
		msg.ReplyToMsgID = *r.ReplyToMsgID
	}
	if r.SenderTelegramID != nil {
		msg.Sender = &model.Sender{
			ID:        *r.SenderTelegramID,
			FirstName: deref(r.SenderFirstName),
			LastName:  deref(r.SenderLastName),
			Username:  deref(r.SenderUsername),
		}
	}
	return msg
}

func rowsToModels(rows []MessageRow) []model.Message {
	out := make([]model.Message, len(rows))
	for i, r := range rows {
		out[i] = r.ToModel()
	}
	return out
}

// MessageFilter 消息查询/清理条件。零值字段不参与过滤。
type MessageFilter struct {
	ChannelID int64
	From      time.Time
	To        time.Time
	Query     string
	Limit     int
	Offset    int
}

// ========================================
// 发送者 — 表 senders
// ========================================

// SenderStat 发送者及其消息数。
type SenderStat struct {
	ID           int64     `db:"id" json:"id"`
	TelegramID   int64     `db:"telegram_id" json:"telegram_id"`
	FirstName    *string   `db:"first_name" json:"first_name"`
	LastName     *string   `db:"last_name" json:"last_name"`
	Username     *string   `db:"username" json:"username"`
	FirstSeen    time.Time `db:"first_seen" json:"first_seen"`
	MessageCount int64     `db:"message_count" json:"message_count"`
}

// ========================================
// 反应历史 — 表 reactions_history
// ========================================

// ReactionSnapshot 某一时刻的反应总数。
type ReactionSnapshot struct {
	ID             int64     `db:"id" json:"id"`
	MessageID      int64     `db:"message_id" json:"message_id"`
	ReactionsCount int       `db:"reactions_count" json:"reactions_count"`
	CheckedAt      time.Time `db:"checked_at" json:"checked_at"`
}

// ReactionChangeRow 窗口内最早快照与最新快照的差值。
type ReactionChangeRow struct {
	MessageRow
	OldReactions    int `db:"old_reactions"`
	NewReactions    int `db:"new_reactions"`
	ReactionsChange int `db:"reactions_change"`
}

// ReactionChange 领域视图。
type ReactionChange struct {
	Message model.Message `json:"message"`
	Old     int           `json:"old"`
	New     int           `json:"new"`
	Change  int           `json:"change"`
}

func (r ReactionChangeRow) toChange() ReactionChange {
	return ReactionChange{
		Message: r.MessageRow.ToModel(),
		Old:     r.OldReactions,
		New:     r.NewReactions,
		Change:  r.ReactionsChange,
	}
}

// ========================================
// 统计
// ========================================

// ChannelCount 单频道消息数与时间范围。
type ChannelCount struct {
	ChannelID    int64      `db:"channel_id" json:"channel_id"`
	MessageCount int64      `db:"message_count" json:"message_count"`
	FirstMessage *time.Time `db:"first_message" json:"first_message"`
	LastMessage  *time.Time `db:"last_message" json:"last_message"`
}

// Stats 归档总体统计。
type Stats struct {
	TotalMessages    int64      `json:"total_messages"`
	TotalSenders     int64      `json:"total_senders"`
	TotalChannels    int64      `json:"total_channels"`
	FirstMessageDate *time.Time `json:"first_message_date"`
	LastMessageDate  *time.Time `json:"last_message_date"`
}

// ========================================
// 归档日志 — 表 archive_logs (仅 PG)
// ========================================

// ArchiveLog 一条持久化日志。
type ArchiveLog struct {
	ID         int64          `db:"id" json:"id"`
	Ts         time.Time      `db:"ts" json:"ts"`
	Level      string         `db:"level" json:"level"`
	Message    string         `db:"message" json:"message"`
	Component  string         `db:"component" json:"component"`
	Source     string         `db:"source" json:"source"`
	RunID      string         `db:"run_id" json:"run_id"`
	ChannelID  *int64         `db:"channel_id" json:"channel_id"`
	DurationMS *int64         `db:"duration_ms" json:"duration_ms"`
	Extra      map[string]any `db:"extra" json:"extra"`
}
