// Package model 定义归档消息的共享数据结构与身份规则。
package model

import (
	"strings"
	"time"
)

// Sender 消息发送者。
type Sender struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// DisplayName 形如 "First Last (@username)"。
func (s *Sender) DisplayName() string {
	if s == nil {
		return ""
	}
	name := strings.TrimSpace(s.FirstName + " " + s.LastName)
	if s.Username != "" {
		if name == "" {
			return "@" + s.Username
		}
		name += " (@" + s.Username + ")"
	}
	return name
}

// MessageKey 消息身份: telegram_id 只在频道内唯一。
type MessageKey struct {
	ChannelID  int64
	TelegramID int64
}

// Message 一条频道消息。
//
// ReplyToMsgID 为 0 表示无父消息; Date 为零值表示无时间 (排序时视为最小)。
type Message struct {
	TelegramID     int64
	ChannelID      int64
	ReplyToMsgID   int64
	Date           time.Time
	Content        string
	Sender         *Sender
	ReactionsCount int
	Views          int
	Forwards       int
	HasMedia       bool
	RawJSON        string

	// StoreID 存储行 ID, 未持久化为 0。
	StoreID int64
}

// Key 返回 (channel, telegram_id) 身份。
func (m *Message) Key() MessageKey {
	return MessageKey{ChannelID: m.ChannelID, TelegramID: m.TelegramID}
}

// HasParent 是否引用了父消息。自引用视为无父。
func (m *Message) HasParent() bool {
	return m.ReplyToMsgID > 0 && m.ReplyToMsgID != m.TelegramID
}

// HasDate 是否带时间。
func (m *Message) HasDate() bool {
	return !m.Date.IsZero()
}

// Chain 回复链: 第 0 个元素为根, 其余为后代, 同一频道。
type Chain []Message

// Root 链根, 空链返回零值。
func (c Chain) Root() Message {
	if len(c) == 0 {
		return Message{}
	}
	return c[0]
}

// Replies 根之外的消息。
func (c Chain) Replies() []Message {
	if len(c) <= 1 {
		return nil
	}
	return c[1:]
}
