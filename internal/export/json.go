package export

import (
	"time"

	"github.com/samber/lo"

	"github.com/weitek/telegram-channel-meaning/internal/model"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
)

// SenderJSON 发送者。
type SenderJSON struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// MessageJSON 单条消息的 JSON 形态。reply_to_msg_id 无父消息时为 null。
type MessageJSON struct {
	ID             int64       `json:"id"`
	ChannelID      int64       `json:"channel_id"`
	Date           *string     `json:"date"`
	Content        string      `json:"content"`
	ReactionsCount int         `json:"reactions_count"`
	ReplyToMsgID   *int64      `json:"reply_to_msg_id"`
	Sender         *SenderJSON `json:"sender"`
	Views          int         `json:"views"`
	Forwards       int         `json:"forwards"`
	HasMedia       bool        `json:"has_media"`
}

// NewMessageJSON 转换领域消息。
func NewMessageJSON(m model.Message) MessageJSON {
	out := MessageJSON{
		ID:             m.TelegramID,
		ChannelID:      m.ChannelID,
		Content:        m.Content,
		ReactionsCount: m.ReactionsCount,
		Views:          m.Views,
		Forwards:       m.Forwards,
		HasMedia:       m.HasMedia,
	}
	if m.HasDate() {
		out.Date = lo.ToPtr(m.Date.UTC().Format(time.RFC3339))
	}
	if m.ReplyToMsgID > 0 {
		out.ReplyToMsgID = lo.ToPtr(m.ReplyToMsgID)
	}
	if m.Sender != nil {
		out.Sender = &SenderJSON{
			ID:        m.Sender.ID,
			FirstName: m.Sender.FirstName,
			LastName:  m.Sender.LastName,
			Username:  m.Sender.Username,
		}
	}
	return out
}

func toJSON(msgs []model.Message) []MessageJSON {
	return lo.Map(msgs, func(m model.Message, _ int) MessageJSON { return NewMessageJSON(m) })
}

// ChainJSON 一条回复链。
type ChainJSON struct {
	Root    MessageJSON   `json:"root"`
	Replies []MessageJSON `json:"replies"`
}

// ChainsDocument 单频道 json 输出。
type ChainsDocument struct {
	StandaloneMessages []MessageJSON `json:"standalone_messages"`
	Chains             []ChainJSON   `json:"chains"`
}

// ChannelChains 多频道 json 输出中的一个频道。
type ChannelChains struct {
	ChannelID int64 `json:"channel_id"`
	ChainsDocument
}

// MultiChainsDocument 多频道 json 输出。
type MultiChainsDocument struct {
	Channels []ChannelChains `json:"channels"`
}

// FlatDocument 单频道 json-no-chains 输出。
type FlatDocument struct {
	Messages []MessageJSON `json:"messages"`
}

// ChannelMessages 多频道 json-no-chains 输出中的一个频道。
type ChannelMessages struct {
	ChannelID int64         `json:"channel_id"`
	Messages  []MessageJSON `json:"messages"`
}

// MultiFlatDocument 多频道 json-no-chains 输出。
type MultiFlatDocument struct {
	Channels []ChannelMessages `json:"channels"`
}

// ReactionDelta 反应数变化。
type ReactionDelta struct {
	Old    int `json:"old"`
	New    int `json:"new"`
	Change int `json:"change"`
}

type reactionMessageJSON struct {
	MessageJSON
	Reactions ReactionDelta `json:"reactions"`
}

type reactionsDocument struct {
	PeriodHours int                   `json:"period_hours"`
	Messages    []reactionMessageJSON `json:"messages"`
}

// ReactionsView json-reactions 格式的文档。
func ReactionsView(hours int, changes []store.ReactionChange) any {
	return reactionsDocument{
		PeriodHours: hours,
		Messages: lo.Map(changes, func(c store.ReactionChange, _ int) reactionMessageJSON {
			return reactionMessageJSON{
				MessageJSON: NewMessageJSON(c.Message),
				Reactions:   ReactionDelta{Old: c.Old, New: c.New, Change: c.Change},
			}
		}),
	}
}

func scopeChains(s scope) ChainsDocument {
	doc := ChainsDocument{
		StandaloneMessages: toJSON(s.standalone),
		Chains:             make([]ChainJSON, 0, len(s.chains)),
	}
	for _, c := range s.chains {
		doc.Chains = append(doc.Chains, ChainJSON{
			Root:    NewMessageJSON(c.Root()),
			Replies: toJSON(c.Replies()),
		})
	}
	return doc
}

// ChainsView json 格式的文档: 单频道 (或空) 时为 ChainsDocument, 多频道时为 MultiChainsDocument。
func ChainsView(msgs []model.Message, order threading.SortOrder) any {
	groups := threading.GroupAndSort(msgs, order)
	if len(groups) <= 1 {
		if len(groups) == 0 {
			return ChainsDocument{StandaloneMessages: []MessageJSON{}, Chains: []ChainJSON{}}
		}
		return scopeChains(splitScope(groups[0], order))
	}
	doc := MultiChainsDocument{Channels: make([]ChannelChains, 0, len(groups))}
	for _, g := range groups {
		doc.Channels = append(doc.Channels, ChannelChains{
			ChannelID:      g.ChannelID,
			ChainsDocument: scopeChains(splitScope(g, order)),
		})
	}
	return doc
}

// FlatView json-no-chains 格式的文档。
func FlatView(msgs []model.Message, order threading.SortOrder) any {
	groups := threading.GroupAndSort(msgs, order)
	if len(groups) <= 1 {
		doc := FlatDocument{Messages: []MessageJSON{}}
		if len(groups) == 1 {
			doc.Messages = toJSON(groups[0].Messages)
		}
		return doc
	}
	doc := MultiFlatDocument{Channels: make([]ChannelMessages, 0, len(groups))}
	for _, g := range groups {
		doc.Channels = append(doc.Channels, ChannelMessages{ChannelID: g.ChannelID, Messages: toJSON(g.Messages)})
	}
	return doc
}
