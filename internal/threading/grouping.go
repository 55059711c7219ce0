package threading

import (
	"sort"
	"strings"

	"github.com/weitek/telegram-channel-meaning/internal/model"
)

// SortOrder 输出排序方式。
type SortOrder string

const (
	// SortTelegram 保持来源顺序。
	SortTelegram SortOrder = "telegram"
	// SortIDAsc 按 telegram_id 升序。
	SortIDAsc SortOrder = "id_asc"
	// SortIDDesc 按 telegram_id 降序。
	SortIDDesc SortOrder = "id_desc"
)

// ParseSortOrder 解析排序方式, 未知值回退 SortTelegram。
func ParseSortOrder(s string) SortOrder {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case SortIDAsc, SortIDDesc:
		return o
	default:
		return SortTelegram
	}
}

// ByID 是否按 ID 排序。
func (o SortOrder) ByID() bool { return o == SortIDAsc || o == SortIDDesc }

// ChannelGroup 一个频道的消息。
type ChannelGroup struct {
	ChannelID int64
	Messages  []model.Message
}

// SortByID 按 ID 稳定排序 (原地)。SortTelegram 不做任何处理。
func SortByID(msgs []model.Message, order SortOrder) {
	switch order {
	case SortIDAsc:
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].TelegramID < msgs[j].TelegramID })
	case SortIDDesc:
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].TelegramID > msgs[j].TelegramID })
	}
}

// GroupAndSort 按频道分组 (保持首次出现顺序), 组内按 order 排序。
func GroupAndSort(msgs []model.Message, order SortOrder) []ChannelGroup {
	var groups []ChannelGroup
	index := make(map[int64]int)
	for _, m := range msgs {
		i, ok := index[m.ChannelID]
		if !ok {
			i = len(groups)
			index[m.ChannelID] = i
			groups = append(groups, ChannelGroup{ChannelID: m.ChannelID})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	for i := range groups {
		SortByID(groups[i].Messages, order)
	}
	return groups
}

// SortChainReplies 返回副本: 根保持在首位, 按 ID 模式重排回复。
func SortChainReplies(c model.Chain, order SortOrder) model.Chain {
	out := make(model.Chain, len(c))
	copy(out, c)
	if len(out) > 1 {
		SortByID(out[1:], order)
	}
	return out
}
