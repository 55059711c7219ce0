package threading

import (
	"reflect"
	"testing"

	"github.com/weitek/telegram-channel-meaning/internal/model"
)

func scoped(channel, id int64) model.Message {
	return model.Message{ChannelID: channel, TelegramID: id}
}

func TestParseSortOrder(t *testing.T) {
	tests := []struct {
		in   string
		want SortOrder
	}{
		{"telegram", SortTelegram},
		{"ID_ASC", SortIDAsc},
		{" id_desc ", SortIDDesc},
		{"", SortTelegram},
		{"random", SortTelegram},
	}
	for _, tt := range tests {
		if got := ParseSortOrder(tt.in); got != tt.want {
			t.Errorf("ParseSortOrder(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestGroupAndSortFirstSeenOrder(t *testing.T) {
	in := []model.Message{scoped(5, 3), scoped(7, 9), scoped(5, 1), scoped(7, 2), scoped(5, 2)}

	tests := []struct {
		order SortOrder
		want  map[int64][]int64
	}{
		{SortTelegram, map[int64][]int64{5: {3, 1, 2}, 7: {9, 2}}},
		{SortIDAsc, map[int64][]int64{5: {1, 2, 3}, 7: {2, 9}}},
		{SortIDDesc, map[int64][]int64{5: {3, 2, 1}, 7: {9, 2}}},
	}
	for _, tt := range tests {
		t.Run(string(tt.order), func(t *testing.T) {
			groups := GroupAndSort(in, tt.order)
			if len(groups) != 2 || groups[0].ChannelID != 5 || groups[1].ChannelID != 7 {
				t.Fatalf("groups order = %+v, want [5 7]", groups)
			}
			for _, g := range groups {
				if got := ids(g.Messages); !reflect.DeepEqual(got, tt.want[g.ChannelID]) {
					t.Errorf("channel %d = %v, want %v", g.ChannelID, got, tt.want[g.ChannelID])
				}
			}
		})
	}
	// 输入不被修改
	if ids(in)[0] != 3 {
		t.Error("GroupAndSort modified its input")
	}
}

func TestSortByIDStableOnTies(t *testing.T) {
	a := model.Message{TelegramID: 1, Content: "a"}
	b := model.Message{TelegramID: 1, Content: "b"}
	msgs := []model.Message{a, {TelegramID: 0}, b}
	SortByID(msgs, SortIDDesc)
	if msgs[0].Content != "a" || msgs[1].Content != "b" {
		t.Errorf("ties not stable: %+v", msgs)
	}
}

func TestSortChainReplies(t *testing.T) {
	c := model.Chain{scoped(1, 10), scoped(1, 13), scoped(1, 11), scoped(1, 12)}

	if got := ids(SortChainReplies(c, SortIDAsc)); !reflect.DeepEqual(got, []int64{10, 11, 12, 13}) {
		t.Errorf("id_asc = %v", got)
	}
	if got := ids(SortChainReplies(c, SortIDDesc)); !reflect.DeepEqual(got, []int64{10, 13, 12, 11}) {
		t.Errorf("id_desc = %v", got)
	}
	if got := ids(SortChainReplies(c, SortTelegram)); !reflect.DeepEqual(got, []int64{10, 13, 11, 12}) {
		t.Errorf("telegram = %v", got)
	}
	if ids(c)[1] != 13 {
		t.Error("SortChainReplies modified its input")
	}
}
