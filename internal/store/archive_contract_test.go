package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/model"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

// timedArchive 测试用: 指定快照时间与窗口起点。
type timedArchive interface {
	Archive
	saveReactionSnapshotAt(ctx context.Context, messageID int64, count int, at time.Time) error
	reactionChangesSince(ctx context.Context, since time.Time) ([]ReactionChange, error)
}

var base = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func msgAt(channel, id, parent int64, offset time.Duration, content string) *model.Message {
	return &model.Message{
		ChannelID:    channel,
		TelegramID:   id,
		ReplyToMsgID: parent,
		Date:         base.Add(offset),
		Content:      content,
		RawJSON:      `{"id":1}`,
	}
}

// runArchiveContract 两个后端共用的行为测试。
func runArchiveContract(t *testing.T, a timedArchive) {
	ctx := context.Background()

	t.Run("sender_upsert_coalesce", func(t *testing.T) {
		id1, err := a.UpsertSender(ctx, model.Sender{ID: 10, FirstName: "Ann", Username: "ann"})
		if err != nil {
			t.Fatalf("UpsertSender: %v", err)
		}
		id2, err := a.UpsertSender(ctx, model.Sender{ID: 10, LastName: "Lee"})
		if err != nil {
			t.Fatalf("UpsertSender again: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("sender ids differ: %d vs %d", id1, id2)
		}
		senders, err := a.ListSenders(ctx)
		if err != nil {
			t.Fatalf("ListSenders: %v", err)
		}
		if len(senders) != 1 {
			t.Fatalf("senders = %d, want 1", len(senders))
		}
		s := senders[0]
		if deref(s.FirstName) != "Ann" || deref(s.LastName) != "Lee" || deref(s.Username) != "ann" {
			t.Errorf("names not merged: %+v", s)
		}
		if _, err := a.UpsertSender(ctx, model.Sender{}); !errors.Is(err, apperrors.ErrInvalidInput) {
			t.Errorf("zero sender id: err = %v, want ErrInvalidInput", err)
		}
	})

	t.Run("message_upsert_idempotent", func(t *testing.T) {
		m := msgAt(-100, 1, 0, 0, "root")
		m.Sender = &model.Sender{ID: 10}
		m.ReactionsCount = 2
		id1, err := a.Upsert(ctx, m)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if m.StoreID != id1 {
			t.Errorf("StoreID = %d, want %d", m.StoreID, id1)
		}
		m2 := msgAt(-100, 1, 0, 0, "root edited")
		m2.Sender = &model.Sender{ID: 10}
		id2, err := a.Upsert(ctx, m2)
		if err != nil {
			t.Fatalf("Upsert again: %v", err)
		}
		if id1 != id2 {
			t.Fatalf("upsert created new row: %d vs %d", id1, id2)
		}

		got, err := a.Lookup(ctx, model.MessageKey{ChannelID: -100, TelegramID: 1})
		if err != nil || got == nil {
			t.Fatalf("Lookup: %v, %v", got, err)
		}
		if got.Content != "root edited" || got.StoreID != id1 || !got.Date.Equal(base) {
			t.Errorf("unexpected lookup %+v", got)
		}
		if got.Sender == nil || got.Sender.ID != 10 || got.Sender.FirstName != "Ann" {
			t.Errorf("sender not joined: %+v", got.Sender)
		}
	})

	t.Run("lookup_miss_and_scope", func(t *testing.T) {
		got, err := a.Lookup(ctx, model.MessageKey{ChannelID: -200, TelegramID: 1})
		if err != nil || got != nil {
			t.Errorf("same id other channel: got %+v, %v", got, err)
		}
		if _, err := a.GetMessage(ctx, 999999); !errors.Is(err, apperrors.ErrNotFound) {
			t.Errorf("GetMessage missing: err = %v, want ErrNotFound", err)
		}
	})

	t.Run("upsert_validation", func(t *testing.T) {
		for _, m := range []*model.Message{nil, {ChannelID: 1}, {TelegramID: 1}} {
			if _, err := a.Upsert(ctx, m); !errors.Is(err, apperrors.ErrInvalidInput) {
				t.Errorf("Upsert(%+v) err = %v, want ErrInvalidInput", m, err)
			}
		}
	})

	t.Run("list_filters", func(t *testing.T) {
		for _, m := range []*model.Message{
			msgAt(-100, 2, 1, time.Hour, "reply one"),
			msgAt(-100, 3, 2, 2*time.Hour, "Reply 100% two"),
			msgAt(-200, 1, 0, 3*time.Hour, "other channel"),
		} {
			if _, err := a.Upsert(ctx, m); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
		}
		all, err := a.ListMessages(ctx, MessageFilter{ChannelID: -100})
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if ids := telegramIDs(all); !equalIDs(ids, []int64{3, 2, 1}) {
			t.Errorf("channel -100 ids = %v, want [3 2 1]", ids)
		}
		if all[1].ReplyToMsgID != 1 {
			t.Errorf("reply_to lost: %+v", all[1])
		}

		ranged, err := a.ListMessages(ctx, MessageFilter{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour)})
		if err != nil {
			t.Fatalf("ListMessages range: %v", err)
		}
		if ids := telegramIDs(ranged); !equalIDs(ids, []int64{3, 2}) {
			t.Errorf("range ids = %v, want [3 2]", ids)
		}

		kw, err := a.ListMessages(ctx, MessageFilter{Query: "100%"})
		if err != nil {
			t.Fatalf("ListMessages keyword: %v", err)
		}
		if ids := telegramIDs(kw); !equalIDs(ids, []int64{3}) {
			t.Errorf("keyword ids = %v, want [3]", ids)
		}

		limited, err := a.ListMessages(ctx, MessageFilter{Limit: 2, Offset: 1})
		if err != nil {
			t.Fatalf("ListMessages limit: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("limited = %d, want 2", len(limited))
		}
	})

	t.Run("reaction_changes", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		idOf := func(ch, tg int64) int64 {
			m, err := a.Lookup(ctx, model.MessageKey{ChannelID: ch, TelegramID: tg})
			if err != nil || m == nil {
				t.Fatalf("Lookup %d/%d: %v", ch, tg, err)
			}
			return m.StoreID
		}
		rootID, replyID, otherID := idOf(-100, 1), idOf(-100, 2), idOf(-200, 1)
		snaps := []struct {
			id    int64
			count int
			ago   time.Duration
		}{
			{rootID, 5, 30 * time.Hour}, // 窗口外
			{rootID, 7, 2 * time.Hour},
			{rootID, 9, time.Hour},
			{replyID, 3, 2 * time.Hour},
			{replyID, 13, time.Hour},
			{otherID, 4, 2 * time.Hour},
			{otherID, 4, time.Hour},
		}
		for _, s := range snaps {
			if err := a.saveReactionSnapshotAt(ctx, s.id, s.count, now.Add(-s.ago)); err != nil {
				t.Fatalf("snapshot: %v", err)
			}
		}

		changes, err := a.reactionChangesSince(ctx, now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("ReactionChanges: %v", err)
		}
		if len(changes) != 2 {
			t.Fatalf("changes = %+v, want 2 entries", changes)
		}
		if changes[0].Message.StoreID != replyID || changes[0].Old != 3 || changes[0].New != 13 || changes[0].Change != 10 {
			t.Errorf("first change = %+v", changes[0])
		}
		if changes[1].Message.StoreID != rootID || changes[1].Old != 7 || changes[1].New != 9 || changes[1].Change != 2 {
			t.Errorf("second change = %+v", changes[1])
		}

		hist, err := a.ReactionHistory(ctx, rootID)
		if err != nil {
			t.Fatalf("ReactionHistory: %v", err)
		}
		if len(hist) != 3 || hist[0].ReactionsCount != 9 || hist[2].ReactionsCount != 5 {
			t.Errorf("history = %+v", hist)
		}
		if !hist[0].CheckedAt.Equal(now.Add(-time.Hour)) {
			t.Errorf("checked_at = %v, want %v", hist[0].CheckedAt, now.Add(-time.Hour))
		}
	})

	t.Run("statistics", func(t *testing.T) {
		st, err := a.Statistics(ctx)
		if err != nil {
			t.Fatalf("Statistics: %v", err)
		}
		if st.TotalMessages != 4 || st.TotalSenders != 1 || st.TotalChannels != 2 {
			t.Errorf("stats = %+v", st)
		}
		if st.FirstMessageDate == nil || !st.FirstMessageDate.Equal(base) {
			t.Errorf("first date = %v, want %v", st.FirstMessageDate, base)
		}
		if st.LastMessageDate == nil || !st.LastMessageDate.Equal(base.Add(3*time.Hour)) {
			t.Errorf("last date = %v", st.LastMessageDate)
		}

		counts, err := a.ChannelCounts(ctx)
		if err != nil {
			t.Fatalf("ChannelCounts: %v", err)
		}
		if len(counts) != 2 || counts[0].ChannelID != -100 || counts[0].MessageCount != 3 {
			t.Errorf("counts = %+v", counts)
		}

		senders, err := a.ListSenders(ctx)
		if err != nil {
			t.Fatalf("ListSenders: %v", err)
		}
		if len(senders) != 1 || senders[0].MessageCount != 1 {
			t.Errorf("senders = %+v", senders)
		}
	})

	t.Run("delete_cascades_history", func(t *testing.T) {
		m, err := a.Lookup(ctx, model.MessageKey{ChannelID: -100, TelegramID: 1})
		if err != nil || m == nil {
			t.Fatalf("Lookup: %v", err)
		}
		n, err := a.DeleteMessages(ctx, []int64{m.StoreID})
		if err != nil || n != 1 {
			t.Fatalf("DeleteMessages = %d, %v", n, err)
		}
		hist, err := a.ReactionHistory(ctx, m.StoreID)
		if err != nil {
			t.Fatalf("ReactionHistory: %v", err)
		}
		if len(hist) != 0 {
			t.Errorf("history survived delete: %+v", hist)
		}
		if n, err := a.DeleteMessages(ctx, nil); err != nil || n != 0 {
			t.Errorf("DeleteMessages(nil) = %d, %v", n, err)
		}
	})

	t.Run("clear_by_channel", func(t *testing.T) {
		n, err := a.ClearMessages(ctx, MessageFilter{ChannelID: -100})
		if err != nil {
			t.Fatalf("ClearMessages: %v", err)
		}
		if n != 2 {
			t.Errorf("cleared = %d, want 2", n)
		}
		left, err := a.ListMessages(ctx, MessageFilter{})
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if ids := telegramIDs(left); len(left) != 1 || left[0].ChannelID != -200 {
			t.Errorf("left = %v", ids)
		}
	})
}

func telegramIDs(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.TelegramID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
