package archive

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/bus"
	"github.com/weitek/telegram-channel-meaning/internal/config"
	"github.com/weitek/telegram-channel-meaning/internal/model"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/internal/telegram"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
)

var base = time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC)

func msgAt(channel, id, parent int64, reactions int) model.Message {
	return model.Message{
		TelegramID:     id,
		ChannelID:      channel,
		ReplyToMsgID:   parent,
		Date:           base.Add(time.Duration(id) * time.Minute),
		Content:        "message",
		Sender:         &model.Sender{ID: 500 + id, FirstName: "User"},
		ReactionsCount: reactions,
	}
}

type fakeRemote struct {
	mu         sync.Mutex
	history    map[int64][]model.Message
	byID       map[model.MessageKey]model.Message
	titles     map[int64]string
	historyErr error
	infoErr    error
	requests   []telegram.HistoryRequest
	fetched    []int64
}

func (r *fakeRemote) FetchHistory(_ context.Context, req telegram.HistoryRequest) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.historyErr != nil {
		return nil, r.historyErr
	}
	return slices.Clone(r.history[req.ChannelID]), nil
}

func (r *fakeRemote) FetchByID(_ context.Context, channelID, id int64) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetched = append(r.fetched, id)
	m, ok := r.byID[model.MessageKey{ChannelID: channelID, TelegramID: id}]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (r *fakeRemote) DialogInfo(_ context.Context, id int64) (*telegram.DialogInfo, error) {
	if r.infoErr != nil {
		return nil, r.infoErr
	}
	title, ok := r.titles[id]
	if !ok {
		return nil, nil
	}
	return &telegram.DialogInfo{ID: id, Title: title}, nil
}

func newTestArchive(t *testing.T) store.Archive {
	t.Helper()
	a, err := store.Open(context.Background(), &config.Config{
		StoreBackend: config.BackendSQLite,
		SQLitePath:   filepath.Join(t.TempDir(), "archive.db"),
	})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func newTestService(t *testing.T, remote Remote) (*Service, store.Archive, *bus.MessageBus) {
	t.Helper()
	st := newTestArchive(t)
	b := bus.NewMessageBus()
	svc := NewService(st, remote, Options{Bus: b, Expand: threading.ExpanderOptions{Parallelism: 2}})
	svc.newID = func() string { return "run-test" }
	return svc, st, b
}

func drain(sub *bus.Subscriber) []bus.Message {
	var out []bus.Message
	for {
		select {
		case m := <-sub.Ch:
			out = append(out, m)
		default:
			return out
		}
	}
}

func telegramIDs(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.TelegramID
	}
	return out
}

func TestFetch_PersistsAndExpandsChains(t *testing.T) {
	remote := &fakeRemote{
		history: map[int64][]model.Message{
			-100: {msgAt(-100, 5, 3, 7), msgAt(-100, 4, 1, 0), msgAt(-100, 2, 0, 1)},
		},
		byID: map[model.MessageKey]model.Message{
			{ChannelID: -100, TelegramID: 3}: msgAt(-100, 3, 1, 2),
			{ChannelID: -100, TelegramID: 1}: msgAt(-100, 1, 0, 4),
		},
		titles: map[int64]string{-100: "News"},
	}
	svc, st, b := newTestService(t, remote)
	sub := b.Subscribe("test", bus.TopicArchive)
	ctx := context.Background()

	res, err := svc.Fetch(ctx, FetchRequest{
		Channels:       []int64{-100, -100, 0},
		Limit:          50,
		TrackReactions: true,
		ChainsToRoot:   true,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.RunID != "run-test" {
		t.Errorf("run id = %q", res.RunID)
	}
	if got := telegramIDs(res.Messages); !slices.Equal(got, []int64{5, 4, 2, 3, 1}) {
		t.Errorf("messages = %v, want [5 4 2 3 1]", got)
	}
	if len(res.SavedIDs) != 5 {
		t.Fatalf("saved ids = %v, want 5", res.SavedIDs)
	}
	if res.ChannelTitles[-100] != "News" || res.ChannelCounts[-100] != 3 {
		t.Errorf("titles = %v counts = %v", res.ChannelTitles, res.ChannelCounts)
	}
	if len(remote.requests) != 1 || remote.requests[0].Limit != 50 {
		t.Errorf("history requests = %+v", remote.requests)
	}
	if !slices.Equal(remote.fetched, []int64{3, 1}) {
		t.Errorf("remote lookups = %v, want [3 1]", remote.fetched)
	}

	for _, id := range res.SavedIDs {
		hist, err := st.ReactionHistory(ctx, id)
		if err != nil || len(hist) != 1 {
			t.Errorf("reaction history of %d = %v, %v", id, hist, err)
		}
	}
	root, err := st.Lookup(ctx, model.MessageKey{ChannelID: -100, TelegramID: 1})
	if err != nil || root == nil || root.StoreID == 0 {
		t.Fatalf("ancestor not persisted: %+v, %v", root, err)
	}

	events := drain(sub)
	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e.Type
	}
	if len(types) == 0 || types[0] != bus.MsgRunStart || types[len(types)-1] != bus.MsgRunComplete {
		t.Errorf("event types = %v", types)
	}
	if !slices.Contains(types, bus.MsgExpandScope) {
		t.Errorf("missing expand event in %v", types)
	}
	if svc.Runs().Snapshot().Running {
		t.Error("run still active")
	}

	n, err := svc.DeleteSaved(ctx, res)
	if err != nil || n != 5 {
		t.Fatalf("DeleteSaved = %d, %v; want 5", n, err)
	}
	left, err := st.ListMessages(ctx, store.MessageFilter{ChannelID: -100})
	if err != nil || len(left) != 0 {
		t.Errorf("left = %d messages, %v", len(left), err)
	}
}

func TestFetch_WithoutChainsKeepsFetchedOnly(t *testing.T) {
	remote := &fakeRemote{
		history: map[int64][]model.Message{
			-1: {msgAt(-1, 10, 9, 0)},
			-2: {msgAt(-2, 20, 0, 0)},
		},
		byID: map[model.MessageKey]model.Message{{ChannelID: -1, TelegramID: 9}: msgAt(-1, 9, 0, 0)},
	}
	svc, _, _ := newTestService(t, remote)

	res, err := svc.Fetch(context.Background(), FetchRequest{Channels: []int64{-1, -2}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := telegramIDs(res.Messages); !slices.Equal(got, []int64{10, 20}) {
		t.Errorf("messages = %v", got)
	}
	if len(remote.fetched) != 0 || res.Expand != nil {
		t.Error("expansion should be off")
	}
	if res.ChannelTitles[-1] != UnknownTitle {
		t.Errorf("title = %q, want %q", res.ChannelTitles[-1], UnknownTitle)
	}
}

func TestFetch_HistoryFailure(t *testing.T) {
	remote := &fakeRemote{historyErr: apperrors.RemoteFailure(errors.New("boom"), "test", "history")}
	svc, _, b := newTestService(t, remote)
	sub := b.Subscribe("runs", bus.TopicRun)

	res, err := svc.Fetch(context.Background(), FetchRequest{Channels: []int64{-5}})
	if !errors.Is(err, apperrors.ErrRemoteFailure) {
		t.Fatalf("err = %v, want ErrRemoteFailure", err)
	}
	if res == nil || len(res.SavedIDs) != 0 {
		t.Errorf("result = %+v", res)
	}
	events := drain(sub)
	if len(events) == 0 || events[len(events)-1].Type != bus.MsgRunFail {
		t.Errorf("expected run.fail event, got %+v", events)
	}
	if last := svc.Runs().Snapshot().LastRun; last == nil || last.Error == "" {
		t.Errorf("last run = %+v", last)
	}
}

// lookupFailingArchive 对指定频道的 Lookup 返回磁盘错误, 其余操作照常。
type lookupFailingArchive struct {
	store.Archive
	channel int64
}

func (a *lookupFailingArchive) Lookup(ctx context.Context, key model.MessageKey) (*model.Message, error) {
	if key.ChannelID == a.channel {
		return nil, errors.New("disk I/O error")
	}
	return a.Archive.Lookup(ctx, key)
}

func TestFetch_ExpandStoreFailureIsReported(t *testing.T) {
	remote := &fakeRemote{
		history: map[int64][]model.Message{
			-100: {msgAt(-100, 3, 1, 0)},
			-200: {msgAt(-200, 5, 4, 0)},
		},
		byID: map[model.MessageKey]model.Message{
			{ChannelID: -100, TelegramID: 1}: msgAt(-100, 1, 0, 0),
			{ChannelID: -200, TelegramID: 4}: msgAt(-200, 4, 0, 0),
		},
	}
	st := &lookupFailingArchive{Archive: newTestArchive(t), channel: -100}
	b := bus.NewMessageBus()
	svc := NewService(st, remote, Options{Bus: b, Expand: threading.ExpanderOptions{Parallelism: 2}})
	sub := b.Subscribe("runs", bus.TopicRun)

	res, err := svc.Fetch(context.Background(), FetchRequest{
		Channels:     []int64{-100, -200},
		ChainsToRoot: true,
	})
	if !errors.Is(err, apperrors.ErrStoreFailure) {
		t.Fatalf("err = %v, want ErrStoreFailure", err)
	}
	var expErr *threading.ExpandError
	if !errors.As(err, &expErr) || len(expErr.Scopes) != 1 || expErr.Scopes[0].ChannelID != -100 {
		t.Fatalf("err = %#v, want ExpandError for channel -100", err)
	}

	// 失败频道退回原始输入, 另一频道照常补齐
	if res == nil || res.Expand == nil {
		t.Fatalf("partial result missing: %+v", res)
	}
	got := map[model.MessageKey]bool{}
	for _, m := range res.Messages {
		got[m.Key()] = true
	}
	if !got[model.MessageKey{ChannelID: -200, TelegramID: 4}] {
		t.Errorf("healthy channel not expanded: %v", telegramIDs(res.Messages))
	}
	if got[model.MessageKey{ChannelID: -100, TelegramID: 1}] {
		t.Errorf("failed channel should keep its input only: %v", telegramIDs(res.Messages))
	}

	events := drain(sub)
	if len(events) == 0 || events[len(events)-1].Type != bus.MsgRunFail {
		t.Errorf("expected run.fail event, got %+v", events)
	}
}

func TestFetch_DialogInfoErrorUsesUnknown(t *testing.T) {
	remote := &fakeRemote{
		history: map[int64][]model.Message{-7: {msgAt(-7, 1, 0, 0)}},
		infoErr: errors.New("gateway down"),
	}
	svc, _, _ := newTestService(t, remote)
	res, err := svc.Fetch(context.Background(), FetchRequest{Channels: []int64{-7}})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.ChannelTitles[-7] != UnknownTitle {
		t.Errorf("title = %q", res.ChannelTitles[-7])
	}
}

func TestFetch_Validation(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeRemote{})
	if _, err := svc.Fetch(context.Background(), FetchRequest{}); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}

	local := NewService(newTestArchive(t), nil, Options{})
	if _, err := local.Fetch(context.Background(), FetchRequest{Channels: []int64{1}}); err == nil {
		t.Error("expected error without remote")
	}
	if local.ChannelTitle(context.Background(), 1) != UnknownTitle {
		t.Error("ChannelTitle without remote should be unknown")
	}
}

func TestDeleteSaved_Empty(t *testing.T) {
	svc, _, _ := newTestService(t, &fakeRemote{})
	if n, err := svc.DeleteSaved(context.Background(), nil); n != 0 || err != nil {
		t.Errorf("DeleteSaved(nil) = %d, %v", n, err)
	}
}

func TestClear(t *testing.T) {
	svc, st, b := newTestService(t, &fakeRemote{})
	sub := b.Subscribe("clear", bus.TopicClear)
	ctx := context.Background()
	for _, m := range []model.Message{msgAt(-1, 1, 0, 0), msgAt(-1, 2, 0, 0), msgAt(-2, 3, 0, 0)} {
		if _, err := st.Upsert(ctx, &m); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	n, err := svc.Clear(ctx, ClearRequest{ChannelID: -1})
	if err != nil || n != 2 {
		t.Fatalf("Clear = %d, %v; want 2", n, err)
	}
	events := drain(sub)
	if len(events) != 1 || events[0].Type != bus.MsgClear || events[0].From != "cli" {
		t.Errorf("events = %+v", events)
	}

	n, err = svc.Clear(ctx, ClearRequest{Source: "dashboard"})
	if err != nil || n != 1 {
		t.Errorf("Clear all = %d, %v; want 1", n, err)
	}
}

func TestReactionsDefaultWindow(t *testing.T) {
	svc, st, _ := newTestService(t, &fakeRemote{})
	ctx := context.Background()
	m := msgAt(-1, 1, 0, 3)
	id, err := st.Upsert(ctx, &m)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := st.SaveReactionSnapshot(ctx, id, 3); err != nil {
		t.Fatal(err)
	}
	if err := st.SaveReactionSnapshot(ctx, id, 8); err != nil {
		t.Fatal(err)
	}

	changes, hours, err := svc.Reactions(ctx, 0)
	if err != nil {
		t.Fatalf("Reactions: %v", err)
	}
	if hours != DefaultReactionHours {
		t.Errorf("hours = %d", hours)
	}
	if len(changes) != 1 || changes[0].Old != 3 || changes[0].New != 8 || changes[0].Change != 5 {
		t.Errorf("changes = %+v", changes)
	}
}
