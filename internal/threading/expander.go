package threading

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/weitek/telegram-channel-meaning/internal/model"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// MessageStore 本地缓存 (持久化存储)。
//
// Lookup 未命中返回 (nil, nil); Upsert 对已有 (telegram_id, channel_id) 合并更新, 返回行 ID。
type MessageStore interface {
	Lookup(ctx context.Context, key model.MessageKey) (*model.Message, error)
	Upsert(ctx context.Context, msg *model.Message) (int64, error)
}

// RemoteSource 远端消息源。不存在返回 (nil, nil)。重试策略由实现自行负责。
type RemoteSource interface {
	FetchByID(ctx context.Context, channelID, telegramID int64) (*model.Message, error)
}

// Resolution 祖先 ID 的解析状态: Pending → {CacheHit, RemoteHit, Unresolved}。
type Resolution int

const (
	Pending Resolution = iota
	CacheHit
	RemoteHit
	Unresolved
)

func (r Resolution) String() string {
	switch r {
	case CacheHit:
		return "cache_hit"
	case RemoteHit:
		return "remote_hit"
	case Unresolved:
		return "unresolved"
	default:
		return "pending"
	}
}

// Resolved 是否已到达终态。
func (r Resolution) Resolved() bool { return r != Pending }

// ExpanderOptions 补链参数。
type ExpanderOptions struct {
	// Parallelism 同时处理的频道数, <=1 时逐个处理。
	Parallelism int
	// MaxLookupsPerScope 每个频道最多出队解析的祖先数, 0 不限。
	MaxLookupsPerScope int
}

// Expander 向上补齐回复链的祖先: 先查本地缓存, 再查远端, 远端命中后写回存储。
type Expander struct {
	store  MessageStore
	remote RemoteSource
	opts   ExpanderOptions
}

// NewExpander 创建 Expander。remote 可为 nil (只查缓存)。
func NewExpander(store MessageStore, remote RemoteSource, opts ExpanderOptions) *Expander {
	return &Expander{store: store, remote: remote, opts: opts}
}

// ScopeReport 单个频道的补链结果。
type ScopeReport struct {
	ChannelID int64
	Input     int
	Added     int
	// Resolutions 每个入队祖先 ID 的状态。
	Resolutions map[int64]Resolution
	// Order 实际出队解析的顺序 (FIFO)。
	Order []int64
	// Persisted 远端命中并已写入存储的消息 (StoreID 已填)。
	Persisted    []model.Message
	RemoteErrors int
	// Truncated 达到 MaxLookupsPerScope 时仍有待解析的 ID。
	Truncated bool
	Err       error
}

// Count 统计处于某状态的 ID 数。
func (r *ScopeReport) Count(state Resolution) int {
	n := 0
	for _, s := range r.Resolutions {
		if s == state {
			n++
		}
	}
	return n
}

// ExpandResult 补链后的完整消息集合。
type ExpandResult struct {
	// Messages 按频道首次出现顺序排列; 每个频道内先是输入消息, 再是按解析顺序补入的祖先。
	Messages []model.Message
	Scopes   []*ScopeReport
}

// Persisted 汇总所有频道新写入存储的消息。
func (r *ExpandResult) Persisted() []model.Message {
	var out []model.Message
	for _, s := range r.Scopes {
		out = append(out, s.Persisted...)
	}
	return out
}

// ScopeError 某频道因存储失败中止。
type ScopeError struct {
	ChannelID int64
	Err       error
}

// ExpandError 一个或多个频道补链中止。其余频道的结果仍然有效。
type ExpandError struct {
	Scopes []ScopeError
}

func (e *ExpandError) Error() string {
	parts := make([]string, 0, len(e.Scopes))
	for _, s := range e.Scopes {
		parts = append(parts, fmt.Sprintf("channel %d: %v", s.ChannelID, s.Err))
	}
	return "expand chains: " + strings.Join(parts, "; ")
}

// Unwrap 支持 errors.Is(err, apperrors.ErrStoreFailure)。
func (e *ExpandError) Unwrap() []error {
	errs := make([]error, 0, len(e.Scopes))
	for _, s := range e.Scopes {
		errs = append(errs, s.Err)
	}
	return errs
}

// Expand 对每个频道补齐缺失的祖先, 返回扩充后的集合。
//
// 缺口 (缓存和远端都没有) 不算错误。存储失败只中止对应频道, 该频道退回原始输入,
// 其他频道照常完成; 此时同时返回结果和 *ExpandError。
func (e *Expander) Expand(ctx context.Context, msgs []model.Message) (*ExpandResult, error) {
	groups := GroupAndSort(msgs, SortTelegram)
	reports := make([]*ScopeReport, len(groups))
	outputs := make([][]model.Message, len(groups))

	// 不用 WithContext: 一个频道失败不能取消其他频道
	var g errgroup.Group
	g.SetLimit(max(1, e.opts.Parallelism))
	for i, grp := range groups {
		g.Go(func() error {
			outputs[i], reports[i] = e.expandScope(ctx, grp.ChannelID, grp.Messages)
			return nil
		})
	}
	_ = g.Wait()

	result := &ExpandResult{Scopes: reports}
	var failed []ScopeError
	for i := range groups {
		result.Messages = append(result.Messages, outputs[i]...)
		if reports[i].Err != nil {
			failed = append(failed, ScopeError{ChannelID: groups[i].ChannelID, Err: reports[i].Err})
		}
	}
	if len(failed) > 0 {
		return result, &ExpandError{Scopes: failed}
	}
	return result, nil
}

func (e *Expander) expandScope(ctx context.Context, channelID int64, input []model.Message) ([]model.Message, *ScopeReport) {
	log := logger.FromContext(ctx).With(logger.FieldChannelID, channelID)
	rep := &ScopeReport{
		ChannelID:   channelID,
		Input:       len(input),
		Resolutions: make(map[int64]Resolution),
	}

	working := slices.Clone(input)
	present := make(map[int64]bool, len(input))
	for _, m := range input {
		present[m.TelegramID] = true
	}

	var queue []int64
	enqueue := func(m *model.Message) {
		if !m.HasParent() || present[m.ReplyToMsgID] {
			return
		}
		if _, known := rep.Resolutions[m.ReplyToMsgID]; known {
			return
		}
		rep.Resolutions[m.ReplyToMsgID] = Pending
		queue = append(queue, m.ReplyToMsgID)
	}
	for i := range input {
		enqueue(&input[i])
	}

	for len(queue) > 0 {
		id := queue[0]
		if e.opts.MaxLookupsPerScope > 0 && len(rep.Order) >= e.opts.MaxLookupsPerScope {
			rep.Truncated = true
			log.Warn("expand: lookup limit reached",
				logger.FieldLimit, e.opts.MaxLookupsPerScope, logger.FieldCount, len(queue))
			break
		}
		queue = queue[1:]
		rep.Order = append(rep.Order, id)

		msg, state, err := e.resolve(ctx, rep, channelID, id)
		if err != nil {
			rep.Err = err
			log.Error("expand: scope aborted", logger.FieldTelegramID, id, logger.FieldError, err)
			return slices.Clone(input), rep
		}
		rep.Resolutions[id] = state
		log.Debug("expand: ancestor resolved", logger.FieldTelegramID, id, logger.FieldState, state.String())
		if msg == nil {
			continue
		}

		working = append(working, *msg)
		present[msg.TelegramID] = true
		rep.Added++
		if state == RemoteHit {
			rep.Persisted = append(rep.Persisted, *msg)
		}
		enqueue(msg)
	}

	if len(rep.Resolutions) > 0 {
		log.Info("expand: scope done",
			logger.FieldCount, rep.Added,
			"cache_hits", rep.Count(CacheHit),
			"remote_hits", rep.Count(RemoteHit),
			"unresolved", rep.Count(Unresolved),
			"remote_errors", rep.RemoteErrors,
		)
	}
	return working, rep
}

// resolve 依次查缓存和远端。返回 nil 消息表示缺口。
func (e *Expander) resolve(ctx context.Context, rep *ScopeReport, channelID, id int64) (*model.Message, Resolution, error) {
	const op = "threading.Expand"
	key := model.MessageKey{ChannelID: channelID, TelegramID: id}

	cached, err := e.store.Lookup(ctx, key)
	if err != nil {
		return nil, Pending, apperrors.StoreFailure(err, op, fmt.Sprintf("lookup %d in channel %d", id, channelID))
	}
	if cached != nil {
		if m, ok := normalize(cached, key); ok {
			return m, CacheHit, nil
		}
	}

	if e.remote == nil {
		return nil, Unresolved, nil
	}
	fetched, err := e.remote.FetchByID(ctx, channelID, id)
	if err != nil {
		// 远端失败按缺口处理
		rep.RemoteErrors++
		logger.FromContext(ctx).Warn("expand: remote fetch failed",
			logger.FieldChannelID, channelID, logger.FieldTelegramID, id, logger.FieldError, err)
		return nil, Unresolved, nil
	}
	if fetched == nil {
		return nil, Unresolved, nil
	}
	m, ok := normalize(fetched, key)
	if !ok {
		return nil, Unresolved, nil
	}

	rowID, err := e.store.Upsert(ctx, m)
	if err != nil {
		return nil, Pending, apperrors.StoreFailure(err, op, fmt.Sprintf("persist %d in channel %d", id, channelID))
	}
	m.StoreID = rowID
	return m, RemoteHit, nil
}

// normalize 校正频道和 ID; 来源返回了别的消息时视为未命中。
func normalize(m *model.Message, key model.MessageKey) (*model.Message, bool) {
	out := *m
	if out.TelegramID == 0 {
		out.TelegramID = key.TelegramID
	}
	if out.TelegramID != key.TelegramID {
		logger.Warn("expand: source returned a different message",
			logger.FieldTelegramID, key.TelegramID, logger.FieldID, out.TelegramID)
		return nil, false
	}
	out.ChannelID = key.ChannelID
	return &out, true
}
