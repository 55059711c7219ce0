// Package archive 归档流程: 拉取历史 → 入库 → 可选补链 → 可选删除。
package archive

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/weitek/telegram-channel-meaning/internal/bus"
	"github.com/weitek/telegram-channel-meaning/internal/model"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/internal/telegram"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// UnknownTitle 无法获取对话信息时的频道名。
const UnknownTitle = "Unknown"

// DefaultReactionHours 反应变化默认窗口。
const DefaultReactionHours = 24

// Remote 归档用到的网关能力。
type Remote interface {
	threading.RemoteSource
	FetchHistory(ctx context.Context, req telegram.HistoryRequest) ([]model.Message, error)
	DialogInfo(ctx context.Context, id int64) (*telegram.DialogInfo, error)
}

var (
	_ threading.MessageStore = (store.Archive)(nil)
	_ threading.RemoteSource = (*telegram.Client)(nil)
	_ Remote                 = (*telegram.Client)(nil)
)

// Options 服务参数。
type Options struct {
	Bus    *bus.MessageBus // 可为 nil
	Expand threading.ExpanderOptions
}

// Service 归档服务。
type Service struct {
	store  store.Archive
	remote Remote
	bus    *bus.MessageBus
	runs   *bus.RunTracker
	expand threading.ExpanderOptions
	newID  func() string
}

// NewService 创建服务。remote 为 nil 时只能做本地操作 (Clear/Reactions)。
func NewService(st store.Archive, remote Remote, opts Options) *Service {
	return &Service{
		store:  st,
		remote: remote,
		bus:    opts.Bus,
		runs:   bus.NewRunTracker(opts.Bus),
		expand: opts.Expand,
		newID:  uuid.NewString,
	}
}

// Runs 运行状态跟踪器。
func (s *Service) Runs() *bus.RunTracker { return s.runs }

// Store 底层归档存储。
func (s *Service) Store() store.Archive { return s.store }

// FetchRequest 一次拉取。
type FetchRequest struct {
	Channels []int64
	From     time.Time // 零值不限
	To       time.Time // 零值不限
	Limit    int
	// Pause nil 只取一批。
	Pause          *time.Duration
	TrackReactions bool
	// ChainsToRoot 向上补齐回复链到根。
	ChainsToRoot bool
	Source       string // cli / dashboard
	// RunID 为空时自动生成。
	RunID string
}

// FetchResult 拉取结果。Messages 按频道顺序, 补链开启时包含补入的祖先。
type FetchResult struct {
	RunID         string
	Messages      []model.Message
	ChannelTitles map[int64]string
	ChannelCounts map[int64]int
	// SavedIDs 本次写入的存储行 ID (含补链新写入的祖先), 用于 DeleteSaved。
	SavedIDs []int64
	Expand   *threading.ExpandResult
}

// Fetch 逐频道拉取并入库。
//
// 某个频道失败时立即结束, 返回已完成部分和错误。补链中某个频道存储失败时,
// 该频道退回原始消息, 其余频道照常补齐, 结果连同 *threading.ExpandError 一起返回。
func (s *Service) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	const op = "archive.Fetch"
	channels := lo.Uniq(lo.Filter(req.Channels, func(id int64, _ int) bool { return id != 0 }))
	if len(channels) == 0 {
		return nil, apperrors.Invalid(op, "no channels selected")
	}
	if s.remote == nil {
		return nil, apperrors.New(op, "telegram gateway is not configured")
	}

	res := &FetchResult{
		RunID:         lo.CoalesceOrEmpty(req.RunID, s.newID()),
		ChannelTitles: make(map[int64]string, len(channels)),
		ChannelCounts: make(map[int64]int, len(channels)),
	}
	source := req.Source
	if source == "" {
		source = "cli"
	}
	log := logger.With(logger.FieldRunID, res.RunID)
	ctx = logger.WithContext(ctx, log)
	start := time.Now()

	s.runs.Begin(res.RunID, source, channels)
	err := s.fetch(ctx, req, channels, res)
	s.runs.End(res.RunID, err)

	log.Info("archive: fetch finished",
		logger.FieldCount, len(res.Messages),
		"saved", len(res.SavedIDs),
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
		logger.FieldError, err)
	return res, err
}

func (s *Service) fetch(ctx context.Context, req FetchRequest, channels []int64, res *FetchResult) error {
	log := logger.FromContext(ctx)
	for _, channelID := range channels {
		msgs, err := s.remote.FetchHistory(ctx, telegram.HistoryRequest{
			ChannelID: channelID,
			From:      req.From,
			To:        req.To,
			Limit:     req.Limit,
			Pause:     req.Pause,
		})
		if err != nil {
			return apperrors.Wrapf(err, "archive.Fetch", "fetch history of channel %d", channelID)
		}
		if err := s.persist(ctx, msgs, req.TrackReactions, res); err != nil {
			return err
		}
		res.Messages = append(res.Messages, msgs...)
		res.ChannelCounts[channelID] = len(msgs)

		title := s.channelTitle(ctx, channelID)
		res.ChannelTitles[channelID] = title
		log.Info("archive: channel fetched",
			logger.FieldChannelID, channelID, logger.FieldName, title, logger.FieldCount, len(msgs))
		s.runs.Update(res.RunID, "fetch", title, len(res.SavedIDs))
	}

	if req.ChainsToRoot && len(res.Messages) > 0 {
		s.runs.Update(res.RunID, "expand", "", -1)
		if err := s.expandChains(ctx, req.TrackReactions, res); err != nil {
			return err
		}
		s.runs.Update(res.RunID, "expand", "", len(res.SavedIDs))
	}
	return nil
}

// persist 写入消息 (含发送者) 和可选反应快照, 回填 StoreID。
func (s *Service) persist(ctx context.Context, msgs []model.Message, track bool, res *FetchResult) error {
	for i := range msgs {
		id, err := s.store.Upsert(ctx, &msgs[i])
		if err != nil {
			return err
		}
		msgs[i].StoreID = id
		res.SavedIDs = append(res.SavedIDs, id)
		if track {
			if err := s.store.SaveReactionSnapshot(ctx, id, msgs[i].ReactionsCount); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) channelTitle(ctx context.Context, channelID int64) string {
	info, err := s.remote.DialogInfo(ctx, channelID)
	if err != nil {
		logger.FromContext(ctx).Warn("archive: dialog info unavailable",
			logger.FieldChannelID, channelID, logger.FieldError, err)
		return UnknownTitle
	}
	if name := info.DisplayName(); name != "" {
		return name
	}
	return UnknownTitle
}

// expandChains 补齐祖先并合并进 res。部分频道失败时仍合并成功的频道, 返回 *threading.ExpandError。
func (s *Service) expandChains(ctx context.Context, track bool, res *FetchResult) error {
	log := logger.FromContext(ctx)
	exp := threading.NewExpander(s.store, s.remote, s.expand)
	result, err := exp.Expand(ctx, res.Messages)
	var expErr *threading.ExpandError
	if err != nil && !errors.As(err, &expErr) {
		return err
	}
	if result == nil {
		return err
	}

	res.Expand = result
	res.Messages = result.Messages
	for _, scope := range result.Scopes {
		for _, m := range scope.Persisted {
			res.SavedIDs = append(res.SavedIDs, m.StoreID)
			if !track {
				continue
			}
			if err := s.store.SaveReactionSnapshot(ctx, m.StoreID, m.ReactionsCount); err != nil {
				log.Warn("archive: reaction snapshot failed",
					logger.FieldMessageID, m.StoreID, logger.FieldError, err)
			}
		}
		s.publishScope(res.RunID, scope)
	}
	if expErr != nil {
		log.Warn("archive: chain expansion failed in some channels", logger.FieldError, expErr)
		return expErr
	}
	return nil
}

func (s *Service) publishScope(runID string, scope *threading.ScopeReport) {
	payload := map[string]any{
		"run_id":        runID,
		"channel_id":    scope.ChannelID,
		"input":         scope.Input,
		"added":         scope.Added,
		"cache_hits":    scope.Count(threading.CacheHit),
		"remote_hits":   scope.Count(threading.RemoteHit),
		"unresolved":    scope.Count(threading.Unresolved),
		"remote_errors": scope.RemoteErrors,
		"truncated":     scope.Truncated,
	}
	if scope.Err != nil {
		payload["error"] = scope.Err.Error()
	}
	s.bus.PublishEvent(bus.TopicExpand, strconv.FormatInt(scope.ChannelID, 10), "system", bus.MsgExpandScope, payload)
}

// DeleteSaved 删除本次运行写入的所有行 (输出完成之后调用)。
func (s *Service) DeleteSaved(ctx context.Context, res *FetchResult) (int64, error) {
	if res == nil || len(res.SavedIDs) == 0 {
		return 0, nil
	}
	ids := lo.Uniq(res.SavedIDs)
	s.runs.Update(res.RunID, "delete", "", -1)
	n, err := s.store.DeleteMessages(ctx, ids)
	if err != nil {
		return 0, err
	}
	logger.Info("archive: saved rows deleted", logger.FieldRunID, res.RunID, logger.FieldCount, n)
	return n, nil
}

// ClearRequest 清理条件, 零值字段不限制。
type ClearRequest struct {
	ChannelID int64
	From      time.Time
	To        time.Time
	Source    string
}

// Clear 按频道/时间清理归档。返回删除条数。
func (s *Service) Clear(ctx context.Context, req ClearRequest) (int64, error) {
	n, err := s.store.ClearMessages(ctx, store.MessageFilter{ChannelID: req.ChannelID, From: req.From, To: req.To})
	if err != nil {
		return 0, err
	}
	payload := map[string]any{"deleted": n, "channel_id": req.ChannelID}
	if !req.From.IsZero() {
		payload["from"] = req.From
	}
	if !req.To.IsZero() {
		payload["to"] = req.To
	}
	s.bus.PublishEvent(bus.TopicClear, "", lo.CoalesceOrEmpty(req.Source, "cli"), bus.MsgClear, payload)
	logger.Info("archive: messages cleared",
		logger.FieldChannelID, req.ChannelID, logger.FieldCount, n)
	return n, nil
}

// Reactions 最近 hours 小时内反应数有变化的消息, 变化大的在前。hours <= 0 使用 24。
func (s *Service) Reactions(ctx context.Context, hours int) ([]store.ReactionChange, int, error) {
	if hours <= 0 {
		hours = DefaultReactionHours
	}
	changes, err := s.store.ReactionChanges(ctx, hours)
	return changes, hours, err
}

// ChannelTitle 单个频道的显示名, 网关不可用时返回 UnknownTitle。
func (s *Service) ChannelTitle(ctx context.Context, channelID int64) string {
	if s.remote == nil {
		return UnknownTitle
	}
	return s.channelTitle(ctx, channelID)
}
