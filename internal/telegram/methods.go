package telegram

import (
	"context"
	"strconv"
	"time"

	"github.com/weitek/telegram-channel-meaning/internal/model"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// DefaultHistoryLimit 每批消息数。
const DefaultHistoryLimit = 100

// AuthStatus 查询网关登录状态。
func (c *Client) AuthStatus(ctx context.Context) (*AuthStatus, error) {
	var st AuthStatus
	if _, err := c.call(ctx, MethodAuthStatus, nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Dialogs 未归档对话列表。limit <= 0 不限。
func (c *Client) Dialogs(ctx context.Context, limit int) ([]Dialog, error) {
	var out []Dialog
	if _, err := c.call(ctx, MethodDialogsList, dialogsParams{Limit: max(limit, 0)}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DialogInfo 对话详情, 不存在或不可访问返回 (nil, nil)。
func (c *Client) DialogInfo(ctx context.Context, id int64) (*DialogInfo, error) {
	var info DialogInfo
	found, err := c.call(ctx, MethodDialogsGet, dialogParams{ID: id}, &info)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

// FetchByID 按 Telegram ID 取单条消息, 不存在/已删除返回 (nil, nil)。
// 同一 (频道, ID) 的并发请求合并为一次网关调用。
func (c *Client) FetchByID(ctx context.Context, channelID, telegramID int64) (*model.Message, error) {
	key := strconv.FormatInt(channelID, 10) + ":" + strconv.FormatInt(telegramID, 10)
	v, err, shared := c.group.Do(key, func() (any, error) {
		var w wireMessage
		found, err := c.call(ctx, MethodMessagesGet, getParams{ChannelID: channelID, ID: telegramID}, &w)
		if err != nil || !found {
			return (*model.Message)(nil), err
		}
		msg := w.toModel(channelID)
		return &msg, nil
	})
	if shared {
		logger.Debugw("telegram: FetchByID shared", logger.FieldChannelID, channelID, logger.FieldTelegramID, telegramID)
	}
	if err != nil {
		return nil, err
	}
	msg := v.(*model.Message)
	if msg == nil {
		return nil, nil
	}
	// 共享结果各自持有副本
	cp := *msg
	if msg.Sender != nil {
		s := *msg.Sender
		cp.Sender = &s
	}
	return &cp, nil
}

// HistoryRequest 按时间范围拉取历史。
type HistoryRequest struct {
	ChannelID int64
	From      time.Time // 零值不限
	To        time.Time // 零值不限
	Limit     int       // 每批条数, <= 0 为 DefaultHistoryLimit
	// Pause nil: 只取一批; 非 nil: 分批直到取完范围, 批间暂停。
	Pause *time.Duration
}

// FetchHistory 拉取 [From, To] 内的消息, 新的在前。
//
// 分批时每批以上一批最后一条为游标 (offset_date = 其时间, max_id = 其 ID - 1),
// 过滤后不足 Limit 条即结束。
func (c *Client) FetchHistory(ctx context.Context, req HistoryRequest) ([]model.Message, error) {
	if req.ChannelID == 0 {
		return nil, apperrors.Invalid("telegram.FetchHistory", "channel id is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	var offsetDate time.Time
	if !req.To.IsZero() {
		offsetDate = req.To
	}
	var maxID int64

	var all []model.Message
	for batchNo := 1; ; batchNo++ {
		batch, err := c.fetchBatch(ctx, req, limit, offsetDate, maxID)
		if err != nil {
			return all, err
		}
		all = append(all, batch...)
		logger.Debugw("telegram: history batch",
			logger.FieldChannelID, req.ChannelID,
			logger.FieldBatch, batchNo,
			logger.FieldCount, len(batch))

		if req.Pause == nil || len(batch) < limit {
			break
		}
		last := batch[len(batch)-1]
		offsetDate = last.Date
		maxID = last.TelegramID - 1
		if maxID <= 0 {
			break
		}
		if err := sleepContext(ctx, *req.Pause); err != nil {
			return all, apperrors.RemoteFailure(err, "telegram.FetchHistory", "pause interrupted")
		}
	}
	return all, nil
}

// fetchBatch 取一批并按 [From, To] 过滤; 无时间的消息保留。
func (c *Client) fetchBatch(ctx context.Context, req HistoryRequest, limit int, offsetDate time.Time, maxID int64) ([]model.Message, error) {
	params := historyParams{ChannelID: req.ChannelID, Limit: limit, MaxID: maxID}
	if !offsetDate.IsZero() {
		od := offsetDate.UTC()
		params.OffsetDate = &od
	}
	var wire []wireMessage
	if _, err := c.call(ctx, MethodMessagesHistory, params, &wire); err != nil {
		return nil, err
	}
	out := make([]model.Message, 0, len(wire))
	for i := range wire {
		msg := wire[i].toModel(req.ChannelID)
		if msg.HasDate() {
			if !req.From.IsZero() && msg.Date.Before(req.From) {
				continue
			}
			if !req.To.IsZero() && msg.Date.After(req.To) {
				continue
			}
		}
		out = append(out, msg)
	}
	return out, nil
}
