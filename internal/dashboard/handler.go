// handler.go — REST API handlers。
package dashboard

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/weitek/telegram-channel-meaning/internal/archive"
	"github.com/weitek/telegram-channel-meaning/internal/export"
	"github.com/weitek/telegram-channel-meaning/internal/store"
	"github.com/weitek/telegram-channel-meaning/internal/threading"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/health", s.health)
	api.GET("/stats", s.stats)
	api.GET("/channels", s.listChannels)
	api.GET("/senders", s.listSenders)

	api.GET("/messages", s.listMessages)
	api.GET("/messages/:id", s.getMessage)
	api.GET("/messages/:id/reactions", s.reactionHistory)
	api.GET("/reactions/changes", s.reactionChanges)

	api.POST("/archive/fetch", s.startFetch)
	api.GET("/archive/runs", s.listRuns)

	api.GET("/logs", s.listLogs)
	api.GET("/logs/filters", s.logFilters)

	api.GET("/events", s.sseHandler)
}

// ========================================
// 查询参数
// ========================================

// maxQueryLimit 单次查询上限。
const maxQueryLimit = 10000

func (s *Server) queryLimit(c *gin.Context) int {
	v, err := strconv.Atoi(c.Query("limit"))
	if err != nil || v < 1 {
		return s.opts.QueryLimit
	}
	return util.ClampInt(v, 1, maxQueryLimit)
}

func queryInt64(c *gin.Context, key string) (int64, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apperrors.Invalid("dashboard.query", "%s must be an integer", key)
	}
	return v, nil
}

// queryTime 接受 RFC3339 / YYYY-MM-DD / YYYY-MM-DDTHH:MM:SS (按看板时区解释)。
func (s *Server) queryTime(c *gin.Context, key string, endOfDay bool) (time.Time, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	return archive.ParseDate(raw, s.opts.Location, endOfDay)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

// ========================================
// 概览
// ========================================

func (s *Server) health(c *gin.Context) {
	success(c, gin.H{
		"status":  "ok",
		"backend": s.svc.Store().Backend(),
		"time":    time.Now().UTC(),
		"runs":    s.svc.Runs().Snapshot(),
	})
}

func (s *Server) stats(c *gin.Context) {
	st, err := s.svc.Store().Statistics(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, st)
}

func (s *Server) listChannels(c *gin.Context) {
	counts, err := s.svc.Store().ChannelCounts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	selected := []int64{}
	if s.opts.Settings != nil {
		selected = append(selected, s.opts.Settings.SelectedChannels()...)
	}
	success(c, gin.H{"archived": counts, "selected": selected})
}

func (s *Server) listSenders(c *gin.Context) {
	senders, err := s.svc.Store().ListSenders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, senders)
}

// ========================================
// 消息
// ========================================

func (s *Server) listMessages(c *gin.Context) {
	channelID, err := queryInt64(c, "channel_id")
	if err != nil {
		respondError(c, err)
		return
	}
	from, err := s.queryTime(c, "from", false)
	if err != nil {
		respondError(c, err)
		return
	}
	to, err := s.queryTime(c, "to", true)
	if err != nil {
		respondError(c, err)
		return
	}
	offset, _ := strconv.Atoi(c.Query("offset"))

	msgs, err := s.svc.Store().ListMessages(c.Request.Context(), store.MessageFilter{
		ChannelID: channelID,
		From:      from,
		To:        to,
		Query:     c.Query("q"),
		Limit:     s.queryLimit(c),
		Offset:    max(offset, 0),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	order := threading.ParseSortOrder(c.Query("sort"))
	switch c.DefaultQuery("format", "flat") {
	case "flat":
		success(c, export.FlatView(msgs, order))
	case "chains":
		success(c, export.ChainsView(msgs, order))
	default:
		badRequest(c, "format must be flat or chains")
	}
}

func (s *Server) getMessage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	msg, err := s.svc.Store().GetMessage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if msg == nil {
		notFound(c, "message not found")
		return
	}
	success(c, export.NewMessageJSON(*msg))
}

func (s *Server) reactionHistory(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	hist, err := s.svc.Store().ReactionHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, hist)
}

func (s *Server) reactionChanges(c *gin.Context) {
	hours, _ := strconv.Atoi(c.Query("hours"))
	changes, hours, err := s.svc.Reactions(c.Request.Context(), hours)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, export.ReactionsView(hours, changes))
}

// ========================================
// 拉取
// ========================================

type fetchRequest struct {
	Channels       []int64  `json:"channels"`
	PeriodOffset   []int64  `json:"period_offset"` // [start, end] 秒
	PeriodDates    []string `json:"period_dates"`  // [from, to]
	Limit          int      `json:"limit"`
	TrackReactions bool     `json:"track_reactions"`
	ChainsToRoot   bool     `json:"chains_to_root"`
}

// toFetch 转为服务请求; 频道为空时使用设置中的已选频道。
func (s *Server) toFetch(req fetchRequest, now time.Time) (archive.FetchRequest, error) {
	const op = "dashboard.fetch"
	out := archive.FetchRequest{
		Channels:       req.Channels,
		Limit:          req.Limit,
		TrackReactions: req.TrackReactions,
		ChainsToRoot:   req.ChainsToRoot,
		Source:         "dashboard",
	}
	if len(out.Channels) == 0 && s.opts.Settings != nil {
		out.Channels = s.opts.Settings.SelectedChannels()
		out.Pause = s.opts.Settings.Pause()
		if out.Limit <= 0 {
			out.Limit = s.opts.Settings.Limit()
		}
	}
	if len(out.Channels) == 0 {
		return out, apperrors.Invalid(op, "no channels given and none selected")
	}

	var err error
	switch {
	case len(req.PeriodOffset) > 0:
		if len(req.PeriodOffset) != 2 {
			return out, apperrors.Invalid(op, "period_offset needs [start, end]")
		}
		out.From, out.To, err = archive.ParsePeriodOffset(req.PeriodOffset[0], req.PeriodOffset[1], now)
	case len(req.PeriodDates) > 0:
		if len(req.PeriodDates) != 2 {
			return out, apperrors.Invalid(op, "period_dates needs [from, to]")
		}
		out.From, out.To, err = archive.ParsePeriodDates(req.PeriodDates[0], req.PeriodDates[1], s.opts.Location)
	}
	return out, err
}

// startFetch 后台启动一次拉取, 立即返回 run_id; 进度经 /api/events 推送。
func (s *Server) startFetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	fr, err := s.toFetch(req, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	fr.RunID = uuid.NewString()

	util.SafeGo("dashboard.fetch:"+fr.RunID, func() {
		if _, err := s.svc.Fetch(s.runCtx, fr); err != nil {
			logger.Warn("dashboard: fetch run failed", logger.FieldRunID, fr.RunID, logger.FieldError, err)
		}
	})
	accepted(c, gin.H{"run_id": fr.RunID, "channels": fr.Channels})
}

func (s *Server) listRuns(c *gin.Context) {
	success(c, s.svc.Runs().Snapshot())
}

// ========================================
// 日志 (仅 PG 后端)
// ========================================

func (s *Server) listLogs(c *gin.Context) {
	if s.opts.Logs == nil {
		notFound(c, "archive logs require the postgres backend")
		return
	}
	channelID, err := queryInt64(c, "channel_id")
	if err != nil {
		respondError(c, err)
		return
	}
	logs, err := s.opts.Logs.List(c.Request.Context(), store.LogListParams{
		Level:     c.Query("level"),
		Component: c.Query("component"),
		Source:    c.Query("source"),
		RunID:     c.Query("run_id"),
		ChannelID: channelID,
		Keyword:   c.Query("keyword"),
		Limit:     s.queryLimit(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, logs)
}

func (s *Server) logFilters(c *gin.Context) {
	if s.opts.Logs == nil {
		notFound(c, "archive logs require the postgres backend")
		return
	}
	values, err := s.opts.Logs.FilterValues(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, values)
}
