// sse.go — 将消息总线的 archive.* 事件桥接为 SSE。
package dashboard

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/weitek/telegram-channel-meaning/internal/bus"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// sseHandler 推送归档事件; 空闲时按 SSEPing 发送 ping。
// 可选 ?topic= 收窄订阅 (如 archive.run)。
func (s *Server) sseHandler(c *gin.Context) {
	if s.opts.Bus == nil {
		fail(c, http.StatusServiceUnavailable, "unavailable", "event bus disabled")
		return
	}
	filter := c.DefaultQuery("topic", bus.TopicArchive)
	clientID := "sse-" + uuid.NewString()
	sub := s.opts.Bus.Subscribe(clientID, filter)
	defer func() {
		s.opts.Bus.Unsubscribe(clientID)
		logger.Info("dashboard: SSE client disconnected", logger.FieldSubscriber, clientID)
	}()
	logger.Info("dashboard: SSE client connected", logger.FieldSubscriber, clientID, logger.FieldTopic, filter)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	keepalive := time.NewTimer(s.opts.SSEPing)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, ok := <-sub.Ch:
			if !ok {
				return false
			}
			c.SSEvent(msg.Type, msg)
			if !keepalive.Stop() {
				select {
				case <-keepalive.C:
				default:
				}
			}
			keepalive.Reset(s.opts.SSEPing)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			keepalive.Reset(s.opts.SSEPing)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
