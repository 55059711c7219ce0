// Package telegram MTProto 网关客户端 (JSON-RPC 2.0 over WebSocket)。
//
// 连接惰性建立: 首次调用或断线后的下一次调用时拨号。
// 每次调用失败 (断线/超时) 按指数退避重试 MaxRetries 次; 网关返回的 RPC 错误不重试。
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/weitek/telegram-channel-meaning/internal/config"
	apperrors "github.com/weitek/telegram-channel-meaning/pkg/errors"
	"github.com/weitek/telegram-channel-meaning/pkg/logger"
	"github.com/weitek/telegram-channel-meaning/pkg/util"
)

const (
	defaultCallTimeout = 30 * time.Second
	dialTimeout        = 5 * time.Second
	writeTimeout       = 10 * time.Second
	pingInterval       = 20 * time.Second
	readIdleTimeout    = 90 * time.Second
	reconnectBaseDelay = 500 * time.Millisecond
	reconnectMaxDelay  = 10 * time.Second
)

// Options 客户端参数。
type Options struct {
	URL        string
	Timeout    time.Duration // 单次调用超时
	MaxRetries int           // 失败后额外重试次数
}

// OptionsFromConfig 从全局配置构造。
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:        cfg.TGGatewayURL,
		Timeout:    cfg.GatewayTimeout(),
		MaxRetries: cfg.TGGatewayMaxRetries,
	}
}

// Client 网关客户端, 并发安全。
type Client struct {
	opts Options

	// wsMu 保护 ws (写入序列化 + 替换)。
	ws   *websocket.Conn
	wsMu sync.Mutex
	// dialMu 串行化拨号, 避免并发调用重复建连。
	dialMu sync.Mutex

	nextID  atomic.Int64
	pending sync.Map // id → *pendingCall
	group   singleflight.Group

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
}

// New 创建客户端 (不立即连接)。
func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultCallTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{opts: opts, ctx: ctx, cancel: cancel}
}

// Connect 预先建立连接 (可选)。
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.ensureConn(ctx)
	return err
}

// Close 关闭连接并使所有等待中的调用失败。
func (c *Client) Close() error {
	if !c.stopped.CompareAndSwap(false, true) {
		return nil
	}
	c.cancel()
	c.wsMu.Lock()
	ws := c.ws
	c.ws = nil
	c.wsMu.Unlock()
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = ws.Close()
	}
	c.failPendingCalls(nil, apperrors.New("telegram.Close", "client closed"))
	return nil
}

// ========================================
// 连接管理
// ========================================

func (c *Client) currentConn() *websocket.Conn {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws
}

func (c *Client) ensureConn(ctx context.Context) (*websocket.Conn, error) {
	if c.stopped.Load() {
		return nil, apperrors.New("telegram.connect", "client closed")
	}
	if conn := c.currentConn(); conn != nil {
		return conn, nil
	}
	c.dialMu.Lock()
	defer c.dialMu.Unlock()
	if conn := c.currentConn(); conn != nil {
		return conn, nil
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return nil, apperrors.RemoteFailure(err, "telegram.connect", "dial "+c.opts.URL)
	}
	c.wsMu.Lock()
	c.ws = conn
	c.wsMu.Unlock()

	util.SafeGo("telegram.read", func() { c.readLoop(conn) })
	util.SafeGo("telegram.ping", func() { c.pingLoop(conn) })
	logger.Debugw("telegram: gateway connected", logger.FieldURL, c.opts.URL)
	return conn, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	if strings.TrimSpace(c.opts.URL) == "" {
		return nil, errors.New("gateway url is empty")
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: dialTimeout,
		NetDialContext:   (&net.Dialer{Timeout: dialTimeout}).DialContext,
	}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readIdleTimeout))
	})
	return conn, nil
}

// dropConn 仅当 conn 仍为当前连接时清除。
func (c *Client) dropConn(conn *websocket.Conn) {
	c.wsMu.Lock()
	if c.ws == conn {
		c.ws = nil
	}
	c.wsMu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.dropConn(conn)
			if c.stopped.Load() {
				return
			}
			readErr := apperrors.RemoteFailure(err, "telegram.readLoop", "read message")
			c.failPendingCalls(conn, readErr)
			logger.Warn("telegram: gateway connection lost", logger.FieldError, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readIdleTimeout))

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("telegram: unparseable gateway message",
				logger.FieldError, err,
				"raw_prefix", util.TruncateRunes(string(data), 200, "..."))
			continue
		}
		if msg.ID == nil {
			// 网关通知 (无 id) 暂不处理
			logger.Debugw("telegram: gateway notification", logger.FieldMethod, msg.Method)
			continue
		}
		value, ok := c.pending.Load(*msg.ID)
		if !ok {
			logger.Warn("telegram: orphan RPC response", logger.FieldID, *msg.ID)
			continue
		}
		pc := value.(*pendingCall)
		if msg.Error != nil {
			pc.resolve(nil, msg.Error)
			continue
		}
		pc.resolve(msg.Result, nil)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.wsMu.Lock()
			if c.ws != conn {
				c.wsMu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(writeTimeout))
			c.wsMu.Unlock()
			if err != nil {
				c.dropConn(conn)
				return
			}
		}
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != conn {
		return apperrors.New("telegram.write", "connection replaced")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		c.ws = nil
		_ = conn.Close()
		return apperrors.RemoteFailure(err, "telegram.write", "ws write")
	}
	return nil
}

// failPendingCalls 失败 conn 上尚未完成的调用; conn 为 nil 时失败全部调用。
// 已切换到新连接的调用不受旧连接断开影响。
func (c *Client) failPendingCalls(conn *websocket.Conn, err error) {
	c.pending.Range(func(_, value any) bool {
		if pc, ok := value.(*pendingCall); ok && (conn == nil || pc.conn == conn) {
			pc.resolve(nil, err)
		}
		return true
	})
}

// ========================================
// JSON-RPC 调用
// ========================================

// reconnectDelay 第 attempt 次重试前的等待 (attempt 从 1 开始)。
func reconnectDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := reconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= reconnectMaxDelay {
			return reconnectMaxDelay
		}
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// call 发送请求并把 result 解码到 out (out 可为 nil)。
// 返回 (null 结果, error): null 结果时 found=false。
func (c *Client) call(ctx context.Context, method string, params, out any) (found bool, err error) {
	const op = "telegram.Call"
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepContext(ctx, reconnectDelay(attempt)); err != nil {
				return false, apperrors.RemoteFailure(err, op, method)
			}
			logger.Warn("telegram: retrying gateway call",
				logger.FieldMethod, method,
				logger.FieldAttempt, attempt,
				logger.FieldError, lastErr)
		}
		raw, err := c.callOnce(ctx, method, params)
		if err == nil {
			if len(raw) == 0 || string(raw) == "null" {
				return false, nil
			}
			if out != nil {
				if err := json.Unmarshal(raw, out); err != nil {
					return false, apperrors.RemoteFailure(err, op, "decode "+method)
				}
			}
			return true, nil
		}
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			return false, apperrors.RemoteFailure(err, op, method)
		}
		if ctx.Err() != nil || c.stopped.Load() {
			return false, apperrors.RemoteFailure(err, op, method)
		}
		lastErr = err
	}
	return false, apperrors.RemoteFailure(lastErr, op, method)
}

func (c *Client) callOnce(ctx context.Context, method string, params any) (json.RawMessage, error) {
	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	pc := newPendingCall(conn)
	c.pending.Store(id, pc)
	defer c.pending.Delete(id)

	if err := c.writeJSON(conn, rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.opts.Timeout)
	defer timer.Stop()
	select {
	case <-pc.done:
		return pc.result, pc.err
	case <-timer.C:
		return nil, apperrors.Newf("telegram.Call", "%s timeout after %s", method, c.opts.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.ctx.Done():
		return nil, apperrors.New("telegram.Call", "client closed")
	}
}
