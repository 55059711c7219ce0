// protocol.go — MTProto 网关 JSON-RPC 2.0 协议。
//
// 网关 (sidecar) 以 WebSocket 暴露 JSON-RPC 2.0:
//   - Client → Gateway: {jsonrpc,id,method,params}
//   - Gateway → Client: {jsonrpc,id,result} 或 {jsonrpc,id,error}
//
// 方法:
//   - auth.status       → AuthStatus
//   - dialogs.list      {limit}                              → []Dialog
//   - dialogs.get       {id}                                 → DialogInfo | null
//   - messages.get      {channel_id, id}                     → wireMessage | null
//   - messages.history  {channel_id, limit, offset_date, max_id} → []wireMessage (新的在前,
//     只含 date < offset_date 且 id <= max_id 的消息; 零值参数不生效)
package telegram

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weitek/telegram-channel-meaning/internal/model"
)

// RPC 方法名。
const (
	MethodAuthStatus      = "auth.status"
	MethodDialogsList     = "dialogs.list"
	MethodDialogsGet      = "dialogs.get"
	MethodMessagesGet     = "messages.get"
	MethodMessagesHistory = "messages.history"
)

// ========================================
// JSON-RPC 2.0 信封
// ========================================

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError 网关返回的 JSON-RPC 错误。不重试。
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// pendingCall 等待响应的调用。conn 为发出请求的连接, 断线时只失败该连接上的调用。
type pendingCall struct {
	conn   *websocket.Conn
	result json.RawMessage
	err    error
	done   chan struct{}
	once   sync.Once
}

func newPendingCall(conn *websocket.Conn) *pendingCall {
	return &pendingCall{conn: conn, done: make(chan struct{})}
}

// resolve 只有第一次生效。
func (pc *pendingCall) resolve(result json.RawMessage, err error) {
	pc.once.Do(func() {
		pc.result = result
		pc.err = err
		close(pc.done)
	})
}

// ========================================
// 请求参数
// ========================================

type getParams struct {
	ChannelID int64 `json:"channel_id"`
	ID        int64 `json:"id"`
}

type historyParams struct {
	ChannelID  int64      `json:"channel_id"`
	Limit      int        `json:"limit"`
	OffsetDate *time.Time `json:"offset_date,omitempty"`
	MaxID      int64      `json:"max_id,omitempty"`
}

type dialogsParams struct {
	Limit int `json:"limit,omitempty"`
}

type dialogParams struct {
	ID int64 `json:"id"`
}

// ========================================
// 返回结构
// ========================================

// AuthStatus 网关登录状态。
type AuthStatus struct {
	Authorized bool     `json:"authorized"`
	User       *Account `json:"user,omitempty"`
}

// Account 当前登录账号。
type Account struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
	Phone     string `json:"phone"`
	IsPremium bool   `json:"is_premium"`
}

// Dialog 对话列表项 (仅未归档)。
type Dialog struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	UnreadCount       int    `json:"unread_count"`
	IsChannel         bool   `json:"is_channel"`
	IsGroup           bool   `json:"is_group"`
	IsUser            bool   `json:"is_user"`
	Username          string `json:"username,omitempty"`
	ParticipantsCount *int   `json:"participants_count,omitempty"`
}

// DialogInfo 对话详情。
type DialogInfo struct {
	ID                int64  `json:"id"`
	Type              string `json:"type"`
	Title             string `json:"title,omitempty"`
	Username          string `json:"username,omitempty"`
	FirstName         string `json:"first_name,omitempty"`
	LastName          string `json:"last_name,omitempty"`
	IsBroadcast       bool   `json:"is_broadcast,omitempty"`
	IsMegagroup       bool   `json:"is_megagroup,omitempty"`
	ParticipantsCount *int   `json:"participants_count,omitempty"`
}

// DisplayName 标题, 用户对话退回姓名。
func (d *DialogInfo) DisplayName() string {
	if d == nil {
		return ""
	}
	if d.Title != "" {
		return d.Title
	}
	s := model.Sender{FirstName: d.FirstName, LastName: d.LastName, Username: d.Username}
	return s.DisplayName()
}

// ========================================
// 消息
// ========================================

type wireSender struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

type wireReaction struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

type wireMessage struct {
	ID           int64          `json:"id"`
	Date         *time.Time     `json:"date"`
	Text         string         `json:"text"`
	ReplyToMsgID int64          `json:"reply_to_msg_id"`
	Sender       *wireSender    `json:"sender"`
	Reactions    []wireReaction `json:"reactions"`
	Views        int            `json:"views"`
	Forwards     int            `json:"forwards"`
	HasMedia     bool           `json:"has_media"`
}

// rawMessage 存入 raw_json 列的精简快照。
type rawMessage struct {
	ID        int64          `json:"id"`
	Date      *string        `json:"date"`
	Message   string         `json:"message"`
	Views     int            `json:"views"`
	Forwards  int            `json:"forwards"`
	Reactions []wireReaction `json:"reactions"`
}

// toModel 转为领域消息: 反应数求和, 时间归一到 UTC。
func (w *wireMessage) toModel(channelID int64) model.Message {
	msg := model.Message{
		TelegramID:   w.ID,
		ChannelID:    channelID,
		ReplyToMsgID: w.ReplyToMsgID,
		Content:      w.Text,
		Views:        w.Views,
		Forwards:     w.Forwards,
		HasMedia:     w.HasMedia,
	}
	if w.Date != nil {
		msg.Date = w.Date.UTC()
	}
	for _, r := range w.Reactions {
		msg.ReactionsCount += r.Count
	}
	if w.Sender != nil && w.Sender.ID != 0 {
		msg.Sender = &model.Sender{
			ID:        w.Sender.ID,
			FirstName: w.Sender.FirstName,
			LastName:  w.Sender.LastName,
			Username:  w.Sender.Username,
		}
	}
	msg.RawJSON = w.rawJSON()
	return msg
}

func (w *wireMessage) rawJSON() string {
	raw := rawMessage{
		ID:        w.ID,
		Message:   w.Text,
		Views:     w.Views,
		Forwards:  w.Forwards,
		Reactions: w.Reactions,
	}
	if w.Date != nil {
		d := w.Date.UTC().Format(time.RFC3339)
		raw.Date = &d
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return "{}"
	}
	return string(data)
}
