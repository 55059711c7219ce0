// Package bus 进程内消息总线: 归档运行事件 fan-out 到 SSE 与日志。
//
// Topic 约定:
//   - archive.run.{run_id}      一次归档运行的开始/进度/完成/失败
//   - archive.expand.{channel}  单个频道补链完成
//   - archive.clear             清理归档
package bus

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/weitek/telegram-channel-meaning/pkg/logger"
)

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"` // archive.run.{id} / archive.expand.{channel}
	From      string          `json:"from"`  // 来源: cli / dashboard / system
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型。
const (
	MsgRunStart    = "run.start"
	MsgRunProgress = "run.progress"
	MsgRunComplete = "run.complete"
	MsgRunFail     = "run.fail"

	// MsgExpandScope 单个频道补链结束 (含命中/缺口统计)。
	MsgExpandScope = "expand.scope"

	MsgClear = "clear"
)

// Topic 前缀。
const (
	TopicArchive = "archive"
	TopicRun     = "archive.run"
	TopicExpand  = "archive.expand"
	TopicClear   = "archive.clear"

	// TopicAll 所有消息。
	TopicAll = "*"
)

// Subscriber 订阅者。
type Subscriber struct {
	ID     string
	Filter string // topic 前缀 ("archive.run" / "*")
	Ch     chan Message
}

const subscriberBuffer = 64

// MessageBus topic 前缀匹配的 pub/sub。
//
//   - 订阅 "archive.run" → 收到 archive.run.{任意 id}
//   - 订阅 "*" → 收到所有消息
//
// 订阅者通道满时丢弃, 发布方不阻塞。
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	seq         int64
	onPublish   func(Message)
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{subscribers: make(map[string]*Subscriber)}
}

// SetOnPublish 设置全局发布回调 (日志桥接)。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息。seq 递增与 fan-out 在同一把锁下, 到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish
	for _, sub := range b.subscribers {
		if !matchTopic(sub.Filter, msg.Topic) {
			continue
		}
		select {
		case sub.Ch <- msg:
		default:
			logger.Debugw("bus: subscriber full, message dropped",
				logger.FieldSubscriber, sub.ID, logger.FieldTopic, msg.Topic, logger.FieldSeq, msg.Seq)
		}
	}
	b.mu.Unlock()

	if onPub != nil {
		onPub(msg)
	}
}

// PublishEvent 序列化 payload 后发布到 topicPrefix.id (id 为空时直接用 topicPrefix)。
func (b *MessageBus) PublishEvent(topicPrefix, id, from, msgType string, payload any) {
	if b == nil {
		return
	}
	topic := topicPrefix
	if id != "" {
		topic += "." + id
	}
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("bus: marshal payload failed", logger.FieldTopic, topic, logger.FieldError, err)
		return
	}
	b.Publish(Message{Topic: topic, From: from, Type: msgType, Payload: data})
}

// Subscribe 订阅。同 id 重复订阅会替换旧订阅者 (旧通道关闭)。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subscribers[id]; ok {
		close(old.Ch)
	}
	sub := &Subscriber{ID: id, Filter: filter, Ch: make(chan Message, subscriberBuffer)}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅并关闭通道。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// LogEvents 把每条消息以 Debug 级别写入日志。
func (b *MessageBus) LogEvents() {
	b.SetOnPublish(func(m Message) {
		logger.Debugw("bus: event",
			logger.FieldTopic, m.Topic,
			logger.FieldSeq, m.Seq,
			logger.FieldSource, m.From,
			"type", m.Type)
	})
}

// matchTopic filter "*" 匹配全部; 否则 topic 等于 filter 或以 "filter." 开头。
func matchTopic(filter, topic string) bool {
	if filter == TopicAll || filter == "" {
		return true
	}
	if topic == filter {
		return true
	}
	return strings.HasPrefix(topic, filter) && len(topic) > len(filter) && topic[len(filter)] == '.'
}
