package worker

import (
	"context"
	"strings"

	"github.com/audiox/audiox-cache/internal/logging"
)

// MessageType 是页面发给 worker 的控制消息类型。
type MessageType string

const (
	// MessageSkipWaiting 让等待中的新版本立即激活。
	MessageSkipWaiting MessageType = "SKIP_WAITING"
	// MessageGetVersion 查询当前激活版本。
	MessageGetVersion MessageType = "GET_VERSION"
)

// Message 是控制消息的载荷。
type Message struct {
	Type MessageType `json:"type"`
}

// Reply 是控制消息的回复。Status 取值 ok/activated/no_waiting_worker/ignored。
type Reply struct {
	Type    MessageType `json:"type"`
	Status  string      `json:"status"`
	Version string      `json:"version,omitempty"`
}

// PostMessage 处理来自页面的控制消息。未知类型被忽略而不是报错。
func (r *Registration) PostMessage(ctx context.Context, msg Message) (Reply, error) {
	msgType := MessageType(strings.ToUpper(strings.TrimSpace(string(msg.Type))))
	reply := Reply{Type: msgType}

	switch msgType {
	case MessageSkipWaiting:
		target, err := r.SkipWaiting(ctx)
		if err != nil {
			return reply, err
		}
		if target == nil {
			reply.Status = "no_waiting_worker"
			if active := r.Active(); active != nil {
				reply.Version = active.Version()
			}
			return reply, nil
		}
		reply.Version = target.Version()
		reply.Status = "ok"
		if r.Active() == target {
			reply.Status = "activated"
		}
		r.logger.WithFields(logging.LifecycleFields("message", target.Version())).
			WithField("message_type", string(msgType)).Info("skip_waiting_requested")
		return reply, nil

	case MessageGetVersion:
		active := r.Active()
		if active == nil {
			return reply, ErrNoActiveWorker
		}
		reply.Status = "ok"
		reply.Version = active.Version()
		return reply, nil

	default:
		r.logger.WithField("action", "message").
			WithField("message_type", string(msgType)).Debug("message_ignored")
		reply.Status = "ignored"
		return reply, nil
	}
}
