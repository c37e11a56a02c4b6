// Package fanout 把会话注册表发出的事件分发到集群中的每个节点。
// 所有驱动共用一个主题，每个节点收到全部信封后只投递给本地会话。
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chatrelay/internal/config"
)

// TargetKind 描述一次投递的接收方范围。
type TargetKind string

const (
	TargetConnection TargetKind = "connection"
	TargetRoom       TargetKind = "room"
	TargetAll        TargetKind = "all"
)

// Target 是投递目标。Except 非空时排除该连接。
type Target struct {
	Kind   TargetKind `json:"kind"`
	Room   string     `json:"room,omitempty"`
	Conn   string     `json:"conn,omitempty"`
	Except string     `json:"except,omitempty"`
}

// EnvelopeKind 区分普通事件和控制消息。
type EnvelopeKind string

const (
	KindEmit      EnvelopeKind = "emit"
	KindCloseRoom EnvelopeKind = "close_room"
)

// Envelope 是在节点之间传递的单位。
type Envelope struct {
	Origin  string          `json:"origin"`
	Kind    EnvelopeKind    `json:"kind"`
	Event   string          `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Target  Target          `json:"target"`
}

// Key 返回用于分区的键，同一目标的信封保持顺序。
func (e Envelope) Key() string {
	switch e.Target.Kind {
	case TargetRoom:
		return "room:" + e.Target.Room
	case TargetConnection:
		return "conn:" + e.Target.Conn
	default:
		return "all"
	}
}

// Handler 处理从传输层收到的信封。
type Handler func(ctx context.Context, env Envelope)

// Transport 是跨节点的发布订阅通道。
type Transport interface {
	// Publish 把信封发往所有节点，包括自己。
	Publish(ctx context.Context, env Envelope) error
	// Subscribe 注册唯一的处理函数，订阅建立后返回。
	Subscribe(ctx context.Context, h Handler) error
	Close() error
}

var ErrClosed = errors.New("fanout transport closed")

// Open 按配置选择驱动。
func Open(ctx context.Context, cfg config.Config) (Transport, error) {
	switch cfg.FanoutDriver {
	case "local", "":
		return NewLocal(), nil
	case "redis":
		return NewRedis(ctx, cfg.RedisURL, cfg.FanoutTopic)
	case "nats":
		return NewNATS(cfg.NATSURL, cfg.FanoutTopic)
	case "kafka":
		return NewKafka(cfg.KafkaBrokers, cfg.FanoutTopic, cfg.NodeID), nil
	default:
		return nil, fmt.Errorf("unsupported fanout driver %q", cfg.FanoutDriver)
	}
}

func decode(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
