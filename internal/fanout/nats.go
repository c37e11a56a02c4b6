package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/metrics"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATS 通过一个 NATS subject 在节点间转发信封。
type NATS struct {
	nc      *nats.Conn
	subject string

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewNATS(url, subject string) (*NATS, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATS{nc: nc, subject: subject}, nil
}

func (n *NATS) Publish(_ context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := n.nc.Publish(n.subject, b); err != nil {
		metrics.FanoutPublishTotal.WithLabelValues("nats", "error").Inc()
		return fmt.Errorf("nats publish: %w", err)
	}
	metrics.FanoutPublishTotal.WithLabelValues("nats", "ok").Inc()
	return nil
}

// Subscribe 注册异步订阅并 Flush，保证返回时服务端已知晓该订阅。
func (n *NATS) Subscribe(_ context.Context, h Handler) error {
	sub, err := n.nc.Subscribe(n.subject, func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("fanout nats")
			return
		}
		h(context.Background(), env)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := n.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats flush: %w", err)
	}
	n.mu.Lock()
	n.sub = sub
	n.mu.Unlock()
	return nil
}

func (n *NATS) Close() error {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()
	if sub != nil {
		_ = sub.Unsubscribe()
	}
	n.nc.Close()
	return nil
}
