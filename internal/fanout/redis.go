package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"chatrelay/internal/metrics"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis 通过 Redis Pub/Sub 在节点间转发信封。
type Redis struct {
	client  *redis.Client
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
	done   chan struct{}
}

func NewRedis(ctx context.Context, redisURL, channel string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Redis{client: client, channel: channel}, nil
}

func (r *Redis) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		metrics.FanoutPublishTotal.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("redis publish: %w", err)
	}
	metrics.FanoutPublishTotal.WithLabelValues("redis", "ok").Inc()
	return nil
}

// Subscribe 在订阅确认后返回，消息在后台 goroutine 中按到达顺序处理。
func (r *Redis) Subscribe(ctx context.Context, h Handler) error {
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	r.mu.Lock()
	r.pubsub = ps
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("fanout redis")
				continue
			}
			h(context.Background(), env)
		}
	}()
	return nil
}

func (r *Redis) Close() error {
	r.mu.Lock()
	ps, done := r.pubsub, r.done
	r.pubsub = nil
	r.mu.Unlock()
	if ps != nil {
		_ = ps.Close()
		<-done
	}
	return r.client.Close()
}
