package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chatrelay/internal/metrics"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// Kafka 通过一个 Kafka topic 在节点间转发信封。每个节点使用独立的消费组，
// 因而每个节点都能收到全部消息；按目标分区保证同一房间内的顺序。
type Kafka struct {
	writer *kafka.Writer
	reader *kafka.Reader

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKafka(brokers []string, topic, nodeID string) *Kafka {
	return &Kafka{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    topic,
			Balancer: &kafka.Hash{},
		}),
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			GroupID:        "chatrelay-" + nodeID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			StartOffset:    kafka.LastOffset,
			CommitInterval: time.Second,
		}),
	}
}

func (k *Kafka) Publish(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(env.Key()), Value: b}); err != nil {
		metrics.FanoutPublishTotal.WithLabelValues("kafka", "error").Inc()
		return fmt.Errorf("kafka publish: %w", err)
	}
	metrics.FanoutPublishTotal.WithLabelValues("kafka", "ok").Inc()
	return nil
}

// Subscribe 启动后台消费循环后立即返回。
func (k *Kafka) Subscribe(ctx context.Context, h Handler) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	k.mu.Lock()
	k.cancel, k.done = cancel, done
	k.mu.Unlock()

	go func() {
		defer close(done)
		for {
			m, err := k.reader.FetchMessage(runCtx)
			if err != nil {
				if runCtx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("fanout kafka fetch")
				time.Sleep(time.Second)
				continue
			}
			if env, err := decode(m.Value); err != nil {
				log.Warn().Err(err).Str("topic", m.Topic).Msg("fanout kafka")
			} else {
				h(runCtx, env)
			}
			if err := k.reader.CommitMessages(runCtx, m); err != nil && runCtx.Err() == nil {
				log.Warn().Err(err).Msg("fanout kafka commit")
			}
		}
	}()
	return nil
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	cancel, done := k.cancel, k.done
	k.cancel = nil
	k.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	rerr := k.reader.Close()
	if err := k.writer.Close(); err != nil {
		return err
	}
	return rerr
}
