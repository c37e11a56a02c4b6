package fanout

import (
	"context"
	"sync"

	"chatrelay/internal/metrics"
)

// Local 是单进程驱动，Publish 同步调用处理函数。
type Local struct {
	mu     sync.RWMutex
	h      Handler
	closed bool
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Publish(ctx context.Context, env Envelope) error {
	l.mu.RLock()
	h, closed := l.h, l.closed
	l.mu.RUnlock()
	if closed {
		metrics.FanoutPublishTotal.WithLabelValues("local", "closed").Inc()
		return ErrClosed
	}
	metrics.FanoutPublishTotal.WithLabelValues("local", "ok").Inc()
	if h != nil {
		h(ctx, env)
	}
	return nil
}

func (l *Local) Subscribe(_ context.Context, h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.h = h
	return nil
}

func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.h = nil
	return nil
}
