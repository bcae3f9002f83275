package bus

import (
	"context"
	"sync"
	"time"

	"github.com/sagapay/backend/pkg/logger"
	"github.com/sagapay/backend/pkg/metrics"
)

const (
	defaultBufferSize  = 256
	defaultWorkers     = 4
	defaultMaxAttempts = 5
	redeliveryBackoff  = 50 * time.Millisecond
	maxBackoff         = 2 * time.Second
)

// MemoryOptions tunes the in-process transport.
type MemoryOptions struct {
	BufferSize  int
	Workers     int
	MaxAttempts int
	Logger      *logger.Logger
	Metrics     *metrics.BusMetrics
}

type delivery struct {
	env     Envelope
	attempt int
}

type subscriber struct {
	topic   string
	handler Handler
	queue   chan delivery
}

// Memory is the in-process transport: multicast to every subscriber of a
// topic, each behind its own bounded buffer drained by a worker pool.
// Publish never blocks; a full buffer drops the event for that subscriber.
// A handler error requeues the same envelope (same event id) with capped
// backoff, which is what makes delivery at least once.
type Memory struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	bufferSize  int
	workers     int
	maxAttempts int
	logg        *logger.Logger
	metrics     *metrics.BusMetrics
	running     bool
	wg          sync.WaitGroup
}

// NewMemory builds the in-process bus.
func NewMemory(opts MemoryOptions) *Memory {
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Memory{
		subscribers: make(map[string][]*subscriber),
		bufferSize:  opts.BufferSize,
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		logg:        opts.Logger,
		metrics:     opts.Metrics,
	}
}

// Subscribe registers a handler for the topic. Must happen before Run.
func (m *Memory) Subscribe(topic string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers[topic] = append(m.subscribers[topic], &subscriber{
		topic:   topic,
		handler: h,
		queue:   make(chan delivery, m.bufferSize),
	})
}

// Publish implements Bus. Fire-and-forget from the caller's point of view:
// the only error surfaced is a full subscriber buffer.
func (m *Memory) Publish(ctx context.Context, topic string, env Envelope) error {
	m.mu.RLock()
	subs := m.subscribers[topic]
	m.mu.RUnlock()

	m.metrics.IncPublished(topic)

	var dropped bool
	for _, sub := range subs {
		select {
		case sub.queue <- delivery{env: env, attempt: 1}:
		default:
			dropped = true
			m.metrics.IncDropped(topic)
			if m.logg != nil {
				logCtx := m.logg.WithFields(ctx, map[string]any{
					"topic":    topic,
					"event_id": env.EventID,
					"order_id": env.OrderID,
				})
				m.logg.Warn(logCtx, "subscriber buffer full, event dropped")
			}
		}
	}
	if dropped {
		return ErrBufferFull
	}
	return nil
}

// Run drains every subscriber queue until ctx is canceled.
func (m *Memory) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	subs := make([]*subscriber, 0)
	for _, list := range m.subscribers {
		subs = append(subs, list...)
	}
	m.mu.Unlock()

	for _, sub := range subs {
		for i := 0; i < m.workers; i++ {
			m.wg.Add(1)
			go m.drain(ctx, sub)
		}
	}

	<-ctx.Done()
	m.wg.Wait()
	return ctx.Err()
}

// Close implements Bus. The memory transport holds no external resources.
func (m *Memory) Close() error {
	return nil
}

func (m *Memory) drain(ctx context.Context, sub *subscriber) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-sub.queue:
			m.deliver(ctx, sub, d)
		}
	}
}

func (m *Memory) deliver(ctx context.Context, sub *subscriber, d delivery) {
	err := sub.handler(ctx, d.env)
	if err == nil {
		return
	}

	logCtx := ctx
	if m.logg != nil {
		logCtx = m.logg.WithFields(ctx, map[string]any{
			"topic":    sub.topic,
			"event_id": d.env.EventID,
			"order_id": d.env.OrderID,
			"attempt":  d.attempt,
		})
	}

	if d.attempt >= m.maxAttempts {
		m.metrics.IncExhausted(sub.topic)
		if m.logg != nil {
			m.logg.Error(logCtx, "delivery attempts exhausted, event abandoned", err)
		}
		return
	}

	m.metrics.IncRedelivered(sub.topic)
	if m.logg != nil {
		m.logg.Warn(logCtx, "handler failed, requeueing event")
	}

	backoff := redeliveryBackoff * time.Duration(1<<uint(d.attempt-1))
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	select {
	case sub.queue <- delivery{env: d.env, attempt: d.attempt + 1}:
	default:
		m.metrics.IncExhausted(sub.topic)
		if m.logg != nil {
			m.logg.Error(logCtx, "requeue failed on full buffer, event abandoned", err)
		}
	}
}
