package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sagapay/backend/pkg/enums"
)

func testEnvelope(t *testing.T, orderID int64) Envelope {
	t.Helper()
	env, err := NewEnvelope(enums.EventTypeOrderCreated, orderID, OrderEventPayload{
		OrderID:   orderID,
		UserID:    101,
		ProductID: 7,
		Price:     4200,
		Status:    enums.OrderStatusCreated,
	})
	require.NoError(t, err)
	return env
}

func runBus(t *testing.T, m *Memory) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = m.Run(ctx)
	}()
	return cancel
}

func TestMemoryMulticastsToAllSubscribers(t *testing.T) {
	m := NewMemory(MemoryOptions{})

	var mu sync.Mutex
	got := map[string]int{}
	for _, name := range []string{"first", "second"} {
		name := name
		m.Subscribe(TopicOrderEvents, func(ctx context.Context, env Envelope) error {
			mu.Lock()
			got[name]++
			mu.Unlock()
			return nil
		})
	}

	cancel := runBus(t, m)
	defer cancel()

	require.NoError(t, m.Publish(context.Background(), TopicOrderEvents, testEnvelope(t, 1)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["first"] == 1 && got["second"] == 1
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryPublishNeverBlocksAndDropsOnFullBuffer(t *testing.T) {
	m := NewMemory(MemoryOptions{BufferSize: 1, Workers: 1})
	m.Subscribe(TopicOrderEvents, func(ctx context.Context, env Envelope) error {
		return nil
	})
	// Bus not running: the single buffer slot fills and the next publish drops.

	require.NoError(t, m.Publish(context.Background(), TopicOrderEvents, testEnvelope(t, 1)))
	err := m.Publish(context.Background(), TopicOrderEvents, testEnvelope(t, 2))
	require.ErrorIs(t, err, ErrBufferFull)
}

func TestMemoryRedeliversOnHandlerError(t *testing.T) {
	m := NewMemory(MemoryOptions{MaxAttempts: 5})

	var calls atomic.Int32
	m.Subscribe(TopicOrderEvents, func(ctx context.Context, env Envelope) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	cancel := runBus(t, m)
	defer cancel()

	require.NoError(t, m.Publish(context.Background(), TopicOrderEvents, testEnvelope(t, 1)))

	require.Eventually(t, func() bool {
		return calls.Load() == 3
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryStopsAfterMaxAttempts(t *testing.T) {
	m := NewMemory(MemoryOptions{MaxAttempts: 2})

	var calls atomic.Int32
	m.Subscribe(TopicOrderEvents, func(ctx context.Context, env Envelope) error {
		calls.Add(1)
		return errors.New("permanent")
	})

	cancel := runBus(t, m)
	defer cancel()

	require.NoError(t, m.Publish(context.Background(), TopicOrderEvents, testEnvelope(t, 1)))

	require.Eventually(t, func() bool {
		return calls.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	require.Equal(t, int32(2), calls.Load())
}

func TestMemoryTopicsAreIsolated(t *testing.T) {
	m := NewMemory(MemoryOptions{})

	var orderCalls, paymentCalls atomic.Int32
	m.Subscribe(TopicOrderEvents, func(ctx context.Context, env Envelope) error {
		orderCalls.Add(1)
		return nil
	})
	m.Subscribe(TopicPaymentEvents, func(ctx context.Context, env Envelope) error {
		paymentCalls.Add(1)
		return nil
	})

	cancel := runBus(t, m)
	defer cancel()

	require.NoError(t, m.Publish(context.Background(), TopicOrderEvents, testEnvelope(t, 1)))

	require.Eventually(t, func() bool {
		return orderCalls.Load() == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int32(0), paymentCalls.Load())
}

func TestDispatcherRoutesByEventType(t *testing.T) {
	d := NewDispatcher(nil)

	var created, cancelled atomic.Int32
	d.On(enums.EventTypeOrderCreated, func(ctx context.Context, env Envelope) error {
		created.Add(1)
		return nil
	})
	d.On(enums.EventTypeOrderCancelled, func(ctx context.Context, env Envelope) error {
		cancelled.Add(1)
		return nil
	})

	env := testEnvelope(t, 1)
	require.NoError(t, d.Handle(context.Background(), env))
	require.Equal(t, int32(1), created.Load())
	require.Equal(t, int32(0), cancelled.Load())

	// Unknown types are acked, not errored.
	env.Type = enums.EventTypePaymentResolved
	require.NoError(t, d.Handle(context.Background(), env))
}

func TestDecodeOrderEventRejectsWrongType(t *testing.T) {
	env, err := NewEnvelope(enums.EventTypePaymentResolved, 1, PaymentEventPayload{OrderID: 1})
	require.NoError(t, err)

	_, err = DecodeOrderEvent(env)
	require.Error(t, err)

	payload, err := DecodePaymentEvent(env)
	require.NoError(t, err)
	require.Equal(t, int64(1), payload.OrderID)
}
