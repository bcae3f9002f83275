package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"go.uber.org/multierr"

	"github.com/sagapay/backend/pkg/enums"
	"github.com/sagapay/backend/pkg/logger"
	"github.com/sagapay/backend/pkg/metrics"
	"github.com/sagapay/backend/pkg/pubsub"
)

// PubSub adapts the bus contract onto Google Cloud Pub/Sub for multi-process
// deployments. Ack/nack maps directly to the handler result; redelivery and
// at-least-once semantics come from the broker.
type PubSub struct {
	client  *pubsub.Client
	logg    *logger.Logger
	metrics *metrics.BusMetrics

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
	receivers  []receiver
}

type receiver struct {
	topic        string
	subscription *gcppubsub.Subscriber
	handler      Handler
}

// NewPubSub wraps an initialized Pub/Sub client.
func NewPubSub(client *pubsub.Client, logg *logger.Logger, busMetrics *metrics.BusMetrics) (*PubSub, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &PubSub{
		client:     client,
		logg:       logg,
		metrics:    busMetrics,
		publishers: make(map[string]*gcppubsub.Publisher),
	}, nil
}

// Publish implements Bus.
func (p *PubSub) Publish(ctx context.Context, topic string, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshaling envelope %s: %w", env.EventID, err)
	}

	publisher := p.publisherFor(topic)
	if publisher == nil {
		return fmt.Errorf("no publisher for topic %q", topic)
	}

	result := publisher.Publish(ctx, &gcppubsub.Message{
		Data:        data,
		OrderingKey: strconv.FormatInt(env.OrderID, 10),
		Attributes: map[string]string{
			"event_id":   env.EventID,
			"event_type": env.Type.String(),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publishing to %q: %w", topic, err)
	}

	p.metrics.IncPublished(topic)
	return nil
}

// Subscribe implements Bus. The subscription handle is resolved from the
// configured topic name.
func (p *PubSub) Subscribe(topic string, h Handler) {
	var sub *gcppubsub.Subscriber
	switch topic {
	case TopicOrderEvents:
		sub = p.client.OrderEventsSubscription()
	case TopicPaymentEvents:
		sub = p.client.PaymentEventsSubscription()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.receivers = append(p.receivers, receiver{topic: topic, subscription: sub, handler: h})
}

// Run receives on every registered subscription until ctx is canceled.
func (p *PubSub) Run(ctx context.Context) error {
	p.mu.Lock()
	receivers := make([]receiver, len(p.receivers))
	copy(receivers, p.receivers)
	p.mu.Unlock()

	errCh := make(chan error, len(receivers))
	for _, rcv := range receivers {
		if rcv.subscription == nil {
			return fmt.Errorf("no subscription configured for topic %q", rcv.topic)
		}
		go func(rcv receiver) {
			errCh <- p.receive(ctx, rcv)
		}(rcv)
	}

	var errs error
	for range receivers {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		return errs
	}
	return ctx.Err()
}

// Close implements Bus.
func (p *PubSub) Close() error {
	return p.client.Close()
}

func (p *PubSub) receive(ctx context.Context, rcv receiver) error {
	return rcv.subscription.Receive(ctx, func(ctx context.Context, msg *gcppubsub.Message) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			// Malformed payloads are acked: a redelivery cannot fix them.
			if p.logg != nil {
				logCtx := p.logg.WithFields(ctx, map[string]any{
					"topic":      rcv.topic,
					"message_id": msg.ID,
				})
				p.logg.Error(logCtx, "failed to unmarshal envelope", err)
			}
			msg.Ack()
			return
		}
		if !env.Type.IsValid() {
			if raw, ok := msg.Attributes["event_type"]; ok {
				if parsed, err := enums.ParseEventType(raw); err == nil {
					env.Type = parsed
				}
			}
		}

		if err := rcv.handler(ctx, env); err != nil {
			p.metrics.IncRedelivered(rcv.topic)
			if p.logg != nil {
				logCtx := p.logg.WithFields(ctx, map[string]any{
					"topic":    rcv.topic,
					"event_id": env.EventID,
					"order_id": env.OrderID,
				})
				p.logg.Warn(logCtx, "handler failed, nacking for redelivery")
			}
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (p *PubSub) publisherFor(topic string) *gcppubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if publisher, ok := p.publishers[topic]; ok {
		return publisher
	}

	var publisher *gcppubsub.Publisher
	switch topic {
	case TopicOrderEvents:
		publisher = p.client.OrderEventsPublisher()
	case TopicPaymentEvents:
		publisher = p.client.PaymentEventsPublisher()
	default:
		publisher = p.client.Publisher(topic)
	}
	if publisher != nil {
		publisher.EnableMessageOrdering = true
		p.publishers[topic] = publisher
	}
	return publisher
}
