package bus

import (
	"context"
	"errors"

	"github.com/sagapay/backend/pkg/enums"
	"github.com/sagapay/backend/pkg/logger"
)

// ErrBufferFull is returned by Publish when at least one subscriber's buffer
// rejected the event. Delivery to the remaining subscribers still happened.
var ErrBufferFull = errors.New("bus: subscriber buffer full, event dropped")

// Handler processes one delivered envelope. Returning an error requests
// redelivery; delivery is at least once, so handlers must deduplicate on
// Envelope.EventID.
type Handler func(ctx context.Context, env Envelope) error

// Bus is the asynchronous multicast channel between the saga services.
type Bus interface {
	// Publish enqueues the envelope for every subscriber of the topic. It
	// never blocks on slow consumers.
	Publish(ctx context.Context, topic string, env Envelope) error
	// Subscribe registers a handler for the topic. Must be called before Run.
	Subscribe(topic string, h Handler)
	// Run delivers events until ctx is canceled.
	Run(ctx context.Context) error
	// Close releases transport resources.
	Close() error
}

// Dispatcher routes envelopes to per-type handlers. It replaces runtime type
// switching with an explicit handler table; unknown types are acknowledged
// and logged so a newer producer cannot wedge an older consumer.
type Dispatcher struct {
	handlers map[enums.EventType]Handler
	logg     *logger.Logger
}

// NewDispatcher builds an empty handler table.
func NewDispatcher(logg *logger.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[enums.EventType]Handler),
		logg:     logg,
	}
}

// On registers the handler for an event type and returns the dispatcher for
// chaining.
func (d *Dispatcher) On(eventType enums.EventType, h Handler) *Dispatcher {
	d.handlers[eventType] = h
	return d
}

// Handle implements Handler.
func (d *Dispatcher) Handle(ctx context.Context, env Envelope) error {
	h, ok := d.handlers[env.Type]
	if !ok {
		if d.logg != nil {
			logCtx := d.logg.WithEventID(ctx, env.EventID)
			d.logg.Warn(logCtx, "no handler registered for event type "+env.Type.String())
		}
		return nil
	}
	return h(ctx, env)
}
