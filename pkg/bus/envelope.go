package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sagapay/backend/pkg/enums"
)

// Topic names. order-events carries order.created and order.cancelled;
// payment-events carries payment.resolved.
const (
	TopicOrderEvents   = "order-events"
	TopicPaymentEvents = "payment-events"
)

// Envelope is the stable wire structure every event travels in. EventID is
// unique per emission and is what consumers deduplicate on; OrderID is the
// partition/ordering key.
type Envelope struct {
	EventID    string          `json:"eventId"`
	Type       enums.EventType `json:"type"`
	OrderID    int64           `json:"orderId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

// OrderEventPayload is the payload of order.created and order.cancelled.
type OrderEventPayload struct {
	OrderID   int64             `json:"orderId"`
	UserID    int64             `json:"userId"`
	ProductID int64             `json:"productId"`
	Price     int64             `json:"price"`
	Status    enums.OrderStatus `json:"status"`
}

// PaymentEventPayload is the payload of payment.resolved.
type PaymentEventPayload struct {
	OrderID int64               `json:"orderId"`
	UserID  int64               `json:"userId"`
	Amount  int64               `json:"amount"`
	Status  enums.PaymentStatus `json:"status"`
	Reason  enums.FailureReason `json:"reason,omitempty"`
}

// NewEnvelope wraps a payload with a fresh event id.
func NewEnvelope(eventType enums.EventType, orderID int64, payload any) (Envelope, error) {
	if !eventType.IsValid() {
		return Envelope{}, fmt.Errorf("invalid event type %q", eventType)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshaling %s payload: %w", eventType, err)
	}
	return Envelope{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OrderID:    orderID,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

// DecodeOrderEvent unmarshals the payload of an order-events envelope.
func DecodeOrderEvent(env Envelope) (OrderEventPayload, error) {
	if env.Type != enums.EventTypeOrderCreated && env.Type != enums.EventTypeOrderCancelled {
		return OrderEventPayload{}, fmt.Errorf("envelope %s is not an order event (%s)", env.EventID, env.Type)
	}
	var payload OrderEventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return OrderEventPayload{}, fmt.Errorf("unmarshaling order event %s: %w", env.EventID, err)
	}
	return payload, nil
}

// DecodePaymentEvent unmarshals the payload of a payment-events envelope.
func DecodePaymentEvent(env Envelope) (PaymentEventPayload, error) {
	if env.Type != enums.EventTypePaymentResolved {
		return PaymentEventPayload{}, fmt.Errorf("envelope %s is not a payment event (%s)", env.EventID, env.Type)
	}
	var payload PaymentEventPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return PaymentEventPayload{}, fmt.Errorf("unmarshaling payment event %s: %w", env.EventID, err)
	}
	return payload, nil
}
