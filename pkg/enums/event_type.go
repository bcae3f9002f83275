package enums

import "fmt"

// EventType names the event kinds carried on the bus topics.
type EventType string

const (
	EventTypeOrderCreated    EventType = "order.created"
	EventTypeOrderCancelled  EventType = "order.cancelled"
	EventTypePaymentResolved EventType = "payment.resolved"
)

var validEventTypes = []EventType{
	EventTypeOrderCreated,
	EventTypeOrderCancelled,
	EventTypePaymentResolved,
}

// String implements fmt.Stringer.
func (e EventType) String() string {
	return string(e)
}

// IsValid reports whether the value is a known EventType.
func (e EventType) IsValid() bool {
	for _, candidate := range validEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseEventType converts raw input into an EventType.
func ParseEventType(value string) (EventType, error) {
	for _, candidate := range validEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
