package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeSharesMinted
	EventTypeSharesBurned
	EventTypeRequestFiled
	EventTypeRequestExecuted
	EventTypeRequestCancelled
	EventTypeOrderMade
	EventTypeOrderTaken
	EventTypeOrderCancelled
	EventTypeOrdersClosed
	EventTypeEmbezzlementDetected
	EventTypeFeesConverted
	EventTypeShutdownToggled
	EventTypeSettingsChanged
)

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by the fund
	Sequence int64

	// Stable idempotency key derived from the event
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Fund that emitted the event
	FundID string

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 chain value AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// OccurredAt returns the versioned timestamp of the event
	OccurredAt() time.Time
}

func (et EventType) String() string {
	switch et {
	case EventTypeSharesMinted:
		return "SharesMinted"
	case EventTypeSharesBurned:
		return "SharesBurned"
	case EventTypeRequestFiled:
		return "RequestFiled"
	case EventTypeRequestExecuted:
		return "RequestExecuted"
	case EventTypeRequestCancelled:
		return "RequestCancelled"
	case EventTypeOrderMade:
		return "OrderMade"
	case EventTypeOrderTaken:
		return "OrderTaken"
	case EventTypeOrderCancelled:
		return "OrderCancelled"
	case EventTypeOrdersClosed:
		return "OrdersClosed"
	case EventTypeEmbezzlementDetected:
		return "EmbezzlementDetected"
	case EventTypeFeesConverted:
		return "FeesConverted"
	case EventTypeShutdownToggled:
		return "ShutdownToggled"
	case EventTypeSettingsChanged:
		return "SettingsChanged"
	default:
		return "Unknown"
	}
}
