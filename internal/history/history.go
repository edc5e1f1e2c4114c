package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies a slot lifecycle transition.
type EventType string

const (
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventTimeout EventType = "timeout"
	EventGCKill  EventType = "gc_kill"
	EventRelease EventType = "release"
)

// Event is one slot lifecycle occurrence exported to audit sinks.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Slot       string    `json:"slot"`
	PID        int       `json:"pid,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Detail     string    `json:"detail,omitempty"`
}

// NewEvent builds an Event stamped with a fresh ID and the current UTC time.
func NewEvent(typ EventType, slot string, pid int, detail string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Slot:       slot,
		PID:        pid,
		OccurredAt: time.Now().UTC(),
		Detail:     detail,
	}
}

// Sink is a destination for lifecycle events. Implementations must be safe
// for concurrent use; delivery is best-effort and never blocks supervision.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
