package lifecycle

import (
	"encoding/hex"
	"strconv"

	"tickechain/core/types"
)

const (
	EventTypeEventCreated      = "event.created"
	EventTypeEventUpdated      = "event.updated"
	EventTypeEventDeleted      = "event.deleted"
	EventTypeEventStateChanged = "event.state_changed"
	EventTypeEventCancelled    = "event.cancelled"
	EventTypeEventsPaused      = "events.paused"
	EventTypeEventsResumed     = "events.resumed"
)

// NewCreatedEvent returns the log record for a newly created event.
func NewCreatedEvent(e *Event) *types.Event { return newLifecycleEvent(EventTypeEventCreated, e) }

// NewUpdatedEvent returns the log record for an event whose details changed.
func NewUpdatedEvent(e *Event) *types.Event { return newLifecycleEvent(EventTypeEventUpdated, e) }

// NewDeletedEvent returns the log record for a logically deleted event.
func NewDeletedEvent(e *Event) *types.Event { return newLifecycleEvent(EventTypeEventDeleted, e) }

// NewStateChangedEvent records a state transition together with the previous
// state.
func NewStateChangedEvent(e *Event, previous EventState) *types.Event {
	evt := newLifecycleEvent(EventTypeEventStateChanged, e)
	evt.Attributes["previousState"] = previous.String()
	return evt
}

// NewCancelledEvent records a cancellation and the running cancellation count.
func NewCancelledEvent(e *Event, cancellations uint64) *types.Event {
	evt := newLifecycleEvent(EventTypeEventCancelled, e)
	evt.Attributes["cancellations"] = strconv.FormatUint(cancellations, 10)
	return evt
}

// NewPausedEvent records the emergency pause of event management.
func NewPausedEvent(reason string, cancellations uint64) *types.Event {
	return &types.Event{Type: EventTypeEventsPaused, Attributes: map[string]string{
		"reason":        reason,
		"cancellations": strconv.FormatUint(cancellations, 10),
	}}
}

// NewResumedEvent records an admin lifting the pause.
func NewResumedEvent(admin [20]byte, cancellations uint64) *types.Event {
	return &types.Event{Type: EventTypeEventsResumed, Attributes: map[string]string{
		"admin":         hex.EncodeToString(admin[:]),
		"cancellations": strconv.FormatUint(cancellations, 10),
	}}
}

func newLifecycleEvent(eventType string, e *Event) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["eventId"] = strconv.FormatUint(e.ID, 10)
	attrs["creator"] = hex.EncodeToString(e.Creator[:])
	attrs["state"] = e.State.String()
	attrs["ticketsAvailable"] = strconv.FormatUint(e.TicketsAvailable, 10)
	if e.Price != nil {
		attrs["price"] = e.Price.String()
	}
	if e.Name != "" {
		attrs["name"] = e.Name
	}
	if e.Date != 0 {
		attrs["date"] = strconv.FormatInt(e.Date, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
