package lifecycle

import (
	"fmt"
	"math/big"
	"strings"
)

// EventState enumerates the lifecycle states of a ticketed event.
type EventState uint8

const (
	EventCreated EventState = iota
	EventOpen
	EventClosed
	EventCancelled
)

// Valid reports whether the state value is within the supported range.
func (s EventState) Valid() bool {
	switch s {
	case EventCreated, EventOpen, EventClosed, EventCancelled:
		return true
	default:
		return false
	}
}

func (s EventState) String() string {
	switch s {
	case EventCreated:
		return "created"
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	case EventCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseEventState accepts the lowercase state names returned by String.
func ParseEventState(value string) (EventState, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "created":
		return EventCreated, nil
	case "open":
		return EventOpen, nil
	case "closed":
		return EventClosed, nil
	case "cancelled", "canceled":
		return EventCancelled, nil
	default:
		return 0, fmt.Errorf("unknown event state %q", value)
	}
}

// canTransition lists the edges of the event state machine. Cancelled is
// terminal and every other state may be cancelled. A closed event may reopen
// for sales; Created is never re-entered.
func canTransition(from, to EventState) bool {
	if from == EventCancelled || from == to {
		return false
	}
	switch to {
	case EventCancelled:
		return true
	case EventOpen:
		return from == EventCreated || from == EventClosed
	case EventClosed:
		return from == EventOpen
	default:
		return false
	}
}

// Event is a sellable occurrence owned by its creator.
type Event struct {
	ID               uint64
	Creator          [20]byte
	Name             string
	Location         string
	Description      string
	Date             int64
	Price            *big.Int
	TicketsAvailable uint64
	State            EventState
	// VerifiedCount is maintained by the settlement transaction so the
	// cancellation guard never scans tickets.
	VerifiedCount uint64
	// ActiveTickets counts sold tickets that have not been refunded.
	ActiveTickets uint64
	CreatedAt     int64
	Deleted       bool
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Price != nil {
		clone.Price = new(big.Int).Set(e.Price)
	} else {
		clone.Price = big.NewInt(0)
	}
	return &clone
}

// EventParams carries the mutable descriptive fields accepted by create and
// update.
type EventParams struct {
	Name             string
	Location         string
	Description      string
	Date             int64
	Price            *big.Int
	TicketsAvailable uint64
}
