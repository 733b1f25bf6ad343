package events

import "tickechain/core/types"

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Record is implemented by events that carry a log record.
type Record interface {
	Event
	Event() *types.Event
}

// Committed is delivered once the transaction that produced Record is durable.
// Sequence is the position of the record in the append-only log.
type Committed struct {
	Sequence uint64
	Record   *types.Event
}

// EventType implements Event.
func (c Committed) EventType() string {
	if c.Record == nil {
		return ""
	}
	return c.Record.Type
}

// Event returns the committed log record.
func (c Committed) Event() *types.Event { return c.Record }

// Fanout delivers every event to each configured emitter in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}
