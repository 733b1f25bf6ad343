package lifecycle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"tickechain/core/events"
	"tickechain/core/types"
	"tickechain/native/common"
)

// DefaultCancellationPauseThreshold is the number of cancellations after which
// event management is paused until an admin resumes it.
const DefaultCancellationPauseThreshold = 3

const pauseReasonCancellations = "cancellation_threshold"

var errNilState = errors.New("events engine: state not configured")

type engineState interface {
	common.PauseView
	SetPaused(module string, paused bool) error
	LifecycleEventGet(id uint64) (*Event, bool, error)
	LifecycleEventPut(e *Event) error
	LifecycleEventCount() (uint64, error)
	LifecycleSetEventCount(count uint64) error
	LifecycleCreatorIndexAdd(creator [20]byte, id uint64) error
	LifecycleCreatorIndex(creator [20]byte) ([]uint64, error)
	LifecycleCancellations() (uint64, error)
	LifecycleSetCancellations(count uint64) error
}

type lifecycleEvent struct {
	evt *types.Event
}

func (e lifecycleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e lifecycleEvent) Event() *types.Event { return e.evt }

// Config holds the tunables of the event lifecycle manager.
type Config struct {
	// CancellationPauseThreshold pauses event management once this many
	// cancellations have accumulated. Zero disables the breaker.
	CancellationPauseThreshold uint64
	// ResetCancellationsOnResume clears the counter when an admin resumes.
	ResetCancellationsOnResume bool
	Admins                     [][20]byte
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() Config {
	return Config{
		CancellationPauseThreshold: DefaultCancellationPauseThreshold,
		ResetCancellationsOnResume: true,
	}
}

// Engine owns event records and their state transitions.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	cfg     Config
	admins  map[[20]byte]struct{}
}

// NewEngine creates a lifecycle engine with a no-op emitter and the default
// configuration.
func NewEngine() *Engine {
	e := &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
	e.SetConfig(DefaultConfig())
	return e
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetConfig replaces the engine configuration.
func (e *Engine) SetConfig(cfg Config) {
	e.cfg = cfg
	e.admins = make(map[[20]byte]struct{}, len(cfg.Admins))
	for _, admin := range cfg.Admins {
		e.admins[admin] = struct{}{}
	}
}

// SetNowFunc overrides the time source used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(lifecycleEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// IsAdmin reports whether addr holds the privileged admin role.
func (e *Engine) IsAdmin(addr [20]byte) bool {
	if e == nil {
		return false
	}
	_, ok := e.admins[addr]
	return ok
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) guard() error {
	if err := common.Guard(e.state, common.ModuleEvents); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return nil
}

func (e *Engine) validateParams(p EventParams) (EventParams, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Location = strings.TrimSpace(p.Location)
	p.Description = strings.TrimSpace(p.Description)
	if p.Name == "" {
		return p, fmt.Errorf("events: %w: name must not be empty", common.ErrValidation)
	}
	if p.Date <= e.now() {
		return p, fmt.Errorf("events: %w: date must be in the future", common.ErrValidation)
	}
	if p.Price == nil {
		p.Price = big.NewInt(0)
	}
	if p.Price.Sign() < 0 {
		return p, fmt.Errorf("events: %w: price must not be negative", common.ErrValidation)
	}
	if p.TicketsAvailable < 1 {
		return p, fmt.Errorf("events: %w: at least one ticket must be available", common.ErrValidation)
	}
	p.Price = new(big.Int).Set(p.Price)
	return p, nil
}

// load returns the stored event, treating logically deleted records as
// missing.
func (e *Engine) load(id uint64) (*Event, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	evt, ok, err := e.state.LifecycleEventGet(id)
	if err != nil {
		return nil, err
	}
	if !ok || evt.Deleted {
		return nil, fmt.Errorf("events: %w: event %d", common.ErrNotFound, id)
	}
	return evt, nil
}

// CreateEvent registers a new event in the Created state and returns it.
func (e *Engine) CreateEvent(creator [20]byte, params EventParams) (*Event, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if creator == ([20]byte{}) {
		return nil, fmt.Errorf("events: %w: creator required", common.ErrValidation)
	}
	p, err := e.validateParams(params)
	if err != nil {
		return nil, err
	}
	id, err := e.state.LifecycleEventCount()
	if err != nil {
		return nil, err
	}
	evt := &Event{
		ID:               id,
		Creator:          creator,
		Name:             p.Name,
		Location:         p.Location,
		Description:      p.Description,
		Date:             p.Date,
		Price:            p.Price,
		TicketsAvailable: p.TicketsAvailable,
		State:            EventCreated,
		CreatedAt:        e.now(),
	}
	if err := e.state.LifecycleEventPut(evt); err != nil {
		return nil, err
	}
	if err := e.state.LifecycleSetEventCount(id + 1); err != nil {
		return nil, err
	}
	if err := e.state.LifecycleCreatorIndexAdd(creator, id); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(evt))
	return evt.Clone(), nil
}

// UpdateEvent replaces the descriptive fields of an event. Only the creator may
// update and cancelled events are frozen.
func (e *Engine) UpdateEvent(caller [20]byte, id uint64, params EventParams) (*Event, error) {
	evt, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if evt.Creator != caller {
		return nil, fmt.Errorf("events: %w: only the creator may update event %d", common.ErrUnauthorized, id)
	}
	if evt.State == EventCancelled {
		return nil, fmt.Errorf("events: %w: event %d is cancelled", common.ErrInvalidState, id)
	}
	p, err := e.validateParams(params)
	if err != nil {
		return nil, err
	}
	evt.Name = p.Name
	evt.Location = p.Location
	evt.Description = p.Description
	evt.Date = p.Date
	evt.Price = p.Price
	evt.TicketsAvailable = p.TicketsAvailable
	if err := e.state.LifecycleEventPut(evt); err != nil {
		return nil, err
	}
	e.emit(NewUpdatedEvent(evt))
	return evt.Clone(), nil
}

// DeleteEvent logically removes an event by clearing its descriptive fields.
// The creator or an admin may delete; events with unsettled tickets cannot be
// deleted.
func (e *Engine) DeleteEvent(caller [20]byte, id uint64) error {
	evt, err := e.load(id)
	if err != nil {
		return err
	}
	if evt.Creator != caller && !e.IsAdmin(caller) {
		return fmt.Errorf("events: %w: not allowed to delete event %d", common.ErrUnauthorized, id)
	}
	if evt.ActiveTickets > evt.VerifiedCount {
		return fmt.Errorf("events: %w: event %d has %d unsettled tickets", common.ErrInvalidState, id, evt.ActiveTickets-evt.VerifiedCount)
	}
	evt.Name = ""
	evt.Location = ""
	evt.Description = ""
	evt.Date = 0
	evt.Price = big.NewInt(0)
	evt.TicketsAvailable = 0
	evt.Deleted = true
	if err := e.state.LifecycleEventPut(evt); err != nil {
		return err
	}
	e.emit(NewDeletedEvent(evt))
	return nil
}

// ChangeEventState moves an event along its state machine. Cancelling counts
// toward the emergency pause threshold and is refused while any ticket of the
// event has been verified.
func (e *Engine) ChangeEventState(caller [20]byte, id uint64, next EventState) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard(); err != nil {
		return err
	}
	if !next.Valid() {
		return fmt.Errorf("events: %w: invalid state %d", common.ErrValidation, next)
	}
	evt, err := e.load(id)
	if err != nil {
		return err
	}
	if evt.Creator != caller {
		return fmt.Errorf("events: %w: only the creator may change event %d", common.ErrUnauthorized, id)
	}
	if !canTransition(evt.State, next) {
		return fmt.Errorf("events: %w: cannot move event %d from %s to %s", common.ErrInvalidState, id, evt.State, next)
	}
	if next == EventCancelled && evt.VerifiedCount > 0 {
		return fmt.Errorf("events: %w: event %d has %d verified tickets", common.ErrInvalidState, id, evt.VerifiedCount)
	}
	previous := evt.State
	evt.State = next
	if err := e.state.LifecycleEventPut(evt); err != nil {
		return err
	}
	e.emit(NewStateChangedEvent(evt, previous))
	if next == EventCancelled {
		return e.recordCancellation(evt)
	}
	return nil
}

// CancelEvent is shorthand for ChangeEventState(caller, id, EventCancelled).
func (e *Engine) CancelEvent(caller [20]byte, id uint64) error {
	return e.ChangeEventState(caller, id, EventCancelled)
}

func (e *Engine) recordCancellation(evt *Event) error {
	count, err := e.state.LifecycleCancellations()
	if err != nil {
		return err
	}
	count++
	if err := e.state.LifecycleSetCancellations(count); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(evt, count))
	threshold := e.cfg.CancellationPauseThreshold
	if threshold > 0 && count >= threshold && !e.state.IsPaused(common.ModuleEvents) {
		if err := e.state.SetPaused(common.ModuleEvents, true); err != nil {
			return err
		}
		e.emit(NewPausedEvent(pauseReasonCancellations, count))
	}
	return nil
}

// Resume lifts the emergency pause. Only admins may resume.
func (e *Engine) Resume(caller [20]byte) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.IsAdmin(caller) {
		return fmt.Errorf("events: %w: resume requires admin", common.ErrUnauthorized)
	}
	if !e.state.IsPaused(common.ModuleEvents) {
		return fmt.Errorf("events: %w: event management is not paused", common.ErrInvalidState)
	}
	if err := e.state.SetPaused(common.ModuleEvents, false); err != nil {
		return err
	}
	count, err := e.state.LifecycleCancellations()
	if err != nil {
		return err
	}
	if e.cfg.ResetCancellationsOnResume {
		count = 0
		if err := e.state.LifecycleSetCancellations(0); err != nil {
			return err
		}
	}
	e.emit(NewResumedEvent(caller, count))
	return nil
}

// DecreaseTicketCount consumes one unit of inventory for a sold ticket. It is
// invoked by the ticket ledger inside the purchase transaction.
func (e *Engine) DecreaseTicketCount(id uint64) error {
	evt, err := e.load(id)
	if err != nil {
		return err
	}
	if evt.TicketsAvailable == 0 {
		return fmt.Errorf("events: %w: event %d is sold out", common.ErrInvalidState, id)
	}
	evt.TicketsAvailable--
	evt.ActiveTickets++
	return e.state.LifecycleEventPut(evt)
}

// RecordRefund releases the active-ticket slot of a refunded ticket.
func (e *Engine) RecordRefund(id uint64) error {
	evt, err := e.load(id)
	if err != nil {
		return err
	}
	if evt.ActiveTickets == 0 {
		return fmt.Errorf("events: %w: event %d has no active tickets", common.ErrInvalidState, id)
	}
	evt.ActiveTickets--
	return e.state.LifecycleEventPut(evt)
}

// RecordVerification increments the verified ticket counter of the event.
func (e *Engine) RecordVerification(id uint64) error {
	evt, err := e.load(id)
	if err != nil {
		return err
	}
	if evt.State == EventCancelled {
		return fmt.Errorf("events: %w: event %d is cancelled", common.ErrInvalidState, id)
	}
	evt.VerifiedCount++
	return e.state.LifecycleEventPut(evt)
}

// Event returns a copy of the event with the given id.
func (e *Engine) Event(id uint64) (*Event, error) {
	evt, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return evt.Clone(), nil
}

// IsEventOpen reports whether tickets can currently be sold for the event.
func (e *Engine) IsEventOpen(id uint64) (bool, error) {
	evt, err := e.load(id)
	if err != nil {
		return false, err
	}
	return evt.State == EventOpen, nil
}

// IsEventCancelled reports whether the event reached the terminal Cancelled
// state.
func (e *Engine) IsEventCancelled(id uint64) (bool, error) {
	evt, err := e.load(id)
	if err != nil {
		return false, err
	}
	return evt.State == EventCancelled, nil
}

// TotalEvents returns the number of event ids ever allocated.
func (e *Engine) TotalEvents() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.LifecycleEventCount()
}

// Paused reports whether event management is paused.
func (e *Engine) Paused() bool {
	if e == nil || e.state == nil {
		return false
	}
	return e.state.IsPaused(common.ModuleEvents)
}

// Cancellations returns the running cancellation counter.
func (e *Engine) Cancellations() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.LifecycleCancellations()
}

// ListEvents returns every event that has not been deleted, ordered by id.
func (e *Engine) ListEvents() ([]*Event, error) {
	total, err := e.TotalEvents()
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, total)
	for id := uint64(0); id < total; id++ {
		evt, ok, err := e.state.LifecycleEventGet(id)
		if err != nil {
			return nil, err
		}
		if !ok || evt.Deleted {
			continue
		}
		out = append(out, evt.Clone())
	}
	return out, nil
}

// EventsByCreator returns the non-deleted events created by addr.
func (e *Engine) EventsByCreator(creator [20]byte) ([]*Event, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ids, err := e.state.LifecycleCreatorIndex(creator)
	if err != nil {
		return nil, err
	}
	out := make([]*Event, 0, len(ids))
	for _, id := range ids {
		evt, ok, err := e.state.LifecycleEventGet(id)
		if err != nil {
			return nil, err
		}
		if !ok || evt.Deleted {
			continue
		}
		out = append(out, evt.Clone())
	}
	return out, nil
}
