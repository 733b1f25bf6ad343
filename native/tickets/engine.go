package tickets

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"tickechain/core/events"
	"tickechain/core/types"
	"tickechain/native/common"
	"tickechain/native/lifecycle"
)

var (
	errNilState  = errors.New("ticket engine: state not configured")
	errNilEvents = errors.New("ticket engine: event ledger not configured")
)

type engineState interface {
	common.PauseView
	SetPaused(module string, paused bool) error
	TicketGet(id uint64) (*Ticket, bool, error)
	TicketPut(t *Ticket) error
	TicketCount() (uint64, error)
	TicketSetCount(count uint64) error
	TicketOwnerIndexAdd(owner [20]byte, id uint64) error
	TicketOwnerIndexRemove(owner [20]byte, id uint64) error
	TicketOwnerIndex(owner [20]byte) ([]uint64, error)
}

// EventLedger is the slice of the event lifecycle manager the ticket ledger
// depends on. The lifecycle manager never calls back into the ticket ledger.
type EventLedger interface {
	Event(id uint64) (*lifecycle.Event, error)
	DecreaseTicketCount(id uint64) error
	RecordVerification(id uint64) error
	RecordRefund(id uint64) error
}

type ticketEvent struct {
	evt *types.Event
}

func (e ticketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e ticketEvent) Event() *types.Event { return e.evt }

// Engine issues, transfers, verifies and burns tickets.
type Engine struct {
	state   engineState
	events  EventLedger
	emitter events.Emitter
	nowFn   func() int64
	admins  map[[20]byte]struct{}
}

// NewEngine creates a ticket engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		admins:  make(map[[20]byte]struct{}),
	}
}

// SetAdmins replaces the identities allowed to pause the ledger and burn
// tickets for refund on a holder's behalf.
func (e *Engine) SetAdmins(admins [][20]byte) {
	e.admins = make(map[[20]byte]struct{}, len(admins))
	for _, admin := range admins {
		e.admins[admin] = struct{}{}
	}
}

func (e *Engine) isAdmin(addr [20]byte) bool {
	_, ok := e.admins[addr]
	return ok
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEventLedger wires the event lifecycle manager used for preconditions and
// inventory.
func (e *Engine) SetEventLedger(ledger EventLedger) { e.events = ledger }

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
	e.emitter.Emit(ticketEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.events == nil {
		return errNilEvents
	}
	return nil
}

func (e *Engine) guard() error {
	if err := common.Guard(e.state, common.ModuleTickets); err != nil {
		return fmt.Errorf("tickets: %w", err)
	}
	return nil
}

func (e *Engine) load(id uint64) (*Ticket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	t, ok, err := e.state.TicketGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("tickets: %w: ticket %d", common.ErrNotFound, id)
	}
	return t, nil
}

// MintTicket issues a ticket for an open event and consumes one unit of its
// inventory. paid records the amount the caller already moved into escrow for
// the ticket.
func (e *Engine) MintTicket(owner [20]byte, uri string, eventID uint64, paid *big.Int) (*Ticket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	if owner == ([20]byte{}) {
		return nil, fmt.Errorf("tickets: %w: owner required", common.ErrValidation)
	}
	if paid == nil {
		paid = big.NewInt(0)
	}
	if paid.Sign() < 0 {
		return nil, fmt.Errorf("tickets: %w: paid amount must not be negative", common.ErrValidation)
	}
	evt, err := e.events.Event(eventID)
	if err != nil {
		return nil, err
	}
	switch evt.State {
	case lifecycle.EventOpen:
	case lifecycle.EventCancelled:
		return nil, fmt.Errorf("tickets: %w: event %d is cancelled", common.ErrInvalidState, eventID)
	default:
		return nil, fmt.Errorf("tickets: %w: event %d is not open for sale", common.ErrInvalidState, eventID)
	}
	if evt.TicketsAvailable == 0 {
		return nil, fmt.Errorf("tickets: %w: event %d is sold out", common.ErrInvalidState, eventID)
	}
	id, err := e.state.TicketCount()
	if err != nil {
		return nil, err
	}
	ticket := &Ticket{
		ID:          id,
		EventID:     eventID,
		Owner:       owner,
		MetadataURI: strings.TrimSpace(uri),
		Active:      true,
		Paid:        new(big.Int).Set(paid),
		MintedAt:    e.now(),
	}
	if err := e.events.DecreaseTicketCount(eventID); err != nil {
		return nil, err
	}
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}
	if err := e.state.TicketSetCount(id + 1); err != nil {
		return nil, err
	}
	if err := e.state.TicketOwnerIndexAdd(owner, id); err != nil {
		return nil, err
	}
	e.emit(NewMintedEvent(ticket))
	return ticket.Clone(), nil
}

// TransferTicket reassigns an active ticket. Only the current owner may
// transfer and from must name that owner.
func (e *Engine) TransferTicket(caller, from, to [20]byte, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.guard(); err != nil {
		return err
	}
	ticket, err := e.load(id)
	if err != nil {
		return err
	}
	if !ticket.Active {
		return fmt.Errorf("tickets: %w: ticket %d is not active", common.ErrInvalidState, id)
	}
	if caller != ticket.Owner || from != ticket.Owner {
		return fmt.Errorf("tickets: %w: caller does not own ticket %d", common.ErrUnauthorized, id)
	}
	if to == ([20]byte{}) || to == from {
		return fmt.Errorf("tickets: %w: invalid recipient", common.ErrValidation)
	}
	ticket.Owner = to
	if err := e.state.TicketPut(ticket); err != nil {
		return err
	}
	if err := e.state.TicketOwnerIndexRemove(from, id); err != nil {
		return err
	}
	if err := e.state.TicketOwnerIndexAdd(to, id); err != nil {
		return err
	}
	e.emit(NewTransferredEvent(ticket, from))
	return nil
}

// MarkTicketAsVerified flags the ticket as used at the gate. Only the creator
// of the ticket's event may verify, and only once.
func (e *Engine) MarkTicketAsVerified(caller [20]byte, id uint64) (*Ticket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	ticket, err := e.load(id)
	if err != nil {
		return nil, err
	}
	evt, err := e.events.Event(ticket.EventID)
	if err != nil {
		return nil, err
	}
	if caller != evt.Creator {
		return nil, fmt.Errorf("tickets: %w: only the event creator may verify ticket %d", common.ErrUnauthorized, id)
	}
	if !ticket.Active {
		return nil, fmt.Errorf("tickets: %w: ticket %d is not active", common.ErrInvalidState, id)
	}
	if ticket.Verified {
		return nil, fmt.Errorf("tickets: %w: ticket %d already verified", common.ErrInvalidState, id)
	}
	if evt.State == lifecycle.EventCancelled {
		return nil, fmt.Errorf("tickets: %w: event %d is cancelled", common.ErrInvalidState, evt.ID)
	}
	ticket.Verified = true
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}
	if err := e.events.RecordVerification(ticket.EventID); err != nil {
		return nil, err
	}
	e.emit(NewVerifiedEvent(ticket, caller))
	return ticket.Clone(), nil
}

// RefundTicket burns an unverified ticket of a cancelled event. It returns the
// ticket as it was before the burn so the caller can settle the paid amount
// with the prior owner.
func (e *Engine) RefundTicket(caller [20]byte, id uint64) (*Ticket, error) {
	ticket, err := e.refundable(id)
	if err != nil {
		return nil, err
	}
	if caller != ticket.Owner {
		return nil, fmt.Errorf("tickets: %w: caller does not own ticket %d", common.ErrUnauthorized, id)
	}
	prior, err := e.burn(ticket)
	if err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(prior))
	return prior, nil
}

// AdminRefundTicket burns a ticket for refund on its holder's behalf. The
// preconditions match RefundTicket except that admin stands in for the owner.
// A burned ticket cannot be refunded again by either path.
func (e *Engine) AdminRefundTicket(admin [20]byte, id uint64) (*Ticket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !e.isAdmin(admin) {
		return nil, fmt.Errorf("tickets: %w: refund requires admin", common.ErrUnauthorized)
	}
	ticket, err := e.refundable(id)
	if err != nil {
		return nil, err
	}
	prior, err := e.burn(ticket)
	if err != nil {
		return nil, err
	}
	e.emit(NewAdminRefundedEvent(prior, admin))
	return prior, nil
}

func (e *Engine) refundable(id uint64) (*Ticket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.guard(); err != nil {
		return nil, err
	}
	ticket, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if !ticket.Active {
		return nil, fmt.Errorf("tickets: %w: ticket %d is not active", common.ErrInvalidState, id)
	}
	if ticket.Verified {
		return nil, fmt.Errorf("tickets: %w: ticket %d already verified", common.ErrInvalidState, id)
	}
	evt, err := e.events.Event(ticket.EventID)
	if err != nil {
		return nil, err
	}
	if evt.State != lifecycle.EventCancelled {
		return nil, fmt.Errorf("tickets: %w: event %d is not cancelled", common.ErrInvalidState, evt.ID)
	}
	return ticket, nil
}

func (e *Engine) burn(ticket *Ticket) (*Ticket, error) {
	prior := ticket.Clone()
	ticket.Active = false
	if err := e.state.TicketPut(ticket); err != nil {
		return nil, err
	}
	if err := e.state.TicketOwnerIndexRemove(prior.Owner, prior.ID); err != nil {
		return nil, err
	}
	if err := e.events.RecordRefund(ticket.EventID); err != nil {
		return nil, err
	}
	return prior, nil
}

// Pause halts minting, transfers, verification and refunds until Unpause.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause lifts a previous Pause.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.isAdmin(caller) {
		return fmt.Errorf("tickets: %w: pause control requires admin", common.ErrUnauthorized)
	}
	if e.state.IsPaused(common.ModuleTickets) == paused {
		if paused {
			return fmt.Errorf("tickets: %w: already paused", common.ErrInvalidState)
		}
		return fmt.Errorf("tickets: %w: not paused", common.ErrInvalidState)
	}
	if err := e.state.SetPaused(common.ModuleTickets, paused); err != nil {
		return err
	}
	if paused {
		e.emit(NewPausedEvent(caller))
	} else {
		e.emit(NewUnpausedEvent(caller))
	}
	return nil
}

// Paused reports whether the ticket ledger is paused.
func (e *Engine) Paused() bool {
	if e == nil || e.state == nil {
		return false
	}
	return e.state.IsPaused(common.ModuleTickets)
}

// Ticket returns a copy of the ticket record, active or not.
func (e *Engine) Ticket(id uint64) (*Ticket, error) {
	ticket, err := e.load(id)
	if err != nil {
		return nil, err
	}
	return ticket.Clone(), nil
}

// IsTicketActive reports whether the ticket exists and has not been burned.
func (e *Engine) IsTicketActive(id uint64) (bool, error) {
	ticket, err := e.load(id)
	if err != nil {
		return false, err
	}
	return ticket.Active, nil
}

// IsTicketVerified reports whether the ticket was verified at the gate.
func (e *Engine) IsTicketVerified(id uint64) (bool, error) {
	ticket, err := e.load(id)
	if err != nil {
		return false, err
	}
	return ticket.Verified, nil
}

// TicketToEventID returns the event the ticket belongs to.
func (e *Engine) TicketToEventID(id uint64) (uint64, error) {
	ticket, err := e.load(id)
	if err != nil {
		return 0, err
	}
	return ticket.EventID, nil
}

// TotalMintedTickets returns the number of ticket ids ever allocated.
func (e *Engine) TotalMintedTickets() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.state.TicketCount()
}

// OwnerOf returns the holder of an active ticket.
func (e *Engine) OwnerOf(id uint64) ([20]byte, error) {
	ticket, err := e.load(id)
	if err != nil {
		return [20]byte{}, err
	}
	if !ticket.Active {
		return [20]byte{}, fmt.Errorf("tickets: %w: ticket %d was burned", common.ErrNotFound, id)
	}
	return ticket.Owner, nil
}

// TicketsOf returns the active tickets held by owner using the owner index.
func (e *Engine) TicketsOf(owner [20]byte) ([]*Ticket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	ids, err := e.state.TicketOwnerIndex(owner)
	if err != nil {
		return nil, err
	}
	out := make([]*Ticket, 0, len(ids))
	for _, id := range ids {
		ticket, ok, err := e.state.TicketGet(id)
		if err != nil {
			return nil, err
		}
		if !ok || !ticket.Active {
			continue
		}
		out = append(out, ticket.Clone())
	}
	return out, nil
}
