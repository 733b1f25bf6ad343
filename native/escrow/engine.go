package escrow

import (
	"errors"
	"fmt"
	"math/big"

	"tickechain/core/events"
	"tickechain/core/types"
	"tickechain/native/common"
)

var errNilState = errors.New("escrow engine: state not configured")

type engineState interface {
	common.PauseView
	SetPaused(module string, paused bool) error
	EscrowBalance(addr [20]byte) (*big.Int, error)
	EscrowSetBalance(addr [20]byte, amount *big.Int) error
	EscrowReleased(addr [20]byte) (*big.Int, error)
	EscrowSetReleased(addr [20]byte, amount *big.Int) error
	EscrowTotals() (*Totals, error)
	EscrowSetTotals(t *Totals) error
}

// EventStatus is consulted by the admin refund path when the caller names the
// event a refund belongs to.
type EventStatus interface {
	IsEventCancelled(id uint64) (bool, error)
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine keeps per-identity balances and the pool of funds held for sold
// tickets.
type Engine struct {
	state   engineState
	events  EventStatus
	emitter events.Emitter
	admins  map[[20]byte]struct{}
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		admins:  make(map[[20]byte]struct{}),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEventStatus wires the lifecycle view used to validate admin refunds.
func (e *Engine) SetEventStatus(view EventStatus) { e.events = view }

// SetAdmins replaces the set of identities allowed to pause the ledger and
// issue refunds directly.
func (e *Engine) SetAdmins(admins [][20]byte) {
	e.admins = make(map[[20]byte]struct{}, len(admins))
	for _, admin := range admins {
		e.admins[admin] = struct{}{}
	}
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
	e.emitter.Emit(escrowEvent{evt: evt})
}

func (e *Engine) isAdmin(addr [20]byte) bool {
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
	if err := e.ready(); err != nil {
		return err
	}
	if err := common.Guard(e.state, common.ModuleEscrow); err != nil {
		return fmt.Errorf("escrow: %w", err)
	}
	return nil
}

func positive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("escrow: %w: amount must be positive", common.ErrValidation)
	}
	return nil
}

func (e *Engine) totals() (*Totals, error) {
	t, err := e.state.EscrowTotals()
	if err != nil {
		return nil, err
	}
	return t.Clone(), nil
}

func (e *Engine) balance(addr [20]byte) (*big.Int, error) {
	bal, err := e.state.EscrowBalance(addr)
	if err != nil {
		return nil, err
	}
	return cloneAmount(bal), nil
}

// DepositFunds credits amount to the caller's escrow balance.
func (e *Engine) DepositFunds(caller [20]byte, amount *big.Int) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	bal, err := e.balance(caller)
	if err != nil {
		return nil, err
	}
	totals, err := e.totals()
	if err != nil {
		return nil, err
	}
	bal.Add(bal, amount)
	totals.Custodied.Add(totals.Custodied, amount)
	if err := e.state.EscrowSetBalance(caller, bal); err != nil {
		return nil, err
	}
	if err := e.state.EscrowSetTotals(totals); err != nil {
		return nil, err
	}
	e.emit(NewDepositedEvent(caller, amount, bal))
	return bal, nil
}

// WithdrawFunds pays amount out of the caller's balance.
func (e *Engine) WithdrawFunds(caller [20]byte, amount *big.Int) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	bal, err := e.balance(caller)
	if err != nil {
		return nil, err
	}
	if bal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("escrow: %w: insufficient balance", common.ErrInsufficientFunds)
	}
	totals, err := e.totals()
	if err != nil {
		return nil, err
	}
	bal.Sub(bal, amount)
	totals.Custodied.Sub(totals.Custodied, amount)
	if err := e.state.EscrowSetBalance(caller, bal); err != nil {
		return nil, err
	}
	if err := e.state.EscrowSetTotals(totals); err != nil {
		return nil, err
	}
	e.emit(NewWithdrawnEvent(caller, amount, bal))
	return bal, nil
}

// Hold moves amount from the buyer's balance into the held pool backing a
// ticket purchase. A zero amount is accepted for free events.
func (e *Engine) Hold(from [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: %w: amount must not be negative", common.ErrValidation)
	}
	if amt.Sign() == 0 {
		return nil
	}
	bal, err := e.balance(from)
	if err != nil {
		return err
	}
	if bal.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: %w: insufficient balance", common.ErrInsufficientFunds)
	}
	totals, err := e.totals()
	if err != nil {
		return err
	}
	bal.Sub(bal, amt)
	totals.Held.Add(totals.Held, amt)
	if err := e.state.EscrowSetBalance(from, bal); err != nil {
		return err
	}
	if err := e.state.EscrowSetTotals(totals); err != nil {
		return err
	}
	e.emit(NewHeldEvent(from, amt, bal))
	return nil
}

// ProcessRefund is the admin credit of the refund path. It credits amount from
// the held pool to the recipient. When eventID is supplied the event must be
// cancelled. The node only reaches it through the settlement admin refund,
// which burns the ticket the amount belongs to first.
func (e *Engine) ProcessRefund(caller, to [20]byte, amount *big.Int, eventID *uint64) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if !e.isAdmin(caller) {
		return nil, fmt.Errorf("escrow: %w: refund requires admin", common.ErrUnauthorized)
	}
	if eventID != nil {
		if e.events == nil {
			return nil, fmt.Errorf("escrow: %w: event status unavailable", common.ErrInvalidState)
		}
		cancelled, err := e.events.IsEventCancelled(*eventID)
		if err != nil {
			return nil, err
		}
		if !cancelled {
			return nil, fmt.Errorf("escrow: %w: event %d is not cancelled", common.ErrInvalidState, *eventID)
		}
	}
	return e.CreditRefund(to, amount, eventID)
}

// CreditRefund moves amount out of the held pool into the recipient's
// balance. It is the privileged path used by the refund settlement and
// performs no caller check.
func (e *Engine) CreditRefund(to [20]byte, amount *big.Int, eventID *uint64) (*big.Int, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	if err := positive(amount); err != nil {
		return nil, err
	}
	if to == ([20]byte{}) {
		return nil, fmt.Errorf("escrow: %w: recipient required", common.ErrValidation)
	}
	totals, err := e.totals()
	if err != nil {
		return nil, err
	}
	if totals.Held.Cmp(amount) < 0 {
		return nil, fmt.Errorf("escrow: %w: insufficient contract funds", common.ErrInsufficientFunds)
	}
	bal, err := e.balance(to)
	if err != nil {
		return nil, err
	}
	totals.Held.Sub(totals.Held, amount)
	bal.Add(bal, amount)
	if err := e.state.EscrowSetBalance(to, bal); err != nil {
		return nil, err
	}
	if err := e.state.EscrowSetTotals(totals); err != nil {
		return nil, err
	}
	e.emit(NewRefundedEvent(to, amount, bal, eventID))
	return bal, nil
}

// ReleaseFundsToCreator pays amount out of the held pool to the event creator.
// Only the verification settlement calls it.
func (e *Engine) ReleaseFundsToCreator(creator [20]byte, amount *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	amt := cloneAmount(amount)
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: %w: amount must not be negative", common.ErrValidation)
	}
	if amt.Sign() == 0 {
		return nil
	}
	totals, err := e.totals()
	if err != nil {
		return err
	}
	if totals.Held.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: %w: insufficient contract funds", common.ErrInsufficientFunds)
	}
	released, err := e.state.EscrowReleased(creator)
	if err != nil {
		return err
	}
	released = new(big.Int).Add(cloneAmount(released), amt)
	totals.Held.Sub(totals.Held, amt)
	totals.Custodied.Sub(totals.Custodied, amt)
	if err := e.state.EscrowSetReleased(creator, released); err != nil {
		return err
	}
	if err := e.state.EscrowSetTotals(totals); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(creator, amt, released))
	return nil
}

// Pause halts every fund movement until Unpause.
func (e *Engine) Pause(caller [20]byte) error {
	return e.setPaused(caller, true)
}

// Unpause lifts a previous Pause.
func (e *Engine) Unpause(caller [20]byte) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller [20]byte, paused bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !e.isAdmin(caller) {
		return fmt.Errorf("escrow: %w: pause control requires admin", common.ErrUnauthorized)
	}
	if e.state.IsPaused(common.ModuleEscrow) == paused {
		if paused {
			return fmt.Errorf("escrow: %w: already paused", common.ErrInvalidState)
		}
		return fmt.Errorf("escrow: %w: not paused", common.ErrInvalidState)
	}
	if err := e.state.SetPaused(common.ModuleEscrow, paused); err != nil {
		return err
	}
	if paused {
		e.emit(NewPausedEvent(caller))
	} else {
		e.emit(NewUnpausedEvent(caller))
	}
	return nil
}

// Paused reports whether the escrow ledger is paused.
func (e *Engine) Paused() bool {
	if e == nil || e.state == nil {
		return false
	}
	return e.state.IsPaused(common.ModuleEscrow)
}

// Balance returns the escrow balance credited to addr.
func (e *Engine) Balance(addr [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.balance(addr)
}

// Released returns the cumulative amount paid out to addr as an event creator.
func (e *Engine) Released(addr [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	released, err := e.state.EscrowReleased(addr)
	if err != nil {
		return nil, err
	}
	return cloneAmount(released), nil
}

// Totals returns the custodied and held amounts.
func (e *Engine) Totals() (*Totals, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.totals()
}
