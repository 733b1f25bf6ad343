package settlement

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"tickechain/core/events"
	"tickechain/core/types"
	"tickechain/native/common"
	"tickechain/native/lifecycle"
	"tickechain/native/tickets"
)

const EventTypeTicketSettled = "settlement.released"

var errNotWired = errors.New("settlement engine: ledgers not configured")

// EventView is the read-only slice of the lifecycle manager the orchestrator
// needs.
type EventView interface {
	Event(id uint64) (*lifecycle.Event, error)
}

// TicketLedger is the ticket engine surface composed by settlement.
type TicketLedger interface {
	Ticket(id uint64) (*tickets.Ticket, error)
	MintTicket(owner [20]byte, uri string, eventID uint64, paid *big.Int) (*tickets.Ticket, error)
	MarkTicketAsVerified(caller [20]byte, id uint64) (*tickets.Ticket, error)
	RefundTicket(caller [20]byte, id uint64) (*tickets.Ticket, error)
	AdminRefundTicket(admin [20]byte, id uint64) (*tickets.Ticket, error)
}

// EscrowLedger is the fund movement surface composed by settlement.
type EscrowLedger interface {
	Hold(from [20]byte, amount *big.Int) error
	ReleaseFundsToCreator(creator [20]byte, amount *big.Int) error
	CreditRefund(to [20]byte, amount *big.Int, eventID *uint64) (*big.Int, error)
	ProcessRefund(caller, to [20]byte, amount *big.Int, eventID *uint64) (*big.Int, error)
}

// Receipt describes a completed verification and payout.
type Receipt struct {
	TicketID uint64
	EventID  uint64
	Creator  [20]byte
	Holder   [20]byte
	Amount   *big.Int
}

// RefundReceipt describes a burned ticket and the credit returned to its
// holder. Balance is nil when the ticket was free and nothing was credited.
type RefundReceipt struct {
	Ticket   *tickets.Ticket
	Refunded *big.Int
	Balance  *big.Int
}

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// Engine composes the ticket and escrow ledgers into the purchase, verify and
// refund flows. It performs no persistence of its own; the caller runs every
// method inside one state transaction so a failure in a later step discards
// the earlier ones.
type Engine struct {
	events  EventView
	tickets TicketLedger
	escrow  EscrowLedger
	emitter events.Emitter
}

// NewEngine binds the orchestrator to the ledgers of the current transaction.
func NewEngine(eventView EventView, ticketLedger TicketLedger, escrowLedger EscrowLedger) *Engine {
	return &Engine{
		events:  eventView,
		tickets: ticketLedger,
		escrow:  escrowLedger,
		emitter: events.NoopEmitter{},
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

func (e *Engine) ready() error {
	if e == nil || e.events == nil || e.tickets == nil || e.escrow == nil {
		return errNotWired
	}
	return nil
}

// Purchase holds the event price from the buyer's escrow balance and mints a
// ticket recording the held amount.
func (e *Engine) Purchase(buyer [20]byte, eventID uint64, uri string) (*tickets.Ticket, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	evt, err := e.events.Event(eventID)
	if err != nil {
		return nil, err
	}
	if evt.State != lifecycle.EventOpen {
		return nil, fmt.Errorf("settlement: %w: event %d is %s", common.ErrInvalidState, eventID, evt.State)
	}
	if evt.TicketsAvailable == 0 {
		return nil, fmt.Errorf("settlement: %w: event %d is sold out", common.ErrInvalidState, eventID)
	}
	if err := e.escrow.Hold(buyer, evt.Price); err != nil {
		return nil, err
	}
	return e.tickets.MintTicket(buyer, uri, eventID, evt.Price)
}

// VerifyAndSettle checks a holder proof presented to caller and, when every
// precondition holds, marks the ticket verified and releases its held price
// to the event creator.
func (e *Engine) VerifyAndSettle(caller [20]byte, proof *Proof) (*Receipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	signer, err := RecoverSigner(proof)
	if err != nil {
		return nil, err
	}
	ticket, err := e.tickets.Ticket(proof.TicketID)
	if err != nil {
		return nil, err
	}
	evt, err := e.events.Event(ticket.EventID)
	if err != nil {
		return nil, err
	}
	if caller != evt.Creator {
		return nil, fmt.Errorf("settlement: %w: only the event creator may verify ticket %d", common.ErrUnauthorized, ticket.ID)
	}
	if !ticket.Active {
		return nil, fmt.Errorf("settlement: %w: ticket %d is not active", common.ErrInvalidState, ticket.ID)
	}
	if ticket.Verified {
		return nil, fmt.Errorf("settlement: %w: ticket %d already verified", common.ErrInvalidState, ticket.ID)
	}
	if evt.State == lifecycle.EventCancelled {
		return nil, fmt.Errorf("settlement: %w: event %d is cancelled", common.ErrInvalidState, evt.ID)
	}
	if signer != ticket.Owner {
		return nil, fmt.Errorf("settlement: %w: proof for ticket %d was not signed by its holder", common.ErrUnauthorized, ticket.ID)
	}
	if _, err := e.tickets.MarkTicketAsVerified(caller, ticket.ID); err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(ticket.Paid)
	if err := e.escrow.ReleaseFundsToCreator(evt.Creator, amount); err != nil {
		return nil, err
	}
	receipt := &Receipt{
		TicketID: ticket.ID,
		EventID:  evt.ID,
		Creator:  evt.Creator,
		Holder:   ticket.Owner,
		Amount:   amount,
	}
	e.emitter.Emit(settlementEvent{evt: newSettledEvent(receipt)})
	return receipt, nil
}

// Refund burns the holder's ticket of a cancelled event and credits the held
// price back to the holder's escrow balance.
func (e *Engine) Refund(holder [20]byte, ticketID uint64) (*RefundReceipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	prior, err := e.tickets.RefundTicket(holder, ticketID)
	if err != nil {
		return nil, err
	}
	receipt := &RefundReceipt{Ticket: prior, Refunded: big.NewInt(0)}
	if prior.Paid == nil || prior.Paid.Sign() == 0 {
		return receipt, nil
	}
	eventID := prior.EventID
	balance, err := e.escrow.CreditRefund(prior.Owner, prior.Paid, &eventID)
	if err != nil {
		return nil, err
	}
	receipt.Refunded = new(big.Int).Set(prior.Paid)
	receipt.Balance = balance
	return receipt, nil
}

// AdminRefund burns a ticket of a cancelled event on its holder's behalf and
// credits the held price to the holder through the escrow admin refund path.
// The burn and the credit share the caller's transaction, so a ticket is
// refunded at most once whichever path reaches it first.
func (e *Engine) AdminRefund(admin [20]byte, ticketID uint64) (*RefundReceipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	prior, err := e.tickets.AdminRefundTicket(admin, ticketID)
	if err != nil {
		return nil, err
	}
	receipt := &RefundReceipt{Ticket: prior, Refunded: big.NewInt(0)}
	if prior.Paid == nil || prior.Paid.Sign() == 0 {
		return receipt, nil
	}
	eventID := prior.EventID
	balance, err := e.escrow.ProcessRefund(admin, prior.Owner, prior.Paid, &eventID)
	if err != nil {
		return nil, err
	}
	receipt.Refunded = new(big.Int).Set(prior.Paid)
	receipt.Balance = balance
	return receipt, nil
}

func newSettledEvent(r *Receipt) *types.Event {
	return &types.Event{Type: EventTypeTicketSettled, Attributes: map[string]string{
		"ticketId": strconv.FormatUint(r.TicketID, 10),
		"eventId":  strconv.FormatUint(r.EventID, 10),
		"creator":  hex.EncodeToString(r.Creator[:]),
		"holder":   hex.EncodeToString(r.Holder[:]),
		"amount":   r.Amount.String(),
	}}
}
