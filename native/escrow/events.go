package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"tickechain/core/types"
)

const (
	EventTypeEscrowDeposited = "escrow.deposited"
	EventTypeEscrowWithdrawn = "escrow.withdrawn"
	EventTypeEscrowHeld      = "escrow.held"
	EventTypeEscrowRefunded  = "escrow.refunded"
	EventTypeEscrowReleased  = "escrow.released"
	EventTypeEscrowPaused    = "escrow.paused"
	EventTypeEscrowUnpaused  = "escrow.unpaused"
)

// NewDepositedEvent returns the canonical payload for funds entering escrow.
func NewDepositedEvent(account [20]byte, amount, balance *big.Int) *types.Event {
	return newAccountEvent(EventTypeEscrowDeposited, account, amount, balance)
}

// NewWithdrawnEvent returns the canonical payload for a withdrawal paid out to
// the account holder.
func NewWithdrawnEvent(account [20]byte, amount, balance *big.Int) *types.Event {
	return newAccountEvent(EventTypeEscrowWithdrawn, account, amount, balance)
}

// NewHeldEvent records a purchase moving funds from a balance into the held
// pool.
func NewHeldEvent(account [20]byte, amount, balance *big.Int) *types.Event {
	return newAccountEvent(EventTypeEscrowHeld, account, amount, balance)
}

// NewRefundedEvent records held funds credited back to a holder. eventID is
// optional.
func NewRefundedEvent(to [20]byte, amount, balance *big.Int, eventID *uint64) *types.Event {
	evt := newAccountEvent(EventTypeEscrowRefunded, to, amount, balance)
	if eventID != nil {
		evt.Attributes["eventId"] = strconv.FormatUint(*eventID, 10)
	}
	return evt
}

// NewReleasedEvent records held funds paid out to an event creator.
func NewReleasedEvent(creator [20]byte, amount, released *big.Int) *types.Event {
	evt := newAccountEvent(EventTypeEscrowReleased, creator, amount, nil)
	evt.Attributes["released"] = cloneAmount(released).String()
	return evt
}

// NewPausedEvent records an admin pausing the escrow ledger.
func NewPausedEvent(admin [20]byte) *types.Event {
	return &types.Event{Type: EventTypeEscrowPaused, Attributes: map[string]string{
		"admin": hex.EncodeToString(admin[:]),
	}}
}

// NewUnpausedEvent records an admin unpausing the escrow ledger.
func NewUnpausedEvent(admin [20]byte) *types.Event {
	return &types.Event{Type: EventTypeEscrowUnpaused, Attributes: map[string]string{
		"admin": hex.EncodeToString(admin[:]),
	}}
}

func newAccountEvent(eventType string, account [20]byte, amount, balance *big.Int) *types.Event {
	attrs := map[string]string{
		"account": hex.EncodeToString(account[:]),
		"amount":  cloneAmount(amount).String(),
	}
	if balance != nil {
		attrs["balance"] = balance.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
