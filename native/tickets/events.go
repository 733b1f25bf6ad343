package tickets

import (
	"encoding/hex"
	"strconv"

	"tickechain/core/types"
)

const (
	EventTypeTicketMinted      = "ticket.minted"
	EventTypeTicketTransferred = "ticket.transferred"
	EventTypeTicketVerified    = "ticket.verified"
	EventTypeTicketRefunded    = "ticket.refunded"
	EventTypeTicketsPaused     = "tickets.paused"
	EventTypeTicketsUnpaused   = "tickets.unpaused"
)

// NewMintedEvent returns the log record for a freshly minted ticket.
func NewMintedEvent(t *Ticket) *types.Event { return newTicketEvent(EventTypeTicketMinted, t) }

// NewTransferredEvent records an ownership change.
func NewTransferredEvent(t *Ticket, from [20]byte) *types.Event {
	evt := newTicketEvent(EventTypeTicketTransferred, t)
	evt.Attributes["from"] = hex.EncodeToString(from[:])
	return evt
}

// NewVerifiedEvent records a gate verification performed by verifier.
func NewVerifiedEvent(t *Ticket, verifier [20]byte) *types.Event {
	evt := newTicketEvent(EventTypeTicketVerified, t)
	evt.Attributes["verifier"] = hex.EncodeToString(verifier[:])
	return evt
}

// NewRefundedEvent records the burn of a refunded ticket. The owner attribute
// carries the holder prior to the burn.
func NewRefundedEvent(t *Ticket) *types.Event { return newTicketEvent(EventTypeTicketRefunded, t) }

// NewAdminRefundedEvent records a burn issued by an admin on the holder's
// behalf.
func NewAdminRefundedEvent(t *Ticket, admin [20]byte) *types.Event {
	evt := newTicketEvent(EventTypeTicketRefunded, t)
	evt.Attributes["admin"] = hex.EncodeToString(admin[:])
	return evt
}

// NewPausedEvent records an admin pausing the ticket ledger.
func NewPausedEvent(admin [20]byte) *types.Event {
	return &types.Event{Type: EventTypeTicketsPaused, Attributes: map[string]string{
		"admin": hex.EncodeToString(admin[:]),
	}}
}

// NewUnpausedEvent records an admin unpausing the ticket ledger.
func NewUnpausedEvent(admin [20]byte) *types.Event {
	return &types.Event{Type: EventTypeTicketsUnpaused, Attributes: map[string]string{
		"admin": hex.EncodeToString(admin[:]),
	}}
}

func newTicketEvent(eventType string, t *Ticket) *types.Event {
	attrs := make(map[string]string)
	if t == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["ticketId"] = strconv.FormatUint(t.ID, 10)
	attrs["eventId"] = strconv.FormatUint(t.EventID, 10)
	attrs["owner"] = hex.EncodeToString(t.Owner[:])
	if t.MetadataURI != "" {
		attrs["uri"] = t.MetadataURI
	}
	if t.Paid != nil {
		attrs["paid"] = t.Paid.String()
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
