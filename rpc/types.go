package rpc

import (
	"math/big"

	"tickechain/core/events"
	"tickechain/crypto"
	"tickechain/native/escrow"
	"tickechain/native/lifecycle"
	"tickechain/native/settlement"
	"tickechain/native/tickets"
)

// EventResult is the JSON view of a ticketed event.
type EventResult struct {
	ID               uint64 `json:"id"`
	Creator          string `json:"creator"`
	Name             string `json:"name"`
	Location         string `json:"location,omitempty"`
	Description      string `json:"description,omitempty"`
	Date             int64  `json:"date"`
	Price            string `json:"price"`
	TicketsAvailable uint64 `json:"ticketsAvailable"`
	State            string `json:"state"`
	VerifiedCount    uint64 `json:"verifiedCount"`
	ActiveTickets    uint64 `json:"activeTickets"`
	CreatedAt        int64  `json:"createdAt"`
}

// TicketResult is the JSON view of a ticket.
type TicketResult struct {
	ID          uint64 `json:"id"`
	EventID     uint64 `json:"eventId"`
	Owner       string `json:"owner"`
	MetadataURI string `json:"metadataUri,omitempty"`
	Verified    bool   `json:"verified"`
	Active      bool   `json:"active"`
	Paid        string `json:"paid"`
	MintedAt    int64  `json:"mintedAt"`
}

// SettlementResult reports the funds released by a successful verification.
type SettlementResult struct {
	TicketID uint64 `json:"ticketId"`
	EventID  uint64 `json:"eventId"`
	Creator  string `json:"creator"`
	Holder   string `json:"holder"`
	Amount   string `json:"amount"`
}

// RefundResult reports a burned ticket and the credit returned to its holder.
type RefundResult struct {
	Ticket   TicketResult `json:"ticket"`
	Refunded string       `json:"refunded"`
	Balance  string       `json:"balance,omitempty"`
}

type BalanceResult struct {
	Address  string `json:"address"`
	Balance  string `json:"balance"`
	Released string `json:"released"`
}

type TotalsResult struct {
	Custodied string `json:"custodied"`
	Held      string `json:"held"`
}

type PausedResult struct {
	Events        bool   `json:"events"`
	Tickets       bool   `json:"tickets"`
	Escrow        bool   `json:"escrow"`
	Cancellations uint64 `json:"cancellations"`
}

// LogRecordResult is a committed log record with its sequence number.
type LogRecordResult struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

type LogRangeResult struct {
	Records []LogRecordResult `json:"records"`
	Next    uint64            `json:"next"`
}

func formatAddress(addr [20]byte) string {
	return crypto.AddressFromBytes20(addr).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func eventResult(evt *lifecycle.Event) EventResult {
	return EventResult{
		ID:               evt.ID,
		Creator:          formatAddress(evt.Creator),
		Name:             evt.Name,
		Location:         evt.Location,
		Description:      evt.Description,
		Date:             evt.Date,
		Price:            formatAmount(evt.Price),
		TicketsAvailable: evt.TicketsAvailable,
		State:            evt.State.String(),
		VerifiedCount:    evt.VerifiedCount,
		ActiveTickets:    evt.ActiveTickets,
		CreatedAt:        evt.CreatedAt,
	}
}

func eventResults(list []*lifecycle.Event) []EventResult {
	out := make([]EventResult, 0, len(list))
	for _, evt := range list {
		out = append(out, eventResult(evt))
	}
	return out
}

func ticketResult(ticket *tickets.Ticket) TicketResult {
	return TicketResult{
		ID:          ticket.ID,
		EventID:     ticket.EventID,
		Owner:       formatAddress(ticket.Owner),
		MetadataURI: ticket.MetadataURI,
		Verified:    ticket.Verified,
		Active:      ticket.Active,
		Paid:        formatAmount(ticket.Paid),
		MintedAt:    ticket.MintedAt,
	}
}

func ticketResults(list []*tickets.Ticket) []TicketResult {
	out := make([]TicketResult, 0, len(list))
	for _, ticket := range list {
		out = append(out, ticketResult(ticket))
	}
	return out
}

func settlementResult(receipt *settlement.Receipt) SettlementResult {
	return SettlementResult{
		TicketID: receipt.TicketID,
		EventID:  receipt.EventID,
		Creator:  formatAddress(receipt.Creator),
		Holder:   formatAddress(receipt.Holder),
		Amount:   formatAmount(receipt.Amount),
	}
}

// refundResult reports the burned ticket under the owner it had before the
// burn.
func refundResult(receipt *settlement.RefundReceipt) RefundResult {
	result := RefundResult{
		Ticket:   ticketResult(receipt.Ticket),
		Refunded: formatAmount(receipt.Refunded),
	}
	result.Ticket.Active = false
	if receipt.Balance != nil {
		result.Balance = receipt.Balance.String()
	}
	return result
}

func totalsResult(totals *escrow.Totals) TotalsResult {
	return TotalsResult{Custodied: formatAmount(totals.Custodied), Held: formatAmount(totals.Held)}
}

// LogRecord converts a committed record into its JSON view.
func LogRecord(committed events.Committed) LogRecordResult {
	result := LogRecordResult{Sequence: committed.Sequence, Attributes: map[string]string{}}
	if committed.Record != nil {
		result.Type = committed.Record.Type
		for k, v := range committed.Record.Attributes {
			result.Attributes[k] = v
		}
	}
	return result
}
