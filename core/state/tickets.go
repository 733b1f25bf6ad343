package state

import (
	"fmt"
	"math/big"
	"strconv"

	"tickechain/native/tickets"
)

var (
	ticketRecordPrefix = "tickets/record/"
	ticketOwnerPrefix  = "tickets/owner/"
	ticketCountKey     = []byte("tickets/count")
)

type storedTicket struct {
	EventID     uint64
	Owner       [20]byte
	MetadataURI string
	Verified    bool
	Active      bool
	Paid        *big.Int
	MintedAt    uint64
}

func ticketKey(id uint64) []byte {
	return []byte(ticketRecordPrefix + strconv.FormatUint(id, 10))
}

func ticketOwnerKey(owner [20]byte) []byte {
	return append([]byte(ticketOwnerPrefix), owner[:]...)
}

// TicketGet loads a ticket record.
func (tx *Tx) TicketGet(id uint64) (*tickets.Ticket, bool, error) {
	var stored storedTicket
	ok, err := tx.KVGet(ticketKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	paid := big.NewInt(0)
	if stored.Paid != nil {
		paid.Set(stored.Paid)
	}
	return &tickets.Ticket{
		ID:          id,
		EventID:     stored.EventID,
		Owner:       stored.Owner,
		MetadataURI: stored.MetadataURI,
		Verified:    stored.Verified,
		Active:      stored.Active,
		Paid:        paid,
		MintedAt:    int64(stored.MintedAt),
	}, true, nil
}

// TicketPut persists a ticket record.
func (tx *Tx) TicketPut(t *tickets.Ticket) error {
	if t == nil {
		return fmt.Errorf("state: nil ticket")
	}
	if t.MintedAt < 0 {
		return fmt.Errorf("state: ticket %d has negative mint time", t.ID)
	}
	paid := big.NewInt(0)
	if t.Paid != nil {
		paid.Set(t.Paid)
	}
	return tx.KVPut(ticketKey(t.ID), &storedTicket{
		EventID:     t.EventID,
		Owner:       t.Owner,
		MetadataURI: t.MetadataURI,
		Verified:    t.Verified,
		Active:      t.Active,
		Paid:        paid,
		MintedAt:    uint64(t.MintedAt),
	})
}

// TicketCount returns the next ticket id.
func (tx *Tx) TicketCount() (uint64, error) {
	return tx.kvGetUint64(ticketCountKey)
}

// TicketSetCount records the next ticket id.
func (tx *Tx) TicketSetCount(count uint64) error {
	return tx.KVPut(ticketCountKey, count)
}

// TicketOwnerIndexAdd adds id to the owner's ticket set.
func (tx *Tx) TicketOwnerIndexAdd(owner [20]byte, id uint64) error {
	return tx.kvAddID(ticketOwnerKey(owner), id)
}

// TicketOwnerIndexRemove drops id from the owner's ticket set.
func (tx *Tx) TicketOwnerIndexRemove(owner [20]byte, id uint64) error {
	return tx.kvRemoveID(ticketOwnerKey(owner), id)
}

// TicketOwnerIndex lists the ticket ids held by owner in acquisition order.
func (tx *Tx) TicketOwnerIndex(owner [20]byte) ([]uint64, error) {
	return tx.kvGetIDs(ticketOwnerKey(owner))
}
