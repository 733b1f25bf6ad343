package tickets

import "math/big"

// Ticket is the right to attend one event. Verified only moves from false to
// true; Active is cleared once when the ticket is refunded and burned.
type Ticket struct {
	ID          uint64
	EventID     uint64
	Owner       [20]byte
	MetadataURI string
	Verified    bool
	Active      bool
	// Paid is the amount held in escrow for this ticket at purchase time.
	Paid     *big.Int
	MintedAt int64
}

// Clone returns a deep copy of the ticket.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	clone := *t
	if t.Paid != nil {
		clone.Paid = new(big.Int).Set(t.Paid)
	} else {
		clone.Paid = big.NewInt(0)
	}
	return &clone
}
