package state

import (
	"fmt"
	"math/big"

	"tickechain/native/escrow"
)

var (
	escrowBalancePrefix  = "escrow/balance/"
	escrowReleasedPrefix = "escrow/released/"
	escrowTotalsKey      = []byte("escrow/totals")
)

type storedTotals struct {
	Custodied *big.Int
	Held      *big.Int
}

func escrowAccountKey(prefix string, addr [20]byte) []byte {
	return append([]byte(prefix), addr[:]...)
}

func (tx *Tx) loadAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := tx.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (tx *Tx) storeAmount(key []byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return tx.KVDelete(key)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("state: negative amount")
	}
	return tx.KVPut(key, amount)
}

// EscrowBalance returns the escrow balance credited to addr.
func (tx *Tx) EscrowBalance(addr [20]byte) (*big.Int, error) {
	return tx.loadAmount(escrowAccountKey(escrowBalancePrefix, addr))
}

// EscrowSetBalance stores the escrow balance of addr.
func (tx *Tx) EscrowSetBalance(addr [20]byte, amount *big.Int) error {
	return tx.storeAmount(escrowAccountKey(escrowBalancePrefix, addr), amount)
}

// EscrowReleased returns the cumulative payouts made to addr.
func (tx *Tx) EscrowReleased(addr [20]byte) (*big.Int, error) {
	return tx.loadAmount(escrowAccountKey(escrowReleasedPrefix, addr))
}

// EscrowSetReleased stores the cumulative payouts made to addr.
func (tx *Tx) EscrowSetReleased(addr [20]byte, amount *big.Int) error {
	return tx.storeAmount(escrowAccountKey(escrowReleasedPrefix, addr), amount)
}

// EscrowTotals returns the ledger-wide custody totals.
func (tx *Tx) EscrowTotals() (*escrow.Totals, error) {
	var stored storedTotals
	if _, err := tx.KVGet(escrowTotalsKey, &stored); err != nil {
		return nil, err
	}
	return (&escrow.Totals{Custodied: stored.Custodied, Held: stored.Held}).Clone(), nil
}

// EscrowSetTotals stores the ledger-wide custody totals.
func (tx *Tx) EscrowSetTotals(t *escrow.Totals) error {
	c := t.Clone()
	if c.Custodied.Sign() < 0 || c.Held.Sign() < 0 || c.Held.Cmp(c.Custodied) > 0 {
		return fmt.Errorf("state: inconsistent escrow totals custodied=%s held=%s", c.Custodied, c.Held)
	}
	return tx.KVPut(escrowTotalsKey, &storedTotals{Custodied: c.Custodied, Held: c.Held})
}
