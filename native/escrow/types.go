package escrow

import "math/big"

// Totals tracks the funds the ledger is responsible for. Custodied is every
// unit received and not yet paid out. Held is the part of Custodied that backs
// sold tickets and is not credited to any identity, so the sum of all balances
// plus Held always equals Custodied.
type Totals struct {
	Custodied *big.Int
	Held      *big.Int
}

// Clone returns a deep copy with nil amounts normalised to zero.
func (t *Totals) Clone() *Totals {
	out := &Totals{Custodied: big.NewInt(0), Held: big.NewInt(0)}
	if t == nil {
		return out
	}
	if t.Custodied != nil {
		out.Custodied.Set(t.Custodied)
	}
	if t.Held != nil {
		out.Held.Set(t.Held)
	}
	return out
}

// Credited returns the amount currently owed to identities, Custodied - Held.
func (t *Totals) Credited() *big.Int {
	c := t.Clone()
	return new(big.Int).Sub(c.Custodied, c.Held)
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
