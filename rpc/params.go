package rpc

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"tickechain/crypto"
)

// parseAmount parses a base-10 amount. Amounts must fit in 256 bits.
func parseAmount(value string, allowZero bool) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nil, fmt.Errorf("amount exceeds 256 bits")
	}
	if amount.Sign() == 0 && !allowZero {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

// parseAddressParam accepts bech32 or 0x-hex addresses.
func parseAddressParam(field, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, fmt.Errorf("%s required", field)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid %s: %w", field, err)
	}
	return addr, nil
}

func requireID(field string, value *uint64) (uint64, error) {
	if value == nil {
		return 0, fmt.Errorf("%s required", field)
	}
	return *value, nil
}
