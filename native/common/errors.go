package common

import "errors"

// Error classes shared by the lifecycle, ticket, escrow and settlement engines.
// Engines wrap these with context so callers can branch with errors.Is.
var (
	ErrValidation        = errors.New("validation failed")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	// ErrPaused aliases the guard sentinel so a paused module surfaces as a
	// single error class.
	ErrPaused = ErrModulePaused
)

// Class returns the taxonomy sentinel err belongs to, or nil when err does not
// wrap any of them.
func Class(err error) error {
	for _, sentinel := range []error{ErrPaused, ErrValidation, ErrUnauthorized, ErrInvalidState, ErrInsufficientFunds, ErrNotFound} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return nil
}

// ClassName returns a stable lowercase label for the error class of err. A nil
// error is "ok" and an error outside the taxonomy is "internal".
func ClassName(err error) string {
	if err == nil {
		return "ok"
	}
	switch Class(err) {
	case ErrPaused:
		return "paused"
	case ErrValidation:
		return "validation"
	case ErrUnauthorized:
		return "unauthorized"
	case ErrInvalidState:
		return "invalid_state"
	case ErrInsufficientFunds:
		return "insufficient_funds"
	case ErrNotFound:
		return "not_found"
	default:
		return "internal"
	}
}
