package state

import "strings"

var pausePrefix = []byte("pause/")

func pauseKey(module string) []byte {
	module = strings.ToLower(strings.TrimSpace(module))
	return append(append([]byte(nil), pausePrefix...), module...)
}

// IsPaused reports whether module is paused. A read failure reports paused so
// the guard fails closed.
func (tx *Tx) IsPaused(module string) bool {
	var paused bool
	if _, err := tx.KVGet(pauseKey(module), &paused); err != nil {
		return true
	}
	return paused
}

// SetPaused toggles the pause flag of module.
func (tx *Tx) SetPaused(module string, paused bool) error {
	if !paused {
		return tx.KVDelete(pauseKey(module))
	}
	return tx.KVPut(pauseKey(module), true)
}
