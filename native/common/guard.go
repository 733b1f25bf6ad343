package common

import "errors"

// ErrModulePaused is returned by Guard while a module's mutating operations
// are suspended.
var ErrModulePaused = errors.New("module paused")

// Module names recognised by the pause guard.
const (
	ModuleEvents  = "events"
	ModuleTickets = "tickets"
	ModuleEscrow  = "escrow"
)

// Modules lists every pausable module in a stable order.
var Modules = []string{ModuleEvents, ModuleTickets, ModuleEscrow}

// PauseView exposes the persisted pause flags.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard fails with ErrModulePaused when module is paused. A nil view or an
// empty module name never blocks.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseFlags snapshots the pause flag of every module in Modules.
func PauseFlags(p PauseView) map[string]bool {
	flags := make(map[string]bool, len(Modules))
	for _, module := range Modules {
		flags[module] = p != nil && p.IsPaused(module)
	}
	return flags
}
