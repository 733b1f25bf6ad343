package common

import (
	"errors"
	"fmt"
	"testing"
)

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	paused := pauseSet{ModuleEscrow: true}
	if err := Guard(paused, ModuleEscrow); !errors.Is(err, ErrPaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if err := Guard(paused, ModuleTickets); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := Guard(nil, ModuleEscrow); err != nil {
		t.Fatalf("nil view must not block: %v", err)
	}
}

func TestPauseFlags(t *testing.T) {
	flags := PauseFlags(pauseSet{ModuleEvents: true})
	if len(flags) != len(Modules) {
		t.Fatalf("expected a flag per module, got %v", flags)
	}
	if !flags[ModuleEvents] || flags[ModuleTickets] || flags[ModuleEscrow] {
		t.Fatalf("unexpected flags %v", flags)
	}
	if PauseFlags(nil)[ModuleEscrow] {
		t.Fatalf("nil view reports nothing paused")
	}
}

func TestClass(t *testing.T) {
	wrapped := fmt.Errorf("escrow: %w: insufficient balance", ErrInsufficientFunds)
	if Class(wrapped) != ErrInsufficientFunds {
		t.Fatalf("unexpected class for %v", wrapped)
	}
	if Class(fmt.Errorf("escrow: %w", ErrModulePaused)) != ErrPaused {
		t.Fatalf("guard error must classify as paused")
	}
	if Class(errors.New("boom")) != nil {
		t.Fatalf("unclassified error must return nil")
	}
}

func TestClassName(t *testing.T) {
	cases := map[string]error{
		"ok":                 nil,
		"paused":             fmt.Errorf("tickets: %w", ErrModulePaused),
		"not_found":          fmt.Errorf("events: %w: event 4", ErrNotFound),
		"insufficient_funds": fmt.Errorf("escrow: %w: insufficient contract funds", ErrInsufficientFunds),
		"internal":           errors.New("disk full"),
	}
	for want, err := range cases {
		if got := ClassName(err); got != want {
			t.Fatalf("ClassName(%v) = %q, want %q", err, got, want)
		}
	}
}
