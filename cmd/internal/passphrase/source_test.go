package passphrase

import (
	"errors"
	"testing"
)

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("TKT_TEST_PASS", "correct horse")
	src := NewSource("TKT_TEST_PASS", "keystore")
	src.isTerminal = func() bool {
		t.Fatalf("terminal should not be consulted")
		return false
	}
	got, err := src.Get()
	if err != nil || got != "correct horse" {
		t.Fatalf("unexpected passphrase %q err=%v", got, err)
	}
}

func TestSourceRejectsEmptyEnvironment(t *testing.T) {
	t.Setenv("TKT_TEST_PASS", "   ")
	if _, err := NewSource("TKT_TEST_PASS", "keystore").Get(); err == nil {
		t.Fatalf("expected empty passphrase error")
	}
}

func TestSourceRequiresTerminalWithoutEnvironment(t *testing.T) {
	src := NewSource("TKT_TEST_PASS_UNSET", "keystore")
	src.isTerminal = func() bool { return false }
	if _, err := src.Get(); err == nil {
		t.Fatalf("expected error without terminal")
	}
}

func TestSourcePromptsAndCaches(t *testing.T) {
	src := NewSource("", "keystore")
	calls := 0
	src.isTerminal = func() bool { return true }
	src.readSecret = func() ([]byte, error) {
		calls++
		return []byte("typed secret"), nil
	}
	for i := 0; i < 2; i++ {
		got, err := src.Get()
		if err != nil || got != "typed secret" {
			t.Fatalf("unexpected passphrase %q err=%v", got, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single prompt, got %d", calls)
	}

	failing := NewSource("", "keystore")
	failing.isTerminal = func() bool { return true }
	failing.readSecret = func() ([]byte, error) { return nil, errors.New("tty closed") }
	if _, err := failing.Get(); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestSourceConfirmation(t *testing.T) {
	answers := []string{"gate secret", "gate secret"}
	src := NewSource("", "keystore").WithConfirmation()
	src.isTerminal = func() bool { return true }
	src.readSecret = func() ([]byte, error) {
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
	got, err := src.Get()
	if err != nil || got != "gate secret" {
		t.Fatalf("unexpected passphrase %q err=%v", got, err)
	}

	mismatched := []string{"first", "second"}
	other := NewSource("", "keystore").WithConfirmation()
	other.isTerminal = func() bool { return true }
	other.readSecret = func() ([]byte, error) {
		next := mismatched[0]
		mismatched = mismatched[1:]
		return []byte(next), nil
	}
	if _, err := other.Get(); err == nil {
		t.Fatalf("expected mismatch error")
	}
}
