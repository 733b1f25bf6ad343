package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"tickechain/crypto"
	"tickechain/native/settlement"
)

func runProofCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, proofUsage())
		return 1
	}
	switch args[0] {
	case "sign":
		return runProofSign(args[1:], stdout, stderr)
	case "verify":
		return runProofVerify(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown proof subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, proofUsage())
		return 1
	}
}

// runProofSign signs the ownership message for a ticket. The node is asked
// about the ticket's event first and cancelled events are refused.
func runProofSign(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("proof sign", stderr, proofUsage())
	var (
		keystorePath string
		ticketID     uint64
		out          string
	)
	fs.StringVar(&keystorePath, "keystore", defaultKeystorePath, "holder keystore")
	fs.Uint64Var(&ticketID, "ticket", 0, "ticket id")
	fs.StringVar(&out, "out", "", "write the proof to a file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if !flagProvided(fs.Args(), args, "ticket") {
		return printError(stderr, "--ticket is required")
	}

	eventID, err := ticketEvent(ticketID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	cancelled, err := eventCancelled(eventID)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if cancelled {
		return printError(stderr, fmt.Sprintf("event %d is cancelled; request a refund instead", eventID))
	}

	key, err := loadKey(keystorePath)
	if err != nil {
		return printError(stderr, err.Error())
	}
	proof, err := settlement.SignProof(key, ticketID)
	if err != nil {
		return printError(stderr, fmt.Sprintf("sign proof: %v", err))
	}
	encoded, err := json.MarshalIndent(proof, "", "  ")
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(out) != "" {
		if err := os.WriteFile(out, append(encoded, '\n'), 0o600); err != nil {
			return printError(stderr, fmt.Sprintf("write proof: %v", err))
		}
		fmt.Fprintf(stdout, "Proof for ticket %d written to %s\n", ticketID, out)
		return 0
	}
	fmt.Fprintln(stdout, string(encoded))
	return 0
}

// runProofVerify checks a proof offline and prints the recovered holder.
func runProofVerify(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("proof verify", stderr, proofUsage())
	var (
		path  string
		owner string
	)
	fs.StringVar(&path, "proof", "-", "proof file, - for stdin")
	fs.StringVar(&owner, "owner", "", "expected holder address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return printError(stderr, fmt.Sprintf("read proof: %v", err))
	}
	signer, ticketID, err := verifyProof(raw)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if strings.TrimSpace(owner) != "" {
		expected, err := crypto.ParseAddress(owner)
		if err != nil {
			return printError(stderr, fmt.Sprintf("invalid --owner: %v", err))
		}
		if expected != signer {
			return printError(stderr, fmt.Sprintf("proof signed by %s, not %s", crypto.AddressFromBytes20(signer).String(), owner))
		}
	}
	fmt.Fprintf(stdout, "Ticket: %d\nHolder: %s\n", ticketID, crypto.AddressFromBytes20(signer).String())
	return 0
}

func verifyProof(raw []byte) ([20]byte, uint64, error) {
	proof, err := settlement.Decode(raw)
	if err != nil {
		return [20]byte{}, 0, err
	}
	signer, err := settlement.RecoverSigner(proof)
	if err != nil {
		return [20]byte{}, 0, err
	}
	return signer, proof.TicketID, nil
}

func ticketEvent(ticketID uint64) (uint64, error) {
	result, rpcErr, err := rpcCall("tkt_ticketToEventId", map[string]uint64{"ticketId": ticketID})
	if err != nil {
		return 0, fmt.Errorf("RPC call failed: %w", err)
	}
	if rpcErr != nil {
		return 0, rpcErr
	}
	var eventID uint64
	if err := json.Unmarshal(result, &eventID); err != nil {
		return 0, fmt.Errorf("decode event id: %w", err)
	}
	return eventID, nil
}

func eventCancelled(eventID uint64) (bool, error) {
	result, rpcErr, err := rpcCall("tkt_isEventCancelled", map[string]uint64{"eventId": eventID})
	if err != nil {
		return false, fmt.Errorf("RPC call failed: %w", err)
	}
	if rpcErr != nil {
		return false, rpcErr
	}
	var cancelled bool
	if err := json.Unmarshal(result, &cancelled); err != nil {
		return false, fmt.Errorf("decode cancellation flag: %w", err)
	}
	return cancelled, nil
}

// flagProvided reports whether --name appeared among the parsed arguments.
func flagProvided(rest, all []string, name string) bool {
	parsed := all[:len(all)-len(rest)]
	for _, arg := range parsed {
		trimmed := strings.TrimLeft(arg, "-")
		if trimmed == name || strings.HasPrefix(trimmed, name+"=") {
			return true
		}
	}
	return false
}

func proofUsage() string {
	return strings.TrimSpace(`Usage:
  tkt-cli proof <command> [flags]

Commands:
  sign    --ticket ID [--keystore PATH] [--out FILE]
          Sign "I am validating ticket #ID" with the holder key. Refuses
          tickets of cancelled events.
  verify  [--proof FILE|-] [--owner ADDRESS]
          Check a proof offline and print the recovered holder.`)
}
