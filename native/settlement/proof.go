package settlement

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"tickechain/crypto"
	"tickechain/native/common"
)

const messagePrefix = "I am validating ticket #"

// Proof is the portable ownership statement a holder presents at the gate. It
// is serialised as UTF-8 JSON and never persisted by the node.
type Proof struct {
	TicketID  uint64        `json:"ticketId"`
	Message   string        `json:"message"`
	Signature hexutil.Bytes `json:"signature"`
}

// Message returns the exact statement a holder signs for ticket id.
func Message(id uint64) string {
	return messagePrefix + strconv.FormatUint(id, 10)
}

// ParseMessage extracts the ticket id from a proof message. Anything other
// than the canonical form produced by Message is rejected.
func ParseMessage(msg string) (uint64, error) {
	if !strings.HasPrefix(msg, messagePrefix) {
		return 0, fmt.Errorf("settlement: %w: unexpected proof message", common.ErrValidation)
	}
	id, err := strconv.ParseUint(strings.TrimPrefix(msg, messagePrefix), 10, 64)
	if err != nil || Message(id) != msg {
		return 0, fmt.Errorf("settlement: %w: malformed ticket id in proof message", common.ErrValidation)
	}
	return id, nil
}

// SignProof builds a proof for ticketID signed by the holder's key.
func SignProof(key *crypto.PrivateKey, ticketID uint64) (*Proof, error) {
	msg := Message(ticketID)
	sig, err := crypto.SignText(key, []byte(msg))
	if err != nil {
		return nil, err
	}
	return &Proof{TicketID: ticketID, Message: msg, Signature: sig}, nil
}

// Encode renders the proof in its JSON transport form.
func (p *Proof) Encode() ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("settlement: %w: nil proof", common.ErrValidation)
	}
	return json.Marshal(p)
}

// Decode parses and validates a proof payload.
func Decode(data []byte) (*Proof, error) {
	var proof Proof
	if err := json.Unmarshal(data, &proof); err != nil {
		return nil, fmt.Errorf("settlement: %w: invalid proof payload: %v", common.ErrValidation, err)
	}
	if err := proof.Validate(); err != nil {
		return nil, err
	}
	return &proof, nil
}

// Validate checks that the message names the same ticket as the proof and that
// a signature of the right size is attached.
func (p *Proof) Validate() error {
	if p == nil {
		return fmt.Errorf("settlement: %w: nil proof", common.ErrValidation)
	}
	id, err := ParseMessage(p.Message)
	if err != nil {
		return err
	}
	if id != p.TicketID {
		return fmt.Errorf("settlement: %w: proof message names ticket %d, not %d", common.ErrValidation, id, p.TicketID)
	}
	if len(p.Signature) != crypto.SignatureLength {
		return fmt.Errorf("settlement: %w: signature must be %d bytes", common.ErrValidation, crypto.SignatureLength)
	}
	return nil
}

// RecoverSigner validates the proof and returns the identity that signed it.
func RecoverSigner(p *Proof) ([20]byte, error) {
	if err := p.Validate(); err != nil {
		return [20]byte{}, err
	}
	signer, err := crypto.RecoverText([]byte(p.Message), p.Signature)
	if err != nil {
		return [20]byte{}, fmt.Errorf("settlement: %w: %v", common.ErrValidation, err)
	}
	return signer, nil
}
