package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignatureLength is the size of a recoverable secp256k1 signature.
const SignatureLength = crypto.SignatureLength

// SignText signs msg using EIP-191 personal message hashing. The recovery id
// in the returned signature is normalised to 27/28 like wallet signatures.
func SignText(key *PrivateKey, msg []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	sig, err := crypto.Sign(accounts.TextHash(msg), key.PrivateKey)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverText returns the identity that produced sig over msg. Signatures with
// a recovery id of 0/1 or 27/28 are both accepted.
func RecoverText(msg, sig []byte) ([20]byte, error) {
	var out [20]byte
	if len(sig) != SignatureLength {
		return out, fmt.Errorf("crypto: signature must be %d bytes, got %d", SignatureLength, len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	if normalized[crypto.RecoveryIDOffset] > 1 {
		return out, errors.New("crypto: invalid signature recovery id")
	}
	pub, err := crypto.SigToPub(accounts.TextHash(msg), normalized)
	if err != nil {
		return out, fmt.Errorf("crypto: recover signer: %w", err)
	}
	copy(out[:], crypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}
