package auth

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// NonceBytes is the size of a challenge nonce (128 bits).
	NonceBytes = 16

	signatureLen = 65
)

var (
	// ErrInvalidAddress is returned when a wallet address is not 20 bytes
	// of 0x-prefixed hex.
	ErrInvalidAddress = errors.New("invalid wallet address")

	// ErrInvalidSignature is returned when a signature is malformed or
	// the public key cannot be recovered from it.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrAddressMismatch is returned when the recovered address does not
	// match the claimed one.
	ErrAddressMismatch = errors.New("recovered address does not match")
)

// NormalizeAddress canonicalizes a wallet address to lowercase hex with a
// 0x prefix.
func NormalizeAddress(addr string) (string, error) {
	addr = strings.ToLower(strings.TrimSpace(addr))
	if !strings.HasPrefix(addr, "0x") {
		return "", ErrInvalidAddress
	}
	body := addr[2:]
	if len(body) != 40 {
		return "", ErrInvalidAddress
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", ErrInvalidAddress
	}
	return addr, nil
}

// ChallengeMessage builds the canonical human-readable string the client
// signs. The format is part of the client contract and must not change.
func ChallengeMessage(addr, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(
		"Sign this message to authenticate with our service.\n\nWallet: %s\nNonce: %s\nIssued: %s",
		addr, nonce, issuedAt.UTC().Format(time.RFC3339),
	)
}

// personalDigest computes the EIP-191 digest of a message:
// keccak256("\x19Ethereum Signed Message:\n" + len(message) + message).
func personalDigest(message string) []byte {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	return crypto.Keccak256([]byte(prefixed))
}

// RecoverAddress recovers the signer's address from a 65-byte (r,s,v)
// signature over the EIP-191 digest of message. Both v in {0,1} and the
// conventional {27,28} are accepted.
func RecoverAddress(message string, sig []byte) (string, error) {
	if len(sig) != signatureLen {
		return "", ErrInvalidSignature
	}
	normalized := make([]byte, signatureLen)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(personalDigest(message), normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return strings.ToLower(crypto.PubkeyToAddress(*pub).Hex()), nil
}

// VerifySignature checks that sigHex is a valid signature over message by
// the holder of addr. sigHex may carry a 0x prefix.
func VerifySignature(addr, message, sigHex string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return ErrInvalidSignature
	}
	recovered, err := RecoverAddress(message, sig)
	if err != nil {
		return err
	}
	if !strings.EqualFold(recovered, addr) {
		return ErrAddressMismatch
	}
	return nil
}
