package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/walletgate/apiserver/types"
)

// NewChallenge creates a challenge for the given normalized address with a
// fresh random nonce and the canonical message, valid for ttl from now.
func NewChallenge(addr string, ttl time.Duration) (types.Challenge, error) {
	var buf [NonceBytes]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return types.Challenge{}, fmt.Errorf("generate nonce: %w", err)
	}
	nonce := hex.EncodeToString(buf[:])

	issuedAt := time.Now().UTC()
	return types.Challenge{
		WalletAddress: addr,
		Nonce:         nonce,
		Message:       ChallengeMessage(addr, nonce, issuedAt),
		IssuedAt:      issuedAt,
		ExpiresAt:     issuedAt.Add(ttl),
	}, nil
}
