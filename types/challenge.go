package types

import "time"

// Challenge is a pending wallet login attempt. At most one active challenge
// exists per wallet address; issuing a new one supersedes the previous.
type Challenge struct {
	// WalletAddress is the lowercase hex address the challenge was issued for.
	WalletAddress string `json:"walletAddress"`

	// Nonce is a uniformly random 128-bit value, hex-encoded.
	Nonce string `json:"nonce"`

	// Message is the canonical human-readable string the client must sign.
	// It embeds the wallet address, the nonce, and the issue time.
	Message string `json:"message"`

	// IssuedAt is the time the challenge was created.
	IssuedAt time.Time `json:"issuedAt"`

	// ExpiresAt is IssuedAt plus the challenge TTL. An expired challenge
	// can no longer be consumed.
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the challenge is past its expiry at the given time.
func (c Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
