package types

import "time"

// User represents a principal in the system. A user is created either by
// email registration or by the first successful wallet verification, and
// always has at least one of Email or WalletAddress set.
type User struct {
	// ID is the unique identifier of the user, generated at creation.
	ID string `json:"id" db:"id"`

	// Email is the user's email address, normalized to lowercase.
	// Empty when the user registered through a wallet and has not yet
	// completed their profile.
	Email string `json:"email,omitempty" db:"email"`

	// Name is the user's display name.
	Name string `json:"name,omitempty" db:"name"`

	// WalletAddress is the user's wallet address as lowercase hex with
	// a 0x prefix. Empty for email-only users.
	WalletAddress string `json:"walletAddress,omitempty" db:"wallet_address"`

	// ProfileComplete reports whether the user has supplied all
	// business-required profile fields.
	ProfileComplete bool `json:"profileComplete" db:"profile_complete"`

	// PasswordHash stores the encoded hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}
