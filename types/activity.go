package types

import "time"

// Event kinds recorded in the activity log.
const (
	EventRegisterEmail  = "register_email"
	EventLoginEmail     = "login_email"
	EventRegisterWallet = "register_wallet"
	EventLoginWallet    = "login_wallet"
	EventProfileView    = "profile_view"
	EventProfileUpdate  = "profile_update"
	EventAvatarUpload   = "avatar_upload"
	EventAvatarDelete   = "avatar_delete"
)

// ActivityRecord is one append-only entry in a user's activity history.
// Records are never mutated after being written and are totally ordered
// per user by Timestamp, with insertion order breaking ties.
type ActivityRecord struct {
	UserID    string         `json:"userId" bson:"user_id"`
	EventKind string         `json:"eventKind" bson:"event_kind"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Details   map[string]any `json:"details,omitempty" bson:"details,omitempty"`
}
