package models

import "time"

// User is a local-auth account record. PasswordHash is an Argon2id encoded
// hash and never leaves the server.
type User struct {
	ID           string    `json:"id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	PasswordHash string    `json:"-" bson:"passwordHash"`
	Role         string    `json:"role" bson:"role"`
	CreatedAt    time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updatedAt"`
}

// Save modes for workspace data.
const (
	SaveModeLocal   = "local"
	SaveModeAccount = "account"
)

// Preferences are per-scope user preferences. Missing or corrupt stored
// values fall back to these defaults rather than failing.
type Preferences struct {
	Locale          string `json:"locale"`
	SaveMode        string `json:"save_mode"` // local, account
	DefaultProvider string `json:"default_provider,omitempty"`
}

// DefaultPreferences returns the hardcoded fallback preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		Locale:   "en",
		SaveMode: SaveModeLocal,
	}
}
