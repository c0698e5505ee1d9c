package types

import "time"

// RefreshToken is a long-lived credential owned by exactly one user.
//
// The token string is opaque and unguessable. Exchanging it for a new access
// token rotates the row in place: the token value is replaced and the expiry
// extended, so the old string is invalid for all future lookups and stale
// rows never accumulate.
type RefreshToken struct {
	// ID is the unique identifier of the token row.
	ID int `json:"-" db:"id"`

	// UserID is the identifier of the owning user.
	UserID int `json:"-" db:"user_id"`

	// Token is the opaque random token string. Unique.
	Token string `json:"token" db:"token"`

	// Name is a human-readable device or client label ("Refresh Token",
	// "iPhone", ...). Informational only.
	Name string `json:"name" db:"name"`

	// ExpiresAt is the instant after which the token can no longer be rotated.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Expired reports whether the token is past its expiry at the given instant.
func (t RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// PasswordRecovery is a single-use secret enabling a password reset without
// the original password. The row is deleted as part of the reset transaction,
// making replay impossible.
type PasswordRecovery struct {
	ID        int       `json:"-" db:"id"`
	UserID    int       `json:"-" db:"user_id"`
	Code      string    `json:"-" db:"code"`
	CreatedAt time.Time `json:"-" db:"created_at"`
	UpdatedAt time.Time `json:"-" db:"updated_at"`
}

// TokenPair is the access/refresh credential pair returned by signin,
// rotation, and social exchange.
type TokenPair struct {
	// Access is the signed short-lived access token.
	Access string `json:"access"`

	// AccessExpiresAt is the expiry fixed into the access token at mint time.
	AccessExpiresAt time.Time `json:"access_expires_at"`

	// Refresh is the refresh token row backing the pair.
	Refresh RefreshToken `json:"refresh"`
}
