package types

import "time"

// User represents an account in the system.
// It contains identity, verification state, profile fields, and audit metadata.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the user's email address. Unique across all accounts.
	Email string `json:"email" db:"email"`

	// Username is the unique login name chosen by the user (max 16 characters).
	Username string `json:"username" db:"username"`

	// Fullname is the user's display or full name.
	Fullname string `json:"fullname" db:"fullname"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password"`

	// VerificationCode is the pending email-verification code. It is set at
	// signup and cleared once the account is verified. Unique while present.
	VerificationCode *string `json:"-" db:"verification_code"`

	// VerifiedAt is the timestamp at which the account completed email
	// verification. A nil value means the account is still unverified.
	VerifiedAt *time.Time `json:"verified_at" db:"verified_at"`

	// Optional profile fields.
	BirthYear     *int    `json:"birth_y" db:"birth_y"`
	BirthMonth    *int    `json:"birth_m" db:"birth_m"`
	BirthDay      *int    `json:"birth_d" db:"birth_d"`
	Gender        *string `json:"gender" db:"gender"`
	About         *string `json:"about" db:"about"`
	Hometown      *string `json:"hometown" db:"hometown"`
	Sensitive     bool    `json:"sensitive" db:"sensitive"`
	MaskSensitive bool    `json:"mask_sensitive" db:"mask_sensitive"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Verified reports whether the account has completed email verification.
func (u User) Verified() bool {
	return u.VerifiedAt != nil
}
