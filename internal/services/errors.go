package services

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by all services. Handlers map these onto HTTP
// statuses; services never format responses themselves.
var (
	// ErrValidation covers malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict covers duplicate email or username at signup.
	ErrConflict = errors.New("conflict")

	// ErrInvalidCredentials is returned for both unknown email and wrong
	// password so that signin never reveals whether an account exists.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidToken covers unknown, rotated-away, or malformed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenExpired is returned when a refresh token is past its expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidCode covers unknown, consumed, or expired verification and
	// recovery codes.
	ErrInvalidCode = errors.New("invalid code")

	// ErrNotVerified is returned when an operation requires a verified account.
	ErrNotVerified = errors.New("account not verified")

	// ErrEmailMismatch is returned when a social provider's asserted email
	// disagrees with the claimed one.
	ErrEmailMismatch = errors.New("email mismatch")

	// ErrForbidden is returned when the requester does not own the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound is returned when the referenced resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTooLarge is returned when a byte stream exceeds the size policy.
	ErrTooLarge = errors.New("file too large")

	// ErrUnsupportedType is returned when an extension or content type is
	// outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrStorageFailure wraps transient object-storage errors.
	ErrStorageFailure = errors.New("storage failure")

	// ErrStoreFailure wraps transient relational-store errors.
	ErrStoreFailure = errors.New("store failure")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
