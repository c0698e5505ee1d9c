package store

import (
	"context"
	"database/sql"
)

// Atomic bundles multi-repository operations that must commit together.
type Atomic struct {
	db *sql.DB
}

func NewAtomic(db *sql.DB) *Atomic {
	return &Atomic{db: db}
}

// ResetPassword replaces the user's password hash and consumes the recovery
// code in a single transaction. If the code was already consumed the whole
// operation fails with ErrNotFound and the password is untouched.
func (a *Atomic) ResetPassword(ctx context.Context, userID int, passwordHash, code string) error {
	return Tx(ctx, a.db, func(tx *sql.Tx) error {
		if err := NewUserRepository(tx).UpdatePassword(ctx, userID, passwordHash); err != nil {
			return err
		}
		return NewRecoveryRepository(tx).DeleteByCode(ctx, code)
	})
}
