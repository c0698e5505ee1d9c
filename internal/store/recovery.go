package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/taliaapp/apiserver/types"
)

// RecoveryRepository handles persistence for password recovery codes.
type RecoveryRepository struct {
	db DBTX
}

func NewRecoveryRepository(db DBTX) *RecoveryRepository {
	return &RecoveryRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *RecoveryRepository) WithTx(tx *sql.Tx) *RecoveryRepository {
	return &RecoveryRepository{db: tx}
}

func (r *RecoveryRepository) Create(ctx context.Context, recovery types.PasswordRecovery) (types.PasswordRecovery, error) {
	now := time.Now()
	recovery.CreatedAt = now
	recovery.UpdatedAt = now

	const query = `
		INSERT INTO password_recoveries (code, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		recovery.Code,
		recovery.UserID,
		recovery.CreatedAt,
		recovery.UpdatedAt,
	).Scan(&recovery.ID); err != nil {
		return types.PasswordRecovery{}, translateError(err)
	}
	return recovery, nil
}

func (r *RecoveryRepository) GetByCode(ctx context.Context, code string) (types.PasswordRecovery, error) {
	const query = `
		SELECT id, code, user_id, created_at, updated_at
		FROM password_recoveries
		WHERE code = $1`
	var recovery types.PasswordRecovery
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&recovery.ID,
		&recovery.Code,
		&recovery.UserID,
		&recovery.CreatedAt,
		&recovery.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.PasswordRecovery{}, ErrNotFound
		}
		return types.PasswordRecovery{}, err
	}
	return recovery, nil
}

func (r *RecoveryRepository) DeleteByCode(ctx context.Context, code string) error {
	const query = `DELETE FROM password_recoveries WHERE code = $1`
	result, err := r.db.ExecContext(ctx, query, code)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
