package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/taliaapp/apiserver/types"
)

const userColumns = `id, email, username, fullname, password, verification_code,
	birth_y, birth_m, birth_d, gender, about, hometown, sensitive, mask_sensitive,
	verified_at, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db DBTX
}

func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func (r *UserRepository) GetByID(ctx context.Context, id int) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, email))
}

func (r *UserRepository) GetByUsername(ctx context.Context, username string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, username))
}

func (r *UserRepository) GetByVerificationCode(ctx context.Context, code string) (types.User, error) {
	const query = `SELECT ` + userColumns + ` FROM users WHERE verification_code = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, code))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (email, username, fullname, password, verification_code,
			birth_y, birth_m, birth_d, gender, about, hometown, sensitive,
			mask_sensitive, verified_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		user.Email,
		user.Username,
		user.Fullname,
		user.PasswordHash,
		user.VerificationCode,
		user.BirthYear,
		user.BirthMonth,
		user.BirthDay,
		user.Gender,
		user.About,
		user.Hometown,
		user.Sensitive,
		user.MaskSensitive,
		user.VerifiedAt,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID); err != nil {
		return types.User{}, translateError(err)
	}
	return user, nil
}

// MarkVerified sets the verification timestamp and clears the pending code.
func (r *UserRepository) MarkVerified(ctx context.Context, id int, verifiedAt time.Time) error {
	const query = `
		UPDATE users
		SET verified_at = $1,
			verification_code = NULL,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, verifiedAt, time.Now(), id)
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

// UpdatePassword replaces the stored password hash.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int, passwordHash string) error {
	const query = `
		UPDATE users
		SET password = $1,
			updated_at = $2
		WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, passwordHash, time.Now(), id)
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

func (r *UserRepository) scanUser(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.Fullname,
		&user.PasswordHash,
		&user.VerificationCode,
		&user.BirthYear,
		&user.BirthMonth,
		&user.BirthDay,
		&user.Gender,
		&user.About,
		&user.Hometown,
		&user.Sensitive,
		&user.MaskSensitive,
		&user.VerifiedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
