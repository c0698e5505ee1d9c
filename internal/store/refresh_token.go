package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/taliaapp/apiserver/types"
)

const refreshTokenColumns = `id, user_id, token, name, expires_at, created_at, updated_at`

// RefreshTokenRepository handles persistence for refresh tokens.
type RefreshTokenRepository struct {
	db DBTX
}

func NewRefreshTokenRepository(db DBTX) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// WithTx returns a copy of the repository bound to the given transaction.
func (r *RefreshTokenRepository) WithTx(tx *sql.Tx) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: tx}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, token types.RefreshToken) (types.RefreshToken, error) {
	now := time.Now()
	token.CreatedAt = now
	token.UpdatedAt = now

	const query = `
		INSERT INTO refresh_tokens (user_id, token, name, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		token.UserID,
		token.Token,
		token.Name,
		token.ExpiresAt,
		token.CreatedAt,
		token.UpdatedAt,
	).Scan(&token.ID); err != nil {
		return types.RefreshToken{}, translateError(err)
	}
	return token, nil
}

func (r *RefreshTokenRepository) GetByToken(ctx context.Context, token string) (types.RefreshToken, error) {
	const query = `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = $1`
	var rt types.RefreshToken
	err := r.db.QueryRowContext(ctx, query, token).Scan(
		&rt.ID,
		&rt.UserID,
		&rt.Token,
		&rt.Name,
		&rt.ExpiresAt,
		&rt.CreatedAt,
		&rt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RefreshToken{}, ErrNotFound
		}
		return types.RefreshToken{}, err
	}
	return rt, nil
}

// Rotate replaces the token string and expiry in place, keyed by the old
// token string. The conditional update makes concurrent rotations of the
// same token race safely: exactly one caller wins, the rest get ErrNotFound.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (types.RefreshToken, error) {
	const query = `
		UPDATE refresh_tokens
		SET token = $1,
			expires_at = $2,
			updated_at = $3
		WHERE token = $4
		RETURNING ` + refreshTokenColumns
	var rt types.RefreshToken
	err := r.db.QueryRowContext(ctx, query, newToken, expiresAt, time.Now(), oldToken).Scan(
		&rt.ID,
		&rt.UserID,
		&rt.Token,
		&rt.Name,
		&rt.ExpiresAt,
		&rt.CreatedAt,
		&rt.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.RefreshToken{}, ErrNotFound
		}
		return types.RefreshToken{}, translateError(err)
	}
	return rt, nil
}

// DeleteByToken removes the token row owned by the given user.
func (r *RefreshTokenRepository) DeleteByToken(ctx context.Context, userID int, token string) error {
	const query = `DELETE FROM refresh_tokens WHERE user_id = $1 AND token = $2`
	result, err := r.db.ExecContext(ctx, query, userID, token)
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

// DeleteExpired removes all tokens whose expiry is at or before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
