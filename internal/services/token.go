package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taliaapp/apiserver/internal/hash"
	"github.com/taliaapp/apiserver/internal/store"
	"github.com/taliaapp/apiserver/internal/token"
	"github.com/taliaapp/apiserver/types"
)

const defaultDeviceLabel = "Refresh Token"

// RefreshTokenRepository defines persistence operations for refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, rt types.RefreshToken) (types.RefreshToken, error)
	GetByToken(ctx context.Context, tok string) (types.RefreshToken, error)
	Rotate(ctx context.Context, oldToken, newToken string, expiresAt time.Time) (types.RefreshToken, error)
	DeleteByToken(ctx context.Context, userID int, tok string) error
}

// TokenService is the token issuer: it mints access tokens, creates and
// rotates refresh tokens, and verifies credentials at signin.
type TokenService struct {
	users      UserRepository
	tokens     RefreshTokenRepository
	minter     *token.Minter
	hasher     hash.Hasher
	refreshTTL time.Duration
}

func NewTokenService(
	users UserRepository,
	tokens RefreshTokenRepository,
	minter *token.Minter,
	hasher hash.Hasher,
	refreshTTL time.Duration,
) *TokenService {
	return &TokenService{
		users:      users,
		tokens:     tokens,
		minter:     minter,
		hasher:     hasher,
		refreshTTL: refreshTTL,
	}
}

// IssueAccessToken mints a stateless signed access token for the user.
func (s *TokenService) IssueAccessToken(user types.User) (string, time.Time, error) {
	return s.minter.IssueAccess(user.ID)
}

// IssueRefreshToken creates a refresh token row for the user with a freshly
// generated unguessable token string and now+TTL expiry.
func (s *TokenService) IssueRefreshToken(ctx context.Context, user types.User, deviceLabel string) (types.RefreshToken, error) {
	if deviceLabel == "" {
		deviceLabel = defaultDeviceLabel
	}
	tok, err := token.NewRefreshString()
	if err != nil {
		return types.RefreshToken{}, err
	}
	rt, err := s.tokens.Create(ctx, types.RefreshToken{
		UserID:    user.ID,
		Token:     tok,
		Name:      deviceLabel,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	})
	if err != nil {
		return types.RefreshToken{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return rt, nil
}

// Attempt verifies email/password credentials and issues a token pair.
// Unknown email and wrong password produce the same error so callers cannot
// probe which accounts exist.
func (s *TokenService) Attempt(ctx context.Context, email, password, deviceLabel string) (types.TokenPair, types.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, types.User{}, ErrInvalidCredentials
		}
		return types.TokenPair{}, types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return types.TokenPair{}, types.User{}, ErrInvalidCredentials
	}

	pair, err := s.issuePair(ctx, user, deviceLabel)
	if err != nil {
		return types.TokenPair{}, types.User{}, err
	}
	return pair, user, nil
}

// Rotate exchanges a presented refresh token for a fresh pair. The token
// string and expiry are replaced in place via a conditional update, so once
// a rotation succeeds the old string is invalid for every later attempt,
// including a concurrent one that read the same row.
func (s *TokenService) Rotate(ctx context.Context, presented string) (types.TokenPair, error) {
	current, err := s.tokens.GetByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.TokenPair{}, ErrInvalidToken
		}
		return types.TokenPair{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if current.Expired(time.Now()) {
		return types.TokenPair{}, ErrTokenExpired
	}

	next, err := token.NewRefreshString()
	if err != nil {
		return types.TokenPair{}, err
	}
	rotated, err := s.tokens.Rotate(ctx, presented, next, time.Now().Add(s.refreshTTL))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost the race against a concurrent rotation.
			return types.TokenPair{}, ErrInvalidToken
		}
		return types.TokenPair{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	access, accessExpiresAt, err := s.minter.IssueAccess(rotated.UserID)
	if err != nil {
		return types.TokenPair{}, err
	}
	return types.TokenPair{
		Access:          access,
		AccessExpiresAt: accessExpiresAt,
		Refresh:         rotated,
	}, nil
}

// Revoke deletes the refresh token owned by the user. Access tokens already
// minted from it stay valid until their own expiry.
func (s *TokenService) Revoke(ctx context.Context, user types.User, tok string) error {
	if err := s.tokens.DeleteByToken(ctx, user.ID, tok); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return nil
}

// ParseAccess validates an access token and resolves the authenticated user.
func (s *TokenService) ParseAccess(ctx context.Context, tok string) (types.User, error) {
	userID, err := s.minter.ParseAccess(tok)
	if err != nil {
		return types.User{}, ErrInvalidToken
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidToken
		}
		return types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return user, nil
}

func (s *TokenService) issuePair(ctx context.Context, user types.User, deviceLabel string) (types.TokenPair, error) {
	access, accessExpiresAt, err := s.minter.IssueAccess(user.ID)
	if err != nil {
		return types.TokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(ctx, user, deviceLabel)
	if err != nil {
		return types.TokenPair{}, err
	}
	return types.TokenPair{
		Access:          access,
		AccessExpiresAt: accessExpiresAt,
		Refresh:         refresh,
	}, nil
}
