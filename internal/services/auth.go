package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/taliaapp/apiserver/internal/hash"
	"github.com/taliaapp/apiserver/internal/mailer"
	"github.com/taliaapp/apiserver/internal/store"
	"github.com/taliaapp/apiserver/internal/token"
	"github.com/taliaapp/apiserver/types"
)

const (
	maxUsernameLen = 16
	codeLen        = 6
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByUsername(ctx context.Context, username string) (types.User, error)
	GetByVerificationCode(ctx context.Context, code string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	MarkVerified(ctx context.Context, id int, verifiedAt time.Time) error
}

// RecoveryRepository defines persistence operations for recovery codes.
type RecoveryRepository interface {
	Create(ctx context.Context, recovery types.PasswordRecovery) (types.PasswordRecovery, error)
	GetByCode(ctx context.Context, code string) (types.PasswordRecovery, error)
	DeleteByCode(ctx context.Context, code string) error
}

// PasswordResetter atomically replaces a password and consumes the recovery
// code that authorized the replacement.
type PasswordResetter interface {
	ResetPassword(ctx context.Context, userID int, passwordHash, code string) error
}

// Notifier enqueues outbound notifications fire-and-forget.
type Notifier interface {
	Enqueue(template, recipient, subject string, data map[string]string)
}

// ExternalIdentity is a provider-asserted identity from a social exchange.
type ExternalIdentity struct {
	Email         string
	Name          string
	EmailVerified bool
}

// IdentityProvider exchanges a third-party provider token for a verified
// external identity.
type IdentityProvider interface {
	Exchange(ctx context.Context, providerToken string) (ExternalIdentity, error)
}

// SignupInput is the validated-at-the-edge signup request payload.
type SignupInput struct {
	Email    string
	Password string
	Fullname string
	Username string
}

// AuthService drives the signup → verification → signin → recovery
// transitions for user accounts.
type AuthService struct {
	users       UserRepository
	recoveries  RecoveryRepository
	resetter    PasswordResetter
	tokens      *TokenService
	hasher      hash.Hasher
	notifier    Notifier
	provider    IdentityProvider
	recoveryTTL time.Duration
}

func NewAuthService(
	users UserRepository,
	recoveries RecoveryRepository,
	resetter PasswordResetter,
	tokens *TokenService,
	hasher hash.Hasher,
	notifier Notifier,
	provider IdentityProvider,
	recoveryTTL time.Duration,
) *AuthService {
	return &AuthService{
		users:       users,
		recoveries:  recoveries,
		resetter:    resetter,
		tokens:      tokens,
		hasher:      hasher,
		notifier:    notifier,
		provider:    provider,
		recoveryTTL: recoveryTTL,
	}
}

// Signup creates an unverified account with a fresh verification code and
// enqueues the verification mail. The conflict error names the colliding
// field; signin deliberately does not get the same courtesy.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (types.User, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.Username = strings.TrimSpace(in.Username)
	in.Fullname = strings.TrimSpace(in.Fullname)

	if _, err := mail.ParseAddress(in.Email); err != nil {
		return types.User{}, validationError("invalid email address")
	}
	if in.Password == "" {
		return types.User{}, validationError("password is required")
	}
	if in.Fullname == "" {
		return types.User{}, validationError("fullname is required")
	}
	if in.Username == "" || len(in.Username) > maxUsernameLen {
		return types.User{}, validationError("username must be 1-%d characters", maxUsernameLen)
	}

	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return types.User{}, fmt.Errorf("%w: email already taken", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if _, err := s.users.GetByUsername(ctx, in.Username); err == nil {
		return types.User{}, fmt.Errorf("%w: username already taken", ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return types.User{}, err
	}
	code, err := generateCode(codeLen)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.users.Create(ctx, types.User{
		Email:            in.Email,
		Username:         in.Username,
		Fullname:         in.Fullname,
		PasswordHash:     digest,
		VerificationCode: &code,
		MaskSensitive:    true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Unique constraint caught a race the lookups missed.
			return types.User{}, fmt.Errorf("%w: email or username already taken", ErrConflict)
		}
		return types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	s.notifier.Enqueue(mailer.TemplateVerify, user.Email, "Validate your account!", map[string]string{
		"fullname": user.Fullname,
		"code":     code,
	})
	return user, nil
}

// Verify consumes a verification code: the account gets its verification
// timestamp and the code is cleared, so a replay of the same code fails.
func (s *AuthService) Verify(ctx context.Context, code string) (types.User, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return types.User{}, ErrInvalidCode
	}

	user, err := s.users.GetByVerificationCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCode
		}
		return types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	now := time.Now()
	if err := s.users.MarkVerified(ctx, user.ID, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCode
		}
		return types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	user.VerifiedAt = &now
	user.VerificationCode = nil
	return user, nil
}

// Forget starts password recovery for a verified account: a single-use code
// is stored and mailed to the user.
func (s *AuthService) Forget(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return validationError("invalid email address")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if !CanRecoverPassword(user) {
		return ErrNotVerified
	}

	code, err := generateCode(codeLen)
	if err != nil {
		return err
	}
	if _, err := s.recoveries.Create(ctx, types.PasswordRecovery{
		UserID: user.ID,
		Code:   code,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}

	s.notifier.Enqueue(mailer.TemplateForget, user.Email, "Recover your password!", map[string]string{
		"fullname": user.Fullname,
		"code":     code,
	})
	return nil
}

// Recover consumes a recovery code and replaces the password. The password
// update and the code deletion commit in one transaction, so a consumed code
// can never authorize a second reset.
func (s *AuthService) Recover(ctx context.Context, code, password, confirmation string) error {
	code = strings.TrimSpace(code)
	if len(code) != codeLen {
		return validationError("code must be %d characters", codeLen)
	}
	if password == "" {
		return validationError("password is required")
	}
	if password != confirmation {
		return validationError("password confirmation does not match")
	}

	recovery, err := s.recoveries.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if s.recoveryTTL > 0 && time.Since(recovery.CreatedAt) > s.recoveryTTL {
		// Expired codes are reaped lazily on the failed attempt.
		_ = s.recoveries.DeleteByCode(ctx, code)
		return ErrInvalidCode
	}

	user, err := s.users.GetByID(ctx, recovery.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidCode
		}
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	if !CanRecoverPassword(user) {
		return ErrNotVerified
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := s.resetter.ResetPassword(ctx, user.ID, digest, code); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Another reset consumed the code first.
			return ErrInvalidCode
		}
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return nil
}

// SocialExchange trades a provider token for a local session. The account is
// found or created by email and auto-verified when the provider asserts a
// verified email.
func (s *AuthService) SocialExchange(ctx context.Context, providerToken, claimedEmail, deviceLabel string) (types.TokenPair, types.User, error) {
	identity, err := s.provider.Exchange(ctx, providerToken)
	if err != nil {
		return types.TokenPair{}, types.User{}, ErrInvalidToken
	}
	if !strings.EqualFold(strings.TrimSpace(claimedEmail), identity.Email) {
		return types.TokenPair{}, types.User{}, ErrEmailMismatch
	}

	user, err := s.users.GetByEmail(ctx, identity.Email)
	if errors.Is(err, store.ErrNotFound) {
		user, err = s.createSocialUser(ctx, identity)
	}
	if err != nil {
		return types.TokenPair{}, types.User{}, err
	}

	pair, err := s.tokens.issuePair(ctx, user, deviceLabel)
	if err != nil {
		return types.TokenPair{}, types.User{}, err
	}
	return pair, user, nil
}

func (s *AuthService) createSocialUser(ctx context.Context, identity ExternalIdentity) (types.User, error) {
	// Social accounts never use password signin; store an unguessable hash.
	randomPassword, err := token.NewRefreshString()
	if err != nil {
		return types.User{}, err
	}
	digest, err := s.hasher.Hash(randomPassword)
	if err != nil {
		return types.User{}, err
	}

	username, err := usernameFromEmail(identity.Email)
	if err != nil {
		return types.User{}, err
	}

	user := types.User{
		Email:         identity.Email,
		Username:      username,
		Fullname:      identity.Name,
		PasswordHash:  digest,
		MaskSensitive: true,
	}
	if user.Fullname == "" {
		user.Fullname = username
	}
	if identity.EmailVerified {
		now := time.Now()
		user.VerifiedAt = &now
	} else {
		code, err := generateCode(codeLen)
		if err != nil {
			return types.User{}, err
		}
		user.VerificationCode = &code
	}

	created, err := s.users.Create(ctx, user)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, fmt.Errorf("%w: username already taken", ErrConflict)
		}
		return types.User{}, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return created, nil
}

// usernameFromEmail derives a username candidate from the email local part,
// padded with random characters to dodge collisions.
func usernameFromEmail(email string) (string, error) {
	local := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		local = email[:at]
	}
	local = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, local)
	if len(local) > maxUsernameLen-4 {
		local = local[:maxUsernameLen-4]
	}
	suffix, err := generateCode(4)
	if err != nil {
		return "", err
	}
	return local + strings.ToLower(suffix), nil
}

// generateCode returns n random characters from the code alphabet.
func generateCode(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}
