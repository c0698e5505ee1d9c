// Package token mints and validates the credentials used by the API: signed
// JWT access tokens and opaque random refresh-token strings.
package token

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
)

// Minter creates and parses access tokens. Access tokens are stateless:
// expiry and signature are the only checks, there is no revocation list.
type Minter struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
}

func NewMinter(secret, issuer string, accessTTL time.Duration) *Minter {
	return &Minter{
		secret:    []byte(secret),
		issuer:    issuer,
		accessTTL: accessTTL,
	}
}

// AccessTTL returns the configured access-token lifetime.
func (m *Minter) AccessTTL() time.Duration {
	return m.accessTTL
}

// IssueAccess mints a signed access token for the given user ID. The expiry
// is fixed at mint time and returned alongside the token string.
func (m *Minter) IssueAccess(userID int) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.accessTTL)
	claims := jwt.RegisteredClaims{
		Subject:   strconv.Itoa(userID),
		Issuer:    m.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAccess validates a presented access token and returns the user ID it
// was minted for. Expired or malformed tokens fail with ErrInvalidToken.
func (m *Minter) ParseAccess(tokenString string) (int, error) {
	claims := jwt.RegisteredClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return 0, ErrInvalidToken
	}
	if !tok.Valid {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || userID < 1 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// NewRefreshString returns a fresh unguessable refresh-token string.
func NewRefreshString() (string, error) {
	var buf [32]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf[:]), nil
}
