package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// Claims is the payload of both access and refresh tokens. The typ claim and
// the distinct signing secrets together guarantee one kind can never be
// presented as the other.
type Claims struct {
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies signed claims tokens. It is pure: no I/O,
// clock injected for tests.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

func NewTokenCodec(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (c *TokenCodec) AccessTTL() time.Duration  { return c.accessTTL }
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

func (c *TokenCodec) IssueAccess(subjectID string) (string, error) {
	return c.issue(subjectID, tokenTypeAccess, c.accessTTL, c.accessSecret)
}

func (c *TokenCodec) IssueRefresh(subjectID string) (string, error) {
	return c.issue(subjectID, tokenTypeRefresh, c.refreshTTL, c.refreshSecret)
}

func (c *TokenCodec) issue(subjectID, tokenType string, ttl time.Duration, secret []byte) (string, error) {
	now := c.now()
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", tokenType, err)
	}

	return encoded, nil
}

// VerifyAccess checks signature and expiry of an access token. Expired and
// malformed outcomes are distinguishable so clients know whether a refresh
// attempt is worthwhile.
func (c *TokenCodec) VerifyAccess(raw string) (Claims, error) {
	return c.verify(raw, tokenTypeAccess, c.accessSecret)
}

func (c *TokenCodec) VerifyRefresh(raw string) (Claims, error) {
	return c.verify(raw, tokenTypeRefresh, c.refreshSecret)
}

func (c *TokenCodec) verify(raw, tokenType string, secret []byte) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrExpiredToken
		}
		return Claims{}, ErrMalformedToken
	}
	if !token.Valid || claims.TokenType != tokenType || claims.Subject == "" || claims.ID == "" {
		return Claims{}, ErrMalformedToken
	}

	return claims, nil
}
