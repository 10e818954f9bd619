package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAccessTokenRoundTrip(t *testing.T) {
	codec := newTestCodec()

	raw, err := codec.IssueAccess("account-1")
	require.NoError(t, err)
	require.NotEmpty(t, raw)

	claims, err := codec.VerifyAccess(raw)
	require.NoError(t, err)
	require.Equal(t, "account-1", claims.Subject)
	require.Equal(t, tokenTypeAccess, claims.TokenType)
	require.NotEmpty(t, claims.ID)
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	codec := newTestCodec()

	raw, err := codec.IssueRefresh("account-1")
	require.NoError(t, err)

	claims, err := codec.VerifyRefresh(raw)
	require.NoError(t, err)
	require.Equal(t, "account-1", claims.Subject)
	require.Equal(t, tokenTypeRefresh, claims.TokenType)
}

func TestEveryTokenCarriesAFreshJTI(t *testing.T) {
	codec := newTestCodec()
	seen := make(map[string]bool)

	for i := 0; i < 20; i++ {
		raw, err := codec.IssueAccess("account-1")
		require.NoError(t, err)
		claims, err := codec.VerifyAccess(raw)
		require.NoError(t, err)
		require.False(t, seen[claims.ID], "jti reused")
		seen[claims.ID] = true
	}
}

func TestTokenKindsAreNotInterchangeable(t *testing.T) {
	codec := newTestCodec()

	access, err := codec.IssueAccess("account-1")
	require.NoError(t, err)
	refresh, err := codec.IssueRefresh("account-1")
	require.NoError(t, err)

	_, err = codec.VerifyRefresh(access)
	require.ErrorIs(t, err, ErrMalformedToken)

	_, err = codec.VerifyAccess(refresh)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestExpiredAndMalformedAreDistinct(t *testing.T) {
	codec := newTestCodec()

	raw, err := codec.IssueAccess("account-1")
	require.NoError(t, err)

	codec.now = func() time.Time { return time.Now().UTC().Add(16 * time.Minute) }
	_, err = codec.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrExpiredToken)
	require.NotErrorIs(t, err, ErrMalformedToken)

	codec.now = func() time.Time { return time.Now().UTC() }
	_, err = codec.VerifyAccess("garbage.token.value")
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestTamperedTokenIsMalformed(t *testing.T) {
	codec := newTestCodec()

	raw, err := codec.IssueAccess("account-1")
	require.NoError(t, err)

	parts := strings.Split(raw, ".")
	require.Len(t, parts, 3)
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	_, err = codec.VerifyAccess(tampered)
	require.ErrorIs(t, err, ErrMalformedToken)
}

func TestVerifierRejectsWrongSecret(t *testing.T) {
	codec := newTestCodec()
	other := NewTokenCodec("different-access", "different-refresh", 15*time.Minute, time.Hour)

	raw, err := codec.IssueAccess("account-1")
	require.NoError(t, err)

	_, err = other.VerifyAccess(raw)
	require.ErrorIs(t, err, ErrMalformedToken)
}
