package token_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-auth-session/token"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://id.example.com"
	testClientID = "trip-planner-web"
)

func mint(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("not-checked"))
	require.NoError(t, err)
	return raw
}

func TestBundleExpiry(t *testing.T) {
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b := token.NewBundle("A", "B", "C", time.Hour, issued)

	require.Equal(t, issued.Add(time.Hour), b.ExpiresAt)

	tests := []struct {
		name    string
		now     time.Time
		expired bool
	}{
		{"fresh", issued, false},
		{"just outside the buffer", b.ExpiresAt.Add(-token.ExpiryBuffer - time.Millisecond), false},
		{"buffer boundary", b.ExpiresAt.Add(-token.ExpiryBuffer), true},
		{"inside the buffer", b.ExpiresAt.Add(-time.Minute), true},
		{"past expiry", b.ExpiresAt.Add(time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expired, b.Expired(tt.now))
		})
	}
}

func TestBundleWithoutAccessTokenIsExpired(t *testing.T) {
	b := token.Bundle{RefreshToken: "C"}
	require.True(t, b.Expired(time.Now()))
	require.True(t, b.HasRefreshToken())
	require.False(t, b.Empty())
	require.True(t, token.Bundle{}.Empty())
}

func TestUserFromTokens(t *testing.T) {
	access := mint(t, jwtlib.MapClaims{
		"sub":   "user-1",
		"email": "user@example.com",
	})
	id := mint(t, jwtlib.MapClaims{
		"sub":            "user-1",
		"email":          "ignored@example.com",
		"given_name":     "Ada",
		"family_name":    "Lovelace",
		"email_verified": "true",
	})

	user, err := token.UserFromTokens(access, id)
	require.NoError(t, err)
	require.Equal(t, "user-1", user.ID)
	require.Equal(t, "user@example.com", user.Email)
	require.Equal(t, "Ada Lovelace", user.DisplayName())
	require.True(t, user.EmailVerified)
}

func TestUserFromTokensMissingClaimsDegrade(t *testing.T) {
	access := mint(t, jwtlib.MapClaims{"sub": "user-2"})

	user, err := token.UserFromTokens(access, "not-a-jwt")
	require.NoError(t, err)
	require.Equal(t, "user-2", user.ID)
	require.Empty(t, user.Email)
	require.Empty(t, user.DisplayName())
	require.False(t, user.EmailVerified)
}

func TestUserFromTokensMalformedAccessToken(t *testing.T) {
	_, err := token.UserFromTokens("A", "")
	require.ErrorIs(t, err, token.ErrMalformedToken)

	_, err = token.DecodeClaims("")
	require.ErrorIs(t, err, token.ErrMalformedToken)
}

func TestStaticVerifier(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	now := time.Now()

	sign := func(claims jwtlib.MapClaims) string {
		raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return raw
	}

	verifier := token.NewStaticVerifier(testIssuer, testClientID, func() time.Time { return now }, &key.PublicKey)
	ctx := context.Background()

	valid := sign(jwtlib.MapClaims{
		"iss": testIssuer,
		"aud": testClientID,
		"sub": "user-1",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	})
	require.NoError(t, verifier.Verify(ctx, valid))

	wrongAudience := sign(jwtlib.MapClaims{
		"iss": testIssuer,
		"aud": "someone-else",
		"sub": "user-1",
		"exp": now.Add(time.Hour).Unix(),
	})
	require.Error(t, verifier.Verify(ctx, wrongAudience))

	expired := sign(jwtlib.MapClaims{
		"iss": testIssuer,
		"aud": testClientID,
		"sub": "user-1",
		"exp": now.Add(-time.Hour).Unix(),
	})
	require.Error(t, verifier.Verify(ctx, expired))

	unsigned := mint(t, jwtlib.MapClaims{"iss": testIssuer, "aud": testClientID, "exp": now.Add(time.Hour).Unix()})
	require.Error(t, verifier.Verify(ctx, unsigned))

	require.Error(t, verifier.Verify(ctx, ""))
}

func TestUserFromTokensAccessTokenDecidesEmailVerified(t *testing.T) {
	id := mint(t, jwtlib.MapClaims{"sub": "user-3", "email_verified": true})

	tests := []struct {
		name     string
		claims   jwtlib.MapClaims
		expected bool
	}{
		{"explicit false kept", jwtlib.MapClaims{"sub": "user-3", "email_verified": false}, false},
		{"explicit true kept", jwtlib.MapClaims{"sub": "user-3", "email_verified": true}, true},
		{"absent taken from id token", jwtlib.MapClaims{"sub": "user-3"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := token.UserFromTokens(mint(t, tt.claims), id)
			require.NoError(t, err)
			require.Equal(t, tt.expected, user.EmailVerified)
		})
	}
}
