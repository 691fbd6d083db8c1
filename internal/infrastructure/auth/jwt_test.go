package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erp/receiving/internal/infrastructure/config"
)

func newTestVerifier(t *testing.T) *TokenVerifier {
	t.Helper()
	v, err := NewTokenVerifier(config.AuthConfig{
		Enabled:   true,
		JWTSecret: "test-secret-key-at-least-32-chars",
		Issuer:    "receiving",
	})
	require.NoError(t, err)
	return v
}

func TestNewTokenVerifier_RequiresSecret(t *testing.T) {
	_, err := NewTokenVerifier(config.AuthConfig{Enabled: true})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func TestVerify_RoundTrip(t *testing.T) {
	v := newTestVerifier(t)

	token, err := v.Sign("alice", "Alice Doe", time.Minute)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Actor())
	assert.Equal(t, "Alice Doe", claims.Name)
	assert.Equal(t, "receiving", claims.Issuer)
}

func sign(t *testing.T, method jwt.SigningMethod, key any, claims *Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerify_Rejections(t *testing.T) {
	v := newTestVerifier(t)
	secret := []byte("test-secret-key-at-least-32-chars")
	now := time.Now()
	valid := func() *Claims {
		return &Claims{RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			Issuer:    "receiving",
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		}}
	}

	expired := valid()
	expired.ExpiresAt = jwt.NewNumericDate(now.Add(-time.Hour))

	future := valid()
	future.NotBefore = jwt.NewNumericDate(now.Add(time.Hour))

	otherIssuer := valid()
	otherIssuer.Issuer = "someone-else"

	noSubject := valid()
	noSubject.Subject = "  "

	tests := []struct {
		name  string
		token string
		err   error
	}{
		{"garbage", "not-a-token", ErrInvalidToken},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("another-secret"), valid()), ErrInvalidToken},
		{"none algorithm", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, valid()), ErrInvalidToken},
		{"expired", sign(t, jwt.SigningMethodHS256, secret, expired), ErrExpiredToken},
		{"not yet valid", sign(t, jwt.SigningMethodHS256, secret, future), ErrTokenNotYetValid},
		{"issuer mismatch", sign(t, jwt.SigningMethodHS256, secret, otherIssuer), ErrInvalidIssuer},
		{"blank subject", sign(t, jwt.SigningMethodHS256, secret, noSubject), ErrMissingSubject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.token)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestVerify_LeewayAcceptsSmallClockSkew(t *testing.T) {
	v := newTestVerifier(t)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "bob",
		Issuer:    "receiving",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-5 * time.Second)),
	}}
	token := sign(t, jwt.SigningMethodHS256, []byte("test-secret-key-at-least-32-chars"), claims)

	got, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Actor())
}
