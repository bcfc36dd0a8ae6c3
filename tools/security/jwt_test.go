package security

import (
	"context"
	"testing"
	"time"

	"RoomGate/service/chat"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret")

func TestGenerateAndVerify(t *testing.T) {
	opts := DefaultOptions(secret)
	tok, exp, err := Generate(opts, chat.User{ID: 42, Username: "ann", Email: "ann@example.com"})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), exp, time.Minute)

	u, err := NewVerifier(opts).Verify(context.Background(), tok)
	require.NoError(t, err)
	assert.Equal(t, chat.User{ID: 42, Username: "ann", Email: "ann@example.com"}, u)
}

func TestVerifyRejects(t *testing.T) {
	opts := DefaultOptions(secret)
	v := NewVerifier(opts)

	other, _, err := Generate(DefaultOptions([]byte("other")), chat.User{ID: 1})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), other)
	assert.Error(t, err, "wrong key")

	tok, _, err := Generate(opts, chat.User{ID: 1})
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), tok+"x")
	assert.Error(t, err, "tampered")

	old := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"sub": "1", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	signed, err := old.SignedString(secret)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signed)
	assert.Error(t, err, "expired")

	noExp := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{"sub": "1"})
	signed, err = noExp.SignedString(secret)
	require.NoError(t, err)
	_, err = v.Verify(context.Background(), signed)
	assert.Error(t, err, "exp is required")

	_, err = v.Verify(context.Background(), "garbage")
	assert.Error(t, err)
}

func TestIssuerChecked(t *testing.T) {
	opts := DefaultOptions(secret)
	opts.Issuer = "roomgate"
	tok, _, err := Generate(DefaultOptions(secret), chat.User{ID: 1})
	require.NoError(t, err)
	_, err = NewVerifier(opts).Verify(context.Background(), tok)
	assert.Error(t, err)

	tok, _, err = Generate(opts, chat.User{ID: 1})
	require.NoError(t, err)
	_, err = NewVerifier(opts).Verify(context.Background(), tok)
	assert.NoError(t, err)
}

func TestUserFromClaims(t *testing.T) {
	u, err := UserFromClaims(jwtlib.MapClaims{"userId": float64(7), "username": "bob"})
	require.NoError(t, err)
	assert.Equal(t, chat.User{ID: 7, Username: "bob"}, u)

	u, err = UserFromClaims(jwtlib.MapClaims{"sub": " 9 "})
	require.NoError(t, err)
	assert.Equal(t, int64(9), u.ID)

	for _, c := range []jwtlib.MapClaims{
		{},
		{"sub": "abc"},
		{"sub": "0"},
		{"sub": true},
	} {
		_, err := UserFromClaims(c)
		assert.Error(t, err, "%v", c)
	}
}

func TestUnsupportedAlg(t *testing.T) {
	_, _, err := Generate(Options{Secret: secret, Alg: "RS256"}, chat.User{ID: 1})
	assert.Error(t, err)
	_, _, err = Generate(Options{}, chat.User{ID: 1})
	assert.Error(t, err, "empty secret")
}

func TestHashToken(t *testing.T) {
	assert.Equal(t, HashToken("a"), HashToken("a"))
	assert.NotEqual(t, HashToken("a"), HashToken("b"))
}
