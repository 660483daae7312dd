package jwkutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

func testJWK(t *testing.T) *jose.JSONWebKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return &jose.JSONWebKey{Key: key.Public(), Algorithm: "ES256"}
}

func TestSupportedAlgs(t *testing.T) {
	jwk := testJWK(t)
	algs, ok := SupportedAlgs(jwk)
	require.True(t, ok)
	require.Contains(t, algs, jose.ES256)
	require.Contains(t, algs, jose.ES384)
}

func TestThumbprintStable(t *testing.T) {
	jwk := testJWK(t)
	tp1, err := Thumbprint(jwk)
	require.NoError(t, err)
	tp2, err := Thumbprint(jwk)
	require.NoError(t, err)
	require.Equal(t, tp1, tp2)
	require.NotEmpty(t, tp1)
}

func TestKeyAuthorization(t *testing.T) {
	jwk := testJWK(t)
	tp, err := Thumbprint(jwk)
	require.NoError(t, err)
	ka, err := KeyAuthorization(jwk, "tok123")
	require.NoError(t, err)
	require.Equal(t, "tok123."+tp, ka)
}

func TestCanonicalDeterministic(t *testing.T) {
	jwk := testJWK(t)
	c1, err := Canonical(jwk)
	require.NoError(t, err)
	c2, err := Canonical(jwk)
	require.NoError(t, err)
	require.Equal(t, c1, c2)
}
