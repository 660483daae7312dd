package jws

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
)

type memNonces struct {
	issued map[string]bool
}

func newMemNonces() *memNonces { return &memNonces{issued: map[string]bool{}} }

func (m *memNonces) Consume(_ context.Context, nonce string) (bool, error) {
	if m.issued[nonce] {
		delete(m.issued, nonce)
		return true, nil
	}
	return false, nil
}

func (m *memNonces) Issue(_ context.Context) (string, error) {
	n := "nonce-" + string(rune(len(m.issued)+'a'))
	m.issued[n] = true
	return n, nil
}

func sign(t *testing.T, key *ecdsa.PrivateKey, embedJWK bool, kid, url, nonce string, payload []byte) []byte {
	t.Helper()
	opts := &jose.SignerOptions{EmbedJWK: embedJWK}
	opts.WithHeader("url", url)
	opts.WithHeader("nonce", nonce)
	if kid != "" {
		opts.WithHeader("kid", kid)
	}
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.ES256, Key: key}, opts)
	require.NoError(t, err)
	obj, err := signer.Sign(payload)
	require.NoError(t, err)
	full, err := obj.FullSerialize()
	require.NoError(t, err)
	return []byte(full)
}

func TestVerifyNewAccountHappyPath(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	nonces := newMemNonces()
	n, err := nonces.Issue(context.Background())
	require.NoError(t, err)

	raw := sign(t, key, true, "", "https://ca.example.com/acme/new-account", n, []byte(`{}`))
	result, newNonce, prob := Verify(context.Background(), raw, nonces, Options{
		ExpectedURL:     "https://ca.example.com/acme/new-account",
		AllowNewAccount: true,
	})
	require.Nil(t, prob)
	require.NotEmpty(t, newNonce)
	require.NotNil(t, result.JWK)
	require.Empty(t, result.KeyID)
}

func TestVerifyRejectsReusedNonce(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	nonces := newMemNonces()
	n, err := nonces.Issue(context.Background())
	require.NoError(t, err)

	raw := sign(t, key, true, "", "https://ca.example.com/acme/new-account", n, []byte(`{}`))
	opts := Options{ExpectedURL: "https://ca.example.com/acme/new-account", AllowNewAccount: true}

	_, _, prob := Verify(context.Background(), raw, nonces, opts)
	require.Nil(t, prob)

	raw2 := sign(t, key, true, "", "https://ca.example.com/acme/new-account", n, []byte(`{}`))
	_, newNonce, prob2 := Verify(context.Background(), raw2, nonces, opts)
	require.NotNil(t, prob2)
	require.Equal(t, "urn:ietf:params:acme:error:badNonce", string(prob2.Type))
	require.NotEmpty(t, newNonce)
}

func TestVerifyURLMismatch(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	nonces := newMemNonces()
	n, _ := nonces.Issue(context.Background())

	raw := sign(t, key, true, "", "https://ca.example.com/acme/new-account", n, []byte(`{}`))
	_, _, prob := Verify(context.Background(), raw, nonces, Options{
		ExpectedURL:     "https://ca.example.com/acme/other",
		AllowNewAccount: true,
	})
	require.NotNil(t, prob)
	require.Equal(t, "urn:ietf:params:acme:error:unauthorized", string(prob.Type))
}

func TestVerifyWithoutAllowNewAccountRejectsEmbeddedKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	nonces := newMemNonces()
	n, _ := nonces.Issue(context.Background())

	raw := sign(t, key, true, "", "https://ca.example.com/acme/new-order", n, []byte(`{}`))
	_, _, prob := Verify(context.Background(), raw, nonces, Options{
		ExpectedURL: "https://ca.example.com/acme/new-order",
	})
	require.NotNil(t, prob)
	require.Equal(t, "urn:ietf:params:acme:error:accountDoesNotExist", string(prob.Type))
}

func TestVerifyWithKIDResolvesAccountKey(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubJWK := &jose.JSONWebKey{Key: key.Public(), Algorithm: "ES256"}
	nonces := newMemNonces()
	n, _ := nonces.Issue(context.Background())

	raw := sign(t, key, false, "https://ca.example.com/acme/accounts/abc", "https://ca.example.com/acme/orders/1", n, []byte(`{}`))
	result, _, prob := Verify(context.Background(), raw, nonces, Options{
		ExpectedURL: "https://ca.example.com/acme/orders/1",
		ResolveKID: func(_ context.Context, kid string) (*jose.JSONWebKey, error) {
			require.Equal(t, "https://ca.example.com/acme/accounts/abc", kid)
			return pubJWK, nil
		},
	})
	require.Nil(t, prob)
	require.Equal(t, "https://ca.example.com/acme/accounts/abc", result.KeyID)
}

func TestUnmarshalPayloadEmptyIsNoop(t *testing.T) {
	var v struct{ X int }
	require.NoError(t, UnmarshalPayload(nil, &v))
	require.NoError(t, UnmarshalPayload([]byte(`{"X":5}`), &v))
	require.Equal(t, 5, v.X)
}
