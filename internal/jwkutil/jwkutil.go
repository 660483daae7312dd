// Package jwkutil provides JSON Web Key helpers used to identify ACME
// accounts: canonicalization for storage/lookup and RFC 7638 thumbprints
// for key authorizations.
package jwkutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// algsByKeyType lists the JWS algorithms this server accepts for each
// account key type, matching the "alg" literal RFC 8555 §6.2 allows per
// spec.md §4.2: any RSA size for RS256/384/512, and P-256 only for
// ES256/384/512 (the signature hash need not match the curve size --
// original_source's Protected model doesn't enforce that either).
var algsByKeyType = map[string][]jose.SignatureAlgorithm{
	"RSA": {jose.RS256, jose.RS384, jose.RS512},
	"EC":  {jose.ES256, jose.ES384, jose.ES512},
}

// SupportedAlgs reports the JWS algorithms acceptable for jwk's key
// type/curve: RSA (any size) or EC P-256. Any other key type or curve is
// rejected outright.
func SupportedAlgs(jwk *jose.JSONWebKey) ([]jose.SignatureAlgorithm, bool) {
	switch key := jwk.Key.(type) {
	case *rsa.PublicKey:
		return algsByKeyType["RSA"], true
	case *ecdsa.PublicKey:
		if key.Curve.Params().Name == "P-256" {
			return algsByKeyType["EC"], true
		}
		return nil, false
	default:
		return nil, false
	}
}

// Thumbprint computes the RFC 7638 JWK thumbprint, base64url-encoded, the
// same primitive used to build HTTP-01 key authorizations.
func Thumbprint(jwk *jose.JSONWebKey) (string, error) {
	b, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("computing jwk thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// KeyAuthorization builds the HTTP-01 key authorization string for token,
// "{token}.{thumbprint}".
func KeyAuthorization(jwk *jose.JSONWebKey, token string) (string, error) {
	tp, err := Thumbprint(jwk)
	if err != nil {
		return "", err
	}
	return token + "." + tp, nil
}

// Canonical returns the canonical JSON encoding of a public JWK, suitable
// as a stable storage/lookup key: go-jose always marshals JSONWebKey fields
// in a fixed struct order with no embedded whitespace, which is sufficient
// canonicalization for byte-equality comparisons in the accounts table.
func Canonical(jwk *jose.JSONWebKey) (string, error) {
	if jwk.IsPublic() {
		b, err := json.Marshal(jwk)
		if err != nil {
			return "", fmt.Errorf("marshaling jwk: %w", err)
		}
		return string(b), nil
	}
	pub := jwk.Public()
	b, err := json.Marshal(&pub)
	if err != nil {
		return "", fmt.Errorf("marshaling jwk: %w", err)
	}
	return string(b), nil
}
