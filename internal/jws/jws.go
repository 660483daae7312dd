// Package jws verifies the JWS envelope that wraps every ACME request body:
// RFC 7515 signature verification plus the ACME-specific "url"/"nonce"
// protected-header checks from RFC 8555 §6.2-§6.4.
package jws

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-jose/go-jose/v4"

	"github.com/knrdl/acme-ca-server/internal/jwkutil"
	"github.com/knrdl/acme-ca-server/internal/problem"
)

var allowedAlgs = []jose.SignatureAlgorithm{
	jose.RS256, jose.RS384, jose.RS512,
	jose.ES256, jose.ES384, jose.ES512,
}

// NonceConsumer is satisfied by internal/nonce.Store; kept as a narrow
// interface here so this package doesn't depend on the store's Postgres
// wiring.
type NonceConsumer interface {
	Consume(ctx context.Context, nonce string) (bool, error)
	Issue(ctx context.Context) (string, error)
}

// KeyResolver looks up the JWK registered for an account kid URL. It
// returns problem.AccountDoesNotExistf when the account isn't found.
type KeyResolver func(ctx context.Context, kid string) (*jose.JSONWebKey, error)

// Result is the verified, decoded content of a JWS envelope.
type Result struct {
	Payload    []byte
	JWK        *jose.JSONWebKey // set when the request carried an embedded key
	KeyID      string           // set when the request carried a kid
	AccountJWK *jose.JSONWebKey // the key actually used to verify, embedded or resolved
	NewNonce   string
}

// Options configures one verification call.
type Options struct {
	// ExpectedURL is the request URL the caller computed for the current
	// request; it must match the protected header's "url" value.
	ExpectedURL string
	// ResolveKID looks up the stored JWK for a kid; it is consulted
	// whenever the request carries a kid, regardless of AllowNewAccount.
	ResolveKID KeyResolver
	// AllowNewAccount permits an embedded jwk in place of a kid (used by
	// new-account and revoke-cert, which original_source both configure
	// with allow_new_account=True). Every other endpoint requires a kid.
	AllowNewAccount bool
}

// Verify parses raw as a JWS, enforces the mutual-exclusion and URL/nonce
// rules, verifies the signature, and returns the decoded payload.
//
// Nonce consumption happens only after signature verification succeeds,
// matching original_source's ordering: a forged/invalid signature never
// burns a legitimate nonce.
//
// The second return value is the freshly minted replay nonce for the
// response once the request's nonce has been checked (on success and on
// badNonce). Failures before that point return an empty string, which
// means "no nonce available yet" rather than an error.
func Verify(ctx context.Context, raw []byte, nonces NonceConsumer, opts Options) (*Result, string, *problem.Details) {
	jws, err := jose.ParseSigned(string(raw), allowedAlgs)
	if err != nil {
		return nil, "", problem.Malformedf("parse JWS: %v", err)
	}
	if len(jws.Signatures) != 1 {
		return nil, "", problem.Malformedf("JWS must have exactly one signature")
	}
	header := jws.Signatures[0].Header

	hasJWK := header.JSONWebKey != nil
	hasKID := header.KeyID != ""
	switch {
	case hasJWK && hasKID:
		return nil, "", problem.Malformedf("the fields jwk and kid are mutually exclusive")
	case !hasJWK && !hasKID:
		return nil, "", problem.Malformedf("either jwk or kid must be set")
	}

	urlVal, _ := header.ExtraHeaders["url"].(string)
	if urlVal == "" {
		return nil, "", problem.Malformedf("JWS protected header missing url")
	}
	if schemeless(urlVal) != schemeless(opts.ExpectedURL) {
		return nil, "", problem.Unauthorizedf("JWS url header %q does not match request URL %q", urlVal, opts.ExpectedURL)
	}

	var verifyKey *jose.JSONWebKey
	var resultJWK *jose.JSONWebKey
	var resultKID string
	switch {
	case hasKID:
		if opts.ResolveKID == nil {
			return nil, "", problem.ServerInternalf("no account resolver configured")
		}
		resolved, err := opts.ResolveKID(ctx, header.KeyID)
		if err != nil {
			return nil, "", problem.AccountDoesNotExistf("%v", err)
		}
		verifyKey = resolved
		resultKID = header.KeyID
	case opts.AllowNewAccount:
		verifyKey = header.JSONWebKey
		resultJWK = header.JSONWebKey
		algs, ok := jwkutil.SupportedAlgs(verifyKey)
		if !ok {
			return nil, "", problem.BadPublicKeyf("JWK must be RSA or EC P-256")
		}
		declared := jose.SignatureAlgorithm(header.Algorithm)
		if !algAllowed(declared, algs) {
			return nil, "", problem.BadSignatureAlgorithmf("alg %q is not valid for this key type", declared)
		}
	default:
		return nil, "", problem.AccountDoesNotExistf("unknown account, not accepting new accounts")
	}

	payload, err := jws.Verify(verifyKey)
	if err != nil {
		return nil, "", problem.Unauthorizedf("JWS signature verification failed: %v", err)
	}

	ok, cerr := nonces.Consume(ctx, header.Nonce)
	if cerr != nil {
		return nil, "", problem.ServerInternalf("consuming nonce: %v", cerr)
	}
	newNonce, nerr := nonces.Issue(ctx)
	if nerr != nil {
		return nil, "", problem.ServerInternalf("issuing nonce: %v", nerr)
	}
	if !ok {
		return nil, newNonce, problem.BadNoncef("old nonce is wrong")
	}

	return &Result{
		Payload:    payload,
		JWK:        resultJWK,
		KeyID:      resultKID,
		AccountJWK: verifyKey,
		NewNonce:   newNonce,
	}, newNonce, nil
}

func algAllowed(declared jose.SignatureAlgorithm, allowed []jose.SignatureAlgorithm) bool {
	for _, a := range allowed {
		if a == declared {
			return true
		}
	}
	return false
}

// schemeless strips a leading "https://" or "http://" so URL comparisons
// tolerate scheme differences the way original_source's _schemeless_url did.
func schemeless(u string) string {
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	return u
}

// UnmarshalPayload decodes a verified JWS payload into v, treating an empty
// payload (used by POST-as-GET requests) as a no-op.
func UnmarshalPayload(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	return json.Unmarshal(payload, v)
}
