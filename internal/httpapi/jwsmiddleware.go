package httpapi

import (
	"context"
	"encoding/json"

	"github.com/go-jose/go-jose/v4"

	"github.com/knrdl/acme-ca-server/internal/jws"
	"github.com/knrdl/acme-ca-server/internal/problem"
)

// verified is the outcome of verifying an incoming JWS-signed request: the
// decoded payload plus enough identity information for the handler to act
// on (an account id when the caller authenticated via kid, the raw
// canonical JWK either way).
type verified struct {
	payload      []byte
	accountID    string // "" if the request carried an embedded jwk
	canonicalJWK string
	jwk          *jose.JSONWebKey
	newNonce     string
}

// verifyRequest decodes the JWS envelope carried in the request body and
// resolves its signer, delegating account lookup to s.svc so every caller
// applies the exact same kid/jwk/account rules.
func (s *Server) verifyRequest(ctx context.Context, body []byte, expectedURL string, allowNewAccount, allowBlocked bool) (*verified, string, *problem.Details) {
	var resolveErr *problem.Details
	opts := jws.Options{
		ExpectedURL:     expectedURL,
		AllowNewAccount: allowNewAccount,
		ResolveKID: func(ctx context.Context, kid string) (*jose.JSONWebKey, error) {
			accountID, canonicalJWK, prob := s.svc.ResolveAccountKey(ctx, kid, allowBlocked)
			if prob != nil {
				resolveErr = prob
				return nil, prob
			}
			var jwk jose.JSONWebKey
			if err := json.Unmarshal([]byte(canonicalJWK), &jwk); err != nil {
				return nil, err
			}
			return &jwk, nil
		},
	}

	result, newNonce, prob := jws.Verify(ctx, body, s.nonces, opts)
	if prob != nil {
		if resolveErr != nil {
			return nil, newNonce, resolveErr
		}
		return nil, newNonce, prob
	}

	v := &verified{payload: result.Payload, jwk: result.AccountJWK, newNonce: newNonce}
	if result.KeyID != "" {
		v.accountID = s.svc.AccountIDFromKID(result.KeyID)
	}
	canonical, err := json.Marshal(result.AccountJWK)
	if err != nil {
		return nil, newNonce, problem.ServerInternalf("%v", err)
	}
	v.canonicalJWK = string(canonical)
	return v, newNonce, nil
}
