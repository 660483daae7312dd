package acme

import (
	"context"

	"github.com/go-jose/go-jose/v4"

	"github.com/knrdl/acme-ca-server/internal/http01"
	"github.com/knrdl/acme-ca-server/internal/jwkutil"
	"github.com/knrdl/acme-ca-server/internal/problem"
	"github.com/knrdl/acme-ca-server/internal/store"
)

// VerifyChallenge implements POST /acme/challenges/{id}: it triggers the
// HTTP-01 probe (at most once, guarded by BeginChallengeVerification's
// status-transition check) and persists the outcome. authzID is returned
// so the HTTP layer can set the `Link: ...;rel="up"` header regardless of
// outcome.
func (s *Service) VerifyChallenge(ctx context.Context, challengeID, accountID string, accountJWK *jose.JSONWebKey) (view *ChallengeView, authzID string, prob *problem.Details) {
	av, mustSolve, err := s.st.BeginChallengeVerification(ctx, challengeID, accountID)
	if err != nil {
		return nil, "", problem.ServerInternalf("%v", err)
	}
	if av == nil {
		return nil, "", problem.NotFoundf("specified challenge not found for current account")
	}
	authzID = av.Authz.ID

	if mustSolve {
		keyAuth, kerr := jwkutil.KeyAuthorization(accountJWK, av.Challenge.Token)
		if kerr != nil {
			return nil, authzID, problem.ServerInternalf("%v", kerr)
		}

		if probeErr := http01.Probe(ctx, av.Authz.Domain, av.Challenge.Token, keyAuth); probeErr != nil {
			if cerr := s.st.CompleteChallengeFailure(ctx, challengeID, authzID, av.Authz.OrderID, probeErr.Type.Bare(), probeErr.Detail); cerr != nil {
				return nil, authzID, problem.ServerInternalf("%v", cerr)
			}
			av.Challenge.Status = store.ChallengeInvalid
			av.Challenge.Error = &store.StoredError{Type: probeErr.Type.Bare(), Detail: probeErr.Detail}
		} else {
			if cerr := s.st.CompleteChallengeSuccess(ctx, challengeID, authzID, av.Authz.OrderID); cerr != nil {
				return nil, authzID, problem.ServerInternalf("%v", cerr)
			}
			av.Challenge.Status = store.ChallengeValid
		}
	}

	cv := challengeView(s, av.Challenge)
	return &cv, authzID, nil
}
