package acme

import (
	"context"

	"github.com/knrdl/acme-ca-server/internal/problem"
	"github.com/knrdl/acme-ca-server/internal/store"
)

func challengeView(s *Service, c store.Challenge) ChallengeView {
	v := ChallengeView{
		Type:      "http-01",
		URL:       s.challengeURL(c.ID),
		Token:     c.Token,
		Status:    string(c.Status),
		Validated: c.ValidatedAt,
	}
	if c.Error != nil {
		v.Error = &ErrorBody{Type: problem.Namespaced(c.Error.Type), Detail: c.Error.Detail}
	}
	return v
}

func authorizationView(s *Service, v *store.AuthzView) *AuthorizationView {
	return &AuthorizationView{
		Status:     string(v.Authz.Status),
		Expires:    v.OrderExpires,
		Identifier: Identifier{Type: "dns", Value: v.Authz.Domain},
		Challenges: []ChallengeView{challengeView(s, v.Challenge)},
	}
}

// ViewOrDeactivateAuthorization implements POST /acme/authorizations/{id}:
// a bare POST-as-GET views the authorization, a body of
// {"status":"deactivated"} deactivates it.
func (s *Service) ViewOrDeactivateAuthorization(ctx context.Context, authzID, accountID string, payload *UpdateAuthzPayload) (*AuthorizationView, *problem.Details) {
	if payload != nil && payload.Status == "deactivated" {
		ok, err := s.st.DeactivateAuthorization(ctx, authzID, accountID)
		if err != nil {
			return nil, problem.ServerInternalf("%v", err)
		}
		if !ok {
			return nil, problem.Unauthorizedf("authorization cannot be deactivated in its current state")
		}
	}

	view, err := s.st.GetAuthorizationView(ctx, authzID, accountID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	if view == nil {
		return nil, problem.NotFoundf("specified authorization not found for current account")
	}
	return authorizationView(s, view), nil
}

// NewAuthorization implements the non-goal POST /acme/new-authz endpoint:
// pre-authorization is never supported, matching original_source's stub.
func (s *Service) NewAuthorization(ctx context.Context) *problem.Details {
	return problem.Unauthorizedf("pre authorization is not supported")
}
