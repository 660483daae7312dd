package acme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/knrdl/acme-ca-server/internal/store"
)

func TestChallengeViewNoError(t *testing.T) {
	s := &Service{cfg: Config{ExternalURL: "https://ca.example.com/"}}
	c := store.Challenge{ID: "chal1", Token: "tok", Status: store.ChallengePending}
	v := challengeView(s, c)
	require.Equal(t, "http-01", v.Type)
	require.Equal(t, "https://ca.example.com/acme/challenges/chal1", v.URL)
	require.Nil(t, v.Error)
	require.Nil(t, v.Validated)
}

func TestChallengeViewWithError(t *testing.T) {
	s := &Service{cfg: Config{ExternalURL: "https://ca.example.com/"}}
	validated := time.Now()
	c := store.Challenge{
		ID: "chal1", Token: "tok", Status: store.ChallengeInvalid, ValidatedAt: &validated,
		Error: &store.StoredError{Type: "incorrectResponse", Detail: "body mismatch"},
	}
	v := challengeView(s, c)
	require.NotNil(t, v.Error)
	require.Equal(t, "urn:ietf:params:acme:error:incorrectResponse", v.Error.Type)
	require.Equal(t, &validated, v.Validated)
}

func TestAuthorizationViewBuild(t *testing.T) {
	s := &Service{cfg: Config{ExternalURL: "https://ca.example.com/"}}
	expires := time.Now().Add(time.Hour)
	av := &store.AuthzView{
		Authz:        store.Authorization{ID: "authz1", Domain: "example.com", Status: store.AuthzPending},
		Challenge:    store.Challenge{ID: "chal1", Token: "tok", Status: store.ChallengePending},
		OrderStatus:  store.OrderPending,
		OrderExpires: expires,
	}
	view := authorizationView(s, av)
	require.Equal(t, "pending", view.Status)
	require.Equal(t, expires, view.Expires)
	require.Equal(t, Identifier{Type: "dns", Value: "example.com"}, view.Identifier)
	require.Len(t, view.Challenges, 1)
}
