package acme

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/knrdl/acme-ca-server/internal/store"
)

func TestDedupDomains(t *testing.T) {
	out := dedupDomains([]string{"b.example.com", "a.example.com", "b.example.com"})
	require.Equal(t, []string{"b.example.com", "a.example.com"}, out)
}

func TestOrderViewPendingNoCert(t *testing.T) {
	s := &Service{cfg: Config{ExternalURL: "https://ca.example.com/"}}
	expires := time.Now().Add(7 * 24 * time.Hour)
	o := &store.Order{ID: "order1", Status: store.OrderPending, ExpiresAt: expires}
	view := s.orderView(o, []string{"example.com"}, []string{"authz1"}, nil)

	require.Equal(t, "pending", view.Status)
	require.Equal(t, []Identifier{{Type: "dns", Value: "example.com"}}, view.Identifiers)
	require.Equal(t, []string{"https://ca.example.com/acme/authorizations/authz1"}, view.Authorizations)
	require.Equal(t, "https://ca.example.com/acme/orders/order1/finalize", view.Finalize)
	require.Nil(t, view.Certificate)
	require.Nil(t, view.Error)
}

func TestOrderViewWithCertAndError(t *testing.T) {
	s := &Service{cfg: Config{ExternalURL: "https://ca.example.com/"}}
	o := &store.Order{ID: "order1", Status: store.OrderInvalid, Error: &store.StoredError{Type: "badCSR", Detail: "nope"}}
	cert := &store.Certificate{SerialNumber: "ABC123"}
	view := s.orderView(o, []string{"example.com"}, []string{"authz1"}, cert)

	require.NotNil(t, view.Error)
	require.Equal(t, "urn:ietf:params:acme:error:badCSR", view.Error.Type)
	require.NotNil(t, view.Certificate)
	require.Equal(t, "https://ca.example.com/acme/certificates/ABC123", *view.Certificate)
}
