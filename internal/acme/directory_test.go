package acme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDirectoryWithoutToS(t *testing.T) {
	s := &Service{cfg: Config{ExternalURL: "https://ca.example.com/"}}
	d := s.Directory()
	require.Equal(t, "https://ca.example.com/acme/new-account", d.NewAccount)
	require.Equal(t, "https://ca.example.com/acme/new-order", d.NewOrder)
	require.Equal(t, "https://ca.example.com/acme/key-change", d.KeyChange)
	require.Empty(t, d.Meta.TermsOfService)
}

func TestDirectoryWithToS(t *testing.T) {
	s := &Service{cfg: Config{ExternalURL: "https://ca.example.com/", TermsOfServiceURL: "https://ca.example.com/tos"}}
	d := s.Directory()
	require.Equal(t, "https://ca.example.com/tos", d.Meta.TermsOfService)
}
