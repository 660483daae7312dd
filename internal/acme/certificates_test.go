package acme

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRevokeCertificateBadBase64(t *testing.T) {
	s := &Service{}
	prob := s.RevokeCertificate(context.Background(), "not-valid-base64!!!", nil, "{}")
	require.NotNil(t, prob)
	require.Equal(t, "malformed", prob.Type.Bare())
}

func TestRevokeCertificateBadDER(t *testing.T) {
	s := &Service{}
	prob := s.RevokeCertificate(context.Background(), "AAAA", nil, "{}")
	require.NotNil(t, prob)
	require.Equal(t, "malformed", prob.Type.Bare())
}
