package acme

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMailAddrOfAndContactOf(t *testing.T) {
	require.Equal(t, "", mailAddrOf(nil))
	require.Equal(t, "a@example.com", mailAddrOf([]string{"mailto:a@example.com"}))
	require.Equal(t, []string{}, contactOf(nil))
	addr := "a@example.com"
	require.Equal(t, []string{"mailto:a@example.com"}, contactOf(&addr))
}

func TestValidateNewAccountPayloadRequiresContact(t *testing.T) {
	s := &Service{cfg: Config{MailRequired: true}}
	agreed := true
	prob := s.validateNewAccountPayload(NewOrViewAccountPayload{TermsOfServiceAgreed: &agreed})
	require.NotNil(t, prob)
	require.Equal(t, "invalidContact", prob.Type.Bare())
}

func TestValidateNewAccountPayloadRequiresToS(t *testing.T) {
	s := &Service{cfg: Config{TermsOfServiceURL: "https://example.com/tos"}}
	prob := s.validateNewAccountPayload(NewOrViewAccountPayload{Contact: []string{"mailto:a@example.com"}})
	require.NotNil(t, prob)
	require.Equal(t, "malformed", prob.Type.Bare())
}

func TestValidateNewAccountPayloadHappyPath(t *testing.T) {
	s := &Service{cfg: Config{}}
	prob := s.validateNewAccountPayload(NewOrViewAccountPayload{})
	require.Nil(t, prob)
}
