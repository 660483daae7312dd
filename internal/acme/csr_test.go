package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeCSR(t *testing.T, cn string, sans []string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.CertificateRequest{
		Subject:            pkix.Name{CommonName: cn},
		DNSNames:           sans,
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(der)
}

func TestCheckCSRHappyPath(t *testing.T) {
	b64 := makeCSR(t, "", []string{"example.com", "www.example.com"})
	csr, pemStr, subject, sans, prob := checkCSR(b64, []string{"example.com", "www.example.com"})
	require.Nil(t, prob)
	require.NotNil(t, csr)
	require.NotEmpty(t, pemStr)
	require.Contains(t, []string{"example.com", "www.example.com"}, subject)
	require.ElementsMatch(t, []string{"example.com", "www.example.com"}, sans)
}

func TestCheckCSRUsesCommonNameWhenPresent(t *testing.T) {
	b64 := makeCSR(t, "example.com", nil)
	_, _, subject, sans, prob := checkCSR(b64, []string{"example.com"})
	require.Nil(t, prob)
	require.Equal(t, "example.com", subject)
	require.Equal(t, []string{"example.com"}, sans)
}

func TestCheckCSREmptySubjectAndSANs(t *testing.T) {
	b64 := makeCSR(t, "", nil)
	_, _, _, _, prob := checkCSR(b64, []string{"example.com"})
	require.NotNil(t, prob)
	require.Equal(t, "badCSR", prob.Type.Bare())
}

func TestCheckCSRDomainMismatch(t *testing.T) {
	b64 := makeCSR(t, "", []string{"example.com"})
	_, _, _, _, prob := checkCSR(b64, []string{"other.com"})
	require.NotNil(t, prob)
	require.Equal(t, "badCSR", prob.Type.Bare())
}

func TestCheckCSRBadBase64(t *testing.T) {
	_, _, _, _, prob := checkCSR("not-valid-base64!!!", []string{"example.com"})
	require.NotNil(t, prob)
}
