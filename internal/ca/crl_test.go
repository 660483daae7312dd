package ca

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"go.step.sm/crypto/keyutil"

	"github.com/knrdl/acme-ca-server/internal/store"

	"github.com/stretchr/testify/require"
)

func testCA(t *testing.T) *loaded {
	t.Helper()
	signer, err := keyutil.GenerateDefaultSigner()
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: mustSerial(t),
		Subject:      pkix.Name{CommonName: "test-ca"},
		IsCA:         true,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, signer.Public(), signer)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &loaded{cert: cert, signer: signer, serial: serialToHex(tmpl.SerialNumber)}
}

func mustSerial(t *testing.T) *big.Int {
	t.Helper()
	n, err := newSerial()
	require.NoError(t, err)
	return n
}

func TestBuildCRLEmpty(t *testing.T) {
	active := testCA(t)
	crlPEM, err := buildCRL(active, nil, 7*24*time.Hour)
	require.NoError(t, err)
	require.Contains(t, crlPEM, "BEGIN X509 CRL")
}

func TestBuildCRLContainsRevokedSerial(t *testing.T) {
	active := testCA(t)
	serial, err := newSerial()
	require.NoError(t, err)
	revocations := []store.Revocation{
		{SerialNumber: serialToHex(serial), RevokedAt: time.Now()},
	}
	crlPEM, err := buildCRL(active, revocations, 7*24*time.Hour)
	require.NoError(t, err)

	block, _ := pem.Decode([]byte(crlPEM))
	require.NotNil(t, block)
	crl, err := x509.ParseRevocationList(block.Bytes)
	require.NoError(t, err)
	require.Len(t, crl.RevokedCertificateEntries, 1)
	require.Equal(t, 0, crl.RevokedCertificateEntries[0].SerialNumber.Cmp(serial))
}
