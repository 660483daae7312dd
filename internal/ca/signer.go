// Package ca implements the internal Certificate Authority: decrypting
// the CA private key, signing leaf certificates, building CRLs, and the
// startup import of an external CA keypair.
package ca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"time"

	"go.step.sm/crypto/pemutil"

	"github.com/knrdl/acme-ca-server/internal/store"
)

// Config holds the signer's tunables, sourced from internal/config.
type Config struct {
	ExternalURL   string
	EncryptionKey string
	CertLifetime  time.Duration
	CRLLifetime   time.Duration
}

// Signer is the CA's sign/revoke/import surface, backed by the cas table.
type Signer struct {
	st  *store.Store
	cfg Config
}

func New(st *store.Store, cfg Config) *Signer {
	return &Signer{st: st, cfg: cfg}
}

// loaded is a decrypted, parsed CA ready to sign or build a CRL with.
type loaded struct {
	cert   *x509.Certificate
	signer crypto.Signer
	serial string
}

func (s *Signer) loadActive(ctx context.Context) (*loaded, error) {
	row, err := s.st.GetActiveCA(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading active ca: %w", err)
	}
	if row == nil {
		return nil, fmt.Errorf("no active ca registered")
	}
	return s.loadRow(row)
}

func (s *Signer) loadRow(row *store.CA) (*loaded, error) {
	keyPEM, err := DecryptKey(s.cfg.EncryptionKey, row.KeyPEMEnc)
	if err != nil {
		return nil, fmt.Errorf("decrypting ca key: %w", err)
	}
	key, err := pemutil.Parse(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing ca key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("ca key does not support signing")
	}
	cert, err := pemutil.ParseCertificate([]byte(row.CertPEM))
	if err != nil {
		return nil, fmt.Errorf("parsing ca certificate: %w", err)
	}
	return &loaded{cert: cert, signer: signer, serial: row.SerialNumber}, nil
}

// SignCSR builds and signs a leaf certificate bound to subjectDomain/
// sanDomains, returning the issued certificate and its chain PEM
// (leaf || ca), exactly the extension set and ordering from spec.md §4.5.
func (s *Signer) SignCSR(ctx context.Context, csr *x509.CertificateRequest, subjectDomain string, sanDomains []string) (*SignedCert, error) {
	active, err := s.loadActive(ctx)
	if err != nil {
		return nil, err
	}

	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	crlURL := fmt.Sprintf("%sca/%s/crl", s.cfg.ExternalURL, active.serial)

	now := time.Now().UTC()
	lifetime := s.cfg.CertLifetime
	if lifetime <= 0 {
		lifetime = 60 * 24 * time.Hour
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: subjectDomain},
		NotBefore:             now,
		NotAfter:              now.Add(lifetime),
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		DNSNames:              sanDomains,
		CRLDistributionPoints: []string{crlURL},
		SignatureAlgorithm:    signatureAlgorithmFor(active.signer),
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, tmpl, active.cert, csr.PublicKey, active.signer)
	if err != nil {
		return nil, fmt.Errorf("signing certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing signed certificate: %w", err)
	}

	leafBlock, err := pemutil.Serialize(leaf)
	if err != nil {
		return nil, fmt.Errorf("serializing leaf certificate: %w", err)
	}
	caBlock, err := pemutil.Serialize(active.cert)
	if err != nil {
		return nil, fmt.Errorf("serializing ca certificate: %w", err)
	}
	chainPEM := string(pemEncode(leafBlock)) + string(pemEncode(caBlock))

	return &SignedCert{Cert: leaf, ChainPEM: chainPEM}, nil
}
