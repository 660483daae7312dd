package ca

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/knrdl/acme-ca-server/internal/store"
)

func (s *Signer) crlLifetime() time.Duration {
	if s.cfg.CRLLifetime <= 0 {
		return 7 * 24 * time.Hour
	}
	return s.cfg.CRLLifetime
}

// buildCRL signs a CRL over revocations using active, matching spec.md
// §4.5's "full set of currently revoked pairs, signed with SHA-512".
func buildCRL(active *loaded, revocations []store.Revocation, lifetime time.Duration) (string, error) {
	now := time.Now().UTC()
	entries := make([]x509.RevocationListEntry, 0, len(revocations))
	for _, r := range revocations {
		serial, err := hexToSerial(r.SerialNumber)
		if err != nil {
			return "", err
		}
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   serial,
			RevocationTime: r.RevokedAt,
		})
	}
	tmpl := &x509.RevocationList{
		SignatureAlgorithm:        signatureAlgorithmFor(active.signer),
		RevokedCertificateEntries: entries,
		Number:                    big.NewInt(now.UnixNano()),
		ThisUpdate:                now,
		NextUpdate:                now.Add(lifetime),
	}
	der, err := x509.CreateRevocationList(rand.Reader, tmpl, active.cert, active.signer)
	if err != nil {
		return "", fmt.Errorf("creating crl: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})), nil
}

// RevokeCert rebuilds the active CA's CRL over the full revocation set
// (which must already include the cert being revoked, persisted by the
// caller before this runs) and updates the stored crl_pem -- touching
// only the active CA row, matching original_source's revoke_cert.
func (s *Signer) RevokeCert(ctx context.Context, revocations []store.Revocation) error {
	active, err := s.loadActive(ctx)
	if err != nil {
		return err
	}
	crlPEM, err := buildCRL(active, revocations, s.crlLifetime())
	if err != nil {
		return err
	}
	return s.st.UpdateActiveCACRL(ctx, crlPEM)
}

// RebuildAllCRLs refreshes every CA row's CRL regardless of revocation
// activity, run every 12h per spec.md §4.5.
func (s *Signer) RebuildAllCRLs(ctx context.Context) error {
	cas, err := s.st.ListAllCAs(ctx)
	if err != nil {
		return err
	}
	revocations, err := s.st.ListRevocations(ctx)
	if err != nil {
		return err
	}
	for _, row := range cas {
		ld, err := s.loadRow(&row)
		if err != nil {
			return fmt.Errorf("loading ca %s: %w", row.SerialNumber, err)
		}
		crlPEM, err := buildCRL(ld, revocations, s.crlLifetime())
		if err != nil {
			return fmt.Errorf("building crl for ca %s: %w", row.SerialNumber, err)
		}
		if err := s.st.UpdateCACRL(ctx, row.SerialNumber, crlPEM); err != nil {
			return fmt.Errorf("persisting crl for ca %s: %w", row.SerialNumber, err)
		}
	}
	return nil
}

// RunCRLRebuildLoop runs RebuildAllCRLs every 12h until ctx is canceled.
func (s *Signer) RunCRLRebuildLoop(ctx context.Context, onError func(error)) {
	ticker := time.NewTicker(12 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.RebuildAllCRLs(ctx); err != nil {
				onError(err)
			}
		}
	}
}
