package ca

import (
	"context"
	"crypto"
	"fmt"
	"os"
	"path/filepath"

	"go.step.sm/crypto/pemutil"
)

// EnsureActive makes sure exactly one CA row is active at startup. If
// importDir contains "ca.pem" and "ca.key", that keypair is (re)imported
// and made active, refreshing its CRL. Otherwise it requires that some CA
// row already be active; a missing active CA in this branch is the fatal
// startup error spec.md §3/§7 describes.
func (s *Signer) EnsureActive(ctx context.Context, importDir string) error {
	certPath := filepath.Join(importDir, "ca.pem")
	keyPath := filepath.Join(importDir, "ca.key")
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)

	if certErr == nil && keyErr == nil {
		return s.importFrom(ctx, certPath, keyPath)
	}

	n, err := s.st.CountActiveCAs(ctx)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("internal ca is enabled but no CA certificate is registered and active; please import one via %s", importDir)
	}
	return nil
}

func (s *Signer) importFrom(ctx context.Context, certPath, keyPath string) error {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", keyPath, err)
	}
	parsedKey, err := pemutil.Parse(keyPEM)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", keyPath, err)
	}
	signer, ok := parsedKey.(crypto.Signer)
	if !ok {
		return fmt.Errorf("%s does not contain a usable private key", keyPath)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("reading %s: %w", certPath, err)
	}
	cert, err := pemutil.ParseCertificate(certPEM)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", certPath, err)
	}

	serial := serialToHex(cert.SerialNumber)

	encKey, err := EncryptKey(s.cfg.EncryptionKey, keyPEM)
	if err != nil {
		return fmt.Errorf("encrypting imported ca key: %w", err)
	}

	revocations, err := s.st.ListRevocations(ctx)
	if err != nil {
		return err
	}

	ld := &loaded{cert: cert, signer: signer, serial: serial}
	crlPEM, err := buildCRL(ld, revocations, s.crlLifetime())
	if err != nil {
		return fmt.Errorf("building crl for imported ca: %w", err)
	}

	if err := s.st.ImportCA(ctx, serial, string(certPEM), encKey, crlPEM); err != nil {
		return fmt.Errorf("persisting imported ca: %w", err)
	}
	return nil
}
