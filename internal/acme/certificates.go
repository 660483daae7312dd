package acme

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"time"

	"github.com/knrdl/acme-ca-server/internal/ca"
	"github.com/knrdl/acme-ca-server/internal/problem"
)

// DownloadCertificate implements POST-as-GET /acme/certificates/{serial}.
func (s *Service) DownloadCertificate(ctx context.Context, serial, accountID string) (chainPEM string, prob *problem.Details) {
	cert, err := s.st.GetCertificateBySerial(ctx, serial, accountID)
	if err != nil {
		return "", problem.ServerInternalf("%v", err)
	}
	if cert == nil {
		return "", problem.NotFoundf("specified certificate not found for current account")
	}
	return cert.ChainPEM, nil
}

// RevokeCertificate implements POST /acme/revoke-cert. accountID is nil
// when the request was signed with an embedded JWK (not yet bound to an
// account via kid); canonicalJWK is always required, matching
// original_source's revoke_cert which authorizes by JWK match rather than
// account identity alone.
func (s *Service) RevokeCertificate(ctx context.Context, certificateB64 string, accountID *string, canonicalJWK string) *problem.Details {
	der, err := base64.RawURLEncoding.DecodeString(certificateB64)
	if err != nil {
		return problem.Malformedf("certificate is not valid base64url: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return problem.Malformedf("could not parse certificate: %v", err)
	}
	serial := ca.SerialOf(cert)

	ok, err := s.st.FindRevocationTarget(ctx, serial, accountID, canonicalJWK)
	if err != nil {
		return problem.ServerInternalf("%v", err)
	}
	if !ok {
		return problem.AlreadyRevokedf("certificate is unknown, already revoked, or not owned by the requester")
	}

	now := time.Now().UTC()
	if err := s.st.RevokeCertificate(ctx, serial, now); err != nil {
		return problem.ServerInternalf("%v", err)
	}

	revocations, err := s.st.ListRevocations(ctx)
	if err != nil {
		return problem.ServerInternalf("%v", err)
	}
	if err := s.signer.RevokeCert(ctx, revocations); err != nil {
		return problem.ServerInternalf("%v", err)
	}
	return nil
}
