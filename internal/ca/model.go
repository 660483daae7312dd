package ca

import "crypto/x509"

// SignedCert is the result of a successful leaf-certificate issuance.
type SignedCert struct {
	Cert     *x509.Certificate
	ChainPEM string
}

// SerialOf renders a certificate's serial number the same way it is
// persisted and looked up: uppercase hex, no leading "0x".
func SerialOf(cert *x509.Certificate) string {
	return serialToHex(cert.SerialNumber)
}
