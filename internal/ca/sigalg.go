package ca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
)

// signatureAlgorithmFor picks a SHA-512 based signature algorithm matching
// the CA key's type, per spec.md §4.5's "signed with SHA-512".
func signatureAlgorithmFor(signer crypto.Signer) x509.SignatureAlgorithm {
	switch signer.Public().(type) {
	case *ecdsa.PublicKey:
		return x509.ECDSAWithSHA512
	case *rsa.PublicKey:
		return x509.SHA512WithRSA
	default:
		return x509.SHA512WithRSA
	}
}

func pemEncode(block *pem.Block) []byte {
	return pem.EncodeToMemory(block)
}
