package acme

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"sort"

	"github.com/knrdl/acme-ca-server/internal/problem"
)

func pemEncodeCSR(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
}

// checkCSR decodes the base64url CSR carried in a finalize payload,
// validates its signature, and checks that the identifiers it requests
// (SANs plus an optional subject CN) exactly match the order's validated
// domain set, matching original_source's check_csr.
func checkCSR(csrB64 string, orderedDomains []string) (csr *x509.CertificateRequest, csrPEM string, subjectDomain string, sanDomains []string, prob *problem.Details) {
	der, err := base64.RawURLEncoding.DecodeString(csrB64)
	if err != nil {
		return nil, "", "", nil, problem.BadCSRf("csr is not valid base64url: %v", err)
	}

	csr, err = x509.ParseCertificateRequest(der)
	if err != nil {
		return nil, "", "", nil, problem.BadCSRf("could not parse csr: %v", err)
	}

	if err := csr.CheckSignature(); err != nil {
		return nil, "", "", nil, problem.BadCSRf("invalid signature")
	}

	domainSet := make(map[string]bool, len(csr.DNSNames)+1)
	for _, d := range csr.DNSNames {
		domainSet[d] = true
	}

	if csr.Subject.CommonName != "" {
		subjectDomain = csr.Subject.CommonName
		domainSet[subjectDomain] = true
	} else if len(csr.DNSNames) == 0 {
		return nil, "", "", nil, problem.BadCSRf("subject and SANs cannot be both empty")
	} else {
		subjectDomain = csr.DNSNames[0]
	}

	orderedSet := make(map[string]bool, len(orderedDomains))
	for _, d := range orderedDomains {
		orderedSet[d] = true
	}
	if len(domainSet) != len(orderedSet) {
		return nil, "", "", nil, problem.BadCSRf("domains in CSR does not match validated domains in ACME order")
	}
	for d := range domainSet {
		if !orderedSet[d] {
			return nil, "", "", nil, problem.BadCSRf("domains in CSR does not match validated domains in ACME order")
		}
	}

	sanDomains = make([]string, 0, len(domainSet))
	for d := range domainSet {
		sanDomains = append(sanDomains, d)
	}
	sort.Strings(sanDomains)

	csrPEM = string(pemEncodeCSR(der))
	return csr, csrPEM, subjectDomain, sanDomains, nil
}
