// Package problem implements the RFC 8555 §6.7 "problem document" error
// model used throughout the ACME surface.
package problem

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Type is one of the closed set of ACME error kinds.
type Type string

// The full set of error kinds named in RFC 8555 §6.7. Some of these
// (Compound, ExternalAccountRequired, UserActionRequired) have no handler in
// this server that returns them today -- newAuthz is rejected outright and
// externalAccountBinding/keyChange are non-goals -- but they're kept here so
// the type is a faithful closed enumeration rather than a subset that would
// need widening later.
const (
	AccountDoesNotExist   Type = "accountDoesNotExist"
	AlreadyRevoked        Type = "alreadyRevoked"
	BadCSR                Type = "badCSR"
	BadNonce              Type = "badNonce"
	BadPublicKey          Type = "badPublicKey"
	BadRevocationReason   Type = "badRevocationReason"
	BadSignatureAlgorithm Type = "badSignatureAlgorithm"
	CAA                   Type = "caa"
	Compound              Type = "compound"
	Connection            Type = "connection"
	DNS                   Type = "dns"
	ExternalAccountReq    Type = "externalAccountRequired"
	IncorrectResponse     Type = "incorrectResponse"
	InvalidContact        Type = "invalidContact"
	Malformed             Type = "malformed"
	OrderNotReady         Type = "orderNotReady"
	RateLimited           Type = "rateLimited"
	RejectedIdentifier    Type = "rejectedIdentifier"
	ServerInternal        Type = "serverInternal"
	TLS                   Type = "tls"
	Unauthorized          Type = "unauthorized"
	UnsupportedContact    Type = "unsupportedContact"
	UnsupportedIdentifier Type = "unsupportedIdentifier"
	UserActionRequired    Type = "userActionRequired"

	namespace = "urn:ietf:params:acme:error:"
)

// Details is an RFC 8555 problem document. It implements error so it can be
// threaded through Go's normal error-return plumbing up to the HTTP layer.
type Details struct {
	Type       Type   `json:"type"`
	Detail     string `json:"detail,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (d *Details) Error() string {
	return fmt.Sprintf("%s: %s", d.Type, d.Detail)
}

// Bare strips the "urn:ietf:params:acme:error:" namespace, yielding the
// short kind string persisted in the orders/challenges error columns.
func (t Type) Bare() string {
	return string(t)[len(namespace):]
}

// Namespaced adds the ACME error namespace back to a bare kind string
// (the inverse of Bare), for rehydrating a stored error into a response.
func Namespaced(bare string) string {
	return namespace + bare
}

func newf(t Type, status int, format string, a ...any) *Details {
	return &Details{
		Type:       Type(namespace) + t,
		Detail:     fmt.Sprintf(format, a...),
		HTTPStatus: status,
	}
}

func AccountDoesNotExistf(format string, a ...any) *Details {
	return newf(AccountDoesNotExist, http.StatusBadRequest, format, a...)
}

func AlreadyRevokedf(format string, a ...any) *Details {
	return newf(AlreadyRevoked, http.StatusBadRequest, format, a...)
}

func BadCSRf(format string, a ...any) *Details {
	return newf(BadCSR, http.StatusBadRequest, format, a...)
}

func BadNoncef(format string, a ...any) *Details {
	return newf(BadNonce, http.StatusBadRequest, format, a...)
}

func BadPublicKeyf(format string, a ...any) *Details {
	return newf(BadPublicKey, http.StatusBadRequest, format, a...)
}

func BadSignatureAlgorithmf(format string, a ...any) *Details {
	return newf(BadSignatureAlgorithm, http.StatusBadRequest, format, a...)
}

func Connectionf(format string, a ...any) *Details {
	return newf(Connection, http.StatusBadRequest, format, a...)
}

func DNSf(format string, a ...any) *Details {
	return newf(DNS, http.StatusBadRequest, format, a...)
}

func IncorrectResponsef(format string, a ...any) *Details {
	return newf(IncorrectResponse, http.StatusBadRequest, format, a...)
}

func InvalidContactf(format string, a ...any) *Details {
	return newf(InvalidContact, http.StatusBadRequest, format, a...)
}

func Malformedf(format string, a ...any) *Details {
	return newf(Malformed, http.StatusBadRequest, format, a...)
}

func OrderNotReadyf(format string, a ...any) *Details {
	return newf(OrderNotReady, http.StatusForbidden, format, a...)
}

func ServerInternalf(format string, a ...any) *Details {
	return newf(ServerInternal, http.StatusInternalServerError, format, a...)
}

func Unauthorizedf(format string, a ...any) *Details {
	return newf(Unauthorized, http.StatusForbidden, format, a...)
}

func UnsupportedIdentifierf(format string, a ...any) *Details {
	return newf(UnsupportedIdentifier, http.StatusBadRequest, format, a...)
}

func RejectedIdentifierf(format string, a ...any) *Details {
	return newf(RejectedIdentifier, http.StatusBadRequest, format, a...)
}

// NotFoundf is a Malformed problem at 404, matching how this server reports
// unknown resource ids (boulder's probs.NotFound follows the same shape).
func NotFoundf(format string, a ...any) *Details {
	return newf(Malformed, http.StatusNotFound, format, a...)
}

// WriteJSON serializes d as an application/problem+json response, including
// the Replay-Nonce and directory Link headers every ACME response carries.
func WriteJSON(w http.ResponseWriter, externalURL string, d *Details, replayNonce string) {
	w.Header().Set("Content-Type", "application/problem+json")
	if replayNonce != "" {
		w.Header().Set("Replay-Nonce", replayNonce)
	}
	w.Header().Add("Link", fmt.Sprintf("<%sacme/directory>;rel=\"index\"", externalURL))
	status := d.HTTPStatus
	if status == 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
