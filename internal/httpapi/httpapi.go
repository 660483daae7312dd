// Package httpapi exposes the ACME protocol surface over HTTP: request
// routing, JWS envelope verification, and problem+json error rendering,
// wired to internal/acme for the actual protocol logic.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/knrdl/acme-ca-server/internal/acme"
	"github.com/knrdl/acme-ca-server/internal/nonce"
	"github.com/knrdl/acme-ca-server/internal/problem"
	"github.com/knrdl/acme-ca-server/internal/store"
)

// maxBodyBytes bounds a JWS request body; every real ACME payload (JSON
// plus a CSR) fits comfortably within this.
const maxBodyBytes = 1 << 20

// Server bundles everything a request handler needs: the ACME service,
// the nonce store (consulted directly by routes that issue a nonce
// without otherwise touching JWS, namely new-nonce), and a logger.
type Server struct {
	svc         *acme.Service
	st          *store.Store
	nonces      nonce.Store
	externalURL string
	log         *zap.Logger
	mux         *http.ServeMux
}

func New(svc *acme.Service, st *store.Store, nonces nonce.Store, externalURL string, log *zap.Logger) *Server {
	s := &Server{svc: svc, st: st, nonces: nonces, externalURL: externalURL, log: log}
	s.mux = http.NewServeMux()
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// acmeHandler is like http.HandlerFunc except ServeHTTP may fail with an
// RFC 8555 problem document instead of writing a response directly.
type acmeHandler func(w http.ResponseWriter, r *http.Request) *problem.Details

func (s *Server) handle(pattern string, h acmeHandler) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if prob := h(w, r); prob != nil {
			s.log.Debug("acme request failed",
				zap.String("path", r.URL.Path),
				zap.String("type", string(prob.Type)),
				zap.String("detail", prob.Detail))
			replayNonce := lastIssuedNonce(w)
			if replayNonce == "" {
				if n, err := s.nonces.Issue(r.Context()); err == nil {
					replayNonce = n
				}
			}
			problem.WriteJSON(w, s.externalURL, prob, replayNonce)
		}
	})
}

// lastIssuedNonce reads back a Replay-Nonce header a handler may already
// have set on w before failing, so an error response still carries a
// usable nonce instead of forcing the client to re-fetch one.
func lastIssuedNonce(w http.ResponseWriter) string {
	return w.Header().Get("Replay-Nonce")
}

func writeJSON(w http.ResponseWriter, status int, replayNonce, externalURL string, v any) {
	w.Header().Set("Content-Type", "application/json")
	if replayNonce != "" {
		w.Header().Set("Replay-Nonce", replayNonce)
	}
	w.Header().Add("Link", "<"+externalURL+"acme/directory>;rel=\"index\"")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// jwsContentType is the only Content-Type RFC 8555 permits on a
// JWS-signed request; original_source enforces the same value via a
// FastAPI header pattern validator.
const jwsContentType = "application/jose+json"

func readBody(r *http.Request) ([]byte, *problem.Details) {
	if ct := r.Header.Get("Content-Type"); ct != jwsContentType {
		return nil, problem.Malformedf("Content-Type must be %s, got %q", jwsContentType, ct)
	}
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, problem.Malformedf("could not read request body: %v", err)
	}
	if len(b) > maxBodyBytes {
		return nil, problem.Malformedf("request body too large")
	}
	return b, nil
}
