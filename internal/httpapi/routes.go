package httpapi

import (
	"net/http"
	"strings"

	"github.com/knrdl/acme-ca-server/internal/problem"
)

func (s *Server) routes() {
	s.mux.HandleFunc("GET /acme/directory", s.serveDirectory)
	s.mux.HandleFunc("GET /directory", s.serveDirectory)
	s.mux.HandleFunc("GET /acme/new-nonce", s.serveNewNonce)
	s.mux.HandleFunc("HEAD /acme/new-nonce", s.serveNewNonce)

	s.handle("POST /acme/new-account", s.handleNewAccount)
	s.handle("POST /acme/accounts/{id}", s.handleAccount)
	s.handle("POST /acme/accounts/{id}/orders", s.handleListOrders)
	s.handle("POST /acme/new-order", s.handleNewOrder)
	s.handle("POST /acme/orders/{id}", s.handleViewOrder)
	s.handle("POST /acme/orders/{id}/finalize", s.handleFinalizeOrder)
	s.handle("POST /acme/authorizations/{id}", s.handleAuthorization)
	s.handle("POST /acme/new-authz", s.handleNewAuthz)
	s.handle("POST /acme/challenges/{id}", s.handleChallenge)
	s.handle("POST /acme/certificates/{serial}", s.handleDownloadCertificate)
	s.handle("POST /acme/revoke-cert", s.handleRevokeCert)
	s.handle("POST /acme/key-change", s.handleKeyChange)

	s.mux.HandleFunc("GET /ca/{serial}/crl", s.serveCRL)
}

func (s *Server) fullURL(r *http.Request) string {
	return s.externalURL + strings.TrimPrefix(r.URL.Path, "/")
}

func (s *Server) serveDirectory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, "", s.externalURL, s.svc.Directory())
}

func (s *Server) serveNewNonce(w http.ResponseWriter, r *http.Request) {
	n, err := s.nonces.Issue(r.Context())
	if err != nil {
		problem.WriteJSON(w, s.externalURL, problem.ServerInternalf("%v", err), "")
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Replay-Nonce", n)
	w.Header().Add("Link", "<"+s.externalURL+"acme/directory>;rel=\"index\"")
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) serveCRL(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	ca, err := s.st.GetCA(r.Context(), serial)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if ca == nil || ca.CRLPEM == nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/pkix-crl")
	_, _ = w.Write([]byte(*ca.CRLPEM))
}
