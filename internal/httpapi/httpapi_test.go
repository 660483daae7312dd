package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/knrdl/acme-ca-server/internal/acme"
	"github.com/knrdl/acme-ca-server/internal/nonce"
)

func newTestServer() *Server {
	svc := acme.New(nil, nil, nil, acme.Config{ExternalURL: "https://ca.example.com/"}, zap.NewNop())
	return New(svc, nil, nonce.NewMemStore(), "https://ca.example.com/", zap.NewNop())
}

func TestServeDirectory(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/acme/directory", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"newAccount":"https://ca.example.com/acme/new-account"`)
}

func TestServeNewNonceHead(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodHead, "/acme/new-nonce", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Replay-Nonce"))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestServeNewNonceGet(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/acme/new-nonce", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Replay-Nonce"))
}

func TestHandleNewAccountRejectsMalformedJWS(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/acme/new-account", strings.NewReader("not a jws"))
	req.Header.Set("Content-Type", "application/jose+json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestHandleNewAccountRejectsWrongContentType(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodPost, "/acme/new-account", strings.NewReader("not a jws"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestServeDirectoryUsesPlainJSONContentType(t *testing.T) {
	s := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/acme/directory", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
