package http01

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProbeSuccess(t *testing.T) {
	const token = "tok123"
	const keyAuth = "tok123.thumbprint"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, token) {
			_, _ = w.Write([]byte(keyAuth + "\n"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	_ = port // the prober always targets port 80; this test exercises probeOnce directly instead

	client := newClient()
	url := "http://" + host + ":" + port + "/.well-known/acme-challenge/" + token
	got := probeOnce(context.Background(), client, url, keyAuth)
	require.Nil(t, got)
}

func TestProbeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("wrong-body"))
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	client := newClient()
	url := "http://" + host + ":" + port + "/.well-known/acme-challenge/tok"
	got := probeOnce(context.Background(), client, url, "tok.thumbprint")
	require.NotNil(t, got)
	require.Contains(t, string(got.Type), "incorrectResponse")
}

func TestProbeConnectionRefused(t *testing.T) {
	client := newClient()
	got := probeOnce(context.Background(), client, "http://127.0.0.1:1/.well-known/acme-challenge/tok", "tok.thumbprint")
	require.NotNil(t, got)
}

func splitHostPort(t *testing.T, rawURL string) (string, string) {
	t.Helper()
	rawURL = strings.TrimPrefix(rawURL, "http://")
	parts := strings.SplitN(rawURL, ":", 2)
	require.Len(t, parts, 2)
	return parts[0], parts[1]
}
