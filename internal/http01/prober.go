// Package http01 implements the HTTP-01 challenge prober: a locked-down
// HTTP client that fetches the key authorization from the domain under
// validation, per spec.md §4.4 and the isolation requirements in §9.
package http01

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/knrdl/acme-ca-server/internal/problem"
)

const (
	attempts     = 3
	retryDelay   = 3 * time.Second
	probeTimeout = 10 * time.Second
)

// newClient builds the probe's HTTP client exactly as spec.md §9
// demands: no proxy, no redirects, HTTP/1.1 only, a hard 10s timeout.
// This deliberately bypasses every ACME client library in the retrieval
// pack -- those are built to follow redirects and negotiate HTTP/2, the
// opposite of what a conformance prober needs.
func newClient() *http.Client {
	transport := &http.Transport{
		Proxy:             nil,
		ForceAttemptHTTP2: false,
		DialContext: (&net.Dialer{
			Timeout: probeTimeout,
		}).DialContext,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   probeTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Probe fetches http://{domain}:80/.well-known/acme-challenge/{token} and
// checks the body against expectedKeyAuth, retrying per spec.md §4.4:
// 3 attempts total, 3s fixed sleep between them, reporting the last
// failure encountered.
func Probe(ctx context.Context, domain, token, expectedKeyAuth string) *problem.Details {
	client := newClient()
	url := fmt.Sprintf("http://%s:80/.well-known/acme-challenge/%s", domain, token)

	var lastErr *problem.Details
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = probeOnce(ctx, client, url, expectedKeyAuth)
		if lastErr == nil {
			return nil
		}
		if attempt < attempts {
			select {
			case <-ctx.Done():
				return problem.Connectionf("probe canceled: %v", ctx.Err())
			case <-time.After(retryDelay):
			}
		}
	}
	return lastErr
}

func probeOnce(ctx context.Context, client *http.Client, url, expectedKeyAuth string) *problem.Details {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return problem.ServerInternalf("building probe request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return problem.ServerInternalf("could not validate challenge")
	}

	if resp.StatusCode != http.StatusOK || strings.TrimRight(string(body), " \t\r\n") != expectedKeyAuth {
		return problem.IncorrectResponsef("presented token does not match challenge")
	}
	return nil
}

func classifyError(err error) *problem.Details {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return problem.Connectionf("timeout")
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return problem.DNSf("could not resolve address")
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return problem.DNSf("could not resolve address")
	}
	return problem.ServerInternalf("could not validate challenge")
}
