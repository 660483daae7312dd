// Package acme implements the ACME protocol state machine: accounts,
// orders, authorizations, challenges, and certificates, bound together
// over the store, JWS verifier, CA signer, HTTP-01 prober, and mailer.
package acme

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/knrdl/acme-ca-server/internal/ca"
	"github.com/knrdl/acme-ca-server/internal/mail"
	"github.com/knrdl/acme-ca-server/internal/store"
)

// Config carries the ACME-facing settings that shape request validation
// and the directory document.
type Config struct {
	ExternalURL       string // always ends with "/"
	TermsOfServiceURL string // empty if not configured
	MailRequired      bool
	MailTargetRegex   *regexp.Regexp
	TargetDomainRegex *regexp.Regexp
}

// Service is the entry point handlers in internal/httpapi call into. It
// holds no per-request state: every operation reads and mutates through
// st, matching spec.md §9's "implementations should not cache state
// across request boundaries."
type Service struct {
	st     *store.Store
	signer *ca.Signer
	mailer *mail.Mailer
	cfg    Config
	log    *zap.Logger
}

func New(st *store.Store, signer *ca.Signer, mailer *mail.Mailer, cfg Config, log *zap.Logger) *Service {
	return &Service{st: st, signer: signer, mailer: mailer, cfg: cfg, log: log}
}

func (s *Service) accountURL(id string) string {
	return s.cfg.ExternalURL + "acme/accounts/" + id
}

func (s *Service) ordersURL(accountID string) string {
	return s.accountURL(accountID) + "/orders"
}

func (s *Service) orderURL(id string) string {
	return s.cfg.ExternalURL + "acme/orders/" + id
}

func (s *Service) authorizationURL(id string) string {
	return s.cfg.ExternalURL + "acme/authorizations/" + id
}

func (s *Service) challengeURL(id string) string {
	return s.cfg.ExternalURL + "acme/challenges/" + id
}

func (s *Service) certificateURL(serial string) string {
	return s.cfg.ExternalURL + "acme/certificates/" + serial
}

func (s *Service) finalizeURL(orderID string) string {
	return s.orderURL(orderID) + "/finalize"
}

// AccountURL, OrderURL and AuthorizationURL expose the URL builders the
// HTTP layer needs for Location/Link headers without reaching into
// unexported state.
func (s *Service) AccountURL(id string) string      { return s.accountURL(id) }
func (s *Service) OrderURL(id string) string        { return s.orderURL(id) }
func (s *Service) AuthorizationURL(id string) string { return s.authorizationURL(id) }

// kidPrefix returns the required prefix of an account kid, used by the
// JWS layer to extract the account id from a kid URL.
func (s *Service) kidPrefix() string {
	return s.cfg.ExternalURL + "acme/accounts/"
}

// AccountIDFromKID extracts the account id from a kid URL, or "" if the
// kid doesn't carry the expected prefix.
func (s *Service) AccountIDFromKID(kid string) string {
	prefix := s.kidPrefix()
	if !strings.HasPrefix(kid, prefix) {
		return ""
	}
	return strings.TrimPrefix(kid, prefix)
}

// mailTargetAllowed reports whether a mailto: contact address matches the
// configured target regex.
func (s *Service) mailTargetAllowed(addr string) bool {
	if s.cfg.MailTargetRegex == nil {
		return true
	}
	return s.cfg.MailTargetRegex.MatchString(addr)
}

func (s *Service) domainAllowed(domain string) bool {
	if s.cfg.TargetDomainRegex == nil {
		return true
	}
	return s.cfg.TargetDomainRegex.MatchString(domain)
}

func (s *Service) notifyNewAccountMail(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	if err := s.mailer.SendNewAccountInfo(ctx, addr); err != nil {
		s.log.Error("could not send new account mail", zap.String("to", addr), zap.Error(err))
	}
}
