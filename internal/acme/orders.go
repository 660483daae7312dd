package acme

import (
	"context"

	"go.uber.org/zap"

	"github.com/knrdl/acme-ca-server/internal/ca"
	"github.com/knrdl/acme-ca-server/internal/problem"
	"github.com/knrdl/acme-ca-server/internal/store"
)

// dedupDomains returns domains in first-seen order with duplicates
// removed, matching original_source's "dedup tolerant" identifier set.
func dedupDomains(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

// NewOrder implements POST /acme/new-order. It returns the new order's id
// alongside its view so the HTTP layer can set the Location header
// without having to parse it back out of a URL.
func (s *Service) NewOrder(ctx context.Context, accountID string, payload NewOrderPayload) (view *OrderView, orderID string, prob *problem.Details) {
	if payload.NotBefore != nil || payload.NotAfter != nil {
		return nil, "", problem.Malformedf("Parameter notBefore and notAfter may not be specified as the constraints might not be enforceable.")
	}
	if len(payload.Identifiers) == 0 {
		return nil, "", problem.Malformedf("at least one identifier is required")
	}

	domains := make([]string, 0, len(payload.Identifiers))
	for _, ident := range payload.Identifiers {
		if ident.Type != "dns" {
			return nil, "", problem.UnsupportedIdentifierf("only dns identifiers are supported")
		}
		if !s.domainAllowed(ident.Value) {
			return nil, "", problem.RejectedIdentifierf("identifier %q is not an accepted domain", ident.Value)
		}
		domains = append(domains, ident.Value)
	}
	domains = dedupDomains(domains)

	orderID, err := newEntityID()
	if err != nil {
		return nil, "", problem.ServerInternalf("%v", err)
	}

	inputs := make([]store.NewOrderInput, len(domains))
	for i, domain := range domains {
		authzID, aerr := newEntityID()
		if aerr != nil {
			return nil, "", problem.ServerInternalf("%v", aerr)
		}
		challengeID, cerr := newEntityID()
		if cerr != nil {
			return nil, "", problem.ServerInternalf("%v", cerr)
		}
		challengeTok, terr := newChallengeToken()
		if terr != nil {
			return nil, "", problem.ServerInternalf("%v", terr)
		}
		inputs[i] = store.NewOrderInput{AuthzID: authzID, ChallengeID: challengeID, ChallengeTok: challengeTok, Domain: domain}
	}

	order, err := s.st.CreateOrder(ctx, orderID, accountID, inputs)
	if err != nil {
		return nil, "", problem.ServerInternalf("%v", err)
	}

	authzIDs := make([]string, len(inputs))
	for i, in := range inputs {
		authzIDs[i] = in.AuthzID
	}

	return s.orderView(order, domains, authzIDs, nil), orderID, nil
}

func (s *Service) orderView(o *store.Order, domains, authzIDs []string, cert *store.Certificate) *OrderView {
	identifiers := make([]Identifier, len(domains))
	for i, d := range domains {
		identifiers[i] = Identifier{Type: "dns", Value: d}
	}
	authzURLs := make([]string, len(authzIDs))
	for i, id := range authzIDs {
		authzURLs[i] = s.authorizationURL(id)
	}

	view := &OrderView{
		Status:         string(o.Status),
		Expires:        o.ExpiresAt,
		Identifiers:    identifiers,
		Authorizations: authzURLs,
		Finalize:       s.finalizeURL(o.ID),
	}
	if o.Error != nil {
		view.Error = &ErrorBody{Type: problem.Namespaced(o.Error.Type), Detail: o.Error.Detail}
	}
	if cert != nil {
		nb, na := cert.NotValidBefore, cert.NotValidAfter
		view.NotBefore = &nb
		view.NotAfter = &na
		url := s.certificateURL(cert.SerialNumber)
		view.Certificate = &url
	}
	return view
}

// ViewOrder implements POST /acme/orders/{id}.
func (s *Service) ViewOrder(ctx context.Context, orderID, accountID string) (*OrderView, *problem.Details) {
	order, err := s.st.GetOrder(ctx, orderID, accountID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	if order == nil {
		return nil, problem.NotFoundf("specified order not found for current account")
	}
	authzs, err := s.st.ListAuthorizations(ctx, orderID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	domains := make([]string, len(authzs))
	authzIDs := make([]string, len(authzs))
	for i, a := range authzs {
		domains[i] = a.Domain
		authzIDs[i] = a.ID
	}
	cert, err := s.st.GetCertificateByOrder(ctx, orderID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	return s.orderView(order, domains, authzIDs, cert), nil
}

// FinalizeOrder implements POST /acme/orders/{id}/finalize.
func (s *Service) FinalizeOrder(ctx context.Context, orderID, accountID string, payload FinalizeOrderPayload) (*OrderView, *problem.Details) {
	order, domains, expired, err := s.st.BeginFinalize(ctx, orderID, accountID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	if order == nil {
		return nil, problem.NotFoundf("Unknown order for specified account.")
	}
	if expired {
		return nil, problem.OrderNotReadyf("order expired")
	}
	if order.Status != store.OrderProcessing {
		return nil, problem.OrderNotReadyf("order status is: %s", order.Status)
	}

	authzIDs, aerr := s.authzIDsForDomains(ctx, orderID, domains)
	if aerr != nil {
		return nil, problem.ServerInternalf("%v", aerr)
	}

	parsed, csrPEM, subjectDomain, sanDomains, cerr := checkCSR(payload.CSR, domains)
	if cerr != nil {
		return nil, cerr
	}

	signed, serr := s.signer.SignCSR(ctx, parsed, subjectDomain, sanDomains)
	if serr != nil {
		prob := problem.ServerInternalf("%v", serr)
		if ferr := s.st.FinalizeFailure(ctx, orderID, prob.Type.Bare(), prob.Detail); ferr != nil {
			s.log.Error("could not record finalize failure", zap.Error(ferr))
		}
		return s.finalizedErrorView(order, domains, authzIDs, prob), nil
	}

	serial := ca.SerialOf(signed.Cert)
	if err := s.st.FinalizeSuccess(ctx, orderID, serial, csrPEM, signed.ChainPEM, signed.Cert.NotBefore, signed.Cert.NotAfter); err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}

	cert, err := s.st.GetCertificateByOrder(ctx, orderID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	order.Status = store.OrderValid
	return s.orderView(order, domains, authzIDs, cert), nil
}

func (s *Service) finalizedErrorView(order *store.Order, domains, authzIDs []string, prob *problem.Details) *OrderView {
	order.Status = store.OrderInvalid
	order.Error = &store.StoredError{Type: string(prob.Type.Bare()), Detail: prob.Detail}
	return s.orderView(order, domains, authzIDs, nil)
}

func (s *Service) authzIDsForDomains(ctx context.Context, orderID string, domains []string) ([]string, error) {
	authzs, err := s.st.ListAuthorizations(ctx, orderID)
	if err != nil {
		return nil, err
	}
	byDomain := make(map[string]string, len(authzs))
	for _, a := range authzs {
		byDomain[a.Domain] = a.ID
	}
	ids := make([]string, len(domains))
	for i, d := range domains {
		ids[i] = byDomain[d]
	}
	return ids, nil
}
