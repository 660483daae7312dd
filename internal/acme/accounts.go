package acme

import (
	"context"
	"strings"

	"github.com/knrdl/acme-ca-server/internal/problem"
	"github.com/knrdl/acme-ca-server/internal/store"
)

func mailAddrOf(contact []string) string {
	if len(contact) == 0 {
		return ""
	}
	return strings.TrimPrefix(contact[0], "mailto:")
}

func contactOf(mailAddr *string) []string {
	if mailAddr == nil || *mailAddr == "" {
		return []string{}
	}
	return []string{"mailto:" + *mailAddr}
}

// CreateOrViewAccount implements POST /acme/new-account: looks up an
// account by its JWK (and kid, if the caller already resolved one),
// creating it if absent, matching original_source's create_or_view_account.
func (s *Service) CreateOrViewAccount(ctx context.Context, canonicalJWK string, accountID *string, payload NewOrViewAccountPayload) (view *AccountView, id string, created bool, prob *problem.Details) {
	existing, err := s.st.FindAccountByJWK(ctx, canonicalJWK, accountID)
	if err != nil {
		return nil, "", false, problem.ServerInternalf("%v", err)
	}

	if existing != nil {
		return s.accountView(existing), existing.ID, false, nil
	}

	if payload.OnlyReturnExisting {
		return nil, "", false, problem.AccountDoesNotExistf("Account does not exist")
	}

	if err := s.validateNewAccountPayload(payload); err != nil {
		return nil, "", false, err
	}

	mailAddr := mailAddrOf(payload.Contact)
	newID, gerr := newEntityID()
	if gerr != nil {
		return nil, "", false, problem.ServerInternalf("%v", gerr)
	}

	var mailPtr *string
	if mailAddr != "" {
		mailPtr = &mailAddr
	}
	acct, cerr := s.st.CreateAccount(ctx, newID, canonicalJWK, mailPtr)
	if cerr != nil {
		return nil, "", false, problem.ServerInternalf("%v", cerr)
	}

	s.notifyNewAccountMail(ctx, mailAddr)

	return s.accountView(acct), acct.ID, true, nil
}

// validateNewAccountPayload applies the checks original_source's stricter
// NewAccountPayload model enforces only on the create path: a contact
// address matching the configured regex (required unless MailRequired is
// false) and the terms-of-service agreement (required iff a ToS URL is
// configured).
func (s *Service) validateNewAccountPayload(payload NewOrViewAccountPayload) *problem.Details {
	mailAddr := mailAddrOf(payload.Contact)
	if mailAddr == "" {
		if s.cfg.MailRequired {
			return problem.InvalidContactf("a contact mail address is required")
		}
	} else if !s.mailTargetAllowed("mailto:" + mailAddr) {
		return problem.InvalidContactf("contact address does not match the accepted pattern")
	}
	if s.cfg.TermsOfServiceURL != "" && (payload.TermsOfServiceAgreed == nil || !*payload.TermsOfServiceAgreed) {
		return problem.Malformedf("the terms of service must be agreed to")
	}
	return nil
}

func (s *Service) accountView(a *store.Account) *AccountView {
	return &AccountView{
		Status:  string(a.Status),
		Contact: contactOf(a.Mail),
		Orders:  s.ordersURL(a.ID),
	}
}

// ViewOrUpdateAccount implements POST /acme/accounts/{id}.
func (s *Service) ViewOrUpdateAccount(ctx context.Context, pathAccountID, keyAccountID string, payload UpdateAccountPayload) (*AccountView, *problem.Details) {
	if pathAccountID != keyAccountID {
		return nil, problem.Unauthorizedf("wrong kid")
	}

	if payload.contactSet {
		mailAddr := mailAddrOf(payload.Contact)
		var mailPtr *string
		if mailAddr != "" {
			if !s.mailTargetAllowed("mailto:" + mailAddr) {
				return nil, problem.InvalidContactf("contact address does not match the accepted pattern")
			}
			mailPtr = &mailAddr
		}
		updated, err := s.st.UpdateAccountMail(ctx, pathAccountID, mailPtr)
		if err != nil {
			return nil, problem.ServerInternalf("%v", err)
		}
		if updated && mailAddr != "" {
			s.notifyNewAccountMail(ctx, mailAddr)
		}
	}

	if payload.Status == "deactivated" {
		if err := s.st.DeactivateAccount(ctx, pathAccountID); err != nil {
			return nil, problem.ServerInternalf("%v", err)
		}
	}

	acct, err := s.st.GetAccount(ctx, pathAccountID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	if acct == nil {
		return nil, problem.AccountDoesNotExistf("account vanished")
	}
	return s.accountView(acct), nil
}

// ListOrders implements POST /acme/accounts/{id}/orders.
func (s *Service) ListOrders(ctx context.Context, pathAccountID, keyAccountID string) (*OrdersView, *problem.Details) {
	if pathAccountID != keyAccountID {
		return nil, problem.Unauthorizedf("wrong account id provided")
	}
	ids, err := s.st.ListAccountOrderIDs(ctx, pathAccountID)
	if err != nil {
		return nil, problem.ServerInternalf("%v", err)
	}
	urls := make([]string, len(ids))
	for i, id := range ids {
		urls[i] = s.orderURL(id)
	}
	return &OrdersView{Orders: urls}, nil
}

// ResolveAccountKey implements the jws.KeyResolver used by every endpoint
// except new-account/revoke-cert: the account must exist and, unless
// allowBlocked is set, must be status=valid.
func (s *Service) ResolveAccountKey(ctx context.Context, kid string, allowBlocked bool) (accountID string, canonicalJWK string, prob *problem.Details) {
	accountID = s.AccountIDFromKID(kid)
	if accountID == "" {
		return "", "", problem.Malformedf("kid must start with %q", s.kidPrefix())
	}
	acct, err := s.st.GetAccount(ctx, accountID)
	if err != nil {
		return "", "", problem.ServerInternalf("%v", err)
	}
	if acct == nil || (!allowBlocked && acct.Status != store.AccountValid) {
		return "", "", problem.AccountDoesNotExistf("unknown, deactivated or revoked account")
	}
	return acct.ID, acct.JWK, nil
}
