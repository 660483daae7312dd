package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/knrdl/acme-ca-server/internal/acme"
	"github.com/knrdl/acme-ca-server/internal/jws"
	"github.com/knrdl/acme-ca-server/internal/problem"
)

func (s *Server) handleNewAccount(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), true, false)
	if prob != nil {
		return prob
	}

	var payload acme.NewOrViewAccountPayload
	if err := jws.UnmarshalPayload(v.payload, &payload); err != nil {
		return problem.Malformedf("invalid payload: %v", err)
	}

	view, id, created, prob := s.svc.CreateOrViewAccount(r.Context(), v.canonicalJWK, optionalAccountID(v), payload)
	if prob != nil {
		return prob
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	w.Header().Set("Location", s.svc.AccountURL(id))
	writeJSON(w, status, newNonce, s.externalURL, view)
	return nil
}

func optionalAccountID(v *verified) *string {
	if v.accountID == "" {
		return nil
	}
	id := v.accountID
	return &id
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, true)
	if prob != nil {
		return prob
	}

	var payload acme.UpdateAccountPayload
	if err := jws.UnmarshalPayload(v.payload, &payload); err != nil {
		return problem.Malformedf("invalid payload: %v", err)
	}

	view, prob := s.svc.ViewOrUpdateAccount(r.Context(), r.PathValue("id"), v.accountID, payload)
	if prob != nil {
		return prob
	}
	writeJSON(w, http.StatusOK, newNonce, s.externalURL, view)
	return nil
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}
	view, prob := s.svc.ListOrders(r.Context(), r.PathValue("id"), v.accountID)
	if prob != nil {
		return prob
	}
	writeJSON(w, http.StatusOK, newNonce, s.externalURL, view)
	return nil
}

func (s *Server) handleNewOrder(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}

	var payload acme.NewOrderPayload
	if err := jws.UnmarshalPayload(v.payload, &payload); err != nil {
		return problem.Malformedf("invalid payload: %v", err)
	}

	view, orderID, prob := s.svc.NewOrder(r.Context(), v.accountID, payload)
	if prob != nil {
		return prob
	}
	w.Header().Set("Location", s.svc.OrderURL(orderID))
	writeJSON(w, http.StatusCreated, newNonce, s.externalURL, view)
	return nil
}

func (s *Server) handleViewOrder(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}
	view, prob := s.svc.ViewOrder(r.Context(), r.PathValue("id"), v.accountID)
	if prob != nil {
		return prob
	}
	writeJSON(w, http.StatusOK, newNonce, s.externalURL, view)
	return nil
}

func (s *Server) handleFinalizeOrder(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}

	var payload acme.FinalizeOrderPayload
	if err := jws.UnmarshalPayload(v.payload, &payload); err != nil {
		return problem.Malformedf("invalid payload: %v", err)
	}

	view, prob := s.svc.FinalizeOrder(r.Context(), r.PathValue("id"), v.accountID, payload)
	if prob != nil {
		return prob
	}
	writeJSON(w, http.StatusOK, newNonce, s.externalURL, view)
	return nil
}

func (s *Server) handleAuthorization(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}

	var payload *acme.UpdateAuthzPayload
	if len(v.payload) > 0 {
		var p acme.UpdateAuthzPayload
		if err := json.Unmarshal(v.payload, &p); err != nil {
			return problem.Malformedf("invalid payload: %v", err)
		}
		payload = &p
	}

	view, prob := s.svc.ViewOrDeactivateAuthorization(r.Context(), r.PathValue("id"), v.accountID, payload)
	if prob != nil {
		return prob
	}
	writeJSON(w, http.StatusOK, newNonce, s.externalURL, view)
	return nil
}

func (s *Server) handleNewAuthz(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	_, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}
	prob = s.svc.NewAuthorization(r.Context())
	w.Header().Set("Replay-Nonce", newNonce)
	return prob
}

func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}

	view, authzID, prob := s.svc.VerifyChallenge(r.Context(), r.PathValue("id"), v.accountID, v.jwk)
	w.Header().Add("Link", "<"+s.svc.AuthorizationURL(authzID)+">;rel=\"up\"")
	if prob != nil {
		return prob
	}
	writeJSON(w, http.StatusOK, newNonce, s.externalURL, view)
	return nil
}

func (s *Server) handleDownloadCertificate(w http.ResponseWriter, r *http.Request) *problem.Details {
	accept := r.Header.Get("Accept")
	if accept != "" && accept != "*/*" && accept != "application/pem-certificate-chain" {
		return problem.Malformedf("Accept header must be application/pem-certificate-chain")
	}

	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), false, false)
	if prob != nil {
		return prob
	}

	chainPEM, prob := s.svc.DownloadCertificate(r.Context(), r.PathValue("serial"), v.accountID)
	if prob != nil {
		return prob
	}
	w.Header().Set("Content-Type", "application/pem-certificate-chain")
	if newNonce != "" {
		w.Header().Set("Replay-Nonce", newNonce)
	}
	w.Header().Add("Link", "<"+s.externalURL+"acme/directory>;rel=\"index\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(chainPEM))
	return nil
}

func (s *Server) handleRevokeCert(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	v, newNonce, prob := s.verifyRequest(r.Context(), body, s.fullURL(r), true, false)
	if prob != nil {
		return prob
	}

	var payload acme.RevokeCertPayload
	if err := jws.UnmarshalPayload(v.payload, &payload); err != nil {
		return problem.Malformedf("invalid payload: %v", err)
	}

	prob = s.svc.RevokeCertificate(r.Context(), payload.Certificate, optionalAccountID(v), v.canonicalJWK)
	if prob != nil {
		return prob
	}
	writeJSON(w, http.StatusOK, newNonce, s.externalURL, nil)
	return nil
}

// handleKeyChange always rejects: account key rollover is not
// implemented, matching original_source's always-500 stub.
func (s *Server) handleKeyChange(w http.ResponseWriter, r *http.Request) *problem.Details {
	body, prob := readBody(r)
	if prob != nil {
		return prob
	}
	_, newNonce, _ := s.verifyRequest(r.Context(), body, s.fullURL(r), false, true)
	w.Header().Set("Replay-Nonce", newNonce)
	return problem.ServerInternalf("not implemented")
}
