package acme

import "encoding/json"

// NewOrViewAccountPayload covers both the permissive new-account/view
// shape (any contact, no required ToS) and the stricter create-path
// validation applied only when no account already exists, matching
// original_source's two-model split (NewOrViewAccountPayload vs
// NewAccountPayload).
type NewOrViewAccountPayload struct {
	Contact              []string `json:"contact"`
	TermsOfServiceAgreed *bool    `json:"termsOfServiceAgreed"`
	OnlyReturnExisting   bool     `json:"onlyReturnExisting"`
}

// UpdateAccountPayload is the body of POST /acme/accounts/{id}.
type UpdateAccountPayload struct {
	Status  string   `json:"status"`
	Contact []string `json:"contact"`
	// contactSet records whether "contact" was present in the raw JSON at
	// all, since a present-but-empty contact list (clear the mail) must be
	// distinguished from an absent field (leave mail untouched) -- handled
	// by UnmarshalJSON below.
	contactSet bool
}

// UnmarshalJSON tracks field presence the way original_source's
// `model_fields_set` does, since plain struct decoding can't distinguish
// "field omitted" from "field present with its zero value".
func (p *UpdateAccountPayload) UnmarshalJSON(data []byte) error {
	type alias UpdateAccountPayload
	var raw struct {
		alias
		Contact *[]string `json:"contact"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = UpdateAccountPayload(raw.alias)
	if raw.Contact != nil {
		p.Contact = *raw.Contact
		p.contactSet = true
	}
	return nil
}

// NewOrderDomain is one entry of NewOrderPayload.Identifiers.
type NewOrderDomain struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewOrderPayload is the body of POST /acme/new-order.
type NewOrderPayload struct {
	Identifiers []NewOrderDomain `json:"identifiers"`
	NotBefore   *string          `json:"notBefore"`
	NotAfter    *string          `json:"notAfter"`
}

// FinalizeOrderPayload is the body of POST /acme/orders/{id}/finalize.
type FinalizeOrderPayload struct {
	CSR string `json:"csr"`
}

// UpdateAuthzPayload is the optional body of POST
// /acme/authorizations/{id}.
type UpdateAuthzPayload struct {
	Status string `json:"status"`
}

// RevokeCertPayload is the body of POST /acme/revoke-cert.
type RevokeCertPayload struct {
	Certificate string `json:"certificate"`
	Reason      *int   `json:"reason"`
}
