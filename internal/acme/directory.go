package acme

// Directory builds the static ACME directory document served at
// /acme/directory (and, for clients that guess, /directory).
func (s *Service) Directory() *DirectoryView {
	d := &DirectoryView{
		NewNonce:   s.cfg.ExternalURL + "acme/new-nonce",
		NewAccount: s.cfg.ExternalURL + "acme/new-account",
		NewOrder:   s.cfg.ExternalURL + "acme/new-order",
		RevokeCert: s.cfg.ExternalURL + "acme/revoke-cert",
		KeyChange:  s.cfg.ExternalURL + "acme/key-change",
		Meta: DirectoryMetaView{
			Website: s.cfg.ExternalURL,
		},
	}
	if s.cfg.TermsOfServiceURL != "" {
		d.Meta.TermsOfService = s.cfg.TermsOfServiceURL
	}
	return d
}
