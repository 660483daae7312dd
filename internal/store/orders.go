package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// NewOrderInput is one deduplicated identifier of a newOrder request,
// already carrying its generated ids and challenge token so the insert
// transaction does no id generation of its own.
type NewOrderInput struct {
	AuthzID      string
	ChallengeID  string
	ChallengeTok string
	Domain       string
}

// CreateOrder inserts an order plus its authorizations and challenges in
// a single transaction, matching original_source's submit_order.
func (s *Store) CreateOrder(ctx context.Context, orderID, accountID string, inputs []NewOrderInput) (*Order, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`INSERT INTO orders (id, account_id) VALUES ($1, $2)
		 RETURNING id, account_id, status, expires_at, error`,
		orderID, accountID)
	var o Order
	var errRaw []byte
	if err := row.Scan(&o.ID, &o.AccountID, &o.Status, &o.ExpiresAt, &errRaw); err != nil {
		return nil, fmt.Errorf("inserting order: %w", err)
	}
	if o.Error, err = parseErrorColumn(errRaw); err != nil {
		return nil, fmt.Errorf("decoding order error: %w", err)
	}

	for _, in := range inputs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO authorizations (id, order_id, domain) VALUES ($1, $2, $3)`,
			in.AuthzID, orderID, in.Domain); err != nil {
			return nil, fmt.Errorf("inserting authorization: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO challenges (id, authz_id, token) VALUES ($1, $2, $3)`,
			in.ChallengeID, in.AuthzID, in.ChallengeTok); err != nil {
			return nil, fmt.Errorf("inserting challenge: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return &o, nil
}

// GetOrder fetches an order owned by accountID, returning nil if absent
// or not owned -- callers turn that into problem.NotFoundf("malformed").
func (s *Store) GetOrder(ctx context.Context, id, accountID string) (*Order, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, account_id, status, expires_at, error FROM orders
		 WHERE id = $1 AND account_id = $2`, id, accountID)
	var o Order
	var errRaw []byte
	if err := row.Scan(&o.ID, &o.AccountID, &o.Status, &o.ExpiresAt, &errRaw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting order: %w", err)
	}
	var err error
	if o.Error, err = parseErrorColumn(errRaw); err != nil {
		return nil, fmt.Errorf("decoding order error: %w", err)
	}
	return &o, nil
}

// ListAuthorizations returns every authorization of an order, in creation
// order.
func (s *Store) ListAuthorizations(ctx context.Context, orderID string) ([]Authorization, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, order_id, domain, status FROM authorizations WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing authorizations: %w", err)
	}
	defer rows.Close()
	var out []Authorization
	for rows.Next() {
		var a Authorization
		if err := rows.Scan(&a.ID, &a.OrderID, &a.Domain, &a.Status); err != nil {
			return nil, fmt.Errorf("scanning authorization: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetCertificateByOrder returns the certificate issued for an order, or
// nil if none exists yet.
func (s *Store) GetCertificateByOrder(ctx context.Context, orderID string) (*Certificate, error) {
	return s.scanCertRow(s.Pool.QueryRow(ctx,
		`SELECT serial_number, order_id, csr_pem, chain_pem, not_valid_before, not_valid_after,
		        revoked_at, user_informed_cert_will_expire, user_informed_cert_has_expired
		 FROM certificates WHERE order_id = $1`, orderID))
}

func (s *Store) scanCertRow(row pgx.Row) (*Certificate, error) {
	var c Certificate
	if err := row.Scan(&c.SerialNumber, &c.OrderID, &c.CSRPEM, &c.ChainPEM, &c.NotValidBefore, &c.NotValidAfter,
		&c.RevokedAt, &c.UserInformedCertWillExpire, &c.UserInformedCertHasExpired); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning certificate: %w", err)
	}
	return &c, nil
}

// BeginFinalize transitions a ready, unexpired order to processing and
// returns the authorizations' validated domains for CSR binding. It
// returns problem-shaped sentinel outcomes via the bool/err results so the
// acme package can map them to the right ACME error.
//
// If the order has expired, it is transitionally invalidated (and its
// authorizations cascade to expired) in the same call, matching
// original_source's finalize_order expiry handling.
func (s *Store) BeginFinalize(ctx context.Context, orderID, accountID string) (order *Order, domains []string, expired bool, err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT id, account_id, status, expires_at, error FROM orders
		 WHERE id = $1 AND account_id = $2 FOR UPDATE`, orderID, accountID)
	var o Order
	var errRaw []byte
	if serr := row.Scan(&o.ID, &o.AccountID, &o.Status, &o.ExpiresAt, &errRaw); serr != nil {
		if errors.Is(serr, pgx.ErrNoRows) {
			return nil, nil, false, nil
		}
		return nil, nil, false, fmt.Errorf("loading order: %w", serr)
	}
	if o.Error, err = parseErrorColumn(errRaw); err != nil {
		return nil, nil, false, err
	}

	if o.Status != OrderReady {
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, false, fmt.Errorf("commit tx: %w", err)
		}
		return &o, nil, false, nil
	}

	if time.Now().After(o.ExpiresAt) {
		expiredErr, merr := toJSONB(StoredError{Type: "unauthorized", Detail: "order expired"})
		if merr != nil {
			return nil, nil, false, merr
		}
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = 'invalid', error = $2 WHERE id = $1 AND status <> 'invalid'`,
			orderID, expiredErr); err != nil {
			return nil, nil, false, fmt.Errorf("invalidating expired order: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE authorizations SET status = 'expired' WHERE order_id = $1`, orderID); err != nil {
			return nil, nil, false, fmt.Errorf("expiring authorizations: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, false, fmt.Errorf("commit tx: %w", err)
		}
		o.Status = OrderInvalid
		return &o, nil, true, nil
	}

	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'processing' WHERE id = $1 AND status = 'ready'`, orderID); err != nil {
		return nil, nil, false, fmt.Errorf("moving order to processing: %w", err)
	}
	o.Status = OrderProcessing

	rows, err := tx.Query(ctx,
		`SELECT domain FROM authorizations WHERE order_id = $1 AND status = 'valid' ORDER BY id`, orderID)
	if err != nil {
		return nil, nil, false, fmt.Errorf("loading validated domains: %w", err)
	}
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			rows.Close()
			return nil, nil, false, fmt.Errorf("scanning domain: %w", err)
		}
		domains = append(domains, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return &o, domains, false, nil
}

// FinalizeSuccess persists the issued certificate and moves the order
// from processing to valid.
func (s *Store) FinalizeSuccess(ctx context.Context, orderID, serialNumber, csrPEM, chainPEM string, notBefore, notAfter time.Time) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO certificates (serial_number, order_id, csr_pem, chain_pem, not_valid_before, not_valid_after)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		serialNumber, orderID, csrPEM, chainPEM, notBefore, notAfter); err != nil {
		return fmt.Errorf("inserting certificate: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'valid' WHERE id = $1 AND status = 'processing'`, orderID); err != nil {
		return fmt.Errorf("finalizing order: %w", err)
	}
	return tx.Commit(ctx)
}

// FinalizeFailure records a signer failure on the order (unconditionally,
// matching original_source's finalize branch that doesn't guard on
// current status) and returns it to invalid.
func (s *Store) FinalizeFailure(ctx context.Context, orderID string, probType, detail string) error {
	errJSON, err := toJSONB(StoredError{Type: probType, Detail: detail})
	if err != nil {
		return err
	}
	_, err = s.Pool.Exec(ctx,
		`UPDATE orders SET status = 'invalid', error = $2 WHERE id = $1`, orderID, errJSON)
	if err != nil {
		return fmt.Errorf("recording finalize failure: %w", err)
	}
	return nil
}

// GetCertificateBySerial fetches a certificate owned (via its order) by
// accountID.
func (s *Store) GetCertificateBySerial(ctx context.Context, serial, accountID string) (*Certificate, error) {
	return s.scanCertRow(s.Pool.QueryRow(ctx,
		`SELECT c.serial_number, c.order_id, c.csr_pem, c.chain_pem, c.not_valid_before, c.not_valid_after,
		        c.revoked_at, c.user_informed_cert_will_expire, c.user_informed_cert_has_expired
		 FROM certificates c JOIN orders o ON o.id = c.order_id
		 WHERE c.serial_number = $1 AND o.account_id = $2`, serial, accountID))
}

// FindRevocationTarget resolves the certificate to revoke for a
// revoke-cert request: the serial must be unrevoked and the signing JWK
// (whether used via kid or embedded) must belong to the account that owns
// (via its order) that certificate; when accountID is given, that account
// must also be the owner and be valid. This matches
// original_source's revoke_cert query exactly (the account-id predicate
// is optional, the jwk predicate is not).
func (s *Store) FindRevocationTarget(ctx context.Context, serial string, accountID *string, canonicalJWK string) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx,
		`SELECT true FROM certificates c
		   JOIN orders o ON o.id = c.order_id
		   JOIN accounts a ON a.id = o.account_id
		 WHERE c.serial_number = $1 AND c.revoked_at IS NULL
		   AND ($2::text IS NULL OR (a.id = $2 AND a.status = 'valid'))
		   AND a.jwk = $3`,
		serial, accountID, canonicalJWK).Scan(&ok)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("finding revocation target: %w", err)
	}
	return ok, nil
}

// RevokeCertificate marks a certificate revoked. It is idempotent: a
// concurrent double-revoke only ever sets revoked_at once.
func (s *Store) RevokeCertificate(ctx context.Context, serial string, revokedAt time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE certificates SET revoked_at = $2 WHERE serial_number = $1 AND revoked_at IS NULL`,
		serial, revokedAt)
	if err != nil {
		return fmt.Errorf("revoking certificate: %w", err)
	}
	return nil
}

// ListRevocations returns every (serial, revoked_at) pair for CRL
// rebuilding.
func (s *Store) ListRevocations(ctx context.Context) ([]Revocation, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT serial_number, revoked_at FROM certificates WHERE revoked_at IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("listing revocations: %w", err)
	}
	defer rows.Close()
	var out []Revocation
	for rows.Next() {
		var r Revocation
		if err := rows.Scan(&r.SerialNumber, &r.RevokedAt); err != nil {
			return nil, fmt.Errorf("scanning revocation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Revocation is a single entry of the CRL rebuild input set.
type Revocation struct {
	SerialNumber string
	RevokedAt    time.Time
}
