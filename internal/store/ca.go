package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// GetActiveCA returns the single CA row with active=true, or nil if none
// exists (a fatal startup condition the caller must handle).
func (s *Store) GetActiveCA(ctx context.Context) (*CA, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT serial_number, cert_pem, key_pem_enc, active, crl_pem FROM cas WHERE active = true`)
	var c CA
	if err := row.Scan(&c.SerialNumber, &c.CertPEM, &c.KeyPEMEnc, &c.Active, &c.CRLPEM); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting active ca: %w", err)
	}
	return &c, nil
}

// GetCA returns any CA row by its own serial number, active or not --
// used by the public CRL download endpoint, which may serve a
// superseded CA's CRL.
func (s *Store) GetCA(ctx context.Context, serial string) (*CA, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT serial_number, cert_pem, key_pem_enc, active, crl_pem FROM cas WHERE serial_number = $1`, serial)
	var c CA
	if err := row.Scan(&c.SerialNumber, &c.CertPEM, &c.KeyPEMEnc, &c.Active, &c.CRLPEM); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting ca: %w", err)
	}
	return &c, nil
}

// ListAllCAs returns every CA row, used by the 12h background CRL
// rebuild which refreshes every historical CA's nextUpdate, not just the
// active one.
func (s *Store) ListAllCAs(ctx context.Context) ([]CA, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT serial_number, cert_pem, key_pem_enc, active, crl_pem FROM cas`)
	if err != nil {
		return nil, fmt.Errorf("listing cas: %w", err)
	}
	defer rows.Close()
	var out []CA
	for rows.Next() {
		var c CA
		if err := rows.Scan(&c.SerialNumber, &c.CertPEM, &c.KeyPEMEnc, &c.Active, &c.CRLPEM); err != nil {
			return nil, fmt.Errorf("scanning ca: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ImportCA marks every existing CA row inactive and upserts the given
// serial as the new active CA, matching original_source's startup import:
// re-importing the same CA serial just reactivates and refreshes it
// rather than duplicating a row.
func (s *Store) ImportCA(ctx context.Context, serial, certPEM string, keyPEMEnc []byte, crlPEM string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE cas SET active = false`); err != nil {
		return fmt.Errorf("deactivating existing cas: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO cas (serial_number, cert_pem, key_pem_enc, active, crl_pem)
		 VALUES ($1, $2, $3, true, $4)
		 ON CONFLICT (serial_number) DO UPDATE SET active = true, crl_pem = $4`,
		serial, certPEM, keyPEMEnc, crlPEM); err != nil {
		return fmt.Errorf("upserting ca: %w", err)
	}
	return tx.Commit(ctx)
}

// CountActiveCAs reports how many CA rows are currently active (expected
// to be exactly 0 or 1; more than 1 would violate the unique partial
// index and can't happen).
func (s *Store) CountActiveCAs(ctx context.Context) (int, error) {
	var n int
	if err := s.Pool.QueryRow(ctx, `SELECT count(*) FROM cas WHERE active = true`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting active cas: %w", err)
	}
	return n, nil
}

// UpdateActiveCACRL rewrites the active CA's crl_pem after a revocation,
// matching original_source's revoke_cert (which touches only the active
// CA, unlike the 12h rebuild loop which touches all of them).
func (s *Store) UpdateActiveCACRL(ctx context.Context, crlPEM string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE cas SET crl_pem = $1 WHERE active = true`, crlPEM)
	if err != nil {
		return fmt.Errorf("updating active ca crl: %w", err)
	}
	return nil
}

// UpdateCACRL rewrites a specific CA's crl_pem by serial, used by the
// background rebuild loop which iterates every CA row.
func (s *Store) UpdateCACRL(ctx context.Context, serial, crlPEM string) error {
	_, err := s.Pool.Exec(ctx, `UPDATE cas SET crl_pem = $1 WHERE serial_number = $2`, crlPEM, serial)
	if err != nil {
		return fmt.Errorf("updating ca crl: %w", err)
	}
	return nil
}
