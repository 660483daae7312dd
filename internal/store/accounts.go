package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// FindAccountByJWK looks up an account by its canonical JWK JSON,
// optionally constrained to a specific id (used when a request also
// carries a kid, so the lookup can enforce "this JWK belongs to this
// account" in a single query).
func (s *Store) FindAccountByJWK(ctx context.Context, canonicalJWK string, id *string) (*Account, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, jwk, mail, status FROM accounts WHERE jwk = $1 AND ($2::text IS NULL OR id = $2)`,
		canonicalJWK, id)
	var a Account
	if err := row.Scan(&a.ID, &a.JWK, &a.Mail, &a.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding account by jwk: %w", err)
	}
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT id, jwk, mail, status FROM accounts WHERE id = $1`, id)
	var a Account
	if err := row.Scan(&a.ID, &a.JWK, &a.Mail, &a.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting account: %w", err)
	}
	return &a, nil
}

// CreateAccount inserts a new account, returning its assigned status
// (always "valid" today, but read back from the row rather than assumed).
func (s *Store) CreateAccount(ctx context.Context, id, canonicalJWK string, mail *string) (*Account, error) {
	row := s.Pool.QueryRow(ctx,
		`INSERT INTO accounts (id, jwk, mail) VALUES ($1, $2, $3) RETURNING id, jwk, mail, status`,
		id, canonicalJWK, mail)
	var a Account
	if err := row.Scan(&a.ID, &a.JWK, &a.Mail, &a.Status); err != nil {
		return nil, fmt.Errorf("creating account: %w", err)
	}
	return &a, nil
}

// UpdateAccountMail sets the contact mail for a valid account. It is a
// silent no-op (zero rows affected) if the account isn't valid, matching
// original_source's behavior of never erroring on this path.
func (s *Store) UpdateAccountMail(ctx context.Context, id string, mail *string) (bool, error) {
	tag, err := s.Pool.Exec(ctx,
		`UPDATE accounts SET mail = $2 WHERE id = $1 AND status = 'valid'`, id, mail)
	if err != nil {
		return false, fmt.Errorf("updating account mail: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeactivateAccount marks the account deactivated and cascades every
// non-invalid order of this account to invalid with an
// unauthorized/"account deactivated" error, matching original_source's
// account-deactivation side effect.
func (s *Store) DeactivateAccount(ctx context.Context, id string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET status = 'deactivated' WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deactivating account: %w", err)
	}
	errJSON, err := toJSONB(StoredError{Type: "unauthorized", Detail: "account deactivated"})
	if err != nil {
		return fmt.Errorf("encoding error column: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'invalid', error = $2
		 WHERE account_id = $1 AND status <> 'invalid'`,
		id, errJSON); err != nil {
		return fmt.Errorf("cascading order invalidation: %w", err)
	}
	return tx.Commit(ctx)
}

// ListAccountOrderIDs returns every non-invalid order id owned by this
// account, in creation order.
func (s *Store) ListAccountOrderIDs(ctx context.Context, accountID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id FROM orders WHERE account_id = $1 AND status <> 'invalid' ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("listing account orders: %w", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
