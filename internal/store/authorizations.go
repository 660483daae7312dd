package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AuthzView bundles an authorization with its single HTTP-01 challenge and
// parent order status, the exact join original_source's view/verify
// handlers use.
type AuthzView struct {
	Authz        Authorization
	Challenge    Challenge
	OrderStatus  OrderStatus
	OrderExpires time.Time
}

func (s *Store) GetAuthorizationView(ctx context.Context, authzID, accountID string) (*AuthzView, error) {
	row := s.Pool.QueryRow(ctx,
		`SELECT a.id, a.order_id, a.domain, a.status,
		        c.id, c.authz_id, c.token, c.status, c.validated_at, c.error,
		        o.status, o.expires_at
		 FROM authorizations a
		   JOIN orders o ON o.id = a.order_id
		   JOIN challenges c ON c.authz_id = a.id
		 WHERE a.id = $1 AND o.account_id = $2`, authzID, accountID)
	var v AuthzView
	var errRaw []byte
	if err := row.Scan(&v.Authz.ID, &v.Authz.OrderID, &v.Authz.Domain, &v.Authz.Status,
		&v.Challenge.ID, &v.Challenge.AuthzID, &v.Challenge.Token, &v.Challenge.Status, &v.Challenge.ValidatedAt, &errRaw,
		&v.OrderStatus, &v.OrderExpires); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading authorization view: %w", err)
	}
	var err error
	if v.Challenge.Error, err = parseErrorColumn(errRaw); err != nil {
		return nil, err
	}
	return &v, nil
}

// DeactivateAuthorization deactivates an authorization and invalidates its
// order, but only when both are in a state that allows it; callers check
// the returned bool to know whether the deactivation actually happened.
func (s *Store) DeactivateAuthorization(ctx context.Context, authzID, accountID string) (bool, error) {
	view, err := s.GetAuthorizationView(ctx, authzID, accountID)
	if err != nil || view == nil {
		return false, err
	}
	eligible := (view.Authz.Status == AuthzPending || view.Authz.Status == AuthzValid) &&
		(view.OrderStatus == OrderPending || view.OrderStatus == OrderReady)
	if !eligible {
		return false, nil
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	errJSON, err := toJSONB(StoredError{Type: "unauthorized", Detail: "authorization deactivated"})
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'invalid', error = $2 WHERE id = $1`, view.Authz.OrderID, errJSON); err != nil {
		return false, fmt.Errorf("invalidating order: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE authorizations SET status = 'deactivated' WHERE id = $1`, authzID); err != nil {
		return false, fmt.Errorf("deactivating authorization: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// BeginChallengeVerification loads the joined (challenge, authz, order)
// state and applies step 1-2 of spec.md §4.4's transition sequence:
// cascading invalidation if the order already failed, or flipping the
// challenge to processing if a probe should run. mustSolve reports
// whether the caller should now perform the out-of-band HTTP-01 probe.
func (s *Store) BeginChallengeVerification(ctx context.Context, challengeID, accountID string) (view *AuthzView, mustSolve bool, err error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT a.id, a.order_id, a.domain, a.status,
		        c.id, c.authz_id, c.token, c.status, c.validated_at, c.error,
		        o.status
		 FROM challenges c
		   JOIN authorizations a ON a.id = c.authz_id
		   JOIN orders o ON o.id = a.order_id
		 WHERE c.id = $1 AND o.account_id = $2 AND o.expires_at > now()
		 FOR UPDATE OF c, a, o`, challengeID, accountID)
	var v AuthzView
	var errRaw []byte
	if serr := row.Scan(&v.Authz.ID, &v.Authz.OrderID, &v.Authz.Domain, &v.Authz.Status,
		&v.Challenge.ID, &v.Challenge.AuthzID, &v.Challenge.Token, &v.Challenge.Status, &v.Challenge.ValidatedAt, &errRaw,
		&v.OrderStatus); serr != nil {
		if errors.Is(serr, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("loading challenge view: %w", serr)
	}
	if v.Challenge.Error, err = parseErrorColumn(errRaw); err != nil {
		return nil, false, err
	}

	if v.OrderStatus == OrderInvalid {
		if _, err := tx.Exec(ctx, `UPDATE authorizations SET status = 'invalid' WHERE id = $1`, v.Authz.ID); err != nil {
			return nil, false, fmt.Errorf("cascading authz invalidation: %w", err)
		}
		errJSON, merr := toJSONB(StoredError{Type: "unauthorized", Detail: "order failed"})
		if merr != nil {
			return nil, false, merr
		}
		if _, err := tx.Exec(ctx,
			`UPDATE challenges SET status = 'invalid', error = $2 WHERE id = $1 AND status <> 'invalid'`,
			v.Challenge.ID, errJSON); err != nil {
			return nil, false, fmt.Errorf("cascading challenge invalidation: %w", err)
		}
		v.Challenge.Status = ChallengeInvalid
		return &v, false, tx.Commit(ctx)
	}

	if v.Challenge.Status == ChallengePending && v.OrderStatus == OrderPending {
		if v.Authz.Status == AuthzPending {
			if _, err := tx.Exec(ctx,
				`UPDATE challenges SET status = 'processing' WHERE id = $1 AND status = 'pending'`, v.Challenge.ID); err != nil {
				return nil, false, fmt.Errorf("moving challenge to processing: %w", err)
			}
			v.Challenge.Status = ChallengeProcessing
			mustSolve = true
		} else {
			errJSON, merr := toJSONB(StoredError{Type: "unauthorized", Detail: "authorization failed"})
			if merr != nil {
				return nil, false, merr
			}
			if _, err := tx.Exec(ctx,
				`UPDATE challenges SET status = 'invalid', error = $2 WHERE id = $1 AND status <> 'invalid'`,
				v.Challenge.ID, errJSON); err != nil {
				return nil, false, fmt.Errorf("invalidating challenge: %w", err)
			}
			v.Challenge.Status = ChallengeInvalid
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}
	return &v, mustSolve, nil
}

// CompleteChallengeSuccess applies step 4 of spec.md §4.4: the challenge
// becomes valid, its authorization becomes valid, and if every
// authorization of the order is now valid the order is promoted to ready.
func (s *Store) CompleteChallengeSuccess(ctx context.Context, challengeID, authzID, orderID string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE challenges SET status = 'valid', validated_at = now() WHERE id = $1 AND status = 'processing'`,
		challengeID); err != nil {
		return fmt.Errorf("validating challenge: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE authorizations SET status = 'valid' WHERE id = $1 AND status = 'pending'`, authzID); err != nil {
		return fmt.Errorf("validating authorization: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'ready'
		 WHERE id = $1 AND status = 'pending'
		   AND NOT EXISTS (SELECT 1 FROM authorizations WHERE order_id = $1 AND status <> 'valid')`,
		orderID); err != nil {
		return fmt.Errorf("promoting order to ready: %w", err)
	}
	return tx.Commit(ctx)
}

// CompleteChallengeFailure applies step 5 of spec.md §4.4: the challenge,
// its authorization, and the order are all marked invalid, unconditionally
// (matching original_source, which doesn't guard these three updates on
// current status).
func (s *Store) CompleteChallengeFailure(ctx context.Context, challengeID, authzID, orderID, probType, detail string) error {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	challengeErr, err := toJSONB(StoredError{Type: probType, Detail: detail})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE challenges SET status = 'invalid', error = $2 WHERE id = $1`, challengeID, challengeErr); err != nil {
		return fmt.Errorf("invalidating challenge: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE authorizations SET status = 'invalid' WHERE id = $1`, authzID); err != nil {
		return fmt.Errorf("invalidating authorization: %w", err)
	}
	orderErr, err := toJSONB(StoredError{Type: "unauthorized", Detail: "challenge failed"})
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE orders SET status = 'invalid', error = $2 WHERE id = $1`, orderID, orderErr); err != nil {
		return fmt.Errorf("invalidating order: %w", err)
	}
	return tx.Commit(ctx)
}
