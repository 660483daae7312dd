package store

import (
	"context"
	"fmt"
	"time"
)

// ExpiringCertGroup is one row of the expiry-notifier scan: a mail
// recipient plus the newest-expiring certificate for each of their
// domains that hasn't yet triggered the matching notification, grouped so
// a reissued/superseded certificate for the same domain never re-warns,
// matching original_source's certificate/cronjob.py CTE.
type ExpiringCertGroup struct {
	Mail          string
	SerialNumber  string
	NotValidAfter time.Time
	Domains       []string
	IsExpired     bool
}

// ScanExpiringCerts finds certificates needing a "will expire" or "has
// expired" notification. warnBefore of zero disables the will-expire
// branch (mirrors config.mail.warn_before_cert_expires == false).
func (s *Store) ScanExpiringCerts(ctx context.Context, warnBefore time.Duration) ([]ExpiringCertGroup, error) {
	var warnInterval *time.Duration
	if warnBefore > 0 {
		warnInterval = &warnBefore
	}
	rows, err := s.Pool.Query(ctx, `
		WITH expiring_domains AS (
			SELECT a.domain, c.serial_number, c.not_valid_after, acc.mail,
			       (c.not_valid_after < now()) AS is_expired
			FROM certificates c
			  JOIN orders o ON o.id = c.order_id
			  JOIN accounts acc ON acc.id = o.account_id
			  JOIN authorizations a ON a.order_id = o.id AND a.status = 'valid'
			WHERE acc.status = 'valid' AND o.status = 'valid' AND c.revoked_at IS NULL
			  AND (
			        ($1::interval IS NOT NULL AND c.not_valid_after > now()
			           AND c.not_valid_after < now() + $1::interval
			           AND NOT c.user_informed_cert_will_expire)
			     OR (c.not_valid_after < now() AND NOT c.user_informed_cert_has_expired)
			      )
		),
		newest_domains AS (
			SELECT domain, max(not_valid_after) AS not_valid_after
			FROM expiring_domains GROUP BY domain
		)
		SELECT ed.mail, ed.serial_number, ed.not_valid_after, bool_or(ed.is_expired), array_agg(DISTINCT ed.domain)
		FROM expiring_domains ed
		  JOIN newest_domains nd ON nd.domain = ed.domain AND nd.not_valid_after = ed.not_valid_after
		GROUP BY ed.mail, ed.serial_number, ed.not_valid_after
		HAVING count(DISTINCT ed.domain) > 0`,
		warnInterval)
	if err != nil {
		return nil, fmt.Errorf("scanning expiring certificates: %w", err)
	}
	defer rows.Close()

	var out []ExpiringCertGroup
	for rows.Next() {
		var g ExpiringCertGroup
		if err := rows.Scan(&g.Mail, &g.SerialNumber, &g.NotValidAfter, &g.IsExpired, &g.Domains); err != nil {
			return nil, fmt.Errorf("scanning expiring cert group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MarkWillExpireNotified sets the "will expire" flag so the reminder
// fires at most once per transition.
func (s *Store) MarkWillExpireNotified(ctx context.Context, serial string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE certificates SET user_informed_cert_will_expire = true WHERE serial_number = $1`, serial)
	if err != nil {
		return fmt.Errorf("marking will-expire notified: %w", err)
	}
	return nil
}

// MarkExpiredNotified sets the "has expired" flag.
func (s *Store) MarkExpiredNotified(ctx context.Context, serial string) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE certificates SET user_informed_cert_has_expired = true WHERE serial_number = $1`, serial)
	if err != nil {
		return fmt.Errorf("marking expired notified: %w", err)
	}
	return nil
}
