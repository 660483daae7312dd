package mail

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/knrdl/acme-ca-server/internal/store"
)

// Notifier periodically scans for certificates approaching or past
// expiry and emails their account holders, matching the hourly cronjob
// in original_source's certificate/cronjob.py.
type Notifier struct {
	st     *store.Store
	mailer *Mailer
	log    *zap.Logger
}

func NewNotifier(st *store.Store, mailer *Mailer, log *zap.Logger) *Notifier {
	return &Notifier{st: st, mailer: mailer, log: log}
}

// RunLoop scans every hour until ctx is canceled. It is a no-op loop if
// neither notification kind is enabled, mirroring original_source only
// scheduling the cronjob task when at least one toggle is set.
func (n *Notifier) RunLoop(ctx context.Context) {
	if !n.mailer.cfg.NotifyWhenCertExpired && n.mailer.cfg.WarnBeforeCertExpires <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		n.scanOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *Notifier) scanOnce(ctx context.Context) {
	groups, err := n.st.ScanExpiringCerts(ctx, n.mailer.cfg.WarnBeforeCertExpires)
	if err != nil {
		n.log.Error("could not scan for expiring certificates", zap.Error(err))
		return
	}
	for _, g := range groups {
		n.notifyGroup(ctx, g)
	}
}

func (n *Notifier) notifyGroup(ctx context.Context, g store.ExpiringCertGroup) {
	if !g.IsExpired && n.mailer.cfg.WarnBeforeCertExpires > 0 {
		if err := n.mailer.SendCertWillExpireWarning(ctx, g.Mail, g.Domains, g.NotValidAfter, g.SerialNumber); err != nil {
			n.log.Error("could not send expiry warning mail", zap.String("to", g.Mail), zap.Error(err))
			return
		}
		if err := n.st.MarkWillExpireNotified(ctx, g.SerialNumber); err != nil {
			n.log.Error("could not mark certificate as expiry-warned", zap.String("serial", g.SerialNumber), zap.Error(err))
		}
	}
	if g.IsExpired && n.mailer.cfg.NotifyWhenCertExpired {
		if err := n.mailer.SendCertExpiredInfo(ctx, g.Mail, g.Domains, g.NotValidAfter, g.SerialNumber); err != nil {
			n.log.Error("could not send expired info mail", zap.String("to", g.Mail), zap.Error(err))
			return
		}
		if err := n.st.MarkExpiredNotified(ctx, g.SerialNumber); err != nil {
			n.log.Error("could not mark certificate as expired-notified", zap.String("serial", g.SerialNumber), zap.Error(err))
		}
	}
}
