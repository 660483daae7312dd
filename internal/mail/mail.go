// Package mail renders and delivers the account-lifecycle and
// certificate-expiry notification emails described in spec.md §4.6 and
// §7.2. Delivery uses net/smtp plus crypto/tls directly: no SMTP client
// library appears anywhere in the retrieval pack, so the standard library
// is the only grounded option (recorded in DESIGN.md).
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Encryption selects how the SMTP connection is secured.
type Encryption string

const (
	EncryptionTLS      Encryption = "tls"
	EncryptionStartTLS Encryption = "starttls"
	EncryptionPlain    Encryption = "plain"
)

// DefaultPort returns the conventional port for an encryption mode,
// matching original_source's {tls:465, starttls:587, plain:25} table.
func DefaultPort(enc Encryption) int {
	switch enc {
	case EncryptionTLS:
		return 465
	case EncryptionStartTLS:
		return 587
	default:
		return 25
	}
}

// Config holds the SMTP transport settings plus the notification toggles
// that gate which emails the caller is allowed to send.
type Config struct {
	Enabled    bool
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption Encryption
	Sender     string

	AppTitle       string
	AppDescription string
	ExternalURL    string

	NotifyOnAccountCreation bool
	WarnBeforeCertExpires   time.Duration // zero disables the warning mail
	NotifyWhenCertExpired   bool
}

// Mailer sends templated notification emails over SMTP.
type Mailer struct {
	cfg Config
	log *zap.Logger
}

func New(cfg Config, log *zap.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

func (m *Mailer) defaultParams() map[string]string {
	return map[string]string{
		"AppTitle":       m.cfg.AppTitle,
		"AppDescription": m.cfg.AppDescription,
		"WebURL":         m.cfg.ExternalURL,
		"AcmeURL":        strings.TrimSuffix(m.cfg.ExternalURL, "/") + "/acme/directory",
	}
}

// send renders templateName's subject and body and delivers the result to
// receiver. When mail delivery is disabled it only logs at debug level,
// matching original_source's behavior of still rendering every message so
// template errors surface even with sending switched off.
func (m *Mailer) send(ctx context.Context, receiver, templateName string, vars map[string]any) error {
	params := m.defaultParams()
	merged := make(map[string]any, len(vars)+len(params))
	for k, v := range params {
		merged[k] = v
	}
	for k, v := range vars {
		merged[k] = v
	}

	subject, err := renderSubject(templateName, merged)
	if err != nil {
		return fmt.Errorf("rendering subject for %s: %w", templateName, err)
	}
	body, err := renderBody(templateName, merged)
	if err != nil {
		return fmt.Errorf("rendering body for %s: %w", templateName, err)
	}

	msg := buildMessage(m.cfg.Sender, receiver, subject, body)

	if !m.cfg.Enabled {
		m.log.Debug("mail delivery disabled, not sending", zap.String("to", receiver), zap.String("template", templateName))
		return nil
	}
	return m.deliver(ctx, receiver, msg)
}

func buildMessage(from, to, subject, htmlBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(htmlBody)
	return []byte(b.String())
}

func (m *Mailer) deliver(ctx context.Context, receiver string, msg []byte) error {
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))
	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	done := make(chan error, 1)
	go func() {
		switch m.cfg.Encryption {
		case EncryptionTLS:
			done <- m.sendImplicitTLS(addr, auth, receiver, msg)
		default:
			done <- m.sendPlainOrStartTLS(addr, auth, receiver, msg)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

func (m *Mailer) sendImplicitTLS(addr string, auth smtp.Auth, receiver string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		return fmt.Errorf("dialing tls smtp: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()
	return sendOverClient(client, auth, m.cfg.Sender, receiver, msg)
}

func (m *Mailer) sendPlainOrStartTLS(addr string, auth smtp.Auth, receiver string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("dialing smtp: %w", err)
	}
	defer client.Close()

	if m.cfg.Encryption == EncryptionStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: m.cfg.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}
	return sendOverClient(client, auth, m.cfg.Sender, receiver, msg)
}

func sendOverClient(client *smtp.Client, auth smtp.Auth, from, to string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}

// SendNewAccountInfo delivers the welcome email triggered on account
// creation, a feature present in original_source's router but dropped
// from the distilled spec.
func (m *Mailer) SendNewAccountInfo(ctx context.Context, receiver string) error {
	if !m.cfg.NotifyOnAccountCreation {
		return nil
	}
	return m.send(ctx, receiver, "new-account-info", nil)
}

// SendCertWillExpireWarning notifies the account holder that a
// certificate is approaching expiry.
func (m *Mailer) SendCertWillExpireWarning(ctx context.Context, receiver string, domains []string, expiresAt time.Time, serialNumber string) error {
	return m.send(ctx, receiver, "cert-expires-warning", map[string]any{
		"Domains":       domains,
		"ExpiresAt":     expiresAt,
		"SerialNumber":  serialNumber,
		"ExpiresInDays": int(time.Until(expiresAt).Hours() / 24),
	})
}

// SendCertExpiredInfo notifies the account holder that a certificate has
// already expired.
func (m *Mailer) SendCertExpiredInfo(ctx context.Context, receiver string, domains []string, expiresAt time.Time, serialNumber string) error {
	return m.send(ctx, receiver, "cert-expired-info", map[string]any{
		"Domains":      domains,
		"ExpiresAt":    expiresAt,
		"SerialNumber": serialNumber,
	})
}
