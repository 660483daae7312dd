// Package config loads and validates the server's environment-driven
// settings, mirroring the section/prefix split and the cross-field
// checks original_source's settings module applies at startup.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/knrdl/acme-ca-server/internal/acme"
	"github.com/knrdl/acme-ca-server/internal/ca"
	"github.com/knrdl/acme-ca-server/internal/mail"
)

// Config is the fully validated, parsed configuration for one server
// process.
type Config struct {
	ExternalURL string // always ends with "/"
	DatabaseDSN string

	ACME acme.Config
	CA   ca.Config
	Mail mail.Config

	WebEnabled         bool
	WebEnablePublicLog bool
	AppTitle           string
	AppDescription     string

	CAEnabled bool
	ImportDir string
}

// Load reads every setting from the environment, applies defaults, and
// validates the result. It returns an error rather than exiting so
// callers (and tests) control process-exit behavior.
func Load() (*Config, error) {
	cfg := &Config{}

	externalURL, ok := os.LookupEnv("EXTERNAL_URL")
	if !ok || externalURL == "" {
		return nil, fmt.Errorf("env var EXTERNAL_URL is required")
	}
	if !strings.HasSuffix(externalURL, "/") {
		externalURL += "/"
	}
	if !strings.HasPrefix(externalURL, "https://") {
		fmt.Fprintln(os.Stderr, "warning: EXTERNAL_URL is not HTTPS, this is insecure")
	}
	cfg.ExternalURL = externalURL

	dsn, ok := os.LookupEnv("DB_DSN")
	if !ok || dsn == "" {
		return nil, fmt.Errorf("env var DB_DSN is required")
	}
	cfg.DatabaseDSN = dsn

	mailTargetRegex, err := regexp.Compile(getEnv("ACME_MAIL_TARGET_REGEX", `[^@]+@[^@]+\.[^@]+`))
	if err != nil {
		return nil, fmt.Errorf("invalid acme_mail_target_regex: %w", err)
	}
	targetDomainRegex, err := regexp.Compile(getEnv("ACME_TARGET_DOMAIN_REGEX", `[^\*]+\.[^\.]+`))
	if err != nil {
		return nil, fmt.Errorf("invalid acme_target_domain_regex: %w", err)
	}
	cfg.ACME = acme.Config{
		ExternalURL:       cfg.ExternalURL,
		TermsOfServiceURL: os.Getenv("ACME_TERMS_OF_SERVICE_URL"),
		MailRequired:      getEnvBool("ACME_MAIL_REQUIRED", false),
		MailTargetRegex:   mailTargetRegex,
		TargetDomainRegex: targetDomainRegex,
	}

	cfg.CAEnabled = getEnvBool("CA_ENABLED", true)
	certLifetime := getEnvDuration("CA_CERT_LIFETIME", 60*24*time.Hour)
	crlLifetime := getEnvDuration("CA_CRL_LIFETIME", 7*24*time.Hour)
	encryptionKey := os.Getenv("CA_ENCRYPTION_KEY")
	cfg.ImportDir = getEnv("CA_IMPORT_DIR", "/import")

	if cfg.CAEnabled {
		if encryptionKey == "" {
			return nil, fmt.Errorf("env var CA_ENCRYPTION_KEY is required when CA_ENABLED=true (generate one with a fresh Fernet-compatible 32 byte urlsafe-base64 key)")
		}
		if certLifetime < 24*time.Hour {
			return nil, fmt.Errorf("CA_CERT_LIFETIME must be at least one day, not %s", certLifetime)
		}
		if crlLifetime < 24*time.Hour {
			return nil, fmt.Errorf("CA_CRL_LIFETIME must be at least one day, not %s", crlLifetime)
		}
	}
	cfg.CA = ca.Config{
		ExternalURL:   cfg.ExternalURL,
		EncryptionKey: encryptionKey,
		CertLifetime:  certLifetime,
		CRLLifetime:   crlLifetime,
	}

	mailEnabled := getEnvBool("MAIL_ENABLED", false)
	mailEncryption := mail.Encryption(getEnv("MAIL_ENCRYPTION", "tls"))
	switch mailEncryption {
	case mail.EncryptionTLS, mail.EncryptionStartTLS, mail.EncryptionPlain:
	default:
		return nil, fmt.Errorf("invalid mail_encryption %q, must be tls, starttls or plain", mailEncryption)
	}
	mailHost := os.Getenv("MAIL_HOST")
	mailSender := os.Getenv("MAIL_SENDER")
	mailUsername := os.Getenv("MAIL_USERNAME")
	mailPassword := os.Getenv("MAIL_PASSWORD")
	if mailEnabled && (mailHost == "" || mailSender == "") {
		return nil, fmt.Errorf("MAIL_HOST and MAIL_SENDER are required when MAIL_ENABLED=true")
	}
	if (mailUsername == "") != (mailPassword == "") {
		return nil, fmt.Errorf("either both or neither of MAIL_USERNAME/MAIL_PASSWORD must be set")
	}
	mailPort := getEnvInt("MAIL_PORT", 0)
	if mailEnabled && mailPort == 0 {
		mailPort = mail.DefaultPort(mailEncryption)
	}

	warnBeforeRaw := getEnv("MAIL_WARN_BEFORE_CERT_EXPIRES", "480h")
	var warnBefore time.Duration
	switch strings.ToLower(strings.TrimSpace(warnBeforeRaw)) {
	case "", "false", "0", "-1":
		warnBefore = 0
	default:
		d, derr := time.ParseDuration(warnBeforeRaw)
		if derr != nil {
			return nil, fmt.Errorf("invalid mail_warn_before_cert_expires %q: %w", warnBeforeRaw, derr)
		}
		warnBefore = d
	}

	cfg.Mail = mail.Config{
		Enabled:                 mailEnabled,
		Host:                    mailHost,
		Port:                    mailPort,
		Username:                mailUsername,
		Password:                mailPassword,
		Encryption:              mailEncryption,
		Sender:                  mailSender,
		AppTitle:                getEnv("WEB_APP_TITLE", "ACME CA Server"),
		AppDescription:          getEnv("WEB_APP_DESCRIPTION", "Self hosted ACME CA Server"),
		ExternalURL:             cfg.ExternalURL,
		NotifyOnAccountCreation: getEnvBool("MAIL_NOTIFY_ON_ACCOUNT_CREATION", true),
		WarnBeforeCertExpires:   warnBefore,
		NotifyWhenCertExpired:   getEnvBool("MAIL_NOTIFY_WHEN_CERT_EXPIRED", true),
	}

	if warnBefore > 0 && cfg.CAEnabled && mailEnabled {
		if warnBefore >= certLifetime {
			return nil, fmt.Errorf("MAIL_WARN_BEFORE_CERT_EXPIRES cannot be greater than or equal to CA_CERT_LIFETIME")
		}
		if warnBefore > certLifetime/2 {
			fmt.Fprintln(os.Stderr, "warning: MAIL_WARN_BEFORE_CERT_EXPIRES should not be more than half of CA_CERT_LIFETIME")
		}
	}

	cfg.WebEnabled = getEnvBool("WEB_ENABLED", true)
	cfg.WebEnablePublicLog = getEnvBool("WEB_ENABLE_PUBLIC_LOG", false)
	cfg.AppTitle = cfg.Mail.AppTitle
	cfg.AppDescription = cfg.Mail.AppDescription

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
