package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"EXTERNAL_URL", "DB_DSN", "ACME_MAIL_TARGET_REGEX", "ACME_TARGET_DOMAIN_REGEX",
		"ACME_TERMS_OF_SERVICE_URL", "ACME_MAIL_REQUIRED", "CA_ENABLED", "CA_CERT_LIFETIME",
		"CA_CRL_LIFETIME", "CA_ENCRYPTION_KEY", "CA_IMPORT_DIR", "MAIL_ENABLED", "MAIL_ENCRYPTION",
		"MAIL_HOST", "MAIL_SENDER", "MAIL_USERNAME", "MAIL_PASSWORD", "MAIL_PORT",
		"MAIL_WARN_BEFORE_CERT_EXPIRES", "WEB_ENABLED", "WEB_ENABLE_PUBLIC_LOG",
		"WEB_APP_TITLE", "WEB_APP_DESCRIPTION",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresExternalURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DB_DSN", "postgres://localhost/db")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadAppendsTrailingSlash(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXTERNAL_URL", "https://ca.example.com")
	t.Setenv("DB_DSN", "postgres://localhost/db")
	t.Setenv("CA_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "https://ca.example.com/", cfg.ExternalURL)
}

func TestLoadRequiresEncryptionKeyWhenCAEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXTERNAL_URL", "https://ca.example.com/")
	t.Setenv("DB_DSN", "postgres://localhost/db")
	t.Setenv("CA_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsShortCertLifetime(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXTERNAL_URL", "https://ca.example.com/")
	t.Setenv("DB_DSN", "postgres://localhost/db")
	t.Setenv("CA_ENCRYPTION_KEY", "some-key")
	t.Setenv("CA_CERT_LIFETIME", "1h")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadDefaultsMailPortFromEncryption(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXTERNAL_URL", "https://ca.example.com/")
	t.Setenv("DB_DSN", "postgres://localhost/db")
	t.Setenv("CA_ENABLED", "false")
	t.Setenv("MAIL_ENABLED", "true")
	t.Setenv("MAIL_HOST", "smtp.example.com")
	t.Setenv("MAIL_SENDER", "ca@example.com")
	t.Setenv("MAIL_ENCRYPTION", "starttls")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 587, cfg.Mail.Port)
}

func TestLoadRejectsMismatchedMailAuth(t *testing.T) {
	clearEnv(t)
	t.Setenv("EXTERNAL_URL", "https://ca.example.com/")
	t.Setenv("DB_DSN", "postgres://localhost/db")
	t.Setenv("CA_ENABLED", "false")
	t.Setenv("MAIL_USERNAME", "user")
	_, err := Load()
	require.Error(t, err)
}
