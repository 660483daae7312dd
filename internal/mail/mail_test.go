package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultPort(t *testing.T) {
	require.Equal(t, 465, DefaultPort(EncryptionTLS))
	require.Equal(t, 587, DefaultPort(EncryptionStartTLS))
	require.Equal(t, 25, DefaultPort(EncryptionPlain))
}

func TestRenderSubjectAndBody(t *testing.T) {
	subject, err := renderSubject("cert-expires-warning", map[string]any{
		"Domains":       []string{"example.com"},
		"ExpiresInDays": 5,
	})
	require.NoError(t, err)
	require.Contains(t, subject, "example.com")
	require.Contains(t, subject, "5 days")

	body, err := renderBody("cert-expired-info", map[string]any{
		"Domains":      []string{"a.example.com", "b.example.com"},
		"ExpiresAt":    time.Now(),
		"SerialNumber": "ABC123",
	})
	require.NoError(t, err)
	require.Contains(t, body, "a.example.com")
	require.Contains(t, body, "b.example.com")
	require.Contains(t, body, "ABC123")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := renderSubject("does-not-exist", nil)
	require.Error(t, err)
}

func TestBuildMessageHeaders(t *testing.T) {
	msg := buildMessage("ca@example.com", "user@example.com", "hello", "<p>hi</p>")
	s := string(msg)
	require.Contains(t, s, "From: ca@example.com\r\n")
	require.Contains(t, s, "To: user@example.com\r\n")
	require.Contains(t, s, "Subject: hello\r\n")
	require.Contains(t, s, "<p>hi</p>")
}

func TestSendDisabledDoesNotDial(t *testing.T) {
	m := New(Config{Enabled: false, AppTitle: "Test CA", ExternalURL: "https://ca.example.com/"}, zap.NewNop())
	err := m.send(context.Background(), "user@example.com", "new-account-info", nil)
	require.NoError(t, err)
}
