package acme

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// token returns a URL-safe base64 string over n random bytes, the same
// shape as Python's secrets.token_urlsafe: 16 bytes for entity ids (22
// chars), 32 bytes for challenge tokens.
func token(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newEntityID() (string, error) { return token(16) }

func newChallengeToken() (string, error) { return token(32) }
