package ca

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// keyFromSecret derives a 32-byte AES-256 key from the operator-supplied
// encryption secret, so the config value can be any length string (as
// the source's Fernet key was) rather than requiring exactly 32 raw
// bytes.
func keyFromSecret(secret string) [32]byte {
	return sha256.Sum256([]byte(secret))
}

// EncryptKey seals plaintext (a PEM-encoded private key) for storage in
// cas.key_pem_enc. This stands in for the source's Fernet encryption: an
// authenticated-encryption scheme keyed by a secret supplied out of band,
// the same AEAD family Fernet itself builds on.
func EncryptKey(secret string, plaintext []byte) ([]byte, error) {
	key := keyFromSecret(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("constructing aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("constructing gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// DecryptKey reverses EncryptKey.
func DecryptKey(secret string, ciphertext []byte) ([]byte, error) {
	key := keyFromSecret(secret)
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("constructing aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("constructing gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce size")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting ca key: %w", err)
	}
	return plaintext, nil
}
