package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the required key length for SecretBox, in bytes.
const KeySize = 32

const nonceSize = 24

// SecretBox is a Cipher backed by NaCl secretbox (XSalsa20-Poly1305).
// Ciphertexts are base64-encoded with a random nonce prefix, so encrypting
// the same secret twice never yields the same ciphertext.
type SecretBox struct {
	key [KeySize]byte
}

// NewSecretBox creates a SecretBox cipher from a 32-byte key.
func NewSecretBox(key []byte) (*SecretBox, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("secrets: key must be %d bytes, got %d", KeySize, len(key))
	}
	sb := &SecretBox{}
	copy(sb.key[:], key)
	return sb, nil
}

// Encrypt seals the plaintext under a fresh random nonce.
func (sb *SecretBox) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("secrets: generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &sb.key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt. Tampered or truncated
// input fails authentication and returns ErrDecrypt.
func (sb *SecretBox) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSize {
		return "", ErrDecrypt
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	opened, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &sb.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(opened), nil
}
