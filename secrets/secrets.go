// Package secrets defines the symmetric cipher used to protect webhook
// signing secrets at rest. The delivery pipeline only ever consumes the
// Cipher contract: a decryption failure renders the affected subscription
// delivery-unavailable, never a global fault.
package secrets

import "errors"

// ErrDecrypt is returned when a ciphertext cannot be authenticated or opened.
var ErrDecrypt = errors.New("secrets: cannot decrypt")

// Cipher encrypts and decrypts webhook signing secrets.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Plaintext is a pass-through Cipher for tests and local development.
type Plaintext struct{}

// Encrypt returns the plaintext unchanged.
func (Plaintext) Encrypt(plaintext string) (string, error) { return plaintext, nil }

// Decrypt returns the ciphertext unchanged.
func (Plaintext) Decrypt(ciphertext string) (string, error) { return ciphertext, nil }
