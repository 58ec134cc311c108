package secrets_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/signalworks/herald/secrets"
)

func newBox(t *testing.T) *secrets.SecretBox {
	t.Helper()

	sb, err := secrets.NewSecretBox(bytes.Repeat([]byte{0x42}, secrets.KeySize))
	if err != nil {
		t.Fatal(err)
	}
	return sb
}

func TestNewSecretBoxKeyLength(t *testing.T) {
	if _, err := secrets.NewSecretBox([]byte("too short")); err == nil {
		t.Fatal("expected error for short key")
	}
	if _, err := secrets.NewSecretBox(bytes.Repeat([]byte{1}, 64)); err == nil {
		t.Fatal("expected error for long key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sb := newBox(t)

	plaintext := "whsec_0123456789abcdef"

	ciphertext, err := sb.Encrypt(plaintext)
	if err != nil {
		t.Fatal(err)
	}
	if ciphertext == plaintext {
		t.Fatal("ciphertext equals plaintext")
	}

	opened, err := sb.Decrypt(ciphertext)
	if err != nil {
		t.Fatal(err)
	}
	if opened != plaintext {
		t.Fatalf("got %q, want %q", opened, plaintext)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	sb := newBox(t)

	a, err := sb.Encrypt("same secret")
	if err != nil {
		t.Fatal(err)
	}
	b, err := sb.Encrypt("same secret")
	if err != nil {
		t.Fatal(err)
	}

	if a == b {
		t.Fatal("two encryptions of the same secret produced the same ciphertext")
	}
}

func TestDecryptRejectsTamperedCiphertext(t *testing.T) {
	sb := newBox(t)

	ciphertext, err := sb.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	// Flip a character in the base64 body.
	tampered := []byte(ciphertext)
	if tampered[10] == 'A' {
		tampered[10] = 'B'
	} else {
		tampered[10] = 'A'
	}

	if _, err := sb.Decrypt(string(tampered)); !errors.Is(err, secrets.ErrDecrypt) {
		t.Fatalf("err = %v, want ErrDecrypt", err)
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	sb := newBox(t)

	for _, input := range []string{"", "not base64!!!", "YWJj"} {
		if _, err := sb.Decrypt(input); !errors.Is(err, secrets.ErrDecrypt) {
			t.Fatalf("Decrypt(%q) err = %v, want ErrDecrypt", input, err)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	sb := newBox(t)

	other, err := secrets.NewSecretBox(bytes.Repeat([]byte{0x7f}, secrets.KeySize))
	if err != nil {
		t.Fatal(err)
	}

	ciphertext, err := sb.Encrypt("secret")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := other.Decrypt(ciphertext); !errors.Is(err, secrets.ErrDecrypt) {
		t.Fatalf("err = %v, want ErrDecrypt", err)
	}
}

func TestPlaintextPassThrough(t *testing.T) {
	var p secrets.Plaintext

	out, err := p.Encrypt("value")
	if err != nil || out != "value" {
		t.Fatalf("Encrypt = %q, %v", out, err)
	}
	out, err = p.Decrypt("value")
	if err != nil || out != "value" {
		t.Fatalf("Decrypt = %q, %v", out, err)
	}
}
