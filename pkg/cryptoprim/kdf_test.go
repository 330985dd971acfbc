package cryptoprim

import (
	"bytes"
	"testing"
)

func TestDeriveKeySameSaltSamePassword(t *testing.T) {
	salt, err := RandomBytes(KDFSaltSizeBytes)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	a := DeriveKey("correct horse battery staple", salt)
	b := DeriveKey("correct horse battery staple", salt)
	if !bytes.Equal(a, b) {
		t.Fatal("expected DeriveKey to be deterministic for the same password and salt")
	}
	if len(a) != AESKeySizeBytes {
		t.Fatalf("expected %d-byte key, got %d", AESKeySizeBytes, len(a))
	}

	c := DeriveKey("different password entirely", salt)
	if bytes.Equal(a, c) {
		t.Fatal("expected different passwords to derive different keys")
	}
}

func TestEncryptionEnvelopeRoundTrip(t *testing.T) {
	plaintext := []byte("on-chain block payload")
	env, ciphertext, err := NewEncryptionEnvelope("strongpass1", plaintext, []byte("aad"))
	if err != nil {
		t.Fatalf("NewEncryptionEnvelope: %v", err)
	}
	if env.KDF != KDFName || env.Iterations != KDFIterations {
		t.Fatalf("unexpected envelope parameters: %+v", env)
	}

	recovered, err := OpenEncryptionEnvelope(env, "strongpass1", ciphertext)
	if err != nil {
		t.Fatalf("OpenEncryptionEnvelope: %v", err)
	}
	if !bytes.Equal(recovered, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, recovered)
	}

	if _, err := OpenEncryptionEnvelope(env, "wrongpass1", ciphertext); err == nil {
		t.Fatal("expected wrong password to fail decryption")
	}
}

func TestValidatePasswordStrength(t *testing.T) {
	cases := []struct {
		password string
		wantErr  bool
	}{
		{"short1", true},
		{"noDigitsHere", true},
		{"12345678", true},
		{"valid1pass", false},
	}
	for _, c := range cases {
		err := ValidatePasswordStrength(c.password)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidatePasswordStrength(%q): got err=%v, want err=%v", c.password, err, c.wantErr)
		}
	}
}
