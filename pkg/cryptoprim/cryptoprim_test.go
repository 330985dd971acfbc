package cryptoprim

import (
	"bytes"
	"testing"

	"github.com/coreledger/privledger/pkg/ledger"
)

func TestGenerateKeyPairRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if kp.PublicB64 == "" {
		t.Fatal("expected non-empty encoded public key")
	}

	pub, err := DecodePublicKey(kp.PublicB64)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if !pub.Equal(&kp.Private.PublicKey) {
		t.Fatal("decoded public key does not match generated key pair")
	}
}

func TestEncodeDecodePrivateKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	encoded, err := EncodePrivateKey(kp.Private)
	if err != nil {
		t.Fatalf("EncodePrivateKey: %v", err)
	}
	decoded, err := DecodePrivateKey(encoded)
	if err != nil {
		t.Fatalf("DecodePrivateKey: %v", err)
	}
	if !decoded.Equal(kp.Private) {
		t.Fatal("decoded private key does not match original")
	}
}

func TestSignVerify(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	message := []byte("block hash under test")
	sig, err := Sign(kp.Private, message)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(&kp.Private.PublicKey, message, sig) {
		t.Fatal("expected signature to verify")
	}
	if Verify(&kp.Private.PublicKey, []byte("tampered message"), sig) {
		t.Fatal("signature unexpectedly verified against a different message")
	}
}

func TestHashHexDeterministic(t *testing.T) {
	a := HashHex([]byte("same input"))
	b := HashHex([]byte("same input"))
	if a != b {
		t.Fatalf("expected deterministic hash, got %q and %q", a, b)
	}
	if a == HashHex([]byte("different input")) {
		t.Fatal("expected different inputs to hash differently")
	}
}

func TestAESGCMEncryptDecryptRoundTrip(t *testing.T) {
	key := DeterministicKey("test-seed")
	plaintext := []byte("the quick brown fox jumps over the lazy dog")
	aad := []byte("associated-data")

	iv, ciphertext, err := AESGCMEncrypt(key, plaintext, aad)
	if err != nil {
		t.Fatalf("AESGCMEncrypt: %v", err)
	}

	decrypted, err := AESGCMDecrypt(key, iv, ciphertext, aad)
	if err != nil {
		t.Fatalf("AESGCMDecrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("expected %q, got %q", plaintext, decrypted)
	}
}

func TestAESGCMDecryptRejectsTamperedCiphertext(t *testing.T) {
	key := DeterministicKey("test-seed")
	iv, ciphertext, err := AESGCMEncrypt(key, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("AESGCMEncrypt: %v", err)
	}
	ciphertext[0] ^= 0xFF

	_, err = AESGCMDecrypt(key, iv, ciphertext, nil)
	if err == nil {
		t.Fatal("expected tampered ciphertext to fail authentication")
	}
	if !ledger.IsKind(err, ledger.KindIntegrity) {
		t.Fatalf("expected KindIntegrity, got %v", err)
	}
}

func TestDeterministicKeyIsStableAndSeedSpecific(t *testing.T) {
	seed := FormatOffChainSeed(42, "signer-pub-key")
	if seed != "OFFCHAIN_42_signer-pub-key" {
		t.Fatalf("unexpected seed format: %q", seed)
	}
	if !bytes.Equal(DeterministicKey(seed), DeterministicKey(seed)) {
		t.Fatal("expected DeterministicKey to be stable for the same seed")
	}
	other := FormatOffChainSeed(43, "signer-pub-key")
	if bytes.Equal(DeterministicKey(seed), DeterministicKey(other)) {
		t.Fatal("expected different block numbers to derive different keys")
	}
}

func TestDecodePublicKeyRejectsNonP256Input(t *testing.T) {
	if _, err := DecodePublicKey("not-valid-base64!!"); err == nil {
		t.Fatal("expected decode error for malformed input")
	}
}
