// Package cryptoprim implements the ledger's cryptographic primitives (C1):
// EC P-256 key generation, SHA3-256 hashing, ECDSA signing/verification, and
// AES-256-GCM authenticated encryption. It is the only package in this
// module that touches raw key material directly; every other component
// treats keys as opaque base64 strings.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/coreledger/privledger/pkg/ledger"
)

// KeyPair holds a generated P-256 key pair along with its base64-encoded
// public key, which is what the rest of the ledger stores and compares.
type KeyPair struct {
	Private   *ecdsa.PrivateKey
	PublicB64 string
}

// GenerateKeyPair generates a fresh EC P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "generate EC key pair", err)
	}
	pubB64, err := EncodePublicKey(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Private: priv, PublicB64: pubB64}, nil
}

// EncodePublicKey marshals a public key to base64-encoded SubjectPublicKeyInfo.
func EncodePublicKey(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", ledger.NewError(ledger.KindCrypto, "marshal SPKI public key", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePublicKey parses a base64 SPKI-encoded P-256 public key.
func DecodePublicKey(b64 string) (*ecdsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "decode base64 public key", err)
	}
	raw, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "parse SPKI public key", err)
	}
	pub, ok := raw.(*ecdsa.PublicKey)
	if !ok {
		return nil, ledger.NewError(ledger.KindCrypto, "public key is not ECDSA", nil)
	}
	if pub.Curve != elliptic.P256() {
		return nil, ledger.NewError(ledger.KindCrypto, "public key is not on curve P-256", nil)
	}
	return pub, nil
}

// EncodePrivateKey marshals a private key to base64-encoded PKCS8. Callers
// are responsible for keeping the result out of logs and off disk unless the
// target file has restrictive permissions (see offchain/offchain.go for the
// equivalent file-permission convention).
func EncodePrivateKey(priv *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", ledger.NewError(ledger.KindCrypto, "marshal PKCS8 private key", err)
	}
	return base64.StdEncoding.EncodeToString(der), nil
}

// DecodePrivateKey parses a base64 PKCS8-encoded EC private key.
func DecodePrivateKey(b64 string) (*ecdsa.PrivateKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "decode base64 private key", err)
	}
	raw, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "parse PKCS8 private key", err)
	}
	priv, ok := raw.(*ecdsa.PrivateKey)
	if !ok {
		return nil, ledger.NewError(ledger.KindCrypto, "private key is not ECDSA", nil)
	}
	return priv, nil
}

// HashHex returns the hex-encoded SHA3-256 digest of data.
func HashHex(data []byte) string {
	sum := sha3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Sign computes an ECDSA signature over the SHA3-256 digest of message using priv.
func Sign(priv *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	digest := sha3.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "sign digest", err)
	}
	return sig, nil
}

// Verify checks an ECDSA signature over the SHA3-256 digest of message.
func Verify(pub *ecdsa.PublicKey, message, signature []byte) bool {
	digest := sha3.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], signature)
}

// RandomBytes returns n cryptographically strong random bytes.
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "read random bytes", err)
	}
	return buf, nil
}

// AESGCMEncrypt encrypts plaintext under a 256-bit key with a fresh random
// 96-bit IV, returning the IV and ciphertext (tag appended, per
// cipher.AEAD.Seal's convention) separately so callers can store them
// alongside each other explicitly rather than concatenated.
func AESGCMEncrypt(key, plaintext, aad []byte) (iv, ciphertext []byte, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, ledger.NewError(ledger.KindCrypto, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, ledger.NewError(ledger.KindCrypto, "create GCM mode", err)
	}
	iv, err = RandomBytes(gcm.NonceSize())
	if err != nil {
		return nil, nil, err
	}
	ciphertext = gcm.Seal(nil, iv, plaintext, aad)
	return iv, ciphertext, nil
}

// AESGCMDecrypt decrypts ciphertext (tag included) under key and iv,
// returning a CryptoError on key/cipher setup failure and an
// IntegrityError specifically when the GCM authentication tag fails to
// verify, so callers can distinguish "bad parameters" from "tampered data".
func AESGCMDecrypt(key, iv, ciphertext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "create GCM mode", err)
	}
	plaintext, err := gcm.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, ledger.NewError(ledger.KindIntegrity, "AES-GCM authentication failed", err)
	}
	return plaintext, nil
}

// NewGCMStream is a convenience for streaming callers (pkg/offchain) that
// need direct access to the cipher.AEAD rather than one-shot seal/open.
func NewGCMStream(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "create AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ledger.NewError(ledger.KindCrypto, "create GCM mode", err)
	}
	return gcm, nil
}

// DeterministicKey derives a 256-bit AES key by hashing a fixed-format seed
// string. Used for off-chain file encryption, where the key must be
// reproducible from (block number, signer public key) alone without storing
// a separate password (spec §4.4: "OFFCHAIN_" + block_number + "_" + signer).
func DeterministicKey(seed string) []byte {
	sum := sha3.Sum256([]byte(seed))
	return sum[:]
}

// FormatOffChainSeed builds the deterministic off-chain key derivation seed.
func FormatOffChainSeed(blockNumber uint64, signerPublicKey string) string {
	return fmt.Sprintf("OFFCHAIN_%d_%s", blockNumber, signerPublicKey)
}
