package cryptoprim

import (
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/sha3"

	"github.com/coreledger/privledger/pkg/ledger"
)

// KDF parameters for on-chain block-payload encryption (spec §9 Open
// Question 3, resolved as PBKDF2-HMAC-SHA3-256).
const (
	KDFName          = "pbkdf2-hmac-sha3-256"
	KDFIterations    = 200_000
	KDFSaltSizeBytes = 16 // 128-bit salt
	GCMIVSizeBytes   = 12 // 96-bit IV
	AESKeySizeBytes  = 32 // AES-256
)

// DeriveKey runs PBKDF2-HMAC-SHA3-256 over password and salt for
// KDFIterations rounds, producing a 256-bit AES key. The salt must be
// random and unique per block; it is stored in the block's
// EncryptionMetadata so the derivation can be reproduced at read time.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, KDFIterations, AESKeySizeBytes, sha3.New256)
}

// NewEncryptionEnvelope derives a fresh salt and IV, derives the AES key
// from password and salt, and seals plaintext, returning the envelope
// (minus ciphertext, which the caller stores separately as the block's
// Data field) and the ciphertext.
func NewEncryptionEnvelope(password string, plaintext, aad []byte) (*ledger.EncryptionEnvelope, []byte, error) {
	salt, err := RandomBytes(KDFSaltSizeBytes)
	if err != nil {
		return nil, nil, err
	}
	key := DeriveKey(password, salt)
	iv, ciphertext, err := AESGCMEncrypt(key, plaintext, aad)
	if err != nil {
		return nil, nil, err
	}
	env := &ledger.EncryptionEnvelope{
		KDF:        KDFName,
		Iterations: KDFIterations,
		Salt:       salt,
		IV:         iv,
		AAD:        aad,
	}
	return env, ciphertext, nil
}

// OpenEncryptionEnvelope reverses NewEncryptionEnvelope given the stored
// envelope, password, and ciphertext.
func OpenEncryptionEnvelope(env *ledger.EncryptionEnvelope, password string, ciphertext []byte) ([]byte, error) {
	if env == nil {
		return nil, ledger.NewError(ledger.KindInvalidInput, "nil encryption envelope", nil)
	}
	key := DeriveKey(password, env.Salt)
	return AESGCMDecrypt(key, env.IV, ciphertext, env.AAD)
}

// ValidatePasswordStrength enforces spec §4.6 step 1: at least 8 characters,
// with at least one letter and one digit.
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return ledger.NewError(ledger.KindInvalidInput, "password must be at least 8 characters", nil)
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			hasLetter = true
		}
	}
	if !hasLetter || !hasDigit {
		return ledger.NewError(ledger.KindInvalidInput, "password must contain at least one letter and one digit", nil)
	}
	return nil
}
