// Package offchain implements off-chain storage (C4): streaming encrypt-to-
// file and decrypt-from-file for payloads too large to keep on-chain, with
// integrity metadata (hash, signature, IV, size, content-type) tracked
// alongside in the database.
//
// Payloads are framed into fixed-size chunks, each sealed independently
// under AES-256-GCM with a nonce derived from a per-file base IV and the
// chunk's index, so every chunk remains individually tamper-evident. Store
// takes the whole plaintext as one slice and Retrieve returns the whole
// plaintext as one slice, so a payload is held in memory in full on both
// paths; memory use is not bounded by the frame size. The final chunk carries an
// explicit marker so truncation is detected before the caller sees any
// "successful" partial read.
package offchain

import (
	"bufio"
	"context"
	"crypto/cipher"
	"crypto/ecdsa"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/coreledger/privledger/pkg/cryptoprim"
	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
)

// FrameSize is the plaintext size of one streaming chunk (32 KiB).
const FrameSize = 32 * 1024

const (
	frameContinue byte = 0x00
	frameFinal    byte = 0x01
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the Store's time source (default: ledger.SystemClock).
func WithClock(clock ledger.Clock) Option {
	return func(s *Store) { s.clock = clock }
}

// Store streams encrypted payloads to and from a configured directory.
type Store struct {
	dir    string
	repo   *database.OffChainRepository
	clock  ledger.Clock
}

// New creates a Store rooted at dir, creating the directory (mode 0700) if
// it does not already exist.
func New(dir string, repo *database.OffChainRepository, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "create off-chain directory", err)
	}
	s := &Store{dir: dir, repo: repo, clock: ledger.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Store encrypts plaintext to a new file under the configured directory and
// records its metadata. The AES key is deterministically derived from
// (blockNumber, signerPublicKey) rather than a stored password, per spec
// §4.4, so retrieval never needs a separate credential.
func (s *Store) Store(ctx context.Context, tx *database.Tx, plaintext []byte, signer *ecdsa.PrivateKey, signerPublicKey string, blockNumber int64, contentType string) (*ledger.OffChainData, error) {
	if signer == nil {
		return nil, ledger.NewError(ledger.KindInvalidInput, "signer private key is required", nil)
	}

	dataHash := cryptoprim.HashHex(plaintext)
	signature, err := cryptoprim.Sign(signer, []byte(dataHash))
	if err != nil {
		return nil, err
	}

	key := cryptoprim.DeterministicKey(cryptoprim.FormatOffChainSeed(uint64(blockNumber), signerPublicKey))
	gcm, err := cryptoprim.NewGCMStream(key)
	if err != nil {
		return nil, err
	}

	baseIV, err := cryptoprim.RandomBytes(cryptoprim.GCMIVSizeBytes)
	if err != nil {
		return nil, err
	}

	filename := fmt.Sprintf("block_%d_%s.enc", blockNumber, dataHash[:16])
	filePath := filepath.Join(s.dir, filename)

	if err := s.writeEncryptedFile(filePath, gcm, baseIV, plaintext); err != nil {
		return nil, err
	}

	if contentType == "" {
		contentType = sniffContentType(plaintext)
	}

	row, err := s.repo.Insert(ctx, tx, &database.NewOffChainData{
		DataHash:        dataHash,
		BlockNumber:     blockNumber,
		Signature:       signature,
		FilePath:        filePath,
		FileSize:        int64(len(plaintext)),
		EncryptionIV:    baseIV,
		ContentType:     contentType,
		SignerPublicKey: signerPublicKey,
	})
	if err != nil {
		_ = os.Remove(filePath)
		return nil, ledger.NewError(ledger.KindStorage, "record off-chain metadata", err)
	}

	return rowToMeta(row), nil
}

// Retrieve decrypts the file referenced by meta, verifying the AES-GCM tag
// on every chunk and recomputing the overall plaintext hash. A mismatch on
// either check surfaces an IntegrityError.
func (s *Store) Retrieve(meta *ledger.OffChainData, blockNumber int64, signerPublicKey string) ([]byte, error) {
	key := cryptoprim.DeterministicKey(cryptoprim.FormatOffChainSeed(uint64(blockNumber), signerPublicKey))
	gcm, err := cryptoprim.NewGCMStream(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.readEncryptedFile(meta.FilePath, gcm, meta.EncryptionIV)
	if err != nil {
		return nil, err
	}

	if cryptoprim.HashHex(plaintext) != meta.DataHash {
		return nil, ledger.NewError(ledger.KindIntegrity, "off-chain plaintext hash mismatch", ledger.ErrIntegrityMismatch)
	}

	return plaintext, nil
}

// Verify performs a full decrypt + hash check + signature check, returning
// whether the off-chain file is intact and authentic (spec §4.4 verify).
func (s *Store) Verify(meta *ledger.OffChainData, blockNumber int64, signerPublicKey string, signerPub *ecdsa.PublicKey) (bool, error) {
	plaintext, err := s.Retrieve(meta, blockNumber, signerPublicKey)
	if err != nil {
		if ledger.IsKind(err, ledger.KindIntegrity) {
			return false, nil
		}
		return false, err
	}
	_ = plaintext
	return cryptoprim.Verify(signerPub, []byte(meta.DataHash), meta.Signature), nil
}

// Delete removes the file backing meta. It is idempotent: a missing file is
// not an error.
func (s *Store) Delete(meta *ledger.OffChainData) error {
	if err := os.Remove(meta.FilePath); err != nil && !os.IsNotExist(err) {
		return ledger.NewError(ledger.KindStorage, "delete off-chain file", err)
	}
	return nil
}

// CleanupOrphans removes every file under the store's directory that is not
// named in validPaths, used by the orphan sweeper (spec §4.4/§4.8).
func (s *Store) CleanupOrphans(validPaths map[string]bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, ledger.NewError(ledger.KindStorage, "list off-chain directory", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		full := filepath.Join(s.dir, entry.Name())
		if validPaths[full] {
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			return removed, ledger.NewError(ledger.KindStorage, "remove orphaned off-chain file", err)
		}
		removed++
	}
	return removed, nil
}

func (s *Store) writeEncryptedFile(path string, gcm cipher.AEAD, baseIV, plaintext []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "create off-chain file", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	var index uint64
	for offset := 0; ; offset += FrameSize {
		end := offset + FrameSize
		final := end >= len(plaintext)
		if final {
			end = len(plaintext)
		}
		chunk := plaintext[offset:end]

		marker := frameContinue
		if final {
			marker = frameFinal
		}
		framed := make([]byte, 0, len(chunk)+1)
		framed = append(framed, marker)
		framed = append(framed, chunk...)

		nonce := chunkNonce(baseIV, index)
		sealed := gcm.Seal(nil, nonce, framed, nil)

		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(sealed)))
		if _, err := w.Write(lenBuf[:]); err != nil {
			return ledger.NewError(ledger.KindStorage, "write off-chain frame length", err)
		}
		if _, err := w.Write(sealed); err != nil {
			return ledger.NewError(ledger.KindStorage, "write off-chain frame", err)
		}

		index++
		if final {
			break
		}
	}

	if err := w.Flush(); err != nil {
		return ledger.NewError(ledger.KindStorage, "flush off-chain file", err)
	}
	return nil
}

func (s *Store) readEncryptedFile(path string, gcm cipher.AEAD, baseIV []byte) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ledger.NewError(ledger.KindIntegrity, "off-chain file missing", err)
		}
		return nil, ledger.NewError(ledger.KindStorage, "open off-chain file", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var out []byte
	var index uint64
	sawFinal := false

	for {
		var lenBuf [4]byte
		_, err := io.ReadFull(r, lenBuf[:])
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ledger.NewError(ledger.KindIntegrity, "read off-chain frame length", err)
		}

		frameLen := binary.BigEndian.Uint32(lenBuf[:])
		sealed := make([]byte, frameLen)
		if _, err := io.ReadFull(r, sealed); err != nil {
			return nil, ledger.NewError(ledger.KindIntegrity, "truncated off-chain frame", err)
		}

		nonce := chunkNonce(baseIV, index)
		framed, err := gcm.Open(nil, nonce, sealed, nil)
		if err != nil {
			return nil, ledger.NewError(ledger.KindIntegrity, "off-chain frame authentication failed", err)
		}
		if len(framed) == 0 {
			return nil, ledger.NewError(ledger.KindIntegrity, "empty off-chain frame", nil)
		}

		marker, chunk := framed[0], framed[1:]
		out = append(out, chunk...)
		index++

		if marker == frameFinal {
			sawFinal = true
			break
		}
	}

	if !sawFinal {
		return nil, ledger.NewError(ledger.KindIntegrity, "off-chain file truncated before final frame", nil)
	}
	return out, nil
}

func chunkNonce(baseIV []byte, index uint64) []byte {
	nonce := make([]byte, len(baseIV))
	copy(nonce, baseIV)
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], index)
	for i := 0; i < 8 && i < len(nonce); i++ {
		nonce[len(nonce)-8+i] ^= ctr[i]
	}
	return nonce
}

func sniffContentType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	for _, b := range data[:min(len(data), 512)] {
		if b == 0 {
			return "application/octet-stream"
		}
	}
	return "text/plain; charset=utf-8"
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func rowToMeta(row *database.OffChainDataRow) *ledger.OffChainData {
	return &ledger.OffChainData{
		DataHash:        row.DataHash,
		Signature:       row.Signature,
		FilePath:        row.FilePath,
		FileSize:        row.FileSize,
		EncryptionIV:    row.EncryptionIV,
		CreatedAt:       row.CreatedAt,
		ContentType:     row.ContentType,
		SignerPublicKey: row.SignerPublicKey,
	}
}
