package ledger

import (
	"encoding/binary"
	"time"
)

// CanonicalBytes produces the deterministic byte encoding of a block's
// number, previous hash, timestamp, data, and signer public key — the input
// to both hashing (spec §3 invariant 3) and signing (spec §4.6 step 8).
//
// The encoding is length-prefixed per field so that no ambiguity can arise
// from concatenating variable-length strings (e.g. an empty Data field
// followed by a long SignerPublicKey must hash differently from the reverse
// split).
func CanonicalBytes(number uint64, previousHash string, timestamp time.Time, data string, signerPublicKey string) []byte {
	buf := make([]byte, 0, 8+8+len(previousHash)+8+len(data)+len(signerPublicKey)+32)

	var numBuf [8]byte
	binary.BigEndian.PutUint64(numBuf[:], number)
	buf = append(buf, numBuf[:]...)

	buf = appendLengthPrefixed(buf, []byte(previousHash))

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(timestamp.UTC().UnixNano()))
	buf = append(buf, tsBuf[:]...)

	buf = appendLengthPrefixed(buf, []byte(data))
	buf = appendLengthPrefixed(buf, []byte(signerPublicKey))

	return buf
}

func appendLengthPrefixed(buf, field []byte) []byte {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(field)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, field...)
	return buf
}

// CanonicalBytesForBlock is a convenience wrapper over CanonicalBytes for an
// already-constructed Block.
func CanonicalBytesForBlock(b *Block) []byte {
	return CanonicalBytes(b.Number, b.PreviousHash, b.Timestamp, b.Data, b.SignerPublicKey)
}
