package ledger

import "time"

// GenesisPreviousHash is the sentinel previous-hash for block 0: 64 zero
// characters (a hex SHA3-256 digest can never be all zero in practice, so
// this is unambiguous).
const GenesisPreviousHash = "0000000000000000000000000000000000000000000000000000000000000000"

// GenesisSignerPublicKey and GenesisSignature are the fixed sentinel values
// stamped on the genesis block, which bypasses signature/authorization
// checks (spec §3 invariant 7).
const (
	GenesisSignerPublicKey = "GENESIS"
	GenesisSignature       = "GENESIS"
)

// OffChainRefPrefix marks a block's Data field as a pointer to off-chain
// storage rather than an inline payload: "OFF_CHAIN_REF:<hash>".
const OffChainRefPrefix = "OFF_CHAIN_REF:"

// ====== Block ======

// Block is the canonical on-ledger record (spec §3).
type Block struct {
	Number             uint64
	PreviousHash       string
	Timestamp          time.Time
	Data               string
	Hash               string
	Signature          []byte
	SignerPublicKey    string
	OffChainRef        *OffChainData
	EncryptionMetadata *EncryptionEnvelope
	SearchMetadata     *SearchMetadata
}

// IsGenesis reports whether this is block 0.
func (b *Block) IsGenesis() bool { return b.Number == 0 }

// EncryptionEnvelope holds the parameters needed to reproduce decryption of
// an on-chain-encrypted block payload (spec §4.1/§9 Open Question 3).
type EncryptionEnvelope struct {
	KDF        string // e.g. "pbkdf2-hmac-sha3-256"
	Iterations int
	Salt       []byte // 128-bit random salt
	IV         []byte // 96-bit random GCM nonce
	AAD        []byte // optional associated data
}

// SearchMetadata is the per-block search index linkage (spec §3).
type SearchMetadata struct {
	Category string
}

// ====== AuthorizedKey ======

// AuthorizedKey is one authorization record. Multiple records may share the
// same PublicKey over time; the authorization timeline is the union of
// [CreatedAt, RevokedAt) intervals for that key (spec §3).
type AuthorizedKey struct {
	ID        int64
	PublicKey string
	OwnerName string
	IsActive  bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// ActiveAt reports whether this record's authorization interval covers t.
func (k *AuthorizedKey) ActiveAt(t time.Time) bool {
	if k.CreatedAt.After(t) {
		return false
	}
	if k.RevokedAt != nil && !k.RevokedAt.After(t) {
		return false
	}
	return true
}

// DeletionImpact is returned by analyze_deletion_impact (spec §4.2).
type DeletionImpact struct {
	Exists             bool
	SafeToDelete       bool
	AffectedBlockCount int
	SevereImpact       bool
}

// ====== OffChainData ======

// OffChainData is the metadata for one encrypted off-chain file (spec §3).
type OffChainData struct {
	DataHash        string
	Signature       []byte
	FilePath        string
	FileSize        int64
	EncryptionIV    []byte
	CreatedAt       time.Time
	ContentType     string
	SignerPublicKey string
}

// ====== Index entry ======

// TermVisibility classifies a manually supplied search term as PUBLIC
// (indexed in clear) or PRIVATE (encrypted into the private layer).
type TermVisibility string

const (
	VisibilityPublic  TermVisibility = "public"
	VisibilityPrivate TermVisibility = "private"
)

// TermVisibilityMap expresses, compactly, how a block's terms split across
// the two index layers: a default visibility plus per-term overrides.
type TermVisibilityMap struct {
	Default   TermVisibility
	Overrides map[string]TermVisibility
}

// VisibilityOf resolves a term's effective visibility.
func (m TermVisibilityMap) VisibilityOf(term string) TermVisibility {
	if m.Overrides != nil {
		if v, ok := m.Overrides[term]; ok {
			return v
		}
	}
	if m.Default == "" {
		return VisibilityPublic
	}
	return m.Default
}

// PublicLayer is the plaintext half of a block's index entry.
type PublicLayer struct {
	Terms         []string
	Category      string
	BucketedTime  time.Time // coarse (e.g. truncated to the hour) timestamp
}

// PrivateLayer is the encrypted half of a block's index entry. Ciphertext is
// AES-GCM over the serialized PrivatePayload; IV/tag are stored alongside.
type PrivateLayer struct {
	Ciphertext []byte
	IV         []byte
}

// PrivatePayload is what PrivateLayer.Ciphertext decrypts to.
type PrivatePayload struct {
	Terms     []string
	Timestamp time.Time
	Owner     string
	Snippet   string
}

// IndexEntry is the full, logically two-layer, per-block index record.
type IndexEntry struct {
	BlockHash string
	BlockNum  uint64
	Public    PublicLayer
	Private   PrivateLayer
}
