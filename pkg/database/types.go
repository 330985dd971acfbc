// Database Types for the ledger engine.
// These types map directly to the PostgreSQL schema defined under migrations/.

package database

import (
	"database/sql"
	"time"
)

// ============================================================================
// BLOCK TYPES
// ============================================================================

// BlockRow maps to: blocks.
type BlockRow struct {
	Number                 int64          `db:"number" json:"number"`
	PreviousHash           string         `db:"previous_hash" json:"previous_hash"`
	Timestamp              time.Time      `db:"timestamp" json:"timestamp"`
	Data                   string         `db:"data" json:"data"`
	Hash                   string         `db:"hash" json:"hash"`
	Signature              []byte         `db:"signature" json:"signature"`
	SignerPublicKey        string         `db:"signer_public_key" json:"signer_public_key"`
	OffChainDataHash       sql.NullString `db:"offchain_data_hash" json:"offchain_data_hash,omitempty"`
	EncryptionKDF          sql.NullString `db:"encryption_kdf" json:"encryption_kdf,omitempty"`
	EncryptionIterations   sql.NullInt64  `db:"encryption_iterations" json:"encryption_iterations,omitempty"`
	EncryptionSalt         []byte         `db:"encryption_salt" json:"encryption_salt,omitempty"`
	EncryptionIV           []byte         `db:"encryption_iv" json:"encryption_iv,omitempty"`
	EncryptionAAD          []byte         `db:"encryption_aad" json:"encryption_aad,omitempty"`
	SearchCategory         sql.NullString `db:"search_category" json:"search_category,omitempty"`
	CreatedAt              time.Time      `db:"created_at" json:"created_at"`
}

// NewBlock is the input DTO for inserting a block.
type NewBlock struct {
	Number             int64
	PreviousHash       string
	Timestamp          time.Time
	Data               string
	Hash               string
	Signature          []byte
	SignerPublicKey    string
	OffChainDataHash   string
	EncryptionKDF      string
	EncryptionIter     int
	EncryptionSalt     []byte
	EncryptionIV       []byte
	EncryptionAAD      []byte
	SearchCategory     string
}

// ============================================================================
// AUTHORIZED KEY TYPES
// ============================================================================

// AuthorizedKeyRow maps to: authorized_keys.
type AuthorizedKeyRow struct {
	ID        int64        `db:"id" json:"id"`
	PublicKey string       `db:"public_key" json:"public_key"`
	OwnerName string       `db:"owner_name" json:"owner_name"`
	IsActive  bool         `db:"is_active" json:"is_active"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	RevokedAt sql.NullTime `db:"revoked_at" json:"revoked_at,omitempty"`
}

// NewAuthorizedKey is the input DTO for authorizing a key.
type NewAuthorizedKey struct {
	PublicKey string
	OwnerName string
}

// RestoredAuthorizedKey is the input DTO for import_chain's authorization
// replay, which must preserve the original record's timestamps and active
// state rather than deriving them from the moment of import.
type RestoredAuthorizedKey struct {
	PublicKey string
	OwnerName string
	IsActive  bool
	CreatedAt time.Time
	RevokedAt *time.Time
}

// ============================================================================
// OFF-CHAIN DATA TYPES
// ============================================================================

// OffChainDataRow maps to: offchain_data.
type OffChainDataRow struct {
	DataHash        string    `db:"data_hash" json:"data_hash"`
	BlockNumber     int64     `db:"block_number" json:"block_number"`
	Signature       []byte    `db:"signature" json:"signature"`
	FilePath        string    `db:"file_path" json:"file_path"`
	FileSize        int64     `db:"file_size" json:"file_size"`
	EncryptionIV    []byte    `db:"encryption_iv" json:"encryption_iv"`
	ContentType     string    `db:"content_type" json:"content_type"`
	SignerPublicKey string    `db:"signer_public_key" json:"signer_public_key"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// NewOffChainData is the input DTO for recording an off-chain file.
type NewOffChainData struct {
	DataHash        string
	BlockNumber     int64
	Signature       []byte
	FilePath        string
	FileSize        int64
	EncryptionIV    []byte
	ContentType     string
	SignerPublicKey string
}

// ============================================================================
// SEARCH INDEX TYPES
// ============================================================================

// IndexEntryRow maps to: index_entries.
type IndexEntryRow struct {
	BlockHash        string    `db:"block_hash" json:"block_hash"`
	BlockNumber      int64     `db:"block_number" json:"block_number"`
	PublicTerms      string    `db:"public_terms" json:"public_terms"` // JSON array, as text
	PublicCategory   string    `db:"public_category" json:"public_category"`
	PublicBucketTime time.Time `db:"public_bucket_time" json:"public_bucket_time"`
	PrivateCipher    []byte    `db:"private_ciphertext" json:"private_ciphertext"`
	PrivateIV        []byte    `db:"private_iv" json:"private_iv"`
	PrivateSalt      []byte    `db:"private_salt" json:"private_salt"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// NewIndexEntry is the input DTO for indexing a block.
type NewIndexEntry struct {
	BlockHash        string
	BlockNumber      int64
	PublicTerms      string
	PublicCategory   string
	PublicBucketTime time.Time
	PrivateCipher    []byte
	PrivateIV        []byte
	PrivateSalt      []byte
}

// ============================================================================
// INDEX CLAIM TYPES (indexing-protection map)
// ============================================================================

// IndexClaimRow maps to: index_claims — a put-if-absent reservation, keyed
// by block_hash, that the block-append pipeline uses to guarantee a given
// block is indexed by exactly one worker even under concurrent appends.
type IndexClaimRow struct {
	BlockHash   string    `db:"block_hash" json:"block_hash"`
	BlockNumber int64     `db:"block_number" json:"block_number"`
	ClaimedAt   time.Time `db:"claimed_at" json:"claimed_at"`
}
