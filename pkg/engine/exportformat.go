package engine

import "time"

// ExportFormatVersion is the only export document version this engine
// produces or accepts (spec §6).
const ExportFormatVersion = "2.0"

// EncryptionBundleVersion versions the nested encryption_data document
// independently of the outer export format.
const EncryptionBundleVersion = "1.0"

// offChainBackupDirName is the sibling directory holding copies of every
// off-chain file referenced by an export (spec §4.8 export_chain).
const offChainBackupDirName = "off-chain-backup"

// exportDocument is the on-disk shape of an export file (spec §6).
type exportDocument struct {
	Version          string                `json:"version"`
	HasEncryptedData bool                  `json:"has_encrypted_data"`
	ExportTimestamp  time.Time             `json:"export_timestamp"`
	TotalBlocks      uint64                `json:"total_blocks"`
	Blocks           []exportBlock         `json:"blocks"`
	AuthorizedKeys   []exportAuthorizedKey `json:"authorized_keys"`
	EncryptionData   *exportEncryptionData `json:"encryption_data,omitempty"`
}

// exportBlock carries every field needed to reinsert a block bit-exact
// (spec §8 property 9: export then import round-trips every block field).
type exportBlock struct {
	Number             int64                     `json:"block_number"`
	PreviousHash       string                    `json:"previous_hash"`
	Timestamp          time.Time                 `json:"timestamp"`
	Data               string                    `json:"data"`
	Hash               string                    `json:"hash"`
	Signature          []byte                    `json:"signature"`
	SignerPublicKey    string                    `json:"signer_public_key"`
	SearchCategory     string                    `json:"search_category,omitempty"`
	EncryptionMetadata *exportEncryptionEnvelope `json:"encryption_metadata,omitempty"`
	OffChainRef        *exportOffChainRef        `json:"off_chain_ref,omitempty"`
}

type exportEncryptionEnvelope struct {
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
	IV         []byte `json:"iv"`
	AAD        []byte `json:"aad,omitempty"`
}

// exportOffChainRef points at a file under the sibling off-chain-backup/
// directory rather than embedding file bytes in the JSON document itself.
type exportOffChainRef struct {
	DataHash        string    `json:"data_hash"`
	Signature       []byte    `json:"signature"`
	BackupFileName  string    `json:"backup_file_name"`
	FileSize        int64     `json:"file_size"`
	EncryptionIV    []byte    `json:"encryption_iv"`
	ContentType     string    `json:"content_type"`
	SignerPublicKey string    `json:"signer_public_key"`
	CreatedAt       time.Time `json:"created_at"`
}

// exportAuthorizedKey is one row of the full authorization history,
// including revoked records (spec §4.8 export_chain).
type exportAuthorizedKey struct {
	PublicKey string     `json:"public_key"`
	OwnerName string     `json:"owner_name"`
	IsActive  bool       `json:"is_active"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

// exportEncryptionData is present iff HasEncryptedData, carrying the
// ingredients a later import needs to decrypt (spec §6). MasterPasswordSeal
// is not the password itself: it is a password-derived AEAD seal over a
// fixed verification string, letting import_chain confirm a supplied
// password is correct before touching any live state.
//
// OffChainSeeds and BlockEncryptionRefs are recorded for documentation
// fidelity with the field names spec.md's export format names
// ("off_chain_passwords", "block_encryption_keys") even though, in this
// engine, off-chain keys are deterministically derived from (block number,
// signer public key) rather than stored passwords, and on-chain encryption
// keys are derived from the block's own stored salt — so both maps hold
// descriptive references, not secrets, and import does not need to consume
// them to decrypt anything. UserEncryptionKeys has no use in this design
// (no per-context user key material exists outside a block's own envelope)
// and is always empty; it is kept so the document shape matches spec.md's
// schema exactly.
type exportEncryptionData struct {
	Version             string            `json:"version"`
	MasterPasswordSeal  string            `json:"master_password"`
	OffChainSeeds       map[string]string `json:"off_chain_passwords"`
	BlockEncryptionRefs map[string]string `json:"block_encryption_keys"`
	UserEncryptionKeys  map[string]string `json:"user_encryption_keys"`
}
