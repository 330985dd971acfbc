package engine

import (
	"context"
	"fmt"

	"github.com/coreledger/privledger/pkg/blockseq"
	"github.com/coreledger/privledger/pkg/cryptoprim"
	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
)

// InvalidBlock records one structural-integrity failure.
type InvalidBlock struct {
	Number int64
	Reason string
}

// RevokedBlock records one authorization-compliance failure.
type RevokedBlock struct {
	Number          int64
	SignerPublicKey string
}

// ValidationResult is the two-dimensional outcome of Validate (spec §4.7).
type ValidationResult struct {
	IsStructurallyIntact bool
	IsFullyCompliant     bool
	InvalidBlocks        []InvalidBlock
	RevokedBlocks        []RevokedBlock
	ReportText           string
}

// Validate walks the whole chain in configurable batches, checking
// structural integrity and authorization compliance independently for every
// non-genesis block. It is read-only and holds the lock for shared reads
// only, so it may run alongside other readers (spec §4.7, §5).
func (e *Engine) Validate(ctx context.Context) (*ValidationResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.validateLocked(ctx)
}

// validateLocked is Validate's core logic without its own lock acquisition,
// so mutators that already hold the exclusive lock (import_chain's
// post-import self-check, spec §4.8 step 8) can run it without deadlocking
// against the non-reentrant sync.RWMutex.
func (e *Engine) validateLocked(ctx context.Context) (*ValidationResult, error) {
	count, err := e.repos.Blocks.Count(ctx)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "count blocks", err)
	}
	if count == 0 {
		return &ValidationResult{IsStructurallyIntact: true, IsFullyCompliant: true, ReportText: "chain is empty"}, nil
	}

	result := &ValidationResult{IsStructurallyIntact: true, IsFullyCompliant: true}
	batchSize := int64(e.cfg.ValidationBatchSize)
	if batchSize < 1 {
		batchSize = 1
	}

	var previous *database.BlockRow
	for from := int64(0); from < count; from += batchSize {
		to := from + batchSize - 1
		batch, err := e.repos.Blocks.RangeScan(ctx, from, to)
		if err != nil {
			return nil, ledger.NewError(ledger.KindStorage, "scan block batch", err)
		}
		for _, b := range batch {
			e.validateOne(ctx, b, previous, result)
			previous = b
		}
	}

	// A structurally broken chain can never count as fully compliant —
	// compliance assumes the links and signatures it's built on are already
	// trusted.
	result.IsFullyCompliant = result.IsFullyCompliant && result.IsStructurallyIntact

	result.ReportText = summarize(result, count)
	return result, nil
}

func (e *Engine) validateOne(ctx context.Context, b, previous *database.BlockRow, result *ValidationResult) {
	if b.Number == int64(blockseq.GenesisNumber) {
		if !isValidGenesis(b) {
			result.IsStructurallyIntact = false
			result.InvalidBlocks = append(result.InvalidBlocks, InvalidBlock{Number: b.Number, Reason: "genesis block does not match expected sentinel content"})
		}
		return
	}

	reasons := e.structuralReasons(ctx, b, previous)
	if len(reasons) > 0 {
		result.IsStructurallyIntact = false
		for _, r := range reasons {
			result.InvalidBlocks = append(result.InvalidBlocks, InvalidBlock{Number: b.Number, Reason: r})
		}
	}

	compliant, err := e.keys.WasKeyAuthorizedAt(ctx, b.SignerPublicKey, b.Timestamp)
	if err != nil || !compliant {
		result.IsFullyCompliant = false
		result.RevokedBlocks = append(result.RevokedBlocks, RevokedBlock{Number: b.Number, SignerPublicKey: b.SignerPublicKey})
	}
}

func (e *Engine) structuralReasons(ctx context.Context, b, previous *database.BlockRow) []string {
	var reasons []string

	if previous != nil && b.PreviousHash != previous.Hash {
		reasons = append(reasons, "previous_hash does not match predecessor's hash")
	}

	canonical := ledger.CanonicalBytes(uint64(b.Number), b.PreviousHash, b.Timestamp, b.Data, b.SignerPublicKey)
	if b.Hash != cryptoprim.HashHex(canonical) {
		reasons = append(reasons, "hash does not match canonical encoding")
	}

	pub, err := cryptoprim.DecodePublicKey(b.SignerPublicKey)
	if err != nil {
		reasons = append(reasons, "signer public key is malformed")
	} else if !cryptoprim.Verify(pub, []byte(b.Hash), b.Signature) {
		reasons = append(reasons, "signature does not verify")
	}

	if b.OffChainDataHash.Valid {
		meta, err := e.repos.OffChain.GetByHash(ctx, b.OffChainDataHash.String)
		if err != nil {
			reasons = append(reasons, "off-chain metadata missing")
		} else {
			ok, err := e.offchain.Verify(rowToOffChainData(meta), b.Number, b.SignerPublicKey, pub)
			if err != nil || !ok {
				reasons = append(reasons, "off-chain data failed verification")
			}
		}
	}

	if b.EncryptionKDF.Valid {
		if len(b.EncryptionSalt) != cryptoprim.KDFSaltSizeBytes || len(b.EncryptionIV) != cryptoprim.GCMIVSizeBytes {
			reasons = append(reasons, "on-chain encryption envelope is malformed")
		}
	}

	return reasons
}

func isValidGenesis(b *database.BlockRow) bool {
	return b.PreviousHash == ledger.GenesisPreviousHash &&
		b.Data == "" &&
		b.SignerPublicKey == ledger.GenesisSignerPublicKey &&
		string(b.Signature) == ledger.GenesisSignature
}

func rowToOffChainData(row *database.OffChainDataRow) *ledger.OffChainData {
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

func summarize(r *ValidationResult, total int64) string {
	if !r.IsStructurallyIntact {
		return fmt.Sprintf("chain of %d blocks has %d structural failure(s) and %d compliance failure(s)", total, len(r.InvalidBlocks), len(r.RevokedBlocks))
	}
	if !r.IsFullyCompliant {
		return fmt.Sprintf("chain of %d blocks is structurally intact with %d compliance failure(s)", total, len(r.RevokedBlocks))
	}
	return fmt.Sprintf("chain of %d blocks is structurally intact and fully compliant", total)
}
