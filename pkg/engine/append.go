package engine

import (
	"context"
	"crypto/ecdsa"
	"encoding/base64"

	"github.com/coreledger/privledger/pkg/cryptoprim"
	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
	"github.com/coreledger/privledger/pkg/searchindex"
)

// AppendOptions carries the caller-supplied, optional inputs to Append
// (spec §4.6).
type AppendOptions struct {
	ManualTerms    []string
	TermVisibility ledger.TermVisibilityMap
	Category       string
	IndexOwner     string
	IndexSnippet   string
	IndexPassword  string

	EncryptOnChain bool
	Password       string

	ForceOffChain bool
}

// Append runs the eleven-step block append pipeline (spec §4.6) under the
// engine's exclusive write lock.
func (e *Engine) Append(ctx context.Context, data string, signerPriv *ecdsa.PrivateKey, signerPublicKey string, opts AppendOptions) (*ledger.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Step 1: precondition checks.
	if signerPriv == nil || signerPublicKey == "" {
		return nil, ledger.NewError(ledger.KindInvalidInput, "signer key pair is required", nil)
	}
	active, err := e.keys.IsKeyActiveNow(ctx, signerPublicKey)
	if err != nil {
		return nil, err
	}
	if !active {
		return nil, ledger.NewError(ledger.KindUnauthorized, "signer is not currently authorized", ledger.ErrUnauthorizedSigner)
	}
	if opts.EncryptOnChain {
		if err := cryptoprim.ValidatePasswordStrength(opts.Password); err != nil {
			return nil, err
		}
	}

	byteLen := int64(len(data))
	charLen := len([]rune(data))

	// Step 2: storage routing.
	goOffChain := opts.ForceOffChain || (byteLen >= e.cfg.OffChainThresholdBytes && byteLen <= e.cfg.OffChainMaxBytes)
	if !goOffChain {
		if byteLen > e.cfg.OnChainMaxBytes && byteLen > e.cfg.OffChainMaxBytes {
			return nil, ledger.NewError(ledger.KindInvalidInput, "payload exceeds configured size limits", ledger.ErrPayloadTooLarge)
		}
		if byteLen > e.cfg.OnChainMaxBytes || charLen > e.cfg.OnChainMaxChars {
			// Too big for an on-chain field but within the off-chain ceiling:
			// the routing decision above only offered off-chain storage when
			// the caller's own threshold permits it, so surface the mismatch
			// explicitly rather than silently truncating.
			return nil, ledger.NewError(ledger.KindInvalidInput, "payload exceeds on-chain size limits; lower off_chain_threshold or set force_off_chain", ledger.ErrPayloadTooLarge)
		}
	}

	newBlock := &database.NewBlock{Data: data}
	var offMeta *ledger.OffChainData
	var createdOffChainFile bool

	// Step 5/6 numbering+linking happen below while the exclusive write lock
	// is held, so the previous-hash read is consistent with the number
	// allocation even though that read does not go through the transaction.
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "begin append transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
			if createdOffChainFile && offMeta != nil {
				_ = e.offchain.Delete(offMeta)
			}
		}
	}()

	number, err := e.seq.Next(ctx, tx)
	if err != nil {
		return nil, err
	}

	prev, err := e.repos.Blocks.Latest(ctx)
	previousHash := ledger.GenesisPreviousHash
	if err == nil {
		previousHash = prev.Hash
	} else if err != database.ErrBlockNotFound {
		return nil, ledger.NewError(ledger.KindStorage, "read latest block", err)
	}

	// Step 3: off-chain branch.
	if goOffChain {
		offMeta, err = e.offchain.Store(ctx, tx, []byte(data), signerPriv, signerPublicKey, number, "")
		if err != nil {
			return nil, err
		}
		createdOffChainFile = true
		newBlock.Data = ledger.OffChainRefPrefix + offMeta.DataHash
		newBlock.OffChainDataHash = offMeta.DataHash
	} else if opts.EncryptOnChain {
		// Step 4: on-chain encryption branch.
		env, ciphertext, err := cryptoprim.NewEncryptionEnvelope(opts.Password, []byte(data), nil)
		if err != nil {
			return nil, err
		}
		newBlock.Data = base64.StdEncoding.EncodeToString(ciphertext)
		newBlock.EncryptionKDF = env.KDF
		newBlock.EncryptionIter = env.Iterations
		newBlock.EncryptionSalt = env.Salt
		newBlock.EncryptionIV = env.IV
		newBlock.EncryptionAAD = env.AAD
	}

	timestamp := e.clock.Now()

	// Step 7: hashing.
	canonical := ledger.CanonicalBytes(uint64(number), previousHash, timestamp, newBlock.Data, signerPublicKey)
	hash := cryptoprim.HashHex(canonical)

	// Step 8: signing.
	signature, err := cryptoprim.Sign(signerPriv, []byte(hash))
	if err != nil {
		return nil, err
	}

	newBlock.Number = number
	newBlock.PreviousHash = previousHash
	newBlock.Timestamp = timestamp
	newBlock.Hash = hash
	newBlock.Signature = signature
	newBlock.SignerPublicKey = signerPublicKey
	newBlock.SearchCategory = opts.Category

	// Step 9: persistence — block row.
	row, err := e.repos.Blocks.Insert(ctx, tx, newBlock)
	if err != nil {
		return nil, err
	}

	// Step 10: index reservation, then the index entry itself.
	indexPassword := opts.IndexPassword
	if indexPassword == "" {
		indexPassword = opts.Password
	}
	_, err = e.index.Index(ctx, tx, searchindex.Entry{
		BlockHash:   hash,
		BlockNumber: number,
		Data:        data,
		ManualTerms: opts.ManualTerms,
		Visibility:  opts.TermVisibility,
		Category:    opts.Category,
		Timestamp:   timestamp,
		Owner:       opts.IndexOwner,
		Snippet:     opts.IndexSnippet,
		Password:    indexPassword,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "commit append transaction", err)
	}
	committed = true

	// Step 11: return.
	block := rowToBlock(row)
	block.OffChainRef = offMeta
	if newBlock.EncryptionKDF != "" {
		block.EncryptionMetadata = &ledger.EncryptionEnvelope{
			KDF:        newBlock.EncryptionKDF,
			Iterations: newBlock.EncryptionIter,
			Salt:       newBlock.EncryptionSalt,
			IV:         newBlock.EncryptionIV,
			AAD:        newBlock.EncryptionAAD,
		}
	}
	if opts.Category != "" {
		block.SearchMetadata = &ledger.SearchMetadata{Category: opts.Category}
	}
	return block, nil
}

func rowToBlock(row *database.BlockRow) *ledger.Block {
	b := &ledger.Block{
		Number:          uint64(row.Number),
		PreviousHash:    row.PreviousHash,
		Timestamp:       row.Timestamp,
		Data:            row.Data,
		Hash:            row.Hash,
		Signature:       row.Signature,
		SignerPublicKey: row.SignerPublicKey,
	}
	return b
}
