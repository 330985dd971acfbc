package engine

import (
	"context"
	"math"
	"os"

	"github.com/coreledger/privledger/pkg/blockseq"
	"github.com/coreledger/privledger/pkg/ledger"
)

// RollbackBlocks removes the last n blocks (spec §4.8 rollback_blocks): for
// each removed block, its off-chain file and index entry are deleted, then
// the block row. The sequence counter is never decremented. Genesis is
// protected.
func (e *Engine) RollbackBlocks(ctx context.Context, n int64) error {
	if n <= 0 {
		return ledger.NewError(ledger.KindInvalidInput, "rollback count must be positive", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	count, err := e.repos.Blocks.Count(ctx)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "count blocks", err)
	}
	// count includes genesis, which never counts toward n.
	nonGenesis := count - 1
	if n > nonGenesis {
		return ledger.NewError(ledger.KindInvalidInput, "rollback count exceeds non-genesis chain length", ledger.ErrRollbackTooLarge)
	}

	from := count - n
	return e.rollbackFrom(ctx, from)
}

// RollbackToBlock removes every block with number > m (spec §4.8
// rollback_to_block).
func (e *Engine) RollbackToBlock(ctx context.Context, m int64) error {
	if m < int64(blockseq.GenesisNumber) {
		return ledger.NewError(ledger.KindInvalidInput, "target block number cannot be negative", nil)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.rollbackFrom(ctx, m+1)
}

// rollbackFrom deletes every block numbered >= from and sweeps the
// off-chain files and index entries that went with them, then cleans up any
// stragglers left by a prior failed append. Callers must hold e.mu.
func (e *Engine) rollbackFrom(ctx context.Context, from int64) error {
	if from <= int64(blockseq.GenesisNumber) {
		return ledger.NewError(ledger.KindInvalidInput, "genesis block cannot be removed", ledger.ErrGenesisProtected)
	}

	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "begin rollback transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	orphaned, err := e.repos.OffChain.DeleteFromBlock(ctx, tx, from)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "delete off-chain rows", err)
	}
	if err := e.repos.Index.DeleteFromBlock(ctx, tx, from); err != nil {
		return ledger.NewError(ledger.KindStorage, "delete index entries", err)
	}
	if _, err := e.repos.Blocks.DeleteFrom(ctx, tx, from); err != nil {
		return ledger.NewError(ledger.KindStorage, "delete block rows", err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.NewError(ledger.KindStorage, "commit rollback transaction", err)
	}
	committed = true

	for _, row := range orphaned {
		_ = e.offchain.Delete(rowToOffChainData(row))
	}
	e.sweepOrphans(ctx)
	return nil
}

// ClearAndReinitialize deletes all off-chain files and clears the block,
// authorization, and sequence tables, then re-creates the genesis block
// (spec §4.8 clear_and_reinitialize). Destructive; protected by the
// exclusive write lock.
func (e *Engine) ClearAndReinitialize(ctx context.Context) error {
	e.mu.Lock()
	if err := e.clearTablesLocked(ctx); err != nil {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()
	return e.Bootstrap(ctx)
}

// clearTablesLocked wipes every block, off-chain, index, and authorization
// record and rewinds the sequence counter back to FirstAssignedNumber,
// without re-creating genesis. It is the shared core of
// ClearAndReinitialize and import_chain's pre-replay wipe (spec §4.8):
// import_chain runs this while already holding e.mu, so it cannot call
// ClearAndReinitialize directly without deadlocking on the non-reentrant
// lock. Callers must hold e.mu.
func (e *Engine) clearTablesLocked(ctx context.Context) error {
	tx, err := e.db.BeginTx(ctx)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "begin reinitialize transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := e.repos.OffChain.DeleteFromBlock(ctx, tx, int64(blockseq.GenesisNumber)); err != nil {
		return ledger.NewError(ledger.KindStorage, "clear off-chain rows", err)
	}
	if err := e.repos.Index.DeleteFromBlock(ctx, tx, int64(blockseq.GenesisNumber)); err != nil {
		return ledger.NewError(ledger.KindStorage, "clear index entries", err)
	}
	if _, err := e.repos.Blocks.DeleteFrom(ctx, tx, int64(blockseq.GenesisNumber)); err != nil {
		return ledger.NewError(ledger.KindStorage, "clear block rows", err)
	}
	allKeys, err := e.repos.AuthorizedKeys.ListAllDistinctKeys(ctx)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "list authorized keys", err)
	}
	for _, publicKey := range allKeys {
		if _, err := e.repos.AuthorizedKeys.DeleteAll(ctx, publicKey); err != nil {
			return ledger.NewError(ledger.KindStorage, "clear authorized keys", err)
		}
	}
	if err := e.seq.ResetForGenesisOnly(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return ledger.NewError(ledger.KindStorage, "commit reinitialize transaction", err)
	}
	committed = true

	entries, _ := os.ReadDir(e.cfg.OffChainDir)
	for _, entry := range entries {
		if !entry.IsDir() {
			_ = os.Remove(e.cfg.OffChainDir + string(os.PathSeparator) + entry.Name())
		}
	}
	return nil
}

// sweepOrphans removes off-chain files that have no corresponding block row,
// tolerating errors since this is best-effort cleanup (spec §4.4/§4.8).
func (e *Engine) sweepOrphans(ctx context.Context) {
	candidates, err := e.repos.OffChain.ListOrphanCandidates(ctx)
	if err != nil {
		return
	}
	for _, c := range candidates {
		_ = e.offchain.Delete(rowToOffChainData(c))
		_ = e.repos.OffChain.DeleteByHash(ctx, c.DataHash)
	}
	// Only files referenced by a surviving block's off-chain row are kept;
	// any lookup failure aborts the sweep rather than deleting blindly.
	blocks, err := e.repos.Blocks.RangeScan(ctx, int64(blockseq.GenesisNumber), math.MaxInt64)
	if err != nil {
		return
	}
	valid := make(map[string]bool)
	for _, b := range blocks {
		if !b.OffChainDataHash.Valid {
			continue
		}
		meta, err := e.repos.OffChain.GetByHash(ctx, b.OffChainDataHash.String)
		if err != nil {
			return
		}
		valid[meta.FilePath] = true
	}
	_, _ = e.offchain.CleanupOrphans(valid)
}
