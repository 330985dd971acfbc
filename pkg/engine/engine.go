// Package engine composes C1-C5 into the block append pipeline (C6), chain
// validator (C7), and chain mutator (C8): the three public operations that
// sit behind the ledger's single process-wide write lock.
package engine

import (
	"context"
	"sync"

	"github.com/coreledger/privledger/pkg/authkeys"
	"github.com/coreledger/privledger/pkg/blockseq"
	"github.com/coreledger/privledger/pkg/config"
	"github.com/coreledger/privledger/pkg/cryptoprim"
	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
	"github.com/coreledger/privledger/pkg/offchain"
	"github.com/coreledger/privledger/pkg/searchindex"
)

// Engine is the ledger's single entry point. Every mutating operation
// (Append, RollbackBlocks, RollbackToBlock, ImportChain,
// ClearAndReinitialize) holds mu exclusively; every read-only operation
// (Validate, ExportChain, ExportEncryptedChain) holds it for shared reads, mirroring the
// teacher's convention of localizing process-wide state inside one
// instance-owned lock rather than a package-level global (spec §9 "Global
// mutable state").
type Engine struct {
	mu sync.RWMutex

	db       *database.Client
	repos    *database.Repositories
	keys     *authkeys.Store
	seq      *blockseq.Sequence
	offchain *offchain.Store
	index    *searchindex.Store
	cfg      *config.Config
	clock    ledger.Clock

	sweeper *Sweeper
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithClock overrides the Engine's time source (default: ledger.SystemClock).
func WithClock(clock ledger.Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// New builds an Engine over an already-migrated database client and an
// off-chain directory rooted at cfg.OffChainDir.
func New(db *database.Client, cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, ledger.NewError(ledger.KindInvalidInput, "invalid engine configuration", err)
	}

	repos := database.NewRepositories(db)
	offStore, err := offchain.New(cfg.OffChainDir, repos.OffChain)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		db:       db,
		repos:    repos,
		keys:     authkeys.New(repos.AuthorizedKeys),
		seq:      blockseq.New(repos.Sequence),
		offchain: offStore,
		index:    searchindex.New(repos.Index),
		cfg:      cfg,
		clock:    ledger.SystemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Keys exposes the authorization store (C2) for direct key management
// outside the append/validate/mutate surface.
func (e *Engine) Keys() *authkeys.Store { return e.keys }

// Bootstrap creates the genesis block if the chain is currently empty
// (spec §4.6 "genesis bootstrap"). It is idempotent: calling it against an
// already-initialized chain is a no-op.
func (e *Engine) Bootstrap(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.seq.EnsureInitialized(ctx); err != nil {
		return err
	}

	count, err := e.repos.Blocks.Count(ctx)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "count blocks", err)
	}
	if count > 0 {
		return nil
	}

	now := e.clock.Now()
	canonical := ledger.CanonicalBytes(uint64(blockseq.GenesisNumber), ledger.GenesisPreviousHash, now, "", ledger.GenesisSignerPublicKey)

	_, err = e.repos.Blocks.Insert(ctx, nil, &database.NewBlock{
		Number:          int64(blockseq.GenesisNumber),
		PreviousHash:    ledger.GenesisPreviousHash,
		Timestamp:       now,
		Data:            "",
		Hash:            cryptoprim.HashHex(canonical),
		Signature:       []byte(ledger.GenesisSignature),
		SignerPublicKey: ledger.GenesisSignerPublicKey,
	})
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "insert genesis block", err)
	}
	return nil
}
