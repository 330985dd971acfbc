// Package database provides sentinel errors for repository operations.
// Explicit errors instead of nil, nil returns.

package database

import "errors"

// Sentinel errors for database operations. Repository methods return these
// (or the typed *ledger.Error where one already exists higher up) instead of
// surfacing raw sql.ErrNoRows to callers.
var (
	// ErrNotFound is returned when a requested entity is not found in the database.
	ErrNotFound = errors.New("entity not found")

	// ErrBlockNotFound is returned when a block row is not found.
	ErrBlockNotFound = errors.New("block not found")

	// ErrKeyNotFound is returned when an authorized-key row is not found.
	ErrKeyNotFound = errors.New("authorized key not found")

	// ErrOffChainNotFound is returned when an off-chain metadata row is not found.
	ErrOffChainNotFound = errors.New("off-chain metadata not found")

	// ErrIndexEntryNotFound is returned when a search index row is not found.
	ErrIndexEntryNotFound = errors.New("index entry not found")

	// ErrSequenceNotFound is returned when the block-sequence counter row is missing.
	ErrSequenceNotFound = errors.New("block sequence row not found")
)
