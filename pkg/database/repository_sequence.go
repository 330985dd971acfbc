// Sequence Repository - atomic block-number allocation (C3).

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// SequenceRepository hands out the next block number under row-level
// locking so concurrent appenders never observe the same number twice.
type SequenceRepository struct {
	client *Client
}

// NewSequenceRepository creates a new sequence repository.
func NewSequenceRepository(client *Client) *SequenceRepository {
	return &SequenceRepository{client: client}
}

// EnsureInitialized creates the singleton counter row if it does not exist,
// seeded at start (the number of the next block to be appended).
func (r *SequenceRepository) EnsureInitialized(ctx context.Context, start int64) error {
	query := `
		INSERT INTO block_sequence (id, next_number)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.client.ExecContext(ctx, query, start)
	if err != nil {
		return fmt.Errorf("failed to initialize block sequence: %w", err)
	}
	return nil
}

// Next atomically increments and returns the next block number. Callers
// must run this inside the same transaction as the block insert that
// consumes it, or hold the engine's write lock, to preserve monotonicity.
func (r *SequenceRepository) Next(ctx context.Context, tx *Tx) (int64, error) {
	query := `
		UPDATE block_sequence
		SET next_number = next_number + 1
		WHERE id = 1
		RETURNING next_number - 1`

	var n int64
	var err error
	if tx != nil {
		err = tx.Tx().QueryRowContext(ctx, query).Scan(&n)
	} else {
		err = r.client.QueryRowContext(ctx, query).Scan(&n)
	}
	if err == sql.ErrNoRows {
		return 0, ErrSequenceNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to allocate next block number: %w", err)
	}
	return n, nil
}

// Peek reads the next number that would be allocated without consuming it.
func (r *SequenceRepository) Peek(ctx context.Context) (int64, error) {
	query := `SELECT next_number FROM block_sequence WHERE id = 1`

	var n int64
	err := r.client.QueryRowContext(ctx, query).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, ErrSequenceNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read block sequence: %w", err)
	}
	return n, nil
}

// Reset forces the counter to a specific value — used when the whole chain
// is wiped (ClearAndReinitialize and the import pre-replay wipe) and when an
// import resyncs the counter after replay. Rollbacks never call it.
func (r *SequenceRepository) Reset(ctx context.Context, tx *Tx, next int64) error {
	query := `UPDATE block_sequence SET next_number = $1 WHERE id = 1`

	var err error
	if tx != nil {
		_, err = tx.Tx().ExecContext(ctx, query, next)
	} else {
		_, err = r.client.ExecContext(ctx, query, next)
	}
	if err != nil {
		return fmt.Errorf("failed to reset block sequence: %w", err)
	}
	return nil
}
