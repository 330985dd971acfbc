// Index Repository - two-layer search index persistence (C5).

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// IndexRepository handles search-index entries and the block-hash-keyed
// indexing-protection claim map that guards concurrent indexers.
type IndexRepository struct {
	client *Client
}

// NewIndexRepository creates a new index repository.
func NewIndexRepository(client *Client) *IndexRepository {
	return &IndexRepository{client: client}
}

// Insert records the per-block index entry, optionally inside tx so it
// commits atomically with the block it describes.
func (r *IndexRepository) Insert(ctx context.Context, tx *Tx, input *NewIndexEntry) (*IndexEntryRow, error) {
	row := &IndexEntryRow{
		BlockHash:        input.BlockHash,
		BlockNumber:      input.BlockNumber,
		PublicTerms:      input.PublicTerms,
		PublicCategory:   input.PublicCategory,
		PublicBucketTime: input.PublicBucketTime,
		PrivateCipher:    input.PrivateCipher,
		PrivateIV:        input.PrivateIV,
		PrivateSalt:      input.PrivateSalt,
	}

	query := `
		INSERT INTO index_entries (
			block_hash, block_number, public_terms, public_category,
			public_bucket_time, private_ciphertext, private_iv, private_salt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	args := []interface{}{
		row.BlockHash, row.BlockNumber, row.PublicTerms, row.PublicCategory,
		row.PublicBucketTime, row.PrivateCipher, row.PrivateIV, row.PrivateSalt,
	}

	var err error
	if tx != nil {
		err = tx.Tx().QueryRowContext(ctx, query, args...).Scan(&row.CreatedAt)
	} else {
		err = r.client.QueryRowContext(ctx, query, args...).Scan(&row.CreatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert index entry: %w", err)
	}
	return row, nil
}

// GetByBlockHash retrieves one index entry.
func (r *IndexRepository) GetByBlockHash(ctx context.Context, blockHash string) (*IndexEntryRow, error) {
	query := `
		SELECT block_hash, block_number, public_terms, public_category,
			public_bucket_time, private_ciphertext, private_iv, private_salt, created_at
		FROM index_entries
		WHERE block_hash = $1`

	row := &IndexEntryRow{}
	err := r.client.QueryRowContext(ctx, query, blockHash).Scan(
		&row.BlockHash, &row.BlockNumber, &row.PublicTerms, &row.PublicCategory,
		&row.PublicBucketTime, &row.PrivateCipher, &row.PrivateIV, &row.PrivateSalt, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrIndexEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get index entry: %w", err)
	}
	return row, nil
}

// SearchPublicCategory returns every index entry tagged with the given
// category — the fast path of FastPublic search (spec §4.5).
func (r *IndexRepository) SearchPublicCategory(ctx context.Context, category string) ([]*IndexEntryRow, error) {
	query := `
		SELECT block_hash, block_number, public_terms, public_category,
			public_bucket_time, private_ciphertext, private_iv, private_salt, created_at
		FROM index_entries
		WHERE public_category = $1
		ORDER BY block_number ASC`

	return r.scanRows(ctx, query, category)
}

// SearchPublicTerm returns every index entry whose public_terms JSON array
// contains term as a top-level string element (Postgres's jsonb `?`
// existence operator — callers supply the exact token to match).
func (r *IndexRepository) SearchPublicTerm(ctx context.Context, term string) ([]*IndexEntryRow, error) {
	query := `
		SELECT block_hash, block_number, public_terms, public_category,
			public_bucket_time, private_ciphertext, private_iv, private_salt, created_at
		FROM index_entries
		WHERE public_terms::jsonb ? $1
		ORDER BY block_number ASC`

	return r.scanRows(ctx, query, term)
}

// AllEntries streams every index entry, ordered by block number, for the
// ExhaustiveOffChain strategy to decrypt and scan in bounded batches.
func (r *IndexRepository) AllEntries(ctx context.Context, fromBlock, toBlock int64) ([]*IndexEntryRow, error) {
	query := `
		SELECT block_hash, block_number, public_terms, public_category,
			public_bucket_time, private_ciphertext, private_iv, private_salt, created_at
		FROM index_entries
		WHERE block_number BETWEEN $1 AND $2
		ORDER BY block_number ASC`

	return r.scanRows(ctx, query, fromBlock, toBlock)
}

func (r *IndexRepository) scanRows(ctx context.Context, query string, args ...interface{}) ([]*IndexEntryRow, error) {
	rows, err := r.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query index entries: %w", err)
	}
	defer rows.Close()

	var out []*IndexEntryRow
	for rows.Next() {
		row := &IndexEntryRow{}
		if err := rows.Scan(
			&row.BlockHash, &row.BlockNumber, &row.PublicTerms, &row.PublicCategory,
			&row.PublicBucketTime, &row.PrivateCipher, &row.PrivateIV, &row.PrivateSalt, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan index entry: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteFromBlock removes index entries and their indexing claims for
// blocks >= from, mirroring block rollback.
func (r *IndexRepository) DeleteFromBlock(ctx context.Context, tx *Tx, from int64) error {
	exec := func(query string) error {
		var err error
		if tx != nil {
			_, err = tx.Tx().ExecContext(ctx, query, from)
		} else {
			_, err = r.client.ExecContext(ctx, query, from)
		}
		return err
	}
	if err := exec(`DELETE FROM index_entries WHERE block_number >= $1`); err != nil {
		return fmt.Errorf("failed to delete index entries from block %d: %w", from, err)
	}
	if err := exec(`DELETE FROM index_claims WHERE block_number >= $1`); err != nil {
		return fmt.Errorf("failed to delete index claims from block %d: %w", from, err)
	}
	return nil
}

// ClaimBlock reserves blockHash in the indexing-protection map using
// INSERT ... ON CONFLICT DO NOTHING: the first caller to claim a given block
// hash wins and should proceed to index it; any other caller racing on the
// same hash sees won=false and must skip the work, since someone else is
// already (or already has) indexing that block. Put-if-absent on block_hash
// means the check costs no read-modify-write round trip.
func (r *IndexRepository) ClaimBlock(ctx context.Context, tx *Tx, blockHash string, blockNumber int64) (bool, error) {
	query := `
		INSERT INTO index_claims (block_hash, block_number)
		VALUES ($1, $2)
		ON CONFLICT (block_hash) DO NOTHING`

	var res sql.Result
	var err error
	if tx != nil {
		res, err = tx.Tx().ExecContext(ctx, query, blockHash, blockNumber)
	} else {
		res, err = r.client.ExecContext(ctx, query, blockHash, blockNumber)
	}
	if err != nil {
		return false, fmt.Errorf("failed to claim block for indexing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read claim result: %w", err)
	}
	return n > 0, nil
}

// BlockClaimed reports whether blockHash already has an indexing claim.
func (r *IndexRepository) BlockClaimed(ctx context.Context, blockHash string) (bool, error) {
	var n int64
	err := r.client.QueryRowContext(ctx, `SELECT block_number FROM index_claims WHERE block_hash = $1`, blockHash).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read index claim: %w", err)
	}
	return true, nil
}
