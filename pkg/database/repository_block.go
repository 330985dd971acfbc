// Block Repository - CRUD operations for ledger blocks (C3/C6/C7/C8).

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// BlockRepository handles block persistence.
type BlockRepository struct {
	client *Client
}

// NewBlockRepository creates a new block repository.
func NewBlockRepository(client *Client) *BlockRepository {
	return &BlockRepository{client: client}
}

// Insert appends a new block row, optionally inside tx (the append pipeline
// runs the sequence allocation and the block insert in the same transaction).
func (r *BlockRepository) Insert(ctx context.Context, tx *Tx, input *NewBlock) (*BlockRow, error) {
	row := &BlockRow{
		Number:          input.Number,
		PreviousHash:    input.PreviousHash,
		Timestamp:       input.Timestamp,
		Data:            input.Data,
		Hash:            input.Hash,
		Signature:       input.Signature,
		SignerPublicKey: input.SignerPublicKey,
	}
	if input.OffChainDataHash != "" {
		row.OffChainDataHash = sql.NullString{String: input.OffChainDataHash, Valid: true}
	}
	if input.EncryptionKDF != "" {
		row.EncryptionKDF = sql.NullString{String: input.EncryptionKDF, Valid: true}
		row.EncryptionIterations = sql.NullInt64{Int64: int64(input.EncryptionIter), Valid: true}
		row.EncryptionSalt = input.EncryptionSalt
		row.EncryptionIV = input.EncryptionIV
		row.EncryptionAAD = input.EncryptionAAD
	}
	if input.SearchCategory != "" {
		row.SearchCategory = sql.NullString{String: input.SearchCategory, Valid: true}
	}

	query := `
		INSERT INTO blocks (
			number, previous_hash, timestamp, data, hash, signature, signer_public_key,
			offchain_data_hash, encryption_kdf, encryption_iterations, encryption_salt,
			encryption_iv, encryption_aad, search_category
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at`

	args := []interface{}{
		row.Number, row.PreviousHash, row.Timestamp, row.Data, row.Hash, row.Signature, row.SignerPublicKey,
		row.OffChainDataHash, row.EncryptionKDF, row.EncryptionIterations, row.EncryptionSalt,
		row.EncryptionIV, row.EncryptionAAD, row.SearchCategory,
	}

	var err error
	if tx != nil {
		err = tx.Tx().QueryRowContext(ctx, query, args...).Scan(&row.CreatedAt)
	} else {
		err = r.client.QueryRowContext(ctx, query, args...).Scan(&row.CreatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert block: %w", err)
	}

	return row, nil
}

// GetByNumber retrieves a block by its sequence number.
func (r *BlockRepository) GetByNumber(ctx context.Context, number int64) (*BlockRow, error) {
	query := `
		SELECT number, previous_hash, timestamp, data, hash, signature, signer_public_key,
			offchain_data_hash, encryption_kdf, encryption_iterations, encryption_salt,
			encryption_iv, encryption_aad, search_category, created_at
		FROM blocks
		WHERE number = $1`

	row := &BlockRow{}
	err := r.client.QueryRowContext(ctx, query, number).Scan(
		&row.Number, &row.PreviousHash, &row.Timestamp, &row.Data, &row.Hash, &row.Signature, &row.SignerPublicKey,
		&row.OffChainDataHash, &row.EncryptionKDF, &row.EncryptionIterations, &row.EncryptionSalt,
		&row.EncryptionIV, &row.EncryptionAAD, &row.SearchCategory, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", number, err)
	}
	return row, nil
}

// GetByHash retrieves a block by its content hash.
func (r *BlockRepository) GetByHash(ctx context.Context, hash string) (*BlockRow, error) {
	query := `
		SELECT number, previous_hash, timestamp, data, hash, signature, signer_public_key,
			offchain_data_hash, encryption_kdf, encryption_iterations, encryption_salt,
			encryption_iv, encryption_aad, search_category, created_at
		FROM blocks
		WHERE hash = $1`

	row := &BlockRow{}
	err := r.client.QueryRowContext(ctx, query, hash).Scan(
		&row.Number, &row.PreviousHash, &row.Timestamp, &row.Data, &row.Hash, &row.Signature, &row.SignerPublicKey,
		&row.OffChainDataHash, &row.EncryptionKDF, &row.EncryptionIterations, &row.EncryptionSalt,
		&row.EncryptionIV, &row.EncryptionAAD, &row.SearchCategory, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block by hash: %w", err)
	}
	return row, nil
}

// Latest returns the highest-numbered block, or ErrBlockNotFound on an empty chain.
func (r *BlockRepository) Latest(ctx context.Context) (*BlockRow, error) {
	query := `
		SELECT number, previous_hash, timestamp, data, hash, signature, signer_public_key,
			offchain_data_hash, encryption_kdf, encryption_iterations, encryption_salt,
			encryption_iv, encryption_aad, search_category, created_at
		FROM blocks
		ORDER BY number DESC
		LIMIT 1`

	row := &BlockRow{}
	err := r.client.QueryRowContext(ctx, query).Scan(
		&row.Number, &row.PreviousHash, &row.Timestamp, &row.Data, &row.Hash, &row.Signature, &row.SignerPublicKey,
		&row.OffChainDataHash, &row.EncryptionKDF, &row.EncryptionIterations, &row.EncryptionSalt,
		&row.EncryptionIV, &row.EncryptionAAD, &row.SearchCategory, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBlockNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	return row, nil
}

// Count returns the total number of blocks in the chain.
func (r *BlockRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.client.QueryRowContext(ctx, `SELECT COUNT(*) FROM blocks`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count blocks: %w", err)
	}
	return n, nil
}

// RangeScan streams blocks with number in [from, to] ordered ascending, used
// by the validator's batch scanner (spec §4.7) to bound memory usage.
func (r *BlockRepository) RangeScan(ctx context.Context, from, to int64) ([]*BlockRow, error) {
	query := `
		SELECT number, previous_hash, timestamp, data, hash, signature, signer_public_key,
			offchain_data_hash, encryption_kdf, encryption_iterations, encryption_salt,
			encryption_iv, encryption_aad, search_category, created_at
		FROM blocks
		WHERE number BETWEEN $1 AND $2
		ORDER BY number ASC`

	rows, err := r.client.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to scan block range: %w", err)
	}
	defer rows.Close()

	var out []*BlockRow
	for rows.Next() {
		row := &BlockRow{}
		if err := rows.Scan(
			&row.Number, &row.PreviousHash, &row.Timestamp, &row.Data, &row.Hash, &row.Signature, &row.SignerPublicKey,
			&row.OffChainDataHash, &row.EncryptionKDF, &row.EncryptionIterations, &row.EncryptionSalt,
			&row.EncryptionIV, &row.EncryptionAAD, &row.SearchCategory, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan block row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteFrom removes all blocks with number >= from. Used by RollbackToBlock
// and ClearAndReinitialize; callers must run this under the engine write
// lock and inside tx to keep the chain and its sequence counter in sync.
func (r *BlockRepository) DeleteFrom(ctx context.Context, tx *Tx, from int64) (int64, error) {
	query := `DELETE FROM blocks WHERE number >= $1`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.Tx().ExecContext(ctx, query, from)
	} else {
		result, err = r.client.ExecContext(ctx, query, from)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to delete blocks from %d: %w", from, err)
	}
	return result.RowsAffected()
}
