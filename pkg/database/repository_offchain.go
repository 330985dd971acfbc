// Off-Chain Repository - CRUD for streamed off-chain file metadata (C4).

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// OffChainRepository handles off-chain metadata persistence. The actual
// encrypted file bytes live on disk under the configured off-chain
// directory; this repository only tracks the pointer row.
type OffChainRepository struct {
	client *Client
}

// NewOffChainRepository creates a new off-chain repository.
func NewOffChainRepository(client *Client) *OffChainRepository {
	return &OffChainRepository{client: client}
}

// Insert records a new off-chain file, optionally inside tx so the block row
// and its off-chain pointer commit atomically.
func (r *OffChainRepository) Insert(ctx context.Context, tx *Tx, input *NewOffChainData) (*OffChainDataRow, error) {
	row := &OffChainDataRow{
		DataHash:        input.DataHash,
		BlockNumber:     input.BlockNumber,
		Signature:       input.Signature,
		FilePath:        input.FilePath,
		FileSize:        input.FileSize,
		EncryptionIV:    input.EncryptionIV,
		ContentType:     input.ContentType,
		SignerPublicKey: input.SignerPublicKey,
	}

	query := `
		INSERT INTO offchain_data (
			data_hash, block_number, signature, file_path, file_size,
			encryption_iv, content_type, signer_public_key
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`

	args := []interface{}{
		row.DataHash, row.BlockNumber, row.Signature, row.FilePath, row.FileSize,
		row.EncryptionIV, row.ContentType, row.SignerPublicKey,
	}

	var err error
	if tx != nil {
		err = tx.Tx().QueryRowContext(ctx, query, args...).Scan(&row.CreatedAt)
	} else {
		err = r.client.QueryRowContext(ctx, query, args...).Scan(&row.CreatedAt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert off-chain metadata: %w", err)
	}
	return row, nil
}

// GetByHash retrieves off-chain metadata by its data hash.
func (r *OffChainRepository) GetByHash(ctx context.Context, dataHash string) (*OffChainDataRow, error) {
	query := `
		SELECT data_hash, block_number, signature, file_path, file_size,
			encryption_iv, content_type, signer_public_key, created_at
		FROM offchain_data
		WHERE data_hash = $1`

	row := &OffChainDataRow{}
	err := r.client.QueryRowContext(ctx, query, dataHash).Scan(
		&row.DataHash, &row.BlockNumber, &row.Signature, &row.FilePath, &row.FileSize,
		&row.EncryptionIV, &row.ContentType, &row.SignerPublicKey, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOffChainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get off-chain metadata: %w", err)
	}
	return row, nil
}

// GetByBlockNumber retrieves off-chain metadata by the block it belongs to.
func (r *OffChainRepository) GetByBlockNumber(ctx context.Context, blockNumber int64) (*OffChainDataRow, error) {
	query := `
		SELECT data_hash, block_number, signature, file_path, file_size,
			encryption_iv, content_type, signer_public_key, created_at
		FROM offchain_data
		WHERE block_number = $1`

	row := &OffChainDataRow{}
	err := r.client.QueryRowContext(ctx, query, blockNumber).Scan(
		&row.DataHash, &row.BlockNumber, &row.Signature, &row.FilePath, &row.FileSize,
		&row.EncryptionIV, &row.ContentType, &row.SignerPublicKey, &row.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrOffChainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get off-chain metadata by block: %w", err)
	}
	return row, nil
}

// ListOrphanCandidates returns off-chain rows whose block_number has no
// matching row in blocks — used by the background sweeper (spec §4.4) to
// remove metadata rows, and their files, that outlived their block. An
// append that fails before commit leaves no such row, since its metadata is
// inserted in the append's own transaction; its file is instead caught by
// the sweep's directory cleanup.
func (r *OffChainRepository) ListOrphanCandidates(ctx context.Context) ([]*OffChainDataRow, error) {
	query := `
		SELECT o.data_hash, o.block_number, o.signature, o.file_path, o.file_size,
			o.encryption_iv, o.content_type, o.signer_public_key, o.created_at
		FROM offchain_data o
		LEFT JOIN blocks b ON b.number = o.block_number
		WHERE b.number IS NULL`

	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query orphan candidates: %w", err)
	}
	defer rows.Close()

	var out []*OffChainDataRow
	for rows.Next() {
		row := &OffChainDataRow{}
		if err := rows.Scan(
			&row.DataHash, &row.BlockNumber, &row.Signature, &row.FilePath, &row.FileSize,
			&row.EncryptionIV, &row.ContentType, &row.SignerPublicKey, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan orphan candidate: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteByHash removes one off-chain metadata row, used once the sweeper has
// also removed the underlying file.
func (r *OffChainRepository) DeleteByHash(ctx context.Context, dataHash string) error {
	_, err := r.client.ExecContext(ctx, `DELETE FROM offchain_data WHERE data_hash = $1`, dataHash)
	if err != nil {
		return fmt.Errorf("failed to delete off-chain metadata: %w", err)
	}
	return nil
}

// DeleteFromBlock removes all off-chain rows for blocks >= from, mirroring
// BlockRepository.DeleteFrom during rollback.
func (r *OffChainRepository) DeleteFromBlock(ctx context.Context, tx *Tx, from int64) ([]*OffChainDataRow, error) {
	orphaned, err := r.listFromBlock(ctx, from)
	if err != nil {
		return nil, err
	}

	query := `DELETE FROM offchain_data WHERE block_number >= $1`
	var execErr error
	if tx != nil {
		_, execErr = tx.Tx().ExecContext(ctx, query, from)
	} else {
		_, execErr = r.client.ExecContext(ctx, query, from)
	}
	if execErr != nil {
		return nil, fmt.Errorf("failed to delete off-chain rows from block %d: %w", from, execErr)
	}
	return orphaned, nil
}

func (r *OffChainRepository) listFromBlock(ctx context.Context, from int64) ([]*OffChainDataRow, error) {
	query := `
		SELECT data_hash, block_number, signature, file_path, file_size,
			encryption_iv, content_type, signer_public_key, created_at
		FROM offchain_data
		WHERE block_number >= $1`

	rows, err := r.client.QueryContext(ctx, query, from)
	if err != nil {
		return nil, fmt.Errorf("failed to list off-chain rows from block %d: %w", from, err)
	}
	defer rows.Close()

	var out []*OffChainDataRow
	for rows.Next() {
		row := &OffChainDataRow{}
		if err := rows.Scan(
			&row.DataHash, &row.BlockNumber, &row.Signature, &row.FilePath, &row.FileSize,
			&row.EncryptionIV, &row.ContentType, &row.SignerPublicKey, &row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan off-chain row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
