// Authorized Key Repository - CRUD and temporal queries (C2).

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AuthorizedKeyRepository handles authorized-key persistence.
type AuthorizedKeyRepository struct {
	client *Client
}

// NewAuthorizedKeyRepository creates a new authorized-key repository.
func NewAuthorizedKeyRepository(client *Client) *AuthorizedKeyRepository {
	return &AuthorizedKeyRepository{client: client}
}

// Insert authorizes a new key, recording the current time as CreatedAt.
func (r *AuthorizedKeyRepository) Insert(ctx context.Context, input *NewAuthorizedKey) (*AuthorizedKeyRow, error) {
	row := &AuthorizedKeyRow{
		PublicKey: input.PublicKey,
		OwnerName: input.OwnerName,
		IsActive:  true,
	}

	query := `
		INSERT INTO authorized_keys (public_key, owner_name, is_active, created_at)
		VALUES ($1, $2, true, $3)
		RETURNING id, created_at`

	err := r.client.QueryRowContext(ctx, query, row.PublicKey, row.OwnerName, time.Now()).
		Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert authorized key: %w", err)
	}
	return row, nil
}

// Revoke marks the most recent active record for publicKey as revoked at the
// given time. Returns ErrKeyNotFound if no active record exists.
func (r *AuthorizedKeyRepository) Revoke(ctx context.Context, publicKey string, at time.Time) error {
	query := `
		UPDATE authorized_keys
		SET is_active = false, revoked_at = $2
		WHERE id = (
			SELECT id FROM authorized_keys
			WHERE public_key = $1 AND is_active = true
			ORDER BY created_at DESC
			LIMIT 1
		)`

	result, err := r.client.ExecContext(ctx, query, publicKey, at)
	if err != nil {
		return fmt.Errorf("failed to revoke key: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// GetActive returns the currently active record for publicKey, if any.
func (r *AuthorizedKeyRepository) GetActive(ctx context.Context, publicKey string) (*AuthorizedKeyRow, error) {
	query := `
		SELECT id, public_key, owner_name, is_active, created_at, revoked_at
		FROM authorized_keys
		WHERE public_key = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1`

	row := &AuthorizedKeyRow{}
	err := r.client.QueryRowContext(ctx, query, publicKey).
		Scan(&row.ID, &row.PublicKey, &row.OwnerName, &row.IsActive, &row.CreatedAt, &row.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active key: %w", err)
	}
	return row, nil
}

// InsertWithTimestamps recreates an authorization record with caller-chosen
// created_at/revoked_at/is_active, used by import_chain (spec §4.8 step 4),
// which must preserve each record's original timestamps rather than
// stamping the moment of import.
func (r *AuthorizedKeyRepository) InsertWithTimestamps(ctx context.Context, tx *Tx, input *RestoredAuthorizedKey) error {
	query := `
		INSERT INTO authorized_keys (public_key, owner_name, is_active, created_at, revoked_at)
		VALUES ($1, $2, $3, $4, $5)`

	var revokedAt *time.Time
	if input.RevokedAt != nil {
		revokedAt = input.RevokedAt
	}

	var err error
	if tx != nil {
		_, err = tx.Tx().ExecContext(ctx, query, input.PublicKey, input.OwnerName, input.IsActive, input.CreatedAt, revokedAt)
	} else {
		_, err = r.client.ExecContext(ctx, query, input.PublicKey, input.OwnerName, input.IsActive, input.CreatedAt, revokedAt)
	}
	if err != nil {
		return fmt.Errorf("failed to restore authorized key record: %w", err)
	}
	return nil
}

// ListAll returns every authorization record for publicKey (the full
// authorization timeline, spec §3), ordered oldest-first.
func (r *AuthorizedKeyRepository) ListAll(ctx context.Context, publicKey string) ([]*AuthorizedKeyRow, error) {
	query := `
		SELECT id, public_key, owner_name, is_active, created_at, revoked_at
		FROM authorized_keys
		WHERE public_key = $1
		ORDER BY created_at ASC`

	return r.scanRows(ctx, query, publicKey)
}

// ListActive returns every currently active authorized key.
func (r *AuthorizedKeyRepository) ListActive(ctx context.Context) ([]*AuthorizedKeyRow, error) {
	query := `
		SELECT id, public_key, owner_name, is_active, created_at, revoked_at
		FROM authorized_keys
		WHERE is_active = true
		ORDER BY created_at ASC`

	return r.scanRows(ctx, query)
}

// ListAllDistinctKeys returns the distinct public keys with any authorization
// record at all, active or revoked — used by clear_and_reinitialize (spec
// §4.8), which must purge every key's history, not just the active ones.
func (r *AuthorizedKeyRepository) ListAllDistinctKeys(ctx context.Context) ([]string, error) {
	rows, err := r.client.QueryContext(ctx, `SELECT DISTINCT public_key FROM authorized_keys`)
	if err != nil {
		return nil, fmt.Errorf("failed to list distinct authorized keys: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan distinct public key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (r *AuthorizedKeyRepository) scanRows(ctx context.Context, query string, args ...interface{}) ([]*AuthorizedKeyRow, error) {
	rows, err := r.client.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query authorized keys: %w", err)
	}
	defer rows.Close()

	var out []*AuthorizedKeyRow
	for rows.Next() {
		row := &AuthorizedKeyRow{}
		if err := rows.Scan(&row.ID, &row.PublicKey, &row.OwnerName, &row.IsActive, &row.CreatedAt, &row.RevokedAt); err != nil {
			return nil, fmt.Errorf("failed to scan authorized key: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// DeleteAll permanently removes every authorization record for publicKey,
// used by delete_safely/delete_forced (spec §4.2) — a hard delete, distinct
// from Revoke, which only closes the active interval.
func (r *AuthorizedKeyRepository) DeleteAll(ctx context.Context, publicKey string) (int64, error) {
	result, err := r.client.ExecContext(ctx, `DELETE FROM authorized_keys WHERE public_key = $1`, publicKey)
	if err != nil {
		return 0, fmt.Errorf("failed to delete authorized key records: %w", err)
	}
	return result.RowsAffected()
}

// CountBlocksSignedBy returns how many blocks were signed by publicKey,
// used by analyze_deletion_impact (spec §4.2).
func (r *AuthorizedKeyRepository) CountBlocksSignedBy(ctx context.Context, publicKey string) (int, error) {
	var n int
	err := r.client.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM blocks WHERE signer_public_key = $1`, publicKey,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count blocks signed by key: %w", err)
	}
	return n, nil
}
