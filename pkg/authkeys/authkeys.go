// Package authkeys implements the authorization store (C2): the persistent
// set of authorized signing keys, their temporal activation/revocation
// intervals, and the deletion-safety analysis the chain mutator consults
// before letting an operator purge a key's history.
package authkeys

import (
	"context"
	"errors"
	"time"

	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
)

// Store wraps database.AuthorizedKeyRepository with the domain operations
// from spec §4.2.
type Store struct {
	repo *database.AuthorizedKeyRepository
}

// New builds a Store over the given repository.
func New(repo *database.AuthorizedKeyRepository) *Store {
	return &Store{repo: repo}
}

// AddResult reports which of the two add_authorized_key outcomes occurred.
type AddResult string

const (
	AddResultAdded              AddResult = "added"
	AddResultAlreadyActiveDuplicate AddResult = "already_active_duplicate"
)

// AddAuthorizedKey authorizes publicKey for ownerName. If the key already
// has an active record, no new row is inserted and AddResultAlreadyActiveDuplicate
// is returned; otherwise a fresh record is inserted (a previously revoked
// record, if any, is never reactivated).
func (s *Store) AddAuthorizedKey(ctx context.Context, publicKey, ownerName string) (*ledger.AuthorizedKey, AddResult, error) {
	if publicKey == "" || ownerName == "" {
		return nil, "", ledger.NewError(ledger.KindInvalidInput, "public_key and owner_name are required", nil)
	}

	existing, err := s.repo.GetActive(ctx, publicKey)
	if err != nil && !errors.Is(err, database.ErrKeyNotFound) {
		return nil, "", ledger.NewError(ledger.KindStorage, "check existing active key", err)
	}
	if existing != nil {
		return rowToKey(existing), AddResultAlreadyActiveDuplicate, nil
	}

	row, err := s.repo.Insert(ctx, &database.NewAuthorizedKey{PublicKey: publicKey, OwnerName: ownerName})
	if err != nil {
		return nil, "", ledger.NewError(ledger.KindStorage, "insert authorized key", err)
	}
	return rowToKey(row), AddResultAdded, nil
}

// RevokeResult reports the outcome of revoke_authorized_key.
type RevokeResult string

const (
	RevokeResultRevoked  RevokeResult = "revoked"
	RevokeResultNotFound RevokeResult = "not_found"
)

// RevokeAuthorizedKey revokes the most recent active record for publicKey.
func (s *Store) RevokeAuthorizedKey(ctx context.Context, publicKey string) (RevokeResult, error) {
	err := s.repo.Revoke(ctx, publicKey, time.Now())
	if errors.Is(err, database.ErrKeyNotFound) {
		return RevokeResultNotFound, nil
	}
	if err != nil {
		return "", ledger.NewError(ledger.KindStorage, "revoke authorized key", err)
	}
	return RevokeResultRevoked, nil
}

// IsKeyActiveNow reports whether publicKey's most recent record is active.
func (s *Store) IsKeyActiveNow(ctx context.Context, publicKey string) (bool, error) {
	_, err := s.repo.GetActive(ctx, publicKey)
	if errors.Is(err, database.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, ledger.NewError(ledger.KindStorage, "check key active", err)
	}
	return true, nil
}

// WasKeyAuthorizedAt reports whether publicKey was authorized at instant t:
// some record exists with created_at <= t and (revoked_at is null or > t).
// This is a structural, historical question — later revocation does not
// retroactively change the answer for a past t (spec §4.2 invariant ii).
func (s *Store) WasKeyAuthorizedAt(ctx context.Context, publicKey string, t time.Time) (bool, error) {
	records, err := s.repo.ListAll(ctx, publicKey)
	if err != nil {
		return false, ledger.NewError(ledger.KindStorage, "list key history", err)
	}
	for _, rec := range records {
		key := rowToKey(rec)
		if key.ActiveAt(t) {
			return true, nil
		}
	}
	return false, nil
}

// ListActive returns every currently active authorized key.
func (s *Store) ListActive(ctx context.Context) ([]*ledger.AuthorizedKey, error) {
	rows, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "list active keys", err)
	}
	return rowsToKeys(rows), nil
}

// ListAll returns every authorization record for publicKey (the full
// authorization timeline, spec §3), oldest first.
func (s *Store) ListAll(ctx context.Context, publicKey string) ([]*ledger.AuthorizedKey, error) {
	rows, err := s.repo.ListAll(ctx, publicKey)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "list key history", err)
	}
	return rowsToKeys(rows), nil
}

// AnalyzeDeletionImpact reports whether publicKey can be safely deleted and,
// if not, how many blocks would be orphaned.
func (s *Store) AnalyzeDeletionImpact(ctx context.Context, publicKey string) (*ledger.DeletionImpact, error) {
	records, err := s.repo.ListAll(ctx, publicKey)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "list key history", err)
	}
	if len(records) == 0 {
		return &ledger.DeletionImpact{Exists: false}, nil
	}

	affected, err := s.repo.CountBlocksSignedBy(ctx, publicKey)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "count blocks signed by key", err)
	}

	return &ledger.DeletionImpact{
		Exists:             true,
		SafeToDelete:       affected == 0,
		AffectedBlockCount: affected,
		SevereImpact:       affected > 0,
	}, nil
}

// DeleteSafely deletes all records for publicKey iff AnalyzeDeletionImpact
// reports SafeToDelete; otherwise returns an Unauthorized error.
func (s *Store) DeleteSafely(ctx context.Context, publicKey string) error {
	impact, err := s.AnalyzeDeletionImpact(ctx, publicKey)
	if err != nil {
		return err
	}
	if !impact.Exists {
		return ledger.NewError(ledger.KindNotFound, "authorized key not found", nil)
	}
	if !impact.SafeToDelete {
		return ledger.NewError(ledger.KindUnauthorized, "key deletion would orphan signed blocks", ledger.ErrDeletionUnsafe)
	}
	return s.deleteAll(ctx, publicKey)
}

// DeleteForced deletes all records for publicKey. If force is false, this
// behaves exactly like DeleteSafely. If force is true, deletion proceeds
// regardless of impact — the caller acknowledges that any blocks signed by
// this key will thereafter be reported as non-compliant by the validator.
func (s *Store) DeleteForced(ctx context.Context, publicKey, reason string, force bool) error {
	if !force {
		return s.DeleteSafely(ctx, publicKey)
	}
	if reason == "" {
		return ledger.NewError(ledger.KindInvalidInput, "a reason is required for forced deletion", nil)
	}
	records, err := s.repo.ListAll(ctx, publicKey)
	if err != nil {
		return ledger.NewError(ledger.KindStorage, "list key history", err)
	}
	if len(records) == 0 {
		return ledger.NewError(ledger.KindNotFound, "authorized key not found", nil)
	}
	return s.deleteAll(ctx, publicKey)
}

func (s *Store) deleteAll(ctx context.Context, publicKey string) error {
	if _, err := s.repo.DeleteAll(ctx, publicKey); err != nil {
		return ledger.NewError(ledger.KindStorage, "delete authorized key records", err)
	}
	return nil
}

func rowToKey(row *database.AuthorizedKeyRow) *ledger.AuthorizedKey {
	key := &ledger.AuthorizedKey{
		ID:        row.ID,
		PublicKey: row.PublicKey,
		OwnerName: row.OwnerName,
		IsActive:  row.IsActive,
		CreatedAt: row.CreatedAt,
	}
	if row.RevokedAt.Valid {
		t := row.RevokedAt.Time
		key.RevokedAt = &t
	}
	return key
}

func rowsToKeys(rows []*database.AuthorizedKeyRow) []*ledger.AuthorizedKey {
	out := make([]*ledger.AuthorizedKey, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToKey(row))
	}
	return out
}
