// Integration tests for the authorization store. Skipped unless
// LEDGER_TEST_DATABASE_URL is set.
package authkeys

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/coreledger/privledger/pkg/config"
	"github.com/coreledger/privledger/pkg/database"
)

var testClient *database.Client

func TestMain(m *testing.M) {
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		os.Exit(0)
	}
	cfg := config.Default()
	cfg.DatabaseURL = dsn

	client, err := database.NewClient(cfg)
	if err != nil {
		panic("failed to connect to test database: " + err.Error())
	}
	if err := client.MigrateUp(context.Background()); err != nil {
		panic("failed to migrate test database: " + err.Error())
	}
	testClient = client

	code := m.Run()
	client.Close()
	os.Exit(code)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	if testClient == nil {
		t.Skip("LEDGER_TEST_DATABASE_URL not set; skipping authkeys integration test")
	}
	return New(database.NewAuthorizedKeyRepository(testClient))
}

func uniqueKey(label string) string {
	return label + "-" + time.Now().Format(time.RFC3339Nano)
}

func TestAddAuthorizedKeyRejectsActiveDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pk := uniqueKey("dup")

	_, result, err := s.AddAuthorizedKey(ctx, pk, "alice")
	if err != nil {
		t.Fatalf("AddAuthorizedKey: %v", err)
	}
	if result != AddResultAdded {
		t.Fatalf("expected AddResultAdded, got %v", result)
	}

	_, result, err = s.AddAuthorizedKey(ctx, pk, "alice")
	if err != nil {
		t.Fatalf("AddAuthorizedKey (duplicate): %v", err)
	}
	if result != AddResultAlreadyActiveDuplicate {
		t.Fatalf("expected AddResultAlreadyActiveDuplicate, got %v", result)
	}
}

func TestRevokeThenReAddDoesNotReactivateOldRecord(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pk := uniqueKey("revoke-readd")

	if _, _, err := s.AddAuthorizedKey(ctx, pk, "bob"); err != nil {
		t.Fatalf("AddAuthorizedKey: %v", err)
	}
	if result, err := s.RevokeAuthorizedKey(ctx, pk); err != nil || result != RevokeResultRevoked {
		t.Fatalf("RevokeAuthorizedKey: result=%v err=%v", result, err)
	}

	active, err := s.IsKeyActiveNow(ctx, pk)
	if err != nil {
		t.Fatalf("IsKeyActiveNow: %v", err)
	}
	if active {
		t.Fatal("expected key to be inactive after revocation")
	}

	_, result, err := s.AddAuthorizedKey(ctx, pk, "bob")
	if err != nil {
		t.Fatalf("AddAuthorizedKey (re-add): %v", err)
	}
	if result != AddResultAdded {
		t.Fatalf("expected a fresh record to be added, got %v", result)
	}

	history, err := s.ListAll(ctx, pk)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected two historical records, got %d", len(history))
	}
	if history[0].RevokedAt == nil {
		t.Fatal("expected the first (original) record to remain revoked")
	}
}

func TestWasKeyAuthorizedAtIsHistorical(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pk := uniqueKey("historical")

	if _, _, err := s.AddAuthorizedKey(ctx, pk, "carol"); err != nil {
		t.Fatalf("AddAuthorizedKey: %v", err)
	}
	beforeRevoke := time.Now().UTC()

	if _, err := s.RevokeAuthorizedKey(ctx, pk); err != nil {
		t.Fatalf("RevokeAuthorizedKey: %v", err)
	}

	wasAuthorized, err := s.WasKeyAuthorizedAt(ctx, pk, beforeRevoke)
	if err != nil {
		t.Fatalf("WasKeyAuthorizedAt: %v", err)
	}
	if !wasAuthorized {
		t.Fatal("expected the key to have been authorized at a time before its revocation")
	}

	nowAuthorized, err := s.WasKeyAuthorizedAt(ctx, pk, time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("WasKeyAuthorizedAt: %v", err)
	}
	if nowAuthorized {
		t.Fatal("expected the key to be unauthorized after revocation")
	}
}

func TestDeleteSafelyRejectsKeysWithSignedBlocks(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	pk := uniqueKey("unsafe-delete")

	if _, _, err := s.AddAuthorizedKey(ctx, pk, "dave"); err != nil {
		t.Fatalf("AddAuthorizedKey: %v", err)
	}

	blockRepo := database.NewBlockRepository(testClient)
	_, err := blockRepo.Insert(ctx, nil, &database.NewBlock{
		Number:          2_000_000 + time.Now().UnixNano()%1000,
		PreviousHash:    "prev",
		Timestamp:       time.Now().UTC(),
		Data:            "payload",
		Hash:            uniqueKey("block-hash"),
		Signature:       []byte("sig"),
		SignerPublicKey: pk,
	})
	if err != nil {
		t.Fatalf("seed block insert: %v", err)
	}

	impact, err := s.AnalyzeDeletionImpact(ctx, pk)
	if err != nil {
		t.Fatalf("AnalyzeDeletionImpact: %v", err)
	}
	if impact.SafeToDelete {
		t.Fatal("expected deletion to be unsafe once a block is signed by this key")
	}

	if err := s.DeleteSafely(ctx, pk); err == nil {
		t.Fatal("expected DeleteSafely to reject an unsafe deletion")
	}

	if err := s.DeleteForced(ctx, pk, "test cleanup", true); err != nil {
		t.Fatalf("DeleteForced: %v", err)
	}
}
