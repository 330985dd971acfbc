// Integration tests for the repository layer. They exercise a real
// Postgres instance and are skipped unless LEDGER_TEST_DATABASE_URL is set,
// mirroring the teacher's CERTEN_TEST_DB-gated repository tests.
package database

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/coreledger/privledger/pkg/config"
)

var testClient *Client

func TestMain(m *testing.M) {
	dsn := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if dsn == "" {
		os.Exit(0)
	}

	cfg := config.Default()
	cfg.DatabaseURL = dsn

	client, err := NewClient(cfg)
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

func requireTestClient(t *testing.T) *Client {
	t.Helper()
	if testClient == nil {
		t.Skip("LEDGER_TEST_DATABASE_URL not set; skipping repository integration test")
	}
	return testClient
}

func TestBlockRepositoryInsertAndLookup(t *testing.T) {
	client := requireTestClient(t)
	ctx := context.Background()
	repo := NewBlockRepository(client)

	number := uniqueNumber()
	input := &NewBlock{
		Number:          number,
		PreviousHash:    "prevhash",
		Timestamp:       time.Now().UTC(),
		Data:            "hello",
		Hash:            "hash-" + time.Now().Format(time.RFC3339Nano),
		Signature:       []byte("sig"),
		SignerPublicKey: "pub",
	}

	row, err := repo.Insert(ctx, nil, input)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if row.CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be populated")
	}

	byNumber, err := repo.GetByNumber(ctx, number)
	if err != nil {
		t.Fatalf("GetByNumber: %v", err)
	}
	if byNumber.Hash != input.Hash {
		t.Fatalf("expected hash %q, got %q", input.Hash, byNumber.Hash)
	}

	byHash, err := repo.GetByHash(ctx, input.Hash)
	if err != nil {
		t.Fatalf("GetByHash: %v", err)
	}
	if byHash.Number != number {
		t.Fatalf("expected number %d, got %d", number, byHash.Number)
	}

	if _, err := repo.GetByNumber(ctx, -999); err != ErrBlockNotFound {
		t.Fatalf("expected ErrBlockNotFound, got %v", err)
	}
}

func TestSequenceRepositoryNextIsMonotonic(t *testing.T) {
	client := requireTestClient(t)
	ctx := context.Background()
	repo := NewSequenceRepository(client)

	if err := repo.EnsureInitialized(ctx, 1); err != nil {
		t.Fatalf("EnsureInitialized: %v", err)
	}

	first, err := repo.Next(ctx, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	second, err := repo.Next(ctx, nil)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second != first+1 {
		t.Fatalf("expected monotonic allocation, got %d then %d", first, second)
	}

	peeked, err := repo.Peek(ctx)
	if err != nil {
		t.Fatalf("Peek: %v", err)
	}
	if peeked != second+1 {
		t.Fatalf("expected Peek to report %d, got %d", second+1, peeked)
	}
}

func TestAuthorizedKeyRepositoryAddRevokeListAll(t *testing.T) {
	client := requireTestClient(t)
	ctx := context.Background()
	repo := NewAuthorizedKeyRepository(client)

	publicKey := "pubkey-" + time.Now().Format(time.RFC3339Nano)
	if _, err := repo.Insert(ctx, &NewAuthorizedKey{PublicKey: publicKey, OwnerName: "alice"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	active, err := repo.GetActive(ctx, publicKey)
	if err != nil {
		t.Fatalf("GetActive: %v", err)
	}
	if !active.IsActive {
		t.Fatal("expected freshly inserted key to be active")
	}

	if err := repo.Revoke(ctx, publicKey, time.Now().UTC()); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, err := repo.GetActive(ctx, publicKey); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after revocation, got %v", err)
	}

	all, err := repo.ListAll(ctx, publicKey)
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(all) != 1 || all[0].RevokedAt.Time.IsZero() {
		t.Fatalf("expected one revoked record, got %+v", all)
	}

	distinct, err := repo.ListAllDistinctKeys(ctx)
	if err != nil {
		t.Fatalf("ListAllDistinctKeys: %v", err)
	}
	found := false
	for _, k := range distinct {
		if k == publicKey {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q in distinct key list %v", publicKey, distinct)
	}
}

func TestIndexRepositoryClaimBlockIsPutIfAbsent(t *testing.T) {
	client := requireTestClient(t)
	ctx := context.Background()
	repo := NewIndexRepository(client)

	blockHash := "hash-" + time.Now().Format(time.RFC3339Nano)
	won, err := repo.ClaimBlock(ctx, nil, blockHash, 1)
	if err != nil {
		t.Fatalf("ClaimBlock: %v", err)
	}
	if !won {
		t.Fatal("expected the first claim to win")
	}

	won, err = repo.ClaimBlock(ctx, nil, blockHash, 1)
	if err != nil {
		t.Fatalf("ClaimBlock (second): %v", err)
	}
	if won {
		t.Fatal("expected a second claim on the same hash to lose")
	}

	claimed, err := repo.BlockClaimed(ctx, blockHash)
	if err != nil {
		t.Fatalf("BlockClaimed: %v", err)
	}
	if !claimed {
		t.Fatal("expected BlockClaimed to report true")
	}
}

var numberCounter int64 = 1_000_000

// uniqueNumber hands out a fresh, never-repeated block number within one
// test process, since the blocks table's primary key is the number itself
// and tests run against a shared database.
func uniqueNumber() int64 {
	numberCounter++
	return numberCounter
}
