package searchindex

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/coreledger/privledger/pkg/cryptoprim"
	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
)

// BucketTruncation is the granularity the public layer's timestamp is
// truncated to, so a public-only reader learns roughly when a block was
// appended without learning its exact instant.
const BucketTruncation = time.Hour

// Entry is what a caller supplies to index one freshly appended block.
type Entry struct {
	BlockHash   string
	BlockNumber int64
	Data        string
	ManualTerms []string
	Visibility  ledger.TermVisibilityMap
	Category    string
	Timestamp   time.Time
	Owner       string
	Snippet     string
	Password    string // required whenever any term is classified private
}

// Store is the two-layer search index over pkg/database's persistence.
type Store struct {
	repo  *database.IndexRepository
	clock ledger.Clock
}

// New builds a Store over the given repository.
func New(repo *database.IndexRepository) *Store {
	return &Store{repo: repo, clock: ledger.SystemClock{}}
}

// WithClock overrides the Store's time source, used by tests.
func (s *Store) WithClock(clock ledger.Clock) *Store {
	s.clock = clock
	return s
}

// Index builds and persists the two-layer entry for one block (spec §4.5,
// §4.6 steps 9-10). tx, when non-nil, makes the insert part of the caller's
// append transaction. claimed reports whether this call actually reserved
// the block hash in the indexing-protection map; when false, the block was
// already claimed by another worker and no row was written — the caller
// should treat this as success, not failure.
func (s *Store) Index(ctx context.Context, tx *database.Tx, e Entry) (claimed bool, err error) {
	won, err := s.repo.ClaimBlock(ctx, tx, e.BlockHash, e.BlockNumber)
	if err != nil {
		return false, ledger.NewError(ledger.KindStorage, "reserve block for indexing", err)
	}
	if !won {
		return false, nil
	}

	public, private := ClassifyTerms(e.Data, e.ManualTerms, e.Visibility)

	publicJSON, err := json.Marshal(public)
	if err != nil {
		return false, ledger.NewError(ledger.KindInvalidInput, "serialize public terms", err)
	}

	payload := ledger.PrivatePayload{
		Terms:     private,
		Timestamp: e.Timestamp,
		Owner:     e.Owner,
		Snippet:   e.Snippet,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return false, ledger.NewError(ledger.KindInvalidInput, "serialize private payload", err)
	}

	// An empty password is a valid KDF input: blocks with no private terms
	// still get a private-layer entry, sealed under the empty password, so
	// Encrypted/ExhaustiveOffChain search with a blank password still finds
	// them (they simply never match any private term).
	salt, err := cryptoprim.RandomBytes(cryptoprim.KDFSaltSizeBytes)
	if err != nil {
		return false, err
	}
	key := cryptoprim.DeriveKey(e.Password, salt)
	iv, ciphertext, err := cryptoprim.AESGCMEncrypt(key, payloadJSON, []byte(e.BlockHash))
	if err != nil {
		return false, err
	}

	_, err = s.repo.Insert(ctx, tx, &database.NewIndexEntry{
		BlockHash:        e.BlockHash,
		BlockNumber:      e.BlockNumber,
		PublicTerms:      string(publicJSON),
		PublicCategory:   e.Category,
		PublicBucketTime: e.Timestamp.Truncate(BucketTruncation),
		PrivateCipher:    ciphertext,
		PrivateIV:        iv,
		PrivateSalt:      salt,
	})
	if err != nil {
		return false, ledger.NewError(ledger.KindStorage, "persist index entry", err)
	}
	return true, nil
}

// openPrivate decrypts row's private layer under password. Failure to
// authenticate (wrong password) surfaces as an IntegrityError, which callers
// in the search path treat as "no match" rather than propagating.
func openPrivate(row *database.IndexEntryRow, password string) (*ledger.PrivatePayload, error) {
	key := cryptoprim.DeriveKey(password, row.PrivateSalt)
	plaintext, err := cryptoprim.AESGCMDecrypt(key, row.PrivateIV, row.PrivateCipher, []byte(row.BlockHash))
	if err != nil {
		return nil, err
	}
	var payload ledger.PrivatePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, ledger.NewError(ledger.KindIntegrity, "malformed private index payload", err)
	}
	return &payload, nil
}

func decodePublicTerms(row *database.IndexEntryRow) []string {
	var terms []string
	_ = json.Unmarshal([]byte(row.PublicTerms), &terms)
	return terms
}

// Result is one match returned by Search.
type Result struct {
	BlockHash    string
	BlockNumber  int64
	Score        int
	Timestamp    time.Time
	Snippet      string
	FromPrivate  bool
}

// query bundles a search request together with the capabilities a caller
// provided, for the strategy implementations.
type query struct {
	ctx      context.Context
	terms    []string
	password string
	mode     Mode
}

func normalizeQueryTerms(terms []string) []string {
	var out []string
	for _, t := range terms {
		if IsValidSearchTerm(t) {
			out = append(out, strings.ToLower(strings.TrimSpace(t)))
		}
	}
	return out
}

func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Timestamp.After(results[j].Timestamp)
	})
}
