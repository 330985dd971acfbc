package searchindex

import (
	"context"
	"strings"

	"github.com/coreledger/privledger/pkg/database"
	"github.com/coreledger/privledger/pkg/ledger"
)

// OffChainReader decrypts a block's off-chain payload for the exhaustive
// strategy, keeping this package free of a direct dependency on pkg/offchain
// and the signer's private key material.
type OffChainReader interface {
	ReadBlockBody(ctx context.Context, blockNumber int64) (string, error)
}

// SearchRequest bundles a query with the caller's supplied capabilities.
// HasPassword and HasSignerKey are explicit rather than inferred from
// Password being non-empty, since the empty string is itself a valid KDF
// input for blocks that carry no private terms.
type SearchRequest struct {
	Terms        []string
	Password     string
	HasPassword  bool
	HasSignerKey bool
	RequestMode  Mode
}

// Search routes req to the richest strategy its capabilities support (or an
// explicit RequestMode, if reachable) and returns matches ordered by
// relevance score, tie-broken by recency (spec §4.5). An empty, whitespace,
// or entirely-invalid term list returns an empty result set, not an error.
func (s *Store) Search(ctx context.Context, req SearchRequest, bodyReader OffChainReader) ([]Result, error) {
	terms := normalizeQueryTerms(req.Terms)
	if len(terms) == 0 {
		return nil, nil
	}

	caps := Capabilities{HasPassword: req.HasPassword, HasSignerKey: req.HasSignerKey}
	mode := Resolve(req.RequestMode, caps)

	q := &query{ctx: ctx, terms: terms, password: req.Password, mode: mode}

	reg := newRegistry(
		&fastPublicStrategy{repo: s.repo},
		&encryptedStrategy{repo: s.repo},
		&exhaustiveStrategy{repo: s.repo, bodyReader: bodyReader},
	)
	strat, err := reg.get(mode)
	if err != nil {
		return nil, ledger.NewError(ledger.KindInvalidInput, "resolve search strategy", err)
	}

	results, err := strat.search(q)
	if err != nil {
		return nil, err
	}
	sortResults(results)
	return results, nil
}

// fastPublicStrategy matches only against the plaintext public layer.
type fastPublicStrategy struct {
	repo *database.IndexRepository
}

func (*fastPublicStrategy) Mode() Mode { return ModeFastPublic }

func (f *fastPublicStrategy) search(q *query) ([]Result, error) {
	candidates, err := f.candidates(q)
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "query public index layer", err)
	}

	var results []Result
	for _, row := range candidates {
		score := scorePublicMatch(decodePublicTerms(row), q.terms)
		if score == 0 {
			continue
		}
		results = append(results, Result{
			BlockHash:   row.BlockHash,
			BlockNumber: row.BlockNumber,
			Score:       score,
			Timestamp:   row.PublicBucketTime,
			Snippet:     publicSnippet(row),
		})
	}
	return results, nil
}

// candidates fetches every index row whose public term set contains any of
// q's terms, one SearchPublicTerm lookup per term, deduplicated by block
// hash.
func (f *fastPublicStrategy) candidates(q *query) ([]*database.IndexEntryRow, error) {
	seen := make(map[string]*database.IndexEntryRow)
	for _, term := range q.terms {
		rows, err := f.repo.SearchPublicTerm(q.ctx, term)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			seen[row.BlockHash] = row
		}
	}
	out := make([]*database.IndexEntryRow, 0, len(seen))
	for _, row := range seen {
		out = append(out, row)
	}
	return out, nil
}

// encryptedStrategy additionally opens the private layer of every public
// candidate plus (since private terms are invisible to SearchPublicTerm)
// every row in range, reuniting matches from both layers.
type encryptedStrategy struct {
	repo *database.IndexRepository
}

func (*encryptedStrategy) Mode() Mode { return ModeEncrypted }

func (e *encryptedStrategy) search(q *query) ([]Result, error) {
	rows, err := e.repo.AllEntries(q.ctx, 0, int64(^uint64(0)>>1))
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "scan index for encrypted search", err)
	}

	var results []Result
	for _, row := range rows {
		publicScore := scorePublicMatch(decodePublicTerms(row), q.terms)

		payload, err := openPrivate(row, q.password)
		privateScore := 0
		var snippet string
		var ts = row.PublicBucketTime
		if err == nil {
			privateScore = scoreTermMatch(payload.Terms, q.terms)
			if privateScore > 0 {
				snippet = payload.Snippet
				ts = payload.Timestamp
			}
		} else if !ledger.IsKind(err, ledger.KindIntegrity) {
			return nil, err
		}

		score := publicScore + privateScore
		if score == 0 {
			continue
		}
		if snippet == "" {
			snippet = publicSnippet(row)
		}
		results = append(results, Result{
			BlockHash:   row.BlockHash,
			BlockNumber: row.BlockNumber,
			Score:       score,
			Timestamp:   ts,
			Snippet:     snippet,
			FromPrivate: privateScore > 0,
		})
	}
	return results, nil
}

// exhaustiveStrategy extends encryptedStrategy by also decrypting and
// substring-scanning each candidate's on-chain or off-chain body when
// neither layer already matched.
type exhaustiveStrategy struct {
	repo       *database.IndexRepository
	bodyReader OffChainReader
}

func (*exhaustiveStrategy) Mode() Mode { return ModeExhaustiveOffChain }

func (x *exhaustiveStrategy) search(q *query) ([]Result, error) {
	inner := &encryptedStrategy{repo: x.repo}
	results, err := inner.search(q)
	if err != nil {
		return nil, err
	}
	if x.bodyReader == nil {
		return results, nil
	}

	matched := make(map[string]bool, len(results))
	for _, r := range results {
		matched[r.BlockHash] = true
	}

	rows, err := x.repo.AllEntries(q.ctx, 0, int64(^uint64(0)>>1))
	if err != nil {
		return nil, ledger.NewError(ledger.KindStorage, "scan index for exhaustive search", err)
	}
	for _, row := range rows {
		if matched[row.BlockHash] {
			continue
		}
		body, err := x.bodyReader.ReadBlockBody(q.ctx, row.BlockNumber)
		if err != nil {
			continue // unreadable body (e.g. off-chain file missing) is skipped, not fatal
		}
		score := scoreBodyMatch(body, q.terms)
		if score == 0 {
			continue
		}
		results = append(results, Result{
			BlockHash:   row.BlockHash,
			BlockNumber: row.BlockNumber,
			Score:       score,
			Timestamp:   row.PublicBucketTime,
			Snippet:     snippetAround(body, q.terms),
			FromPrivate: true,
		})
	}
	return results, nil
}

func scorePublicMatch(indexed, query []string) int {
	return scoreTermMatch(indexed, query)
}

func scoreTermMatch(indexed, query []string) int {
	set := make(map[string]bool, len(indexed))
	for _, t := range indexed {
		set[t] = true
	}
	score := 0
	for _, q := range query {
		if set[q] {
			score++
		}
	}
	return score
}

func scoreBodyMatch(body string, query []string) int {
	lower := strings.ToLower(body)
	score := 0
	for _, q := range query {
		score += strings.Count(lower, q)
	}
	return score
}

func publicSnippet(row *database.IndexEntryRow) string {
	return row.PublicCategory
}

func snippetAround(body string, terms []string) string {
	lower := strings.ToLower(body)
	for _, t := range terms {
		if idx := strings.Index(lower, t); idx >= 0 {
			start := idx - 20
			if start < 0 {
				start = 0
			}
			end := idx + len(t) + 20
			if end > len(body) {
				end = len(body)
			}
			return body[start:end]
		}
	}
	return ""
}
