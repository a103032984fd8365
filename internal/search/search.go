// Package search implements semantic, fulltext, and hybrid search over
// the stored mailbox, plus filter and analytics aggregation.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/nitinnat/gmail-parser/internal/embedding"
	"github.com/nitinnat/gmail-parser/internal/model"
	"github.com/nitinnat/gmail-parser/internal/store"
)

const (
	rrfK              = 60
	semanticWeight    = 0.7
	fulltextWeight    = 0.3
	hybridPoolFactor  = 10
)

// Result is one ranked search hit.
type Result struct {
	Email      model.Email
	Similarity float64
}

// Searcher answers semantic, fulltext, hybrid, and filtered queries over
// a Store using an embedding Model to encode query text.
type Searcher struct {
	db       *store.Store
	embedder *embedding.Model
}

// New builds a Searcher.
func New(db *store.Store, embedder *embedding.Model) *Searcher {
	return &Searcher{db: db, embedder: embedder}
}

func sortByDateDesc(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Email.DateTimestamp > results[j].Email.DateTimestamp
	})
}

// SemanticSearch encodes q and returns the store's nearest neighbors,
// converting distance to similarity and optionally filtering by a minimum
// similarity threshold. Results are sorted by date descending.
func (s *Searcher) SemanticSearch(ctx context.Context, q string, limit int, threshold float64) ([]Result, error) {
	vec := s.embedder.Encode(q)
	matches, err := s.db.QueryVector(ctx, vec, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		sim := 1 - m.Distance
		if threshold > 0 && sim < threshold {
			continue
		}
		results = append(results, Result{Email: m.Meta, Similarity: sim})
	}
	sortByDateDesc(results)
	return results, nil
}

// FulltextSearch performs a case-insensitive substring match on
// subject+document across every stored email. Acceptable at the local
// scale this system runs at (tens to hundreds of thousands of rows).
func (s *Searcher) FulltextSearch(ctx context.Context, q string, limit int) ([]Result, error) {
	emails, err := s.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}
	needle := strings.ToLower(q)
	var results []Result
	for _, e := range emails {
		haystack := strings.ToLower(e.Subject + " " + e.BodyText)
		if strings.Contains(haystack, needle) {
			results = append(results, Result{Email: e, Similarity: 1})
		}
	}
	sortByDateDesc(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// HybridSearch fuses SemanticSearch and FulltextSearch with Reciprocal
// Rank Fusion (k=60, semantic weight 0.7, fulltext weight 0.3), pulled
// from a pool of 10x limit results each. Fulltext-only ids that the RRF
// pass drops are prepended so exact substring hits are never lost, then
// the combined set is truncated to limit and sorted by date descending.
func (s *Searcher) HybridSearch(ctx context.Context, q string, limit int) ([]Result, error) {
	pool := limit * hybridPoolFactor
	if pool <= 0 {
		pool = hybridPoolFactor
	}

	semanticResults, err := s.SemanticSearch(ctx, q, pool, 0)
	if err != nil {
		return nil, err
	}
	fulltextResults, err := s.FulltextSearch(ctx, q, pool)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]model.Email, len(semanticResults)+len(fulltextResults))
	scores := make(map[string]float64)

	for rank, r := range semanticResults {
		byID[r.Email.GmailID] = r.Email
		scores[r.Email.GmailID] += semanticWeight / float64(rrfK+rank+1)
	}
	fulltextRank := make(map[string]int, len(fulltextResults))
	for rank, r := range fulltextResults {
		byID[r.Email.GmailID] = r.Email
		scores[r.Email.GmailID] += fulltextWeight / float64(rrfK+rank+1)
		fulltextRank[r.Email.GmailID] = rank
	}

	var fused []string
	for id := range scores {
		fused = append(fused, id)
	}
	sort.Slice(fused, func(i, j int) bool { return scores[fused[i]] > scores[fused[j]] })
	if limit > 0 && len(fused) > limit {
		fused = fused[:limit]
	}

	inFused := make(map[string]struct{}, len(fused))
	for _, id := range fused {
		inFused[id] = struct{}{}
	}

	var fulltextOnly []string
	for _, r := range fulltextResults {
		if _, ok := inFused[r.Email.GmailID]; !ok {
			fulltextOnly = append(fulltextOnly, r.Email.GmailID)
		}
	}
	sort.Slice(fulltextOnly, func(i, j int) bool { return fulltextRank[fulltextOnly[i]] < fulltextRank[fulltextOnly[j]] })

	combined := append(fulltextOnly, fused...)
	if limit > 0 && len(combined) > limit {
		combined = combined[:limit]
	}

	results := make([]Result, 0, len(combined))
	for _, id := range combined {
		results = append(results, Result{Email: byID[id], Similarity: scores[id]})
	}
	sortByDateDesc(results)
	return results, nil
}

// FilterEmails translates filters to a Where tree, fetches all matches
// (the store does not sort), sorts by date descending, and paginates.
func (s *Searcher) FilterEmails(ctx context.Context, filters model.SearchFilters, limit, offset int) ([]model.Email, error) {
	where := buildFilterWhere(filters)
	emails, err := s.db.GetEmails(ctx, where, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("filter emails: %w", err)
	}
	sort.SliceStable(emails, func(i, j int) bool { return emails[i].DateTimestamp > emails[j].DateTimestamp })

	if offset > len(emails) {
		return nil, nil
	}
	emails = emails[offset:]
	if limit > 0 && len(emails) > limit {
		emails = emails[:limit]
	}
	return emails, nil
}

func buildFilterWhere(f model.SearchFilters) model.Where {
	where := model.Where{}
	if f.Sender != "" {
		where["sender"] = map[string]any{"$contains": f.Sender}
	}
	if f.Label != "" {
		where["labels"] = map[string]any{"$contains": f.Label}
	}
	if f.Category != "" {
		where["category"] = f.Category
	}
	if f.SubjectContains != "" {
		where["subject"] = map[string]any{"$contains": f.SubjectContains}
	}
	if f.IsRead != nil {
		where["is_read"] = *f.IsRead
	}
	if f.IsStarred != nil {
		where["is_starred"] = *f.IsStarred
	}
	if f.HasAttachments != nil {
		where["has_attachments"] = *f.HasAttachments
	}
	if f.DateFrom != "" {
		where["date_iso"] = map[string]any{"$gte": f.DateFrom}
	}
	if f.DateTo != "" {
		if existing, ok := where["date_iso"].(map[string]any); ok {
			existing["$lte"] = f.DateTo
		} else {
			where["date_iso"] = map[string]any{"$lte": f.DateTo}
		}
	}
	if len(where) == 0 {
		return nil
	}
	return where
}
