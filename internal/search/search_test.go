package search

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nitinnat/gmail-parser/internal/embedding"
	"github.com/nitinnat/gmail-parser/internal/model"
	"github.com/nitinnat/gmail-parser/internal/store"
)

func newTestSearcher(t *testing.T) (*Searcher, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "search.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, embedding.NewModel(32)), db
}

func seedEmails(t *testing.T, db *store.Store, embedder *embedding.Model) {
	t.Helper()
	ctx := context.Background()
	emails := []model.Email{
		{GmailID: "1", ThreadID: "t1", Sender: "a@b.com", Subject: "Your invoice is ready", BodyText: "invoice body", DateISO: "2024-01-03T00:00:00Z", DateTimestamp: 1704240000},
		{GmailID: "2", ThreadID: "t2", Sender: "c@d.com", Subject: "Weekend plans", BodyText: "let's go hiking", DateISO: "2024-01-02T00:00:00Z", DateTimestamp: 1704153600},
		{GmailID: "3", ThreadID: "t3", Sender: "e@f.com", Subject: "Receipt attached", BodyText: "invoice total $42", DateISO: "2024-01-01T00:00:00Z", DateTimestamp: 1704067200},
	}
	vectors := map[string][]float32{}
	for _, e := range emails {
		vectors[e.GmailID] = embedder.Encode(embedding.PrepareEmailText(e.Subject, e.BodyText, e.Sender))
	}
	if err := db.UpsertEmails(ctx, emails, vectors); err != nil {
		t.Fatalf("seed emails: %v", err)
	}
}

func TestFulltextSearch_MatchesSubjectAndBody(t *testing.T) {
	s, db := newTestSearcher(t)
	seedEmails(t, db, embedding.NewModel(32))

	results, err := s.FulltextSearch(context.Background(), "invoice", 10)
	if err != nil {
		t.Fatalf("FulltextSearch: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].Email.GmailID != "1" {
		t.Fatalf("expected newest match first, got %q", results[0].Email.GmailID)
	}
}

func TestSemanticSearch_ReturnsAllWithinPool(t *testing.T) {
	s, db := newTestSearcher(t)
	seedEmails(t, db, embedding.NewModel(32))

	results, err := s.SemanticSearch(context.Background(), "invoice", 10, 0)
	if err != nil {
		t.Fatalf("SemanticSearch: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
}

func TestHybridSearch_PrependsFulltextOnlyHits(t *testing.T) {
	s, db := newTestSearcher(t)
	seedEmails(t, db, embedding.NewModel(32))

	results, err := s.HybridSearch(context.Background(), "invoice", 5)
	if err != nil {
		t.Fatalf("HybridSearch: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one hybrid result")
	}
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.Email.GmailID] = true
	}
	if !ids["1"] || !ids["3"] {
		t.Fatalf("expected both emails mentioning invoice present, got %#v", ids)
	}
}

func TestFilterEmails_SortsByDateDescendingAndPaginates(t *testing.T) {
	s, db := newTestSearcher(t)
	seedEmails(t, db, embedding.NewModel(32))

	results, err := s.FilterEmails(context.Background(), model.SearchFilters{}, 2, 0)
	if err != nil {
		t.Fatalf("FilterEmails: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].GmailID != "1" || results[1].GmailID != "2" {
		t.Fatalf("expected newest-first pagination, got %v, %v", results[0].GmailID, results[1].GmailID)
	}
}

func TestFilterEmails_BySender(t *testing.T) {
	s, db := newTestSearcher(t)
	seedEmails(t, db, embedding.NewModel(32))

	results, err := s.FilterEmails(context.Background(), model.SearchFilters{Sender: "a@b.com"}, 0, 0)
	if err != nil {
		t.Fatalf("FilterEmails: %v", err)
	}
	if len(results) != 1 || results[0].GmailID != "1" {
		t.Fatalf("expected only email 1, got %#v", results)
	}
}
