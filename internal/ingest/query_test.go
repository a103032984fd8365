package ingest

import (
	"testing"
	"time"
)

func TestBuildTimeQuery_JoinsOperators(t *testing.T) {
	after := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	got := BuildTimeQuery(TimeQuery{Query: "from:boss@work.com", After: &after, NewerThan: "30d"})
	want := "from:boss@work.com after:1704067200 newer_than:30d"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestBuildTimeQuery_DaysAgoOverridesAfter(t *testing.T) {
	after := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	days := 7
	got := BuildTimeQuery(TimeQuery{After: &after, DaysAgo: &days})
	if got == "" {
		t.Fatal("expected a non-empty query")
	}
	staleClause := "after:946684800"
	if contains(got, staleClause) {
		t.Fatalf("expected DaysAgo to override the stale After timestamp, got %q", got)
	}
}

func TestBuildTimeQuery_Empty(t *testing.T) {
	if got := BuildTimeQuery(TimeQuery{}); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestEffectiveQuery_PrependsTrashSpamExclusion(t *testing.T) {
	if got := effectiveQuery(""); got != "-in:trash -in:spam" {
		t.Fatalf("unexpected base query: %q", got)
	}
	if got := effectiveQuery("is:unread"); got != "-in:trash -in:spam is:unread" {
		t.Fatalf("unexpected combined query: %q", got)
	}
}

func contains(s, sub string) bool {
	return len(s) >= len(sub) && indexOf(s, sub) >= 0
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
