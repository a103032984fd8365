package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nitinnat/gmail-parser/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleEmails() []model.Email {
	return []model.Email{
		{GmailID: "1", ThreadID: "t1", Sender: "a@b.com", Subject: "hello", DateISO: "2024-01-01T00:00:00Z", DateTimestamp: 1704067200, Category: "Other"},
		{GmailID: "2", ThreadID: "t2", Sender: "c@d.com", Subject: "world", DateISO: "2024-01-02T00:00:00Z", DateTimestamp: 1704153600, Category: "Shopping & Orders", ListUnsubscribe: "<https://unsub.example.com>"},
	}
}

func TestUpsertAndCountEmails(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertEmails(ctx, sampleEmails(), nil); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	count, err := s.CountEmails(ctx, nil)
	if err != nil {
		t.Fatalf("CountEmails: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2, got %d", count)
	}

	emails, err := s.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		t.Fatalf("GetEmails: %v", err)
	}
	if len(emails) != 2 {
		t.Fatalf("expected 2 loaded, got %d", len(emails))
	}
}

func TestUpsertEmailsUpdatesExisting(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	emails := sampleEmails()
	if err := s.UpsertEmails(ctx, emails, nil); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	emails[0].Subject = "updated"
	if err := s.UpsertEmails(ctx, emails[:1], nil); err != nil {
		t.Fatalf("UpsertEmails update: %v", err)
	}

	got, ok, err := s.GetEmail(ctx, "1")
	if err != nil {
		t.Fatalf("GetEmail: %v", err)
	}
	if !ok {
		t.Fatal("expected email 1 to exist")
	}
	if got.Subject != "updated" {
		t.Fatalf("expected updated subject, got %q", got.Subject)
	}
}

func TestDeleteEmailsCascadesExpenses(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	emails := sampleEmails()
	if err := s.UpsertEmails(ctx, emails, nil); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}
	expenses := []model.Expense{
		{ID: "1", Amount: 42.5, Currency: "USD", Merchant: "Whole Foods", SourceGmailID: "1", ThreadID: "t1"},
	}
	if err := s.UpsertExpenses(ctx, expenses); err != nil {
		t.Fatalf("UpsertExpenses: %v", err)
	}

	if err := s.DeleteEmails(ctx, []string{"1"}); err != nil {
		t.Fatalf("DeleteEmails: %v", err)
	}

	count, _ := s.CountEmails(ctx, nil)
	if count != 1 {
		t.Fatalf("expected 1 after delete, got %d", count)
	}
	expCount, _ := s.CountExpenses(ctx, nil)
	if expCount != 0 {
		t.Fatalf("expected cascading expense delete, got %d remaining", expCount)
	}
}

func TestGetExistingIDs(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	if err := s.UpsertEmails(ctx, sampleEmails(), nil); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	existing, err := s.GetExistingIDs(ctx, []string{"1", "2", "3"})
	if err != nil {
		t.Fatalf("GetExistingIDs: %v", err)
	}
	if len(existing) != 2 {
		t.Fatalf("expected 2 existing ids, got %d", len(existing))
	}
	if _, ok := existing["3"]; ok {
		t.Fatal("id 3 should not be reported existing")
	}
}

func TestSyncState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	st, err := s.GetSyncState(ctx)
	if err != nil {
		t.Fatalf("GetSyncState: %v", err)
	}
	if st.LastHistoryID != "" {
		t.Fatalf("expected empty history id, got %q", st.LastHistoryID)
	}

	st.LastHistoryID = "12345"
	st.TotalEmailsSynced = 10
	if err := s.SetSyncState(ctx, st); err != nil {
		t.Fatalf("SetSyncState: %v", err)
	}

	got, err := s.GetSyncState(ctx)
	if err != nil {
		t.Fatalf("GetSyncState reload: %v", err)
	}
	if got.LastHistoryID != "12345" || got.TotalEmailsSynced != 10 {
		t.Fatalf("unexpected state after reload: %+v", got)
	}
}

func TestQueryVectorOrdersByDistance(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	emails := sampleEmails()
	vectors := map[string][]float32{
		"1": {1, 0, 0},
		"2": {0, 1, 0},
	}
	if err := s.UpsertEmails(ctx, emails, vectors); err != nil {
		t.Fatalf("UpsertEmails: %v", err)
	}

	results, err := s.QueryVector(ctx, []float32{1, 0, 0}, 2, nil)
	if err != nil {
		t.Fatalf("QueryVector: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != "1" {
		t.Fatalf("expected closest match first, got %q", results[0].ID)
	}
}

func TestLabelsRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	labels := []model.Label{
		{ID: "Label_1", Name: "Work", Type: model.LabelTypeUser, Visible: true},
		{ID: "INBOX", Name: "INBOX", Type: model.LabelTypeSystem, Visible: true},
	}
	if err := s.UpsertLabels(ctx, labels); err != nil {
		t.Fatalf("UpsertLabels: %v", err)
	}

	got, err := s.ListLabels(ctx)
	if err != nil {
		t.Fatalf("ListLabels: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 labels, got %d", len(got))
	}

	name, err := s.LabelNameByID(ctx, "Label_1")
	if err != nil {
		t.Fatalf("LabelNameByID: %v", err)
	}
	if name != "Work" {
		t.Fatalf("expected Work, got %q", name)
	}
}

func TestWrapUnwrapLabels(t *testing.T) {
	wrapped := WrapLabels([]string{"INBOX", "Work"})
	if wrapped != "|INBOX|Work|" {
		t.Fatalf("unexpected wrapping: %q", wrapped)
	}
	if got := UnwrapLabels(wrapped); len(got) != 2 || got[0] != "INBOX" || got[1] != "Work" {
		t.Fatalf("unexpected unwrap: %#v", got)
	}
	if WrapLabels(nil) != "" {
		t.Fatal("expected empty wrap for no labels")
	}
}
