package jsonstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nitinnat/gmail-parser/internal/categorize"
	"github.com/nitinnat/gmail-parser/internal/model"
	"github.com/nitinnat/gmail-parser/internal/store"
)

func TestSenderCategories_RoundTrip(t *testing.T) {
	s := New(t.TempDir())
	if err := s.SetSenderCategory("alerts@uscis.gov", categorize.Immigration); err != nil {
		t.Fatalf("SetSenderCategory: %v", err)
	}
	overrides, err := s.SenderCategories()
	if err != nil {
		t.Fatalf("SenderCategories: %v", err)
	}
	if overrides["alerts@uscis.gov"] != categorize.Immigration {
		t.Fatalf("expected override persisted, got %#v", overrides)
	}
}

func TestAlertRules_DedupesOnSave(t *testing.T) {
	s := New(t.TempDir())
	out, err := s.SetAlertRules(AlertRules{Senders: []SenderRule{
		{Sender: "a@b.com", Note: "first"},
		{Sender: "a@b.com", Note: "duplicate"},
		{Sender: "c@d.com"},
	}})
	if err != nil {
		t.Fatalf("SetAlertRules: %v", err)
	}
	if len(out.Senders) != 2 {
		t.Fatalf("expected 2 deduped senders, got %#v", out.Senders)
	}

	loaded, err := s.AlertRules()
	if err != nil {
		t.Fatalf("AlertRules: %v", err)
	}
	if len(loaded.Senders) != 2 {
		t.Fatalf("expected persisted dedup, got %#v", loaded.Senders)
	}
}

func TestExpenseRules_SeedsDefaultsWhenMissing(t *testing.T) {
	s := New(t.TempDir())
	rules, err := s.ExpenseRules()
	if err != nil {
		t.Fatalf("ExpenseRules: %v", err)
	}
	if len(rules.Rules) == 0 {
		t.Fatal("expected seeded default rules")
	}
	found := false
	for _, r := range rules.Rules {
		if r.Name == "Chase Transactions" && r.System {
			found = true
		}
	}
	if !found {
		t.Fatal("expected built-in Chase Transactions rule")
	}
}

func TestDismissedActions_AddIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	if err := s.DismissAction("m1:pay invoice"); err != nil {
		t.Fatalf("DismissAction: %v", err)
	}
	if err := s.DismissAction("m1:pay invoice"); err != nil {
		t.Fatalf("DismissAction repeat: %v", err)
	}
	keys, err := s.DismissedActions()
	if err != nil {
		t.Fatalf("DismissedActions: %v", err)
	}
	if len(keys) != 1 {
		t.Fatalf("expected 1 deduped key, got %#v", keys)
	}
}

func TestAllowlist_RoundTrip(t *testing.T) {
	s := New(t.TempDir())
	if a, err := s.Allowlist(); err != nil || a.Email != "" {
		t.Fatalf("expected empty allowlist, got %#v err=%v", a, err)
	}
	if err := s.SetAllowlist("user@example.com"); err != nil {
		t.Fatalf("SetAllowlist: %v", err)
	}
	a, err := s.Allowlist()
	if err != nil {
		t.Fatalf("Allowlist: %v", err)
	}
	if a.Email != "user@example.com" {
		t.Fatalf("expected persisted email, got %q", a.Email)
	}
}

func TestDeleteCustomCategory_ReassignsEmails(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "jsonstore.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()

	if err := db.UpsertEmails(ctx, []model.Email{
		{GmailID: "1", Category: "Side Projects"},
		{GmailID: "2", Category: categorize.Personal},
	}, nil); err != nil {
		t.Fatalf("seed emails: %v", err)
	}

	s := New(t.TempDir())
	if err := s.SetCustomCategory("Side Projects", "things I'm building"); err != nil {
		t.Fatalf("SetCustomCategory: %v", err)
	}

	n, err := s.DeleteCustomCategory(ctx, db, "Side Projects")
	if err != nil {
		t.Fatalf("DeleteCustomCategory: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row reassigned, got %d", n)
	}

	email, ok, err := db.GetEmail(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("GetEmail: %v ok=%v", err, ok)
	}
	if email.Category != categorize.Other {
		t.Fatalf("expected reassignment to Other, got %q", email.Category)
	}

	categories, err := s.CustomCategories()
	if err != nil {
		t.Fatalf("CustomCategories: %v", err)
	}
	if _, exists := categories["Side Projects"]; exists {
		t.Fatal("expected Side Projects removed from custom_categories.json")
	}
}
