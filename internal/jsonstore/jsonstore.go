// Package jsonstore persists the small rule and override files that live
// alongside the sqlite database: sender/subject/custom category overrides,
// alert rules, inbox rules, expense rules, dismissed action-item keys, and
// the dashboard allowlist. Every file is read in full and written back in
// full — there is no partial/CRUD route, matching the reference
// dashboard's file-backed config scope.
package jsonstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/nitinnat/gmail-parser/internal/categorize"
	"github.com/nitinnat/gmail-parser/internal/store"
)

// SenderRule pins an alert sender with an optional note.
type SenderRule struct {
	Sender string `json:"sender"`
	Note   string `json:"note"`
}

// AlertRules is the contents of alert_rules.json.
type AlertRules struct {
	Senders []SenderRule `json:"senders"`
}

// RuleActions is the effect an InboxRule applies on match.
type RuleActions struct {
	MarkRead bool   `json:"mark_read"`
	Trash    bool   `json:"trash"`
	Label    string `json:"label,omitempty"`
}

// InboxRule matches incoming mail by sender, keyword, or label and applies
// RuleActions to every match.
type InboxRule struct {
	Name    string      `json:"name"`
	Senders []string    `json:"senders"`
	Keywords []string   `json:"keywords"`
	Labels  []string    `json:"labels"`
	Actions RuleActions `json:"actions"`
}

// InboxRules is the contents of inbox_rules.json.
type InboxRules struct {
	Rules []InboxRule `json:"rules"`
}

// ExpenseRule reclassifies extracted transactions into a spending category.
type ExpenseRule struct {
	Name            string   `json:"name"`
	Senders         []string `json:"senders"`
	Keywords        []string `json:"keywords"`
	Labels          []string `json:"labels"`
	MatchCategories []string `json:"match_categories"`
	Category        string   `json:"category"`
	System          bool     `json:"system"`
}

// ExpenseRules is the contents of expense_rules.json.
type ExpenseRules struct {
	Rules      []ExpenseRule `json:"rules"`
	IncludeIDs []string      `json:"include_ids"`
}

// defaultExpenseRules is the built-in bank/card transaction rule set that
// ExpenseRules returns while expense_rules.json does not exist.
func defaultExpenseRules() ExpenseRules {
	sys := func(name, keyword string) ExpenseRule {
		return ExpenseRule{Name: name, Keywords: []string{keyword}, Category: "Uncategorized", System: true}
	}
	return ExpenseRules{
		Rules: []ExpenseRule{
			sys("Chase Transactions", "you made a $"),
			sys("Privacy.com", "was authorized at"),
			sys("Amex Large Purchases", "large purchase approved"),
			sys("WF Credit Card", "credit card purchase of"),
			{Name: "Custom Senders", Category: "Uncategorized"},
		},
	}
}

// Allowlist is dashboard_allowlist.json: the single email address permitted
// to authenticate, set on first successful login.
type Allowlist struct {
	Email string `json:"email"`
}

// Store reads and writes the JSON config files rooted at dir, and guards
// the sender-category override table with a mutex since it is consulted
// on every categorization call during ingest.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New builds a Store rooted at dir (the same directory as the sqlite file).
func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readJSON decodes name into v, leaving v untouched if the file is absent.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// writeJSON encodes v and replaces path atomically via a temp-file rename,
// matching the Gmail token persistence discipline in internal/gmailapi.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// SenderCategories returns the sender -> category override table from
// sender_categories.json.
func (s *Store) SenderCategories() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	if err := readJSON(s.path("sender_categories.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSenderCategory pins sender to category and persists the table.
func (s *Store) SetSenderCategory(sender, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	overrides := map[string]string{}
	if err := readJSON(s.path("sender_categories.json"), &overrides); err != nil {
		return err
	}
	overrides[sender] = category
	return writeJSON(s.path("sender_categories.json"), overrides)
}

// SubjectCategories returns the exact-subject -> category override
// table from subject_categories.json.
func (s *Store) SubjectCategories() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	if err := readJSON(s.path("subject_categories.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSubjectCategory pins an exact subject to category and persists the table.
func (s *Store) SetSubjectCategory(subject, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	overrides := map[string]string{}
	if err := readJSON(s.path("subject_categories.json"), &overrides); err != nil {
		return err
	}
	overrides[subject] = category
	return writeJSON(s.path("subject_categories.json"), overrides)
}

// CustomCategories returns the name -> description table of user-defined
// categories from custom_categories.json.
func (s *Store) CustomCategories() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]string{}
	if err := readJSON(s.path("custom_categories.json"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetCustomCategory defines or updates a custom category.
func (s *Store) SetCustomCategory(name, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	categories := map[string]string{}
	if err := readJSON(s.path("custom_categories.json"), &categories); err != nil {
		return err
	}
	categories[name] = description
	return writeJSON(s.path("custom_categories.json"), categories)
}

// DeleteCustomCategory removes name from custom_categories.json and
// reassigns every email row carrying that category to categorize.Other,
// matching the config round-trip invariant: deleting a category must not
// leave orphaned rows behind.
func (s *Store) DeleteCustomCategory(ctx context.Context, db *store.Store, name string) (int, error) {
	s.mu.Lock()
	categories := map[string]string{}
	if err := readJSON(s.path("custom_categories.json"), &categories); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	delete(categories, name)
	err := writeJSON(s.path("custom_categories.json"), categories)
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return db.ReassignCategory(ctx, name, categorize.Other)
}

// AlertRules returns the pinned-sender alert rules, defaulting to an empty
// set if alert_rules.json has never been written.
func (s *Store) AlertRules() (AlertRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := AlertRules{Senders: []SenderRule{}}
	if err := readJSON(s.path("alert_rules.json"), &rules); err != nil {
		return AlertRules{}, err
	}
	return rules, nil
}

// SetAlertRules persists rules, deduplicating by sender before writing.
func (s *Store) SetAlertRules(rules AlertRules) (AlertRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]struct{}{}
	deduped := make([]SenderRule, 0, len(rules.Senders))
	for _, r := range rules.Senders {
		if _, ok := seen[r.Sender]; ok {
			continue
		}
		seen[r.Sender] = struct{}{}
		deduped = append(deduped, r)
	}
	out := AlertRules{Senders: deduped}
	if err := writeJSON(s.path("alert_rules.json"), out); err != nil {
		return AlertRules{}, err
	}
	return out, nil
}

// InboxRules returns the mailbox automation rule set.
func (s *Store) InboxRules() (InboxRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules := InboxRules{Rules: []InboxRule{}}
	if err := readJSON(s.path("inbox_rules.json"), &rules); err != nil {
		return InboxRules{}, err
	}
	return rules, nil
}

// SetInboxRules replaces the mailbox automation rule set.
func (s *Store) SetInboxRules(rules InboxRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("inbox_rules.json"), rules)
}

// ExpenseRules returns the transaction-classification rule set, or the
// built-in bank/card rules when expense_rules.json does not exist. The
// defaults are not written to disk; the file appears on SetExpenseRules.
func (s *Store) ExpenseRules() (ExpenseRules, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.path("expense_rules.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return defaultExpenseRules(), nil
	}
	var rules ExpenseRules
	if err := readJSON(path, &rules); err != nil {
		return ExpenseRules{}, err
	}
	return rules, nil
}

// SetExpenseRules replaces the transaction-classification rule set.
func (s *Store) SetExpenseRules(rules ExpenseRules) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("expense_rules.json"), rules)
}

// DismissedActions returns the set of "<gmail_id>:<action_text>" keys
// hidden from the action-items view.
func (s *Store) DismissedActions() (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	if err := readJSON(s.path("dismissed_actions.json"), &keys); err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out, nil
}

// DismissAction adds key to the dismissed set and persists it.
func (s *Store) DismissAction(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	if err := readJSON(s.path("dismissed_actions.json"), &keys); err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	keys = append(keys, key)
	return writeJSON(s.path("dismissed_actions.json"), keys)
}

// Allowlist returns the dashboard allowlist, or a zero-value Allowlist if
// no one has logged in yet.
func (s *Store) Allowlist() (Allowlist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var a Allowlist
	if err := readJSON(s.path("dashboard_allowlist.json"), &a); err != nil {
		return Allowlist{}, err
	}
	return a, nil
}

// SetAllowlist records email as the sole authorized dashboard user. Called
// once, on the first successful OAuth login, when no allowed_email setting
// and no existing allowlist file are present.
func (s *Store) SetAllowlist(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(s.path("dashboard_allowlist.json"), Allowlist{Email: email})
}
