package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nitinnat/gmail-parser/internal/categorize"
	"github.com/nitinnat/gmail-parser/internal/model"
	"github.com/nitinnat/gmail-parser/internal/store"
)

func newTestAnalytics(t *testing.T) (*Analytics, *store.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "analytics.db")
	db, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAnalytics(db, NewCache()), db
}

func TestOverview_CountsAndExcludesNoise(t *testing.T) {
	a, db := newTestAnalytics(t)
	ctx := context.Background()

	emails := []model.Email{
		{GmailID: "1", Sender: "a@b.com", Category: categorize.Shopping, IsRead: false, DateISO: "2024-01-01T00:00:00Z"},
		{GmailID: "2", Sender: "b@c.com", Category: categorize.Shopping, IsRead: true, IsStarred: true, DateISO: "2024-01-02T00:00:00Z"},
		{GmailID: "3", Sender: "c@d.com", Category: categorize.NOISE, DateISO: "2024-01-03T00:00:00Z"},
	}
	if err := db.UpsertEmails(ctx, emails, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	overview, err := a.Overview(ctx)
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if overview.Total != 3 {
		t.Fatalf("expected total 3, got %d", overview.Total)
	}
	if overview.Unread != 1 {
		t.Fatalf("expected unread 1, got %d", overview.Unread)
	}
	if overview.Starred != 1 {
		t.Fatalf("expected starred 1, got %d", overview.Starred)
	}
	for _, c := range overview.Categories {
		if c.Category == categorize.NOISE {
			t.Fatal("expected NOISE excluded from category breakdown")
		}
	}
}

func TestSenderAnalytics_FlagsSubscriptionByKeyword(t *testing.T) {
	a, db := newTestAnalytics(t)
	ctx := context.Background()

	emails := []model.Email{
		{GmailID: "1", Sender: "noreply@service.com", Category: categorize.Newsletters},
		{GmailID: "2", Sender: "friend@gmail.com", Category: categorize.Personal},
	}
	if err := db.UpsertEmails(ctx, emails, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := a.SenderAnalytics(ctx, 0)
	if err != nil {
		t.Fatalf("SenderAnalytics: %v", err)
	}
	bySender := map[string]SenderStat{}
	for _, s := range stats {
		bySender[s.Sender] = s
	}
	if !bySender["noreply@service.com"].IsSubscription {
		t.Fatal("expected noreply sender to be flagged as subscription")
	}
	if bySender["friend@gmail.com"].IsSubscription {
		t.Fatal("expected friend sender to not be flagged as subscription")
	}
}

func TestSenderAnalytics_FlagsSubscriptionByFrequency(t *testing.T) {
	a, db := newTestAnalytics(t)
	ctx := context.Background()

	var emails []model.Email
	for i := 0; i < 5; i++ {
		emails = append(emails, model.Email{GmailID: string(rune('a' + i)), Sender: "frequent@example.com", Category: categorize.Other})
	}
	if err := db.UpsertEmails(ctx, emails, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := a.SenderAnalytics(ctx, 0)
	if err != nil {
		t.Fatalf("SenderAnalytics: %v", err)
	}
	if len(stats) != 1 || !stats[0].IsSubscription {
		t.Fatalf("expected frequent sender flagged as subscription, got %#v", stats)
	}
}

func TestTriage_BucketsByCategoryAndRecency(t *testing.T) {
	a, db := newTestAnalytics(t)
	ctx := context.Background()

	recent := time.Now().UTC().AddDate(0, 0, -1).Format(time.RFC3339)
	stale := time.Now().UTC().AddDate(0, 0, -30).Format(time.RFC3339)

	emails := []model.Email{
		{GmailID: "1", Sender: "friend@gmail.com", Subject: "lunch?", Category: categorize.Personal, DateISO: recent, IsRead: true},
		{GmailID: "2", Sender: "alerts@uscis.gov", Subject: "Case update", Category: categorize.Immigration, DateISO: recent, IsRead: true},
		{GmailID: "3", Sender: "old@example.com", Subject: "ancient", Category: categorize.Other, DateISO: stale, IsRead: false},
	}
	if err := db.UpsertEmails(ctx, emails, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	result, err := a.Triage(ctx, 7)
	if err != nil {
		t.Fatalf("Triage: %v", err)
	}
	if len(result["reply"]) != 1 || result["reply"][0].ID != "1" {
		t.Fatalf("expected email 1 in reply bucket, got %#v", result["reply"])
	}
	if len(result["do"]) != 1 || result["do"][0].ID != "2" {
		t.Fatalf("expected email 2 in do bucket, got %#v", result["do"])
	}
	if len(result["read"]) != 0 {
		t.Fatalf("expected stale email excluded from read bucket, got %#v", result["read"])
	}
}

func TestAlerts_EmptyPinnedSendersReturnsNil(t *testing.T) {
	a, _ := newTestAnalytics(t)
	alerts, err := a.Alerts(context.Background(), nil, 100)
	if err != nil {
		t.Fatalf("Alerts: %v", err)
	}
	if alerts != nil {
		t.Fatalf("expected nil, got %#v", alerts)
	}
}

func TestCache_SetGetInvalidate(t *testing.T) {
	c := NewCache()
	c.Set("k", 42, time.Minute)
	if v, ok := c.Get("k"); !ok || v.(int) != 42 {
		t.Fatalf("expected cached 42, got %v ok=%v", v, ok)
	}
	c.Invalidate("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected cache miss after invalidate")
	}
}
