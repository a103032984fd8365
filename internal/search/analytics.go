package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nitinnat/gmail-parser/internal/categorize"
	"github.com/nitinnat/gmail-parser/internal/store"
)

var subscriptionRE = regexp.MustCompile(`(?i)noreply|no-reply|newsletter|notifications?|updates?|donotreply|marketing|digest|news@`)

var subscriptionLabels = map[string]struct{}{
	"CATEGORY_PROMOTIONS": {},
	"CATEGORY_SOCIAL":     {},
	"CATEGORY_UPDATES":    {},
}

var replyCategories = map[string]struct{}{
	categorize.Personal: {},
	categorize.Jobs:     {},
}

var doCategories = map[string]struct{}{
	categorize.Immigration: {},
	categorize.Taxes:       {},
	categorize.Health:      {},
	categorize.Security:    {},
	categorize.Government:  {},
}

var doKeywordsRE = regexp.MustCompile(`(?i)\b(expires?d?|due|deadline|confirm|verify|action required|urgent|remind(er)?|renew|pay(ment)?|invoice|sign|complete|submit|required|overdue|appointment|schedule|register|enroll)\b`)

var emailDomainRE = regexp.MustCompile(`@([\w.\-]+)`)

// CategoryCount is one entry of a category breakdown.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Overview is the dashboard landing aggregation.
type Overview struct {
	Total              int              `json:"total"`
	Unread             int              `json:"unread"`
	Starred            int              `json:"starred"`
	SubscriptionCount  int              `json:"subscription_count"`
	MonthlyVolume      []PeriodCount    `json:"monthly_volume"`
	Categories         []CategoryCount  `json:"categories"`
}

// PeriodCount is a year-month bucket and its count.
type PeriodCount struct {
	Period string `json:"period"`
	Count  int    `json:"count"`
}

type senderAgg struct {
	count           int
	hasUnsubscribe  bool
	labels          map[string]struct{}
}

// SenderStat describes one sender's mail volume and subscription signal.
type SenderStat struct {
	Sender         string `json:"sender"`
	Count          int    `json:"count"`
	IsSubscription bool   `json:"is_subscription"`
}

// Analytics runs in-memory aggregations over the full stored mailbox,
// memoizing results in Cache the way a short-TTL endpoint cache does.
type Analytics struct {
	db    *store.Store
	cache *Cache
}

// NewAnalytics builds an Analytics reader. cache may be nil to disable memoization.
func NewAnalytics(db *store.Store, cache *Cache) *Analytics {
	if cache == nil {
		cache = NewCache()
	}
	return &Analytics{db: db, cache: cache}
}

// InvalidateCache drops the memoized result for key, if any. Exposed so
// HTTP handlers that mutate data the aggregations read from can bust the
// relevant cache entry without reaching into the Cache directly.
func (a *Analytics) InvalidateCache(key string) {
	a.cache.Invalidate(key)
}

// Overview aggregates totals, unread/starred counts, monthly volume, and
// a non-noise category breakdown, excluding categorize.NOISE.
func (a *Analytics) Overview(ctx context.Context) (Overview, error) {
	if cached, ok := a.cache.Get("overview"); ok {
		return cached.(Overview), nil
	}

	emails, err := a.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return Overview{}, fmt.Errorf("overview: %w", err)
	}

	var total, unread, starred int
	monthCounts := map[string]int{}
	catCounts := map[string]int{}
	senders := map[string]*senderAgg{}

	for _, e := range emails {
		total++
		if !e.IsRead {
			unread++
		}
		if e.IsStarred {
			starred++
		}
		if month, ok := yearMonth(e.DateISO); ok {
			monthCounts[month]++
		}
		if e.Category != categorize.NOISE {
			catCounts[e.Category]++
		}
		if e.Sender != "" {
			agg, ok := senders[e.Sender]
			if !ok {
				agg = &senderAgg{labels: map[string]struct{}{}}
				senders[e.Sender] = agg
			}
			agg.count++
			if e.ListUnsubscribe != "" {
				agg.hasUnsubscribe = true
			}
			for _, l := range store.UnwrapLabels(e.Labels) {
				agg.labels[l] = struct{}{}
			}
		}
	}

	subscriptionCount := 0
	for sender, agg := range senders {
		if isSubscriptionSender(sender, agg) {
			subscriptionCount++
		}
	}

	result := Overview{
		Total:             total,
		Unread:            unread,
		Starred:           starred,
		SubscriptionCount: subscriptionCount,
		MonthlyVolume:     sortedPeriodCounts(monthCounts),
		Categories:        nonZeroCategoryCounts(catCounts),
	}
	a.cache.Set("overview", result, 10*time.Second)
	return result, nil
}

// Categories returns a non-noise category breakdown, sorted by count descending.
func (a *Analytics) Categories(ctx context.Context) ([]CategoryCount, error) {
	if cached, ok := a.cache.Get("categories"); ok {
		return cached.([]CategoryCount), nil
	}
	emails, err := a.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("categories: %w", err)
	}
	counts := map[string]int{}
	for _, e := range emails {
		if e.Category != categorize.NOISE {
			counts[e.Category]++
		}
	}
	result := nonZeroCategoryCounts(counts)
	a.cache.Set("categories", result, 0)
	return result, nil
}

// SenderAnalytics returns per-sender mail volume with a subscription flag,
// sorted by count descending and truncated to limit.
func (a *Analytics) SenderAnalytics(ctx context.Context, limit int) ([]SenderStat, error) {
	if cached, ok := a.cache.Get("senders"); ok {
		stats := cached.([]SenderStat)
		if limit > 0 && len(stats) > limit {
			return stats[:limit], nil
		}
		return stats, nil
	}

	emails, err := a.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("sender analytics: %w", err)
	}
	senders := map[string]*senderAgg{}
	for _, e := range emails {
		if e.Sender == "" {
			continue
		}
		agg, ok := senders[e.Sender]
		if !ok {
			agg = &senderAgg{labels: map[string]struct{}{}}
			senders[e.Sender] = agg
		}
		agg.count++
		if e.ListUnsubscribe != "" {
			agg.hasUnsubscribe = true
		}
		for _, l := range store.UnwrapLabels(e.Labels) {
			agg.labels[l] = struct{}{}
		}
	}

	stats := make([]SenderStat, 0, len(senders))
	for sender, agg := range senders {
		stats = append(stats, SenderStat{
			Sender:         sender,
			Count:          agg.count,
			IsSubscription: isSubscriptionSender(sender, agg),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Count > stats[j].Count })

	a.cache.Set("senders", stats, 0)
	if limit > 0 && len(stats) > limit {
		return stats[:limit], nil
	}
	return stats, nil
}

func isSubscriptionSender(sender string, agg *senderAgg) bool {
	if agg.hasUnsubscribe || subscriptionRE.MatchString(sender) || agg.count >= 5 {
		return true
	}
	for l := range agg.labels {
		if _, ok := subscriptionLabels[l]; ok {
			return true
		}
	}
	return false
}

// AlertItem is one pinned-sender alert hit.
type AlertItem struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Sender   string `json:"sender"`
	Date     string `json:"date"`
	Category string `json:"category"`
	IsRead   bool   `json:"is_read"`
}

// Alerts returns emails from senders in pinnedSenders, newest first,
// truncated to limit. An empty pinnedSenders set always returns nil.
func (a *Analytics) Alerts(ctx context.Context, pinnedSenders []string, limit int) ([]AlertItem, error) {
	if len(pinnedSenders) == 0 {
		return nil, nil
	}
	pinned := make(map[string]struct{}, len(pinnedSenders))
	for _, s := range pinnedSenders {
		pinned[s] = struct{}{}
	}

	emails, err := a.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("alerts: %w", err)
	}
	var items []AlertItem
	for _, e := range emails {
		if _, ok := pinned[e.Sender]; !ok {
			continue
		}
		items = append(items, AlertItem{
			ID: e.GmailID, Subject: e.Subject, Sender: e.Sender,
			Date: e.DateISO, Category: e.Category, IsRead: e.IsRead,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Date > items[j].Date })
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// TriageItem is one email bucketed by the triage heuristic.
type TriageItem struct {
	AlertItem
	Bucket string `json:"bucket"`
}

// Triage splits recent emails (within days) into reply/do/read buckets
// using category and subject heuristics, each capped at 20 and sorted
// newest first.
func (a *Analytics) Triage(ctx context.Context, days int) (map[string][]TriageItem, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)

	emails, err := a.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return nil, fmt.Errorf("triage: %w", err)
	}

	var reply, do, read []TriageItem
	for _, e := range emails {
		if e.DateISO == "" || e.DateISO < cutoff {
			continue
		}
		isSub := subscriptionRE.MatchString(e.Sender)
		item := TriageItem{AlertItem: AlertItem{
			ID: e.GmailID, Subject: e.Subject, Sender: e.Sender,
			Date: e.DateISO, Category: e.Category, IsRead: e.IsRead,
		}}

		_, isReplyCat := replyCategories[e.Category]
		_, isDoCat := doCategories[e.Category]
		switch {
		case !isSub && (isReplyCat || strings.Contains(e.Subject, "?")):
			item.Bucket = "reply"
			reply = append(reply, item)
		case isDoCat || doKeywordsRE.MatchString(e.Subject):
			item.Bucket = "do"
			do = append(do, item)
		case !isSub && !e.IsRead:
			item.Bucket = "read"
			read = append(read, item)
		}
	}

	for _, bucket := range [][]TriageItem{reply, do, read} {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].Date > bucket[j].Date })
	}
	cap20 := func(items []TriageItem) []TriageItem {
		if len(items) > 20 {
			return items[:20]
		}
		return items
	}
	return map[string][]TriageItem{
		"reply": cap20(reply),
		"do":    cap20(do),
		"read":  cap20(read),
	}, nil
}

// DomainCount is a sender-domain and its volume.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// EDA is the exploratory-data-analysis aggregation: volume by weekday and
// hour, per-category read/starred/attachment stats, top senders, and top
// sender domains.
type EDA struct {
	DayOfWeek      []PeriodCount      `json:"day_of_week"`
	HourOfDay      []PeriodCount      `json:"hour_of_day"`
	CategoryStats  []CategoryEDAStat  `json:"category_stats"`
	TopSenders     []SenderStat       `json:"top_senders"`
	DomainDistrib  []DomainCount      `json:"domain_distribution"`
}

// CategoryEDAStat is one category's EDA row.
type CategoryEDAStat struct {
	Category        string  `json:"category"`
	Count           int     `json:"count"`
	Unread          int     `json:"unread"`
	Starred         int     `json:"starred"`
	WithAttachments int     `json:"with_attachments"`
	UnreadPct       float64 `json:"unread_pct"`
}

var dowLabels = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// EDA aggregates weekday/hour volume, per-category stats, top senders, and
// top sender domains over the full stored mailbox.
func (a *Analytics) EDA(ctx context.Context) (EDA, error) {
	if cached, ok := a.cache.Get("eda"); ok {
		return cached.(EDA), nil
	}

	emails, err := a.db.GetEmails(ctx, nil, 0, 0)
	if err != nil {
		return EDA{}, fmt.Errorf("eda: %w", err)
	}

	dowCounts := make([]int, 7)
	hourCounts := make([]int, 24)
	catStats := map[string]*categoryEDAAccumulator{}
	senderVol := map[string]int{}
	senderUnread := map[string]int{}
	domainCounts := map[string]int{}

	for _, e := range emails {
		if t, ok := parseISO(e.DateISO); ok {
			dow := (int(t.Weekday()) + 6) % 7 // Monday=0
			dowCounts[dow]++
			hourCounts[t.Hour()]++
		}

		if e.Category != categorize.NOISE {
			cs, ok := catStats[e.Category]
			if !ok {
				cs = &categoryEDAAccumulator{}
				catStats[e.Category] = cs
			}
			cs.count++
			if !e.IsRead {
				cs.unread++
			}
			if e.IsStarred {
				cs.starred++
			}
			if e.HasAttachments {
				cs.attach++
			}
		}

		if e.Sender != "" {
			senderVol[e.Sender]++
			if !e.IsRead {
				senderUnread[e.Sender]++
			}
			if m := emailDomainRE.FindStringSubmatch(e.Sender); m != nil {
				domainCounts[strings.ToLower(m[1])]++
			}
		}
	}

	result := EDA{
		DayOfWeek: func() []PeriodCount {
			out := make([]PeriodCount, 7)
			for i, label := range dowLabels {
				out[i] = PeriodCount{Period: label, Count: dowCounts[i]}
			}
			return out
		}(),
		HourOfDay: func() []PeriodCount {
			out := make([]PeriodCount, 24)
			for h := 0; h < 24; h++ {
				out[h] = PeriodCount{Period: fmt.Sprintf("%d", h), Count: hourCounts[h]}
			}
			return out
		}(),
		CategoryStats: sortedCategoryEDAStats(catStats),
		TopSenders:    topSenders(senderVol, senderUnread, 15),
		DomainDistrib: topDomains(domainCounts, 15),
	}
	a.cache.Set("eda", result, 10*time.Second)
	return result, nil
}

type categoryEDAAccumulator struct{ count, unread, starred, attach int }

func sortedCategoryEDAStats(stats map[string]*categoryEDAAccumulator) []CategoryEDAStat {
	out := make([]CategoryEDAStat, 0, len(stats))
	for cat, s := range stats {
		pct := 0.0
		if s.count > 0 {
			pct = round1(float64(s.unread) / float64(s.count) * 100)
		}
		out = append(out, CategoryEDAStat{
			Category: cat, Count: s.count, Unread: s.unread,
			Starred: s.starred, WithAttachments: s.attach, UnreadPct: pct,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func topSenders(vol, unread map[string]int, n int) []SenderStat {
	out := make([]SenderStat, 0, len(vol))
	for sender, count := range vol {
		out = append(out, SenderStat{Sender: sender, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topDomains(counts map[string]int, n int) []DomainCount {
	out := make([]DomainCount, 0, len(counts))
	for d, c := range counts {
		out = append(out, DomainCount{Domain: d, Count: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func round1(f float64) float64 {
	return float64(int(f*10+0.5)) / 10
}

func yearMonth(dateISO string) (string, bool) {
	t, ok := parseISO(dateISO)
	if !ok {
		return "", false
	}
	return t.Format("2006-01"), true
}

func parseISO(dateISO string) (time.Time, bool) {
	if dateISO == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, dateISO)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func sortedPeriodCounts(counts map[string]int) []PeriodCount {
	out := make([]PeriodCount, 0, len(counts))
	for period, count := range counts {
		out = append(out, PeriodCount{Period: period, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out
}

func nonZeroCategoryCounts(counts map[string]int) []CategoryCount {
	var out []CategoryCount
	for _, cat := range categorize.AllCategories {
		if c := counts[cat]; c > 0 {
			out = append(out, CategoryCount{Category: cat, Count: c})
		}
	}
	for cat, c := range counts {
		if c > 0 && !isBuiltinCategory(cat) {
			out = append(out, CategoryCount{Category: cat, Count: c})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	return out
}

func isBuiltinCategory(cat string) bool {
	for _, c := range categorize.AllCategories {
		if c == cat {
			return true
		}
	}
	return false
}
