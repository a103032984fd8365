// Package ingest drives full and incremental synchronization between
// Gmail and the local store: listing and dedup against stored ids,
// batch-fetching and parsing bodies, classifying and embedding, and
// kicking off LLM enrichment on the newly inserted set.
package ingest

import (
	"fmt"
	"strings"
	"time"
)

// TimeQuery narrows a sync to a date range or Gmail search operators.
type TimeQuery struct {
	Query      string
	After      *time.Time
	Before     *time.Time
	NewerThan  string
	OlderThan  string
	DaysAgo    *int
}

// BuildTimeQuery composes a Gmail search string from q's fields, matching
// the ingestion query-building helper: days_ago overrides
// After when both are set.
func BuildTimeQuery(q TimeQuery) string {
	var parts []string
	if q.Query != "" {
		parts = append(parts, q.Query)
	}
	after := q.After
	if q.DaysAgo != nil {
		t := time.Now().UTC().AddDate(0, 0, -*q.DaysAgo)
		after = &t
	}
	if after != nil {
		parts = append(parts, fmt.Sprintf("after:%d", after.Unix()))
	}
	if q.Before != nil {
		parts = append(parts, fmt.Sprintf("before:%d", q.Before.Unix()))
	}
	if q.NewerThan != "" {
		parts = append(parts, "newer_than:"+q.NewerThan)
	}
	if q.OlderThan != "" {
		parts = append(parts, "older_than:"+q.OlderThan)
	}
	return strings.Join(parts, " ")
}

// effectiveQuery prepends the trash/spam exclusion every sync applies.
func effectiveQuery(userQuery string) string {
	base := "-in:trash -in:spam"
	if userQuery == "" {
		return base
	}
	return base + " " + userQuery
}
