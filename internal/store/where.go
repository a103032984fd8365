package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nitinnat/gmail-parser/internal/model"
)

// emailColumns maps the Where tree's logical field names to real columns on
// the emails table. Fields not present here are not filterable.
var emailColumns = map[string]string{
	"gmail_id":          "id",
	"thread_id":         "thread_id",
	"subject":           "subject",
	"sender":            "sender",
	"date_iso":          "date_iso",
	"date_timestamp":    "date_timestamp",
	"snippet":           "snippet",
	"is_read":           "is_read",
	"is_starred":        "is_starred",
	"is_draft":          "is_draft",
	"has_attachments":   "has_attachments",
	"labels":            "labels",
	"history_id":        "history_id",
	"category":          "category",
	"document":          "document",
	"list_unsubscribe":  "list_unsubscribe",
	"has_action_items":  "has_action_items",
	"has_transactions":  "has_transactions",
}

// buildWhereSQL translates a model.Where tree into a parameterized SQL WHERE
// clause (without the leading "WHERE") plus its bound args. An empty/nil
// Where produces "1=1". Unknown fields are rejected with an error so callers
// see a malformed-filter error rather than a silently ignored predicate.
func buildWhereSQL(w model.Where, columns map[string]string) (string, []any, error) {
	if len(w) == 0 {
		return "1=1", nil, nil
	}

	// Deterministic order keeps generated SQL and its argument list stable,
	// which matters for tests and for query-plan caching.
	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var clauses []string
	var args []any

	for _, field := range keys {
		val := w[field]

		if field == "$and" {
			subs, ok := val.([]model.Where)
			if !ok {
				return "", nil, fmt.Errorf("search: $and must be a list of filters")
			}
			for _, sub := range subs {
				clause, subArgs, err := buildWhereSQL(sub, columns)
				if err != nil {
					return "", nil, err
				}
				clauses = append(clauses, "("+clause+")")
				args = append(args, subArgs...)
			}
			continue
		}

		col, ok := columns[field]
		if !ok {
			return "", nil, fmt.Errorf("search: unknown filter field %q", field)
		}

		switch v := val.(type) {
		case map[string]any:
			for op, opVal := range v {
				switch op {
				case "$contains":
					s, _ := opVal.(string)
					clauses = append(clauses, fmt.Sprintf("%s LIKE ?", col))
					args = append(args, "%"+strings.ReplaceAll(s, "%", "")+"%")
				case "$gte":
					clauses = append(clauses, fmt.Sprintf("%s >= ?", col))
					args = append(args, opVal)
				case "$lte":
					clauses = append(clauses, fmt.Sprintf("%s <= ?", col))
					args = append(args, opVal)
				case "$eq":
					clauses = append(clauses, fmt.Sprintf("%s = ?", col))
					args = append(args, opVal)
				default:
					return "", nil, fmt.Errorf("search: unsupported operator %q", op)
				}
			}
		default:
			clauses = append(clauses, fmt.Sprintf("%s = ?", col))
			args = append(args, v)
		}
	}

	if len(clauses) == 0 {
		return "1=1", nil, nil
	}
	return strings.Join(clauses, " AND "), args, nil
}
