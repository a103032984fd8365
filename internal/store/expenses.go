package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/nitinnat/gmail-parser/internal/model"
)

var expenseColumns = map[string]string{
	"id":              "id",
	"amount":          "amount",
	"currency":        "currency",
	"merchant":        "merchant",
	"category":        "category",
	"source_sender":   "source_sender",
	"labels":          "labels",
	"date_iso":        "date_iso",
	"date_timestamp":  "date_timestamp",
	"confidence":      "confidence",
	"rule_name":       "rule_name",
	"source":          "source",
	"source_gmail_id": "source_gmail_id",
	"thread_id":       "thread_id",
	"subject":         "subject",
}

const expenseSelectColumns = `id, amount, currency, merchant, category, source_sender, labels,
	date_iso, date_timestamp, confidence, rule_name, source, source_gmail_id, thread_id, subject, document`

func scanExpenseRow(row interface{ Scan(dest ...any) error }) (model.Expense, error) {
	var e model.Expense
	err := row.Scan(
		&e.ID, &e.Amount, &e.Currency, &e.Merchant, &e.Category, &e.SourceSender, &e.Labels,
		&e.DateISO, &e.DateTimestamp, &e.Confidence, &e.RuleName, &e.Source, &e.SourceGmailID,
		&e.ThreadID, &e.Subject, &e.Document,
	)
	return e, err
}

// UpsertExpenses inserts or replaces expense rows by id.
func (s *Store) UpsertExpenses(ctx context.Context, expenses []model.Expense) error {
	if len(expenses) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO expenses (
			id, amount, currency, merchant, category, source_sender, labels,
			date_iso, date_timestamp, confidence, rule_name, source, source_gmail_id,
			thread_id, subject, document
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			amount=excluded.amount, currency=excluded.currency, merchant=excluded.merchant,
			category=excluded.category, source_sender=excluded.source_sender, labels=excluded.labels,
			date_iso=excluded.date_iso, date_timestamp=excluded.date_timestamp, confidence=excluded.confidence,
			rule_name=excluded.rule_name, source=excluded.source, source_gmail_id=excluded.source_gmail_id,
			thread_id=excluded.thread_id, subject=excluded.subject, document=excluded.document
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range expenses {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.Amount, e.Currency, e.Merchant, e.Category, e.SourceSender, e.Labels,
			e.DateISO, e.DateTimestamp, e.Confidence, e.RuleName, e.Source, e.SourceGmailID,
			e.ThreadID, e.Subject, e.Document,
		); err != nil {
			return fmt.Errorf("exec upsert expense %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// GetExpenses returns expenses matching where.
func (s *Store) GetExpenses(ctx context.Context, where model.Where, limit, offset int) ([]model.Expense, error) {
	cond, args, err := buildWhereSQL(where, expenseColumns)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + expenseSelectColumns + " FROM expenses WHERE " + cond
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Expense
	for rows.Next() {
		e, err := scanExpenseRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteExpensesBySourceGmailID removes expenses derived from the given
// message ids. Used when a source email is deleted or re-categorized.
func (s *Store) DeleteExpensesBySourceGmailID(ctx context.Context, gmailIDs []string) error {
	if len(gmailIDs) == 0 {
		return nil
	}
	placeholders := make([]string, len(gmailIDs))
	args := make([]any, len(gmailIDs))
	for i, id := range gmailIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM expenses WHERE source_gmail_id IN ("+strings.Join(placeholders, ",")+")", args...)
	return err
}

// RebuildExpensesForCategory reassigns every expense whose category equals
// oldCategory to newCategory. Used when a custom category is renamed.
func (s *Store) RebuildExpensesForCategory(ctx context.Context, oldCategory, newCategory string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE expenses SET category = ? WHERE category = ?", newCategory, oldCategory)
	return err
}

// CountExpenses returns the total row count matching where.
func (s *Store) CountExpenses(ctx context.Context, where model.Where) (int, error) {
	cond, args, err := buildWhereSQL(where, expenseColumns)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM expenses WHERE "+cond, args...).Scan(&count)
	return count, err
}

// SumExpenseAmounts returns the aggregate amount for rows matching where,
// grouped by category. The map has no order; sortedCategoryKeys gives one.
func (s *Store) SumExpenseAmounts(ctx context.Context, where model.Where) (map[string]float64, error) {
	cond, args, err := buildWhereSQL(where, expenseColumns)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT category, SUM(amount) FROM expenses WHERE "+cond+" GROUP BY category", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := make(map[string]float64)
	for rows.Next() {
		var cat string
		var sum sql.NullFloat64
		if err := rows.Scan(&cat, &sum); err != nil {
			return nil, err
		}
		sums[cat] = sum.Float64
	}
	return sums, rows.Err()
}

// sortedCategoryKeys is a small helper retained for callers that need
// deterministic iteration order over a SumExpenseAmounts result.
func sortedCategoryKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
