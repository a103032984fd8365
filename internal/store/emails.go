package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nitinnat/gmail-parser/internal/model"
)

const upsertBatchChunkSize = 500

// UpsertEmails atomically upserts rows in chunks of 500, matching the
// reference store's batch_size. Each chunk commits in its own transaction;
// a failed chunk is safe to retry.
func (s *Store) UpsertEmails(ctx context.Context, emails []model.Email, vectors map[string][]float32) error {
	for i := 0; i < len(emails); i += upsertBatchChunkSize {
		end := i + upsertBatchChunkSize
		if end > len(emails) {
			end = len(emails)
		}
		if err := s.upsertEmailChunk(ctx, emails[i:end], vectors); err != nil {
			return fmt.Errorf("upsert email chunk [%d:%d]: %w", i, end, err)
		}
	}
	return nil
}

func (s *Store) upsertEmailChunk(ctx context.Context, chunk []model.Email, vectors map[string][]float32) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO emails (
			id, thread_id, subject, sender, recipients_to, recipients_cc, recipients_bcc,
			date_iso, date_timestamp, snippet, is_read, is_starred, is_draft, has_attachments,
			labels, history_id, size_estimate, list_unsubscribe, category, document, embedding,
			actions_extracted, action_items_json, has_action_items, spending_json, has_transactions,
			llm_categorized, extra_json
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			thread_id=excluded.thread_id, subject=excluded.subject, sender=excluded.sender,
			recipients_to=excluded.recipients_to, recipients_cc=excluded.recipients_cc, recipients_bcc=excluded.recipients_bcc,
			date_iso=excluded.date_iso, date_timestamp=excluded.date_timestamp, snippet=excluded.snippet,
			is_read=excluded.is_read, is_starred=excluded.is_starred, is_draft=excluded.is_draft,
			has_attachments=excluded.has_attachments, labels=excluded.labels, history_id=excluded.history_id,
			size_estimate=excluded.size_estimate, list_unsubscribe=excluded.list_unsubscribe,
			category=excluded.category, document=excluded.document, embedding=excluded.embedding,
			actions_extracted=excluded.actions_extracted, action_items_json=excluded.action_items_json,
			has_action_items=excluded.has_action_items, spending_json=excluded.spending_json,
			has_transactions=excluded.has_transactions, llm_categorized=excluded.llm_categorized,
			extra_json=excluded.extra_json
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range chunk {
		var embBytes []byte
		if vectors != nil {
			if v, ok := vectors[e.GmailID]; ok {
				embBytes = encodeVector(v)
			}
		}
		extraJSON, err := json.Marshal(e.Extra)
		if err != nil {
			return fmt.Errorf("marshal extra for %s: %w", e.GmailID, err)
		}
		_, err = stmt.ExecContext(ctx,
			e.GmailID, e.ThreadID, e.Subject, e.Sender, e.Recipients.To, e.Recipients.Cc, e.Recipients.Bcc,
			e.DateISO, e.DateTimestamp, e.Snippet, e.IsRead, e.IsStarred, e.IsDraft, e.HasAttachments,
			e.Labels, e.HistoryID, e.SizeEstimate, e.ListUnsubscribe, e.Category, e.BodyText, embBytes,
			e.ActionsExtracted, e.ActionItemsJSON, e.HasActionItems, e.SpendingJSON, e.HasTransactions,
			e.LLMCategorized, string(extraJSON),
		)
		if err != nil {
			return fmt.Errorf("exec upsert for %s: %w", e.GmailID, err)
		}
	}
	return tx.Commit()
}

// UpdateMetadatasBatch shallow-merges partialMetas into each email's metadata
// columns: only keys present in a given partial map are overwritten. Unknown
// keys are folded into the extra_json extension map.
func (s *Store) UpdateMetadatasBatch(ctx context.Context, partialMetas map[string]map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for id, patch := range partialMetas {
		if err := s.mergeOneMetadata(ctx, tx, id, patch); err != nil {
			return fmt.Errorf("merge metadata for %s: %w", id, err)
		}
	}
	return tx.Commit()
}

var knownEmailMetaColumns = map[string]string{
	"thread_id": "thread_id", "subject": "subject", "sender": "sender",
	"date_iso": "date_iso", "date_timestamp": "date_timestamp", "snippet": "snippet",
	"is_read": "is_read", "is_starred": "is_starred", "is_draft": "is_draft",
	"has_attachments": "has_attachments", "labels": "labels", "history_id": "history_id",
	"size_estimate": "size_estimate", "list_unsubscribe": "list_unsubscribe", "category": "category",
	"actions_extracted": "actions_extracted", "action_items_json": "action_items_json",
	"has_action_items": "has_action_items", "spending_json": "spending_json",
	"has_transactions": "has_transactions", "llm_categorized": "llm_categorized",
}

func (s *Store) mergeOneMetadata(ctx context.Context, tx *sql.Tx, id string, patch map[string]any) error {
	var extraRaw string
	row := tx.QueryRowContext(ctx, "SELECT extra_json FROM emails WHERE id = ?", id)
	if err := row.Scan(&extraRaw); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("no such email %q", id)
		}
		return err
	}
	var extra map[string]any
	if extraRaw == "" {
		extra = map[string]any{}
	} else if err := json.Unmarshal([]byte(extraRaw), &extra); err != nil {
		extra = map[string]any{}
	}

	var setClauses []string
	var args []any
	for k, v := range patch {
		if _, known := knownEmailMetaColumns[k]; known {
			setClauses = append(setClauses, fmt.Sprintf("%s = ?", k))
			args = append(args, v)
			continue
		}
		extra[k] = v
	}
	mergedExtra, err := json.Marshal(extra)
	if err != nil {
		return err
	}
	setClauses = append(setClauses, "extra_json = ?")
	args = append(args, string(mergedExtra))
	args = append(args, id)

	sort.Strings(setClauses) // deterministic for tests; harmless for correctness
	query := fmt.Sprintf("UPDATE emails SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	_, err = tx.ExecContext(ctx, query, args...)
	return err
}

// scanEmailRow scans one emails table row into a model.Email plus its vector.
func scanEmailRow(rows interface {
	Scan(dest ...any) error
}) (model.Email, []float32, error) {
	var e model.Email
	var emb []byte
	var extraRaw string
	err := rows.Scan(
		&e.GmailID, &e.ThreadID, &e.Subject, &e.Sender, &e.Recipients.To, &e.Recipients.Cc, &e.Recipients.Bcc,
		&e.DateISO, &e.DateTimestamp, &e.Snippet, &e.IsRead, &e.IsStarred, &e.IsDraft, &e.HasAttachments,
		&e.Labels, &e.HistoryID, &e.SizeEstimate, &e.ListUnsubscribe, &e.Category, &e.BodyText, &emb,
		&e.ActionsExtracted, &e.ActionItemsJSON, &e.HasActionItems, &e.SpendingJSON, &e.HasTransactions,
		&e.LLMCategorized, &extraRaw,
	)
	if err != nil {
		return e, nil, err
	}
	if extraRaw != "" {
		_ = json.Unmarshal([]byte(extraRaw), &e.Extra)
	}
	var vec []float32
	if len(emb) > 0 {
		vec = decodeVector(emb)
	}
	return e, vec, nil
}

const emailSelectColumns = `id, thread_id, subject, sender, recipients_to, recipients_cc, recipients_bcc,
	date_iso, date_timestamp, snippet, is_read, is_starred, is_draft, has_attachments,
	labels, history_id, size_estimate, list_unsubscribe, category, document, embedding,
	actions_extracted, action_items_json, has_action_items, spending_json, has_transactions,
	llm_categorized, extra_json`

// GetEmails returns emails matching where, honoring limit/offset. Sorting is
// not guaranteed; callers needing date order must sort client-side.
func (s *Store) GetEmails(ctx context.Context, where model.Where, limit, offset int) ([]model.Email, error) {
	cond, args, err := buildWhereSQL(where, emailColumns)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + emailSelectColumns + " FROM emails WHERE " + cond
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Email
	for rows.Next() {
		e, _, err := scanEmailRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetEmail fetches a single email by id, or (zero value, false, nil) if absent.
func (s *Store) GetEmail(ctx context.Context, id string) (model.Email, bool, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+emailSelectColumns+" FROM emails WHERE id = ?", id)
	e, _, err := scanEmailRow(row)
	if err == sql.ErrNoRows {
		return model.Email{}, false, nil
	}
	if err != nil {
		return model.Email{}, false, err
	}
	return e, true, nil
}

// QueryResult is one hit from a vector similarity search.
type QueryResult struct {
	ID       string
	Document string
	Meta     model.Email
	Distance float64 // 1 - cosine similarity
}

// QueryVector performs a brute-force cosine nearest-neighbor search over
// emails matching where that carry a non-null embedding, returning the top n.
func (s *Store) QueryVector(ctx context.Context, vector []float32, n int, where model.Where) ([]QueryResult, error) {
	cond, args, err := buildWhereSQL(where, emailColumns)
	if err != nil {
		return nil, err
	}
	query := "SELECT " + emailSelectColumns + " FROM emails WHERE " + cond + " AND embedding IS NOT NULL"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueryResult
	for rows.Next() {
		e, vec, err := scanEmailRow(rows)
		if err != nil {
			return nil, err
		}
		if len(vec) != len(vector) {
			continue
		}
		sim := cosineSimilarity(vector, vec)
		results = append(results, QueryResult{ID: e.GmailID, Document: e.BodyText, Meta: e, Distance: 1 - sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if n > 0 && len(results) > n {
		results = results[:n]
	}
	return results, nil
}

// GetExistingIDs probes candidateIDs and returns the subset already stored.
func (s *Store) GetExistingIDs(ctx context.Context, candidateIDs []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	const chunkSize = 500
	for i := 0; i < len(candidateIDs); i += chunkSize {
		end := i + chunkSize
		if end > len(candidateIDs) {
			end = len(candidateIDs)
		}
		chunk := candidateIDs[i:end]
		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for j, id := range chunk {
			placeholders[j] = "?"
			args[j] = id
		}
		query := "SELECT id FROM emails WHERE id IN (" + strings.Join(placeholders, ",") + ")"
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			existing[id] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return existing, nil
}

// GetAllIDs returns every email id matching where.
func (s *Store) GetAllIDs(ctx context.Context, where model.Where) ([]string, error) {
	cond, args, err := buildWhereSQL(where, emailColumns)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM emails WHERE "+cond, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteEmails removes emails and their derived expenses. Idempotent.
func (s *Store) DeleteEmails(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	in := "(" + strings.Join(placeholders, ",") + ")"
	if _, err := tx.ExecContext(ctx, "DELETE FROM emails WHERE id IN "+in, args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM expenses WHERE source_gmail_id IN "+in, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// CountEmails returns the total row count, optionally matching where.
func (s *Store) CountEmails(ctx context.Context, where model.Where) (int, error) {
	cond, args, err := buildWhereSQL(where, emailColumns)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM emails WHERE "+cond, args...).Scan(&count)
	return count, err
}

// ReassignCategory moves every email row carrying oldCategory to
// newCategory, as when a custom category definition is deleted. Returns
// the number of rows updated.
func (s *Store) ReassignCategory(ctx context.Context, oldCategory, newCategory string) (int, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE emails SET category = ? WHERE category = ?", newCategory, oldCategory)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
