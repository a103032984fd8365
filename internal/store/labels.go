package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/nitinnat/gmail-parser/internal/model"
)

// UpsertLabels inserts or replaces label rows by id.
func (s *Store) UpsertLabels(ctx context.Context, labels []model.Label) error {
	if len(labels) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO labels (id, name, type, visible, color) VALUES (?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, visible=excluded.visible, color=excluded.color
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, l := range labels {
		if _, err := stmt.ExecContext(ctx, l.ID, l.Name, l.Type, l.Visible, l.Color); err != nil {
			return fmt.Errorf("exec upsert label %s: %w", l.ID, err)
		}
	}
	return tx.Commit()
}

// ListLabels returns all stored labels.
func (s *Store) ListLabels(ctx context.Context) ([]model.Label, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name, type, visible, color FROM labels")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Label
	for rows.Next() {
		var l model.Label
		if err := rows.Scan(&l.ID, &l.Name, &l.Type, &l.Visible, &l.Color); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// LabelNameByID returns the display name for a Gmail label id, or the id
// itself if unknown (matches the original's fallback behavior).
func (s *Store) LabelNameByID(ctx context.Context, id string) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT name FROM labels WHERE id = ?", id).Scan(&name)
	if err == sql.ErrNoRows {
		return id, nil
	}
	if err != nil {
		return "", err
	}
	return name, nil
}

// WrapLabels joins label names into the pipe-bracketed encoding
// "|LabelA|LabelB|" so substring search for "|X|" matches exactly. An empty
// input produces an empty string, never "||".
func WrapLabels(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return "|" + strings.Join(names, "|") + "|"
}

// UnwrapLabels reverses WrapLabels.
func UnwrapLabels(wrapped string) []string {
	trimmed := strings.Trim(wrapped, "|")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "|")
}

// DeleteLabel removes a label row by id. The caller is responsible for
// scrubbing references to it from emails.labels beforehand.
func (s *Store) DeleteLabel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM labels WHERE id = ?", id)
	return err
}
