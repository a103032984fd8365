package store

import (
	"context"
	"database/sql"

	"github.com/nitinnat/gmail-parser/internal/model"
)

const syncStateKey = "state"

// GetSyncState returns the persisted sync state, or the zero value if no
// sync has ever completed.
func (s *Store) GetSyncState(ctx context.Context) (model.SyncState, error) {
	var st model.SyncState
	row := s.db.QueryRowContext(ctx,
		"SELECT last_history_id, last_full_sync, total_emails_synced FROM sync_state WHERE key = ?", syncStateKey)
	err := row.Scan(&st.LastHistoryID, &st.LastFullSync, &st.TotalEmailsSynced)
	if err == sql.ErrNoRows {
		return model.SyncState{}, nil
	}
	if err != nil {
		return model.SyncState{}, err
	}
	return st, nil
}

// SetSyncState replaces the persisted sync state.
func (s *Store) SetSyncState(ctx context.Context, st model.SyncState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, last_history_id, last_full_sync, total_emails_synced)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			last_history_id=excluded.last_history_id,
			last_full_sync=excluded.last_full_sync,
			total_emails_synced=excluded.total_emails_synced
	`, syncStateKey, st.LastHistoryID, st.LastFullSync, st.TotalEmailsSynced)
	return err
}
