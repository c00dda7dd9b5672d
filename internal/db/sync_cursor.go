package db

import (
	"database/sql"
	"fmt"
	"time"
)

// GetSyncCursor returns the opaque upstream pagination token stored for a
// project, or "" when none is stored (meaning: full resync).
func (s *Store) GetSyncCursor(projectIdentifier string) (string, error) {
	row := s.QueryRow(`SELECT cursor FROM sync_cursors WHERE project_identifier = ?`, projectIdentifier)
	var cursor string
	if err := row.Scan(&cursor); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		if s.Closed() {
			return "", ErrClosed
		}
		return "", fmt.Errorf("get sync cursor %s: %w", projectIdentifier, err)
	}
	return cursor, nil
}

// SetSyncCursor records how far incremental sync has progressed for a
// project. The token is opaque to the store.
func (s *Store) SetSyncCursor(projectIdentifier, cursor string) error {
	if cursor == "" {
		return s.ClearSyncCursor(projectIdentifier)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.Exec(`
		INSERT INTO sync_cursors (project_identifier, cursor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(project_identifier) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, projectIdentifier, cursor, now)
	if err != nil {
		return fmt.Errorf("set sync cursor %s: %w", projectIdentifier, err)
	}
	return nil
}

// ClearSyncCursor drops the stored token, forcing the next pass to resync
// the project from the beginning.
func (s *Store) ClearSyncCursor(projectIdentifier string) error {
	_, err := s.Exec(`DELETE FROM sync_cursors WHERE project_identifier = ?`, projectIdentifier)
	if err != nil {
		return fmt.Errorf("clear sync cursor %s: %w", projectIdentifier, err)
	}
	return nil
}
