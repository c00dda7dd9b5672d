package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SyncRun is one append-only audit record per reconciliation pass.
type SyncRun struct {
	ID                int64
	StartedAt         time.Time
	CompletedAt       *time.Time
	ProjectsProcessed int
	ProjectsFailed    int
	IssuesSynced      int
	Errors            []string
	DurationMs        int64
}

// SyncRunResult carries the aggregate counts recorded when a run completes.
type SyncRunResult struct {
	ProjectsProcessed int
	ProjectsFailed    int
	IssuesSynced      int
	Errors            []string
}

// StartSyncRun opens a new sync-run audit record and returns its id.
func (s *Store) StartSyncRun() (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.Exec(`INSERT INTO sync_runs (started_at) VALUES (?)`, now)
	if err != nil {
		return 0, fmt.Errorf("start sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start sync run id: %w", err)
	}
	return id, nil
}

// CompleteSyncRun seals a run exactly once with its aggregate counts.
// Completing an unknown or already-completed run is an error: audit records
// are never mutated after completion.
func (s *Store) CompleteSyncRun(id int64, result SyncRunResult) error {
	run, err := s.GetSyncRun(id)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("complete sync run: run %d not found", id)
	}
	if run.CompletedAt != nil {
		return fmt.Errorf("complete sync run: run %d already completed", id)
	}

	errsJSON := "[]"
	if len(result.Errors) > 0 {
		b, err := json.Marshal(result.Errors)
		if err != nil {
			return fmt.Errorf("marshal sync run errors: %w", err)
		}
		errsJSON = string(b)
	}

	now := time.Now().UTC()
	duration := now.Sub(run.StartedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	_, err = s.Exec(`
		UPDATE sync_runs SET
			completed_at = ?,
			projects_processed = ?,
			projects_failed = ?,
			issues_synced = ?,
			errors = ?,
			duration_ms = ?
		WHERE id = ?
	`, now.Format(time.RFC3339), result.ProjectsProcessed, result.ProjectsFailed,
		result.IssuesSynced, errsJSON, duration, id)
	if err != nil {
		return fmt.Errorf("complete sync run %d: %w", id, err)
	}
	return nil
}

const syncRunColumns = `id, started_at, completed_at, projects_processed,
	projects_failed, issues_synced, errors, duration_ms`

// GetSyncRun retrieves a run by id. Returns (nil, nil) when it doesn't exist.
func (s *Store) GetSyncRun(id int64) (*SyncRun, error) {
	row := s.QueryRow(`SELECT `+syncRunColumns+` FROM sync_runs WHERE id = ?`, id)
	run, err := scanSyncRun(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("get sync run %d: %w", id, err)
	}
	return run, nil
}

// ListSyncRuns returns the most recent runs, newest first.
func (s *Store) ListSyncRuns(limit int) ([]*SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.Query(`SELECT `+syncRunColumns+` FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}
	return runs, nil
}

func scanSyncRun(row scanner) (*SyncRun, error) {
	var run SyncRun
	var startedAt string
	var completedAt, errsJSON sql.NullString
	var durationMs sql.NullInt64

	err := row.Scan(&run.ID, &startedAt, &completedAt, &run.ProjectsProcessed,
		&run.ProjectsFailed, &run.IssuesSynced, &errsJSON, &durationMs)
	if err != nil {
		return nil, err
	}

	if ts := parseTime(startedAt); ts != nil {
		run.StartedAt = *ts
	}
	run.CompletedAt = parseTimePtr(completedAt)
	run.DurationMs = durationMs.Int64
	if errsJSON.Valid && errsJSON.String != "" {
		if err := json.Unmarshal([]byte(errsJSON.String), &run.Errors); err != nil {
			return nil, fmt.Errorf("unmarshal sync run errors: %w", err)
		}
	}
	return &run, nil
}
