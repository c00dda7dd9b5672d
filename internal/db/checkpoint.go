package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Provisioning item outcomes recorded in the activity-result log.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

// ProvisionCheckpoint is a durable progress record written after each batch
// of a bulk provisioning run.
type ProvisionCheckpoint struct {
	ID         int64
	RunID      string
	BatchIndex int
	Processed  int
	Succeeded  int
	Failed     int
	CreatedAt  time.Time
}

// ProvisionResult is one item's recorded outcome, keyed by identifier so a
// resumed run never re-executes side effects that already completed.
type ProvisionResult struct {
	RunID      string
	Identifier string
	Outcome    string
	ExternalID string
	Error      string
	CreatedAt  time.Time
}

// RecordProvisionCheckpoint appends a batch checkpoint for a run.
func (s *Store) RecordProvisionCheckpoint(cp *ProvisionCheckpoint) error {
	if cp == nil || cp.RunID == "" {
		return fmt.Errorf("record checkpoint: run id is required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.Exec(`
		INSERT INTO provision_checkpoints (run_id, batch_index, processed, succeeded, failed, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, cp.RunID, cp.BatchIndex, cp.Processed, cp.Succeeded, cp.Failed, now)
	if err != nil {
		return fmt.Errorf("record checkpoint run %s batch %d: %w", cp.RunID, cp.BatchIndex, err)
	}
	return nil
}

// GetProvisionCheckpoints returns a run's checkpoints in batch order.
func (s *Store) GetProvisionCheckpoints(runID string) ([]*ProvisionCheckpoint, error) {
	rows, err := s.Query(`
		SELECT id, run_id, batch_index, processed, succeeded, failed, created_at
		FROM provision_checkpoints WHERE run_id = ? ORDER BY batch_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*ProvisionCheckpoint
	for rows.Next() {
		var cp ProvisionCheckpoint
		var createdAt string
		if err := rows.Scan(&cp.ID, &cp.RunID, &cp.BatchIndex, &cp.Processed, &cp.Succeeded, &cp.Failed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		if ts := parseTime(createdAt); ts != nil {
			cp.CreatedAt = *ts
		}
		cps = append(cps, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return cps, nil
}

// RecordProvisionResult stores one item's outcome. Re-recording the same
// item for the same run overwrites, keeping the log keyed by identifier.
func (s *Store) RecordProvisionResult(r *ProvisionResult) error {
	if r == nil || r.RunID == "" || r.Identifier == "" {
		return fmt.Errorf("record provision result: run id and identifier are required")
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.Exec(`
		INSERT INTO provision_results (run_id, identifier, outcome, external_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, identifier) DO UPDATE SET
			outcome = excluded.outcome,
			external_id = excluded.external_id,
			error = excluded.error
	`, r.RunID, r.Identifier, r.Outcome, nullIfEmpty(r.ExternalID), nullIfEmpty(r.Error), now)
	if err != nil {
		return fmt.Errorf("record provision result %s/%s: %w", r.RunID, r.Identifier, err)
	}
	return nil
}

// GetProvisionResult returns one item's recorded outcome for a run, or
// (nil, nil) when the item has not been attempted.
func (s *Store) GetProvisionResult(runID, identifier string) (*ProvisionResult, error) {
	row := s.QueryRow(`
		SELECT run_id, identifier, outcome, external_id, error, created_at
		FROM provision_results WHERE run_id = ? AND identifier = ?
	`, runID, identifier)
	r, err := scanProvisionResult(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("get provision result %s/%s: %w", runID, identifier, err)
	}
	return r, nil
}

// GetProvisionResults returns all recorded outcomes for a run in identifier
// order.
func (s *Store) GetProvisionResults(runID string) ([]*ProvisionResult, error) {
	rows, err := s.Query(`
		SELECT run_id, identifier, outcome, external_id, error, created_at
		FROM provision_results WHERE run_id = ? ORDER BY identifier
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query provision results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*ProvisionResult
	for rows.Next() {
		r, err := scanProvisionResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan provision result: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate provision results: %w", err)
	}
	return results, nil
}

func scanProvisionResult(row scanner) (*ProvisionResult, error) {
	var r ProvisionResult
	var externalID, errMsg sql.NullString
	var createdAt string

	err := row.Scan(&r.RunID, &r.Identifier, &r.Outcome, &externalID, &errMsg, &createdAt)
	if err != nil {
		return nil, err
	}

	r.ExternalID = externalID.String
	r.Error = errMsg.String
	if ts := parseTime(createdAt); ts != nil {
		r.CreatedAt = *ts
	}
	return &r, nil
}
