package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Tracked external systems. Each gets its own id/timestamp/content-hash
// column family on the issues table.
const (
	SystemSource = "source"
	SystemKanban = "kanban"
	SystemBeads  = "beads"
)

// Issue is one unit of work, scoped to exactly one project.
type Issue struct {
	Identifier        string
	ProjectIdentifier string
	Title             string
	Description       string
	Status            string
	Priority          string

	SourceID string
	KanbanID string
	BeadsID  string

	SourceUpdatedAt *time.Time
	KanbanUpdatedAt *time.Time
	BeadsUpdatedAt  *time.Time

	// ContentHash is the digest of the current merged view; the per-system
	// hashes record what each system last told us. Comparing them is how
	// independent drift is detected.
	ContentHash       string
	SourceContentHash string
	KanbanContentHash string
	BeadsContentHash  string

	ParentSourceID string
	ParentKanbanID string
	SubIssueCount  int

	DeletedFromSource bool
	LastSyncAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IssueUpdate is a partial issue record for UpsertIssue. Nil fields keep
// whatever is already stored. ProjectIdentifier is required the first time
// an issue is seen (the foreign key is not null).
type IssueUpdate struct {
	Identifier        string
	ProjectIdentifier *string
	Title             *string
	Description       *string
	Status            *string
	Priority          *string

	SourceID *string
	KanbanID *string
	BeadsID  *string

	SourceUpdatedAt *time.Time
	KanbanUpdatedAt *time.Time
	BeadsUpdatedAt  *time.Time

	ContentHash       *string
	SourceContentHash *string
	KanbanContentHash *string
	BeadsContentHash  *string

	ParentSourceID *string
	ParentKanbanID *string
	SubIssueCount  *int

	LastSyncAt *time.Time
}

// UpsertIssue inserts or updates an issue. Idempotent: re-applying the same
// record leaves observable state unchanged. Omitted fields are preserved via
// coalesce-on-write, so the per-system callers never null out each other's
// columns. The update runs first against the stored row; the insert path
// only fires for an issue never seen before, and only that path requires
// ProjectIdentifier or applies column defaults.
func (s *Store) UpsertIssue(u *IssueUpdate) error {
	if u == nil || u.Identifier == "" {
		return fmt.Errorf("upsert issue: identifier is required")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.Exec(`
		UPDATE issues SET
			project_identifier = COALESCE(?, project_identifier),
			title = COALESCE(?, title),
			description = COALESCE(?, description),
			status = COALESCE(?, status),
			priority = COALESCE(?, priority),
			source_id = COALESCE(?, source_id),
			kanban_id = COALESCE(?, kanban_id),
			beads_id = COALESCE(?, beads_id),
			source_updated_at = COALESCE(?, source_updated_at),
			kanban_updated_at = COALESCE(?, kanban_updated_at),
			beads_updated_at = COALESCE(?, beads_updated_at),
			content_hash = COALESCE(?, content_hash),
			source_content_hash = COALESCE(?, source_content_hash),
			kanban_content_hash = COALESCE(?, kanban_content_hash),
			beads_content_hash = COALESCE(?, beads_content_hash),
			parent_source_id = COALESCE(?, parent_source_id),
			parent_kanban_id = COALESCE(?, parent_kanban_id),
			sub_issue_count = COALESCE(?, sub_issue_count),
			last_sync_at = COALESCE(?, last_sync_at),
			updated_at = ?
		WHERE identifier = ?
	`,
		u.ProjectIdentifier, u.Title, u.Description, u.Status, u.Priority,
		u.SourceID, u.KanbanID, u.BeadsID,
		formatTimePtr(u.SourceUpdatedAt), formatTimePtr(u.KanbanUpdatedAt), formatTimePtr(u.BeadsUpdatedAt),
		u.ContentHash, u.SourceContentHash, u.KanbanContentHash, u.BeadsContentHash,
		u.ParentSourceID, u.ParentKanbanID, u.SubIssueCount,
		formatTimePtr(u.LastSyncAt), now, u.Identifier)
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", u.Identifier, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	if u.ProjectIdentifier == nil {
		return fmt.Errorf("upsert issue %s: project identifier is required for a new issue", u.Identifier)
	}
	_, err = s.Exec(`
		INSERT INTO issues (
			identifier, project_identifier, title, description, status, priority,
			source_id, kanban_id, beads_id,
			source_updated_at, kanban_updated_at, beads_updated_at,
			content_hash, source_content_hash, kanban_content_hash, beads_content_hash,
			parent_source_id, parent_kanban_id, sub_issue_count,
			last_sync_at, created_at, updated_at
		) VALUES (?, ?, COALESCE(?, ''), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, 0), ?, ?, ?)
	`,
		u.Identifier, u.ProjectIdentifier, u.Title, u.Description, u.Status, u.Priority,
		u.SourceID, u.KanbanID, u.BeadsID,
		formatTimePtr(u.SourceUpdatedAt), formatTimePtr(u.KanbanUpdatedAt), formatTimePtr(u.BeadsUpdatedAt),
		u.ContentHash, u.SourceContentHash, u.KanbanContentHash, u.BeadsContentHash,
		u.ParentSourceID, u.ParentKanbanID, u.SubIssueCount,
		formatTimePtr(u.LastSyncAt), now, now)
	if err != nil {
		return fmt.Errorf("upsert issue %s: %w", u.Identifier, err)
	}
	return nil
}

const issueColumns = `identifier, project_identifier, title, description, status, priority,
	source_id, kanban_id, beads_id,
	source_updated_at, kanban_updated_at, beads_updated_at,
	content_hash, source_content_hash, kanban_content_hash, beads_content_hash,
	parent_source_id, parent_kanban_id, sub_issue_count,
	deleted_from_source, last_sync_at, created_at, updated_at`

// GetIssue retrieves an issue by identifier. Returns (nil, nil) when the
// issue does not exist. Soft-deleted issues are still retrievable.
func (s *Store) GetIssue(identifier string) (*Issue, error) {
	row := s.QueryRow(`SELECT `+issueColumns+` FROM issues WHERE identifier = ?`, identifier)
	i, err := scanIssue(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("get issue %s: %w", identifier, err)
	}
	return i, nil
}

// GetIssueBySystemID retrieves the issue linked to the given external
// system's identifier. Returns (nil, nil) when no issue carries that link.
func (s *Store) GetIssueBySystemID(system, id string) (*Issue, error) {
	var col string
	switch system {
	case SystemSource:
		col = "source_id"
	case SystemKanban:
		col = "kanban_id"
	case SystemBeads:
		col = "beads_id"
	default:
		return nil, fmt.Errorf("get issue by system id: unknown system %q", system)
	}

	row := s.QueryRow(`SELECT `+issueColumns+` FROM issues WHERE `+col+` = ?`, id)
	i, err := scanIssue(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("get issue by %s id %s: %w", system, id, err)
	}
	return i, nil
}

// GetProjectIssues returns all issues belonging to a project.
func (s *Store) GetProjectIssues(projectIdentifier string) ([]*Issue, error) {
	return s.queryIssues(`SELECT `+issueColumns+` FROM issues WHERE project_identifier = ? ORDER BY identifier`, projectIdentifier)
}

// GetAllIssues returns every tracked issue ordered by identifier.
func (s *Store) GetAllIssues() ([]*Issue, error) {
	return s.queryIssues(`SELECT ` + issueColumns + ` FROM issues ORDER BY identifier`)
}

// GetChildIssues returns the issues whose parent pointer in the given
// system's namespace matches parentID. The source and kanban parent
// namespaces are independent; a child in one is not necessarily a child in
// the other.
func (s *Store) GetChildIssues(system, parentID string) ([]*Issue, error) {
	var col string
	switch system {
	case SystemSource:
		col = "parent_source_id"
	case SystemKanban:
		col = "parent_kanban_id"
	default:
		return nil, fmt.Errorf("get child issues: no parent namespace for system %q", system)
	}
	return s.queryIssues(`SELECT `+issueColumns+` FROM issues WHERE `+col+` = ? ORDER BY identifier`, parentID)
}

// RefreshSubIssueCounts recomputes the denormalized child count for every
// issue in the project from the stored parent pointers. A child pointing at
// the same parent in both namespaces counts once.
func (s *Store) RefreshSubIssueCounts(projectIdentifier string) error {
	_, err := s.Exec(`
		UPDATE issues SET sub_issue_count = (
			SELECT COUNT(*) FROM issues AS child
			WHERE child.project_identifier = issues.project_identifier
			  AND child.identifier != issues.identifier
			  AND ((issues.source_id IS NOT NULL AND child.parent_source_id = issues.source_id)
			    OR (issues.kanban_id IS NOT NULL AND child.parent_kanban_id = issues.kanban_id))
		)
		WHERE project_identifier = ?
	`, projectIdentifier)
	if err != nil {
		return fmt.Errorf("refresh sub-issue counts %s: %w", projectIdentifier, err)
	}
	return nil
}

// MarkDeletedFromSource soft-deletes an issue: the source system no longer
// has it, but the local record survives to protect downstream systems from
// cascading loss.
func (s *Store) MarkDeletedFromSource(identifier string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.Exec(`
		UPDATE issues SET deleted_from_source = 1, updated_at = ? WHERE identifier = ?
	`, now, identifier)
	if err != nil {
		return fmt.Errorf("mark issue deleted %s: %w", identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark issue deleted: issue %s not found", identifier)
	}
	return nil
}

// IsDeletedFromSource reports whether the issue has been soft-deleted at the
// source. Unknown issues report false.
func (s *Store) IsDeletedFromSource(identifier string) (bool, error) {
	row := s.QueryRow(`SELECT deleted_from_source FROM issues WHERE identifier = ?`, identifier)
	var deleted int
	if err := row.Scan(&deleted); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		if s.Closed() {
			return false, ErrClosed
		}
		return false, fmt.Errorf("check issue deleted %s: %w", identifier, err)
	}
	return deleted == 1, nil
}

// GetIssuesWithContentMismatch returns issues whose current merged hash
// diverges from what the given system last told us: the drift-detection
// query. Issues the system has never reported (hash column null) are not
// drift; issues never hashed locally are not drift either.
func (s *Store) GetIssuesWithContentMismatch(system string) ([]*Issue, error) {
	var col string
	switch system {
	case SystemSource:
		col = "source_content_hash"
	case SystemKanban:
		col = "kanban_content_hash"
	case SystemBeads:
		col = "beads_content_hash"
	default:
		return nil, fmt.Errorf("content mismatch: unknown system %q", system)
	}
	return s.queryIssues(`
		SELECT ` + issueColumns + ` FROM issues
		WHERE content_hash IS NOT NULL AND ` + col + ` IS NOT NULL
		  AND content_hash != ` + col + `
		ORDER BY identifier`)
}

func (s *Store) queryIssues(query string, args ...any) ([]*Issue, error) {
	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}

func scanIssue(row scanner) (*Issue, error) {
	var i Issue
	var description, status, priority sql.NullString
	var sourceID, kanbanID, beadsID sql.NullString
	var sourceUpdated, kanbanUpdated, beadsUpdated sql.NullString
	var contentHash, sourceHash, kanbanHash, beadsHash sql.NullString
	var parentSource, parentKanban, lastSync sql.NullString
	var deleted int
	var createdAt, updatedAt string

	err := row.Scan(&i.Identifier, &i.ProjectIdentifier, &i.Title, &description, &status, &priority,
		&sourceID, &kanbanID, &beadsID,
		&sourceUpdated, &kanbanUpdated, &beadsUpdated,
		&contentHash, &sourceHash, &kanbanHash, &beadsHash,
		&parentSource, &parentKanban, &i.SubIssueCount,
		&deleted, &lastSync, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	i.Description = description.String
	i.Status = status.String
	i.Priority = priority.String
	i.SourceID = sourceID.String
	i.KanbanID = kanbanID.String
	i.BeadsID = beadsID.String
	i.SourceUpdatedAt = parseTimePtr(sourceUpdated)
	i.KanbanUpdatedAt = parseTimePtr(kanbanUpdated)
	i.BeadsUpdatedAt = parseTimePtr(beadsUpdated)
	i.ContentHash = contentHash.String
	i.SourceContentHash = sourceHash.String
	i.KanbanContentHash = kanbanHash.String
	i.BeadsContentHash = beadsHash.String
	i.ParentSourceID = parentSource.String
	i.ParentKanbanID = parentKanban.String
	i.DeletedFromSource = deleted == 1
	i.LastSyncAt = parseTimePtr(lastSync)
	if ts := parseTime(createdAt); ts != nil {
		i.CreatedAt = *ts
	}
	if ts := parseTime(updatedAt); ts != nil {
		i.UpdatedAt = *ts
	}
	return &i, nil
}
