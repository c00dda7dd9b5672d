package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Project statuses.
const (
	ProjectActive   = "active"
	ProjectArchived = "archived"
)

// emptyRecheckFactor stretches the cache window for projects with zero
// issues. Empty projects are still re-checked (they may have gained issues)
// but less eagerly than active ones.
const emptyRecheckFactor = 2

// Project is one tracked unit of work across all three systems.
type Project struct {
	Identifier       string
	Name             string
	SourceID         string
	KanbanID         string
	FilesystemPath   string
	IssueCount       int
	Status           string
	DescriptionHash  string
	LastCheckedAt    *time.Time
	LastSyncAt       *time.Time
	AgentID          string
	MemoryFolderID   string
	MemorySourceID   string
	MemoryLastSyncAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ProjectUpdate is a partial project record for UpsertProject. Nil fields
// keep whatever is already stored; only Identifier is required.
type ProjectUpdate struct {
	Identifier       string
	Name             *string
	SourceID         *string
	KanbanID         *string
	FilesystemPath   *string
	Status           *string
	DescriptionHash  *string
	AgentID          *string
	MemoryFolderID   *string
	MemorySourceID   *string
	MemoryLastSyncAt *time.Time
	LastSyncAt       *time.Time
}

// UpsertProject inserts or updates a project. Re-applying the same input is
// a no-op with respect to observable state. Fields not supplied (nil) retain
// their previously stored value: each caller updates only the fields it owns.
// The update runs first against the stored row; the insert path only fires
// for an unknown project, and only that path applies the name and status
// defaults, so a partial update can never reset them.
func (s *Store) UpsertProject(u *ProjectUpdate) error {
	if u == nil || u.Identifier == "" {
		return fmt.Errorf("upsert project: identifier is required")
	}

	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.Exec(`
		UPDATE projects SET
			name = COALESCE(?, name),
			source_id = COALESCE(?, source_id),
			kanban_id = COALESCE(?, kanban_id),
			filesystem_path = COALESCE(?, filesystem_path),
			status = COALESCE(?, status),
			description_hash = COALESCE(?, description_hash),
			agent_id = COALESCE(?, agent_id),
			memory_folder_id = COALESCE(?, memory_folder_id),
			memory_source_id = COALESCE(?, memory_source_id),
			memory_last_sync_at = COALESCE(?, memory_last_sync_at),
			last_sync_at = COALESCE(?, last_sync_at),
			updated_at = ?
		WHERE identifier = ?
	`,
		u.Name, u.SourceID, u.KanbanID, u.FilesystemPath, u.Status,
		u.DescriptionHash, u.AgentID, u.MemoryFolderID, u.MemorySourceID,
		formatTimePtr(u.MemoryLastSyncAt), formatTimePtr(u.LastSyncAt), now, u.Identifier)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", u.Identifier, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.Exec(`
		INSERT INTO projects (
			identifier, name, source_id, kanban_id, filesystem_path, status,
			description_hash, agent_id, memory_folder_id, memory_source_id,
			memory_last_sync_at, last_sync_at, created_at, updated_at
		) VALUES (?, COALESCE(?, ''), ?, ?, ?, COALESCE(?, 'active'), ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		u.Identifier, u.Name, u.SourceID, u.KanbanID, u.FilesystemPath, u.Status,
		u.DescriptionHash, u.AgentID, u.MemoryFolderID, u.MemorySourceID,
		formatTimePtr(u.MemoryLastSyncAt), formatTimePtr(u.LastSyncAt), now, now)
	if err != nil {
		return fmt.Errorf("upsert project %s: %w", u.Identifier, err)
	}
	return nil
}

const projectColumns = `identifier, name, source_id, kanban_id, filesystem_path,
	issue_count, status, description_hash, last_checked_at, last_sync_at,
	agent_id, memory_folder_id, memory_source_id, memory_last_sync_at,
	created_at, updated_at`

// GetProject retrieves a project by identifier. Returns (nil, nil) when the
// project does not exist.
func (s *Store) GetProject(identifier string) (*Project, error) {
	row := s.QueryRow(`SELECT `+projectColumns+` FROM projects WHERE identifier = ?`, identifier)
	p, err := scanProject(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if s.Closed() {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("get project %s: %w", identifier, err)
	}
	return p, nil
}

// GetAllProjects returns every tracked project ordered by identifier.
func (s *Store) GetAllProjects() ([]*Project, error) {
	rows, err := s.Query(`SELECT ` + projectColumns + ` FROM projects ORDER BY identifier`)
	if err != nil {
		return nil, fmt.Errorf("query projects: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectActivity records the result of checking a project: its
// current issue count and a fresh last_checked_at. This is the only writer
// of the issue_count denormalization.
func (s *Store) UpdateProjectActivity(identifier string, issueCount int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.Exec(`
		UPDATE projects SET issue_count = ?, last_checked_at = ?, updated_at = ?
		WHERE identifier = ?
	`, issueCount, now, now, identifier)
	if err != nil {
		return fmt.Errorf("update project activity %s: %w", identifier, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update project activity: project %s not found", identifier)
	}
	return nil
}

// MarkProjectSynced stamps last_sync_at after a successful reconciliation
// pass over the project.
func (s *Store) MarkProjectSynced(identifier string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.Exec(`
		UPDATE projects SET last_sync_at = ?, updated_at = ? WHERE identifier = ?
	`, now, now, identifier)
	if err != nil {
		return fmt.Errorf("mark project synced %s: %w", identifier, err)
	}
	return nil
}

// ArchiveProject marks a project archived. Archived projects are excluded
// from every scheduling decision but their history is kept.
func (s *Store) ArchiveProject(identifier string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.Exec(`
		UPDATE projects SET status = ?, updated_at = ? WHERE identifier = ?
	`, ProjectArchived, now, identifier)
	if err != nil {
		return fmt.Errorf("archive project %s: %w", identifier, err)
	}
	return nil
}

// GetProjectsToSync returns the projects due for a refresh. A project is due
// when any of these hold:
//
//   - it has issues and last_checked_at is older than cacheWindow
//   - it has zero issues and last_checked_at is older than
//     emptyRecheckFactor*cacheWindow
//   - its stored description hash differs from the observed hash supplied
//     for it, or it has no stored hash at all; metadata changes bypass the
//     issue-activity cache entirely
//
// A project never checked before is always due. Archived projects are never
// returned. observedDescHashes maps project identifier to the description
// digest most recently seen at the source system; projects absent from the
// map are judged on the cache window alone.
func (s *Store) GetProjectsToSync(cacheWindow time.Duration, observedDescHashes map[string]string) ([]*Project, error) {
	all, err := s.GetAllProjects()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var due []*Project
	for _, p := range all {
		if p.Status == ProjectArchived {
			continue
		}
		if projectDue(p, now, cacheWindow, observedDescHashes) {
			due = append(due, p)
		}
	}
	return due, nil
}

func projectDue(p *Project, now time.Time, window time.Duration, observed map[string]string) bool {
	if p.DescriptionHash == "" {
		return true
	}
	if h, ok := observed[p.Identifier]; ok && h != p.DescriptionHash {
		return true
	}
	if p.LastCheckedAt == nil {
		return true
	}

	age := now.Sub(*p.LastCheckedAt)
	if p.IssueCount > 0 {
		return age > window
	}
	return age > window*emptyRecheckFactor
}

// scanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*Project, error) {
	var p Project
	var sourceID, kanbanID, fsPath, descHash sql.NullString
	var lastChecked, lastSync, agentID, memFolder, memSource, memLastSync sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&p.Identifier, &p.Name, &sourceID, &kanbanID, &fsPath,
		&p.IssueCount, &p.Status, &descHash, &lastChecked, &lastSync,
		&agentID, &memFolder, &memSource, &memLastSync,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	p.SourceID = sourceID.String
	p.KanbanID = kanbanID.String
	p.FilesystemPath = fsPath.String
	p.DescriptionHash = descHash.String
	p.AgentID = agentID.String
	p.MemoryFolderID = memFolder.String
	p.MemorySourceID = memSource.String
	p.LastCheckedAt = parseTimePtr(lastChecked)
	p.LastSyncAt = parseTimePtr(lastSync)
	p.MemoryLastSyncAt = parseTimePtr(memLastSync)
	if ts := parseTime(createdAt); ts != nil {
		p.CreatedAt = *ts
	}
	if ts := parseTime(updatedAt); ts != nil {
		p.UpdatedAt = *ts
	}
	return &p, nil
}

// timeFormats are accepted on read. RFC3339 is what the store writes;
// the space-separated form is what SQLite's datetime('now') defaults emit.
var timeFormats = []string{time.RFC3339, "2006-01-02 15:04:05"}

func parseTime(s string) *time.Time {
	for _, layout := range timeFormats {
		if ts, err := time.Parse(layout, s); err == nil {
			return &ts
		}
	}
	return nil
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	return parseTime(ns.String)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
