// Package engine orchestrates reconciliation passes: deciding which projects
// are due, pulling upstream records, resolving identities, mirroring missing
// records into the downstream systems, and keeping the audit trail.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/files"
	"github.com/randalmurphal/concord/internal/hash"
	"github.com/randalmurphal/concord/internal/resolve"
	"github.com/randalmurphal/concord/internal/tracker"
)

// DefaultCacheWindow is used when config supplies no window.
const DefaultCacheWindow = 5 * time.Minute

// ProjectLister lists projects at the source system, with descriptions, so
// the scheduler can detect metadata drift.
type ProjectLister interface {
	ListProjects(ctx context.Context) ([]tracker.Record, error)
}

// BoardClient is the board-level surface of the kanban tool.
type BoardClient interface {
	ListBoards(ctx context.Context) ([]tracker.Record, error)
	CreateBoard(ctx context.Context, name, description string) (string, error)
}

// Engine runs reconciliation passes. The kanban, beads, and files
// collaborators are optional; a nil collaborator skips that mirror.
type Engine struct {
	store    *db.Store
	resolver *resolve.Resolver
	source   tracker.Client
	projects ProjectLister
	kanban   tracker.Client
	boards   BoardClient
	beads    tracker.Client
	files    *files.Tracker
	logger   *slog.Logger

	cacheWindow time.Duration
}

// Options configures an Engine.
type Options struct {
	Source      tracker.Client
	Projects    ProjectLister
	Kanban      tracker.Client
	Boards      BoardClient
	Beads       tracker.Client
	Files       *files.Tracker
	Logger      *slog.Logger
	CacheWindow time.Duration
}

// New creates an engine.
func New(store *db.Store, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheWindow <= 0 {
		opts.CacheWindow = DefaultCacheWindow
	}
	return &Engine{
		store:       store,
		resolver:    resolve.New(store, opts.Logger),
		source:      opts.Source,
		projects:    opts.Projects,
		kanban:      opts.Kanban,
		boards:      opts.Boards,
		beads:       opts.Beads,
		files:       opts.Files,
		logger:      opts.Logger,
		cacheWindow: opts.CacheWindow,
	}
}

// Report aggregates one reconciliation pass.
type Report struct {
	RunID             int64
	ProjectsProcessed int
	ProjectsFailed    int
	IssuesSynced      int
	RecordsCreated    int
	RecordsUpdated    int
	DriftDetected     int
	Errors            []string
}

// Sync runs one reconciliation pass over all due projects. A failing project
// is recorded in the run's error list and the pass continues; only store or
// context failures abort the pass. The sync run audit record is completed
// either way.
func (e *Engine) Sync(ctx context.Context) (*Report, error) {
	runID, err := e.store.StartSyncRun()
	if err != nil {
		return nil, err
	}
	report := &Report{RunID: runID}

	observed, err := e.observeDescriptionHashes(ctx)
	if err != nil {
		// Scheduling degrades to the cache window alone.
		e.logger.Warn("listing source projects failed, skipping description-hash check", "error", err)
		report.Errors = append(report.Errors, fmt.Sprintf("list source projects: %v", err))
	}

	due, err := e.store.GetProjectsToSync(e.cacheWindow, observed)
	if err != nil {
		return report, e.completeRun(report, err)
	}
	e.logger.Info("starting reconciliation pass", "run_id", runID, "due_projects", len(due))

	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return report, e.completeRun(report, err)
		}

		synced, err := e.syncProject(ctx, p, observed[p.Identifier], report)
		report.IssuesSynced += synced
		if err != nil {
			report.ProjectsFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", p.Identifier, err))
			e.logger.Warn("project sync failed", "project", p.Identifier, "error", err)
			continue
		}
		report.ProjectsProcessed++
	}

	return report, e.completeRun(report, nil)
}

func (e *Engine) completeRun(report *Report, cause error) error {
	err := e.store.CompleteSyncRun(report.RunID, db.SyncRunResult{
		ProjectsProcessed: report.ProjectsProcessed,
		ProjectsFailed:    report.ProjectsFailed,
		IssuesSynced:      report.IssuesSynced,
		Errors:            report.Errors,
	})
	if cause != nil {
		return cause
	}
	return err
}

// observeDescriptionHashes maps project identifiers to the digest of the
// description currently visible at the source system.
func (e *Engine) observeDescriptionHashes(ctx context.Context) (map[string]string, error) {
	if e.projects == nil {
		return nil, nil
	}
	recs, err := e.projects.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	observed := make(map[string]string, len(recs))
	for _, r := range recs {
		observed[r.ID] = hash.ComputeDescriptionHash(r.Description)
	}
	return observed, nil
}

// syncProject reconciles one project: pull from source, soft-delete
// vanished records, mirror into kanban and beads, mirror files, refresh
// activity bookkeeping.
func (e *Engine) syncProject(ctx context.Context, p *db.Project, observedHash string, report *Report) (int, error) {
	pull, err := e.pullSource(ctx, p)
	synced := pull.synced
	if err != nil {
		return synced, err
	}

	if pull.fullListing {
		if err := e.softDeleteVanished(p, pull.seen); err != nil {
			return synced, err
		}
	}

	if e.kanban != nil {
		created, updated, err := e.mirror(ctx, p, e.kanban, pull.changed)
		report.RecordsCreated += created
		report.RecordsUpdated += updated
		if err != nil {
			return synced, err
		}
	}
	if e.beads != nil {
		created, updated, err := e.mirror(ctx, p, e.beads, pull.changed)
		report.RecordsCreated += created
		report.RecordsUpdated += updated
		if err != nil {
			return synced, err
		}
	}

	if err := e.store.RefreshSubIssueCounts(p.Identifier); err != nil {
		return synced, err
	}

	drift, err := e.surfaceDrift(p)
	if err != nil {
		return synced, err
	}
	report.DriftDetected += drift

	if e.files != nil && p.FilesystemPath != "" && p.MemoryFolderID != "" {
		if _, err := e.files.SyncProjectFiles(ctx, p.Identifier, p.MemoryFolderID, p.FilesystemPath); err != nil {
			return synced, fmt.Errorf("mirror files: %w", err)
		}
	}

	issues, err := e.store.GetProjectIssues(p.Identifier)
	if err != nil {
		return synced, err
	}
	if err := e.store.UpdateProjectActivity(p.Identifier, len(issues)); err != nil {
		return synced, err
	}
	if observedHash != "" {
		if err := e.store.UpsertProject(&db.ProjectUpdate{
			Identifier:      p.Identifier,
			DescriptionHash: &observedHash,
		}); err != nil {
			return synced, err
		}
	}
	return synced, e.store.MarkProjectSynced(p.Identifier)
}

// pullResult is what one source listing produced. seen gates soft-deletion;
// changed marks identifiers whose source content hash moved this pass, which
// is what allows forwarding the edit downstream.
type pullResult struct {
	synced      int
	seen        map[string]bool
	changed     map[string]bool
	fullListing bool
}

// pullSource lists the project's records at the source and upserts each into
// the store. A stored cursor resumes an interrupted listing; on success the
// cursor is cleared so the next pass is a fresh full listing. fullListing
// reports whether the whole listing was covered, which gates soft-deletion:
// a resumed partial listing must never be read as "everything else vanished".
func (e *Engine) pullSource(ctx context.Context, p *db.Project) (*pullResult, error) {
	res := &pullResult{
		seen:    make(map[string]bool),
		changed: make(map[string]bool),
	}

	ref := p.SourceID
	if ref == "" {
		ref = p.Identifier
	}

	cursor, err := e.store.GetSyncCursor(p.Identifier)
	if err != nil {
		return res, err
	}
	res.fullListing = cursor == ""

	prior := make(map[string]string)
	existing, err := e.store.GetProjectIssues(p.Identifier)
	if err != nil {
		return res, err
	}
	for _, i := range existing {
		prior[i.Identifier] = i.SourceContentHash
	}

	for {
		page, err := e.source.ListRecords(ctx, ref, cursor)
		if err != nil {
			// Keep the position so the next pass resumes here instead of
			// starting over.
			if cursor != "" {
				if setErr := e.store.SetSyncCursor(p.Identifier, cursor); setErr != nil {
					e.logger.Warn("saving sync cursor failed", "project", p.Identifier, "error", setErr)
				}
			}
			res.fullListing = false
			return res, fmt.Errorf("pull source: %w", err)
		}

		for _, rec := range page.Records {
			h, err := e.upsertSourceRecord(p, rec)
			if err != nil {
				res.fullListing = false
				return res, err
			}
			res.seen[rec.ID] = true
			if prior[rec.ID] != h {
				res.changed[rec.ID] = true
			}
			res.synced++
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	if err := e.store.ClearSyncCursor(p.Identifier); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) upsertSourceRecord(p *db.Project, rec tracker.Record) (string, error) {
	h, err := hash.ComputeContentHash(&hash.Content{
		Title:       rec.Title,
		Description: rec.Description,
		Status:      rec.Status,
		Priority:    rec.Priority,
	})
	if err != nil {
		return "", err
	}

	u := &db.IssueUpdate{
		Identifier:        rec.ID,
		ProjectIdentifier: &p.Identifier,
		Title:             &rec.Title,
		Description:       &rec.Description,
		Status:            &rec.Status,
		Priority:          &rec.Priority,
		SourceID:          &rec.ID,
		SourceContentHash: &h,
		ContentHash:       &h,
	}
	if !rec.UpdatedAt.IsZero() {
		u.SourceUpdatedAt = &rec.UpdatedAt
	}
	if rec.ParentID != "" {
		u.ParentSourceID = &rec.ParentID
	}
	return h, e.store.UpsertIssue(u)
}

// softDeleteVanished marks issues the full source listing no longer
// contains. Downstream copies are left alone: deletion never cascades.
func (e *Engine) softDeleteVanished(p *db.Project, seen map[string]bool) error {
	issues, err := e.store.GetProjectIssues(p.Identifier)
	if err != nil {
		return err
	}
	for _, issue := range issues {
		if issue.SourceID == "" || issue.DeletedFromSource || seen[issue.SourceID] {
			continue
		}
		e.logger.Warn("issue vanished from source, soft-deleting",
			"project", p.Identifier,
			"issue", issue.Identifier)
		if err := e.store.MarkDeletedFromSource(issue.Identifier); err != nil {
			return err
		}
	}
	return nil
}

// mirror pushes the project's issues into one downstream system, adopting
// records the resolver can match and creating the rest with an embedded
// back-reference. Already-linked issues are refreshed: an upstream edit is
// forwarded when the downstream copy is untouched, otherwise the copy's hash
// is recorded so drift detection flags it.
func (e *Engine) mirror(ctx context.Context, p *db.Project, client tracker.Client, changed map[string]bool) (int, int, error) {
	system := client.System()

	ref, err := e.mirrorRef(ctx, p, system)
	if err != nil {
		return 0, 0, err
	}
	if ref == "" {
		return 0, 0, nil
	}

	candidates, err := listAll(ctx, client, ref)
	if err != nil {
		return 0, 0, fmt.Errorf("mirror %s: %w", system, err)
	}
	byID := make(map[string]*tracker.Record, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
	}

	issues, err := e.store.GetProjectIssues(p.Identifier)
	if err != nil {
		return 0, 0, err
	}

	created, updated := 0, 0
	for _, issue := range issues {
		if issue.DeletedFromSource {
			continue
		}

		linkedID := systemLink(issue, system)
		if linkedID != "" {
			if c, ok := byID[linkedID]; ok {
				pushed, err := e.refreshMirror(ctx, client, issue, c, changed[issue.Identifier])
				if err != nil {
					return created, updated, err
				}
				if pushed {
					updated++
				}
			}
			continue
		}

		if m := e.resolver.FindIssueMatch(issue.Identifier, issue.Title, candidates); m != nil {
			if err := e.linkIssue(issue.Identifier, system, m); err != nil {
				return created, updated, err
			}
			continue
		}

		rec, err := client.CreateRecord(ctx, ref, tracker.Record{
			Title:       issue.Title,
			Description: withBackref(issue.Description, issue.Identifier),
			Status:      issue.Status,
			Priority:    issue.Priority,
		})
		if err != nil {
			return created, updated, fmt.Errorf("mirror %s: create %s: %w", system, issue.Identifier, err)
		}
		if err := e.linkIssue(issue.Identifier, system, rec); err != nil {
			return created, updated, err
		}
		created++
	}
	return created, updated, nil
}

// refreshMirror reconciles one already-linked downstream copy. The upstream
// edit is forwarded only when the source content changed this pass and the
// copy still matches what this system last reported, so nothing a human
// touched downstream is ever overwritten; a copy that was edited
// independently just gets its hash recorded and drift detection flags it.
func (e *Engine) refreshMirror(ctx context.Context, client tracker.Client, issue *db.Issue, c *tracker.Record, sourceChanged bool) (bool, error) {
	system := client.System()
	candHash, err := mirrorHash(c)
	if err != nil {
		return false, err
	}

	stored := systemHash(issue, system)
	if sourceChanged && stored != "" && candHash == stored && issue.ContentHash != candHash {
		if err := e.pushFields(ctx, client, issue, c); err != nil {
			return false, err
		}
		return true, e.recordMirrorState(issue.Identifier, system, &tracker.Record{
			ID:          c.ID,
			Title:       issue.Title,
			Description: issue.Description,
			Status:      issue.Status,
			Priority:    issue.Priority,
			ParentID:    c.ParentID,
			UpdatedAt:   c.UpdatedAt,
		})
	}
	return false, e.recordMirrorState(issue.Identifier, system, c)
}

// pushFields forwards the merged view's fields that differ from the
// downstream copy. Forwarded descriptions keep the embedded back-reference.
func (e *Engine) pushFields(ctx context.Context, client tracker.Client, issue *db.Issue, c *tracker.Record) error {
	system := client.System()
	fields := []struct{ name, have, want string }{
		{"title", c.Title, issue.Title},
		{"description", resolve.StripBackref(c.Description), issue.Description},
		{"status", c.Status, issue.Status},
		{"priority", c.Priority, issue.Priority},
	}
	for _, f := range fields {
		if f.have == f.want {
			continue
		}
		value := f.want
		if f.name == "description" {
			value = withBackref(issue.Description, issue.Identifier)
		}
		if err := client.UpdateField(ctx, c.ID, f.name, value); err != nil {
			return fmt.Errorf("mirror %s: update %s.%s: %w", system, issue.Identifier, f.name, err)
		}
		e.logger.Info("forwarded upstream edit",
			"system", system,
			"issue", issue.Identifier,
			"field", f.name)
	}
	return nil
}

// mirrorRef resolves the downstream container reference for the project,
// provisioning a kanban board when none is linked yet.
func (e *Engine) mirrorRef(ctx context.Context, p *db.Project, system string) (string, error) {
	switch system {
	case db.SystemKanban:
		if p.KanbanID != "" {
			return p.KanbanID, nil
		}
		if e.boards == nil {
			return "", nil
		}
		boards, err := e.boards.ListBoards(ctx)
		if err != nil {
			return "", fmt.Errorf("list boards: %w", err)
		}
		var id string
		if m := e.resolver.FindProjectMatch(p.Identifier, p.Name, boards); m != nil {
			id = m.ID
		} else {
			name := p.Name
			if name == "" {
				name = p.Identifier
			}
			id, err = e.boards.CreateBoard(ctx, name, "sync-ref: "+p.Identifier)
			if err != nil {
				return "", fmt.Errorf("create board: %w", err)
			}
		}
		if err := e.store.UpsertProject(&db.ProjectUpdate{Identifier: p.Identifier, KanbanID: &id}); err != nil {
			return "", err
		}
		p.KanbanID = id
		return id, nil

	case db.SystemBeads:
		// One beads workspace per project; the identifier is the reference.
		return p.Identifier, nil

	default:
		return "", fmt.Errorf("mirror: unknown system %q", system)
	}
}

// linkIssue stores the downstream link and hash for an issue.
func (e *Engine) linkIssue(identifier, system string, rec *tracker.Record) error {
	return e.recordMirrorState(identifier, system, rec)
}

func (e *Engine) recordMirrorState(identifier, system string, rec *tracker.Record) error {
	h, err := mirrorHash(rec)
	if err != nil {
		return err
	}

	u := &db.IssueUpdate{Identifier: identifier}
	switch system {
	case db.SystemKanban:
		u.KanbanID = &rec.ID
		u.KanbanContentHash = &h
		if !rec.UpdatedAt.IsZero() {
			u.KanbanUpdatedAt = &rec.UpdatedAt
		}
		if rec.ParentID != "" {
			u.ParentKanbanID = &rec.ParentID
		}
	case db.SystemBeads:
		u.BeadsID = &rec.ID
		u.BeadsContentHash = &h
		if !rec.UpdatedAt.IsZero() {
			u.BeadsUpdatedAt = &rec.UpdatedAt
		}
	default:
		return fmt.Errorf("record mirror state: unknown system %q", system)
	}
	return e.store.UpsertIssue(u)
}

// surfaceDrift logs issues whose downstream copy no longer matches the
// merged view. Drift is reported, never auto-resolved: overwriting a human
// edit silently is worse than flagging it.
func (e *Engine) surfaceDrift(p *db.Project) (int, error) {
	count := 0
	for _, system := range []string{db.SystemKanban, db.SystemBeads} {
		mismatched, err := e.store.GetIssuesWithContentMismatch(system)
		if err != nil {
			return count, err
		}
		for _, issue := range mismatched {
			if issue.ProjectIdentifier != p.Identifier {
				continue
			}
			count++
			e.logger.Warn("content drift detected",
				"project", p.Identifier,
				"issue", issue.Identifier,
				"system", system)
		}
	}
	return count, nil
}

// listAll drains a client's listing into memory.
func listAll(ctx context.Context, client tracker.Client, ref string) ([]tracker.Record, error) {
	var all []tracker.Record
	cursor := ""
	for {
		page, err := client.ListRecords(ctx, ref, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Records...)
		if page.NextCursor == "" {
			return all, nil
		}
		cursor = page.NextCursor
	}
}

func systemLink(issue *db.Issue, system string) string {
	switch system {
	case db.SystemKanban:
		return issue.KanbanID
	case db.SystemBeads:
		return issue.BeadsID
	default:
		return ""
	}
}

func systemHash(issue *db.Issue, system string) string {
	switch system {
	case db.SystemKanban:
		return issue.KanbanContentHash
	case db.SystemBeads:
		return issue.BeadsContentHash
	default:
		return ""
	}
}

// mirrorHash digests a downstream record the way the merged view is hashed,
// with the embedded back-reference stripped so the token itself never reads
// as an edit.
func mirrorHash(rec *tracker.Record) (string, error) {
	return hash.ComputeContentHash(&hash.Content{
		Title:       rec.Title,
		Description: resolve.StripBackref(rec.Description),
		Status:      rec.Status,
		Priority:    rec.Priority,
	})
}

// withBackref appends the embedded back-reference token the resolver looks
// for, so a wiped store can re-link created records.
func withBackref(description, identifier string) string {
	if description == "" {
		return "sync-ref: " + identifier
	}
	return description + "\n\nsync-ref: " + identifier
}
