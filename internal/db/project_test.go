package db

import (
	"testing"
	"time"
)

func TestUpsertProject_CoalesceOnWrite(t *testing.T) {
	s := MustOpenTestStore(t)

	err := s.UpsertProject(&ProjectUpdate{
		Identifier: "ACME",
		Name:       StrPtr("Acme Rockets"),
		SourceID:   StrPtr("src-123"),
	})
	if err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	// A different caller sets only the kanban id; name and source id must
	// survive.
	err = s.UpsertProject(&ProjectUpdate{
		Identifier: "ACME",
		KanbanID:   StrPtr("kb-9"),
	})
	if err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	p, err := s.GetProject("ACME")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p == nil {
		t.Fatal("project not found")
	}
	if p.Name != "Acme Rockets" {
		t.Errorf("Name = %q, want %q", p.Name, "Acme Rockets")
	}
	if p.SourceID != "src-123" {
		t.Errorf("SourceID = %q, want %q", p.SourceID, "src-123")
	}
	if p.KanbanID != "kb-9" {
		t.Errorf("KanbanID = %q, want %q", p.KanbanID, "kb-9")
	}
	if p.Status != ProjectActive {
		t.Errorf("Status = %q, want active", p.Status)
	}
}

func TestUpsertProject_PartialDoesNotResetDefaults(t *testing.T) {
	s := MustOpenTestStore(t)

	err := s.UpsertProject(&ProjectUpdate{
		Identifier: "ACME",
		Name:       StrPtr("Acme Rockets"),
	})
	if err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.ArchiveProject("ACME"); err != nil {
		t.Fatalf("ArchiveProject failed: %v", err)
	}

	// The engine stamping only the observed description hash must not touch
	// the name or revive an archived project.
	err = s.UpsertProject(&ProjectUpdate{
		Identifier:      "ACME",
		DescriptionHash: StrPtr("fresh-hash"),
	})
	if err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	p, err := s.GetProject("ACME")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p.Name != "Acme Rockets" {
		t.Errorf("Name = %q, want Acme Rockets", p.Name)
	}
	if p.Status != ProjectArchived {
		t.Errorf("Status = %q, partial update must not un-archive", p.Status)
	}
	if p.DescriptionHash != "fresh-hash" {
		t.Errorf("DescriptionHash = %q, want fresh-hash", p.DescriptionHash)
	}

	// Same guarantee the other way: refreshing the source id keeps the hash.
	if err := s.UpsertProject(&ProjectUpdate{Identifier: "ACME", SourceID: StrPtr("src-1")}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	p, _ = s.GetProject("ACME")
	if p.DescriptionHash != "fresh-hash" || p.SourceID != "src-1" {
		t.Errorf("project = %+v, stored fields must survive partial updates", p)
	}
}

func TestGetProject_NotFound(t *testing.T) {
	s := MustOpenTestStore(t)

	p, err := s.GetProject("NOPE")
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if p != nil {
		t.Errorf("expected nil for unknown project, got %+v", p)
	}
}

func TestUpdateProjectActivity(t *testing.T) {
	s := MustOpenTestStore(t)

	if err := s.UpsertProject(&ProjectUpdate{Identifier: "ACME"}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.UpdateProjectActivity("ACME", 7); err != nil {
		t.Fatalf("UpdateProjectActivity failed: %v", err)
	}

	p, _ := s.GetProject("ACME")
	if p.IssueCount != 7 {
		t.Errorf("IssueCount = %d, want 7", p.IssueCount)
	}
	if p.LastCheckedAt == nil {
		t.Error("LastCheckedAt not set")
	}

	if err := s.UpdateProjectActivity("NOPE", 1); err == nil {
		t.Error("expected error for unknown project")
	}
}

// setLastChecked backdates last_checked_at directly; the public API always
// stamps "now".
func setLastChecked(t *testing.T, s *Store, identifier string, at time.Time) {
	t.Helper()
	_, err := s.Exec(`UPDATE projects SET last_checked_at = ? WHERE identifier = ?`,
		at.UTC().Format(time.RFC3339), identifier)
	if err != nil {
		t.Fatalf("backdate last_checked_at: %v", err)
	}
}

func TestGetProjectsToSync_CacheWindow(t *testing.T) {
	s := MustOpenTestStore(t)

	// Spec scenario: TEST has 5 issues, last checked 10 minutes ago, cache
	// window 5 minutes -> due.
	if err := s.UpsertProject(&ProjectUpdate{Identifier: "TEST", DescriptionHash: StrPtr("abc")}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.UpdateProjectActivity("TEST", 5); err != nil {
		t.Fatalf("UpdateProjectActivity failed: %v", err)
	}
	setLastChecked(t, s, "TEST", time.Now().Add(-10*time.Minute))

	due, err := s.GetProjectsToSync(5*time.Minute, nil)
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 1 || due[0].Identifier != "TEST" {
		t.Fatalf("due = %v, want [TEST]", identifiers(due))
	}

	// Re-check: after a fresh check the project is excluded.
	if err := s.UpdateProjectActivity("TEST", 5); err != nil {
		t.Fatalf("UpdateProjectActivity failed: %v", err)
	}
	due, err = s.GetProjectsToSync(5*time.Minute, nil)
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("due = %v, want empty", identifiers(due))
	}
}

func TestGetProjectsToSync_EmptyProjectReCheckedLessEagerly(t *testing.T) {
	s := MustOpenTestStore(t)

	if err := s.UpsertProject(&ProjectUpdate{Identifier: "EMPTY", DescriptionHash: StrPtr("abc")}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.UpdateProjectActivity("EMPTY", 0); err != nil {
		t.Fatalf("UpdateProjectActivity failed: %v", err)
	}

	// Checked within the window: excluded.
	due, err := s.GetProjectsToSync(5*time.Minute, nil)
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("freshly checked empty project should be excluded, got %v", identifiers(due))
	}

	// Older than the stretched window: included again.
	setLastChecked(t, s, "EMPTY", time.Now().Add(-25*time.Minute))
	due, err = s.GetProjectsToSync(5*time.Minute, nil)
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("stale empty project should be re-checked, got %v", identifiers(due))
	}
}

func TestGetProjectsToSync_DescriptionHashBypassesCache(t *testing.T) {
	s := MustOpenTestStore(t)

	if err := s.UpsertProject(&ProjectUpdate{Identifier: "META", DescriptionHash: StrPtr("old-hash")}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.UpdateProjectActivity("META", 0); err != nil {
		t.Fatalf("UpdateProjectActivity failed: %v", err)
	}

	// Unchanged observation: excluded.
	due, err := s.GetProjectsToSync(5*time.Minute, map[string]string{"META": "old-hash"})
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("unchanged description should not force a sync, got %v", identifiers(due))
	}

	// Description changed at the source: included despite fresh check.
	due, err = s.GetProjectsToSync(5*time.Minute, map[string]string{"META": "new-hash"})
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 1 || due[0].Identifier != "META" {
		t.Errorf("description change must bypass the cache, got %v", identifiers(due))
	}
}

func TestGetProjectsToSync_NoStoredHashIsAlwaysDue(t *testing.T) {
	s := MustOpenTestStore(t)

	if err := s.UpsertProject(&ProjectUpdate{Identifier: "FRESH"}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.UpdateProjectActivity("FRESH", 3); err != nil {
		t.Fatalf("UpdateProjectActivity failed: %v", err)
	}

	due, err := s.GetProjectsToSync(5*time.Minute, nil)
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("project without a stored description hash must be due, got %v", identifiers(due))
	}
}

func TestGetProjectsToSync_ExcludesArchived(t *testing.T) {
	s := MustOpenTestStore(t)

	if err := s.UpsertProject(&ProjectUpdate{Identifier: "OLD"}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}
	if err := s.ArchiveProject("OLD"); err != nil {
		t.Fatalf("ArchiveProject failed: %v", err)
	}

	due, err := s.GetProjectsToSync(0, nil)
	if err != nil {
		t.Fatalf("GetProjectsToSync failed: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("archived project must never sync, got %v", identifiers(due))
	}
}

func TestSyncCursor_RoundTrip(t *testing.T) {
	s := MustOpenTestStore(t)

	if err := s.UpsertProject(&ProjectUpdate{Identifier: "ACME"}); err != nil {
		t.Fatalf("UpsertProject failed: %v", err)
	}

	cursor, err := s.GetSyncCursor("ACME")
	if err != nil {
		t.Fatalf("GetSyncCursor failed: %v", err)
	}
	if cursor != "" {
		t.Errorf("cursor = %q, want empty (full resync)", cursor)
	}

	if err := s.SetSyncCursor("ACME", "page-token-42"); err != nil {
		t.Fatalf("SetSyncCursor failed: %v", err)
	}
	cursor, _ = s.GetSyncCursor("ACME")
	if cursor != "page-token-42" {
		t.Errorf("cursor = %q, want page-token-42", cursor)
	}

	// Overwrite, then clear.
	if err := s.SetSyncCursor("ACME", "page-token-43"); err != nil {
		t.Fatalf("SetSyncCursor failed: %v", err)
	}
	if err := s.ClearSyncCursor("ACME"); err != nil {
		t.Fatalf("ClearSyncCursor failed: %v", err)
	}
	cursor, _ = s.GetSyncCursor("ACME")
	if cursor != "" {
		t.Errorf("cursor after clear = %q, want empty", cursor)
	}
}

func identifiers(projects []*Project) []string {
	ids := make([]string, len(projects))
	for i, p := range projects {
		ids[i] = p.Identifier
	}
	return ids
}
