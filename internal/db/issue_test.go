package db

import (
	"testing"

	"github.com/randalmurphal/concord/internal/hash"
)

func seedProject(t *testing.T, s *Store, identifier string) {
	t.Helper()
	if err := s.UpsertProject(&ProjectUpdate{Identifier: identifier}); err != nil {
		t.Fatalf("seed project %s: %v", identifier, err)
	}
}

func TestUpsertIssue_Idempotent(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	digest, err := hash.ComputeContentHash(&hash.Content{Title: "Fix login bug", Status: "open", Priority: "high"})
	if err != nil {
		t.Fatalf("ComputeContentHash failed: %v", err)
	}

	u := &IssueUpdate{
		Identifier:        "ACME-1",
		ProjectIdentifier: StrPtr("ACME"),
		Title:             StrPtr("Fix login bug"),
		Status:            StrPtr("open"),
		Priority:          StrPtr("high"),
		ContentHash:       StrPtr(digest),
	}
	if err := s.UpsertIssue(u); err != nil {
		t.Fatalf("first UpsertIssue failed: %v", err)
	}
	if err := s.UpsertIssue(u); err != nil {
		t.Fatalf("second UpsertIssue failed: %v", err)
	}

	i, err := s.GetIssue("ACME-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if i == nil {
		t.Fatal("issue not found")
	}
	if i.ContentHash != digest {
		t.Errorf("ContentHash = %q, want %q", i.ContentHash, digest)
	}
	if i.Title != "Fix login bug" {
		t.Errorf("Title = %q", i.Title)
	}
}

func TestUpsertIssue_PartialPreservesStoredFields(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-2",
		ProjectIdentifier: StrPtr("ACME"),
		Title:             StrPtr("Original title"),
		BeadsID:           StrPtr("bd-77"),
		SourceContentHash: StrPtr("srchash"),
	})
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	// Another system updates only the title.
	err = s.UpsertIssue(&IssueUpdate{
		Identifier: "ACME-2",
		Title:      StrPtr("Renamed title"),
	})
	if err != nil {
		t.Fatalf("partial UpsertIssue failed: %v", err)
	}

	i, _ := s.GetIssue("ACME-2")
	if i.Title != "Renamed title" {
		t.Errorf("Title = %q, want renamed", i.Title)
	}
	if i.BeadsID != "bd-77" {
		t.Errorf("BeadsID = %q, want bd-77 (must survive partial upsert)", i.BeadsID)
	}
	if i.SourceContentHash != "srchash" {
		t.Errorf("SourceContentHash = %q, want srchash", i.SourceContentHash)
	}
	if i.ProjectIdentifier != "ACME" {
		t.Errorf("ProjectIdentifier = %q, want ACME", i.ProjectIdentifier)
	}
}

func TestUpsertIssue_LinkOnlyUpdateNeedsNoProject(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-3",
		ProjectIdentifier: StrPtr("ACME"),
		Title:             StrPtr("Fix login"),
		ContentHash:       StrPtr("merged"),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	// Recording a downstream link carries only the per-system columns.
	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-3",
		KanbanID:          StrPtr("kb-42"),
		KanbanContentHash: StrPtr("kbhash"),
	}); err != nil {
		t.Fatalf("link-only UpsertIssue failed: %v", err)
	}

	i, err := s.GetIssue("ACME-3")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if i.KanbanID != "kb-42" || i.KanbanContentHash != "kbhash" {
		t.Errorf("kanban link = %q / %q", i.KanbanID, i.KanbanContentHash)
	}
	if i.ProjectIdentifier != "ACME" || i.Title != "Fix login" || i.ContentHash != "merged" {
		t.Errorf("stored fields lost: %+v", i)
	}

	// A brand-new issue still needs its project.
	if err := s.UpsertIssue(&IssueUpdate{Identifier: "ACME-999", KanbanID: StrPtr("kb-1")}); err == nil {
		t.Error("inserting a new issue without a project should error")
	}
}

func TestRefreshSubIssueCounts(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-30",
		ProjectIdentifier: StrPtr("ACME"),
		SourceID:          StrPtr("src-30"),
		KanbanID:          StrPtr("kb-30"),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	// One child per namespace plus one linked in both; the double link must
	// count once.
	children := []*IssueUpdate{
		{Identifier: "ACME-31", ProjectIdentifier: StrPtr("ACME"), ParentSourceID: StrPtr("src-30")},
		{Identifier: "ACME-32", ProjectIdentifier: StrPtr("ACME"), ParentKanbanID: StrPtr("kb-30")},
		{Identifier: "ACME-33", ProjectIdentifier: StrPtr("ACME"), ParentSourceID: StrPtr("src-30"), ParentKanbanID: StrPtr("kb-30")},
	}
	for _, u := range children {
		if err := s.UpsertIssue(u); err != nil {
			t.Fatalf("UpsertIssue %s failed: %v", u.Identifier, err)
		}
	}

	if err := s.RefreshSubIssueCounts("ACME"); err != nil {
		t.Fatalf("RefreshSubIssueCounts failed: %v", err)
	}

	parent, _ := s.GetIssue("ACME-30")
	if parent.SubIssueCount != 3 {
		t.Errorf("SubIssueCount = %d, want 3", parent.SubIssueCount)
	}
	leaf, _ := s.GetIssue("ACME-31")
	if leaf.SubIssueCount != 0 {
		t.Errorf("leaf SubIssueCount = %d, want 0", leaf.SubIssueCount)
	}
}

func TestIssue_SoftDelete(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "DEL")

	err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "DEL-1",
		ProjectIdentifier: StrPtr("DEL"),
		Title:             StrPtr("Gone upstream"),
	})
	if err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	deleted, err := s.IsDeletedFromSource("DEL-1")
	if err != nil {
		t.Fatalf("IsDeletedFromSource failed: %v", err)
	}
	if deleted {
		t.Error("fresh issue should not be deleted")
	}

	if err := s.MarkDeletedFromSource("DEL-1"); err != nil {
		t.Fatalf("MarkDeletedFromSource failed: %v", err)
	}

	deleted, err = s.IsDeletedFromSource("DEL-1")
	if err != nil {
		t.Fatalf("IsDeletedFromSource failed: %v", err)
	}
	if !deleted {
		t.Error("IsDeletedFromSource = false after marking")
	}

	// Soft delete: record still retrievable.
	i, err := s.GetIssue("DEL-1")
	if err != nil {
		t.Fatalf("GetIssue failed: %v", err)
	}
	if i == nil {
		t.Fatal("soft-deleted issue must remain retrievable")
	}
	if !i.DeletedFromSource {
		t.Error("DeletedFromSource flag not set on record")
	}

	// Unknown issues report not-deleted, not an error.
	deleted, err = s.IsDeletedFromSource("NOPE-1")
	if err != nil {
		t.Fatalf("IsDeletedFromSource failed: %v", err)
	}
	if deleted {
		t.Error("unknown issue should report false")
	}

	if err := s.MarkDeletedFromSource("NOPE-1"); err == nil {
		t.Error("marking an unknown issue should error")
	}
}

func TestGetIssuesWithContentMismatch(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	// In agreement with the source.
	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-10",
		ProjectIdentifier: StrPtr("ACME"),
		ContentHash:       StrPtr("aaaa"),
		SourceContentHash: StrPtr("aaaa"),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	// Edited locally since the source last reported.
	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-11",
		ProjectIdentifier: StrPtr("ACME"),
		ContentHash:       StrPtr("bbbb"),
		SourceContentHash: StrPtr("aaaa"),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	// Never reported by the source: not drift.
	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-12",
		ProjectIdentifier: StrPtr("ACME"),
		ContentHash:       StrPtr("cccc"),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	drifted, err := s.GetIssuesWithContentMismatch(SystemSource)
	if err != nil {
		t.Fatalf("GetIssuesWithContentMismatch failed: %v", err)
	}
	if len(drifted) != 1 || drifted[0].Identifier != "ACME-11" {
		ids := make([]string, len(drifted))
		for i, d := range drifted {
			ids[i] = d.Identifier
		}
		t.Errorf("drifted = %v, want [ACME-11]", ids)
	}

	if _, err := s.GetIssuesWithContentMismatch("bogus"); err == nil {
		t.Error("unknown system should error")
	}
}

func TestGetChildIssues(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-20",
		ProjectIdentifier: StrPtr("ACME"),
		Title:             StrPtr("Parent"),
		SourceID:          StrPtr("src-20"),
		SubIssueCount:     IntPtr(2),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}
	for _, child := range []string{"ACME-21", "ACME-22"} {
		if err := s.UpsertIssue(&IssueUpdate{
			Identifier:        child,
			ProjectIdentifier: StrPtr("ACME"),
			ParentSourceID:    StrPtr("src-20"),
		}); err != nil {
			t.Fatalf("UpsertIssue failed: %v", err)
		}
	}
	// Child only in the kanban parent namespace.
	if err := s.UpsertIssue(&IssueUpdate{
		Identifier:        "ACME-23",
		ProjectIdentifier: StrPtr("ACME"),
		ParentKanbanID:    StrPtr("kb-20"),
	}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	children, err := s.GetChildIssues(SystemSource, "src-20")
	if err != nil {
		t.Fatalf("GetChildIssues failed: %v", err)
	}
	if len(children) != 2 {
		t.Errorf("source children = %d, want 2", len(children))
	}

	kbChildren, err := s.GetChildIssues(SystemKanban, "kb-20")
	if err != nil {
		t.Fatalf("GetChildIssues failed: %v", err)
	}
	if len(kbChildren) != 1 || kbChildren[0].Identifier != "ACME-23" {
		t.Errorf("kanban children wrong: %d", len(kbChildren))
	}

	// Beads has no parent namespace.
	if _, err := s.GetChildIssues(SystemBeads, "x"); err == nil {
		t.Error("beads parent lookup should error")
	}

	parent, _ := s.GetIssue("ACME-20")
	if parent.SubIssueCount != 2 {
		t.Errorf("SubIssueCount = %d, want 2", parent.SubIssueCount)
	}
}

func TestGetProjectIssues(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "A")
	seedProject(t, s, "B")

	for _, id := range []string{"A-1", "A-2"} {
		if err := s.UpsertIssue(&IssueUpdate{Identifier: id, ProjectIdentifier: StrPtr("A")}); err != nil {
			t.Fatalf("UpsertIssue failed: %v", err)
		}
	}
	if err := s.UpsertIssue(&IssueUpdate{Identifier: "B-1", ProjectIdentifier: StrPtr("B")}); err != nil {
		t.Fatalf("UpsertIssue failed: %v", err)
	}

	issues, err := s.GetProjectIssues("A")
	if err != nil {
		t.Fatalf("GetProjectIssues failed: %v", err)
	}
	if len(issues) != 2 {
		t.Errorf("project A issues = %d, want 2", len(issues))
	}

	all, err := s.GetAllIssues()
	if err != nil {
		t.Fatalf("GetAllIssues failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("all issues = %d, want 3", len(all))
	}

	none, err := s.GetProjectIssues("EMPTY")
	if err != nil {
		t.Fatalf("GetProjectIssues failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown project should have no issues")
	}
}
