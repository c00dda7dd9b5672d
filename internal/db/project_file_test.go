package db

import "testing"

func TestProjectFile_Upsert(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	f := &ProjectFile{
		ProjectIdentifier: "ACME",
		RelativePath:      "docs/design.md",
		ContentHash:       "hash-1",
		ExternalFileID:    "ext-1",
		FileSize:          1024,
	}
	if err := s.UpsertProjectFile(f); err != nil {
		t.Fatalf("UpsertProjectFile failed: %v", err)
	}

	// Re-scan with new content replaces hash and external id.
	f.ContentHash = "hash-2"
	f.ExternalFileID = "ext-2"
	if err := s.UpsertProjectFile(f); err != nil {
		t.Fatalf("UpsertProjectFile failed: %v", err)
	}

	got, err := s.GetProjectFile("ACME", "docs/design.md")
	if err != nil {
		t.Fatalf("GetProjectFile failed: %v", err)
	}
	if got == nil {
		t.Fatal("file not tracked")
	}
	if got.ContentHash != "hash-2" || got.ExternalFileID != "ext-2" {
		t.Errorf("got hash=%q ext=%q", got.ContentHash, got.ExternalFileID)
	}

	missing, err := s.GetProjectFile("ACME", "nope.md")
	if err != nil {
		t.Fatalf("GetProjectFile failed: %v", err)
	}
	if missing != nil {
		t.Error("untracked file should be nil")
	}
}

func TestGetOrphanedFiles(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	for _, path := range []string{"a.md", "b.md", "sub/c.md"} {
		if err := s.UpsertProjectFile(&ProjectFile{
			ProjectIdentifier: "ACME",
			RelativePath:      path,
			ContentHash:       "h",
		}); err != nil {
			t.Fatalf("UpsertProjectFile failed: %v", err)
		}
	}

	orphans, err := s.GetOrphanedFiles("ACME", []string{"a.md", "sub/c.md"})
	if err != nil {
		t.Fatalf("GetOrphanedFiles failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].RelativePath != "b.md" {
		t.Errorf("orphans = %v, want [b.md]", filePaths(orphans))
	}

	// Empty current list orphans everything tracked.
	orphans, err = s.GetOrphanedFiles("ACME", nil)
	if err != nil {
		t.Fatalf("GetOrphanedFiles failed: %v", err)
	}
	if len(orphans) != 3 {
		t.Errorf("orphans = %v, want all 3", filePaths(orphans))
	}

	// Nothing tracked, nothing orphaned.
	orphans, err = s.GetOrphanedFiles("EMPTY", nil)
	if err != nil {
		t.Fatalf("GetOrphanedFiles failed: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("orphans for untracked project = %v", filePaths(orphans))
	}
}

func TestDeleteProjectFile(t *testing.T) {
	s := MustOpenTestStore(t)
	seedProject(t, s, "ACME")

	if err := s.UpsertProjectFile(&ProjectFile{
		ProjectIdentifier: "ACME",
		RelativePath:      "a.md",
		ContentHash:       "h",
	}); err != nil {
		t.Fatalf("UpsertProjectFile failed: %v", err)
	}

	if err := s.DeleteProjectFile("ACME", "a.md"); err != nil {
		t.Fatalf("DeleteProjectFile failed: %v", err)
	}
	got, _ := s.GetProjectFile("ACME", "a.md")
	if got != nil {
		t.Error("file still tracked after delete")
	}

	// Deleting an untracked file is a no-op.
	if err := s.DeleteProjectFile("ACME", "a.md"); err != nil {
		t.Errorf("second delete should be a no-op, got %v", err)
	}
}

func filePaths(files []*ProjectFile) []string {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.RelativePath
	}
	return paths
}
