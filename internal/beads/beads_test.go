package beads

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/randalmurphal/concord/internal/tracker"
)

// fakeRunner records invocations and plays back canned output.
type fakeRunner struct {
	calls  [][]string
	output string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, workDir string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func TestListRecords(t *testing.T) {
	runner := &fakeRunner{output: `[
		{"id": "bd-1", "title": "Fix login", "status": "open", "priority": "1",
		 "created": "2025-03-01T10:00:00Z", "updated": "2025-03-02T10:00:00Z"},
		{"id": "bd-2", "title": "Other", "status": "closed"}
	]`}
	c := NewClientWithRunner("/repo", runner)

	page, err := c.ListRecords(context.Background(), "ACME", "")
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(page.Records))
	}
	if page.NextCursor != "" {
		t.Errorf("beads listing should never page, got cursor %q", page.NextCursor)
	}

	first := page.Records[0]
	if first.ID != "bd-1" || first.Title != "Fix login" || first.Status != "open" {
		t.Errorf("first = %+v", first)
	}
	if first.CreatedAt.IsZero() {
		t.Error("created timestamp should be parsed")
	}

	if got := strings.Join(runner.calls[0], " "); got != "list --json" {
		t.Errorf("args = %q", got)
	}
}

func TestCreateRecord(t *testing.T) {
	runner := &fakeRunner{output: `{"id": "bd-9", "title": "Fix login"}`}
	c := NewClientWithRunner("/repo", runner)

	created, err := c.CreateRecord(context.Background(), "ACME", tracker.Record{
		Title:       "Fix login",
		Description: "details",
		Priority:    "1",
	})
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if created.ID != "bd-9" {
		t.Errorf("ID = %q, want bd-9", created.ID)
	}

	want := "create Fix login --json -d details -p 1"
	if got := strings.Join(runner.calls[0], " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestCreateRecordMissingID(t *testing.T) {
	c := NewClientWithRunner("/repo", &fakeRunner{output: `{}`})
	if _, err := c.CreateRecord(context.Background(), "ACME", tracker.Record{Title: "x"}); err == nil {
		t.Error("missing id in output should fail")
	}
}

func TestUpdateField(t *testing.T) {
	tests := []struct {
		field    string
		value    string
		wantArgs string
	}{
		{"title", "New", "update bd-1 --title New"},
		{"description", "d", "update bd-1 -d d"},
		{"priority", "2", "update bd-1 -p 2"},
		{"status", "in_progress", "update bd-1 --status in_progress"},
		{"status", "closed", "close bd-1"},
	}

	for _, tt := range tests {
		t.Run(tt.field+"/"+tt.value, func(t *testing.T) {
			runner := &fakeRunner{output: `{}`}
			c := NewClientWithRunner("/repo", runner)

			if err := c.UpdateField(context.Background(), "bd-1", tt.field, tt.value); err != nil {
				t.Fatalf("UpdateField failed: %v", err)
			}
			if got := strings.Join(runner.calls[0], " "); got != tt.wantArgs {
				t.Errorf("args = %q, want %q", got, tt.wantArgs)
			}
		})
	}

	c := NewClientWithRunner("/repo", &fakeRunner{})
	if err := c.UpdateField(context.Background(), "bd-1", "labels", "x"); err == nil {
		t.Error("unknown field should fail")
	}
}

func TestShow(t *testing.T) {
	runner := &fakeRunner{output: `{"id": "bd-1", "title": "Fix login"}`}
	c := NewClientWithRunner("/repo", runner)

	r, err := c.Show(context.Background(), "bd-1")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if r == nil || r.ID != "bd-1" {
		t.Errorf("record = %+v, want bd-1", r)
	}

	c = NewClientWithRunner("/repo", &fakeRunner{output: `{}`})
	r, err = c.Show(context.Background(), "bd-404")
	if err != nil {
		t.Fatalf("Show failed: %v", err)
	}
	if r != nil {
		t.Errorf("unknown issue should return nil, got %+v", r)
	}
}

func TestRunnerErrorsSurface(t *testing.T) {
	cmdErr := &CommandError{Output: "no beads workspace found"}
	c := NewClientWithRunner("/repo", &fakeRunner{err: cmdErr})

	_, err := c.ListRecords(context.Background(), "ACME", "")
	if err == nil {
		t.Fatal("runner error should surface")
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Errorf("error should wrap CommandError, got %v", err)
	}
}
