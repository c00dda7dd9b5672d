// Package resolve implements identity resolution across tracked systems:
// given a record from one system and candidates from another, find the one
// candidate that already represents the same real-world item, without any
// shared primary key.
package resolve

import (
	"log/slog"
	"strings"

	"github.com/randalmurphal/concord/internal/db"
	"github.com/randalmurphal/concord/internal/tracker"
)

// longTitleMinLen is the minimum normalized length for the prefix-match
// fallback. Short titles are too likely to prefix each other by accident.
const longTitleMinLen = 16

// Resolver matches records across systems. Safe for concurrent use; the
// only shared state is the store, which serializes its own writes.
type Resolver struct {
	store  *db.Store
	logger *slog.Logger
}

// New creates a Resolver backed by the sync state store.
func New(store *db.Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, logger: logger}
}

// LinkedIssueID returns the target system's identifier already stored for
// the source system's record, if the two are linked. "" means not linked.
func (r *Resolver) LinkedIssueID(sourceSystem, sourceID, targetSystem string) (string, error) {
	issue, err := r.store.GetIssueBySystemID(sourceSystem, sourceID)
	if err != nil {
		return "", err
	}
	if issue == nil {
		return "", nil
	}
	switch targetSystem {
	case db.SystemSource:
		return issue.SourceID, nil
	case db.SystemKanban:
		return issue.KanbanID, nil
	case db.SystemBeads:
		return issue.BeadsID, nil
	default:
		return "", nil
	}
}

// FindIssueMatch finds the candidate already representing the record with
// the given source identifier and title. Matching order, first match wins:
//
//  1. embedded back-reference token equal to sourceID
//  2. exact case-insensitive title match
//  3. title match after stripping bracketed noise prefixes
//  4. clean-prefix match for long titles (truncation guard)
//
// Returns nil when nothing matches: the caller should create a new linked
// record.
func (r *Resolver) FindIssueMatch(sourceID, title string, candidates []tracker.Record) *tracker.Record {
	if m := r.matchByBackref(sourceID, candidates); m != nil {
		return m
	}
	return matchByTitle(title, candidates)
}

// FindProjectMatch applies the same ladder to projects, matching by the
// project identifier embedded in candidate descriptions and by name.
func (r *Resolver) FindProjectMatch(identifier, name string, candidates []tracker.Record) *tracker.Record {
	if m := r.matchByBackref(identifier, candidates); m != nil {
		return m
	}
	return matchByTitle(name, candidates)
}

// matchByBackref scans candidate free text for an embedded identifier. When
// several candidates claim the same source record the most recently created
// one wins; that situation indicates an earlier sync bug, so it is logged
// loudly rather than swallowed.
func (r *Resolver) matchByBackref(sourceID string, candidates []tracker.Record) *tracker.Record {
	if sourceID == "" {
		return nil
	}

	var matches []int
	for i, c := range candidates {
		if ref, ok := extractBackref(c.Description); ok && ref == sourceID {
			matches = append(matches, i)
		}
	}

	switch len(matches) {
	case 0:
		return nil
	case 1:
		return &candidates[matches[0]]
	}

	newest := matches[0]
	for _, i := range matches[1:] {
		if candidates[i].CreatedAt.After(candidates[newest].CreatedAt) {
			newest = i
		}
	}

	ids := make([]string, len(matches))
	for i, m := range matches {
		ids[i] = candidates[m].ID
	}
	r.logger.Warn("multiple candidates reference the same record; keeping the newest",
		"source_id", sourceID,
		"candidate_ids", ids,
		"kept", candidates[newest].ID)

	return &candidates[newest]
}

func matchByTitle(title string, candidates []tracker.Record) *tracker.Record {
	want := strings.ToLower(strings.TrimSpace(title))
	if want == "" {
		return nil
	}

	// Step 2: exact case-insensitive match.
	for i, c := range candidates {
		if strings.ToLower(strings.TrimSpace(c.Title)) == want {
			return &candidates[i]
		}
	}

	// Step 3: ignore bracketed noise prefixes on both sides.
	wantNorm := normalizeTitle(title)
	if wantNorm == "" {
		return nil
	}
	for i, c := range candidates {
		if normalizeTitle(c.Title) == wantNorm {
			return &candidates[i]
		}
	}

	// Step 4: clean prefix, guarding against upstream truncation.
	if len(wantNorm) >= longTitleMinLen {
		for i, c := range candidates {
			if strings.HasPrefix(normalizeTitle(c.Title), wantNorm) {
				return &candidates[i]
			}
		}
	}

	return nil
}

// normalizeTitle trims, case-folds, and strips leading bracketed tags.
func normalizeTitle(title string) string {
	t := strings.TrimSpace(title)
	for {
		stripped := noisePrefix.ReplaceAllString(t, "")
		if stripped == t {
			break
		}
		t = stripped
	}
	return strings.ToLower(strings.TrimSpace(t))
}
