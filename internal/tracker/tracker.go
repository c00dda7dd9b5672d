// Package tracker defines the record shape and client capability that every
// external system adapter (upstream tracker, kanban tool, embedded tracker)
// provides to the reconciliation core. The core never talks to a concrete
// API; it talks to this interface.
package tracker

import (
	"context"
	"time"
)

// Record is the system-neutral view of an issue or project as reported by
// one external system.
type Record struct {
	// ID is the identifier assigned by the reporting system.
	ID string

	Title       string
	Description string
	Status      string
	Priority    string

	// ParentID is the reporting system's parent pointer, if any.
	ParentID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Page is one page of records plus the opaque cursor for the next page.
// An empty NextCursor means the listing is complete.
type Page struct {
	Records    []Record
	NextCursor string
}

// Client is the per-system capability consumed by the reconciliation core.
type Client interface {
	// System returns the system label ("source", "kanban", "beads").
	System() string

	// ListRecords returns all records for a project reference. A non-empty
	// cursor requests only records modified after the cursor position.
	ListRecords(ctx context.Context, projectRef, cursor string) (*Page, error)

	// CreateRecord creates a record and returns it with the assigned ID.
	CreateRecord(ctx context.Context, projectRef string, r Record) (*Record, error)

	// UpdateField sets a single field on an existing record.
	UpdateField(ctx context.Context, id, field, value string) error
}
