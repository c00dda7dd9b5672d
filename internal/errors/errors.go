// Package errors provides structured error types for concord.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for concord.
const (
	// Store errors
	CodeStoreClosed   Code = "STORE_CLOSED"
	CodeStoreNotEmpty Code = "STORE_NOT_EMPTY"

	// Entity errors
	CodeProjectNotFound Code = "PROJECT_NOT_FOUND"
	CodeIssueNotFound   Code = "ISSUE_NOT_FOUND"
	CodeRunNotFound     Code = "RUN_NOT_FOUND"
	CodeRunSealed       Code = "RUN_SEALED"

	// Upstream errors
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeRecordConflict      Code = "RECORD_CONFLICT"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"

	// Migration errors
	CodeSnapshotInvalid Code = "SNAPSHOT_INVALID"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
	CategoryTimeout
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeStoreClosed:         CategoryInternal,
	CodeStoreNotEmpty:       CategoryConflict,
	CodeProjectNotFound:     CategoryNotFound,
	CodeIssueNotFound:       CategoryNotFound,
	CodeRunNotFound:         CategoryNotFound,
	CodeRunSealed:           CategoryConflict,
	CodeRateLimited:         CategoryUnavailable,
	CodeUpstreamUnavailable: CategoryUnavailable,
	CodeRecordConflict:      CategoryConflict,
	CodeConfigInvalid:       CategoryBadRequest,
	CodeConfigMissing:       CategoryBadRequest,
	CodeSnapshotInvalid:     CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryTimeout:
		return 504
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// ConcordError is the structured error type for concord.
type ConcordError struct {
	Code    Code   `json:"code"`
	What    string `json:"what"`
	Why     string `json:"why,omitempty"`
	Fix     string `json:"fix,omitempty"`
	DocsURL string `json:"docs_url,omitempty"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *ConcordError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *ConcordError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *ConcordError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	if e.DocsURL != "" {
		b.WriteString("\n\nDocs: ")
		b.WriteString(e.DocsURL)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *ConcordError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *ConcordError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *ConcordError) MarshalJSON() ([]byte, error) {
	type alias ConcordError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a ConcordError with the same code.
func (e *ConcordError) Is(target error) bool {
	t, ok := target.(*ConcordError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *ConcordError) WithCause(err error) *ConcordError {
	return &ConcordError{
		Code:    e.Code,
		What:    e.What,
		Why:     e.Why,
		Fix:     e.Fix,
		DocsURL: e.DocsURL,
		Cause:   err,
	}
}

// --- Error constructors ---

// ErrStoreClosed returns an error for operations on a closed store.
func ErrStoreClosed() *ConcordError {
	return &ConcordError{
		Code: CodeStoreClosed,
		What: "sync state store is closed",
		Why:  "The store handle was closed and cannot be reused",
		Fix:  "Open a new store handle; closed handles are terminal",
	}
}

// ErrStoreNotEmpty returns an error when a snapshot import hits live data.
func ErrStoreNotEmpty() *ConcordError {
	return &ConcordError{
		Code: CodeStoreNotEmpty,
		What: "sync state store already contains data",
		Why:  "Snapshot import only runs against an empty store",
		Fix:  "Remove the store database or skip the import; the snapshot file is left untouched",
	}
}

// ErrProjectNotFound returns an error when a project doesn't exist.
func ErrProjectNotFound(identifier string) *ConcordError {
	return &ConcordError{
		Code: CodeProjectNotFound,
		What: fmt.Sprintf("project %s not found", identifier),
		Why:  "No project with this identifier exists in the sync state store",
		Fix:  "Run 'concord status' to list known projects",
	}
}

// ErrIssueNotFound returns an error when an issue doesn't exist.
func ErrIssueNotFound(identifier string) *ConcordError {
	return &ConcordError{
		Code: CodeIssueNotFound,
		What: fmt.Sprintf("issue %s not found", identifier),
		Why:  "No issue with this identifier exists in the sync state store",
		Fix:  "Run 'concord sync' to pull the latest records from the connected systems",
	}
}

// ErrRunNotFound returns an error when a sync run doesn't exist.
func ErrRunNotFound(id int64) *ConcordError {
	return &ConcordError{
		Code: CodeRunNotFound,
		What: fmt.Sprintf("sync run %d not found", id),
		Why:  "No sync run with this ID has been recorded",
		Fix:  "Run 'concord runs' to list recorded sync runs",
	}
}

// ErrRunSealed returns an error when completing an already-completed run.
func ErrRunSealed(id int64) *ConcordError {
	return &ConcordError{
		Code: CodeRunSealed,
		What: fmt.Sprintf("sync run %d is already completed", id),
		Why:  "A sync run records its outcome exactly once",
	}
}

// ErrRateLimited returns an error when an external system throttles us.
func ErrRateLimited(system string, retryAfter string) *ConcordError {
	return &ConcordError{
		Code: CodeRateLimited,
		What: fmt.Sprintf("%s rate limit exceeded", system),
		Why:  fmt.Sprintf("The %s API asked us to back off (retry after %s)", system, retryAfter),
		Fix:  "Wait and retry; reduce batch concurrency in config if this recurs",
	}
}

// ErrUpstreamUnavailable returns an error when an external system is down.
func ErrUpstreamUnavailable(system string) *ConcordError {
	return &ConcordError{
		Code: CodeUpstreamUnavailable,
		What: fmt.Sprintf("%s is unavailable", system),
		Why:  fmt.Sprintf("Requests to the %s API are failing", system),
		Fix:  "Check connectivity and credentials, then retry the sync",
	}
}

// ErrRecordConflict returns an error when a create hits an existing record.
func ErrRecordConflict(system, name string) *ConcordError {
	return &ConcordError{
		Code: CodeRecordConflict,
		What: fmt.Sprintf("%s already has a record named %q", system, name),
		Why:  "A record with this name exists but was not created by this run",
		Fix:  "The existing record will be adopted if it can be located",
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *ConcordError {
	return &ConcordError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check concord.yaml and fix the invalid field",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *ConcordError {
	return &ConcordError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to concord.yaml or set the CONCORD_* environment variable", field),
	}
}

// ErrSnapshotInvalid returns an error for a malformed snapshot file.
func ErrSnapshotInvalid(path, reason string) *ConcordError {
	return &ConcordError{
		Code: CodeSnapshotInvalid,
		What: fmt.Sprintf("snapshot file %s is invalid", path),
		Why:  reason,
		Fix:  "Fix or remove the snapshot file and rerun the import",
	}
}

// AsConcordError attempts to convert an error to a ConcordError.
// Returns nil if the error is not a ConcordError.
func AsConcordError(err error) *ConcordError {
	var cerr *ConcordError
	if As(err, &cerr) {
		return cerr
	}
	return nil
}

// As is a convenience wrapper for errors.As.
func As(err error, target any) bool {
	return asError(err, target)
}

// asError implements errors.As behavior.
func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if cerr, ok := err.(*ConcordError); ok {
		if t, ok := target.(**ConcordError); ok {
			*t = cerr
			return true
		}
	}
	// Check unwrapped error
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a ConcordError with unknown code.
func Wrap(err error, what string) *ConcordError {
	return &ConcordError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
