package db

import "testing"

// MustOpenTestStore opens a migrated in-memory store and registers cleanup.
func MustOpenTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStoreInMemory()
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// StrPtr returns a pointer to s, for building partial updates in tests.
func StrPtr(s string) *string {
	return &s
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
