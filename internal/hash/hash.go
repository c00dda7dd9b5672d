// Package hash computes stable content digests used for sync change detection.
//
// Digests cover only the semantically meaningful fields of a record (title,
// description, status, priority). Timestamps and per-system identifiers are
// deliberately excluded so that re-fetching unchanged content always yields
// the same digest.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// digestLen is the number of hex characters kept from the full sha256 sum.
// 16 chars (64 bits) is plenty for per-store collision resistance and keeps
// the stored columns readable.
const digestLen = 16

// ErrNilRecord is returned when a digest is requested for a nil record.
// Callers that hit this have a programming error, not external flakiness.
var ErrNilRecord = errors.New("hash: nil record")

// Content holds the fields that participate in a content digest.
type Content struct {
	Title       string
	Description string
	Status      string
	Priority    string
}

// ComputeContentHash returns a deterministic short digest of the record's
// semantic fields. Equal content always produces an equal digest regardless
// of how the caller assembled the struct.
func ComputeContentHash(c *Content) (string, error) {
	if c == nil {
		return "", ErrNilRecord
	}

	h := sha256.New()
	// Fixed field order with a separator byte so ("ab","c") and ("a","bc")
	// never collide.
	for _, f := range []string{c.Title, c.Description, c.Status, c.Priority} {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:digestLen], nil
}

// ComputeDescriptionHash returns a digest of a project description, used to
// detect metadata drift independent of issue activity. Leading/trailing
// whitespace is ignored so editor round-trips don't register as changes.
func ComputeDescriptionHash(description string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(description)))
	return hex.EncodeToString(sum[:])[:digestLen]
}

// ComputeFileHash returns a digest of raw file bytes, used by the file
// tracker to skip re-uploading unchanged files.
func ComputeFileHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:digestLen]
}

// HasContentChanged reports whether the record differs from the stored
// digest. An absent stored digest counts as changed: a record that has never
// been hashed must be synced at least once.
func HasContentChanged(c *Content, storedDigest string) (bool, error) {
	if c == nil {
		return false, ErrNilRecord
	}
	if storedDigest == "" {
		return true, nil
	}
	current, err := ComputeContentHash(c)
	if err != nil {
		return false, err
	}
	return current != storedDigest, nil
}
