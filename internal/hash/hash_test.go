package hash

import (
	"errors"
	"testing"
)

func TestComputeContentHash_Deterministic(t *testing.T) {
	a := &Content{Title: "Fix login bug", Description: "Users cannot log in", Status: "open", Priority: "high"}
	b := &Content{Priority: "high", Status: "open", Description: "Users cannot log in", Title: "Fix login bug"}

	ha, err := ComputeContentHash(a)
	if err != nil {
		t.Fatalf("ComputeContentHash failed: %v", err)
	}
	hb, err := ComputeContentHash(b)
	if err != nil {
		t.Fatalf("ComputeContentHash failed: %v", err)
	}
	if ha != hb {
		t.Errorf("same content produced different digests: %q vs %q", ha, hb)
	}
	if len(ha) != 16 {
		t.Errorf("digest length = %d, want 16", len(ha))
	}
}

func TestComputeContentHash_ChangesWithContent(t *testing.T) {
	base := &Content{Title: "Fix login bug", Status: "open", Priority: "high"}
	baseDigest, err := ComputeContentHash(base)
	if err != nil {
		t.Fatalf("ComputeContentHash failed: %v", err)
	}

	variants := []*Content{
		{Title: "Fix logout bug", Status: "open", Priority: "high"},
		{Title: "Fix login bug", Description: "now with details", Status: "open", Priority: "high"},
		{Title: "Fix login bug", Status: "closed", Priority: "high"},
		{Title: "Fix login bug", Status: "open", Priority: "low"},
	}
	for _, v := range variants {
		d, err := ComputeContentHash(v)
		if err != nil {
			t.Fatalf("ComputeContentHash failed: %v", err)
		}
		if d == baseDigest {
			t.Errorf("variant %+v produced the base digest", v)
		}
	}
}

func TestComputeContentHash_FieldBoundaries(t *testing.T) {
	// ("ab","c") must not collide with ("a","bc").
	a, _ := ComputeContentHash(&Content{Title: "ab", Description: "c"})
	b, _ := ComputeContentHash(&Content{Title: "a", Description: "bc"})
	if a == b {
		t.Error("field boundary collision")
	}
}

func TestComputeContentHash_NilRecord(t *testing.T) {
	if _, err := ComputeContentHash(nil); !errors.Is(err, ErrNilRecord) {
		t.Errorf("error = %v, want ErrNilRecord", err)
	}
}

func TestHasContentChanged(t *testing.T) {
	c := &Content{Title: "Fix login bug", Status: "open"}
	digest, err := ComputeContentHash(c)
	if err != nil {
		t.Fatalf("ComputeContentHash failed: %v", err)
	}

	changed, err := HasContentChanged(c, digest)
	if err != nil {
		t.Fatalf("HasContentChanged failed: %v", err)
	}
	if changed {
		t.Error("unchanged content reported as changed")
	}

	// Absent stored digest forces a first sync.
	changed, err = HasContentChanged(c, "")
	if err != nil {
		t.Fatalf("HasContentChanged failed: %v", err)
	}
	if !changed {
		t.Error("missing stored digest should count as changed")
	}

	c2 := &Content{Title: "Fix login bug", Status: "closed"}
	changed, err = HasContentChanged(c2, digest)
	if err != nil {
		t.Fatalf("HasContentChanged failed: %v", err)
	}
	if !changed {
		t.Error("edited content not reported as changed")
	}

	if _, err := HasContentChanged(nil, digest); !errors.Is(err, ErrNilRecord) {
		t.Errorf("error = %v, want ErrNilRecord", err)
	}
}

func TestComputeDescriptionHash(t *testing.T) {
	a := ComputeDescriptionHash("Roadmap for Q3")
	b := ComputeDescriptionHash("  Roadmap for Q3\n")
	if a != b {
		t.Error("surrounding whitespace should not affect the description digest")
	}
	if a == ComputeDescriptionHash("Roadmap for Q4") {
		t.Error("different descriptions produced the same digest")
	}
}
