package names

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateDeterministic(t *testing.T) {
	a := Generate(12345, 0)
	b := Generate(12345, 0)
	if a != b {
		t.Fatalf("same inputs produced %q and %q", a, b)
	}
	if !strings.Contains(a, "-") {
		t.Fatalf("expected adjective-noun form, got %q", a)
	}
}

func TestGenerateAttemptsDiffer(t *testing.T) {
	seen := make(map[string]struct{})
	for attempt := 0; attempt < 8; attempt++ {
		seen[Generate(999, attempt)] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("attempt index should vary the name, got %d distinct of 8", len(seen))
	}
}

func TestBucket(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	if Bucket(base) != Bucket(base.Add(10*time.Second)) {
		t.Fatal("times within one bucket should map to the same value")
	}
	if Bucket(base) == Bucket(base.Add(2*time.Minute)) {
		t.Fatal("times in different buckets should differ")
	}
}
