package idgen

import (
	"strings"
	"testing"
)

func TestUUIDv7Unique(t *testing.T) {
	gen := UUIDv7()
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := gen()
		if seen[id] {
			t.Fatalf("duplicate ID: %s", id)
		}
		seen[id] = true
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 100; i++ {
		cur := gen()
		if cur < prev {
			t.Fatalf("IDs not time-sortable: %s came after %s", cur, prev)
		}
		prev = cur
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("req_", Default)
	id := gen()
	if !strings.HasPrefix(id, "req_") {
		t.Fatalf("expected req_ prefix, got %s", id)
	}
	if _, err := Parse(strings.TrimPrefix(id, "req_")); err != nil {
		t.Fatalf("suffix is not a valid UUID: %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("not-a-uuid"); err == nil {
		t.Fatal("expected error for invalid UUID")
	}
}
