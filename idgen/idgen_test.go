package idgen

import (
	"strings"
	"testing"
)

func TestNanoID(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		id := gen()
		if len(id) != 12 {
			t.Fatalf("length = %d", len(id))
		}
		for _, c := range id {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'z')) {
				t.Fatalf("unexpected character %q in %q", c, id)
			}
		}
		if _, ok := seen[id]; ok {
			t.Fatalf("duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		id := gen()
		if len(id) != 36 || strings.Count(id, "-") != 4 {
			t.Fatalf("bad UUID %q", id)
		}
		if id <= prev {
			t.Fatalf("not increasing: %q after %q", id, prev)
		}
		prev = id
	}
}

func TestPrefixedParse(t *testing.T) {
	id := Prefixed("bld_", Default)()
	if !strings.HasPrefix(id, "bld_") {
		t.Fatalf("prefix missing: %q", id)
	}
	bare, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
	if bare != strings.TrimPrefix(id, "bld_") {
		t.Fatalf("Parse = %q", bare)
	}
	if _, err := Parse("mig_not-a-uuid"); err == nil {
		t.Fatal("Parse accepted invalid UUID")
	}
}
