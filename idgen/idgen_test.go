package idgen

import (
	"strings"
	"testing"
)

func TestNanoIDLengthAndAlphabet(t *testing.T) {
	gen := NanoID(12)
	id := gen()
	if len(id) != 12 {
		t.Fatalf("length: got %d", len(id))
	}
	for _, r := range id {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuvwxyz", r) {
			t.Fatalf("unexpected rune %q in %q", r, id)
		}
	}
}

func TestUUIDv7Sortable(t *testing.T) {
	gen := UUIDv7()
	a, b := gen(), gen()
	if a == b {
		t.Fatal("ids should be unique")
	}
	if !(a < b) {
		t.Fatalf("UUIDv7 should be time-sortable: %s !< %s", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	gen := Prefixed("req_", NanoID(6))
	if id := gen(); !strings.HasPrefix(id, "req_") || len(id) != 10 {
		t.Fatalf("prefixed id: %q", id)
	}
}
