package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func decodeID(t *testing.T, id string) uuid.UUID {
	t.Helper()
	raw, err := encoding.DecodeString(strings.ToUpper(id))
	if err != nil {
		t.Fatalf("decode %q: %v", id, err)
	}
	u, err := uuid.FromBytes(raw)
	if err != nil {
		t.Fatalf("uuid from %d bytes: %v", len(raw), err)
	}
	return u
}

func TestNewIDIsLowercaseUnpaddedBase32(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("len = %d, want 26", len(id))
	}
	for _, r := range id {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("unexpected character %q in %q", r, id)
		}
	}
	u := decodeID(t, id)
	if u.Version() != 4 || u.Variant() != uuid.RFC4122 {
		t.Fatalf("uuid %s: version %d variant %s", u, u.Version(), u.Variant())
	}
}

func TestNewIDDoesNotRepeat(t *testing.T) {
	const n = 1000
	seen := make(map[string]bool, n)
	for range n {
		id, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
