package ident

import (
	"strings"
	"testing"
)

func TestUUIDCarriesPrefixAndIsUnique(t *testing.T) {
	g := UUID{}
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := g.NewID(PrefixIncident)
		if !strings.HasPrefix(id, "INC-") {
			t.Fatalf("expected INC- prefix, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestSequenceIsDeterministic(t *testing.T) {
	g := &Sequence{}
	if got := g.NewID(PrefixAudit); got != "AUD-000001" {
		t.Fatalf("expected AUD-000001, got %q", got)
	}
	if got := g.NewID(PrefixAudit); got != "AUD-000002" {
		t.Fatalf("expected AUD-000002, got %q", got)
	}
}
