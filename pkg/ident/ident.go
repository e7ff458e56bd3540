// Package ident centralizes identifier generation so uniqueness guarantees
// are explicit and swappable in tests.
package ident

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Well-known ID prefixes.
const (
	PrefixIncident     = "INC"
	PrefixEscalation   = "ESC"
	PrefixComplaint    = "CMP"
	PrefixAudit        = "AUD"
	PrefixNotification = "NOT"
)

// Generator mints unique identifiers carrying a domain prefix.
type Generator interface {
	NewID(prefix string) string
}

// UUID generates prefix-qualified random v4 identifiers.
type UUID struct{}

func (UUID) NewID(prefix string) string { return prefix + "-" + uuid.NewString() }

// Sequence is a deterministic generator for tests: PREFIX-000001, PREFIX-000002, ...
type Sequence struct {
	mu sync.Mutex
	n  uint64
}

func (s *Sequence) NewID(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%06d", prefix, s.n)
}
