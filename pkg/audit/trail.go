// Package audit keeps the compliance action log on its own hash chain,
// independently verifiable from the event ledger.
package audit

import (
	"errors"
	"sync"
	"time"

	"agrichain/pkg/canonhash"
	"agrichain/pkg/hashchain"
	"agrichain/pkg/ident"
)

// Audit event types written by the escalation engine and its callers.
const (
	EventTrailCreated       = "TRAIL_CREATED"
	EventIncidentCreated    = "INCIDENT_CREATED"
	EventIncidentResolved   = "INCIDENT_RESOLVED"
	EventEscalationCreated  = "ESCALATION_CREATED"
	EventComplaintSubmitted = "COMPLAINT_SUBMITTED"
	EventAuthorityNotified  = "AUTHORITY_NOTIFIED"
	EventSupplierLocked     = "SUPPLIER_LOCKED"
	EventSupplierUnlocked   = "SUPPLIER_UNLOCKED"
)

// ErrMalformedPayload rejects an entry with no event type or unhashable data
// before any chain mutation.
var ErrMalformedPayload = errors.New("MALFORMED_PAYLOAD")

// Entry is one immutable audit record.
type Entry struct {
	AuditID      string         `json:"auditID"`
	EventType    string         `json:"eventType"`
	Index        uint64         `json:"index"`
	Timestamp    int64          `json:"timestamp"` // milliseconds since epoch
	Data         map[string]any `json:"data"`
	PreviousHash string         `json:"previousHash"`
	Hash         string         `json:"hash"`
}

type entryPayload struct {
	AuditID   string         `json:"auditID"`
	EventType string         `json:"eventType"`
	Data      map[string]any `json:"data"`
}

// CanonicalString is the v1 hash contract for audit entries: auditID,
// eventType, and the stable JSON of data, joined with "|". The serialization
// is recomputed on every call so a mutated Data map fails the next walk
// instead of hiding behind a cached form.
func (p entryPayload) CanonicalString() string {
	b, err := canonhash.StableJSON(p.Data)
	if err != nil {
		return p.AuditID + "|" + p.EventType + "|<unserializable>"
	}
	return p.AuditID + "|" + p.EventType + "|" + string(b)
}

// Trail owns the audit entry sequence.
type Trail struct {
	mu    sync.Mutex
	chain *hashchain.Chain
	ids   ident.Generator
	now   func() time.Time
}

type Option func(*Trail)

// WithClock overrides the timestamp source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// New constructs a trail seeded with a TRAIL_CREATED genesis entry.
func New(ids ident.Generator, opts ...Option) *Trail {
	t := &Trail{ids: ids, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	seed := entryPayload{
		AuditID:   ids.NewID(ident.PrefixAudit),
		EventType: EventTrailCreated,
		Data:      map[string]any{"note": "audit trail initialized"},
	}
	t.chain = hashchain.New(seed, hashchain.WithClock(func() time.Time { return t.now() }))
	return t
}

// Record appends a new entry. It always succeeds structurally; the only
// rejection is a malformed payload, checked before any chain mutation.
func (t *Trail) Record(eventType string, data map[string]any) (Entry, error) {
	if eventType == "" || data == nil {
		return Entry{}, ErrMalformedPayload
	}
	if _, err := canonhash.StableJSON(data); err != nil {
		return Entry{}, ErrMalformedPayload
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	payload := entryPayload{
		AuditID:   t.ids.NewID(ident.PrefixAudit),
		EventType: eventType,
		Data:      data,
	}
	return itemToEntry(t.chain.Append(payload)), nil
}

// Tail returns the most recent limit entries, most-recent-first. Every other
// read preserves append order; this one is reversed for operator dashboards.
func (t *Trail) Tail(limit int) []Entry {
	entries := t.Entries()
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}
	out := make([]Entry, 0, limit)
	for i := len(entries) - 1; i >= len(entries)-limit; i-- {
		out = append(out, entries[i])
	}
	return out
}

// FindByCorrelation returns entries whose data references the given incident
// or escalation id, in append order.
func (t *Trail) FindByCorrelation(id string) []Entry {
	var out []Entry
	for _, e := range t.Entries() {
		if s, ok := e.Data["incidentID"].(string); ok && s == id {
			out = append(out, e)
			continue
		}
		if s, ok := e.Data["escalationID"].(string); ok && s == id {
			out = append(out, e)
		}
	}
	return out
}

// Entries returns a full snapshot in append order.
func (t *Trail) Entries() []Entry {
	items := t.chain.Items()
	out := make([]Entry, len(items))
	for i, item := range items {
		out[i] = itemToEntry(item)
	}
	return out
}

func (t *Trail) Len() int { return t.chain.Len() }

// Validate walks the audit chain independently of the ledger.
func (t *Trail) Validate() hashchain.ValidationResult {
	return t.chain.Validate()
}

func itemToEntry(item hashchain.Item) Entry {
	p, _ := item.Payload.(entryPayload)
	return Entry{
		AuditID:      p.AuditID,
		EventType:    p.EventType,
		Index:        item.Index,
		Timestamp:    item.Timestamp,
		Data:         p.Data,
		PreviousHash: item.PreviousHash,
		Hash:         item.Hash,
	}
}
