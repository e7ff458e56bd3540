// Package hashchain implements an append-only, SHA-256 linked sequence of
// payloads. Each item hashes its index, timestamp, the payload's canonical
// serialization, and the previous item's hash, so any later mutation of a
// stored payload or link is detectable by Validate.
package hashchain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"agrichain/pkg/canonhash"
)

// GenesisPreviousHash is the previous-hash sentinel carried by item 0.
const GenesisPreviousHash = "0"

// Payload is anything a chain can carry. CanonicalString must return an
// order-stable serialization of the payload's hashable fields; the contract
// per payload type is versioned by its implementor (fields in one fixed,
// documented order, joined with "|").
type Payload interface {
	CanonicalString() string
}

// Item is one immutable link in a chain.
type Item struct {
	Index        uint64  `json:"index"`
	Timestamp    int64   `json:"timestamp"` // milliseconds since epoch
	Payload      Payload `json:"payload"`
	PreviousHash string  `json:"previousHash"`
	Hash         string  `json:"hash"`
}

// ErrNotFound is returned by Get for an out-of-range index.
var ErrNotFound = errors.New("hashchain: item not found")

// ValidationResult reports the outcome of a chain walk. Integrity failures
// are data, not errors: BrokenAt is the earliest detectable break, -1 when
// the chain is intact.
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	BrokenAt int    `json:"brokenAtIndex"`
	Reason   string `json:"reason,omitempty"`
	Total    int    `json:"totalItems"`
}

// Chain is a mutex-guarded, append-only item sequence with a genesis item at
// index 0. All mutation goes through Append; reads return copied snapshots.
type Chain struct {
	mu    sync.Mutex
	items []Item
	now   func() time.Time
}

type Option func(*Chain)

// WithClock overrides the timestamp source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

// New constructs a chain and its genesis item from seed.
func New(seed Payload, opts ...Option) *Chain {
	c := &Chain{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	g := Item{
		Index:        0,
		Timestamp:    c.now().UnixMilli(),
		Payload:      seed,
		PreviousHash: GenesisPreviousHash,
	}
	g.Hash = ItemHash(g.Index, g.Timestamp, seed.CanonicalString(), g.PreviousHash)
	c.items = []Item{g}
	return c
}

// FromItems reconstructs a chain from a previously exported snapshot, for
// replay after restart. The snapshot is verified before adoption; a tampered
// or reordered snapshot is refused.
func FromItems(items []Item, opts ...Option) (*Chain, error) {
	if len(items) == 0 {
		return nil, errors.New("hashchain: empty snapshot")
	}
	if items[0].PreviousHash != GenesisPreviousHash {
		return nil, errors.New("hashchain: snapshot genesis has wrong previous hash")
	}
	for i := range items {
		if items[i].Index != uint64(i) {
			return nil, fmt.Errorf("hashchain: snapshot index gap at position %d", i)
		}
	}
	g := items[0]
	if ItemHash(g.Index, g.Timestamp, g.Payload.CanonicalString(), g.PreviousHash) != g.Hash {
		return nil, errors.New("hashchain: snapshot genesis hash mismatch")
	}
	if res := ValidateItems(items); !res.Valid {
		return nil, fmt.Errorf("hashchain: refusing tampered snapshot: %s", res.Reason)
	}
	c := &Chain{now: time.Now, items: append([]Item(nil), items...)}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Append links a new item to the tail and returns it. The read-tail-then-push
// is atomic under the chain mutex.
func (c *Chain) Append(p Payload) Item {
	c.mu.Lock()
	defer c.mu.Unlock()

	tail := c.items[len(c.items)-1]
	item := Item{
		Index:        uint64(len(c.items)),
		Timestamp:    c.now().UnixMilli(),
		Payload:      p,
		PreviousHash: tail.Hash,
	}
	item.Hash = ItemHash(item.Index, item.Timestamp, p.CanonicalString(), item.PreviousHash)
	c.items = append(c.items, item)
	return item
}

// Get returns the item at index, or ErrNotFound.
func (c *Chain) Get(index uint64) (Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= uint64(len(c.items)) {
		return Item{}, ErrNotFound
	}
	return c.items[index], nil
}

// Tip returns the most recent item.
func (c *Chain) Tip() Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items[len(c.items)-1]
}

func (c *Chain) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Items returns a copy of the full sequence.
func (c *Chain) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Item(nil), c.items...)
}

// Validate walks the chain and reports the earliest detectable break. A chain
// holding only its genesis item is valid.
func (c *Chain) Validate() ValidationResult {
	return ValidateItems(c.Items())
}

// ValidateItems verifies an exported item sequence: each item's hash is
// recomputed from its fields, and each link is checked against the previous
// item's hash. The walk stops at the first failure.
func ValidateItems(items []Item) ValidationResult {
	for i := 1; i < len(items); i++ {
		cur, prev := items[i], items[i-1]
		recomputed := ItemHash(cur.Index, cur.Timestamp, cur.Payload.CanonicalString(), cur.PreviousHash)
		if recomputed != cur.Hash {
			return ValidationResult{
				Valid:    false,
				BrokenAt: i,
				Reason:   fmt.Sprintf("item %d has been tampered with", i),
				Total:    len(items),
			}
		}
		if cur.PreviousHash != prev.Hash {
			return ValidationResult{
				Valid:    false,
				BrokenAt: i,
				Reason:   fmt.Sprintf("chain broken at item %d", i),
				Total:    len(items),
			}
		}
	}
	return ValidationResult{Valid: true, BrokenAt: -1, Total: len(items)}
}

// ItemHash computes the v1 item digest: SHA-256 hex over index, timestamp,
// the payload's canonical serialization, and the previous hash, joined with
// "|". Changing this joins order or separator changes every historical hash.
func ItemHash(index uint64, timestamp int64, canonicalPayload, previousHash string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(index, 10))
	b.WriteString("|")
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteString("|")
	b.WriteString(canonicalPayload)
	b.WriteString("|")
	b.WriteString(previousHash)
	return canonhash.SumString(b.String())
}
