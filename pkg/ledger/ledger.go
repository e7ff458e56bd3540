// Package ledger is the tamper-evident record of supply-chain events: an
// append-only hash chain of EventRecord blocks with a secondary index for
// batch-history queries.
package ledger

import (
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"agrichain/pkg/hashchain"
)

// Record types carried in the optional Type field.
const (
	TypeComplianceIncident = "COMPLIANCE_INCIDENT"
	TypeComplaintRecord    = "COMPLAINT_RECORD"
)

// ErrMalformedPayload rejects a record missing required hashable fields
// before any chain mutation.
var ErrMalformedPayload = errors.New("MALFORMED_PAYLOAD")

// EventRecord is the payload of a Block. The field set is open: only the six
// core fields participate in the hash, so adding optional fields never
// changes historical hashes.
type EventRecord struct {
	BatchID     string  `json:"batchID"`
	FarmerID    string  `json:"farmerID"`
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Quantity    float64 `json:"quantity"`
	HandlerRole string  `json:"handlerRole"`

	// Optional, outside the hash contract.
	Type          string  `json:"type,omitempty"`
	Crop          string  `json:"crop,omitempty"`
	SupplierID    string  `json:"supplierID,omitempty"`
	IncidentID    string  `json:"incidentID,omitempty"`
	ReportHash    string  `json:"reportHash,omitempty"`
	Severity      string  `json:"severity,omitempty"`
	ComplaintID   string  `json:"complaintID,omitempty"`
	ComplaintHash string  `json:"complaintHash,omitempty"`
	FraudRisk     float64 `json:"fraudRisk,omitempty"`
	SCRI          float64 `json:"scri,omitempty"`
}

// CanonicalString is the v1 hash contract for event records: the six core
// fields in this exact order, joined with "|", floats formatted with
// strconv.FormatFloat(f, 'g', -1, 64).
func (r EventRecord) CanonicalString() string {
	return strings.Join([]string{
		r.BatchID,
		r.FarmerID,
		r.Location,
		formatFloat(r.Temperature),
		formatFloat(r.Quantity),
		r.HandlerRole,
	}, "|")
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }

// Block is one immutable ledger entry. Record fields marshal flat so the
// externalized layout matches the explorer projection.
type Block struct {
	Index     uint64 `json:"index"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch
	EventRecord
	PreviousHash string `json:"previousHash"`
	Hash         string `json:"hash"`
}

// BlockView is the read-only explorer projection of a Block, with a
// human-readable timestamp.
type BlockView struct {
	Index     uint64 `json:"index"`
	Timestamp string `json:"timestamp"`
	EventRecord
	Hash         string `json:"hash"`
	PreviousHash string `json:"previousHash"`
}

// ValidationResult is the structured outcome of a full chain walk.
// TamperedBlockIndex is -1 when the chain is intact.
type ValidationResult struct {
	Valid              bool   `json:"valid"`
	Error              string `json:"error,omitempty"`
	TamperedBlockIndex int    `json:"tampered_block_index"`
	TamperedBlock      *Block `json:"tampered_block,omitempty"`
	Message            string `json:"message,omitempty"`
	TotalBlocks        int    `json:"total_blocks"`
}

// TamperReport is the operator-facing wrapper over ValidationResult. Any
// failure is tagged CRITICAL.
type TamperReport struct {
	Tampered            bool   `json:"tampered"`
	Message             string `json:"message"`
	TamperedBlockIndex  int    `json:"tampered_block_index,omitempty"`
	TamperedBlock       *Block `json:"tampered_block,omitempty"`
	TotalBlocksVerified int    `json:"total_blocks_verified,omitempty"`
	Severity            string `json:"severity,omitempty"`
	Timestamp           int64  `json:"timestamp"`
}

// Ledger owns the block sequence. One instance per process is the single
// authoritative writer.
type Ledger struct {
	mu      sync.Mutex
	chain   *hashchain.Chain
	byBatch map[string][]uint64
	now     func() time.Time
}

type Option func(*Ledger)

// WithClock overrides the timestamp source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New constructs a ledger rooted in the fixed genesis record.
func New(opts ...Option) *Ledger {
	l := &Ledger{byBatch: map[string][]uint64{}, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	genesis := EventRecord{
		BatchID:     "GENESIS",
		FarmerID:    "SYSTEM",
		Location:    "Origin",
		Temperature: 0,
		Quantity:    0,
		HandlerRole: "System",
	}
	l.chain = hashchain.New(genesis, hashchain.WithClock(func() time.Time { return l.now() }))
	l.byBatch[genesis.BatchID] = []uint64{0}
	return l
}

// Load reconstructs a ledger from an exported block snapshot, verifying it
// first. Used for best-effort replay after a process restart.
func Load(blocks []Block, opts ...Option) (*Ledger, error) {
	items := make([]hashchain.Item, len(blocks))
	for i, b := range blocks {
		items[i] = blockToItem(b)
	}
	l := &Ledger{byBatch: map[string][]uint64{}, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	chain, err := hashchain.FromItems(items, hashchain.WithClock(func() time.Time { return l.now() }))
	if err != nil {
		return nil, err
	}
	l.chain = chain
	for _, b := range blocks {
		l.byBatch[b.BatchID] = append(l.byBatch[b.BatchID], b.Index)
	}
	return l, nil
}

// RecordEvent appends a record as a new block and indexes it by batch. The
// only rejection is a malformed payload (missing core hashable fields);
// beyond that the append always succeeds structurally.
func (l *Ledger) RecordEvent(rec EventRecord) (Block, error) {
	if rec.BatchID == "" || rec.FarmerID == "" || rec.Location == "" || rec.HandlerRole == "" {
		return Block{}, ErrMalformedPayload
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	item := l.chain.Append(rec)
	l.byBatch[rec.BatchID] = append(l.byBatch[rec.BatchID], item.Index)
	return itemToBlock(item), nil
}

// ValidateChain walks the full chain; on failure the result carries the
// offending block for operator inspection. Never returns an error.
func (l *Ledger) ValidateChain() ValidationResult {
	l.mu.Lock()
	items := l.chain.Items()
	l.mu.Unlock()
	return validateItems(items)
}

// DetectTampering wraps ValidateChain with a CRITICAL severity tag.
func (l *Ledger) DetectTampering() TamperReport {
	v := l.ValidateChain()
	if !v.Valid {
		return TamperReport{
			Tampered:           true,
			Message:            v.Error,
			TamperedBlockIndex: v.TamperedBlockIndex,
			TamperedBlock:      v.TamperedBlock,
			Severity:           "CRITICAL",
			Timestamp:          l.now().UnixMilli(),
		}
	}
	return TamperReport{
		Tampered:            false,
		Message:             "Chain integrity verified",
		TotalBlocksVerified: v.TotalBlocks,
		Timestamp:           l.now().UnixMilli(),
	}
}

// History returns every block recorded for batchID, in append order. A
// stateless read; unknown batches yield an empty slice.
func (l *Ledger) History(batchID string) []Block {
	l.mu.Lock()
	defer l.mu.Unlock()
	indices := l.byBatch[batchID]
	out := make([]Block, 0, len(indices))
	for _, idx := range indices {
		item, err := l.chain.Get(idx)
		if err != nil {
			continue
		}
		out = append(out, itemToBlock(item))
	}
	return out
}

// Explorer returns the read-only projection of all blocks for auditing and
// UI consumption.
func (l *Ledger) Explorer() []BlockView {
	blocks := l.Blocks()
	out := make([]BlockView, len(blocks))
	for i, b := range blocks {
		out[i] = BlockView{
			Index:        b.Index,
			Timestamp:    time.UnixMilli(b.Timestamp).UTC().Format(time.RFC3339),
			EventRecord:  b.EventRecord,
			Hash:         b.Hash,
			PreviousHash: b.PreviousHash,
		}
	}
	return out
}

// Blocks returns a full snapshot in append order, suitable for export,
// archival, and offline verification.
func (l *Ledger) Blocks() []Block {
	l.mu.Lock()
	items := l.chain.Items()
	l.mu.Unlock()
	out := make([]Block, len(items))
	for i, item := range items {
		out[i] = itemToBlock(item)
	}
	return out
}

func (l *Ledger) Len() int { return l.chain.Len() }

// ValidateBlocks verifies an exported block snapshot offline, recomputing
// every hash and link. Used by the CLI against explorer dumps.
func ValidateBlocks(blocks []Block) ValidationResult {
	items := make([]hashchain.Item, len(blocks))
	for i, b := range blocks {
		items[i] = blockToItem(b)
	}
	return validateItems(items)
}

func validateItems(items []hashchain.Item) ValidationResult {
	res := hashchain.ValidateItems(items)
	if res.Valid {
		return ValidationResult{
			Valid:              true,
			TamperedBlockIndex: -1,
			Message:            "All blocks verified successfully",
			TotalBlocks:        res.Total,
		}
	}
	offending := itemToBlock(items[res.BrokenAt])
	return ValidationResult{
		Valid:              false,
		Error:              res.Reason,
		TamperedBlockIndex: res.BrokenAt,
		TamperedBlock:      &offending,
		TotalBlocks:        res.Total,
	}
}

func itemToBlock(item hashchain.Item) Block {
	rec, _ := item.Payload.(EventRecord)
	return Block{
		Index:        item.Index,
		Timestamp:    item.Timestamp,
		EventRecord:  rec,
		PreviousHash: item.PreviousHash,
		Hash:         item.Hash,
	}
}

func blockToItem(b Block) hashchain.Item {
	return hashchain.Item{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Payload:      b.EventRecord,
		PreviousHash: b.PreviousHash,
		Hash:         b.Hash,
	}
}
