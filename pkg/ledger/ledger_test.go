package ledger

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

func testClock() func() time.Time {
	t := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func record(batch string, temp float64) EventRecord {
	return EventRecord{
		BatchID:     batch,
		FarmerID:    "F-100",
		Location:    "Warehouse A",
		Temperature: temp,
		Quantity:    250,
		HandlerRole: "Farmer",
	}
}

func TestBatchHistoryPreservesAppendOrder(t *testing.T) {
	l := New(WithClock(testClock()))
	temps := []float64{22, 45, 24}
	for _, temp := range temps {
		if _, err := l.RecordEvent(record("B1", temp)); err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if _, err := l.RecordEvent(record("B2", 20)); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	history := l.History("B1")
	if len(history) != 3 {
		t.Fatalf("expected 3 blocks for B1, got %d", len(history))
	}
	for i, b := range history {
		if b.Temperature != temps[i] {
			t.Fatalf("block %d: expected temp %v, got %v", i, temps[i], b.Temperature)
		}
	}
	if res := l.ValidateChain(); !res.Valid {
		t.Fatalf("expected valid chain, got %+v", res)
	}
}

func TestRecordEventRejectsMalformedPayload(t *testing.T) {
	l := New()
	before := l.Len()
	_, err := l.RecordEvent(EventRecord{BatchID: "B1"})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if l.Len() != before {
		t.Fatalf("malformed record must not mutate the chain")
	}
}

func TestOptionalFieldsDoNotAffectHash(t *testing.T) {
	base := record("B9", 21)
	withExtras := base
	withExtras.Type = TypeComplianceIncident
	withExtras.IncidentID = "INC-1"
	withExtras.ReportHash = "abc"
	if base.CanonicalString() != withExtras.CanonicalString() {
		t.Fatalf("optional fields must stay outside the hash contract")
	}
}

func TestDetectTamperingFlagsCritical(t *testing.T) {
	l := New(WithClock(testClock()))
	l.RecordEvent(record("B1", 22))
	l.RecordEvent(record("B1", 23))

	blocks := l.Blocks()
	blocks[1].Temperature = 99

	res := ValidateBlocks(blocks)
	if res.Valid {
		t.Fatalf("expected tampering to be detected")
	}
	if res.TamperedBlockIndex != 1 {
		t.Fatalf("expected break at 1, got %d", res.TamperedBlockIndex)
	}
	if res.TamperedBlock == nil || res.TamperedBlock.Temperature != 99 {
		t.Fatalf("expected offending block in result, got %+v", res.TamperedBlock)
	}

	report := l.DetectTampering()
	if report.Tampered {
		t.Fatalf("live ledger was not tampered, got %+v", report)
	}
	if report.TotalBlocksVerified != 3 {
		t.Fatalf("expected 3 verified blocks, got %d", report.TotalBlocksVerified)
	}
}

func TestTamperReportSeverityOnRestoredTamper(t *testing.T) {
	l := New(WithClock(testClock()))
	l.RecordEvent(record("B1", 22))
	blocks := l.Blocks()
	blocks[1].Quantity = 9999

	if _, err := Load(blocks); err == nil {
		t.Fatalf("expected Load to refuse tampered snapshot")
	}
}

func TestExplorerIsIdempotentRead(t *testing.T) {
	l := New(WithClock(testClock()))
	l.RecordEvent(record("B1", 22))
	l.RecordEvent(record("B2", 28))

	first := l.Explorer()
	second := l.Explorer()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("explorer reads without writes must be identical")
	}
	if len(first) != 3 {
		t.Fatalf("expected genesis + 2 blocks, got %d", len(first))
	}
	if first[0].BatchID != "GENESIS" || first[0].PreviousHash != "0" {
		t.Fatalf("unexpected genesis view: %+v", first[0])
	}
}

func TestLoadRoundTrip(t *testing.T) {
	l := New(WithClock(testClock()))
	l.RecordEvent(record("B1", 22))
	l.RecordEvent(record("B2", 45))

	restored, err := Load(l.Blocks())
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if restored.Len() != l.Len() {
		t.Fatalf("restore lost blocks: %d vs %d", restored.Len(), l.Len())
	}
	if len(restored.History("B2")) != 1 {
		t.Fatalf("batch index not rebuilt on load")
	}
	if res := restored.ValidateChain(); !res.Valid {
		t.Fatalf("restored chain must validate, got %+v", res)
	}
}

func TestBlockJSONRoundTripKeepsHashContract(t *testing.T) {
	l := New(WithClock(testClock()))
	l.RecordEvent(record("B1", 22.5))
	blocks := l.Blocks()

	raw, err := json.Marshal(blocks)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	var decoded []Block
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if res := ValidateBlocks(decoded); !res.Valid {
		t.Fatalf("serialized snapshot must keep verifying, got %+v", res)
	}
}
