package audit

import (
	"errors"
	"testing"
	"time"

	"agrichain/pkg/ident"
)

func newTestTrail() *Trail {
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return New(&ident.Sequence{}, WithClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}))
}

func TestRecordChainsEntries(t *testing.T) {
	tr := newTestTrail()
	e1, err := tr.Record(EventIncidentCreated, map[string]any{"incidentID": "INC-1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	e2, err := tr.Record(EventIncidentResolved, map[string]any{"incidentID": "INC-1"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if e2.PreviousHash != e1.Hash {
		t.Fatalf("entries must link: %q vs %q", e2.PreviousHash, e1.Hash)
	}
	if res := tr.Validate(); !res.Valid {
		t.Fatalf("expected valid trail, got %+v", res)
	}
}

func TestRecordRejectsMalformedPayload(t *testing.T) {
	tr := newTestTrail()
	before := tr.Len()
	if _, err := tr.Record("", map[string]any{"a": 1}); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
	if _, err := tr.Record(EventIncidentCreated, nil); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload for nil data, got %v", err)
	}
	if tr.Len() != before {
		t.Fatalf("rejected entries must not mutate the chain")
	}
}

func TestTailIsMostRecentFirst(t *testing.T) {
	tr := newTestTrail()
	tr.Record(EventSupplierLocked, map[string]any{"supplierID": "S1"})
	tr.Record(EventIncidentCreated, map[string]any{"incidentID": "INC-1"})
	tr.Record(EventIncidentResolved, map[string]any{"incidentID": "INC-1"})

	tail := tr.Tail(2)
	if len(tail) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tail))
	}
	if tail[0].EventType != EventIncidentResolved || tail[1].EventType != EventIncidentCreated {
		t.Fatalf("tail must be most-recent-first, got %s then %s", tail[0].EventType, tail[1].EventType)
	}

	all := tr.Tail(0)
	if len(all) != tr.Len() {
		t.Fatalf("zero limit must return everything, got %d of %d", len(all), tr.Len())
	}
}

func TestFindByCorrelation(t *testing.T) {
	tr := newTestTrail()
	tr.Record(EventIncidentCreated, map[string]any{"incidentID": "INC-1"})
	tr.Record(EventEscalationCreated, map[string]any{"escalationID": "ESC-1", "incidentID": "INC-1"})
	tr.Record(EventIncidentCreated, map[string]any{"incidentID": "INC-2"})

	got := tr.FindByCorrelation("INC-1")
	if len(got) != 2 {
		t.Fatalf("expected 2 correlated entries, got %d", len(got))
	}
	byEsc := tr.FindByCorrelation("ESC-1")
	if len(byEsc) != 1 || byEsc[0].EventType != EventEscalationCreated {
		t.Fatalf("expected escalation entry, got %+v", byEsc)
	}
}

func TestDataMutationDetectedByValidate(t *testing.T) {
	tr := newTestTrail()
	e, _ := tr.Record(EventIncidentCreated, map[string]any{"incidentID": "INC-1"})

	// The shared map is the only mutable handle into a recorded entry; a
	// writer changing it after the fact must be caught on the next walk.
	e.Data["incidentID"] = "INC-FORGED"

	res := tr.Validate()
	if res.Valid {
		t.Fatalf("expected mutation to invalidate the trail")
	}
	if res.BrokenAt != int(e.Index) {
		t.Fatalf("expected break at %d, got %d", e.Index, res.BrokenAt)
	}
}
