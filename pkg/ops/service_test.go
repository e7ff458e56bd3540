package ops

import (
	"testing"
	"time"

	"agrichain/pkg/ledger"
)

func record(batch string, temp, qty float64, role string) ledger.EventRecord {
	return ledger.EventRecord{
		BatchID:     batch,
		FarmerID:    "F1",
		Location:    "Warehouse A",
		Temperature: temp,
		Quantity:    qty,
		HandlerRole: role,
		Crop:        "Rice",
	}
}

func TestAddShipmentOnTime(t *testing.T) {
	s := New()
	ship := s.AddShipment(record("B1", 22, 1000, "Farmer"))
	if ship.DelayStatus != "On-Time" {
		t.Fatalf("22°C is in band, got %s", ship.DelayStatus)
	}
	if ship.Destination != "Distribution Center" || ship.Progress != 33 {
		t.Fatalf("unexpected routing for Farmer: %+v", ship)
	}
	if len(s.Data().Delays) != 0 {
		t.Fatalf("on-time shipment must not record a delay")
	}
}

func TestAddShipmentDelayed(t *testing.T) {
	s := New()
	ship := s.AddShipment(record("B2", 40, 1000, "Distributor"))
	if ship.DelayStatus != "Delayed" {
		t.Fatalf("40°C is out of band, got %s", ship.DelayStatus)
	}
	snap := s.Data()
	if len(snap.Delays) != 1 {
		t.Fatalf("expected 1 delay, got %d", len(snap.Delays))
	}
	d := snap.Delays[0]
	if d.RiskLevel != "High" {
		t.Fatalf("40°C > 35 must be High risk, got %s", d.RiskLevel)
	}
	// |40 - 22.5| rounds to 18 hours.
	if d.Duration != 18 {
		t.Fatalf("expected 18h delay, got %d", d.Duration)
	}
	if d.Mitigation != "Immediate cold storage transfer required. Activate backup refrigeration." {
		t.Fatalf("unexpected mitigation: %q", d.Mitigation)
	}
}

func TestDelayDurationIsDeterministic(t *testing.T) {
	a, b := New(), New()
	da := a.AddShipment(record("B1", 38, 100, "Farmer"))
	db := b.AddShipment(record("B1", 38, 100, "Farmer"))
	if da.DelayStatus != db.DelayStatus {
		t.Fatalf("same input must produce same status")
	}
	if a.Data().Delays[0].Duration != b.Data().Delays[0].Duration {
		t.Fatalf("delay duration must be a pure function of the reading")
	}
}

func TestColdChainScore(t *testing.T) {
	cases := []struct {
		temp float64
		want float64
	}{
		{22.5, 100},
		{15, 100},
		{30, 100},
		{35, 37.5},  // 100 - 12.5*5
		{10, 37.5},  // 100 - 12.5*5
		{45, 0},     // 100 - 22.5*5 < 0, floored
		{-10, 0},
	}
	for _, tc := range cases {
		if got := ColdChainScore(tc.temp); got != tc.want {
			t.Fatalf("ColdChainScore(%v) = %v, want %v", tc.temp, got, tc.want)
		}
	}
}

func TestTemperatureStreamCapAndOrder(t *testing.T) {
	s := New()
	for i := 0; i < 25; i++ {
		s.AddShipment(record("B"+string(rune('A'+i)), 20, 100, "Farmer"))
	}
	snap := s.Data()
	if len(snap.TemperatureStream) != 10 {
		t.Fatalf("snapshot must expose at most 10 readings, got %d", len(snap.TemperatureStream))
	}
	if snap.TemperatureStream[0].BatchID != "B"+string(rune('A'+24)) {
		t.Fatalf("newest reading must come first, got %s", snap.TemperatureStream[0].BatchID)
	}
}

func TestInventoryAccumulation(t *testing.T) {
	s := New()
	s.AddShipment(record("B1", 22, 300, "Farmer"))
	s.AddShipment(record("B2", 22, 400, "Farmer"))

	inv := s.Data().Inventory["Rice"]
	if inv.Total != 700 {
		t.Fatalf("expected total 700, got %v", inv.Total)
	}
	if inv.Warehouses["Warehouse A"] != 700 {
		t.Fatalf("expected warehouse total 700, got %v", inv.Warehouses["Warehouse A"])
	}

	// 700 < 500 is false, but the first shipment (total 300) alerted.
	var lowStock bool
	for _, a := range s.Data().Alerts {
		if a.Type == "Low Stock" {
			lowStock = true
		}
	}
	if !lowStock {
		t.Fatalf("expected a Low Stock alert while total was below threshold")
	}
}

func TestKPIs(t *testing.T) {
	s := New()
	if kpis := s.KPIs(); kpis.CurrentSCRI != 48 || kpis.DemandVolatility != 12 || kpis.OnTimeDeliveryPercent != 95 {
		t.Fatalf("unexpected defaults: %+v", kpis)
	}

	s.AddShipment(record("B1", 22, 100, "Farmer"))
	s.AddShipment(record("B2", 40, 100, "Distributor"))
	kpis := s.KPIs()
	if kpis.ActiveShipmentsCount != 2 {
		t.Fatalf("expected 2 active shipments, got %d", kpis.ActiveShipmentsCount)
	}
	if kpis.OnTimeDeliveryPercent != 50 {
		t.Fatalf("1 of 2 on time must be 50%%, got %d", kpis.OnTimeDeliveryPercent)
	}
	if kpis.AvgDelayDuration == 0 {
		t.Fatalf("a delayed shipment must raise the average delay")
	}
	if kpis.DemandVolatility != 0 {
		t.Fatalf("equal quantities have zero volatility, got %d", kpis.DemandVolatility)
	}
}

func TestUpdateSCRI(t *testing.T) {
	s := New()
	s.UpdateSCRI(85)
	if s.CurrentSCRI() != 85 {
		t.Fatalf("expected SCRI 85, got %v", s.CurrentSCRI())
	}
	alerts := s.Data().Alerts
	if len(alerts) != 1 || alerts[0].Type != "High Risk" {
		t.Fatalf("SCRI above 70 must alert, got %+v", alerts)
	}

	s.UpdateSCRI(40)
	if len(s.Data().Alerts) != 1 {
		t.Fatalf("SCRI at or below 70 must not alert")
	}
}

func TestSupplyFlowCounts(t *testing.T) {
	s := New()
	s.AddShipment(record("B1", 22, 100, "Farmer"))
	s.AddShipment(record("B2", 22, 100, "Farmer"))
	s.AddShipment(record("B3", 22, 100, "Distributor"))

	flow := s.Data().SupplyFlow
	if len(flow.Nodes) != 3 || len(flow.Edges) != 2 {
		t.Fatalf("unexpected flow shape: %+v", flow)
	}
	if flow.Edges[0].Count != 2 || flow.Edges[1].Count != 1 {
		t.Fatalf("unexpected edge counts: %+v", flow.Edges)
	}
}

func TestPruneStale(t *testing.T) {
	now := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return now }))

	s.AddShipment(record("B1", 22, 100, "Farmer"))
	now = now.Add(2 * time.Hour)
	s.AddShipment(record("B2", 22, 100, "Farmer"))

	if dropped := s.PruneStale(time.Hour); dropped != 1 {
		t.Fatalf("expected 1 pruned shipment, got %d", dropped)
	}
	snap := s.Data()
	if len(snap.ActiveShipments) != 1 || snap.ActiveShipments[0].ID != "B2" {
		t.Fatalf("expected only B2 to survive, got %+v", snap.ActiveShipments)
	}
	if snap.KPIs.ActiveShipmentsCount != 1 {
		t.Fatalf("KPIs must be recomputed after pruning")
	}
}
