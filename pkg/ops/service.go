// Package ops tracks operational telemetry derived from ledger events:
// shipments in flight, inventory, cold-chain readings, delays, and KPIs.
package ops

import (
	"math"
	"sync"
	"time"

	"agrichain/pkg/ledger"
)

// Cold-chain band and retention caps.
const (
	TemperatureMin      = 15.0
	TemperatureMax      = 30.0
	TemperatureMidpoint = 22.5

	temperatureStreamCap = 20
	alertCap             = 50

	lowStockThreshold  = 500.0
	overstockThreshold = 5000.0

	defaultSCRI             = 48.0
	defaultDemandVolatility = 12
	scriAlertAbove          = 70.0
)

type Shipment struct {
	ID                string  `json:"id"`
	Origin            string  `json:"origin"`
	Destination       string  `json:"destination"`
	CurrentHandler    string  `json:"currentHandler"`
	EstimatedDelivery string  `json:"estimatedDelivery"`
	Progress          int     `json:"progress"`
	DelayStatus       string  `json:"delayStatus"`
	Temperature       float64 `json:"temperature"`
	Quantity          float64 `json:"quantity"`
	Timestamp         int64   `json:"timestamp"`
}

type InventoryItem struct {
	Total              float64            `json:"total"`
	Warehouses         map[string]float64 `json:"warehouses"`
	LowStockThreshold  float64            `json:"lowStockThreshold"`
	OverstockThreshold float64            `json:"overstockThreshold"`
	TurnoverRate       int                `json:"turnoverRate"`
	LastUpdated        int64              `json:"lastUpdated"`
}

type Delay struct {
	BatchID    string `json:"batchID"`
	Duration   int    `json:"duration"` // hours
	RiskLevel  string `json:"riskLevel"`
	Mitigation string `json:"mitigation"`
}

type TemperatureReading struct {
	BatchID            string  `json:"batchID"`
	Temperature        float64 `json:"temperature"`
	RangeMin           float64 `json:"rangeMin"`
	RangeMax           float64 `json:"rangeMax"`
	Anomaly            bool    `json:"anomaly"`
	ColdChainIntegrity float64 `json:"coldChainIntegrity"`
	Timestamp          int64   `json:"timestamp"`
}

type Alert struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
	Timestamp int64  `json:"timestamp"`
}

type KPIs struct {
	ActiveShipmentsCount  int     `json:"activeShipmentsCount"`
	OnTimeDeliveryPercent int     `json:"onTimeDeliveryPercent"`
	AvgDelayDuration      int     `json:"avgDelayDuration"`
	CurrentSCRI           float64 `json:"currentSCRI"`
	DemandVolatility      int     `json:"demandVolatility"`
}

type FlowNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type"`
	Risk  string `json:"risk"`
}

type FlowEdge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

type SupplyFlow struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

// Snapshot is the dashboard view: full shipment and delay lists, but only the
// 10 most recent readings and alerts.
type Snapshot struct {
	ActiveShipments   []Shipment               `json:"activeShipments"`
	Inventory         map[string]InventoryItem `json:"inventory"`
	Delays            []Delay                  `json:"delays"`
	TemperatureStream []TemperatureReading     `json:"temperatureStream"`
	Alerts            []Alert                  `json:"alerts"`
	KPIs              KPIs                     `json:"kpis"`
	SupplyFlow        SupplyFlow               `json:"supplyFlow"`
}

// Service aggregates operational state. All methods are safe for concurrent
// use.
type Service struct {
	mu          sync.Mutex
	now         func() time.Time
	shipments   []Shipment
	inventory   map[string]InventoryItem
	delays      []Delay
	temperature []TemperatureReading // most recent first
	alerts      []Alert              // most recent first
	kpis        KPIs
}

type Option func(*Service)

// WithClock overrides the timestamp source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(opts ...Option) *Service {
	s := &Service{
		now:       time.Now,
		inventory: map[string]InventoryItem{},
		kpis: KPIs{
			OnTimeDeliveryPercent: 95,
			CurrentSCRI:           defaultSCRI,
			DemandVolatility:      defaultDemandVolatility,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddShipment ingests one ledger event: registers the shipment, updates
// inventory, records any delay, appends a cold-chain reading, and recomputes
// KPIs.
func (s *Service) AddShipment(rec ledger.EventRecord) Shipment {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	status := "On-Time"
	if rec.Temperature < TemperatureMin || rec.Temperature > TemperatureMax {
		status = "Delayed"
	}
	ship := Shipment{
		ID:                rec.BatchID,
		Origin:            rec.Location,
		Destination:       destinationFor(rec.HandlerRole),
		CurrentHandler:    rec.HandlerRole,
		EstimatedDelivery: now.Add(etaFor(rec.HandlerRole)).UTC().Format(time.RFC3339),
		Progress:          progressFor(rec.HandlerRole),
		DelayStatus:       status,
		Temperature:       rec.Temperature,
		Quantity:          rec.Quantity,
		Timestamp:         now.UnixMilli(),
	}
	s.shipments = append(s.shipments, ship)
	s.updateInventoryLocked(rec, now)
	s.checkDelayLocked(ship)
	s.recordTemperatureLocked(rec, now)
	s.updateKPIsLocked()
	return ship
}

func destinationFor(handlerRole string) string {
	switch handlerRole {
	case "Farmer":
		return "Distribution Center"
	case "Distributor":
		return "Retail Hub"
	case "Retailer":
		return "Consumer Market"
	}
	return "Unknown"
}

func etaFor(handlerRole string) time.Duration {
	switch handlerRole {
	case "Distributor":
		return 12 * time.Hour
	case "Retailer":
		return 6 * time.Hour
	}
	return 24 * time.Hour
}

func progressFor(handlerRole string) int {
	switch handlerRole {
	case "Farmer":
		return 33
	case "Distributor":
		return 66
	case "Retailer":
		return 100
	}
	return 0
}

func (s *Service) updateInventoryLocked(rec ledger.EventRecord, now time.Time) {
	crop := rec.Crop
	if crop == "" {
		crop = "Rice"
	}
	item, ok := s.inventory[crop]
	if !ok {
		item = InventoryItem{
			Warehouses:         map[string]float64{},
			LowStockThreshold:  lowStockThreshold,
			OverstockThreshold: overstockThreshold,
			LastUpdated:        now.UnixMilli(),
		}
	}
	item.Total += rec.Quantity
	item.Warehouses[rec.Location] += rec.Quantity
	if item.Total > 0 {
		item.TurnoverRate = int(math.Round(rec.Quantity / item.Total * 100))
	}
	item.LastUpdated = now.UnixMilli()
	s.inventory[crop] = item

	if item.Total < item.LowStockThreshold {
		s.addAlertLocked("Low Stock", crop+" inventory below threshold", "warning", now)
	}
	if item.Total > item.OverstockThreshold {
		s.addAlertLocked("Overstock", crop+" inventory exceeds capacity", "info", now)
	}
}

// checkDelayLocked records a delay for out-of-band shipments. The estimated
// duration scales with the deviation from the band midpoint, clamped to
// [1, 48] hours.
func (s *Service) checkDelayLocked(ship Shipment) {
	if ship.DelayStatus != "Delayed" {
		return
	}
	hours := int(math.Round(math.Abs(ship.Temperature - TemperatureMidpoint)))
	if hours < 1 {
		hours = 1
	}
	if hours > 48 {
		hours = 48
	}
	risk := "Medium"
	if ship.Temperature > 35 {
		risk = "High"
	}
	s.delays = append(s.delays, Delay{
		BatchID:    ship.ID,
		Duration:   hours,
		RiskLevel:  risk,
		Mitigation: suggestedMitigation(ship.Temperature),
	})
	s.addAlertLocked("Delay Detected", "Batch "+ship.ID+" delayed", "warning", time.UnixMilli(ship.Timestamp))
}

func suggestedMitigation(temperature float64) string {
	switch {
	case temperature > 35:
		return "Immediate cold storage transfer required. Activate backup refrigeration."
	case temperature < 10:
		return "Temperature too low. Adjust climate control settings."
	}
	return "Monitor closely and expedite delivery."
}

func (s *Service) recordTemperatureLocked(rec ledger.EventRecord, now time.Time) {
	reading := TemperatureReading{
		BatchID:            rec.BatchID,
		Temperature:        rec.Temperature,
		RangeMin:           TemperatureMin,
		RangeMax:           TemperatureMax,
		Anomaly:            rec.Temperature < TemperatureMin || rec.Temperature > TemperatureMax,
		ColdChainIntegrity: ColdChainScore(rec.Temperature),
		Timestamp:          now.UnixMilli(),
	}
	s.temperature = append([]TemperatureReading{reading}, s.temperature...)
	if len(s.temperature) > temperatureStreamCap {
		s.temperature = s.temperature[:temperatureStreamCap]
	}
	if reading.Anomaly {
		s.addAlertLocked("Temperature Anomaly", "Batch "+rec.BatchID+": out-of-band reading", "danger", now)
	}
}

// ColdChainScore is 100 inside the acceptable band and decays by 5 points per
// degree of deviation from the midpoint outside it, floored at 0.
func ColdChainScore(temperature float64) float64 {
	if temperature >= TemperatureMin && temperature <= TemperatureMax {
		return 100
	}
	deviation := math.Abs(temperature - TemperatureMidpoint)
	return math.Max(0, 100-deviation*5)
}

func (s *Service) addAlertLocked(alertType, message, severity string, now time.Time) {
	s.alerts = append([]Alert{{
		Type:      alertType,
		Message:   message,
		Severity:  severity,
		Timestamp: now.UnixMilli(),
	}}, s.alerts...)
	if len(s.alerts) > alertCap {
		s.alerts = s.alerts[:alertCap]
	}
}

func (s *Service) updateKPIsLocked() {
	s.kpis.ActiveShipmentsCount = len(s.shipments)

	onTime := 0
	for _, ship := range s.shipments {
		if ship.DelayStatus == "On-Time" {
			onTime++
		}
	}
	if len(s.shipments) > 0 {
		s.kpis.OnTimeDeliveryPercent = int(math.Round(float64(onTime) / float64(len(s.shipments)) * 100))
	} else {
		s.kpis.OnTimeDeliveryPercent = 100
	}

	if len(s.delays) > 0 {
		total := 0
		for _, d := range s.delays {
			total += d.Duration
		}
		s.kpis.AvgDelayDuration = int(math.Round(float64(total) / float64(len(s.delays))))
	} else {
		s.kpis.AvgDelayDuration = 0
	}

	if len(s.shipments) > 1 {
		var sum float64
		for _, ship := range s.shipments {
			sum += ship.Quantity
		}
		mean := sum / float64(len(s.shipments))
		var variance float64
		for _, ship := range s.shipments {
			variance += (ship.Quantity - mean) * (ship.Quantity - mean)
		}
		variance /= float64(len(s.shipments))
		if mean > 0 {
			volatility := int(math.Round(math.Sqrt(variance) / mean * 100))
			if volatility > 99 {
				volatility = 99
			}
			s.kpis.DemandVolatility = volatility
		}
	}
}

// UpdateSCRI sets the current supply-chain risk index, alerting above 70.
func (s *Service) UpdateSCRI(scri float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kpis.CurrentSCRI = scri
	if scri > scriAlertAbove {
		s.addAlertLocked("High Risk", "SCRI elevated", "danger", s.now())
	}
}

// CurrentSCRI returns the live risk index, the default fallback when events
// carry no explicit score.
func (s *Service) CurrentSCRI() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kpis.CurrentSCRI
}

// KPIs returns a copy of the current indicator set.
func (s *Service) KPIs() KPIs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kpis
}

// Data returns the full dashboard snapshot.
func (s *Service) Data() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ActiveShipments:   append([]Shipment(nil), s.shipments...),
		Inventory:         make(map[string]InventoryItem, len(s.inventory)),
		Delays:            append([]Delay(nil), s.delays...),
		TemperatureStream: firstN(s.temperature, 10),
		Alerts:            firstN(s.alerts, 10),
		KPIs:              s.kpis,
		SupplyFlow:        s.supplyFlowLocked(),
	}
	for crop, item := range s.inventory {
		warehouses := make(map[string]float64, len(item.Warehouses))
		for loc, qty := range item.Warehouses {
			warehouses[loc] = qty
		}
		item.Warehouses = warehouses
		snap.Inventory[crop] = item
	}
	return snap
}

func (s *Service) supplyFlowLocked() SupplyFlow {
	farmer, distributor := 0, 0
	for _, ship := range s.shipments {
		switch ship.CurrentHandler {
		case "Farmer":
			farmer++
		case "Distributor":
			distributor++
		}
	}
	return SupplyFlow{
		Nodes: []FlowNode{
			{ID: "farmer", Label: "Farmers", Type: "source", Risk: "low"},
			{ID: "distributor", Label: "Distributors", Type: "intermediate", Risk: "low"},
			{ID: "retailer", Label: "Retailers", Type: "destination", Risk: "medium"},
		},
		Edges: []FlowEdge{
			{From: "farmer", To: "distributor", Count: farmer},
			{From: "distributor", To: "retailer", Count: distributor},
		},
	}
}

// PruneStale drops shipments older than maxAge. KPIs are recomputed over the
// survivors.
func (s *Service) PruneStale(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxAge).UnixMilli()
	kept := s.shipments[:0]
	for _, ship := range s.shipments {
		if ship.Timestamp > cutoff {
			kept = append(kept, ship)
		}
	}
	dropped := len(s.shipments) - len(kept)
	s.shipments = kept
	if dropped > 0 {
		s.updateKPIsLocked()
	}
	return dropped
}

func firstN[T any](in []T, n int) []T {
	if len(in) < n {
		n = len(in)
	}
	return append([]T(nil), in[:n]...)
}
