// Package compliance implements the escalation engine: severity
// classification, finding and recommendation generation, escalation
// thresholds, and supplier lock state, with every action recorded on the
// audit trail.
package compliance

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"agrichain/pkg/audit"
	"agrichain/pkg/canonhash"
	"agrichain/pkg/ident"
)

var (
	ErrIncidentNotFound   = errors.New("INCIDENT_NOT_FOUND")
	ErrEscalationNotFound = errors.New("ESCALATION_NOT_FOUND")
	ErrIncidentResolved   = errors.New("INCIDENT_RESOLVED")
)

// Engine exclusively owns the incident, escalation, and complaint
// collections and the supplier lock set. Construct one at startup and share
// the instance; all mutation is serialized on its mutex.
type Engine struct {
	mu          sync.Mutex
	ids         ident.Generator
	trail       *audit.Trail
	now         func() time.Time
	incidents   []*Incident
	escalations []*Escalation
	complaints  []*Complaint
	locked      map[string]struct{}
}

type Option func(*Engine)

// WithClock overrides the timestamp source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(trail *audit.Trail, ids ident.Generator, opts ...Option) *Engine {
	e := &Engine{
		ids:    ids,
		trail:  trail,
		now:    time.Now,
		locked: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// reportHashFields is the fixed incident subset covered by the report hash.
// The hash is a point-in-time attestation computed once at creation; it is
// never recomputed, unlike a chain link.
type reportHashFields struct {
	IncidentID string  `json:"incidentID"`
	BatchID    string  `json:"batchID"`
	SupplierID string  `json:"supplierID"`
	Severity   string  `json:"severity"`
	FraudRisk  float64 `json:"fraudRisk"`
	SCRI       float64 `json:"scri"`
	ReportedAt string  `json:"reportedAt"`
}

// GenerateIncidentReport is the engine's single atomic unit of work:
// classify, check escalation, generate findings and recommendations, compute
// the report hash, conditionally lock the supplier, persist the incident,
// and write the audit entry. If the report hash cannot be computed, nothing
// is committed.
func (e *Engine) GenerateIncidentReport(in IncidentInput) (Incident, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UTC()
	reportedAt := in.Timestamp
	if reportedAt.IsZero() {
		reportedAt = now
	}
	supplierID := in.SupplierID
	if supplierID == "" {
		supplierID = "SUP-" + in.HandlerRole
	}

	severity := ClassifySeverity(in.FraudRisk, in.SCRI, in.AnomalyScore)
	requiresEscalation := ShouldEscalate(in.FraudRisk, in.SCRI, in.AnomalyScore)

	inc := &Incident{
		IncidentID:         e.ids.NewID(ident.PrefixIncident),
		BatchID:            in.BatchID,
		SupplierID:         supplierID,
		Severity:           severity,
		FraudRisk:          in.FraudRisk,
		SCRI:               in.SCRI,
		AnomalyScore:       in.AnomalyScore,
		Temperature:        in.Temperature,
		Location:           in.Location,
		HandlerRole:        in.HandlerRole,
		RequiresEscalation: requiresEscalation,
		Status:             StatusReported,
		ReportedAt:         reportedAt,
		Findings:           GenerateFindings(in.FraudRisk, in.SCRI, in.AnomalyScore, in.Temperature),
		Recommendations:    generateRecommendations(severity, in.FraudRisk, in.SCRI),
	}
	if requiresEscalation {
		inc.Status = StatusEscalated
		escalatedAt := now
		inc.EscalatedAt = &escalatedAt
	}

	hash, _, err := canonhash.SumObject(reportHashFields{
		IncidentID: inc.IncidentID,
		BatchID:    inc.BatchID,
		SupplierID: inc.SupplierID,
		Severity:   string(inc.Severity),
		FraudRisk:  inc.FraudRisk,
		SCRI:       inc.SCRI,
		ReportedAt: inc.ReportedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return Incident{}, err
	}
	inc.ReportHash = hash

	if requiresEscalation {
		e.lockSupplierLocked(inc.SupplierID, inc.IncidentID)
	}

	e.incidents = append(e.incidents, inc)
	e.trail.Record(audit.EventIncidentCreated, map[string]any{
		"incidentID": inc.IncidentID,
		"batchID":    inc.BatchID,
		"supplierID": inc.SupplierID,
		"severity":   string(inc.Severity),
		"reportHash": inc.ReportHash,
	})

	return copyIncident(inc), nil
}

// CreateEscalation manually elevates a Reported incident. Manual escalation
// never locks the supplier. Resolved incidents are terminal.
func (e *Engine) CreateEscalation(incidentID, escalatedBy, notes string) (Escalation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inc := e.findIncidentLocked(incidentID)
	if inc == nil {
		return Escalation{}, ErrIncidentNotFound
	}
	if inc.Status == StatusResolved {
		return Escalation{}, ErrIncidentResolved
	}

	esc := &Escalation{
		EscalationID: e.ids.NewID(ident.PrefixEscalation),
		IncidentID:   incidentID,
		EscalatedBy:  escalatedBy,
		EscalatedAt:  e.now().UTC(),
		Severity:     inc.Severity,
		Status:       EscalationPending,
		Notes:        notes,
	}
	e.escalations = append(e.escalations, esc)
	if inc.Status != StatusEscalated {
		inc.Status = StatusEscalated
		escalatedAt := esc.EscalatedAt
		inc.EscalatedAt = &escalatedAt
	}

	e.trail.Record(audit.EventEscalationCreated, map[string]any{
		"escalationID": esc.EscalationID,
		"incidentID":   incidentID,
		"escalatedBy":  escalatedBy,
		"severity":     string(esc.Severity),
	})
	return *esc, nil
}

// ResolveIncident closes an incident. Resolving an already-resolved incident
// is idempotent success. The supplier is unlocked only when no other
// unresolved escalated incident still holds the lock.
func (e *Engine) ResolveIncident(incidentID, resolution, resolvedBy string) (Incident, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inc := e.findIncidentLocked(incidentID)
	if inc == nil {
		return Incident{}, ErrIncidentNotFound
	}
	if inc.Status == StatusResolved {
		return copyIncident(inc), nil
	}

	now := e.now().UTC()
	inc.Status = StatusResolved
	inc.ResolvedAt = &now
	inc.Resolution = resolution
	inc.ResolvedBy = resolvedBy

	for _, esc := range e.escalations {
		if esc.IncidentID == incidentID && esc.Status == EscalationPending {
			esc.Status = EscalationResolved
			esc.Resolution = resolution
			resolvedAt := now
			esc.ResolvedAt = &resolvedAt
		}
	}

	if _, held := e.locked[inc.SupplierID]; held && !e.supplierStillAtRiskLocked(inc.SupplierID) {
		e.unlockSupplierLocked(inc.SupplierID, "Incident "+incidentID+" resolved")
	}

	e.trail.Record(audit.EventIncidentResolved, map[string]any{
		"incidentID": incidentID,
		"resolution": resolution,
		"resolvedBy": resolvedBy,
		"resolvedAt": now.Format(time.RFC3339Nano),
	})
	return copyIncident(inc), nil
}

// SubmitComplaint files a complaint against an incident.
func (e *Engine) SubmitComplaint(in ComplaintInput) Complaint {
	e.mu.Lock()
	defer e.mu.Unlock()

	c := &Complaint{
		ComplaintID:     e.ids.NewID(ident.PrefixComplaint),
		IncidentID:      in.IncidentID,
		ComplaintType:   in.ComplaintType,
		Description:     in.Description,
		SubmittedBy:     in.SubmittedBy,
		Evidence:        append([]string{}, in.Evidence...),
		RequestedAction: in.RequestedAction,
		SubmittedAt:     e.now().UTC(),
		Status:          "Submitted",
	}
	e.complaints = append(e.complaints, c)
	e.trail.Record(audit.EventComplaintSubmitted, map[string]any{
		"complaintID": c.ComplaintID,
		"incidentID":  c.IncidentID,
		"submittedBy": c.SubmittedBy,
	})
	return *c
}

// NotifyAuthorities marks an escalation as reported to an external
// authority.
func (e *Engine) NotifyAuthorities(escalationID, authorityType string) (Notification, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var esc *Escalation
	for _, candidate := range e.escalations {
		if candidate.EscalationID == escalationID {
			esc = candidate
			break
		}
	}
	if esc == nil {
		return Notification{}, ErrEscalationNotFound
	}

	now := e.now().UTC()
	n := Notification{
		NotificationID: e.ids.NewID(ident.PrefixNotification),
		EscalationID:   escalationID,
		AuthorityType:  authorityType,
		NotifiedAt:     now,
		Status:         "Sent",
	}
	esc.AuthorityNotified = true
	notifiedAt := now
	esc.NotificationSent = &notifiedAt

	e.trail.Record(audit.EventAuthorityNotified, map[string]any{
		"notificationID": n.NotificationID,
		"escalationID":   escalationID,
		"authorityType":  authorityType,
	})
	return n, nil
}

// LockSupplier puts a supplier under compliance lock.
func (e *Engine) LockSupplier(supplierID, incidentID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockSupplierLocked(supplierID, incidentID)
}

// UnlockSupplier releases a compliance lock.
func (e *Engine) UnlockSupplier(supplierID, reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.unlockSupplierLocked(supplierID, reason)
}

// IsSupplierLocked is the sole authority for whether a supplier may
// transact.
func (e *Engine) IsSupplierLocked(supplierID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.locked[supplierID]
	return ok
}

// LockedSuppliers returns the current lock set, sorted.
func (e *Engine) LockedSuppliers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.locked))
	for s := range e.locked {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetIncidents returns filtered incidents, newest first.
func (e *Engine) GetIncidents(f Filter) []Incident {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Incident, 0, len(e.incidents))
	for _, inc := range e.incidents {
		if f.Severity != nil && inc.Severity != *f.Severity {
			continue
		}
		if f.Status != nil && inc.Status != *f.Status {
			continue
		}
		if f.RequiresEscalation != nil && inc.RequiresEscalation != *f.RequiresEscalation {
			continue
		}
		out = append(out, copyIncident(inc))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ReportedAt.After(out[j].ReportedAt)
	})
	return out
}

// GetIncidentByID returns one incident, or ErrIncidentNotFound.
func (e *Engine) GetIncidentByID(incidentID string) (Incident, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	inc := e.findIncidentLocked(incidentID)
	if inc == nil {
		return Incident{}, ErrIncidentNotFound
	}
	return copyIncident(inc), nil
}

// GetEscalations returns escalations, optionally narrowed by status, newest
// first.
func (e *Engine) GetEscalations(status EscalationStatus) []Escalation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Escalation, 0, len(e.escalations))
	for _, esc := range e.escalations {
		if status != "" && esc.Status != status {
			continue
		}
		out = append(out, *esc)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EscalatedAt.After(out[j].EscalatedAt)
	})
	return out
}

// GetComplaints returns complaints filed against an incident, in submission
// order; an empty id returns everything.
func (e *Engine) GetComplaints(incidentID string) []Complaint {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Complaint, 0, len(e.complaints))
	for _, c := range e.complaints {
		if incidentID != "" && c.IncidentID != incidentID {
			continue
		}
		out = append(out, *c)
	}
	return out
}

// GetReportData assembles the bundle the report renderer consumes.
func (e *Engine) GetReportData(incidentID string) (ReportData, error) {
	e.mu.Lock()
	inc := e.findIncidentLocked(incidentID)
	if inc == nil {
		e.mu.Unlock()
		return ReportData{}, ErrIncidentNotFound
	}
	data := ReportData{Incident: copyIncident(inc)}
	var escalationID string
	for _, esc := range e.escalations {
		if esc.IncidentID == incidentID {
			escCopy := *esc
			data.Escalation = &escCopy
			escalationID = esc.EscalationID
			break
		}
	}
	data.Complaints = make([]Complaint, 0)
	for _, c := range e.complaints {
		if c.IncidentID == incidentID {
			data.Complaints = append(data.Complaints, *c)
		}
	}
	e.mu.Unlock()

	data.AuditTrail = e.trail.FindByCorrelation(incidentID)
	if escalationID != "" {
		seen := map[string]struct{}{}
		for _, entry := range data.AuditTrail {
			seen[entry.AuditID] = struct{}{}
		}
		for _, entry := range e.trail.FindByCorrelation(escalationID) {
			if _, dup := seen[entry.AuditID]; !dup {
				data.AuditTrail = append(data.AuditTrail, entry)
			}
		}
	}
	return data, nil
}

// Stats aggregates compliance counters. Zero resolved incidents yields an
// average resolution time of 0 hours.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		TotalIncidents:  len(e.incidents),
		LockedSuppliers: len(e.locked),
		TotalComplaints: len(e.complaints),
	}
	var totalResolution time.Duration
	resolved := 0
	for _, inc := range e.incidents {
		switch inc.Severity {
		case SeverityCritical:
			s.CriticalIncidents++
		case SeverityHigh:
			s.HighIncidents++
		case SeverityMedium:
			s.MediumIncidents++
		default:
			s.LowIncidents++
		}
		if inc.RequiresEscalation {
			s.EscalatedIncidents++
		}
		if inc.ResolvedAt != nil {
			totalResolution += inc.ResolvedAt.Sub(inc.ReportedAt)
			resolved++
		}
	}
	for _, esc := range e.escalations {
		if esc.Status == EscalationPending {
			s.PendingEscalations++
		}
	}
	if s.TotalIncidents > 0 {
		rate := float64(s.TotalIncidents-s.EscalatedIncidents) / float64(s.TotalIncidents) * 100
		s.ComplianceRate = math.Round(rate*10) / 10
	} else {
		s.ComplianceRate = 100
	}
	if resolved > 0 {
		mean := totalResolution / time.Duration(resolved)
		s.AverageResolutionTime = int(math.Round(mean.Hours()))
	}
	return s
}

func (e *Engine) findIncidentLocked(incidentID string) *Incident {
	for _, inc := range e.incidents {
		if inc.IncidentID == incidentID {
			return inc
		}
	}
	return nil
}

// supplierStillAtRiskLocked reports whether another unresolved escalated
// incident still justifies the lock.
func (e *Engine) supplierStillAtRiskLocked(supplierID string) bool {
	for _, inc := range e.incidents {
		if inc.SupplierID == supplierID && inc.RequiresEscalation && inc.Status != StatusResolved {
			return true
		}
	}
	return false
}

func (e *Engine) lockSupplierLocked(supplierID, incidentID string) {
	e.locked[supplierID] = struct{}{}
	e.trail.Record(audit.EventSupplierLocked, map[string]any{
		"supplierID": supplierID,
		"incidentID": incidentID,
		"reason":     "Automatic lock due to escalation threshold breach",
	})
}

func (e *Engine) unlockSupplierLocked(supplierID, reason string) {
	delete(e.locked, supplierID)
	e.trail.Record(audit.EventSupplierUnlocked, map[string]any{
		"supplierID": supplierID,
		"reason":     reason,
	})
}

func copyIncident(inc *Incident) Incident {
	out := *inc
	out.Findings = append([]Finding(nil), inc.Findings...)
	out.Recommendations = append([]string(nil), inc.Recommendations...)
	if inc.EscalatedAt != nil {
		t := *inc.EscalatedAt
		out.EscalatedAt = &t
	}
	if inc.ResolvedAt != nil {
		t := *inc.ResolvedAt
		out.ResolvedAt = &t
	}
	return out
}
