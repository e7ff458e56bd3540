package compliance

import (
	"time"

	"agrichain/pkg/audit"
)

type Severity string

const (
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

type IncidentStatus string

const (
	StatusReported  IncidentStatus = "Reported"
	StatusEscalated IncidentStatus = "Escalated"
	StatusResolved  IncidentStatus = "Resolved"
)

type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "Pending"
	EscalationResolved EscalationStatus = "Resolved"
)

type FindingType string

const (
	FindingFraudRisk            FindingType = "Fraud Risk"
	FindingSupplyChainRisk      FindingType = "Supply Chain Risk"
	FindingAnomalyDetection     FindingType = "Anomaly Detection"
	FindingTemperatureViolation FindingType = "Temperature Violation"
)

// Finding is one specific policy violation derived from risk inputs. It is
// regenerated, never persisted independently.
type Finding struct {
	Type        FindingType `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Evidence    string      `json:"evidence"`
}

// IncidentInput carries the telemetry and externally computed risk scores
// for one evaluation.
type IncidentInput struct {
	BatchID      string    `json:"batchID"`
	SupplierID   string    `json:"supplierID"`
	FraudRisk    float64   `json:"fraudRisk"`
	SCRI         float64   `json:"scri"`
	AnomalyScore float64   `json:"anomalyScore"`
	Temperature  float64   `json:"temperature"`
	Location     string    `json:"location"`
	HandlerRole  string    `json:"handlerRole"`
	Timestamp    time.Time `json:"timestamp,omitempty"`
}

// Incident field names are rendered verbatim by the report collaborator and
// must stay stable.
type Incident struct {
	IncidentID         string         `json:"incidentID"`
	BatchID            string         `json:"batchID"`
	SupplierID         string         `json:"supplierID"`
	Severity           Severity       `json:"severity"`
	FraudRisk          float64        `json:"fraudRisk"`
	SCRI               float64        `json:"scri"`
	AnomalyScore       float64        `json:"anomalyScore"`
	Temperature        float64        `json:"temperature"`
	Location           string         `json:"location"`
	HandlerRole        string         `json:"handlerRole"`
	RequiresEscalation bool           `json:"requiresEscalation"`
	Status             IncidentStatus `json:"status"`
	ReportedAt         time.Time      `json:"reportedAt"`
	EscalatedAt        *time.Time     `json:"escalatedAt,omitempty"`
	ResolvedAt         *time.Time     `json:"resolvedAt,omitempty"`
	Resolution         string         `json:"resolution,omitempty"`
	ResolvedBy         string         `json:"resolvedBy,omitempty"`
	ReportHash         string         `json:"reportHash"`
	Findings           []Finding      `json:"findings"`
	Recommendations    []string       `json:"recommendations"`
}

type Escalation struct {
	EscalationID      string           `json:"escalationID"`
	IncidentID        string           `json:"incidentID"`
	EscalatedBy       string           `json:"escalatedBy"`
	EscalatedAt       time.Time        `json:"escalatedAt"`
	Severity          Severity         `json:"severity"`
	Status            EscalationStatus `json:"status"`
	Notes             string           `json:"notes,omitempty"`
	AuthorityNotified bool             `json:"authorityNotified"`
	NotificationSent  *time.Time       `json:"notificationSent,omitempty"`
	Resolution        string           `json:"resolution,omitempty"`
	ResolvedAt        *time.Time       `json:"resolvedAt,omitempty"`
}

type ComplaintInput struct {
	IncidentID      string   `json:"incidentID"`
	ComplaintType   string   `json:"complaintType"`
	Description     string   `json:"description"`
	SubmittedBy     string   `json:"submittedBy"`
	Evidence        []string `json:"evidence,omitempty"`
	RequestedAction string   `json:"requestedAction,omitempty"`
}

type Complaint struct {
	ComplaintID     string     `json:"complaintID"`
	IncidentID      string     `json:"incidentID"`
	ComplaintType   string     `json:"complaintType"`
	Description     string     `json:"description"`
	SubmittedBy     string     `json:"submittedBy"`
	Evidence        []string   `json:"evidence"`
	RequestedAction string     `json:"requestedAction,omitempty"`
	SubmittedAt     time.Time  `json:"submittedAt"`
	Status          string     `json:"status"`
	AssignedTo      string     `json:"assignedTo,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
}

// Notification records an authority notification for an escalation.
type Notification struct {
	NotificationID string    `json:"notificationID"`
	EscalationID   string    `json:"escalationID"`
	AuthorityType  string    `json:"authorityType"`
	NotifiedAt     time.Time `json:"notifiedAt"`
	Status         string    `json:"status"`
	Acknowledgment string    `json:"acknowledgment,omitempty"`
}

// Filter narrows GetIncidents. Nil fields match everything.
type Filter struct {
	Severity           *Severity
	Status             *IncidentStatus
	RequiresEscalation *bool
}

type Stats struct {
	TotalIncidents        int     `json:"totalIncidents"`
	CriticalIncidents     int     `json:"criticalIncidents"`
	HighIncidents         int     `json:"highIncidents"`
	MediumIncidents       int     `json:"mediumIncidents"`
	LowIncidents          int     `json:"lowIncidents"`
	EscalatedIncidents    int     `json:"escalatedIncidents"`
	LockedSuppliers       int     `json:"lockedSuppliers"`
	PendingEscalations    int     `json:"pendingEscalations"`
	TotalComplaints       int     `json:"totalComplaints"`
	ComplianceRate        float64 `json:"complianceRate"`
	AverageResolutionTime int     `json:"averageResolutionTime"` // whole hours
}

// ReportData is the bundle consumed by the report renderer.
type ReportData struct {
	Incident   Incident      `json:"incident"`
	Escalation *Escalation   `json:"escalation,omitempty"`
	Complaints []Complaint   `json:"complaints"`
	AuditTrail []audit.Entry `json:"auditTrail"`
}
