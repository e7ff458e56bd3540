// Package server wires the ledger, audit trail, escalation engine, and
// operations telemetry behind the HTTP surface.
package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"agrichain/pkg/archive"
	"agrichain/pkg/audit"
	"agrichain/pkg/canonhash"
	"agrichain/pkg/compliance"
	"agrichain/pkg/httpx"
	"agrichain/pkg/ledger"
	"agrichain/pkg/ops"
	"agrichain/services/api/internal/rt"
)

// Risk inputs derived for events that carry no explicit scores.
const (
	anomalyScoreOutOfBand = 80.0
	anomalyScoreNominal   = 20.0
	anomalyBroadcastAbove = 50.0
)

type Config struct {
	Log     *slog.Logger
	Ledger  *ledger.Ledger
	Trail   *audit.Trail
	Engine  *compliance.Engine
	Ops     *ops.Service
	Hub     *rt.Hub        // nil disables realtime pushes
	Archive *archive.Store // nil disables persistence
}

type Server struct {
	cfg    Config
	router chi.Router

	// auditMark is the next audit entry index to archive. Entries below it
	// are already durable (or were dropped best-effort).
	auditMu   sync.Mutex
	auditMark uint64
}

func New(cfg Config) *Server {
	s := &Server{cfg: cfg}
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteJSON(w, 200, map[string]any{
			"status":       "ok",
			"chainLength":  cfg.Ledger.Len(),
			"auditEntries": cfg.Trail.Len(),
			"wsClients":    cfg.Hub.Clients(),
		})
	})

	r.Route("/blockchain", func(api chi.Router) {
		api.Post("/add", s.handleAddBlock)

		api.Get("/validate", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Ledger.ValidateChain())
		})

		api.Get("/tampering", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Ledger.DetectTampering())
		})

		api.Get("/explorer", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Ledger.Explorer())
		})

		api.Get("/batch/{batchID}", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Ledger.History(chi.URLParam(r, "batchID")))
		})

		// Raw block dump, the input format agrictl verifies offline.
		api.Get("/export", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Ledger.Blocks())
		})
	})

	r.Route("/compliance", func(api chi.Router) {
		api.Post("/incident/create", s.handleCreateIncident)

		api.Get("/incidents", func(w http.ResponseWriter, r *http.Request) {
			var f compliance.Filter
			if v := r.URL.Query().Get("severity"); v != "" {
				sev := compliance.Severity(v)
				f.Severity = &sev
			}
			if v := r.URL.Query().Get("status"); v != "" {
				st := compliance.IncidentStatus(v)
				f.Status = &st
			}
			if v := r.URL.Query().Get("requiresEscalation"); v != "" {
				esc := v == "true"
				f.RequiresEscalation = &esc
			}
			httpx.WriteJSON(w, 200, cfg.Engine.GetIncidents(f))
		})

		api.Get("/incident/{incidentID}", func(w http.ResponseWriter, r *http.Request) {
			inc, err := cfg.Engine.GetIncidentByID(chi.URLParam(r, "incidentID"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, inc)
		})

		api.Post("/incident/{incidentID}/resolve", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Resolution string `json:"resolution"`
				ResolvedBy string `json:"resolvedBy"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			inc, err := cfg.Engine.ResolveIncident(chi.URLParam(r, "incidentID"), req.Resolution, req.ResolvedBy)
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			s.archiveIncident(r, inc)
			httpx.WriteJSON(w, 200, map[string]any{"success": true, "incident": inc})
		})

		// Assembled bundle for external report rendering.
		api.Get("/incident/{incidentID}/report", func(w http.ResponseWriter, r *http.Request) {
			data, err := cfg.Engine.GetReportData(chi.URLParam(r, "incidentID"))
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, data)
		})

		api.Post("/escalation/create", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				IncidentID  string `json:"incidentID"`
				EscalatedBy string `json:"escalatedBy"`
				Notes       string `json:"notes"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			esc, err := cfg.Engine.CreateEscalation(req.IncidentID, req.EscalatedBy, req.Notes)
			switch {
			case errors.Is(err, compliance.ErrIncidentNotFound):
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			case errors.Is(err, compliance.ErrIncidentResolved):
				httpx.WriteError(w, 409, "INCIDENT_RESOLVED", err.Error(), nil)
				return
			case err != nil:
				httpx.WriteError(w, 500, "INTERNAL", err.Error(), nil)
				return
			}
			s.flushAudit(r)
			httpx.WriteJSON(w, 200, map[string]any{"success": true, "escalation": esc})
		})

		api.Get("/escalations", func(w http.ResponseWriter, r *http.Request) {
			status := compliance.EscalationStatus(r.URL.Query().Get("status"))
			httpx.WriteJSON(w, 200, cfg.Engine.GetEscalations(status))
		})

		api.Post("/complaint/submit", s.handleSubmitComplaint)

		api.Get("/complaints", func(w http.ResponseWriter, r *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Engine.GetComplaints(r.URL.Query().Get("incidentID")))
		})

		api.Post("/notify-authority", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				EscalationID  string `json:"escalationID"`
				AuthorityType string `json:"authorityType"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			n, err := cfg.Engine.NotifyAuthorities(req.EscalationID, req.AuthorityType)
			if err != nil {
				httpx.WriteError(w, 404, "NOT_FOUND", err.Error(), nil)
				return
			}
			s.flushAudit(r)
			httpx.WriteJSON(w, 200, map[string]any{"success": true, "notification": n})
		})

		api.Get("/supplier/{supplierID}/lock-status", func(w http.ResponseWriter, r *http.Request) {
			supplierID := chi.URLParam(r, "supplierID")
			httpx.WriteJSON(w, 200, map[string]any{
				"supplierID": supplierID,
				"isLocked":   cfg.Engine.IsSupplierLocked(supplierID),
			})
		})

		api.Post("/supplier/{supplierID}/unlock", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				Reason string `json:"reason"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			cfg.Engine.UnlockSupplier(chi.URLParam(r, "supplierID"), req.Reason)
			s.flushAudit(r)
			httpx.WriteJSON(w, 200, map[string]any{"success": true, "message": "Supplier unlocked"})
		})

		api.Get("/audit-log", func(w http.ResponseWriter, r *http.Request) {
			limit := 100
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil {
					limit = n
				}
			}
			httpx.WriteJSON(w, 200, cfg.Trail.Tail(limit))
		})

		api.Get("/audit-log/validate", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Trail.Validate())
		})

		api.Get("/stats", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Engine.Stats())
		})
	})

	r.Route("/operations", func(api chi.Router) {
		api.Get("/data", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Ops.Data())
		})
		api.Get("/kpis", func(w http.ResponseWriter, _ *http.Request) {
			httpx.WriteJSON(w, 200, cfg.Ops.KPIs())
		})

		// The forecasting collaborator pushes the live risk index here; the
		// ingest path reads it back as the default SCRI for events that
		// carry none.
		api.Post("/scri", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				SCRI float64 `json:"scri"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
				return
			}
			cfg.Ops.UpdateSCRI(req.SCRI)
			httpx.WriteJSON(w, 200, map[string]any{"success": true})
		})
	})

	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.Handle)
	}

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleAddBlock is the ingest path: append the event, feed operations
// telemetry, derive risk inputs, and run the escalation check. An escalated
// incident writes a second COMPLIANCE_INCIDENT block anchoring the report
// hash on the same chain that triggered it.
func (s *Server) handleAddBlock(w http.ResponseWriter, r *http.Request) {
	var rec ledger.EventRecord
	if err := httpx.ReadJSON(r, &rec); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}

	block, err := s.cfg.Ledger.RecordEvent(rec)
	if err != nil {
		httpx.WriteError(w, 400, "BAD_PAYLOAD", err.Error(), nil)
		return
	}
	s.cfg.Archive.ArchiveBlock(r.Context(), block)
	s.cfg.Hub.Broadcast("new_block", map[string]any{"block": block, "batchID": rec.BatchID})

	s.cfg.Ops.AddShipment(rec)

	fraudRisk := rec.FraudRisk
	scri := rec.SCRI
	if scri == 0 {
		scri = s.cfg.Ops.CurrentSCRI()
	}
	anomalyScore := anomalyScoreNominal
	if rec.Temperature < ops.TemperatureMin || rec.Temperature > ops.TemperatureMax {
		anomalyScore = anomalyScoreOutOfBand
	}
	if anomalyScore > anomalyBroadcastAbove {
		s.cfg.Hub.Broadcast("anomaly_detected", map[string]any{
			"batchID":      rec.BatchID,
			"temperature":  rec.Temperature,
			"anomalyScore": anomalyScore,
		})
	}

	if compliance.ShouldEscalate(fraudRisk, scri, anomalyScore) {
		inc, err := s.cfg.Engine.GenerateIncidentReport(compliance.IncidentInput{
			BatchID:      rec.BatchID,
			SupplierID:   rec.SupplierID,
			FraudRisk:    fraudRisk,
			SCRI:         scri,
			AnomalyScore: anomalyScore,
			Temperature:  rec.Temperature,
			Location:     rec.Location,
			HandlerRole:  rec.HandlerRole,
		})
		if err != nil {
			s.cfg.Log.Error("incident generation failed", "batchID", rec.BatchID, "err", err)
		} else {
			s.archiveIncident(r, inc)
			incidentBlock, err := s.cfg.Ledger.RecordEvent(ledger.EventRecord{
				BatchID:     rec.BatchID,
				FarmerID:    "SYSTEM",
				Location:    rec.Location,
				HandlerRole: "System",
				Type:        ledger.TypeComplianceIncident,
				IncidentID:  inc.IncidentID,
				ReportHash:  inc.ReportHash,
				Severity:    string(inc.Severity),
			})
			if err != nil {
				s.cfg.Log.Error("incident anchor block failed", "incidentID", inc.IncidentID, "err", err)
			} else {
				s.cfg.Archive.ArchiveBlock(r.Context(), incidentBlock)
			}
			s.cfg.Hub.Broadcast("incident_created", map[string]any{
				"incidentID": inc.IncidentID,
				"batchID":    inc.BatchID,
				"severity":   inc.Severity,
			})
		}
	}

	httpx.WriteJSON(w, 200, map[string]any{"success": true, "block": block})
}

func (s *Server) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	var in compliance.IncidentInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	inc, err := s.cfg.Engine.GenerateIncidentReport(in)
	if err != nil {
		httpx.WriteError(w, 500, "INTERNAL", err.Error(), nil)
		return
	}
	s.archiveIncident(r, inc)
	if inc.RequiresEscalation {
		s.cfg.Hub.Broadcast("incident_created", map[string]any{
			"incidentID": inc.IncidentID,
			"batchID":    inc.BatchID,
			"severity":   inc.Severity,
		})
	}
	httpx.WriteJSON(w, 200, map[string]any{"success": true, "incident": inc})
}

// handleSubmitComplaint files the complaint and anchors its hash as a
// COMPLAINT_RECORD block. The anchor uses placeholder core fields so the
// payload contract holds; the complaint identity lives in the optional
// fields.
func (s *Server) handleSubmitComplaint(w http.ResponseWriter, r *http.Request) {
	var in compliance.ComplaintInput
	if err := httpx.ReadJSON(r, &in); err != nil {
		httpx.WriteError(w, 400, "BAD_JSON", err.Error(), nil)
		return
	}
	if in.SubmittedBy == "" || in.Description == "" {
		httpx.WriteError(w, 400, "BAD_REQUEST", "submittedBy and description are required", nil)
		return
	}
	c := s.cfg.Engine.SubmitComplaint(in)
	s.flushAudit(r)

	complaintHash := canonhash.SumString(c.ComplaintID + "|" + c.SubmittedBy + "|" + c.IncidentID + "|" + c.Description)
	block, err := s.cfg.Ledger.RecordEvent(ledger.EventRecord{
		BatchID:       "COMPLAINT-" + c.ComplaintID,
		FarmerID:      c.SubmittedBy,
		Location:      "Complaint System",
		HandlerRole:   "Complaint Handler",
		Type:          ledger.TypeComplaintRecord,
		ComplaintID:   c.ComplaintID,
		ComplaintHash: complaintHash,
		IncidentID:    c.IncidentID,
	})
	if err != nil {
		s.cfg.Log.Error("complaint anchor block failed", "complaintID", c.ComplaintID, "err", err)
	} else {
		s.cfg.Archive.ArchiveBlock(r.Context(), block)
	}

	httpx.WriteJSON(w, 201, map[string]any{
		"success":       true,
		"complaint":     c,
		"complaintHash": complaintHash,
	})
}

func (s *Server) archiveIncident(r *http.Request, inc compliance.Incident) {
	s.cfg.Archive.ArchiveIncident(r.Context(), inc)
	s.flushAudit(r)
}

// flushAudit archives audit entries appended since the last flush. Writes
// are best-effort; the mark advances regardless so a flaky database never
// builds an unbounded backlog.
func (s *Server) flushAudit(r *http.Request) {
	if s.cfg.Archive == nil {
		return
	}
	s.auditMu.Lock()
	defer s.auditMu.Unlock()
	for _, e := range s.cfg.Trail.Entries() {
		if e.Index < s.auditMark {
			continue
		}
		s.cfg.Archive.ArchiveAuditEntry(r.Context(), e)
		s.auditMark = e.Index + 1
	}
}
