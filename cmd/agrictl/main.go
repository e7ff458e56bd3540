package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"agrichain/pkg/compliance"
	"agrichain/pkg/ledger"
)

const usage = "usage: agrictl chain verify --input <blocks.json> | agrictl report show --input <report.json>"

func main() {
	if len(os.Args) < 2 {
		failSummary("", 0, usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "chain":
		runChain(os.Args[2:])
	case "report":
		runReport(os.Args[2:])
	default:
		failSummary("", 0, "unknown command")
		os.Exit(2)
	}
}

func runChain(args []string) {
	if len(args) < 1 || args[0] != "verify" {
		failSummary("", 0, usage)
		os.Exit(2)
	}
	fs := flag.NewFlagSet("chain verify", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	inputPath := fs.String("input", "", "path to exported block dump json")
	if err := fs.Parse(args[1:]); err != nil {
		failSummary("", 0, err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*inputPath) == "" {
		failSummary("", 0, "--input is required")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		failSummary(*inputPath, 0, "read input failed: "+err.Error())
		os.Exit(1)
	}
	var blocks []ledger.Block
	if err := json.Unmarshal(raw, &blocks); err != nil {
		failSummary(*inputPath, 0, "decode input failed: "+err.Error())
		os.Exit(1)
	}

	result := ledger.ValidateBlocks(blocks)
	if !result.Valid {
		failSummary(*inputPath, result.TotalBlocks, fmt.Sprintf("block %d: %s", result.TamperedBlockIndex, result.Error))
		os.Exit(1)
	}
	passSummary(*inputPath, result.TotalBlocks)
}

func runReport(args []string) {
	if len(args) < 1 || args[0] != "show" {
		failSummary("", 0, usage)
		os.Exit(2)
	}
	fs := flag.NewFlagSet("report show", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	inputPath := fs.String("input", "", "path to report bundle json")
	if err := fs.Parse(args[1:]); err != nil {
		failSummary("", 0, err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*inputPath) == "" {
		failSummary("", 0, "--input is required")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		failSummary(*inputPath, 0, "read input failed: "+err.Error())
		os.Exit(1)
	}
	var data compliance.ReportData
	if err := json.Unmarshal(raw, &data); err != nil {
		failSummary(*inputPath, 0, "decode input failed: "+err.Error())
		os.Exit(1)
	}

	fmt.Print(renderReport(data))
}

// renderReport lays the bundle out as the plain-text counterpart of the
// dashboard's printable incident report.
func renderReport(data compliance.ReportData) string {
	inc := data.Incident
	var b strings.Builder

	fmt.Fprintln(&b, "COMPLIANCE INCIDENT REPORT")
	fmt.Fprintf(&b, "Generated: %s\n\n", time.Now().UTC().Format(time.RFC3339))

	fmt.Fprintln(&b, "Incident Information")
	fmt.Fprintf(&b, "  Incident ID:  %s\n", inc.IncidentID)
	fmt.Fprintf(&b, "  Batch ID:     %s\n", inc.BatchID)
	fmt.Fprintf(&b, "  Supplier ID:  %s\n", inc.SupplierID)
	fmt.Fprintf(&b, "  Severity:     %s\n", inc.Severity)
	fmt.Fprintf(&b, "  Status:       %s\n", inc.Status)
	fmt.Fprintf(&b, "  Reported At:  %s\n\n", inc.ReportedAt.UTC().Format(time.RFC3339))

	fmt.Fprintln(&b, "Risk Metrics")
	fmt.Fprintf(&b, "  Fraud Risk:    %.1f%%\n", inc.FraudRisk)
	fmt.Fprintf(&b, "  SCRI:          %.1f\n", inc.SCRI)
	fmt.Fprintf(&b, "  Anomaly Score: %.1f%%\n", inc.AnomalyScore)
	fmt.Fprintf(&b, "  Temperature:   %g°C\n", inc.Temperature)
	fmt.Fprintf(&b, "  Location:      %s\n", inc.Location)
	fmt.Fprintf(&b, "  Handler Role:  %s\n\n", inc.HandlerRole)

	if len(inc.Findings) > 0 {
		fmt.Fprintln(&b, "Findings")
		for i, f := range inc.Findings {
			fmt.Fprintf(&b, "  %d. %s (%s)\n", i+1, f.Type, f.Severity)
			fmt.Fprintf(&b, "     %s\n", f.Description)
			fmt.Fprintf(&b, "     Evidence: %s\n", f.Evidence)
		}
		fmt.Fprintln(&b)
	}

	if len(inc.Recommendations) > 0 {
		fmt.Fprintln(&b, "Recommendations")
		for i, rec := range inc.Recommendations {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, rec)
		}
		fmt.Fprintln(&b)
	}

	if data.Escalation != nil {
		esc := data.Escalation
		fmt.Fprintln(&b, "Escalation")
		fmt.Fprintf(&b, "  Escalation ID: %s\n", esc.EscalationID)
		fmt.Fprintf(&b, "  Escalated By:  %s\n", esc.EscalatedBy)
		fmt.Fprintf(&b, "  Status:        %s\n", esc.Status)
		if esc.AuthorityNotified {
			fmt.Fprintln(&b, "  Authority notified")
		}
		fmt.Fprintln(&b)
	}

	if len(data.Complaints) > 0 {
		fmt.Fprintln(&b, "Complaints")
		for _, c := range data.Complaints {
			fmt.Fprintf(&b, "  %s [%s] %s\n", c.ComplaintID, c.Status, c.Description)
		}
		fmt.Fprintln(&b)
	}

	if len(data.AuditTrail) > 0 {
		fmt.Fprintln(&b, "Audit Trail")
		for _, e := range data.AuditTrail {
			fmt.Fprintf(&b, "  %s %s %s\n", formatMillis(e.Timestamp), e.AuditID, e.EventType)
		}
		fmt.Fprintln(&b)
	}

	fmt.Fprintf(&b, "Report Hash: %s\n", inc.ReportHash)
	return b.String()
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func passSummary(input string, total int) {
	fmt.Printf("{\"status\":\"PASS\",\"input\":%s,\"total_blocks\":%d,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(input), total, time.Now().UTC().Format(time.RFC3339))
}

func failSummary(input string, total int, reason string) {
	fmt.Printf("{\"status\":\"FAIL\",\"input\":%s,\"total_blocks\":%d,\"reason\":%s,\"timestamp_utc\":\"%s\"}\n",
		jsonQuote(input), total, jsonQuote(reason), time.Now().UTC().Format(time.RFC3339))
}

func jsonQuote(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}
