package compliance

import (
	"fmt"
	"math"
)

// Escalation trigger thresholds. An incident escalates when any input is
// strictly greater than its cutoff; a score exactly at the cutoff does not
// trigger.
const (
	EscalateFraudRiskAbove    = 60.0
	EscalateSCRIAbove         = 70.0
	EscalateAnomalyScoreAbove = 75.0
)

// Severity classification thresholds over the max input score. These are an
// independent policy table from the escalation triggers; the two must not be
// derived from one another.
const (
	SeverityCriticalAtOrAbove = 90.0
	SeverityHighAtOrAbove     = 75.0
	SeverityMediumAtOrAbove   = 50.0
)

// Acceptable cold-chain temperature band, degrees Celsius.
const (
	TemperatureMin      = 15.0
	TemperatureMax      = 30.0
	TemperatureMidpoint = 22.5
	// Deviation from the midpoint beyond which a violation is Critical.
	TemperatureCriticalDeviation = 15.0
)

// ShouldEscalate decides whether risk inputs cross the escalation policy.
func ShouldEscalate(fraudRisk, scri, anomalyScore float64) bool {
	return fraudRisk > EscalateFraudRiskAbove ||
		scri > EscalateSCRIAbove ||
		anomalyScore > EscalateAnomalyScoreAbove
}

// ClassifySeverity labels the incident by the maximum of the three risk
// inputs. Labeling and escalation triggering are independent policies.
func ClassifySeverity(fraudRisk, scri, anomalyScore float64) Severity {
	m := math.Max(fraudRisk, math.Max(scri, anomalyScore))
	switch {
	case m >= SeverityCriticalAtOrAbove:
		return SeverityCritical
	case m >= SeverityHighAtOrAbove:
		return SeverityHigh
	case m >= SeverityMediumAtOrAbove:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// GenerateFindings evaluates the four violation conditions independently and
// emits one finding per true condition. Identical inputs always produce
// identical findings; zero findings is a legal outcome.
func GenerateFindings(fraudRisk, scri, anomalyScore, temperature float64) []Finding {
	var findings []Finding

	if fraudRisk > EscalateFraudRiskAbove {
		sev := SeverityHigh
		if fraudRisk > 80 {
			sev = SeverityCritical
		}
		findings = append(findings, Finding{
			Type:        FindingFraudRisk,
			Severity:    sev,
			Description: fmt.Sprintf("Fraud probability detected at %.1f%%, exceeding acceptable threshold of %.0f%%", fraudRisk, EscalateFraudRiskAbove),
			Evidence:    "Pattern analysis indicates suspicious transaction behavior",
		})
	}

	if scri > EscalateSCRIAbove {
		sev := SeverityHigh
		if scri > 85 {
			sev = SeverityCritical
		}
		findings = append(findings, Finding{
			Type:        FindingSupplyChainRisk,
			Severity:    sev,
			Description: fmt.Sprintf("SCRI index at %.1f, indicating elevated supply chain risk", scri),
			Evidence:    "Multiple risk factors detected across supply chain operations",
		})
	}

	if anomalyScore > EscalateAnomalyScoreAbove {
		sev := SeverityHigh
		if anomalyScore > 90 {
			sev = SeverityCritical
		}
		findings = append(findings, Finding{
			Type:        FindingAnomalyDetection,
			Severity:    sev,
			Description: fmt.Sprintf("Anomaly score of %.1f%% detected", anomalyScore),
			Evidence:    "Statistical deviation from normal operational parameters",
		})
	}

	if temperature < TemperatureMin || temperature > TemperatureMax {
		sev := SeverityMedium
		if math.Abs(temperature-TemperatureMidpoint) > TemperatureCriticalDeviation {
			sev = SeverityCritical
		}
		findings = append(findings, Finding{
			Type:        FindingTemperatureViolation,
			Severity:    sev,
			Description: fmt.Sprintf("Temperature recorded at %g°C, outside acceptable range (%.0f-%.0f°C)", temperature, TemperatureMin, TemperatureMax),
			Evidence:    "Cold chain integrity compromised",
		})
	}

	return findings
}

// generateRecommendations produces the severity-tiered action list, plus
// extras for elevated fraud and SCRI scores. Deterministic for identical
// inputs.
func generateRecommendations(severity Severity, fraudRisk, scri float64) []string {
	var recs []string

	switch severity {
	case SeverityCritical:
		recs = append(recs,
			"IMMEDIATE ACTION REQUIRED: Halt all operations with this supplier",
			"Initiate comprehensive audit of all recent transactions",
			"Notify regulatory authorities within 24 hours",
			"Preserve all evidence for legal proceedings",
		)
	case SeverityHigh:
		recs = append(recs,
			"Suspend supplier pending investigation",
			"Conduct detailed review of transaction history",
			"Implement enhanced monitoring protocols",
			"Prepare incident report for management review",
		)
	case SeverityMedium:
		recs = append(recs,
			"Increase inspection frequency for this supplier",
			"Request additional documentation and verification",
			"Monitor closely for 30 days",
		)
	default:
		recs = append(recs,
			"Continue standard monitoring protocols",
			"Document incident for future reference",
		)
	}

	if fraudRisk > 70 {
		recs = append(recs,
			"Engage fraud investigation team",
			"Review supplier credentials and certifications",
		)
	}
	if scri > 75 {
		recs = append(recs,
			"Implement risk mitigation strategies",
			"Consider alternative suppliers for critical shipments",
		)
	}

	return recs
}
