package compliance

import "testing"

func TestEscalationThresholdBoundaries(t *testing.T) {
	cases := []struct {
		name                 string
		fraud, scri, anomaly float64
		want                 bool
	}{
		{"all zero", 0, 0, 0, false},
		{"fraud exactly 60", 60, 0, 0, false},
		{"fraud just above 60", 60.0001, 0, 0, true},
		{"scri exactly 70", 0, 70, 0, false},
		{"scri just above 70", 0, 70.0001, 0, true},
		{"anomaly exactly 75", 0, 0, 75, false},
		{"anomaly just above 75", 0, 0, 75.0001, true},
		{"any one trigger suffices", 61, 0, 0, true},
	}
	for _, tc := range cases {
		if got := ShouldEscalate(tc.fraud, tc.scri, tc.anomaly); got != tc.want {
			t.Fatalf("%s: ShouldEscalate(%v,%v,%v) = %v, want %v", tc.name, tc.fraud, tc.scri, tc.anomaly, got, tc.want)
		}
	}
}

func TestSeverityBoundaries(t *testing.T) {
	cases := []struct {
		name                 string
		fraud, scri, anomaly float64
		want                 Severity
	}{
		{"90 is Critical", 90, 0, 0, SeverityCritical},
		{"just below 90 is High", 89.999, 0, 0, SeverityHigh},
		{"75 is High", 75, 0, 0, SeverityHigh},
		{"just below 75 is Medium", 74.999, 0, 0, SeverityMedium},
		{"50 is Medium", 0, 50, 0, SeverityMedium},
		{"just below 50 is Low", 0, 49.999, 0, SeverityLow},
		{"max of inputs wins", 10, 20, 95, SeverityCritical},
	}
	for _, tc := range cases {
		if got := ClassifySeverity(tc.fraud, tc.scri, tc.anomaly); got != tc.want {
			t.Fatalf("%s: ClassifySeverity(%v,%v,%v) = %v, want %v", tc.name, tc.fraud, tc.scri, tc.anomaly, got, tc.want)
		}
	}
}

func TestSeverityAndEscalationAreIndependentPolicies(t *testing.T) {
	// 65 escalates (fraud > 60) but classifies Medium (max < 75).
	if !ShouldEscalate(65, 0, 0) {
		t.Fatalf("fraud 65 must escalate")
	}
	if got := ClassifySeverity(65, 0, 0); got != SeverityMedium {
		t.Fatalf("fraud 65 must classify Medium, got %v", got)
	}
	// 74 classifies Medium yet scri 74 escalates.
	if !ShouldEscalate(0, 74, 0) {
		t.Fatalf("scri 74 must escalate")
	}
	if got := ClassifySeverity(0, 74, 0); got != SeverityMedium {
		t.Fatalf("scri 74 must classify Medium, got %v", got)
	}
}

func TestTemperatureFindingAtBoundaryDeviation(t *testing.T) {
	// 35°C is outside the band but deviates only 12.5 from the midpoint, so
	// the violation stays Medium; 45°C deviates 22.5 and turns Critical.
	findings := GenerateFindings(0, 0, 0, 35)
	if len(findings) != 1 {
		t.Fatalf("expected exactly one finding, got %d", len(findings))
	}
	f := findings[0]
	if f.Type != FindingTemperatureViolation || f.Severity != SeverityMedium {
		t.Fatalf("expected Medium temperature violation, got %+v", f)
	}

	critical := GenerateFindings(0, 0, 0, 45)
	if len(critical) != 1 || critical[0].Severity != SeverityCritical {
		t.Fatalf("expected Critical at 45°C, got %+v", critical)
	}
}

func TestFindingSubSeverities(t *testing.T) {
	findings := GenerateFindings(85, 0, 0, 25)
	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %d", len(findings))
	}
	if findings[0].Type != FindingFraudRisk || findings[0].Severity != SeverityCritical {
		t.Fatalf("fraud 85 must yield a Critical FraudRisk finding, got %+v", findings[0])
	}

	findings = GenerateFindings(70, 0, 0, 25)
	if findings[0].Severity != SeverityHigh {
		t.Fatalf("fraud 70 must yield High, got %v", findings[0].Severity)
	}

	findings = GenerateFindings(0, 86, 95, 25)
	if len(findings) != 2 {
		t.Fatalf("expected two findings, got %d", len(findings))
	}
	if findings[0].Type != FindingSupplyChainRisk || findings[0].Severity != SeverityCritical {
		t.Fatalf("scri 86 must yield Critical, got %+v", findings[0])
	}
	if findings[1].Type != FindingAnomalyDetection || findings[1].Severity != SeverityCritical {
		t.Fatalf("anomaly 95 must yield Critical, got %+v", findings[1])
	}
}

func TestZeroFindingsIsLegal(t *testing.T) {
	if findings := GenerateFindings(10, 10, 10, 22); len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
}

func TestFindingsDeterministic(t *testing.T) {
	a := GenerateFindings(85, 72, 80, 40)
	b := GenerateFindings(85, 72, 80, 40)
	if len(a) != len(b) {
		t.Fatalf("length mismatch")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("finding %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestRecommendationsTieredBySeverity(t *testing.T) {
	critical := generateRecommendations(SeverityCritical, 0, 0)
	if len(critical) != 4 || critical[0] != "IMMEDIATE ACTION REQUIRED: Halt all operations with this supplier" {
		t.Fatalf("unexpected critical recommendations: %+v", critical)
	}
	low := generateRecommendations(SeverityLow, 0, 0)
	if len(low) != 2 {
		t.Fatalf("expected 2 low recommendations, got %d", len(low))
	}
	withExtras := generateRecommendations(SeverityHigh, 75, 80)
	if len(withExtras) != 8 {
		t.Fatalf("expected high tier plus fraud and scri extras (8), got %d", len(withExtras))
	}
}
