// Package service implements the diagnostic pipeline: normalization of raw
// provider output, consensus merging, urgency escalation, confidence
// filtering, and the orchestrator that sequences them around two concurrent
// provider calls.
package service

import (
	"math"
	"strings"

	"github.com/derm-diagnosis-server/internal/domain"
)

// explicit severity wordings providers use that count as an urgency signal
var severitySignals = map[string]bool{
	"urgent":   true,
	"critical": true,
	"high":     true,
	"severe":   true,
}

// NormalizeResult maps one provider's raw payload into the canonical
// ProviderResult shape. Entries with no name are dropped without failing the
// provider call. Normalization is idempotent: clamping, rounding and trimming
// are stable under re-application.
func NormalizeResult(raw *domain.RawResult) *domain.ProviderResult {
	diagnoses := make([]domain.Diagnosis, 0, len(raw.Diagnoses))
	for _, rd := range raw.Diagnoses {
		name := strings.TrimSpace(rd.Name)
		if name == "" {
			// Structurally invalid entry; skip it, keep the rest.
			continue
		}
		diagnoses = append(diagnoses, domain.Diagnosis{
			Name:            name,
			Confidence:      clampConfidence(rd.Confidence),
			Description:     strings.TrimSpace(rd.Description),
			KeyFeatures:     cleanList(rd.KeyFeatures),
			Recommendations: cleanList(rd.Recommendations),
			Urgent:          rd.Urgent || severitySignals[strings.ToLower(strings.TrimSpace(rd.Severity))],
		})
	}

	return &domain.ProviderResult{
		Provider:            raw.Provider,
		Diagnoses:           diagnoses,
		AnalysisTimeSeconds: raw.AnalysisTimeSeconds,
	}
}

// clampConfidence clamps to [0,100] and rounds to the nearest integer.
func clampConfidence(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(math.Round(v))
}

// cleanList trims entries, drops empties and guarantees a non-nil slice.
func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// nameKey produces the matching key for a diagnosis name: lowercased with
// runs of whitespace collapsed. The original casing stays on the entry for
// display.
func nameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
