package providers

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/derm-diagnosis-server/internal/domain"
)

// assessmentPayload is the JSON document both providers are instructed to
// produce for a diagnosis request.
type assessmentPayload struct {
	Diagnoses []domain.RawDiagnosis `json:"diagnoses"`
}

// comparisonPayload is the JSON document both providers are instructed to
// produce for a snapshot comparison request.
type comparisonPayload struct {
	ChangeDetected     bool     `json:"change_detected"`
	SizeChange         string   `json:"size_change"`
	ColorChange        string   `json:"color_change"`
	BorderChange       string   `json:"border_change"`
	TextureChange      string   `json:"texture_change"`
	OverallProgression string   `json:"overall_progression"`
	RiskLevel          string   `json:"risk_level"`
	Recommendations    []string `json:"recommendations"`
	DetailedAnalysis   string   `json:"detailed_analysis"`
}

const diagnosisInstructions = `You are a dermatology diagnostic assistant. ` +
	`Examine the attached lesion image(s) together with the clinical context and ` +
	`return a ranked differential diagnosis as a single JSON object with this exact shape: ` +
	`{"diagnoses":[{"name":string,"confidence":number 0-100,"description":string,` +
	`"key_features":[string],"recommendations":[string],"urgent":boolean,"severity":string}]}. ` +
	`Order diagnoses from most to least likely. Set "urgent" true only for findings ` +
	`requiring expedited referral. Return JSON only, no surrounding prose.`

const comparisonInstructions = `You are a dermatology diagnostic assistant. ` +
	`The first image is an earlier snapshot of a tracked lesion and the second is the ` +
	`current snapshot of the same lesion. Describe what changed and return a single JSON ` +
	`object with this exact shape: {"change_detected":boolean,"size_change":string,` +
	`"color_change":string,"border_change":string,"texture_change":string,` +
	`"overall_progression":"stable"|"improved"|"worsened"|"significant_change",` +
	`"risk_level":"low"|"moderate"|"elevated"|"high","recommendations":[string],` +
	`"detailed_analysis":string}. Use an empty string for any aspect that did not change. ` +
	`Return JSON only, no surrounding prose.`

// buildDiagnosisPrompt renders the instructions plus the structured symptom
// context into the text part of a provider request.
func buildDiagnosisPrompt(symptoms domain.SymptomContext) string {
	var b strings.Builder
	b.WriteString(diagnosisInstructions)
	b.WriteString("\n\nClinical context:\n")
	if symptoms.BodySite != "" {
		fmt.Fprintf(&b, "- Body site: %s\n", symptoms.BodySite)
	}
	if symptoms.DurationDays > 0 {
		fmt.Fprintf(&b, "- Present for: %d days\n", symptoms.DurationDays)
	}
	if len(symptoms.Symptoms) > 0 {
		fmt.Fprintf(&b, "- Reported symptoms: %s\n", strings.Join(symptoms.Symptoms, ", "))
	}
	if symptoms.PatientAgeYears > 0 {
		fmt.Fprintf(&b, "- Patient age: %d\n", symptoms.PatientAgeYears)
	}
	if symptoms.History != "" {
		fmt.Fprintf(&b, "- History: %s\n", symptoms.History)
	}
	return b.String()
}

// buildComparisonPrompt renders the comparison instructions plus the elapsed
// time descriptor.
func buildComparisonPrompt(timeElapsed string) string {
	var b strings.Builder
	b.WriteString(comparisonInstructions)
	if timeElapsed != "" {
		fmt.Fprintf(&b, "\n\nTime between snapshots: %s\n", timeElapsed)
	}
	return b.String()
}

// parseAssessment decodes the model's JSON text into raw diagnoses. Models
// sometimes wrap JSON in a markdown fence despite instructions, so fences are
// stripped before decoding. A missing or empty diagnoses array is a valid
// empty result, not a failure.
func parseAssessment(p domain.Provider, text string) (*assessmentPayload, *domain.ProviderFailure) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return nil, failure(p, domain.FailureInvalidResponse, "provider returned an empty document")
	}

	var payload assessmentPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, failure(p, domain.FailureInvalidResponse, "could not decode assessment: %v", err)
	}
	return &payload, nil
}

// parseComparison decodes the model's JSON text into a raw comparison.
func parseComparison(p domain.Provider, text string) (*comparisonPayload, *domain.ProviderFailure) {
	cleaned := stripFences(text)
	if cleaned == "" {
		return nil, failure(p, domain.FailureInvalidResponse, "provider returned an empty document")
	}

	var payload comparisonPayload
	if err := json.Unmarshal([]byte(cleaned), &payload); err != nil {
		return nil, failure(p, domain.FailureInvalidResponse, "could not decode comparison: %v", err)
	}
	if payload.OverallProgression == "" || payload.RiskLevel == "" {
		return nil, failure(p, domain.FailureInvalidResponse, "comparison is missing progression or risk level")
	}
	return &payload, nil
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
