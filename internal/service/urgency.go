package service

import (
	"strings"

	"github.com/derm-diagnosis-server/internal/domain"
)

// urgentConditions are diagnosis-name substrings that always escalate a
// result to urgent, independent of what the providers flagged. Matching is
// done against the collapsed lowercase name, so "Amelanotic Melanoma" and
// "nodular  melanoma" both match "melanoma".
var urgentConditions = []string{
	"melanoma",
	"basal cell carcinoma",
	"squamous cell carcinoma",
	"merkel cell carcinoma",
	"kaposi",
	"angiosarcoma",
	"cellulitis",
	"necrotizing fasciitis",
	"stevens-johnson",
	"toxic epidermal necrolysis",
	"pemphigus",
}

// IsUrgentCondition reports whether a diagnosis name matches the urgent
// condition list. Pure function of the name; provider urgency flags are
// handled separately by the merger.
func IsUrgentCondition(name string) bool {
	key := nameKey(name)
	for _, cond := range urgentConditions {
		if strings.Contains(key, cond) {
			return true
		}
	}
	return false
}

// ApplyUrgency escalates merged diagnoses whose names match the urgent
// condition list. It only ever raises the flag, never clears one set from
// provider output.
func ApplyUrgency(diagnoses []domain.FinalDiagnosis) {
	for i := range diagnoses {
		if IsUrgentCondition(diagnoses[i].Name) {
			diagnoses[i].IsUrgent = true
		}
	}
}
