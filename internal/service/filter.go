package service

import "github.com/derm-diagnosis-server/internal/domain"

// FilterByConfidence drops diagnoses below the confidence threshold. Urgent
// diagnoses survive regardless of confidence so that a low-confidence
// melanoma hint is never silently discarded. Surviving entries are renumbered
// so ranks stay contiguous from 1.
func FilterByConfidence(diagnoses []domain.FinalDiagnosis, threshold int) []domain.FinalDiagnosis {
	filtered := make([]domain.FinalDiagnosis, 0, len(diagnoses))
	for _, d := range diagnoses {
		if d.Confidence >= threshold || d.IsUrgent {
			d.Rank = len(filtered) + 1
			filtered = append(filtered, d)
		}
	}
	return filtered
}
