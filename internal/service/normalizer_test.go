package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derm-diagnosis-server/internal/domain"
)

func TestNormalizeResult(t *testing.T) {
	raw := &domain.RawResult{
		Provider: domain.ProviderGemini,
		Diagnoses: []domain.RawDiagnosis{
			{Name: "  Psoriasis  ", Confidence: 87.6, Description: " plaque type ", KeyFeatures: []string{" silvery scale ", ""}},
			{Name: "", Confidence: 50}, // nameless entries are dropped
			{Name: "Eczema", Confidence: 120.5},
			{Name: "Tinea Corporis", Confidence: -3},
			{Name: "Melanoma", Confidence: 35, Severity: "URGENT"},
		},
		AnalysisTimeSeconds: 2.4,
	}

	result := NormalizeResult(raw)

	require.Len(t, result.Diagnoses, 4)
	assert.Equal(t, domain.ProviderGemini, result.Provider)
	assert.Equal(t, 2.4, result.AnalysisTimeSeconds)

	assert.Equal(t, "Psoriasis", result.Diagnoses[0].Name)
	assert.Equal(t, 88, result.Diagnoses[0].Confidence)
	assert.Equal(t, "plaque type", result.Diagnoses[0].Description)
	assert.Equal(t, []string{"silvery scale"}, result.Diagnoses[0].KeyFeatures)

	assert.Equal(t, 100, result.Diagnoses[1].Confidence)
	assert.Equal(t, 0, result.Diagnoses[2].Confidence)

	assert.True(t, result.Diagnoses[3].Urgent, "severity wording should set the urgency flag")
}

func TestNormalizeResultIdempotent(t *testing.T) {
	raw := &domain.RawResult{
		Provider: domain.ProviderOpenAI,
		Diagnoses: []domain.RawDiagnosis{
			{Name: "Rosacea", Confidence: 72.2, KeyFeatures: []string{"erythema"}},
		},
	}

	first := NormalizeResult(raw)

	again := &domain.RawResult{Provider: first.Provider}
	for _, d := range first.Diagnoses {
		again.Diagnoses = append(again.Diagnoses, domain.RawDiagnosis{
			Name:            d.Name,
			Confidence:      float64(d.Confidence),
			Description:     d.Description,
			KeyFeatures:     d.KeyFeatures,
			Recommendations: d.Recommendations,
			Urgent:          d.Urgent,
		})
	}

	second := NormalizeResult(again)
	assert.Equal(t, first.Diagnoses, second.Diagnoses)
}

func TestNormalizeResultEmpty(t *testing.T) {
	result := NormalizeResult(&domain.RawResult{Provider: domain.ProviderGemini})
	assert.NotNil(t, result.Diagnoses)
	assert.Empty(t, result.Diagnoses)
}

func TestNameKey(t *testing.T) {
	assert.Equal(t, "atopic dermatitis", nameKey("  Atopic   Dermatitis "))
	assert.Equal(t, nameKey("ECZEMA"), nameKey("eczema"))
}
