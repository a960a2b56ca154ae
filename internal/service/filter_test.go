package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derm-diagnosis-server/internal/domain"
)

func TestFilterByConfidence(t *testing.T) {
	final := []domain.FinalDiagnosis{
		{Rank: 1, Name: "Psoriasis", Confidence: 82},
		{Rank: 2, Name: "Eczema", Confidence: 40},
		{Rank: 3, Name: "Tinea", Confidence: 39},
		{Rank: 4, Name: "Melanoma", Confidence: 12, IsUrgent: true},
	}

	filtered := FilterByConfidence(final, domain.DefaultConfidenceThreshold)

	require.Len(t, filtered, 3)
	assert.Equal(t, "Psoriasis", filtered[0].Name)
	assert.Equal(t, "Eczema", filtered[1].Name, "threshold is inclusive")
	assert.Equal(t, "Melanoma", filtered[2].Name, "urgent entries survive below threshold")

	// Ranks are renumbered contiguously.
	for i, d := range filtered {
		assert.Equal(t, i+1, d.Rank)
	}
}

func TestFilterByConfidenceAllBelow(t *testing.T) {
	final := []domain.FinalDiagnosis{
		{Rank: 1, Name: "A", Confidence: 10},
		{Rank: 2, Name: "B", Confidence: 20},
	}
	assert.Empty(t, FilterByConfidence(final, 40))
}

func TestFilterByConfidenceZeroThresholdKeepsAll(t *testing.T) {
	final := []domain.FinalDiagnosis{
		{Rank: 1, Name: "A", Confidence: 0},
		{Rank: 2, Name: "B", Confidence: 5},
	}
	assert.Len(t, FilterByConfidence(final, 0), 2)
}
