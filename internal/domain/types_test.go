package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProviderValidity(t *testing.T) {
	assert.True(t, ProviderGemini.IsValid())
	assert.True(t, ProviderOpenAI.IsValid())
	assert.False(t, Provider("azure").IsValid())

	assert.Equal(t, ProviderOpenAI, ProviderGemini.Other())
	assert.Equal(t, ProviderGemini, ProviderOpenAI.Other())
}

func TestCaseStatusValidity(t *testing.T) {
	assert.True(t, CasePending.IsValid())
	assert.True(t, CaseCompleted.IsValid())
	assert.False(t, CaseStatus("archived").IsValid())
}

func TestParseProgression(t *testing.T) {
	tests := []struct {
		raw  string
		want Progression
	}{
		{"stable", ProgressionStable},
		{" Stable ", ProgressionStable},
		{"improved", ProgressionImproved},
		{"WORSENED", ProgressionWorsened},
		{"significant_change", ProgressionSignificantChange},
		{"somewhat worse maybe", ProgressionSignificantChange},
		{"", ProgressionSignificantChange},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseProgression(tt.raw), "raw %q", tt.raw)
	}
}

func TestParseRiskLevel(t *testing.T) {
	tests := []struct {
		raw  string
		want RiskLevel
	}{
		{"low", RiskLow},
		{"Moderate", RiskModerate},
		{"ELEVATED", RiskElevated},
		{"high", RiskHigh},
		{"unclear", RiskModerate},
		{"", RiskModerate},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseRiskLevel(tt.raw), "raw %q", tt.raw)
	}
}

func TestFailureCodeTransience(t *testing.T) {
	assert.True(t, FailureTimeout.IsTransient())
	assert.True(t, FailureRateLimit.IsTransient())
	assert.False(t, FailureAuthError.IsTransient())
	assert.False(t, FailureInvalidRequest.IsTransient())
	assert.False(t, FailureInvalidResponse.IsTransient())
	assert.False(t, FailureUpstreamError.IsTransient())
	assert.False(t, FailureUnavailable.IsTransient())
}
