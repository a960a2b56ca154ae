// Package domain contains core business entities and types for multi-provider
// dermatological image diagnosis and longitudinal lesion comparison.
//
// Two independent vision models (Google Gemini and OpenAI) assess the same
// lesion images; their outputs are normalized, merged into a ranked
// differential diagnosis, urgency-escalated and confidence-filtered before
// persistence.
package domain

import (
	"errors"
	"strings"
)

// Provider identifies one of the external AI diagnostic services.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
)

// CaseStatus represents the lifecycle state of a diagnostic case.
// A case stays pending until at least one provider assessment succeeds.
type CaseStatus string

const (
	CasePending   CaseStatus = "pending"
	CaseCompleted CaseStatus = "completed"
)

// Progression represents the verdict of a longitudinal lesion comparison.
type Progression string

const (
	ProgressionStable            Progression = "stable"
	ProgressionImproved          Progression = "improved"
	ProgressionWorsened          Progression = "worsened"
	ProgressionSignificantChange Progression = "significant_change"
)

// RiskLevel represents the clinical risk assigned to a lesion comparison.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskElevated RiskLevel = "elevated"
	RiskHigh     RiskLevel = "high"
)

// FailureCode is the stable machine-readable code carried by a ProviderFailure.
type FailureCode string

const (
	FailureTimeout         FailureCode = "TIMEOUT"
	FailureRateLimit       FailureCode = "RATE_LIMIT"
	FailureInvalidResponse FailureCode = "INVALID_RESPONSE"
	FailureUpstreamError   FailureCode = "UPSTREAM_ERROR"
	FailureAuthError       FailureCode = "AUTH_ERROR"
	FailureInvalidRequest  FailureCode = "INVALID_REQUEST"
	FailureUnavailable     FailureCode = "UNAVAILABLE"
)

// Validation errors for clinical data integrity
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidProvider    = errors.New("invalid provider")
	ErrInvalidCaseStatus  = errors.New("invalid case status")
	ErrInvalidProgression = errors.New("invalid progression verdict")
	ErrInvalidRiskLevel   = errors.New("invalid risk level")
	ErrAnalysisInFlight   = errors.New("analysis already running for this case")
)

// IsValid reports whether the provider is one of the two supported services.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGemini, ProviderOpenAI:
		return true
	default:
		return false
	}
}

// String returns the string representation of the provider.
func (p Provider) String() string {
	return string(p)
}

// Other returns the second provider of the pair. Useful when reporting which
// provider survived a partial failure.
func (p Provider) Other() Provider {
	if p == ProviderGemini {
		return ProviderOpenAI
	}
	return ProviderGemini
}

// IsValid reports whether the status is a known case lifecycle state.
func (s CaseStatus) IsValid() bool {
	switch s {
	case CasePending, CaseCompleted:
		return true
	default:
		return false
	}
}

// String returns the string representation of the case status.
func (s CaseStatus) String() string {
	return string(s)
}

// IsValid reports whether the progression is a known verdict.
func (p Progression) IsValid() bool {
	switch p {
	case ProgressionStable, ProgressionImproved, ProgressionWorsened, ProgressionSignificantChange:
		return true
	default:
		return false
	}
}

// String returns the string representation of the progression verdict.
func (p Progression) String() string {
	return string(p)
}

// ParseProgression maps free-form provider wording onto a Progression value.
// Unknown wording degrades to significant_change rather than failing, since a
// comparison the provider could not categorize still changed.
func ParseProgression(raw string) Progression {
	switch Progression(strings.ToLower(strings.TrimSpace(raw))) {
	case ProgressionStable:
		return ProgressionStable
	case ProgressionImproved:
		return ProgressionImproved
	case ProgressionWorsened:
		return ProgressionWorsened
	default:
		return ProgressionSignificantChange
	}
}

// IsValid reports whether the risk level is known.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RiskLow, RiskModerate, RiskElevated, RiskHigh:
		return true
	default:
		return false
	}
}

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	return string(r)
}

// ParseRiskLevel maps free-form provider wording onto a RiskLevel. Unknown
// wording defaults to moderate so an unparseable risk is never silently low.
func ParseRiskLevel(raw string) RiskLevel {
	switch RiskLevel(strings.ToLower(strings.TrimSpace(raw))) {
	case RiskLow:
		return RiskLow
	case RiskModerate:
		return RiskModerate
	case RiskElevated:
		return RiskElevated
	case RiskHigh:
		return RiskHigh
	default:
		return RiskModerate
	}
}

// IsTransient reports whether a failure code represents a condition worth one
// synchronous retry. Auth and request-shape failures never are.
func (c FailureCode) IsTransient() bool {
	switch c {
	case FailureTimeout, FailureRateLimit:
		return true
	default:
		return false
	}
}

// String returns the string representation of the failure code.
func (c FailureCode) String() string {
	return string(c)
}
