package domain

import (
	"context"
)

// ProviderClient is one external AI diagnostic service. Invoke never returns
// a Go error for upstream problems: transport errors, malformed responses and
// timeouts are all converted into a typed ProviderFailure at the adapter
// boundary. A call returning zero diagnoses is a successful empty result.
// Implementations are stateless and safe for concurrent use across cases.
type ProviderClient interface {
	Name() Provider
	Invoke(ctx context.Context, images []ImagePayload, symptoms SymptomContext) (*RawResult, *ProviderFailure)
	Compare(ctx context.Context, previous, current ImagePayload, timeElapsed string) (*RawComparison, *ProviderFailure)
}

// RawDiagnosis is one candidate condition exactly as the provider reported
// it, validated for shape at the adapter boundary but not yet normalized.
// Untyped external JSON never flows past the normalizer.
type RawDiagnosis struct {
	Name            string   `json:"name"`
	Confidence      float64  `json:"confidence"`
	Description     string   `json:"description,omitempty"`
	KeyFeatures     []string `json:"key_features,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Urgent          bool     `json:"urgent,omitempty"`
	Severity        string   `json:"severity,omitempty"`
}

// RawResult is one provider's successful assessment before normalization.
type RawResult struct {
	Provider            Provider       `json:"provider"`
	Diagnoses           []RawDiagnosis `json:"diagnoses"`
	AnalysisTimeSeconds float64        `json:"analysis_time_seconds"`
}

// ImagePayload is one lesion image as submitted by the caller.
type ImagePayload struct {
	Ref      string `json:"ref"`       // storage reference persisted on the case
	MIMEType string `json:"mime_type"` // image/jpeg or image/png
	Data     []byte `json:"-"`         // raw bytes, never serialized into responses
}

// RawComparison is the provider's comparison verdict before normalization
// into a LesionComparison record.
type RawComparison struct {
	ChangeDetected      bool     `json:"change_detected"`
	SizeChange          string   `json:"size_change,omitempty"`
	ColorChange         string   `json:"color_change,omitempty"`
	BorderChange        string   `json:"border_change,omitempty"`
	TextureChange       string   `json:"texture_change,omitempty"`
	OverallProgression  string   `json:"overall_progression"`
	RiskLevel           string   `json:"risk_level"`
	Recommendations     []string `json:"recommendations,omitempty"`
	DetailedAnalysis    string   `json:"detailed_analysis,omitempty"`
	AnalysisTimeSeconds float64  `json:"analysis_time_seconds"`
}

// CaseRepository defines case persistence. UpdateAnalysis writes the filtered
// ranked list, both raw provider payloads and the status flip as one atomic
// logical update; all operations are ownership-checked.
type CaseRepository interface {
	Create(ctx context.Context, c *Case) error
	GetByID(ctx context.Context, id, ownerID string) (*Case, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]*Case, error)
	UpdateAnalysis(ctx context.Context, c *Case) error
}

// LesionRepository defines tracked-lesion, snapshot and comparison persistence.
type LesionRepository interface {
	CreateLesion(ctx context.Context, l *TrackedLesion) error
	GetLesion(ctx context.Context, id, ownerID string) (*TrackedLesion, error)
	AddSnapshot(ctx context.Context, ownerID string, s *LesionSnapshot) error
	GetSnapshot(ctx context.Context, id, ownerID string) (*LesionSnapshot, error)
	LatestSnapshots(ctx context.Context, lesionID, ownerID string, n int) ([]*LesionSnapshot, error)
	SaveComparison(ctx context.Context, ownerID string, c *LesionComparison) error
	ListComparisons(ctx context.Context, lesionID, ownerID string) ([]*LesionComparison, error)
}

// SettingsSource resolves per-clinician analysis preferences. Get returns the
// defaults when the clinician never saved settings.
type SettingsSource interface {
	Get(ctx context.Context, ownerID string) (*UserSettings, error)
	Put(ctx context.Context, s *UserSettings) error
}

// Notifier is offered a fire-and-forget event after an analysis is persisted.
// Implementations must not block the orchestrator on delivery.
type Notifier interface {
	AnalysisCompleted(ownerID string, c *Case, urgent bool)
	ComparisonCompleted(ownerID string, cmp *LesionComparison)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
	GetDatabaseConfig() *DatabaseConfig
	GetProvidersConfig() *ProvidersConfig
	Validate() error
	GetDatabaseConnectionString() string
	IsProduction() bool
}
