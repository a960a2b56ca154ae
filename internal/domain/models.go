package domain

import (
	"time"
)

// Diagnosis is one candidate condition as normalized from a single provider's
// raw output. It is ephemeral: produced fresh per analysis call and never
// persisted standalone.
type Diagnosis struct {
	Name            string   `json:"name"`
	Confidence      int      `json:"confidence"` // 0-100
	Description     string   `json:"description"`
	KeyFeatures     []string `json:"keyFeatures"`
	Recommendations []string `json:"recommendations"`
	// Urgent carries an explicit urgency/severity signal from the provider's
	// raw output, independent of the maintained urgency keyword list.
	Urgent bool `json:"urgent,omitempty"`
}

// ProviderResult is one provider's complete successful assessment.
// Diagnoses keep the provider's own ordering, which is assumed to be sorted
// by the provider's confidence.
type ProviderResult struct {
	Provider            Provider    `json:"provider"`
	Diagnoses           []Diagnosis `json:"diagnoses"`
	AnalysisTimeSeconds float64     `json:"analysisTimeSeconds"`
}

// ProviderFailure is the typed, non-exceptional outcome of a failed provider
// call. By the time it reaches an API response it is data, not an error.
type ProviderFailure struct {
	Provider Provider    `json:"provider"`
	Code     FailureCode `json:"code"`
	Message  string      `json:"message"`
	Hint     string      `json:"hint,omitempty"`
}

// Error implements the error interface so adapter internals can wrap
// failures; the orchestrator converts them back to data at its boundary.
func (f *ProviderFailure) Error() string {
	return string(f.Provider) + " " + string(f.Code) + ": " + f.Message
}

// FinalDiagnosis is one entry of the merged, ranked differential diagnosis
// persisted on a case. Ranks form a contiguous ascending sequence starting at
// 1; ascending rank means descending confidence.
type FinalDiagnosis struct {
	Rank            int      `json:"rank"`
	Name            string   `json:"name"`
	Confidence      int      `json:"confidence"`
	Description     string   `json:"description"`
	KeyFeatures     []string `json:"keyFeatures"`
	Recommendations []string `json:"recommendations"`
	IsUrgent        bool     `json:"isUrgent"`
	// Sources lists which providers contributed this entry. Display only.
	Sources []Provider `json:"sources,omitempty"`
}

// Consensus describes provider agreement on the top-ranked diagnosis.
// Computed only when both providers succeeded; display only, never persisted
// per diagnosis.
type Consensus struct {
	SupportingProviders int `json:"supportingProviders"` // 1 or 2
	TotalProviders      int `json:"totalProviders"`      // always 2
}

// Case aggregates one diagnostic episode: the originating patient/image/
// symptom context, both raw provider payloads (kept for audit), and the
// derived ranked differential.
type Case struct {
	ID              string           `json:"id"`
	PatientID       string           `json:"patient_id"`
	OwnerID         string           `json:"owner_id"`
	ImageRefs       []string         `json:"image_refs"`
	SymptomContext  SymptomContext   `json:"symptom_context"`
	Status          CaseStatus       `json:"status"`
	GeminiAnalysis  *ProviderResult  `json:"geminiAnalysis,omitempty"`
	OpenAIAnalysis  *ProviderResult  `json:"openaiAnalysis,omitempty"`
	FinalDiagnoses  []FinalDiagnosis `json:"finalDiagnoses,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at,omitempty"`
	LastAnalyzedAt  *time.Time       `json:"last_analyzed_at,omitempty"`
}

// SymptomContext is the structured clinical context submitted with the images.
type SymptomContext struct {
	BodySite        string   `json:"body_site"`
	DurationDays    int      `json:"duration_days,omitempty"`
	Symptoms        []string `json:"symptoms,omitempty"` // itching, bleeding, pain...
	History         string   `json:"history,omitempty"`
	PatientAgeYears int      `json:"patient_age_years,omitempty"`
}

// IsEmpty reports whether no clinical context was supplied at all.
func (s SymptomContext) IsEmpty() bool {
	return s.BodySite == "" && s.DurationDays == 0 && len(s.Symptoms) == 0 &&
		s.History == "" && s.PatientAgeYears == 0
}

// AnalysisOutcome is the assembled result of one orchestrated analysis run:
// the updated case plus any partial-failure notices.
type AnalysisOutcome struct {
	Case           *Case             `json:"case"`
	Consensus      *Consensus        `json:"consensus,omitempty"`
	AnalysisErrors []ProviderFailure `json:"analysisErrors"`
}

// Patient is the minimal demographic record a case belongs to.
type Patient struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	FullName    string    `json:"full_name"`
	DateOfBirth time.Time `json:"date_of_birth"`
	// Fitzpatrick skin phototype I-VI, stored as 1-6; 0 when unrecorded.
	SkinType  int       `json:"skin_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TrackedLesion is a named, user-created series of snapshots of the same
// physical lesion used for progression comparison over time.
type TrackedLesion struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	PatientID string    `json:"patient_id"`
	Label     string    `json:"label"`
	BodySite  string    `json:"body_site"`
	CreatedAt time.Time `json:"created_at"`
}

// LesionSnapshot is one dated image of a tracked lesion.
type LesionSnapshot struct {
	ID       string    `json:"id"`
	LesionID string    `json:"lesion_id"`
	ImageRef string    `json:"image_ref"`
	TakenAt  time.Time `json:"taken_at"`
}

// LesionComparison is the persisted, immutable result of one comparison
// between two ordered snapshots of the same tracked lesion.
type LesionComparison struct {
	ID                  string      `json:"id"`
	LesionID            string      `json:"lesion_id"`
	PreviousSnapshotID  string      `json:"previous_snapshot_id"`
	CurrentSnapshotID   string      `json:"current_snapshot_id"`
	ChangeDetected      bool        `json:"changeDetected"`
	SizeChange          *string     `json:"sizeChange"`
	ColorChange         *string     `json:"colorChange"`
	BorderChange        *string     `json:"borderChange"`
	TextureChange       *string     `json:"textureChange"`
	OverallProgression  Progression `json:"overallProgression"`
	RiskLevel           RiskLevel   `json:"riskLevel"`
	Recommendations     []string    `json:"recommendations"`
	DetailedAnalysis    string      `json:"detailedAnalysis"`
	TimeElapsed         string      `json:"timeElapsed"`
	AnalysisTimeSeconds float64     `json:"analysisTimeSeconds"`
	CreatedAt           time.Time   `json:"created_at"`
}

// UserSettings holds the per-clinician analysis preferences resolved before
// each pipeline run and passed explicitly into the confidence filter.
type UserSettings struct {
	OwnerID             string    `json:"owner_id"`
	ConfidenceThreshold int       `json:"confidence_threshold"`
	UpdatedAt           time.Time `json:"updated_at,omitempty"`
}

// DefaultConfidenceThreshold applies when a clinician has never saved
// settings.
const DefaultConfidenceThreshold = 40
