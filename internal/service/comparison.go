package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/domain"
)

// seekEvaluationRecommendation is always present on high-risk comparison
// results, independent of the provider's own wording.
const seekEvaluationRecommendation = "Seek in-person dermatologist evaluation promptly"

// SnapshotInput identifies one stored snapshot plus its image bytes, which
// the caller supplies since image blobs live outside this service.
type SnapshotInput struct {
	SnapshotID string
	Image      domain.ImagePayload
}

// ComparisonService runs longitudinal lesion comparisons through a single
// vision provider and persists the immutable verdict.
type ComparisonService struct {
	provider domain.ProviderClient
	lesions  domain.LesionRepository
	notifier domain.Notifier
	cfg      *domain.ProvidersConfig
	log      *logrus.Logger
}

// NewComparisonService wires the comparison engine. Comparison uses one
// provider only; consensus adds little when the question is "did this
// specific lesion change", and halving the vision spend matters.
func NewComparisonService(
	provider domain.ProviderClient,
	lesions domain.LesionRepository,
	notifier domain.Notifier,
	cfg *domain.ProvidersConfig,
	log *logrus.Logger,
) *ComparisonService {
	return &ComparisonService{
		provider: provider,
		lesions:  lesions,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// Compare assesses the change between two ordered snapshots of one tracked
// lesion. On provider failure nothing is persisted and the typed failure is
// returned as the error so the caller can surface it and retry. A high-risk
// verdict always carries an explicit seek-evaluation recommendation.
func (s *ComparisonService) Compare(ctx context.Context, ownerID, lesionID string, previous, current SnapshotInput) (*domain.LesionComparison, error) {
	lesion, err := s.lesions.GetLesion(ctx, lesionID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lesion %s: %w", lesionID, err)
	}

	prevSnap, err := s.lesions.GetSnapshot(ctx, previous.SnapshotID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", previous.SnapshotID, err)
	}
	currSnap, err := s.lesions.GetSnapshot(ctx, current.SnapshotID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", current.SnapshotID, err)
	}

	if prevSnap.LesionID != lesion.ID || currSnap.LesionID != lesion.ID {
		return nil, domain.NewValidationError("snapshot_id", "snapshot does not belong to this lesion", lesionID)
	}
	if !prevSnap.TakenAt.Before(currSnap.TakenAt) {
		return nil, domain.NewValidationError("snapshot_id", "previous snapshot must predate current snapshot", previous.SnapshotID)
	}
	if len(previous.Image.Data) == 0 || len(current.Image.Data) == 0 {
		return nil, domain.NewValidationError("images", "both snapshot images are required", nil)
	}

	elapsed := describeElapsed(currSnap.TakenAt.Sub(prevSnap.TakenAt))

	raw, failure := s.callProvider(ctx, previous.Image, current.Image, elapsed)
	if failure != nil {
		s.log.WithFields(logrus.Fields{
			"lesion_id": lesionID,
			"provider":  failure.Provider,
			"code":      failure.Code,
		}).Error("Lesion comparison failed")
		return nil, failure
	}

	cmp := s.normalizeComparison(raw, lesion.ID, prevSnap.ID, currSnap.ID, elapsed)

	if err := s.lesions.SaveComparison(ctx, ownerID, cmp); err != nil {
		return nil, fmt.Errorf("failed to persist comparison for lesion %s: %w", lesionID, err)
	}

	if s.notifier != nil {
		s.notifier.ComparisonCompleted(ownerID, cmp)
	}

	return cmp, nil
}

// History returns all persisted comparisons for a tracked lesion, newest first.
func (s *ComparisonService) History(ctx context.Context, ownerID, lesionID string) ([]*domain.LesionComparison, error) {
	if _, err := s.lesions.GetLesion(ctx, lesionID, ownerID); err != nil {
		return nil, fmt.Errorf("failed to load lesion %s: %w", lesionID, err)
	}
	return s.lesions.ListComparisons(ctx, lesionID, ownerID)
}

func (s *ComparisonService) callProvider(ctx context.Context, previous, current domain.ImagePayload, elapsed string) (*domain.RawComparison, *domain.ProviderFailure) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Gemini.Timeout)
	raw, failure := s.provider.Compare(callCtx, previous, current, elapsed)
	cancel()

	if failure != nil && failure.Code.IsTransient() && ctx.Err() == nil {
		retryCtx, cancel := context.WithTimeout(ctx, s.cfg.RetryTimeout)
		raw, failure = s.provider.Compare(retryCtx, previous, current, elapsed)
		cancel()
	}
	return raw, failure
}

// normalizeComparison maps the raw provider verdict into the persisted record:
// free-form progression and risk wording become closed enums, absent change
// descriptions become nulls rather than empty strings, and high risk forces
// the seek-evaluation recommendation.
func (s *ComparisonService) normalizeComparison(raw *domain.RawComparison, lesionID, prevID, currID, elapsed string) *domain.LesionComparison {
	cmp := &domain.LesionComparison{
		ID:                  uuid.New().String(),
		LesionID:            lesionID,
		PreviousSnapshotID:  prevID,
		CurrentSnapshotID:   currID,
		ChangeDetected:      raw.ChangeDetected,
		SizeChange:          optional(raw.SizeChange),
		ColorChange:         optional(raw.ColorChange),
		BorderChange:        optional(raw.BorderChange),
		TextureChange:       optional(raw.TextureChange),
		OverallProgression:  domain.ParseProgression(raw.OverallProgression),
		RiskLevel:           domain.ParseRiskLevel(raw.RiskLevel),
		Recommendations:     cleanList(raw.Recommendations),
		DetailedAnalysis:    strings.TrimSpace(raw.DetailedAnalysis),
		TimeElapsed:         elapsed,
		AnalysisTimeSeconds: raw.AnalysisTimeSeconds,
		CreatedAt:           time.Now().UTC(),
	}

	if cmp.RiskLevel == domain.RiskHigh && !mentionsEvaluation(cmp.Recommendations) {
		cmp.Recommendations = append([]string{seekEvaluationRecommendation}, cmp.Recommendations...)
	}
	return cmp
}

func mentionsEvaluation(recommendations []string) bool {
	for _, r := range recommendations {
		lower := strings.ToLower(r)
		if strings.Contains(lower, "seek") && strings.Contains(lower, "evaluation") {
			return true
		}
	}
	return false
}

func optional(s string) *string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// describeElapsed renders the gap between two snapshots in the largest
// sensible clinical unit for the provider prompt.
func describeElapsed(d time.Duration) string {
	days := int(d.Hours() / 24)
	switch {
	case days < 1:
		return "less than a day"
	case days == 1:
		return "1 day"
	case days < 14:
		return fmt.Sprintf("%d days", days)
	case days < 60:
		return fmt.Sprintf("%d weeks", days/7)
	case days < 365:
		return fmt.Sprintf("%d months", days/30)
	case days < 730:
		return "1 year"
	default:
		return fmt.Sprintf("%d years", days/365)
	}
}
