package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derm-diagnosis-server/internal/domain"
)

func seedLesion(repo *fakeLesionRepo) (lesionID, prevID, currID string) {
	lesionID, prevID, currID = "lesion-1", "snap-1", "snap-2"
	repo.lesions[lesionID] = &domain.TrackedLesion{ID: lesionID, OwnerID: "user-1", PatientID: "patient-1", Label: "left shoulder mole"}
	repo.snapshots[prevID] = &domain.LesionSnapshot{ID: prevID, LesionID: lesionID, TakenAt: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)}
	repo.snapshots[currID] = &domain.LesionSnapshot{ID: currID, LesionID: lesionID, TakenAt: time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)}
	return
}

func snapshotInputs(prevID, currID string) (SnapshotInput, SnapshotInput) {
	img := domain.ImagePayload{Ref: "ref", MIMEType: "image/jpeg", Data: []byte{0xff}}
	return SnapshotInput{SnapshotID: prevID, Image: img}, SnapshotInput{SnapshotID: currID, Image: img}
}

func TestCompareSuccess(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, currID := seedLesion(repo)
	provider := &fakeProvider{name: domain.ProviderGemini, comparisons: []*domain.RawComparison{{
		ChangeDetected:      true,
		SizeChange:          "grew ~2mm",
		OverallProgression:  "worsened",
		RiskLevel:           "elevated",
		Recommendations:     []string{"Monitor weekly"},
		DetailedAnalysis:    "Border irregularity increased.",
		AnalysisTimeSeconds: 1.8,
	}}}
	notifier := &fakeNotifier{}
	svc := NewComparisonService(provider, repo, notifier, testProvidersConfig(), testLogger())

	prev, curr := snapshotInputs(prevID, currID)
	cmp, err := svc.Compare(context.Background(), "user-1", lesionID, prev, curr)

	require.NoError(t, err)
	assert.NotEmpty(t, cmp.ID)
	assert.True(t, cmp.ChangeDetected)
	require.NotNil(t, cmp.SizeChange)
	assert.Equal(t, "grew ~2mm", *cmp.SizeChange)
	assert.Nil(t, cmp.ColorChange, "absent change fields are null, not empty strings")
	assert.Equal(t, domain.ProgressionWorsened, cmp.OverallProgression)
	assert.Equal(t, domain.RiskElevated, cmp.RiskLevel)
	assert.Equal(t, "3 months", cmp.TimeElapsed)

	require.Len(t, repo.comparisons, 1)
	assert.Equal(t, 1, notifier.comparisons)
}

func TestCompareHighRiskForcesSeekEvaluation(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, currID := seedLesion(repo)
	provider := &fakeProvider{name: domain.ProviderGemini, comparisons: []*domain.RawComparison{{
		ChangeDetected:     true,
		OverallProgression: "worsened",
		RiskLevel:          "high",
		Recommendations:    []string{"Avoid sun exposure"},
	}}}
	svc := NewComparisonService(provider, repo, &fakeNotifier{}, testProvidersConfig(), testLogger())

	prev, curr := snapshotInputs(prevID, currID)
	cmp, err := svc.Compare(context.Background(), "user-1", lesionID, prev, curr)

	require.NoError(t, err)
	require.NotEmpty(t, cmp.Recommendations)
	assert.Equal(t, seekEvaluationRecommendation, cmp.Recommendations[0])
	assert.Contains(t, cmp.Recommendations, "Avoid sun exposure")
}

func TestCompareUnknownWording(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, currID := seedLesion(repo)
	provider := &fakeProvider{name: domain.ProviderGemini, comparisons: []*domain.RawComparison{{
		OverallProgression: "somewhat different",
		RiskLevel:          "unsure",
	}}}
	svc := NewComparisonService(provider, repo, &fakeNotifier{}, testProvidersConfig(), testLogger())

	prev, curr := snapshotInputs(prevID, currID)
	cmp, err := svc.Compare(context.Background(), "user-1", lesionID, prev, curr)

	require.NoError(t, err)
	assert.Equal(t, domain.ProgressionSignificantChange, cmp.OverallProgression)
	assert.Equal(t, domain.RiskModerate, cmp.RiskLevel)
}

func TestCompareProviderFailurePersistsNothing(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, currID := seedLesion(repo)
	provider := &fakeProvider{name: domain.ProviderGemini, cmpFailures: []*domain.ProviderFailure{{
		Provider: domain.ProviderGemini, Code: domain.FailureUpstreamError, Message: "503",
	}}}
	notifier := &fakeNotifier{}
	svc := NewComparisonService(provider, repo, notifier, testProvidersConfig(), testLogger())

	prev, curr := snapshotInputs(prevID, currID)
	_, err := svc.Compare(context.Background(), "user-1", lesionID, prev, curr)

	var failure *domain.ProviderFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, domain.FailureUpstreamError, failure.Code)
	assert.Empty(t, repo.comparisons)
	assert.Equal(t, 0, notifier.comparisons)
}

func TestCompareRetriesTransientFailure(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, currID := seedLesion(repo)
	provider := &fakeProvider{
		name: domain.ProviderGemini,
		cmpFailures: []*domain.ProviderFailure{
			{Provider: domain.ProviderGemini, Code: domain.FailureRateLimit, Message: "429"},
			nil,
		},
		comparisons: []*domain.RawComparison{
			nil,
			{OverallProgression: "stable", RiskLevel: "low"},
		},
	}
	svc := NewComparisonService(provider, repo, &fakeNotifier{}, testProvidersConfig(), testLogger())

	prev, curr := snapshotInputs(prevID, currID)
	cmp, err := svc.Compare(context.Background(), "user-1", lesionID, prev, curr)

	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.cmpCalls.Load())
	assert.Equal(t, domain.ProgressionStable, cmp.OverallProgression)
}

func TestCompareSnapshotOrderEnforced(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, currID := seedLesion(repo)
	svc := NewComparisonService(&fakeProvider{name: domain.ProviderGemini}, repo, &fakeNotifier{}, testProvidersConfig(), testLogger())

	// Swapped: "previous" taken after "current".
	prev, curr := snapshotInputs(currID, prevID)
	_, err := svc.Compare(context.Background(), "user-1", lesionID, prev, curr)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCompareForeignSnapshotRejected(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, _ := seedLesion(repo)
	repo.snapshots["other-snap"] = &domain.LesionSnapshot{ID: "other-snap", LesionID: "other-lesion", TakenAt: time.Now()}
	svc := NewComparisonService(&fakeProvider{name: domain.ProviderGemini}, repo, &fakeNotifier{}, testProvidersConfig(), testLogger())

	prev, curr := snapshotInputs(prevID, "other-snap")
	_, err := svc.Compare(context.Background(), "user-1", lesionID, prev, curr)

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCompareLesionOwnership(t *testing.T) {
	repo := newFakeLesionRepo()
	lesionID, prevID, currID := seedLesion(repo)
	svc := NewComparisonService(&fakeProvider{name: domain.ProviderGemini}, repo, &fakeNotifier{}, testProvidersConfig(), testLogger())

	prev, curr := snapshotInputs(prevID, currID)
	_, err := svc.Compare(context.Background(), "intruder", lesionID, prev, curr)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDescribeElapsed(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{12 * time.Hour, "less than a day"},
		{24 * time.Hour, "1 day"},
		{5 * 24 * time.Hour, "5 days"},
		{21 * 24 * time.Hour, "3 weeks"},
		{90 * 24 * time.Hour, "3 months"},
		{400 * 24 * time.Hour, "1 year"},
		{800 * 24 * time.Hour, "2 years"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, describeElapsed(tt.d))
	}
}
