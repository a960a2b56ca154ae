package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derm-diagnosis-server/internal/domain"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func testProvidersConfig() *domain.ProvidersConfig {
	return &domain.ProvidersConfig{
		Gemini:       domain.GeminiConfig{Timeout: 5 * time.Second},
		OpenAI:       domain.OpenAIConfig{Timeout: 5 * time.Second},
		RetryTimeout: 2 * time.Second,
	}
}

func testImages(n int) []domain.ImagePayload {
	images := make([]domain.ImagePayload, n)
	for i := range images {
		images[i] = domain.ImagePayload{Ref: "img-ref", MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	}
	return images
}

func pendingCase(id, ownerID string) *domain.Case {
	return &domain.Case{
		ID:             id,
		OwnerID:        ownerID,
		PatientID:      "patient-1",
		Status:         domain.CasePending,
		SymptomContext: domain.SymptomContext{BodySite: "left forearm"},
	}
}

func newTestService(gemini, openai domain.ProviderClient, repo *fakeCaseRepo, settings domain.SettingsSource, notifier domain.Notifier) *AnalysisService {
	return NewAnalysisService(gemini, openai, repo, settings, notifier, testProvidersConfig(), testLogger())
}

func TestAnalyzeCaseBothProvidersSucceed(t *testing.T) {
	gemini := &fakeProvider{name: domain.ProviderGemini, results: []*domain.RawResult{{
		Provider: domain.ProviderGemini,
		Diagnoses: []domain.RawDiagnosis{
			{Name: "Eczema", Confidence: 85},
			{Name: "Contact Dermatitis", Confidence: 55},
		},
	}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{
		Provider: domain.ProviderOpenAI,
		Diagnoses: []domain.RawDiagnosis{
			{Name: "eczema", Confidence: 75},
			{Name: "Scabies", Confidence: 20},
		},
	}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	notifier := &fakeNotifier{}
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, notifier)

	outcome, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(2)})

	require.NoError(t, err)
	assert.Empty(t, outcome.AnalysisErrors)
	assert.Equal(t, domain.CaseCompleted, outcome.Case.Status)
	require.NotNil(t, outcome.Case.LastAnalyzedAt)

	// Eczema merged at mean 80, contact dermatitis carried through, scabies
	// filtered out below threshold.
	require.Len(t, outcome.Case.FinalDiagnoses, 2)
	assert.Equal(t, "Eczema", outcome.Case.FinalDiagnoses[0].Name)
	assert.Equal(t, 80, outcome.Case.FinalDiagnoses[0].Confidence)
	assert.Equal(t, "Contact Dermatitis", outcome.Case.FinalDiagnoses[1].Name)
	assert.Equal(t, 2, outcome.Case.FinalDiagnoses[1].Rank)

	require.NotNil(t, outcome.Consensus)
	assert.Equal(t, 2, outcome.Consensus.SupportingProviders)
	assert.Equal(t, 2, outcome.Consensus.TotalProviders)

	assert.Equal(t, 1, repo.updates)
	assert.Equal(t, 1, notifier.analyses)
}

func TestAnalyzeCaseOneProviderFails(t *testing.T) {
	gemini := &fakeProvider{name: domain.ProviderGemini, failures: []*domain.ProviderFailure{{
		Provider: domain.ProviderGemini, Code: domain.FailureAuthError, Message: "bad key",
	}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{
		Provider:  domain.ProviderOpenAI,
		Diagnoses: []domain.RawDiagnosis{{Name: "Psoriasis", Confidence: 70}},
	}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, &fakeNotifier{})

	outcome, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	require.NoError(t, err)
	assert.Equal(t, domain.CaseCompleted, outcome.Case.Status)
	require.Len(t, outcome.AnalysisErrors, 1)
	assert.Equal(t, domain.ProviderGemini, outcome.AnalysisErrors[0].Provider)
	assert.Equal(t, domain.FailureAuthError, outcome.AnalysisErrors[0].Code)
	assert.Nil(t, outcome.Consensus, "consensus needs both providers")
	require.Len(t, outcome.Case.FinalDiagnoses, 1)
	assert.Nil(t, outcome.Case.GeminiAnalysis)
	assert.NotNil(t, outcome.Case.OpenAIAnalysis)

	// Auth failures are not transient: exactly one Gemini attempt.
	assert.Equal(t, int32(1), gemini.calls.Load())
}

func TestAnalyzeCaseBothProvidersFail(t *testing.T) {
	gemini := &fakeProvider{name: domain.ProviderGemini, failures: []*domain.ProviderFailure{{
		Provider: domain.ProviderGemini, Code: domain.FailureUpstreamError, Message: "500",
	}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, failures: []*domain.ProviderFailure{{
		Provider: domain.ProviderOpenAI, Code: domain.FailureInvalidResponse, Message: "not json",
	}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	notifier := &fakeNotifier{}
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, notifier)

	outcome, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	require.NoError(t, err)
	assert.Equal(t, domain.CasePending, outcome.Case.Status, "case stays pending when nothing succeeded")
	assert.Len(t, outcome.AnalysisErrors, 2)
	assert.Equal(t, 0, repo.updates, "nothing is persisted on total failure")
	assert.Equal(t, 0, notifier.analyses)
}

func TestAnalyzeCaseRetriesTransientFailureOnce(t *testing.T) {
	gemini := &fakeProvider{
		name: domain.ProviderGemini,
		failures: []*domain.ProviderFailure{
			{Provider: domain.ProviderGemini, Code: domain.FailureTimeout, Message: "deadline"},
			nil,
		},
		results: []*domain.RawResult{
			nil,
			{Provider: domain.ProviderGemini, Diagnoses: []domain.RawDiagnosis{{Name: "Tinea", Confidence: 60}}},
		},
	}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{Provider: domain.ProviderOpenAI}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, &fakeNotifier{})

	outcome, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	require.NoError(t, err)
	assert.Equal(t, int32(2), gemini.calls.Load(), "transient failure retries exactly once")
	assert.Empty(t, outcome.AnalysisErrors)
	require.Len(t, outcome.Case.FinalDiagnoses, 1)
	assert.Equal(t, "Tinea", outcome.Case.FinalDiagnoses[0].Name)
}

func TestAnalyzeCaseUrgentSurvivesFilter(t *testing.T) {
	gemini := &fakeProvider{name: domain.ProviderGemini, results: []*domain.RawResult{{
		Provider:  domain.ProviderGemini,
		Diagnoses: []domain.RawDiagnosis{{Name: "Melanoma", Confidence: 15}},
	}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{Provider: domain.ProviderOpenAI}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	notifier := &fakeNotifier{}
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, notifier)

	outcome, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	require.NoError(t, err)
	require.Len(t, outcome.Case.FinalDiagnoses, 1)
	assert.True(t, outcome.Case.FinalDiagnoses[0].IsUrgent)
	assert.True(t, notifier.lastUrgent)
}

func TestAnalyzeCaseSettingsOutageUsesDefault(t *testing.T) {
	gemini := &fakeProvider{name: domain.ProviderGemini, results: []*domain.RawResult{{
		Provider:  domain.ProviderGemini,
		Diagnoses: []domain.RawDiagnosis{{Name: "Eczema", Confidence: 40}, {Name: "Tinea", Confidence: 39}},
	}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{Provider: domain.ProviderOpenAI}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	svc := newTestService(gemini, openai, repo, &fakeSettings{err: errors.New("redis down")}, &fakeNotifier{})

	outcome, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	require.NoError(t, err)
	require.Len(t, outcome.Case.FinalDiagnoses, 1)
	assert.Equal(t, "Eczema", outcome.Case.FinalDiagnoses[0].Name)
}

func TestAnalyzeCaseValidation(t *testing.T) {
	svc := newTestService(&fakeProvider{name: domain.ProviderGemini}, &fakeProvider{name: domain.ProviderOpenAI},
		newFakeCaseRepo(), &fakeSettings{threshold: 40}, &fakeNotifier{})

	tests := []struct {
		name   string
		images []domain.ImagePayload
	}{
		{"no images", nil},
		{"too many images", testImages(4)},
		{"empty image data", []domain.ImagePayload{{Ref: "r", MIMEType: "image/jpeg"}}},
		{"unsupported type", []domain.ImagePayload{{Ref: "r", MIMEType: "image/gif", Data: []byte{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: tt.images})
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestAnalyzeCaseRequiresClinicalContext(t *testing.T) {
	gemini := &fakeProvider{name: domain.ProviderGemini, results: []*domain.RawResult{{Provider: domain.ProviderGemini}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{Provider: domain.ProviderOpenAI}}}
	contextless := &domain.Case{ID: "case-1", OwnerID: "user-1", PatientID: "patient-1", Status: domain.CasePending}
	repo := newFakeCaseRepo(contextless)
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, &fakeNotifier{})

	// Nothing in the request and nothing stored on the case: rejected before
	// either provider is called.
	_, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "symptom_context", verr.Field)
	assert.Equal(t, int32(0), gemini.calls.Load())
	assert.Equal(t, int32(0), openai.calls.Load())

	// The same request succeeds once the case carries a stored context.
	contextless.SymptomContext = domain.SymptomContext{BodySite: "left forearm"}
	_, err = svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})
	require.NoError(t, err)
}

func TestAnalyzeCaseConsensusReflectsFilteredTop(t *testing.T) {
	// Both providers agree on Tinea (35), below threshold; Gemini alone adds
	// Melanoma (30), which survives as urgent. The indicator must describe
	// Melanoma, the entry the caller actually sees, not the dropped Tinea.
	gemini := &fakeProvider{name: domain.ProviderGemini, results: []*domain.RawResult{{
		Provider: domain.ProviderGemini,
		Diagnoses: []domain.RawDiagnosis{
			{Name: "Tinea", Confidence: 35},
			{Name: "Melanoma", Confidence: 30},
		},
	}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{
		Provider:  domain.ProviderOpenAI,
		Diagnoses: []domain.RawDiagnosis{{Name: "tinea", Confidence: 35}},
	}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, &fakeNotifier{})

	outcome, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	require.NoError(t, err)
	require.Len(t, outcome.Case.FinalDiagnoses, 1)
	assert.Equal(t, "Melanoma", outcome.Case.FinalDiagnoses[0].Name)
	require.NotNil(t, outcome.Consensus)
	assert.Equal(t, 1, outcome.Consensus.SupportingProviders)
	assert.Equal(t, 2, outcome.Consensus.TotalProviders)
}

func TestAnalyzeCaseUnknownCase(t *testing.T) {
	svc := newTestService(&fakeProvider{name: domain.ProviderGemini}, &fakeProvider{name: domain.ProviderOpenAI},
		newFakeCaseRepo(), &fakeSettings{threshold: 40}, &fakeNotifier{})

	_, err := svc.AnalyzeCase(context.Background(), "user-1", "missing", AnalyzeRequest{Images: testImages(1)})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAnalyzeCaseOwnershipEnforced(t *testing.T) {
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	svc := newTestService(&fakeProvider{name: domain.ProviderGemini}, &fakeProvider{name: domain.ProviderOpenAI},
		repo, &fakeSettings{threshold: 40}, &fakeNotifier{})

	_, err := svc.AnalyzeCase(context.Background(), "someone-else", "case-1", AnalyzeRequest{Images: testImages(1)})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAnalyzeCaseConcurrentRunRejected(t *testing.T) {
	block := make(chan struct{})
	gemini := &fakeProvider{name: domain.ProviderGemini, block: block,
		results: []*domain.RawResult{{Provider: domain.ProviderGemini}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, block: block,
		results: []*domain.RawResult{{Provider: domain.ProviderOpenAI}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, &fakeNotifier{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})
	}()

	// Wait for the first run to be inside the provider calls.
	require.Eventually(t, func() bool {
		return gemini.calls.Load() > 0
	}, time.Second, 5*time.Millisecond)

	_, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})
	assert.ErrorIs(t, err, domain.ErrAnalysisInFlight)

	close(block)
	wg.Wait()

	// The guard is released after the first run settles.
	_, err = svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})
	assert.NoError(t, err)
}

func TestAnalyzeCaseAbandonedRequestPersistsNothing(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	gemini := &fakeProvider{name: domain.ProviderGemini, block: block,
		results: []*domain.RawResult{{Provider: domain.ProviderGemini}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, block: block,
		results: []*domain.RawResult{{Provider: domain.ProviderOpenAI}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	notifier := &fakeNotifier{}
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := svc.AnalyzeCase(ctx, "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, repo.updates)
	assert.Equal(t, 0, notifier.analyses)
}

func TestAnalyzeCasePersistenceFailure(t *testing.T) {
	gemini := &fakeProvider{name: domain.ProviderGemini, results: []*domain.RawResult{{
		Provider:  domain.ProviderGemini,
		Diagnoses: []domain.RawDiagnosis{{Name: "Eczema", Confidence: 80}},
	}}}
	openai := &fakeProvider{name: domain.ProviderOpenAI, results: []*domain.RawResult{{Provider: domain.ProviderOpenAI}}}
	repo := newFakeCaseRepo(pendingCase("case-1", "user-1"))
	repo.updateErr = errors.New("connection reset")
	notifier := &fakeNotifier{}
	svc := newTestService(gemini, openai, repo, &fakeSettings{threshold: 40}, notifier)

	_, err := svc.AnalyzeCase(context.Background(), "user-1", "case-1", AnalyzeRequest{Images: testImages(1)})

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "case-1", perr.CaseID)
	assert.Equal(t, 0, notifier.analyses, "no notification when persistence failed")
}
