package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/derm-diagnosis-server/internal/domain"
)

// analysisState labels the phases of one orchestrated analysis run for
// logging and debugging. Transitions are strictly forward.
type analysisState string

const (
	stateStarted          analysisState = "started"
	stateProvidersRunning analysisState = "providers_running"
	stateMerging          analysisState = "merging"
	stateFiltering        analysisState = "filtering"
	statePersisting       analysisState = "persisting"
	stateCompleted        analysisState = "completed"
	stateFailed           analysisState = "failed"
)

// AnalyzeRequest carries the caller's images and optional clinical context
// for one analysis run. When Symptoms is empty the context stored on the
// case from a previous submission is reused.
type AnalyzeRequest struct {
	Images   []domain.ImagePayload
	Symptoms domain.SymptomContext
}

// providerOutcome is the settled result of one provider leg, exactly one of
// result or failure set.
type providerOutcome struct {
	result  *domain.ProviderResult
	failure *domain.ProviderFailure
}

// AnalysisService orchestrates the full diagnostic pipeline: two concurrent
// provider calls with independent timeouts and failure isolation, normalize,
// merge, urgency escalation, confidence filter, atomic persistence,
// fire-and-forget notification.
type AnalysisService struct {
	gemini   domain.ProviderClient
	openai   domain.ProviderClient
	cases    domain.CaseRepository
	settings domain.SettingsSource
	notifier domain.Notifier
	cfg      *domain.ProvidersConfig
	log      *logrus.Logger

	// inFlight guards against concurrent analysis of the same case.
	inFlight sync.Map
}

// NewAnalysisService wires the orchestrator with both provider clients and
// its collaborators.
func NewAnalysisService(
	gemini, openai domain.ProviderClient,
	cases domain.CaseRepository,
	settings domain.SettingsSource,
	notifier domain.Notifier,
	cfg *domain.ProvidersConfig,
	log *logrus.Logger,
) *AnalysisService {
	return &AnalysisService{
		gemini:   gemini,
		openai:   openai,
		cases:    cases,
		settings: settings,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
	}
}

// AnalyzeCase runs one full analysis for an existing case. A second call for
// the same case while one is running returns ErrAnalysisInFlight. When both
// providers fail the case is left pending and the outcome carries both
// failures; when at least one succeeds the case is updated atomically and
// flipped to completed.
func (s *AnalysisService) AnalyzeCase(ctx context.Context, ownerID, caseID string, req AnalyzeRequest) (*domain.AnalysisOutcome, error) {
	if err := validateAnalyzeRequest(req); err != nil {
		return nil, err
	}

	c, err := s.cases.GetByID(ctx, caseID, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load case %s: %w", caseID, err)
	}

	if _, running := s.inFlight.LoadOrStore(caseID, struct{}{}); running {
		return nil, domain.ErrAnalysisInFlight
	}
	defer s.inFlight.Delete(caseID)

	symptoms := req.Symptoms
	if symptoms.IsEmpty() {
		symptoms = c.SymptomContext
	}
	// No clinical context in the request and none stored on the case: fail
	// fast before spending a provider call on either leg.
	if symptoms.IsEmpty() {
		return nil, domain.NewValidationError("symptom_context",
			"clinical context is required, in the request or stored on the case", nil)
	}

	s.transition(caseID, stateStarted, stateProvidersRunning, nil)

	var (
		wg      sync.WaitGroup
		gemini  providerOutcome
		openai  providerOutcome
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		gemini = s.callProvider(ctx, s.gemini, s.cfg.Gemini.Timeout, req.Images, symptoms)
	}()
	go func() {
		defer wg.Done()
		openai = s.callProvider(ctx, s.openai, s.cfg.OpenAI.Timeout, req.Images, symptoms)
	}()
	wg.Wait()

	// Request abandoned while providers were running; late results are
	// discarded and nothing is persisted.
	if err := ctx.Err(); err != nil {
		s.transition(caseID, stateProvidersRunning, stateFailed, logrus.Fields{"reason": "request_abandoned"})
		return nil, err
	}

	failures := make([]domain.ProviderFailure, 0, 2)
	if gemini.failure != nil {
		failures = append(failures, *gemini.failure)
	}
	if openai.failure != nil {
		failures = append(failures, *openai.failure)
	}

	if gemini.result == nil && openai.result == nil {
		s.transition(caseID, stateProvidersRunning, stateFailed, logrus.Fields{"failures": len(failures)})
		return &domain.AnalysisOutcome{Case: c, AnalysisErrors: failures}, nil
	}

	s.transition(caseID, stateProvidersRunning, stateMerging, logrus.Fields{"failures": len(failures)})

	var geminiDiagnoses, openaiDiagnoses []domain.Diagnosis
	if gemini.result != nil {
		geminiDiagnoses = gemini.result.Diagnoses
	}
	if openai.result != nil {
		openaiDiagnoses = openai.result.Diagnoses
	}

	final := MergeDiagnoses(geminiDiagnoses, openaiDiagnoses)
	ApplyUrgency(final)

	s.transition(caseID, stateMerging, stateFiltering, nil)
	final = FilterByConfidence(final, s.resolveThreshold(ctx, ownerID))

	// The indicator describes the top entry the caller actually sees, so it
	// is computed after filtering.
	var consensus *domain.Consensus
	if gemini.result != nil && openai.result != nil && len(final) > 0 {
		consensus = &domain.Consensus{
			SupportingProviders: len(final[0].Sources),
			TotalProviders:      2,
		}
	}

	s.transition(caseID, stateFiltering, statePersisting, logrus.Fields{"diagnoses": len(final)})

	now := time.Now().UTC()
	c.ImageRefs = imageRefs(req.Images)
	c.SymptomContext = symptoms
	c.GeminiAnalysis = gemini.result
	c.OpenAIAnalysis = openai.result
	c.FinalDiagnoses = final
	c.Status = domain.CaseCompleted
	c.LastAnalyzedAt = &now
	c.UpdatedAt = now

	if err := s.cases.UpdateAnalysis(ctx, c); err != nil {
		s.transition(caseID, statePersisting, stateFailed, logrus.Fields{"error": err.Error()})
		return nil, &domain.PersistenceError{CaseID: caseID, Err: err}
	}

	s.transition(caseID, statePersisting, stateCompleted, nil)

	if s.notifier != nil {
		s.notifier.AnalysisCompleted(ownerID, c, anyUrgent(final))
	}

	return &domain.AnalysisOutcome{
		Case:           c,
		Consensus:      consensus,
		AnalysisErrors: failures,
	}, nil
}

// callProvider runs one provider leg under its own timeout and retries once
// with the shortened retry timeout when the failure is transient. Non-transient
// failures settle immediately.
func (s *AnalysisService) callProvider(ctx context.Context, client domain.ProviderClient, timeout time.Duration, images []domain.ImagePayload, symptoms domain.SymptomContext) providerOutcome {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	raw, failure := client.Invoke(callCtx, images, symptoms)
	cancel()

	if failure != nil && failure.Code.IsTransient() && ctx.Err() == nil {
		s.log.WithFields(logrus.Fields{
			"provider": client.Name(),
			"code":     failure.Code,
		}).Warn("Transient provider failure, retrying once")

		retryCtx, cancel := context.WithTimeout(ctx, s.cfg.RetryTimeout)
		raw, failure = client.Invoke(retryCtx, images, symptoms)
		cancel()
	}

	if failure != nil {
		s.log.WithFields(logrus.Fields{
			"provider": failure.Provider,
			"code":     failure.Code,
			"message":  failure.Message,
		}).Error("Provider assessment failed")
		return providerOutcome{failure: failure}
	}

	return providerOutcome{result: NormalizeResult(raw)}
}

// resolveThreshold loads the clinician's saved threshold, falling back to the
// default when settings are missing or the lookup fails. A settings outage
// must not fail an otherwise successful analysis.
func (s *AnalysisService) resolveThreshold(ctx context.Context, ownerID string) int {
	settings, err := s.settings.Get(ctx, ownerID)
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"owner_id": ownerID,
			"error":    err.Error(),
		}).Warn("Failed to load user settings, using default threshold")
		return domain.DefaultConfidenceThreshold
	}
	return settings.ConfidenceThreshold
}

func (s *AnalysisService) transition(caseID string, from, to analysisState, fields logrus.Fields) {
	entry := s.log.WithFields(logrus.Fields{
		"case_id": caseID,
		"from":    from,
		"to":      to,
	})
	if fields != nil {
		entry = entry.WithFields(fields)
	}
	entry.Debug("Analysis state transition")
}

func validateAnalyzeRequest(req AnalyzeRequest) error {
	if len(req.Images) == 0 {
		return domain.NewValidationError("images", "at least one image is required", 0)
	}
	if len(req.Images) > 3 {
		return domain.NewValidationError("images", "at most three images are allowed", len(req.Images))
	}
	for i, img := range req.Images {
		if len(img.Data) == 0 {
			return domain.NewValidationError("images", "image data is empty", i)
		}
		if img.MIMEType != "image/jpeg" && img.MIMEType != "image/png" {
			return domain.NewValidationError("images", "unsupported image type", img.MIMEType)
		}
	}
	return nil
}

func imageRefs(images []domain.ImagePayload) []string {
	refs := make([]string, len(images))
	for i, img := range images {
		refs[i] = img.Ref
	}
	return refs
}

func anyUrgent(diagnoses []domain.FinalDiagnosis) bool {
	for _, d := range diagnoses {
		if d.IsUrgent {
			return true
		}
	}
	return false
}
