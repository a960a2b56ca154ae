package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/derm-diagnosis-server/internal/domain"
)

// fakeProvider scripts a sequence of Invoke/Compare outcomes, returning the
// last one once the script runs out.
type fakeProvider struct {
	name        domain.Provider
	results     []*domain.RawResult
	failures    []*domain.ProviderFailure
	comparisons []*domain.RawComparison
	cmpFailures []*domain.ProviderFailure

	calls    atomic.Int32
	cmpCalls atomic.Int32
	block    chan struct{} // when set, Invoke waits for ctx or unblock
}

func (f *fakeProvider) Name() domain.Provider { return f.name }

func (f *fakeProvider) Invoke(ctx context.Context, _ []domain.ImagePayload, _ domain.SymptomContext) (*domain.RawResult, *domain.ProviderFailure) {
	n := int(f.calls.Add(1)) - 1
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, &domain.ProviderFailure{Provider: f.name, Code: domain.FailureTimeout, Message: "timed out"}
		}
	}
	if n >= len(f.results) && len(f.results) > 0 {
		n = len(f.results) - 1
	}
	if n < len(f.failures) && f.failures[n] != nil {
		return nil, f.failures[n]
	}
	if n < len(f.results) {
		return f.results[n], nil
	}
	return &domain.RawResult{Provider: f.name}, nil
}

func (f *fakeProvider) Compare(ctx context.Context, _, _ domain.ImagePayload, _ string) (*domain.RawComparison, *domain.ProviderFailure) {
	n := int(f.cmpCalls.Add(1)) - 1
	if n < len(f.cmpFailures) && f.cmpFailures[n] != nil {
		return nil, f.cmpFailures[n]
	}
	if n >= len(f.comparisons) {
		n = len(f.comparisons) - 1
	}
	return f.comparisons[n], nil
}

// fakeCaseRepo is an in-memory CaseRepository.
type fakeCaseRepo struct {
	mu        sync.Mutex
	cases     map[string]*domain.Case
	updateErr error
	updates   int
}

func newFakeCaseRepo(cases ...*domain.Case) *fakeCaseRepo {
	r := &fakeCaseRepo{cases: make(map[string]*domain.Case)}
	for _, c := range cases {
		r.cases[c.ID] = c
	}
	return r
}

func (r *fakeCaseRepo) Create(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases[c.ID] = c
	return nil
}

func (r *fakeCaseRepo) GetByID(_ context.Context, id, ownerID string) (*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok || c.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	clone := *c
	return &clone, nil
}

func (r *fakeCaseRepo) ListByOwner(_ context.Context, ownerID string, _, _ int) ([]*domain.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Case
	for _, c := range r.cases {
		if c.OwnerID == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeCaseRepo) UpdateAnalysis(_ context.Context, c *domain.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		return r.updateErr
	}
	r.updates++
	clone := *c
	r.cases[c.ID] = &clone
	return nil
}

// fakeSettings returns a fixed threshold or an error.
type fakeSettings struct {
	threshold int
	err       error
}

func (s *fakeSettings) Get(_ context.Context, ownerID string) (*domain.UserSettings, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.UserSettings{OwnerID: ownerID, ConfidenceThreshold: s.threshold}, nil
}

func (s *fakeSettings) Put(_ context.Context, _ *domain.UserSettings) error { return nil }

// fakeNotifier records delivered events.
type fakeNotifier struct {
	mu          sync.Mutex
	analyses    int
	comparisons int
	lastUrgent  bool
}

func (n *fakeNotifier) AnalysisCompleted(_ string, _ *domain.Case, urgent bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.analyses++
	n.lastUrgent = urgent
}

func (n *fakeNotifier) ComparisonCompleted(_ string, _ *domain.LesionComparison) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.comparisons++
}

// fakeLesionRepo is an in-memory LesionRepository.
type fakeLesionRepo struct {
	mu          sync.Mutex
	lesions     map[string]*domain.TrackedLesion
	snapshots   map[string]*domain.LesionSnapshot
	comparisons []*domain.LesionComparison
	saveErr     error
}

func newFakeLesionRepo() *fakeLesionRepo {
	return &fakeLesionRepo{
		lesions:   make(map[string]*domain.TrackedLesion),
		snapshots: make(map[string]*domain.LesionSnapshot),
	}
}

func (r *fakeLesionRepo) CreateLesion(_ context.Context, l *domain.TrackedLesion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lesions[l.ID] = l
	return nil
}

func (r *fakeLesionRepo) GetLesion(_ context.Context, id, ownerID string) (*domain.TrackedLesion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lesions[id]
	if !ok || l.OwnerID != ownerID {
		return nil, domain.ErrNotFound
	}
	return l, nil
}

func (r *fakeLesionRepo) AddSnapshot(_ context.Context, _ string, s *domain.LesionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[s.ID] = s
	return nil
}

func (r *fakeLesionRepo) GetSnapshot(_ context.Context, id, _ string) (*domain.LesionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.snapshots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

func (r *fakeLesionRepo) LatestSnapshots(_ context.Context, lesionID, _ string, n int) ([]*domain.LesionSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LesionSnapshot
	for _, s := range r.snapshots {
		if s.LesionID == lesionID {
			out = append(out, s)
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (r *fakeLesionRepo) SaveComparison(_ context.Context, _ string, c *domain.LesionComparison) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.comparisons = append(r.comparisons, c)
	return nil
}

func (r *fakeLesionRepo) ListComparisons(_ context.Context, lesionID, _ string) ([]*domain.LesionComparison, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.LesionComparison
	for _, c := range r.comparisons {
		if c.LesionID == lesionID {
			out = append(out, c)
		}
	}
	return out, nil
}
