package providers

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/derm-diagnosis-server/internal/domain"
)

// ResilientClient wraps a ProviderClient with a circuit breaker and the
// response cache. A repeatedly failing provider trips its breaker and
// subsequent calls fail fast with UNAVAILABLE instead of burning the per-call
// timeout, which keeps total analysis latency bounded during an outage.
type ResilientClient struct {
	inner   domain.ProviderClient
	breaker *gobreaker.CircuitBreaker
	cache   *ResponseCache
	log     *logrus.Logger
}

// NewResilientClient wraps the given client. The cache is optional; a nil
// cache disables response caching but not the breaker.
func NewResilientClient(inner domain.ProviderClient, cache *ResponseCache, logger *logrus.Logger) *ResilientClient {
	name := inner.Name()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(name),
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(breakerName string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"provider": breakerName,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("Provider circuit breaker state changed")
		},
	})

	return &ResilientClient{
		inner:   inner,
		breaker: breaker,
		cache:   cache,
		log:     logger,
	}
}

// Name returns the wrapped provider's identity.
func (r *ResilientClient) Name() domain.Provider {
	return r.inner.Name()
}

// Invoke calls the wrapped provider through the breaker, consulting the
// response cache first. Only failures cross the breaker as errors; at the
// method boundary they are converted back into ProviderFailure data.
func (r *ResilientClient) Invoke(ctx context.Context, images []domain.ImagePayload, symptoms domain.SymptomContext) (*domain.RawResult, *domain.ProviderFailure) {
	provider := r.inner.Name()

	var key string
	if r.cache != nil {
		key = AssessmentKey(provider, images, symptoms)
		if cached, found, err := r.cache.Get(ctx, key); err == nil && found {
			r.log.WithField("provider", provider).Debug("Assessment served from cache")
			return cached, nil
		}
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		raw, pf := r.inner.Invoke(ctx, images, symptoms)
		if pf != nil {
			return nil, pf
		}
		return raw, nil
	})

	if err != nil {
		return nil, r.asFailure(provider, err)
	}

	raw := result.(*domain.RawResult)

	if r.cache != nil {
		if cacheErr := r.cache.Set(ctx, key, raw, 0); cacheErr != nil {
			r.log.WithError(cacheErr).WithField("provider", provider).Warn("Failed to cache assessment")
		}
	}

	return raw, nil
}

// Compare calls the wrapped provider's comparison through the breaker.
// Comparison verdicts are not cached: the elapsed-time descriptor makes every
// invocation semantically distinct.
func (r *ResilientClient) Compare(ctx context.Context, previous, current domain.ImagePayload, timeElapsed string) (*domain.RawComparison, *domain.ProviderFailure) {
	provider := r.inner.Name()

	result, err := r.breaker.Execute(func() (interface{}, error) {
		raw, pf := r.inner.Compare(ctx, previous, current, timeElapsed)
		if pf != nil {
			return nil, pf
		}
		return raw, nil
	})

	if err != nil {
		return nil, r.asFailure(provider, err)
	}

	return result.(*domain.RawComparison), nil
}

// asFailure converts breaker errors back into ProviderFailure data.
func (r *ResilientClient) asFailure(p domain.Provider, err error) *domain.ProviderFailure {
	if pf, ok := err.(*domain.ProviderFailure); ok {
		return pf
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return failure(p, domain.FailureUnavailable, "provider temporarily suspended after repeated failures")
	}
	return failure(p, domain.FailureUpstreamError, "provider call failed: %v", err)
}
