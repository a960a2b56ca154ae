// Package providers contains the adapters for the two external AI diagnostic
// services. Each adapter enforces a per-call timeout and a client-side rate
// limit, and converts every transport, upstream and response-shape problem
// into a typed domain.ProviderFailure with a stable code. Nothing throws past
// the adapter boundary.
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/derm-diagnosis-server/internal/domain"
)

// failure builds a ProviderFailure for the given provider and code.
func failure(p domain.Provider, code domain.FailureCode, format string, args ...interface{}) *domain.ProviderFailure {
	return &domain.ProviderFailure{
		Provider: p,
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Hint:     hintFor(code),
	}
}

// hintFor maps a failure code to a remediation hint surfaced to the caller.
func hintFor(code domain.FailureCode) string {
	switch code {
	case domain.FailureTimeout:
		return "The provider did not respond in time; re-running the analysis usually succeeds."
	case domain.FailureRateLimit:
		return "The provider is throttling requests; wait a moment before re-running the analysis."
	case domain.FailureInvalidResponse:
		return "The provider returned output this server could not interpret; re-running may help."
	case domain.FailureAuthError:
		return "The provider rejected this server's credentials; check the configured API key."
	case domain.FailureUnavailable:
		return "The provider has been failing repeatedly and calls are suspended; try again shortly."
	default:
		return ""
	}
}

// classifyTransportError converts an http.Client error into a failure code.
// Context deadline and cancellation both count as timeouts: from the
// pipeline's view the call did not settle in its window.
func classifyTransportError(p domain.Provider, err error) *domain.ProviderFailure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failure(p, domain.FailureTimeout, "request did not complete: %v", err)
	}
	return failure(p, domain.FailureUpstreamError, "request failed: %v", err)
}

// classifyStatus converts a non-2xx upstream status into a failure code.
func classifyStatus(p domain.Provider, status int, body string) *domain.ProviderFailure {
	switch {
	case status == http.StatusTooManyRequests:
		return failure(p, domain.FailureRateLimit, "provider returned status %d", status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failure(p, domain.FailureAuthError, "provider returned status %d", status)
	case status == http.StatusBadRequest:
		return failure(p, domain.FailureInvalidRequest, "provider rejected the request: %s", truncate(body, 200))
	case status >= 500:
		return failure(p, domain.FailureUpstreamError, "provider returned status %d", status)
	default:
		return failure(p, domain.FailureUpstreamError, "unexpected provider status %d", status)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
