// Package errdef defines the error taxonomy shared across the engine.
// Handlers map these onto HTTP status codes; the pipeline uses them to
// decide between retry, failover, and human handoff.
package errdef

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap with pkg/errors at the call site to carry context;
// match with errors.Is.
var (
	// ErrNotFound indicates the referenced entity does not exist within the
	// caller's tenant scope.
	ErrNotFound = errors.New("not found")

	// ErrUnknownTenant indicates a request addressed a tenant that does not
	// exist or is suspended.
	ErrUnknownTenant = errors.New("unknown tenant")

	// ErrNotAMember indicates the authenticated user is not a member of the
	// addressed tenant.
	ErrNotAMember = errors.New("not a member of tenant")

	// ErrSignatureInvalid indicates a webhook payload failed signature
	// verification.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrConflict indicates a write lost a compare-and-set race, e.g. a
	// scheduled entry already claimed by another worker.
	ErrConflict = errors.New("conflict")

	// ErrInputInvalid indicates the request payload failed validation.
	ErrInputInvalid = errors.New("input invalid")

	// ErrRateLimited indicates the caller exceeded its request budget.
	ErrRateLimited = errors.New("rate limited")

	// ErrVectorSearchUnavailable indicates the active storage driver cannot
	// perform embedding similarity search and the caller should fall back to
	// keyword matching.
	ErrVectorSearchUnavailable = errors.New("vector search unavailable")
)

// ProviderError wraps a failure from a single LLM provider call. Transient
// errors (timeouts, 429s, 5xx) make the router try the next provider in the
// failover chain; permanent errors (auth, malformed request) do too, but are
// also surfaced to health tracking with heavier weight.
type ProviderError struct {
	Provider  string
	Model     string
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("provider %s (%s): %s error: %v", e.Provider, e.Model, kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider error marked transient.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// AllProvidersFailed is returned when the full failover chain is exhausted.
// LastErr preserves the final provider's error for diagnostics.
type AllProvidersFailed struct {
	Attempts int
	LastErr  error
}

func (e *AllProvidersFailed) Error() string {
	return fmt.Sprintf("all %d providers failed, last error: %v", e.Attempts, e.LastErr)
}

func (e *AllProvidersFailed) Unwrap() error { return e.LastErr }
