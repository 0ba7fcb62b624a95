package routing

import (
	"sync"
	"time"
)

// healthWindow is how long provider observations stay relevant.
const healthWindow = 60 * time.Minute

// unhealthyFailureRate is the failure share above which a provider is
// skipped during failover.
const unhealthyFailureRate = 0.5

// Health tracks per-provider success/failure counts in a rolling window.
// State is per-process and in-memory; under a multi-node deployment each
// node observes its own traffic. Stats older than the window are reset on
// access.
type Health struct {
	mu        sync.Mutex
	providers map[string]*providerStats
	now       func() time.Time
}

type providerStats struct {
	successes    int
	failures     int
	lastObserved time.Time
}

// NewHealth creates an empty health tracker.
func NewHealth() *Health {
	return &Health{
		providers: make(map[string]*providerStats),
		now:       time.Now,
	}
}

// Record adds one observation for a provider.
func (h *Health) Record(provider string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := h.fresh(provider)
	if success {
		stats.successes++
	} else {
		stats.failures++
	}
	stats.lastObserved = h.now()
}

// Healthy reports whether the provider's observed failure rate is within
// bounds. Providers with no recent observations are considered healthy.
func (h *Health) Healthy(provider string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := h.fresh(provider)
	total := stats.successes + stats.failures
	if total < 1 {
		return true
	}
	return float64(stats.failures)/float64(total) <= unhealthyFailureRate
}

// fresh returns the provider's stats, resetting them when the last
// observation fell out of the window. Callers hold the lock.
func (h *Health) fresh(provider string) *providerStats {
	stats, ok := h.providers[provider]
	if !ok {
		stats = &providerStats{}
		h.providers[provider] = stats
	}
	if !stats.lastObserved.IsZero() && h.now().Sub(stats.lastObserved) > healthWindow {
		*stats = providerStats{}
	}
	return stats
}
