package routing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/internal/errdef"
)

// Attempt is one (provider, model) pair in the failover chain.
type Attempt struct {
	Provider llm.Provider
	Model    string
}

// Result carries the successful generation plus which attempt produced it.
type Result struct {
	Generation  *llm.Generation
	Provider    string
	Model       string
	WasFailover bool
}

// Observer sees every attempt, failed ones included, so the usage recorder
// can write one ledger row per provider call.
type Observer func(provider, model string, gen *llm.Generation, err error, latency time.Duration)

// Failover walks a chain of attempts sequentially. Attempts are never run in
// parallel: a duplicate success would be billed twice.
type Failover struct {
	health         *Health
	attemptTimeout time.Duration
	observer       Observer
}

// NewFailover creates a failover walker. attemptTimeout bounds each provider
// call; zero means 30 seconds.
func NewFailover(health *Health, attemptTimeout time.Duration, observer Observer) *Failover {
	if attemptTimeout <= 0 {
		attemptTimeout = 30 * time.Second
	}
	return &Failover{health: health, attemptTimeout: attemptTimeout, observer: observer}
}

// Generate tries each attempt in order until one succeeds. Providers whose
// rolling failure rate exceeds the health bound are skipped. All failing
// yields *errdef.AllProvidersFailed with the last error preserved.
func (f *Failover) Generate(ctx context.Context, chain []Attempt, req *llm.Request) (*Result, error) {
	var lastErr error
	tried := 0

	for i, attempt := range chain {
		name := attempt.Provider.Name()
		if !f.health.Healthy(name) {
			slog.Warn("routing: skipping unhealthy provider", "provider", name, "model", attempt.Model)
			continue
		}

		attemptReq := *req
		attemptReq.Model = attempt.Model

		attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
		start := time.Now()
		gen, err := attempt.Provider.Generate(attemptCtx, &attemptReq)
		latency := time.Since(start)
		cancel()

		tried++
		f.health.Record(name, err == nil)
		if f.observer != nil {
			f.observer(name, attempt.Model, gen, err, latency)
		}

		if err != nil {
			slog.Warn("routing: provider attempt failed",
				"provider", name,
				"model", attempt.Model,
				"attempt", i+1,
				"error", err,
			)
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		return &Result{
			Generation:  gen,
			Provider:    name,
			Model:       attempt.Model,
			WasFailover: i > 0,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no healthy provider available")
	}
	return nil, &errdef.AllProvidersFailed{Attempts: tried, LastErr: lastErr}
}
