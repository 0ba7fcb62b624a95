package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/internal/errdef"
)

type fakeProvider struct {
	name  string
	gen   *llm.Generation
	err   error
	calls int
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Generation, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.gen, nil
}

func (p *fakeProvider) Warmup(ctx context.Context) {}

func transientErr(provider string) error {
	return &errdef.ProviderError{Provider: provider, Model: "m", Transient: true, Err: errors.New("boom")}
}

func TestFailoverPrimarySucceeds(t *testing.T) {
	primary := &fakeProvider{name: "openai", gen: &llm.Generation{Content: "hi"}}
	backup := &fakeProvider{name: "deepseek", gen: &llm.Generation{Content: "bye"}}

	f := NewFailover(NewHealth(), time.Second, nil)
	res, err := f.Generate(context.Background(), []Attempt{
		{Provider: primary, Model: "gpt-4o"},
		{Provider: backup, Model: "deepseek-chat"},
	}, &llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Generation.Content)
	assert.Equal(t, "openai", res.Provider)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.False(t, res.WasFailover)
	assert.Zero(t, backup.calls)
}

func TestFailoverFallsOver(t *testing.T) {
	primary := &fakeProvider{name: "openai", err: transientErr("openai")}
	backup := &fakeProvider{name: "deepseek", gen: &llm.Generation{Content: "fallback"}}

	var observed []string
	observer := func(provider, model string, gen *llm.Generation, err error, latency time.Duration) {
		status := "ok"
		if err != nil {
			status = "err"
		}
		observed = append(observed, provider+":"+status)
	}

	f := NewFailover(NewHealth(), time.Second, observer)
	res, err := f.Generate(context.Background(), []Attempt{
		{Provider: primary, Model: "gpt-4o"},
		{Provider: backup, Model: "deepseek-chat"},
	}, &llm.Request{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Generation.Content)
	assert.Equal(t, "deepseek", res.Provider)
	assert.True(t, res.WasFailover)

	// The observer saw both attempts, the failed primary included.
	assert.Equal(t, []string{"openai:err", "deepseek:ok"}, observed)
}

func TestFailoverAllFail(t *testing.T) {
	last := transientErr("deepseek")
	a := &fakeProvider{name: "openai", err: transientErr("openai")}
	b := &fakeProvider{name: "deepseek", err: last}

	f := NewFailover(NewHealth(), time.Second, nil)
	_, err := f.Generate(context.Background(), []Attempt{
		{Provider: a, Model: "gpt-4o"},
		{Provider: b, Model: "deepseek-chat"},
	}, &llm.Request{})
	require.Error(t, err)

	var all *errdef.AllProvidersFailed
	require.ErrorAs(t, err, &all)
	assert.Equal(t, 2, all.Attempts)
	assert.ErrorIs(t, all.LastErr, last)
}

func TestFailoverSkipsUnhealthyProvider(t *testing.T) {
	health := NewHealth()
	health.Record("openai", false)
	health.Record("openai", false)

	primary := &fakeProvider{name: "openai", gen: &llm.Generation{Content: "never"}}
	backup := &fakeProvider{name: "deepseek", gen: &llm.Generation{Content: "healthy"}}

	f := NewFailover(health, time.Second, nil)
	res, err := f.Generate(context.Background(), []Attempt{
		{Provider: primary, Model: "gpt-4o"},
		{Provider: backup, Model: "deepseek-chat"},
	}, &llm.Request{})
	require.NoError(t, err)
	assert.Zero(t, primary.calls)
	assert.Equal(t, "healthy", res.Generation.Content)
	assert.True(t, res.WasFailover)
}

func TestHealthWindow(t *testing.T) {
	h := NewHealth()
	now := time.Unix(1_700_000_000, 0)
	h.now = func() time.Time { return now }

	assert.True(t, h.Healthy("openai"), "no observations means healthy")

	h.Record("openai", false)
	assert.False(t, h.Healthy("openai"), "100% failure rate")

	h.Record("openai", true)
	h.Record("openai", true)
	assert.True(t, h.Healthy("openai"), "1/3 failures is within bounds")

	h.Record("openai", false)
	h.Record("openai", false)
	assert.False(t, h.Healthy("openai"), "3/5 failures exceeds 50%")

	// Observations expire after the window.
	now = now.Add(61 * time.Minute)
	assert.True(t, h.Healthy("openai"))
}

func TestHealthExactlyHalfIsHealthy(t *testing.T) {
	h := NewHealth()
	h.Record("openai", true)
	h.Record("openai", false)
	assert.True(t, h.Healthy("openai"))
}
