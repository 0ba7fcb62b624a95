package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/store"
)

type fakeProvider struct {
	content string
	err     error
	lastReq *llm.Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Generate(_ context.Context, req *llm.Request) (*llm.Generation, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Generation{Content: f.content}, nil
}

func (f *fakeProvider) Warmup(context.Context) {}

func window() []*store.Message {
	return []*store.Message{
		{Direction: store.DirectionIn, Text: "do you have blue shirts?"},
		{Direction: store.DirectionOut, Text: "Yes, the Blue Shirt is $29.99."},
	}
}

func TestShouldRefresh(t *testing.T) {
	assert.False(t, ShouldRefresh(RefreshAfterMessages-1))
	assert.True(t, ShouldRefresh(RefreshAfterMessages))
}

func TestRefreshUsesModel(t *testing.T) {
	p := &fakeProvider{content: "Customer asked about blue shirts; quoted $29.99."}
	r := NewRefresher(p, "gpt-4o-mini")

	got := r.Refresh(context.Background(), "old summary", window())
	assert.Equal(t, "Customer asked about blue shirts; quoted $29.99.", got)

	// The prompt carries both the previous summary and the new window.
	prompt := p.lastReq.Messages[1].Content
	assert.Contains(t, prompt, "old summary")
	assert.Contains(t, prompt, "Customer: do you have blue shirts?")
	assert.Equal(t, "gpt-4o-mini", p.lastReq.Model)
}

func TestRefreshFallsBackOnError(t *testing.T) {
	p := &fakeProvider{err: assert.AnError}
	r := NewRefresher(p, "gpt-4o-mini")

	got := r.Refresh(context.Background(), "old summary", window())
	assert.Contains(t, got, "old summary")
	assert.Contains(t, got, "Customer: do you have blue shirts?")
}

func TestRefreshFallsBackOnEmptyContent(t *testing.T) {
	p := &fakeProvider{content: "  "}
	r := NewRefresher(p, "gpt-4o-mini")

	got := r.Refresh(context.Background(), "", window())
	assert.NotEmpty(t, got)
}

func TestRefreshEmptyWindowKeepsPrevious(t *testing.T) {
	r := NewRefresher(&fakeProvider{}, "gpt-4o-mini")
	assert.Equal(t, "prev", r.Refresh(context.Background(), "prev", nil))
}

func TestDeterministicTruncates(t *testing.T) {
	long := strings.Repeat("word ", 300)
	got := Deterministic("", []*store.Message{{Direction: store.DirectionIn, Text: long}})
	assert.LessOrEqual(t, len([]rune(got)), maxSummaryRunes+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}
