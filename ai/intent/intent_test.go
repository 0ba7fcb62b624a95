package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/ai/core/llm"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		in           Intent
		wantName     string
		wantCategory Category
		wantPriority int
	}{
		{
			name:         "transactional",
			in:           Intent{Name: "BOOK_APPOINTMENT", Confidence: 0.9},
			wantName:     "BOOK_APPOINTMENT",
			wantCategory: CategoryTransactional,
			wantPriority: 80 + 18,
		},
		{
			name:         "urgent",
			in:           Intent{Name: "HUMAN_HANDOFF", Confidence: 1},
			wantName:     "HUMAN_HANDOFF",
			wantCategory: CategoryUrgent,
			wantPriority: 120,
		},
		{
			name:         "unknown collapses to OTHER",
			in:           Intent{Name: "MAKE_COFFEE", Confidence: 0.8},
			wantName:     "OTHER",
			wantCategory: CategorySupport,
			wantPriority: 50 + 16,
		},
		{
			name:         "confidence clamped",
			in:           Intent{Name: "GREETING", Confidence: 1.7},
			wantName:     "GREETING",
			wantCategory: CategorySupport,
			wantPriority: 50 + 20,
		},
		{
			name:         "browsing base",
			in:           Intent{Name: "BROWSE_PRODUCTS", Confidence: 0},
			wantName:     "BROWSE_PRODUCTS",
			wantCategory: CategoryBrowsing,
			wantPriority: 40,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantCategory, got.Category)
			assert.Equal(t, tt.wantPriority, got.Priority)
		})
	}
}

func TestPrioritize(t *testing.T) {
	got := Prioritize([]Intent{
		{Name: "GREETING", Confidence: 0.95},
		{Name: "BOOK_APPOINTMENT", Confidence: 0.85},
		{Name: "PRICE_CHECK", Confidence: 0.6},
		{Name: "STOP_ALL", Confidence: 0.5},
	})
	require.Len(t, got, 4)
	assert.Equal(t, "STOP_ALL", got[0].Name, "urgent outranks everything")
	assert.Equal(t, "BOOK_APPOINTMENT", got[1].Name)
	assert.Equal(t, "PRICE_CHECK", got[2].Name)
	assert.Equal(t, "GREETING", got[3].Name)
}

func TestPrioritizeTieBreaksOnConfidence(t *testing.T) {
	got := Prioritize([]Intent{
		{Name: "PRICE_CHECK", Confidence: 0.62},
		{Name: "STOCK_CHECK", Confidence: 0.64},
	})
	// Same priority bucket (60 + 12); higher confidence wins.
	require.Len(t, got, 2)
	assert.Equal(t, "STOCK_CHECK", got[0].Name)
}

type fakeProvider struct {
	content string
	lastReq *llm.Request
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Generate(ctx context.Context, req *llm.Request) (*llm.Generation, error) {
	p.lastReq = req
	return &llm.Generation{Content: p.content}, nil
}

func (p *fakeProvider) Warmup(ctx context.Context) {}

func TestDetect(t *testing.T) {
	p := &fakeProvider{content: `{"intents": [
		{"name": "BOOK_APPOINTMENT", "confidence": 0.9, "slots": {"service": "haircut", "date": "tomorrow"}},
		{"name": "GREETING", "confidence": 0.4}
	]}`}
	d := NewDetector(p, "gpt-4o-mini")

	intents, err := d.Detect(context.Background(), "hi, I want to book a haircut tomorrow", Cues{})
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, "BOOK_APPOINTMENT", intents[0].Name)
	assert.Equal(t, "haircut", intents[0].Slots["service"])
	assert.True(t, p.lastReq.JSONOnly)
	assert.Equal(t, "gpt-4o-mini", p.lastReq.Model)
}

func TestDetectFencedReply(t *testing.T) {
	p := &fakeProvider{content: "Here you go:\n```json\n{\"intents\": [{\"name\": \"PRICE_CHECK\", \"confidence\": 0.8}]}\n```"}
	d := NewDetector(p, "gpt-4o-mini")

	intents, err := d.Detect(context.Background(), "how much is the blue shirt?", Cues{})
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "PRICE_CHECK", intents[0].Name)
}

func TestDetectUnparseableReplyYieldsEmpty(t *testing.T) {
	p := &fakeProvider{content: "I could not classify that, sorry!"}
	d := NewDetector(p, "gpt-4o-mini")

	intents, err := d.Detect(context.Background(), "???", Cues{})
	require.NoError(t, err)
	assert.Empty(t, intents)
}

func TestDetectTerseMessageInjectsCues(t *testing.T) {
	p := &fakeProvider{content: `{"intents": [{"name": "PRICE_CHECK", "confidence": 0.8}]}`}
	d := NewDetector(p, "gpt-4o-mini")

	_, err := d.Detect(context.Background(), "how much?", Cues{
		LastProductViewed: "Blue Shirt",
		PreviousQuestion:  "Would you like to see our shirts?",
	})
	require.NoError(t, err)

	user := p.lastReq.Messages[len(p.lastReq.Messages)-1].Content
	assert.Contains(t, user, "Blue Shirt")
	assert.Contains(t, user, "Would you like to see our shirts?")
}

func TestDetectLongMessageOmitsCues(t *testing.T) {
	p := &fakeProvider{content: `{"intents": []}`}
	d := NewDetector(p, "gpt-4o-mini")

	_, err := d.Detect(context.Background(), "I would like to know the opening hours of your store on Saturday", Cues{
		LastProductViewed: "Blue Shirt",
	})
	require.NoError(t, err)

	user := p.lastReq.Messages[len(p.lastReq.Messages)-1].Content
	assert.NotContains(t, user, "Blue Shirt")
}
