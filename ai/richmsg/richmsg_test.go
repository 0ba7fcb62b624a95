package richmsg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aicontext "github.com/conversia-ai/conversia/ai/context"
	"github.com/conversia-ai/conversia/ai/suggest"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/store"
)

func TestYesNoQuestionBecomesButtons(t *testing.T) {
	b := NewBuilder(nil)
	out := b.Build("The Blue Shirt is $29.99. Do you want me to add it to your cart?", &aicontext.AgentContext{})

	payload, ok := out.Payload.(channel.ButtonPayload)
	require.True(t, ok)
	require.Len(t, payload.Buttons, 2)
	assert.Equal(t, "yes", payload.Buttons[0].ID)
	assert.Equal(t, "no", payload.Buttons[1].ID)
	assert.Empty(t, out.FallbackReason)
}

func TestNonYesNoQuestionStaysText(t *testing.T) {
	b := NewBuilder(nil)
	out := b.Build("What size are you looking for?", &aicontext.AgentContext{})

	_, ok := out.Payload.(channel.TextPayload)
	assert.True(t, ok)
}

func TestMarkdownBulletsBecomeList(t *testing.T) {
	b := NewBuilder(nil)
	reply := "We have a few options:\n\n- Blue Shirt - $29.99\n- Red Shirt - $24.99\n- Green Shirt - $27.99"
	out := b.Build(reply, &aicontext.AgentContext{})

	payload, ok := out.Payload.(channel.ListPayload)
	require.True(t, ok)
	assert.Equal(t, "We have a few options:", payload.Body)
	require.Len(t, payload.Rows, 3)
	assert.Equal(t, "Blue Shirt", payload.Rows[0].Title)
	assert.Equal(t, "$29.99", payload.Rows[0].Description)
}

func TestOversizedListFallsBackWithReason(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("All our items:\n\n")
	for i := 0; i < channel.MaxListRows+2; i++ {
		sb.WriteString("- Item number here\n")
	}

	b := NewBuilder(nil)
	out := b.Build(sb.String(), &aicontext.AgentContext{})

	_, ok := out.Payload.(channel.TextPayload)
	assert.True(t, ok)
	assert.NotEmpty(t, out.FallbackReason)
	// The fallback renders the bullets as plain text.
	assert.Contains(t, out.Payload.(channel.TextPayload).Text, "- Item number here")
}

func TestSuggestionListWhenReplyUsesSuggestionNames(t *testing.T) {
	ac := &aicontext.AgentContext{
		Suggestions: &suggest.Suggestions{
			Products: []*store.Product{
				{ID: "p2", Name: "Linen Shirt", PriceCents: 3499, Currency: "USD"},
			},
		},
	}

	b := NewBuilder(nil)
	out := b.Build("You might also like our Linen Shirt.", ac)

	payload, ok := out.Payload.(channel.ListPayload)
	require.True(t, ok)
	require.Len(t, payload.Rows, 1)
	assert.Equal(t, "Linen Shirt", payload.Rows[0].Title)
	assert.Equal(t, "$34.99", payload.Rows[0].Description)
}

func TestSingleProductWithImageBecomesCard(t *testing.T) {
	ac := &aicontext.AgentContext{
		Products: []*store.Product{{
			ID: "p1", Name: "Blue Shirt", PriceCents: 2999, Currency: "USD",
			Metadata: map[string]any{"image_url": "https://cdn.example.com/p1.jpg"},
		}},
	}

	b := NewBuilder(nil)
	out := b.Build("The Blue Shirt is a customer favorite.", ac)

	payload, ok := out.Payload.(channel.MediaPayload)
	require.True(t, ok)
	assert.Equal(t, "https://cdn.example.com/p1.jpg", payload.URL)
	assert.Contains(t, payload.Caption, "$29.99")
}

func TestSingleProductWithoutImageStaysText(t *testing.T) {
	ac := &aicontext.AgentContext{
		Products: []*store.Product{{ID: "p1", Name: "Blue Shirt", PriceCents: 2999, Currency: "USD"}},
	}

	b := NewBuilder(nil)
	out := b.Build("The Blue Shirt is a customer favorite.", ac)

	_, ok := out.Payload.(channel.TextPayload)
	assert.True(t, ok)
	assert.Empty(t, out.FallbackReason)
}

func TestMultipleCatalogMatchesBecomeList(t *testing.T) {
	ac := &aicontext.AgentContext{
		Products: []*store.Product{
			{ID: "p1", Name: "Blue Shirt", PriceCents: 2999, Currency: "USD"},
			{ID: "p2", Name: "Red Shirt", PriceCents: 2499, Currency: "USD"},
		},
	}

	b := NewBuilder(nil)
	out := b.Build("Both the Blue Shirt and the Red Shirt would suit you.", ac)

	payload, ok := out.Payload.(channel.ListPayload)
	require.True(t, ok)
	assert.Len(t, payload.Rows, 2)
}

func TestExtractBulletList(t *testing.T) {
	items, intro, ok := ExtractBulletList("Here you go:\n\n- one\n- two")
	require.True(t, ok)
	assert.Equal(t, "Here you go:", intro)
	assert.Equal(t, []string{"one", "two"}, items)

	_, _, ok = ExtractBulletList("No list here.")
	assert.False(t, ok)

	// Ordered lists are not bullet lists.
	_, _, ok = ExtractBulletList("1. one\n2. two")
	assert.False(t, ok)
}

func TestPlainTextStripsMarkdown(t *testing.T) {
	got := PlainText("**Bold** and *italic* text.\n\n- item one\n- item two")
	assert.Equal(t, "Bold and italic text.\n- item one\n- item two", got)
}
