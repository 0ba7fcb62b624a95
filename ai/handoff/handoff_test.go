package handoff

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conversia-ai/conversia/store"
)

func testInput() *Input {
	cfg := store.DefaultAgentConfiguration("t1") // threshold 0.7, max attempts 2
	return &Input{
		Confidence:  0.9,
		LastInbound: "how much is the blue shirt?",
		Reply:       "It costs $29.99.",
		Config:      cfg,
	}
}

func TestLowConfidenceCounter(t *testing.T) {
	in := testInput()
	in.Confidence = 0.5

	// First low-confidence turn increments the counter without handing off.
	d := Evaluate(in)
	assert.False(t, d.HandOff)
	assert.Equal(t, 1, d.NextLowConfidenceCount)

	// Second consecutive low-confidence turn hands off and resets.
	in.LowConfidenceCount = 1
	d = Evaluate(in)
	assert.True(t, d.HandOff)
	assert.Equal(t, ReasonConsecutiveLowConfidence, d.Reason)
	assert.Equal(t, 0, d.NextLowConfidenceCount)
}

func TestConfidentTurnResetsCounter(t *testing.T) {
	in := testInput()
	in.LowConfidenceCount = 1

	d := Evaluate(in)
	assert.False(t, d.HandOff)
	assert.Equal(t, 0, d.NextLowConfidenceCount)
}

func TestCustomerRequestedHandoff(t *testing.T) {
	in := testInput()
	in.LastInbound = "I want to speak to a human please"

	d := Evaluate(in)
	assert.True(t, d.HandOff)
	assert.Equal(t, ReasonCustomerRequested, d.Reason)
}

func TestAgentSuggestedHandoff(t *testing.T) {
	in := testInput()
	in.Reply = "Let me connect you with a colleague who can help."

	d := Evaluate(in)
	assert.True(t, d.HandOff)
	assert.Equal(t, ReasonAgentSuggested, d.Reason)
}

func TestAutoHandoffTopic(t *testing.T) {
	in := testInput()
	in.Config.AutoHandoffTopics = []string{"warranty claim"}
	in.LastInbound = "I need help with a warranty claim for my order"

	d := Evaluate(in)
	assert.True(t, d.HandOff)
	assert.Equal(t, ReasonAutoHandoffTopic, d.Reason)
}

func TestSensitiveKeyword(t *testing.T) {
	in := testInput()
	in.LastInbound = "this is urgent, my order never arrived"

	d := Evaluate(in)
	assert.True(t, d.HandOff)
	assert.Equal(t, ReasonSensitiveKeyword, d.Reason)
}

func TestSensitiveKeywordWholeWordOnly(t *testing.T) {
	in := testInput()
	// "issue" contains "sue" but must not fire rule 5.
	in.LastInbound = "I have an issue with sizing"

	d := Evaluate(in)
	assert.False(t, d.HandOff)
}

func TestRuleOrder(t *testing.T) {
	// Low confidence at the attempt limit outranks a sensitive keyword.
	in := testInput()
	in.Confidence = 0.5
	in.LowConfidenceCount = 1
	in.LastInbound = "urgent: speak to a human about a refund"

	d := Evaluate(in)
	assert.True(t, d.HandOff)
	assert.Equal(t, ReasonConsecutiveLowConfidence, d.Reason)

	// Below the limit, rule 2 fires before rules 4 and 5.
	in.LowConfidenceCount = 0
	d = Evaluate(in)
	assert.True(t, d.HandOff)
	assert.Equal(t, ReasonCustomerRequested, d.Reason)
}

func TestNoRuleMatches(t *testing.T) {
	d := Evaluate(testInput())
	assert.False(t, d.HandOff)
	assert.Empty(t, string(d.Reason))
	assert.Equal(t, 0, d.NextLowConfidenceCount)
}
