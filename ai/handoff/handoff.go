// Package handoff decides when a conversation leaves the agent for a human.
// Rules are evaluated in a fixed order; the first match fires and records its
// reason.
package handoff

import (
	"strings"

	"github.com/conversia-ai/conversia/store"
)

// Reason identifies why a conversation was handed off.
type Reason string

const (
	ReasonConsecutiveLowConfidence Reason = "consecutive_low_confidence"
	ReasonCustomerRequested        Reason = "customer_requested"
	ReasonAgentSuggested           Reason = "agent_suggested"
	ReasonAutoHandoffTopic         Reason = "auto_handoff_topic"
	ReasonSensitiveKeyword         Reason = "sensitive_keyword"

	// Reasons recorded by the orchestrator, outside rule evaluation.
	ReasonGroundingFailure Reason = "grounding_failure"
	ReasonProcessingError  Reason = "processing_error"
	ReasonManual           Reason = "manual"
)

// customerRequestPhrases is the closed list for rule 2.
var customerRequestPhrases = []string{
	"speak to a human",
	"speak with a human",
	"talk to a human",
	"talk to a person",
	"real person",
	"human agent",
	"customer service",
	"speak to an agent",
	"speak to someone",
	"representative",
}

// agentSuggestedPhrases is the closed list for rule 3.
var agentSuggestedPhrases = []string{
	"connect you with",
	"transfer you",
	"escalate",
	"hand you over",
	"a human will",
}

// sensitiveKeywords is the fixed list for rule 5, matched on word boundaries.
var sensitiveKeywords = []string{
	"refund", "complaint", "legal", "lawsuit", "lawyer", "sue",
	"fraud", "scam", "emergency", "urgent", "critical",
}

// Input is everything rule evaluation looks at for one turn.
type Input struct {
	Confidence float64
	// LowConfidenceCount is the consecutive low-confidence counter as stored
	// before this turn.
	LowConfidenceCount int
	LastInbound        string
	Reply              string
	Config             *store.AgentConfiguration
}

// Decision is the rule outcome. NextLowConfidenceCount is the counter value
// the caller persists: 0 on any handoff or confident turn.
type Decision struct {
	HandOff                bool
	Reason                 Reason
	NextLowConfidenceCount int
}

// Evaluate runs the rules in order against one turn.
func Evaluate(in *Input) *Decision {
	cfg := in.Config
	next := in.LowConfidenceCount
	if in.Confidence >= cfg.ConfidenceThreshold {
		next = 0
	}

	// Rule 1: consecutive low confidence.
	if in.Confidence < cfg.ConfidenceThreshold {
		if in.LowConfidenceCount >= cfg.MaxLowConfidenceAttempts-1 {
			return handoff(ReasonConsecutiveLowConfidence)
		}
		next = in.LowConfidenceCount + 1
	}

	inbound := strings.ToLower(in.LastInbound)
	reply := strings.ToLower(in.Reply)

	// Rule 2: explicit customer request.
	for _, phrase := range customerRequestPhrases {
		if strings.Contains(inbound, phrase) {
			return handoff(ReasonCustomerRequested)
		}
	}

	// Rule 3: the agent itself suggested escalation.
	for _, phrase := range agentSuggestedPhrases {
		if strings.Contains(reply, phrase) {
			return handoff(ReasonAgentSuggested)
		}
	}

	// Rule 4: tenant-configured topics.
	for _, topic := range cfg.AutoHandoffTopics {
		if topic != "" && strings.Contains(inbound, strings.ToLower(topic)) {
			return handoff(ReasonAutoHandoffTopic)
		}
	}

	// Rule 5: sensitive keywords.
	if containsKeyword(inbound, sensitiveKeywords) {
		return handoff(ReasonSensitiveKeyword)
	}

	return &Decision{NextLowConfidenceCount: next}
}

func handoff(reason Reason) *Decision {
	return &Decision{HandOff: true, Reason: reason}
}

// containsKeyword matches whole words so "sue" does not fire on "issue".
func containsKeyword(text string, keywords []string) bool {
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, ".,!?:;\"'()")
		for _, kw := range keywords {
			if w == kw {
				return true
			}
		}
	}
	return false
}
