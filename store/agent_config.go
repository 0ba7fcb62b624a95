package store

import "github.com/pkg/errors"

// Tone selects the agent's register. The four recognized values are fixed.
type Tone string

const (
	ToneProfessional Tone = "professional"
	ToneFriendly     Tone = "friendly"
	ToneCasual       Tone = "casual"
	ToneFormal       Tone = "formal"
)

// FeedbackFrequency controls how often the agent solicits feedback.
type FeedbackFrequency string

const (
	FeedbackNever     FeedbackFrequency = "never"
	FeedbackSometimes FeedbackFrequency = "sometimes"
	FeedbackAlways    FeedbackFrequency = "always"
)

// RetrievalCaps bounds how many results each retrieval source may contribute
// to a single turn.
type RetrievalCaps struct {
	Document int `json:"document"`
	Database int `json:"database"`
	Internet int `json:"internet"`
}

// AgentConfiguration is the per-tenant behavior contract for the agent,
// 1:1 with Tenant. Updates are validated and version-bumped.
type AgentConfiguration struct {
	TenantID string

	DisplayName   string
	PersonaTraits map[string]string
	Tone          Tone

	DefaultModel   string
	FallbackModels []string
	Temperature    float64
	MaxReplyLength int

	Restrictions []string
	Disclaimers  []string

	ConfidenceThreshold      float64
	AutoHandoffTopics        []string
	MaxLowConfidenceAttempts int

	SuggestionsEnabled        bool
	SpellingCorrectionEnabled bool
	RichMessagesEnabled       bool
	DocumentRetrievalEnabled  bool
	DatabaseRetrievalEnabled  bool
	InternetRetrievalEnabled  bool
	SourceAttributionEnabled  bool
	FeedbackCollectionEnabled bool
	FeedbackFrequency         FeedbackFrequency

	AgentCanDo    string
	AgentCannotDo string

	RetrievalCaps RetrievalCaps

	Version   int32
	CreatedTs int64
	UpdatedTs int64
}

// DefaultAgentConfiguration returns the configuration a tenant starts with
// before any explicit settings are saved.
func DefaultAgentConfiguration(tenantID string) *AgentConfiguration {
	return &AgentConfiguration{
		TenantID:                 tenantID,
		DisplayName:              "Assistant",
		PersonaTraits:            map[string]string{},
		Tone:                     ToneFriendly,
		Temperature:              0.7,
		MaxReplyLength:           500,
		ConfidenceThreshold:      0.7,
		MaxLowConfidenceAttempts: 2,
		FeedbackFrequency:        FeedbackNever,
		DatabaseRetrievalEnabled: true,
		RichMessagesEnabled:      true,
		RetrievalCaps:            RetrievalCaps{Document: 5, Database: 10, Internet: 3},
		Version:                  1,
	}
}

// Validate enforces the recognized ranges. It normalizes nothing; callers
// apply defaults before validating.
func (c *AgentConfiguration) Validate() error {
	if c.TenantID == "" {
		return errors.New("tenant id is required")
	}
	switch c.Tone {
	case ToneProfessional, ToneFriendly, ToneCasual, ToneFormal:
	default:
		return errors.Errorf("unrecognized tone %q", c.Tone)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return errors.Errorf("temperature %.2f out of range [0,2]", c.Temperature)
	}
	if c.MaxReplyLength < 50 || c.MaxReplyLength > 2000 {
		return errors.Errorf("max reply length %d out of range [50,2000]", c.MaxReplyLength)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return errors.Errorf("confidence threshold %.2f out of range [0,1]", c.ConfidenceThreshold)
	}
	if c.MaxLowConfidenceAttempts < 1 || c.MaxLowConfidenceAttempts > 10 {
		return errors.Errorf("max low-confidence attempts %d out of range [1,10]", c.MaxLowConfidenceAttempts)
	}
	switch c.FeedbackFrequency {
	case FeedbackNever, FeedbackSometimes, FeedbackAlways:
	default:
		return errors.Errorf("unrecognized feedback frequency %q", c.FeedbackFrequency)
	}
	if c.RetrievalCaps.Document < 0 || c.RetrievalCaps.Database < 0 || c.RetrievalCaps.Internet < 0 {
		return errors.New("retrieval caps must be non-negative")
	}
	return nil
}
