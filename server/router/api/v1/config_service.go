package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conversia-ai/conversia/store"
)

type agentConfigurationBody struct {
	DisplayName   string            `json:"display_name"`
	PersonaTraits map[string]string `json:"persona_traits,omitempty"`
	Tone          string            `json:"tone"`

	DefaultModel   string   `json:"default_model,omitempty"`
	FallbackModels []string `json:"fallback_models,omitempty"`
	Temperature    float64  `json:"temperature"`
	MaxReplyLength int      `json:"max_reply_length"`

	Restrictions []string `json:"restrictions,omitempty"`
	Disclaimers  []string `json:"disclaimers,omitempty"`

	ConfidenceThreshold      float64  `json:"confidence_threshold"`
	AutoHandoffTopics        []string `json:"auto_handoff_topics,omitempty"`
	MaxLowConfidenceAttempts int      `json:"max_low_confidence_attempts"`

	SuggestionsEnabled        bool   `json:"suggestions_enabled"`
	SpellingCorrectionEnabled bool   `json:"spelling_correction_enabled"`
	RichMessagesEnabled       bool   `json:"rich_messages_enabled"`
	DocumentRetrievalEnabled  bool   `json:"document_retrieval_enabled"`
	DatabaseRetrievalEnabled  bool   `json:"database_retrieval_enabled"`
	InternetRetrievalEnabled  bool   `json:"internet_retrieval_enabled"`
	SourceAttributionEnabled  bool   `json:"source_attribution_enabled"`
	FeedbackCollectionEnabled bool   `json:"feedback_collection_enabled"`
	FeedbackFrequency         string `json:"feedback_frequency"`

	AgentCanDo    string `json:"agent_can_do,omitempty"`
	AgentCannotDo string `json:"agent_cannot_do,omitempty"`

	RetrievalCaps store.RetrievalCaps `json:"retrieval_caps"`

	Version   int32 `json:"version"`
	UpdatedTs int64 `json:"updated_ts,omitempty"`
}

func convertAgentConfiguration(cfg *store.AgentConfiguration) *agentConfigurationBody {
	return &agentConfigurationBody{
		DisplayName:               cfg.DisplayName,
		PersonaTraits:             cfg.PersonaTraits,
		Tone:                      string(cfg.Tone),
		DefaultModel:              cfg.DefaultModel,
		FallbackModels:            cfg.FallbackModels,
		Temperature:               cfg.Temperature,
		MaxReplyLength:            cfg.MaxReplyLength,
		Restrictions:              cfg.Restrictions,
		Disclaimers:               cfg.Disclaimers,
		ConfidenceThreshold:       cfg.ConfidenceThreshold,
		AutoHandoffTopics:         cfg.AutoHandoffTopics,
		MaxLowConfidenceAttempts:  cfg.MaxLowConfidenceAttempts,
		SuggestionsEnabled:        cfg.SuggestionsEnabled,
		SpellingCorrectionEnabled: cfg.SpellingCorrectionEnabled,
		RichMessagesEnabled:       cfg.RichMessagesEnabled,
		DocumentRetrievalEnabled:  cfg.DocumentRetrievalEnabled,
		DatabaseRetrievalEnabled:  cfg.DatabaseRetrievalEnabled,
		InternetRetrievalEnabled:  cfg.InternetRetrievalEnabled,
		SourceAttributionEnabled:  cfg.SourceAttributionEnabled,
		FeedbackCollectionEnabled: cfg.FeedbackCollectionEnabled,
		FeedbackFrequency:         string(cfg.FeedbackFrequency),
		AgentCanDo:                cfg.AgentCanDo,
		AgentCannotDo:             cfg.AgentCannotDo,
		RetrievalCaps:             cfg.RetrievalCaps,
		Version:                   cfg.Version,
		UpdatedTs:                 cfg.UpdatedTs,
	}
}

// GetAgentConfiguration returns the tenant's agent settings, falling back to
// defaults when none were saved yet.
func (s *APIV1Service) GetAgentConfiguration(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	cfg, err := s.Store.GetAgentConfiguration(c.Request().Context(), p.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertAgentConfiguration(cfg))
}

// UpdateAgentConfiguration replaces the tenant's agent settings. Omitted
// enum fields take the current values so a partial body cannot reset them.
func (s *APIV1Service) UpdateAgentConfiguration(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	current, err := s.Store.GetAgentConfiguration(c.Request().Context(), p.TenantID)
	if err != nil {
		return err
	}

	body := convertAgentConfiguration(current)
	if err := c.Bind(body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	upsert := &store.AgentConfiguration{
		TenantID:                  p.TenantID,
		DisplayName:               body.DisplayName,
		PersonaTraits:             body.PersonaTraits,
		Tone:                      store.Tone(body.Tone),
		DefaultModel:              body.DefaultModel,
		FallbackModels:            body.FallbackModels,
		Temperature:               body.Temperature,
		MaxReplyLength:            body.MaxReplyLength,
		Restrictions:              body.Restrictions,
		Disclaimers:               body.Disclaimers,
		ConfidenceThreshold:       body.ConfidenceThreshold,
		AutoHandoffTopics:         body.AutoHandoffTopics,
		MaxLowConfidenceAttempts:  body.MaxLowConfidenceAttempts,
		SuggestionsEnabled:        body.SuggestionsEnabled,
		SpellingCorrectionEnabled: body.SpellingCorrectionEnabled,
		RichMessagesEnabled:       body.RichMessagesEnabled,
		DocumentRetrievalEnabled:  body.DocumentRetrievalEnabled,
		DatabaseRetrievalEnabled:  body.DatabaseRetrievalEnabled,
		InternetRetrievalEnabled:  body.InternetRetrievalEnabled,
		SourceAttributionEnabled:  body.SourceAttributionEnabled,
		FeedbackCollectionEnabled: body.FeedbackCollectionEnabled,
		FeedbackFrequency:         store.FeedbackFrequency(body.FeedbackFrequency),
		AgentCanDo:                body.AgentCanDo,
		AgentCannotDo:             body.AgentCannotDo,
		RetrievalCaps:             body.RetrievalCaps,
		Version:                   current.Version + 1,
		CreatedTs:                 current.CreatedTs,
	}

	saved, err := s.Store.UpsertAgentConfiguration(c.Request().Context(), upsert)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertAgentConfiguration(saved))
}
