package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conversia-ai/conversia/store"
)

type conversationResponse struct {
	ID                   string         `json:"id"`
	CustomerID           string         `json:"customer_id"`
	Channel              string         `json:"channel"`
	State                string         `json:"state"`
	LastIntent           string         `json:"last_intent,omitempty"`
	LastIntentConfidence float64        `json:"last_intent_confidence,omitempty"`
	LowConfidenceCount   int            `json:"low_confidence_count"`
	AssignedAgentID      string         `json:"assigned_agent_id,omitempty"`
	HandoffTs            *int64         `json:"handoff_ts,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	CreatedTs            int64          `json:"created_ts"`
	UpdatedTs            int64          `json:"updated_ts"`
	LastMessageTs        int64          `json:"last_message_ts"`
}

func convertConversation(c *store.Conversation) *conversationResponse {
	return &conversationResponse{
		ID:                   c.ID,
		CustomerID:           c.CustomerID,
		Channel:              c.Channel,
		State:                string(c.State),
		LastIntent:           c.LastIntent,
		LastIntentConfidence: c.LastIntentConfidence,
		LowConfidenceCount:   c.LowConfidenceCount,
		AssignedAgentID:      c.AssignedAgentID,
		HandoffTs:            c.HandoffTs,
		Metadata:             c.Metadata,
		CreatedTs:            c.CreatedTs,
		UpdatedTs:            c.UpdatedTs,
		LastMessageTs:        c.LastMessageTs,
	}
}

// ListConversations returns the tenant's conversations, optionally filtered
// by state and customer.
func (s *APIV1Service) ListConversations(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	find := &store.FindConversation{
		TenantID: p.TenantID,
		Limit:    pageLimit(c),
	}
	if raw := c.QueryParam("state"); raw != "" {
		state := store.ConversationState(raw)
		switch state {
		case store.ConversationOpen, store.ConversationBotHandled,
			store.ConversationHandedOff, store.ConversationClosed,
			store.ConversationDormant:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unrecognized conversation state "+raw)
		}
		find.State = &state
	}
	if customerID := c.QueryParam("customer"); customerID != "" {
		find.CustomerID = &customerID
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		find.Offset = n
	}

	convs, err := s.Store.ListConversations(c.Request().Context(), find)
	if err != nil {
		return err
	}
	out := make([]*conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, convertConversation(conv))
	}
	return c.JSON(http.StatusOK, out)
}

// GetConversation returns one conversation by id.
func (s *APIV1Service) GetConversation(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	conv, err := s.Store.GetConversation(c.Request().Context(), &store.FindConversation{
		TenantID: p.TenantID,
		ID:       &id,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertConversation(conv))
}

type messageResponse struct {
	ID                string `json:"id"`
	Seq               int64  `json:"seq"`
	Direction         string `json:"direction"`
	Type              string `json:"type"`
	Text              string `json:"text"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	DeliveryStatus    string `json:"delivery_status,omitempty"`
	SentTs            *int64 `json:"sent_ts,omitempty"`
	DeliveredTs       *int64 `json:"delivered_ts,omitempty"`
	ReadTs            *int64 `json:"read_ts,omitempty"`
	FailedTs          *int64 `json:"failed_ts,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	CreatedTs         int64  `json:"created_ts"`
}

func convertMessage(m *store.Message) *messageResponse {
	return &messageResponse{
		ID:                m.ID,
		Seq:               m.Seq,
		Direction:         string(m.Direction),
		Type:              string(m.Type),
		Text:              m.Text,
		ProviderMessageID: m.ProviderMessageID,
		DeliveryStatus:    string(m.DeliveryStatus),
		SentTs:            m.SentTs,
		DeliveredTs:       m.DeliveredTs,
		ReadTs:            m.ReadTs,
		FailedTs:          m.FailedTs,
		ErrorMessage:      m.ErrorMessage,
		CreatedTs:         m.CreatedTs,
	}
}

// ListConversationMessages returns the most recent messages of one
// conversation in chronological order.
func (s *APIV1Service) ListConversationMessages(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	msgs, err := s.Store.ListMessages(c.Request().Context(), &store.FindMessage{
		TenantID:       p.TenantID,
		ConversationID: c.Param("id"),
		Limit:          pageLimit(c),
	})
	if err != nil {
		return err
	}
	out := make([]*messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertMessage(m))
	}
	return c.JSON(http.StatusOK, out)
}

type handoffRequest struct {
	Reason string `json:"reason"`
}

// HandoffConversation moves a conversation to handed_off on an operator's
// explicit request. Already handed-off or closed conversations are a
// conflict.
func (s *APIV1Service) HandoffConversation(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &handoffRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual"
	}

	conv, err := s.Store.TransitionConversationState(c.Request().Context(), &store.ConversationTransition{
		TenantID: p.TenantID,
		ID:       c.Param("id"),
		From: []store.ConversationState{
			store.ConversationOpen, store.ConversationBotHandled, store.ConversationDormant,
		},
		To:     store.ConversationHandedOff,
		Reason: reason,
	})
	if err != nil {
		return err
	}

	if err := s.Store.ResetLowConfidence(c.Request().Context(), p.TenantID, conv.ID); err != nil {
		return err
	}
	conv.LowConfidenceCount = 0
	if s.Metrics != nil {
		s.Metrics.RecordHandoff("manual")
	}
	return c.JSON(http.StatusOK, convertConversation(conv))
}
