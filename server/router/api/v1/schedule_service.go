package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conversia-ai/conversia/store"
)

type scheduledMessageResponse struct {
	ID                string            `json:"id"`
	CustomerID        string            `json:"customer_id,omitempty"`
	Content           string            `json:"content,omitempty"`
	Template          string            `json:"template,omitempty"`
	ContextMap        map[string]string `json:"context,omitempty"`
	ScheduledTs       int64             `json:"scheduled_ts"`
	Status            string            `json:"status"`
	RecipientCriteria string            `json:"recipient_criteria,omitempty"`
	MessageType       string            `json:"message_type"`
	SentTs            *int64            `json:"sent_ts,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	CampaignID        string            `json:"campaign_id,omitempty"`
	VariantName       string            `json:"variant_name,omitempty"`
	CreatedTs         int64             `json:"created_ts"`
}

func convertScheduledMessage(m *store.ScheduledMessage) *scheduledMessageResponse {
	return &scheduledMessageResponse{
		ID:                m.ID,
		CustomerID:        m.CustomerID,
		Content:           m.Content,
		Template:          m.Template,
		ContextMap:        m.ContextMap,
		ScheduledTs:       m.ScheduledTs,
		Status:            string(m.Status),
		RecipientCriteria: m.RecipientCriteria,
		MessageType:       string(m.MessageType),
		SentTs:            m.SentTs,
		ErrorMessage:      m.ErrorMessage,
		CampaignID:        m.CampaignID,
		VariantName:       m.VariantName,
		CreatedTs:         m.CreatedTs,
	}
}

// ListScheduledMessages returns the tenant's scheduled messages, optionally
// filtered by status or campaign.
func (s *APIV1Service) ListScheduledMessages(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	find := &store.FindScheduledMessage{
		TenantID: &p.TenantID,
		Limit:    pageLimit(c),
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := store.ScheduleStatus(raw)
		switch status {
		case store.SchedulePending, store.ScheduleProcessing, store.ScheduleSent,
			store.ScheduleFailed, store.ScheduleCanceled:
		default:
			return echo.NewHTTPError(http.StatusBadRequest, "unrecognized schedule status "+raw)
		}
		find.Status = &status
	}
	if campaignID := c.QueryParam("campaign"); campaignID != "" {
		find.CampaignID = &campaignID
	}

	msgs, err := s.Store.ListScheduledMessages(c.Request().Context(), find)
	if err != nil {
		return err
	}
	out := make([]*scheduledMessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, convertScheduledMessage(m))
	}
	return c.JSON(http.StatusOK, out)
}

type createScheduledMessageRequest struct {
	CustomerID        string            `json:"customer_id"`
	Content           string            `json:"content"`
	Template          string            `json:"template"`
	Context           map[string]string `json:"context"`
	ScheduledTs       int64             `json:"scheduled_ts"`
	RecipientCriteria string            `json:"recipient_criteria"`
	MessageType       string            `json:"message_type"`
}

// CreateScheduledMessage schedules one outbound message, either targeted at
// a customer or as a broadcast seed carrying recipient criteria.
func (s *APIV1Service) CreateScheduledMessage(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &createScheduledMessageRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Content == "" && req.Template == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content or template is required")
	}
	if req.CustomerID == "" && req.RecipientCriteria == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "customer_id or recipient_criteria is required")
	}

	msg, err := s.Store.CreateScheduledMessage(c.Request().Context(), &store.ScheduledMessage{
		TenantID:          p.TenantID,
		CustomerID:        req.CustomerID,
		Content:           req.Content,
		Template:          req.Template,
		ContextMap:        req.Context,
		ScheduledTs:       req.ScheduledTs,
		RecipientCriteria: req.RecipientCriteria,
		MessageType:       store.MessageType(req.MessageType),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, convertScheduledMessage(msg))
}

// CancelScheduledMessage cancels a still-pending scheduled message. A row
// already claimed or sent is a conflict.
func (s *APIV1Service) CancelScheduledMessage(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	if _, err := s.Store.GetScheduledMessage(c.Request().Context(), &store.FindScheduledMessage{
		TenantID: &p.TenantID,
		ID:       &id,
	}); err != nil {
		return err
	}

	won, err := s.Store.MarkDispatch(c.Request().Context(), &store.MarkDispatch{
		ID:       id,
		Expected: store.SchedulePending,
		To:       store.ScheduleCanceled,
	})
	if err != nil {
		return err
	}
	if !won {
		return echo.NewHTTPError(http.StatusConflict, "scheduled message is no longer pending")
	}
	return c.NoContent(http.StatusNoContent)
}

type campaignResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	TargetCriteria  string `json:"target_criteria,omitempty"`
	DefaultContent  string `json:"default_content,omitempty"`
	Status          string `json:"status"`
	ScheduledTs     int64  `json:"scheduled_ts,omitempty"`
	TotalRecipients int    `json:"total_recipients"`
	SentCount       int    `json:"sent_count"`
	DeliveredCount  int    `json:"delivered_count"`
	FailedCount     int    `json:"failed_count"`
	ReadCount       int    `json:"read_count"`
	ResponseCount   int    `json:"response_count"`
	ConversionCount int    `json:"conversion_count"`
	StartedTs       *int64 `json:"started_ts,omitempty"`
	CompletedTs     *int64 `json:"completed_ts,omitempty"`
	CreatedTs       int64  `json:"created_ts"`
}

func convertCampaign(cp *store.MessageCampaign) *campaignResponse {
	return &campaignResponse{
		ID:              cp.ID,
		Name:            cp.Name,
		TargetCriteria:  cp.TargetCriteria,
		DefaultContent:  cp.DefaultContent,
		Status:          string(cp.Status),
		ScheduledTs:     cp.ScheduledTs,
		TotalRecipients: cp.TotalRecipients,
		SentCount:       cp.SentCount,
		DeliveredCount:  cp.DeliveredCount,
		FailedCount:     cp.FailedCount,
		ReadCount:       cp.ReadCount,
		ResponseCount:   cp.ResponseCount,
		ConversionCount: cp.ConversionCount,
		StartedTs:       cp.StartedTs,
		CompletedTs:     cp.CompletedTs,
		CreatedTs:       cp.CreatedTs,
	}
}

// ListCampaigns returns the tenant's campaigns.
func (s *APIV1Service) ListCampaigns(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	find := &store.FindCampaign{
		TenantID: p.TenantID,
		Limit:    pageLimit(c),
	}
	if raw := c.QueryParam("status"); raw != "" {
		status := store.CampaignStatus(raw)
		find.Status = &status
	}

	campaigns, err := s.Store.ListCampaigns(c.Request().Context(), find)
	if err != nil {
		return err
	}
	out := make([]*campaignResponse, 0, len(campaigns))
	for _, cp := range campaigns {
		out = append(out, convertCampaign(cp))
	}
	return c.JSON(http.StatusOK, out)
}

type campaignVariantRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type createCampaignRequest struct {
	Name           string                   `json:"name"`
	TargetCriteria string                   `json:"target_criteria"`
	DefaultContent string                   `json:"default_content"`
	ScheduledTs    int64                    `json:"scheduled_ts"`
	Variants       []campaignVariantRequest `json:"variants"`
}

// CreateCampaign creates a draft campaign, optionally with A/B variants.
func (s *APIV1Service) CreateCampaign(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &createCampaignRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.DefaultContent == "" && len(req.Variants) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "default_content or variants are required")
	}
	for _, v := range req.Variants {
		if v.Name == "" || v.Content == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "variants need a name and content")
		}
	}

	ctx := c.Request().Context()
	campaign, err := s.Store.CreateCampaign(ctx, &store.MessageCampaign{
		TenantID:       p.TenantID,
		Name:           req.Name,
		TargetCriteria: req.TargetCriteria,
		DefaultContent: req.DefaultContent,
		ScheduledTs:    req.ScheduledTs,
		CreatorID:      p.UserID,
	})
	if err != nil {
		return err
	}
	for _, v := range req.Variants {
		if _, err := s.Store.CreateCampaignVariant(ctx, &store.CampaignVariant{
			TenantID:   p.TenantID,
			CampaignID: campaign.ID,
			Name:       v.Name,
			Content:    v.Content,
		}); err != nil {
			return err
		}
	}
	return c.JSON(http.StatusCreated, convertCampaign(campaign))
}

// ScheduleCampaign moves a draft campaign to scheduled. The dispatcher
// expands recipients once the scheduled time arrives.
func (s *APIV1Service) ScheduleCampaign(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	campaign, err := s.Store.GetCampaign(ctx, &store.FindCampaign{TenantID: p.TenantID, ID: &id})
	if err != nil {
		return err
	}
	if campaign.Status != store.CampaignDraft {
		return echo.NewHTTPError(http.StatusConflict, "only draft campaigns can be scheduled")
	}
	if campaign.ScheduledTs <= store.NowTs() {
		return echo.NewHTTPError(http.StatusBadRequest, "campaign scheduled time must be in the future")
	}

	updated, err := s.Store.TransitionCampaign(ctx, &store.CampaignTransition{
		TenantID: p.TenantID,
		ID:       campaign.ID,
		From:     store.CampaignDraft,
		To:       store.CampaignScheduled,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertCampaign(updated))
}
