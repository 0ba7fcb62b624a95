package v1

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/store"
)

// SignatureHeader carries the gateway's HMAC-SHA256 hex signature of the
// request body.
const SignatureHeader = "X-Signature"

// maxWebhookBody bounds how much of an inbound event body is read.
const maxWebhookBody = 1 << 20

// webhookEnvelope is the inbound event batch from the channel gateway.
type webhookEnvelope struct {
	ChannelNumber string         `json:"channel_number"`
	Channel       string         `json:"channel"` // e.g. "whatsapp", "telegram"
	Events        []webhookEvent `json:"events"`
}

type webhookEvent struct {
	Type string `json:"type"` // "message" or "status"

	// Message events.
	From        string `json:"from"`
	DisplayName string `json:"display_name"`
	Text        string `json:"text"`

	// Status events.
	Status string `json:"status"`
	Error  string `json:"error"`

	ProviderMessageID string `json:"provider_message_id"`
	Timestamp         int64  `json:"timestamp"`
}

// HandleChannelWebhook ingests signed channel events. A bad signature drops
// the whole batch with 401; per-event failures are logged and skipped so one
// malformed event cannot poison the rest of the batch.
func (s *APIV1Service) HandleChannelWebhook(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	if err := channel.VerifySignature([]byte(s.Secret), body, c.Request().Header.Get(SignatureHeader)); err != nil {
		return err
	}

	envelope := &webhookEnvelope{}
	if err := json.Unmarshal(body, envelope); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed event envelope")
	}
	if envelope.ChannelNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "channel_number is required")
	}

	ctx := c.Request().Context()
	tenant, err := s.Store.GetTenantByChannelNumber(ctx, envelope.ChannelNumber)
	if err != nil {
		return err
	}
	if tenant.ID != c.Param("tenant") {
		return errors.Wrap(errdef.ErrUnknownTenant, "tenant does not own this channel")
	}
	if tenant.Status != store.TenantStatusActive {
		return echo.NewHTTPError(http.StatusForbidden, "tenant is suspended")
	}

	accepted := 0
	for _, event := range envelope.Events {
		switch event.Type {
		case "message":
			err = s.ingestInboundMessage(c, tenant, envelope.Channel, &event)
		case "status":
			err = s.applyDeliveryStatus(c, tenant, &event)
		default:
			slog.Warn("webhook: unrecognized event type", "tenant", tenant.ID, "type", event.Type)
			continue
		}
		if err != nil {
			slog.Warn("webhook: event processing failed",
				"tenant", tenant.ID, "type", event.Type, "error", err)
			continue
		}
		accepted++
	}

	return c.JSON(http.StatusOK, map[string]int{"accepted": accepted})
}

func (s *APIV1Service) ingestInboundMessage(c echo.Context, tenant *store.Tenant, channelName string, event *webhookEvent) error {
	if event.From == "" || event.Text == "" {
		return errors.New("message event needs from and text")
	}
	if channelName == "" {
		channelName = "whatsapp"
	}

	ctx := c.Request().Context()
	customer, err := s.Store.GetOrCreateCustomerByPhone(ctx, tenant.ID, event.From, event.DisplayName)
	if err != nil {
		return errors.Wrap(err, "failed to resolve customer")
	}
	conv, err := s.Store.GetOrCreateConversation(ctx, tenant.ID, customer.ID, channelName)
	if err != nil {
		return errors.Wrap(err, "failed to resolve conversation")
	}

	msg, err := s.Store.AppendMessage(ctx, &store.Message{
		TenantID:          tenant.ID,
		ConversationID:    conv.ID,
		Direction:         store.DirectionIn,
		Type:              store.MessageCustomerInbound,
		Text:              event.Text,
		ProviderMessageID: event.ProviderMessageID,
	})
	if err != nil {
		return errors.Wrap(err, "failed to append inbound message")
	}

	// Handed-off conversations still record inbound traffic for the human
	// operator, but the agent pipeline is not armed.
	if s.Harmonizer == nil || conv.State == store.ConversationHandedOff {
		return nil
	}
	return s.Harmonizer.Ingest(ctx, tenant.ID, conv.ID, msg.ID, event.Text)
}

func (s *APIV1Service) applyDeliveryStatus(c echo.Context, tenant *store.Tenant, event *webhookEvent) error {
	if event.ProviderMessageID == "" {
		return errors.New("status event needs provider_message_id")
	}
	status := store.DeliveryStatus(event.Status)
	switch status {
	case store.DeliverySent, store.DeliveryDelivered, store.DeliveryRead, store.DeliveryFailed:
	default:
		return errors.Errorf("unrecognized delivery status %q", event.Status)
	}
	statusTs := event.Timestamp
	if statusTs == 0 {
		statusTs = store.NowTs()
	}

	_, err := s.Store.UpdateMessageDelivery(c.Request().Context(), &store.UpdateMessageDelivery{
		TenantID:          tenant.ID,
		ProviderMessageID: &event.ProviderMessageID,
		Status:            status,
		StatusTs:          statusTs,
		ErrorMessage:      event.Error,
	})
	return err
}
