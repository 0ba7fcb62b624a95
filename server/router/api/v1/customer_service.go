package v1

import (
	"bytes"
	"encoding/csv"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/conversia-ai/conversia/store"
)

type customerResponse struct {
	ID          string   `json:"id"`
	Phone       string   `json:"phone"`
	DisplayName string   `json:"display_name,omitempty"`
	Locale      string   `json:"locale,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	FirstSeenTs int64    `json:"first_seen_ts"`
	LastSeenTs  int64    `json:"last_seen_ts"`
}

func convertCustomer(cu *store.Customer, maskPII bool) *customerResponse {
	phone := cu.Phone
	name := cu.DisplayName
	if maskPII {
		phone = maskPhone(phone)
		name = maskName(name)
	}
	return &customerResponse{
		ID:          cu.ID,
		Phone:       phone,
		DisplayName: name,
		Locale:      cu.Locale,
		Tags:        cu.Tags,
		FirstSeenTs: cu.FirstSeenTs,
		LastSeenTs:  cu.LastSeenTs,
	}
}

// maskPhone keeps the last four digits.
func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	masked := make([]byte, len(phone)-4)
	for i := range masked {
		masked[i] = '*'
	}
	return string(masked) + phone[len(phone)-4:]
}

// maskName keeps the first rune.
func maskName(name string) string {
	runes := []rune(name)
	if len(runes) == 0 {
		return ""
	}
	return string(runes[0]) + "***"
}

// ListCustomers returns the tenant's customers, optionally filtered by tag.
func (s *APIV1Service) ListCustomers(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	find := &store.FindCustomer{
		TenantID: p.TenantID,
		Limit:    pageLimit(c),
	}
	if tag := c.QueryParam("tag"); tag != "" {
		find.Tag = &tag
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := parsePositiveInt(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset")
		}
		find.Offset = n
	}

	customers, err := s.Store.ListCustomers(c.Request().Context(), find)
	if err != nil {
		return err
	}
	out := make([]*customerResponse, 0, len(customers))
	for _, cu := range customers {
		out = append(out, convertCustomer(cu, false))
	}
	return c.JSON(http.StatusOK, out)
}

// GetCustomer returns one customer with their consent preferences.
func (s *APIV1Service) GetCustomer(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	id := c.Param("id")
	customer, err := s.Store.GetCustomer(c.Request().Context(), &store.FindCustomer{
		TenantID: p.TenantID,
		ID:       &id,
	})
	if err != nil {
		return err
	}

	prefs, err := s.Store.GetCustomerPreferences(c.Request().Context(), p.TenantID, customer.ID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"customer":    convertCustomer(customer, false),
		"preferences": convertPreferences(prefs),
	})
}

type preferencesResponse struct {
	Transactional bool  `json:"transactional"`
	Reminder      bool  `json:"reminder"`
	Promotional   bool  `json:"promotional"`
	UpdatedTs     int64 `json:"updated_ts,omitempty"`
}

func convertPreferences(p *store.CustomerPreferences) *preferencesResponse {
	return &preferencesResponse{
		Transactional: p.Transactional,
		Reminder:      p.Reminder,
		Promotional:   p.Promotional,
		UpdatedTs:     p.UpdatedTs,
	}
}

type updatePreferencesRequest struct {
	Reminder    *bool  `json:"reminder"`
	Promotional *bool  `json:"promotional"`
	Reason      string `json:"reason"`
}

// UpdateCustomerPreferences flips the revocable consent flags on behalf of
// the tenant. Transactional consent is not updatable.
func (s *APIV1Service) UpdateCustomerPreferences(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &updatePreferencesRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Reminder == nil && req.Promotional == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to update")
	}

	prefs, err := s.Store.UpdateCustomerPreferences(c.Request().Context(), &store.UpdateCustomerPreferences{
		TenantID:    p.TenantID,
		CustomerID:  c.Param("id"),
		Reminder:    req.Reminder,
		Promotional: req.Promotional,
		Source:      store.ConsentSourceTenant,
		Reason:      req.Reason,
		ChangedBy:   p.UserID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertPreferences(prefs))
}

type exportRequest struct {
	MaskPII               bool   `json:"mask_pii"`
	IncludeConversations  bool   `json:"include_conversations"`
	IncludeConsentHistory bool   `json:"include_consent_history"`
	Format                string `json:"format"`
}

type consentEventResponse struct {
	Kind      string `json:"kind"`
	Previous  bool   `json:"previous"`
	New       bool   `json:"new"`
	Source    string `json:"source"`
	Reason    string `json:"reason,omitempty"`
	ChangedBy string `json:"changed_by,omitempty"`
	CreatedTs int64  `json:"created_ts"`
}

type conversationExport struct {
	Conversation *conversationResponse `json:"conversation"`
	Messages     []*messageResponse    `json:"messages"`
}

type customerExport struct {
	Customer       *customerResponse       `json:"customer"`
	Preferences    *preferencesResponse    `json:"preferences"`
	Conversations  []*conversationExport   `json:"conversations,omitempty"`
	ConsentHistory []*consentEventResponse `json:"consent_history,omitempty"`
}

// ExportCustomer assembles a data export for one customer. JSON is the
// default; CSV flattens the message history.
func (s *APIV1Service) ExportCustomer(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &exportRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	switch req.Format {
	case "", "json", "csv":
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "format must be json or csv")
	}

	ctx := c.Request().Context()
	id := c.Param("id")
	customer, err := s.Store.GetCustomer(ctx, &store.FindCustomer{TenantID: p.TenantID, ID: &id})
	if err != nil {
		return err
	}
	prefs, err := s.Store.GetCustomerPreferences(ctx, p.TenantID, customer.ID)
	if err != nil {
		return err
	}

	export := &customerExport{
		Customer:    convertCustomer(customer, req.MaskPII),
		Preferences: convertPreferences(prefs),
	}

	if req.IncludeConversations {
		convs, err := s.Store.ListConversations(ctx, &store.FindConversation{
			TenantID:   p.TenantID,
			CustomerID: &customer.ID,
		})
		if err != nil {
			return err
		}
		for _, conv := range convs {
			msgs, err := s.Store.ListMessages(ctx, &store.FindMessage{
				TenantID:       p.TenantID,
				ConversationID: conv.ID,
			})
			if err != nil {
				return err
			}
			ce := &conversationExport{Conversation: convertConversation(conv)}
			for _, m := range msgs {
				ce.Messages = append(ce.Messages, convertMessage(m))
			}
			export.Conversations = append(export.Conversations, ce)
		}
	}

	if req.IncludeConsentHistory {
		events, err := s.Store.ListConsentEvents(ctx, &store.FindConsentEvent{
			TenantID:   p.TenantID,
			CustomerID: &customer.ID,
		})
		if err != nil {
			return err
		}
		for _, e := range events {
			export.ConsentHistory = append(export.ConsentHistory, &consentEventResponse{
				Kind:      string(e.Kind),
				Previous:  e.Previous,
				New:       e.New,
				Source:    string(e.Source),
				Reason:    e.Reason,
				ChangedBy: e.ChangedBy,
				CreatedTs: e.CreatedTs,
			})
		}
	}

	if req.Format == "csv" {
		return s.writeExportCSV(c, export)
	}
	return c.JSON(http.StatusOK, export)
}

// writeExportCSV flattens the export into message rows, preceded by one
// customer row.
func (s *APIV1Service) writeExportCSV(c echo.Context, export *customerExport) error {
	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)

	_ = w.Write([]string{"record", "id", "conversation_id", "direction", "type", "text", "created_ts"})
	_ = w.Write([]string{
		"customer", export.Customer.ID, "", "", "",
		export.Customer.DisplayName + " " + export.Customer.Phone,
		strconv.FormatInt(export.Customer.FirstSeenTs, 10),
	})
	for _, ce := range export.Conversations {
		for _, m := range ce.Messages {
			_ = w.Write([]string{
				"message", m.ID, ce.Conversation.ID, m.Direction, m.Type, m.Text,
				strconv.FormatInt(m.CreatedTs, 10),
			})
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="customer-export.csv"`)
	return c.Blob(http.StatusOK, "text/csv", buf.Bytes())
}
