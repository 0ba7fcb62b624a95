package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/internal/profile"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/server/auth"
	"github.com/conversia-ai/conversia/store"
	"github.com/conversia-ai/conversia/store/db/sqlite"
)

const testSecret = "test-secret"

type testAPI struct {
	echo    *echo.Echo
	service *APIV1Service
	store   *store.Store
	tenant  *store.Tenant
	token   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	p := &profile.Profile{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
		Secret: testSecret,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	tenant, err := st.CreateTenant(context.Background(), &store.Tenant{
		Name:          "Acme Boutique",
		ChannelNumber: "+5511999990000",
	})
	require.NoError(t, err)
	_, err = st.UpsertTenantMember(context.Background(), &store.TenantMember{
		TenantID: tenant.ID,
		UserID:   "u1",
		Role:     store.TenantMemberRoleOwner,
	})
	require.NoError(t, err)

	token, err := auth.IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	svc := NewAPIV1Service(testSecret, st, nil, nil, nil)
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler
	svc.Register(e)

	return &testAPI{echo: e, service: svc, store: st, tenant: tenant, token: token}
}

func (a *testAPI) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+a.token)
	req.Header.Set(auth.TenantHeader, a.tenant.ID)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (a *testAPI) seedConversation(t *testing.T) (*store.Customer, *store.Conversation) {
	t.Helper()
	customer, err := a.store.CreateCustomer(context.Background(), &store.Customer{
		TenantID:    a.tenant.ID,
		Phone:       "+5511988887777",
		DisplayName: "Maria",
	})
	require.NoError(t, err)
	conv, err := a.store.CreateConversation(context.Background(), &store.Conversation{
		TenantID:   a.tenant.ID,
		CustomerID: customer.ID,
		Channel:    "whatsapp",
	})
	require.NoError(t, err)
	return customer, conv
}

func TestRequestsWithoutCredentialAreRejected(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", http.NoBody)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "unauthorized", body["code"])
}

func TestListAndGetConversations(t *testing.T) {
	a := newTestAPI(t)
	customer, conv := a.seedConversation(t)

	rec := a.request(t, http.MethodGet, "/api/v1/conversations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]*conversationResponse](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, conv.ID, list[0].ID)
	assert.Equal(t, customer.ID, list[0].CustomerID)
	assert.Equal(t, "open", list[0].State)

	rec = a.request(t, http.MethodGet, "/api/v1/conversations?state=handed_off", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]*conversationResponse](t, rec))

	rec = a.request(t, http.MethodGet, "/api/v1/conversations/"+conv.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.request(t, http.MethodGet, "/api/v1/conversations/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualHandoff(t *testing.T) {
	a := newTestAPI(t)
	_, conv := a.seedConversation(t)

	rec := a.request(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/handoff",
		map[string]string{"reason": "customer asked for a human"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[*conversationResponse](t, rec)
	assert.Equal(t, "handed_off", body.State)
	assert.Zero(t, body.LowConfidenceCount)

	// A second handoff finds no eligible source state.
	rec = a.request(t, http.MethodPost, "/api/v1/conversations/"+conv.ID+"/handoff", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	a := newTestAPI(t)

	body := []byte(`{"channel_number":"+5511999990000","events":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel/"+a.tenant.ID, bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "signature_invalid", resp["code"])
}

func TestWebhookIngestsInboundMessage(t *testing.T) {
	a := newTestAPI(t)

	body, err := json.Marshal(&webhookEnvelope{
		ChannelNumber: "+5511999990000",
		Channel:       "whatsapp",
		Events: []webhookEvent{{
			Type:              "message",
			From:              "+5511988887777",
			DisplayName:       "Maria",
			Text:              "hi, do you have the blue shirt?",
			ProviderMessageID: "wamid-1",
		}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel/"+a.tenant.ID, bytes.NewReader(body))
	req.Header.Set(SignatureHeader, channel.Sign([]byte(testSecret), body))
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[map[string]int](t, rec)
	assert.Equal(t, 1, resp["accepted"])

	phone := "+5511988887777"
	customer, err := a.store.GetCustomer(context.Background(), &store.FindCustomer{
		TenantID: a.tenant.ID,
		Phone:    &phone,
	})
	require.NoError(t, err)
	convs, err := a.store.ListConversations(context.Background(), &store.FindConversation{
		TenantID:   a.tenant.ID,
		CustomerID: &customer.ID,
	})
	require.NoError(t, err)
	require.Len(t, convs, 1)

	msgs, err := a.store.ListMessages(context.Background(), &store.FindMessage{
		TenantID:       a.tenant.ID,
		ConversationID: convs[0].ID,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.DirectionIn, msgs[0].Direction)
	assert.Equal(t, store.MessageCustomerInbound, msgs[0].Type)
	assert.Equal(t, "wamid-1", msgs[0].ProviderMessageID)
}

func TestWebhookDeliveryStatusAdvances(t *testing.T) {
	a := newTestAPI(t)
	_, conv := a.seedConversation(t)

	sentTs := store.NowTs()
	_, err := a.store.AppendMessage(context.Background(), &store.Message{
		TenantID:          a.tenant.ID,
		ConversationID:    conv.ID,
		Direction:         store.DirectionOut,
		Type:              store.MessageBotResponse,
		Text:              "We do!",
		ProviderMessageID: "wamid-out-1",
		DeliveryStatus:    store.DeliverySent,
		SentTs:            &sentTs,
	})
	require.NoError(t, err)

	body, err := json.Marshal(&webhookEnvelope{
		ChannelNumber: "+5511999990000",
		Events: []webhookEvent{{
			Type:              "status",
			Status:            "delivered",
			ProviderMessageID: "wamid-out-1",
		}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/channel/"+a.tenant.ID, bytes.NewReader(body))
	req.Header.Set(SignatureHeader, channel.Sign([]byte(testSecret), body))
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	msgs, err := a.store.ListMessages(context.Background(), &store.FindMessage{
		TenantID:       a.tenant.ID,
		ConversationID: conv.ID,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.DeliveryDelivered, msgs[0].DeliveryStatus)
}

func TestAPIKeyLifecycle(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodPost, "/api/v1/settings/api-keys", map[string]string{"label": "ci"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[*apiKeyResponse](t, rec)
	require.NotEmpty(t, created.Plaintext)
	assert.Equal(t, created.Plaintext[:8], created.Prefix)

	// The plaintext never appears again.
	rec = a.request(t, http.MethodGet, "/api/v1/settings/api-keys", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decodeBody[[]*apiKeyResponse](t, rec)
	require.Len(t, listed, 1)
	assert.Empty(t, listed[0].Plaintext)

	// The key authenticates as the tenant without the tenant header.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+created.Plaintext)
	keyRec := httptest.NewRecorder()
	a.echo.ServeHTTP(keyRec, req)
	assert.Equal(t, http.StatusOK, keyRec.Code)

	rec = a.request(t, http.MethodDelete, "/api/v1/settings/api-keys/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversations", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+created.Plaintext)
	keyRec = httptest.NewRecorder()
	a.echo.ServeHTTP(keyRec, req)
	assert.Equal(t, http.StatusUnauthorized, keyRec.Code)
}

func TestKnowledgeLifecycle(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodPost, "/api/v1/knowledge", map[string]any{
		"kind":    "faq",
		"title":   "Return policy",
		"content": "Returns are accepted within 30 days.",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[*knowledgeResponse](t, rec)
	assert.Equal(t, int32(1), created.Version)
	assert.True(t, created.Active)

	rec = a.request(t, http.MethodPut, "/api/v1/knowledge/"+created.ID, map[string]any{
		"content": "Returns are accepted within 60 days.",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[*knowledgeResponse](t, rec)
	assert.Equal(t, int32(2), updated.Version)
	assert.Contains(t, updated.Content, "60 days")

	rec = a.request(t, http.MethodDelete, "/api/v1/knowledge/"+created.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.request(t, http.MethodGet, "/api/v1/knowledge", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]*knowledgeResponse](t, rec))

	rec = a.request(t, http.MethodGet, "/api/v1/knowledge?include_inactive=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]*knowledgeResponse](t, rec), 1)
}

func TestCatalogCreateAndList(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodPost, "/api/v1/catalog/products", map[string]any{
		"name":        "Blue Shirt",
		"price_cents": 2999,
		"currency":    "BRL",
		"stock":       4,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = a.request(t, http.MethodPost, "/api/v1/catalog/services", map[string]any{
		"name":             "Tailoring",
		"price_cents":      5000,
		"duration_minutes": 45,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	service := decodeBody[*serviceResponse](t, rec)
	assert.Equal(t, "USD", service.Currency)

	rec = a.request(t, http.MethodGet, "/api/v1/catalog/products?q=blue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decodeBody[[]*productResponse](t, rec)
	require.Len(t, products, 1)
	assert.Equal(t, int64(2999), products[0].PriceCents)
}

func TestAgentConfigurationRoundtrip(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodGet, "/api/v1/settings/agent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	defaults := decodeBody[*agentConfigurationBody](t, rec)
	assert.Equal(t, "friendly", defaults.Tone)
	assert.InDelta(t, 0.7, defaults.ConfidenceThreshold, 1e-9)

	rec = a.request(t, http.MethodPut, "/api/v1/settings/agent", map[string]any{
		"tone":        "formal",
		"temperature": 9.0,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.request(t, http.MethodPut, "/api/v1/settings/agent", map[string]any{
		"tone":                 "formal",
		"confidence_threshold": 0.8,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decodeBody[*agentConfigurationBody](t, rec)
	assert.Equal(t, "formal", saved.Tone)
	assert.InDelta(t, 0.8, saved.ConfidenceThreshold, 1e-9)
	// Omitted fields keep their previous values.
	assert.Equal(t, defaults.MaxReplyLength, saved.MaxReplyLength)
	assert.Equal(t, defaults.Version+1, saved.Version)
}

func TestScheduledMessageCancel(t *testing.T) {
	a := newTestAPI(t)
	customer, _ := a.seedConversation(t)

	rec := a.request(t, http.MethodPost, "/api/v1/scheduled-messages", map[string]any{
		"customer_id":  customer.ID,
		"content":      "Your appointment is tomorrow.",
		"scheduled_ts": store.NowTs() + 3600,
		"message_type": "automated_reminder",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[*scheduledMessageResponse](t, rec)
	assert.Equal(t, "pending", created.Status)

	rec = a.request(t, http.MethodPost, "/api/v1/scheduled-messages/"+created.ID+"/cancel", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Already canceled rows cannot be canceled again.
	rec = a.request(t, http.MethodPost, "/api/v1/scheduled-messages/"+created.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduledMessageRejectsPastTime(t *testing.T) {
	a := newTestAPI(t)
	customer, _ := a.seedConversation(t)

	rec := a.request(t, http.MethodPost, "/api/v1/scheduled-messages", map[string]any{
		"customer_id":  customer.ID,
		"content":      "too late",
		"scheduled_ts": store.NowTs() - 60,
		"message_type": "automated_reminder",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCampaignScheduleFlow(t *testing.T) {
	a := newTestAPI(t)

	rec := a.request(t, http.MethodPost, "/api/v1/campaigns", map[string]any{
		"name":            "Spring sale",
		"target_criteria": `"vip" in customer.tags`,
		"default_content": "Spring sale starts {{date}}!",
		"scheduled_ts":    store.NowTs() + 3600,
		"variants": []map[string]string{
			{"name": "A", "content": "Spring sale! 10% off."},
			{"name": "B", "content": "Spring sale! Free shipping."},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[*campaignResponse](t, rec)
	assert.Equal(t, "draft", created.Status)

	variants, err := a.store.ListCampaignVariants(context.Background(), &store.FindCampaignVariant{
		TenantID:   a.tenant.ID,
		CampaignID: created.ID,
	})
	require.NoError(t, err)
	assert.Len(t, variants, 2)

	rec = a.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/schedule", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	scheduled := decodeBody[*campaignResponse](t, rec)
	assert.Equal(t, "scheduled", scheduled.Status)

	// draft -> scheduled happened already; scheduling again is a conflict.
	rec = a.request(t, http.MethodPost, "/api/v1/campaigns/"+created.ID+"/schedule", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCustomerExportMasksPII(t *testing.T) {
	a := newTestAPI(t)
	customer, conv := a.seedConversation(t)

	_, err := a.store.AppendMessage(context.Background(), &store.Message{
		TenantID:       a.tenant.ID,
		ConversationID: conv.ID,
		Direction:      store.DirectionIn,
		Type:           store.MessageCustomerInbound,
		Text:           "hello",
	})
	require.NoError(t, err)

	rec := a.request(t, http.MethodPost, "/api/v1/customers/"+customer.ID+"/export", map[string]any{
		"mask_pii":              true,
		"include_conversations": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	export := decodeBody[*customerExport](t, rec)

	assert.NotEqual(t, customer.Phone, export.Customer.Phone)
	assert.Equal(t, "7777", export.Customer.Phone[len(export.Customer.Phone)-4:])
	assert.Equal(t, "M***", export.Customer.DisplayName)
	require.Len(t, export.Conversations, 1)
	require.Len(t, export.Conversations[0].Messages, 1)
}

func TestConsentPreferencesUpdateWritesAudit(t *testing.T) {
	a := newTestAPI(t)
	customer, _ := a.seedConversation(t)

	rec := a.request(t, http.MethodPut, "/api/v1/customers/"+customer.ID+"/preferences", map[string]any{
		"promotional": true,
		"reason":      "opted in at checkout",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	prefs := decodeBody[*preferencesResponse](t, rec)
	assert.True(t, prefs.Promotional)
	assert.True(t, prefs.Transactional)

	events, err := a.store.ListConsentEvents(context.Background(), &store.FindConsentEvent{
		TenantID:   a.tenant.ID,
		CustomerID: &customer.ID,
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, store.ConsentPromotional, events[0].Kind)
	assert.False(t, events[0].Previous)
	assert.True(t, events[0].New)
	assert.Equal(t, store.ConsentSourceTenant, events[0].Source)
	assert.Equal(t, "u1", events[0].ChangedBy)
}

func TestViewerScopeIsEnforced(t *testing.T) {
	a := newTestAPI(t)
	_, err := a.store.UpsertTenantMember(context.Background(), &store.TenantMember{
		TenantID: a.tenant.ID,
		UserID:   "viewer",
		Role:     store.TenantMemberRoleViewer,
	})
	require.NoError(t, err)
	viewerToken, err := auth.IssueToken(testSecret, "viewer", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settings/api-keys", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+viewerToken)
	req.Header.Set(auth.TenantHeader, a.tenant.ID)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/conversations", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+viewerToken)
	req.Header.Set(auth.TenantHeader, a.tenant.ID)
	rec = httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNonMemberTenantIsForbidden(t *testing.T) {
	a := newTestAPI(t)

	// A perfectly valid token, but the user was never added to the tenant.
	outsiderToken, err := auth.IssueToken(testSecret, "outsider", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", http.NoBody)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+outsiderToken)
	req.Header.Set(auth.TenantHeader, a.tenant.ID)
	rec := httptest.NewRecorder()
	a.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "not_a_member", body["code"])
}
