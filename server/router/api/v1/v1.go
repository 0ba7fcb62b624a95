// Package v1 is the tenant-facing admin JSON API. Every route except the
// channel webhook and the health/metrics endpoints requires a bearer
// credential and is scoped to the principal's tenant.
package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/ai/core/embedding"
	"github.com/conversia-ai/conversia/ai/harmonizer"
	"github.com/conversia-ai/conversia/ai/metrics"
	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/server/auth"
	"github.com/conversia-ai/conversia/store"
)

// defaultPageSize bounds list endpoints when no limit is given.
const defaultPageSize = 50

// maxPageSize is the hard cap for list endpoints.
const maxPageSize = 200

// APIV1Service carries the API's collaborators.
type APIV1Service struct {
	Store         *store.Store
	Secret        string
	Authenticator *auth.Authenticator
	RateLimiter   *auth.RateLimiter
	Harmonizer    *harmonizer.Harmonizer
	Embedder      embedding.Service // nil disables re-embedding on knowledge writes
	Metrics       *metrics.Exporter
}

// NewAPIV1Service wires the service.
func NewAPIV1Service(secret string, st *store.Store, h *harmonizer.Harmonizer, embedder embedding.Service, m *metrics.Exporter) *APIV1Service {
	return &APIV1Service{
		Store:         st,
		Secret:        secret,
		Authenticator: auth.NewAuthenticator(st, secret),
		RateLimiter:   auth.NewRateLimiter(20, 40),
		Harmonizer:    h,
		Embedder:      embedder,
		Metrics:       m,
	}
}

// Register mounts all routes on the echo instance.
func (s *APIV1Service) Register(e *echo.Echo) {
	// The webhook authenticates with an HMAC signature, not a bearer token.
	e.POST("/webhooks/channel/:tenant", s.HandleChannelWebhook)

	api := e.Group("/api/v1",
		auth.Middleware(s.Authenticator),
		s.RateLimiter.Middleware(),
	)

	api.GET("/conversations", s.ListConversations, auth.RequireScope(auth.ScopeConversationsRead))
	api.GET("/conversations/:id", s.GetConversation, auth.RequireScope(auth.ScopeConversationsRead))
	api.GET("/conversations/:id/messages", s.ListConversationMessages, auth.RequireScope(auth.ScopeConversationsRead))
	api.POST("/conversations/:id/handoff", s.HandoffConversation, auth.RequireScope(auth.ScopeHandoffPerform))

	api.GET("/customers", s.ListCustomers, auth.RequireScope(auth.ScopeCustomersRead))
	api.GET("/customers/:id", s.GetCustomer, auth.RequireScope(auth.ScopeCustomersRead))
	api.PUT("/customers/:id/preferences", s.UpdateCustomerPreferences, auth.RequireScope(auth.ScopeCustomersRead))
	api.POST("/customers/:id/export", s.ExportCustomer, auth.RequireScope(auth.ScopeCustomersExport))

	api.GET("/knowledge", s.ListKnowledge, auth.RequireScope(auth.ScopeKnowledgeManage))
	api.POST("/knowledge", s.CreateKnowledge, auth.RequireScope(auth.ScopeKnowledgeManage))
	api.PUT("/knowledge/:id", s.UpdateKnowledge, auth.RequireScope(auth.ScopeKnowledgeManage))
	api.DELETE("/knowledge/:id", s.DeleteKnowledge, auth.RequireScope(auth.ScopeKnowledgeManage))

	api.GET("/catalog/products", s.ListProducts, auth.RequireScope(auth.ScopeCatalogManage))
	api.POST("/catalog/products", s.CreateProduct, auth.RequireScope(auth.ScopeCatalogManage))
	api.GET("/catalog/services", s.ListServices, auth.RequireScope(auth.ScopeCatalogManage))
	api.POST("/catalog/services", s.CreateService, auth.RequireScope(auth.ScopeCatalogManage))

	api.GET("/settings/agent", s.GetAgentConfiguration, auth.RequireScope(auth.ScopeSettingsManage))
	api.PUT("/settings/agent", s.UpdateAgentConfiguration, auth.RequireScope(auth.ScopeSettingsManage))

	api.GET("/settings/api-keys", s.ListAPIKeys, auth.RequireScope(auth.ScopeUsersManage))
	api.POST("/settings/api-keys", s.CreateAPIKey, auth.RequireScope(auth.ScopeUsersManage))
	api.DELETE("/settings/api-keys/:id", s.DeleteAPIKey, auth.RequireScope(auth.ScopeUsersManage))

	api.GET("/scheduled-messages", s.ListScheduledMessages, auth.RequireScope(auth.ScopeCampaignsManage))
	api.POST("/scheduled-messages", s.CreateScheduledMessage, auth.RequireScope(auth.ScopeCampaignsManage))
	api.POST("/scheduled-messages/:id/cancel", s.CancelScheduledMessage, auth.RequireScope(auth.ScopeCampaignsManage))

	api.GET("/campaigns", s.ListCampaigns, auth.RequireScope(auth.ScopeCampaignsManage))
	api.POST("/campaigns", s.CreateCampaign, auth.RequireScope(auth.ScopeCampaignsManage))
	api.POST("/campaigns/:id/schedule", s.ScheduleCampaign, auth.RequireScope(auth.ScopeCampaignsManage))
}

// errorBody is the canonical error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// ErrorHandler renders every error through the canonical envelope.
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	body := errorBody{Error: "internal error", Code: "internal"}

	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		status = httpErr.Code
		body.Code = codeForStatus(status)
		if msg, ok := httpErr.Message.(string); ok {
			body.Error = msg
		}
	case errors.Is(err, errdef.ErrNotFound):
		status = http.StatusNotFound
		body = errorBody{Error: "not found", Code: "not_found"}
	case errors.Is(err, errdef.ErrUnknownTenant):
		status = http.StatusNotFound
		body = errorBody{Error: "unknown tenant", Code: "unknown_tenant"}
	case errors.Is(err, errdef.ErrNotAMember):
		status = http.StatusForbidden
		body = errorBody{Error: "not a member of this tenant", Code: "not_a_member"}
	case errors.Is(err, errdef.ErrSignatureInvalid):
		status = http.StatusUnauthorized
		body = errorBody{Error: "invalid signature", Code: "signature_invalid"}
	case errors.Is(err, errdef.ErrConflict):
		status = http.StatusConflict
		body = errorBody{Error: "conflict", Code: "conflict", Details: err.Error()}
	case errors.Is(err, errdef.ErrInputInvalid):
		status = http.StatusBadRequest
		body = errorBody{Error: "invalid input", Code: "bad_request", Details: err.Error()}
	case errors.Is(err, errdef.ErrRateLimited):
		status = http.StatusTooManyRequests
		body = errorBody{Error: "rate limited", Code: "rate_limited"}
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	_ = c.JSON(status, body)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	default:
		return "internal"
	}
}

// principal returns the authenticated caller or a 401.
func principal(c echo.Context) (*auth.Principal, error) {
	p := auth.PrincipalFrom(c.Request().Context())
	if p == nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	}
	return p, nil
}

func pageLimit(c echo.Context) int {
	limit := defaultPageSize
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			limit = n
		}
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return limit
}

func parsePositiveInt(raw string) (int, error) {
	n := 0
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, errors.Errorf("not a number: %q", raw)
		}
		n = n*10 + int(r-'0')
		if n > 1<<30 {
			return 0, errors.New("number too large")
		}
	}
	return n, nil
}
