package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conversia-ai/conversia/server/auth"
	"github.com/conversia-ai/conversia/store"
)

type apiKeyResponse struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	Prefix     string `json:"prefix"`
	CreatorID  string `json:"creator_id"`
	CreatedTs  int64  `json:"created_ts"`
	LastUsedTs *int64 `json:"last_used_ts,omitempty"`

	// Plaintext is present only in the creation response.
	Plaintext string `json:"plaintext,omitempty"`
}

func convertAPIKey(k *store.APIKey) *apiKeyResponse {
	return &apiKeyResponse{
		ID:         k.ID,
		Label:      k.Label,
		Prefix:     k.Prefix,
		CreatorID:  k.CreatorID,
		CreatedTs:  k.CreatedTs,
		LastUsedTs: k.LastUsedTs,
	}
}

// ListAPIKeys returns the tenant's API keys. Hashes never leave the store.
func (s *APIV1Service) ListAPIKeys(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	keys, err := s.Store.ListAPIKeys(c.Request().Context(), &store.FindAPIKey{TenantID: &p.TenantID})
	if err != nil {
		return err
	}
	out := make([]*apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, convertAPIKey(k))
	}
	return c.JSON(http.StatusOK, out)
}

type createAPIKeyRequest struct {
	Label string `json:"label"`
}

// CreateAPIKey mints a tenant API key. The plaintext appears once, in this
// response; only the hash and display prefix are stored.
func (s *APIV1Service) CreateAPIKey(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &createAPIKeyRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Label == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "label is required")
	}

	plaintext, prefix, hashHex, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	key, err := s.Store.CreateAPIKey(c.Request().Context(), &store.APIKey{
		TenantID:  p.TenantID,
		Label:     req.Label,
		Prefix:    prefix,
		HashHex:   hashHex,
		CreatorID: p.UserID,
	})
	if err != nil {
		return err
	}

	resp := convertAPIKey(key)
	resp.Plaintext = plaintext
	return c.JSON(http.StatusCreated, resp)
}

// DeleteAPIKey revokes a key immediately.
func (s *APIV1Service) DeleteAPIKey(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	if err := s.Store.DeleteAPIKey(c.Request().Context(), &store.DeleteAPIKey{
		TenantID: p.TenantID,
		ID:       c.Param("id"),
	}); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
