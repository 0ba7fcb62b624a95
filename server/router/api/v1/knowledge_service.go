package v1

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conversia-ai/conversia/store"
)

type knowledgeResponse struct {
	ID        string         `json:"id"`
	Kind      string         `json:"kind"`
	Title     string         `json:"title"`
	Content   string         `json:"content"`
	Category  string         `json:"category,omitempty"`
	Keywords  string         `json:"keywords,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Priority  int            `json:"priority"`
	Active    bool           `json:"active"`
	Version   int32          `json:"version"`
	CreatedTs int64          `json:"created_ts"`
	UpdatedTs int64          `json:"updated_ts"`
}

func convertKnowledge(e *store.KnowledgeEntry) *knowledgeResponse {
	return &knowledgeResponse{
		ID:        e.ID,
		Kind:      string(e.Kind),
		Title:     e.Title,
		Content:   e.Content,
		Category:  e.Category,
		Keywords:  e.Keywords,
		Metadata:  e.Metadata,
		Priority:  e.Priority,
		Active:    e.Active,
		Version:   e.Version,
		CreatedTs: e.CreatedTs,
		UpdatedTs: e.UpdatedTs,
	}
}

func validKnowledgeKind(kind store.KnowledgeKind) bool {
	switch kind {
	case store.KnowledgeFAQ, store.KnowledgePolicy, store.KnowledgeProductInfo,
		store.KnowledgeServiceInfo, store.KnowledgeProcedure, store.KnowledgeGeneral:
		return true
	}
	return false
}

// ListKnowledge returns the tenant's knowledge entries, active ones by
// default.
func (s *APIV1Service) ListKnowledge(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	find := &store.FindKnowledgeEntry{
		TenantID: p.TenantID,
		Limit:    pageLimit(c),
	}
	if c.QueryParam("include_inactive") != "true" {
		active := true
		find.Active = &active
	}
	if raw := c.QueryParam("kind"); raw != "" {
		kind := store.KnowledgeKind(raw)
		if !validKnowledgeKind(kind) {
			return echo.NewHTTPError(http.StatusBadRequest, "unrecognized knowledge kind "+raw)
		}
		find.Kinds = []store.KnowledgeKind{kind}
	}

	entries, err := s.Store.ListKnowledgeEntries(c.Request().Context(), find)
	if err != nil {
		return err
	}
	out := make([]*knowledgeResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, convertKnowledge(e))
	}
	return c.JSON(http.StatusOK, out)
}

type createKnowledgeRequest struct {
	Kind     string         `json:"kind"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Category string         `json:"category"`
	Keywords string         `json:"keywords"`
	Metadata map[string]any `json:"metadata"`
	Priority int            `json:"priority"`
}

// CreateKnowledge stores a knowledge entry and embeds it when the embedding
// service is configured. An embedding failure degrades to keyword-only
// search rather than failing the write.
func (s *APIV1Service) CreateKnowledge(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &createKnowledgeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Title == "" || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "title and content are required")
	}
	kind := store.KnowledgeKind(req.Kind)
	if req.Kind == "" {
		kind = store.KnowledgeGeneral
	}
	if !validKnowledgeKind(kind) {
		return echo.NewHTTPError(http.StatusBadRequest, "unrecognized knowledge kind "+req.Kind)
	}

	entry := &store.KnowledgeEntry{
		TenantID: p.TenantID,
		Kind:     kind,
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
		Keywords: req.Keywords,
		Metadata: req.Metadata,
		Priority: req.Priority,
	}
	entry.Embedding = s.embedKnowledge(c, req.Title, req.Content)

	created, err := s.Store.CreateKnowledgeEntry(c.Request().Context(), entry)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, convertKnowledge(created))
}

type updateKnowledgeRequest struct {
	Kind     *string        `json:"kind"`
	Title    *string        `json:"title"`
	Content  *string        `json:"content"`
	Category *string        `json:"category"`
	Keywords *string        `json:"keywords"`
	Metadata map[string]any `json:"metadata"`
	Priority *int           `json:"priority"`
	Active   *bool          `json:"active"`
}

// UpdateKnowledge mutates an entry. Title or content changes carry a fresh
// embedding so the version bump re-indexes the row.
func (s *APIV1Service) UpdateKnowledge(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &updateKnowledgeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	update := &store.UpdateKnowledgeEntry{
		TenantID: p.TenantID,
		ID:       c.Param("id"),
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
		Keywords: req.Keywords,
		Metadata: req.Metadata,
		Priority: req.Priority,
		Active:   req.Active,
	}
	if req.Kind != nil {
		kind := store.KnowledgeKind(*req.Kind)
		if !validKnowledgeKind(kind) {
			return echo.NewHTTPError(http.StatusBadRequest, "unrecognized knowledge kind "+*req.Kind)
		}
		update.Kind = &kind
	}

	if req.Title != nil || req.Content != nil {
		id := update.ID
		existing, err := s.Store.GetKnowledgeEntry(c.Request().Context(), &store.FindKnowledgeEntry{
			TenantID: p.TenantID,
			ID:       &id,
		})
		if err != nil {
			return err
		}
		title, content := existing.Title, existing.Content
		if req.Title != nil {
			title = *req.Title
		}
		if req.Content != nil {
			content = *req.Content
		}
		update.Embedding = s.embedKnowledge(c, title, content)
	}

	entry, err := s.Store.UpdateKnowledgeEntry(c.Request().Context(), update)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, convertKnowledge(entry))
}

// DeleteKnowledge soft-deletes an entry: it leaves the search surface but
// stays for audit.
func (s *APIV1Service) DeleteKnowledge(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	if err := s.Store.DeleteKnowledgeEntry(c.Request().Context(), p.TenantID, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) embedKnowledge(c echo.Context, title, content string) []float32 {
	if s.Embedder == nil {
		return nil
	}
	vector, err := s.Embedder.Embed(c.Request().Context(), title+"\n"+content)
	if err != nil {
		slog.Warn("knowledge embedding failed, entry falls back to keyword search", "error", err)
		return nil
	}
	return vector
}
