package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conversia-ai/conversia/store"
)

type productResponse struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Category    string         `json:"category,omitempty"`
	PriceCents  int64          `json:"price_cents"`
	Currency    string         `json:"currency"`
	Stock       int            `json:"stock"`
	Active      bool           `json:"active"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedTs   int64          `json:"created_ts"`
	UpdatedTs   int64          `json:"updated_ts"`
}

func convertProduct(p *store.Product) *productResponse {
	return &productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Category:    p.Category,
		PriceCents:  p.PriceCents,
		Currency:    p.Currency,
		Stock:       p.Stock,
		Active:      p.Active,
		Metadata:    p.Metadata,
		CreatedTs:   p.CreatedTs,
		UpdatedTs:   p.UpdatedTs,
	}
}

func catalogFind(c echo.Context, tenantID string) *store.FindCatalogItem {
	find := &store.FindCatalogItem{
		TenantID: tenantID,
		Limit:    pageLimit(c),
	}
	if q := c.QueryParam("q"); q != "" {
		find.Query = &q
	}
	if category := c.QueryParam("category"); category != "" {
		find.Category = &category
	}
	if after := c.QueryParam("after"); after != "" {
		find.AfterID = &after
	}
	if raw := c.QueryParam("active"); raw != "" {
		active := raw == "true"
		find.Active = &active
	}
	return find
}

// ListProducts returns the tenant's products with cursor pagination.
func (s *APIV1Service) ListProducts(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	products, err := s.Store.ListProducts(c.Request().Context(), catalogFind(c, p.TenantID))
	if err != nil {
		return err
	}
	out := make([]*productResponse, 0, len(products))
	for _, prod := range products {
		out = append(out, convertProduct(prod))
	}
	return c.JSON(http.StatusOK, out)
}

type createProductRequest struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Category    string         `json:"category"`
	PriceCents  int64          `json:"price_cents"`
	Currency    string         `json:"currency"`
	Stock       *int           `json:"stock"`
	Metadata    map[string]any `json:"metadata"`
}

// CreateProduct adds a catalog product. Stock defaults to untracked.
func (s *APIV1Service) CreateProduct(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &createProductRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.PriceCents < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price must be non-negative")
	}
	stock := -1
	if req.Stock != nil {
		stock = *req.Stock
	}

	product, err := s.Store.CreateProduct(c.Request().Context(), &store.Product{
		TenantID:    p.TenantID,
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		PriceCents:  req.PriceCents,
		Currency:    defaultCurrency(req.Currency),
		Stock:       stock,
		Active:      true,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, convertProduct(product))
}

type serviceResponse struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Description     string         `json:"description,omitempty"`
	Category        string         `json:"category,omitempty"`
	PriceCents      int64          `json:"price_cents"`
	Currency        string         `json:"currency"`
	DurationMinutes int            `json:"duration_minutes"`
	Active          bool           `json:"active"`
	NextAvailableTs int64          `json:"next_available_ts,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedTs       int64          `json:"created_ts"`
	UpdatedTs       int64          `json:"updated_ts"`
}

func convertService(sv *store.Service) *serviceResponse {
	return &serviceResponse{
		ID:              sv.ID,
		Name:            sv.Name,
		Description:     sv.Description,
		Category:        sv.Category,
		PriceCents:      sv.PriceCents,
		Currency:        sv.Currency,
		DurationMinutes: sv.DurationMinutes,
		Active:          sv.Active,
		NextAvailableTs: sv.NextAvailableTs,
		Metadata:        sv.Metadata,
		CreatedTs:       sv.CreatedTs,
		UpdatedTs:       sv.UpdatedTs,
	}
}

// ListServices returns the tenant's bookable services.
func (s *APIV1Service) ListServices(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	services, err := s.Store.ListServices(c.Request().Context(), catalogFind(c, p.TenantID))
	if err != nil {
		return err
	}
	out := make([]*serviceResponse, 0, len(services))
	for _, sv := range services {
		out = append(out, convertService(sv))
	}
	return c.JSON(http.StatusOK, out)
}

type createServiceRequest struct {
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Category        string         `json:"category"`
	PriceCents      int64          `json:"price_cents"`
	Currency        string         `json:"currency"`
	DurationMinutes int            `json:"duration_minutes"`
	Metadata        map[string]any `json:"metadata"`
}

// CreateService adds a bookable service.
func (s *APIV1Service) CreateService(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	req := &createServiceRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if req.PriceCents < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "price must be non-negative")
	}
	if req.DurationMinutes < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration must be non-negative")
	}

	service, err := s.Store.CreateService(c.Request().Context(), &store.Service{
		TenantID:        p.TenantID,
		Name:            req.Name,
		Description:     req.Description,
		Category:        req.Category,
		PriceCents:      req.PriceCents,
		Currency:        defaultCurrency(req.Currency),
		DurationMinutes: req.DurationMinutes,
		Active:          true,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, convertService(service))
}

func defaultCurrency(currency string) string {
	if currency == "" {
		return "USD"
	}
	return currency
}
