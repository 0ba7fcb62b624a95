// Package suggest produces proactive cross-sell suggestions from catalog
// context. Best-effort: the turn proceeds without suggestions on any error.
package suggest

import (
	"context"

	"github.com/conversia-ai/conversia/store"
)

const (
	maxProducts = 3
	maxServices = 3

	// priceBand is the accepted deviation from the anchor price.
	priceBand = 0.30

	// availabilityHorizon is how far ahead a service slot may be.
	availabilityHorizon = 7 * 24 * 3600
)

// Suggestions is the suggestion set for one turn.
type Suggestions struct {
	Products []*store.Product
	Services []*store.Service
}

// Empty reports whether there is nothing to suggest.
func (s *Suggestions) Empty() bool {
	return s == nil || (len(s.Products) == 0 && len(s.Services) == 0)
}

// Request carries the interest signals for one turn.
type Request struct {
	TenantID      string
	LastProductID string
	LastServiceID string
	// Orders is the customer's recent purchase history, newest first.
	Orders []*store.Order
	NowTs  int64
}

// Catalog is the slice of the store the engine reads. *store.Store
// satisfies it.
type Catalog interface {
	ListProducts(ctx context.Context, find *store.FindCatalogItem) ([]*store.Product, error)
	ListServices(ctx context.Context, find *store.FindCatalogItem) ([]*store.Service, error)
}

// Engine builds suggestions against the catalog.
type Engine struct {
	catalog Catalog
}

// NewEngine creates a suggestion engine.
func NewEngine(catalog Catalog) *Engine {
	return &Engine{catalog: catalog}
}

// Suggest returns up to 3 complementary products priced within ±30% of the
// anchor and up to 3 services with availability inside the next 7 days.
// Out-of-stock products are filtered; results are deduplicated by id. No
// interest signal means no suggestions.
func (e *Engine) Suggest(ctx context.Context, req *Request) (*Suggestions, error) {
	anchorCents, hasAnchor, err := e.anchorPrice(ctx, req)
	if err != nil {
		return nil, err
	}
	if !hasAnchor && req.LastServiceID == "" {
		return &Suggestions{}, nil
	}

	out := &Suggestions{}
	seen := map[string]bool{req.LastProductID: true}

	if hasAnchor {
		active := true
		products, err := e.catalog.ListProducts(ctx, &store.FindCatalogItem{
			TenantID: req.TenantID,
			Active:   &active,
			Limit:    100,
		})
		if err != nil {
			return nil, err
		}
		low := int64(float64(anchorCents) * (1 - priceBand))
		high := int64(float64(anchorCents) * (1 + priceBand))
		for _, p := range products {
			if len(out.Products) >= maxProducts {
				break
			}
			if seen[p.ID] || !p.InStock() {
				continue
			}
			if p.PriceCents < low || p.PriceCents > high {
				continue
			}
			seen[p.ID] = true
			out.Products = append(out.Products, p)
		}
	}

	active := true
	services, err := e.catalog.ListServices(ctx, &store.FindCatalogItem{
		TenantID: req.TenantID,
		Active:   &active,
		Limit:    100,
	})
	if err != nil {
		return nil, err
	}
	horizon := req.NowTs + availabilityHorizon
	for _, s := range services {
		if len(out.Services) >= maxServices {
			break
		}
		if seen[s.ID] {
			continue
		}
		if s.NextAvailableTs == 0 || s.NextAvailableTs < req.NowTs || s.NextAvailableTs > horizon {
			continue
		}
		seen[s.ID] = true
		out.Services = append(out.Services, s)
	}

	return out, nil
}

// anchorPrice picks the reference price: the last viewed product first,
// falling back to the most recent order line.
func (e *Engine) anchorPrice(ctx context.Context, req *Request) (int64, bool, error) {
	if req.LastProductID != "" {
		products, err := e.catalog.ListProducts(ctx, &store.FindCatalogItem{
			TenantID: req.TenantID,
			ID:       &req.LastProductID,
			Limit:    1,
		})
		if err != nil {
			return 0, false, err
		}
		if len(products) > 0 {
			return products[0].PriceCents, true, nil
		}
	}
	for _, o := range req.Orders {
		if len(o.Items) > 0 {
			return o.Items[0].UnitCents, true, nil
		}
	}
	return 0, false, nil
}
