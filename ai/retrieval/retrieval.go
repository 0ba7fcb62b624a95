// Package retrieval fans out over the enabled knowledge sources and
// synthesises the results under a fixed precedence: database over document
// over internet.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/conversia-ai/conversia/store"
)

// Source identifies where a retrieved item came from.
type Source string

const (
	SourceDatabase Source = "database"
	SourceDocument Source = "document"
	SourceInternet Source = "internet"
)

// DefaultDeadline bounds the whole fan-out.
const DefaultDeadline = 5 * time.Second

// Item is one retrieved passage.
type Item struct {
	Source  Source
	Title   string
	Content string
	Score   float64
	URL     string
}

// Result is the synthesised retrieval output for one turn. Sources is the
// manifest of sources that contributed, used for citation lines.
type Result struct {
	Items   []Item
	Notes   []string
	Sources []Source
}

// Catalog is the database source's read surface. *store.Store satisfies it.
type Catalog interface {
	ListProducts(ctx context.Context, find *store.FindCatalogItem) ([]*store.Product, error)
	ListServices(ctx context.Context, find *store.FindCatalogItem) ([]*store.Service, error)
}

// Service runs the multi-source fan-out.
type Service struct {
	knowledge *KnowledgeSearcher
	catalog   Catalog
	internet  *InternetClient // nil disables the internet source
	deadline  time.Duration
}

// NewService creates the retrieval service. internet may be nil.
func NewService(knowledge *KnowledgeSearcher, catalog Catalog, internet *InternetClient, deadline time.Duration) *Service {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Service{knowledge: knowledge, catalog: catalog, internet: internet, deadline: deadline}
}

// Retrieve dispatches the sources enabled in cfg in parallel under the
// global deadline. Failed sources are dropped; partial results are kept.
func (s *Service) Retrieve(ctx context.Context, cfg *store.AgentConfiguration, tenantID, query string) *Result {
	ctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	var (
		mu       sync.Mutex
		database []Item
		document []Item
		internet []Item
		dbPrices = map[string]int64{} // lowercase item name -> catalog cents
	)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.DatabaseRetrievalEnabled {
		g.Go(func() error {
			items, prices, err := s.searchCatalog(gctx, tenantID, query, cfg.RetrievalCaps.Database)
			if err != nil {
				slog.Warn("retrieval: database source failed", "tenant", tenantID, "error", err)
				return nil
			}
			mu.Lock()
			database = items
			dbPrices = prices
			mu.Unlock()
			return nil
		})
	}

	if cfg.DocumentRetrievalEnabled {
		g.Go(func() error {
			scored, err := s.knowledge.Search(gctx, &store.SearchKnowledge{
				TenantID:      tenantID,
				Query:         query,
				Limit:         cfg.RetrievalCaps.Document,
				MinSimilarity: 0.3,
			})
			if err != nil {
				slog.Warn("retrieval: document source failed", "tenant", tenantID, "error", err)
				return nil
			}
			items := make([]Item, 0, len(scored))
			for _, sk := range scored {
				items = append(items, Item{
					Source:  SourceDocument,
					Title:   sk.Entry.Title,
					Content: sk.Entry.Content,
					Score:   sk.Similarity,
				})
			}
			mu.Lock()
			document = items
			mu.Unlock()
			return nil
		})
	}

	if cfg.InternetRetrievalEnabled && s.internet != nil {
		g.Go(func() error {
			hits, err := s.internet.Search(gctx, query, cfg.RetrievalCaps.Internet)
			if err != nil {
				slog.Warn("retrieval: internet source failed", "tenant", tenantID, "error", err)
				return nil
			}
			items := make([]Item, 0, len(hits))
			for _, h := range hits {
				items = append(items, Item{
					Source:  SourceInternet,
					Title:   h.Title,
					Content: h.Content,
					Score:   h.Score,
					URL:     h.URL,
				})
			}
			mu.Lock()
			internet = items
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return synthesize(database, document, internet, dbPrices)
}

// searchCatalog turns matching catalog rows into authoritative items and
// remembers their prices for conflict detection.
func (s *Service) searchCatalog(ctx context.Context, tenantID, query string, limit int) ([]Item, map[string]int64, error) {
	if limit <= 0 {
		return nil, nil, nil
	}
	active := true
	items := []Item{}
	prices := map[string]int64{}

	products, err := s.catalog.ListProducts(ctx, &store.FindCatalogItem{
		TenantID: tenantID,
		Query:    &query,
		Active:   &active,
		Limit:    limit,
	})
	if err != nil {
		return nil, nil, err
	}
	for _, p := range products {
		items = append(items, Item{
			Source:  SourceDatabase,
			Title:   p.Name,
			Content: fmt.Sprintf("%s. Price: %s. %s", p.Description, FormatPrice(p.PriceCents, p.Currency), stockPhrase(p.Stock)),
			Score:   1,
		})
		prices[strings.ToLower(p.Name)] = p.PriceCents
	}

	if remaining := limit - len(items); remaining > 0 {
		services, err := s.catalog.ListServices(ctx, &store.FindCatalogItem{
			TenantID: tenantID,
			Query:    &query,
			Active:   &active,
			Limit:    remaining,
		})
		if err != nil {
			return nil, nil, err
		}
		for _, sv := range services {
			items = append(items, Item{
				Source:  SourceDatabase,
				Title:   sv.Name,
				Content: fmt.Sprintf("%s. Price: %s. Duration: %d minutes.", sv.Description, FormatPrice(sv.PriceCents, sv.Currency), sv.DurationMinutes),
				Score:   1,
			})
			prices[strings.ToLower(sv.Name)] = sv.PriceCents
		}
	}
	return items, prices, nil
}

// synthesize merges sources in precedence order and flags supplementary
// passages whose prices contradict the catalog; the catalog value wins.
func synthesize(database, document, internet []Item, dbPrices map[string]int64) *Result {
	result := &Result{Items: []Item{}}

	result.Items = append(result.Items, database...)
	result.Items = append(result.Items, document...)
	result.Items = append(result.Items, internet...)

	if len(database) > 0 {
		result.Sources = append(result.Sources, SourceDatabase)
	}
	if len(document) > 0 {
		result.Sources = append(result.Sources, SourceDocument)
	}
	if len(internet) > 0 {
		result.Sources = append(result.Sources, SourceInternet)
	}

	for _, item := range result.Items {
		if item.Source == SourceDatabase {
			continue
		}
		content := strings.ToLower(item.Content)
		for name, cents := range dbPrices {
			if !strings.Contains(content, name) {
				continue
			}
			for _, found := range extractPriceCents(item.Content) {
				if found != cents {
					result.Notes = append(result.Notes,
						fmt.Sprintf("Conflicting price for %q in %s results ignored; the catalog price is authoritative.", name, item.Source))
					break
				}
			}
		}
	}

	return result
}

func stockPhrase(stock int) string {
	switch {
	case stock < 0:
		return "Availability untracked."
	case stock == 0:
		return "Out of stock."
	default:
		return fmt.Sprintf("%d in stock.", stock)
	}
}

// FormatPrice renders minor units for prompts and claims checking.
func FormatPrice(cents int64, currency string) string {
	symbol := currency
	switch currency {
	case "USD":
		symbol = "$"
	case "EUR":
		symbol = "€"
	case "GBP":
		symbol = "£"
	}
	return fmt.Sprintf("%s%.2f", symbol, float64(cents)/100)
}

var priceRe = regexp.MustCompile(`(?:[$€£]|USD|EUR|GBP)\s?(\d+(?:[.,]\d{1,2})?)`)

// extractPriceCents finds currency amounts in free text, in minor units.
func extractPriceCents(text string) []int64 {
	matches := priceRe.FindAllStringSubmatch(text, -1)
	out := make([]int64, 0, len(matches))
	for _, m := range matches {
		normalized := strings.ReplaceAll(m[1], ",", ".")
		v, err := strconv.ParseFloat(normalized, 64)
		if err != nil {
			continue
		}
		out = append(out, int64(v*100+0.5))
	}
	return out
}
