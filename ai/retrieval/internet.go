package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// InternetResult is one hit from the web search collaborator.
type InternetResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// InternetClient talks to a tavily-compatible search API.
type InternetClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewInternetClient creates a web search client. Returns nil when no API key
// is configured; a nil client disables the internet source.
func NewInternetClient(baseURL, apiKey string) *InternetClient {
	if apiKey == "" {
		return nil
	}
	return &InternetClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type internetSearchRequest struct {
	APIKey     string `json:"api_key"`
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type internetSearchResponse struct {
	Results []InternetResult `json:"results"`
}

// Search runs one web query, capped at max results.
func (c *InternetClient) Search(ctx context.Context, query string, max int) ([]InternetResult, error) {
	body, err := json.Marshal(internetSearchRequest{
		APIKey:     c.apiKey,
		Query:      query,
		MaxResults: max,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal search request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build search request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "search request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("search API returned status %d", resp.StatusCode)
	}

	var parsed internetSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Wrap(err, "failed to decode search response")
	}
	if max > 0 && len(parsed.Results) > max {
		parsed.Results = parsed.Results[:max]
	}
	return parsed.Results, nil
}
