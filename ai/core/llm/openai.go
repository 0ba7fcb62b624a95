package llm

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/conversia-ai/conversia/internal/errdef"
)

// Config represents one provider endpoint.
type Config struct {
	Provider string // openai, deepseek, openrouter, groq, ollama
	APIKey   string
	BaseURL  string // optional, has a default per provider
	Timeout  int    // request timeout in seconds (default: 120)
}

// Base URLs applied when Config.BaseURL is empty.
var providerBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"deepseek":   "https://api.deepseek.com",
	"openrouter": "https://openrouter.ai/api/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"ollama":     "http://localhost:11434/v1",
}

// USD per 1M tokens (input, output). Unknown models cost zero; the recorder
// still gets the token counts.
var modelPricing = map[string]struct{ In, Out float64 }{
	"gpt-4o":        {2.50, 10.00},
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4.1":       {2.00, 8.00},
	"gpt-4.1-mini":  {0.40, 1.60},
	"o3-mini":       {1.10, 4.40},
	"deepseek-chat": {0.27, 1.10},
	"deepseek-reasoner": {0.55, 2.19},
	"llama-3.3-70b-versatile": {0.59, 0.79},
}

type client struct {
	api      *openai.Client
	provider string
	timeout  int
}

// NewClient creates a Provider for one endpoint.
func NewClient(cfg *Config) (Provider, error) {
	if cfg.Provider == "" {
		return nil, errors.New("llm provider is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = providerBaseURLs[cfg.Provider]
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	clientConfig.HTTPClient = newHTTPClient()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120
	}

	return &client{
		api:      openai.NewClientWithConfig(clientConfig),
		provider: cfg.Provider,
		timeout:  timeout,
	}, nil
}

func (c *client) Name() string { return c.provider }

func (c *client) Generate(ctx context.Context, req *Request) (*Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.timeout)*time.Second)
	defer cancel()

	slog.Debug("llm: generate",
		"provider", c.provider,
		"model", req.Model,
		"messages", len(req.Messages),
		"max_tokens", req.MaxTokens,
	)

	completion := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Messages:    convertMessages(req.Messages),
	}
	if req.JSONOnly {
		completion.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, completion)
	latency := time.Since(start)
	if err != nil {
		return nil, c.classify(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &errdef.ProviderError{
			Provider:  c.provider,
			Model:     req.Model,
			Transient: true,
			Err:       errors.New("empty response"),
		}
	}

	choice := resp.Choices[0]
	gen := &Generation{
		Content:          choice.Message.Content,
		FinishReason:     string(choice.FinishReason),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		EstimatedCost:    EstimateCost(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
		LatencyMs:        latency.Milliseconds(),
	}

	slog.Debug("llm: generation received",
		"provider", c.provider,
		"model", req.Model,
		"total_tokens", gen.TotalTokens,
		"latency_ms", gen.LatencyMs,
	)
	return gen, nil
}

// classify maps a go-openai failure to the transient/permanent taxonomy.
// Timeouts, rate limits and 5xx are transient (worth a failover retry);
// auth and malformed-request errors are permanent.
func (c *client) classify(model string, err error) error {
	transient := false

	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		switch {
		case apiErr.HTTPStatusCode == http.StatusRequestTimeout,
			apiErr.HTTPStatusCode == http.StatusTooManyRequests,
			apiErr.HTTPStatusCode >= 500:
			transient = true
		}
	case errors.Is(err, context.DeadlineExceeded):
		transient = true
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			transient = true
		}
	}

	return &errdef.ProviderError{
		Provider:  c.provider,
		Model:     model,
		Transient: transient,
		Err:       err,
	}
}

func (c *client) Warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	_, err := c.api.CreateChatCompletion(warmupCtx, openai.ChatCompletionRequest{
		Model:       defaultWarmupModel(c.provider),
		MaxTokens:   1,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		},
	})
	if err != nil {
		slog.Warn("llm: warmup ping failed, first request may be slower",
			"provider", c.provider,
			"error", err,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	slog.Info("llm: connection warmed up",
		"provider", c.provider,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func defaultWarmupModel(provider string) string {
	switch provider {
	case "deepseek":
		return "deepseek-chat"
	case "groq":
		return "llama-3.3-70b-versatile"
	case "ollama":
		return "llama3.1"
	default:
		return "gpt-4o-mini"
	}
}

// EstimateCost returns the USD cost of one call from the pricing table.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return (float64(promptTokens)*p.In + float64(completionTokens)*p.Out) / 1e6
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case "system":
			role = openai.ChatMessageRoleSystem
		case "assistant":
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
