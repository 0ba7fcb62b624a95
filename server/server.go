// Package server assembles the HTTP surface and the background engines:
// the harmonizer-fed agent pipeline and the scheduled-message dispatcher.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/ai/agent"
	aicontext "github.com/conversia-ai/conversia/ai/context"
	"github.com/conversia-ai/conversia/ai/core/embedding"
	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/ai/harmonizer"
	"github.com/conversia-ai/conversia/ai/metrics"
	"github.com/conversia-ai/conversia/ai/retrieval"
	"github.com/conversia-ai/conversia/ai/routing"
	"github.com/conversia-ai/conversia/ai/suggest"
	"github.com/conversia-ai/conversia/internal/profile"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/plugin/channel/telegram"
	apiv1 "github.com/conversia-ai/conversia/server/router/api/v1"
	"github.com/conversia-ai/conversia/server/service/dispatch"
	"github.com/conversia-ai/conversia/store"
)

const shutdownTimeout = 10 * time.Second

// Per-provider routing tiers. The cheap tier serves intent detection and
// summary refresh, the reasoning tier complex multi-step questions, the
// large-context tier long conversations. Profile overrides win; providers
// without a distinct model for a tier fall back to the default model at
// routing time.
var (
	cheapModels = map[string]string{
		"openai":     "gpt-4o-mini",
		"deepseek":   "deepseek-chat",
		"openrouter": "openai/gpt-4o-mini",
		"groq":       "llama-3.3-70b-versatile",
		"ollama":     "llama3.1",
	}
	reasoningModels = map[string]string{
		"openai":     "o4-mini",
		"deepseek":   "deepseek-reasoner",
		"openrouter": "openai/o4-mini",
		"groq":       "deepseek-r1-distill-llama-70b",
	}
	largeContextModels = map[string]string{
		"openai":     "gpt-4.1",
		"openrouter": "openai/gpt-4.1",
	}
)

// modelTier resolves one routing tier: explicit override first, then the
// provider default table.
func modelTier(override string, defaults map[string]string, provider string) string {
	if override != "" {
		return override
	}
	return defaults[provider]
}

// routingModels assembles the four routing tiers for the instance provider.
func routingModels(p *profile.Profile) routing.Models {
	return routing.Models{
		Default:      p.LLMModel,
		Cheap:        modelTier(p.LLMModelCheap, cheapModels, p.LLMProvider),
		Reasoning:    modelTier(p.LLMModelReasoning, reasoningModels, p.LLMProvider),
		LargeContext: modelTier(p.LLMModelLargeContext, largeContextModels, p.LLMProvider),
	}
}

// Server owns the echo instance and the background engines.
type Server struct {
	e       *echo.Echo
	profile *profile.Profile
	store   *store.Store

	metrics    *metrics.Exporter
	registry   *agent.Registry
	harmonizer *harmonizer.Harmonizer
	dispatcher *dispatch.Dispatcher
}

// NewServer wires the whole engine: LLM providers, retrieval, the agent
// pipeline, the admin API and the dispatcher.
func NewServer(ctx context.Context, p *profile.Profile, st *store.Store) (*Server, error) {
	exporter := metrics.NewExporter(metrics.DefaultConfig())

	embedder, err := newEmbedder(p)
	if err != nil {
		return nil, err
	}

	registry := agent.NewRegistry(p.LLMProvider)
	if p.IsAIEnabled() {
		provider, err := llm.NewClient(&llm.Config{
			Provider: p.LLMProvider,
			APIKey:   p.LLMAPIKey,
			BaseURL:  p.LLMBaseURL,
			Timeout:  p.LLMTimeout,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to create llm provider")
		}
		registry.Register(provider)
	} else {
		slog.Warn("no instance-level llm api key configured, agent replies disabled")
	}

	knowledge := retrieval.NewKnowledgeSearcher(st, embedder)
	var internet *retrieval.InternetClient
	if p.SearchAPIKey != "" {
		internet = retrieval.NewInternetClient(p.SearchBaseURL, p.SearchAPIKey)
	}
	rag := retrieval.NewService(knowledge, st, internet, 0)
	builder := aicontext.NewBuilder(st, knowledge, rag, suggest.NewEngine(st), 0)

	gateway := newGateway(p)
	pipeline := agent.New(st, registry, builder, agent.Options{
		Models:           routingModels(p),
		Gateway:          gateway,
		CredentialSecret: p.Secret,
		Metrics:          exporter,
	})
	harm := harmonizer.New(st, pipeline.Process, 0, 0)

	dispatcher := dispatch.New(st, gateway, dispatch.Options{
		CredentialSecret: p.Secret,
		Metrics:          exporter,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = apiv1.ErrorHandler
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: shortuuid.New,
	}))
	e.Use(middleware.Recover())
	e.Use(requestLogger())
	e.Use(middleware.CORS())

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	api := apiv1.NewAPIV1Service(p.Secret, st, harm, embedder, exporter)
	api.Register(e)

	return &Server{
		e:          e,
		profile:    p,
		store:      st,
		metrics:    exporter,
		registry:   registry,
		harmonizer: harm,
		dispatcher: dispatcher,
	}, nil
}

// Start launches the listener and the background engines. It returns once
// everything is running; errors from the listener surface through logs and
// process shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Provider warmup is best-effort and must not delay startup.
	for _, p := range s.registry.Providers() {
		go p.Warmup(ctx)
	}

	s.dispatcher.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
	go func() {
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listener stopped", "error", err)
		}
	}()
	return nil
}

// Shutdown drains the engines in dependency order: stop accepting work,
// flush buffered turns, then close the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.e.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}
	s.harmonizer.Close()
	s.dispatcher.Stop()
	if err := s.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}

// Echo exposes the router, for tests.
func (s *Server) Echo() *echo.Echo { return s.e }

func newEmbedder(p *profile.Profile) (embedding.Service, error) {
	if p.EmbeddingAPIKey == "" {
		slog.Warn("no embedding api key configured, knowledge search degrades to keyword matching")
		return nil, nil
	}
	svc, err := embedding.NewService(&embedding.Config{
		Model:      p.EmbeddingModel,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Dimensions: p.EmbeddingDim,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create embedding service")
	}
	return svc, nil
}

// newGateway picks the outbound channel. Dev and demo modes record sends in
// memory so the pipeline runs without provider credentials.
func newGateway(p *profile.Profile) channel.Gateway {
	if p.IsDev() {
		return channel.NewFake()
	}
	return telegram.New()
}

// requestLogger logs one line per request through slog.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			level := slog.LevelInfo
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.LogAttrs(context.Background(), level, "request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			)
			return nil
		},
	})
}
