// Package agent runs the conversational turn pipeline: context assembly,
// intent detection, routed generation with failover, grounding validation,
// handoff policy, rich-message building and channel emission. One Process
// call handles one harmonized logical turn under an exclusive
// per-conversation lock.
package agent

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"

	aicontext "github.com/conversia-ai/conversia/ai/context"
	"github.com/conversia-ai/conversia/ai/core/llm"
	"github.com/conversia-ai/conversia/ai/grounding"
	"github.com/conversia-ai/conversia/ai/handoff"
	"github.com/conversia-ai/conversia/ai/harmonizer"
	"github.com/conversia-ai/conversia/ai/intent"
	"github.com/conversia-ai/conversia/ai/metrics"
	"github.com/conversia-ai/conversia/ai/prompt"
	"github.com/conversia-ai/conversia/ai/richmsg"
	"github.com/conversia-ai/conversia/ai/routing"
	"github.com/conversia-ai/conversia/ai/summary"
	"github.com/conversia-ai/conversia/internal/errdef"
	"github.com/conversia-ai/conversia/internal/strutil"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/store"
)

const (
	// DefaultTurnBudget bounds one whole turn end to end.
	DefaultTurnBudget = 60 * time.Second
	// DefaultSendTimeout bounds the gateway send at the end of a turn.
	DefaultSendTimeout = 15 * time.Second
	// DefaultMaxConcurrentTurns sizes the ingress worker pool.
	DefaultMaxConcurrentTurns = 32

	// replyMaxTokens caps the reply generation call. Tenant reply-length
	// limits are enforced on the text afterwards.
	replyMaxTokens = 1024
)

// Fallback texts emitted when the pipeline cannot produce a verified reply.
const (
	apologyText = "I'm sorry, I'm having trouble responding right now. " +
		"A member of our team will follow up with you shortly."
	groundingFallbackText = "I want to make sure you get accurate details, " +
		"so I'm connecting you with a member of our team."
)

// Store is the orchestrator's slice of the data layer. *store.Store
// satisfies it.
type Store interface {
	GetTenant(ctx context.Context, find *store.FindTenant) (*store.Tenant, error)
	GetAgentConfiguration(ctx context.Context, tenantID string) (*store.AgentConfiguration, error)
	GetConversation(ctx context.Context, find *store.FindConversation) (*store.Conversation, error)
	GetCustomer(ctx context.Context, find *store.FindCustomer) (*store.Customer, error)
	AppendMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	IncLowConfidence(ctx context.Context, tenantID, conversationID string) (int, error)
	ResetLowConfidence(ctx context.Context, tenantID, conversationID string) error
	TransitionConversationState(ctx context.Context, transition *store.ConversationTransition) (*store.Conversation, error)
	UpdateConversation(ctx context.Context, update *store.UpdateConversation) (*store.Conversation, error)
	CreateAgentInteraction(ctx context.Context, create *store.AgentInteraction) (*store.AgentInteraction, error)
	CreateProviderUsage(ctx context.Context, create *store.ProviderUsage) (*store.ProviderUsage, error)
	GetConversationContext(ctx context.Context, tenantID, conversationID string) (*store.ConversationContext, error)
	UpsertConversationContext(ctx context.Context, upsert *store.ConversationContext) (*store.ConversationContext, error)
}

// Options tunes the orchestrator. Zero values take defaults.
type Options struct {
	// Models is the process-level model tier table. A tenant's DefaultModel
	// overrides the Default tier for its turns.
	Models routing.Models

	// Gateway delivers outbound payloads. Nil runs the pipeline without
	// emission (dev mode); replies are still persisted.
	Gateway channel.Gateway

	// CredentialSecret decrypts tenant channel credentials.
	CredentialSecret string

	Metrics *metrics.Exporter

	MaxConcurrentTurns int64
	TurnBudget         time.Duration
	SendTimeout        time.Duration
}

// Agent is the turn pipeline.
type Agent struct {
	store      Store
	registry   *Registry
	builder    *aicontext.Builder
	detector   *intent.Detector
	summarizer *summary.Refresher
	rich       *richmsg.Builder
	health     *routing.Health
	metrics    *metrics.Exporter

	models           routing.Models
	gateway          channel.Gateway
	credentialSecret string

	sem         *semaphore.Weighted
	locks       keyedMutex
	turnBudget  time.Duration
	sendTimeout time.Duration
	nowTs       func() int64
}

// New assembles the pipeline. The intent detector and summary refresher run
// on the cheap model tier; when no provider serves it they are disabled and
// the pipeline degrades (no intents, deterministic summaries).
func New(st Store, registry *Registry, builder *aicontext.Builder, opts Options) *Agent {
	if opts.MaxConcurrentTurns <= 0 {
		opts.MaxConcurrentTurns = DefaultMaxConcurrentTurns
	}
	if opts.TurnBudget <= 0 {
		opts.TurnBudget = DefaultTurnBudget
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}

	a := &Agent{
		store:            st,
		registry:         registry,
		builder:          builder,
		rich:             richmsg.NewBuilder(nil),
		health:           routing.NewHealth(),
		metrics:          opts.Metrics,
		models:           opts.Models,
		gateway:          opts.Gateway,
		credentialSecret: opts.CredentialSecret,
		sem:              semaphore.NewWeighted(opts.MaxConcurrentTurns),
		turnBudget:       opts.TurnBudget,
		sendTimeout:      opts.SendTimeout,
		nowTs:            store.NowTs,
	}

	cheap := opts.Models.Cheap
	if cheap == "" {
		cheap = opts.Models.Default
	}
	if p := registry.For(cheap); p != nil {
		a.detector = intent.NewDetector(p, cheap)
		a.summarizer = summary.NewRefresher(p, cheap)
	}
	return a
}

// turnState threads one turn's resolved entities through the pipeline.
type turnState struct {
	turn          *harmonizer.Turn
	tenant        *store.Tenant
	cfg           *store.AgentConfiguration
	conv          *store.Conversation
	customer      *store.Customer
	ac            *aicontext.AgentContext
	language      string
	intents       []intent.Intent
	interactionID string
	startedAt     time.Time

	route    routing.Decision
	result   *routing.Result
	attempts int
}

// Process handles one harmonized turn. It satisfies harmonizer.FlushFunc: a
// non-nil return marks the queue batch failed. Handoffs and emitted replies
// return nil.
func (a *Agent) Process(ctx context.Context, turn *harmonizer.Turn) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "failed to acquire turn slot")
	}
	defer a.sem.Release(1)

	unlock := a.locks.lock(turn.TenantID + "|" + turn.ConversationID)
	defer unlock()

	ctx, cancel := context.WithTimeout(ctx, a.turnBudget)
	defer cancel()

	if a.metrics != nil {
		a.metrics.TurnStarted()
		defer a.metrics.TurnFinished()
	}

	started := time.Now()
	outcome, err := a.runTurn(ctx, turn, started)
	if a.metrics != nil {
		a.metrics.RecordTurn(outcome, time.Since(started))
	}
	return err
}

func (a *Agent) runTurn(ctx context.Context, turn *harmonizer.Turn, started time.Time) (string, error) {
	ts := &turnState{
		turn:          turn,
		interactionID: store.NewID(),
		startedAt:     started,
	}

	tenant, err := a.store.GetTenant(ctx, &store.FindTenant{ID: &turn.TenantID})
	if err != nil {
		return metrics.OutcomeError, errors.Wrap(err, "failed to resolve tenant")
	}
	ts.tenant = tenant

	cfg, err := a.store.GetAgentConfiguration(ctx, turn.TenantID)
	if err != nil {
		if !errors.Is(err, errdef.ErrNotFound) {
			return metrics.OutcomeError, errors.Wrap(err, "failed to load agent configuration")
		}
		cfg = store.DefaultAgentConfiguration(turn.TenantID)
	}
	ts.cfg = cfg

	conv, err := a.store.GetConversation(ctx, &store.FindConversation{
		TenantID: turn.TenantID,
		ID:       &turn.ConversationID,
	})
	if err != nil {
		return metrics.OutcomeError, errors.Wrap(err, "failed to load conversation")
	}
	ts.conv = conv

	// Once a human owns the conversation the bot stays silent. The entries
	// are consumed so the human sees them in the transcript, not the bot.
	if conv.State == store.ConversationHandedOff || conv.State == store.ConversationClosed {
		slog.Info("agent: conversation not bot-handled, skipping turn",
			"conversation", conv.ID, "state", conv.State)
		return metrics.OutcomeOK, nil
	}

	if conv.CustomerID != "" {
		customer, err := a.store.GetCustomer(ctx, &store.FindCustomer{
			TenantID: turn.TenantID,
			ID:       &conv.CustomerID,
		})
		if err != nil {
			slog.Warn("agent: customer lookup failed", "customer", conv.CustomerID, "error", err)
		} else {
			ts.customer = customer
		}
	}

	ac, err := a.builder.Build(ctx, &aicontext.Request{
		TenantID:       turn.TenantID,
		ConversationID: turn.ConversationID,
		CustomerID:     conv.CustomerID,
		Message:        turn.Text,
		Config:         cfg,
	})
	if err != nil {
		if timedOut(ctx, err) {
			return a.failTurn(ts, "turn budget exceeded during context assembly")
		}
		return metrics.OutcomeError, errors.Wrap(err, "failed to build context")
	}
	ts.ac = ac

	ts.language = prompt.DetectLanguage(turn.Text, tenant.AllowedLanguages)
	a.detectIntents(ctx, ts)

	reply, err := a.generate(ctx, ts)
	if err != nil {
		if timedOut(ctx, err) {
			return a.failTurn(ts, "turn budget exceeded during generation")
		}
		var allFailed *errdef.AllProvidersFailed
		if errors.As(err, &allFailed) {
			return a.failTurn(ts, allFailed.Error())
		}
		return metrics.OutcomeError, errors.Wrap(err, "failed to generate reply")
	}

	confidence := a.confidence(reply, ac)

	reply, grounded := a.ground(ctx, ts, reply)
	if !grounded {
		a.handOff(ctx, ts, handoff.ReasonGroundingFailure)
		a.emit(ctx, ts, &richmsg.Output{Payload: channel.TextPayload{Text: groundingFallbackText}}, groundingFallbackText)
		a.record(ctx, ts, groundingFallbackText, confidence, true, string(handoff.ReasonGroundingFailure), store.ReplyShapeText)
		return metrics.OutcomeHandoff, nil
	}

	decision := handoff.Evaluate(&handoff.Input{
		Confidence:         confidence,
		LowConfidenceCount: conv.LowConfidenceCount,
		LastInbound:        turn.Text,
		Reply:              reply,
		Config:             cfg,
	})
	a.persistCounter(ctx, ts, decision)

	outcome := metrics.OutcomeOK
	handoffReason := ""
	if decision.HandOff {
		a.handOff(ctx, ts, decision.Reason)
		outcome = metrics.OutcomeHandoff
		handoffReason = string(decision.Reason)
	}

	out := &richmsg.Output{Payload: channel.TextPayload{Text: reply}}
	if cfg.RichMessagesEnabled {
		out = a.rich.Build(reply, ac)
		if out.FallbackReason != "" {
			slog.Debug("agent: rich payload fell back to text",
				"conversation", conv.ID, "reason", out.FallbackReason)
		}
	}

	a.emit(ctx, ts, out, reply)
	a.record(ctx, ts, reply, confidence, decision.HandOff, handoffReason, replyShape(out.Payload))
	a.updateSoftMemory(ctx, ts, reply)
	a.advanceConversation(ctx, ts)

	return outcome, nil
}

// failTurn is the processing_error path: the customer gets an apology, the
// conversation is handed off, and a partial interaction records why.
func (a *Agent) failTurn(ts *turnState, reason string) (string, error) {
	// The turn context is likely dead; use a short detached one for the
	// cleanup writes.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	slog.Error("agent: turn failed, handing off",
		"tenant", ts.turn.TenantID, "conversation", ts.turn.ConversationID, "reason", reason)

	a.handOff(ctx, ts, handoff.ReasonProcessingError)
	a.emit(ctx, ts, &richmsg.Output{Payload: channel.TextPayload{Text: apologyText}}, apologyText)
	a.record(ctx, ts, apologyText, 0, true, string(handoff.ReasonProcessingError), store.ReplyShapeText)
	return metrics.OutcomeHandoff, nil
}

func (a *Agent) detectIntents(ctx context.Context, ts *turnState) {
	if a.detector == nil {
		return
	}
	cues := intent.Cues{
		LastProductViewed: catalogName(ts.ac.LastProductID, ts.ac),
		LastServiceViewed: serviceName(ts.ac.LastServiceID, ts.ac),
	}
	if q := lastOutboundQuestion(ts.ac.History); q != "" {
		cues.PreviousQuestion = q
	}

	intents, err := a.detector.Detect(ctx, ts.turn.Text, cues)
	if err != nil {
		slog.Warn("agent: intent detection failed", "conversation", ts.turn.ConversationID, "error", err)
		return
	}
	ts.intents = intents
}

// generate routes the turn and walks the failover chain. Every attempt is
// observed into the usage ledger.
func (a *Agent) generate(ctx context.Context, ts *turnState) (string, error) {
	models := a.models
	if ts.cfg.DefaultModel != "" {
		models.Default = ts.cfg.DefaultModel
	}

	totalChars := len(ts.turn.Text)
	for _, m := range ts.ac.History {
		totalChars += len(m.Text)
	}
	complexity := routing.Complexity(len(ts.ac.History), totalChars, ts.turn.Text)
	ts.route = routing.Route(models, ts.ac.EstimateTokens(), complexity)

	chain := a.chain(ts.cfg, ts.route.Model)
	if len(chain) == 0 {
		return "", errors.New("no provider serves the routed model")
	}

	req := &llm.Request{
		Messages: []llm.Message{
			llm.SystemPrompt(prompt.BuildSystemPrompt(ts.cfg, ts.ac, ts.language)),
			llm.UserMessage(prompt.BuildUserPrompt(ts.ac)),
		},
		MaxTokens:   replyMaxTokens,
		Temperature: float32(ts.cfg.Temperature),
	}

	result, err := a.failover(ts).Generate(ctx, chain, req)
	if err != nil {
		return "", err
	}
	ts.result = result
	if result.WasFailover && a.metrics != nil {
		a.metrics.RecordFailover(result.Provider)
	}
	if a.metrics != nil {
		a.metrics.RecordTokens(result.Model, result.Generation.PromptTokens, result.Generation.CompletionTokens)
	}

	reply := strings.TrimSpace(result.Generation.Content)
	if len([]rune(reply)) > ts.cfg.MaxReplyLength {
		reply = strutil.Truncate(reply, ts.cfg.MaxReplyLength)
	}
	return reply, nil
}

// failover builds a per-turn walker whose observer writes one usage row per
// provider attempt, failed attempts included.
func (a *Agent) failover(ts *turnState) *routing.Failover {
	observer := func(provider, model string, gen *llm.Generation, err error, latency time.Duration) {
		ts.attempts++
		if a.metrics != nil {
			a.metrics.RecordProviderCall(provider, model, err == nil, latency)
		}

		row := &store.ProviderUsage{
			TenantID:      ts.turn.TenantID,
			Provider:      provider,
			Model:         model,
			Success:       err == nil,
			LatencyMs:     latency.Milliseconds(),
			WasFailover:   ts.attempts > 1,
			RoutingReason: ts.route.Reason,
			Complexity:    ts.route.Complexity,
			InteractionID: ts.interactionID,
		}
		if gen != nil {
			row.InputTokens = gen.PromptTokens
			row.OutputTokens = gen.CompletionTokens
			row.TotalTokens = gen.TotalTokens
			row.EstimatedCost = gen.EstimatedCost
			row.FinishReason = gen.FinishReason
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, uerr := a.store.CreateProviderUsage(ctx, row); uerr != nil {
			slog.Warn("agent: failed to record provider usage", "provider", provider, "error", uerr)
		}
	}
	return routing.NewFailover(a.health, 30*time.Second, observer)
}

// chain resolves the attempt list: the routed model first, then the
// tenant's fallbacks, deduplicated, dropping models no provider serves.
func (a *Agent) chain(cfg *store.AgentConfiguration, primary string) []routing.Attempt {
	names := append([]string{primary}, cfg.FallbackModels...)
	seen := map[string]bool{}
	var out []routing.Attempt
	for _, m := range names {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		if p := a.registry.For(m); p != nil {
			out = append(out, routing.Attempt{Provider: p, Model: m})
		}
	}
	return out
}

func (a *Agent) confidence(reply string, ac *aicontext.AgentContext) float64 {
	avg := 0.0
	if len(ac.Knowledge) > 0 {
		for _, k := range ac.Knowledge {
			avg += k.Similarity
		}
		avg /= float64(len(ac.Knowledge))
	}
	return prompt.Confidence(reply, len(ac.Knowledge), avg)
}

// ground verifies the reply against the catalog, regenerating once with the
// violations spelled out. The second failure reports not grounded.
func (a *Agent) ground(ctx context.Context, ts *turnState, reply string) (string, bool) {
	validator := grounding.NewValidator(ts.ac.Products, ts.ac.Services)
	result := validator.Verify(reply)
	if result.OK() {
		return reply, true
	}

	slog.Warn("agent: reply failed grounding, regenerating",
		"conversation", ts.turn.ConversationID, "violations", len(result.Violations))

	regenerated, err := a.regenerate(ctx, ts, reply, result)
	if err != nil {
		slog.Warn("agent: regeneration failed", "conversation", ts.turn.ConversationID, "error", err)
		return reply, false
	}
	if validator.Verify(regenerated).OK() {
		return regenerated, true
	}
	return reply, false
}

func (a *Agent) regenerate(ctx context.Context, ts *turnState, reply string, result *grounding.Result) (string, error) {
	var b strings.Builder
	b.WriteString("Your previous reply contained statements that do not match the catalog:\n")
	for _, v := range result.Violations {
		b.WriteString("- ")
		b.WriteString(v.Reason)
		b.WriteString("\n")
	}
	b.WriteString("Rewrite the reply using only facts present in the catalog and knowledge sections. ")
	b.WriteString("If you are not sure about a detail, say so instead of guessing.")

	chain := a.chain(ts.cfg, ts.route.Model)
	req := &llm.Request{
		Messages: []llm.Message{
			llm.SystemPrompt(prompt.BuildSystemPrompt(ts.cfg, ts.ac, ts.language)),
			llm.UserMessage(prompt.BuildUserPrompt(ts.ac)),
			llm.AssistantMessage(reply),
			llm.UserMessage(b.String()),
		},
		MaxTokens:   replyMaxTokens,
		Temperature: float32(ts.cfg.Temperature),
	}

	res, err := a.failover(ts).Generate(ctx, chain, req)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(res.Generation.Content)
	if len([]rune(out)) > ts.cfg.MaxReplyLength {
		out = strutil.Truncate(out, ts.cfg.MaxReplyLength)
	}
	return out, nil
}

// persistCounter stores the low-confidence counter decided by the handoff
// rules. Best-effort.
func (a *Agent) persistCounter(ctx context.Context, ts *turnState, decision *handoff.Decision) {
	var err error
	switch {
	case decision.NextLowConfidenceCount == 0:
		if ts.conv.LowConfidenceCount != 0 {
			err = a.store.ResetLowConfidence(ctx, ts.turn.TenantID, ts.turn.ConversationID)
		}
	case decision.NextLowConfidenceCount > ts.conv.LowConfidenceCount:
		_, err = a.store.IncLowConfidence(ctx, ts.turn.TenantID, ts.turn.ConversationID)
	}
	if err != nil {
		slog.Warn("agent: failed to persist low-confidence counter",
			"conversation", ts.turn.ConversationID, "error", err)
	}
}

// handOff transitions the conversation to the human queue.
func (a *Agent) handOff(ctx context.Context, ts *turnState, reason handoff.Reason) {
	_, err := a.store.TransitionConversationState(ctx, &store.ConversationTransition{
		TenantID: ts.turn.TenantID,
		ID:       ts.turn.ConversationID,
		From:     []store.ConversationState{store.ConversationOpen, store.ConversationBotHandled, store.ConversationDormant},
		To:       store.ConversationHandedOff,
		Reason:   string(reason),
		NowTs:    a.nowTs(),
	})
	if err != nil {
		slog.Error("agent: failed to transition conversation to handed_off",
			"conversation", ts.turn.ConversationID, "error", err)
	}
	if err := a.store.ResetLowConfidence(ctx, ts.turn.TenantID, ts.turn.ConversationID); err != nil {
		slog.Warn("agent: failed to reset low-confidence counter", "error", err)
	}
	if a.metrics != nil {
		a.metrics.RecordHandoff(string(reason))
	}
}

// emit persists the outbound message and pushes it through the gateway.
// Gateway failures mark the message failed; they never fail the turn.
func (a *Agent) emit(ctx context.Context, ts *turnState, out *richmsg.Output, replyText string) {
	msg := &store.Message{
		TenantID:       ts.turn.TenantID,
		ConversationID: ts.turn.ConversationID,
		Direction:      store.DirectionOut,
		Type:           store.MessageBotResponse,
		Text:           replyText,
	}

	if a.gateway != nil && ts.customer != nil && ts.tenant != nil {
		receipt, err := a.send(ctx, ts, out.Payload)
		if err != nil {
			now := a.nowTs()
			msg.DeliveryStatus = store.DeliveryFailed
			msg.FailedTs = &now
			msg.ErrorMessage = err.Error()
			slog.Error("agent: gateway send failed",
				"conversation", ts.turn.ConversationID, "error", err)
		} else {
			msg.DeliveryStatus = store.DeliverySent
			msg.ProviderMessageID = receipt.ProviderMessageID
			msg.SentTs = &receipt.SentTs
		}
	}

	if _, err := a.store.AppendMessage(ctx, msg); err != nil {
		slog.Error("agent: failed to persist outbound message",
			"conversation", ts.turn.ConversationID, "error", err)
	}
}

func (a *Agent) send(ctx context.Context, ts *turnState, payload channel.Payload) (*channel.Receipt, error) {
	creds := ts.tenant.ChannelCredential
	if len(creds) > 0 && a.credentialSecret != "" {
		decrypted, err := channel.DecryptCredential(a.credentialSecret, creds)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt channel credential")
		}
		creds = decrypted
	}

	sendCtx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	return a.gateway.Send(sendCtx, creds, ts.customer.Phone, payload)
}

// record writes the per-turn audit row. Best-effort.
func (a *Agent) record(ctx context.Context, ts *turnState, reply string, confidence float64, handedOff bool, reason string, shape store.ReplyShape) {
	row := &store.AgentInteraction{
		ID:               ts.interactionID,
		TenantID:         ts.turn.TenantID,
		ConversationID:   ts.turn.ConversationID,
		CustomerMessage:  ts.turn.Text,
		DetectedIntents:  intentRecords(ts.intents),
		ModelUsed:        ts.route.Model,
		ProcessingMs:     time.Since(ts.startedAt).Milliseconds(),
		Reply:            reply,
		Confidence:       confidence,
		HandoffTriggered: handedOff,
		HandoffReason:    reason,
		ReplyShape:       shape,
	}
	if ts.ac != nil {
		row.ContextTokens = ts.ac.TokenEstimate
	}
	if ts.result != nil {
		gen := ts.result.Generation
		row.ModelUsed = ts.result.Model
		row.PromptTokens = gen.PromptTokens
		row.CompletionTokens = gen.CompletionTokens
		row.TotalTokens = gen.TotalTokens
		row.EstimatedCost = gen.EstimatedCost
	}

	if _, err := a.store.CreateAgentInteraction(ctx, row); err != nil {
		slog.Warn("agent: failed to record interaction",
			"conversation", ts.turn.ConversationID, "error", err)
	}
}

// updateSoftMemory refreshes the persistent conversation context after the
// turn: current topic and last-referenced items from the detected intents,
// plus a summary refresh when enough messages accumulated. Best-effort.
func (a *Agent) updateSoftMemory(ctx context.Context, ts *turnState, reply string) {
	cc, err := a.store.GetConversationContext(ctx, ts.turn.TenantID, ts.turn.ConversationID)
	if err != nil {
		if !errors.Is(err, errdef.ErrNotFound) {
			slog.Warn("agent: conversation context unavailable for update", "error", err)
			return
		}
		cc = &store.ConversationContext{
			ConversationID: ts.turn.ConversationID,
			TenantID:       ts.turn.TenantID,
			ExpiresTs:      a.nowTs() + 30*60,
		}
	}

	if len(ts.intents) > 0 {
		top := ts.intents[0]
		cc.CurrentTopic = top.Name
		if name := top.Slots["product"]; name != "" {
			if id := productIDByName(name, ts.ac.Products); id != "" {
				cc.LastProductID = id
			}
		}
		if name := top.Slots["service"]; name != "" {
			if id := serviceIDByName(name, ts.ac.Services); id != "" {
				cc.LastServiceID = id
			}
		}
	}

	window := summaryWindow(ts, reply)
	if summary.ShouldRefresh(len(window)) {
		if a.summarizer != nil {
			cc.Summary = a.summarizer.Refresh(ctx, cc.Summary, window)
		} else {
			cc.Summary = summary.Deterministic(cc.Summary, window)
		}
	}

	if _, err := a.store.UpsertConversationContext(ctx, cc); err != nil {
		slog.Warn("agent: failed to update conversation context", "error", err)
	}
}

// advanceConversation moves open conversations to bot_handled and stamps
// the top intent.
func (a *Agent) advanceConversation(ctx context.Context, ts *turnState) {
	if ts.conv.State == store.ConversationOpen || ts.conv.State == store.ConversationDormant {
		if _, err := a.store.TransitionConversationState(ctx, &store.ConversationTransition{
			TenantID: ts.turn.TenantID,
			ID:       ts.turn.ConversationID,
			From:     []store.ConversationState{store.ConversationOpen, store.ConversationDormant},
			To:       store.ConversationBotHandled,
			Reason:   "bot_replied",
			NowTs:    a.nowTs(),
		}); err != nil {
			slog.Warn("agent: failed to advance conversation state", "error", err)
		}
	}

	if len(ts.intents) > 0 {
		top := ts.intents[0]
		now := a.nowTs()
		if _, err := a.store.UpdateConversation(ctx, &store.UpdateConversation{
			TenantID:             ts.turn.TenantID,
			ID:                   ts.turn.ConversationID,
			LastIntent:           &top.Name,
			LastIntentConfidence: &top.Confidence,
			LastMessageTs:        &now,
		}); err != nil {
			slog.Warn("agent: failed to stamp last intent", "error", err)
		}
	}
}

func timedOut(ctx context.Context, err error) bool {
	return stderrors.Is(ctx.Err(), context.DeadlineExceeded) ||
		stderrors.Is(err, context.DeadlineExceeded)
}

func intentRecords(intents []intent.Intent) []store.IntentRecord {
	out := make([]store.IntentRecord, 0, len(intents))
	for _, in := range intents {
		out = append(out, store.IntentRecord{
			Name:       in.Name,
			Confidence: in.Confidence,
			Category:   string(in.Category),
			Priority:   in.Priority,
			Slots:      in.Slots,
			Reasoning:  in.Reasoning,
		})
	}
	return out
}

func replyShape(p channel.Payload) store.ReplyShape {
	switch p.Kind() {
	case "buttons":
		return store.ReplyShapeButton
	case "list":
		return store.ReplyShapeList
	case "media":
		return store.ReplyShapeMedia
	default:
		return store.ReplyShapeText
	}
}

func catalogName(id string, ac *aicontext.AgentContext) string {
	for _, p := range ac.Products {
		if p.ID == id {
			return p.Name
		}
	}
	return ""
}

func serviceName(id string, ac *aicontext.AgentContext) string {
	for _, s := range ac.Services {
		if s.ID == id {
			return s.Name
		}
	}
	return ""
}

func productIDByName(name string, products []*store.Product) string {
	lower := strings.ToLower(name)
	for _, p := range products {
		if strings.Contains(strings.ToLower(p.Name), lower) {
			return p.ID
		}
	}
	return ""
}

func serviceIDByName(name string, services []*store.Service) string {
	lower := strings.ToLower(name)
	for _, s := range services {
		if strings.Contains(strings.ToLower(s.Name), lower) {
			return s.ID
		}
	}
	return ""
}

// lastOutboundQuestion returns the most recent outbound message when it
// asked a question, used as a cue for terse follow-ups like "yes".
func lastOutboundQuestion(history []*store.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Direction == store.DirectionOut {
			if strings.Contains(m.Text, "?") {
				return m.Text
			}
			return ""
		}
	}
	return ""
}

// summaryWindow is the recent transcript slice fed to the summary
// refresher: trailing history plus this turn's inbound/outbound pair.
func summaryWindow(ts *turnState, reply string) []*store.Message {
	window := append([]*store.Message{}, ts.ac.History...)
	window = append(window,
		&store.Message{Direction: store.DirectionIn, Text: ts.turn.Text},
		&store.Message{Direction: store.DirectionOut, Text: reply},
	)
	if len(window) > summary.RefreshAfterMessages {
		window = window[len(window)-summary.RefreshAfterMessages:]
	}
	return window
}
