// Package dispatch delivers scheduled messages and campaign broadcasts. A
// single poll loop claims due rows with a conditional status swap, so
// several replicas can run the dispatcher without double-sending.
package dispatch

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/ai/metrics"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/store"
)

const (
	// DefaultPollInterval is how often due work is looked for.
	DefaultPollInterval = 30 * time.Second
	// pollBatchSize bounds how many due rows one poll claims.
	pollBatchSize = 100
	// sendAttempts is how many times a transient send failure is retried.
	sendAttempts = 3
	// sendBackoff is the initial retry delay; it doubles per attempt.
	sendBackoff = 500 * time.Millisecond
	// sendTimeout bounds a single gateway call.
	sendTimeout = 15 * time.Second
	// DefaultDormancyDays is how long a bot-managed conversation may sit
	// without activity before the sweep parks it as dormant.
	DefaultDormancyDays = 30
)

// Store is the dispatcher's slice of the data layer. *store.Store satisfies
// it.
type Store interface {
	ListScheduledMessages(ctx context.Context, find *store.FindScheduledMessage) ([]*store.ScheduledMessage, error)
	CreateScheduledMessage(ctx context.Context, create *store.ScheduledMessage) (*store.ScheduledMessage, error)
	MarkDispatch(ctx context.Context, mark *store.MarkDispatch) (bool, error)

	ListTenants(ctx context.Context, find *store.FindTenant) ([]*store.Tenant, error)
	GetTenant(ctx context.Context, find *store.FindTenant) (*store.Tenant, error)
	GetCustomer(ctx context.Context, find *store.FindCustomer) (*store.Customer, error)
	ListCustomers(ctx context.Context, find *store.FindCustomer) ([]*store.Customer, error)
	GetCustomerPreferences(ctx context.Context, tenantID, customerID string) (*store.CustomerPreferences, error)
	CustomerSpendCents(ctx context.Context, tenantID, customerID string) (int64, error)

	GetOrCreateConversation(ctx context.Context, tenantID, customerID, channelName string) (*store.Conversation, error)
	AppendMessage(ctx context.Context, create *store.Message) (*store.Message, error)
	ListConversations(ctx context.Context, find *store.FindConversation) ([]*store.Conversation, error)
	TransitionConversationState(ctx context.Context, transition *store.ConversationTransition) (*store.Conversation, error)

	ListCampaigns(ctx context.Context, find *store.FindCampaign) ([]*store.MessageCampaign, error)
	TransitionCampaign(ctx context.Context, transition *store.CampaignTransition) (*store.MessageCampaign, error)
	IncCampaignCounter(ctx context.Context, tenantID, campaignID, field string, delta int) error
	ListCampaignVariants(ctx context.Context, find *store.FindCampaignVariant) ([]*store.CampaignVariant, error)
	IncVariantCounter(ctx context.Context, tenantID, variantID, field string, delta int) error
}

// Options tunes the dispatcher.
type Options struct {
	PollInterval time.Duration
	// CredentialSecret decrypts tenant channel credentials. Empty passes the
	// stored blob through untouched.
	CredentialSecret string
	// DormancyDays is the inactivity window before open and bot-handled
	// conversations go dormant. Zero uses the default; negative disables
	// the sweep.
	DormancyDays int
	Metrics      *metrics.Exporter
}

// Dispatcher runs the scheduled-message delivery loop.
type Dispatcher struct {
	store   Store
	gateway channel.Gateway
	opts    Options
	nowTs   func() int64

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a dispatcher. The gateway may be nil in setups without an
// outbound channel; due rows then fail with an explicit error instead of
// sitting in processing forever.
func New(st Store, gateway channel.Gateway, opts Options) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DormancyDays == 0 {
		opts.DormancyDays = DefaultDormancyDays
	}
	return &Dispatcher{
		store:   st,
		gateway: gateway,
		opts:    opts,
		nowTs:   store.NowTs,
	}
}

// Start launches the poll loop until Stop or context cancellation.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)
		ticker := time.NewTicker(d.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Poll(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the in-flight poll to finish.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

// Poll runs one dispatch cycle: start due campaigns, deliver due scheduled
// messages, complete drained campaigns, then park inactive conversations.
func (d *Dispatcher) Poll(ctx context.Context) {
	d.startDueCampaigns(ctx)

	now := d.nowTs()
	pending := store.SchedulePending
	due, err := d.store.ListScheduledMessages(ctx, &store.FindScheduledMessage{
		Status:    &pending,
		DueBefore: &now,
		Limit:     pollBatchSize,
	})
	if err != nil {
		slog.Error("dispatch: failed to list due messages", "error", err)
		return
	}
	for _, msg := range due {
		d.dispatchOne(ctx, msg)
	}

	d.completeDrainedCampaigns(ctx)
	d.sweepDormantConversations(ctx)
}

// dispatchOne claims and delivers a single due row.
func (d *Dispatcher) dispatchOne(ctx context.Context, msg *store.ScheduledMessage) {
	won, err := d.store.MarkDispatch(ctx, &store.MarkDispatch{
		ID:       msg.ID,
		Expected: store.SchedulePending,
		To:       store.ScheduleProcessing,
	})
	if err != nil {
		slog.Error("dispatch: failed to claim message", "id", msg.ID, "error", err)
		return
	}
	if !won {
		return
	}

	if msg.CustomerID == "" && msg.RecipientCriteria != "" {
		d.expandBroadcast(ctx, msg)
		return
	}

	tenant, err := d.store.GetTenant(ctx, &store.FindTenant{ID: &msg.TenantID})
	if err != nil || tenant == nil {
		d.fail(ctx, msg, "tenant not found")
		return
	}
	if tenant.Status != store.TenantStatusActive {
		d.fail(ctx, msg, "tenant suspended")
		return
	}

	allowed, consentErr := d.consentAllows(ctx, msg)
	if consentErr != nil {
		d.fail(ctx, msg, consentErr.Error())
		return
	}
	if !allowed {
		d.fail(ctx, msg, "no_consent:"+consentKindFor(msg.MessageType))
		return
	}

	// Transactional traffic ignores quiet hours; everything else is pushed
	// to the end of the window.
	if msg.MessageType != store.MessageAutomatedTransactional {
		if resume, quiet := quietHoursResume(tenant, time.Unix(d.nowTs(), 0)); quiet {
			d.reschedule(ctx, msg, resume.Unix())
			return
		}
	}

	customerID := msg.CustomerID
	customer, err := d.store.GetCustomer(ctx, &store.FindCustomer{TenantID: msg.TenantID, ID: &customerID})
	if err != nil {
		d.fail(ctx, msg, "customer not found")
		return
	}

	text := RenderTemplate(messageText(msg), msg.ContextMap)
	receipt, err := d.send(ctx, tenant, customer.Phone, text)
	if err != nil {
		d.fail(ctx, msg, err.Error())
		return
	}

	d.markSent(ctx, msg, customer, text, receipt)
}

func messageText(msg *store.ScheduledMessage) string {
	if msg.Template != "" {
		return msg.Template
	}
	return msg.Content
}

// send pushes one text through the gateway with bounded retries on
// transient failures.
func (d *Dispatcher) send(ctx context.Context, tenant *store.Tenant, to, text string) (*channel.Receipt, error) {
	if d.gateway == nil {
		return nil, errors.New("no channel gateway configured")
	}

	creds := tenant.ChannelCredential
	if len(creds) > 0 && d.opts.CredentialSecret != "" {
		decrypted, err := channel.DecryptCredential(d.opts.CredentialSecret, creds)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt channel credential")
		}
		creds = decrypted
	}

	backoff := sendBackoff
	var lastErr error
	for attempt := 0; attempt < sendAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		receipt, err := d.gateway.Send(sendCtx, creds, to, channel.TextPayload{Text: text})
		cancel()
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		var sendErr *channel.SendError
		if errors.As(err, &sendErr) && !sendErr.Transient {
			break
		}
	}
	return nil, lastErr
}

// markSent records the outbound message and advances the row to sent.
func (d *Dispatcher) markSent(ctx context.Context, msg *store.ScheduledMessage, customer *store.Customer, text string, receipt *channel.Receipt) {
	now := d.nowTs()
	sentTs := receipt.SentTs
	if sentTs == 0 {
		sentTs = now
	}

	var messageID string
	conv, err := d.store.GetOrCreateConversation(ctx, msg.TenantID, customer.ID, "whatsapp")
	if err == nil {
		created, appendErr := d.store.AppendMessage(ctx, &store.Message{
			TenantID:          msg.TenantID,
			ConversationID:    conv.ID,
			Direction:         store.DirectionOut,
			Type:              msg.MessageType,
			Text:              text,
			ProviderMessageID: receipt.ProviderMessageID,
			DeliveryStatus:    store.DeliverySent,
			SentTs:            &sentTs,
		})
		if appendErr != nil {
			slog.Warn("dispatch: failed to record outbound message", "id", msg.ID, "error", appendErr)
		} else {
			messageID = created.ID
		}
	} else {
		slog.Warn("dispatch: failed to resolve conversation", "id", msg.ID, "error", err)
	}

	mark := &store.MarkDispatch{
		ID:       msg.ID,
		Expected: store.ScheduleProcessing,
		To:       store.ScheduleSent,
		SentTs:   &sentTs,
	}
	if messageID != "" {
		mark.MessageID = &messageID
	}
	if _, err := d.store.MarkDispatch(ctx, mark); err != nil {
		slog.Error("dispatch: failed to mark message sent", "id", msg.ID, "error", err)
	}

	d.recordOutcome(ctx, msg, "sent")
}

func (d *Dispatcher) fail(ctx context.Context, msg *store.ScheduledMessage, reason string) {
	if _, err := d.store.MarkDispatch(ctx, &store.MarkDispatch{
		ID:           msg.ID,
		Expected:     store.ScheduleProcessing,
		To:           store.ScheduleFailed,
		ErrorMessage: &reason,
	}); err != nil {
		slog.Error("dispatch: failed to mark message failed", "id", msg.ID, "error", err)
	}
	slog.Warn("dispatch: message failed", "id", msg.ID, "tenant", msg.TenantID, "reason", reason)
	d.recordOutcome(ctx, msg, "failed")
}

func (d *Dispatcher) reschedule(ctx context.Context, msg *store.ScheduledMessage, resumeTs int64) {
	if _, err := d.store.MarkDispatch(ctx, &store.MarkDispatch{
		ID:           msg.ID,
		Expected:     store.ScheduleProcessing,
		To:           store.SchedulePending,
		RescheduleTs: &resumeTs,
	}); err != nil {
		slog.Error("dispatch: failed to reschedule message", "id", msg.ID, "error", err)
		return
	}
	if d.opts.Metrics != nil {
		d.opts.Metrics.RecordDispatch("rescheduled")
	}
}

// recordOutcome bumps the metrics counter plus the campaign and variant
// counters when the row belongs to a campaign.
func (d *Dispatcher) recordOutcome(ctx context.Context, msg *store.ScheduledMessage, outcome string) {
	if d.opts.Metrics != nil {
		d.opts.Metrics.RecordDispatch(outcome)
	}
	if msg.CampaignID == "" {
		return
	}

	counter := store.CampaignCounterSent
	variantCounter := "sent_count"
	if outcome == "failed" {
		counter = store.CampaignCounterFailed
		variantCounter = "failed_count"
	}
	if err := d.store.IncCampaignCounter(ctx, msg.TenantID, msg.CampaignID, counter, 1); err != nil {
		slog.Warn("dispatch: failed to bump campaign counter", "campaign", msg.CampaignID, "error", err)
	}
	if msg.VariantName == "" {
		return
	}
	variants, err := d.store.ListCampaignVariants(ctx, &store.FindCampaignVariant{
		TenantID:   msg.TenantID,
		CampaignID: msg.CampaignID,
	})
	if err != nil {
		return
	}
	for _, v := range variants {
		if v.Name == msg.VariantName {
			if err := d.store.IncVariantCounter(ctx, msg.TenantID, v.ID, variantCounter, 1); err != nil {
				slog.Warn("dispatch: failed to bump variant counter", "variant", v.ID, "error", err)
			}
			return
		}
	}
}

// consentAllows checks the customer's consent flags against the message
// type. Transactional traffic always passes.
func (d *Dispatcher) consentAllows(ctx context.Context, msg *store.ScheduledMessage) (bool, error) {
	if msg.MessageType == store.MessageAutomatedTransactional {
		return true, nil
	}
	prefs, err := d.store.GetCustomerPreferences(ctx, msg.TenantID, msg.CustomerID)
	if err != nil {
		return false, errors.Wrap(err, "failed to load consent preferences")
	}
	switch msg.MessageType {
	case store.MessageAutomatedReminder:
		return prefs.Reminder, nil
	case store.MessageAutomatedReengagement, store.MessageScheduledPromotional:
		return prefs.Promotional, nil
	default:
		return false, errors.Errorf("message type %q cannot be dispatched", msg.MessageType)
	}
}

func consentKindFor(t store.MessageType) string {
	switch t {
	case store.MessageAutomatedReminder:
		return string(store.ConsentReminder)
	default:
		return string(store.ConsentPromotional)
	}
}

// RenderTemplate substitutes {{key}} placeholders from the context map.
// Unknown placeholders are left in place.
func RenderTemplate(template string, context map[string]string) string {
	if len(context) == 0 {
		return template
	}
	pairs := make([]string, 0, len(context)*2)
	for k, v := range context {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// quietHoursResume reports whether now falls inside the tenant's quiet
// hours and, if so, when sending may resume. The window may wrap midnight.
func quietHoursResume(tenant *store.Tenant, now time.Time) (time.Time, bool) {
	if tenant.QuietHoursStart == "" || tenant.QuietHoursEnd == "" {
		return time.Time{}, false
	}
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)

	start, err := parseClock(tenant.QuietHoursStart)
	if err != nil {
		return time.Time{}, false
	}
	end, err := parseClock(tenant.QuietHoursEnd)
	if err != nil {
		return time.Time{}, false
	}
	if start == end {
		return time.Time{}, false
	}

	minute := local.Hour()*60 + local.Minute()
	var quiet bool
	if start < end {
		quiet = minute >= start && minute < end
	} else {
		quiet = minute >= start || minute < end
	}
	if !quiet {
		return time.Time{}, false
	}

	resume := time.Date(local.Year(), local.Month(), local.Day(), end/60, end%60, 0, 0, loc)
	if !resume.After(local) {
		resume = resume.Add(24 * time.Hour)
	}
	return resume, true
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
