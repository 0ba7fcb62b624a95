package dispatch

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/internal/profile"
	"github.com/conversia-ai/conversia/plugin/channel"
	"github.com/conversia-ai/conversia/store"
	"github.com/conversia-ai/conversia/store/db/sqlite"
)

type dispatchFixture struct {
	store      *store.Store
	gateway    *channel.Fake
	dispatcher *Dispatcher
	tenant     *store.Tenant
	customer   *store.Customer
}

func newFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	p := &profile.Profile{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	st := store.New(driver, p)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))

	tenant, err := st.CreateTenant(context.Background(), &store.Tenant{
		Name:          "Acme",
		ChannelNumber: "+5511999990000",
	})
	require.NoError(t, err)
	customer, err := st.CreateCustomer(context.Background(), &store.Customer{
		TenantID:    tenant.ID,
		Phone:       "+5511988887777",
		DisplayName: "Maria",
	})
	require.NoError(t, err)

	gateway := channel.NewFake()
	d := New(st, gateway, Options{})
	// Polls run in the row's future so rows created "now" are already due.
	d.nowTs = func() int64 { return store.NowTs() + 60 }

	return &dispatchFixture{store: st, gateway: gateway, dispatcher: d, tenant: tenant, customer: customer}
}

func (f *dispatchFixture) schedule(t *testing.T, msgType store.MessageType, content string) *store.ScheduledMessage {
	t.Helper()
	msg, err := f.store.CreateScheduledMessage(context.Background(), &store.ScheduledMessage{
		TenantID:    f.tenant.ID,
		CustomerID:  f.customer.ID,
		Content:     content,
		ScheduledTs: store.NowTs() + 2,
		MessageType: msgType,
	})
	require.NoError(t, err)
	return msg
}

func (f *dispatchFixture) reload(t *testing.T, id string) *store.ScheduledMessage {
	t.Helper()
	msg, err := f.store.GetScheduledMessage(context.Background(), &store.FindScheduledMessage{ID: &id})
	require.NoError(t, err)
	return msg
}

func TestPollSendsDueReminder(t *testing.T) {
	f := newFixture(t)
	msg, err := f.store.CreateScheduledMessage(context.Background(), &store.ScheduledMessage{
		TenantID:    f.tenant.ID,
		CustomerID:  f.customer.ID,
		Content:     "See you at {{time}}!",
		ContextMap:  map[string]string{"time": "15:00"},
		ScheduledTs: store.NowTs() + 2,
		MessageType: store.MessageAutomatedReminder,
	})
	require.NoError(t, err)

	f.dispatcher.Poll(context.Background())

	sends := f.gateway.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "+5511988887777", sends[0].To)
	text, ok := sends[0].Payload.(channel.TextPayload)
	require.True(t, ok)
	assert.Equal(t, "See you at 15:00!", text.Text)

	row := f.reload(t, msg.ID)
	assert.Equal(t, store.ScheduleSent, row.Status)
	require.NotNil(t, row.SentTs)
	assert.NotEmpty(t, row.MessageID)

	// The outbound message is on the customer's conversation.
	convs, err := f.store.ListConversations(context.Background(), &store.FindConversation{
		TenantID:   f.tenant.ID,
		CustomerID: &f.customer.ID,
	})
	require.NoError(t, err)
	require.Len(t, convs, 1)
	msgs, err := f.store.ListMessages(context.Background(), &store.FindMessage{
		TenantID:       f.tenant.ID,
		ConversationID: convs[0].ID,
	})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.MessageAutomatedReminder, msgs[0].Type)
	assert.Equal(t, store.DeliverySent, msgs[0].DeliveryStatus)
}

func TestPromotionalRequiresOptIn(t *testing.T) {
	f := newFixture(t)
	blocked := f.schedule(t, store.MessageScheduledPromotional, "Big sale!")

	f.dispatcher.Poll(context.Background())

	row := f.reload(t, blocked.ID)
	assert.Equal(t, store.ScheduleFailed, row.Status)
	assert.Equal(t, "no_consent:promotional", row.ErrorMessage)
	assert.Empty(t, f.gateway.Sends())

	// After explicit opt-in the next promotional message goes out.
	optIn := true
	_, err := f.store.UpdateCustomerPreferences(context.Background(), &store.UpdateCustomerPreferences{
		TenantID:    f.tenant.ID,
		CustomerID:  f.customer.ID,
		Promotional: &optIn,
		Source:      store.ConsentSourceCustomer,
	})
	require.NoError(t, err)

	allowed := f.schedule(t, store.MessageScheduledPromotional, "Big sale!")
	f.dispatcher.Poll(context.Background())

	assert.Equal(t, store.ScheduleSent, f.reload(t, allowed.ID).Status)
	assert.Len(t, f.gateway.Sends(), 1)
}

func TestRevokedReminderConsentBlocksDispatch(t *testing.T) {
	f := newFixture(t)
	revoke := false
	_, err := f.store.UpdateCustomerPreferences(context.Background(), &store.UpdateCustomerPreferences{
		TenantID:   f.tenant.ID,
		CustomerID: f.customer.ID,
		Reminder:   &revoke,
		Source:     store.ConsentSourceCustomer,
	})
	require.NoError(t, err)

	msg := f.schedule(t, store.MessageAutomatedReminder, "Reminder")
	f.dispatcher.Poll(context.Background())

	row := f.reload(t, msg.ID)
	assert.Equal(t, store.ScheduleFailed, row.Status)
	assert.Equal(t, "no_consent:reminder", row.ErrorMessage)
}

func TestQuietHoursRescheduleAndTransactionalBypass(t *testing.T) {
	f := newFixture(t)

	// Quiet hours bracketing the dispatcher's current time.
	now := time.Unix(f.dispatcher.nowTs(), 0).UTC()
	start := now.Add(-time.Hour).Format("15:04")
	end := now.Add(time.Hour).Format("15:04")
	tz := "UTC"
	_, err := f.store.UpdateTenant(context.Background(), &store.UpdateTenant{
		ID:              f.tenant.ID,
		QuietHoursStart: &start,
		QuietHoursEnd:   &end,
		Timezone:        &tz,
	})
	require.NoError(t, err)

	reminder := f.schedule(t, store.MessageAutomatedReminder, "quiet hours push me")
	transactional := f.schedule(t, store.MessageAutomatedTransactional, "order confirmed")

	f.dispatcher.Poll(context.Background())

	pushed := f.reload(t, reminder.ID)
	assert.Equal(t, store.SchedulePending, pushed.Status)
	assert.Greater(t, pushed.ScheduledTs, f.dispatcher.nowTs())

	assert.Equal(t, store.ScheduleSent, f.reload(t, transactional.ID).Status)
	require.Len(t, f.gateway.Sends(), 1)
}

func TestTransientSendFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	f.gateway.NextErr = &channel.SendError{Transient: true, Err: assert.AnError}

	msg := f.schedule(t, store.MessageAutomatedTransactional, "order confirmed")
	f.dispatcher.Poll(context.Background())

	// NextErr clears after the first attempt; the retry succeeds.
	assert.Equal(t, store.ScheduleSent, f.reload(t, msg.ID).Status)
	assert.Len(t, f.gateway.Sends(), 1)
}

func TestCampaignExpansionAndCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	vip, err := f.store.CreateCustomer(ctx, &store.Customer{
		TenantID: f.tenant.ID,
		Phone:    "+5511977776666",
		Tags:     []string{"vip"},
	})
	require.NoError(t, err)
	optIn := true
	for _, id := range []string{f.customer.ID, vip.ID} {
		_, err = f.store.UpdateCustomerPreferences(ctx, &store.UpdateCustomerPreferences{
			TenantID:    f.tenant.ID,
			CustomerID:  id,
			Promotional: &optIn,
			Source:      store.ConsentSourceCustomer,
		})
		require.NoError(t, err)
	}

	campaign, err := f.store.CreateCampaign(ctx, &store.MessageCampaign{
		TenantID:       f.tenant.ID,
		Name:           "VIP sale",
		TargetCriteria: `"vip" in customer.tags`,
		DefaultContent: "VIP preview tonight!",
		ScheduledTs:    store.NowTs() + 2,
	})
	require.NoError(t, err)
	_, err = f.store.TransitionCampaign(ctx, &store.CampaignTransition{
		TenantID: f.tenant.ID, ID: campaign.ID,
		From: store.CampaignDraft, To: store.CampaignScheduled,
	})
	require.NoError(t, err)

	// First poll expands the campaign into per-recipient rows.
	f.dispatcher.Poll(ctx)

	id := campaign.ID
	got, err := f.store.GetCampaign(ctx, &store.FindCampaign{TenantID: f.tenant.ID, ID: &id})
	require.NoError(t, err)
	assert.Equal(t, store.CampaignSending, got.Status)
	assert.Equal(t, 1, got.TotalRecipients)

	rows, err := f.store.ListScheduledMessages(ctx, &store.FindScheduledMessage{
		TenantID:   &f.tenant.ID,
		CampaignID: &id,
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, vip.ID, rows[0].CustomerID)

	// Second poll runs past the expanded rows' due time, delivers them and
	// completes the campaign.
	f.dispatcher.nowTs = func() int64 { return store.NowTs() + 120 }
	f.dispatcher.Poll(ctx)

	got, err = f.store.GetCampaign(ctx, &store.FindCampaign{TenantID: f.tenant.ID, ID: &id})
	require.NoError(t, err)
	assert.Equal(t, store.CampaignCompleted, got.Status)
	assert.Equal(t, 1, got.SentCount)
	require.Len(t, f.gateway.Sends(), 1)
	assert.Equal(t, "+5511977776666", f.gateway.Sends()[0].To)
}

func TestVariantAssignmentIsStable(t *testing.T) {
	variants := []*store.CampaignVariant{
		{ID: "v1", Name: "A"},
		{ID: "v2", Name: "B"},
	}
	first := AssignVariant(variants, "customer-1")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, AssignVariant(variants, "customer-1"))
	}
	assert.Nil(t, AssignVariant(nil, "customer-1"))
}

func TestRenderTemplate(t *testing.T) {
	out := RenderTemplate("Hi {{name}}, see you {{when}}. {{missing}}", map[string]string{
		"name": "Maria",
		"when": "tomorrow",
	})
	assert.Equal(t, "Hi Maria, see you tomorrow. {{missing}}", out)
	assert.Equal(t, "plain", RenderTemplate("plain", nil))
}

func TestMatchCriteria(t *testing.T) {
	program, err := CompileCriteria(`"vip" in customer.tags && customer.locale == "pt"`)
	require.NoError(t, err)

	now := store.NowTs()
	vip := CustomerFields(&store.Customer{Tags: []string{"vip"}, Locale: "pt"}, nil, 0, now)
	assert.True(t, MatchCriteria(program, vip))

	wrongLocale := CustomerFields(&store.Customer{Tags: []string{"vip"}, Locale: "en"}, nil, 0, now)
	assert.False(t, MatchCriteria(program, wrongLocale))

	noTag := CustomerFields(&store.Customer{Locale: "pt"}, nil, 0, now)
	assert.False(t, MatchCriteria(program, noTag))

	assert.True(t, MatchCriteria(nil, nil))
}

func TestCustomerFieldsExposeConsentAndRecency(t *testing.T) {
	now := store.NowTs()
	fields := CustomerFields(&store.Customer{
		ID:         "c1",
		LastSeenTs: now - 3*86400,
	}, &store.CustomerPreferences{Reminder: true, Promotional: false}, 12500, now)

	assert.Equal(t, int64(3), fields["last_seen_days"])
	assert.Equal(t, int64(12500), fields["spend_cents"])
	assert.Equal(t, true, fields["reminder_opt_in"])
	assert.Equal(t, false, fields["promotional_opt_in"])

	program, err := CompileCriteria(`customer.spend_cents >= 10000 && customer.last_seen_days <= 7`)
	require.NoError(t, err)
	assert.True(t, MatchCriteria(program, fields))
}

func TestCompileCriteriaRejectsBadExpression(t *testing.T) {
	_, err := CompileCriteria("customer.tags ===")
	assert.Error(t, err)
}

func TestQuietHoursResume(t *testing.T) {
	tenant := &store.Tenant{
		QuietHoursStart: "22:00",
		QuietHoursEnd:   "08:00",
		Timezone:        "UTC",
	}

	at := func(hour int) time.Time {
		return time.Date(2026, 3, 10, hour, 30, 0, 0, time.UTC)
	}

	resume, quiet := quietHoursResume(tenant, at(23))
	require.True(t, quiet)
	assert.Equal(t, 8, resume.Hour())
	assert.Equal(t, 11, resume.Day())

	resume, quiet = quietHoursResume(tenant, at(6))
	require.True(t, quiet)
	assert.Equal(t, 8, resume.Hour())
	assert.Equal(t, 10, resume.Day())

	_, quiet = quietHoursResume(tenant, at(12))
	assert.False(t, quiet)

	_, quiet = quietHoursResume(&store.Tenant{}, at(23))
	assert.False(t, quiet)
}

func TestSweepParksInactiveConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	newConversation := func() *store.Conversation {
		conv, err := f.store.CreateConversation(ctx, &store.Conversation{
			TenantID:   f.tenant.ID,
			CustomerID: f.customer.ID,
			Channel:    "whatsapp",
		})
		require.NoError(t, err)
		return conv
	}

	stale := newConversation()

	active := newConversation()
	recent := store.NowTs() + 2*86400
	_, err := f.store.UpdateConversation(ctx, &store.UpdateConversation{
		TenantID:      f.tenant.ID,
		ID:            active.ID,
		LastMessageTs: &recent,
	})
	require.NoError(t, err)

	handed := newConversation()
	_, err = f.store.TransitionConversationState(ctx, &store.ConversationTransition{
		TenantID: f.tenant.ID,
		ID:       handed.ID,
		From:     []store.ConversationState{store.ConversationOpen},
		To:       store.ConversationHandedOff,
		Reason:   "customer asked for a human",
		NowTs:    store.NowTs(),
	})
	require.NoError(t, err)

	// Thirty-one days later only the untouched conversation is past the
	// default window.
	f.dispatcher.nowTs = func() int64 { return store.NowTs() + 31*86400 }
	f.dispatcher.Poll(ctx)

	reload := func(id string) *store.Conversation {
		conv, err := f.store.GetConversation(ctx, &store.FindConversation{
			TenantID: f.tenant.ID,
			ID:       &id,
		})
		require.NoError(t, err)
		return conv
	}
	assert.Equal(t, store.ConversationDormant, reload(stale.ID).State)
	assert.Equal(t, store.ConversationOpen, reload(active.ID).State)
	assert.Equal(t, store.ConversationHandedOff, reload(handed.ID).State)
}

func TestSweepCanBeDisabled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.store.CreateConversation(ctx, &store.Conversation{
		TenantID:   f.tenant.ID,
		CustomerID: f.customer.ID,
		Channel:    "whatsapp",
	})
	require.NoError(t, err)

	f.dispatcher.opts.DormancyDays = -1
	f.dispatcher.nowTs = func() int64 { return store.NowTs() + 365*86400 }
	f.dispatcher.Poll(ctx)

	got, err := f.store.GetConversation(ctx, &store.FindConversation{
		TenantID: f.tenant.ID,
		ID:       &conv.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, store.ConversationOpen, got.State)
}
