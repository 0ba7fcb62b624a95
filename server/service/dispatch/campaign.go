package dispatch

import (
	"context"
	"hash/fnv"
	"log/slog"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/store"
)

// celEnv declares the customer variable recipient criteria evaluate
// against.
var celEnv, celEnvErr = cel.NewEnv(
	cel.Variable("customer", cel.MapType(cel.StringType, cel.DynType)),
)

// CompileCriteria compiles a CEL recipient expression. An empty expression
// matches every customer.
func CompileCriteria(expr string) (cel.Program, error) {
	if expr == "" {
		return nil, nil
	}
	if celEnvErr != nil {
		return nil, errors.Wrap(celEnvErr, "failed to build cel environment")
	}
	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), "failed to compile recipient criteria")
	}
	return celEnv.Program(ast)
}

// CustomerFields builds the CEL variable map for one customer. prefs and
// spendCents may be zero-valued when the caller has no consent or order
// data at hand.
func CustomerFields(customer *store.Customer, prefs *store.CustomerPreferences, spendCents int64, nowTs int64) map[string]any {
	tags := make([]string, len(customer.Tags))
	copy(tags, customer.Tags)

	lastSeenDays := int64(0)
	if customer.LastSeenTs > 0 && nowTs > customer.LastSeenTs {
		lastSeenDays = (nowTs - customer.LastSeenTs) / 86400
	}
	fields := map[string]any{
		"id":             customer.ID,
		"phone":          customer.Phone,
		"display_name":   customer.DisplayName,
		"locale":         customer.Locale,
		"tags":           tags,
		"first_seen_ts":  customer.FirstSeenTs,
		"last_seen_ts":   customer.LastSeenTs,
		"last_seen_days": lastSeenDays,
		"spend_cents":    spendCents,
	}
	if prefs != nil {
		fields["reminder_opt_in"] = prefs.Reminder
		fields["promotional_opt_in"] = prefs.Promotional
	}
	return fields
}

// MatchCriteria evaluates a compiled expression against one customer's
// variable map. A nil program matches everyone; evaluation errors exclude
// the customer.
func MatchCriteria(program cel.Program, fields map[string]any) bool {
	if program == nil {
		return true
	}
	out, _, err := program.Eval(map[string]any{"customer": fields})
	if err != nil {
		slog.Warn("dispatch: recipient criteria evaluation failed",
			"customer", fields["id"], "error", err)
		return false
	}
	matched, ok := out.Value().(bool)
	return ok && matched
}

// customerFields loads the consent and spend data backing the criteria
// variables. Load failures degrade to the bare customer fields.
func (d *Dispatcher) customerFields(ctx context.Context, customer *store.Customer) map[string]any {
	prefs, err := d.store.GetCustomerPreferences(ctx, customer.TenantID, customer.ID)
	if err != nil {
		slog.Warn("dispatch: failed to load preferences for criteria",
			"customer", customer.ID, "error", err)
		prefs = nil
	}
	spend, err := d.store.CustomerSpendCents(ctx, customer.TenantID, customer.ID)
	if err != nil {
		spend = 0
	}
	return CustomerFields(customer, prefs, spend, d.nowTs())
}

// AssignVariant picks the A/B arm for a customer: a stable FNV-1a hash of
// the customer id modulo the variant count.
func AssignVariant(variants []*store.CampaignVariant, customerID string) *store.CampaignVariant {
	if len(variants) == 0 {
		return nil
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(customerID))
	return variants[int(h.Sum32())%len(variants)]
}

// startDueCampaigns expands every scheduled campaign whose time has come
// into per-recipient rows and moves it to sending.
func (d *Dispatcher) startDueCampaigns(ctx context.Context) {
	tenants, err := d.store.ListTenants(ctx, &store.FindTenant{})
	if err != nil {
		slog.Error("dispatch: failed to list tenants", "error", err)
		return
	}
	now := d.nowTs()
	scheduled := store.CampaignScheduled
	for _, tenant := range tenants {
		if tenant.Status != store.TenantStatusActive {
			continue
		}
		campaigns, err := d.store.ListCampaigns(ctx, &store.FindCampaign{
			TenantID: tenant.ID,
			Status:   &scheduled,
		})
		if err != nil {
			slog.Error("dispatch: failed to list campaigns", "tenant", tenant.ID, "error", err)
			continue
		}
		for _, campaign := range campaigns {
			if campaign.ScheduledTs > now {
				continue
			}
			d.startCampaign(ctx, campaign)
		}
	}
}

func (d *Dispatcher) startCampaign(ctx context.Context, campaign *store.MessageCampaign) {
	// The transition is the claim: a replica that loses it skips expansion.
	if _, err := d.store.TransitionCampaign(ctx, &store.CampaignTransition{
		TenantID: campaign.TenantID,
		ID:       campaign.ID,
		From:     store.CampaignScheduled,
		To:       store.CampaignSending,
	}); err != nil {
		slog.Warn("dispatch: campaign claim lost", "campaign", campaign.ID, "error", err)
		return
	}

	recipients, variantNames, err := d.expandCampaign(ctx, campaign)
	if err != nil {
		slog.Error("dispatch: campaign expansion failed", "campaign", campaign.ID, "error", err)
		return
	}

	if err := d.store.IncCampaignCounter(ctx, campaign.TenantID, campaign.ID,
		store.CampaignCounterTotal, recipients); err != nil {
		slog.Warn("dispatch: failed to record campaign recipients", "campaign", campaign.ID, "error", err)
	}
	slog.Info("dispatch: campaign started",
		"campaign", campaign.ID, "tenant", campaign.TenantID,
		"recipients", recipients, "variants", variantNames)
}

// expandCampaign creates one scheduled message per matching customer and
// returns the recipient count.
func (d *Dispatcher) expandCampaign(ctx context.Context, campaign *store.MessageCampaign) (int, []string, error) {
	program, err := CompileCriteria(campaign.TargetCriteria)
	if err != nil {
		return 0, nil, err
	}
	variants, err := d.store.ListCampaignVariants(ctx, &store.FindCampaignVariant{
		TenantID:   campaign.TenantID,
		CampaignID: campaign.ID,
	})
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to list campaign variants")
	}
	variantNames := make([]string, 0, len(variants))
	for _, v := range variants {
		variantNames = append(variantNames, v.Name)
	}

	customers, err := d.store.ListCustomers(ctx, &store.FindCustomer{TenantID: campaign.TenantID})
	if err != nil {
		return 0, nil, errors.Wrap(err, "failed to list customers")
	}

	// Rows are scheduled just past now so creation-time validation holds;
	// the next poll delivers them.
	dueTs := d.nowTs() + 1
	recipients := 0
	for _, customer := range customers {
		if program != nil && !MatchCriteria(program, d.customerFields(ctx, customer)) {
			continue
		}

		content := campaign.DefaultContent
		variantName := ""
		variant := AssignVariant(variants, customer.ID)
		if variant != nil {
			content = variant.Content
			variantName = variant.Name
		}

		if _, err := d.store.CreateScheduledMessage(ctx, &store.ScheduledMessage{
			TenantID:    campaign.TenantID,
			CustomerID:  customer.ID,
			Content:     content,
			ScheduledTs: dueTs,
			MessageType: store.MessageScheduledPromotional,
			CampaignID:  campaign.ID,
			VariantName: variantName,
		}); err != nil {
			slog.Warn("dispatch: failed to create campaign row",
				"campaign", campaign.ID, "customer", customer.ID, "error", err)
			continue
		}
		recipients++
		if variant != nil {
			if err := d.store.IncVariantCounter(ctx, campaign.TenantID, variant.ID, "assigned_count", 1); err != nil {
				slog.Warn("dispatch: failed to bump variant assignment", "variant", variant.ID, "error", err)
			}
		}
	}
	return recipients, variantNames, nil
}

// expandBroadcast turns a customer-less seed row with recipient criteria
// into per-customer rows, then retires the seed.
func (d *Dispatcher) expandBroadcast(ctx context.Context, msg *store.ScheduledMessage) {
	program, err := CompileCriteria(msg.RecipientCriteria)
	if err != nil {
		d.fail(ctx, msg, err.Error())
		return
	}
	customers, err := d.store.ListCustomers(ctx, &store.FindCustomer{TenantID: msg.TenantID})
	if err != nil {
		d.fail(ctx, msg, "failed to list customers")
		return
	}

	dueTs := d.nowTs() + 1
	recipients := 0
	for _, customer := range customers {
		if program != nil && !MatchCriteria(program, d.customerFields(ctx, customer)) {
			continue
		}
		if _, err := d.store.CreateScheduledMessage(ctx, &store.ScheduledMessage{
			TenantID:    msg.TenantID,
			CustomerID:  customer.ID,
			Content:     msg.Content,
			Template:    msg.Template,
			ContextMap:  msg.ContextMap,
			ScheduledTs: dueTs,
			MessageType: msg.MessageType,
			CampaignID:  msg.CampaignID,
			VariantName: msg.VariantName,
		}); err != nil {
			slog.Warn("dispatch: failed to create broadcast row",
				"seed", msg.ID, "customer", customer.ID, "error", err)
			continue
		}
		recipients++
	}

	now := d.nowTs()
	if _, err := d.store.MarkDispatch(ctx, &store.MarkDispatch{
		ID:       msg.ID,
		Expected: store.ScheduleProcessing,
		To:       store.ScheduleSent,
		SentTs:   &now,
	}); err != nil {
		slog.Error("dispatch: failed to retire broadcast seed", "seed", msg.ID, "error", err)
	}
	slog.Info("dispatch: broadcast expanded", "seed", msg.ID, "recipients", recipients)
}

// completeDrainedCampaigns moves sending campaigns with no undelivered rows
// left to completed.
func (d *Dispatcher) completeDrainedCampaigns(ctx context.Context) {
	tenants, err := d.store.ListTenants(ctx, &store.FindTenant{})
	if err != nil {
		return
	}
	sending := store.CampaignSending
	for _, tenant := range tenants {
		campaigns, err := d.store.ListCampaigns(ctx, &store.FindCampaign{
			TenantID: tenant.ID,
			Status:   &sending,
		})
		if err != nil {
			continue
		}
		for _, campaign := range campaigns {
			if !d.campaignDrained(ctx, campaign) {
				continue
			}
			if _, err := d.store.TransitionCampaign(ctx, &store.CampaignTransition{
				TenantID: campaign.TenantID,
				ID:       campaign.ID,
				From:     store.CampaignSending,
				To:       store.CampaignCompleted,
			}); err != nil {
				slog.Warn("dispatch: failed to complete campaign", "campaign", campaign.ID, "error", err)
			}
		}
	}
}

func (d *Dispatcher) campaignDrained(ctx context.Context, campaign *store.MessageCampaign) bool {
	for _, status := range []store.ScheduleStatus{store.SchedulePending, store.ScheduleProcessing} {
		st := status
		rows, err := d.store.ListScheduledMessages(ctx, &store.FindScheduledMessage{
			TenantID:   &campaign.TenantID,
			CampaignID: &campaign.ID,
			Status:     &st,
			Limit:      1,
		})
		if err != nil || len(rows) > 0 {
			return false
		}
	}
	return true
}
