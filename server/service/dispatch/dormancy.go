package dispatch

import (
	"context"
	"log/slog"

	"github.com/conversia-ai/conversia/store"
)

// sweepDormantConversations parks open and bot-handled conversations with
// no activity inside the dormancy window. Handed-off conversations belong
// to a human agent and are left alone.
func (d *Dispatcher) sweepDormantConversations(ctx context.Context) {
	if d.opts.DormancyDays <= 0 {
		return
	}
	tenants, err := d.store.ListTenants(ctx, &store.FindTenant{})
	if err != nil {
		slog.Error("dispatch: failed to list tenants", "error", err)
		return
	}

	now := d.nowTs()
	cutoff := now - int64(d.opts.DormancyDays)*86400
	for _, tenant := range tenants {
		if tenant.Status != store.TenantStatusActive {
			continue
		}
		for _, state := range []store.ConversationState{store.ConversationOpen, store.ConversationBotHandled} {
			st := state
			stale, err := d.store.ListConversations(ctx, &store.FindConversation{
				TenantID:           tenant.ID,
				State:              &st,
				LastActivityBefore: &cutoff,
				Limit:              pollBatchSize,
			})
			if err != nil {
				slog.Error("dispatch: failed to list stale conversations",
					"tenant", tenant.ID, "error", err)
				continue
			}
			for _, conv := range stale {
				if _, err := d.store.TransitionConversationState(ctx, &store.ConversationTransition{
					TenantID: tenant.ID,
					ID:       conv.ID,
					From:     []store.ConversationState{st},
					To:       store.ConversationDormant,
					Reason:   "inactivity",
					NowTs:    now,
				}); err != nil {
					// Usually a lost race with another replica or a
					// concurrent inbound message.
					slog.Warn("dispatch: failed to park conversation",
						"conversation", conv.ID, "error", err)
					continue
				}
				slog.Info("dispatch: conversation dormant",
					"conversation", conv.ID, "tenant", tenant.ID)
			}
		}
	}
}
