// Package harmonizer buffers rapid successive inbound messages from the
// same conversation and folds them into one logical turn. A burst of
// messages with adjacent gaps inside the window produces exactly one
// outbound turn.
package harmonizer

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/conversia-ai/conversia/store"
)

const (
	// DefaultBurstWindow is W: messages closer together than this belong to
	// the same burst.
	DefaultBurstWindow = 3 * time.Second
	// DefaultFlushDelay is T_flush: the quiet period after the latest
	// message before the burst is handed off.
	DefaultFlushDelay = 5 * time.Second

	// flushBudget bounds the downstream turn processing started by a timer.
	flushBudget = 90 * time.Second
)

// Queue is the burst-buffer slice of the store. *store.Store satisfies it.
type Queue interface {
	EnqueueMessage(ctx context.Context, create *store.MessageQueueEntry) (*store.MessageQueueEntry, error)
	ClaimQueuedEntries(ctx context.Context, tenantID, conversationID string, olderThanTs int64) ([]*store.MessageQueueEntry, error)
	MarkQueueEntries(ctx context.Context, ids []string, status store.QueueStatus, processedTs int64, errorMessage string) error
}

// Turn is one harmonized logical turn: the buffered texts joined with
// newlines in arrival order.
type Turn struct {
	TenantID       string
	ConversationID string
	Text           string
	EntryIDs       []string
	MessageIDs     []string
}

// FlushFunc processes one harmonized turn. A non-nil error marks the batch
// failed instead of processed.
type FlushFunc func(ctx context.Context, turn *Turn) error

// Harmonizer owns the per-conversation flush timers.
type Harmonizer struct {
	queue  Queue
	handle FlushFunc
	window time.Duration
	delay  time.Duration
	nowTs  func() int64

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// New creates a harmonizer. Zero window/delay take the defaults.
func New(queue Queue, handle FlushFunc, window, delay time.Duration) *Harmonizer {
	if window <= 0 {
		window = DefaultBurstWindow
	}
	if delay <= 0 {
		delay = DefaultFlushDelay
	}
	return &Harmonizer{
		queue:  queue,
		handle: handle,
		window: window,
		delay:  delay,
		nowTs:  store.NowTs,
		timers: map[string]*time.Timer{},
	}
}

// Ingest buffers one inbound message and re-arms the conversation's flush
// timer, extending the quiet period past this message.
func (h *Harmonizer) Ingest(ctx context.Context, tenantID, conversationID, messageID, text string) error {
	_, err := h.queue.EnqueueMessage(ctx, &store.MessageQueueEntry{
		TenantID:       tenantID,
		ConversationID: conversationID,
		MessageID:      messageID,
		Text:           text,
	})
	if err != nil {
		return errors.Wrap(err, "failed to enqueue message")
	}
	h.arm(tenantID, conversationID)
	return nil
}

func (h *Harmonizer) arm(tenantID, conversationID string) {
	key := tenantID + "|" + conversationID

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if t, ok := h.timers[key]; ok {
		t.Stop()
	}
	h.timers[key] = time.AfterFunc(h.delay, func() {
		h.mu.Lock()
		delete(h.timers, key)
		h.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), flushBudget)
		defer cancel()
		h.Flush(ctx, tenantID, conversationID)
	})
}

// Flush claims the conversation's matured queue entries and hands the
// harmonized turn to the handler. It is also called directly on shutdown.
func (h *Harmonizer) Flush(ctx context.Context, tenantID, conversationID string) {
	olderThan := h.nowTs() - int64(h.window/time.Second)
	entries, err := h.queue.ClaimQueuedEntries(ctx, tenantID, conversationID, olderThan)
	if err != nil {
		slog.Error("harmonizer: failed to claim queued entries",
			"tenant", tenantID, "conversation", conversationID, "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].QueuedTs < entries[j].QueuedTs
	})

	turn := &Turn{TenantID: tenantID, ConversationID: conversationID}
	texts := make([]string, 0, len(entries))
	for _, e := range entries {
		texts = append(texts, e.Text)
		turn.EntryIDs = append(turn.EntryIDs, e.ID)
		turn.MessageIDs = append(turn.MessageIDs, e.MessageID)
	}
	turn.Text = strings.Join(texts, "\n")

	if err := h.handle(ctx, turn); err != nil {
		slog.Warn("harmonizer: turn processing failed",
			"tenant", tenantID, "conversation", conversationID, "error", err)
		if markErr := h.queue.MarkQueueEntries(ctx, turn.EntryIDs, store.QueueStatusFailed, h.nowTs(), err.Error()); markErr != nil {
			slog.Error("harmonizer: failed to mark batch failed", "error", markErr)
		}
		return
	}
	if err := h.queue.MarkQueueEntries(ctx, turn.EntryIDs, store.QueueStatusProcessed, h.nowTs(), ""); err != nil {
		slog.Error("harmonizer: failed to mark batch processed", "error", err)
	}
}

// Close stops all pending timers. Buffered entries stay queued; the next
// startup flush picks them up.
func (h *Harmonizer) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for key, t := range h.timers {
		t.Stop()
		delete(h.timers, key)
	}
}
