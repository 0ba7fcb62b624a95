package harmonizer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conversia-ai/conversia/store"
)

type fakeQueue struct {
	mu      sync.Mutex
	entries []*store.MessageQueueEntry
	seq     int
}

func (f *fakeQueue) EnqueueMessage(_ context.Context, create *store.MessageQueueEntry) (*store.MessageQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	create.ID = create.MessageID
	create.Status = store.QueueStatusQueued
	create.QueuedTs = int64(f.seq) // arrival order stands in for time
	f.entries = append(f.entries, create)
	return create, nil
}

func (f *fakeQueue) ClaimQueuedEntries(_ context.Context, tenantID, conversationID string, _ int64) ([]*store.MessageQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	claimed := []*store.MessageQueueEntry{}
	for _, e := range f.entries {
		if e.TenantID == tenantID && e.ConversationID == conversationID && e.Status == store.QueueStatusQueued {
			e.Status = store.QueueStatusProcessing
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

func (f *fakeQueue) MarkQueueEntries(_ context.Context, ids []string, status store.QueueStatus, processedTs int64, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entries {
		for _, id := range ids {
			if e.ID == id {
				e.Status = status
				e.ProcessedTs = &processedTs
				e.ErrorMessage = errorMessage
			}
		}
	}
	return nil
}

func (f *fakeQueue) statuses() map[string]store.QueueStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]store.QueueStatus{}
	for _, e := range f.entries {
		out[e.ID] = e.Status
	}
	return out
}

type recorder struct {
	mu    sync.Mutex
	turns []*Turn
	err   error
}

func (r *recorder) flush(_ context.Context, turn *Turn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, turn)
	return r.err
}

func (r *recorder) all() []*Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

func TestBurstBecomesOneTurn(t *testing.T) {
	q := &fakeQueue{}
	rec := &recorder{}
	h := New(q, rec.flush, time.Second, 25*time.Millisecond)
	defer h.Close()

	ctx := context.Background()
	require.NoError(t, h.Ingest(ctx, "t1", "c1", "m1", "do you have"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, h.Ingest(ctx, "t1", "c1", "m2", "blue shirts?"))

	assert.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)

	turn := rec.all()[0]
	assert.Equal(t, "do you have\nblue shirts?", turn.Text)
	assert.Equal(t, []string{"m1", "m2"}, turn.EntryIDs)

	statuses := q.statuses()
	assert.Equal(t, store.QueueStatusProcessed, statuses["m1"])
	assert.Equal(t, store.QueueStatusProcessed, statuses["m2"])
}

func TestTimerRearmsOnEachMessage(t *testing.T) {
	q := &fakeQueue{}
	rec := &recorder{}
	h := New(q, rec.flush, time.Second, 40*time.Millisecond)
	defer h.Close()

	ctx := context.Background()
	require.NoError(t, h.Ingest(ctx, "t1", "c1", "m1", "one"))
	time.Sleep(25 * time.Millisecond)
	// Still within the delay; the timer re-arms instead of firing.
	require.NoError(t, h.Ingest(ctx, "t1", "c1", "m2", "two"))
	time.Sleep(25 * time.Millisecond)
	assert.Empty(t, rec.all(), "flush must wait for a full quiet period after the latest message")

	assert.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "one\ntwo", rec.all()[0].Text)
}

func TestConversationsFlushIndependently(t *testing.T) {
	q := &fakeQueue{}
	rec := &recorder{}
	h := New(q, rec.flush, time.Second, 20*time.Millisecond)
	defer h.Close()

	ctx := context.Background()
	require.NoError(t, h.Ingest(ctx, "t1", "c1", "m1", "hello from c1"))
	require.NoError(t, h.Ingest(ctx, "t1", "c2", "m2", "hello from c2"))

	assert.Eventually(t, func() bool { return len(rec.all()) == 2 }, time.Second, 5*time.Millisecond)

	texts := map[string]bool{}
	for _, turn := range rec.all() {
		texts[turn.Text] = true
	}
	assert.True(t, texts["hello from c1"])
	assert.True(t, texts["hello from c2"])
}

func TestFailedTurnMarksEntriesFailed(t *testing.T) {
	q := &fakeQueue{}
	rec := &recorder{err: assert.AnError}
	h := New(q, rec.flush, time.Second, 10*time.Millisecond)
	defer h.Close()

	require.NoError(t, h.Ingest(context.Background(), "t1", "c1", "m1", "hi"))

	assert.Eventually(t, func() bool {
		return q.statuses()["m1"] == store.QueueStatusFailed
	}, time.Second, 5*time.Millisecond)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, assert.AnError.Error(), q.entries[0].ErrorMessage)
}

func TestFlushWithEmptyQueueDoesNothing(t *testing.T) {
	q := &fakeQueue{}
	rec := &recorder{}
	h := New(q, rec.flush, time.Second, time.Hour)
	defer h.Close()

	h.Flush(context.Background(), "t1", "c1")
	assert.Empty(t, rec.all())
}

func TestCloseStopsPendingTimers(t *testing.T) {
	q := &fakeQueue{}
	rec := &recorder{}
	h := New(q, rec.flush, time.Second, 20*time.Millisecond)

	require.NoError(t, h.Ingest(context.Background(), "t1", "c1", "m1", "hi"))
	h.Close()

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, rec.all())
	// The entry stays queued for the next startup flush.
	assert.Equal(t, store.QueueStatusQueued, q.statuses()["m1"])
}
