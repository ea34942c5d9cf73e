package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu      sync.Mutex
	batches [][]PushMessage
}

func (s *captureSender) SendBatch(_ context.Context, messages []PushMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := make([]PushMessage, len(messages))
	copy(batch, messages)
	s.batches = append(s.batches, batch)
	return nil
}

func (s *captureSender) snapshot() [][]PushMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]PushMessage, len(s.batches))
	copy(out, s.batches)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNotifierDeliversPublishedIntents(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(NewMemoryQueue(16), sender, nil).WithWorkers(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Publish(Intent{
		To:    "ExponentPushToken[abc]",
		Title: "Queue update",
		Body:  "You are now #1",
		Data:  map[string]any{"entryId": "e1"},
	})

	waitFor(t, func() bool { return len(sender.snapshot()) == 1 })
	cancel()
	n.Wait()

	batches := sender.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	msg := batches[0][0]
	assert.Equal(t, "ExponentPushToken[abc]", msg.To)
	assert.Equal(t, "default", msg.Sound)
	assert.Equal(t, "Queue update", msg.Title)
	assert.Equal(t, "e1", msg.Data["entryId"])
}

func TestNotifierChunksToBatchSize(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(NewMemoryQueue(16), sender, nil).WithWorkers(1).WithBatchSize(2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	intents := make([]Intent, 5)
	for i := range intents {
		intents[i] = Intent{To: "tok", Title: "t", Body: "b"}
	}
	n.Publish(intents...)

	waitFor(t, func() bool {
		total := 0
		for _, b := range sender.snapshot() {
			total += len(b)
		}
		return total == 5
	})
	cancel()
	n.Wait()

	batches := sender.snapshot()
	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[1], 2)
	assert.Len(t, batches[2], 1)
}

func TestNotifierSkipsIntentsWithoutToken(t *testing.T) {
	sender := &captureSender{}
	n := NewNotifier(NewMemoryQueue(16), sender, nil).WithWorkers(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	n.Start(ctx)

	n.Publish(
		Intent{To: "", Title: "dropped"},
		Intent{To: "tok", Title: "kept"},
	)

	waitFor(t, func() bool { return len(sender.snapshot()) == 1 })
	cancel()
	n.Wait()

	batches := sender.snapshot()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, "kept", batches[0][0].Title)
}

func TestNotifierNilAndEmptyPublishAreSafe(t *testing.T) {
	var n *Notifier
	n.Publish(Intent{To: "tok"})

	live := NewNotifier(NewMemoryQueue(1), &captureSender{}, nil)
	live.Publish()
}

func TestMemoryQueueDropsOnOverflow(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Send(context.Background(), "first"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Send(ctx, "second")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	msgs, err := q.Receive(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "first", msgs[0].Body)
}
