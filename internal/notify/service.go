package notify

import (
	"context"
	"sync"
	"time"

	"github.com/kvasirlabs/waitline/pkg/logging"
)

// Sender delivers one transport request worth of push messages.
type Sender interface {
	SendBatch(ctx context.Context, messages []PushMessage) error
}

// Notifier is the fire-and-forget fan-out sink. Publish hands intents
// to the queue with a bounded wait and drops on overflow; Start spawns
// the workers that drain the queue and post batches to the transport.
// Transport failures are logged, never returned to the engine.
type Notifier struct {
	queue  Queue
	sender Sender
	logger *logging.Logger

	workers        int
	batchSize      int
	publishTimeout time.Duration
	waitSeconds    int

	wg sync.WaitGroup
}

// NewNotifier creates a Notifier with default worker settings.
func NewNotifier(queue Queue, sender Sender, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Notifier{
		queue:          queue,
		sender:         sender,
		logger:         logger.Component("notify"),
		workers:        4,
		batchSize:      100,
		publishTimeout: 100 * time.Millisecond,
		waitSeconds:    1,
	}
}

func (n *Notifier) WithWorkers(count int) *Notifier {
	if count > 0 {
		n.workers = count
	}
	return n
}

// WithBatchSize caps messages per transport request. The Expo contract
// allows at most 100.
func (n *Notifier) WithBatchSize(size int) *Notifier {
	if size > 0 {
		n.batchSize = size
	}
	return n
}

func (n *Notifier) WithPublishTimeout(d time.Duration) *Notifier {
	if d > 0 {
		n.publishTimeout = d
	}
	return n
}

// Publish queues intents for delivery. It never blocks the caller
// beyond the bounded publish timeout; on overflow the batch is dropped
// and logged.
func (n *Notifier) Publish(intents ...Intent) {
	if n == nil || len(intents) == 0 || n.queue == nil {
		return
	}
	body, err := encodeIntents(intents)
	if err != nil {
		n.logger.Error("encode notification batch failed", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.publishTimeout)
	defer cancel()
	if err := n.queue.Send(ctx, body); err != nil {
		n.logger.Warn("notification batch dropped", "error", err, "count", len(intents))
	}
}

// Start launches the delivery workers. They exit when ctx is done;
// call Wait to block until drained.
func (n *Notifier) Start(ctx context.Context) {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.run(ctx)
		}()
	}
}

// Wait blocks until every worker has exited.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		messages, err := n.queue.Receive(ctx, 10, n.waitSeconds)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.logger.Error("receive notifications failed", "error", err)
			continue
		}
		for _, msg := range messages {
			n.deliver(ctx, msg)
		}
	}
}

func (n *Notifier) deliver(ctx context.Context, msg Message) {
	intents, err := decodeIntents(msg.Body)
	if err != nil {
		n.logger.Error("drop malformed notification batch", "error", err, "message_id", msg.ID)
		_ = n.queue.Delete(ctx, msg.ReceiptHandle)
		return
	}

	push := make([]PushMessage, 0, len(intents))
	for _, in := range intents {
		if in.To == "" {
			continue
		}
		push = append(push, PushMessage{
			To:    in.To,
			Sound: "default",
			Title: in.Title,
			Body:  in.Body,
			Data:  in.Data,
		})
	}

	for start := 0; start < len(push); start += n.batchSize {
		end := start + n.batchSize
		if end > len(push) {
			end = len(push)
		}
		if err := n.sender.SendBatch(ctx, push[start:end]); err != nil {
			// Best-effort: the transport already retried.
			n.logger.Error("push delivery failed", "error", err, "count", end-start)
		}
	}

	if err := n.queue.Delete(ctx, msg.ReceiptHandle); err != nil {
		n.logger.Warn("delete delivered message failed", "error", err, "message_id", msg.ID)
	}
}
