package events

import (
	"context"
	"log/slog"
	"time"
)

// Background delivers snapshots to a slow publisher from its own goroutine.
// Publish only replaces the pending snapshot, so a stalled delivery never
// holds up the dispatcher; once the publisher is free it gets the newest one.
type Background struct {
	name      string
	publisher Publisher
	timeout   time.Duration
	pending   chan []Event
}

var _ Publisher = (*Background)(nil)

// NewBackground wraps p. Each delivery is bounded by timeout when it is positive.
func NewBackground(name string, p Publisher, timeout time.Duration) *Background {
	return &Background{
		name:      name,
		publisher: p,
		timeout:   timeout,
		pending:   make(chan []Event, 1),
	}
}

func (b *Background) Publish(_ context.Context, snapshot []Event) error {
	select {
	case <-b.pending:
		slog.Debug("replacing undelivered snapshot", "publisher", b.name)
	default:
	}
	select {
	case b.pending <- snapshot:
	default:
		slog.Warn("publisher busy, dropping snapshot", "publisher", b.name)
	}
	return nil
}

// Run delivers pending snapshots until ctx is done.
func (b *Background) Run(ctx context.Context) error {
	for {
		select {
		case snapshot := <-b.pending:
			b.deliver(ctx, snapshot)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (b *Background) deliver(ctx context.Context, snapshot []Event) {
	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	if err := b.publisher.Publish(ctx, snapshot); err != nil {
		slog.Error("failed to publish snapshot", "publisher", b.name, "err", err)
	}
}
