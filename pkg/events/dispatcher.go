package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Lister reads the full snapshot.
type Lister interface {
	List(ctx context.Context) ([]Event, error)
}

// Publisher delivers a full snapshot to its subscribers.
type Publisher interface {
	Publish(ctx context.Context, snapshot []Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, snapshot []Event) error

func (f PublisherFunc) Publish(ctx context.Context, snapshot []Event) error {
	return f(ctx, snapshot)
}

// Publishers publishes to each element in turn and joins their errors.
type Publishers []Publisher

func (ps Publishers) Publish(ctx context.Context, snapshot []Event) error {
	var errs []error
	for _, p := range ps {
		if err := p.Publish(ctx, snapshot); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher decouples broadcasting from the request path. Notify enqueues a
// notice; the Run loop re-reads the snapshot for each notice and publishes it.
//
// A notice that finds the queue full is dropped: every notice already queued
// re-reads the store after the dropping mutation committed, so the change is
// still carried by a later snapshot.
type Dispatcher struct {
	store     Lister
	publisher Publisher
	notices   chan struct{}

	// serialises snapshot reads and publishes between Run and Resync
	mu sync.Mutex
}

func NewDispatcher(store Lister, publisher Publisher, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		notices:   make(chan struct{}, queueSize),
	}
}

// Notify implements Notifier.
func (d *Dispatcher) Notify() {
	select {
	case d.notices <- struct{}{}:
	default:
		slog.Warn("broadcast queue full, dropping notice", "queued", len(d.notices))
	}
}

// Run publishes one snapshot per notice until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-d.notices:
			if err := d.publish(ctx); err != nil {
				slog.Error("failed to broadcast snapshot", "err", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Resync publishes the current snapshot immediately.
func (d *Dispatcher) Resync(ctx context.Context) error {
	return d.publish(ctx)
}

// ScheduleResync starts a cron that calls Resync on spec. The caller stops
// the returned cron.
func (d *Dispatcher) ScheduleResync(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() {
		if err := d.Resync(ctx); err != nil {
			slog.Error("scheduled resync failed", "err", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("invalid resync schedule %q: %w", spec, err)
	}
	c.Start()
	slog.Info("scheduled snapshot resync", "spec", spec)
	return c, nil
}

func (d *Dispatcher) publish(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	snapshot, err := d.store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := d.publisher.Publish(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to publish snapshot: %w", err)
	}
	slog.Debug("published snapshot", "events", len(snapshot))
	return nil
}
