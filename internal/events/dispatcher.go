// Package events delivers ledger events to the notification side without
// blocking the operation that produced them.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/ops"
)

// Publisher accepts events for delivery.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Sink delivers one event to a destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event domain.Event) error
}

var (
	// ErrQueueFull is returned when the dispatcher buffer has no room.
	ErrQueueFull = errors.New("event queue is full")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("event dispatcher is closed")
)

// DispatcherOptions tunes a Dispatcher.
type DispatcherOptions struct {
	Buffer          int
	Workers         int
	DeliveryTimeout time.Duration
}

// Dispatcher fans events out to its sinks from a buffered queue served by a
// fixed pool of workers. Sink failures are reported on the operator channel.
type Dispatcher struct {
	sinks   []Sink
	alerts  ops.Channel
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan domain.Event
	wg     sync.WaitGroup
}

// NewDispatcher starts the worker pool.
func NewDispatcher(sinks []Sink, alerts ops.Channel, logger *slog.Logger, opts DispatcherOptions) *Dispatcher {
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	d := &Dispatcher{
		sinks:   sinks,
		alerts:  alerts,
		logger:  logger.With("component", "events"),
		timeout: opts.DeliveryTimeout,
		queue:   make(chan domain.Event, opts.Buffer),
	}
	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish enqueues event. It never waits for delivery.
func (d *Dispatcher) Publish(_ context.Context, event domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrClosed
	}
	select {
	case d.queue <- event:
		return nil
	default:
		return fmt.Errorf("%w: dropping %s for %s", ErrQueueFull, event.Type, event.AccountNumber)
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for event := range d.queue {
		for _, sink := range d.sinks {
			d.deliver(sink, event)
		}
	}
}

func (d *Dispatcher) deliver(sink Sink, event domain.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := sink.Deliver(ctx, event); err != nil {
		d.alerts.Report(ctx, ops.Alert{
			Kind:        ops.AlertEventPublishFailed,
			OperationID: event.TransactionID,
			Message:     fmt.Sprintf("%s event for %s not delivered to %s", event.Type, event.AccountNumber, sink.Name()),
			Err:         err,
		})
		return
	}
	d.logger.Debug("event delivered", "sink", sink.Name(), "type", string(event.Type), "transactionId", event.TransactionID)
}
