package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/logging"
	"github.com/vanshika/ledgercore/internal/ops"
)

type recordingSink struct {
	name    string
	mu      sync.Mutex
	events  []domain.Event
	err     error
	blockCh chan struct{}
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Deliver(_ context.Context, ev domain.Event) error {
	if s.blockCh != nil {
		<-s.blockCh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func sampleEvent(tx string) domain.Event {
	return domain.Event{
		Type:          domain.EventTransferCompleted,
		TransactionID: tx,
		AccountNumber: "1111-1111-1111-1111",
		Counterparty:  "2222-2222-2222-2222",
		Amount:        decimal.NewFromInt(10),
	}
}

func TestDispatcher_DeliversToEverySink(t *testing.T) {
	logger := logging.Discard()
	alerts := ops.NewLogChannel(logger)
	first := &recordingSink{name: "first"}
	second := &recordingSink{name: "second"}
	d := NewDispatcher([]Sink{first, second}, alerts, logger, DispatcherOptions{Buffer: 16, Workers: 3})

	for i := 0; i < 10; i++ {
		require.NoError(t, d.Publish(context.Background(), sampleEvent("tx")))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 10, first.count())
	assert.Equal(t, 10, second.count())
	assert.Zero(t, alerts.Count(ops.AlertEventPublishFailed))
}

func TestDispatcher_SinkFailureIsReported(t *testing.T) {
	logger := logging.Discard()
	alerts := ops.NewLogChannel(logger)
	broken := &recordingSink{name: "broken", err: errors.New("endpoint down")}
	healthy := &recordingSink{name: "healthy"}
	d := NewDispatcher([]Sink{broken, healthy}, alerts, logger, DispatcherOptions{})

	require.NoError(t, d.Publish(context.Background(), sampleEvent("tx-1")))
	require.NoError(t, d.Close(context.Background()))

	assert.Equal(t, 1, alerts.Count(ops.AlertEventPublishFailed))
	assert.Equal(t, 1, healthy.count())
}

func TestDispatcher_FullQueueRejects(t *testing.T) {
	logger := logging.Discard()
	block := make(chan struct{})
	slow := &recordingSink{name: "slow", blockCh: block}
	d := NewDispatcher([]Sink{slow}, ops.NewLogChannel(logger), logger, DispatcherOptions{Buffer: 1, Workers: 1})

	// The worker takes the first event and blocks; the second fills the buffer.
	require.NoError(t, d.Publish(context.Background(), sampleEvent("1")))
	require.Eventually(t, func() bool {
		return d.Publish(context.Background(), sampleEvent("2")) == nil
	}, time.Second, 5*time.Millisecond)

	err := d.Publish(context.Background(), sampleEvent("3"))
	assert.ErrorIs(t, err, ErrQueueFull)

	close(block)
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 2, slow.count())
}

func TestDispatcher_PublishAfterClose(t *testing.T) {
	logger := logging.Discard()
	d := NewDispatcher(nil, ops.NewLogChannel(logger), logger, DispatcherOptions{})
	require.NoError(t, d.Close(context.Background()))
	require.NoError(t, d.Close(context.Background()))

	assert.ErrorIs(t, d.Publish(context.Background(), sampleEvent("x")), ErrClosed)
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	logger := logging.Discard()
	block := make(chan struct{})
	defer close(block)
	slow := &recordingSink{name: "slow", blockCh: block}
	d := NewDispatcher([]Sink{slow}, ops.NewLogChannel(logger), logger, DispatcherOptions{Workers: 1})
	require.NoError(t, d.Publish(context.Background(), sampleEvent("1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestLogSink(t *testing.T) {
	sink := NewLogSink(logging.Discard())
	balance := decimal.NewFromInt(5)
	ev := sampleEvent("tx")
	ev.Balance = &balance
	assert.Equal(t, "log", sink.Name())
	assert.NoError(t, sink.Deliver(context.Background(), ev))
}
