package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/ledgercore/internal/domain"
)

type published struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kinds      []string
	durable    bool
	published  []published
	declareErr error
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, _, _, _ bool, _ amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kinds = append(f.kinds, kind)
	f.durable = durable
	return f.declareErr
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{}
	sink, err := NewAMQPSink(ch, "ledger.events")
	require.NoError(t, err)
	assert.Equal(t, []string{"ledger.events"}, ch.declared)
	assert.Equal(t, []string{amqp.ExchangeTopic}, ch.kinds)
	assert.True(t, ch.durable)

	ev := sampleEvent("tx-42")
	ev.Type = domain.EventBalanceChanged
	require.NoError(t, sink.Deliver(context.Background(), ev))

	require.Len(t, ch.published, 1)
	p := ch.published[0]
	assert.Equal(t, "ledger.events", p.exchange)
	assert.Equal(t, "ledger.BalanceChanged", p.key)
	assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)
	assert.Equal(t, "tx-42", p.msg.CorrelationId)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(p.msg.Body, &decoded))
	assert.Equal(t, "1111-1111-1111-1111", decoded.AccountNumber)

	require.NoError(t, sink.Close())
	assert.True(t, ch.closed)
}

func TestAMQPSink_Errors(t *testing.T) {
	_, err := NewAMQPSink(&fakeChannel{declareErr: errors.New("access refused")}, "x")
	assert.Error(t, err)

	ch := &fakeChannel{publishErr: errors.New("channel closed")}
	sink, err := NewAMQPSink(ch, "x")
	require.NoError(t, err)
	assert.ErrorIs(t, sink.Deliver(context.Background(), sampleEvent("tx")), ch.publishErr)
}
