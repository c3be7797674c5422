package events

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/logging"
)

func TestWebhookSink_PostsJSON(t *testing.T) {
	var got domain.Event
	var eventType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		eventType = r.Header.Get("X-Event-Type")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, DefaultBreakerSettings(), logging.Discard())
	require.NoError(t, sink.Deliver(context.Background(), sampleEvent("tx-9")))

	assert.Equal(t, "tx-9", got.TransactionID)
	assert.Equal(t, "10", got.Amount.String())
	assert.Equal(t, string(domain.EventTransferCompleted), eventType)
}

func TestWebhookSink_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL, time.Second, DefaultBreakerSettings(), logging.Discard())
	err := sink.Deliver(context.Background(), sampleEvent("tx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWebhookSink_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	settings := DefaultBreakerSettings()
	settings.ConsecutiveFailures = 3
	settings.OpenTimeout = time.Minute
	sink := NewWebhookSink(srv.URL, time.Second, settings, logging.Discard())

	for i := 0; i < 3; i++ {
		assert.Error(t, sink.Deliver(context.Background(), sampleEvent("tx")))
	}
	assert.Equal(t, gobreaker.StateOpen, sink.State())

	err := sink.Deliver(context.Background(), sampleEvent("tx"))
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.EqualValues(t, 3, hits.Load(), "open breaker must not reach the endpoint")
}
