package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vanshika/ledgercore/internal/domain"
)

// BreakerSettings controls when the webhook circuit opens.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// DefaultBreakerSettings trips after five straight failures or half of at
// least ten requests failing.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
		OpenTimeout:         30 * time.Second,
		Interval:            time.Minute,
	}
}

// WebhookSink POSTs events as JSON to a single endpoint behind a circuit
// breaker, so an unreachable endpoint is skipped instead of slowing every
// delivery down to the client timeout.
type WebhookSink struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewWebhookSink constructs a WebhookSink.
func NewWebhookSink(url string, timeout time.Duration, settings BreakerSettings, logger *slog.Logger) *WebhookSink {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger = logger.With("sink", "webhook")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= settings.ConsecutiveFailures {
				return true
			}
			if counts.Requests < settings.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("webhook circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return &WebhookSink{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

// State reports the breaker state.
func (s *WebhookSink) State() gobreaker.State {
	return s.breaker.State()
}

func (s *WebhookSink) Deliver(ctx context.Context, event domain.Event) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, s.post(ctx, event)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("webhook unavailable (circuit breaker %s): %w", s.breaker.State(), err)
	}
	return err
}

func (s *WebhookSink) post(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ledgercore-webhook/1.0")
	req.Header.Set("X-Event-Type", string(event.Type))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
}
