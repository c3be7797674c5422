// Package ops carries failures that need an operator rather than a caller:
// audit writes that did not persist, undelivered events, and ledger
// operations that may have broken the conservation invariant.
package ops

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// AlertKind classifies an operational alert.
type AlertKind string

const (
	AlertAuditWriteFailed     AlertKind = "audit_write_failed"
	AlertEventPublishFailed   AlertKind = "event_publish_failed"
	AlertTransactionLogFailed AlertKind = "transaction_log_failed"
	AlertCompensationFailed   AlertKind = "compensation_failed"
	AlertVaultNotConfigured   AlertKind = "vault_not_configured"
)

// Alert describes one operational failure.
type Alert struct {
	Kind        AlertKind
	OperationID string
	Message     string
	Err         error
	// Quarantine marks the operation instance as unsafe to retry automatically.
	Quarantine bool
	At         time.Time
}

// Channel receives operational alerts.
type Channel interface {
	Report(ctx context.Context, alert Alert)
}

// LogChannel writes alerts to a structured logger and remembers quarantined
// operations.
type LogChannel struct {
	logger *slog.Logger

	mu          sync.Mutex
	quarantined []Alert
	counts      map[AlertKind]int
}

// NewLogChannel constructs a LogChannel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{
		logger: logger.With("component", "ops"),
		counts: make(map[AlertKind]int),
	}
}

// Report implements Channel.
func (c *LogChannel) Report(ctx context.Context, alert Alert) {
	if alert.At.IsZero() {
		alert.At = time.Now().UTC()
	}

	attrs := []any{
		"kind", string(alert.Kind),
		"operationId", alert.OperationID,
		"quarantine", alert.Quarantine,
	}
	if alert.Err != nil {
		attrs = append(attrs, "error", alert.Err)
	}
	c.logger.ErrorContext(ctx, alert.Message, attrs...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[alert.Kind]++
	if alert.Quarantine {
		c.quarantined = append(c.quarantined, alert)
	}
}

// Quarantined returns a snapshot of alerts whose operations were quarantined.
func (c *LogChannel) Quarantined() []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Alert(nil), c.quarantined...)
}

// Count returns how many alerts of the given kind were reported.
func (c *LogChannel) Count(kind AlertKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[kind]
}
