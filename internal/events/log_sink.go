package events

import (
	"context"
	"log/slog"

	"github.com/vanshika/ledgercore/internal/domain"
)

// LogSink writes events to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink constructs a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("sink", "log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(ctx context.Context, event domain.Event) error {
	attrs := []any{
		"type", string(event.Type),
		"transactionId", event.TransactionID,
		"kind", string(event.Kind),
		"account", event.AccountNumber,
		"counterparty", event.Counterparty,
		"amount", event.Amount.String(),
	}
	if event.Balance != nil {
		attrs = append(attrs, "balance", event.Balance.String())
	}
	if event.Reason != "" {
		attrs = append(attrs, "reason", event.Reason)
	}
	s.logger.DebugContext(ctx, "ledger event", attrs...)
	return nil
}
