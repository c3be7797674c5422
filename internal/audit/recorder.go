package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/ops"
)

// Entry is what a caller hands to Record.
type Entry struct {
	OperationType string
	EntityType    string
	EntityID      string
	Before        map[string]any
	After         map[string]any
	Actor         string
	Status        domain.AuditStatus
	Err           error
}

// Recorder builds audit records from before/after snapshots and persists them.
// A failed write never fails the operation being audited; it is reported on
// the operator channel instead.
type Recorder struct {
	store  Store
	alerts ops.Channel
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(store Store, alerts ops.Channel, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:  store,
		alerts: alerts,
		logger: logger.With("component", "audit"),
		nowFn:  time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (r *Recorder) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		r.nowFn = nowFn
	}
}

// Record computes the modified fields for e and appends the resulting record.
func (r *Recorder) Record(ctx context.Context, e Entry) domain.AuditRecord {
	before := cloneState(e.Before)
	after := cloneState(e.After)

	status := e.Status
	if status == "" {
		status = domain.AuditSuccess
		if e.Err != nil {
			status = domain.AuditError
		}
	}
	actor := e.Actor
	if actor == "" {
		actor = "system"
	}

	rec := domain.AuditRecord{
		ID:             uuid.NewString(),
		Timestamp:      r.nowFn().UTC(),
		OperationType:  e.OperationType,
		EntityType:     e.EntityType,
		EntityID:       e.EntityID,
		BeforeState:    before,
		AfterState:     after,
		ModifiedFields: ModifiedFields(before, after),
		Status:         status,
		Actor:          actor,
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}

	// Audit persistence is outside the operation's transactional boundary.
	if err := r.store.Append(ctx, rec); err != nil {
		r.alerts.Report(ctx, ops.Alert{
			Kind:        ops.AlertAuditWriteFailed,
			OperationID: rec.ID,
			Message:     fmt.Sprintf("audit record for %s on %s(%s) was not persisted", rec.OperationType, rec.EntityType, rec.EntityID),
			Err:         err,
		})
		return rec
	}

	r.logger.DebugContext(ctx, "audit recorded",
		"operation", rec.OperationType,
		"entity", rec.EntityID,
		"status", string(rec.Status),
		"modified", len(rec.ModifiedFields),
	)
	return rec
}

// History returns audit records newest first.
func (r *Recorder) History(ctx context.Context, filter HistoryFilter) ([]domain.AuditRecord, error) {
	records, err := r.store.History(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("audit history: %w", err)
	}
	return records, nil
}

// Summary counts audit records per operation type and status.
func (r *Recorder) Summary(ctx context.Context) (domain.AuditSummary, error) {
	counts, err := r.store.Counts(ctx)
	if err != nil {
		return domain.AuditSummary{}, fmt.Errorf("audit summary: %w", err)
	}
	var total int64
	for _, c := range counts {
		total += c.Count
	}
	return domain.AuditSummary{
		Total:       total,
		ByOperation: counts,
		GeneratedAt: r.nowFn().UTC(),
	}, nil
}
