package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/ops"
)

type failingStore struct {
	*MemoryStore
	err error
}

func (f failingStore) Append(context.Context, domain.AuditRecord) error { return f.err }

type recordingChannel struct {
	alerts []ops.Alert
}

func (c *recordingChannel) Report(_ context.Context, alert ops.Alert) {
	c.alerts = append(c.alerts, alert)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_Record(t *testing.T) {
	store := NewMemoryStore()
	alerts := &recordingChannel{}
	rec := NewRecorder(store, alerts, discardLogger())

	now := time.Date(2024, 4, 20, 12, 0, 0, 0, time.UTC)
	rec.WithClock(func() time.Time { return now })

	before := map[string]any{"balance": "1000.00", "status": "open"}
	after := map[string]any{"balance": "800.00", "status": "open"}

	got := rec.Record(context.Background(), Entry{
		OperationType: domain.OpTransfer,
		EntityType:    domain.EntityAccount,
		EntityID:      "1111-2222-3333-4444",
		Before:        before,
		After:         after,
		Actor:         "alice",
	})

	assert.NotEmpty(t, got.ID)
	assert.Equal(t, now, got.Timestamp)
	assert.Equal(t, domain.AuditSuccess, got.Status)
	assert.Equal(t, map[string]domain.FieldChange{
		"balance": {Before: "1000.00", After: "800.00"},
	}, got.ModifiedFields)
	assert.Empty(t, alerts.alerts)
	assert.Equal(t, 1, store.Len())

	// Mutating the caller's maps must not alter the stored record.
	before["balance"] = "0.00"
	stored, err := rec.History(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "1000.00", stored[0].BeforeState["balance"])
}

func TestRecorder_RecordError(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), &recordingChannel{}, discardLogger())

	got := rec.Record(context.Background(), Entry{
		OperationType: domain.OpWithdraw,
		EntityType:    domain.EntityAccount,
		EntityID:      "A",
		Before:        map[string]any{"balance": "800.00"},
		After:         map[string]any{"balance": "800.00"},
		Err:           domain.ErrInsufficientFunds,
	})

	assert.Equal(t, domain.AuditError, got.Status)
	assert.Equal(t, domain.ErrInsufficientFunds.Error(), got.Error)
	assert.Empty(t, got.ModifiedFields)
	assert.Equal(t, "system", got.Actor)
}

func TestRecorder_PersistenceFailureIsReported(t *testing.T) {
	alerts := &recordingChannel{}
	rec := NewRecorder(failingStore{MemoryStore: NewMemoryStore(), err: errors.New("connection reset")}, alerts, discardLogger())

	got := rec.Record(context.Background(), Entry{
		OperationType: domain.OpDeposit,
		EntityType:    domain.EntityAccount,
		EntityID:      "A",
	})

	assert.NotEmpty(t, got.ID)
	require.Len(t, alerts.alerts, 1)
	assert.Equal(t, ops.AlertAuditWriteFailed, alerts.alerts[0].Kind)
	assert.Equal(t, got.ID, alerts.alerts[0].OperationID)
	assert.EqualError(t, alerts.alerts[0].Err, "connection reset")
}

func TestRecorder_HistoryAndSummary(t *testing.T) {
	rec := NewRecorder(NewMemoryStore(), &recordingChannel{}, discardLogger())
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	rec.WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	})

	ctx := context.Background()
	rec.Record(ctx, Entry{OperationType: domain.OpTransfer, EntityType: domain.EntityAccount, EntityID: "A"})
	rec.Record(ctx, Entry{OperationType: domain.OpTransfer, EntityType: domain.EntityAccount, EntityID: "B"})
	rec.Record(ctx, Entry{OperationType: domain.OpDeposit, EntityType: domain.EntityAccount, EntityID: "A"})
	rec.Record(ctx, Entry{OperationType: domain.OpTransfer, EntityType: domain.EntityAccount, EntityID: "A", Err: domain.ErrInsufficientFunds})

	all, err := rec.History(ctx, HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	for i := 1; i < len(all); i++ {
		assert.True(t, all[i-1].Timestamp.After(all[i].Timestamp), "history must be newest first")
	}

	forA, err := rec.History(ctx, HistoryFilter{EntityID: "A", OperationType: domain.OpTransfer})
	require.NoError(t, err)
	require.Len(t, forA, 2)
	assert.Equal(t, domain.AuditError, forA[0].Status)

	limited, err := rec.History(ctx, HistoryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	summary, err := rec.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), summary.Total)
	assert.Equal(t, []domain.OperationCount{
		{OperationType: domain.OpTransfer, Status: domain.AuditSuccess, Count: 2},
		{OperationType: domain.OpDeposit, Status: domain.AuditSuccess, Count: 1},
		{OperationType: domain.OpTransfer, Status: domain.AuditError, Count: 1},
	}, summary.ByOperation)
}
