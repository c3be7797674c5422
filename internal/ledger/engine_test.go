package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/ledgercore/internal/accounts"
	"github.com/vanshika/ledgercore/internal/audit"
	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/ledger"
	"github.com/vanshika/ledgercore/internal/ledger/mocks"
	"github.com/vanshika/ledgercore/internal/logging"
	"github.com/vanshika/ledgercore/internal/ops"
)

const (
	accountA = "1000-0000-0000-0001"
	accountB = "1000-0000-0000-0002"
	vault    = domain.VaultAccountNumber
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type failingAuditStore struct{}

func (failingAuditStore) Append(context.Context, domain.AuditRecord) error {
	return errors.New("audit database unavailable")
}

func (failingAuditStore) History(context.Context, audit.HistoryFilter) ([]domain.AuditRecord, error) {
	return nil, nil
}

func (failingAuditStore) Counts(context.Context) ([]domain.OperationCount, error) {
	return nil, nil
}

type fixture struct {
	store  *accounts.MemoryStore
	audits *audit.MemoryStore
	alerts *ops.LogChannel
	events *recordingPublisher
	engine *ledger.Engine
}

type fixtureOptions struct {
	store      ledger.AccountStore
	auditStore audit.Store
	noVault    bool
	vaultFunds string
}

func newFixture(t *testing.T, opts fixtureOptions) *fixture {
	t.Helper()
	logger := logging.Discard()
	f := &fixture{
		store:  accounts.NewMemoryStore(),
		audits: audit.NewMemoryStore(),
		alerts: ops.NewLogChannel(logger),
		events: &recordingPublisher{},
	}
	var auditStore audit.Store = f.audits
	if opts.auditStore != nil {
		auditStore = opts.auditStore
	}
	var store ledger.AccountStore = f.store
	if opts.store != nil {
		store = opts.store
	}
	f.engine = ledger.NewEngine(ledger.Dependencies{
		Accounts:     store,
		Transactions: f.store,
		Auditor:      audit.NewRecorder(auditStore, f.alerts, logger),
		Events:       f.events,
		Locks:        ledger.NewLockTable(ledger.DefaultLockTimeout),
		Alerts:       f.alerts,
		Logger:       logger,
	}, vault)

	if !opts.noVault {
		funds := opts.vaultFunds
		if funds == "" {
			funds = "5000000"
		}
		_, _, err := ledger.Bootstrap(context.Background(), f.store, ledger.VaultSpec{
			Number:         vault,
			OwnerID:        "SYSTEM VAULT",
			InitialBalance: decimal.RequireFromString(funds),
		})
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) seed(t *testing.T, number, balance string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.Create(ctx, number, "owner-"+number[len(number)-1:])
	require.NoError(t, err)
	if amount := decimal.RequireFromString(balance); amount.IsPositive() {
		_, err = f.store.AdjustBalance(ctx, number, amount)
		require.NoError(t, err)
	}
}

func (f *fixture) balance(t *testing.T, number string) string {
	t.Helper()
	acc, err := f.store.Get(context.Background(), number)
	require.NoError(t, err)
	return acc.Balance.StringFixed(domain.MinorUnitScale)
}

func (f *fixture) total() decimal.Decimal {
	sum := decimal.Zero
	for _, acc := range f.store.Snapshot() {
		sum = sum.Add(acc.Balance)
	}
	return sum
}

func (f *fixture) history(t *testing.T, entityID string) []domain.AuditRecord {
	t.Helper()
	records, err := f.audits.History(context.Background(), audit.HistoryFilter{EntityID: entityID})
	require.NoError(t, err)
	return records
}

func amount(s string) domain.Money {
	return decimal.RequireFromString(s)
}

func TestEngine_TransferMovesFunds(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "1000")
	f.seed(t, accountB, "500")

	tx, err := f.engine.Transfer(context.Background(), ledger.Request{
		Sender:   accountA,
		Receiver: accountB,
		Amount:   amount("200"),
		Actor:    "alice",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.Equal(t, domain.KindTransfer, tx.Kind)
	assert.NotEmpty(t, tx.ID)

	assert.Equal(t, "800.00", f.balance(t, accountA))
	assert.Equal(t, "700.00", f.balance(t, accountB))

	for number, change := range map[string]domain.FieldChange{
		accountA: {Before: "1000.00", After: "800.00"},
		accountB: {Before: "500.00", After: "700.00"},
	} {
		records := f.history(t, number)
		require.Len(t, records, 1, number)
		rec := records[0]
		assert.Equal(t, domain.AuditSuccess, rec.Status)
		assert.Equal(t, domain.OpTransfer, rec.OperationType)
		assert.Equal(t, "alice", rec.Actor)
		assert.Equal(t, map[string]domain.FieldChange{"balance": change}, rec.ModifiedFields)
	}

	logged, err := f.store.ListByAccount(context.Background(), accountA, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, tx.ID, logged[0].ID)

	assert.Equal(t, []domain.EventType{
		domain.EventTransferCompleted,
		domain.EventBalanceChanged,
		domain.EventBalanceChanged,
	}, f.events.types())
	require.NotNil(t, f.events.events[1].Balance)
	assert.Equal(t, "800", f.events.events[1].Balance.String())
	assert.Equal(t, "-200", f.events.events[1].Amount.String())
}

func TestEngine_WithdrawInsufficientFunds(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "800")

	tx, err := f.engine.Withdraw(context.Background(), accountA, amount("10000"), "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, domain.IsFatal(err))
	assert.Equal(t, domain.TransactionFailed, tx.Status)

	var opErr *domain.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, domain.OpWithdraw, opErr.Op)

	assert.Equal(t, "800.00", f.balance(t, accountA))
	assert.Equal(t, "5000000.00", f.balance(t, vault))

	assert.Equal(t, 1, f.audits.Len())
	records := f.history(t, accountA)
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditError, records[0].Status)
	assert.NotEmpty(t, records[0].Error)
	assert.Empty(t, records[0].ModifiedFields)

	logged, err := f.store.ListByAccount(context.Background(), accountA, 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, domain.TransactionFailed, logged[0].Status)

	assert.Equal(t, []domain.EventType{domain.EventOperationFailed}, f.events.types())
}

func TestEngine_DepositAndWithdrawUseVault(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "0")
	ctx := context.Background()

	tx, err := f.engine.Deposit(ctx, accountA, amount("250.50"), "teller")
	require.NoError(t, err)
	assert.Equal(t, domain.KindDeposit, tx.Kind)
	assert.Equal(t, vault, tx.SenderAccountNumber)

	_, err = f.engine.Withdraw(ctx, accountA, amount("50.25"), "teller")
	require.NoError(t, err)

	assert.Equal(t, "200.25", f.balance(t, accountA))
	assert.Equal(t, "4999799.75", f.balance(t, vault))
	assert.True(t, f.total().Equal(amount("5000000")))
}

func TestEngine_ValidationFailuresAreAudited(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "100")
	f.seed(t, accountB, "100")

	cases := []struct {
		name string
		req  ledger.Request
		want error
	}{
		{"zero amount", ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("0")}, domain.ErrInvalidAmount},
		{"negative amount", ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("-5")}, domain.ErrInvalidAmount},
		{"sub-cent amount", ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("0.001")}, domain.ErrInvalidAmount},
		{"amount beyond int64 minor units", ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("92233720368547758.08")}, domain.ErrInvalidAmount},
		{"amount that wraps to negative", ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("184467440737095516.15")}, domain.ErrInvalidAmount},
		{"self transfer", ledger.Request{Sender: accountA, Receiver: accountA, Amount: amount("1")}, domain.ErrSelfTransfer},
		{"unknown receiver", ledger.Request{Sender: accountA, Receiver: "9999-9999-9999-9999", Amount: amount("1")}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := f.audits.Len()
			tx, err := f.engine.Transfer(context.Background(), tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, domain.TransactionFailed, tx.Status)
			assert.Equal(t, before+1, f.audits.Len())
		})
	}

	assert.Equal(t, "100.00", f.balance(t, accountA))
	assert.Equal(t, "100.00", f.balance(t, accountB))

	logged, err := f.store.ListByAccount(context.Background(), accountA, 0)
	require.NoError(t, err)
	assert.Empty(t, logged)
}

func TestEngine_ClosedAccountRejected(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "100")
	f.seed(t, accountB, "0")
	require.NoError(t, f.store.Remove(context.Background(), accountB))

	_, err := f.engine.Transfer(context.Background(), ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("10")})
	assert.ErrorIs(t, err, domain.ErrAccountClosed)
	assert.Equal(t, "100.00", f.balance(t, accountA))
}

func TestEngine_MissingVaultIsFatal(t *testing.T) {
	f := newFixture(t, fixtureOptions{noVault: true})
	f.seed(t, accountA, "100")

	_, err := f.engine.Deposit(context.Background(), accountA, amount("10"), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrVaultNotConfigured)
	assert.True(t, domain.IsFatal(err))
	assert.Equal(t, 1, f.alerts.Count(ops.AlertVaultNotConfigured))
	assert.Equal(t, "100.00", f.balance(t, accountA))

	err = f.engine.CheckVault(context.Background())
	assert.ErrorIs(t, err, domain.ErrVaultNotConfigured)
	assert.Equal(t, 2, f.alerts.Count(ops.AlertVaultNotConfigured))
}

func TestEngine_CheckVault(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	assert.NoError(t, f.engine.CheckVault(context.Background()))
}

func TestEngine_DepositBeyondVaultBalance(t *testing.T) {
	f := newFixture(t, fixtureOptions{vaultFunds: "100"})
	f.seed(t, accountA, "0")

	_, err := f.engine.Deposit(context.Background(), accountA, amount("150"), "")
	assert.ErrorIs(t, err, domain.ErrVaultDepleted)
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.Equal(t, "100.00", f.balance(t, vault))
	assert.Equal(t, "0.00", f.balance(t, accountA))

	records := f.history(t, accountA)
	require.Len(t, records, 1)
	assert.Equal(t, domain.OpDeposit, records[0].OperationType)
	assert.Equal(t, domain.AuditError, records[0].Status)
}

func TestEngine_CancelledBeforeDebitHasNoEffect(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "100")
	f.seed(t, accountB, "0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Transfer(ctx, ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("10")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "100.00", f.balance(t, accountA))
	assert.Equal(t, "0.00", f.balance(t, accountB))
	assert.Equal(t, 1, f.audits.Len())
}

func TestEngine_LockTimeoutIsRetryable(t *testing.T) {
	ctrl := gomock.NewController(t)
	locker := mocks.NewMockLocker(ctrl)
	locker.EXPECT().
		Acquire(gomock.Any(), accountA, accountB).
		Return(nil, domain.ErrLockTimeout)

	logger := logging.Discard()
	store := accounts.NewMemoryStore()
	auditStore := audit.NewMemoryStore()
	engine := ledger.NewEngine(ledger.Dependencies{
		Accounts:     store,
		Transactions: store,
		Auditor:      audit.NewRecorder(auditStore, ops.NewLogChannel(logger), logger),
		Locks:        locker,
		Logger:       logger,
	}, vault)

	_, err := engine.Transfer(context.Background(), ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("1")})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
	assert.True(t, domain.IsRetryable(err))
	assert.Equal(t, 1, auditStore.Len())
}

// delegatingStore returns a mock AccountStore that forwards to mem, except for
// credits selected by failCredit.
func delegatingStore(ctrl *gomock.Controller, mem *accounts.MemoryStore, failCredit func(number string) error) *mocks.MockAccountStore {
	store := mocks.NewMockAccountStore(ctrl)
	store.EXPECT().Get(gomock.Any(), gomock.Any()).DoAndReturn(mem.Get).AnyTimes()
	store.EXPECT().AdjustBalance(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, number string, delta domain.Money) (domain.Account, error) {
			if delta.IsPositive() {
				if err := failCredit(number); err != nil {
					return domain.Account{}, err
				}
			}
			return mem.AdjustBalance(ctx, number, delta)
		}).AnyTimes()
	return store
}

func TestEngine_CreditFailureIsCompensated(t *testing.T) {
	ctrl := gomock.NewController(t)
	mem := accounts.NewMemoryStore()
	fault := errors.New("storage node lost")
	store := delegatingStore(ctrl, mem, func(number string) error {
		if number == accountB {
			return fault
		}
		return nil
	})

	f := newFixture(t, fixtureOptions{store: store, noVault: true})
	f.store = mem
	f.seed(t, accountA, "1000")
	f.seed(t, accountB, "500")
	_, _, err := ledger.Bootstrap(context.Background(), mem, ledger.VaultSpec{Number: vault, InitialBalance: amount("100")})
	require.NoError(t, err)
	totalBefore := f.total()

	tx, err := f.engine.Transfer(context.Background(), ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("200")})
	require.Error(t, err)
	assert.ErrorIs(t, err, fault)
	assert.False(t, domain.IsFatal(err))
	assert.Equal(t, domain.TransactionFailed, tx.Status)

	assert.Equal(t, "1000.00", f.balance(t, accountA))
	assert.Equal(t, "500.00", f.balance(t, accountB))
	assert.True(t, f.total().Equal(totalBefore))
	assert.Empty(t, f.alerts.Quarantined())
}

func TestEngine_CompensationFailureIsQuarantined(t *testing.T) {
	ctrl := gomock.NewController(t)
	mem := accounts.NewMemoryStore()
	store := delegatingStore(ctrl, mem, func(number string) error {
		return errors.New("storage offline")
	})

	f := newFixture(t, fixtureOptions{store: store, noVault: true})
	f.store = mem
	f.seed(t, accountA, "1000")
	f.seed(t, accountB, "500")

	tx, err := f.engine.Transfer(context.Background(), ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("200")})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCompensationFailed)
	assert.True(t, domain.IsFatal(err))

	var compErr *domain.CompensationFailedError
	require.ErrorAs(t, err, &compErr)
	assert.Equal(t, tx.ID, compErr.TransactionID)
	assert.Equal(t, accountA, compErr.Sender)

	quarantined := f.alerts.Quarantined()
	require.Len(t, quarantined, 1)
	assert.Equal(t, ops.AlertCompensationFailed, quarantined[0].Kind)
	assert.Equal(t, tx.ID, quarantined[0].OperationID)

	records := f.history(t, accountA)
	require.Len(t, records, 1)
	assert.Equal(t, domain.AuditError, records[0].Status)
	assert.Equal(t, domain.FieldChange{Before: "1000.00", After: "800.00"}, records[0].ModifiedFields["balance"])
}

func TestEngine_AuditWriteFailureDoesNotFailTransfer(t *testing.T) {
	f := newFixture(t, fixtureOptions{auditStore: failingAuditStore{}})
	f.seed(t, accountA, "10")
	f.seed(t, accountB, "0")

	_, err := f.engine.Transfer(context.Background(), ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("10")})
	require.NoError(t, err)
	assert.Equal(t, "10.00", f.balance(t, accountB))
	assert.Equal(t, 2, f.alerts.Count(ops.AlertAuditWriteFailed))
}

func TestEngine_PublishFailureIsReported(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.events.err = errors.New("queue full")
	f.seed(t, accountA, "10")
	f.seed(t, accountB, "0")

	_, err := f.engine.Transfer(context.Background(), ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("5")})
	require.NoError(t, err)
	assert.Equal(t, 3, f.alerts.Count(ops.AlertEventPublishFailed))
}

func TestEngine_TransactionLogFailureStillCompletes(t *testing.T) {
	ctrl := gomock.NewController(t)
	txlog := mocks.NewMockTransactionLog(ctrl)
	txlog.EXPECT().Append(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))

	logger := logging.Discard()
	store := accounts.NewMemoryStore()
	alerts := ops.NewLogChannel(logger)
	auditor := mocks.NewMockAuditor(ctrl)
	auditor.EXPECT().Record(gomock.Any(), gomock.Any()).Return(domain.AuditRecord{}).Times(2)

	engine := ledger.NewEngine(ledger.Dependencies{
		Accounts:     store,
		Transactions: txlog,
		Auditor:      auditor,
		Alerts:       alerts,
		Logger:       logger,
	}, vault)

	ctx := context.Background()
	for _, n := range []string{accountA, accountB} {
		_, err := store.Create(ctx, n, "owner")
		require.NoError(t, err)
	}
	_, err := store.AdjustBalance(ctx, accountA, amount("20"))
	require.NoError(t, err)

	tx, err := engine.Transfer(ctx, ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("20")})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionCompleted, tx.Status)
	assert.Equal(t, 1, alerts.Count(ops.AlertTransactionLogFailed))
}

func TestEngine_OppositeConcurrentTransfers(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "1000")
	f.seed(t, accountB, "1000")
	totalBefore := f.total()

	var wg sync.WaitGroup
	errs := make(chan error, 200)
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.engine.Transfer(context.Background(), ledger.Request{Sender: accountA, Receiver: accountB, Amount: amount("3")})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			_, err := f.engine.Transfer(context.Background(), ledger.Request{Sender: accountB, Receiver: accountA, Amount: amount("3")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, "1000.00", f.balance(t, accountA))
	assert.Equal(t, "1000.00", f.balance(t, accountB))
	assert.True(t, f.total().Equal(totalBefore))
}

func TestEngine_ConcurrentOverWithdrawal(t *testing.T) {
	f := newFixture(t, fixtureOptions{})
	f.seed(t, accountA, "100")

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Withdraw(context.Background(), accountA, amount("7"), "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientFunds):
				insufficient++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 14, succeeded)
	assert.Equal(t, 36, insufficient)
	assert.Equal(t, "2.00", f.balance(t, accountA))
	assert.True(t, f.total().Equal(amount("5000100")))
	// 14 successes touch two accounts each, 36 failures leave one record each.
	assert.Equal(t, 14*2+36, f.audits.Len())
}
