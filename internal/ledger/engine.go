package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/ledgercore/internal/audit"
	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/ops"
)

// Request describes a transfer between two accounts.
type Request struct {
	Sender   string
	Receiver string
	Amount   domain.Money
	Actor    string
}

// Dependencies groups the collaborators of an Engine. Events, Locks and
// Alerts are optional.
type Dependencies struct {
	Accounts     AccountStore
	Transactions TransactionLog
	Auditor      Auditor
	Events       Publisher
	Locks        Locker
	Alerts       ops.Channel
	Logger       *slog.Logger
}

// Engine executes balance movements.
type Engine struct {
	store   AccountStore
	txlog   TransactionLog
	auditor Auditor
	events  Publisher
	locks   Locker
	alerts  ops.Channel
	logger  *slog.Logger
	vault   string
	nowFn   func() time.Time
	newID   func() string
}

// NewEngine constructs an Engine that settles deposits and withdrawals
// against vaultAccount.
func NewEngine(deps Dependencies, vaultAccount string) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if vaultAccount == "" {
		vaultAccount = domain.VaultAccountNumber
	}
	e := &Engine{
		store:   deps.Accounts,
		txlog:   deps.Transactions,
		auditor: deps.Auditor,
		events:  deps.Events,
		locks:   deps.Locks,
		alerts:  deps.Alerts,
		logger:  logger.With("component", "ledger"),
		vault:   vaultAccount,
		nowFn:   time.Now,
		newID:   uuid.NewString,
	}
	if e.events == nil {
		e.events = discardPublisher{}
	}
	if e.locks == nil {
		e.locks = NewLockTable(DefaultLockTimeout)
	}
	if e.alerts == nil {
		e.alerts = ops.NewLogChannel(logger)
	}
	return e
}

// WithClock overrides the time provider (used primarily in tests).
func (e *Engine) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		e.nowFn = nowFn
	}
}

// VaultAccount returns the number of the vault account.
func (e *Engine) VaultAccount() string {
	return e.vault
}

// Transfer moves req.Amount from req.Sender to req.Receiver. On failure the
// returned transaction carries status failed and the error wraps the cause in
// a *domain.OperationError.
func (e *Engine) Transfer(ctx context.Context, req Request) (domain.Transaction, error) {
	return e.execute(ctx, operation{
		name:    domain.OpTransfer,
		kind:    domain.KindTransfer,
		req:     req,
		subject: req.Sender,
	})
}

// Deposit credits receiver from the vault.
func (e *Engine) Deposit(ctx context.Context, receiver string, amount domain.Money, actor string) (domain.Transaction, error) {
	return e.execute(ctx, operation{
		name:    domain.OpDeposit,
		kind:    domain.KindDeposit,
		req:     Request{Sender: e.vault, Receiver: receiver, Amount: amount, Actor: actor},
		subject: receiver,
	})
}

// Withdraw debits sender into the vault.
func (e *Engine) Withdraw(ctx context.Context, sender string, amount domain.Money, actor string) (domain.Transaction, error) {
	return e.execute(ctx, operation{
		name:    domain.OpWithdraw,
		kind:    domain.KindWithdrawal,
		req:     Request{Sender: sender, Receiver: e.vault, Amount: amount, Actor: actor},
		subject: sender,
	})
}

// CheckVault verifies that the vault account exists and is open.
func (e *Engine) CheckVault(ctx context.Context) error {
	acc, err := e.store.Get(ctx, e.vault)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return fmt.Errorf("check vault: %w", err)
	case acc.IsClosed():
	default:
		return nil
	}
	err = fmt.Errorf("%w: %s", domain.ErrVaultNotConfigured, e.vault)
	e.alerts.Report(ctx, ops.Alert{
		Kind:       ops.AlertVaultNotConfigured,
		Message:    "vault account missing at startup",
		Err:        err,
		Quarantine: true,
	})
	return err
}

type operation struct {
	name    string
	kind    domain.TransactionKind
	req     Request
	subject string // account audited when the operation fails
}

func (e *Engine) execute(ctx context.Context, op operation) (domain.Transaction, error) {
	req := op.req
	tx := domain.Transaction{
		ID:                    e.newID(),
		Kind:                  op.kind,
		Amount:                req.Amount,
		SenderAccountNumber:   req.Sender,
		ReceiverAccountNumber: req.Receiver,
		Status:                domain.TransactionPending,
		CreatedAt:             e.nowFn().UTC(),
	}

	if err := validate(req); err != nil {
		return e.fail(ctx, op, tx, nil, false, err)
	}

	release, err := e.locks.Acquire(ctx, req.Sender, req.Receiver)
	if err != nil {
		return e.fail(ctx, op, tx, nil, false, err)
	}
	defer release()

	if err := ctx.Err(); err != nil {
		return e.fail(ctx, op, tx, nil, false, err)
	}

	sender, err := e.account(ctx, req.Sender)
	if err != nil {
		return e.fail(ctx, op, tx, nil, false, err)
	}
	receiver, err := e.account(ctx, req.Receiver)
	if err != nil {
		return e.fail(ctx, op, tx, nil, false, err)
	}
	before := map[string]domain.Account{sender.Number: sender, receiver.Number: receiver}

	senderAfter, err := e.store.AdjustBalance(ctx, req.Sender, req.Amount.Neg())
	if err != nil {
		if req.Sender == e.vault && errors.Is(err, domain.ErrInsufficientFunds) {
			err = fmt.Errorf("%w: %w", domain.ErrVaultDepleted, err)
		}
		return e.fail(ctx, op, tx, before, true, err)
	}

	// The debit is applied. From here on the operation runs to completion
	// even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	receiverAfter, err := e.store.AdjustBalance(ctx, req.Receiver, req.Amount)
	if err != nil {
		if _, revErr := e.store.AdjustBalance(ctx, req.Sender, req.Amount); revErr != nil {
			err = &domain.CompensationFailedError{
				TransactionID: tx.ID,
				Sender:        req.Sender,
				Amount:        req.Amount,
				CreditErr:     err,
				ReverseErr:    revErr,
			}
		}
		return e.fail(ctx, op, tx, before, true, err)
	}

	tx.Status = domain.TransactionCompleted
	if err := e.txlog.Append(ctx, tx); err != nil {
		e.alerts.Report(ctx, ops.Alert{
			Kind:        ops.AlertTransactionLogFailed,
			OperationID: tx.ID,
			Message:     "balances moved but the transaction was not logged",
			Err:         err,
		})
	}

	for _, after := range []domain.Account{senderAfter, receiverAfter} {
		e.auditor.Record(ctx, audit.Entry{
			OperationType: op.name,
			EntityType:    domain.EntityAccount,
			EntityID:      after.Number,
			Before:        before[after.Number].State(),
			After:         after.State(),
			Actor:         req.Actor,
			Status:        domain.AuditSuccess,
		})
	}

	e.publish(ctx, domain.Event{
		Type:          domain.EventTransferCompleted,
		TransactionID: tx.ID,
		Kind:          tx.Kind,
		AccountNumber: req.Sender,
		Counterparty:  req.Receiver,
		Amount:        req.Amount,
	})
	e.publishBalance(ctx, tx, senderAfter, req.Receiver, req.Amount.Neg())
	e.publishBalance(ctx, tx, receiverAfter, req.Sender, req.Amount)

	e.logger.InfoContext(ctx, "ledger operation completed",
		"operation", op.name,
		"transactionId", tx.ID,
		"sender", req.Sender,
		"receiver", req.Receiver,
		"amount", req.Amount.StringFixed(domain.MinorUnitScale),
	)
	return tx, nil
}

// fail terminates an operation. The failed transaction is logged only once
// both accounts were resolved under lock.
func (e *Engine) fail(ctx context.Context, op operation, tx domain.Transaction, before map[string]domain.Account, logTx bool, cause error) (domain.Transaction, error) {
	ctx = context.WithoutCancel(ctx)
	req := op.req

	tx.Status = domain.TransactionFailed
	tx.FailureReason = cause.Error()

	if logTx {
		if err := e.txlog.Append(ctx, tx); err != nil {
			e.alerts.Report(ctx, ops.Alert{
				Kind:        ops.AlertTransactionLogFailed,
				OperationID: tx.ID,
				Message:     "failed transaction was not logged",
				Err:         err,
			})
		}
	}

	var beforeState, afterState map[string]any
	if acc, ok := before[op.subject]; ok {
		beforeState = acc.State()
		afterState = beforeState
		if current, err := e.store.Get(ctx, op.subject); err == nil {
			afterState = current.State()
		}
	}
	e.auditor.Record(ctx, audit.Entry{
		OperationType: op.name,
		EntityType:    domain.EntityAccount,
		EntityID:      op.subject,
		Before:        beforeState,
		After:         afterState,
		Actor:         req.Actor,
		Status:        domain.AuditError,
		Err:           cause,
	})

	var compErr *domain.CompensationFailedError
	switch {
	case errors.As(cause, &compErr):
		e.alerts.Report(ctx, ops.Alert{
			Kind:        ops.AlertCompensationFailed,
			OperationID: tx.ID,
			Message:     fmt.Sprintf("debit of %s on %s could not be reversed", req.Amount.StringFixed(domain.MinorUnitScale), req.Sender),
			Err:         cause,
			Quarantine:  true,
		})
	case errors.Is(cause, domain.ErrVaultNotConfigured):
		e.alerts.Report(ctx, ops.Alert{
			Kind:        ops.AlertVaultNotConfigured,
			OperationID: tx.ID,
			Message:     fmt.Sprintf("%s rejected: vault %s is missing", op.name, e.vault),
			Err:         cause,
			Quarantine:  true,
		})
	}

	e.publish(ctx, domain.Event{
		Type:          domain.EventOperationFailed,
		TransactionID: tx.ID,
		Kind:          tx.Kind,
		AccountNumber: op.subject,
		Counterparty:  counterparty(req, op.subject),
		Amount:        req.Amount,
		Reason:        cause.Error(),
	})

	level := slog.LevelWarn
	if domain.IsFatal(cause) {
		level = slog.LevelError
	}
	e.logger.Log(ctx, level, "ledger operation failed",
		"operation", op.name,
		"transactionId", tx.ID,
		"sender", req.Sender,
		"receiver", req.Receiver,
		"amount", req.Amount.String(),
		"error", cause,
	)

	return tx, &domain.OperationError{
		Op:       op.name,
		Sender:   req.Sender,
		Receiver: req.Receiver,
		Err:      cause,
	}
}

// account loads an account that is about to be debited or credited.
func (e *Engine) account(ctx context.Context, number string) (domain.Account, error) {
	acc, err := e.store.Get(ctx, number)
	if err != nil {
		if number == e.vault && errors.Is(err, domain.ErrNotFound) {
			return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrVaultNotConfigured, number)
		}
		return domain.Account{}, fmt.Errorf("load account %s: %w", number, err)
	}
	if acc.IsClosed() {
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrAccountClosed, number)
	}
	return acc, nil
}

func (e *Engine) publishBalance(ctx context.Context, tx domain.Transaction, acc domain.Account, counterparty string, delta domain.Money) {
	balance := acc.Balance
	e.publish(ctx, domain.Event{
		Type:          domain.EventBalanceChanged,
		TransactionID: tx.ID,
		Kind:          tx.Kind,
		AccountNumber: acc.Number,
		Counterparty:  counterparty,
		Amount:        delta,
		Balance:       &balance,
	})
}

func (e *Engine) publish(ctx context.Context, event domain.Event) {
	event.OccurredAt = e.nowFn().UTC()
	if err := e.events.Publish(ctx, event); err != nil {
		e.alerts.Report(ctx, ops.Alert{
			Kind:        ops.AlertEventPublishFailed,
			OperationID: event.TransactionID,
			Message:     fmt.Sprintf("%s event for %s was not published", event.Type, event.AccountNumber),
			Err:         err,
		})
	}
}

func validate(req Request) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: got %s", domain.ErrInvalidAmount, req.Amount.String())
	}
	if err := domain.CheckScale(req.Amount); err != nil {
		return err
	}
	if req.Amount.GreaterThan(domain.MaxAmount) {
		return fmt.Errorf("%w: %s exceeds %s", domain.ErrInvalidAmount, req.Amount.String(), domain.MaxAmount.String())
	}
	if req.Sender == req.Receiver {
		return fmt.Errorf("%w: %s", domain.ErrSelfTransfer, req.Sender)
	}
	return nil
}

func counterparty(req Request, subject string) string {
	if subject == req.Sender {
		return req.Receiver
	}
	return req.Sender
}
