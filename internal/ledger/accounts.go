package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vanshika/ledgercore/internal/audit"
	"github.com/vanshika/ledgercore/internal/domain"
)

// DefaultTransactionLimit caps account history listings.
const DefaultTransactionLimit = 100

// Accounts manages the account lifecycle around the Engine.
type Accounts struct {
	store   AccountStore
	txlog   TransactionLog
	numbers NumberGenerator
	auditor Auditor
	locks   Locker
	logger  *slog.Logger
	vault   string
}

// NewAccounts constructs an Accounts facade sharing the engine's store,
// transaction log, auditor, locks and vault.
func NewAccounts(engine *Engine, numbers NumberGenerator) *Accounts {
	return &Accounts{
		store:   engine.store,
		txlog:   engine.txlog,
		numbers: numbers,
		auditor: engine.auditor,
		locks:   engine.locks,
		logger:  engine.logger.With("facade", "accounts"),
		vault:   engine.vault,
	}
}

// Open creates an account with a zero balance and a freshly generated number.
func (a *Accounts) Open(ctx context.Context, ownerID, actor string) (domain.Account, error) {
	if ownerID == "" {
		err := domain.ErrMissingOwner
		a.auditOpen(ctx, "", domain.Account{}, actor, err)
		return domain.Account{}, err
	}

	attempts := a.numbers.MaxAttempts()
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		number, err := a.numbers.Generate(ctx)
		if err != nil {
			err = fmt.Errorf("open account: %w", err)
			a.auditOpen(ctx, "", domain.Account{}, actor, err)
			return domain.Account{}, err
		}
		acc, err := a.store.Create(ctx, number, ownerID)
		if errors.Is(err, domain.ErrDuplicateAccount) {
			// Another caller took the number between probe and create.
			continue
		}
		if err != nil {
			err = fmt.Errorf("open account: %w", err)
			a.auditOpen(ctx, number, domain.Account{}, actor, err)
			return domain.Account{}, err
		}
		a.auditOpen(ctx, number, acc, actor, nil)
		a.logger.InfoContext(ctx, "account opened", "account", acc.Number, "owner", ownerID)
		return acc, nil
	}

	err := fmt.Errorf("open account: %w after %d attempts", domain.ErrGenerationExhausted, attempts)
	a.auditOpen(ctx, "", domain.Account{}, actor, err)
	return domain.Account{}, err
}

func (a *Accounts) auditOpen(ctx context.Context, number string, acc domain.Account, actor string, err error) {
	entry := audit.Entry{
		OperationType: domain.OpCreateAccount,
		EntityType:    domain.EntityAccount,
		EntityID:      number,
		Actor:         actor,
		Err:           err,
	}
	if err == nil {
		entry.After = acc.State()
	}
	a.auditor.Record(context.WithoutCancel(ctx), entry)
}

// Get returns the account with the given number.
func (a *Accounts) Get(ctx context.Context, number string) (domain.Account, error) {
	return a.store.Get(ctx, number)
}

// GetOwned returns the account only when it belongs to ownerID; accounts of
// other owners are reported as not found.
func (a *Accounts) GetOwned(ctx context.Context, ownerID, number string) (domain.Account, error) {
	acc, err := a.store.Get(ctx, number)
	if err != nil {
		return domain.Account{}, err
	}
	if acc.OwnerID != ownerID {
		return domain.Account{}, fmt.Errorf("%w: %s", domain.ErrNotFound, number)
	}
	return acc, nil
}

// ListByOwner returns the open accounts of ownerID.
func (a *Accounts) ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	return a.store.ListByOwner(ctx, ownerID)
}

// Close moves an empty account to its terminal closed state.
func (a *Accounts) Close(ctx context.Context, number, actor string) error {
	entry := audit.Entry{
		OperationType: domain.OpCloseAccount,
		EntityType:    domain.EntityAccount,
		EntityID:      number,
		Actor:         actor,
	}
	record := func(err error) error {
		entry.Err = err
		a.auditor.Record(context.WithoutCancel(ctx), entry)
		return err
	}

	if number == a.vault {
		return record(fmt.Errorf("close %s: %w", number, domain.ErrVaultProtected))
	}

	release, err := a.locks.Acquire(ctx, number)
	if err != nil {
		return record(fmt.Errorf("close %s: %w", number, err))
	}
	defer release()

	before, err := a.store.Get(ctx, number)
	if err != nil {
		return record(fmt.Errorf("close %s: %w", number, err))
	}
	entry.Before = before.State()
	entry.After = entry.Before

	if err := a.store.Remove(ctx, number); err != nil {
		return record(fmt.Errorf("close %s: %w", number, err))
	}
	if after, err := a.store.Get(ctx, number); err == nil {
		entry.After = after.State()
	} else {
		entry.After = nil
	}
	a.logger.InfoContext(ctx, "account closed", "account", number)
	return record(nil)
}

// Transactions returns the account's transactions, newest first.
func (a *Accounts) Transactions(ctx context.Context, number string, limit int) ([]domain.Transaction, error) {
	if _, err := a.store.Get(ctx, number); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > DefaultTransactionLimit {
		limit = DefaultTransactionLimit
	}
	txs, err := a.txlog.ListByAccount(ctx, number, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions for %s: %w", number, err)
	}
	return txs, nil
}
