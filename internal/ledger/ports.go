// Package ledger moves money between accounts. The Engine is the only writer
// of balances: every transfer, deposit and withdrawal takes ordered account
// locks, debits, credits with compensation, and leaves a transaction, an audit
// trail and events behind.
package ledger

//go:generate mockgen -source=ports.go -destination=mocks/mock_ports.go -package=mocks

import (
	"context"

	"github.com/vanshika/ledgercore/internal/audit"
	"github.com/vanshika/ledgercore/internal/domain"
)

// AccountStore persists accounts and their balances. AdjustBalance must apply
// the delta atomically and reject results below zero with
// domain.ErrInsufficientFunds.
type AccountStore interface {
	Create(ctx context.Context, number, ownerID string) (domain.Account, error)
	Get(ctx context.Context, number string) (domain.Account, error)
	AdjustBalance(ctx context.Context, number string, delta domain.Money) (domain.Account, error)
	Remove(ctx context.Context, number string) error
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
}

// TransactionLog stores terminal transactions.
type TransactionLog interface {
	Append(ctx context.Context, tx domain.Transaction) error
	ListByAccount(ctx context.Context, number string, limit int) ([]domain.Transaction, error)
}

// Auditor records before/after snapshots of a mutation.
type Auditor interface {
	Record(ctx context.Context, entry audit.Entry) domain.AuditRecord
}

// Publisher hands events to the notification side. Implementations must not
// block on delivery.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event) error
}

// Locker grants exclusive access to a set of account numbers. The returned
// release func must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// NumberGenerator issues fresh account numbers.
type NumberGenerator interface {
	Generate(ctx context.Context) (string, error)
	MaxAttempts() int
}

type discardPublisher struct{}

func (discardPublisher) Publish(context.Context, domain.Event) error { return nil }
