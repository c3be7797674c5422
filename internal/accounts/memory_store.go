// Package accounts holds the in-process account store and transaction log.
package accounts

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/ledgercore/internal/domain"
)

type accountEntry struct {
	mu      sync.Mutex
	account domain.Account
}

// MemoryStore keeps accounts and transactions in process memory. Each account
// has its own mutex so balance updates on different accounts never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*accountEntry

	txMu sync.RWMutex
	txs  []domain.Transaction

	nowFn func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*accountEntry),
		nowFn:    time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *MemoryStore) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

// Create registers a new open account with a zero balance.
func (s *MemoryStore) Create(_ context.Context, number, ownerID string) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[number]; exists {
		return domain.Account{}, fmt.Errorf("account %s: %w", number, domain.ErrDuplicateAccount)
	}

	acc := domain.Account{
		Number:    number,
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		Status:    domain.AccountOpen,
		CreatedAt: s.nowFn().UTC(),
	}
	s.accounts[number] = &accountEntry{account: acc}
	return acc, nil
}

// Get returns the account, including closed ones.
func (s *MemoryStore) Get(_ context.Context, number string) (domain.Account, error) {
	entry, err := s.entry(number)
	if err != nil {
		return domain.Account{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.account, nil
}

// AdjustBalance applies balance += delta as one read-modify-write under the
// account's mutex.
func (s *MemoryStore) AdjustBalance(_ context.Context, number string, delta domain.Money) (domain.Account, error) {
	entry, err := s.entry(number)
	if err != nil {
		return domain.Account{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.account.IsClosed() {
		return domain.Account{}, fmt.Errorf("account %s: %w", number, domain.ErrAccountClosed)
	}
	next := entry.account.Balance.Add(delta)
	if next.IsNegative() {
		return domain.Account{}, fmt.Errorf("account %s has %s, cannot apply %s: %w",
			number, entry.account.Balance.String(), delta.String(), domain.ErrInsufficientFunds)
	}
	entry.account.Balance = next
	return entry.account, nil
}

// Remove closes an account with a zero balance. The number stays reserved.
func (s *MemoryStore) Remove(_ context.Context, number string) error {
	entry, err := s.entry(number)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.account.IsClosed() {
		return fmt.Errorf("account %s: %w", number, domain.ErrAccountClosed)
	}
	if !entry.account.Balance.IsZero() {
		return fmt.Errorf("account %s holds %s: %w", number, entry.account.Balance.String(), domain.ErrAccountNotEmpty)
	}
	closedAt := s.nowFn().UTC()
	entry.account.Status = domain.AccountClosed
	entry.account.ClosedAt = &closedAt
	return nil
}

// ListByOwner returns the owner's open accounts.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]domain.Account, error) {
	out := make([]domain.Account, 0)
	for _, acc := range s.Snapshot() {
		if acc.OwnerID == ownerID && !acc.IsClosed() {
			out = append(out, acc)
		}
	}
	return out, nil
}

// Snapshot copies every account, ordered by number.
func (s *MemoryStore) Snapshot() []domain.Account {
	s.mu.RLock()
	entries := make([]*accountEntry, 0, len(s.accounts))
	for _, e := range s.accounts {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]domain.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.account)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Append stores a finished transaction.
func (s *MemoryStore) Append(_ context.Context, tx domain.Transaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.txs = append(s.txs, tx)
	return nil
}

// ListByAccount returns transactions involving the account, newest first.
func (s *MemoryStore) ListByAccount(_ context.Context, number string, limit int) ([]domain.Transaction, error) {
	s.txMu.RLock()
	defer s.txMu.RUnlock()

	out := make([]domain.Transaction, 0)
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].Involves(number) {
			out = append(out, s.txs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) entry(number string) (*accountEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.accounts[number]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", number, domain.ErrNotFound)
	}
	return e, nil
}
