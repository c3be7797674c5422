package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vanshika/ledgercore/internal/domain"
)

// DefaultLockTimeout bounds how long Acquire waits for all requested keys.
const DefaultLockTimeout = 5 * time.Second

// OrderKeys returns the distinct non-empty keys in ascending order. Every
// Locker takes keys in this order so two operations over the same pair of
// accounts can never wait on each other in a cycle.
func OrderKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	ordered := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	return ordered
}

// LockTable is an in-process Locker with one lock per account number.
type LockTable struct {
	timeout time.Duration

	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLockTable constructs a LockTable. A non-positive timeout falls back to
// DefaultLockTimeout.
func NewLockTable(timeout time.Duration) *LockTable {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LockTable{
		timeout: timeout,
		locks:   make(map[string]chan struct{}),
	}
}

// Acquire implements Locker. On timeout every lock already taken is released
// and the error wraps domain.ErrLockTimeout.
func (t *LockTable) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := OrderKeys(keys)

	waitCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	held := make([]chan struct{}, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, key := range ordered {
		slot := t.slot(key)
		select {
		case slot <- struct{}{}:
			held = append(held, slot)
		case <-waitCtx.Done():
			releaseAll()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %s after %s", domain.ErrLockTimeout, key, t.timeout)
		}
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (t *LockTable) slot(key string) chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch, ok := t.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		t.locks[key] = ch
	}
	return ch
}
