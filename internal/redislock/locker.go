// Package redislock provides account locks shared by several ledger
// processes through Redis.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/ledger"
)

// Options tunes lock acquisition.
type Options struct {
	// Expiry is how long a lock survives a crashed holder.
	Expiry time.Duration
	// Timeout bounds the wait for all requested keys.
	Timeout time.Duration
	// RetryDelay is the pause between attempts on a busy key.
	RetryDelay time.Duration
	// Prefix namespaces the Redis keys.
	Prefix string
}

// DefaultOptions returns the options used for account locks.
func DefaultOptions() Options {
	return Options{
		Expiry:     10 * time.Second,
		Timeout:    ledger.DefaultLockTimeout,
		RetryDelay: 50 * time.Millisecond,
		Prefix:     "ledger:lock:",
	}
}

// Locker implements ledger.Locker with one redsync mutex per account.
type Locker struct {
	rs     *redsync.Redsync
	opts   Options
	logger *slog.Logger
}

// New builds a Locker on top of an existing go-redis client.
func New(client redis.UniversalClient, opts Options, logger *slog.Logger) *Locker {
	defaults := DefaultOptions()
	if opts.Expiry <= 0 {
		opts.Expiry = defaults.Expiry
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaults.RetryDelay
	}
	if opts.Prefix == "" {
		opts.Prefix = defaults.Prefix
	}
	return &Locker{
		rs:     redsync.New(goredis.NewPool(client)),
		opts:   opts,
		logger: logger.With("component", "redislock"),
	}
}

// Acquire implements ledger.Locker. Keys are locked in ascending order; when
// the timeout elapses every lock already taken is released and the error
// wraps domain.ErrLockTimeout.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := ledger.OrderKeys(keys)

	waitCtx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	tries := int(l.opts.Timeout/l.opts.RetryDelay) + 1
	held := make([]*redsync.Mutex, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if ok, err := held[i].UnlockContext(context.Background()); !ok || err != nil {
				l.logger.Warn("failed to release account lock",
					"lock", held[i].Name(), "unlockOk", ok, "error", err)
			}
		}
	}

	for _, key := range ordered {
		mutex := l.rs.NewMutex(l.opts.Prefix+key,
			redsync.WithExpiry(l.opts.Expiry),
			redsync.WithTries(tries),
			redsync.WithRetryDelay(l.opts.RetryDelay),
		)
		if err := mutex.LockContext(waitCtx); err != nil {
			releaseAll()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if waitCtx.Err() != nil || isContention(err) {
				return nil, fmt.Errorf("%w: %s after %s", domain.ErrLockTimeout, key, l.opts.Timeout)
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		held = append(held, mutex)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func isContention(err error) bool {
	var taken *redsync.ErrTaken
	if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "lock already taken") || strings.Contains(msg, "failed to acquire lock")
}
