package accountnumber

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/ledgercore/internal/accounts"
	"github.com/vanshika/ledgercore/internal/domain"
)

type brokenLookup struct{}

func (brokenLookup) Get(context.Context, string) (domain.Account, error) {
	return domain.Account{}, errors.New("store offline")
}

func TestGenerate_Format(t *testing.T) {
	gen := New(accounts.NewMemoryStore())
	for i := 0; i < 100; i++ {
		n, err := gen.Generate(context.Background())
		require.NoError(t, err)
		assert.True(t, Valid(n), "unexpected format %q", n)
		assert.NotEqual(t, domain.VaultAccountNumber, n)
	}
}

func TestGenerate_RedrawsOnCollision(t *testing.T) {
	ctx := context.Background()
	store := accounts.NewMemoryStore()
	_, err := store.Create(ctx, "1111-1111-1111-1111", "owner")
	require.NoError(t, err)

	draws := []string{"1111-1111-1111-1111", domain.VaultAccountNumber, "2222-2222-2222-2222"}
	calls := 0
	gen := New(store, WithDraw(func() (string, error) {
		n := draws[calls]
		calls++
		return n, nil
	}))

	n, err := gen.Generate(ctx)
	require.NoError(t, err)
	assert.Equal(t, "2222-2222-2222-2222", n)
	assert.Equal(t, 3, calls)
}

func TestGenerate_Exhausted(t *testing.T) {
	ctx := context.Background()
	store := accounts.NewMemoryStore()
	_, err := store.Create(ctx, "1111-1111-1111-1111", "owner")
	require.NoError(t, err)

	calls := 0
	gen := New(store, WithMaxAttempts(25), WithDraw(func() (string, error) {
		calls++
		return "1111-1111-1111-1111", nil
	}))

	_, err = gen.Generate(ctx)
	assert.ErrorIs(t, err, domain.ErrGenerationExhausted)
	assert.Equal(t, 25, calls)
}

func TestGenerate_ProbeError(t *testing.T) {
	_, err := New(brokenLookup{}).Generate(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrGenerationExhausted)
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(accounts.NewMemoryStore()).Generate(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_ConcurrentUnique(t *testing.T) {
	const n = 10000
	ctx := context.Background()
	store := accounts.NewMemoryStore()
	gen := New(store)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{}, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, err := gen.Generate(ctx)
			if !assert.NoError(t, err) {
				return
			}
			_, err = store.Create(ctx, num, "owner")
			assert.NoError(t, err)
			mu.Lock()
			seen[num] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0123-4567-8901-2345", format("0123456789012345"))
	assert.True(t, Valid("0000-0000-0000-0001"))
	assert.False(t, Valid("0000000000000001"))
}
