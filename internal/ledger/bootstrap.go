package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/vanshika/ledgercore/internal/domain"
)

// VaultSpec describes the vault account created on first start.
type VaultSpec struct {
	Number         string
	OwnerID        string
	InitialBalance domain.Money
}

// Bootstrap creates the vault account and mints its initial balance. It is a
// no-op when the vault already exists. The returned bool reports whether the
// vault was created by this call.
func Bootstrap(ctx context.Context, store AccountStore, spec VaultSpec) (domain.Account, bool, error) {
	if spec.Number == "" {
		spec.Number = domain.VaultAccountNumber
	}
	if spec.InitialBalance.IsNegative() {
		return domain.Account{}, false, fmt.Errorf("bootstrap vault: %w: initial balance %s", domain.ErrInvalidAmount, spec.InitialBalance.String())
	}
	if err := domain.CheckScale(spec.InitialBalance); err != nil {
		return domain.Account{}, false, fmt.Errorf("bootstrap vault: %w", err)
	}

	acc, err := store.Get(ctx, spec.Number)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Account{}, false, fmt.Errorf("bootstrap vault: %w", err)
	}

	acc, err = store.Create(ctx, spec.Number, spec.OwnerID)
	if errors.Is(err, domain.ErrDuplicateAccount) {
		// A concurrent bootstrap won the race and mints the balance itself.
		acc, err = store.Get(ctx, spec.Number)
		if err != nil {
			return domain.Account{}, false, fmt.Errorf("bootstrap vault: %w", err)
		}
		return acc, false, nil
	}
	if err != nil {
		return domain.Account{}, false, fmt.Errorf("bootstrap vault: %w", err)
	}

	if spec.InitialBalance.IsPositive() {
		acc, err = store.AdjustBalance(ctx, spec.Number, spec.InitialBalance)
		if err != nil {
			return domain.Account{}, true, fmt.Errorf("mint vault balance: %w", err)
		}
	}
	return acc, true, nil
}
