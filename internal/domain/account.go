package domain

import "time"

// VaultAccountNumber is the default number of the money-supply anchor account.
const VaultAccountNumber = "0000-0000-0000-0000"

// AccountStatus describes the lifecycle state of an account.
type AccountStatus string

const (
	AccountOpen   AccountStatus = "open"
	AccountClosed AccountStatus = "closed"
)

// Account models a ledger account and its balance.
type Account struct {
	Number    string
	OwnerID   string
	Balance   Money
	Status    AccountStatus
	CreatedAt time.Time
	ClosedAt  *time.Time
}

// IsClosed reports whether the account reached its terminal state.
func (a Account) IsClosed() bool {
	return a.Status == AccountClosed
}

// State returns the snapshot captured by the audit trail.
func (a Account) State() map[string]any {
	return map[string]any{
		"balance": a.Balance.StringFixed(MinorUnitScale),
		"status":  string(a.Status),
	}
}
