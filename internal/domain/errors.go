package domain

import (
	"errors"
	"fmt"
)

// Validation errors. Rejected before any state change.
var (
	ErrInvalidAmount = errors.New("amount must be a positive value with at most two decimal places")
	ErrSelfTransfer  = errors.New("sender and receiver must be different accounts")
)

// Resource errors.
var (
	ErrNotFound            = errors.New("account not found")
	ErrDuplicateAccount    = errors.New("account number already exists")
	ErrAccountNotEmpty     = errors.New("account balance is not zero")
	ErrAccountClosed       = errors.New("account is closed")
	ErrGenerationExhausted = errors.New("could not generate a unique account number")
	ErrMissingOwner        = errors.New("owner id is required")
	ErrVaultProtected      = errors.New("the vault account cannot be closed")
)

// ErrLockTimeout is returned when per-account locks could not be taken in time.
// Callers may retry.
var ErrLockTimeout = errors.New("timed out waiting for account lock")

// ErrInsufficientFunds rejects a debit that would make a balance negative.
var ErrInsufficientFunds = errors.New("insufficient funds")

// ErrVaultDepleted is returned together with ErrInsufficientFunds when the vault
// cannot cover a deposit.
var ErrVaultDepleted = errors.New("vault balance exhausted")

// Fatal errors. Never retried automatically.
var (
	ErrVaultNotConfigured = errors.New("vault account is not configured")
	ErrCompensationFailed = errors.New("compensation failed, ledger may be inconsistent")
)

// CompensationFailedError reports a transfer whose credit step failed and whose
// debit could not be reversed afterwards.
type CompensationFailedError struct {
	TransactionID string
	Sender        string
	Amount        Money
	CreditErr     error
	ReverseErr    error
}

func (e *CompensationFailedError) Error() string {
	return fmt.Sprintf("transaction %s: credit failed (%v) and reversing debit of %s on %s failed (%v)",
		e.TransactionID, e.CreditErr, e.Amount.String(), e.Sender, e.ReverseErr)
}

// Is lets errors.Is(err, ErrCompensationFailed) match.
func (e *CompensationFailedError) Is(target error) bool {
	return target == ErrCompensationFailed
}

// Unwrap exposes both underlying failures.
func (e *CompensationFailedError) Unwrap() []error {
	return []error{e.CreditErr, e.ReverseErr}
}

// OperationError attaches the ledger operation and accounts to a failure.
type OperationError struct {
	Op       string
	Sender   string
	Receiver string
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("%s %s -> %s: %v", e.Op, e.Sender, e.Receiver, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }

// IsRetryable reports whether the caller may retry the failed operation as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsFatal reports whether err must be escalated to an operator instead of
// being handled as a business rejection.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCompensationFailed) || errors.Is(err, ErrVaultNotConfigured)
}
