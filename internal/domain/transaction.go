package domain

import "time"

// TransactionStatus tracks a balance movement through the ledger.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
	TransactionFailed    TransactionStatus = "failed"
)

// TransactionKind tells how the movement was requested.
type TransactionKind string

const (
	KindTransfer   TransactionKind = "transfer"
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
)

// Transaction is the ledger's record of one balance movement. It is written
// once, in a terminal status, and never updated.
type Transaction struct {
	ID                    string
	Kind                  TransactionKind
	Amount                Money
	SenderAccountNumber   string
	ReceiverAccountNumber string
	Status                TransactionStatus
	FailureReason         string
	CreatedAt             time.Time
}

// Involves reports whether the account took part in the transaction.
func (t Transaction) Involves(accountNumber string) bool {
	return t.SenderAccountNumber == accountNumber || t.ReceiverAccountNumber == accountNumber
}
