package domain

import "time"

// EventType names a ledger event delivered to the notification gateway.
type EventType string

const (
	EventTransferCompleted EventType = "TransferCompleted"
	EventBalanceChanged    EventType = "BalanceChanged"
	EventOperationFailed   EventType = "OperationFailed"
)

// Event carries identifiers and amounts only, never credentials or request payloads.
type Event struct {
	Type          EventType       `json:"type"`
	OccurredAt    time.Time       `json:"occurredAt"`
	TransactionID string          `json:"transactionId,omitempty"`
	Kind          TransactionKind `json:"kind,omitempty"`
	AccountNumber string          `json:"accountNumber,omitempty"`
	Counterparty  string          `json:"counterparty,omitempty"`
	Amount        Money           `json:"amount"`
	Balance       *Money          `json:"balance,omitempty"`
	Reason        string          `json:"reason,omitempty"`
}
