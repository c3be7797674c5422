package domain

import "time"

// AuditStatus is the outcome recorded for an audited operation.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditError   AuditStatus = "error"
)

// Audited operation and entity names.
const (
	OpTransfer      = "transfer"
	OpDeposit       = "deposit"
	OpWithdraw      = "withdraw"
	OpCreateAccount = "create_account"
	OpCloseAccount  = "close_account"

	EntityAccount = "account"
)

// FieldChange holds the before and after value of one modified field.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// AuditRecord is an immutable description of an attempted operation.
type AuditRecord struct {
	ID             string                 `json:"id"`
	Timestamp      time.Time              `json:"timestamp"`
	OperationType  string                 `json:"operationType"`
	EntityType     string                 `json:"entityType"`
	EntityID       string                 `json:"entityId"`
	BeforeState    map[string]any         `json:"beforeState"`
	AfterState     map[string]any         `json:"afterState"`
	ModifiedFields map[string]FieldChange `json:"modifiedFields"`
	Status         AuditStatus            `json:"status"`
	Error          string                 `json:"error,omitempty"`
	Actor          string                 `json:"actor"`
}

// OperationCount is one row of the audit summary.
type OperationCount struct {
	OperationType string      `json:"operationType"`
	Status        AuditStatus `json:"status"`
	Count         int64       `json:"count"`
}

// AuditSummary aggregates audit records per operation type and status.
type AuditSummary struct {
	Total       int64            `json:"totalOperations"`
	ByOperation []OperationCount `json:"operationsByType"`
	GeneratedAt time.Time        `json:"lastUpdated"`
}
