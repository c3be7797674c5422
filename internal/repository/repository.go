package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/graph"
)

// Repository persists accounts and transactions in the graph. Balances are
// stored as integer minor units; every balance change is a single
// conditional statement so the database serialises concurrent updates.
type Repository struct {
	client   graph.Client
	nowFn    func() time.Time
	newToken func() string
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{
		client:   client,
		nowFn:    time.Now,
		newToken: uuid.NewString,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (r *Repository) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		r.nowFn = nowFn
	}
}

// EnsureSchema creates the uniqueness constraints and indexes the repository
// relies on. It is safe to call on every start.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

// Create registers a new open account with a zero balance.
func (r *Repository) Create(ctx context.Context, number, ownerID string) (domain.Account, error) {
	params := map[string]any{
		"number":    number,
		"ownerId":   ownerID,
		"createdAt": graph.FormatTime(r.nowFn()),
		"token":     r.newToken(),
	}
	res, err := r.client.ExecuteWrite(ctx, createAccountCypher, params)
	if err != nil {
		return domain.Account{}, fmt.Errorf("create account %s: %w", number, err)
	}
	rec, ok := res.Single()
	if !ok {
		return domain.Account{}, fmt.Errorf("create account %s: unexpected result with %d records", number, len(res.Records))
	}
	if !rec.Bool("created") {
		return domain.Account{}, fmt.Errorf("account %s: %w", number, domain.ErrDuplicateAccount)
	}
	return accountFromRecord(rec), nil
}

// Get returns the account, including closed ones.
func (r *Repository) Get(ctx context.Context, number string) (domain.Account, error) {
	res, err := r.client.ExecuteRead(ctx, getAccountCypher, map[string]any{"number": number})
	if err != nil {
		return domain.Account{}, fmt.Errorf("get account %s: %w", number, err)
	}
	rec, ok := res.Single()
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", number, domain.ErrNotFound)
	}
	return accountFromRecord(rec), nil
}

// AdjustBalance applies balance += delta in one statement.
func (r *Repository) AdjustBalance(ctx context.Context, number string, delta domain.Money) (domain.Account, error) {
	if err := domain.CheckScale(delta); err != nil {
		return domain.Account{}, err
	}
	minor, err := domain.ToMinorUnits(delta)
	if err != nil {
		return domain.Account{}, err
	}
	params := map[string]any{
		"number": number,
		"delta":  minor,
	}
	res, err := r.client.ExecuteWrite(ctx, adjustBalanceCypher, params)
	if err != nil {
		return domain.Account{}, fmt.Errorf("adjust balance of %s: %w", number, err)
	}
	rec, ok := res.Single()
	if !ok {
		return domain.Account{}, fmt.Errorf("account %s: %w", number, domain.ErrNotFound)
	}
	acc := accountFromRecord(rec)
	if !rec.Bool("applied") {
		if acc.IsClosed() {
			return domain.Account{}, fmt.Errorf("account %s: %w", number, domain.ErrAccountClosed)
		}
		return domain.Account{}, fmt.Errorf("account %s has %s, cannot apply %s: %w",
			number, acc.Balance.String(), delta.String(), domain.ErrInsufficientFunds)
	}
	return acc, nil
}

// Remove closes an account with a zero balance.
func (r *Repository) Remove(ctx context.Context, number string) error {
	params := map[string]any{
		"number":   number,
		"closedAt": graph.FormatTime(r.nowFn()),
	}
	res, err := r.client.ExecuteWrite(ctx, removeAccountCypher, params)
	if err != nil {
		return fmt.Errorf("remove account %s: %w", number, err)
	}
	rec, ok := res.Single()
	if !ok {
		return fmt.Errorf("account %s: %w", number, domain.ErrNotFound)
	}
	if rec.Bool("applied") {
		return nil
	}
	acc := accountFromRecord(rec)
	if acc.IsClosed() {
		return fmt.Errorf("account %s: %w", number, domain.ErrAccountClosed)
	}
	return fmt.Errorf("account %s holds %s: %w", number, acc.Balance.String(), domain.ErrAccountNotEmpty)
}

// ListByOwner returns the owner's open accounts ordered by number.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error) {
	res, err := r.client.ExecuteRead(ctx, listAccountsByOwnerCypher, map[string]any{"ownerId": ownerID})
	if err != nil {
		return nil, fmt.Errorf("list accounts of %s: %w", ownerID, err)
	}
	out := make([]domain.Account, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, accountFromRecord(rec))
	}
	return out, nil
}

// Append stores a finished transaction linked to both accounts. Appending the
// same transaction id twice keeps the first copy.
func (r *Repository) Append(ctx context.Context, tx domain.Transaction) error {
	if tx.ID == "" {
		return errors.New("transaction id is required")
	}
	props, err := transactionProperties(tx)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	params := map[string]any{
		"transactionId": tx.ID,
		"sender":        tx.SenderAccountNumber,
		"receiver":      tx.ReceiverAccountNumber,
		"props":         props,
	}
	res, err := r.client.ExecuteWrite(ctx, appendTransactionCypher, params)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	if _, ok := res.Single(); !ok {
		return fmt.Errorf("append transaction %s: %w", tx.ID, domain.ErrNotFound)
	}
	return nil
}

// ListByAccount returns transactions involving the account, newest first.
func (r *Repository) ListByAccount(ctx context.Context, number string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	params := map[string]any{
		"number": number,
		"limit":  limit,
	}
	res, err := r.client.ExecuteRead(ctx, listTransactionsCypher, params)
	if err != nil {
		return nil, fmt.Errorf("list transactions of %s: %w", number, err)
	}
	out := make([]domain.Transaction, 0, len(res.Records))
	for _, rec := range res.Records {
		out = append(out, transactionFromRecord(rec))
	}
	return out, nil
}

func transactionProperties(tx domain.Transaction) (map[string]any, error) {
	minor, err := domain.ToMinorUnits(tx.Amount)
	if err != nil {
		return nil, err
	}
	props := map[string]any{
		"kind":        string(tx.Kind),
		"amountMinor": minor,
		"status":      string(tx.Status),
		"createdAt":   graph.FormatTime(tx.CreatedAt),
	}
	if tx.FailureReason != "" {
		props["failureReason"] = tx.FailureReason
	}
	return props, nil
}

func accountFromRecord(rec graph.Record) domain.Account {
	acc := domain.Account{
		Number:   rec.String("number"),
		OwnerID:  rec.String("ownerId"),
		Balance:  domain.FromMinorUnits(rec.Int64("balanceMinor")),
		Status:   domain.AccountStatus(rec.String("status")),
		ClosedAt: rec.Time("closedAt"),
	}
	if created := rec.Time("createdAt"); created != nil {
		acc.CreatedAt = *created
	}
	return acc
}

func transactionFromRecord(rec graph.Record) domain.Transaction {
	tx := domain.Transaction{
		ID:                    rec.String("transactionId"),
		Kind:                  domain.TransactionKind(rec.String("kind")),
		Amount:                domain.FromMinorUnits(rec.Int64("amountMinor")),
		SenderAccountNumber:   rec.String("sender"),
		ReceiverAccountNumber: rec.String("receiver"),
		Status:                domain.TransactionStatus(rec.String("status")),
		FailureReason:         rec.String("failureReason"),
	}
	if created := rec.Time("createdAt"); created != nil {
		tx.CreatedAt = *created
	}
	return tx
}

var schemaStatements = []string{
	`CREATE CONSTRAINT account_number IF NOT EXISTS FOR (a:Account) REQUIRE a.number IS UNIQUE`,
	`CREATE CONSTRAINT transaction_id IF NOT EXISTS FOR (t:Transaction) REQUIRE t.transactionId IS UNIQUE`,
	`CREATE INDEX account_owner IF NOT EXISTS FOR (a:Account) ON (a.ownerId)`,
}

const accountFields = `a.number AS number,
       a.ownerId AS ownerId,
       a.balanceMinor AS balanceMinor,
       a.status AS status,
       a.createdAt AS createdAt,
       a.closedAt AS closedAt`

const createAccountCypher = `
MERGE (a:Account {number: $number})
ON CREATE SET a.ownerId = $ownerId,
              a.balanceMinor = 0,
              a.status = 'open',
              a.createdAt = $createdAt,
              a.createToken = $token
RETURN ` + accountFields + `,
       a.createToken = $token AS created
`

const getAccountCypher = `
MATCH (a:Account {number: $number})
RETURN ` + accountFields + `
`

// Touching lockVersion first takes the node write lock, so the balance read
// below sees every committed update.
const adjustBalanceCypher = `
MATCH (a:Account {number: $number})
SET a.lockVersion = coalesce(a.lockVersion, 0) + 1
WITH a, (a.status = 'open' AND a.balanceMinor + $delta >= 0) AS applied
FOREACH (_ IN CASE WHEN applied THEN [1] ELSE [] END |
	SET a.balanceMinor = a.balanceMinor + $delta
)
RETURN ` + accountFields + `,
       applied
`

const removeAccountCypher = `
MATCH (a:Account {number: $number})
SET a.lockVersion = coalesce(a.lockVersion, 0) + 1
WITH a, (a.status = 'open' AND a.balanceMinor = 0) AS applied
FOREACH (_ IN CASE WHEN applied THEN [1] ELSE [] END |
	SET a.status = 'closed', a.closedAt = $closedAt
)
RETURN ` + accountFields + `,
       applied
`

const listAccountsByOwnerCypher = `
MATCH (a:Account {ownerId: $ownerId})
WHERE a.status = 'open'
RETURN ` + accountFields + `
ORDER BY a.number
`

const appendTransactionCypher = `
MATCH (sender:Account {number: $sender})
MATCH (receiver:Account {number: $receiver})
MERGE (t:Transaction {transactionId: $transactionId})
ON CREATE SET t += $props
MERGE (sender)-[:SENT]->(t)
MERGE (t)-[:RECEIVED_BY]->(receiver)
RETURN t.transactionId AS transactionId
`

const listTransactionsCypher = `
MATCH (:Account {number: $number})-[:SENT|RECEIVED_BY]-(t:Transaction)
MATCH (s:Account)-[:SENT]->(t)-[:RECEIVED_BY]->(r:Account)
RETURN DISTINCT t.transactionId AS transactionId,
       t.kind AS kind,
       t.amountMinor AS amountMinor,
       t.status AS status,
       t.failureReason AS failureReason,
       t.createdAt AS createdAt,
       s.number AS sender,
       r.number AS receiver
ORDER BY datetime(createdAt) DESC
LIMIT $limit
`
