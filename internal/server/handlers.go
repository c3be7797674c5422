package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vanshika/ledgercore/internal/audit"
	"github.com/vanshika/ledgercore/internal/domain"
	"github.com/vanshika/ledgercore/internal/ledger"
)

// ActorHeader carries the identity recorded in the audit trail.
const ActorHeader = "X-Actor"

const anonymousActor = "anonymous"

// LedgerService moves money between accounts.
type LedgerService interface {
	Transfer(ctx context.Context, req ledger.Request) (domain.Transaction, error)
	Deposit(ctx context.Context, receiver string, amount domain.Money, actor string) (domain.Transaction, error)
	Withdraw(ctx context.Context, sender string, amount domain.Money, actor string) (domain.Transaction, error)
}

// AccountService manages the account lifecycle.
type AccountService interface {
	Open(ctx context.Context, ownerID, actor string) (domain.Account, error)
	Get(ctx context.Context, number string) (domain.Account, error)
	GetOwned(ctx context.Context, ownerID, number string) (domain.Account, error)
	ListByOwner(ctx context.Context, ownerID string) ([]domain.Account, error)
	Close(ctx context.Context, number, actor string) error
	Transactions(ctx context.Context, number string, limit int) ([]domain.Transaction, error)
}

// AuditService answers audit trail queries.
type AuditService interface {
	History(ctx context.Context, filter audit.HistoryFilter) ([]domain.AuditRecord, error)
	Summary(ctx context.Context) (domain.AuditSummary, error)
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger   *slog.Logger
	ledger   LedgerService
	accounts AccountService
	audit    AuditService
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, ledgerSvc LedgerService, accounts AccountService, auditSvc AuditService) *APIHandlers {
	return &APIHandlers{
		logger:   logger,
		ledger:   ledgerSvc,
		accounts: accounts,
		audit:    auditSvc,
	}
}

func (h *APIHandlers) handleAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.openAccount(w, r)
	case http.MethodGet:
		h.listAccounts(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

// handleAccount serves /accounts/{number} and /accounts/{number}/transactions.
func (h *APIHandlers) handleAccount(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/accounts/"), "/")
	number, sub, _ := strings.Cut(rest, "/")
	if number == "" {
		writeError(w, http.StatusBadRequest, "account number is required")
		return
	}

	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.getAccount(w, r, number)
		case http.MethodDelete:
			h.closeAccount(w, r, number)
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodDelete)
		}
	case "transactions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		h.listAccountTransactions(w, r, number)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *APIHandlers) openAccount(w http.ResponseWriter, r *http.Request) {
	var payload openAccountRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	acc, err := h.accounts.Open(r.Context(), strings.TrimSpace(payload.OwnerID), actorFrom(r))
	if err != nil {
		h.writeLedgerError(w, r, "open account", err)
		return
	}
	respondJSON(w, http.StatusCreated, newAccountResponse(acc))
}

func (h *APIHandlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("ownerId")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "ownerId is required")
		return
	}

	accs, err := h.accounts.ListByOwner(r.Context(), ownerID)
	if err != nil {
		h.writeLedgerError(w, r, "list accounts", err)
		return
	}
	response := listAccountsResponse{Data: make([]accountResponse, 0, len(accs))}
	for _, acc := range accs {
		response.Data = append(response.Data, newAccountResponse(acc))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) getAccount(w http.ResponseWriter, r *http.Request, number string) {
	var (
		acc domain.Account
		err error
	)
	if ownerID := r.URL.Query().Get("ownerId"); ownerID != "" {
		acc, err = h.accounts.GetOwned(r.Context(), ownerID, number)
	} else {
		acc, err = h.accounts.Get(r.Context(), number)
	}
	if err != nil {
		h.writeLedgerError(w, r, "get account", err)
		return
	}
	respondJSON(w, http.StatusOK, newAccountResponse(acc))
}

func (h *APIHandlers) closeAccount(w http.ResponseWriter, r *http.Request, number string) {
	if err := h.accounts.Close(r.Context(), number, actorFrom(r)); err != nil {
		h.writeLedgerError(w, r, "close account", err)
		return
	}
	respondJSON(w, http.StatusOK, statusResponse{Status: "closed", ID: number})
}

func (h *APIHandlers) listAccountTransactions(w http.ResponseWriter, r *http.Request, number string) {
	limit := parseInt(r.URL.Query().Get("limit"), ledger.DefaultTransactionLimit)
	txs, err := h.accounts.Transactions(r.Context(), number, limit)
	if err != nil {
		h.writeLedgerError(w, r, "list transactions", err)
		return
	}
	response := listTransactionsResponse{Data: make([]transactionResponse, 0, len(txs))}
	for _, tx := range txs {
		response.Data = append(response.Data, newTransactionResponse(tx))
	}
	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload transferRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.ledger.Transfer(r.Context(), ledger.Request{
		Sender:   payload.Sender,
		Receiver: payload.Receiver,
		Amount:   payload.Amount,
		Actor:    actorFrom(r),
	})
	h.respondTransaction(w, r, "transfer", tx, err)
}

func (h *APIHandlers) handleDeposits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload cashRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.ledger.Deposit(r.Context(), payload.AccountNumber, payload.Amount, actorFrom(r))
	h.respondTransaction(w, r, "deposit", tx, err)
}

func (h *APIHandlers) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload cashRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tx, err := h.ledger.Withdraw(r.Context(), payload.AccountNumber, payload.Amount, actorFrom(r))
	h.respondTransaction(w, r, "withdraw", tx, err)
}

func (h *APIHandlers) respondTransaction(w http.ResponseWriter, r *http.Request, op string, tx domain.Transaction, err error) {
	if err == nil {
		respondJSON(w, http.StatusCreated, newTransactionResponse(tx))
		return
	}

	status := statusForError(err)
	h.logFailure(r, op, status, err)
	body := errorResponse{Error: publicMessage(status, err)}
	if tx.ID != "" {
		txResp := newTransactionResponse(tx)
		body.Transaction = &txResp
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	respondJSON(w, status, body)
}

func (h *APIHandlers) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	query := r.URL.Query()
	filter := audit.HistoryFilter{
		EntityID:      query.Get("entityId"),
		OperationType: query.Get("operationType"),
		Limit:         parseInt(query.Get("limit"), 100),
	}

	records, err := h.audit.History(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to query audit history", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query audit history")
		return
	}
	if records == nil {
		records = []domain.AuditRecord{}
	}
	respondJSON(w, http.StatusOK, auditHistoryResponse{Data: records})
}

func (h *APIHandlers) handleAuditSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	summary, err := h.audit.Summary(r.Context())
	if err != nil {
		h.logger.Error("failed to build audit summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to build audit summary")
		return
	}
	if summary.ByOperation == nil {
		summary.ByOperation = []domain.OperationCount{}
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *APIHandlers) writeLedgerError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusForError(err)
	h.logFailure(r, op, status, err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, publicMessage(status, err))
}

func (h *APIHandlers) logFailure(r *http.Request, op string, status int, err error) {
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err, "fatal", domain.IsFatal(err))
		return
	}
	h.logger.DebugContext(r.Context(), op+" rejected", "error", err, "status", status)
}

// statusForError maps ledger errors to HTTP status codes.
func statusForError(err error) int {
	switch {
	case domain.IsFatal(err):
		return http.StatusInternalServerError
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrSelfTransfer),
		errors.Is(err, domain.ErrMissingOwner):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrLockTimeout),
		errors.Is(err, domain.ErrGenerationExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrDuplicateAccount),
		errors.Is(err, domain.ErrAccountNotEmpty),
		errors.Is(err, domain.ErrAccountClosed),
		errors.Is(err, domain.ErrInsufficientFunds),
		errors.Is(err, domain.ErrVaultProtected):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Internal failures are not described to clients.
func publicMessage(status int, err error) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func actorFrom(r *http.Request) string {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return actor
	}
	return anonymousActor
}

type openAccountRequest struct {
	OwnerID string `json:"ownerId"`
}

type transferRequest struct {
	Sender   string       `json:"sender"`
	Receiver string       `json:"receiver"`
	Amount   domain.Money `json:"amount"`
}

type cashRequest struct {
	AccountNumber string       `json:"accountNumber"`
	Amount        domain.Money `json:"amount"`
}

type accountResponse struct {
	Number    string `json:"number"`
	OwnerID   string `json:"ownerId"`
	Balance   string `json:"balance"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
	ClosedAt  string `json:"closedAt,omitempty"`
}

type transactionResponse struct {
	ID            string `json:"id"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	Sender        string `json:"sender"`
	Receiver      string `json:"receiver"`
	Status        string `json:"status"`
	FailureReason string `json:"failureReason,omitempty"`
	CreatedAt     string `json:"createdAt"`
}

type listAccountsResponse struct {
	Data []accountResponse `json:"data"`
}

type listTransactionsResponse struct {
	Data []transactionResponse `json:"data"`
}

type auditHistoryResponse struct {
	Data []domain.AuditRecord `json:"data"`
}

type errorResponse struct {
	Error       string               `json:"error"`
	Transaction *transactionResponse `json:"transaction,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

func newAccountResponse(acc domain.Account) accountResponse {
	return accountResponse{
		Number:    acc.Number,
		OwnerID:   acc.OwnerID,
		Balance:   acc.Balance.StringFixed(domain.MinorUnitScale),
		Status:    string(acc.Status),
		CreatedAt: formatTime(acc.CreatedAt),
		ClosedAt:  formatTimePtr(acc.ClosedAt),
	}
}

func newTransactionResponse(tx domain.Transaction) transactionResponse {
	return transactionResponse{
		ID:            tx.ID,
		Kind:          string(tx.Kind),
		Amount:        tx.Amount.StringFixed(domain.MinorUnitScale),
		Sender:        tx.SenderAccountNumber,
		Receiver:      tx.ReceiverAccountNumber,
		Status:        string(tx.Status),
		FailureReason: tx.FailureReason,
		CreatedAt:     formatTime(tx.CreatedAt),
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil || ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
