/*
handlers.go - HTTP API handlers for the transaction ledger

PURPOSE:
  Exposes the ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Transactions:
    GET    /api/transactions           List transactions (optional filter)
    POST   /api/transactions           Record a transaction
    POST   /api/transactions/bulk      Record several atomically
    GET    /api/transactions/{id}      Get one transaction
    PUT    /api/transactions/{id}      Replace a transaction
    DELETE /api/transactions/{id}      Delete a transaction
    POST   /api/transfers              Record a transfer between accounts

  Accounts:
    GET    /api/accounts               List accounts with balances
    POST   /api/accounts               Register an account
    GET    /api/accounts/{id}          Get one account with balance
    DELETE /api/accounts/{id}          Delete (cascade=true removes its txs)

  Categories:
    GET    /api/categories             List registered categories
    POST   /api/categories             Register a category

  Recurring series:
    GET    /api/series                 List series
    POST   /api/series                 Create series (materializes charges)
    GET    /api/series/{id}            Get one series
    PUT    /api/series/{id}            Replace series definition
    DELETE /api/series/{id}            Delete (cascade=true removes its txs)
    POST   /api/series/{id}/stop       Stop permanently
    POST   /api/series/{id}/pause      Pause generation
    POST   /api/series/{id}/resume     Resume generation
    GET    /api/series/{id}/planned    Planned future charges

  Reports:
    GET    /api/reports/summary        Income/expense/net for a filter
    GET    /api/reports/categories     Per-category expense breakdown

  Admin:
    POST   /api/admin/roll-forward     Materialize due recurring charges
    GET    /api/admin/audit            Compare incremental vs recomputed balances
    POST   /api/admin/flush            Force a synchronous persist

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTOs into domain types
  3. Call the ledger
  4. Serialize response
  5. Map domain errors to HTTP status

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (referenced account without cascade)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/warp/ledger-core/ledger"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger *ledger.Ledger

	// DefaultCurrency is the reporting currency when the request names none.
	DefaultCurrency string

	Log zerolog.Logger
}

// NewHandler creates a new handler around the given ledger.
func NewHandler(l *ledger.Ledger, defaultCurrency string, log zerolog.Logger) *Handler {
	return &Handler{Ledger: l, DefaultCurrency: defaultCurrency, Log: log}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns transactions, newest first. A filter narrows the
// range; without one the whole history is returned.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	if f == nil {
		writeJSON(w, http.StatusOK, toTransactionDTOs(h.Ledger.Transactions()))
		return
	}
	from, to := f.Resolve(h.Ledger.Today())
	writeJSON(w, http.StatusOK, toTransactionDTOs(h.Ledger.TransactionsBetween(from, to)))
}

// GetTransaction returns a single transaction.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	tx, err := h.Ledger.Transaction(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// CreateTransaction records a new transaction.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	draft, err := fromTransactionRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	tx, err := h.Ledger.Add(r.Context(), draft)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// UpdateTransaction replaces an existing transaction.
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	replacement, err := fromTransactionRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transaction", err)
		return
	}

	tx, err := h.Ledger.Update(r.Context(), id, replacement)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction deletes a transaction.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id := ledger.TransactionID(chi.URLParam(r, "id"))
	if err := h.Ledger.Delete(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// BulkCreateTransactions records several transactions atomically: either
// all of them apply or none do.
func (h *Handler) BulkCreateTransactions(w http.ResponseWriter, r *http.Request) {
	var req BulkAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	drafts := make([]ledger.Transaction, 0, len(req.Transactions))
	for _, tr := range req.Transactions {
		draft, err := fromTransactionRequest(tr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid transaction", err)
			return
		}
		drafts = append(drafts, draft)
	}

	txs, err := h.Ledger.BulkAdd(r.Context(), drafts)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTOs(txs))
}

// CreateTransfer records a transfer between two accounts.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := parseMoney(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	on, err := parseDate(req.OccurredOn)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date", err)
		return
	}
	var targetAmount *ledger.Money
	if req.TargetAmount != nil {
		ta, err := parseMoney(*req.TargetAmount)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid target amount", err)
			return
		}
		targetAmount = &ta
	}

	tx, err := h.Ledger.Transfer(r.Context(),
		ledger.AccountID(req.From), ledger.AccountID(req.To),
		amount, targetAmount, on, req.Description)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts with their current balances.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.Ledger.Accounts()
	dtos := make([]AccountDTO, 0, len(accounts))
	for _, a := range accounts {
		dto, err := h.accountDTO(a)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		dtos = append(dtos, dto)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns one account with its current balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	a, err := h.Ledger.Account(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dto, err := h.accountDTO(a)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateAccount registers a new account.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	a := ledger.Account{
		ID:       ledger.AccountID(req.ID),
		Name:     req.Name,
		Currency: req.Currency,
	}
	if req.InitialBalance != "" {
		v, err := parseMoney(MoneyDTO{Value: req.InitialBalance, Currency: req.Currency})
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid initial balance", err)
			return
		}
		a.InitialBalance = v.Value
	}

	created, err := h.Ledger.AddAccount(r.Context(), a)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dto, err := h.accountDTO(created)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dto)
}

// DeleteAccount deletes an account. Without cascade=true the delete is
// refused while transactions still reference the account.
func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))
	cascade := r.URL.Query().Get("cascade") == "true"

	if err := h.Ledger.DeleteAccount(r.Context(), id, cascade); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) accountDTO(a ledger.Account) (AccountDTO, error) {
	balance, err := h.Ledger.AccountBalance(a.ID)
	if err != nil {
		return AccountDTO{}, err
	}
	return AccountDTO{
		ID:             string(a.ID),
		Name:           a.Name,
		Currency:       a.Currency,
		InitialBalance: a.InitialBalance.String(),
		Balance:        toMoneyDTO(balance),
	}, nil
}

// =============================================================================
// CATEGORY HANDLERS
// =============================================================================

// ListCategories returns all registered categories.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Ledger.Categories())
}

// CreateCategory registers a category name.
func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Ledger.AddCategory(r.Context(), req.Name); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// =============================================================================
// RECURRING SERIES HANDLERS
// =============================================================================

// ListSeries returns all recurring series.
func (h *Handler) ListSeries(w http.ResponseWriter, r *http.Request) {
	series := h.Ledger.AllSeries()
	dtos := make([]SeriesDTO, len(series))
	for i, s := range series {
		dtos[i] = toSeriesDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSeries returns one recurring series.
func (h *Handler) GetSeries(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))
	s, err := h.Ledger.Series(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesDTO(s))
}

// CreateSeries creates a recurring series and materializes its due charges.
func (h *Handler) CreateSeries(w http.ResponseWriter, r *http.Request) {
	var req SeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	draft, err := fromSeriesRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid series", err)
		return
	}

	s, err := h.Ledger.CreateSeries(r.Context(), draft)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSeriesDTO(s))
}

// UpdateSeries replaces a series definition. Existing generated
// transactions are untouched; future generation follows the new terms.
func (h *Handler) UpdateSeries(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))

	var req SeriesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	replacement, err := fromSeriesRequest(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid series", err)
		return
	}

	s, err := h.Ledger.UpdateSeries(r.Context(), id, replacement)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesDTO(s))
}

// DeleteSeries deletes a series. cascade=true also removes the
// transactions it generated; otherwise they stay, unlinked.
func (h *Handler) DeleteSeries(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))
	cascade := r.URL.Query().Get("cascade") == "true"

	if err := h.Ledger.DeleteSeries(r.Context(), id, cascade); err != nil {
		h.writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// StopSeries permanently stops generation for a series.
func (h *Handler) StopSeries(w http.ResponseWriter, r *http.Request) {
	h.setSeriesStatus(w, r, h.Ledger.StopSeries)
}

// PauseSeries suspends generation for a series.
func (h *Handler) PauseSeries(w http.ResponseWriter, r *http.Request) {
	h.setSeriesStatus(w, r, h.Ledger.PauseSeries)
}

// ResumeSeries resumes generation for a paused series.
func (h *Handler) ResumeSeries(w http.ResponseWriter, r *http.Request) {
	h.setSeriesStatus(w, r, h.Ledger.ResumeSeries)
}

func (h *Handler) setSeriesStatus(w http.ResponseWriter, r *http.Request, op func(context.Context, ledger.SeriesID) error) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))
	if err := op(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	s, err := h.Ledger.Series(id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSeriesDTO(s))
}

// GetPlannedOccurrences returns the not-yet-materialized charges of a
// series within the horizon (months query parameter, default 3).
func (h *Handler) GetPlannedOccurrences(w http.ResponseWriter, r *http.Request) {
	id := ledger.SeriesID(chi.URLParam(r, "id"))

	months := 3
	if s := r.URL.Query().Get("months"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid months parameter", err)
			return
		}
		months = n
	}

	charges, err := h.Ledger.PlannedOccurrences(id, months)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]OccurrenceDTO, len(charges))
	for i, c := range charges {
		dtos[i] = OccurrenceDTO{On: c.On.String(), Amount: toMoneyDTO(c.Amount)}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetSummary returns income/expense/net for the requested filter.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	if f == nil {
		f = &ledger.TimeFilter{Preset: ledger.PresetAllTime}
	}

	sum, err := h.Ledger.GetSummary(*f, h.reportCurrency(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{
		Income:  toMoneyDTO(sum.Income),
		Expense: toMoneyDTO(sum.Expense),
		Net:     toMoneyDTO(sum.Net),
		Count:   sum.Count,
	})
}

// GetCategoryTotals returns the per-category expense breakdown for the
// requested filter. categories=a,b narrows the report to those names.
func (h *Handler) GetCategoryTotals(w http.ResponseWriter, r *http.Request) {
	f, ok := h.filterFromQuery(w, r)
	if !ok {
		return
	}
	if f == nil {
		f = &ledger.TimeFilter{Preset: ledger.PresetAllTime}
	}

	var categories []string
	if cs := r.URL.Query().Get("categories"); cs != "" {
		categories = strings.Split(cs, ",")
	}

	rows, err := h.Ledger.GetCategoryTotals(*f, h.reportCurrency(r), categories)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]CategoryTotalDTO, len(rows))
	for i, row := range rows {
		dtos[i] = CategoryTotalDTO{
			Category: row.Category,
			Total:    toMoneyDTO(row.Total),
			Count:    row.Count,
		}
		if !row.LastActivity.IsZero() {
			dtos[i].LastActivity = row.LastActivity.String()
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RollForward materializes recurring charges that came due since the last
// generation pass.
func (h *Handler) RollForward(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.RollForward(r.Context()); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AuditBalances recomputes every balance from scratch and reports accounts
// whose incremental balance drifted.
func (h *Handler) AuditBalances(w http.ResponseWriter, r *http.Request) {
	warnings, err := h.Ledger.AuditBalances()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]AuditWarningDTO, len(warnings))
	for i, warn := range warnings {
		dtos[i] = AuditWarningDTO{
			Account:     string(warn.Account),
			Incremental: warn.Incremental.String(),
			Recomputed:  warn.Recomputed.String(),
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"warnings": dtos})
}

// Flush forces a synchronous persist and reports the outcome.
func (h *Handler) Flush(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Persist failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// filterFromQuery builds a TimeFilter from preset/from/to query parameters.
// Returns (nil, true) when no filter was requested. A false second return
// means the response has already been written.
func (h *Handler) filterFromQuery(w http.ResponseWriter, r *http.Request) (*ledger.TimeFilter, bool) {
	q := r.URL.Query()
	preset := q.Get("preset")
	fromS, toS := q.Get("from"), q.Get("to")

	if preset == "" && fromS == "" && toS == "" {
		return nil, true
	}

	f := ledger.TimeFilter{Preset: ledger.Preset(preset)}
	if fromS != "" || toS != "" {
		if preset != "" && preset != string(ledger.PresetCustom) {
			writeError(w, http.StatusBadRequest, "from/to only combine with preset=custom", nil)
			return nil, false
		}
		f.Preset = ledger.PresetCustom
		var err error
		if f.From, err = parseDate(fromS); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date", err)
			return nil, false
		}
		if f.To, err = parseDate(toS); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date", err)
			return nil, false
		}
	}
	return &f, true
}

func (h *Handler) reportCurrency(r *http.Request) string {
	if c := r.URL.Query().Get("currency"); c != "" {
		return c
	}
	return h.DefaultCurrency
}

// writeDomainError maps ledger errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case errors.Is(err, ledger.ErrForbidden):
		writeError(w, http.StatusConflict, "Operation refused", err)
	case errors.Is(err, ledger.ErrIDMismatch):
		writeError(w, http.StatusBadRequest, "ID mismatch", err)
	default:
		h.Log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
