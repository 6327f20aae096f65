/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND DATES:
  Amounts travel as decimal strings ("42.50") so clients never see float
  rounding. Dates are calendar days in "YYYY-MM-DD"; timestamps are RFC3339.

VALIDATION:
  Structural validation (parseable amounts and dates) is done while
  converting a request into domain types; business validation lives in the
  ledger and surfaces here as 400/404 responses.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain model
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/ledger-core/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// MoneyDTO represents an amount in API payloads.
type MoneyDTO struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// TransactionDTO represents a transaction in API responses.
type TransactionDTO struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Amount        MoneyDTO  `json:"amount"`
	OccurredOn    string    `json:"occurred_on"`
	Account       string    `json:"account"`
	TargetAccount string    `json:"target_account,omitempty"`
	TargetAmount  *MoneyDTO `json:"target_amount,omitempty"`
	Category      string    `json:"category,omitempty"`
	Subcategory   string    `json:"subcategory,omitempty"`
	Description   string    `json:"description,omitempty"`
	SeriesID      string    `json:"series_id,omitempty"`
	CreatedAt     string    `json:"created_at,omitempty"`
}

// TransactionRequest is the request to create or update a transaction.
type TransactionRequest struct {
	ID          string   `json:"id,omitempty"`
	Kind        string   `json:"kind"`
	Amount      MoneyDTO `json:"amount"`
	OccurredOn  string   `json:"occurred_on"`
	Account     string   `json:"account"`
	Category    string   `json:"category,omitempty"`
	Subcategory string   `json:"subcategory,omitempty"`
	Description string   `json:"description,omitempty"`
}

// TransferRequest is the request to record a transfer between accounts.
type TransferRequest struct {
	Amount       MoneyDTO  `json:"amount"`
	OccurredOn   string    `json:"occurred_on"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	TargetAmount *MoneyDTO `json:"target_amount,omitempty"`
	Description  string    `json:"description,omitempty"`
}

// BulkAddRequest is the request to add several transactions atomically.
type BulkAddRequest struct {
	Transactions []TransactionRequest `json:"transactions"`
}

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Currency       string   `json:"currency"`
	InitialBalance string   `json:"initial_balance"`
	Balance        MoneyDTO `json:"balance"`
}

// AccountRequest is the request to create an account.
type AccountRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Currency       string `json:"currency"`
	InitialBalance string `json:"initial_balance,omitempty"`
}

// SeriesDTO represents a recurring series in API responses.
type SeriesDTO struct {
	ID        string   `json:"id"`
	Status    string   `json:"status"`
	Frequency string   `json:"frequency"`
	Interval  int      `json:"interval"`
	StartDate string   `json:"start_date"`
	Kind      string   `json:"kind"`
	Amount    MoneyDTO `json:"amount"`
	Account   string   `json:"account,omitempty"`
	Category  string   `json:"category,omitempty"`
}

// SeriesRequest is the request to create or update a recurring series.
type SeriesRequest struct {
	ID        string   `json:"id,omitempty"`
	Frequency string   `json:"frequency"`
	Interval  int      `json:"interval"`
	StartDate string   `json:"start_date"`
	Kind      string   `json:"kind"`
	Amount    MoneyDTO `json:"amount"`
	Account   string   `json:"account,omitempty"`
	Category  string   `json:"category,omitempty"`
}

// OccurrenceDTO is one planned future charge of a series.
type OccurrenceDTO struct {
	On     string   `json:"on"`
	Amount MoneyDTO `json:"amount"`
}

// SummaryDTO is the headline aggregate for a filter.
type SummaryDTO struct {
	Income  MoneyDTO `json:"income"`
	Expense MoneyDTO `json:"expense"`
	Net     MoneyDTO `json:"net"`
	Count   int      `json:"count"`
}

// CategoryTotalDTO is one row of the spending breakdown.
type CategoryTotalDTO struct {
	Category     string   `json:"category"`
	Total        MoneyDTO `json:"total"`
	Count        int      `json:"count"`
	LastActivity string   `json:"last_activity,omitempty"`
}

// AuditWarningDTO reports one account whose incremental balance drifted.
type AuditWarningDTO struct {
	Account     string `json:"account"`
	Incremental string `json:"incremental"`
	Recomputed  string `json:"recomputed"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toMoneyDTO(m ledger.Money) MoneyDTO {
	return MoneyDTO{Value: m.Value.String(), Currency: m.Currency}
}

func parseMoney(d MoneyDTO) (ledger.Money, error) {
	v, err := decimal.NewFromString(d.Value)
	if err != nil {
		return ledger.Money{}, fmt.Errorf("invalid amount %q: %w", d.Value, err)
	}
	return ledger.Money{Value: v, Currency: d.Currency}, nil
}

func parseDate(s string) (ledger.Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return ledger.Date{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", s, err)
	}
	return ledger.DateOf(t), nil
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:          string(tx.ID),
		Kind:        string(tx.Kind),
		Amount:      toMoneyDTO(tx.Amount),
		OccurredOn:  tx.OccurredOn.String(),
		Account:     string(tx.Account),
		Category:    tx.Category,
		Subcategory: tx.Subcategory,
		Description: tx.Description,
		SeriesID:    string(tx.SeriesID),
		CreatedAt:   tx.CreatedAt.Format(time.RFC3339),
	}
	if tx.TargetAccount != "" {
		dto.TargetAccount = string(tx.TargetAccount)
	}
	if tx.TargetAmount != nil {
		m := toMoneyDTO(*tx.TargetAmount)
		dto.TargetAmount = &m
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func fromTransactionRequest(req TransactionRequest) (ledger.Transaction, error) {
	amount, err := parseMoney(req.Amount)
	if err != nil {
		return ledger.Transaction{}, err
	}
	on, err := parseDate(req.OccurredOn)
	if err != nil {
		return ledger.Transaction{}, err
	}
	return ledger.Transaction{
		ID:          ledger.TransactionID(req.ID),
		Kind:        ledger.TransactionKind(req.Kind),
		Amount:      amount,
		OccurredOn:  on,
		Account:     ledger.AccountID(req.Account),
		Category:    req.Category,
		Subcategory: req.Subcategory,
		Description: req.Description,
	}, nil
}

func toSeriesDTO(s ledger.RecurringSeries) SeriesDTO {
	return SeriesDTO{
		ID:        string(s.ID),
		Status:    string(s.Status),
		Frequency: string(s.Frequency),
		Interval:  s.Interval,
		StartDate: s.StartDate.String(),
		Kind:      string(s.Kind),
		Amount:    toMoneyDTO(s.Amount),
		Account:   string(s.Account),
		Category:  s.Category,
	}
}

func fromSeriesRequest(req SeriesRequest) (ledger.RecurringSeries, error) {
	amount, err := parseMoney(req.Amount)
	if err != nil {
		return ledger.RecurringSeries{}, err
	}
	start, err := parseDate(req.StartDate)
	if err != nil {
		return ledger.RecurringSeries{}, err
	}
	return ledger.RecurringSeries{
		ID:        ledger.SeriesID(req.ID),
		Frequency: ledger.Frequency(req.Frequency),
		Interval:  req.Interval,
		StartDate: start,
		Kind:      ledger.TransactionKind(req.Kind),
		Amount:    amount,
		Account:   ledger.AccountID(req.Account),
		Category:  req.Category,
	}, nil
}
