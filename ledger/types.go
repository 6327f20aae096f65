/*
Package ledger is the transaction ledger core.

PURPOSE:
  This package owns the authoritative collections (transactions, accounts,
  categories, recurring series) and everything derived from them: account
  balances, per-category aggregates, and memoized query results. All
  mutations enter through the Ledger and run one pipeline:

    validate -> mutate -> rebalance -> invalidate -> persist -> notify

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: a decimal amount paired with its currency
  - Date: a calendar day with no time component (ledger granularity)
  - Transaction: an immutable-by-replacement ledger record
  - Account, RecurringSeries, Occurrence: the other owned collections

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64
  2. Explicit roles: balance deltas always name Source or Destination
  3. Derived state is disposable: balances, aggregates and cached queries
     are rebuildable from the collections at any time

SEE ALSO:
  - store.go:     the Ledger root and its mutation pipeline
  - balance.go:   derived per-account balances
  - recurring.go: occurrence generation
*/
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Decimal amount with currency
// =============================================================================

type Money struct {
	Value    decimal.Decimal
	Currency string
}

func NewMoneyFromInt(value int64, currency string) Money {
	return Money{Value: decimal.NewFromInt(value), Currency: currency}
}

func (m Money) Add(b Money) Money      { return Money{Value: m.Value.Add(b.Value), Currency: m.Currency} }
func (m Money) Sub(b Money) Money      { return Money{Value: m.Value.Sub(b.Value), Currency: m.Currency} }
func (m Money) Neg() Money             { return Money{Value: m.Value.Neg(), Currency: m.Currency} }
func (m Money) IsZero() bool           { return m.Value.IsZero() }
func (m Money) IsPositive() bool       { return m.Value.IsPositive() }
func (m Money) IsNegative() bool       { return m.Value.IsNegative() }
func (m Money) Equal(b Money) bool     { return m.Currency == b.Currency && m.Value.Equal(b.Value) }
func (m Money) String() string         { return m.Value.String() + " " + m.Currency }

// =============================================================================
// DATE - Calendar day, no time component
// =============================================================================

// Date is the ledger's time unit. Transactions occur on a day; ordering
// within a day falls back to creation time, then id.
type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func (d Date) normalize() time.Time {
	return time.Date(d.Time.Year(), d.Time.Month(), d.Time.Day(), 0, 0, 0, 0, time.UTC)
}

func (d Date) Before(o Date) bool        { return d.normalize().Before(o.normalize()) }
func (d Date) After(o Date) bool         { return d.normalize().After(o.normalize()) }
func (d Date) Equal(o Date) bool         { return d.normalize().Equal(o.normalize()) }
func (d Date) BeforeOrEqual(o Date) bool { return d.Before(o) || d.Equal(o) }
func (d Date) AfterOrEqual(o Date) bool  { return d.After(o) || d.Equal(o) }
func (d Date) IsZero() bool              { return d.Time.IsZero() }

func (d Date) AddDays(n int) Date   { return Date{Time: d.normalize().AddDate(0, 0, n)} }
func (d Date) AddMonths(n int) Date { return Date{Time: d.normalize().AddDate(0, n, 0)} }
func (d Date) AddYears(n int) Date  { return Date{Time: d.normalize().AddDate(n, 0, 0)} }

func (d Date) Year() int         { return d.Time.Year() }
func (d Date) Month() time.Month { return d.Time.Month() }
func (d Date) Day() int          { return d.Time.Day() }

func (d Date) String() string { return d.normalize().Format("2006-01-02") }

// DaysIn returns the number of days in the month containing d.
func (d Date) DaysIn() int {
	return time.Date(d.Year(), d.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func StartOfMonth(year int, month time.Month) Date { return NewDate(year, month, 1) }

func EndOfMonth(year int, month time.Month) Date {
	return Date{Time: time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)}
}

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TransactionID string
type AccountID string
type SeriesID string

func newTransactionID() TransactionID { return TransactionID(uuid.NewString()) }
func newSeriesID() SeriesID           { return SeriesID(uuid.NewString()) }

// NewAccountID returns a fresh random account id.
func NewAccountID() AccountID { return AccountID(uuid.NewString()) }

// =============================================================================
// TRANSACTION
// =============================================================================

type TransactionKind string

const (
	KindExpense  TransactionKind = "expense"
	KindIncome   TransactionKind = "income"
	KindTransfer TransactionKind = "internal_transfer"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindExpense, KindIncome, KindTransfer:
		return true
	}
	return false
}

// Transaction is immutable-by-replacement: Update swaps the whole record,
// it never edits fields in place.
type Transaction struct {
	ID   TransactionID
	Kind TransactionKind

	// Amount is always positive; the kind and account role decide the sign.
	Amount     Money
	OccurredOn Date

	// Account is the primary account: the debited account for expenses and
	// transfers, the credited account for income. Empty means the
	// transaction has not been assigned to an account yet (e.g. a recurring
	// charge on a series without an account).
	Account AccountID

	// Transfer-only fields. TargetAmount may differ from Amount when the
	// two accounts use different currencies.
	TargetAccount AccountID
	TargetAmount  *Money

	Category    string // empty = uncategorized
	Subcategory string
	Description string

	// SeriesID links a materialized recurring occurrence to its series.
	SeriesID SeriesID

	// CreatedAt is the stable tiebreaker for same-date ordering.
	CreatedAt time.Time
}

// IsTransfer reports whether the record moves money between two accounts.
func (t Transaction) IsTransfer() bool { return t.Kind == KindTransfer }

// targetMoney returns the credited amount on the destination side.
func (t Transaction) targetMoney() Money {
	if t.TargetAmount != nil {
		return *t.TargetAmount
	}
	return t.Amount
}

// =============================================================================
// ACCOUNT
// =============================================================================

// Account holds no live balance. Balances are derived state owned by the
// BalanceBook; InitialBalance only seeds accounts that do not derive their
// balance purely from history.
type Account struct {
	ID       AccountID
	Name     string
	Currency string

	InitialBalance decimal.Decimal

	// DerivedFromHistory means the balance is the pure sum of transaction
	// effects and InitialBalance is ignored (seeded as zero).
	DerivedFromHistory bool

	CreatedAt time.Time
}

// =============================================================================
// RECURRING SERIES
// =============================================================================

type Frequency string

const (
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
	FreqYearly  Frequency = "yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
		return true
	}
	return false
}

type SeriesStatus string

const (
	SeriesActive  SeriesStatus = "active"
	SeriesPaused  SeriesStatus = "paused"
	SeriesStopped SeriesStatus = "stopped"
)

type RecurringSeries struct {
	ID        SeriesID
	Frequency Frequency
	Interval  int // every N frequency steps, minimum 1
	StartDate Date
	Amount    Money
	Kind      TransactionKind
	Category  string
	Account   AccountID // optional; empty = not yet assigned
	Status    SeriesStatus
	CreatedAt time.Time
}

// =============================================================================
// OCCURRENCE - Materialization link table
// =============================================================================

// Occurrence records that a series date has been materialized. Its presence
// is the sole source of truth for "already generated": the generator skips
// any date that has an occurrence, which is what makes repeated generation
// idempotent. At most one occurrence exists per (series, date). Deleting
// the linked transaction deletes the occurrence atomically with it.
type Occurrence struct {
	SeriesID    SeriesID
	On          Date
	Transaction TransactionID
}

// ScheduledCharge is one not-yet-materialized occurrence produced by the
// generator: a date and the amount due on it.
type ScheduledCharge struct {
	On     Date
	Amount Money
}
