package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// feb1Now pins "today" to Feb 1 2025 for window arithmetic.
var feb1Now = time.Date(2025, time.February, 1, 9, 0, 0, 0, time.UTC)

func openQueryLedger(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(context.Background(), memory.New(),
		ledger.WithClock(func() time.Time { return feb1Now }))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ctx := context.Background()
	_, err = l.AddAccount(ctx, ledger.Account{
		ID: "main", Name: "Main", Currency: "USD",
		InitialBalance: decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	for _, c := range []string{"food", "rent", "fun"} {
		require.NoError(t, l.AddCategory(ctx, c))
	}
	return l
}

func addExpense(t *testing.T, l *ledger.Ledger, amount int64, on ledger.Date, category string) {
	t.Helper()
	_, err := l.Add(context.Background(), ledger.Transaction{
		Kind:       ledger.KindExpense,
		Amount:     ledger.NewMoneyFromInt(amount, "USD"),
		OccurredOn: on,
		Account:    "main",
		Category:   category,
	})
	require.NoError(t, err)
}

func addIncome(t *testing.T, l *ledger.Ledger, amount int64, on ledger.Date) {
	t.Helper()
	_, err := l.Add(context.Background(), ledger.Transaction{
		Kind:       ledger.KindIncome,
		Amount:     ledger.NewMoneyFromInt(amount, "USD"),
		OccurredOn: on,
		Account:    "main",
	})
	require.NoError(t, err)
}

// =============================================================================
// DATE-PRECISION DISPATCH
// =============================================================================

func TestGetSummary_RollingWindowUsesExactDays(t *testing.T) {
	// GIVEN: Expenses on Jan 1 (999), Jan 2 (50) and Jan 25 (30); today is Feb 1
	// WHEN: Querying last-30-days vs last-month
	// THEN: The rolling window covers Jan 2..Feb 1 and totals 80; the whole
	//       of January totals 1079. Serving the window from month buckets
	//       would wrongly report 1079 for both.

	l := openQueryLedger(t)
	addExpense(t, l, 999, ledger.NewDate(2025, time.January, 1), "rent")
	addExpense(t, l, 50, ledger.NewDate(2025, time.January, 2), "food")
	addExpense(t, l, 30, ledger.NewDate(2025, time.January, 25), "food")

	rolling, err := l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetLast30Days}, "USD")
	require.NoError(t, err)
	assert.Equal(t, "80", rolling.Expense.Value.String())
	assert.Equal(t, 2, rolling.Count)

	wholeMonth, err := l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetLastMonth}, "USD")
	require.NoError(t, err)
	assert.Equal(t, "1079", wholeMonth.Expense.Value.String())
	assert.Equal(t, 3, wholeMonth.Count)
}

func TestGetSummary_IncomeExpenseNet(t *testing.T) {
	l := openQueryLedger(t)
	addIncome(t, l, 3000, ledger.NewDate(2025, time.January, 5))
	addExpense(t, l, 1200, ledger.NewDate(2025, time.January, 10), "rent")
	addExpense(t, l, 300, ledger.NewDate(2025, time.January, 12), "food")

	sum, err := l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetAllTime}, "USD")
	require.NoError(t, err)
	assert.Equal(t, "3000", sum.Income.Value.String())
	assert.Equal(t, "1500", sum.Expense.Value.String())
	assert.Equal(t, "1500", sum.Net.Value.String())
	assert.Equal(t, 3, sum.Count)
}

func TestGetSummary_TransfersNeverCount(t *testing.T) {
	l := openQueryLedger(t)
	ctx := context.Background()
	_, err := l.AddAccount(ctx, ledger.Account{ID: "side", Name: "Side", Currency: "USD"})
	require.NoError(t, err)

	addIncome(t, l, 100, ledger.NewDate(2025, time.January, 5))
	_, err = l.Transfer(ctx, "main", "side", ledger.NewMoneyFromInt(40, "USD"), nil,
		ledger.NewDate(2025, time.January, 6), "")
	require.NoError(t, err)

	for _, preset := range []ledger.Preset{ledger.PresetAllTime, ledger.PresetLast30Days} {
		sum, err := l.GetSummary(ledger.TimeFilter{Preset: preset}, "USD")
		require.NoError(t, err)
		assert.Equal(t, "100", sum.Income.Value.String(), string(preset))
		assert.Equal(t, "0", sum.Expense.Value.String(), string(preset))
		assert.Equal(t, 1, sum.Count, string(preset))
	}
}

// =============================================================================
// CACHE COHERENCE
// =============================================================================

func TestGetSummary_CacheInvalidatedByMutation(t *testing.T) {
	// GIVEN: A summary answered (and cached) for this month
	// WHEN: A new expense lands in the same window
	// THEN: The next query reflects it; no stale entry survives the mutation

	l := openQueryLedger(t)
	addExpense(t, l, 100, ledger.NewDate(2025, time.February, 1), "food")

	first, err := l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetThisMonth}, "USD")
	require.NoError(t, err)
	require.Equal(t, "100", first.Expense.Value.String())

	addExpense(t, l, 25, ledger.NewDate(2025, time.February, 1), "food")

	second, err := l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetThisMonth}, "USD")
	require.NoError(t, err)
	assert.Equal(t, "125", second.Expense.Value.String())
}

func TestGetSummary_UpdateAndDeleteInvalidate(t *testing.T) {
	l := openQueryLedger(t)
	ctx := context.Background()

	tx, err := l.Add(ctx, ledger.Transaction{
		Kind:       ledger.KindExpense,
		Amount:     ledger.NewMoneyFromInt(60, "USD"),
		OccurredOn: ledger.NewDate(2025, time.January, 20),
		Account:    "main",
		Category:   "fun",
	})
	require.NoError(t, err)

	sum, err := l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetLastMonth}, "USD")
	require.NoError(t, err)
	require.Equal(t, "60", sum.Expense.Value.String())

	smaller := tx
	smaller.Amount = ledger.NewMoneyFromInt(45, "USD")
	_, err = l.Update(ctx, tx.ID, smaller)
	require.NoError(t, err)

	sum, err = l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetLastMonth}, "USD")
	require.NoError(t, err)
	assert.Equal(t, "45", sum.Expense.Value.String())

	require.NoError(t, l.Delete(ctx, tx.ID))
	sum, err = l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetLastMonth}, "USD")
	require.NoError(t, err)
	assert.Equal(t, "0", sum.Expense.Value.String())
}

// =============================================================================
// CATEGORY TOTALS
// =============================================================================

func TestGetCategoryTotals_SortedAndScoped(t *testing.T) {
	// GIVEN: Spending across three categories plus income
	// WHEN: Querying totals, then narrowing to named categories
	// THEN: Rows are expense-only, sorted by total descending, and the
	//       scope filter drops everything else

	l := openQueryLedger(t)
	addExpense(t, l, 1200, ledger.NewDate(2025, time.January, 3), "rent")
	addExpense(t, l, 80, ledger.NewDate(2025, time.January, 10), "food")
	addExpense(t, l, 120, ledger.NewDate(2025, time.January, 15), "food")
	addExpense(t, l, 40, ledger.NewDate(2025, time.January, 20), "fun")
	addIncome(t, l, 5000, ledger.NewDate(2025, time.January, 5))

	rows, err := l.GetCategoryTotals(ledger.TimeFilter{Preset: ledger.PresetLastMonth}, "USD", nil)
	require.NoError(t, err)
	require.Len(t, rows, 3, "income never appears in the spending breakdown")

	assert.Equal(t, "rent", rows[0].Category)
	assert.Equal(t, "1200", rows[0].Total.Value.String())
	assert.Equal(t, "food", rows[1].Category)
	assert.Equal(t, "200", rows[1].Total.Value.String())
	assert.Equal(t, 2, rows[1].Count)
	assert.Equal(t, "2025-01-15", rows[1].LastActivity.String())
	assert.Equal(t, "fun", rows[2].Category)

	scoped, err := l.GetCategoryTotals(ledger.TimeFilter{Preset: ledger.PresetLastMonth}, "USD", []string{"food"})
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "food", scoped[0].Category)
}

func TestGetCategoryTotals_DayWindowVsMonthBuckets(t *testing.T) {
	// Same dispatch rule as summaries: the rolling window must not absorb
	// the whole month's bucket.
	l := openQueryLedger(t)
	addExpense(t, l, 500, ledger.NewDate(2025, time.January, 1), "food")
	addExpense(t, l, 20, ledger.NewDate(2025, time.January, 25), "food")

	rolling, err := l.GetCategoryTotals(ledger.TimeFilter{Preset: ledger.PresetLast30Days}, "USD", nil)
	require.NoError(t, err)
	require.Len(t, rolling, 1)
	assert.Equal(t, "20", rolling[0].Total.Value.String())

	month, err := l.GetCategoryTotals(ledger.TimeFilter{Preset: ledger.PresetLastMonth}, "USD", nil)
	require.NoError(t, err)
	require.Len(t, month, 1)
	assert.Equal(t, "520", month[0].Total.Value.String())
}

func TestGetCategoryTotals_UncategorizedBucket(t *testing.T) {
	l := openQueryLedger(t)
	addExpense(t, l, 10, ledger.NewDate(2025, time.January, 8), "")

	rows, err := l.GetCategoryTotals(ledger.TimeFilter{Preset: ledger.PresetAllTime}, "USD", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Empty(t, rows[0].Category)
	assert.Equal(t, "10", rows[0].Total.Value.String())
}

// =============================================================================
// CURRENCY CONVERSION IN REPORTS
// =============================================================================

func TestGetSummary_ConvertsIntoRequestedCurrency(t *testing.T) {
	rates := ledger.RateTable{Rates: map[string]decimal.Decimal{
		"USD/EUR": decimal.RequireFromString("0.5"),
	}}
	l, err := ledger.Open(context.Background(), memory.New(),
		ledger.WithClock(func() time.Time { return feb1Now }),
		ledger.WithConverter(rates))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	ctx := context.Background()
	_, err = l.AddAccount(ctx, ledger.Account{ID: "main", Name: "Main", Currency: "USD"})
	require.NoError(t, err)
	addExpense(t, l, 100, ledger.NewDate(2025, time.January, 10), "")

	sum, err := l.GetSummary(ledger.TimeFilter{Preset: ledger.PresetAllTime}, "EUR")
	require.NoError(t, err)
	assert.Equal(t, "50", sum.Expense.Value.String())
	assert.Equal(t, "EUR", sum.Expense.Currency)
}
