package ledger_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// sliceSource is an in-memory TxSource over a fixed transaction slice.
type sliceSource struct {
	txs []ledger.Transaction
}

func (s *sliceSource) TransactionsBetween(from, to ledger.Date) []ledger.Transaction {
	var out []ledger.Transaction
	for _, tx := range s.txs {
		if !from.IsZero() && tx.OccurredOn.Before(from) {
			continue
		}
		if tx.OccurredOn.BeforeOrEqual(to) {
			out = append(out, tx)
		}
	}
	return out
}

func (s *sliceSource) Bounds() (ledger.Date, ledger.Date, bool) {
	if len(s.txs) == 0 {
		return ledger.Date{}, ledger.Date{}, false
	}
	earliest, latest := s.txs[0].OccurredOn, s.txs[0].OccurredOn
	for _, tx := range s.txs[1:] {
		if tx.OccurredOn.Before(earliest) {
			earliest = tx.OccurredOn
		}
		if tx.OccurredOn.After(latest) {
			latest = tx.OccurredOn
		}
	}
	return earliest, latest, true
}

func catExpense(category string, amount int64, on ledger.Date) ledger.Transaction {
	return ledger.Transaction{
		ID:         ledger.TransactionID("tx-" + category + "-" + on.String()),
		Kind:       ledger.KindExpense,
		Amount:     ledger.NewMoneyFromInt(amount, "USD"),
		OccurredOn: on,
		Category:   category,
	}
}

// =============================================================================
// BUCKET CONTENT
// =============================================================================

func TestAggregateIndex_MonthBuckets(t *testing.T) {
	// GIVEN: Two food expenses and one income in January
	// WHEN: The January period loads
	// THEN: Buckets group by (kind, category, currency) with sum, count and
	//       the latest contributing date

	jan5 := ledger.NewDate(2025, time.January, 5)
	jan20 := ledger.NewDate(2025, time.January, 20)

	src := &sliceSource{txs: []ledger.Transaction{
		catExpense("food", 30, jan5),
		catExpense("food", 20, jan20),
		{
			ID: "inc", Kind: ledger.KindIncome,
			Amount:     ledger.NewMoneyFromInt(1000, "USD"),
			OccurredOn: jan5,
		},
	}}
	ix := ledger.NewAggregateIndex(src)

	buckets := ix.Month(2025, time.January)
	require.Len(t, buckets, 2)

	food := buckets[ledger.BucketKey{Kind: ledger.KindExpense, Category: "food", Currency: "USD"}]
	assert.Equal(t, "50", food.Sum.String())
	assert.Equal(t, 2, food.Count)
	assert.Equal(t, jan20.String(), food.Last.String())

	inc := buckets[ledger.BucketKey{Kind: ledger.KindIncome, Category: "", Currency: "USD"}]
	assert.Equal(t, "1000", inc.Sum.String())
	assert.Equal(t, 1, inc.Count)
}

func TestAggregateIndex_TransfersExcluded(t *testing.T) {
	jan := ledger.NewDate(2025, time.January, 10)
	src := &sliceSource{txs: []ledger.Transaction{
		{
			ID: "tf", Kind: ledger.KindTransfer,
			Amount:     ledger.NewMoneyFromInt(500, "USD"),
			OccurredOn: jan,
			Account:    "a", TargetAccount: "b",
		},
		catExpense("food", 10, jan),
	}}
	ix := ledger.NewAggregateIndex(src)

	buckets := ix.Month(2025, time.January)
	assert.Len(t, buckets, 1, "internal movement is neither income nor spending")
}

func TestAggregateIndex_SumRangeSpansMonths(t *testing.T) {
	src := &sliceSource{txs: []ledger.Transaction{
		catExpense("food", 10, ledger.NewDate(2025, time.January, 5)),
		catExpense("food", 20, ledger.NewDate(2025, time.February, 5)),
		catExpense("food", 40, ledger.NewDate(2025, time.March, 5)),
	}}
	ix := ledger.NewAggregateIndex(src)

	totals := ix.SumRange(ledger.NewDate(2025, time.January, 1), ledger.NewDate(2025, time.February, 28))
	food := totals[ledger.BucketKey{Kind: ledger.KindExpense, Category: "food", Currency: "USD"}]
	assert.Equal(t, "30", food.Sum.String())
	assert.Equal(t, 2, food.Count)
}

func TestAggregateIndex_SumRange_ZeroFromUsesBounds(t *testing.T) {
	// All-time resolves with a zero From; the index starts from the earliest
	// transaction instead of iterating from year zero.
	src := &sliceSource{txs: []ledger.Transaction{
		catExpense("food", 10, ledger.NewDate(2024, time.November, 5)),
		catExpense("food", 20, ledger.NewDate(2025, time.January, 5)),
	}}
	ix := ledger.NewAggregateIndex(src)

	totals := ix.SumRange(ledger.Date{}, ledger.NewDate(2025, time.January, 31))
	food := totals[ledger.BucketKey{Kind: ledger.KindExpense, Category: "food", Currency: "USD"}]
	assert.Equal(t, "30", food.Sum.String())
}

// =============================================================================
// RESIDENCY AND INVALIDATION
// =============================================================================

func TestAggregateIndex_LazyLoadAndEviction(t *testing.T) {
	// GIVEN: More months touched than the residency cap
	// WHEN: Each month loads lazily
	// THEN: Resident periods never exceed the cap

	src := &sliceSource{}
	ix := ledger.NewAggregateIndex(src)

	assert.Equal(t, 0, ix.Resident(), "nothing loads before first touch")

	for m := 0; m < 30; m++ {
		ix.Month(2020+m/12, time.Month(m%12+1))
	}
	assert.Equal(t, 24, ix.Resident(), "eviction keeps residency at the cap")
}

func TestAggregateIndex_InvalidateDropsOnlyTouchedPeriods(t *testing.T) {
	jan := ledger.NewDate(2025, time.January, 5)
	feb := ledger.NewDate(2025, time.February, 5)
	src := &sliceSource{txs: []ledger.Transaction{
		catExpense("food", 10, jan),
		catExpense("food", 20, feb),
	}}
	ix := ledger.NewAggregateIndex(src)
	ix.Month(2025, time.January)
	ix.Month(2025, time.February)
	require.Equal(t, 2, ix.Resident())

	ix.Invalidate(jan)
	assert.Equal(t, 1, ix.Resident())

	ix.Invalidate()
	assert.Equal(t, 0, ix.Resident(), "no dates means drop everything")
}

func TestAggregateIndex_RebuildAfterInvalidateSeesNewData(t *testing.T) {
	jan := ledger.NewDate(2025, time.January, 5)
	src := &sliceSource{txs: []ledger.Transaction{catExpense("food", 10, jan)}}
	ix := ledger.NewAggregateIndex(src)

	before := ix.Month(2025, time.January)
	require.Equal(t, "10", before[ledger.BucketKey{Kind: ledger.KindExpense, Category: "food", Currency: "USD"}].Sum.String())

	src.txs = append(src.txs, catExpense("food", 5, jan.AddDays(1)))
	ix.Invalidate(jan)

	after := ix.Month(2025, time.January)
	assert.Equal(t, "15", after[ledger.BucketKey{Kind: ledger.KindExpense, Category: "food", Currency: "USD"}].Sum.String())
}
