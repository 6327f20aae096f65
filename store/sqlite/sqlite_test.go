package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/ledger-core/ledger"
	"github.com/warp/ledger-core/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleSnapshot() ledger.Snapshot {
	target := ledger.Money{Value: decimal.RequireFromString("90.50"), Currency: "EUR"}
	created := time.Date(2025, time.June, 1, 10, 30, 0, 0, time.UTC)
	return ledger.Snapshot{
		Transactions: []ledger.Transaction{
			{
				ID:          "tx-1",
				Kind:        ledger.KindExpense,
				Amount:      ledger.Money{Value: decimal.RequireFromString("42.35"), Currency: "USD"},
				OccurredOn:  ledger.NewDate(2025, time.May, 14),
				Account:     "checking",
				Category:    "food",
				Description: "groceries",
				SeriesID:    "ser-1",
				CreatedAt:   created,
			},
			{
				ID:            "tx-2",
				Kind:          ledger.KindTransfer,
				Amount:        ledger.Money{Value: decimal.NewFromInt(100), Currency: "USD"},
				OccurredOn:    ledger.NewDate(2025, time.May, 20),
				Account:       "checking",
				TargetAccount: "savings",
				TargetAmount:  &target,
				CreatedAt:     created,
			},
		},
		Accounts: []ledger.Account{
			{
				ID: "checking", Name: "Checking", Currency: "USD",
				InitialBalance: decimal.RequireFromString("1000.01"),
				CreatedAt:      created,
			},
			{
				ID: "savings", Name: "Savings", Currency: "EUR",
				DerivedFromHistory: true,
				InitialBalance:     decimal.Zero,
				CreatedAt:          created,
			},
		},
		Categories: []string{"food", "rent"},
		Series: []ledger.RecurringSeries{
			{
				ID: "ser-1", Frequency: ledger.FreqMonthly, Interval: 2,
				StartDate: ledger.NewDate(2025, time.January, 31),
				Amount:    ledger.Money{Value: decimal.RequireFromString("42.35"), Currency: "USD"},
				Kind:      ledger.KindExpense,
				Category:  "food", Account: "checking",
				Status:    ledger.SeriesActive,
				CreatedAt: created,
			},
		},
		Occurrences: []ledger.Occurrence{
			{SeriesID: "ser-1", On: ledger.NewDate(2025, time.May, 14), Transaction: "tx-1"},
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	want := sampleSnapshot()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)

	require.Len(t, got.Transactions, 2)
	byID := map[ledger.TransactionID]ledger.Transaction{}
	for _, tx := range got.Transactions {
		byID[tx.ID] = tx
	}

	tx1 := byID["tx-1"]
	assert.Equal(t, ledger.KindExpense, tx1.Kind)
	assert.Equal(t, "42.35", tx1.Amount.Value.String(), "cents survive the round trip exactly")
	assert.Equal(t, "USD", tx1.Amount.Currency)
	assert.Equal(t, "2025-05-14", tx1.OccurredOn.String())
	assert.Equal(t, "groceries", tx1.Description)
	assert.Equal(t, ledger.SeriesID("ser-1"), tx1.SeriesID)
	assert.True(t, tx1.CreatedAt.Equal(want.Transactions[0].CreatedAt))

	tx2 := byID["tx-2"]
	require.NotNil(t, tx2.TargetAmount)
	assert.Equal(t, "90.5", tx2.TargetAmount.Value.String())
	assert.Equal(t, "EUR", tx2.TargetAmount.Currency)
	assert.Equal(t, ledger.AccountID("savings"), tx2.TargetAccount)

	require.Len(t, got.Accounts, 2)
	byAcct := map[ledger.AccountID]ledger.Account{}
	for _, a := range got.Accounts {
		byAcct[a.ID] = a
	}
	assert.Equal(t, "1000.01", byAcct["checking"].InitialBalance.String())
	assert.True(t, byAcct["savings"].DerivedFromHistory)

	assert.Equal(t, []string{"food", "rent"}, got.Categories)

	require.Len(t, got.Series, 1)
	assert.Equal(t, 2, got.Series[0].Interval)
	assert.Equal(t, "2025-01-31", got.Series[0].StartDate.String())
	assert.Equal(t, ledger.SeriesActive, got.Series[0].Status)

	require.Len(t, got.Occurrences, 1)
	assert.Equal(t, ledger.TransactionID("tx-1"), got.Occurrences[0].Transaction)
	assert.Equal(t, "2025-05-14", got.Occurrences[0].On.String())
}

func TestStore_SaveReplacesPreviousSnapshot(t *testing.T) {
	// GIVEN: A saved snapshot
	// WHEN: A smaller snapshot is saved over it
	// THEN: Nothing from the first save survives

	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleSnapshot()))

	small := ledger.Snapshot{Categories: []string{"only"}}
	require.NoError(t, store.Save(ctx, small))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Transactions)
	assert.Empty(t, got.Accounts)
	assert.Empty(t, got.Series)
	assert.Empty(t, got.Occurrences)
	assert.Equal(t, []string{"only"}, got.Categories)
}

func TestStore_LoadEmptyDatabase(t *testing.T) {
	store := newStore(t)
	got, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.Transactions)
	assert.Empty(t, got.Accounts)
	assert.Empty(t, got.Categories)
}
