/*
query.go - The cached read path

PURPOSE:
  Summary and per-category totals, served from the query cache on hit and
  recomputed on miss.

DISPATCH RULE (mandatory):
  Day-precision filters (today, yesterday, this week, rolling windows,
  custom ranges) are answered by scanning transactions inside the exact
  date range. Month-aligned filters (whole month, whole year, all time)
  are answered from the aggregate index. Serving a day-range query from
  month buckets silently substitutes month totals for day totals; that
  defect shipped once and the split here exists to keep it impossible.
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Summary is the headline aggregate for a filter, in one target currency.
type Summary struct {
	Income  Money
	Expense Money
	Net     Money
	Count   int // contributing transactions, transfers excluded
}

// CategoryTotal is one row of the spending breakdown.
type CategoryTotal struct {
	Category     string // empty = uncategorized
	Total        Money
	Count        int
	LastActivity Date
}

// GetSummary computes income/expense/net over the filter range, converted
// into currency. Results are memoized per canonical filter key.
func (l *Ledger) GetSummary(f TimeFilter, currency string) (Summary, error) {
	today := l.today()
	key := "summary|" + f.CacheKey(today, currency, nil)

	if v, ok := l.cache.Get(key); ok {
		return v.(Summary), nil
	}
	gen := l.cache.Generation()

	from, to := f.Resolve(today)
	var (
		sum Summary
		err error
	)
	if f.DayPrecision() {
		sum, err = l.summaryByScan(from, to, currency)
	} else {
		sum, err = l.summaryByIndex(from, to, currency, today)
	}
	if err != nil {
		return Summary{}, err
	}

	l.cache.Set(key, sum, gen)
	return sum, nil
}

func (l *Ledger) summaryByScan(from, to Date, currency string) (Summary, error) {
	sum := Summary{
		Income:  Money{Value: decimal.Zero, Currency: currency},
		Expense: Money{Value: decimal.Zero, Currency: currency},
	}
	for _, tx := range l.TransactionsBetween(from, to) {
		if tx.IsTransfer() {
			continue
		}
		v, err := l.conv.Convert(tx.Amount.Value, tx.Amount.Currency, currency, tx.OccurredOn)
		if err != nil {
			return Summary{}, err
		}
		switch tx.Kind {
		case KindIncome:
			sum.Income.Value = sum.Income.Value.Add(v)
		case KindExpense:
			sum.Expense.Value = sum.Expense.Value.Add(v)
		}
		sum.Count++
	}
	sum.Net = Money{Value: sum.Income.Value.Sub(sum.Expense.Value), Currency: currency}
	return sum, nil
}

func (l *Ledger) summaryByIndex(from, to Date, currency string, today Date) (Summary, error) {
	sum := Summary{
		Income:  Money{Value: decimal.Zero, Currency: currency},
		Expense: Money{Value: decimal.Zero, Currency: currency},
	}
	for k, t := range l.index.SumRange(from, to) {
		// Bucket totals span a month; the bucket's last activity date is
		// the conversion reference.
		v, err := l.conv.Convert(t.Sum, k.Currency, currency, t.Last)
		if err != nil {
			return Summary{}, err
		}
		switch k.Kind {
		case KindIncome:
			sum.Income.Value = sum.Income.Value.Add(v)
		case KindExpense:
			sum.Expense.Value = sum.Expense.Value.Add(v)
		}
		sum.Count += t.Count
	}
	sum.Net = Money{Value: sum.Income.Value.Sub(sum.Expense.Value), Currency: currency}
	return sum, nil
}

// GetCategoryTotals computes the expense breakdown per category over the
// filter range, converted into currency. An empty categories slice means
// all categories; otherwise only the named ones are reported.
func (l *Ledger) GetCategoryTotals(f TimeFilter, currency string, categories []string) ([]CategoryTotal, error) {
	today := l.today()
	key := "categories|" + f.CacheKey(today, currency, categories)

	if v, ok := l.cache.Get(key); ok {
		return v.([]CategoryTotal), nil
	}
	gen := l.cache.Generation()

	scope := map[string]bool{}
	for _, c := range categories {
		scope[c] = true
	}
	inScope := func(cat string) bool { return len(scope) == 0 || scope[cat] }

	from, to := f.Resolve(today)
	rows := map[string]*CategoryTotal{}

	if f.DayPrecision() {
		for _, tx := range l.TransactionsBetween(from, to) {
			if tx.Kind != KindExpense || !inScope(tx.Category) {
				continue
			}
			v, err := l.conv.Convert(tx.Amount.Value, tx.Amount.Currency, currency, tx.OccurredOn)
			if err != nil {
				return nil, err
			}
			accumulate(rows, tx.Category, currency, v, 1, tx.OccurredOn)
		}
	} else {
		for k, t := range l.index.SumRange(from, to) {
			if k.Kind != KindExpense || !inScope(k.Category) {
				continue
			}
			v, err := l.conv.Convert(t.Sum, k.Currency, currency, t.Last)
			if err != nil {
				return nil, err
			}
			accumulate(rows, k.Category, currency, v, t.Count, t.Last)
		}
	}

	out := make([]CategoryTotal, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Total.Value.Equal(out[j].Total.Value) {
			return out[i].Total.Value.GreaterThan(out[j].Total.Value)
		}
		return out[i].Category < out[j].Category
	})

	l.cache.Set(key, out, gen)
	return out, nil
}

func accumulate(rows map[string]*CategoryTotal, category, currency string, v decimal.Decimal, count int, last Date) {
	row, ok := rows[category]
	if !ok {
		row = &CategoryTotal{Category: category, Total: Money{Value: decimal.Zero, Currency: currency}}
		rows[category] = row
	}
	row.Total.Value = row.Total.Value.Add(v)
	row.Count += count
	if last.After(row.LastActivity) {
		row.LastActivity = last
	}
}
