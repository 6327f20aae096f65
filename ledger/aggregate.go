/*
aggregate.go - Precomputed per-category totals

PURPOSE:
  Month-grained running totals per (kind, category, currency) bucket, so
  whole-month/year/all-time queries are O(buckets) instead of O(n) scans.
  Buckets are purely derived and disposable: every period is rebuilt from
  the transaction collection on demand.

PRECISION BOUNDARY:
  A bucket's total spans its whole month. Day-granular filters ("last 30
  days", "this week") are answered by the scan path in query.go, never from
  buckets - serving month totals in place of day-range totals is a shipped
  defect this design exists to prevent.

MEMORY:
  Periods load lazily and evict least-recently-used beyond a fixed cap, so
  a decade of history does not keep a decade of buckets resident.
*/
package ledger

import (
	"container/list"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const defaultMaxPeriods = 24

// TxSource feeds the index. The ledger implements it; tests may use any
// in-memory stand-in.
type TxSource interface {
	// TransactionsBetween returns transactions with from <= OccurredOn <= to.
	// A zero from means unbounded below.
	TransactionsBetween(from, to Date) []Transaction

	// Bounds returns the earliest and latest transaction dates, or ok=false
	// for an empty ledger.
	Bounds() (earliest, latest Date, ok bool)
}

// BucketKey identifies one aggregate bucket within a period.
type BucketKey struct {
	Kind     TransactionKind
	Category string // empty = uncategorized
	Currency string
}

// BucketTotal is one bucket's running state: the summed amount, how many
// transactions contributed, and the latest contributing date.
type BucketTotal struct {
	Sum   decimal.Decimal
	Count int
	Last  Date
}

func (t BucketTotal) merge(o BucketTotal) BucketTotal {
	t.Sum = t.Sum.Add(o.Sum)
	t.Count += o.Count
	if o.Last.After(t.Last) {
		t.Last = o.Last
	}
	return t
}

type monthKey struct {
	Year  int
	Month time.Month
}

type periodBuckets struct {
	key    monthKey
	totals map[BucketKey]BucketTotal
}

type AggregateIndex struct {
	source TxSource

	mu         sync.Mutex
	maxPeriods int
	periods    map[monthKey]*list.Element
	lru        *list.List
}

func NewAggregateIndex(source TxSource) *AggregateIndex {
	return &AggregateIndex{
		source:     source,
		maxPeriods: defaultMaxPeriods,
		periods:    make(map[monthKey]*list.Element),
		lru:        list.New(),
	}
}

// Month returns the bucket totals for one calendar month, loading the
// period on first touch and marking it most recently used.
func (ix *AggregateIndex) Month(year int, month time.Month) map[BucketKey]BucketTotal {
	pb := ix.period(monthKey{Year: year, Month: month})
	out := make(map[BucketKey]BucketTotal, len(pb.totals))
	for k, v := range pb.totals {
		out[k] = v
	}
	return out
}

// SumRange accumulates bucket totals across the whole months covering
// [from, to]. Callers must only use it for month-aligned filters; the
// dispatch rule in query.go guarantees that.
func (ix *AggregateIndex) SumRange(from, to Date) map[BucketKey]BucketTotal {
	if from.IsZero() {
		earliest, _, ok := ix.source.Bounds()
		if !ok {
			return map[BucketKey]BucketTotal{}
		}
		from = earliest
	}

	out := make(map[BucketKey]BucketTotal)
	cursor := StartOfMonth(from.Year(), from.Month())
	for cursor.BeforeOrEqual(to) {
		for k, v := range ix.Month(cursor.Year(), cursor.Month()) {
			out[k] = out[k].merge(v)
		}
		cursor = cursor.AddMonths(1)
	}
	return out
}

// Invalidate drops the periods containing the given dates, or every period
// when called with none. Called from the event pipeline only.
func (ix *AggregateIndex) Invalidate(dates ...Date) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if len(dates) == 0 {
		ix.periods = make(map[monthKey]*list.Element)
		ix.lru.Init()
		return
	}
	for _, d := range dates {
		k := monthKey{Year: d.Year(), Month: d.Month()}
		if elem, ok := ix.periods[k]; ok {
			delete(ix.periods, k)
			ix.lru.Remove(elem)
		}
	}
}

// Resident returns how many periods are currently loaded.
func (ix *AggregateIndex) Resident() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.periods)
}

func (ix *AggregateIndex) period(k monthKey) *periodBuckets {
	ix.mu.Lock()
	if elem, ok := ix.periods[k]; ok {
		ix.lru.MoveToFront(elem)
		pb := elem.Value.(*periodBuckets)
		ix.mu.Unlock()
		return pb
	}
	ix.mu.Unlock()

	// Build outside the lock; the source takes its own read lock.
	pb := ix.build(k)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if elem, ok := ix.periods[k]; ok {
		// Lost a race with a concurrent load of the same period.
		ix.lru.MoveToFront(elem)
		return elem.Value.(*periodBuckets)
	}
	elem := ix.lru.PushFront(pb)
	ix.periods[k] = elem
	if ix.lru.Len() > ix.maxPeriods {
		oldest := ix.lru.Back()
		if oldest != nil {
			delete(ix.periods, oldest.Value.(*periodBuckets).key)
			ix.lru.Remove(oldest)
		}
	}
	return pb
}

func (ix *AggregateIndex) build(k monthKey) *periodBuckets {
	from := StartOfMonth(k.Year, k.Month)
	to := EndOfMonth(k.Year, k.Month)

	pb := &periodBuckets{
		key:    k,
		totals: make(map[BucketKey]BucketTotal),
	}
	for _, tx := range ix.source.TransactionsBetween(from, to) {
		if tx.IsTransfer() {
			// Internal movement: not income, not spending.
			continue
		}
		bk := BucketKey{Kind: tx.Kind, Category: tx.Category, Currency: tx.Amount.Currency}
		pb.totals[bk] = pb.totals[bk].merge(BucketTotal{Sum: tx.Amount.Value, Count: 1, Last: tx.OccurredOn})
	}
	return pb
}
