/*
store.go - The Ledger root: single mutation API and pipeline

PURPOSE:
  The Ledger exclusively owns the transaction, account, category and
  recurring-series collections. Every external write enters here and runs
  one pipeline as a single atomic step:

    validate -> mutate -> rebalance -> invalidate -> persist -> notify

  Validation failures reject before any state change. Persistence failures
  after a successful in-memory mutation do NOT roll the mutation back: the
  in-memory state is authoritative, the failure is surfaced asynchronously
  and the save is retried on a background schedule.

CONCURRENCY:
  Single-writer semantics: mutations serialize on one lock and commit
  all-or-nothing before any reader can observe them. Reads proceed
  concurrently; a read racing a write sees the pre- or post-write state,
  never a torn one. Persistence and change notification run on background
  workers so no caller awaits I/O.

COLLABORATORS:
  Persister, Converter and Notifier are constructor-injected interfaces.
  The core does not know what format saves use or who listens to events.

SEE ALSO:
  - event.go:  the closed mutation event set this pipeline consumes
  - query.go:  the cached read path
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// Snapshot is the full persisted state: the four owned collections plus
// the materialization links.
type Snapshot struct {
	Transactions []Transaction
	Accounts     []Account
	Categories   []string
	Series       []RecurringSeries
	Occurrences  []Occurrence
}

// Persister saves and loads snapshots. Format and technology are opaque
// to the core.
type Persister interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Notifier receives every applied event, after commit, in order. The core
// does not care who listens.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NopNotifier discards events.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Event) error { return nil }

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	log      zerolog.Logger
	persist  Persister
	notifier Notifier
	conv     Converter
	now      func() time.Time

	horizonMonths int
	retryEvery    time.Duration
	onSaveError   func(*PersistenceError)

	mu         sync.RWMutex
	txs        []Transaction // ordered: OccurredOn desc, CreatedAt desc, ID asc
	accounts   map[AccountID]Account
	categories map[string]bool
	series     map[SeriesID]RecurringSeries
	occ        map[SeriesID]map[string]TransactionID
	closed     bool

	balances *BalanceBook
	index    *AggregateIndex
	cache    *QueryCache

	saveMu      sync.Mutex
	saveWake    chan struct{}
	needsRetry  bool
	lastSaveErr error

	notifyCh chan Event
	stop     chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Ledger)

func WithConverter(c Converter) Option          { return func(l *Ledger) { l.conv = c } }
func WithNotifier(n Notifier) Option            { return func(l *Ledger) { l.notifier = n } }
func WithLogger(log zerolog.Logger) Option      { return func(l *Ledger) { l.log = log } }
func WithHorizonMonths(n int) Option            { return func(l *Ledger) { l.horizonMonths = n } }
func WithClock(now func() time.Time) Option     { return func(l *Ledger) { l.now = now } }
func WithRetryInterval(d time.Duration) Option  { return func(l *Ledger) { l.retryEvery = d } }

// WithSaveErrorHandler installs a callback invoked (from a background
// goroutine) whenever a save fails after the in-memory mutation succeeded.
func WithSaveErrorHandler(fn func(*PersistenceError)) Option {
	return func(l *Ledger) { l.onSaveError = fn }
}

// Open loads the persisted snapshot, rebuilds all derived state and starts
// the background workers. The returned Ledger must be Closed.
func Open(ctx context.Context, persist Persister, opts ...Option) (*Ledger, error) {
	l := &Ledger{
		log:           zerolog.Nop(),
		persist:       persist,
		notifier:      NopNotifier{},
		conv:          UnitConverter{},
		now:           time.Now,
		horizonMonths: 3,
		retryEvery:    30 * time.Second,
		accounts:      make(map[AccountID]Account),
		categories:    make(map[string]bool),
		series:        make(map[SeriesID]RecurringSeries),
		occ:           make(map[SeriesID]map[string]TransactionID),
		saveWake:      make(chan struct{}, 1),
		notifyCh:      make(chan Event, 64),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	snap, err := persist.Load(ctx)
	if err != nil {
		return nil, err
	}

	l.txs = append([]Transaction(nil), snap.Transactions...)
	sort.SliceStable(l.txs, func(i, j int) bool { return txLess(l.txs[i], l.txs[j]) })
	for _, a := range snap.Accounts {
		l.accounts[a.ID] = a
	}
	for _, c := range snap.Categories {
		l.categories[c] = true
	}
	for _, s := range snap.Series {
		l.series[s.ID] = s
	}
	for _, o := range snap.Occurrences {
		if l.occ[o.SeriesID] == nil {
			l.occ[o.SeriesID] = make(map[string]TransactionID)
		}
		l.occ[o.SeriesID][o.On.String()] = o.Transaction
	}

	l.balances = NewBalanceBook(l.conv, l.log)
	l.balances.Register(snap.Accounts)
	if err := l.balances.RecomputeNow(snap.Accounts, l.txs); err != nil {
		l.balances.Close()
		return nil, err
	}

	l.index = NewAggregateIndex(l)
	l.cache = NewQueryCache()

	l.wg.Add(2)
	go l.saveWorker()
	go l.notifyWorker()

	// Materialize recurring charges that came due while closed.
	if err := l.RollForward(ctx); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// Close stops the workers after a final best-effort save.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.Flush(context.Background())
	close(l.stop)
	l.wg.Wait()
	l.balances.Close()
	return err
}

func (l *Ledger) today() Date { return DateOf(l.now().UTC()) }

// =============================================================================
// ORDERING
// =============================================================================

// txLess is the total order of the transaction collection: most recent day
// first, then most recently created, then id as the final tiebreak.
func txLess(a, b Transaction) bool {
	if !a.OccurredOn.Equal(b.OccurredOn) {
		return a.OccurredOn.After(b.OccurredOn)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (l *Ledger) insertLocked(tx Transaction) {
	i := sort.Search(len(l.txs), func(i int) bool { return txLess(tx, l.txs[i]) })
	l.txs = append(l.txs, Transaction{})
	copy(l.txs[i+1:], l.txs[i:])
	l.txs[i] = tx
}

func (l *Ledger) findLocked(id TransactionID) int {
	for i := range l.txs {
		if l.txs[i].ID == id {
			return i
		}
	}
	return -1
}

func (l *Ledger) removeAtLocked(i int) {
	l.txs = append(l.txs[:i], l.txs[i+1:]...)
}

// =============================================================================
// VALIDATION - Always before any state change
// =============================================================================

func (l *Ledger) validateLocked(tx Transaction) error {
	if !tx.Kind.Valid() {
		return &ValidationError{Field: "kind", Reason: ErrInvalidKind}
	}
	if !tx.Amount.Value.IsPositive() {
		return &ValidationError{Field: "amount", Reason: ErrInvalidAmount}
	}
	if tx.Amount.Currency == "" {
		return &ValidationError{Field: "currency", Reason: ErrInvalidAmount}
	}
	if tx.Account != "" {
		acct, ok := l.accounts[tx.Account]
		if !ok {
			return &ValidationError{Field: "account", Reason: ErrAccountNotFound}
		}
		// Pre-check convertibility so the balance stage cannot fail after
		// the mutation committed.
		if _, err := l.conv.Convert(tx.Amount.Value, tx.Amount.Currency, acct.Currency, tx.OccurredOn); err != nil {
			return &ValidationError{Field: "currency", Reason: fmt.Errorf("%w: %v", ErrUnconvertible, err)}
		}
	}
	if tx.IsTransfer() {
		if tx.Account == "" || tx.TargetAccount == "" {
			return &ValidationError{Field: "target_account", Reason: ErrAccountNotFound}
		}
		if tx.Account == tx.TargetAccount {
			return &ValidationError{Field: "target_account", Reason: ErrInvalidKind}
		}
		target, ok := l.accounts[tx.TargetAccount]
		if !ok {
			return &ValidationError{Field: "target_account", Reason: ErrAccountNotFound}
		}
		tm := tx.targetMoney()
		if !tm.Value.IsPositive() {
			return &ValidationError{Field: "target_amount", Reason: ErrInvalidAmount}
		}
		if _, err := l.conv.Convert(tm.Value, tm.Currency, target.Currency, tx.OccurredOn); err != nil {
			return &ValidationError{Field: "target_currency", Reason: fmt.Errorf("%w: %v", ErrUnconvertible, err)}
		}
	} else if tx.TargetAccount != "" || tx.TargetAmount != nil {
		return &ValidationError{Field: "target_account", Reason: ErrInvalidKind}
	}
	if tx.Category != "" && !l.categories[tx.Category] {
		return &ValidationError{Field: "category", Reason: ErrCategoryNotFound}
	}
	return nil
}

// =============================================================================
// COMMIT - The tail of the pipeline, identical for every event
// =============================================================================

// commit runs invalidate -> persist -> notify for an already-applied
// mutation. Caller holds the write lock. This is the only place derived
// caches are invalidated.
func (l *Ledger) commit(ev Event) {
	l.cache.InvalidateAll()
	if dates := eventDates(ev); dates != nil {
		l.index.Invalidate(dates...)
	}
	l.requestSave()

	select {
	case l.notifyCh <- ev:
	default:
		// A full queue means a slow listener; mutations never block on it.
		l.log.Warn().Str("event", ev.Kind()).Msg("notification dropped, queue full")
	}
}

// eventDates lists the occurrence dates whose aggregate periods an event
// touches. The switch is exhaustive over the closed event set; an unknown
// kind invalidates everything rather than silently skipping.
func eventDates(ev Event) []Date {
	switch e := ev.(type) {
	case TxAdded:
		return []Date{e.Tx.OccurredOn}
	case TxUpdated:
		return []Date{e.Old.OccurredOn, e.New.OccurredOn}
	case TxDeleted:
		return []Date{e.Tx.OccurredOn}
	case TxBulkAdded:
		return txDates(e.Txs)
	case SeriesCreated:
		return txDates(e.Generated)
	case SeriesUpdated:
		return txDates(e.Generated)
	case SeriesEnded:
		return nil // no transaction changed
	case SeriesDeleted:
		return txDates(e.Removed)
	case AccountAdded:
		return nil
	case AccountDeleted:
		return txDates(e.Removed)
	default:
		return []Date{}
	}
}

func txDates(txs []Transaction) []Date {
	if len(txs) == 0 {
		return nil
	}
	dates := make([]Date, 0, len(txs))
	for _, tx := range txs {
		dates = append(dates, tx.OccurredOn)
	}
	return dates
}

// =============================================================================
// TRANSACTION MUTATIONS
// =============================================================================

// Add validates and stores a transaction, returning the stored record with
// its generated id so callers never re-locate it by field matching.
func (l *Ledger) Add(ctx context.Context, draft Transaction) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Transaction{}, ErrClosed
	}

	tx, err := l.addLocked(draft)
	if err != nil {
		return Transaction{}, err
	}
	l.commit(TxAdded{Tx: tx, At: l.now()})
	return tx, nil
}

func (l *Ledger) addLocked(draft Transaction) (Transaction, error) {
	if err := l.validateLocked(draft); err != nil {
		return Transaction{}, err
	}
	if draft.ID != "" && l.findLocked(draft.ID) >= 0 {
		return Transaction{}, &ValidationError{Field: "id", Reason: ErrDuplicateID}
	}
	if draft.ID == "" {
		draft.ID = newTransactionID()
	}
	if draft.CreatedAt.IsZero() {
		draft.CreatedAt = l.now()
	}
	l.insertLocked(draft)
	if err := l.balances.Apply(draft); err != nil {
		// Convertibility was validated; reaching this is a defect.
		l.log.Error().Err(err).Str("tx", string(draft.ID)).Msg("balance apply failed")
	}
	return draft, nil
}

// Update replaces the record with the given id. The balance effect is the
// delta: revert the old record (old account/currency pairing), apply the
// new one - never a full re-sum. This stays correct when the replacement
// moves the transaction to a different account.
func (l *Ledger) Update(ctx context.Context, id TransactionID, replacement Transaction) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Transaction{}, ErrClosed
	}

	i := l.findLocked(id)
	if i < 0 {
		return Transaction{}, ErrNotFound
	}
	if replacement.ID != "" && replacement.ID != id {
		return Transaction{}, &ValidationError{Field: "id", Reason: ErrIDMismatch}
	}
	old := l.txs[i]
	replacement.ID = id
	replacement.CreatedAt = old.CreatedAt // stable tiebreaker survives updates
	if replacement.SeriesID == "" {
		replacement.SeriesID = old.SeriesID
	}

	if err := l.validateLocked(replacement); err != nil {
		return Transaction{}, err
	}

	if err := l.balances.Revert(old); err != nil {
		l.log.Error().Err(err).Str("tx", string(id)).Msg("balance revert failed")
	}
	if err := l.balances.Apply(replacement); err != nil {
		l.log.Error().Err(err).Str("tx", string(id)).Msg("balance apply failed")
	}

	l.removeAtLocked(i)
	l.insertLocked(replacement)
	l.commit(TxUpdated{Old: old, New: replacement, At: l.now()})
	return replacement, nil
}

// Delete reverts the record's balance effect and removes it. A generated
// occurrence's link is deleted atomically with the transaction.
func (l *Ledger) Delete(ctx context.Context, id TransactionID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	i := l.findLocked(id)
	if i < 0 {
		return ErrNotFound
	}
	tx := l.txs[i]

	if err := l.balances.Revert(tx); err != nil {
		l.log.Error().Err(err).Str("tx", string(id)).Msg("balance revert failed")
	}
	l.removeAtLocked(i)
	l.dropOccurrenceLocked(tx)

	l.commit(TxDeleted{Tx: tx, At: l.now()})
	return nil
}

func (l *Ledger) dropOccurrenceLocked(tx Transaction) {
	if tx.SeriesID == "" {
		return
	}
	if m := l.occ[tx.SeriesID]; m != nil {
		delete(m, tx.OccurredOn.String())
	}
}

// BulkAdd validates every draft, then applies the whole batch as one
// mutation: one balance pass, one cache invalidation, one save, one event.
// Required for acceptable import performance; nothing is stored if any
// draft fails validation.
func (l *Ledger) BulkAdd(ctx context.Context, drafts []Transaction) ([]Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, ErrClosed
	}

	seen := make(map[TransactionID]bool, len(drafts))
	for i := range drafts {
		if err := l.validateLocked(drafts[i]); err != nil {
			return nil, err
		}
		if id := drafts[i].ID; id != "" {
			if seen[id] || l.findLocked(id) >= 0 {
				return nil, &ValidationError{Field: "id", Reason: ErrDuplicateID}
			}
			seen[id] = true
		}
	}

	stored := make([]Transaction, 0, len(drafts))
	for _, draft := range drafts {
		tx, err := l.addLocked(draft)
		if err != nil {
			// Validated above; cannot fail here.
			return nil, err
		}
		stored = append(stored, tx)
	}
	l.commit(TxBulkAdded{Txs: stored, At: l.now()})
	return stored, nil
}

// Transfer constructs and adds an internal transfer. When targetAmount is
// nil the destination amount is computed through the conversion service in
// the target account's currency.
func (l *Ledger) Transfer(ctx context.Context, source, target AccountID, amount Money, targetAmount *Money, on Date, description string) (Transaction, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Transaction{}, ErrClosed
	}

	if targetAmount == nil {
		acct, ok := l.accounts[target]
		if !ok {
			return Transaction{}, &ValidationError{Field: "target_account", Reason: ErrAccountNotFound}
		}
		if acct.Currency != amount.Currency {
			v, err := l.conv.Convert(amount.Value, amount.Currency, acct.Currency, on)
			if err != nil {
				return Transaction{}, &ValidationError{Field: "target_currency", Reason: err}
			}
			targetAmount = &Money{Value: v, Currency: acct.Currency}
		}
	}

	tx, err := l.addLocked(Transaction{
		Kind:          KindTransfer,
		Amount:        amount,
		OccurredOn:    on,
		Account:       source,
		TargetAccount: target,
		TargetAmount:  targetAmount,
		Description:   description,
	})
	if err != nil {
		return Transaction{}, err
	}
	l.commit(TxAdded{Tx: tx, At: l.now()})
	return tx, nil
}

// =============================================================================
// RECURRING SERIES
// =============================================================================

func (l *Ledger) validateSeriesLocked(s RecurringSeries) error {
	if !s.Frequency.Valid() {
		return &ValidationError{Field: "frequency", Reason: ErrInvalidSeries}
	}
	if s.Interval < 1 {
		return &ValidationError{Field: "interval", Reason: ErrInvalidSeries}
	}
	if s.StartDate.IsZero() {
		return &ValidationError{Field: "start_date", Reason: ErrInvalidSeries}
	}
	if !s.Amount.Value.IsPositive() || s.Amount.Currency == "" {
		return &ValidationError{Field: "amount", Reason: ErrInvalidAmount}
	}
	if !s.Kind.Valid() || s.Kind == KindTransfer {
		return &ValidationError{Field: "kind", Reason: ErrInvalidKind}
	}
	if s.Account != "" {
		if _, ok := l.accounts[s.Account]; !ok {
			return &ValidationError{Field: "account", Reason: ErrAccountNotFound}
		}
	}
	if s.Category != "" && !l.categories[s.Category] {
		return &ValidationError{Field: "category", Reason: ErrCategoryNotFound}
	}
	return nil
}

// CreateSeries stores a recurring series and materializes every occurrence
// due within the rolling horizon as ordinary transactions. Each date is
// recorded in the occurrence table, so repeated calls cannot duplicate.
func (l *Ledger) CreateSeries(ctx context.Context, s RecurringSeries) (RecurringSeries, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return RecurringSeries{}, ErrClosed
	}

	if s.Status == "" {
		s.Status = SeriesActive
	}
	if err := l.validateSeriesLocked(s); err != nil {
		return RecurringSeries{}, err
	}
	if s.ID == "" {
		s.ID = newSeriesID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = l.now()
	}
	l.series[s.ID] = s

	generated := l.materializeLocked(s)
	l.commit(SeriesCreated{Series: s, Generated: generated, At: l.now()})
	return s, nil
}

// UpdateSeries replaces a series definition. Already-materialized
// occurrences keep their recorded amounts; only not-yet-materialized dates
// are generated under the new definition.
func (l *Ledger) UpdateSeries(ctx context.Context, id SeriesID, replacement RecurringSeries) (RecurringSeries, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return RecurringSeries{}, ErrClosed
	}

	old, ok := l.series[id]
	if !ok {
		return RecurringSeries{}, ErrNotFound
	}
	if replacement.ID != "" && replacement.ID != id {
		return RecurringSeries{}, &ValidationError{Field: "id", Reason: ErrIDMismatch}
	}
	replacement.ID = id
	replacement.CreatedAt = old.CreatedAt
	if replacement.Status == "" {
		replacement.Status = old.Status
	}
	if err := l.validateSeriesLocked(replacement); err != nil {
		return RecurringSeries{}, err
	}

	l.series[id] = replacement
	generated := l.materializeLocked(replacement)
	l.commit(SeriesUpdated{Old: old, New: replacement, Generated: generated, At: l.now()})
	return replacement, nil
}

// StopSeries ends generation; future occurrences cease, history stays.
func (l *Ledger) StopSeries(ctx context.Context, id SeriesID) error {
	return l.setSeriesStatus(id, SeriesStopped)
}

// PauseSeries suspends generation until resumed.
func (l *Ledger) PauseSeries(ctx context.Context, id SeriesID) error {
	return l.setSeriesStatus(id, SeriesPaused)
}

// ResumeSeries reactivates a paused series and materializes anything that
// came due while paused.
func (l *Ledger) ResumeSeries(ctx context.Context, id SeriesID) error {
	return l.setSeriesStatus(id, SeriesActive)
}

func (l *Ledger) setSeriesStatus(id SeriesID, status SeriesStatus) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	old, ok := l.series[id]
	if !ok {
		return ErrNotFound
	}
	if old.Status == status {
		return nil
	}
	s := old
	s.Status = status
	l.series[id] = s

	switch status {
	case SeriesStopped:
		l.commit(SeriesEnded{Series: s, At: l.now()})
	default:
		generated := l.materializeLocked(s)
		l.commit(SeriesUpdated{Old: old, New: s, Generated: generated, At: l.now()})
	}
	return nil
}

// DeleteSeries removes a series. With cascade, every transaction it
// generated is deleted through the same pipeline step; without, generated
// transactions survive with their series link cleared.
func (l *Ledger) DeleteSeries(ctx context.Context, id SeriesID, cascade bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	s, ok := l.series[id]
	if !ok {
		return ErrNotFound
	}

	var removed []Transaction
	if cascade {
		for i := 0; i < len(l.txs); {
			if l.txs[i].SeriesID == id {
				tx := l.txs[i]
				if err := l.balances.Revert(tx); err != nil {
					l.log.Error().Err(err).Str("tx", string(tx.ID)).Msg("balance revert failed")
				}
				l.removeAtLocked(i)
				removed = append(removed, tx)
				continue
			}
			i++
		}
	} else {
		for i := range l.txs {
			if l.txs[i].SeriesID == id {
				l.txs[i].SeriesID = ""
			}
		}
	}
	delete(l.series, id)
	delete(l.occ, id)
	if len(removed) > 0 {
		// Same drift-healing rebuild as a cascading account delete.
		l.balances.ScheduleRecompute(l.accountListLocked(), append([]Transaction(nil), l.txs...))
	}

	l.commit(SeriesDeleted{Series: s, Removed: removed, At: l.now()})
	return nil
}

// materializeLocked turns due occurrences into stored transactions and
// claims their dates. Only active series generate.
func (l *Ledger) materializeLocked(s RecurringSeries) []Transaction {
	if s.Status != SeriesActive {
		return nil
	}

	claimed := l.occ[s.ID]
	if claimed == nil {
		claimed = make(map[string]TransactionID)
		l.occ[s.ID] = claimed
	}
	set := make(map[string]bool, len(claimed))
	for on := range claimed {
		set[on] = true
	}

	horizon := l.today().AddMonths(l.horizonMonths)
	charges := GenerateOccurrences(s, s.StartDate, horizon, set)

	var generated []Transaction
	for _, ch := range charges {
		tx, err := l.addLocked(Transaction{
			Kind:       s.Kind,
			Amount:     ch.Amount,
			OccurredOn: ch.On,
			Account:    s.Account,
			Category:   s.Category,
			SeriesID:   s.ID,
		})
		if err != nil {
			// Series fields were validated with the series itself.
			l.log.Error().Err(err).Str("series", string(s.ID)).Msg("materialization failed")
			continue
		}
		claimed[ch.On.String()] = tx.ID
		generated = append(generated, tx)
	}
	return generated
}

// RollForward advances the rolling horizon for every active series,
// materializing newly due occurrences. Idempotent; safe to call on any
// schedule.
func (l *Ledger) RollForward(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	var generated []Transaction
	for _, s := range l.series {
		generated = append(generated, l.materializeLocked(s)...)
	}
	if len(generated) > 0 {
		l.commit(TxBulkAdded{Txs: generated, At: l.now()})
	}
	return nil
}

// =============================================================================
// ACCOUNTS AND CATEGORIES
// =============================================================================

// AddAccount registers a new account and seeds its balance. Existing
// accounts keep their live balances.
func (l *Ledger) AddAccount(ctx context.Context, a Account) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Account{}, ErrClosed
	}

	if a.Currency == "" {
		return Account{}, &ValidationError{Field: "currency", Reason: ErrInvalidAmount}
	}
	if a.ID == "" {
		a.ID = NewAccountID()
	}
	if _, exists := l.accounts[a.ID]; exists {
		return Account{}, &ValidationError{Field: "id", Reason: ErrIDMismatch}
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.now()
	}
	l.accounts[a.ID] = a
	l.balances.Register(l.accountListLocked())

	l.commit(AccountAdded{Account: a, At: l.now()})
	return a, nil
}

// DeleteAccount removes an account. With referencing transactions it is
// forbidden unless cascade is requested, in which case the references are
// deleted through the same pipeline step.
func (l *Ledger) DeleteAccount(ctx context.Context, id AccountID, cascade bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	a, ok := l.accounts[id]
	if !ok {
		return ErrNotFound
	}

	var removed []Transaction
	references := func(tx Transaction) bool {
		return tx.Account == id || tx.TargetAccount == id
	}
	for _, tx := range l.txs {
		if references(tx) {
			if !cascade {
				return ErrForbidden
			}
			removed = append(removed, tx)
		}
	}
	for _, tx := range removed {
		if err := l.balances.Revert(tx); err != nil {
			l.log.Error().Err(err).Str("tx", string(tx.ID)).Msg("balance revert failed")
		}
		if i := l.findLocked(tx.ID); i >= 0 {
			l.removeAtLocked(i)
		}
		l.dropOccurrenceLocked(tx)
	}

	delete(l.accounts, id)
	l.balances.Register(l.accountListLocked())
	if len(removed) > 0 {
		// A cascade is many incremental reverts in a row; queue a full
		// rebuild so any accumulated drift is healed off the write path.
		l.balances.ScheduleRecompute(l.accountListLocked(), append([]Transaction(nil), l.txs...))
	}

	l.commit(AccountDeleted{Account: a, Removed: removed, At: l.now()})
	return nil
}

// AddCategory registers a category label. Categories carry no derived
// state, so this mutation only persists.
func (l *Ledger) AddCategory(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if name == "" {
		return &ValidationError{Field: "category", Reason: ErrCategoryNotFound}
	}
	if !l.categories[name] {
		l.categories[name] = true
		l.requestSave()
	}
	return nil
}

func (l *Ledger) accountListLocked() []Account {
	out := make([]Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, a)
	}
	return out
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// Today returns the current date on the ledger's clock. Callers resolving
// time filters must use this, not the wall clock, so an injected clock
// governs every read path.
func (l *Ledger) Today() Date { return l.today() }

// Transactions returns the collection in its total order.
func (l *Ledger) Transactions() []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Transaction(nil), l.txs...)
}

// TransactionsBetween implements TxSource for the aggregate index.
func (l *Ledger) TransactionsBetween(from, to Date) []Transaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Transaction
	for _, tx := range l.txs {
		if rangeContains(from, to, tx.OccurredOn) {
			out = append(out, tx)
		}
	}
	return out
}

// Bounds implements TxSource.
func (l *Ledger) Bounds() (Date, Date, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.txs) == 0 {
		return Date{}, Date{}, false
	}
	// The slice is ordered most recent first.
	return l.txs[len(l.txs)-1].OccurredOn, l.txs[0].OccurredOn, true
}

// Transaction returns one record by id.
func (l *Ledger) Transaction(id TransactionID) (Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := l.findLocked(id); i >= 0 {
		return l.txs[i], nil
	}
	return Transaction{}, ErrNotFound
}

// Accounts lists registered accounts.
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accountListLocked()
}

// Account returns one account by id.
func (l *Ledger) Account(id AccountID) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if a, ok := l.accounts[id]; ok {
		return a, nil
	}
	return Account{}, ErrNotFound
}

// AccountBalance returns the live derived balance in the account currency.
func (l *Ledger) AccountBalance(id AccountID) (Money, error) {
	l.mu.RLock()
	a, ok := l.accounts[id]
	l.mu.RUnlock()
	if !ok {
		return Money{}, ErrNotFound
	}
	v, ok := l.balances.Balance(id)
	if !ok {
		return Money{}, ErrNotFound
	}
	return Money{Value: v, Currency: a.Currency}, nil
}

// Series returns one series by id.
func (l *Ledger) Series(id SeriesID) (RecurringSeries, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if s, ok := l.series[id]; ok {
		return s, nil
	}
	return RecurringSeries{}, ErrNotFound
}

// AllSeries lists recurring series.
func (l *Ledger) AllSeries() []RecurringSeries {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]RecurringSeries, 0, len(l.series))
	for _, s := range l.series {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Categories lists registered category labels.
func (l *Ledger) Categories() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.categories))
	for c := range l.categories {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// PlannedOccurrences previews the not-yet-materialized charges of a series
// over the coming months. Pure preview; nothing is stored.
func (l *Ledger) PlannedOccurrences(id SeriesID, horizonMonths int) ([]ScheduledCharge, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s, ok := l.series[id]
	if !ok {
		return nil, ErrNotFound
	}
	set := make(map[string]bool)
	for on := range l.occ[id] {
		set[on] = true
	}
	today := l.today()
	return GenerateOccurrences(s, today, today.AddMonths(horizonMonths), set), nil
}

// AuditBalances cross-checks incremental balances against a recompute and
// returns any drift warnings. Diagnostic only; never blocks operations.
func (l *Ledger) AuditBalances() ([]ConsistencyWarning, error) {
	l.mu.RLock()
	accounts := l.accountListLocked()
	txs := append([]Transaction(nil), l.txs...)
	l.mu.RUnlock()
	return l.balances.Audit(accounts, txs)
}

// =============================================================================
// PERSISTENCE - Best-effort, never blocking a mutation
// =============================================================================

func (l *Ledger) snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.snapshotLocked()
}

func (l *Ledger) snapshotLocked() Snapshot {
	snap := Snapshot{
		Transactions: append([]Transaction(nil), l.txs...),
		Accounts:     l.accountListLocked(),
	}
	for c := range l.categories {
		snap.Categories = append(snap.Categories, c)
	}
	sort.Strings(snap.Categories)
	for _, s := range l.series {
		snap.Series = append(snap.Series, s)
	}
	sort.Slice(snap.Series, func(i, j int) bool { return snap.Series[i].ID < snap.Series[j].ID })
	for sid, m := range l.occ {
		for on, txID := range m {
			t, err := time.Parse("2006-01-02", on)
			if err != nil {
				continue
			}
			snap.Occurrences = append(snap.Occurrences, Occurrence{SeriesID: sid, On: DateOf(t), Transaction: txID})
		}
	}
	sort.Slice(snap.Occurrences, func(i, j int) bool {
		if snap.Occurrences[i].SeriesID != snap.Occurrences[j].SeriesID {
			return snap.Occurrences[i].SeriesID < snap.Occurrences[j].SeriesID
		}
		return snap.Occurrences[i].On.Before(snap.Occurrences[j].On)
	})
	return snap
}

// requestSave wakes the save worker. Caller holds the write lock; the
// worker snapshots on its own, so the latest state always wins.
func (l *Ledger) requestSave() {
	select {
	case l.saveWake <- struct{}{}:
	default:
	}
}

// Flush saves synchronously. Used by Close and by callers that need a
// durability barrier (e.g. before process exit).
func (l *Ledger) Flush(ctx context.Context) error {
	err := l.persist.Save(ctx, l.snapshot())
	l.recordSaveResult(err)
	return err
}

// LastSaveError reports the most recent persistence failure, if the state
// on disk is currently behind the in-memory state.
func (l *Ledger) LastSaveError() error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()
	if !l.needsRetry {
		return nil
	}
	return l.lastSaveErr
}

func (l *Ledger) recordSaveResult(err error) {
	l.saveMu.Lock()
	l.needsRetry = err != nil
	l.lastSaveErr = err
	l.saveMu.Unlock()

	if err != nil {
		perr := &PersistenceError{At: l.now(), Err: err}
		l.log.Error().Err(err).Msg("save failed, in-memory state retained, will retry")
		if l.onSaveError != nil {
			l.onSaveError(perr)
		}
	}
}

func (l *Ledger) saveWorker() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.retryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.saveWake:
		case <-ticker.C:
			l.saveMu.Lock()
			retry := l.needsRetry
			l.saveMu.Unlock()
			if !retry {
				continue
			}
		}
		err := l.persist.Save(context.Background(), l.snapshot())
		l.recordSaveResult(err)
	}
}

func (l *Ledger) notifyWorker() {
	defer l.wg.Done()
	for {
		select {
		case <-l.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case ev := <-l.notifyCh:
					l.deliver(ev)
				default:
					return
				}
			}
		case ev := <-l.notifyCh:
			l.deliver(ev)
		}
	}
}

func (l *Ledger) deliver(ev Event) {
	if err := l.notifier.Notify(context.Background(), ev); err != nil {
		l.log.Warn().Err(err).Str("event", ev.Kind()).Msg("notification delivery failed")
	}
}
