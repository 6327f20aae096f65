/*
balance.go - Derived per-account balances

PURPOSE:
  The BalanceBook owns the only balance map in the system. Balances are
  derived state: they can always be rebuilt from accounts + transactions,
  and the incremental path must agree with the rebuild to the cent.

ACCOUNT ROLES:
  Every delta names the role of the account it touches. The destination
  side of a transfer is credited; treating it with source-sign semantics
  (the classic bug) is structurally impossible here because Role has no
  usable zero value and no call site may omit it.

RE-REGISTRATION SAFETY:
  Register replaces the known account set but NEVER overwrites the live
  balance of an account that is already present. Only newly seen accounts
  are seeded from their initial balance.

CONCURRENCY:
  Incremental deltas run synchronously under the book's lock. Full
  recomputes run on one background worker, serialized, coalesced (a newer
  request replaces a queued one) and superseded (a result is discarded if
  any write landed after the request was taken).
*/
package ledger

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLE - Which side of a transaction an account is on
// =============================================================================

// Role is mandatory at every balance call site. The zero value is invalid.
type Role int

const (
	RoleSource      Role = iota + 1 // debited: expense, transfer source
	RoleDestination                 // credited: income, transfer target
)

func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleDestination:
		return "destination"
	default:
		return "invalid"
	}
}

// =============================================================================
// BALANCE BOOK
// =============================================================================

type BalanceBook struct {
	conv Converter
	log  zerolog.Logger

	mu       sync.Mutex
	accounts map[AccountID]Account
	balances map[AccountID]decimal.Decimal

	// gen increments on every committed write; a background recompute
	// taken at generation g is discarded if gen != g at commit time.
	gen uint64

	pending *recomputeJob
	wake    chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup
}

type recomputeJob struct {
	accounts []Account
	txs      []Transaction
	gen      uint64
}

func NewBalanceBook(conv Converter, log zerolog.Logger) *BalanceBook {
	if conv == nil {
		conv = UnitConverter{}
	}
	bb := &BalanceBook{
		conv:     conv,
		log:      log,
		accounts: make(map[AccountID]Account),
		balances: make(map[AccountID]decimal.Decimal),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	bb.wg.Add(1)
	go bb.worker()
	return bb
}

// Close stops the background recompute worker.
func (bb *BalanceBook) Close() {
	close(bb.stop)
	bb.wg.Wait()
}

// =============================================================================
// REGISTRATION
// =============================================================================

// Register replaces the known account set. Newly seen accounts are seeded
// (initial balance, or zero when derived from history); accounts that are
// already present keep their live balance untouched; accounts missing from
// the new set are dropped.
func (bb *BalanceBook) Register(accounts []Account) {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	next := make(map[AccountID]Account, len(accounts))
	for _, a := range accounts {
		next[a.ID] = a
		if _, present := bb.balances[a.ID]; present {
			// Already known: preserve the live balance. Overwriting it
			// with the static seed is the historical reset bug.
			continue
		}
		bb.balances[a.ID] = seedBalance(a)
	}
	for id := range bb.balances {
		if _, keep := next[id]; !keep {
			delete(bb.balances, id)
		}
	}
	bb.accounts = next
	bb.gen++
}

func seedBalance(a Account) decimal.Decimal {
	if a.DerivedFromHistory {
		return decimal.Zero
	}
	return a.InitialBalance
}

// Balance returns the live balance for an account.
func (bb *BalanceBook) Balance(id AccountID) (decimal.Decimal, bool) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	b, ok := bb.balances[id]
	return b, ok
}

// All returns a copy of the live balance map.
func (bb *BalanceBook) All() map[AccountID]decimal.Decimal {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	out := make(map[AccountID]decimal.Decimal, len(bb.balances))
	for id, b := range bb.balances {
		out[id] = b
	}
	return out
}

// =============================================================================
// INCREMENTAL PATH
// =============================================================================

// Apply applies the transaction's effect to every account it references.
func (bb *BalanceBook) Apply(tx Transaction) error { return bb.shift(tx, false) }

// Revert undoes the transaction's effect, using the pairing of accounts and
// currencies recorded on the transaction itself. An update reverts the OLD
// record and applies the NEW one, which stays correct even when the two
// reference different accounts.
func (bb *BalanceBook) Revert(tx Transaction) error { return bb.shift(tx, true) }

func (bb *BalanceBook) shift(tx Transaction, revert bool) error {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if tx.Account != "" {
		role := RoleSource
		if tx.Kind == KindIncome {
			role = RoleDestination
		}
		if err := bb.shiftLocked(tx, tx.Account, role, revert); err != nil {
			return err
		}
	}
	if tx.IsTransfer() && tx.TargetAccount != "" {
		if err := bb.shiftLocked(tx, tx.TargetAccount, RoleDestination, revert); err != nil {
			return err
		}
	}
	bb.gen++
	return nil
}

func (bb *BalanceBook) shiftLocked(tx Transaction, id AccountID, role Role, revert bool) error {
	acct, known := bb.accounts[id]
	if !known {
		// Unknown accounts carry no balance; nothing to shift.
		return nil
	}
	delta, err := bb.effect(tx, role, acct.Currency)
	if err != nil {
		return err
	}
	if revert {
		delta = delta.Neg()
	}
	bb.balances[id] = bb.balances[id].Add(delta)
	return nil
}

// effect computes the signed delta a transaction has on an account playing
// the given role, expressed in the account's currency.
func (bb *BalanceBook) effect(tx Transaction, role Role, accountCurrency string) (decimal.Decimal, error) {
	switch role {
	case RoleSource:
		v, err := bb.conv.Convert(tx.Amount.Value, tx.Amount.Currency, accountCurrency, tx.OccurredOn)
		if err != nil {
			return decimal.Zero, err
		}
		return v.Neg(), nil
	case RoleDestination:
		m := tx.Amount
		if tx.IsTransfer() {
			m = tx.targetMoney()
		}
		v, err := bb.conv.Convert(m.Value, m.Currency, accountCurrency, tx.OccurredOn)
		if err != nil {
			return decimal.Zero, err
		}
		return v, nil
	default:
		// Unreachable from this package; the invalid zero Role exists only
		// so call sites cannot omit the argument.
		return decimal.Zero, ErrInvalidKind
	}
}

// =============================================================================
// FULL RECOMPUTE
// =============================================================================

// Recompute builds a fresh balance map from scratch. It does not touch the
// live map; callers decide whether to install the result.
func (bb *BalanceBook) Recompute(accounts []Account, txs []Transaction) (map[AccountID]decimal.Decimal, error) {
	fresh := make(map[AccountID]decimal.Decimal, len(accounts))
	currency := make(map[AccountID]string, len(accounts))
	for _, a := range accounts {
		fresh[a.ID] = seedBalance(a)
		currency[a.ID] = a.Currency
	}

	for _, tx := range txs {
		if tx.Account != "" {
			if cur, ok := currency[tx.Account]; ok {
				role := RoleSource
				if tx.Kind == KindIncome {
					role = RoleDestination
				}
				d, err := bb.effect(tx, role, cur)
				if err != nil {
					return nil, err
				}
				fresh[tx.Account] = fresh[tx.Account].Add(d)
			}
		}
		if tx.IsTransfer() && tx.TargetAccount != "" {
			if cur, ok := currency[tx.TargetAccount]; ok {
				d, err := bb.effect(tx, RoleDestination, cur)
				if err != nil {
					return nil, err
				}
				fresh[tx.TargetAccount] = fresh[tx.TargetAccount].Add(d)
			}
		}
	}
	return fresh, nil
}

// RecomputeNow rebuilds and installs balances synchronously, short-
// circuiting any queued background recompute.
func (bb *BalanceBook) RecomputeNow(accounts []Account, txs []Transaction) error {
	fresh, err := bb.Recompute(accounts, txs)
	if err != nil {
		return err
	}

	bb.mu.Lock()
	defer bb.mu.Unlock()
	bb.pending = nil // immediate priority supersedes the queue
	bb.balances = fresh
	bb.gen++
	return nil
}

// ScheduleRecompute queues a background rebuild over the given snapshot.
// A newer request replaces a queued one; the result is discarded if any
// write lands between being taken and committed.
func (bb *BalanceBook) ScheduleRecompute(accounts []Account, txs []Transaction) {
	bb.mu.Lock()
	bb.pending = &recomputeJob{accounts: accounts, txs: txs, gen: bb.gen}
	bb.mu.Unlock()

	select {
	case bb.wake <- struct{}{}:
	default:
	}
}

func (bb *BalanceBook) worker() {
	defer bb.wg.Done()
	for {
		select {
		case <-bb.stop:
			return
		case <-bb.wake:
		}

		for {
			bb.mu.Lock()
			job := bb.pending
			bb.pending = nil
			bb.mu.Unlock()
			if job == nil {
				break
			}

			fresh, err := bb.Recompute(job.accounts, job.txs)
			if err != nil {
				bb.log.Error().Err(err).Msg("background recompute failed")
				continue
			}

			bb.mu.Lock()
			if bb.gen == job.gen {
				// Installing does not bump gen: the result IS the state
				// at generation g, so a job queued behind this one at the
				// same generation must still be allowed to land.
				bb.balances = fresh
			} else {
				bb.log.Debug().Msg("background recompute superseded, result discarded")
			}
			bb.mu.Unlock()
		}
	}
}

// =============================================================================
// CONSISTENCY AUDIT
// =============================================================================

// driftTolerance absorbs rounding from currency conversion; anything above
// a cent means a bookkeeping defect.
var driftTolerance = decimal.New(1, -2)

// Audit recomputes from scratch and reports every account whose live
// balance disagrees beyond tolerance. It never modifies state.
func (bb *BalanceBook) Audit(accounts []Account, txs []Transaction) ([]ConsistencyWarning, error) {
	fresh, err := bb.Recompute(accounts, txs)
	if err != nil {
		return nil, err
	}

	bb.mu.Lock()
	defer bb.mu.Unlock()

	var warnings []ConsistencyWarning
	for id, want := range fresh {
		got := bb.balances[id]
		if got.Sub(want).Abs().GreaterThan(driftTolerance) {
			w := ConsistencyWarning{Account: id, Incremental: got, Recomputed: want}
			bb.log.Warn().Str("account", string(id)).
				Str("incremental", got.String()).
				Str("recomputed", want.String()).
				Msg("balance drift detected")
			warnings = append(warnings, w)
		}
	}
	return warnings, nil
}
