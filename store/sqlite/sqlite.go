/*
Package sqlite provides a SQLite-backed Persister.

PURPOSE:
  Durable storage for the ledger's snapshot: transactions, accounts,
  categories, recurring series and occurrence links. The ledger treats the
  format as opaque; this package owns the schema.

SNAPSHOT SEMANTICS:
  Save replaces the full state inside one database transaction, so a crash
  mid-save leaves the previous consistent snapshot intact. The ledger is
  the source of truth in memory; this store only has to be atomic, not
  incremental.

PRECISION:
  Decimal amounts are stored as TEXT and re-parsed, never as REAL. A float
  column would silently corrupt cents.

WAL MODE:
  The database is opened with WAL so concurrent readers (e.g. external
  reporting) do not block the save path.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/ledger-core/ledger"
)

const dateFormat = "2006-01-02"

// Store implements ledger.Persister using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		occurred_on TEXT NOT NULL,
		account_id TEXT,
		target_account_id TEXT,
		target_amount TEXT,
		target_currency TEXT,
		category TEXT,
		subcategory TEXT,
		description TEXT,
		series_id TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_occurred_on ON transactions(occurred_on);
	CREATE INDEX IF NOT EXISTS idx_transactions_series ON transactions(series_id);

	CREATE TABLE IF NOT EXISTS accounts (
		id TEXT PRIMARY KEY,
		name TEXT,
		currency TEXT NOT NULL,
		initial_balance TEXT NOT NULL,
		derived_from_history INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		name TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS series (
		id TEXT PRIMARY KEY,
		frequency TEXT NOT NULL,
		interval INTEGER NOT NULL,
		start_date TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		kind TEXT NOT NULL,
		category TEXT,
		account_id TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS occurrences (
		series_id TEXT NOT NULL,
		on_date TEXT NOT NULL,
		transaction_id TEXT,
		PRIMARY KEY (series_id, on_date)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// SAVE - Full snapshot replace, atomically
// =============================================================================

func (s *Store) Save(ctx context.Context, snap ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"transactions", "accounts", "categories", "series", "occurrences"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := s.saveTransactions(ctx, tx, snap.Transactions); err != nil {
		return err
	}
	if err := s.saveAccounts(ctx, tx, snap.Accounts); err != nil {
		return err
	}
	for _, c := range snap.Categories {
		if _, err := tx.ExecContext(ctx, "INSERT INTO categories (name) VALUES (?)", c); err != nil {
			return fmt.Errorf("insert category: %w", err)
		}
	}
	if err := s.saveSeries(ctx, tx, snap.Series); err != nil {
		return err
	}
	for _, o := range snap.Occurrences {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO occurrences (series_id, on_date, transaction_id) VALUES (?, ?, ?)",
			string(o.SeriesID), o.On.String(), string(o.Transaction))
		if err != nil {
			return fmt.Errorf("insert occurrence: %w", err)
		}
	}

	return tx.Commit()
}

func (s *Store) saveTransactions(ctx context.Context, tx *sql.Tx, txs []ledger.Transaction) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions
		(id, kind, amount, currency, occurred_on, account_id, target_account_id,
		 target_amount, target_currency, category, subcategory, description, series_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare transaction insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txs {
		var targetAmount, targetCurrency sql.NullString
		if t.TargetAmount != nil {
			targetAmount = sql.NullString{String: t.TargetAmount.Value.String(), Valid: true}
			targetCurrency = sql.NullString{String: t.TargetAmount.Currency, Valid: true}
		}
		_, err := stmt.ExecContext(ctx,
			string(t.ID), string(t.Kind), t.Amount.Value.String(), t.Amount.Currency,
			t.OccurredOn.String(), string(t.Account), string(t.TargetAccount),
			targetAmount, targetCurrency, t.Category, t.Subcategory, t.Description,
			string(t.SeriesID), t.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *Store) saveAccounts(ctx context.Context, tx *sql.Tx, accounts []ledger.Account) error {
	for _, a := range accounts {
		derived := 0
		if a.DerivedFromHistory {
			derived = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (id, name, currency, initial_balance, derived_from_history, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			string(a.ID), a.Name, a.Currency, a.InitialBalance.String(), derived,
			a.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert account %s: %w", a.ID, err)
		}
	}
	return nil
}

func (s *Store) saveSeries(ctx context.Context, tx *sql.Tx, series []ledger.RecurringSeries) error {
	for _, sr := range series {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO series
			(id, frequency, interval, start_date, amount, currency, kind, category, account_id, status, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(sr.ID), string(sr.Frequency), sr.Interval, sr.StartDate.String(),
			sr.Amount.Value.String(), sr.Amount.Currency, string(sr.Kind), sr.Category,
			string(sr.Account), string(sr.Status), sr.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return fmt.Errorf("insert series %s: %w", sr.ID, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap ledger.Snapshot
	var err error

	if snap.Transactions, err = s.loadTransactions(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Accounts, err = s.loadAccounts(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Categories, err = s.loadCategories(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Series, err = s.loadSeries(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Occurrences, err = s.loadOccurrences(ctx); err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) loadTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, amount, currency, occurred_on, account_id, target_account_id,
		       target_amount, target_currency, category, subcategory, description, series_id, created_at
		FROM transactions`)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []ledger.Transaction
	for rows.Next() {
		var (
			t                            ledger.Transaction
			id, kind, amount, currency   string
			occurredOn, createdAt        string
			account, target              string
			targetAmount, targetCurrency sql.NullString
		)
		err := rows.Scan(&id, &kind, &amount, &currency, &occurredOn, &account, &target,
			&targetAmount, &targetCurrency, &t.Category, &t.Subcategory, &t.Description,
			(*string)(&t.SeriesID), &createdAt)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}

		t.ID = ledger.TransactionID(id)
		t.Kind = ledger.TransactionKind(kind)
		t.Account = ledger.AccountID(account)
		t.TargetAccount = ledger.AccountID(target)
		if t.Amount.Value, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount for %s: %w", id, err)
		}
		t.Amount.Currency = currency
		if targetAmount.Valid {
			v, err := decimal.NewFromString(targetAmount.String)
			if err != nil {
				return nil, fmt.Errorf("parse target amount for %s: %w", id, err)
			}
			t.TargetAmount = &ledger.Money{Value: v, Currency: targetCurrency.String}
		}
		if t.OccurredOn, err = parseDate(occurredOn); err != nil {
			return nil, fmt.Errorf("parse occurred_on for %s: %w", id, err)
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", id, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) loadAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, currency, initial_balance, derived_from_history, created_at FROM accounts")
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []ledger.Account
	for rows.Next() {
		var (
			a                   ledger.Account
			id, initial, created string
			derived             int
		)
		if err := rows.Scan(&id, &a.Name, &a.Currency, &initial, &derived, &created); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.ID = ledger.AccountID(id)
		a.DerivedFromHistory = derived != 0
		if a.InitialBalance, err = decimal.NewFromString(initial); err != nil {
			return nil, fmt.Errorf("parse initial balance for %s: %w", id, err)
		}
		if a.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", id, err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) loadCategories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM categories ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *Store) loadSeries(ctx context.Context) ([]ledger.RecurringSeries, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, frequency, interval, start_date, amount, currency, kind, category, account_id, status, created_at
		FROM series`)
	if err != nil {
		return nil, fmt.Errorf("query series: %w", err)
	}
	defer rows.Close()

	var out []ledger.RecurringSeries
	for rows.Next() {
		var (
			sr                         ledger.RecurringSeries
			id, freq, start, amount    string
			currency, kind, acct, stat string
			created                    string
		)
		err := rows.Scan(&id, &freq, &sr.Interval, &start, &amount, &currency, &kind,
			&sr.Category, &acct, &stat, &created)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		sr.ID = ledger.SeriesID(id)
		sr.Frequency = ledger.Frequency(freq)
		sr.Kind = ledger.TransactionKind(kind)
		sr.Account = ledger.AccountID(acct)
		sr.Status = ledger.SeriesStatus(stat)
		if sr.StartDate, err = parseDate(start); err != nil {
			return nil, fmt.Errorf("parse start_date for %s: %w", id, err)
		}
		if sr.Amount.Value, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("parse amount for %s: %w", id, err)
		}
		sr.Amount.Currency = currency
		if sr.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parse created_at for %s: %w", id, err)
		}
		out = append(out, sr)
	}
	return out, rows.Err()
}

func (s *Store) loadOccurrences(ctx context.Context) ([]ledger.Occurrence, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT series_id, on_date, transaction_id FROM occurrences")
	if err != nil {
		return nil, fmt.Errorf("query occurrences: %w", err)
	}
	defer rows.Close()

	var out []ledger.Occurrence
	for rows.Next() {
		var sid, on, tid string
		if err := rows.Scan(&sid, &on, &tid); err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		d, err := parseDate(on)
		if err != nil {
			return nil, fmt.Errorf("parse occurrence date: %w", err)
		}
		out = append(out, ledger.Occurrence{
			SeriesID:    ledger.SeriesID(sid),
			On:          d,
			Transaction: ledger.TransactionID(tid),
		})
	}
	return out, rows.Err()
}

func parseDate(s string) (ledger.Date, error) {
	t, err := time.Parse(dateFormat, s)
	if err != nil {
		return ledger.Date{}, err
	}
	return ledger.DateOf(t), nil
}
