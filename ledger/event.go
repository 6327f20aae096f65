/*
event.go - The closed set of mutation events

PURPOSE:
  Every mutation the Ledger performs is expressed as exactly one of the
  event types below and pushed through one pipeline. Balance updates, cache
  invalidation, persistence and notification all consume the same event, so
  no consuming stage can silently skip a mutation kind.

SEALED VARIANT:
  Event is a sealed interface (unexported marker method), so the full set
  of event kinds is known to this package. The consuming switches in
  store.go cover every kind and fail loudly on an unknown one instead of
  ignoring it.
*/
package ledger

import "time"

// Event is one applied mutation. External observers receive it through the
// Notifier after the in-memory state change has committed.
type Event interface {
	// Kind returns a stable name for the event, used in notifications
	// and logs.
	Kind() string

	event()
}

// TxAdded is emitted for a single added transaction.
type TxAdded struct {
	Tx Transaction
	At time.Time
}

// TxUpdated carries both records: reverting Old and applying New is the
// defining balance rule for updates.
type TxUpdated struct {
	Old Transaction
	New Transaction
	At  time.Time
}

// TxDeleted is emitted for a removed transaction.
type TxDeleted struct {
	Tx Transaction
	At time.Time
}

// TxBulkAdded is emitted once for an import batch, however large.
type TxBulkAdded struct {
	Txs []Transaction
	At  time.Time
}

// SeriesCreated is emitted when a recurring series is created; Generated
// holds the occurrences materialized as part of the same step.
type SeriesCreated struct {
	Series    RecurringSeries
	Generated []Transaction
	At        time.Time
}

// SeriesUpdated is emitted when a series definition changes; Generated
// holds newly materialized occurrences under the new definition.
type SeriesUpdated struct {
	Old       RecurringSeries
	New       RecurringSeries
	Generated []Transaction
	At        time.Time
}

// SeriesEnded is emitted when a series stops producing occurrences.
type SeriesEnded struct {
	Series RecurringSeries
	At     time.Time
}

// SeriesDeleted is emitted when a series is removed; Removed holds the
// generated transactions deleted by a cascade, empty otherwise.
type SeriesDeleted struct {
	Series  RecurringSeries
	Removed []Transaction
	At      time.Time
}

// AccountAdded is emitted when an account is created.
type AccountAdded struct {
	Account Account
	At      time.Time
}

// AccountDeleted is emitted when an account is removed; Removed holds
// cascaded transaction deletions, empty otherwise.
type AccountDeleted struct {
	Account Account
	Removed []Transaction
	At      time.Time
}

func (TxAdded) Kind() string        { return "transaction_added" }
func (TxUpdated) Kind() string      { return "transaction_updated" }
func (TxDeleted) Kind() string      { return "transaction_deleted" }
func (TxBulkAdded) Kind() string    { return "transactions_bulk_added" }
func (SeriesCreated) Kind() string  { return "series_created" }
func (SeriesUpdated) Kind() string  { return "series_updated" }
func (SeriesEnded) Kind() string    { return "series_stopped" }
func (SeriesDeleted) Kind() string  { return "series_deleted" }
func (AccountAdded) Kind() string   { return "account_added" }
func (AccountDeleted) Kind() string { return "account_deleted" }

func (TxAdded) event()        {}
func (TxUpdated) event()      {}
func (TxDeleted) event()      {}
func (TxBulkAdded) event()    {}
func (SeriesCreated) event()  {}
func (SeriesUpdated) event()  {}
func (SeriesEnded) event()    {}
func (SeriesDeleted) event()  {}
func (AccountAdded) event()   {}
func (AccountDeleted) event() {}
