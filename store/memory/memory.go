// Package memory provides an in-memory Persister (for testing/dev).
package memory

import (
	"context"
	"sync"

	"github.com/warp/ledger-core/ledger"
)

type Store struct {
	mu    sync.Mutex
	snap  ledger.Snapshot
	saves int

	// failWith, when set, makes Save fail until cleared. Used to exercise
	// the ledger's persistence-failure path.
	failWith error
}

func New() *Store { return &Store{} }

func (s *Store) Save(_ context.Context, snap ledger.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.snap = copySnapshot(snap)
	s.saves++
	return nil
}

func (s *Store) Load(_ context.Context) (ledger.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copySnapshot(s.snap), nil
}

// Saves returns how many saves have succeeded.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FailWith makes subsequent saves fail with err; nil restores success.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

func copySnapshot(snap ledger.Snapshot) ledger.Snapshot {
	return ledger.Snapshot{
		Transactions: append([]ledger.Transaction(nil), snap.Transactions...),
		Accounts:     append([]ledger.Account(nil), snap.Accounts...),
		Categories:   append([]string(nil), snap.Categories...),
		Series:       append([]ledger.RecurringSeries(nil), snap.Series...),
		Occurrences:  append([]ledger.Occurrence(nil), snap.Occurrences...),
	}
}
