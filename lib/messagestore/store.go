// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagestore

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// DefaultFailedLimit is the number of failed records retained when
// Options.FailedLimit is zero.
const DefaultFailedLimit = 50

var (
	// ErrNotFound is returned when an operation names an id the store
	// does not hold.
	ErrNotFound = errors.New("messagestore: record not found")

	// ErrDuplicateID is returned when a mutation would leave two
	// records with the same id.
	ErrDuplicateID = errors.New("messagestore: duplicate record id")

	// ErrWrongScope is returned when a record belongs to a different
	// scope than the store.
	ErrWrongScope = errors.New("messagestore: record belongs to a different scope")
)

// Options configures a Store.
type Options struct {
	// FailedLimit bounds how many failed records are retained. Zero
	// means DefaultFailedLimit. Negative means unbounded.
	FailedLimit int

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

// ChangeKind classifies one mutation within a committed Update.
type ChangeKind string

const (
	ChangeInserted ChangeKind = "inserted"
	ChangeReplaced ChangeKind = "replaced"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
	ChangeLoaded   ChangeKind = "loaded"
	ChangeEvicted  ChangeKind = "evicted"
)

// Change describes one mutation.
type Change struct {
	Kind ChangeKind
	ID   string

	// PreviousID is the id a Replace swapped out.
	PreviousID string
}

// Notification is delivered to subscribers after each committed
// Update that changed something.
type Notification struct {
	Scope   chat.ScopeID
	Version uint64
	Changes []Change

	// Records is the full ordered list after the commit. It is shared
	// between subscribers and must not be modified.
	Records []chat.Record
}

// Store is the ordered record list for one scope.
type Store struct {
	scope       chat.ScopeID
	failedLimit int
	logger      *slog.Logger

	mu             sync.Mutex
	line           timeline
	nextSequence   uint64
	version        uint64
	subscribers    map[uint64]chan Notification
	nextSubscriber uint64
}

// New returns an empty store for scope.
func New(scope chat.ScopeID, options Options) *Store {
	limit := options.FailedLimit
	if limit == 0 {
		limit = DefaultFailedLimit
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		scope:        scope,
		failedLimit:  limit,
		logger:       logger,
		line:         newTimeline(nil),
		nextSequence: 1,
		subscribers:  make(map[uint64]chan Notification),
	}
}

// Scope returns the scope the store serves.
func (s *Store) Scope() chat.ScopeID { return s.scope }

// Update runs fn as one batch. If fn returns an error or panics, every
// mutation it made is undone and no notification is sent. Otherwise,
// if fn changed anything, failed records over the limit are evicted
// and subscribers receive one Notification.
func (s *Store) Update(fn func(tx *Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.line.saved()
	savedSequence := s.nextSequence
	committed := false
	defer func() {
		if !committed {
			s.line = newTimeline(saved)
			s.nextSequence = savedSequence
		}
	}()

	tx := &Txn{store: s}
	if err := fn(tx); err != nil {
		return err
	}
	committed = true

	if len(tx.changes) == 0 {
		return nil
	}
	tx.changes = append(tx.changes, s.evictFailedLocked()...)
	s.version++
	s.notifyLocked(tx.changes)
	return nil
}

// View runs fn with read access to the records. fn must not retain tx.
func (s *Store) View(fn func(tx *Txn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&Txn{store: s, readOnly: true})
}

// Insert adds record at its ordered position.
func (s *Store) Insert(record chat.Record) error {
	return s.Update(func(tx *Txn) error { return tx.Insert(record) })
}

// Replace swaps the record with oldID for record, recomputing its
// position.
func (s *Store) Replace(oldID string, record chat.Record) error {
	return s.Update(func(tx *Txn) error { return tx.Replace(oldID, record) })
}

// Remove deletes the record with id.
func (s *Store) Remove(id string) error {
	return s.Update(func(tx *Txn) error { return tx.Remove(id) })
}

// Get returns a copy of the record with id.
func (s *Store) Get(id string) (chat.Record, bool) {
	var record chat.Record
	var found bool
	s.View(func(tx *Txn) { record, found = tx.Get(id) })
	return record, found
}

// All returns a copy of every record in order.
func (s *Store) All() []chat.Record {
	var records []chat.Record
	s.View(func(tx *Txn) { records = tx.All() })
	return records
}

// Failed returns copies of the failed records in order.
func (s *Store) Failed() []chat.Record {
	var records []chat.Record
	s.View(func(tx *Txn) { records = tx.Failed() })
	return records
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.line.records)
}

// Version returns the number of committed batches.
func (s *Store) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Subscribe returns a channel of notifications and a cancel function.
// The channel holds only the latest notification: a slow reader skips
// intermediate versions but always observes the most recent one.
// cancel closes the channel and may be called more than once.
func (s *Store) Subscribe() (<-chan Notification, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextSubscriber
	s.nextSubscriber++
	channel := make(chan Notification, 1)
	s.subscribers[id] = channel

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(channel)
		})
	}
	return channel, cancel
}

// notifyLocked sends under the lock so that concurrent commits cannot
// deliver versions out of order.
func (s *Store) notifyLocked(changes []Change) {
	if len(s.subscribers) == 0 {
		return
	}
	notification := Notification{
		Scope:   s.scope,
		Version: s.version,
		Changes: changes,
		Records: s.line.cloneRecords(),
	}
	for _, channel := range s.subscribers {
		select {
		case channel <- notification:
			continue
		default:
		}
		select {
		case <-channel:
		default:
		}
		select {
		case channel <- notification:
		default:
		}
	}
}

// evictFailedLocked drops the oldest failed records until at most
// failedLimit remain.
func (s *Store) evictFailedLocked() []Change {
	if s.failedLimit < 0 {
		return nil
	}
	failed := 0
	for i := range s.line.records {
		if s.line.records[i].Failed() {
			failed++
		}
	}
	var changes []Change
	for index := 0; failed > s.failedLimit && index < len(s.line.records); {
		if !s.line.records[index].Failed() {
			index++
			continue
		}
		evicted := s.line.removeAt(index)
		failed--
		changes = append(changes, Change{Kind: ChangeEvicted, ID: evicted.ID})
		s.logger.Info("evicted failed record",
			"scope", s.scope.String(),
			"record_id", evicted.ID,
			"failed_limit", s.failedLimit,
		)
	}
	return changes
}
