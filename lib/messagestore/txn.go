// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagestore

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// Txn is the mutation handle passed to Update callbacks. It is only
// valid for the duration of the callback.
type Txn struct {
	store    *Store
	changes  []Change
	readOnly bool
}

// Scope returns the store's scope.
func (tx *Txn) Scope() chat.ScopeID { return tx.store.scope }

func (tx *Txn) writable() {
	if tx.readOnly {
		panic("messagestore: mutation through a read-only transaction")
	}
}

// claim checks the record's scope, filling it in when unset.
func (tx *Txn) claim(record *chat.Record) error {
	if record.ID == "" {
		return fmt.Errorf("messagestore: record without id")
	}
	if record.Scope.IsZero() {
		record.Scope = tx.store.scope
		return nil
	}
	if record.Scope != tx.store.scope {
		return fmt.Errorf("%w: %s is in %s, store is %s",
			ErrWrongScope, record.ID, record.Scope, tx.store.scope)
	}
	return nil
}

// Insert adds record at its ordered position and assigns its
// insertion sequence.
func (tx *Txn) Insert(record chat.Record) error {
	tx.writable()
	record = record.Clone()
	if err := tx.claim(&record); err != nil {
		return err
	}
	line := &tx.store.line
	if line.indexOf(record.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
	}
	record.Sequence = tx.store.nextSequence
	tx.store.nextSequence++
	line.insert(record)
	tx.changes = append(tx.changes, Change{Kind: ChangeInserted, ID: record.ID})
	return nil
}

// Replace swaps the record with oldID for record. The replacement
// inherits the old insertion sequence and is repositioned by its own
// timestamp.
func (tx *Txn) Replace(oldID string, record chat.Record) error {
	tx.writable()
	record = record.Clone()
	if err := tx.claim(&record); err != nil {
		return err
	}
	line := &tx.store.line
	index := line.indexOf(oldID)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, oldID)
	}
	if record.ID != oldID && line.indexOf(record.ID) >= 0 {
		return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
	}
	old := line.removeAt(index)
	record.Sequence = old.Sequence
	line.insert(record)
	tx.changes = append(tx.changes, Change{Kind: ChangeReplaced, ID: record.ID, PreviousID: oldID})
	return nil
}

// Modify applies mutate to a copy of the record with id and stores the
// result. mutate must not change the id or scope.
func (tx *Txn) Modify(id string, mutate func(record *chat.Record)) error {
	tx.writable()
	line := &tx.store.line
	index := line.indexOf(id)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	updated := line.records[index].Clone()
	mutate(&updated)
	if updated.ID != id {
		return fmt.Errorf("messagestore: modify changed id %s to %s; use Replace", id, updated.ID)
	}
	if updated.Scope != tx.store.scope {
		return fmt.Errorf("%w: modify moved %s to %s", ErrWrongScope, id, updated.Scope)
	}
	updated.Sequence = line.records[index].Sequence
	line.move(index, updated)
	tx.changes = append(tx.changes, Change{Kind: ChangeModified, ID: id})
	return nil
}

// Remove deletes the record with id.
func (tx *Txn) Remove(id string) error {
	tx.writable()
	line := &tx.store.line
	index := line.indexOf(id)
	if index < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	line.removeAt(index)
	tx.changes = append(tx.changes, Change{Kind: ChangeRemoved, ID: id})
	return nil
}

// Load replaces the whole list with records. Records that carry a
// non-zero Sequence keep it; the rest are assigned fresh sequences in
// the order given. The result is sorted.
func (tx *Txn) Load(records []chat.Record) error {
	tx.writable()
	loaded := make([]chat.Record, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	next := tx.store.nextSequence
	for _, record := range records {
		if record.Sequence >= next {
			next = record.Sequence + 1
		}
	}
	for _, record := range records {
		record = record.Clone()
		if err := tx.claim(&record); err != nil {
			return err
		}
		if _, duplicate := seen[record.ID]; duplicate {
			return fmt.Errorf("%w: %s", ErrDuplicateID, record.ID)
		}
		seen[record.ID] = struct{}{}
		if record.Sequence == 0 {
			record.Sequence = next
			next++
		}
		loaded = append(loaded, record)
	}
	sortRecords(loaded)
	tx.store.line = newTimeline(loaded)
	tx.store.nextSequence = next
	tx.changes = append(tx.changes, Change{Kind: ChangeLoaded})
	return nil
}

// Get returns a copy of the record with id.
func (tx *Txn) Get(id string) (chat.Record, bool) {
	index := tx.store.line.indexOf(id)
	if index < 0 {
		return chat.Record{}, false
	}
	return tx.store.line.records[index].Clone(), true
}

// All returns copies of every record in order.
func (tx *Txn) All() []chat.Record {
	return tx.store.line.cloneRecords()
}

// Len returns the number of records.
func (tx *Txn) Len() int { return len(tx.store.line.records) }

// Pending returns the unconfirmed optimistic records in insertion
// order.
func (tx *Txn) Pending() []chat.Record {
	var pending []chat.Record
	for _, record := range tx.store.line.records {
		if record.Pending() {
			pending = append(pending, record.Clone())
		}
	}
	slices.SortFunc(pending, func(a, b chat.Record) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
	return pending
}

// Candidates returns the optimistic records, pending or failed, whose
// author and normalized content match key, in insertion order.
func (tx *Txn) Candidates(key chat.ContentKey) []chat.Record {
	return tx.store.line.matching(key)
}

// Failed returns copies of the failed records in order.
func (tx *Txn) Failed() []chat.Record {
	var failed []chat.Record
	for _, record := range tx.store.line.records {
		if record.Failed() {
			failed = append(failed, record.Clone())
		}
	}
	return failed
}
