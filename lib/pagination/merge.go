// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagination

import (
	"slices"

	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// MergePage returns existing and page combined: one record per id,
// stably sorted by timestamp. Neither input is modified.
//
// When both sides hold the same id, the winner is chosen by:
//   - a local record with an edit or delete in flight is kept, so a
//     page fetched mid-operation cannot undo the optimistic change;
//   - a confirmed record beats an optimistic one;
//   - otherwise the page copy wins, keeping the existing insertion
//     sequence and correlation id when the page does not carry them.
//
// Records without an id are dropped.
func MergePage(existing, page []chat.Record) []chat.Record {
	merged := make([]chat.Record, 0, len(existing)+len(page))
	index := make(map[string]int, len(existing)+len(page))

	add := func(record chat.Record) {
		if record.ID == "" {
			return
		}
		position, seen := index[record.ID]
		if !seen {
			index[record.ID] = len(merged)
			merged = append(merged, record.Clone())
			return
		}
		merged[position] = prefer(merged[position], record)
	}
	for _, record := range existing {
		add(record)
	}
	for _, record := range page {
		add(record)
	}

	slices.SortStableFunc(merged, func(a, b chat.Record) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return merged
}

// prefer picks between the current holder of an id and a later copy.
func prefer(current, incoming chat.Record) chat.Record {
	switch {
	case current.Busy():
		return current
	case current.Optimistic && !incoming.Optimistic:
		return adopt(current, incoming)
	case !current.Optimistic && incoming.Optimistic:
		return current
	case current.Optimistic:
		return current
	default:
		return adopt(current, incoming)
	}
}

func adopt(current, incoming chat.Record) chat.Record {
	winner := incoming.Clone()
	if winner.Sequence == 0 {
		winner.Sequence = current.Sequence
	}
	if winner.CorrelationID == "" {
		winner.CorrelationID = current.CorrelationID
	}
	return winner
}

// Merge folds page into the store inside tx. It reports whether the
// store changed; an unchanged merge records no mutation, so
// subscribers are not notified.
func Merge(tx *messagestore.Txn, page []chat.Record) (bool, error) {
	existing := tx.All()
	merged := MergePage(existing, page)
	if sameRecords(existing, merged) {
		return false, nil
	}
	if err := tx.Load(merged); err != nil {
		return false, err
	}
	return true, nil
}

func sameRecords(a, b []chat.Record) bool {
	return slices.EqualFunc(a, b, sameRecord)
}

func sameRecord(a, b chat.Record) bool {
	return a.ID == b.ID &&
		a.Scope == b.Scope &&
		a.ParentID == b.ParentID &&
		a.Content == b.Content &&
		a.Author == b.Author &&
		a.Timestamp.Equal(b.Timestamp) &&
		a.EditedAt.Equal(b.EditedAt) &&
		a.Reactions.Equal(b.Reactions) &&
		a.Optimistic == b.Optimistic &&
		a.State == b.State &&
		a.CorrelationID == b.CorrelationID &&
		a.FailureReason == b.FailureReason &&
		a.Editing == b.Editing &&
		a.Deleting == b.Deleting
}
