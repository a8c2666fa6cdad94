// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagestore

import (
	"slices"
	"sort"

	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// timeline is the sorted record slice with its indexes. Stored records
// are never mutated in place: every change stores a fresh copy, so a
// shallow copy of records is enough to restore the timeline. Not safe
// for concurrent use.
type timeline struct {
	records []chat.Record

	// positions maps every record id to its index in records.
	positions map[string]int

	// candidates lists optimistic record ids by content key in
	// insertion order. keys remembers each indexed id's key so the
	// content is hashed once per record.
	candidates map[chat.ContentKey][]string
	keys       map[string]chat.ContentKey
}

// newTimeline indexes records, which must already be sorted.
func newTimeline(records []chat.Record) timeline {
	line := timeline{
		records:    records,
		positions:  make(map[string]int, len(records)),
		candidates: make(map[chat.ContentKey][]string),
		keys:       make(map[string]chat.ContentKey),
	}
	for i, record := range records {
		line.positions[record.ID] = i
		line.index(record)
	}
	return line
}

// position returns the index at which record belongs: after every
// record that sorts before it.
func (line *timeline) position(record chat.Record) int {
	return sort.Search(len(line.records), func(i int) bool {
		return record.Before(line.records[i])
	})
}

func (line *timeline) insert(record chat.Record) {
	at := line.position(record)
	line.records = slices.Insert(line.records, at, record)
	line.renumber(at)
	line.index(record)
}

func (line *timeline) indexOf(id string) int {
	if i, ok := line.positions[id]; ok {
		return i
	}
	return -1
}

func (line *timeline) removeAt(index int) chat.Record {
	removed := line.records[index]
	line.records = slices.Delete(line.records, index, index+1)
	delete(line.positions, removed.ID)
	line.renumber(index)
	line.unindex(removed.ID)
	return removed
}

// move stores updated in place of the record at index, repositioning
// it. The content key is kept when author and content are unchanged.
func (line *timeline) move(index int, updated chat.Record) {
	old := line.records[index]
	key, indexed := line.keys[old.ID]
	keep := indexed && updated.Optimistic &&
		old.Content == updated.Content && old.Author.ID == updated.Author.ID

	line.records = slices.Delete(line.records, index, index+1)
	delete(line.positions, old.ID)
	line.unindex(old.ID)
	at := line.position(updated)
	line.records = slices.Insert(line.records, at, updated)
	line.renumber(min(index, at))
	if keep {
		line.keys[updated.ID] = key
		line.candidates[key] = append(line.candidates[key], updated.ID)
		return
	}
	line.index(updated)
}

// renumber refreshes positions from index to the end.
func (line *timeline) renumber(from int) {
	for i := from; i < len(line.records); i++ {
		line.positions[line.records[i].ID] = i
	}
}

// index adds an optimistic record to the candidate index.
func (line *timeline) index(record chat.Record) {
	if !record.Optimistic {
		return
	}
	key := chat.ContentKeyOf(record)
	line.keys[record.ID] = key
	line.candidates[key] = append(line.candidates[key], record.ID)
}

func (line *timeline) unindex(id string) {
	key, ok := line.keys[id]
	if !ok {
		return
	}
	delete(line.keys, id)
	ids := slices.DeleteFunc(line.candidates[key], func(candidate string) bool { return candidate == id })
	if len(ids) == 0 {
		delete(line.candidates, key)
		return
	}
	line.candidates[key] = ids
}

// matching returns the optimistic records under key ordered by
// insertion sequence.
func (line *timeline) matching(key chat.ContentKey) []chat.Record {
	ids := line.candidates[key]
	if len(ids) == 0 {
		return nil
	}
	records := make([]chat.Record, 0, len(ids))
	for _, id := range ids {
		records = append(records, line.records[line.positions[id]].Clone())
	}
	slices.SortFunc(records, func(a, b chat.Record) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		default:
			return 0
		}
	})
	return records
}

// saved returns a shallow copy of the records for rollback.
func (line *timeline) saved() []chat.Record {
	return slices.Clone(line.records)
}

// cloneRecords returns deep copies of the records in order.
func (line *timeline) cloneRecords() []chat.Record {
	records := make([]chat.Record, len(line.records))
	for i, record := range line.records {
		records[i] = record.Clone()
	}
	return records
}

func sortRecords(records []chat.Record) {
	slices.SortStableFunc(records, func(a, b chat.Record) int {
		switch {
		case a.Before(b):
			return -1
		case b.Before(a):
			return 1
		default:
			return 0
		}
	})
}
