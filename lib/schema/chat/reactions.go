// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import "maps"

// Reaction kinds used by task comments.
const (
	ReactionUp   = "up"
	ReactionDown = "down"
)

// Reactions holds per-kind counters and the current actor's own
// reaction. An actor holds at most one reaction per record. A kind
// with a zero count is absent from Counts.
type Reactions struct {
	Counts map[string]int `json:"counts,omitempty"`

	// Mine is the current actor's reaction kind, or empty.
	Mine string `json:"mine,omitempty"`
}

// Count returns the counter for kind.
func (r Reactions) Count(kind string) int { return r.Counts[kind] }

// Clone returns a copy that shares no map with r.
func (r Reactions) Clone() Reactions {
	if r.Counts != nil {
		r.Counts = maps.Clone(r.Counts)
	}
	return r
}

// Equal compares counters and the actor's reaction. Missing and zero
// counters are equal.
func (r Reactions) Equal(other Reactions) bool {
	if r.Mine != other.Mine {
		return false
	}
	for kind, count := range r.Counts {
		if other.Counts[kind] != count {
			return false
		}
	}
	for kind, count := range other.Counts {
		if r.Counts[kind] != count {
			return false
		}
	}
	return true
}

// Toggled returns the reactions after the actor toggles kind. Toggling
// the actor's current kind withdraws it. Toggling another kind moves
// the actor's reaction. r is not modified.
func (r Reactions) Toggled(kind string) Reactions {
	next := r.Clone()
	if next.Counts == nil {
		next.Counts = make(map[string]int)
	}
	if next.Mine != "" {
		next.adjust(next.Mine, -1)
	}
	if r.Mine == kind {
		next.Mine = ""
		return next
	}
	next.adjust(kind, 1)
	next.Mine = kind
	return next
}

func (r *Reactions) adjust(kind string, delta int) {
	count := r.Counts[kind] + delta
	if count <= 0 {
		delete(r.Counts, kind)
		return
	}
	r.Counts[kind] = count
}
