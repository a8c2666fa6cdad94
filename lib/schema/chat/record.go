// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"strings"
	"time"
)

// TemporaryIDPrefix marks ids minted on the client for optimistic
// records. Server ids never carry it.
const TemporaryIDPrefix = "tmp-"

// IsTemporaryID reports whether id belongs to the client-reserved id
// space.
func IsTemporaryID(id string) bool {
	return strings.HasPrefix(id, TemporaryIDPrefix)
}

// DeliveryState is the lifecycle position of a record. Values are
// self-describing strings.
type DeliveryState string

const (
	// DeliveryPending means the record was created locally and no
	// confirmation has been matched to it yet.
	DeliveryPending DeliveryState = "pending"

	// DeliveryConfirmed means the record carries server-issued
	// identity and content.
	DeliveryConfirmed DeliveryState = "confirmed"

	// DeliveryFailed means the originating request errored, or no
	// confirmation arrived within the dedup window. The record keeps
	// the user's input so it can be retried or discarded.
	DeliveryFailed DeliveryState = "failed"
)

// Author identifies who created a record.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Record is one message or comment in a scope.
type Record struct {
	// ID is the server id, or a temporary id for optimistic records.
	ID string

	Scope ScopeID

	// ParentID is the reply-to message or the thread root.
	ParentID string

	Content string
	Author  Author

	// Timestamp is client-assigned while optimistic and
	// server-assigned once confirmed.
	Timestamp time.Time

	// EditedAt is the server-reported time of the last edit. Zero if
	// the record was never edited.
	EditedAt time.Time

	Reactions Reactions

	Optimistic bool
	State      DeliveryState

	// CorrelationID is the client transaction id sent with the
	// originating request. Servers that echo it let reconciliation
	// match without relying on content.
	CorrelationID string

	// FailureReason describes why State is DeliveryFailed.
	FailureReason string

	// Editing and Deleting are set while an edit or delete request for
	// this record is outstanding.
	Editing  bool
	Deleting bool

	// Sequence is the insertion sequence assigned by the store. It
	// breaks timestamp ties and orders optimistic matching.
	Sequence uint64
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	r.Reactions = r.Reactions.Clone()
	return r
}

// Busy reports whether an edit or delete is in flight.
func (r Record) Busy() bool { return r.Editing || r.Deleting }

// Failed reports whether the record is in DeliveryFailed.
func (r Record) Failed() bool { return r.State == DeliveryFailed }

// Pending reports whether the record is an unconfirmed optimistic
// record that can still be matched by a confirmation.
func (r Record) Pending() bool { return r.Optimistic && r.State == DeliveryPending }

// Before reports whether r sorts before other: by timestamp, then by
// insertion sequence.
func (r Record) Before(other Record) bool {
	if c := r.Timestamp.Compare(other.Timestamp); c != 0 {
		return c < 0
	}
	return r.Sequence < other.Sequence
}
