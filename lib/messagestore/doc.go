// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messagestore holds the canonical ordered record list for one
// conversation scope.
//
// A [Store] keeps its records sorted by timestamp, with ties broken by
// insertion sequence, and holds at most one record per id. Inserts
// find their position by binary search instead of appending and
// re-sorting. Every mutation runs inside [Store.Update], which is
// transactional: if the callback returns an error (or panics) the
// store is restored to the state it had before the call. Subscribers
// are notified once per committed Update rather than once per
// mutation, so a replace followed by an expiry sweep renders as a
// single change.
//
// Failed records stay in the list (distinguished by their delivery
// state) so the user can retry or discard them. Their number is
// bounded by [Options.FailedLimit]; when a commit pushes the count
// over the limit, the oldest failures are evicted.
//
// [Store.Snapshot] and [Restore] encode a store's contents as
// compressed CBOR so an unobserved scope can be parked without losing
// failed records and the input they preserve.
//
// Store is safe for concurrent use. Update callbacks run with the
// store lock held and must not call methods on the Store itself; use
// the [Txn] they receive.
package messagestore
