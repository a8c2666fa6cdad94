// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reconcile folds server confirmations into a scope's store.
//
// Every inbound confirmation (a live stream event, or the response to
// the request that created a record) goes through [Engine]. The engine
// decides whether the confirmation is a duplicate delivery, the
// counterpart of a local optimistic record, or a record from someone
// else, and mutates the store accordingly in one batch:
//
//  1. A stored record with the confirmation's id means duplicate
//     delivery. The event is dropped. If an optimistic counterpart is
//     still present (a page fetch confirmed the record before the
//     stream did) it is superseded.
//  2. If the confirmation carries a correlation id, the optimistic
//     record with the same id is its counterpart. The correlation id
//     is conclusive: with no such record, there is no counterpart.
//  3. Without a correlation id, the first optimistic record, pending
//     or failed, in insertion order, by the same author with the same
//     trimmed case-folded content and a timestamp within the dedup
//     window is its counterpart. Candidates come from the store's
//     index by author and content fingerprint.
//  4. A counterpart is replaced by the confirmation. With none, the
//     confirmation is inserted.
//
// After each batch, pending optimistic records older than the window
// are marked failed. They are not deleted: the user's input stays
// available for retry.
//
// A confirmed record that took over an optimistic record inherits its
// correlation id. Only confirmed records without one are eligible for
// heuristic pairing, so each confirmation absorbs at most one local
// record even when an actor posts the same text twice within the
// window.
//
// [MatchMode] selects which of steps 2 and 3 run. The heuristic alone
// reproduces servers that never echo a client transaction id.
package reconcile
