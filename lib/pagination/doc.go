// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pagination folds historical pages into a scope's records.
//
// [MergePage] is a pure function: it concatenates the existing records
// with a page, keeps one record per id, and sorts by timestamp.
// Merging the same page twice gives the same result as merging it once,
// so a page that overlaps live deliveries or an earlier page never
// duplicates or reorders anything.
//
// Page requests race with each other. A [Sequencer] issues a [Ticket]
// per request; only the latest ticket for a scope is current, and the
// response to any older ticket is dropped without touching the store.
package pagination
