// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package reaction applies vote toggles optimistically.
//
// [Tracker.Toggle] flips the actor's vote and adjusts the counter in
// the store at once, then asks the [Backend]. The backend's answer is
// authoritative: it replaces the local counters outright rather than
// being reconciled with the optimistic delta, so votes cast
// concurrently by other actors show up correctly. A failed request
// restores the counters captured before the toggle.
//
// Each (record, kind) pair runs through the optimistic state machine:
// a second toggle of the same pair while the first is outstanding is
// rejected with [optimistic.ErrInFlight].
package reaction
