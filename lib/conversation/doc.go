// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package conversation wires the sync components into per-scope
// conversations.
//
// A [Channel] is the top-level message list of a channel, a [Thread]
// the reply list under one thread root, and [TaskComments] the comment
// list of one task. Each owns a message store and a
// reconciliation engine. Sends and comment posts go through the
// optimistic path: the record is shown at once, the request is issued,
// and the response (or a matching stream event, whichever arrives
// first) confirms it. Page loads merge through a sequencer so a
// superseded response never lands, and the optimistic records a page
// confirms are retired in the same store batch. Comment reactions, edits, and
// deletes run through the reaction tracker and the edit coordinator.
//
// Errors a user should see are returned as [*Failure] and also passed
// to the configured [Notifier]. The store is never left half-mutated:
// every failed operation has already been rolled back, or, for sends,
// turned into a failed record the user can retry or discard.
//
// A [Hub] owns one conversation per scope and refcounts observers.
// Stream events are routed only to attached scopes. When the last
// observer detaches, the scope stops accepting events and its records
// are parked as a compressed snapshot; attaching again restores them,
// including failed sends.
//
// [NewSession] builds a Hub from a loaded configuration, backed by a
// messaging client and the live subscription.
package conversation
