// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package chat defines the record model shared by every part of the
// sync engine, and the wire shapes of the backend it talks to.
//
// [Record] is the unit the engine manipulates: a message or a task
// comment as displayed in one [ScopeID]. A record is either optimistic
// (created locally, carrying a temporary id from the reserved "tmp-"
// namespace) or confirmed (carrying a server id). [DeliveryState]
// tracks where it is in that lifecycle.
//
// The wire types ([MessagePayload], [Comment], [StreamEvent]) mirror
// the JSON the backend sends. Conversion to records happens through
// [MessagePayload.Record] and [Comment.Record] so that no other
// package depends on field spellings like "user_id" or "up_count".
//
// This package has no dependencies beyond the standard library.
package chat
