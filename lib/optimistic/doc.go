// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package optimistic creates provisional records and runs the
// apply/confirm/rollback cycle shared by every speculative mutation.
//
// [Factory] builds a pending record for a local action before any
// request is sent. Its id comes from the reserved "tmp-" namespace, so
// it can never collide with a server id, and it carries a fresh
// correlation id that is sent with the request.
//
// [Execute] drives one operation through a per-key state machine:
//
//	Idle --Acquire--> InFlight --success: Confirm--> Idle
//	                           --failure: Rollback--> Idle
//
// A second operation on a key that is InFlight is rejected with
// [ErrInFlight] before anything is applied. The key returns to Idle on
// every exit path, including a panic inside the request.
package optimistic
