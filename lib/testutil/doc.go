// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireSend] wrap the select-with-timeout
// safety valve so that tests of goroutine-driven code do not hang when
// a value never arrives. They are the only place tests use wall-clock
// timeouts; everything time-dependent in the code under test runs on
// a fake clock. [RequireNoReceive] asserts that nothing is ready on a
// channel right now, which is how tests check that a store did not
// notify.
//
// [UniqueID] generates distinguishable ids and message bodies.
//
// All helpers call t.Fatalf on failure.
package testutil
