// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by the sync
// engine.
//
// Every component that stamps optimistic records, measures the dedup
// window, or runs a periodic sweep takes a Clock instead of calling the
// time package. Production wiring passes Real(). Tests pass Fake(),
// whose time moves only when Advance is called, so window expiry and
// sweeps are exercised without sleeping.
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	engine := reconcile.New(store, reconcile.Options{Clock: c})
//	c.Advance(31 * time.Second)
//	engine.ExpireStale()
//
// Goroutines that block on a Fake ticker register a waiter. Tests call
// WaitForTimers before Advance to avoid racing that registration.
package clock
