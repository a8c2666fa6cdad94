// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrInFlight is returned when an operation is started on a key that
// already has one outstanding.
var ErrInFlight = errors.New("optimistic: operation already in flight")

// State is the per-key position in the operation state machine.
type State int

const (
	Idle State = iota
	InFlight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Tracker records which keys have an operation outstanding. The zero
// value is ready to use. Safe for concurrent use.
type Tracker[K comparable] struct {
	mu   sync.Mutex
	keys map[K]struct{}
}

// State returns the state of key.
func (t *Tracker[K]) State(key K) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.keys[key]; busy {
		return InFlight
	}
	return Idle
}

// Len returns the number of keys in flight.
func (t *Tracker[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.keys)
}

// Acquire moves key from Idle to InFlight. The returned release moves
// it back and is safe to call more than once.
func (t *Tracker[K]) Acquire(key K) (release func(), err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, busy := t.keys[key]; busy {
		return nil, fmt.Errorf("%w: %v", ErrInFlight, key)
	}
	if t.keys == nil {
		t.keys = make(map[K]struct{})
	}
	t.keys[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.keys, key)
		})
	}, nil
}

// Operation describes one speculative mutation. S is the snapshot
// captured before the change; R is the server's response.
type Operation[S, R any] struct {
	// Apply captures the snapshot and applies the optimistic change.
	// If it fails, nothing was changed and no request is issued.
	Apply func() (S, error)

	// Request performs the round trip.
	Request func(ctx context.Context) (R, error)

	// Confirm installs the authoritative result. Optional. A Confirm
	// error triggers Rollback.
	Confirm func(result R) error

	// Rollback restores the snapshot after a failed Request or
	// Confirm.
	Rollback func(snapshot S)
}

// PanicError wraps a value recovered from a panicking Request.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("optimistic: request panicked: %v", e.Value)
}

// Execute runs op under key. It returns ErrInFlight without applying
// anything if key is busy. On request or confirm failure the snapshot
// is restored and the error returned. The key is released on every
// path.
func Execute[K comparable, S, R any](ctx context.Context, tracker *Tracker[K], key K, op Operation[S, R]) (R, error) {
	var zero R

	release, err := tracker.Acquire(key)
	if err != nil {
		return zero, err
	}
	defer release()

	snapshot, err := op.Apply()
	if err != nil {
		return zero, err
	}

	result, err := request(ctx, op.Request)
	if err == nil && op.Confirm != nil {
		err = op.Confirm(result)
	}
	if err != nil {
		op.Rollback(snapshot)
		return zero, err
	}
	return result, nil
}

// request calls fn, converting a panic into a *PanicError.
func request[R any](ctx context.Context, fn func(context.Context) (R, error)) (result R, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = &PanicError{Value: recovered}
		}
	}()
	return fn(ctx)
}
