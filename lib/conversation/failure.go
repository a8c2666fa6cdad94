// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/threadsync/lib/editing"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/optimistic"
	"github.com/bureau-foundation/threadsync/lib/reaction"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/messaging"
)

// ErrDetached is returned by operations on a conversation whose last
// observer has detached.
var ErrDetached = errors.New("conversation: scope is detached")

// Operation names used in Failure.Op.
const (
	OpSend    = "send"
	OpRetry   = "retry"
	OpLoad    = "load_page"
	OpRefresh = "refresh"
	OpComment = "add_comment"
	OpReact   = "react"
	OpEdit    = "edit"
	OpDelete  = "delete"
)

// Failure is a user-facing error. Local state has already been rolled
// back or marked failed when a Failure is reported.
type Failure struct {
	Op       string
	Scope    chat.ScopeID
	RecordID string

	// Retryable is false when repeating the operation cannot succeed:
	// permission was refused or the input was rejected.
	Retryable bool

	Err error
}

func (f *Failure) Error() string {
	if f.RecordID != "" {
		return fmt.Sprintf("conversation: %s %s in %s: %v", f.Op, f.RecordID, f.Scope, f.Err)
	}
	return fmt.Sprintf("conversation: %s in %s: %v", f.Op, f.Scope, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Notifier receives failures for display.
type Notifier interface {
	Notify(failure Failure)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(failure Failure)

func (f NotifierFunc) Notify(failure Failure) { f(failure) }

// retryable classifies err. Unknown errors count as transport failures.
func retryable(err error) bool {
	switch {
	case errors.Is(err, editing.ErrForbidden),
		errors.Is(err, editing.ErrNotConfirmed),
		errors.Is(err, reaction.ErrNotConfirmed),
		errors.Is(err, messagestore.ErrNotFound),
		errors.Is(err, optimistic.ErrInvalidAction):
		return false
	case messaging.IsAPIError(err, messaging.ErrCodeForbidden),
		messaging.IsAPIError(err, messaging.ErrCodeUnauthorized),
		messaging.IsAPIError(err, messaging.ErrCodeInvalidInput),
		messaging.IsAPIError(err, messaging.ErrCodeNotFound):
		return false
	default:
		return true
	}
}

// quiet reports errors that describe a refused attempt rather than a
// failure worth notifying about.
func quiet(err error) bool {
	return errors.Is(err, ErrDetached) ||
		errors.Is(err, optimistic.ErrInFlight) ||
		errors.Is(err, editing.ErrBusy)
}
