// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package optimistic

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bureau-foundation/threadsync/lib/clock"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// CorrelationIDPrefix marks client transaction ids.
const CorrelationIDPrefix = "txn-"

// ErrInvalidAction is returned by Create for input no request could
// succeed with.
var ErrInvalidAction = errors.New("optimistic: invalid action")

// Action is a locally initiated post: a message, thread reply, or
// comment.
type Action struct {
	Scope    chat.ScopeID
	Content  string
	ParentID string
}

// Factory builds provisional records.
type Factory struct {
	clock clock.Clock
}

// NewFactory returns a Factory stamping records with clock.
func NewFactory(clock clock.Clock) *Factory {
	return &Factory{clock: clock}
}

// Create returns a pending optimistic record for action by actor,
// timestamped with the factory's clock.
func (f *Factory) Create(action Action, actor chat.Author) (chat.Record, error) {
	if err := action.Scope.Validate(); err != nil {
		return chat.Record{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	if strings.TrimSpace(action.Content) == "" {
		return chat.Record{}, fmt.Errorf("%w: content is empty", ErrInvalidAction)
	}
	if actor.ID == "" {
		return chat.Record{}, fmt.Errorf("%w: actor id is required", ErrInvalidAction)
	}
	return chat.Record{
		ID:            NewTemporaryID(),
		Scope:         action.Scope,
		ParentID:      action.ParentID,
		Content:       action.Content,
		Author:        actor,
		Timestamp:     f.clock.Now(),
		Optimistic:    true,
		State:         chat.DeliveryPending,
		CorrelationID: NewCorrelationID(),
	}, nil
}

// NewTemporaryID returns a fresh id in the client-reserved namespace.
func NewTemporaryID() string {
	return chat.TemporaryIDPrefix + uuid.NewString()
}

// NewCorrelationID returns a fresh client transaction id.
func NewCorrelationID() string {
	return CorrelationIDPrefix + uuid.NewString()
}
