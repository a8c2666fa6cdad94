// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/optimistic"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/lib/syncmetrics"
)

// ErrNotConfirmed is returned when the target record has no server
// identity yet.
var ErrNotConfirmed = errors.New("reaction: record is not confirmed")

// Backend performs the toggle on the server and returns the record's
// authoritative reactions afterwards.
type Backend interface {
	React(ctx context.Context, scope chat.ScopeID, recordID, kind string) (chat.Reactions, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, scope chat.ScopeID, recordID, kind string) (chat.Reactions, error)

func (f BackendFunc) React(ctx context.Context, scope chat.ScopeID, recordID, kind string) (chat.Reactions, error) {
	return f(ctx, scope, recordID, kind)
}

// Options configures a Tracker.
type Options struct {
	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *syncmetrics.Metrics
}

type key struct {
	recordID string
	kind     string
}

// Tracker toggles reactions on the records of one store.
type Tracker struct {
	store    *messagestore.Store
	backend  Backend
	inflight optimistic.Tracker[key]
	logger   *slog.Logger
	metrics  *syncmetrics.Metrics
}

// New returns a Tracker for store.
func New(store *messagestore.Store, backend Backend, options Options) *Tracker {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		store:   store,
		backend: backend,
		logger:  logger.With("scope", store.Scope().String()),
		metrics: options.Metrics,
	}
}

// State reports whether a toggle of kind on recordID is outstanding.
func (t *Tracker) State(recordID, kind string) optimistic.State {
	return t.inflight.State(key{recordID: recordID, kind: kind})
}

// Toggle flips the actor's kind reaction on recordID and returns the
// authoritative reactions. On failure the pre-toggle reactions are
// restored and the error is returned.
func (t *Tracker) Toggle(ctx context.Context, recordID, kind string) (chat.Reactions, error) {
	if kind == "" {
		return chat.Reactions{}, fmt.Errorf("reaction: %w: kind is required", optimistic.ErrInvalidAction)
	}

	// applied is the optimistic value; rollback only restores the
	// snapshot while the store still holds it.
	var applied chat.Reactions

	result, err := optimistic.Execute(ctx, &t.inflight, key{recordID: recordID, kind: kind},
		optimistic.Operation[chat.Reactions, chat.Reactions]{
			Apply: func() (chat.Reactions, error) {
				var snapshot chat.Reactions
				err := t.store.Update(func(tx *messagestore.Txn) error {
					record, found := tx.Get(recordID)
					if !found {
						return fmt.Errorf("reaction: %w: %s", messagestore.ErrNotFound, recordID)
					}
					if record.Optimistic {
						return fmt.Errorf("%w: %s", ErrNotConfirmed, recordID)
					}
					snapshot = record.Reactions.Clone()
					applied = snapshot.Toggled(kind)
					return tx.Modify(recordID, func(record *chat.Record) {
						record.Reactions = applied.Clone()
					})
				})
				return snapshot, err
			},
			Request: func(ctx context.Context) (chat.Reactions, error) {
				return t.backend.React(ctx, t.store.Scope(), recordID, kind)
			},
			Confirm: func(authoritative chat.Reactions) error {
				return t.install(recordID, authoritative)
			},
			Rollback: func(snapshot chat.Reactions) {
				t.rollback(recordID, applied, snapshot)
			},
		})
	if err != nil {
		if errors.Is(err, optimistic.ErrInFlight) {
			t.logger.Debug("reaction toggle already in flight", "record_id", recordID, "kind", kind)
		}
		return chat.Reactions{}, err
	}
	t.logger.Debug("reaction confirmed",
		"record_id", recordID,
		"kind", kind,
		"mine", result.Mine,
		"count", result.Count(kind),
	)
	return result, nil
}

// install replaces the local counters with the server's. A record
// deleted while the request was outstanding is left deleted.
func (t *Tracker) install(recordID string, authoritative chat.Reactions) error {
	return t.store.Update(func(tx *messagestore.Txn) error {
		if _, found := tx.Get(recordID); !found {
			return nil
		}
		return tx.Modify(recordID, func(record *chat.Record) {
			record.Reactions = authoritative.Clone()
		})
	})
}

func (t *Tracker) rollback(recordID string, applied, snapshot chat.Reactions) {
	t.metrics.Rollback("react")
	err := t.store.Update(func(tx *messagestore.Txn) error {
		record, found := tx.Get(recordID)
		if !found {
			return nil
		}
		if !record.Reactions.Equal(applied) {
			// Another toggle on this record already moved the
			// counters; its confirmation carries the server state.
			t.logger.Debug("skipping reaction rollback, counters changed since toggle", "record_id", recordID)
			return nil
		}
		return tx.Modify(recordID, func(record *chat.Record) {
			record.Reactions = snapshot.Clone()
		})
	})
	if err != nil {
		t.logger.Error("restoring reactions", "record_id", recordID, "error", err)
		return
	}
	t.logger.Warn("reaction rolled back", "record_id", recordID)
}
