// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package editing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/optimistic"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/lib/syncmetrics"
)

var (
	// ErrForbidden is returned when the actor may not modify the
	// record.
	ErrForbidden = errors.New("editing: not permitted")

	// ErrBusy is returned when the record already has an edit or
	// delete outstanding.
	ErrBusy = errors.New("editing: record has an operation in flight")

	// ErrNotConfirmed is returned for optimistic records, which have no
	// server identity to edit or delete.
	ErrNotConfirmed = errors.New("editing: record is not confirmed")
)

// Operation names what an actor is attempting.
type Operation string

const (
	OperationEdit   Operation = "edit"
	OperationDelete Operation = "delete"
)

// Authorizer reports whether actor may perform operation on record.
type Authorizer func(actor chat.Author, operation Operation, record chat.Record) bool

// AuthorOnly permits only the record's author.
func AuthorOnly(actor chat.Author, _ Operation, record chat.Record) bool {
	return actor.ID != "" && actor.ID == record.Author.ID
}

// Backend performs edits and deletes on the server.
type Backend interface {
	// UpdateRecord sets the content and returns the server's copy. A
	// zero record means the server acknowledged without one; the
	// optimistic content is kept.
	UpdateRecord(ctx context.Context, scope chat.ScopeID, recordID, content string) (chat.Record, error)

	DeleteRecord(ctx context.Context, scope chat.ScopeID, recordID string) error
}

// Options configures a Coordinator.
type Options struct {
	// Authorizer decides permission. Nil means AuthorOnly.
	Authorizer Authorizer

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *syncmetrics.Metrics
}

// Coordinator edits and deletes records of one store on behalf of one
// actor.
type Coordinator struct {
	store     *messagestore.Store
	backend   Backend
	actor     chat.Author
	authorize Authorizer
	inflight  optimistic.Tracker[string]
	logger    *slog.Logger
	metrics   *syncmetrics.Metrics
}

// New returns a Coordinator acting as actor.
func New(store *messagestore.Store, backend Backend, actor chat.Author, options Options) *Coordinator {
	authorize := options.Authorizer
	if authorize == nil {
		authorize = AuthorOnly
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:     store,
		backend:   backend,
		actor:     actor,
		authorize: authorize,
		logger:    logger.With("scope", store.Scope().String()),
		metrics:   options.Metrics,
	}
}

// State reports whether an edit or delete of recordID is outstanding.
func (c *Coordinator) State(recordID string) optimistic.State {
	return c.inflight.State(recordID)
}

// Edit replaces the content of recordID and returns the record as
// stored after the server confirmed.
func (c *Coordinator) Edit(ctx context.Context, recordID, content string) (chat.Record, error) {
	if strings.TrimSpace(content) == "" {
		return chat.Record{}, fmt.Errorf("editing: %w: content is empty", optimistic.ErrInvalidAction)
	}

	applied := false
	defer func() {
		if applied {
			c.release(recordID)
		}
	}()

	_, err := optimistic.Execute(ctx, &c.inflight, recordID, optimistic.Operation[chat.Record, chat.Record]{
		Apply: func() (chat.Record, error) {
			snapshot, err := c.begin(recordID, OperationEdit, func(record *chat.Record) {
				record.Content = content
				record.Editing = true
			})
			applied = err == nil
			return snapshot, err
		},
		Request: func(ctx context.Context) (chat.Record, error) {
			return c.backend.UpdateRecord(ctx, c.store.Scope(), recordID, content)
		},
		Confirm: func(server chat.Record) error {
			return c.store.Update(func(tx *messagestore.Txn) error {
				if _, found := tx.Get(recordID); !found {
					return nil
				}
				return tx.Modify(recordID, func(record *chat.Record) {
					if server.ID != "" {
						record.Content = server.Content
						record.EditedAt = server.EditedAt
						if server.Reactions.Counts != nil {
							record.Reactions = server.Reactions.Clone()
						}
					}
					record.Editing = false
				})
			})
		},
		Rollback: func(snapshot chat.Record) {
			c.restore(OperationEdit, snapshot)
		},
	})
	if err != nil {
		return chat.Record{}, c.failed(OperationEdit, recordID, err)
	}

	record, _ := c.store.Get(recordID)
	c.logger.Info("record edited", "record_id", recordID)
	return record, nil
}

// Delete removes recordID once the server confirms. Until then the
// record stays visible with Deleting set.
func (c *Coordinator) Delete(ctx context.Context, recordID string) error {
	applied := false
	defer func() {
		if applied {
			c.release(recordID)
		}
	}()

	_, err := optimistic.Execute(ctx, &c.inflight, recordID, optimistic.Operation[chat.Record, struct{}]{
		Apply: func() (chat.Record, error) {
			snapshot, err := c.begin(recordID, OperationDelete, func(record *chat.Record) {
				record.Deleting = true
			})
			applied = err == nil
			return snapshot, err
		},
		Request: func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.backend.DeleteRecord(ctx, c.store.Scope(), recordID)
		},
		Confirm: func(struct{}) error {
			return c.store.Update(func(tx *messagestore.Txn) error {
				if _, found := tx.Get(recordID); !found {
					return nil
				}
				return tx.Remove(recordID)
			})
		},
		Rollback: func(snapshot chat.Record) {
			c.restore(OperationDelete, snapshot)
		},
	})
	if err != nil {
		return c.failed(OperationDelete, recordID, err)
	}
	c.logger.Info("record deleted", "record_id", recordID)
	return nil
}

// begin validates the operation, captures the record, and applies
// mutate in one batch.
func (c *Coordinator) begin(recordID string, operation Operation, mutate func(*chat.Record)) (chat.Record, error) {
	var snapshot chat.Record
	err := c.store.Update(func(tx *messagestore.Txn) error {
		record, found := tx.Get(recordID)
		switch {
		case !found:
			return fmt.Errorf("editing: %w: %s", messagestore.ErrNotFound, recordID)
		case record.Optimistic:
			return fmt.Errorf("%w: %s", ErrNotConfirmed, recordID)
		case record.Busy():
			return fmt.Errorf("%w: %s", ErrBusy, recordID)
		case !c.authorize(c.actor, operation, record):
			return fmt.Errorf("%w: %s %s by %s", ErrForbidden, operation, recordID, c.actor.ID)
		}
		snapshot = record
		return tx.Modify(recordID, mutate)
	})
	return snapshot, err
}

// restore puts back the content and flags of snapshot. Reactions are
// left alone; they have their own rollback. A record removed meanwhile
// by a stream delete stays removed.
func (c *Coordinator) restore(operation Operation, snapshot chat.Record) {
	c.metrics.Rollback(string(operation))
	err := c.store.Update(func(tx *messagestore.Txn) error {
		if _, found := tx.Get(snapshot.ID); !found {
			return nil
		}
		return tx.Modify(snapshot.ID, func(record *chat.Record) {
			record.Content = snapshot.Content
			record.EditedAt = snapshot.EditedAt
			record.Editing = snapshot.Editing
			record.Deleting = snapshot.Deleting
		})
	})
	if err != nil {
		c.logger.Error("restoring record snapshot", "record_id", snapshot.ID, "operation", string(operation), "error", err)
	}
}

// release clears the busy flags if any path left them set.
func (c *Coordinator) release(recordID string) {
	err := c.store.Update(func(tx *messagestore.Txn) error {
		record, found := tx.Get(recordID)
		if !found || !record.Busy() {
			return nil
		}
		return tx.Modify(recordID, func(record *chat.Record) {
			record.Editing = false
			record.Deleting = false
		})
	})
	if err != nil {
		c.logger.Error("clearing busy flags", "record_id", recordID, "error", err)
	}
}

func (c *Coordinator) failed(operation Operation, recordID string, err error) error {
	switch {
	case errors.Is(err, optimistic.ErrInFlight):
		err = fmt.Errorf("%w: %s", ErrBusy, recordID)
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotConfirmed),
		errors.Is(err, ErrBusy), errors.Is(err, messagestore.ErrNotFound):
	default:
		c.logger.Warn("record operation rolled back",
			"record_id", recordID,
			"operation", string(operation),
			"error", err,
		)
		err = fmt.Errorf("editing: %s %s: %w", operation, recordID, err)
	}
	return err
}
