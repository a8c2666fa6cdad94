// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/optimistic"
	"github.com/bureau-foundation/threadsync/lib/reconcile"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// conversation is the part of a scope shared by threads and task
// comments.
type conversation struct {
	scope    chat.ScopeID
	actor    chat.Author
	store    *messagestore.Store
	engine   *reconcile.Engine
	factory  *optimistic.Factory
	options  Options
	logger   *slog.Logger
	detached atomic.Bool
}

// deliverFunc performs the request for an optimistic record and
// returns the server's confirmed copy.
type deliverFunc func(ctx context.Context, record chat.Record) (chat.Record, error)

func newConversation(store *messagestore.Store, actor chat.Author, options Options) *conversation {
	options = options.withDefaults()
	logger := options.Logger.With("scope", store.Scope().String())
	return &conversation{
		scope: store.Scope(),
		actor: actor,
		store: store,
		engine: reconcile.New(store, reconcile.Options{
			Window:  options.Window,
			Mode:    options.MatchMode,
			Clock:   options.Clock,
			Logger:  options.Logger,
			Metrics: options.Metrics,
		}),
		factory: optimistic.NewFactory(options.Clock),
		options: options,
		logger:  logger,
	}
}

// Scope returns the scope this conversation serves.
func (c *conversation) Scope() chat.ScopeID { return c.scope }

// Records returns the ordered records.
func (c *conversation) Records() []chat.Record { return c.store.All() }

// Failed returns the failed optimistic records awaiting retry or
// discard.
func (c *conversation) Failed() []chat.Record { return c.store.Failed() }

// Subscribe delivers a notification after every change. See
// messagestore.Store.Subscribe.
func (c *conversation) Subscribe() (<-chan messagestore.Notification, func()) {
	return c.store.Subscribe()
}

// Detached reports whether the last observer has detached.
func (c *conversation) Detached() bool { return c.detached.Load() }

// HandleEvent applies one stream event. Events for other scopes are
// ignored.
func (c *conversation) HandleEvent(event chat.StreamEvent) (reconcile.Outcome, error) {
	if c.detached.Load() {
		return "", ErrDetached
	}
	scope, err := event.Scope()
	if err != nil {
		return "", fmt.Errorf("conversation: %w", err)
	}
	if scope != c.scope {
		c.logger.Debug("ignoring event for another scope", "event_scope", scope.String(), "type", event.Type)
		return reconcile.OutcomeIgnored, nil
	}

	switch event.Type {
	case chat.EventCommentDeleted:
		id := event.CommentID
		if id == "" && event.Comment != nil {
			id = event.Comment.ID
		}
		if id == "" {
			return "", fmt.Errorf("conversation: %s event without comment id", event.Type)
		}
		return c.engine.OnDeleteEvent(id)
	case chat.EventCommentUpdated:
		record, _, err := event.Record()
		if err != nil {
			return "", fmt.Errorf("conversation: %w", err)
		}
		return c.engine.OnUpdateEvent(record)
	default:
		record, ok, err := event.Record()
		if err != nil {
			return "", fmt.Errorf("conversation: %w", err)
		}
		if !ok {
			return reconcile.OutcomeIgnored, nil
		}
		return c.engine.OnConfirmationEvent(record)
	}
}

// ExpireStale marks unconfirmed records older than the dedup window
// as failed.
func (c *conversation) ExpireStale() int {
	if c.detached.Load() {
		return 0
	}
	return c.engine.ExpireStale()
}

// Run expires stale records every sweep interval until ctx is done.
func (c *conversation) Run(ctx context.Context) error {
	ticker := c.options.Clock.NewTicker(c.options.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.ExpireStale()
		}
	}
}

// Discard removes a failed optimistic record.
func (c *conversation) Discard(tempID string) error {
	err := c.store.Update(func(tx *messagestore.Txn) error {
		record, found := tx.Get(tempID)
		if !found {
			return fmt.Errorf("conversation: %w: %s", messagestore.ErrNotFound, tempID)
		}
		if !record.Optimistic || !record.Failed() {
			return fmt.Errorf("conversation: %s is not a failed record", tempID)
		}
		return tx.Remove(tempID)
	})
	if err != nil {
		return err
	}
	c.logger.Info("failed record discarded", "temp_id", tempID)
	return nil
}

// post creates an optimistic record for content, shows it, and
// delivers it.
func (c *conversation) post(ctx context.Context, op, content, parentID string, deliver deliverFunc) (chat.Record, error) {
	if c.detached.Load() {
		return chat.Record{}, ErrDetached
	}
	record, err := c.factory.Create(optimistic.Action{Scope: c.scope, Content: content, ParentID: parentID}, c.actor)
	if err != nil {
		return chat.Record{}, c.fail(op, "", err)
	}
	if err := c.store.Insert(record); err != nil {
		return chat.Record{}, c.fail(op, record.ID, err)
	}
	return c.deliver(ctx, op, record, deliver)
}

// retry replaces the failed record tempID with a fresh optimistic copy
// and delivers it.
func (c *conversation) retry(ctx context.Context, tempID string, deliver deliverFunc) (chat.Record, error) {
	if c.detached.Load() {
		return chat.Record{}, ErrDetached
	}
	var fresh chat.Record
	err := c.store.Update(func(tx *messagestore.Txn) error {
		failed, found := tx.Get(tempID)
		if !found {
			return fmt.Errorf("%w: %s", messagestore.ErrNotFound, tempID)
		}
		if !failed.Optimistic || !failed.Failed() {
			return fmt.Errorf("%w: %s is not a failed record", optimistic.ErrInvalidAction, tempID)
		}
		var err error
		fresh, err = c.factory.Create(optimistic.Action{
			Scope:    c.scope,
			Content:  failed.Content,
			ParentID: failed.ParentID,
		}, c.actor)
		if err != nil {
			return err
		}
		if err := tx.Remove(tempID); err != nil {
			return err
		}
		return tx.Insert(fresh)
	})
	if err != nil {
		return chat.Record{}, c.fail(OpRetry, tempID, err)
	}
	c.logger.Info("retrying failed record", "temp_id", tempID, "new_temp_id", fresh.ID)
	return c.deliver(ctx, OpRetry, fresh, deliver)
}

// deliver issues the request for an optimistic record already in the
// store and folds the response in.
func (c *conversation) deliver(ctx context.Context, op string, record chat.Record, deliver deliverFunc) (chat.Record, error) {
	confirmed, err := deliver(ctx, record)
	if err != nil {
		c.engine.MarkFailed(record.ID, err)
		return chat.Record{}, c.fail(op, record.ID, err)
	}
	if c.detached.Load() {
		c.logger.Debug("dropping response for detached scope", "temp_id", record.ID, "record_id", confirmed.ID)
		return confirmed, nil
	}
	if _, err := c.engine.ConfirmSent(record.ID, confirmed); err != nil {
		return chat.Record{}, c.fail(op, record.ID, err)
	}
	if stored, found := c.store.Get(confirmed.ID); found {
		return stored, nil
	}
	return confirmed, nil
}

// fail reports err as a Failure unless it is a refused attempt, which
// is returned unchanged.
func (c *conversation) fail(op, recordID string, err error) error {
	if quiet(err) {
		return err
	}
	var existing *Failure
	if errors.As(err, &existing) {
		return err
	}
	failure := Failure{
		Op:        op,
		Scope:     c.scope,
		RecordID:  recordID,
		Retryable: retryable(err),
		Err:       err,
	}
	level := slog.LevelWarn
	var panicErr *optimistic.PanicError
	if errors.As(err, &panicErr) {
		level = slog.LevelError
	}
	c.logger.Log(context.Background(), level, "operation failed",
		"op", op,
		"record_id", recordID,
		"retryable", failure.Retryable,
		"error", err,
	)
	if c.options.Notifier != nil {
		c.options.Notifier.Notify(failure)
	}
	return &failure
}
