// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/threadsync/lib/editing"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/pagination"
	"github.com/bureau-foundation/threadsync/lib/reaction"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/messaging"
)

// CommentAPI is the part of messaging.Client TaskComments uses.
type CommentAPI interface {
	TaskComments(ctx context.Context, taskID string) ([]chat.Comment, error)
	AddComment(ctx context.Context, taskID string, request messaging.CommentRequest) (*chat.Comment, error)
	UpdateComment(ctx context.Context, taskID, commentID, content string) (*chat.Comment, error)
	DeleteComment(ctx context.Context, taskID, commentID string) error
	ReactToComment(ctx context.Context, taskID, commentID, reaction string) error
}

// TaskComments is the comment list of one task.
type TaskComments struct {
	*conversation

	taskID      string
	api         CommentAPI
	reactions   *reaction.Tracker
	coordinator *editing.Coordinator
	sequencer   pagination.Sequencer
}

// NewTaskComments returns an empty comment conversation. authorize
// decides edit and delete permission; nil means author only.
func NewTaskComments(taskID string, actor chat.Author, api CommentAPI, options Options, authorize editing.Authorizer) (*TaskComments, error) {
	scope := chat.TaskScope(taskID)
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return newTaskComments(messagestore.New(scope, options.withDefaults().store()), actor, api, options, authorize), nil
}

func newTaskComments(store *messagestore.Store, actor chat.Author, api CommentAPI, options Options, authorize editing.Authorizer) *TaskComments {
	conversation := newConversation(store, actor, options)
	taskID := store.Scope().ID
	backend := commentBackend{taskID: taskID, api: api}
	return &TaskComments{
		conversation: conversation,
		taskID:       taskID,
		api:          api,
		reactions: reaction.New(store, backend, reaction.Options{
			Logger:  conversation.options.Logger,
			Metrics: conversation.options.Metrics,
		}),
		coordinator: editing.New(store, backend, actor, editing.Options{
			Authorizer: authorize,
			Logger:     conversation.options.Logger,
			Metrics:    conversation.options.Metrics,
		}),
	}
}

// Refresh replaces the list with the server's. Unconfirmed optimistic
// comments are kept. Comments that were present before the fetch and
// are missing from the response were deleted elsewhere and are
// removed, unless a local operation on them is in flight.
func (c *TaskComments) Refresh(ctx context.Context) error {
	if c.detached.Load() {
		return ErrDetached
	}
	ticket := c.sequencer.Next(c.scope)
	known := make(map[string]bool)
	for _, record := range c.store.All() {
		if !record.Optimistic {
			known[record.ID] = true
		}
	}

	comments, err := c.api.TaskComments(ctx, c.taskID)
	if err != nil {
		if !c.sequencer.Current(ticket) {
			return nil
		}
		return c.fail(OpRefresh, "", err)
	}
	records := make([]chat.Record, 0, len(comments))
	listed := make(map[string]bool, len(comments))
	for _, comment := range comments {
		record := comment.Record()
		record.Scope = c.scope
		records = append(records, record)
		listed[record.ID] = true
	}

	accepted := false
	err = c.store.Update(func(tx *messagestore.Txn) error {
		if !c.sequencer.Current(ticket) || c.detached.Load() {
			return nil
		}
		accepted = true
		for _, record := range tx.All() {
			if known[record.ID] && !listed[record.ID] && !record.Busy() {
				if err := tx.Remove(record.ID); err != nil {
					return err
				}
			}
		}
		if _, err := pagination.Merge(tx, records); err != nil {
			return err
		}
		_, err := c.engine.SettleBatch(tx)
		return err
	})
	if err != nil {
		return c.fail(OpRefresh, "", err)
	}
	if !accepted {
		c.options.Metrics.PageDiscarded()
		c.logger.Debug("discarded superseded comment refresh", "sequence", ticket.Sequence)
	}
	return nil
}

// Add posts a comment. The optimistic comment is visible as soon as
// Add starts; Add returns the confirmed comment.
func (c *TaskComments) Add(ctx context.Context, content string) (chat.Record, error) {
	return c.post(ctx, OpComment, content, "", c.addComment)
}

// Retry re-posts a failed comment under a new temporary id.
func (c *TaskComments) Retry(ctx context.Context, tempID string) (chat.Record, error) {
	return c.retry(ctx, tempID, c.addComment)
}

func (c *TaskComments) addComment(ctx context.Context, record chat.Record) (chat.Record, error) {
	comment, err := c.api.AddComment(ctx, c.taskID, messaging.CommentRequest{
		Content:     record.Content,
		UserID:      c.actor.ID,
		ClientTxnID: record.CorrelationID,
	})
	if err != nil {
		return chat.Record{}, err
	}
	confirmed := comment.Record()
	confirmed.Scope = c.scope
	return confirmed, nil
}

// React toggles the actor's kind reaction on commentID and returns the
// server's counts.
func (c *TaskComments) React(ctx context.Context, commentID, kind string) (chat.Reactions, error) {
	if c.detached.Load() {
		return chat.Reactions{}, ErrDetached
	}
	reactions, err := c.reactions.Toggle(ctx, commentID, kind)
	if err != nil {
		return chat.Reactions{}, c.fail(OpReact, commentID, err)
	}
	return reactions, nil
}

// Edit replaces the content of commentID.
func (c *TaskComments) Edit(ctx context.Context, commentID, content string) (chat.Record, error) {
	if c.detached.Load() {
		return chat.Record{}, ErrDetached
	}
	record, err := c.coordinator.Edit(ctx, commentID, content)
	if err != nil {
		return chat.Record{}, c.fail(OpEdit, commentID, err)
	}
	return record, nil
}

// Delete removes commentID.
func (c *TaskComments) Delete(ctx context.Context, commentID string) error {
	if c.detached.Load() {
		return ErrDetached
	}
	if err := c.coordinator.Delete(ctx, commentID); err != nil {
		return c.fail(OpDelete, commentID, err)
	}
	return nil
}

// commentBackend adapts CommentAPI to the reaction and editing
// backends.
type commentBackend struct {
	taskID string
	api    CommentAPI
}

// React toggles on the server, then re-fetches the list: the reaction
// endpoint returns no counts.
func (b commentBackend) React(ctx context.Context, _ chat.ScopeID, recordID, kind string) (chat.Reactions, error) {
	if err := b.api.ReactToComment(ctx, b.taskID, recordID, kind); err != nil {
		return chat.Reactions{}, err
	}
	comments, err := b.api.TaskComments(ctx, b.taskID)
	if err != nil {
		return chat.Reactions{}, fmt.Errorf("fetching counts after reaction: %w", err)
	}
	for _, comment := range comments {
		if comment.ID == recordID {
			return comment.Reactions(), nil
		}
	}
	return chat.Reactions{}, fmt.Errorf("comment %s missing after reaction: %w", recordID, messagestore.ErrNotFound)
}

func (b commentBackend) UpdateRecord(ctx context.Context, scope chat.ScopeID, recordID, content string) (chat.Record, error) {
	comment, err := b.api.UpdateComment(ctx, b.taskID, recordID, content)
	if err != nil {
		return chat.Record{}, err
	}
	record := comment.Record()
	record.Scope = scope
	return record, nil
}

func (b commentBackend) DeleteRecord(ctx context.Context, _ chat.ScopeID, recordID string) error {
	return b.api.DeleteComment(ctx, b.taskID, recordID)
}
