// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/threadsync/lib/editing"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/reconcile"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/messaging"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// Actor is the signed-in user. Required.
	Actor chat.Author

	// Channels serves AttachChannel. Leave nil if channel top-level
	// lists are unused.
	Channels ChannelAPI

	// Threads serves AttachThread. Leave nil if threads are unused.
	Threads ThreadAPI

	// Comments serves AttachTask. Leave nil if task comments are
	// unused.
	Comments CommentAPI

	// Authorize decides edit and delete permission on comments. If
	// nil, editing.AuthorOnly is used.
	Authorize editing.Authorizer

	// Options applies to every conversation the hub creates.
	Options Options

	// Compression is applied to the snapshots of parked scopes.
	Compression messagestore.Compression
}

// Hub owns the conversations of a session. A scope stays attached
// while anyone observes it; when the last observer detaches, its
// records are parked as a snapshot and in-flight responses for it are
// dropped. Attaching again rehydrates from the snapshot.
type Hub struct {
	config HubConfig
	logger *slog.Logger

	mu       sync.Mutex
	attached map[chat.ScopeID]*attachment
	parked   map[chat.ScopeID][]byte
}

type attachment struct {
	refs         int
	conversation *conversation
	channel      *Channel
	thread       *Thread
	comments     *TaskComments
}

// NewHub returns a Hub with nothing attached.
func NewHub(config HubConfig) (*Hub, error) {
	if config.Actor.ID == "" {
		return nil, errors.New("conversation: hub actor id is required")
	}
	config.Options = config.Options.withDefaults()
	return &Hub{
		config:   config,
		logger:   config.Options.Logger,
		attached: make(map[chat.ScopeID]*attachment),
		parked:   make(map[chat.ScopeID][]byte),
	}, nil
}

// AttachChannel returns the conversation for a channel's top-level
// messages and a detach function. Every successful attach must be
// paired with one detach; calling detach more than once is harmless.
func (h *Hub) AttachChannel(channelID string) (*Channel, func(), error) {
	if h.config.Channels == nil {
		return nil, nil, errors.New("conversation: hub has no channel API")
	}
	scope := chat.ChannelScope(channelID)
	entry, err := h.attach(scope, func(store *messagestore.Store) *attachment {
		channel := newChannel(store, h.config.Actor, h.config.Channels, h.config.Options)
		return &attachment{conversation: channel.conversation, channel: channel}
	})
	if err != nil {
		return nil, nil, err
	}
	return entry.channel, h.detacher(scope), nil
}

// AttachThread returns the conversation for a thread and a detach
// function, with the same pairing rules as AttachChannel.
func (h *Hub) AttachThread(channelID, rootID string) (*Thread, func(), error) {
	if h.config.Threads == nil {
		return nil, nil, errors.New("conversation: hub has no thread API")
	}
	scope := chat.ThreadScope(channelID, rootID)
	entry, err := h.attach(scope, func(store *messagestore.Store) *attachment {
		thread := newThread(store, h.config.Actor, h.config.Threads, h.config.Options)
		return &attachment{conversation: thread.conversation, thread: thread}
	})
	if err != nil {
		return nil, nil, err
	}
	return entry.thread, h.detacher(scope), nil
}

// AttachTask returns the comment conversation for a task and a detach
// function, with the same pairing rules as AttachChannel.
func (h *Hub) AttachTask(taskID string) (*TaskComments, func(), error) {
	if h.config.Comments == nil {
		return nil, nil, errors.New("conversation: hub has no comment API")
	}
	scope := chat.TaskScope(taskID)
	entry, err := h.attach(scope, func(store *messagestore.Store) *attachment {
		comments := newTaskComments(store, h.config.Actor, h.config.Comments, h.config.Options, h.config.Authorize)
		return &attachment{conversation: comments.conversation, comments: comments}
	})
	if err != nil {
		return nil, nil, err
	}
	return entry.comments, h.detacher(scope), nil
}

func (h *Hub) attach(scope chat.ScopeID, build func(*messagestore.Store) *attachment) (*attachment, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if entry, ok := h.attached[scope]; ok {
		entry.refs++
		return entry, nil
	}

	store, err := h.rehydrate(scope)
	if err != nil {
		return nil, err
	}
	entry := build(store)
	entry.refs = 1
	h.attached[scope] = entry
	h.logger.Debug("scope attached", "scope", scope.String(), "records", store.Len())
	return entry, nil
}

// rehydrate restores a parked scope, or returns an empty store. Busy
// flags are cleared: the operations that set them finished against
// the detached conversation.
func (h *Hub) rehydrate(scope chat.ScopeID) (*messagestore.Store, error) {
	options := h.config.Options.store()
	data, ok := h.parked[scope]
	if !ok {
		return messagestore.New(scope, options), nil
	}
	delete(h.parked, scope)

	store, err := messagestore.Restore(data, options)
	if err != nil {
		h.logger.Warn("discarding unreadable parked snapshot", "scope", scope.String(), "error", err)
		return messagestore.New(scope, options), nil
	}
	if store.Scope() != scope {
		return nil, fmt.Errorf("conversation: parked snapshot for %s holds %s", scope, store.Scope())
	}
	err = store.Update(func(tx *messagestore.Txn) error {
		for _, record := range tx.All() {
			if !record.Busy() {
				continue
			}
			err := tx.Modify(record.ID, func(record *chat.Record) {
				record.Editing = false
				record.Deleting = false
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: rehydrating %s: %w", scope, err)
	}
	return store, nil
}

func (h *Hub) detacher(scope chat.ScopeID) func() {
	var once sync.Once
	return func() {
		once.Do(func() { h.release(scope) })
	}
}

func (h *Hub) release(scope chat.ScopeID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.attached[scope]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs > 0 {
		return
	}
	delete(h.attached, scope)
	entry.conversation.detached.Store(true)

	data, err := entry.conversation.store.Snapshot(h.config.Compression)
	if err != nil {
		h.logger.Warn("dropping records of detached scope", "scope", scope.String(), "error", err)
		return
	}
	h.parked[scope] = data
	h.logger.Debug("scope parked", "scope", scope.String(), "bytes", len(data))
}

// Dispatch routes a stream event to the attached conversation for its
// scope. Events for scopes nobody observes are ignored.
func (h *Hub) Dispatch(event chat.StreamEvent) (reconcile.Outcome, error) {
	scope, err := event.Scope()
	if err != nil {
		return "", fmt.Errorf("conversation: %w", err)
	}
	h.mu.Lock()
	entry, ok := h.attached[scope]
	h.mu.Unlock()
	if !ok {
		return reconcile.OutcomeIgnored, nil
	}
	return entry.conversation.HandleEvent(event)
}

// Attached returns the attached scopes in a stable order.
func (h *Hub) Attached() []chat.ScopeID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedScopes(h.attached)
}

// Parked returns the scopes held as snapshots in a stable order.
func (h *Hub) Parked() []chat.ScopeID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return sortedScopes(h.parked)
}

// ExpireStale sweeps every attached conversation and returns how many
// records were marked failed.
func (h *Hub) ExpireStale() int {
	h.mu.Lock()
	conversations := make([]*conversation, 0, len(h.attached))
	for _, entry := range h.attached {
		conversations = append(conversations, entry.conversation)
	}
	h.mu.Unlock()

	expired := 0
	for _, conversation := range conversations {
		expired += conversation.ExpireStale()
	}
	return expired
}

// Run sweeps attached conversations every sweep interval until ctx is
// done.
func (h *Hub) Run(ctx context.Context) error {
	ticker := h.config.Options.Clock.NewTicker(h.config.Options.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.ExpireStale()
		}
	}
}

// Stream consumes the live subscription and dispatches every event
// until ctx is done or the stream gives up. See messaging.Run.
func (h *Hub) Stream(ctx context.Context, config messaging.StreamConfig) error {
	if config.Clock == nil {
		config.Clock = h.config.Options.Clock
	}
	if config.Logger == nil {
		config.Logger = h.logger
	}
	return messaging.Run(ctx, config, func(event chat.StreamEvent) {
		outcome, err := h.Dispatch(event)
		if err != nil {
			if !errors.Is(err, ErrDetached) {
				h.logger.Warn("stream event rejected", "type", event.Type, "error", err)
			}
			return
		}
		h.logger.Debug("stream event applied", "type", event.Type, "outcome", string(outcome))
	})
}

func sortedScopes[V any](entries map[chat.ScopeID]V) []chat.ScopeID {
	scopes := make([]chat.ScopeID, 0, len(entries))
	for scope := range entries {
		scopes = append(scopes, scope)
	}
	slices.SortFunc(scopes, func(a, b chat.ScopeID) int {
		return cmp.Compare(a.String(), b.String())
	})
	return scopes
}
