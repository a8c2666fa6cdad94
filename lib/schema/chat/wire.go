// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"fmt"
	"time"
)

// Stream event types delivered on the live subscription.
const (
	EventMessageSent     = "message_sent"
	EventThreadReplySent = "thread_reply_sent"
	EventCommentAdded    = "comment_added"
	EventCommentUpdated  = "comment_updated"
	EventCommentDeleted  = "comment_deleted"
)

// MessagePayload is a message as the backend serializes it, both in
// stream events and in thread page responses.
type MessagePayload struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	CreatedAt   time.Time `json:"created_at"`
	ThreadRoot  string    `json:"thread_root,omitempty"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	MessageType string    `json:"message_type,omitempty"`

	// ClientTxnID echoes the client_txn_id of the request that created
	// the message, when the server supports it.
	ClientTxnID string `json:"client_txn_id,omitempty"`
}

// Record converts the payload into a confirmed record in scope.
func (m MessagePayload) Record(scope ScopeID) Record {
	parent := m.ReplyTo
	if parent == "" {
		parent = m.ThreadRoot
	}
	return Record{
		ID:            m.ID,
		Scope:         scope,
		ParentID:      parent,
		Content:       m.Content,
		Author:        Author{ID: m.UserID, Name: m.UserName},
		Timestamp:     m.CreatedAt,
		State:         DeliveryConfirmed,
		CorrelationID: m.ClientTxnID,
	}
}

// Comment is a task comment as the backend serializes it. The counters
// and UserReaction are authoritative.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	Content   string    `json:"content"`
	UserID    string    `json:"user_id"`
	UserName  string    `json:"user_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
	UpCount   int       `json:"up_count"`
	DownCount int       `json:"down_count"`

	// UserReaction is "up", "down", or nil.
	UserReaction *string `json:"user_reaction"`

	ClientTxnID string `json:"client_txn_id,omitempty"`
}

// Reactions converts the comment counters into the record form.
func (c Comment) Reactions() Reactions {
	reactions := Reactions{Counts: make(map[string]int)}
	if c.UpCount > 0 {
		reactions.Counts[ReactionUp] = c.UpCount
	}
	if c.DownCount > 0 {
		reactions.Counts[ReactionDown] = c.DownCount
	}
	if c.UserReaction != nil {
		reactions.Mine = *c.UserReaction
	}
	return reactions
}

// Record converts the comment into a confirmed record in its task
// scope.
func (c Comment) Record() Record {
	return Record{
		ID:            c.ID,
		Scope:         TaskScope(c.TaskID),
		Content:       c.Content,
		Author:        Author{ID: c.UserID, Name: c.UserName},
		Timestamp:     c.CreatedAt,
		EditedAt:      c.UpdatedAt,
		Reactions:     c.Reactions(),
		State:         DeliveryConfirmed,
		CorrelationID: c.ClientTxnID,
	}
}

// StreamEvent is one event from the live subscription. Which fields
// are set depends on Type.
type StreamEvent struct {
	Type string `json:"type"`

	// Message events.
	ChannelID       string          `json:"channelId,omitempty"`
	ThreadRoot      string          `json:"threadRoot,omitempty"`
	ParentMessageID string          `json:"parentMessageId,omitempty"`
	Message         *MessagePayload `json:"message,omitempty"`

	// Comment events.
	TaskID    string   `json:"taskId,omitempty"`
	Comment   *Comment `json:"comment,omitempty"`
	CommentID string   `json:"commentId,omitempty"`
}

// Scope returns the scope the event belongs to.
func (e StreamEvent) Scope() (ScopeID, error) {
	switch e.Type {
	case EventMessageSent:
		if e.ChannelID == "" {
			return ScopeID{}, fmt.Errorf("chat: %s event without channelId", e.Type)
		}
		// A message posted inside a thread names its root; it belongs
		// to the thread, not the channel's top level.
		if root := e.threadRoot(); root != "" {
			return ThreadScope(e.ChannelID, root), nil
		}
		return ChannelScope(e.ChannelID), nil
	case EventThreadReplySent:
		root := e.threadRoot()
		if root == "" {
			root = e.ParentMessageID
		}
		if e.ChannelID == "" || root == "" {
			return ScopeID{}, fmt.Errorf("chat: %s event without channelId or thread root", e.Type)
		}
		return ThreadScope(e.ChannelID, root), nil
	case EventCommentAdded, EventCommentUpdated, EventCommentDeleted:
		taskID := e.TaskID
		if taskID == "" && e.Comment != nil {
			taskID = e.Comment.TaskID
		}
		if taskID == "" {
			return ScopeID{}, fmt.Errorf("chat: %s event without taskId", e.Type)
		}
		return TaskScope(taskID), nil
	default:
		return ScopeID{}, fmt.Errorf("chat: unknown stream event type %q", e.Type)
	}
}

func (e StreamEvent) threadRoot() string {
	if e.ThreadRoot != "" {
		return e.ThreadRoot
	}
	if e.Message != nil {
		return e.Message.ThreadRoot
	}
	return ""
}

// Record returns the confirmed record an event carries. Comment
// deletions carry no record and return false.
func (e StreamEvent) Record() (Record, bool, error) {
	scope, err := e.Scope()
	if err != nil {
		return Record{}, false, err
	}
	switch e.Type {
	case EventMessageSent, EventThreadReplySent:
		if e.Message == nil {
			return Record{}, false, fmt.Errorf("chat: %s event without message", e.Type)
		}
		return e.Message.Record(scope), true, nil
	case EventCommentAdded, EventCommentUpdated:
		if e.Comment == nil {
			return Record{}, false, fmt.Errorf("chat: %s event without comment", e.Type)
		}
		record := e.Comment.Record()
		record.Scope = scope
		return record, true, nil
	default:
		return Record{}, false, nil
	}
}
