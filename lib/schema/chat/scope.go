// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import "fmt"

// ScopeKind names the kind of conversation a scope covers.
type ScopeKind string

const (
	// ScopeChannel is the top-level message list of a channel.
	ScopeChannel ScopeKind = "channel"

	// ScopeThread is the reply list under one thread root.
	ScopeThread ScopeKind = "thread"

	// ScopeTask is the comment list of a task.
	ScopeTask ScopeKind = "task"
)

// ScopeID identifies the conversation a store is responsible for.
// ScopeID is comparable and used as a map key.
type ScopeID struct {
	Kind ScopeKind `json:"kind"`

	// ID is the channel id for channel and thread scopes, and the task
	// id for task scopes.
	ID string `json:"id"`

	// Root is the thread root message id. Empty unless Kind is
	// ScopeThread.
	Root string `json:"root,omitempty"`
}

// ChannelScope returns the scope of a channel's top-level messages.
func ChannelScope(channelID string) ScopeID {
	return ScopeID{Kind: ScopeChannel, ID: channelID}
}

// ThreadScope returns the scope of the replies under rootID.
func ThreadScope(channelID, rootID string) ScopeID {
	return ScopeID{Kind: ScopeThread, ID: channelID, Root: rootID}
}

// TaskScope returns the scope of a task's comments.
func TaskScope(taskID string) ScopeID {
	return ScopeID{Kind: ScopeTask, ID: taskID}
}

// IsZero reports whether the scope is unset.
func (s ScopeID) IsZero() bool { return s == ScopeID{} }

// Validate checks that the fields required by Kind are present.
func (s ScopeID) Validate() error {
	switch s.Kind {
	case ScopeChannel, ScopeTask:
		if s.ID == "" {
			return fmt.Errorf("chat: %s scope requires an id", s.Kind)
		}
		if s.Root != "" {
			return fmt.Errorf("chat: %s scope must not carry a thread root", s.Kind)
		}
	case ScopeThread:
		if s.ID == "" || s.Root == "" {
			return fmt.Errorf("chat: thread scope requires channel id and root")
		}
	default:
		return fmt.Errorf("chat: unknown scope kind %q", s.Kind)
	}
	return nil
}

// String returns "kind:id" or "thread:channel/root".
func (s ScopeID) String() string {
	if s.Kind == ScopeThread {
		return fmt.Sprintf("%s:%s/%s", s.Kind, s.ID, s.Root)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.ID)
}
