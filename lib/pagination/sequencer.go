// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagination

import (
	"sync"

	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// Ticket identifies one page request.
type Ticket struct {
	Scope    chat.ScopeID
	Sequence uint64
}

// Sequencer issues tickets in increasing order per scope. The zero
// value is ready to use. Safe for concurrent use.
type Sequencer struct {
	mu     sync.Mutex
	latest map[chat.ScopeID]uint64
}

// Next issues a ticket for scope, superseding every earlier one.
func (s *Sequencer) Next(scope chat.ScopeID) Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		s.latest = make(map[chat.ScopeID]uint64)
	}
	s.latest[scope]++
	return Ticket{Scope: scope, Sequence: s.latest[scope]}
}

// Current reports whether ticket is still the latest for its scope.
func (s *Sequencer) Current(ticket Ticket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ticket.Sequence != 0 && s.latest[ticket.Scope] == ticket.Sequence
}

// Cancel supersedes every outstanding ticket for scope without
// issuing a new request.
func (s *Sequencer) Cancel(scope chat.ScopeID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		s.latest = make(map[chat.ScopeID]uint64)
	}
	s.latest[scope]++
}
