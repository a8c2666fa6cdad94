// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"sync"

	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/pagination"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/messaging"
)

// fetchFunc returns one page of a message list as records in the
// list's scope.
type fetchFunc func(ctx context.Context, options messaging.PageOptions) (pagination.Page, error)

// messageList is a paged, sendable list of messages: the top level of
// a channel or the replies under a thread root.
type messageList struct {
	*conversation

	// parentID is the parent of every message sent to the list.
	parentID  string
	fetch     fetchFunc
	send      deliverFunc
	sequencer pagination.Sequencer

	mu     sync.Mutex
	paging pagination.State
}

func newMessageList(conversation *conversation, parentID string, fetch fetchFunc, send deliverFunc) *messageList {
	return &messageList{
		conversation: conversation,
		parentID:     parentID,
		fetch:        fetch,
		send:         send,
		paging:       pagination.Initial(),
	}
}

// Paging returns how far the list has been paged.
func (l *messageList) Paging() pagination.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.paging
}

// Send posts content. The optimistic record is visible as soon as
// Send starts; Send returns the confirmed record.
func (l *messageList) Send(ctx context.Context, content string) (chat.Record, error) {
	return l.post(ctx, OpSend, content, l.parentID, l.send)
}

// Retry re-sends a failed message under a new temporary id.
func (l *messageList) Retry(ctx context.Context, tempID string) (chat.Record, error) {
	return l.retry(ctx, tempID, l.send)
}

// LoadPage fetches the newest page. It reports false when the response
// was superseded by a later request and discarded.
func (l *messageList) LoadPage(ctx context.Context) (bool, error) {
	return l.load(ctx, pagination.First(l.options.PageSize))
}

// LoadOlder fetches the page after those already loaded. It reports
// false without a request when the server has reported the last page.
func (l *messageList) LoadOlder(ctx context.Context) (bool, error) {
	state := l.Paging()
	if !state.HasMore {
		return false, nil
	}
	return l.load(ctx, state.Next(l.options.PageSize))
}

func (l *messageList) load(ctx context.Context, request pagination.Request) (bool, error) {
	if l.detached.Load() {
		return false, ErrDetached
	}
	ticket := l.sequencer.Next(l.scope)
	page, err := l.fetch(ctx, messaging.PageOptions{
		Limit:  request.Limit,
		Offset: request.Offset,
	})
	if err != nil {
		if !l.sequencer.Current(ticket) {
			return false, nil
		}
		return false, l.fail(OpLoad, "", err)
	}

	accepted, err := l.merge(ticket, page.Records)
	if err != nil {
		return false, l.fail(OpLoad, "", err)
	}
	if !accepted {
		l.options.Metrics.PageDiscarded()
		l.logger.Debug("discarded superseded page", "offset", request.Offset, "sequence", ticket.Sequence)
		return false, nil
	}

	l.mu.Lock()
	l.paging = l.paging.Advance(request, page)
	l.mu.Unlock()
	return true, nil
}

// merge folds records in if ticket is still current, and retires the
// optimistic records they confirm in the same batch. The ticket check
// runs inside the batch so a newer request cannot slip in between.
func (l *messageList) merge(ticket pagination.Ticket, records []chat.Record) (bool, error) {
	accepted := false
	err := l.store.Update(func(tx *messagestore.Txn) error {
		if !l.sequencer.Current(ticket) || l.detached.Load() {
			return nil
		}
		accepted = true
		if _, err := pagination.Merge(tx, records); err != nil {
			return err
		}
		_, err := l.engine.SettleBatch(tx)
		return err
	})
	return accepted, err
}

// pageOf converts a server page of messages into records in scope.
// Messages that do not belong to scope are dropped.
func pageOf(scope chat.ScopeID, messages []chat.MessagePayload, info messaging.PageInfo, belongs func(chat.MessagePayload) bool) pagination.Page {
	page := pagination.Page{
		Records: make([]chat.Record, 0, len(messages)),
		Total:   info.Total,
		HasMore: info.HasMore,
	}
	for _, message := range messages {
		if belongs != nil && !belongs(message) {
			continue
		}
		page.Records = append(page.Records, message.Record(scope))
	}
	return page
}
