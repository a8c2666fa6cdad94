// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/pagination"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/messaging"
)

// ThreadAPI is the part of messaging.Client a Thread uses.
type ThreadAPI interface {
	ThreadMessages(ctx context.Context, channelID, parentMessageID string, options messaging.PageOptions) (*messaging.ThreadPage, error)
	SendReply(ctx context.Context, channelID, parentMessageID string, request messaging.ReplyRequest) (*chat.MessagePayload, error)
}

// Thread is the reply list under one thread root.
type Thread struct {
	*messageList

	channelID string
	rootID    string
	api       ThreadAPI
}

// NewThread returns an empty thread conversation.
func NewThread(channelID, rootID string, actor chat.Author, api ThreadAPI, options Options) (*Thread, error) {
	scope := chat.ThreadScope(channelID, rootID)
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return newThread(messagestore.New(scope, options.withDefaults().store()), actor, api, options), nil
}

func newThread(store *messagestore.Store, actor chat.Author, api ThreadAPI, options Options) *Thread {
	scope := store.Scope()
	thread := &Thread{
		channelID: scope.ID,
		rootID:    scope.Root,
		api:       api,
	}
	thread.messageList = newMessageList(newConversation(store, actor, options), scope.Root, thread.fetchReplies, thread.sendReply)
	return thread
}

func (t *Thread) fetchReplies(ctx context.Context, options messaging.PageOptions) (pagination.Page, error) {
	response, err := t.api.ThreadMessages(ctx, t.channelID, t.rootID, options)
	if err != nil {
		return pagination.Page{}, err
	}
	return pageOf(t.scope, response.Replies, response.Pagination, nil), nil
}

func (t *Thread) sendReply(ctx context.Context, record chat.Record) (chat.Record, error) {
	payload, err := t.api.SendReply(ctx, t.channelID, t.rootID, messaging.ReplyRequest{
		Content:     record.Content,
		MessageType: messaging.MessageTypeText,
		ClientTxnID: record.CorrelationID,
	})
	if err != nil {
		return chat.Record{}, err
	}
	return payload.Record(t.scope), nil
}
