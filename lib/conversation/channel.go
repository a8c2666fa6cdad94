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

// ChannelAPI is the part of messaging.Client a Channel uses.
type ChannelAPI interface {
	ChannelMessages(ctx context.Context, channelID string, options messaging.PageOptions) (*messaging.ChannelPage, error)
	SendMessage(ctx context.Context, channelID string, request messaging.ReplyRequest) (*chat.MessagePayload, error)
}

// Channel is the top-level message list of a channel. Replies belong
// to their thread's scope and never appear here.
type Channel struct {
	*messageList

	channelID string
	api       ChannelAPI
}

// NewChannel returns an empty channel conversation.
func NewChannel(channelID string, actor chat.Author, api ChannelAPI, options Options) (*Channel, error) {
	scope := chat.ChannelScope(channelID)
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	return newChannel(messagestore.New(scope, options.withDefaults().store()), actor, api, options), nil
}

func newChannel(store *messagestore.Store, actor chat.Author, api ChannelAPI, options Options) *Channel {
	channel := &Channel{channelID: store.Scope().ID, api: api}
	channel.messageList = newMessageList(newConversation(store, actor, options), "", channel.fetchMessages, channel.sendMessage)
	return channel
}

func (c *Channel) fetchMessages(ctx context.Context, options messaging.PageOptions) (pagination.Page, error) {
	response, err := c.api.ChannelMessages(ctx, c.channelID, options)
	if err != nil {
		return pagination.Page{}, err
	}
	return pageOf(c.scope, response.Messages, response.Pagination, func(message chat.MessagePayload) bool {
		return message.ThreadRoot == ""
	}), nil
}

func (c *Channel) sendMessage(ctx context.Context, record chat.Record) (chat.Record, error) {
	payload, err := c.api.SendMessage(ctx, c.channelID, messaging.ReplyRequest{
		Content:     record.Content,
		MessageType: messaging.MessageTypeText,
		ClientTxnID: record.CorrelationID,
	})
	if err != nil {
		return chat.Record{}, err
	}
	return payload.Record(c.scope), nil
}
