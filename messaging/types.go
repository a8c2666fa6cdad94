// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// envelope is the shape of every API response.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *APIError       `json:"error,omitempty"`
}

// PageOptions selects a window of a thread. Zero Limit leaves the
// server default.
type PageOptions struct {
	Limit  int
	Offset int
}

func (o PageOptions) query() url.Values {
	query := url.Values{}
	if o.Limit > 0 {
		query.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Offset > 0 {
		query.Set("offset", strconv.Itoa(o.Offset))
	}
	return query
}

// ChannelPage is one page of a channel's top-level messages.
type ChannelPage struct {
	Messages   []chat.MessagePayload `json:"messages"`
	Pagination PageInfo              `json:"pagination"`
}

// ThreadPage is one page of thread replies.
type ThreadPage struct {
	Replies    []chat.MessagePayload `json:"replies"`
	Pagination PageInfo              `json:"pagination"`
}

// PageInfo describes where a page sits in the thread.
type PageInfo struct {
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// ReplyRequest is the body of SendReply and SendMessage.
type ReplyRequest struct {
	Content     string   `json:"content"`
	MessageType string   `json:"message_type,omitempty"`
	Mentions    []string `json:"mentions,omitempty"`

	// ClientTxnID lets the server echo a correlation id on the
	// resulting stream event.
	ClientTxnID string `json:"client_txn_id,omitempty"`
}

// MessageTypeText is the message_type of plain replies.
const MessageTypeText = "text"

// CommentRequest is the body of AddComment.
type CommentRequest struct {
	Content     string `json:"content"`
	UserID      string `json:"user_id"`
	ClientTxnID string `json:"client_txn_id,omitempty"`
}

type updateCommentRequest struct {
	Content string `json:"content"`
}

type reactionRequest struct {
	Reaction string `json:"reaction"`
}
