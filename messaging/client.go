// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/threadsync/lib/netutil"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// BaseURL is the base URL of the API (e.g., "https://chat.example.com").
	BaseURL string
	// AccessToken is sent as a bearer token when set. Deployments behind
	// a credential-injecting proxy leave it empty.
	AccessToken string
	// HTTPClient is used for all requests. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Client calls the request/response API. Safe for concurrent use.
type Client struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a new API client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("messaging: BaseURL is required")
	}
	parsed, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("messaging: invalid BaseURL %q: %w", config.BaseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("messaging: BaseURL %q must be http or https", config.BaseURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL:     strings.TrimRight(config.BaseURL, "/"),
		accessToken: config.AccessToken,
		httpClient:  httpClient,
		logger:      logger,
	}, nil
}

// CloseIdleConnections closes idle HTTP connections in the underlying
// transport's pool, forcing fresh connections after a network
// disruption.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// ChannelMessages fetches one page of channelID's top-level messages.
func (c *Client) ChannelMessages(ctx context.Context, channelID string, options PageOptions) (*ChannelPage, error) {
	if channelID == "" {
		return nil, fmt.Errorf("messaging: channel id is required")
	}
	var page ChannelPage
	if err := c.call(ctx, http.MethodGet, channelPath(channelID), nil, options.query(), &page); err != nil {
		return nil, fmt.Errorf("messaging: channel messages failed: %w", err)
	}
	return &page, nil
}

// SendMessage posts a top-level message to channelID and returns the
// created message.
func (c *Client) SendMessage(ctx context.Context, channelID string, request ReplyRequest) (*chat.MessagePayload, error) {
	if channelID == "" {
		return nil, fmt.Errorf("messaging: channel id is required")
	}
	if request.MessageType == "" {
		request.MessageType = MessageTypeText
	}
	var message chat.MessagePayload
	if err := c.call(ctx, http.MethodPost, channelPath(channelID), request, nil, &message); err != nil {
		return nil, fmt.Errorf("messaging: send message failed: %w", err)
	}
	c.logger.Debug("message sent", "channel_id", channelID, "message_id", message.ID)
	return &message, nil
}

// ThreadMessages fetches one page of replies to parentMessageID.
func (c *Client) ThreadMessages(ctx context.Context, channelID, parentMessageID string, options PageOptions) (*ThreadPage, error) {
	if channelID == "" || parentMessageID == "" {
		return nil, fmt.Errorf("messaging: channel and parent message ids are required")
	}
	path := messagePath(channelID, parentMessageID) + "/thread"
	var page ThreadPage
	if err := c.call(ctx, http.MethodGet, path, nil, options.query(), &page); err != nil {
		return nil, fmt.Errorf("messaging: thread messages failed: %w", err)
	}
	return &page, nil
}

// SendReply posts a reply to parentMessageID and returns the created
// message.
func (c *Client) SendReply(ctx context.Context, channelID, parentMessageID string, request ReplyRequest) (*chat.MessagePayload, error) {
	if channelID == "" || parentMessageID == "" {
		return nil, fmt.Errorf("messaging: channel and parent message ids are required")
	}
	if request.MessageType == "" {
		request.MessageType = MessageTypeText
	}

	path := messagePath(channelID, parentMessageID) + "/replies"
	var message chat.MessagePayload
	if err := c.call(ctx, http.MethodPost, path, request, nil, &message); err != nil {
		return nil, fmt.Errorf("messaging: send reply failed: %w", err)
	}
	c.logger.Debug("reply sent",
		"channel_id", channelID,
		"parent_message_id", parentMessageID,
		"message_id", message.ID,
	)
	return &message, nil
}

func channelPath(channelID string) string {
	return "/api/channels/" + url.PathEscape(channelID) + "/messages"
}

func messagePath(channelID, messageID string) string {
	return channelPath(channelID) + "/" + url.PathEscape(messageID)
}

// TaskComments fetches every comment on taskID with authoritative
// reaction counts.
func (c *Client) TaskComments(ctx context.Context, taskID string) ([]chat.Comment, error) {
	var comments []chat.Comment
	if err := c.call(ctx, http.MethodGet, commentsPath(taskID), nil, nil, &comments); err != nil {
		return nil, fmt.Errorf("messaging: task comments failed: %w", err)
	}
	return comments, nil
}

// AddComment creates a comment on taskID.
func (c *Client) AddComment(ctx context.Context, taskID string, request CommentRequest) (*chat.Comment, error) {
	if request.UserID == "" {
		return nil, fmt.Errorf("messaging: user id is required to add a comment")
	}
	var comment chat.Comment
	if err := c.call(ctx, http.MethodPost, commentsPath(taskID), request, nil, &comment); err != nil {
		return nil, fmt.Errorf("messaging: add comment failed: %w", err)
	}
	return &comment, nil
}

// UpdateComment replaces the content of commentID.
func (c *Client) UpdateComment(ctx context.Context, taskID, commentID, content string) (*chat.Comment, error) {
	var comment chat.Comment
	err := c.call(ctx, http.MethodPut, commentPath(taskID, commentID), updateCommentRequest{Content: content}, nil, &comment)
	if err != nil {
		return nil, fmt.Errorf("messaging: update comment failed: %w", err)
	}
	return &comment, nil
}

// DeleteComment deletes commentID.
func (c *Client) DeleteComment(ctx context.Context, taskID, commentID string) error {
	if err := c.call(ctx, http.MethodDelete, commentPath(taskID, commentID), nil, nil, nil); err != nil {
		return fmt.Errorf("messaging: delete comment failed: %w", err)
	}
	return nil
}

// ReactToComment toggles the caller's reaction on commentID. The
// response carries no counts; re-fetch TaskComments for them.
func (c *Client) ReactToComment(ctx context.Context, taskID, commentID, reaction string) error {
	err := c.call(ctx, http.MethodPost, commentPath(taskID, commentID)+"/reactions", reactionRequest{Reaction: reaction}, nil, nil)
	if err != nil {
		return fmt.Errorf("messaging: react to comment failed: %w", err)
	}
	return nil
}

func commentsPath(taskID string) string {
	return "/api/tasks/" + url.PathEscape(taskID) + "/comments"
}

func commentPath(taskID, commentID string) string {
	return commentsPath(taskID) + "/" + url.PathEscape(commentID)
}

// call performs a request and decodes the envelope's data into result.
// result may be nil for endpoints that return none.
func (c *Client) call(ctx context.Context, method, path string, requestBody any, query url.Values, result any) error {
	data, err := c.doRequest(ctx, method, path, requestBody, query)
	if err != nil {
		return err
	}
	if result == nil || len(data) == 0 || string(data) == "null" {
		return nil
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to parse %s %s response data: %w", method, path, err)
	}
	return nil
}

// doRequest performs an HTTP request and returns the envelope's data.
// On a non-2xx status or success=false it returns an *APIError.
func (c *Client) doRequest(ctx context.Context, method, path string, requestBody any, query url.Values) (json.RawMessage, error) {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Accept", "application/json")
	if requestBody != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request to %s %s failed: %w", method, path, err)
	}
	defer response.Body.Close()

	responseBody, err := netutil.ReadResponse(response.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var decoded envelope
	if len(bytes.TrimSpace(responseBody)) > 0 {
		if jsonErr := json.Unmarshal(responseBody, &decoded); jsonErr != nil {
			if response.StatusCode >= 200 && response.StatusCode < 300 {
				return nil, fmt.Errorf("malformed response from %s %s: %w", method, path, jsonErr)
			}
			return nil, &APIError{
				Code:       codeForStatus(response.StatusCode),
				Message:    netutil.Truncate(string(responseBody)),
				StatusCode: response.StatusCode,
			}
		}
	} else if response.StatusCode >= 200 && response.StatusCode < 300 {
		// Some deployments answer DELETE with 204 and no body.
		return nil, nil
	}

	if response.StatusCode >= 200 && response.StatusCode < 300 && decoded.Success {
		return decoded.Data, nil
	}

	apiErr := decoded.Error
	if apiErr == nil {
		apiErr = &APIError{Message: http.StatusText(response.StatusCode)}
	}
	apiErr.StatusCode = response.StatusCode
	if apiErr.Code == "" {
		apiErr.Code = codeForStatus(response.StatusCode)
	}
	c.logger.Debug("api request failed",
		"method", method,
		"path", path,
		"status", response.StatusCode,
		"code", apiErr.Code,
	)
	return nil, apiErr
}
