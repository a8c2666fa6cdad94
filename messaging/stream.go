// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/bureau-foundation/threadsync/lib/clock"
	"github.com/bureau-foundation/threadsync/lib/netutil"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// Stream defaults.
const (
	DefaultMaxRetries = 5
	DefaultRetryDelay = time.Second

	// maxEventSize bounds one websocket frame. Events carry a single
	// message or comment.
	maxEventSize = 1 << 20
)

// StreamConfig holds configuration for the live subscription.
type StreamConfig struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// HTTPClient is used for the handshake. If nil, http.DefaultClient is used.
	HTTPClient *http.Client
	// MaxRetries is the number of consecutive failures Run tolerates.
	// Zero means DefaultMaxRetries.
	MaxRetries int
	// RetryDelay is the pause between reconnect attempts. Zero means
	// DefaultRetryDelay.
	RetryDelay time.Duration
	// Clock times the pause between attempts. If nil, clock.Real() is used.
	Clock clock.Clock
	// Logger is used for structured logging. If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (config StreamConfig) withDefaults() StreamConfig {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return config
}

// Stream is one open websocket subscription. Not safe for concurrent
// reads.
type Stream struct {
	conn   *websocket.Conn
	logger *slog.Logger
}

// DialStream opens the subscription.
func DialStream(ctx context.Context, config StreamConfig) (*Stream, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("messaging: stream URL is required")
	}
	config = config.withDefaults()

	header := http.Header{}
	if config.AccessToken != "" {
		header.Set("Authorization", "Bearer "+config.AccessToken)
	}
	conn, _, err := websocket.Dial(ctx, config.URL, &websocket.DialOptions{
		HTTPClient: config.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("messaging: dialing stream: %w", err)
	}
	conn.SetReadLimit(maxEventSize)
	return &Stream{conn: conn, logger: config.Logger}, nil
}

// Next blocks until the next well-formed event arrives. Frames that
// are not valid events are logged and skipped.
func (s *Stream) Next(ctx context.Context) (chat.StreamEvent, error) {
	for {
		messageType, data, err := s.conn.Read(ctx)
		if err != nil {
			return chat.StreamEvent{}, fmt.Errorf("messaging: reading stream: %w", err)
		}
		if messageType != websocket.MessageText {
			s.logger.Warn("skipping binary stream frame", "bytes", len(data))
			continue
		}
		var event chat.StreamEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn("skipping malformed stream event",
				"error", err,
				"frame", netutil.Truncate(string(data)),
			)
			continue
		}
		if event.Type == "" {
			s.logger.Warn("skipping stream event without type")
			continue
		}
		return event, nil
	}
}

// Close closes the subscription normally.
func (s *Stream) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// Run keeps a subscription open and passes every event to handle until
// ctx is cancelled. A dial or read failure is followed by a pause and
// a redial. After MaxRetries consecutive failures Run returns the last
// error. Any delivered event resets the count.
func Run(ctx context.Context, config StreamConfig, handle func(chat.StreamEvent)) error {
	config = config.withDefaults()
	failures := 0
	for {
		err := runOnce(ctx, config, handle, &failures)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures++
		if failures > config.MaxRetries {
			return fmt.Errorf("messaging: stream failed %d consecutive times: %w", failures, err)
		}
		level := slog.LevelWarn
		if netutil.IsExpectedCloseError(err) || websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			level = slog.LevelInfo
		}
		config.Logger.Log(ctx, level, "stream interrupted, reconnecting",
			"attempt", failures,
			"max_attempts", config.MaxRetries,
			"error", err,
		)
		select {
		case <-config.Clock.After(config.RetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// runOnce dials and reads until the connection fails.
func runOnce(ctx context.Context, config StreamConfig, handle func(chat.StreamEvent), failures *int) error {
	stream, err := DialStream(ctx, config)
	if err != nil {
		return err
	}
	defer stream.conn.CloseNow()

	for {
		event, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		*failures = 0
		handle(event)
	}
}
