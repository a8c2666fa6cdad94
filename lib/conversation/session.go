// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/bureau-foundation/threadsync/lib/config"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/messaging"
)

// Session is a Hub wired to a backend from a loaded configuration.
type Session struct {
	Hub    *Hub
	Client *messaging.Client
	Stream messaging.StreamConfig
}

// NewSession validates cfg and builds the client, stream settings, and
// hub for actor. Fields already set in base take precedence over the
// configuration; a nil base.Logger gets a JSON logger on stderr at
// the configured level.
func NewSession(cfg *config.Config, actor chat.Author, accessToken string, base Options) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("conversation: invalid configuration: %w", err)
	}
	if cfg.API.BaseURL == "" {
		return nil, errors.New("conversation: api.base_url is required")
	}
	if cfg.Stream.URL == "" {
		return nil, errors.New("conversation: stream.url is required")
	}

	options, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	options.Clock = base.Clock
	options.Metrics = base.Metrics
	options.Notifier = base.Notifier
	options.Logger = base.Logger
	if options.Logger == nil {
		level, err := cfg.Log.SlogLevel()
		if err != nil {
			return nil, err
		}
		options.Logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	options = options.withDefaults()

	compression, err := messagestore.ParseCompression(cfg.Store.SnapshotCompression)
	if err != nil {
		return nil, err
	}

	client, err := messaging.NewClient(messaging.ClientConfig{
		BaseURL:     cfg.API.BaseURL,
		AccessToken: accessToken,
		HTTPClient:  &http.Client{Timeout: cfg.API.Timeout},
		Logger:      options.Logger,
	})
	if err != nil {
		return nil, err
	}

	hub, err := NewHub(HubConfig{
		Actor:       actor,
		Channels:    client,
		Threads:     client,
		Comments:    client,
		Options:     options,
		Compression: compression,
	})
	if err != nil {
		return nil, err
	}

	return &Session{
		Hub:    hub,
		Client: client,
		Stream: messaging.StreamConfig{
			URL:         cfg.Stream.URL,
			AccessToken: accessToken,
			MaxRetries:  cfg.Stream.MaxRetries,
			RetryDelay:  cfg.Stream.RetryDelay,
			Clock:       options.Clock,
			Logger:      options.Logger,
		},
	}, nil
}

// Run consumes the live subscription and sweeps stale records until
// ctx is done or the subscription gives up.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	swept := make(chan struct{})
	go func() {
		defer close(swept)
		s.Hub.Run(ctx)
	}()

	err := s.Hub.Stream(ctx, s.Stream)
	cancel()
	<-swept
	s.Client.CloseIdleConnections()
	return err
}
