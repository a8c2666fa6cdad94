// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"log/slog"
	"time"

	"github.com/bureau-foundation/threadsync/lib/clock"
	"github.com/bureau-foundation/threadsync/lib/config"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/pagination"
	"github.com/bureau-foundation/threadsync/lib/reconcile"
	"github.com/bureau-foundation/threadsync/lib/syncmetrics"
)

// DefaultSweepInterval is how often Run expires stale optimistic
// records when Options.SweepInterval is zero.
const DefaultSweepInterval = 5 * time.Second

// Options configures conversations. Zero values select defaults.
type Options struct {
	Window        time.Duration
	MatchMode     reconcile.MatchMode
	FailedLimit   int
	PageSize      int
	SweepInterval time.Duration

	// Clock stamps optimistic records and drives expiry. If nil,
	// clock.Real() is used.
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *syncmetrics.Metrics

	// Notifier receives user-facing failures. Optional.
	Notifier Notifier
}

// OptionsFromConfig maps the loaded configuration onto Options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	mode, err := reconcile.ParseMatchMode(cfg.Reconcile.MatchMode)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Window:        cfg.Reconcile.DedupWindow,
		MatchMode:     mode,
		FailedLimit:   cfg.Store.FailedRecordLimit,
		PageSize:      cfg.Pagination.PageSize,
		SweepInterval: cfg.Reconcile.SweepInterval,
	}, nil
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = pagination.DefaultPageSize
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = DefaultSweepInterval
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

func (o Options) store() messagestore.Options {
	return messagestore.Options{FailedLimit: o.FailedLimit, Logger: o.Logger}
}
