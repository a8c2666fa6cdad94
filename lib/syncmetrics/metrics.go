// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package syncmetrics exports Prometheus counters for the sync engine.
//
// The module is embedded in a host application, so nothing registers
// with the global registry: the host passes its own Registerer to New.
// A nil *Metrics is valid and records nothing, which lets components
// take metrics as an optional dependency.
package syncmetrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "threadsync"

// Metrics holds the engine's counters.
type Metrics struct {
	reconcile        *prometheus.CounterVec
	optimisticFailed *prometheus.CounterVec
	pagesDiscarded   prometheus.Counter
	rollbacks        *prometheus.CounterVec
}

// New creates the counters and registers them with registerer. A nil
// registerer leaves them unregistered.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		reconcile: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_events_total",
			Help:      "Confirmation events processed, by outcome.",
		}, []string{"outcome"}),
		optimisticFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_failed_total",
			Help:      "Optimistic records marked failed, by reason.",
		}, []string{"reason"}),
		pagesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pages_discarded_total",
			Help:      "Page responses discarded because a newer request superseded them.",
		}),
		rollbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Optimistic mutations rolled back, by operation.",
		}, []string{"operation"}),
	}
	if registerer == nil {
		return metrics, nil
	}
	for _, collector := range metrics.collectors() {
		if err := registerer.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				return nil, fmt.Errorf("syncmetrics: %s already registered; share one Metrics per registry", already.ExistingCollector)
			}
			return nil, fmt.Errorf("syncmetrics: registering collector: %w", err)
		}
	}
	return metrics, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.reconcile, m.optimisticFailed, m.pagesDiscarded, m.rollbacks}
}

// ReconcileOutcome counts one processed confirmation.
func (m *Metrics) ReconcileOutcome(outcome string) {
	if m == nil {
		return
	}
	m.reconcile.WithLabelValues(outcome).Inc()
}

// OptimisticFailed counts one record marked failed.
func (m *Metrics) OptimisticFailed(reason string) {
	if m == nil {
		return
	}
	m.optimisticFailed.WithLabelValues(reason).Inc()
}

// PageDiscarded counts one stale page response.
func (m *Metrics) PageDiscarded() {
	if m == nil {
		return
	}
	m.pagesDiscarded.Inc()
}

// Rollback counts one rolled-back mutation.
func (m *Metrics) Rollback(operation string) {
	if m == nil {
		return
	}
	m.rollbacks.WithLabelValues(operation).Inc()
}
