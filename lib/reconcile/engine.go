// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/threadsync/lib/clock"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/lib/syncmetrics"
)

// DefaultWindow is the dedup window used when Options.Window is zero.
const DefaultWindow = 30 * time.Second

// MatchMode selects how optimistic counterparts are found.
type MatchMode string

const (
	// MatchCorrelationThenHeuristic matches on correlation id when the
	// confirmation carries one and on content otherwise.
	MatchCorrelationThenHeuristic MatchMode = "correlation_then_heuristic"

	// MatchHeuristic matches on author, content, and time only.
	MatchHeuristic MatchMode = "heuristic"

	// MatchCorrelation matches on correlation id only.
	MatchCorrelation MatchMode = "correlation"
)

// ParseMatchMode validates a configured mode. Empty selects
// MatchCorrelationThenHeuristic.
func ParseMatchMode(value string) (MatchMode, error) {
	switch mode := MatchMode(value); mode {
	case "":
		return MatchCorrelationThenHeuristic, nil
	case MatchCorrelationThenHeuristic, MatchHeuristic, MatchCorrelation:
		return mode, nil
	default:
		return "", fmt.Errorf("reconcile: unknown match mode %q", value)
	}
}

func (m MatchMode) correlation() bool { return m != MatchHeuristic }
func (m MatchMode) heuristic() bool   { return m != MatchCorrelation }

// Outcome reports what a confirmation did to the store.
type Outcome string

const (
	// OutcomeDuplicate means the record was already present.
	OutcomeDuplicate Outcome = "duplicate"

	// OutcomeConfirmed means an optimistic record was replaced.
	OutcomeConfirmed Outcome = "confirmed"

	// OutcomeInserted means the record had no local counterpart.
	OutcomeInserted Outcome = "inserted"

	// OutcomeUpdated means a confirmed record's content changed.
	OutcomeUpdated Outcome = "updated"

	// OutcomeRemoved means a confirmed record was deleted.
	OutcomeRemoved Outcome = "removed"

	// OutcomeIgnored means the event was not applied: it belongs to
	// another scope, or targets a record with a local operation in
	// flight.
	OutcomeIgnored Outcome = "ignored"
)

// Failure reasons recorded on failed records and in metrics.
const (
	ReasonExpired = "expired"
	ReasonRequest = "request"
)

// Options configures an Engine.
type Options struct {
	// Window is the dedup window. Zero means DefaultWindow.
	Window time.Duration

	// Mode selects counterpart matching. Empty means
	// MatchCorrelationThenHeuristic.
	Mode MatchMode

	// Clock measures record age for expiry. Nil means clock.Real().
	Clock clock.Clock

	// Logger is used for structured logging. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *syncmetrics.Metrics
}

// Engine reconciles confirmations against one store. Safe for
// concurrent use; every method runs as a single store batch.
type Engine struct {
	store   *messagestore.Store
	window  time.Duration
	mode    MatchMode
	clock   clock.Clock
	logger  *slog.Logger
	metrics *syncmetrics.Metrics
}

// New returns an Engine for store.
func New(store *messagestore.Store, options Options) *Engine {
	window := options.Window
	if window <= 0 {
		window = DefaultWindow
	}
	mode := options.Mode
	if mode == "" {
		mode = MatchCorrelationThenHeuristic
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		window:  window,
		mode:    mode,
		clock:   clk,
		logger:  logger.With("scope", store.Scope().String()),
		metrics: options.Metrics,
	}
}

// Window returns the dedup window.
func (e *Engine) Window() time.Duration { return e.window }

// OnConfirmationEvent applies one confirmation from the live stream.
func (e *Engine) OnConfirmationEvent(event chat.Record) (Outcome, error) {
	if !e.accepts(event) {
		return e.ignored(event), nil
	}
	confirmed, err := confirmedCopy(event)
	if err != nil {
		return "", err
	}

	var outcome Outcome
	var replaced string
	err = e.store.Update(func(tx *messagestore.Txn) error {
		var err error
		outcome, replaced, err = e.absorb(tx, confirmed, "")
		if err != nil {
			return err
		}
		e.expire(tx)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reconcile: applying %s: %w", confirmed.ID, err)
	}
	e.report(outcome, confirmed.ID, replaced)
	return outcome, nil
}

// ConfirmSent applies the response to the request that created the
// optimistic record tempID. The response is authoritative for that
// record, so no matching is needed; if the stream already delivered
// the record, tempID is superseded instead.
func (e *Engine) ConfirmSent(tempID string, response chat.Record) (Outcome, error) {
	if !e.accepts(response) {
		return e.ignored(response), nil
	}
	confirmed, err := confirmedCopy(response)
	if err != nil {
		return "", err
	}

	var outcome Outcome
	var replaced string
	err = e.store.Update(func(tx *messagestore.Txn) error {
		var err error
		outcome, replaced, err = e.absorb(tx, confirmed, tempID)
		if err != nil {
			return err
		}
		e.expire(tx)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reconcile: confirming %s as %s: %w", tempID, confirmed.ID, err)
	}
	e.report(outcome, confirmed.ID, replaced)
	return outcome, nil
}

// OnUpdateEvent applies a server-side content change to a confirmed
// record. A record unknown to the store is inserted. A record with a
// local edit or delete in flight is left alone; that operation's own
// confirmation carries the server state.
func (e *Engine) OnUpdateEvent(event chat.Record) (Outcome, error) {
	if !e.accepts(event) {
		return e.ignored(event), nil
	}
	confirmed, err := confirmedCopy(event)
	if err != nil {
		return "", err
	}

	var outcome Outcome
	var replaced string
	err = e.store.Update(func(tx *messagestore.Txn) error {
		existing, found := tx.Get(confirmed.ID)
		switch {
		case !found:
			var err error
			outcome, replaced, err = e.absorb(tx, confirmed, "")
			return err
		case existing.Busy():
			outcome = OutcomeIgnored
			return nil
		default:
			outcome = OutcomeUpdated
			return tx.Modify(confirmed.ID, func(record *chat.Record) {
				record.Content = confirmed.Content
				record.EditedAt = confirmed.EditedAt
			})
		}
	})
	if err != nil {
		return "", fmt.Errorf("reconcile: updating %s: %w", confirmed.ID, err)
	}
	e.report(outcome, confirmed.ID, replaced)
	return outcome, nil
}

// OnDeleteEvent removes a confirmed record deleted on the server.
// Deleting an absent record is a duplicate delivery.
func (e *Engine) OnDeleteEvent(id string) (Outcome, error) {
	if chat.IsTemporaryID(id) {
		return "", fmt.Errorf("reconcile: delete event for temporary id %s", id)
	}
	outcome := OutcomeDuplicate
	err := e.store.Update(func(tx *messagestore.Txn) error {
		if _, found := tx.Get(id); !found {
			return nil
		}
		outcome = OutcomeRemoved
		return tx.Remove(id)
	})
	if err != nil {
		return "", fmt.Errorf("reconcile: deleting %s: %w", id, err)
	}
	e.report(outcome, id, "")
	return outcome, nil
}

// MarkFailed moves the pending record tempID to failed after its
// request errored. It returns false if the record is no longer pending
// (already confirmed by the stream, or discarded).
func (e *Engine) MarkFailed(tempID string, cause error) bool {
	marked := false
	err := e.store.Update(func(tx *messagestore.Txn) error {
		record, found := tx.Get(tempID)
		if !found || !record.Pending() {
			return nil
		}
		marked = true
		return tx.Modify(tempID, func(record *chat.Record) {
			record.State = chat.DeliveryFailed
			record.FailureReason = cause.Error()
		})
	})
	if err != nil {
		e.logger.Error("marking record failed", "temp_id", tempID, "error", err)
		return false
	}
	if marked {
		e.metrics.OptimisticFailed(ReasonRequest)
		e.logger.Warn("optimistic record failed", "temp_id", tempID, "reason", ReasonRequest, "error", cause)
	}
	return marked
}

// ExpireStale marks pending records older than the window as failed
// and returns how many it marked.
func (e *Engine) ExpireStale() int {
	var expired int
	err := e.store.Update(func(tx *messagestore.Txn) error {
		expired = e.expire(tx)
		return nil
	})
	if err != nil {
		e.logger.Error("expiring optimistic records", "error", err)
	}
	return expired
}

// Settle supersedes optimistic records whose confirmed counterpart is
// already in the store, typically delivered by a page fetch. It
// returns how many records it superseded.
func (e *Engine) Settle() int {
	settled := 0
	err := e.store.Update(func(tx *messagestore.Txn) error {
		var err error
		settled, err = e.SettleBatch(tx)
		return err
	})
	if err != nil {
		e.logger.Error("settling optimistic records", "error", err)
		return 0
	}
	return settled
}

// SettleBatch is Settle inside a batch the caller already holds, so a
// merge and the retirement of the optimistic records it confirms reach
// subscribers as one notification. tx must belong to the engine's
// store.
func (e *Engine) SettleBatch(tx *messagestore.Txn) (int, error) {
	settled := 0
	for _, record := range tx.All() {
		if record.Optimistic {
			continue
		}
		superseded, err := e.supersede(tx, record, record.CorrelationID)
		if err != nil {
			return 0, err
		}
		if superseded != "" {
			settled++
		}
	}
	e.expire(tx)
	if settled > 0 {
		e.logger.Debug("superseded optimistic records after merge", "count", settled)
	}
	return settled, nil
}

// absorb applies a confirmed record inside a batch. If tempID is set,
// it names the known counterpart. It returns the outcome and the id of
// the optimistic record that was replaced or superseded, if any.
func (e *Engine) absorb(tx *messagestore.Txn, confirmed chat.Record, tempID string) (Outcome, string, error) {
	if stored, found := tx.Get(confirmed.ID); found {
		if tempID != "" {
			if _, present := tx.Get(tempID); !present {
				return OutcomeDuplicate, "", nil
			}
			return OutcomeDuplicate, tempID, e.retire(tx, tempID, confirmed.ID)
		}
		correlationID := confirmed.CorrelationID
		if correlationID == "" {
			correlationID = stored.CorrelationID
		}
		superseded, err := e.supersede(tx, stored, correlationID)
		return OutcomeDuplicate, superseded, err
	}

	var counterpart chat.Record
	var found bool
	if tempID != "" {
		counterpart, found = tx.Get(tempID)
	} else {
		counterpart, found = e.match(tx, confirmed)
	}
	if !found {
		return OutcomeInserted, "", tx.Insert(confirmed)
	}
	if confirmed.CorrelationID == "" {
		confirmed.CorrelationID = counterpart.CorrelationID
	}
	return OutcomeConfirmed, counterpart.ID, tx.Replace(counterpart.ID, confirmed)
}

// match finds the optimistic counterpart of a confirmation not yet in
// the store. A correlation id, when the mode uses it, is conclusive:
// without a matching local record the confirmation is someone else's.
func (e *Engine) match(tx *messagestore.Txn, confirmed chat.Record) (chat.Record, bool) {
	if e.mode.correlation() && confirmed.CorrelationID != "" {
		return correlated(tx, confirmed.CorrelationID)
	}
	if e.mode.heuristic() {
		return e.resembling(tx, confirmed)
	}
	return chat.Record{}, false
}

// supersede retires the optimistic counterpart of the stored confirmed
// record, if one is still present, and returns its id. Only a record
// that never absorbed a local record is eligible for heuristic
// pairing.
func (e *Engine) supersede(tx *messagestore.Txn, stored chat.Record, correlationID string) (string, error) {
	var counterpart chat.Record
	var found bool
	switch {
	case e.mode.correlation() && correlationID != "":
		counterpart, found = correlated(tx, correlationID)
	case e.mode.heuristic() && stored.CorrelationID == "":
		counterpart, found = e.resembling(tx, stored)
	}
	if !found {
		return "", nil
	}
	return counterpart.ID, e.retire(tx, counterpart.ID, stored.ID)
}

// correlated returns the optimistic record, pending or failed, that
// carries correlationID.
func correlated(tx *messagestore.Txn, correlationID string) (chat.Record, bool) {
	for _, record := range tx.All() {
		if record.Optimistic && record.CorrelationID == correlationID {
			return record, true
		}
	}
	return chat.Record{}, false
}

// resembling returns the first optimistic record in insertion order
// by the same author, with the same normalized content, and a
// timestamp within the window of confirmed. Failed records are
// eligible: the sweep may have given up on a send whose response was
// lost before the stream delivered it.
func (e *Engine) resembling(tx *messagestore.Txn, confirmed chat.Record) (chat.Record, bool) {
	for _, record := range tx.Candidates(chat.ContentKeyOf(confirmed)) {
		delta := confirmed.Timestamp.Sub(record.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta < e.window {
			return record, true
		}
	}
	return chat.Record{}, false
}

// retire removes the optimistic record tempID in favour of the stored
// confirmed record confirmedID, which inherits its correlation id.
func (e *Engine) retire(tx *messagestore.Txn, tempID, confirmedID string) error {
	optimistic, found := tx.Get(tempID)
	if !found {
		return nil
	}
	if !optimistic.Optimistic {
		return fmt.Errorf("reconcile: refusing to retire confirmed record %s", tempID)
	}
	if err := tx.Remove(tempID); err != nil {
		return err
	}
	if optimistic.CorrelationID == "" {
		return nil
	}
	return tx.Modify(confirmedID, func(record *chat.Record) {
		if record.CorrelationID == "" {
			record.CorrelationID = optimistic.CorrelationID
		}
	})
}

// expire marks pending records older than the window as failed.
func (e *Engine) expire(tx *messagestore.Txn) int {
	now := e.clock.Now()
	expired := 0
	for _, record := range tx.Pending() {
		if now.Sub(record.Timestamp) < e.window {
			continue
		}
		err := tx.Modify(record.ID, func(record *chat.Record) {
			record.State = chat.DeliveryFailed
			record.FailureReason = fmt.Sprintf("no confirmation within %s", e.window)
		})
		if err != nil {
			continue
		}
		expired++
		e.metrics.OptimisticFailed(ReasonExpired)
		e.logger.Info("optimistic record expired", "temp_id", record.ID, "age", now.Sub(record.Timestamp))
	}
	return expired
}

func (e *Engine) accepts(record chat.Record) bool {
	return record.Scope.IsZero() || record.Scope == e.store.Scope()
}

func (e *Engine) ignored(record chat.Record) Outcome {
	e.logger.Debug("ignoring confirmation for another scope",
		"record_id", record.ID,
		"record_scope", record.Scope.String(),
	)
	e.metrics.ReconcileOutcome(string(OutcomeIgnored))
	return OutcomeIgnored
}

func (e *Engine) report(outcome Outcome, id, replaced string) {
	e.metrics.ReconcileOutcome(string(outcome))
	switch outcome {
	case OutcomeConfirmed:
		e.logger.Info("optimistic record confirmed", "temp_id", replaced, "record_id", id)
	case OutcomeDuplicate:
		if replaced != "" {
			e.logger.Debug("duplicate delivery superseded optimistic record", "record_id", id, "temp_id", replaced)
			return
		}
		e.logger.Debug("discarded duplicate delivery", "record_id", id)
	default:
		e.logger.Debug("applied confirmation", "record_id", id, "outcome", string(outcome))
	}
}

// ErrTemporaryID is returned when a confirmation carries an id from the
// client-reserved namespace.
var ErrTemporaryID = errors.New("reconcile: confirmation carries a temporary id")

// confirmedCopy normalizes a confirmation into a confirmed record.
func confirmedCopy(event chat.Record) (chat.Record, error) {
	if event.ID == "" {
		return chat.Record{}, fmt.Errorf("reconcile: confirmation without id")
	}
	if chat.IsTemporaryID(event.ID) {
		return chat.Record{}, fmt.Errorf("%w: %s", ErrTemporaryID, event.ID)
	}
	confirmed := event.Clone()
	confirmed.Optimistic = false
	confirmed.State = chat.DeliveryConfirmed
	confirmed.FailureReason = ""
	confirmed.Editing = false
	confirmed.Deleting = false
	confirmed.Sequence = 0
	return confirmed, nil
}
