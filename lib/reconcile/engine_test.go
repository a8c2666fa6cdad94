// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package reconcile

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/threadsync/lib/clock"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/optimistic"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/lib/testutil"
)

var (
	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	scope = chat.ThreadScope("c1", "root")
	alice = chat.Author{ID: "alice", Name: "Alice"}
	bob   = chat.Author{ID: "bob", Name: "Bob"}
)

type harness struct {
	clock   *clock.FakeClock
	store   *messagestore.Store
	engine  *Engine
	factory *optimistic.Factory
}

func newHarness(t *testing.T, mode MatchMode) *harness {
	t.Helper()
	fake := clock.Fake(epoch)
	store := messagestore.New(scope, messagestore.Options{})
	return &harness{
		clock:   fake,
		store:   store,
		engine:  New(store, Options{Clock: fake, Mode: mode}),
		factory: optimistic.NewFactory(fake),
	}
}

// send inserts an optimistic record as the send path would.
func (h *harness) send(t *testing.T, actor chat.Author, content string) chat.Record {
	t.Helper()
	record, err := h.factory.Create(optimistic.Action{Scope: scope, Content: content}, actor)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := h.store.Insert(record); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return record
}

func serverRecord(id string, actor chat.Author, content string, at time.Duration) chat.Record {
	return chat.MessagePayload{
		ID:        id,
		Content:   content,
		UserID:    actor.ID,
		UserName:  actor.Name,
		CreatedAt: epoch.Add(at),
	}.Record(scope)
}

func (h *harness) apply(t *testing.T, event chat.Record) Outcome {
	t.Helper()
	outcome, err := h.engine.OnConfirmationEvent(event)
	if err != nil {
		t.Fatalf("OnConfirmationEvent(%s): %v", event.ID, err)
	}
	return outcome
}

func (h *harness) requireRecords(t *testing.T, want ...string) []chat.Record {
	t.Helper()
	records := h.store.All()
	got := make([]string, len(records))
	for i, record := range records {
		got[i] = record.ID
	}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	return records
}

func TestOptimisticSendConfirmedByStream(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	sent := h.send(t, alice, "hello")

	h.clock.Advance(2 * time.Second)
	if outcome := h.apply(t, serverRecord("srv-9", alice, "hello", 2*time.Second)); outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s, want confirmed", outcome)
	}

	records := h.requireRecords(t, "srv-9")
	if records[0].Optimistic || records[0].State != chat.DeliveryConfirmed {
		t.Errorf("record not confirmed: %+v", records[0])
	}
	if records[0].CorrelationID != sent.CorrelationID {
		t.Errorf("confirmed record did not inherit correlation id")
	}
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	h.send(t, alice, "hello")
	event := serverRecord("srv-9", alice, "hello", 2*time.Second)

	h.apply(t, event)
	notifications, cancel := h.store.Subscribe()
	defer cancel()
	if outcome := h.apply(t, event); outcome != OutcomeDuplicate {
		t.Fatalf("second delivery outcome = %s, want duplicate", outcome)
	}
	h.requireRecords(t, "srv-9")
	testutil.RequireNoReceive(t, notifications, "duplicate delivery changed the store")
}

func TestHeuristicNormalizesContent(t *testing.T) {
	h := newHarness(t, MatchHeuristic)
	h.send(t, alice, "  Hello World ")
	if outcome := h.apply(t, serverRecord("srv-1", alice, "hello world", time.Second)); outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s, want confirmed", outcome)
	}
	h.requireRecords(t, "srv-1")
}

func TestHeuristicRejects(t *testing.T) {
	tests := []struct {
		name  string
		event chat.Record
	}{
		{"other author", serverRecord("srv-1", bob, "hello", time.Second)},
		{"other content", serverRecord("srv-1", alice, "hello!", time.Second)},
		{"outside window", serverRecord("srv-1", alice, "hello", 30*time.Second)},
		{"before window", serverRecord("srv-1", alice, "hello", -31*time.Second)},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t, MatchHeuristic)
			sent := h.send(t, alice, "hello")
			if outcome := h.apply(t, test.event); outcome != OutcomeInserted {
				t.Fatalf("outcome = %s, want inserted", outcome)
			}
			if _, found := h.store.Get(sent.ID); !found {
				t.Error("optimistic record was consumed by a non-matching event")
			}
			if h.store.Len() != 2 {
				t.Errorf("Len() = %d, want 2", h.store.Len())
			}
		})
	}
}

func TestIdenticalMessagesMatchInInsertionOrder(t *testing.T) {
	h := newHarness(t, MatchHeuristic)
	first := h.send(t, alice, "ok")
	h.clock.Advance(time.Second)
	second := h.send(t, alice, "ok")

	h.apply(t, serverRecord("srv-1", alice, "ok", time.Second))
	if _, found := h.store.Get(first.ID); found {
		t.Fatal("first optimistic record should be matched first")
	}
	if _, found := h.store.Get(second.ID); !found {
		t.Fatal("second optimistic record consumed early")
	}

	// Redelivery of srv-1 must not absorb the second send.
	h.apply(t, serverRecord("srv-1", alice, "ok", time.Second))
	if _, found := h.store.Get(second.ID); !found {
		t.Fatal("duplicate delivery absorbed an unrelated optimistic record")
	}

	h.apply(t, serverRecord("srv-2", alice, "ok", 2*time.Second))
	h.requireRecords(t, "srv-1", "srv-2")
}

func TestCorrelationIDMatchesDespiteEditedContent(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	sent := h.send(t, alice, "helo")
	event := serverRecord("srv-1", alice, "hello (autocorrected)", time.Second)
	event.CorrelationID = sent.CorrelationID
	if outcome := h.apply(t, event); outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s, want confirmed", outcome)
	}
	h.requireRecords(t, "srv-1")
}

func TestCorrelationIDIsConclusive(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	sent := h.send(t, alice, "hello")

	// Same actor from another session: same text, different txn id.
	event := serverRecord("srv-1", alice, "hello", time.Second)
	event.CorrelationID = "txn-other-device"
	if outcome := h.apply(t, event); outcome != OutcomeInserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}
	if _, found := h.store.Get(sent.ID); !found {
		t.Fatal("optimistic record matched despite a different correlation id")
	}
}

func TestHeuristicModeIgnoresCorrelation(t *testing.T) {
	h := newHarness(t, MatchHeuristic)
	h.send(t, alice, "hello")
	event := serverRecord("srv-1", alice, "hello", time.Second)
	event.CorrelationID = "txn-unrelated"
	if outcome := h.apply(t, event); outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s, want confirmed by heuristic", outcome)
	}
}

func TestCorrelationModeSkipsHeuristic(t *testing.T) {
	h := newHarness(t, MatchCorrelation)
	h.send(t, alice, "hello")
	if outcome := h.apply(t, serverRecord("srv-1", alice, "hello", time.Second)); outcome != OutcomeInserted {
		t.Fatalf("outcome = %s, want inserted", outcome)
	}
}

func TestUnconfirmedRecordExpires(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	sent := h.send(t, alice, "anyone there?")

	h.clock.Advance(29 * time.Second)
	if expired := h.engine.ExpireStale(); expired != 0 {
		t.Fatalf("expired %d records before the window elapsed", expired)
	}
	h.clock.Advance(time.Second)
	if expired := h.engine.ExpireStale(); expired != 1 {
		t.Fatalf("ExpireStale() = %d, want 1", expired)
	}

	failed, found := h.store.Get(sent.ID)
	if !found {
		t.Fatal("expired record was deleted")
	}
	if failed.State != chat.DeliveryFailed || failed.Content != "anyone there?" || failed.FailureReason == "" {
		t.Errorf("expired record = %+v", failed)
	}

	// A confirmation stamped outside the window is someone else's.
	if outcome := h.apply(t, serverRecord("srv-1", alice, "anyone there?", 30*time.Second)); outcome != OutcomeInserted {
		t.Errorf("outcome = %s, want inserted", outcome)
	}
}

func TestLateConfirmationRevivesExpiredRecord(t *testing.T) {
	h := newHarness(t, MatchHeuristic)
	sent := h.send(t, alice, "anyone there?")
	h.clock.Advance(40 * time.Second)
	if expired := h.engine.ExpireStale(); expired != 1 {
		t.Fatalf("ExpireStale() = %d, want 1", expired)
	}

	// The send response was lost; the stream delivers the message late
	// but with the server timestamp of the original send.
	outcome := h.apply(t, serverRecord("srv-1", alice, "anyone there?", 2*time.Second))
	if outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s, want confirmed", outcome)
	}
	records := h.requireRecords(t, "srv-1")
	if records[0].Failed() || records[0].Optimistic {
		t.Errorf("record = %+v, want confirmed", records[0])
	}
	if len(h.store.Failed()) != 0 {
		t.Errorf("Failed() = %v, want none", h.store.Failed())
	}
	if _, found := h.store.Get(sent.ID); found {
		t.Errorf("failed record %s survived its confirmation", sent.ID)
	}
}

func TestHeuristicPrefersEarliestCandidate(t *testing.T) {
	h := newHarness(t, MatchHeuristic)
	first := h.send(t, alice, "same")
	h.clock.Advance(time.Second)
	second := h.send(t, alice, " SAME ")
	h.send(t, bob, "same")

	if outcome := h.apply(t, serverRecord("srv-1", alice, "same", time.Second)); outcome != OutcomeConfirmed {
		t.Fatalf("outcome = %s, want confirmed", outcome)
	}
	if _, found := h.store.Get(first.ID); found {
		t.Errorf("earliest candidate %s was not the one replaced", first.ID)
	}
	if _, found := h.store.Get(second.ID); !found {
		t.Errorf("later candidate %s was replaced", second.ID)
	}
}

func TestEventProcessingExpiresStaleRecords(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	stale := h.send(t, alice, "lost")
	h.clock.Advance(45 * time.Second)

	h.apply(t, serverRecord("srv-1", bob, "unrelated", 45*time.Second))
	record, _ := h.store.Get(stale.ID)
	if record.State != chat.DeliveryFailed {
		t.Errorf("stale record state = %s after event, want failed", record.State)
	}
}

func TestConfirmSent(t *testing.T) {
	t.Run("replaces the temporary record", func(t *testing.T) {
		h := newHarness(t, MatchCorrelationThenHeuristic)
		sent := h.send(t, alice, "hi")
		outcome, err := h.engine.ConfirmSent(sent.ID, serverRecord("srv-1", alice, "hi", time.Second))
		if err != nil || outcome != OutcomeConfirmed {
			t.Fatalf("ConfirmSent = %s, %v", outcome, err)
		}
		h.requireRecords(t, "srv-1")
		if outcome := h.apply(t, serverRecord("srv-1", alice, "hi", time.Second)); outcome != OutcomeDuplicate {
			t.Errorf("later stream delivery outcome = %s, want duplicate", outcome)
		}
	})

	t.Run("stream arrived first without matching", func(t *testing.T) {
		h := newHarness(t, MatchCorrelation)
		sent := h.send(t, alice, "hi")
		h.apply(t, serverRecord("srv-1", alice, "hi", time.Second))
		h.requireRecords(t, sent.ID, "srv-1")

		outcome, err := h.engine.ConfirmSent(sent.ID, serverRecord("srv-1", alice, "hi", time.Second))
		if err != nil || outcome != OutcomeDuplicate {
			t.Fatalf("ConfirmSent = %s, %v", outcome, err)
		}
		h.requireRecords(t, "srv-1")
	})

	t.Run("late response revives an expired record", func(t *testing.T) {
		h := newHarness(t, MatchHeuristic)
		sent := h.send(t, alice, "slow network")
		h.clock.Advance(40 * time.Second)
		h.engine.ExpireStale()

		outcome, err := h.engine.ConfirmSent(sent.ID, serverRecord("srv-1", alice, "slow network", 35*time.Second))
		if err != nil || outcome != OutcomeConfirmed {
			t.Fatalf("ConfirmSent = %s, %v", outcome, err)
		}
		records := h.requireRecords(t, "srv-1")
		if records[0].State != chat.DeliveryConfirmed {
			t.Errorf("state = %s", records[0].State)
		}
	})
}

func TestPageConfirmationSupersededByStream(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	sent := h.send(t, alice, "hello")

	// A page fetch delivered the confirmed record before the stream.
	if err := h.store.Insert(serverRecord("srv-9", alice, "hello", time.Second)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	h.requireRecords(t, sent.ID, "srv-9")

	if outcome := h.apply(t, serverRecord("srv-9", alice, "hello", time.Second)); outcome != OutcomeDuplicate {
		t.Fatalf("outcome = %s, want duplicate", outcome)
	}
	h.requireRecords(t, "srv-9")
}

func TestSettle(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	byHeuristic := h.send(t, alice, "first")
	byCorrelation := h.send(t, alice, "second")
	unrelated := h.send(t, alice, "third")

	echoed := serverRecord("srv-2", alice, "second", time.Second)
	echoed.CorrelationID = byCorrelation.CorrelationID
	err := h.store.Update(func(tx *messagestore.Txn) error {
		if err := tx.Insert(serverRecord("srv-1", alice, "first", time.Second)); err != nil {
			return err
		}
		return tx.Insert(echoed)
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	if settled := h.engine.Settle(); settled != 2 {
		t.Fatalf("Settle() = %d, want 2", settled)
	}
	for _, gone := range []string{byHeuristic.ID, byCorrelation.ID} {
		if _, found := h.store.Get(gone); found {
			t.Errorf("%s not superseded", gone)
		}
	}
	if _, found := h.store.Get(unrelated.ID); !found {
		t.Error("unrelated optimistic record superseded")
	}
	if settled := h.engine.Settle(); settled != 0 {
		t.Errorf("second Settle() = %d, want 0", settled)
	}
}

func TestSettleBatchSharesCallerBatch(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	sent := h.send(t, alice, "hello")
	notifications, stop := h.store.Subscribe()
	defer stop()
	before := h.store.Version()

	confirmed := serverRecord("srv-1", alice, "hello", time.Second)
	confirmed.CorrelationID = sent.CorrelationID
	err := h.store.Update(func(tx *messagestore.Txn) error {
		if err := tx.Insert(confirmed); err != nil {
			return err
		}
		settled, err := h.engine.SettleBatch(tx)
		if settled != 1 {
			t.Errorf("SettleBatch() = %d, want 1", settled)
		}
		return err
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := h.store.Version(); got != before+1 {
		t.Fatalf("committed %d batches, want 1", got-before)
	}
	notification := testutil.RequireReceive(t, notifications, time.Second, "waiting for notification")
	if len(notification.Records) != 1 || notification.Records[0].ID != "srv-1" {
		t.Errorf("notification records = %+v, want only srv-1", notification.Records)
	}
}

func TestOtherScopeIgnored(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	event := serverRecord("srv-1", bob, "elsewhere", 0)
	event.Scope = chat.ChannelScope("c1")
	if outcome := h.apply(t, event); outcome != OutcomeIgnored {
		t.Fatalf("outcome = %s, want ignored", outcome)
	}
	if h.store.Len() != 0 {
		t.Error("event for another scope mutated the store")
	}
}

func TestTemporaryIDRejected(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	_, err := h.engine.OnConfirmationEvent(serverRecord("tmp-forged", bob, "x", 0))
	if !errors.Is(err, ErrTemporaryID) {
		t.Fatalf("error = %v, want ErrTemporaryID", err)
	}
}

func TestMarkFailed(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	sent := h.send(t, alice, "hi")
	if !h.engine.MarkFailed(sent.ID, errors.New("connection reset")) {
		t.Fatal("MarkFailed returned false for a pending record")
	}
	record, _ := h.store.Get(sent.ID)
	if record.State != chat.DeliveryFailed || record.FailureReason != "connection reset" {
		t.Errorf("record = %+v", record)
	}
	if h.engine.MarkFailed(sent.ID, errors.New("again")) {
		t.Error("MarkFailed on an already failed record returned true")
	}
	if h.engine.MarkFailed("tmp-missing", errors.New("x")) {
		t.Error("MarkFailed on a missing record returned true")
	}
}

func TestUpdateAndDeleteEvents(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	h.apply(t, serverRecord("srv-1", bob, "draft", 0))

	edited := serverRecord("srv-1", bob, "final", 0)
	edited.EditedAt = epoch.Add(time.Minute)
	outcome, err := h.engine.OnUpdateEvent(edited)
	if err != nil || outcome != OutcomeUpdated {
		t.Fatalf("OnUpdateEvent = %s, %v", outcome, err)
	}
	record, _ := h.store.Get("srv-1")
	if record.Content != "final" || !record.EditedAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("record after update = %+v", record)
	}

	err = h.store.Update(func(tx *messagestore.Txn) error {
		return tx.Modify("srv-1", func(r *chat.Record) { r.Editing = true })
	})
	if err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if outcome, _ := h.engine.OnUpdateEvent(serverRecord("srv-1", bob, "clobber", 0)); outcome != OutcomeIgnored {
		t.Errorf("update during local edit outcome = %s, want ignored", outcome)
	}

	outcome, err = h.engine.OnDeleteEvent("srv-1")
	if err != nil || outcome != OutcomeRemoved {
		t.Fatalf("OnDeleteEvent = %s, %v", outcome, err)
	}
	if outcome, _ := h.engine.OnDeleteEvent("srv-1"); outcome != OutcomeDuplicate {
		t.Errorf("repeated delete outcome = %s, want duplicate", outcome)
	}
}

func TestOneNotificationPerEvent(t *testing.T) {
	h := newHarness(t, MatchCorrelationThenHeuristic)
	h.send(t, alice, "hello")
	h.send(t, alice, "stale")
	notifications, cancel := h.store.Subscribe()
	defer cancel()

	h.clock.Advance(31 * time.Second)
	h.apply(t, serverRecord("srv-1", alice, "hello", 2*time.Second))

	notification := testutil.RequireReceive(t, notifications, time.Second, "notification")
	if len(notification.Changes) != 2 {
		t.Errorf("changes = %+v, want replace and expiry in one batch", notification.Changes)
	}
	testutil.RequireNoReceive(t, notifications, "extra notification")
}

func TestParseMatchMode(t *testing.T) {
	for _, value := range []string{"", "heuristic", "correlation", "correlation_then_heuristic"} {
		if _, err := ParseMatchMode(value); err != nil {
			t.Errorf("ParseMatchMode(%q): %v", value, err)
		}
	}
	if _, err := ParseMatchMode("fuzzy"); err == nil {
		t.Error("ParseMatchMode(fuzzy) succeeded")
	}
}
