// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/bureau-foundation/threadsync/lib/clock"
	"github.com/bureau-foundation/threadsync/lib/messagestore"
	"github.com/bureau-foundation/threadsync/lib/reconcile"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/lib/testutil"
	"github.com/bureau-foundation/threadsync/messaging"
)

func newTestHub(t *testing.T, threads ThreadAPI, comments CommentAPI) (*Hub, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	hub, err := NewHub(HubConfig{
		Actor:       alice,
		Threads:     threads,
		Comments:    comments,
		Options:     testOptions(fake, nil),
		Compression: messagestore.CompressionZstd,
	})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	return hub, fake
}

func TestNewHubRequiresActor(t *testing.T) {
	if _, err := NewHub(HubConfig{}); err == nil {
		t.Fatal("NewHub accepted a config without an actor")
	}
}

func TestHubAttachWithoutAPI(t *testing.T) {
	hub, _ := newTestHub(t, nil, nil)
	if _, _, err := hub.AttachThread("c1", "root"); err == nil {
		t.Error("AttachThread succeeded without a thread API")
	}
	if _, _, err := hub.AttachTask("task-1"); err == nil {
		t.Error("AttachTask succeeded without a comment API")
	}
	if _, _, err := hub.AttachChannel("c1"); err == nil {
		t.Error("AttachChannel succeeded without a channel API")
	}
}

func TestHubSharesAttachedConversation(t *testing.T) {
	hub, _ := newTestHub(t, &fakeThreads{}, nil)
	scope := chat.ThreadScope("c1", "root")

	first, detachFirst, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("AttachThread: %v", err)
	}
	second, detachSecond, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("second AttachThread: %v", err)
	}
	if first != second {
		t.Fatal("attaching twice created two conversations")
	}

	detachFirst()
	detachFirst()
	if got := hub.Attached(); len(got) != 1 || got[0] != scope {
		t.Fatalf("Attached() after one detach = %v", got)
	}
	if first.Detached() {
		t.Fatal("conversation detached while still observed")
	}

	detachSecond()
	if got := hub.Attached(); len(got) != 0 {
		t.Errorf("Attached() = %v, want none", got)
	}
	if got := hub.Parked(); len(got) != 1 || got[0] != scope {
		t.Errorf("Parked() = %v, want %v", got, scope)
	}
	if !first.Detached() {
		t.Error("conversation not detached after the last observer left")
	}
}

func TestHubParksAndRehydrates(t *testing.T) {
	hub, _ := newTestHub(t, &fakeThreads{}, nil)

	thread, detach, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("AttachThread: %v", err)
	}
	for _, id := range []string{"m1", "m2"} {
		if _, err := hub.Dispatch(replyEvent(reply(id, bob, "note "+id, 0, ""))); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
	}
	requireIDs(t, thread.Records(), "m1", "m2")
	detach()

	if _, err := thread.HandleEvent(replyEvent(reply("m3", bob, "late", 0, ""))); !errors.Is(err, ErrDetached) {
		t.Errorf("HandleEvent on a detached thread = %v, want ErrDetached", err)
	}
	if _, err := thread.Send(context.Background(), "too late"); !errors.Is(err, ErrDetached) {
		t.Errorf("Send on a detached thread = %v, want ErrDetached", err)
	}
	outcome, err := hub.Dispatch(replyEvent(reply("m3", bob, "late", 0, "")))
	if err != nil || outcome != reconcile.OutcomeIgnored {
		t.Errorf("Dispatch to a parked scope = %q, %v; want ignored", outcome, err)
	}

	restored, detachRestored, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("reattaching: %v", err)
	}
	defer detachRestored()
	if restored == thread {
		t.Fatal("reattaching returned the detached conversation")
	}
	requireIDs(t, restored.Records(), "m1", "m2")
	if len(hub.Parked()) != 0 {
		t.Errorf("Parked() after rehydration = %v", hub.Parked())
	}
}

func TestHubDropsResponseAfterDetach(t *testing.T) {
	gate := newGatedSend()
	hub, _ := newTestHub(t, &fakeThreads{send: gate.send}, nil)

	thread, detach, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("AttachThread: %v", err)
	}
	done := async(func() (chat.Record, error) { return thread.Send(context.Background(), "hello") })
	request := testutil.RequireReceive(t, gate.requests, 5*time.Second, "waiting for SendReply")
	detach()

	payload := reply("m1", alice, "hello", 0, request.ClientTxnID)
	gate.answers <- result[*chat.MessagePayload]{value: &payload}
	sent := testutil.RequireReceive(t, done, 5*time.Second, "waiting for Send")
	if sent.err != nil || sent.value.ID != "m1" {
		t.Fatalf("Send = %+v, %v", sent.value, sent.err)
	}

	// The parked snapshot still holds the pending record; the stream
	// echo confirms it once the thread is observed again.
	restored, detachRestored, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("reattaching: %v", err)
	}
	defer detachRestored()
	records := restored.Records()
	if len(records) != 1 || !records[0].Pending() {
		t.Fatalf("rehydrated records = %+v, want the pending send", records)
	}
	outcome, err := hub.Dispatch(replyEvent(payload))
	if err != nil || outcome != reconcile.OutcomeConfirmed {
		t.Fatalf("Dispatch = %q, %v; want confirmed", outcome, err)
	}
	requireIDs(t, restored.Records(), "m1")
}

func TestHubClearsBusyFlagsOnRehydrate(t *testing.T) {
	fake := clock.Fake(epoch)
	api := newFakeComments(fake, seedComment("c1", alice, "draft", 0))
	hub, _ := newTestHub(t, nil, api)

	comments, detach, err := hub.AttachTask("task-1")
	if err != nil {
		t.Fatalf("AttachTask: %v", err)
	}
	if err := comments.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	err = comments.store.Update(func(tx *messagestore.Txn) error {
		return tx.Modify("c1", func(record *chat.Record) { record.Editing = true })
	})
	if err != nil {
		t.Fatalf("marking busy: %v", err)
	}
	detach()

	restored, detachRestored, err := hub.AttachTask("task-1")
	if err != nil {
		t.Fatalf("reattaching: %v", err)
	}
	defer detachRestored()
	if record := requireRecord(t, restored, "c1"); record.Busy() {
		t.Errorf("rehydrated record still busy: %+v", record)
	}
}

func TestHubDispatch(t *testing.T) {
	hub, _ := newTestHub(t, &fakeThreads{}, newFakeComments(clock.Fake(epoch)))
	comments, detach, err := hub.AttachTask("task-1")
	if err != nil {
		t.Fatalf("AttachTask: %v", err)
	}
	defer detach()

	added := seedComment("c1", bob, "hello", 0)
	outcome, err := hub.Dispatch(chat.StreamEvent{Type: chat.EventCommentAdded, TaskID: "task-1", Comment: &added})
	if err != nil || outcome != reconcile.OutcomeInserted {
		t.Fatalf("Dispatch = %q, %v", outcome, err)
	}
	requireIDs(t, comments.Records(), "c1")

	outcome, err = hub.Dispatch(replyEvent(reply("m1", bob, "unobserved", 0, "")))
	if err != nil || outcome != reconcile.OutcomeIgnored {
		t.Errorf("Dispatch to an unattached thread = %q, %v", outcome, err)
	}
	if _, err := hub.Dispatch(chat.StreamEvent{Type: "typing"}); err == nil {
		t.Error("Dispatch accepted an unknown event type")
	}
}

func TestHubRoutesMessageSent(t *testing.T) {
	hub, err := NewHub(HubConfig{
		Actor:    alice,
		Channels: &fakeChannels{},
		Threads:  &fakeThreads{},
		Options:  testOptions(clock.Fake(epoch), nil),
	})
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	thread, detachThread, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("AttachThread: %v", err)
	}
	defer detachThread()
	channel, detachChannel, err := hub.AttachChannel("c1")
	if err != nil {
		t.Fatalf("AttachChannel: %v", err)
	}
	defer detachChannel()

	inThread := reply("m7", bob, "in the thread", time.Second, "")
	outcome, err := hub.Dispatch(chat.StreamEvent{Type: chat.EventMessageSent, ChannelID: "c1", Message: &inThread})
	if err != nil || outcome != reconcile.OutcomeInserted {
		t.Fatalf("Dispatch of a threaded message_sent = %q, %v", outcome, err)
	}
	requireIDs(t, thread.Records(), "m7")
	if thread.Records()[0].Scope != chat.ThreadScope("c1", "root") {
		t.Errorf("threaded record scope = %v", thread.Records()[0].Scope)
	}

	top := topLevel("m8", bob, "top level", 2*time.Second, "")
	outcome, err = hub.Dispatch(chat.StreamEvent{Type: chat.EventMessageSent, ChannelID: "c1", Message: &top})
	if err != nil || outcome != reconcile.OutcomeInserted {
		t.Fatalf("Dispatch of a top-level message_sent = %q, %v", outcome, err)
	}
	requireIDs(t, channel.Records(), "m8")
	requireIDs(t, thread.Records(), "m7")
}

func TestHubExpireStale(t *testing.T) {
	gate := newGatedSend()
	hub, fake := newTestHub(t, &fakeThreads{send: gate.send}, nil)
	thread, detach, err := hub.AttachThread("c1", "root")
	if err != nil {
		t.Fatalf("AttachThread: %v", err)
	}
	defer detach()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go thread.Send(ctx, "hello")
	testutil.RequireReceive(t, gate.requests, 5*time.Second, "waiting for SendReply")

	fake.Advance(reconcile.DefaultWindow)
	if expired := hub.ExpireStale(); expired != 1 {
		t.Errorf("ExpireStale = %d, want 1", expired)
	}
}

func TestHubStream(t *testing.T) {
	added := seedComment("c1", bob, "from the stream", 0)
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		conn, err := websocket.Accept(writer, request, nil)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer conn.CloseNow()
		ctx := request.Context()
		wsjson.Write(ctx, conn, chat.StreamEvent{Type: chat.EventCommentAdded, TaskID: "task-9", Comment: &added})
		wsjson.Write(ctx, conn, chat.StreamEvent{Type: chat.EventCommentAdded, TaskID: "task-1", Comment: &added})
		<-ctx.Done()
	}))
	defer server.Close()

	hub, _ := newTestHub(t, nil, newFakeComments(clock.Fake(epoch)))
	comments, detach, err := hub.AttachTask("task-1")
	if err != nil {
		t.Fatalf("AttachTask: %v", err)
	}
	defer detach()
	notifications, stop := comments.Subscribe()
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streaming := async(func() (struct{}, error) {
		return struct{}{}, hub.Stream(ctx, messaging.StreamConfig{URL: "ws" + strings.TrimPrefix(server.URL, "http")})
	})

	testutil.RequireReceive(t, notifications, 5*time.Second, "waiting for the streamed comment")
	requireIDs(t, comments.Records(), "c1")

	cancel()
	stopped := testutil.RequireReceive(t, streaming, 5*time.Second, "waiting for Stream")
	if !errors.Is(stopped.err, context.Canceled) {
		t.Errorf("Stream = %v, want context.Canceled", stopped.err)
	}
}
