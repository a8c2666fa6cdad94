// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/threadsync/lib/clock"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
	"github.com/bureau-foundation/threadsync/messaging"
)

var (
	epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	alice = chat.Author{ID: "alice", Name: "Alice"}
	bob   = chat.Author{ID: "bob", Name: "Bob"}
)

// fakeThreads answers thread requests with the configured functions.
type fakeThreads struct {
	send func(ctx context.Context, request messaging.ReplyRequest) (*chat.MessagePayload, error)
	page func(ctx context.Context, options messaging.PageOptions) (*messaging.ThreadPage, error)
}

func (f *fakeThreads) ThreadMessages(ctx context.Context, _, _ string, options messaging.PageOptions) (*messaging.ThreadPage, error) {
	return f.page(ctx, options)
}

func (f *fakeThreads) SendReply(ctx context.Context, _, _ string, request messaging.ReplyRequest) (*chat.MessagePayload, error) {
	return f.send(ctx, request)
}

// fakeChannels answers channel requests with the configured functions.
type fakeChannels struct {
	send func(ctx context.Context, request messaging.ReplyRequest) (*chat.MessagePayload, error)
	page func(ctx context.Context, options messaging.PageOptions) (*messaging.ChannelPage, error)
}

func (f *fakeChannels) ChannelMessages(ctx context.Context, _ string, options messaging.PageOptions) (*messaging.ChannelPage, error) {
	return f.page(ctx, options)
}

func (f *fakeChannels) SendMessage(ctx context.Context, _ string, request messaging.ReplyRequest) (*chat.MessagePayload, error) {
	return f.send(ctx, request)
}

// failures collects notified failures.
type failures struct {
	mu   sync.Mutex
	seen []Failure
}

func (f *failures) Notify(failure Failure) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, failure)
}

func (f *failures) list() []Failure {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Failure(nil), f.seen...)
}

func testOptions(fake *clock.FakeClock, notifier Notifier) Options {
	return Options{Clock: fake, Notifier: notifier}
}

func reply(id string, author chat.Author, content string, at time.Duration, txn string) chat.MessagePayload {
	return chat.MessagePayload{
		ID:          id,
		Content:     content,
		UserID:      author.ID,
		UserName:    author.Name,
		CreatedAt:   epoch.Add(at),
		ThreadRoot:  "root",
		ClientTxnID: txn,
	}
}

func replyEvent(payload chat.MessagePayload) chat.StreamEvent {
	return chat.StreamEvent{
		Type:       chat.EventThreadReplySent,
		ChannelID:  "c1",
		ThreadRoot: "root",
		Message:    &payload,
	}
}

func recordIDs(records []chat.Record) []string {
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.ID
	}
	return ids
}

func requireIDs(t *testing.T, records []chat.Record, want ...string) {
	t.Helper()
	got := recordIDs(records)
	if len(got) != len(want) {
		t.Fatalf("records = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("records = %v, want %v", got, want)
		}
	}
}

type result[T any] struct {
	value T
	err   error
}

// async runs fn on a goroutine and returns a channel of its result.
func async[T any](fn func() (T, error)) <-chan result[T] {
	done := make(chan result[T], 1)
	go func() {
		value, err := fn()
		done <- result[T]{value: value, err: err}
	}()
	return done
}
