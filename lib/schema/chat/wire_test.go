// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStreamEventThreadReply(t *testing.T) {
	raw := `{
		"type": "thread_reply_sent",
		"channelId": "c1",
		"threadRoot": "root-1",
		"parentMessageId": "m-7",
		"message": {
			"id": "srv-9",
			"content": "hello",
			"user_id": "alice",
			"user_name": "Alice",
			"created_at": "2026-01-01T00:00:02Z",
			"thread_root": "root-1",
			"reply_to": "m-7",
			"client_txn_id": "txn-1"
		}
	}`
	var event StreamEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	scope, err := event.Scope()
	if err != nil {
		t.Fatalf("Scope: %v", err)
	}
	if scope != ThreadScope("c1", "root-1") {
		t.Errorf("scope = %v, want thread:c1/root-1", scope)
	}

	record, ok, err := event.Record()
	if err != nil || !ok {
		t.Fatalf("Record() = %v, %v", ok, err)
	}
	if record.ID != "srv-9" || record.Author.ID != "alice" || record.Author.Name != "Alice" {
		t.Errorf("record identity = %q by %+v", record.ID, record.Author)
	}
	if record.ParentID != "m-7" {
		t.Errorf("ParentID = %q, want reply_to m-7", record.ParentID)
	}
	if record.Optimistic || record.State != DeliveryConfirmed {
		t.Errorf("record should be confirmed, got optimistic=%v state=%s", record.Optimistic, record.State)
	}
	if record.CorrelationID != "txn-1" {
		t.Errorf("CorrelationID = %q, want txn-1", record.CorrelationID)
	}
	want := time.Date(2026, 1, 1, 0, 0, 2, 0, time.UTC)
	if !record.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", record.Timestamp, want)
	}
}

func TestStreamEventScopeFallbacks(t *testing.T) {
	tests := []struct {
		name    string
		event   StreamEvent
		want    ScopeID
		wantErr bool
	}{
		{
			name:  "message_sent uses channel",
			event: StreamEvent{Type: EventMessageSent, ChannelID: "c1"},
			want:  ChannelScope("c1"),
		},
		{
			name: "message_sent inside a thread uses the thread",
			event: StreamEvent{Type: EventMessageSent, ChannelID: "c1",
				Message: &MessagePayload{ID: "m7", ThreadRoot: "root"}},
			want: ThreadScope("c1", "root"),
		},
		{
			name:  "message_sent with event-level thread root",
			event: StreamEvent{Type: EventMessageSent, ChannelID: "c1", ThreadRoot: "root"},
			want:  ThreadScope("c1", "root"),
		},
		{
			name: "thread reply prefers message root over parent",
			event: StreamEvent{Type: EventThreadReplySent, ChannelID: "c1", ParentMessageID: "m3",
				Message: &MessagePayload{ThreadRoot: "root", ReplyTo: "m3"}},
			want: ThreadScope("c1", "root"),
		},
		{
			name:  "thread reply falls back to parent",
			event: StreamEvent{Type: EventThreadReplySent, ChannelID: "c1", ParentMessageID: "p"},
			want:  ThreadScope("c1", "p"),
		},
		{
			name: "thread reply falls back to message root",
			event: StreamEvent{Type: EventThreadReplySent, ChannelID: "c1",
				Message: &MessagePayload{ThreadRoot: "r"}},
			want: ThreadScope("c1", "r"),
		},
		{
			name:  "comment event uses comment task",
			event: StreamEvent{Type: EventCommentAdded, Comment: &Comment{TaskID: "t1"}},
			want:  TaskScope("t1"),
		},
		{
			name:    "thread reply without root",
			event:   StreamEvent{Type: EventThreadReplySent, ChannelID: "c1"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			event:   StreamEvent{Type: "typing"},
			wantErr: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got, err := test.event.Scope()
			if test.wantErr {
				if err == nil {
					t.Fatalf("Scope() = %v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Scope: %v", err)
			}
			if got != test.want {
				t.Errorf("Scope() = %v, want %v", got, test.want)
			}
		})
	}
}

func TestCommentRecord(t *testing.T) {
	raw := `{"id":"c-1","task_id":"t1","content":"foo","user_id":"bob","user_name":"Bob",
		"created_at":"2026-01-01T00:00:00Z","up_count":3,"down_count":0,"user_reaction":null}`
	var comment Comment
	if err := json.Unmarshal([]byte(raw), &comment); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	record := comment.Record()
	if record.Scope != TaskScope("t1") {
		t.Errorf("Scope = %v", record.Scope)
	}
	if record.Reactions.Count(ReactionUp) != 3 || record.Reactions.Mine != "" {
		t.Errorf("Reactions = %+v, want up=3 mine=none", record.Reactions)
	}

	up := ReactionUp
	comment.UserReaction = &up
	if got := comment.Record().Reactions.Mine; got != ReactionUp {
		t.Errorf("Mine = %q, want up", got)
	}
}

func TestScopeValidate(t *testing.T) {
	valid := []ScopeID{ChannelScope("c"), ThreadScope("c", "r"), TaskScope("t")}
	for _, scope := range valid {
		if err := scope.Validate(); err != nil {
			t.Errorf("Validate(%v): %v", scope, err)
		}
	}
	invalid := []ScopeID{{}, {Kind: ScopeThread, ID: "c"}, {Kind: ScopeChannel, ID: "c", Root: "r"}, {Kind: "dm", ID: "x"}}
	for _, scope := range invalid {
		if err := scope.Validate(); err == nil {
			t.Errorf("Validate(%+v) = nil, want error", scope)
		}
	}
}

func TestIsTemporaryID(t *testing.T) {
	if !IsTemporaryID("tmp-1") {
		t.Error("tmp-1 should be temporary")
	}
	if IsTemporaryID("srv-9") {
		t.Error("srv-9 should not be temporary")
	}
}
