// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messagestore

import (
	"encoding/binary"
	"fmt"

	"github.com/bureau-foundation/threadsync/lib/codec"
	"github.com/bureau-foundation/threadsync/lib/schema/chat"
)

// maxSnapshotBody bounds the decoded size a snapshot header may claim.
const maxSnapshotBody = 64 << 20

type snapshotBody struct {
	Scope        chat.ScopeID  `cbor:"scope"`
	NextSequence uint64        `cbor:"next_sequence"`
	Records      []chat.Record `cbor:"records"`
}

// Snapshot encodes the store's records. The layout is one compression
// tag byte, the uncompressed body length as a uvarint, then the body:
// CBOR, compressed as requested.
func (s *Store) Snapshot(compression Compression) ([]byte, error) {
	s.mu.Lock()
	body := snapshotBody{
		Scope:        s.scope,
		NextSequence: s.nextSequence,
		Records:      s.line.cloneRecords(),
	}
	s.mu.Unlock()

	encoded, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("messagestore: encoding snapshot of %s: %w", s.scope, err)
	}
	compressed, tag, err := compress(encoded, compression)
	if err != nil {
		return nil, err
	}

	output := make([]byte, 0, 1+binary.MaxVarintLen64+len(compressed))
	output = append(output, byte(tag))
	output = binary.AppendUvarint(output, uint64(len(encoded)))
	output = append(output, compressed...)
	return output, nil
}

// Restore builds a store from a Snapshot. The restored store has no
// subscribers and starts at version zero.
func Restore(data []byte, options Options) (*Store, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("messagestore: snapshot too short (%d bytes)", len(data))
	}
	tag := Compression(data[0])
	size, headerLength := binary.Uvarint(data[1:])
	if headerLength <= 0 {
		return nil, fmt.Errorf("messagestore: snapshot has a malformed length header")
	}
	if size > maxSnapshotBody {
		return nil, fmt.Errorf("messagestore: snapshot body of %d bytes exceeds limit", size)
	}
	encoded, err := decompress(data[1+headerLength:], tag, int(size))
	if err != nil {
		return nil, err
	}

	var body snapshotBody
	if err := codec.Unmarshal(encoded, &body); err != nil {
		return nil, fmt.Errorf("messagestore: decoding snapshot: %w", err)
	}
	if err := body.Scope.Validate(); err != nil {
		return nil, fmt.Errorf("messagestore: snapshot scope: %w", err)
	}

	store := New(body.Scope, options)
	err = store.Update(func(tx *Txn) error {
		return tx.Load(body.Records)
	})
	if err != nil {
		return nil, fmt.Errorf("messagestore: restoring %s: %w", body.Scope, err)
	}
	store.mu.Lock()
	if body.NextSequence > store.nextSequence {
		store.nextSequence = body.NextSequence
	}
	store.version = 0
	store.mu.Unlock()
	return store, nil
}
