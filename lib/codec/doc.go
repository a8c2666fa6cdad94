// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for internal
// encodings such as parked store snapshots.
//
// JSON stays the format at the backend boundary. CBOR is used where
// the bytes never leave the process: it is compact, and Core
// Deterministic Encoding makes the same records produce the same
// bytes, which keeps snapshot comparisons meaningful.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Timestamps are encoded as RFC 3339 text with nanoseconds so that
// ordering ties between records survive a round trip.
package codec
