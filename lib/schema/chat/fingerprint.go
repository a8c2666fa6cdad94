// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package chat

import (
	"strings"

	"github.com/zeebo/blake3"
)

// Fingerprint is a keyed BLAKE3 digest of normalized message content.
// Two deliveries of one message have equal fingerprints.
type Fingerprint [32]byte

// contentDomainKey separates content fingerprints from any other
// keyed hash. The bytes are the ASCII domain name, zero-padded.
var contentDomainKey = [32]byte{
	't', 'h', 'r', 'e', 'a', 'd', 's', 'y', 'n', 'c', '.', 'c', 'o', 'n', 't', 'e',
	'n', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// contentHasher holds the keyed initial state. Each fingerprint works
// on a clone.
var contentHasher = func() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(contentDomainKey[:])
	if err != nil {
		// NewKeyed only fails for keys that are not 32 bytes.
		panic("chat: invalid fingerprint key: " + err.Error())
	}
	return hasher
}()

// NormalizeContent returns content trimmed of surrounding whitespace
// and case-folded.
func NormalizeContent(content string) string {
	return strings.ToLower(strings.TrimSpace(content))
}

// ContentFingerprint hashes the normalized content.
func ContentFingerprint(content string) Fingerprint {
	hasher := contentHasher.Clone()
	hasher.WriteString(NormalizeContent(content))
	var fingerprint Fingerprint
	copy(fingerprint[:], hasher.Sum(nil))
	return fingerprint
}

// ContentKey groups optimistic records that a confirmation by the same
// author with the same content could stand for.
type ContentKey struct {
	AuthorID    string
	Fingerprint Fingerprint
}

// ContentKeyOf returns the record's content key.
func ContentKeyOf(record Record) ContentKey {
	return ContentKey{AuthorID: record.Author.ID, Fingerprint: ContentFingerprint(record.Content)}
}
