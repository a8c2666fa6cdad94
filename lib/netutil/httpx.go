// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides network I/O helpers for the transport layer.
//
// ReadResponse bounds API response body reads at MaxResponseSize so a
// misbehaving server cannot force unbounded allocation. Truncate
// shortens server-supplied text before it lands in an error or a log
// line. IsExpectedCloseError classifies errors from normal connection
// teardown, which the stream reconnect loop logs quietly.
package netutil

import (
	"io"
	"unicode/utf8"
)

// MaxResponseSize is the bound on API response body reads: 16 MB.
// Responses carry at most one page of records.
const MaxResponseSize int64 = 16 << 20

// MaxDiagnosticLength is the length Truncate cuts to.
const MaxDiagnosticLength = 512

// ReadResponse reads an API response body up to MaxResponseSize bytes.
// Use instead of io.ReadAll when reading HTTP response bodies.
func ReadResponse(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxResponseSize))
}

// Truncate returns text cut to MaxDiagnosticLength bytes on a rune
// boundary, with an ellipsis when anything was removed.
func Truncate(text string) string {
	if len(text) <= MaxDiagnosticLength {
		return text
	}
	cut := MaxDiagnosticLength
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
