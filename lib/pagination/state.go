// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pagination

import "github.com/bureau-foundation/threadsync/lib/schema/chat"

// DefaultPageSize is the limit used when none is configured.
const DefaultPageSize = 20

// Request is the window asked of the backend.
type Request struct {
	Limit  int
	Offset int
}

// Page is one backend response.
type Page struct {
	Records []chat.Record
	Total   int
	HasMore bool
}

// State tracks how far a scope has been paged.
type State struct {
	// Offset is where the next older page starts.
	Offset int

	// Total is the server-reported record count, or zero before the
	// first page.
	Total int

	// HasMore is true until the server reports the last page.
	HasMore bool
}

// Initial is the state before any page has been fetched.
func Initial() State { return State{HasMore: true} }

// First returns the request for the newest page.
func First(limit int) Request {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	return Request{Limit: limit}
}

// Next returns the request for the page after the ones already
// accepted.
func (s State) Next(limit int) Request {
	request := First(limit)
	request.Offset = s.Offset
	return request
}

// Advance returns the state after page was accepted for request.
func (s State) Advance(request Request, page Page) State {
	offset := request.Offset + len(page.Records)
	if offset < s.Offset {
		offset = s.Offset
	}
	return State{Offset: offset, Total: page.Total, HasMore: page.HasMore}
}
