// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging talks to the chat backend.
//
// [Client] wraps the request/response API: thread pages, replies, and
// task comments with their reactions. Every response uses the envelope
// {"success": bool, "data": ..., "error": {...}}. A non-2xx status or
// success=false is returned as [*APIError] carrying the backend's error
// code and the HTTP status; [IsAPIError] tests for a specific code.
// Request URLs are built by string concatenation with each path
// segment escaped individually.
//
// [Stream] reads the live event subscription over a websocket. Each
// frame is one JSON [chat.StreamEvent]. [Stream.Run] redials after
// transient failures and hands every event to a callback in arrival
// order; it gives up after a configured number of consecutive failures.
package messaging
