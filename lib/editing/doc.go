// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package editing runs edits and deletes of confirmed records
// optimistically.
//
// [Coordinator.Edit] replaces the content in the store and sets the
// record's Editing flag before the request is issued;
// [Coordinator.Delete] sets Deleting and leaves the record visible
// until the server agrees. On success the server's copy is installed
// (edit) or the record is removed (delete). On failure the record
// captured before the operation is put back. Either way the flag is
// cleared before the call returns.
//
// Permission is checked before anything changes: an actor the
// [Authorizer] rejects gets [ErrForbidden] and the store is untouched.
package editing
