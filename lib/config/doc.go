// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the sync engine's configuration.
//
// Configuration is loaded from a single file specified by either the
// THREADSYNC_CONFIG environment variable (via [Load]) or an explicit
// path (via [LoadFile]). There are no fallbacks and no automatic file
// search. YAML is the primary format; files ending in .json or .jsonc
// are accepted and may carry comments and trailing commas.
//
// The file may contain environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches. Production pins the correlation-first
// match mode unless its section names another.
//
// Key exports:
//
//   - [Config] -- reconcile, store, pagination, API, stream, and log
//     settings
//   - [Default] -- a Config with the built-in defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other packages in this module.
package config
