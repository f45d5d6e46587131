// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

// Package diskwatch detects insertion and removal of the child disk
// medium.
//
// A Watcher observes the configured mount-point glob pattern with
// fsnotify, debounces filesystem settling, and falls back to a
// periodic rescan for mounts that arrive without inotify events (some
// removable-media automounters). It publishes a single canonical
// current-disk snapshot; when several media match the pattern at
// once, the most recently mounted wins and an ambiguity warning is
// logged.
//
// Subscribers receive Inserted/Removed events on a buffered channel
// until they cancel; a slow subscriber drops events rather than
// blocking the watcher or other subscribers.
package diskwatch
