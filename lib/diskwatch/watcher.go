// Copyright 2026 The Sigil Authors
// SPDX-License-Identifier: Apache-2.0

package diskwatch

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/chippr-robotics/sigil-sub001/lib/clock"
	"github.com/chippr-robotics/sigil-sub001/lib/diskimage"
)

// EventType distinguishes medium arrival from departure.
type EventType string

const (
	// Inserted means a medium matching the pattern appeared.
	Inserted EventType = "Inserted"
	// Removed means the current medium disappeared.
	Removed EventType = "Removed"
)

// Event is one insertion or removal, as streamed to WatchDisk
// subscribers.
type Event struct {
	Type EventType

	// Path is the medium path that appeared or disappeared.
	Path string

	// ChildID is the hex child identity read from the disk header, or
	// "" when the header could not be parsed. Advisory only; the
	// signer re-reads and verifies before trusting anything.
	ChildID string
}

// Snapshot is the immutable current-disk view handlers read without
// blocking watcher progress.
type Snapshot struct {
	// Present is false while no medium matches the pattern.
	Present bool

	// Path is the medium path, "" when absent.
	Path string

	// ChildID is the advisory hex child identity, "" when unknown.
	ChildID string

	// MountedAt is when the watcher first observed this medium.
	MountedAt time.Time
}

// subscriberBuffer is the per-subscriber event channel capacity. A
// subscriber that falls further behind than this drops events.
const subscriberBuffer = 16

// Watcher publishes the canonical current-disk identity. Construct
// with New, run with Run, read with Current, stream with Subscribe.
type Watcher struct {
	pattern  string
	debounce time.Duration
	rescan   time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu             sync.Mutex
	current        Snapshot
	subscribers    map[int]chan Event
	nextSubscriber int
}

// New creates a watcher for the given mount-point glob pattern (for
// example "/media/sigil/*.disk"). debounce is how long the filesystem
// is allowed to settle after an fsnotify event before rescanning;
// rescan is the fallback polling interval.
func New(pattern string, debounce, rescan time.Duration, clk clock.Clock, logger *slog.Logger) (*Watcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("mount pattern is required")
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid mount pattern %q: %w", pattern, err)
	}
	return &Watcher{
		pattern:     pattern,
		debounce:    debounce,
		rescan:      rescan,
		clock:       clk,
		logger:      logger,
		subscribers: make(map[int]chan Event),
	}, nil
}

// Run watches until ctx is cancelled. It performs an initial scan
// immediately, so Current is meaningful as soon as Run has started.
func (w *Watcher) Run(ctx context.Context) error {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer fsWatcher.Close()

	root := watchRoot(w.pattern)
	if err := fsWatcher.Add(root); err != nil {
		// The mount root may not exist yet (automounter creates it on
		// first insertion). The periodic rescan still covers us.
		w.logger.Warn("cannot watch mount root, relying on rescan",
			"root", root, "error", err)
	}

	w.scan()

	ticker := w.clock.NewTicker(w.rescan)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.closeSubscribers()
			return nil

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			// Let the filesystem settle: automounters create the
			// mount point, then populate it.
			select {
			case <-w.clock.After(w.debounce):
			case <-ctx.Done():
				w.closeSubscribers()
				return nil
			}
			w.scan()

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("fsnotify error", "error", err)

		case <-ticker.C:
			w.scan()
		}
	}
}

// Current returns the latest snapshot.
func (w *Watcher) Current() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Subscribe registers for insertion/removal events. The returned
// cancel function releases the subscription; after cancel, the channel
// is closed. Cancelling never blocks other subscribers.
func (w *Watcher) Subscribe() (<-chan Event, func()) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := w.nextSubscriber
	w.nextSubscriber++
	channel := make(chan Event, subscriberBuffer)
	w.subscribers[id] = channel

	cancel := func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		if existing, ok := w.subscribers[id]; ok {
			delete(w.subscribers, id)
			close(existing)
		}
	}
	return channel, cancel
}

// scan re-globs the pattern and updates the snapshot, emitting events
// on change.
func (w *Watcher) scan() {
	matches, err := filepath.Glob(w.pattern)
	if err != nil {
		w.logger.Warn("mount pattern glob failed", "pattern", w.pattern, "error", err)
		return
	}

	chosen := ""
	if len(matches) > 0 {
		chosen = mostRecent(matches)
		if len(matches) > 1 {
			w.logger.Warn("multiple media match the mount pattern; using most recent",
				"pattern", w.pattern,
				"matches", len(matches),
				"chosen", chosen,
			)
		}
	}

	w.mu.Lock()
	previous := w.current
	w.mu.Unlock()

	if chosen == previous.Path && (chosen == "") == !previous.Present {
		return
	}

	var events []Event
	if previous.Present {
		events = append(events, Event{Type: Removed, Path: previous.Path, ChildID: previous.ChildID})
	}

	next := Snapshot{}
	if chosen != "" {
		next = Snapshot{
			Present:   true,
			Path:      chosen,
			ChildID:   readChildID(chosen),
			MountedAt: w.clock.Now(),
		}
		events = append(events, Event{Type: Inserted, Path: chosen, ChildID: next.ChildID})
	}

	w.mu.Lock()
	w.current = next
	channels := make([]chan Event, 0, len(w.subscribers))
	for _, channel := range w.subscribers {
		channels = append(channels, channel)
	}
	w.mu.Unlock()

	for _, event := range events {
		w.logger.Info("disk event", "event", string(event.Type), "path", event.Path, "child_id", event.ChildID)
		for _, channel := range channels {
			select {
			case channel <- event:
			default:
				w.logger.Warn("subscriber event buffer full, dropping event", "event", string(event.Type))
			}
		}
	}
}

func (w *Watcher) closeSubscribers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, channel := range w.subscribers {
		delete(w.subscribers, id)
		close(channel)
	}
}

// readChildID parses just the disk header to label events. Parse
// failures yield ""; identification is advisory here, enforcement
// belongs to the signer.
func readChildID(path string) string {
	file, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer file.Close()

	headerBytes := make([]byte, diskimage.HeaderSize)
	if _, err := io.ReadFull(file, headerBytes); err != nil {
		return ""
	}
	header, err := diskimage.ParseHeader(headerBytes)
	if err != nil {
		return ""
	}
	return hex.EncodeToString(header.ChildID[:])
}

// mostRecent picks the most recently modified path. Ties and stat
// failures resolve toward the lexically first path for determinism.
func mostRecent(paths []string) string {
	best := paths[0]
	var bestTime time.Time
	if info, err := os.Stat(best); err == nil {
		bestTime = info.ModTime()
	}
	for _, path := range paths[1:] {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().After(bestTime) {
			best = path
			bestTime = info.ModTime()
		}
	}
	return best
}

// watchRoot returns the deepest directory of the pattern that contains
// no glob metacharacters; the directory fsnotify watches.
func watchRoot(pattern string) string {
	directory := filepath.Dir(pattern)
	for strings.ContainsAny(directory, "*?[") {
		parent := filepath.Dir(directory)
		if parent == directory {
			return string(filepath.Separator)
		}
		directory = parent
	}
	return directory
}
