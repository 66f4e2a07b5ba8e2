package watcher

import (
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/gpscal/web-ftp-server/internal/models"
)

// Entries older than the debounce interval are pruned once the map passes
// this size.
const maxPendingEntries = 4096

// Watcher observes a directory tree and publishes a change event for every
// file or directory that is created, modified, deleted or renamed under it.
type Watcher struct {
	root     string
	notifier *fsnotify.Watcher
	events   chan models.ChangeEvent

	debounceInterval time.Duration
	debounceMu       sync.Mutex
	pendingEvents    map[string]time.Time

	closeOnce sync.Once
}

// New watches the directory tree rooted at root. Events are delivered on
// the Events channel until Close is called; when the consumer falls more
// than bufferSize events behind, further events are dropped.
func New(root string, bufferSize int, debounce time.Duration) (*Watcher, error) {
	notifier, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &Watcher{
		root:             root,
		notifier:         notifier,
		events:           make(chan models.ChangeEvent, bufferSize),
		debounceInterval: debounce,
		pendingEvents:    make(map[string]time.Time),
	}
	if err := w.watchTree(root); err != nil {
		notifier.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}
	go w.run()
	return w, nil
}

// Events returns the channel change events are delivered on. It is closed
// when the watcher shuts down.
func (w *Watcher) Events() <-chan models.ChangeEvent {
	return w.events
}

// Close stops the watcher and closes the event channel.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.notifier.Close()
	})
	return err
}

// run drains the notifier until it is closed.
func (w *Watcher) run() {
	defer close(w.events)
	for {
		select {
		case event, ok := <-w.notifier.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.notifier.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher error: %v\n", err)
		}
	}
}

// handleEvent classifies one raw filesystem event and publishes it.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel, ok := w.relativePath(event.Name)
	if !ok {
		log.Printf("Ignoring event outside root: %s\n", event.Name)
		return
	}

	// A new directory must join the watch set before publishing, so a
	// consumer reacting to the event never races the registration.
	if event.Op&fsnotify.Create == fsnotify.Create {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchTree(event.Name); err != nil {
				log.Printf("Failed to watch new directory %s: %v\n", event.Name, err)
			}
		}
	}

	changeType, ok := classify(event.Op)
	if !ok {
		return
	}
	if !w.shouldPublish(changeType, rel) {
		return
	}
	w.publish(models.ChangeEvent{
		Type:      changeType,
		Path:      rel,
		Timestamp: time.Now().UTC(),
	})
}

// classify maps an fsnotify operation to a change type.
func classify(op fsnotify.Op) (string, bool) {
	switch {
	case op&fsnotify.Create == fsnotify.Create:
		return models.ChangeCreated, true
	case op&fsnotify.Remove == fsnotify.Remove:
		return models.ChangeDeleted, true
	case op&fsnotify.Rename == fsnotify.Rename:
		return models.ChangeRenamed, true
	case op&fsnotify.Write == fsnotify.Write || op&fsnotify.Chmod == fsnotify.Chmod:
		return models.ChangeModified, true
	}
	return "", false
}

// shouldPublish drops repeats of the same change within the debounce
// interval, keyed by type and path so a delete is never masked by an
// earlier write to the same file.
func (w *Watcher) shouldPublish(changeType, rel string) bool {
	key := changeType + ":" + rel
	now := time.Now()

	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	last, exists := w.pendingEvents[key]
	if exists && now.Sub(last) < w.debounceInterval {
		return false
	}
	w.pendingEvents[key] = now

	if len(w.pendingEvents) > maxPendingEntries {
		for k, v := range w.pendingEvents {
			if now.Sub(v) >= w.debounceInterval {
				delete(w.pendingEvents, k)
			}
		}
	}
	return true
}

// publish hands the event to the consumer, dropping it if the buffer is
// full rather than stalling the watch loop.
func (w *Watcher) publish(event models.ChangeEvent) {
	select {
	case w.events <- event:
	default:
		log.Printf("Event buffer full, dropping %s for %s\n", event.Type, event.Path)
	}
}

// relativePath maps an absolute event path to its slash-separated path
// relative to the root; ok is false for paths outside the root.
func (w *Watcher) relativePath(absPath string) (string, bool) {
	rel, err := filepath.Rel(w.root, filepath.Clean(absPath))
	if err != nil {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// watchTree registers path and every directory below it.
func (w *Watcher) watchTree(path string) error {
	return filepath.WalkDir(path, func(entry string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.notifier.Add(entry); err != nil {
				log.Printf("Error adding path %s to watcher: %v\n", entry, err)
			}
		}
		return nil
	})
}
