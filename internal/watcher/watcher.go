// Package watcher runs one independent filesystem subscription per
// configured observer and translates platform events into unsigned
// protocol.Announcement values on a shared, bounded output channel.
package watcher

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/keagster/syndactyl/internal/fsstore"
	"github.com/keagster/syndactyl/internal/logging"
	"github.com/keagster/syndactyl/internal/protocol"
)

// channelDepth bounds the multi-producer announcement channel shared by
// every observer's goroutine.
const channelDepth = 32

// Watcher owns one fsnotify subscription per observer and funnels
// translated announcements onto a single bounded channel.
type Watcher struct {
	announcements chan protocol.Announcement
	log           *logging.Logger

	stop chan struct{}
	done chan struct{}
}

// Observer is the subset of observer configuration the watcher needs:
// a name used to tag announcements, and the base directory to watch.
type Observer struct {
	Name string
	Path string
}

// New creates a Watcher that will subscribe to each observer's base
// path once Start is called.
func New(log *logging.Logger) *Watcher {
	if log == nil {
		log = logging.Default()
	}
	return &Watcher{
		announcements: make(chan protocol.Announcement, channelDepth),
		log:           log.WithComponent("watcher"),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Announcements returns the shared, multi-producer channel that every
// observer goroutine publishes onto. Overflow drops the oldest pending
// announcement; a later event will re-announce current state.
func (w *Watcher) Announcements() <-chan protocol.Announcement {
	return w.announcements
}

// Start launches one goroutine per observer, each owning an independent
// recursive fsnotify subscription rooted at the observer's path.
func (w *Watcher) Start(observers []Observer) error {
	var wg sync.WaitGroup
	for _, obs := range observers {
		fsWatcher, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		if err := addRecursive(fsWatcher, obs.Path); err != nil {
			fsWatcher.Close()
			return err
		}

		wg.Add(1)
		go w.run(obs, fsWatcher, &wg)
	}

	go func() {
		wg.Wait()
		close(w.done)
	}()
	return nil
}

// Stop signals every observer goroutine to exit and waits for them to
// finish, then closes the announcement channel.
func (w *Watcher) Stop() {
	close(w.stop)
	<-w.done
	close(w.announcements)
}

// addRecursive registers path and every directory beneath it with the
// fsnotify watcher. fsnotify does not recurse on its own.
func addRecursive(fsWatcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsWatcher.Add(path)
		}
		return nil
	})
}

// run is the per-observer event loop. It never touches tracker, peer
// set, or transport state; its only cross-goroutine contact point is
// publishing onto the shared announcements channel.
func (w *Watcher) run(obs Observer, fsWatcher *fsnotify.Watcher, wg *sync.WaitGroup) {
	defer wg.Done()
	defer fsWatcher.Close()

	for {
		select {
		case <-w.stop:
			return

		case ev, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(obs, fsWatcher, ev)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.publish(protocol.Announcement{
				Observer: obs.Name,
				Kind:     protocol.EventError,
				Path:     err.Error(),
			})
		}
	}
}

// handleEvent translates one fsnotify.Event into zero or one
// announcement, per spec.md §4.C.
func (w *Watcher) handleEvent(obs Observer, fsWatcher *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op == fsnotify.Chmod {
		return
	}

	rel, ok := fsstore.ToRelative(ev.Name, obs.Path)
	if !ok || !fsstore.ShouldSync(rel) {
		return
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case ev.Op&fsnotify.Create != 0:
		if isDir {
			// A new directory needs its own subscription to see
			// events from files created inside it later.
			if err := fsWatcher.Add(ev.Name); err != nil {
				w.log.Warn("failed to watch new directory", "observer", obs.Name, "path", ev.Name, "error", err)
			}
			return
		}
		w.publishFileEvent(obs, rel, ev.Name, protocol.EventCreate)

	case ev.Op&fsnotify.Write != 0:
		if isDir {
			return
		}
		w.publishFileEvent(obs, rel, ev.Name, protocol.EventModify)

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.publish(protocol.Announcement{
			Observer: obs.Name,
			Kind:     protocol.EventRemove,
			Path:     rel,
		})

	default:
		w.publish(protocol.Announcement{
			Observer: obs.Name,
			Kind:     protocol.EventOther,
			Path:     rel,
		})
	}
}

// publishFileEvent hashes and stats a regular file and publishes the
// resulting Create/Modify announcement. The tag is left empty: secret
// ownership belongs to the orchestrator, not the watcher.
func (w *Watcher) publishFileEvent(obs Observer, rel, absolute string, kind protocol.EventKind) {
	hash, err := fsstore.Hash(absolute)
	if err != nil {
		// The file may have been removed between the event firing and
		// this read; that is not an observer-fatal condition.
		w.log.Debug("skipping unreadable file event", "observer", obs.Name, "path", rel, "error", err)
		return
	}
	size, mtime, err := fsstore.Metadata(absolute)
	if err != nil {
		w.log.Debug("skipping file event with no metadata", "observer", obs.Name, "path", rel, "error", err)
		return
	}

	w.publish(protocol.Announcement{
		Observer: obs.Name,
		Kind:     kind,
		Path:     rel,
		Hash:     hash,
		Size:     &size,
		Mtime:    &mtime,
	})
}

// publish enqueues ann, dropping the oldest queued announcement on
// overflow so the watcher never blocks on a slow reactor.
func (w *Watcher) publish(ann protocol.Announcement) {
	select {
	case w.announcements <- ann:
		return
	default:
	}

	select {
	case <-w.announcements:
	default:
	}
	select {
	case w.announcements <- ann:
	default:
	}
}
