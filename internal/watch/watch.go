// Package watch notifies listeners when a file on disk changes, used to
// warn operators that the sandbox profile was rotated without a restart.
package watch

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/sandboxlabs/execcore/internal/errors"
	"github.com/sandboxlabs/execcore/internal/log"
)

// ProfileWatcher watches a single file for writes and renames, the two
// events a profile rotation (edit-in-place or atomic replace) produces.
type ProfileWatcher struct {
	mutex *sync.RWMutex

	path      string
	listeners map[uuid.UUID]chan struct{}
	logger    log.Logger
}

// NewProfileWatcher creates a ProfileWatcher for path. The file need not
// exist yet; Watch reports an error only if the containing directory
// cannot be watched.
func NewProfileWatcher(path string) *ProfileWatcher {
	return &ProfileWatcher{
		mutex:     new(sync.RWMutex),
		path:      filepath.Clean(path),
		listeners: make(map[uuid.UUID]chan struct{}),
		logger:    log.New("watch"),
	}
}

// Watch watches the profile's parent directory (fsnotify requires watching
// a directory to see renames/atomic replaces of a file within it) and
// broadcasts to listeners on every event touching the profile path. Watch
// blocks until ctx is cancelled or the watcher fails to start.
func (w *ProfileWatcher) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err)
	}
	defer func() { _ = fsw.Close() }()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return errors.Wrap(err)
	}

	for {
		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err())

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Create) {
				continue
			}
			w.logger.Warnf("sandbox profile %s changed on disk (%s); restart to guarantee fresh profile", w.path, event.Op)
			w.broadcast()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnf("watch %s: %v", w.path, err)
		}
	}
}

// WaitUntil blocks until the profile changes or ctx is cancelled. Used by
// tests and by any caller that wants to synchronize on the next change
// rather than just receive a log warning.
func (w *ProfileWatcher) WaitUntil(ctx context.Context) error {
	w.mutex.Lock()
	id := uuid.New()
	changed := make(chan struct{}, 1)
	w.listeners[id] = changed
	w.mutex.Unlock()

	defer func() {
		w.mutex.Lock()
		delete(w.listeners, id)
		w.mutex.Unlock()
	}()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err())
	case <-changed:
		return nil
	}
}

func (w *ProfileWatcher) broadcast() {
	w.mutex.RLock()
	defer w.mutex.RUnlock()

	for _, listener := range w.listeners {
		select {
		case listener <- struct{}{}:
		default:
		}
	}
}
