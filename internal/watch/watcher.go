// Package watch maintains per-path file watchers that notify the cache engine
// when a watched file is modified.
package watch

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	cacheerrors "github.com/vaultcache/vaultcache/pkg/errors"
	"github.com/vaultcache/vaultcache/pkg/logutil"
)

// Registry owns a single fsnotify watcher and the set of watched paths.
// Modification events are delivered to the configured callback from a
// dedicated goroutine; the callback is expected to take whatever locks it
// needs.
type Registry struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	paths    map[string]bool
	onModify func(path string)
	logger   *logutil.Logger
	done     chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

// NewRegistry opens the platform watcher and starts the dispatch loop.
func NewRegistry(onModify func(path string), logger *logutil.Logger) (*Registry, error) {
	if logger == nil {
		logger = logutil.Discard()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, cacheerrors.New(cacheerrors.ErrCodeFileSystem, "failed to open file watcher").WithCause(err)
	}

	r := &Registry{
		watcher:  w,
		paths:    make(map[string]bool),
		onModify: onModify,
		logger:   logger.WithComponent("watch"),
		done:     make(chan struct{}),
	}

	r.wg.Add(1)
	go r.dispatchLoop()

	return r, nil
}

// Watch registers a path. Watching an already-watched path is a no-op.
func (r *Registry) Watch(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return cacheerrors.New(cacheerrors.ErrCodeFileSystem, "watcher registry is closed")
	}
	if r.paths[path] {
		return nil
	}

	if err := r.watcher.Add(path); err != nil {
		return cacheerrors.Newf(cacheerrors.ErrCodeFileSystem, "failed to watch %s", path).WithCause(err)
	}
	r.paths[path] = true
	r.logger.Debug("watching path", map[string]interface{}{"path": path})
	return nil
}

// Unwatch removes a path. Removing an unknown path is a no-op and returns
// false.
func (r *Registry) Unwatch(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.paths[path] {
		return false
	}
	delete(r.paths, path)
	if err := r.watcher.Remove(path); err != nil {
		r.logger.Warn("failed to remove watch", map[string]interface{}{"path": path, "error": err.Error()})
	}
	return true
}

// Watched reports whether a path is currently registered.
func (r *Registry) Watched(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paths[path]
}

// Close stops the dispatch loop and releases all platform watchers. Close is
// idempotent.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.paths = make(map[string]bool)
	close(r.done)
	r.mu.Unlock()

	err := r.watcher.Close()
	r.wg.Wait()
	return err
}

func (r *Registry) dispatchLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.done:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				r.onModify(event.Name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
