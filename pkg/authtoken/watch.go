package authtoken

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports token rotation. The daemon supports regenerating the
// token while clients are running; a watching client reloads and
// reconnects instead of failing auth on its next attach.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	changes   chan string
	done      chan struct{}
	closeOnce sync.Once
}

// Watch observes the token file for rewrites. The directory, not the file,
// is watched: token rotation replaces the file atomically, which drops a
// file-level watch.
func Watch(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("authtoken: watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("authtoken: watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		watcher: fw,
		changes: make(chan string, 1),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Changes delivers the new token after each rotation. The channel carries
// at most one pending value; intermediate rotations are coalesced.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

// Close stops watching. Idempotent.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			token, err := Load(w.path)
			if err != nil {
				continue // mid-rewrite; the next event carries the full token
			}
			select {
			case w.changes <- token:
			default:
				// Drain the stale pending value, then offer the newest.
				select {
				case <-w.changes:
				default:
				}
				select {
				case w.changes <- token:
				default:
				}
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
