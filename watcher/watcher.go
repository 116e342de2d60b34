// Package watcher triggers configuration reloads when the config file
// changes on disk. Editors replace files in different ways (write in place,
// rename over, create + write), so the watch covers the parent directory
// and filters for the target path.
package watcher

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes one configuration file.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	onEdit func()
	done   chan struct{}
}

// New starts watching path; onEdit runs on every apparent edit of it. The
// callback fires from the watcher goroutine and must be cheap or hand off.
func New(path string, onEdit func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{fsw: fsw, path: abs, onEdit: onEdit, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				w.onEdit()
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watch.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}
