package cache

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// dirWatcher reports entry files that disappear from the cache directory so
// memory never serves an entry that is no longer on disk.
type dirWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

func newDirWatcher(dir string, gone func(hash string), log Logger) (*dirWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	dw := &dirWatcher{w: w, done: make(chan struct{})}
	go dw.loop(gone, log)
	log.Debug("watching cache directory", "dir", dir)
	return dw, nil
}

func (dw *dirWatcher) loop(gone func(hash string), log Logger) {
	defer close(dw.done)
	for {
		select {
		case event, ok := <-dw.w.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			if !strings.HasSuffix(name, entryExt) {
				continue
			}
			gone(strings.TrimSuffix(name, entryExt))
		case err, ok := <-dw.w.Errors:
			if !ok {
				return
			}
			log.Debug("cache directory watch error", "err", err)
		}
	}
}

// Close stops watching and waits for the event loop to exit.
func (dw *dirWatcher) Close() error {
	err := dw.w.Close()
	<-dw.done
	return err
}
