// Package config loads the sysctl-style resource limits from a YAML
// file and watches it for changes, pushing reloaded values into
// package limits the way vfs's FSNotifyWatcher pushes filesystem
// events to its channel consumers.
package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/davidaparicio/maestro/limits"
)

/// Load reads path as YAML into a fresh limits.Syslimit_t. Fields not
/// present in the file keep their MkSysLimit defaults.
func Load(path string) (*limits.Syslimit_t, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: reading %s", path)
	}
	n := limits.MkSysLimit()
	if err := yaml.Unmarshal(raw, n); err != nil {
		return nil, errors.Wrapf(err, "config: parsing %s", path)
	}
	return n, nil
}

/// Watcher reloads path into limits.Syslimit whenever it is written,
/// logging nothing itself: callers observe reloads via Reloaded or
/// failures via Errors.
type Watcher struct {
	w    *fsnotify.Watcher
	path string

	mu       sync.Mutex
	reloadedC chan *limits.Syslimit_t
	errC      chan error
	closed    bool
}

/// Watch starts watching path's parent directory (fsnotify cannot watch
/// a single file across editors that replace it by rename) and performs
/// one initial load before returning.
func Watch(path string) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}
	limits.Reset(initial)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "config: creating watcher")
	}
	dir := dirOf(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errors.Wrapf(err, "config: watching %s", dir)
	}

	cw := &Watcher{
		w:         w,
		path:      path,
		reloadedC: make(chan *limits.Syslimit_t, 1),
		errC:      make(chan error, 1),
	}
	go cw.loop()
	return cw, nil
}

func dirOf(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i < 0 {
		return "."
	}
	return path[:i]
}

func (cw *Watcher) loop() {
	for {
		select {
		case ev, ok := <-cw.w.Events:
			if !ok {
				return
			}
			if ev.Name != cw.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			n, err := Load(cw.path)
			if err != nil {
				cw.errC <- err
				continue
			}
			limits.Reset(n)
			cw.reloadedC <- n
		case err, ok := <-cw.w.Errors:
			if !ok {
				return
			}
			cw.errC <- err
		}
	}
}

/// Reloaded carries a freshly-applied limits snapshot after every
/// successful hot reload.
func (cw *Watcher) Reloaded() <-chan *limits.Syslimit_t { return cw.reloadedC }

/// Errors carries load or watch failures encountered after Watch
/// returned.
func (cw *Watcher) Errors() <-chan error { return cw.errC }

/// Close stops watching and releases the underlying inotify/kqueue
/// handle.
func (cw *Watcher) Close() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.closed {
		return nil
	}
	cw.closed = true
	return cw.w.Close()
}
