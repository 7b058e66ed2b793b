// Package watch re-runs a callback whenever one of a set of input files
// changes on disk. It backs `nembind watch`.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Op indicates a change operation in the filesystem.
type Op uint32

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
	OpChmod
)

// Event describes a change to a watched file.
type Event struct {
	Path string
	Op   Op
}

// Watcher translates fsnotify events for a fixed set of files.
//
// Parent directories are watched rather than the files themselves, so a
// file replaced by an editor's rename-on-save keeps being observed.
type Watcher struct {
	w     *fsnotify.Watcher
	files map[string]bool
	evC   chan Event
	erC   chan error
	done  chan struct{}
	once  sync.Once
}

// New creates a Watcher for paths.
func New(paths ...string) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &Watcher{
		w:     w,
		files: map[string]bool{},
		evC:   make(chan Event, 128),
		erC:   make(chan error, 1),
		done:  make(chan struct{}),
	}

	dirs := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			_ = w.Close()
			return nil, err
		}

		fw.files[abs] = true

		if dir := filepath.Dir(abs); !dirs[dir] {
			if err := w.Add(dir); err != nil {
				_ = w.Close()
				return nil, err
			}

			dirs[dir] = true
		}
	}

	go fw.loop(w.Events, w.Errors)

	return fw, nil
}

func translate(op fsnotify.Op) Op {
	var out Op
	if op&fsnotify.Create != 0 {
		out |= OpCreate
	}
	if op&fsnotify.Write != 0 {
		out |= OpWrite
	}
	if op&fsnotify.Remove != 0 {
		out |= OpRemove
	}
	if op&fsnotify.Rename != 0 {
		out |= OpRename
	}
	if op&fsnotify.Chmod != 0 {
		out |= OpChmod
	}

	return out
}

func (fw *Watcher) loop(events <-chan fsnotify.Event, errs <-chan error) {
	defer close(fw.evC)

	for {
		select {
		case <-fw.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}

			abs, err := filepath.Abs(ev.Name)
			if err != nil || !fw.files[abs] {
				continue
			}

			select {
			case fw.evC <- Event{Path: abs, Op: translate(ev.Op)}:
			case <-fw.done:
				return
			}
		case err, ok := <-errs:
			if !ok {
				return
			}

			select {
			case fw.erC <- err:
			default:
			}
		}
	}
}

func (fw *Watcher) Events() <-chan Event { return fw.evC }
func (fw *Watcher) Errors() <-chan error { return fw.erC }

// Close stops the watcher. Events not yet read are dropped.
func (fw *Watcher) Close() error {
	fw.once.Do(func() { close(fw.done) })
	return fw.w.Close()
}

// Run calls fn once at start and again after every burst of content
// changes to paths. Events arriving within quiet of each other are
// coalesced into one call. A non-nil error from fn is reported to onErr
// and does not stop the loop. Run returns when ctx is done.
func Run(ctx context.Context, paths []string, quiet time.Duration, fn func() error, onErr func(error)) error {
	fw, err := New(paths...)
	if err != nil {
		return err
	}
	defer fw.Close()

	if onErr == nil {
		onErr = func(error) {}
	}

	if err := fn(); err != nil {
		onErr(err)
	}

	timer := time.NewTimer(time.Hour)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}

			if ev.Op&(OpCreate|OpWrite|OpRename) == 0 {
				continue
			}

			timer.Reset(quiet)
		case err := <-fw.Errors():
			onErr(err)
		case <-timer.C:
			if err := fn(); err != nil {
				onErr(err)
			}
		}
	}
}
